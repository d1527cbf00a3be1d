package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/events"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/repository"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/service"
	"github.com/pharmadesk/pharmadesk-backend/pkg/database"
	"github.com/pharmadesk/pharmadesk-backend/pkg/errors"
	"github.com/pharmadesk/pharmadesk-backend/pkg/logger"
	"github.com/pharmadesk/pharmadesk-backend/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSupplierID = "44444444-4444-4444-4444-444444444444"

func newPurchaseService(mockDB *testutil.MockDB) *service.PurchaseService {
	log := logger.New("test", "test")
	db := database.Wrap(mockDB.DB, log)

	productRepo := repository.NewProductRepository(mockDB.DB)
	batchRepo := repository.NewBatchRepository(mockDB.DB)
	supplierRepo := repository.NewSupplierRepository(mockDB.DB)
	accountRepo := repository.NewAccountRepository(mockDB.DB)
	purchaseRepo := repository.NewPurchaseRepository(mockDB.DB)
	audit := service.NewAuditRecorder(repository.NewAuditRepository(mockDB.DB), log)
	mirror := service.NewLegacyMirror(nil, false, log)

	var publisher *events.StockEventPublisher

	return service.NewPurchaseService(db, productRepo, batchRepo, supplierRepo,
		accountRepo, purchaseRepo, audit, publisher, mirror, log)
}

func packagedProductRow(unitsPerPackage int) *sqlmock.Rows {
	return testutil.MockRows(
		"id", "name", "sku", "unit", "units_per_package", "sale_price",
		"version", "created_at", "updated_at",
	).AddRow(testProductID, "Amoxicillin 250mg", "SKU-2", "strip", unitsPerPackage, "25.00",
		int64(1), time.Now(), time.Now())
}

func supplierRow() *sqlmock.Rows {
	return testutil.MockRows(
		"id", "name", "balance", "version", "created_at", "updated_at",
	).AddRow(testSupplierID, "PharmSupply GmbH", "0.00", int64(1), time.Now(), time.Now())
}

func TestCreatePurchase_ConvertsOrderUnitsToBaseUnits(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	svc := newPurchaseService(mockDB)

	mockDB.Mock.ExpectQuery("SELECT \\* FROM products WHERE id").
		WillReturnRows(packagedProductRow(10))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM suppliers WHERE id").
		WillReturnRows(supplierRow())

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("INSERT INTO purchases").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(time.Now(), time.Now()))
	// No batch exists for this lot yet, so a new one is created in base
	// units, stamped with the purchase it came from.
	mockDB.Mock.ExpectQuery("SELECT \\* FROM batches WHERE product_id").
		WillReturnRows(testutil.MockRows("id"))
	mockDB.Mock.ExpectQuery("INSERT INTO batches").
		WithArgs(testutil.AnyUUID{}, testProductID, "LOT-NEW", 30,
			testutil.AnyTime{}, nil, testutil.AnyUUID{}, sqlmock.AnyArg()).
		WillReturnRows(testutil.MockRows("version", "created_at", "updated_at").
			AddRow(int64(1), time.Now(), time.Now()))
	mockDB.Mock.ExpectQuery("INSERT INTO purchase_items").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	mockDB.Mock.ExpectExec("UPDATE suppliers").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectExec("INSERT INTO supplier_ledger").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectQuery("INSERT INTO audit_log").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	mockDB.ExpectCommit()

	result, err := svc.CreatePurchase(context.Background(), &service.CreatePurchaseRequest{
		SupplierID: testSupplierID,
		Lines: []service.PurchaseLineRequest{{
			ProductID:  testProductID,
			LotCode:    "LOT-NEW",
			ExpiryDate: "2027-03-01",
			Quantity:   3,
			UnitCost:   decimal.RequireFromString("25.00"),
		}},
	})
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	assert.Equal(t, 3, result.Items[0].Quantity)
	assert.Equal(t, 30, result.Items[0].UnitsReceived)
	assert.Equal(t, "75", result.Purchase.TotalAmount.String())
	mockDB.ExpectationsWereMet(t)
}

func TestCreatePurchase_GrowsExistingLotThroughGuard(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	svc := newPurchaseService(mockDB)

	mockDB.Mock.ExpectQuery("SELECT \\* FROM products WHERE id").
		WillReturnRows(packagedProductRow(1))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM suppliers WHERE id").
		WillReturnRows(supplierRow())

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("INSERT INTO purchases").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(time.Now(), time.Now()))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM batches WHERE product_id").
		WillReturnRows(batchRows(10, 4, time.Now().AddDate(0, 6, 0)))
	mockDB.Mock.ExpectExec("UPDATE batches").
		WithArgs(testBatchID, 5, int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectQuery("INSERT INTO purchase_items").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	mockDB.Mock.ExpectExec("UPDATE suppliers").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectExec("INSERT INTO supplier_ledger").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectQuery("INSERT INTO audit_log").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	mockDB.ExpectCommit()

	result, err := svc.CreatePurchase(context.Background(), &service.CreatePurchaseRequest{
		SupplierID: testSupplierID,
		Lines: []service.PurchaseLineRequest{{
			ProductID:  testProductID,
			LotCode:    "LOT-1",
			ExpiryDate: "2027-03-01",
			Quantity:   5,
			UnitCost:   decimal.RequireFromString("25.00"),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, testBatchID, result.Items[0].BatchID)
	mockDB.ExpectationsWereMet(t)
}

func TestCreatePurchase_ConcurrentSpendSurfacesInsufficientFunds(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	svc := newPurchaseService(mockDB)

	// The pre-transaction funds check passes at 300.00 against a 250.00
	// total, but a concurrent spend drains the account before the debit.
	mockDB.Mock.ExpectQuery("SELECT \\* FROM products WHERE id").
		WillReturnRows(packagedProductRow(1))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM suppliers WHERE id").
		WillReturnRows(supplierRow())
	mockDB.Mock.ExpectQuery("SELECT \\* FROM accounts WHERE id").
		WillReturnRows(accountRow("300.00"))

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("INSERT INTO purchases").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(time.Now(), time.Now()))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM batches WHERE product_id").
		WillReturnRows(batchRows(10, 4, time.Now().AddDate(0, 6, 0)))
	mockDB.Mock.ExpectExec("UPDATE batches").
		WithArgs(testBatchID, 10, int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectQuery("INSERT INTO purchase_items").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	mockDB.Mock.ExpectExec("UPDATE suppliers").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectExec("INSERT INTO supplier_ledger").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The in-transaction re-read shows the drained balance; the debit
	// predicate matches no row, and the shortfall aborts everything.
	mockDB.Mock.ExpectQuery("SELECT \\* FROM accounts WHERE id").
		WillReturnRows(accountRow("100.00"))
	mockDB.Mock.ExpectExec("UPDATE accounts").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.ExpectRollback()

	accountID := testAccountID
	_, err := svc.CreatePurchase(context.Background(), &service.CreatePurchaseRequest{
		SupplierID: testSupplierID,
		AccountID:  &accountID,
		Lines: []service.PurchaseLineRequest{{
			ProductID:  testProductID,
			LotCode:    "LOT-1",
			ExpiryDate: "2027-03-01",
			Quantity:   10,
			UnitCost:   decimal.RequireFromString("25.00"),
		}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientFunds))
	mockDB.ExpectationsWereMet(t)
}

func TestCreatePurchase_InsufficientFundsBlocksBeforeAnyWrite(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	svc := newPurchaseService(mockDB)

	mockDB.Mock.ExpectQuery("SELECT \\* FROM products WHERE id").
		WillReturnRows(packagedProductRow(1))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM suppliers WHERE id").
		WillReturnRows(supplierRow())
	mockDB.Mock.ExpectQuery("SELECT \\* FROM accounts WHERE id").
		WillReturnRows(accountRow("50.00"))

	accountID := testAccountID
	_, err := svc.CreatePurchase(context.Background(), &service.CreatePurchaseRequest{
		SupplierID: testSupplierID,
		AccountID:  &accountID,
		Lines: []service.PurchaseLineRequest{{
			ProductID:  testProductID,
			LotCode:    "LOT-1",
			ExpiryDate: "2027-03-01",
			Quantity:   10,
			UnitCost:   decimal.RequireFromString("25.00"),
		}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientFunds))
	mockDB.ExpectationsWereMet(t)
}
