package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/events"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/repository"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/service"
	"github.com/pharmadesk/pharmadesk-backend/pkg/config"
	"github.com/pharmadesk/pharmadesk-backend/pkg/database"
	"github.com/pharmadesk/pharmadesk-backend/pkg/errors"
	"github.com/pharmadesk/pharmadesk-backend/pkg/logger"
	"github.com/pharmadesk/pharmadesk-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testProductID  = "11111111-1111-1111-1111-111111111111"
	testAccountID  = "22222222-2222-2222-2222-222222222222"
	testBatchID    = "33333333-3333-3333-3333-333333333333"
	testCustomerID = "55555555-5555-5555-5555-555555555555"
	testSaleID     = "66666666-6666-6666-6666-666666666666"
)

func newSaleService(mockDB *testutil.MockDB) *service.SaleService {
	log := logger.New("test", "test")
	db := database.Wrap(mockDB.DB, log)

	productRepo := repository.NewProductRepository(mockDB.DB)
	batchRepo := repository.NewBatchRepository(mockDB.DB)
	customerRepo := repository.NewCustomerRepository(mockDB.DB)
	accountRepo := repository.NewAccountRepository(mockDB.DB)
	saleRepo := repository.NewSaleRepository(mockDB.DB)
	allocator := service.NewAllocator(batchRepo, 7)
	audit := service.NewAuditRecorder(repository.NewAuditRepository(mockDB.DB), log)
	mirror := service.NewLegacyMirror(nil, false, log)

	var publisher *events.StockEventPublisher // nil publisher is a no-op

	return service.NewSaleService(db, productRepo, batchRepo, customerRepo,
		accountRepo, saleRepo, allocator, audit, publisher, mirror,
		config.StockConfig{NearExpiryDays: 7, LoyaltyDivisor: 10}, log)
}

func productRow() *sqlmock.Rows {
	return testutil.MockRows(
		"id", "name", "sku", "unit", "units_per_package", "sale_price",
		"version", "created_at", "updated_at",
	).AddRow(testProductID, "Paracetamol 500mg", "SKU-1", "box", 1, "10.00",
		int64(1), time.Now(), time.Now())
}

func pricedProductRow(price string) *sqlmock.Rows {
	return testutil.MockRows(
		"id", "name", "sku", "unit", "units_per_package", "sale_price",
		"version", "created_at", "updated_at",
	).AddRow(testProductID, "Paracetamol 500mg", "SKU-1", "box", 1, price,
		int64(1), time.Now(), time.Now())
}

func customerRow(points int64) *sqlmock.Rows {
	return testutil.MockRows(
		"id", "name", "phone", "loyalty_points", "total_purchases",
		"version", "created_at", "updated_at",
	).AddRow(testCustomerID, "Jamie Doe", nil, points, "0.00",
		int64(1), time.Now(), time.Now())
}

func completedSaleRow(total string) *sqlmock.Rows {
	return testutil.MockRows(
		"id", "customer_id", "account_id", "status", "total_amount",
		"points_earned", "points_redeemed", "near_expiry_flag", "created_by_id",
		"created_at", "updated_at",
	).AddRow(testSaleID, nil, testAccountID, "completed", total,
		int64(0), int64(0), false, testAccountID, time.Now(), time.Now())
}

func saleItemRows(quantity int) *sqlmock.Rows {
	return testutil.MockRows(
		"id", "sale_id", "product_id", "batch_id", "lot_code", "expiry_date",
		"quantity", "unit_price", "line_total", "created_at",
	).AddRow("77777777-7777-7777-7777-777777777777", testSaleID, testProductID,
		testBatchID, "LOT-1", time.Now().AddDate(0, 0, 60),
		quantity, "10.00", "40.00", time.Now())
}

func accountRow(balance string) *sqlmock.Rows {
	return testutil.MockRows(
		"id", "name", "balance", "version", "created_at", "updated_at",
	).AddRow(testAccountID, "Register", balance, int64(1), time.Now(), time.Now())
}

func batchRows(quantity int, version int64, expiry time.Time) *sqlmock.Rows {
	return testutil.MockRows(
		"id", "product_id", "lot_code", "quantity", "expiry_date", "manufacture_date",
		"source_purchase_id", "unit_cost", "version", "created_at", "updated_at",
	).AddRow(testBatchID, testProductID, "LOT-1", quantity, expiry, nil,
		nil, nil, version, time.Now(), time.Now())
}

func TestCreateSale_CommitsFullUnit(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	svc := newSaleService(mockDB)

	expiry := time.Now().AddDate(0, 0, 60)

	// Referential checks before the transaction.
	mockDB.Mock.ExpectQuery("SELECT \\* FROM products WHERE id").
		WillReturnRows(productRow())
	mockDB.Mock.ExpectQuery("SELECT \\* FROM accounts WHERE id").
		WillReturnRows(accountRow("100.00"))

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("FROM batches").
		WillReturnRows(batchRows(10, 1, expiry))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM batches WHERE id").
		WillReturnRows(batchRows(10, 1, expiry))
	mockDB.Mock.ExpectExec("UPDATE batches").
		WithArgs(testBatchID, 4, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectQuery("INSERT INTO sales").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(time.Now(), time.Now()))
	mockDB.Mock.ExpectQuery("INSERT INTO sale_items").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM accounts WHERE id").
		WillReturnRows(accountRow("100.00"))
	mockDB.Mock.ExpectExec("UPDATE accounts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectQuery("INSERT INTO audit_log").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	mockDB.ExpectCommit()

	result, err := svc.CreateSale(context.Background(), &service.CreateSaleRequest{
		AccountID: testAccountID,
		Lines:     []service.SaleLineRequest{{ProductID: testProductID, Quantity: 4}},
	})
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	assert.Equal(t, 4, result.Items[0].Quantity)
	assert.Equal(t, "LOT-1", result.Items[0].LotCode)
	assert.Equal(t, "40", result.Sale.TotalAmount.String())
	assert.False(t, result.NearExpiry)
	mockDB.ExpectationsWereMet(t)
}

func TestCreateSale_VersionConflictRollsBack(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	svc := newSaleService(mockDB)

	expiry := time.Now().AddDate(0, 0, 60)

	mockDB.Mock.ExpectQuery("SELECT \\* FROM products WHERE id").
		WillReturnRows(productRow())
	mockDB.Mock.ExpectQuery("SELECT \\* FROM accounts WHERE id").
		WillReturnRows(accountRow("100.00"))

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("FROM batches").
		WillReturnRows(batchRows(10, 1, expiry))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM batches WHERE id").
		WillReturnRows(batchRows(10, 1, expiry))
	// A concurrent writer advanced the version: zero rows match.
	mockDB.Mock.ExpectExec("UPDATE batches").
		WithArgs(testBatchID, 4, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.ExpectRollback()

	_, err := svc.CreateSale(context.Background(), &service.CreateSaleRequest{
		AccountID: testAccountID,
		Lines:     []service.SaleLineRequest{{ProductID: testProductID, Quantity: 4}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrVersionConflict))
	mockDB.ExpectationsWereMet(t)
}

func TestCreateSale_InsufficientStockAbortsBeforeAnyWrite(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	svc := newSaleService(mockDB)

	expiry := time.Now().AddDate(0, 0, 60)

	mockDB.Mock.ExpectQuery("SELECT \\* FROM products WHERE id").
		WillReturnRows(productRow())
	mockDB.Mock.ExpectQuery("SELECT \\* FROM accounts WHERE id").
		WillReturnRows(accountRow("100.00"))

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("FROM batches").
		WillReturnRows(batchRows(2, 1, expiry))
	mockDB.ExpectRollback()

	_, err := svc.CreateSale(context.Background(), &service.CreateSaleRequest{
		AccountID: testAccountID,
		Lines:     []service.SaleLineRequest{{ProductID: testProductID, Quantity: 5}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
	mockDB.ExpectationsWereMet(t)
}

func TestCreateSale_AllExpiredWritesBlockedAuditAfterRollback(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	svc := newSaleService(mockDB)

	expired := time.Now().AddDate(0, 0, -5)

	mockDB.Mock.ExpectQuery("SELECT \\* FROM products WHERE id").
		WillReturnRows(productRow())
	mockDB.Mock.ExpectQuery("SELECT \\* FROM accounts WHERE id").
		WillReturnRows(accountRow("100.00"))

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("FROM batches").
		WillReturnRows(batchRows(10, 1, expired))
	mockDB.ExpectRollback()

	// The blocked-attempt entry lands on the pool, after the rollback.
	mockDB.Mock.ExpectQuery("INSERT INTO audit_log").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))

	_, err := svc.CreateSale(context.Background(), &service.CreateSaleRequest{
		AccountID: testAccountID,
		Lines:     []service.SaleLineRequest{{ProductID: testProductID, Quantity: 5}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAllExpired))
	mockDB.ExpectationsWereMet(t)
}

func TestCreateSale_ExpiredReCheckAbortsAndAuditsCritical(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	svc := newSaleService(mockDB)

	mockDB.Mock.ExpectQuery("SELECT \\* FROM products WHERE id").
		WillReturnRows(productRow())
	mockDB.Mock.ExpectQuery("SELECT \\* FROM accounts WHERE id").
		WillReturnRows(accountRow("100.00"))

	mockDB.ExpectBegin()
	// Planning sees a valid batch; the re-read right before deduction sees
	// it expired. The whole sale aborts without touching the batch.
	mockDB.Mock.ExpectQuery("FROM batches").
		WillReturnRows(batchRows(10, 1, time.Now().AddDate(0, 0, 60)))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM batches WHERE id").
		WillReturnRows(batchRows(10, 1, time.Now().AddDate(0, 0, -1)))
	mockDB.ExpectRollback()

	// The blocked-attempt entry lands on the pool at critical severity.
	mockDB.Mock.ExpectQuery("INSERT INTO audit_log").
		WithArgs(testutil.AnyUUID{}, "batch", testBatchID,
			repository.AuditActionSaleBlocked, repository.AuditSeverityCritical,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))

	_, err := svc.CreateSale(context.Background(), &service.CreateSaleRequest{
		AccountID: testAccountID,
		Lines:     []service.SaleLineRequest{{ProductID: testProductID, Quantity: 4}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrExpiredBatchDetected))
	mockDB.ExpectationsWereMet(t)
}

func TestCreateSale_AccountCreditFailureRollsBackEverything(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	svc := newSaleService(mockDB)

	expiry := time.Now().AddDate(0, 0, 60)

	mockDB.Mock.ExpectQuery("SELECT \\* FROM products WHERE id").
		WillReturnRows(productRow())
	mockDB.Mock.ExpectQuery("SELECT \\* FROM accounts WHERE id").
		WillReturnRows(accountRow("100.00"))

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("FROM batches").
		WillReturnRows(batchRows(10, 1, expiry))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM batches WHERE id").
		WillReturnRows(batchRows(10, 1, expiry))
	mockDB.Mock.ExpectExec("UPDATE batches").
		WithArgs(testBatchID, 4, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectQuery("INSERT INTO sales").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(time.Now(), time.Now()))
	mockDB.Mock.ExpectQuery("INSERT INTO sale_items").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM accounts WHERE id").
		WillReturnRows(accountRow("100.00"))
	// The deduction succeeded, but the dependent balance credit loses the
	// guard. The already-written sale rows roll back with it.
	mockDB.Mock.ExpectExec("UPDATE accounts").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.ExpectRollback()

	_, err := svc.CreateSale(context.Background(), &service.CreateSaleRequest{
		AccountID: testAccountID,
		Lines:     []service.SaleLineRequest{{ProductID: testProductID, Quantity: 4}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrVersionConflict))
	mockDB.ExpectationsWereMet(t)
}

func TestCreateSale_LoyaltyFloorsEarnedAndRedeems(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	svc := newSaleService(mockDB)

	expiry := time.Now().AddDate(0, 0, 60)

	mockDB.Mock.ExpectQuery("SELECT \\* FROM products WHERE id").
		WillReturnRows(pricedProductRow("12.50"))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM customers WHERE id").
		WillReturnRows(customerRow(50))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM accounts WHERE id").
		WillReturnRows(accountRow("100.00"))

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("FROM batches").
		WillReturnRows(batchRows(10, 1, expiry))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM batches WHERE id").
		WillReturnRows(batchRows(10, 1, expiry))
	mockDB.Mock.ExpectExec("UPDATE batches").
		WithArgs(testBatchID, 3, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectQuery("INSERT INTO sales").
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(time.Now(), time.Now()))
	mockDB.Mock.ExpectQuery("INSERT INTO sale_items").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM accounts WHERE id").
		WillReturnRows(accountRow("100.00"))
	mockDB.Mock.ExpectExec("UPDATE accounts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// 37.50 / divisor 10 floors to 3 earned; 15 redeemed go through the
	// same versioned update.
	mockDB.Mock.ExpectExec("UPDATE customers").
		WithArgs(testCustomerID, int64(15), int64(3), sqlmock.AnyArg(), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectQuery("INSERT INTO audit_log").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	mockDB.ExpectCommit()

	customerID := testCustomerID
	result, err := svc.CreateSale(context.Background(), &service.CreateSaleRequest{
		CustomerID:     &customerID,
		AccountID:      testAccountID,
		Lines:          []service.SaleLineRequest{{ProductID: testProductID, Quantity: 3}},
		PointsRedeemed: 15,
	})
	require.NoError(t, err)
	assert.Equal(t, "37.5", result.Sale.TotalAmount.String())
	assert.Equal(t, int64(3), result.Sale.PointsEarned)
	assert.Equal(t, int64(15), result.Sale.PointsRedeemed)
	mockDB.ExpectationsWereMet(t)
}

func TestReturnSale_RefundWithoutFundsAborts(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	svc := newSaleService(mockDB)

	mockDB.Mock.ExpectQuery("SELECT \\* FROM sales WHERE id").
		WillReturnRows(completedSaleRow("40.00"))
	mockDB.Mock.ExpectQuery("SELECT \\* FROM sale_items WHERE sale_id").
		WillReturnRows(saleItemRows(4))

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectQuery("SELECT \\* FROM batches WHERE id").
		WillReturnRows(batchRows(6, 2, time.Now().AddDate(0, 0, 60)))
	mockDB.Mock.ExpectExec("UPDATE batches").
		WithArgs(testBatchID, 4, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The account was drained since the sale; the refund debit finds no
	// matching row and the return surfaces the shortfall, not a conflict.
	mockDB.Mock.ExpectQuery("SELECT \\* FROM accounts WHERE id").
		WillReturnRows(accountRow("10.00"))
	mockDB.Mock.ExpectExec("UPDATE accounts").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.ExpectRollback()

	_, err := svc.ReturnSale(context.Background(), testSaleID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientFunds))
	mockDB.ExpectationsWereMet(t)
}

func TestCreateSale_RedeemingPointsRequiresCustomer(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	svc := newSaleService(mockDB)

	_, err := svc.CreateSale(context.Background(), &service.CreateSaleRequest{
		AccountID:      testAccountID,
		Lines:          []service.SaleLineRequest{{ProductID: testProductID, Quantity: 1}},
		PointsRedeemed: 10,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
	mockDB.ExpectationsWereMet(t)
}
