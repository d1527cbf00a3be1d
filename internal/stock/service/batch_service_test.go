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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBatchService(mockDB *testutil.MockDB) *service.BatchService {
	log := logger.New("test", "test")
	db := database.Wrap(mockDB.DB, log)

	batchRepo := repository.NewBatchRepository(mockDB.DB)
	notificationRepo := repository.NewNotificationRepository(mockDB.DB)
	audit := service.NewAuditRecorder(repository.NewAuditRepository(mockDB.DB), log)
	mirror := service.NewLegacyMirror(nil, false, log)

	var publisher *events.StockEventPublisher

	return service.NewBatchService(db, batchRepo, notificationRepo, audit, publisher, mirror, log)
}

func TestDisposeBatch_ZeroesStockAndRecordsReason(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	svc := newBatchService(mockDB)

	mockDB.Mock.ExpectQuery("SELECT \\* FROM batches WHERE id").
		WillReturnRows(batchRows(8, 2, time.Now().AddDate(0, 0, -1)))

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectExec("UPDATE batches").
		WithArgs(testBatchID, 0, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectExec("DELETE FROM expiry_notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectQuery("INSERT INTO audit_log").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	mockDB.ExpectCommit()

	batch, err := svc.DisposeBatch(context.Background(), testBatchID, "expired stock")
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Quantity)
	assert.Equal(t, int64(3), batch.Version)
	mockDB.ExpectationsWereMet(t)
}

func TestDisposeBatch_EmptyBatchStillAdvancesVersion(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	svc := newBatchService(mockDB)

	// Already disposed once: quantity 0, version 3. A second disposal
	// is not a no-op, it advances the version and leaves its own trail.
	mockDB.Mock.ExpectQuery("SELECT \\* FROM batches WHERE id").
		WillReturnRows(batchRows(0, 3, time.Now().AddDate(0, 0, -1)))

	mockDB.ExpectBegin()
	mockDB.Mock.ExpectExec("UPDATE batches").
		WithArgs(testBatchID, 0, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectExec("DELETE FROM expiry_notifications").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.Mock.ExpectQuery("INSERT INTO audit_log").
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))
	mockDB.ExpectCommit()

	batch, err := svc.DisposeBatch(context.Background(), testBatchID, "re-confirmed disposal")
	require.NoError(t, err)
	assert.Equal(t, int64(4), batch.Version)
	mockDB.ExpectationsWereMet(t)
}

func TestDisposeBatch_RequiresReason(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	svc := newBatchService(mockDB)

	_, err := svc.DisposeBatch(context.Background(), testBatchID, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
	mockDB.ExpectationsWereMet(t)
}
