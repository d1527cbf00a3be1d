package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/events"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/repository"
	"github.com/pharmadesk/pharmadesk-backend/pkg/actor"
	"github.com/pharmadesk/pharmadesk-backend/pkg/database"
	"github.com/pharmadesk/pharmadesk-backend/pkg/errors"
	"github.com/pharmadesk/pharmadesk-backend/pkg/logger"
)

// ProductStock is a product's batch breakdown with its aggregate total.
// MirroredQuantity carries the legacy product_stock value when the mirror
// is enabled; a divergence from TotalOnHand means a missed sync.
type ProductStock struct {
	ProductID        string              `json:"product_id"`
	TotalOnHand      int                 `json:"total_on_hand"`
	MirroredQuantity *int                `json:"mirrored_quantity,omitempty"`
	Batches          []*repository.Batch `json:"batches"`
}

// BatchService covers batch reads and the disposal lifecycle.
type BatchService struct {
	db               *database.DB
	batchRepo        *repository.BatchRepository
	notificationRepo *repository.NotificationRepository
	audit            *AuditRecorder
	publisher        *events.StockEventPublisher
	mirror           *LegacyMirror
	logger           *logger.Logger
}

// NewBatchService creates a new batch service
func NewBatchService(
	db *database.DB,
	batchRepo *repository.BatchRepository,
	notificationRepo *repository.NotificationRepository,
	audit *AuditRecorder,
	publisher *events.StockEventPublisher,
	mirror *LegacyMirror,
	log *logger.Logger,
) *BatchService {
	return &BatchService{
		db:               db,
		batchRepo:        batchRepo,
		notificationRepo: notificationRepo,
		audit:            audit,
		publisher:        publisher,
		mirror:           mirror,
		logger:           log,
	}
}

// GetBatch gets a batch by ID
func (s *BatchService) GetBatch(ctx context.Context, id string) (*repository.Batch, error) {
	return s.batchRepo.GetByID(ctx, id)
}

// GetProductStock returns a product's batches with the aggregate total
func (s *BatchService) GetProductStock(ctx context.Context, productID string) (*ProductStock, error) {
	batches, err := s.batchRepo.ListByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, b := range batches {
		if b.Quantity > 0 {
			total += b.Quantity
		}
	}

	return &ProductStock{
		ProductID:        productID,
		TotalOnHand:      total,
		MirroredQuantity: s.mirror.MirroredQuantity(ctx, productID),
		Batches:          batches,
	}, nil
}

// DisposeBatch zeroes a batch with a recorded reason. Disposal always goes
// through the guard, so it advances the version even when the batch is
// already empty, and each disposal writes its own audit entry.
func (s *BatchService) DisposeBatch(ctx context.Context, batchID, reason string) (*repository.Batch, error) {
	if reason == "" {
		return nil, errors.BadRequest("disposal reason is required")
	}

	batch, err := s.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	disposedQuantity := batch.Quantity

	txErr := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := s.batchRepo.WithTx(tx).SetQuantity(ctx, batchID, 0, batch.Version); err != nil {
			return err
		}

		if err := s.notificationRepo.WithTx(tx).DeleteForBatch(ctx, batchID); err != nil {
			return err
		}

		return s.audit.WithTx(tx).Record(ctx, "batch", batchID,
			repository.AuditActionBatchDisposed, repository.AuditSeverityInfo,
			map[string]interface{}{
				"lot_code":          batch.LotCode,
				"disposed_quantity": disposedQuantity,
				"reason":            reason,
			},
		)
	})
	if txErr != nil {
		return nil, txErr
	}

	batch.Quantity = 0
	batch.Version++
	batch.UpdatedAt = time.Now()

	s.publisher.PublishBatchDisposed(ctx, batch, disposedQuantity, reason, actor.IDFromContext(ctx))
	s.mirror.SyncProduct(ctx, batch.ProductID)

	return batch, nil
}

// DeleteBatch removes an empty batch entirely
func (s *BatchService) DeleteBatch(ctx context.Context, batchID string) error {
	batch, err := s.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		return err
	}

	txErr := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := s.notificationRepo.WithTx(tx).DeleteForBatch(ctx, batchID); err != nil {
			return err
		}
		if err := s.batchRepo.WithTx(tx).Delete(ctx, batchID); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Record(ctx, "batch", batchID,
			repository.AuditActionBatchDeleted, repository.AuditSeverityInfo,
			map[string]interface{}{
				"lot_code":   batch.LotCode,
				"product_id": batch.ProductID,
			},
		)
	})
	return txErr
}

// ListNotifications lists open expiry notifications
func (s *BatchService) ListNotifications(ctx context.Context) ([]*repository.ExpiryNotification, error) {
	return s.notificationRepo.ListOpen(ctx)
}

// AcknowledgeNotification marks a notification as seen
func (s *BatchService) AcknowledgeNotification(ctx context.Context, id string) error {
	return s.notificationRepo.Acknowledge(ctx, id)
}
