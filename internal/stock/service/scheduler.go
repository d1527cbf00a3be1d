package service

import (
	"context"
	"time"

	"github.com/pharmadesk/pharmadesk-backend/internal/stock/events"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/repository"
	"github.com/pharmadesk/pharmadesk-backend/pkg/logger"
)

// Expiry scan horizons in days, matching the notification urgencies.
const (
	horizonCritical = 7
	horizonHigh     = 30
	horizonMedium   = 90
)

// ExpiryScheduler periodically scans stocked batches approaching expiry and
// maintains the open notification set. The scan never moves stock itself;
// blocking expired stock from leaving is the allocator's job, the scheduler
// only makes the situation visible.
type ExpiryScheduler struct {
	batchRepo        *repository.BatchRepository
	notificationRepo *repository.NotificationRepository
	publisher        *events.StockEventPublisher
	audit            *AuditRecorder
	interval         time.Duration
	logger           *logger.Logger
	cancel           context.CancelFunc
}

// NewExpiryScheduler creates a new expiry scheduler
func NewExpiryScheduler(
	batchRepo *repository.BatchRepository,
	notificationRepo *repository.NotificationRepository,
	publisher *events.StockEventPublisher,
	audit *AuditRecorder,
	interval time.Duration,
	log *logger.Logger,
) *ExpiryScheduler {
	return &ExpiryScheduler{
		batchRepo:        batchRepo,
		notificationRepo: notificationRepo,
		publisher:        publisher,
		audit:            audit,
		interval:         interval,
		logger:           log,
	}
}

// Start starts the scheduler in a background goroutine with an immediate
// first scan.
func (s *ExpiryScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		s.logger.Info().Dur("interval", s.interval).Msg("expiry scheduler started")

		s.RunScan(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("expiry scheduler stopped")
				return
			case <-ticker.C:
				s.RunScan(ctx)
			}
		}
	}()
}

// Stop stops the scheduler goroutine
func (s *ExpiryScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// RunScan runs a single scan cycle: classify every stocked batch within the
// widest horizon, upsert its notification, and publish an alert event.
func (s *ExpiryScheduler) RunScan(ctx context.Context) {
	start := time.Now()
	s.logger.Info().Msg("starting expiry scan")

	batches, err := s.batchRepo.ListExpiringWithin(ctx, horizonMedium)
	if err != nil {
		s.logger.Error().Err(err).Msg("expiry scan failed to list batches")
		return
	}

	scanned := 0
	for _, batch := range batches {
		daysUntil := DaysUntilExpiry(batch.ExpiryDate, start)
		urgency := ClassifyUrgency(daysUntil)

		prior, err := s.notificationRepo.GetByBatch(ctx, batch.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to read expiry notification")
			continue
		}

		n := &repository.ExpiryNotification{
			BatchID:    batch.ID,
			ProductID:  batch.ProductID,
			LotCode:    batch.LotCode,
			ExpiryDate: batch.ExpiryDate,
			Quantity:   batch.Quantity,
			Urgency:    urgency,
		}
		if err := s.notificationRepo.Upsert(ctx, n); err != nil {
			s.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to upsert expiry notification")
			continue
		}

		// A batch crossing into the critical window leaves a trail once,
		// not on every scan.
		if urgency == repository.UrgencyCritical && (prior == nil || prior.Urgency != urgency) {
			if err := s.audit.Record(ctx, "batch", batch.ID,
				repository.AuditActionExpiryAlert, repository.AuditSeverityWarning,
				map[string]interface{}{
					"product_id":        batch.ProductID,
					"lot_code":          batch.LotCode,
					"quantity":          batch.Quantity,
					"days_until_expiry": daysUntil,
				},
			); err != nil {
				s.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to record expiry alert")
			}
		}

		s.publisher.PublishBatchExpiring(ctx, batch, daysUntil, urgency)
		scanned++
	}

	s.logger.Info().
		Dur("duration", time.Since(start)).
		Int("batch_count", scanned).
		Msg("expiry scan completed")
}

// DaysUntilExpiry returns whole days from now until the expiry date, at day
// granularity. Negative for already-expired batches.
func DaysUntilExpiry(expiry, now time.Time) int {
	ny, nm, nd := now.UTC().Date()
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	ey, em, ed := expiry.UTC().Date()
	expiryDay := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return int(expiryDay.Sub(today).Hours() / 24)
}

// ClassifyUrgency buckets days-until-expiry into a notification urgency.
// Expired batches count as critical.
func ClassifyUrgency(daysUntil int) string {
	switch {
	case daysUntil <= horizonCritical:
		return repository.UrgencyCritical
	case daysUntil <= horizonHigh:
		return repository.UrgencyHigh
	default:
		return repository.UrgencyMedium
	}
}
