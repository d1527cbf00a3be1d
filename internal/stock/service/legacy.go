package service

import (
	"context"

	"github.com/pharmadesk/pharmadesk-backend/internal/stock/repository"
	"github.com/pharmadesk/pharmadesk-backend/pkg/logger"
)

// LegacyMirror keeps the pre-batch product_stock table in step with the
// batch-level truth for callers that have not migrated yet. It runs strictly
// after commit and is best-effort: a failed sync is logged and retried on
// the next mutation of the same product, never folded into the transaction.
type LegacyMirror struct {
	legacyRepo *repository.LegacyStockRepository
	enabled    bool
	logger     *logger.Logger
}

// NewLegacyMirror creates a new legacy mirror
func NewLegacyMirror(legacyRepo *repository.LegacyStockRepository, enabled bool, log *logger.Logger) *LegacyMirror {
	return &LegacyMirror{
		legacyRepo: legacyRepo,
		enabled:    enabled,
		logger:     log,
	}
}

// MirroredQuantity reads the mirrored total for a product. Returns nil when
// the mirror is disabled, so callers can tell "off" from "zero".
func (m *LegacyMirror) MirroredQuantity(ctx context.Context, productID string) *int {
	if m == nil || !m.enabled {
		return nil
	}
	quantity, err := m.legacyRepo.GetMirroredQuantity(ctx, productID)
	if err != nil {
		m.logger.Error().Err(err).
			Str("product_id", productID).
			Msg("failed to read legacy product stock")
		return nil
	}
	return &quantity
}

// SyncProduct refreshes the mirrored total for one product
func (m *LegacyMirror) SyncProduct(ctx context.Context, productID string) {
	if m == nil || !m.enabled {
		return
	}
	if err := m.legacyRepo.SyncProduct(ctx, productID); err != nil {
		m.logger.Error().Err(err).
			Str("product_id", productID).
			Msg("failed to sync legacy product stock")
	}
}
