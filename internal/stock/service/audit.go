package service

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/repository"
	"github.com/pharmadesk/pharmadesk-backend/pkg/actor"
	"github.com/pharmadesk/pharmadesk-backend/pkg/logger"
)

// AuditRecorder writes audit entries with the acting user resolved from the
// request context. Committed mutations are recorded inside their transaction
// via WithTx; blocked attempts are recorded on the pool after rollback so the
// abort leaves no other trace.
type AuditRecorder struct {
	auditRepo *repository.AuditRepository
	logger    *logger.Logger
}

// NewAuditRecorder creates a new audit recorder
func NewAuditRecorder(auditRepo *repository.AuditRepository, log *logger.Logger) *AuditRecorder {
	return &AuditRecorder{
		auditRepo: auditRepo,
		logger:    log,
	}
}

// WithTx returns a copy of the recorder bound to the given transaction
func (a *AuditRecorder) WithTx(tx *sqlx.Tx) *AuditRecorder {
	return &AuditRecorder{
		auditRepo: a.auditRepo.WithTx(tx),
		logger:    a.logger,
	}
}

// Record writes one audit entry. The summary is marshaled to JSON; a nil
// summary is stored as NULL.
func (a *AuditRecorder) Record(ctx context.Context, entityType, entityID, action, severity string, summary interface{}) error {
	act := actor.FromContext(ctx)
	if act == nil {
		act = actor.SystemActor()
	}

	entry := &repository.AuditEntry{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Severity:   severity,
		ActorID:    &act.ID,
		ActorName:  &act.Name,
	}

	if summary != nil {
		raw, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		s := string(raw)
		entry.Summary = &s
	}

	return a.auditRepo.Create(ctx, entry)
}

// RecordBlocked writes a blocked-attempt entry outside any transaction.
// The write is best-effort: a failure is logged, not propagated, so the
// caller still surfaces the original engine error.
func (a *AuditRecorder) RecordBlocked(ctx context.Context, entityType, entityID, action, severity string, summary interface{}) {
	if err := a.Record(ctx, entityType, entityID, action, severity, summary); err != nil {
		a.logger.Error().Err(err).
			Str("entity_type", entityType).
			Str("entity_id", entityID).
			Str("action", action).
			Msg("failed to record blocked attempt")
	}
}
