package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pharmadesk/pharmadesk-backend/pkg/database"
)

// Audit actions
const (
	AuditActionSaleCompleted     = "sale_completed"
	AuditActionSaleBlocked       = "sale_blocked"
	AuditActionSaleReturned      = "sale_returned"
	AuditActionPurchaseCompleted = "purchase_completed"
	AuditActionPurchaseReturned  = "purchase_returned"
	AuditActionBatchDisposed     = "batch_disposed"
	AuditActionBatchDeleted      = "batch_deleted"
	AuditActionExpiryAlert       = "expiry_alert"
)

// Audit severities. Critical is reserved for states the engine should have
// made impossible, such as the expiry trip-wire firing mid-transaction.
const (
	AuditSeverityInfo     = "info"
	AuditSeverityWarning  = "warning"
	AuditSeverityCritical = "critical"
)

// AuditEntry is one record of the append-only audit log. Entries are never
// updated or deleted.
type AuditEntry struct {
	ID         string    `db:"id" json:"id"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   string    `db:"entity_id" json:"entity_id"`
	Action     string    `db:"action" json:"action"`
	Severity   string    `db:"severity" json:"severity"`
	Summary    *string   `db:"summary" json:"summary,omitempty"`
	ActorID    *string   `db:"actor_id" json:"actor_id,omitempty"`
	ActorName  *string   `db:"actor_name" json:"actor_name,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AuditRepository handles audit log persistence. All operations are
// append-only: no UPDATE or DELETE is permitted.
type AuditRepository struct {
	q database.Queryer
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db database.Queryer) *AuditRepository {
	return &AuditRepository{q: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *AuditRepository) WithTx(tx *sqlx.Tx) *AuditRepository {
	return &AuditRepository{q: tx}
}

// Create creates a new audit entry (append-only, no update/delete)
func (r *AuditRepository) Create(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Severity == "" {
		entry.Severity = AuditSeverityInfo
	}

	query := `
		INSERT INTO audit_log (
			id, entity_type, entity_id, action, severity, summary,
			actor_id, actor_name
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	return r.q.QueryRowxContext(ctx, query,
		entry.ID, entry.EntityType, entry.EntityID, entry.Action,
		entry.Severity, entry.Summary, entry.ActorID, entry.ActorName,
	).Scan(&entry.CreatedAt)
}

// ListByEntity lists audit entries for a specific entity with pagination
func (r *AuditRepository) ListByEntity(ctx context.Context, entityType, entityID string, page, perPage int) ([]*AuditEntry, int64, error) {
	var total int64
	countQuery := `SELECT COUNT(*) FROM audit_log WHERE entity_type = $1 AND entity_id = $2`
	if err := r.q.GetContext(ctx, &total, countQuery, entityType, entityID); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	var entries []*AuditEntry
	query := `
		SELECT * FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	if err := r.q.SelectContext(ctx, &entries, query, entityType, entityID, perPage, offset); err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// List lists audit entries with optional filters
func (r *AuditRepository) List(ctx context.Context, action string, from, to *time.Time, page, perPage int) ([]*AuditEntry, int64, error) {
	args := []interface{}{}
	argIdx := 1

	countQuery := `SELECT COUNT(*) FROM audit_log WHERE 1=1`
	query := `SELECT * FROM audit_log WHERE 1=1`

	if action != "" {
		clause := fmt.Sprintf(` AND action = $%d`, argIdx)
		countQuery += clause
		query += clause
		args = append(args, action)
		argIdx++
	}

	if from != nil {
		clause := fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		countQuery += clause
		query += clause
		args = append(args, *from)
		argIdx++
	}

	if to != nil {
		clause := fmt.Sprintf(` AND created_at <= $%d`, argIdx)
		countQuery += clause
		query += clause
		args = append(args, *to)
		argIdx++
	}

	var total int64
	if err := r.q.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, perPage, (page-1)*perPage)

	var entries []*AuditEntry
	if err := r.q.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}
