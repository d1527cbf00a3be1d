package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pharmadesk/pharmadesk-backend/pkg/database"
	"github.com/pharmadesk/pharmadesk-backend/pkg/errors"
)

// Expiry notification urgencies, from most to least pressing.
const (
	UrgencyCritical = "critical"
	UrgencyHigh     = "high"
	UrgencyMedium   = "medium"
)

// ExpiryNotification is one open warning about a batch approaching or past
// its expiry date. One row per batch; repeated scans update urgency in place.
type ExpiryNotification struct {
	ID           string    `db:"id" json:"id"`
	BatchID      string    `db:"batch_id" json:"batch_id"`
	ProductID    string    `db:"product_id" json:"product_id"`
	LotCode      string    `db:"lot_code" json:"lot_code"`
	ExpiryDate   time.Time `db:"expiry_date" json:"expiry_date"`
	Quantity     int       `db:"quantity" json:"quantity"`
	Urgency      string    `db:"urgency" json:"urgency"`
	Acknowledged bool      `db:"acknowledged" json:"acknowledged"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// NotificationRepository handles expiry notification persistence
type NotificationRepository struct {
	q database.Queryer
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db database.Queryer) *NotificationRepository {
	return &NotificationRepository{q: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *NotificationRepository) WithTx(tx *sqlx.Tx) *NotificationRepository {
	return &NotificationRepository{q: tx}
}

// Upsert records or refreshes the warning for a batch. Acknowledgement is
// preserved unless the urgency escalated since the previous scan.
func (r *NotificationRepository) Upsert(ctx context.Context, n *ExpiryNotification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}

	query := `
		INSERT INTO expiry_notifications (
			id, batch_id, product_id, lot_code, expiry_date, quantity, urgency
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (batch_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			urgency = EXCLUDED.urgency,
			acknowledged = CASE
				WHEN expiry_notifications.urgency <> EXCLUDED.urgency THEN FALSE
				ELSE expiry_notifications.acknowledged
			END,
			updated_at = NOW()
		RETURNING id, acknowledged, created_at, updated_at
	`

	return r.q.QueryRowxContext(ctx, query,
		n.ID, n.BatchID, n.ProductID, n.LotCode, n.ExpiryDate, n.Quantity, n.Urgency,
	).Scan(&n.ID, &n.Acknowledged, &n.CreatedAt, &n.UpdatedAt)
}

// ListOpen lists unacknowledged notifications, most urgent and soonest first
func (r *NotificationRepository) ListOpen(ctx context.Context) ([]*ExpiryNotification, error) {
	var notifications []*ExpiryNotification
	query := `
		SELECT * FROM expiry_notifications
		WHERE acknowledged = FALSE
		ORDER BY CASE urgency
			WHEN 'critical' THEN 0
			WHEN 'high' THEN 1
			ELSE 2
		END, expiry_date ASC
	`
	if err := r.q.SelectContext(ctx, &notifications, query); err != nil {
		return nil, err
	}
	return notifications, nil
}

// Acknowledge marks a notification as seen
func (r *NotificationRepository) Acknowledge(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE expiry_notifications SET acknowledged = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.NotFound("notification")
	}
	return nil
}

// DeleteForBatch drops the open warning for a batch, used after disposal
func (r *NotificationRepository) DeleteForBatch(ctx context.Context, batchID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM expiry_notifications WHERE batch_id = $1`, batchID)
	return err
}

// GetByBatch looks up the warning for a batch. Returns nil, nil when absent.
func (r *NotificationRepository) GetByBatch(ctx context.Context, batchID string) (*ExpiryNotification, error) {
	var n ExpiryNotification
	query := `SELECT * FROM expiry_notifications WHERE batch_id = $1`
	if err := r.q.GetContext(ctx, &n, query, batchID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}
