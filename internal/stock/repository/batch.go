package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pharmadesk/pharmadesk-backend/pkg/database"
	"github.com/pharmadesk/pharmadesk-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// Batch represents one physical lot of a product. A batch with quantity 0 is
// inert but kept for traceability; it may only be deleted at exactly zero.
type Batch struct {
	ID               string           `db:"id" json:"id"`
	ProductID        string           `db:"product_id" json:"product_id"`
	LotCode          string           `db:"lot_code" json:"lot_code"`
	Quantity         int              `db:"quantity" json:"quantity"`
	ExpiryDate       time.Time        `db:"expiry_date" json:"expiry_date"`
	ManufactureDate  *time.Time       `db:"manufacture_date" json:"manufacture_date,omitempty"`
	SourcePurchaseID *string          `db:"source_purchase_id" json:"source_purchase_id,omitempty"`
	UnitCost         *decimal.Decimal `db:"unit_cost" json:"unit_cost,omitempty"`
	Version          int64            `db:"version" json:"version"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the batch has passed its expiry date relative to
// the given clock, at day granularity.
func (b *Batch) IsExpired(now time.Time) bool {
	return b.ExpiryDate.Before(truncateToDay(now))
}

// ExpiresWithin reports whether the batch expires within the given number of
// days from now.
func (b *Batch) ExpiresWithin(now time.Time, days int) bool {
	return !b.ExpiryDate.After(truncateToDay(now).AddDate(0, 0, days))
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// BatchRepository is the data-access boundary for batches. It exposes reads
// and the versioned write primitives; business rules live in the service
// layer. Direct quantity writes that bypass the version check do not exist.
type BatchRepository struct {
	q database.Queryer
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db database.Queryer) *BatchRepository {
	return &BatchRepository{q: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *BatchRepository) WithTx(tx *sqlx.Tx) *BatchRepository {
	return &BatchRepository{q: tx}
}

// Create inserts a new batch at version 1
func (r *BatchRepository) Create(ctx context.Context, batch *Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}

	query := `
		INSERT INTO batches (
			id, product_id, lot_code, quantity, expiry_date, manufacture_date,
			source_purchase_id, unit_cost, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		RETURNING version, created_at, updated_at
	`

	err := r.q.QueryRowxContext(ctx, query,
		batch.ID, batch.ProductID, batch.LotCode, batch.Quantity, batch.ExpiryDate,
		batch.ManufactureDate, batch.SourcePurchaseID, batch.UnitCost,
	).Scan(&batch.Version, &batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*Batch, error) {
	var batch Batch
	query := `SELECT * FROM batches WHERE id = $1`
	if err := r.q.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// ListStockedByProduct lists all batches of a product that still hold stock,
// in FEFO order: expiry date ascending, creation order breaking ties. The
// allocator partitions the result into valid and expired against its own
// clock, so no expiry filter is applied here.
func (r *BatchRepository) ListStockedByProduct(ctx context.Context, productID string) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM batches
		WHERE product_id = $1 AND quantity > 0
		ORDER BY expiry_date ASC, created_at ASC
	`
	if err := r.q.SelectContext(ctx, &batches, query, productID); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListByProduct lists every batch of a product, stocked or empty
func (r *BatchRepository) ListByProduct(ctx context.Context, productID string) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM batches
		WHERE product_id = $1
		ORDER BY expiry_date ASC, created_at ASC
	`
	if err := r.q.SelectContext(ctx, &batches, query, productID); err != nil {
		return nil, err
	}
	return batches, nil
}

// FindByProductAndLot looks up a batch by its natural key. Returns nil, nil
// when no such lot exists.
func (r *BatchRepository) FindByProductAndLot(ctx context.Context, productID, lotCode string) (*Batch, error) {
	var batch Batch
	query := `SELECT * FROM batches WHERE product_id = $1 AND lot_code = $2`
	if err := r.q.GetContext(ctx, &batch, query, productID, lotCode); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &batch, nil
}

// ListExpiringWithin lists stocked batches expiring within the given number
// of days, including already-expired ones. Used by the expiry scan.
func (r *BatchRepository) ListExpiringWithin(ctx context.Context, withinDays int) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM batches
		WHERE quantity > 0
		AND expiry_date <= CURRENT_DATE + $1 * INTERVAL '1 day'
		ORDER BY expiry_date ASC
	`
	if err := r.q.SelectContext(ctx, &batches, query, withinDays); err != nil {
		return nil, err
	}
	return batches, nil
}

// TotalOnHand sums the stocked quantity of a product across batches
func (r *BatchRepository) TotalOnHand(ctx context.Context, productID string) (int, error) {
	var total sql.NullInt64
	query := `SELECT SUM(quantity) FROM batches WHERE product_id = $1 AND quantity > 0`
	if err := r.q.GetContext(ctx, &total, query, productID); err != nil {
		return 0, err
	}
	if !total.Valid {
		return 0, nil
	}
	return int(total.Int64), nil
}

// DeductQuantity removes quantity from a batch through the concurrency
// guard. The schema's CHECK constraint backs the quantity >= 0 invariant.
func (r *BatchRepository) DeductQuantity(ctx context.Context, id string, quantity int, expectedVersion int64) error {
	query := `
		UPDATE batches
		SET quantity = quantity - $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $3
	`
	return database.ExecVersioned(ctx, r.q, "batch", query, id, quantity, expectedVersion)
}

// AddQuantity adds quantity to a batch through the concurrency guard
func (r *BatchRepository) AddQuantity(ctx context.Context, id string, quantity int, expectedVersion int64) error {
	query := `
		UPDATE batches
		SET quantity = quantity + $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $3
	`
	return database.ExecVersioned(ctx, r.q, "batch", query, id, quantity, expectedVersion)
}

// SetQuantity forces a batch quantity through the concurrency guard.
// Disposal uses this with zero; the version advances even when the stored
// quantity does not change.
func (r *BatchRepository) SetQuantity(ctx context.Context, id string, quantity int, expectedVersion int64) error {
	query := `
		UPDATE batches
		SET quantity = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $3
	`
	return database.ExecVersioned(ctx, r.q, "batch", query, id, quantity, expectedVersion)
}

// Delete removes a batch. Only an empty batch may be deleted; a stocked one
// is rejected so the audit trail keeps its reference.
func (r *BatchRepository) Delete(ctx context.Context, id string) error {
	batch, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if batch.Quantity != 0 {
		return errors.Conflict("batch still holds stock and cannot be deleted")
	}

	result, err := r.q.ExecContext(ctx, `DELETE FROM batches WHERE id = $1 AND quantity = 0`, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("batch")
	}

	return nil
}
