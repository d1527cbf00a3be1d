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

// Purchase statuses
const (
	PurchaseStatusCompleted = "completed"
	PurchaseStatusReturned  = "returned"
)

// Purchase is the header of a committed purchase transaction.
type Purchase struct {
	ID          string          `db:"id" json:"id"`
	SupplierID  string          `db:"supplier_id" json:"supplier_id"`
	AccountID   *string         `db:"account_id" json:"account_id,omitempty"`
	Status      string          `db:"status" json:"status"`
	TotalAmount decimal.Decimal `db:"total_amount" json:"total_amount"`
	CreatedByID string          `db:"created_by_id" json:"created_by_id"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// PurchaseItem is one received line of a purchase. Quantity is in order
// units; UnitsReceived is the converted base-unit count added to stock.
type PurchaseItem struct {
	ID            string          `db:"id" json:"id"`
	PurchaseID    string          `db:"purchase_id" json:"purchase_id"`
	ProductID     string          `db:"product_id" json:"product_id"`
	BatchID       string          `db:"batch_id" json:"batch_id"`
	LotCode       string          `db:"lot_code" json:"lot_code"`
	ExpiryDate    time.Time       `db:"expiry_date" json:"expiry_date"`
	Quantity      int             `db:"quantity" json:"quantity"`
	UnitsReceived int             `db:"units_received" json:"units_received"`
	UnitCost      decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	LineTotal     decimal.Decimal `db:"line_total" json:"line_total"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// PurchaseRepository handles purchase persistence
type PurchaseRepository struct {
	q database.Queryer
}

// NewPurchaseRepository creates a new purchase repository
func NewPurchaseRepository(db database.Queryer) *PurchaseRepository {
	return &PurchaseRepository{q: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *PurchaseRepository) WithTx(tx *sqlx.Tx) *PurchaseRepository {
	return &PurchaseRepository{q: tx}
}

// Create inserts the purchase header
func (r *PurchaseRepository) Create(ctx context.Context, purchase *Purchase) error {
	if purchase.ID == "" {
		purchase.ID = uuid.New().String()
	}
	if purchase.Status == "" {
		purchase.Status = PurchaseStatusCompleted
	}

	query := `
		INSERT INTO purchases (
			id, supplier_id, account_id, status, total_amount, created_by_id
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err := r.q.QueryRowxContext(ctx, query,
		purchase.ID, purchase.SupplierID, purchase.AccountID, purchase.Status,
		purchase.TotalAmount, purchase.CreatedByID,
	).Scan(&purchase.CreatedAt, &purchase.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// AddItem inserts one purchase line
func (r *PurchaseRepository) AddItem(ctx context.Context, item *PurchaseItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	query := `
		INSERT INTO purchase_items (
			id, purchase_id, product_id, batch_id, lot_code, expiry_date,
			quantity, units_received, unit_cost, line_total
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`

	err := r.q.QueryRowxContext(ctx, query,
		item.ID, item.PurchaseID, item.ProductID, item.BatchID, item.LotCode,
		item.ExpiryDate, item.Quantity, item.UnitsReceived, item.UnitCost, item.LineTotal,
	).Scan(&item.CreatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a purchase by ID
func (r *PurchaseRepository) GetByID(ctx context.Context, id string) (*Purchase, error) {
	var purchase Purchase
	query := `SELECT * FROM purchases WHERE id = $1`
	if err := r.q.GetContext(ctx, &purchase, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("purchase")
		}
		return nil, err
	}
	return &purchase, nil
}

// ListItems lists the lines of a purchase in insertion order
func (r *PurchaseRepository) ListItems(ctx context.Context, purchaseID string) ([]*PurchaseItem, error) {
	var items []*PurchaseItem
	query := `SELECT * FROM purchase_items WHERE purchase_id = $1 ORDER BY created_at ASC, id ASC`
	if err := r.q.SelectContext(ctx, &items, query, purchaseID); err != nil {
		return nil, err
	}
	return items, nil
}

// MarkReturned flips the purchase status to returned. A purchase can only
// be returned once.
func (r *PurchaseRepository) MarkReturned(ctx context.Context, id string) error {
	query := `
		UPDATE purchases
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`
	result, err := r.q.ExecContext(ctx, query, id, PurchaseStatusReturned, PurchaseStatusCompleted)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.Conflict("purchase has already been returned")
	}
	return nil
}

// List lists recent purchases, newest first
func (r *PurchaseRepository) List(ctx context.Context, limit, offset int) ([]*Purchase, error) {
	var purchases []*Purchase
	query := `SELECT * FROM purchases ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	if err := r.q.SelectContext(ctx, &purchases, query, limit, offset); err != nil {
		return nil, err
	}
	return purchases, nil
}
