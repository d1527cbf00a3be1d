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

// Sale statuses
const (
	SaleStatusCompleted = "completed"
	SaleStatusReturned  = "returned"
)

// Sale is the header of a committed sale transaction.
type Sale struct {
	ID              string          `db:"id" json:"id"`
	CustomerID      *string         `db:"customer_id" json:"customer_id,omitempty"`
	AccountID       string          `db:"account_id" json:"account_id"`
	Status          string          `db:"status" json:"status"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	PointsEarned    int64           `db:"points_earned" json:"points_earned"`
	PointsRedeemed  int64           `db:"points_redeemed" json:"points_redeemed"`
	NearExpiryFlag  bool            `db:"near_expiry_flag" json:"near_expiry_flag"`
	CreatedByID     string          `db:"created_by_id" json:"created_by_id"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// SaleItem is one allocation line of a sale. Lot code and expiry date are
// copied from the batch at sale time so the record survives batch deletion.
type SaleItem struct {
	ID         string          `db:"id" json:"id"`
	SaleID     string          `db:"sale_id" json:"sale_id"`
	ProductID  string          `db:"product_id" json:"product_id"`
	BatchID    *string         `db:"batch_id" json:"batch_id,omitempty"`
	LotCode    string          `db:"lot_code" json:"lot_code"`
	ExpiryDate time.Time       `db:"expiry_date" json:"expiry_date"`
	Quantity   int             `db:"quantity" json:"quantity"`
	UnitPrice  decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal  decimal.Decimal `db:"line_total" json:"line_total"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// SaleRepository handles sale persistence
type SaleRepository struct {
	q database.Queryer
}

// NewSaleRepository creates a new sale repository
func NewSaleRepository(db database.Queryer) *SaleRepository {
	return &SaleRepository{q: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *SaleRepository) WithTx(tx *sqlx.Tx) *SaleRepository {
	return &SaleRepository{q: tx}
}

// Create inserts the sale header
func (r *SaleRepository) Create(ctx context.Context, sale *Sale) error {
	if sale.ID == "" {
		sale.ID = uuid.New().String()
	}
	if sale.Status == "" {
		sale.Status = SaleStatusCompleted
	}

	query := `
		INSERT INTO sales (
			id, customer_id, account_id, status, total_amount,
			points_earned, points_redeemed, near_expiry_flag, created_by_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err := r.q.QueryRowxContext(ctx, query,
		sale.ID, sale.CustomerID, sale.AccountID, sale.Status, sale.TotalAmount,
		sale.PointsEarned, sale.PointsRedeemed, sale.NearExpiryFlag, sale.CreatedByID,
	).Scan(&sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// AddItem inserts one sale line
func (r *SaleRepository) AddItem(ctx context.Context, item *SaleItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	query := `
		INSERT INTO sale_items (
			id, sale_id, product_id, batch_id, lot_code, expiry_date,
			quantity, unit_price, line_total
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	err := r.q.QueryRowxContext(ctx, query,
		item.ID, item.SaleID, item.ProductID, item.BatchID, item.LotCode,
		item.ExpiryDate, item.Quantity, item.UnitPrice, item.LineTotal,
	).Scan(&item.CreatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a sale by ID
func (r *SaleRepository) GetByID(ctx context.Context, id string) (*Sale, error) {
	var sale Sale
	query := `SELECT * FROM sales WHERE id = $1`
	if err := r.q.GetContext(ctx, &sale, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("sale")
		}
		return nil, err
	}
	return &sale, nil
}

// ListItems lists the lines of a sale in insertion order
func (r *SaleRepository) ListItems(ctx context.Context, saleID string) ([]*SaleItem, error) {
	var items []*SaleItem
	query := `SELECT * FROM sale_items WHERE sale_id = $1 ORDER BY created_at ASC, id ASC`
	if err := r.q.SelectContext(ctx, &items, query, saleID); err != nil {
		return nil, err
	}
	return items, nil
}

// MarkReturned flips the sale status to returned. A sale can only be
// returned once.
func (r *SaleRepository) MarkReturned(ctx context.Context, id string) error {
	query := `
		UPDATE sales
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`
	result, err := r.q.ExecContext(ctx, query, id, SaleStatusReturned, SaleStatusCompleted)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.Conflict("sale has already been returned")
	}
	return nil
}

// List lists recent sales, newest first
func (r *SaleRepository) List(ctx context.Context, limit, offset int) ([]*Sale, error) {
	var sales []*Sale
	query := `SELECT * FROM sales ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	if err := r.q.SelectContext(ctx, &sales, query, limit, offset); err != nil {
		return nil, err
	}
	return sales, nil
}
