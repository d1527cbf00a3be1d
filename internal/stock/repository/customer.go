package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pharmadesk/pharmadesk-backend/pkg/database"
	"github.com/pharmadesk/pharmadesk-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// Customer carries loyalty state mutated only as a side effect of a
// committed sale.
type Customer struct {
	ID             string          `db:"id" json:"id"`
	Name           string          `db:"name" json:"name"`
	Phone          *string         `db:"phone" json:"phone,omitempty"`
	LoyaltyPoints  int64           `db:"loyalty_points" json:"loyalty_points"`
	TotalPurchases decimal.Decimal `db:"total_purchases" json:"total_purchases"`
	Version        int64           `db:"version" json:"version"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// CustomerRepository handles customer persistence
type CustomerRepository struct {
	q database.Queryer
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db database.Queryer) *CustomerRepository {
	return &CustomerRepository{q: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *CustomerRepository) WithTx(tx *sqlx.Tx) *CustomerRepository {
	return &CustomerRepository{q: tx}
}

// GetByID gets a customer by ID
func (r *CustomerRepository) GetByID(ctx context.Context, id string) (*Customer, error) {
	var customer Customer
	query := `SELECT * FROM customers WHERE id = $1`
	if err := r.q.GetContext(ctx, &customer, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("customer")
		}
		return nil, err
	}
	return &customer, nil
}

// ApplyLoyalty adjusts loyalty points and lifetime purchase total through
// the concurrency guard. Redeemed points are subtracted before earned points
// are added; the resulting balance is clamped at zero.
func (r *CustomerRepository) ApplyLoyalty(ctx context.Context, id string, earned, redeemed int64, purchaseAmount decimal.Decimal, expectedVersion int64) error {
	query := `
		UPDATE customers
		SET loyalty_points = GREATEST(loyalty_points - $2 + $3, 0),
		    total_purchases = total_purchases + $4,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $5
	`
	return database.ExecVersioned(ctx, r.q, "customer", query, id, redeemed, earned, purchaseAmount, expectedVersion)
}
