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

// Account is a cash or bank account whose balance moves only as a side
// effect of a committed sale or purchase.
type Account struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	Version   int64           `db:"version" json:"version"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// AccountRepository handles account persistence
type AccountRepository struct {
	q database.Queryer
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db database.Queryer) *AccountRepository {
	return &AccountRepository{q: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *AccountRepository) WithTx(tx *sqlx.Tx) *AccountRepository {
	return &AccountRepository{q: tx}
}

// GetByID gets an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*Account, error) {
	var account Account
	query := `SELECT * FROM accounts WHERE id = $1`
	if err := r.q.GetContext(ctx, &account, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("account")
		}
		return nil, err
	}
	return &account, nil
}

// Credit adds to the account balance through the concurrency guard
func (r *AccountRepository) Credit(ctx context.Context, id string, amount decimal.Decimal, expectedVersion int64) error {
	query := `
		UPDATE accounts
		SET balance = balance + $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $3
	`
	return database.ExecVersioned(ctx, r.q, "account", query, id, amount, expectedVersion)
}

// Debit subtracts from the account balance through the concurrency guard.
// The caller checks funds beforehand; the predicate re-checks them so a
// concurrent debit can never overdraw the account.
func (r *AccountRepository) Debit(ctx context.Context, id string, amount decimal.Decimal, expectedVersion int64) error {
	query := `
		UPDATE accounts
		SET balance = balance - $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $3 AND balance >= $2
	`
	return database.ExecVersioned(ctx, r.q, "account", query, id, amount, expectedVersion)
}
