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

// Supplier carries the running balance owed to a supplier.
type Supplier struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	Version   int64           `db:"version" json:"version"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// SupplierLedgerEntry records one movement on a supplier's running balance.
type SupplierLedgerEntry struct {
	ID           string          `db:"id" json:"id"`
	SupplierID   string          `db:"supplier_id" json:"supplier_id"`
	PurchaseID   *string         `db:"purchase_id" json:"purchase_id,omitempty"`
	EntryType    string          `db:"entry_type" json:"entry_type"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	BalanceAfter decimal.Decimal `db:"balance_after" json:"balance_after"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Supplier ledger entry types
const (
	LedgerEntryPurchase       = "purchase"
	LedgerEntryPayment        = "payment"
	LedgerEntryPurchaseReturn = "purchase_return"
)

// SupplierRepository handles supplier persistence
type SupplierRepository struct {
	q database.Queryer
}

// NewSupplierRepository creates a new supplier repository
func NewSupplierRepository(db database.Queryer) *SupplierRepository {
	return &SupplierRepository{q: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *SupplierRepository) WithTx(tx *sqlx.Tx) *SupplierRepository {
	return &SupplierRepository{q: tx}
}

// GetByID gets a supplier by ID
func (r *SupplierRepository) GetByID(ctx context.Context, id string) (*Supplier, error) {
	var supplier Supplier
	query := `SELECT * FROM suppliers WHERE id = $1`
	if err := r.q.GetContext(ctx, &supplier, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("supplier")
		}
		return nil, err
	}
	return &supplier, nil
}

// AdjustBalance moves the supplier's running balance through the concurrency
// guard and appends the matching ledger entry. A positive amount increases
// what is owed; a negative amount decreases it.
func (r *SupplierRepository) AdjustBalance(ctx context.Context, id string, amount decimal.Decimal, entryType string, purchaseID *string, expectedVersion int64) error {
	query := `
		UPDATE suppliers
		SET balance = balance + $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $3
	`
	if err := database.ExecVersioned(ctx, r.q, "supplier", query, id, amount, expectedVersion); err != nil {
		return err
	}

	entry := &SupplierLedgerEntry{
		ID:         uuid.New().String(),
		SupplierID: id,
		PurchaseID: purchaseID,
		EntryType:  entryType,
		Amount:     amount,
	}

	insert := `
		INSERT INTO supplier_ledger (id, supplier_id, purchase_id, entry_type, amount, balance_after)
		SELECT $1, $2, $3, $4, $5, balance FROM suppliers WHERE id = $2
	`
	if _, err := r.q.ExecContext(ctx, insert,
		entry.ID, entry.SupplierID, entry.PurchaseID, entry.EntryType, entry.Amount,
	); err != nil {
		return err
	}

	return nil
}

// ListLedger lists ledger entries for a supplier, newest first
func (r *SupplierRepository) ListLedger(ctx context.Context, supplierID string, limit int) ([]*SupplierLedgerEntry, error) {
	var entries []*SupplierLedgerEntry
	query := `
		SELECT * FROM supplier_ledger
		WHERE supplier_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	if err := r.q.SelectContext(ctx, &entries, query, supplierID, limit); err != nil {
		return nil, err
	}
	return entries, nil
}
