package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pharmadesk/pharmadesk-backend/pkg/database"
)

// LegacyStockRepository mirrors per-product totals into the legacy
// product_stock table read by the old reporting frontend. The batches table
// is authoritative; the mirror is derived and refreshed after commit, never
// inside the transaction that moved stock.
type LegacyStockRepository struct {
	q database.Queryer
}

// NewLegacyStockRepository creates a new legacy stock repository
func NewLegacyStockRepository(db database.Queryer) *LegacyStockRepository {
	return &LegacyStockRepository{q: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *LegacyStockRepository) WithTx(tx *sqlx.Tx) *LegacyStockRepository {
	return &LegacyStockRepository{q: tx}
}

// SyncProduct recomputes the mirrored total for one product from the
// batches table and upserts it.
func (r *LegacyStockRepository) SyncProduct(ctx context.Context, productID string) error {
	query := `
		INSERT INTO product_stock (product_id, quantity, updated_at)
		SELECT $1, COALESCE(SUM(quantity), 0), NOW()
		FROM batches WHERE product_id = $1 AND quantity > 0
		ON CONFLICT (product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
	`
	_, err := r.q.ExecContext(ctx, query, productID)
	return err
}

// GetMirroredQuantity reads the mirrored total for a product. Returns 0 when
// the product has never been mirrored.
func (r *LegacyStockRepository) GetMirroredQuantity(ctx context.Context, productID string) (int, error) {
	var quantity int
	query := `SELECT COALESCE((SELECT quantity FROM product_stock WHERE product_id = $1), 0)`
	if err := r.q.GetContext(ctx, &quantity, query, productID); err != nil {
		return 0, err
	}
	return quantity, nil
}
