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

// Product represents a sellable product. UnitsPerPackage converts
// purchase-order units into base stock units (default 1).
type Product struct {
	ID              string          `db:"id" json:"id"`
	Name            string          `db:"name" json:"name"`
	SKU             string          `db:"sku" json:"sku"`
	Unit            string          `db:"unit" json:"unit"`
	UnitsPerPackage int             `db:"units_per_package" json:"units_per_package"`
	SalePrice       decimal.Decimal `db:"sale_price" json:"sale_price"`
	Version         int64           `db:"version" json:"version"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// ProductRepository handles product persistence
type ProductRepository struct {
	q database.Queryer
}

// NewProductRepository creates a new product repository
func NewProductRepository(db database.Queryer) *ProductRepository {
	return &ProductRepository{q: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *ProductRepository) WithTx(tx *sqlx.Tx) *ProductRepository {
	return &ProductRepository{q: tx}
}

// Create creates a new product
func (r *ProductRepository) Create(ctx context.Context, product *Product) error {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	if product.UnitsPerPackage == 0 {
		product.UnitsPerPackage = 1
	}

	query := `
		INSERT INTO products (id, name, sku, unit, units_per_package, sale_price, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		RETURNING version, created_at, updated_at
	`

	err := r.q.QueryRowxContext(ctx, query,
		product.ID, product.Name, product.SKU, product.Unit,
		product.UnitsPerPackage, product.SalePrice,
	).Scan(&product.Version, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a product by ID
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*Product, error) {
	var product Product
	query := `SELECT * FROM products WHERE id = $1`
	if err := r.q.GetContext(ctx, &product, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("product")
		}
		return nil, err
	}
	return &product, nil
}
