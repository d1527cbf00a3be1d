package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// StockSchema is the DDL for the stock engine tables. Constraint names
// matter: the error mapping layer translates them into typed errors.
const StockSchema = `
	CREATE TABLE IF NOT EXISTS products (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		sku VARCHAR(100) UNIQUE NOT NULL,
		unit VARCHAR(50) NOT NULL DEFAULT 'unit',
		units_per_package INT NOT NULL DEFAULT 1
			CONSTRAINT products_units_per_package_positive CHECK (units_per_package >= 1),
		sale_price NUMERIC(12,2) NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS batches (
		id UUID PRIMARY KEY,
		product_id UUID NOT NULL REFERENCES products(id),
		lot_code VARCHAR(100) NOT NULL,
		quantity INT NOT NULL DEFAULT 0
			CONSTRAINT batches_quantity_non_negative CHECK (quantity >= 0),
		expiry_date DATE NOT NULL,
		manufacture_date DATE,
		source_purchase_id UUID,
		unit_cost NUMERIC(12,2),
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (product_id, lot_code)
	);

	CREATE INDEX IF NOT EXISTS batches_fefo_idx
		ON batches (product_id, expiry_date) WHERE quantity > 0;

	CREATE TABLE IF NOT EXISTS customers (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		phone VARCHAR(50),
		loyalty_points BIGINT NOT NULL DEFAULT 0
			CONSTRAINT customers_loyalty_points_non_negative CHECK (loyalty_points >= 0),
		total_purchases NUMERIC(14,2) NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		balance NUMERIC(14,2) NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS suppliers (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		balance NUMERIC(14,2) NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS supplier_ledger (
		id UUID PRIMARY KEY,
		supplier_id UUID NOT NULL REFERENCES suppliers(id),
		purchase_id UUID,
		entry_type VARCHAR(50) NOT NULL,
		amount NUMERIC(14,2) NOT NULL,
		balance_after NUMERIC(14,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS sales (
		id UUID PRIMARY KEY,
		customer_id UUID REFERENCES customers(id),
		account_id UUID NOT NULL REFERENCES accounts(id),
		status VARCHAR(50) NOT NULL DEFAULT 'completed',
		total_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
		points_earned BIGINT NOT NULL DEFAULT 0,
		points_redeemed BIGINT NOT NULL DEFAULT 0,
		near_expiry_flag BOOLEAN NOT NULL DEFAULT FALSE,
		created_by_id UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS sale_items (
		id UUID PRIMARY KEY,
		sale_id UUID NOT NULL REFERENCES sales(id),
		product_id UUID NOT NULL REFERENCES products(id),
		batch_id UUID,
		lot_code VARCHAR(100) NOT NULL,
		expiry_date DATE NOT NULL,
		quantity INT NOT NULL,
		unit_price NUMERIC(12,2) NOT NULL,
		line_total NUMERIC(14,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS purchases (
		id UUID PRIMARY KEY,
		supplier_id UUID NOT NULL REFERENCES suppliers(id),
		account_id UUID REFERENCES accounts(id),
		status VARCHAR(50) NOT NULL DEFAULT 'completed',
		total_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
		created_by_id UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS purchase_items (
		id UUID PRIMARY KEY,
		purchase_id UUID NOT NULL REFERENCES purchases(id),
		product_id UUID NOT NULL REFERENCES products(id),
		batch_id UUID NOT NULL,
		lot_code VARCHAR(100) NOT NULL,
		expiry_date DATE NOT NULL,
		quantity INT NOT NULL,
		units_received INT NOT NULL,
		unit_cost NUMERIC(12,2) NOT NULL,
		line_total NUMERIC(14,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id UUID PRIMARY KEY,
		entity_type VARCHAR(100) NOT NULL,
		entity_id UUID NOT NULL,
		action VARCHAR(100) NOT NULL,
		severity VARCHAR(50) NOT NULL DEFAULT 'info',
		summary JSONB,
		actor_id UUID,
		actor_name VARCHAR(255),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS expiry_notifications (
		id UUID PRIMARY KEY,
		batch_id UUID UNIQUE NOT NULL,
		product_id UUID NOT NULL,
		lot_code VARCHAR(100) NOT NULL,
		expiry_date DATE NOT NULL,
		quantity INT NOT NULL,
		urgency VARCHAR(50) NOT NULL,
		acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS product_stock (
		product_id UUID PRIMARY KEY,
		quantity INT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
`

// stockTables lists every table in truncation-safe order
var stockTables = []string{
	"expiry_notifications",
	"product_stock",
	"audit_log",
	"purchase_items",
	"purchases",
	"sale_items",
	"sales",
	"supplier_ledger",
	"suppliers",
	"accounts",
	"customers",
	"batches",
	"products",
}

// ApplyStockSchema creates the stock engine tables
func ApplyStockSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, StockSchema); err != nil {
		return fmt.Errorf("failed to apply stock schema: %w", err)
	}
	return nil
}

// TruncateAll clears every stock table between tests
func TruncateAll(ctx context.Context, db *sqlx.DB) error {
	for _, table := range stockTables {
		if _, err := db.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return nil
}

// ProductFixture represents test product data
type ProductFixture struct {
	ID              string
	Name            string
	SKU             string
	Unit            string
	UnitsPerPackage int
	SalePrice       string
}

// BatchFixture represents test batch data
type BatchFixture struct {
	ID         string
	ProductID  string
	LotCode    string
	Quantity   int
	ExpiryDate time.Time
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

// Product creates a product fixture with a unique SKU
func (f *FixtureFactory) Product() *ProductFixture {
	f.sequence++
	return &ProductFixture{
		ID:              uuid.New().String(),
		Name:            fmt.Sprintf("Test Product %d", f.sequence),
		SKU:             fmt.Sprintf("SKU-%04d", f.sequence),
		Unit:            "unit",
		UnitsPerPackage: 1,
		SalePrice:       "10.00",
	}
}

// Batch creates a batch fixture for the given product expiring in the given
// number of days (negative for already expired)
func (f *FixtureFactory) Batch(productID string, quantity, expiresInDays int) *BatchFixture {
	f.sequence++
	return &BatchFixture{
		ID:         uuid.New().String(),
		ProductID:  productID,
		LotCode:    fmt.Sprintf("LOT-%04d", f.sequence),
		Quantity:   quantity,
		ExpiryDate: time.Now().UTC().AddDate(0, 0, expiresInDays),
	}
}

// InsertProduct inserts a product fixture
func (f *FixtureFactory) InsertProduct(ctx context.Context, db *sqlx.DB, p *ProductFixture) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO products (id, name, sku, unit, units_per_package, sale_price)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Name, p.SKU, p.Unit, p.UnitsPerPackage, p.SalePrice)
	return err
}

// InsertBatch inserts a batch fixture
func (f *FixtureFactory) InsertBatch(ctx context.Context, db *sqlx.DB, b *BatchFixture) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO batches (id, product_id, lot_code, quantity, expiry_date)
		VALUES ($1, $2, $3, $4, $5)
	`, b.ID, b.ProductID, b.LotCode, b.Quantity, b.ExpiryDate)
	return err
}

// InsertCustomer inserts a customer with the given loyalty balance
func (f *FixtureFactory) InsertCustomer(ctx context.Context, db *sqlx.DB, id string, points int64) error {
	f.sequence++
	_, err := db.ExecContext(ctx, `
		INSERT INTO customers (id, name, loyalty_points)
		VALUES ($1, $2, $3)
	`, id, fmt.Sprintf("Test Customer %d", f.sequence), points)
	return err
}

// InsertAccount inserts an account with the given balance
func (f *FixtureFactory) InsertAccount(ctx context.Context, db *sqlx.DB, id, balance string) error {
	f.sequence++
	_, err := db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, balance)
		VALUES ($1, $2, $3)
	`, id, fmt.Sprintf("Test Account %d", f.sequence), balance)
	return err
}

// InsertSupplier inserts a supplier with a zero balance
func (f *FixtureFactory) InsertSupplier(ctx context.Context, db *sqlx.DB, id string) error {
	f.sequence++
	_, err := db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name)
		VALUES ($1, $2)
	`, id, fmt.Sprintf("Test Supplier %d", f.sequence))
	return err
}
