package database

import (
	"github.com/lib/pq"
	"github.com/pharmadesk/pharmadesk-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful
// messages. Mapping is by SQLSTATE code, never by message substring.
// Returns nil if the error is not a pq.Error or has no mapping.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict("a record with these values already exists")

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// mapCheckConstraint maps CHECK constraint names to user-friendly messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	switch pqErr.Constraint {
	case "batches_quantity_non_negative":
		// The quantity >= 0 invariant is enforced in the schema as well as in
		// the allocator; tripping it means a deduction exceeded on-hand stock.
		return errors.Validation(map[string]string{
			"quantity": "batch quantity must not go negative",
		})

	case "products_units_per_package_positive":
		return errors.Validation(map[string]string{
			"units_per_package": "must be at least 1",
		})

	case "customers_loyalty_points_non_negative":
		return errors.Validation(map[string]string{
			"loyalty_points": "must not go negative",
		})

	default:
		return errors.BadRequest("data validation failed: " + pqErr.Constraint)
	}
}
