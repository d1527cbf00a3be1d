package database

import (
	"context"

	"github.com/pharmadesk/pharmadesk-backend/pkg/errors"
)

// ExecVersioned is the optimistic concurrency guard. It executes a
// conditional update whose WHERE clause must include both the row identifier
// and the caller's expected version, with the SET clause advancing the
// version by exactly 1. When no row matches (another writer already advanced
// the version) it returns ErrVersionConflict.
//
// The guard is stateless and entity-agnostic: batches, products, customers,
// accounts and suppliers all carry a version column with the same semantics
// and route every mutation through here. Callers must not retry on conflict;
// the whole unit of work aborts and the user is asked to refresh.
func ExecVersioned(ctx context.Context, q Queryer, resource, query string, args ...interface{}) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		if appErr := MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.VersionConflict(resource)
	}

	return nil
}
