package db

import (
	"context"
	"database/sql"

	"github.com/aarondl/sqlboiler/v4/boil"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// pqUniqueViolation is the Postgres error code for unique_violation.
const pqUniqueViolation = "23505"

// WithTransaction runs fn inside a database transaction, committing when fn
// returns nil and rolling back otherwise.
func WithTransaction(ctx context.Context, db *sql.DB, fn func(tx boil.ContextExecutor) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, optionally narrowed to one constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if string(pqErr.Code) != pqUniqueViolation {
		return false
	}

	return constraint == "" || pqErr.Constraint == constraint
}
