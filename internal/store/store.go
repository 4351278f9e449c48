// Package store is the persistence boundary. All money movement goes
// through here so balance math and row state always change in the same
// database transaction.
package store

import (
	"context"
	"database/sql"

	"github.com/aarondl/sqlboiler/v4/boil"
	"github.com/pkg/errors"

	"github.com/cobaltpay/custody/internal/util/db"
)

var ErrNotFound = errors.New("store: not found")

type Store struct {
	db *sql.DB
}

func New(database *sql.DB) *Store {
	return &Store{db: database}
}

// DB exposes the underlying handle for readiness probes and migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) withTx(ctx context.Context, fn func(tx boil.ContextExecutor) error) error {
	return db.WithTransaction(ctx, s.db, fn)
}

func wrapNotFound(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(ErrNotFound, msg)
	}

	return errors.Wrap(err, msg)
}
