package store

import (
	"context"

	"github.com/aarondl/sqlboiler/v4/queries"
	"github.com/pkg/errors"
)

func (s *Store) GetLedgerByTxHash(ctx context.Context, txHash string) (*LedgerTransaction, error) {
	var lt LedgerTransaction
	err := queries.Raw(`SELECT * FROM ledger_transactions WHERE tx_hash = $1`, txHash).Bind(ctx, s.db, &lt)
	if err != nil {
		return nil, wrapNotFound(err, "failed to load ledger entry")
	}

	return &lt, nil
}

func (s *Store) ListLedgerByOwner(ctx context.Context, ownerID string, limit int) ([]*LedgerTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var lts []*LedgerTransaction
	err := queries.Raw(
		`SELECT * FROM ledger_transactions WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`,
		ownerID, limit,
	).Bind(ctx, s.db, &lts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list ledger entries")
	}

	return lts, nil
}
