package store

import (
	"context"
	"time"

	"github.com/aarondl/sqlboiler/v4/boil"
	"github.com/aarondl/sqlboiler/v4/queries"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cobaltpay/custody/internal/util/db"
)

var ErrWalletExists = errors.New("store: wallet already exists")

// IssueWallet allocates the next derivation index for the wallet's scheme,
// derives the address through the callback and inserts the wallet, all in
// one transaction. Index allocation and address persistence cannot drift
// apart: if anything fails the index stays unspent only in the sense that
// the whole transaction rolls back.
func (s *Store) IssueWallet(ctx context.Context, w *Wallet, derive func(index int64) (string, error)) error {
	return s.withTx(ctx, func(tx boil.ContextExecutor) error {
		var cursor struct {
			CurrentIndex int64 `boil:"current_index"`
		}
		err := queries.Raw(
			`INSERT INTO address_indexes (scheme, current_index) VALUES ($1, 0)
			 ON CONFLICT (scheme) DO UPDATE SET current_index = address_indexes.current_index + 1
			 RETURNING current_index`,
			w.Scheme,
		).Bind(ctx, tx, &cursor)
		if err != nil {
			return errors.Wrap(err, "failed to allocate address index")
		}

		address, err := derive(cursor.CurrentIndex)
		if err != nil {
			return errors.Wrap(err, "failed to derive address")
		}

		w.AddressIndex = cursor.CurrentIndex
		w.Address = address
		if w.ID == "" {
			w.ID = uuid.New().String()
		}
		now := time.Now()
		w.CreatedAt = now
		w.UpdatedAt = now

		_, err = tx.ExecContext(ctx,
			`INSERT INTO wallets (id, owner_id, chain_id, token_symbol, address, scheme, address_index, balance, locked_balance, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			w.ID, w.OwnerID, w.ChainID, w.TokenSymbol, w.Address, w.Scheme, w.AddressIndex,
			FormatAmount(nil), FormatAmount(nil), w.CreatedAt, w.UpdatedAt,
		)
		if db.IsUniqueViolation(err, "wallets_owner_chain_token_key") {
			return ErrWalletExists
		}

		return errors.Wrap(err, "failed to insert wallet")
	})
}

func (s *Store) GetWallet(ctx context.Context, id string) (*Wallet, error) {
	var w Wallet
	err := queries.Raw(`SELECT * FROM wallets WHERE id = $1`, id).Bind(ctx, s.db, &w)
	if err != nil {
		return nil, wrapNotFound(err, "failed to load wallet")
	}

	return &w, nil
}

func (s *Store) GetWalletByOwner(ctx context.Context, ownerID, chainID, tokenSymbol string) (*Wallet, error) {
	var w Wallet
	err := queries.Raw(
		`SELECT * FROM wallets WHERE owner_id = $1 AND chain_id = $2 AND token_symbol = $3`,
		ownerID, chainID, tokenSymbol,
	).Bind(ctx, s.db, &w)
	if err != nil {
		return nil, wrapNotFound(err, "failed to load wallet by owner")
	}

	return &w, nil
}

func (s *Store) GetWalletByAddress(ctx context.Context, chainID, address string) (*Wallet, error) {
	var w Wallet
	err := queries.Raw(
		`SELECT * FROM wallets WHERE chain_id = $1 AND address = $2`,
		chainID, address,
	).Bind(ctx, s.db, &w)
	if err != nil {
		return nil, wrapNotFound(err, "failed to load wallet by address")
	}

	return &w, nil
}

func (s *Store) ListWalletsByOwner(ctx context.Context, ownerID string) ([]*Wallet, error) {
	var ws []*Wallet
	err := queries.Raw(
		`SELECT * FROM wallets WHERE owner_id = $1 ORDER BY created_at`,
		ownerID,
	).Bind(ctx, s.db, &ws)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list wallets")
	}

	return ws, nil
}

// ListWalletsByChain returns every wallet watched on a chain, used by the
// deposit scanner to build its address set.
func (s *Store) ListWalletsByChain(ctx context.Context, chainID string) ([]*Wallet, error) {
	var ws []*Wallet
	err := queries.Raw(
		`SELECT * FROM wallets WHERE chain_id = $1 ORDER BY address_index`,
		chainID,
	).Bind(ctx, s.db, &ws)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list wallets by chain")
	}

	return ws, nil
}
