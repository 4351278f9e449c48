package store

import (
	"context"
	"math/big"
	"time"

	"github.com/aarondl/null/v8"
	"github.com/aarondl/sqlboiler/v4/boil"
	"github.com/aarondl/sqlboiler/v4/queries"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cobaltpay/custody/internal/util/db"
)

var (
	// ErrDuplicateDeposit signals the tx hash was already recorded. Callers
	// treat it as a successful no-op so rescans of the same height range
	// never double-credit.
	ErrDuplicateDeposit = errors.New("store: duplicate deposit")

	ErrDepositNotPending = errors.New("store: deposit is not pending")
)

// InsertDeposit records a newly observed transfer. The tx_hash unique
// constraint is the idempotency guard for overlapping scan windows.
func (s *Store) InsertDeposit(ctx context.Context, d *Deposit) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now
	d.Status = DepositStatusPending

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deposits (id, wallet_id, tx_hash, from_address, amount, block_height, confirmations, required_confirmations, status, flagged, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, $10, $11)`,
		d.ID, d.WalletID, d.TxHash, d.FromAddress, d.Amount, d.BlockHeight,
		d.Confirmations, d.RequiredConfirmations, d.Status, d.CreatedAt, d.UpdatedAt,
	)
	if db.IsUniqueViolation(err, "deposits_tx_hash_key") {
		return ErrDuplicateDeposit
	}

	return errors.Wrap(err, "failed to insert deposit")
}

func (s *Store) GetDepositByTxHash(ctx context.Context, txHash string) (*Deposit, error) {
	var d Deposit
	err := queries.Raw(`SELECT * FROM deposits WHERE tx_hash = $1`, txHash).Bind(ctx, s.db, &d)
	if err != nil {
		return nil, wrapNotFound(err, "failed to load deposit")
	}

	return &d, nil
}

// ListPendingDeposits returns pending deposits for wallets on the given
// chain, oldest first.
func (s *Store) ListPendingDeposits(ctx context.Context, chainID string) ([]*Deposit, error) {
	var ds []*Deposit
	err := queries.Raw(
		`SELECT d.* FROM deposits d
		 JOIN wallets w ON w.id = d.wallet_id
		 WHERE w.chain_id = $1 AND d.status = $2
		 ORDER BY d.created_at`,
		chainID, DepositStatusPending,
	).Bind(ctx, s.db, &ds)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending deposits")
	}

	return ds, nil
}

func (s *Store) UpdateDepositConfirmations(ctx context.Context, id string, confirmations int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deposits SET confirmations = GREATEST(confirmations, $2), updated_at = now()
		 WHERE id = $1 AND status = $3`,
		id, confirmations, DepositStatusPending,
	)

	return errors.Wrap(err, "failed to update deposit confirmations")
}

// CompleteDeposit flips a pending deposit to completed, credits the
// owning wallet and writes the ledger entry, all in one transaction. A
// deposit that is no longer pending returns ErrDepositNotPending and
// nothing changes, so concurrent confirmation passes credit at most once.
func (s *Store) CompleteDeposit(ctx context.Context, depositID string, confirmations int64) (*Deposit, *Wallet, error) {
	var (
		deposit Deposit
		wallet  Wallet
	)
	err := s.withTx(ctx, func(tx boil.ContextExecutor) error {
		err := queries.Raw(
			`SELECT * FROM deposits WHERE id = $1 FOR UPDATE`, depositID,
		).Bind(ctx, tx, &deposit)
		if err != nil {
			return wrapNotFound(err, "failed to load deposit")
		}
		if deposit.Status != DepositStatusPending {
			return ErrDepositNotPending
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE deposits SET status = $2, confirmations = $3, updated_at = now() WHERE id = $1`,
			depositID, DepositStatusCompleted, confirmations,
		)
		if err != nil {
			return errors.Wrap(err, "failed to complete deposit")
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE wallets SET balance = balance + $2::numeric, updated_at = now() WHERE id = $1`,
			deposit.WalletID, deposit.Amount,
		)
		if err != nil {
			return errors.Wrap(err, "failed to credit wallet")
		}

		err = queries.Raw(
			`SELECT * FROM wallets WHERE id = $1`, deposit.WalletID,
		).Bind(ctx, tx, &wallet)
		if err != nil {
			return errors.Wrap(err, "failed to reload wallet")
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO ledger_transactions (id, kind, reference_id, wallet_id, owner_id, amount, token_symbol, chain_id, tx_hash, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
			 ON CONFLICT ON CONSTRAINT ledger_transactions_kind_reference_key DO NOTHING`,
			uuid.New().String(), LedgerKindDeposit, deposit.ID, wallet.ID, wallet.OwnerID,
			deposit.Amount, wallet.TokenSymbol, wallet.ChainID, null.StringFrom(deposit.TxHash), LedgerStatusCompleted,
		)

		return errors.Wrap(err, "failed to write ledger entry")
	})
	if err != nil {
		return nil, nil, err
	}

	deposit.Status = DepositStatusCompleted
	deposit.Confirmations = confirmations

	return &deposit, &wallet, nil
}

// SumCompletedDepositsSince totals completed deposit amounts for an owner
// and token over a trailing window, across all chains.
func (s *Store) SumCompletedDepositsSince(ctx context.Context, ownerID, tokenSymbol string, since time.Time) (*big.Int, error) {
	var row struct {
		Total string `boil:"total"`
	}
	err := queries.Raw(
		`SELECT COALESCE(SUM(d.amount), 0)::text AS total FROM deposits d
		 JOIN wallets w ON w.id = d.wallet_id
		 WHERE w.owner_id = $1 AND w.token_symbol = $2 AND d.status = $3 AND d.updated_at >= $4`,
		ownerID, tokenSymbol, DepositStatusCompleted, since,
	).Bind(ctx, s.db, &row)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sum deposits")
	}

	return ParseAmount(row.Total)
}

// FlagDeposit records a review flag and marks the deposit. Flagging never
// blocks crediting, it only leaves a trail for compliance review.
func (s *Store) FlagDeposit(ctx context.Context, flag *DepositFlag) error {
	if flag.ID == "" {
		flag.ID = uuid.New().String()
	}
	flag.CreatedAt = time.Now()

	return s.withTx(ctx, func(tx boil.ContextExecutor) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO deposit_flags (id, deposit_id, owner_id, reason, window_total, tier_cap, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			flag.ID, flag.DepositID, flag.OwnerID, flag.Reason, flag.WindowTotal, flag.TierCap, flag.CreatedAt,
		)
		if err != nil {
			return errors.Wrap(err, "failed to insert deposit flag")
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE deposits SET flagged = true, updated_at = now() WHERE id = $1`,
			flag.DepositID,
		)

		return errors.Wrap(err, "failed to mark deposit flagged")
	})
}
