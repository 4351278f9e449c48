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
)

var (
	ErrInsufficientFunds = errors.New("store: insufficient available balance")
	ErrInvalidTransition = errors.New("store: invalid withdrawal state transition")
)

// CreateWithdrawal reserves amount plus estimated fee on the owning wallet
// and inserts a pending withdrawal in one transaction. The reservation
// moves funds into locked_balance without reducing balance, so the wallet
// row's CHECK constraint is a second line of defence against
// over-reservation. The fee is fixed at creation; every later settlement
// path moves exactly the same reserved total.
func (s *Store) CreateWithdrawal(ctx context.Context, w *Withdrawal) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.Fee == "" {
		w.Fee = FormatAmount(nil)
	}
	now := time.Now()
	w.CreatedAt = now
	w.UpdatedAt = now
	w.Status = WithdrawalStatusPending

	return s.withTx(ctx, func(tx boil.ContextExecutor) error {
		var wallet Wallet
		err := queries.Raw(`SELECT * FROM wallets WHERE id = $1 FOR UPDATE`, w.WalletID).Bind(ctx, tx, &wallet)
		if err != nil {
			return wrapNotFound(err, "failed to load wallet")
		}

		available, err := wallet.Available()
		if err != nil {
			return err
		}
		reserved, err := w.ReservedBig()
		if err != nil {
			return err
		}
		if available.Cmp(reserved) < 0 {
			return ErrInsufficientFunds
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE wallets SET locked_balance = locked_balance + $2::numeric, updated_at = now() WHERE id = $1`,
			wallet.ID, FormatAmount(reserved),
		)
		if err != nil {
			return errors.Wrap(err, "failed to reserve funds")
		}

		w.ChainID = wallet.ChainID
		w.TokenSymbol = wallet.TokenSymbol
		_, err = tx.ExecContext(ctx,
			`INSERT INTO withdrawals (id, wallet_id, to_address, amount, fee, chain_id, token_symbol, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			w.ID, w.WalletID, w.ToAddress, w.Amount, w.Fee, w.ChainID, w.TokenSymbol,
			w.Status, w.CreatedAt, w.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, "failed to insert withdrawal")
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO ledger_transactions (id, kind, reference_id, wallet_id, owner_id, amount, token_symbol, chain_id, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())`,
			uuid.New().String(), LedgerKindWithdrawal, w.ID, wallet.ID, wallet.OwnerID,
			w.Amount, w.TokenSymbol, w.ChainID, LedgerStatusPending,
		)

		return errors.Wrap(err, "failed to write ledger entry")
	})
}

// ApproveWithdrawal moves a pending withdrawal to approved. The check
// callback runs inside the transaction with the withdrawal and the owner's
// lifetime approved-or-later withdrawal total for the same token, so limit
// policy sees a consistent snapshot; a check error rolls everything back
// and the withdrawal stays pending with its reservation intact.
func (s *Store) ApproveWithdrawal(ctx context.Context, id, approvedBy string, check func(w *Withdrawal, lifetimeTotal *big.Int) error) (*Withdrawal, error) {
	var w Withdrawal
	err := s.withTx(ctx, func(tx boil.ContextExecutor) error {
		err := queries.Raw(`SELECT * FROM withdrawals WHERE id = $1 FOR UPDATE`, id).Bind(ctx, tx, &w)
		if err != nil {
			return wrapNotFound(err, "failed to load withdrawal")
		}
		if w.Status != WithdrawalStatusPending {
			return errors.Wrapf(ErrInvalidTransition, "cannot approve withdrawal in status %s", w.Status)
		}

		var owner struct {
			OwnerID string `boil:"owner_id"`
		}
		err = queries.Raw(`SELECT owner_id FROM wallets WHERE id = $1`, w.WalletID).Bind(ctx, tx, &owner)
		if err != nil {
			return errors.Wrap(err, "failed to load wallet owner")
		}

		var row struct {
			Total string `boil:"total"`
		}
		err = queries.Raw(
			`SELECT COALESCE(SUM(wd.amount), 0)::text AS total FROM withdrawals wd
			 JOIN wallets w ON w.id = wd.wallet_id
			 WHERE w.owner_id = $1 AND wd.token_symbol = $2 AND wd.status IN ($3, $4, $5)`,
			owner.OwnerID, w.TokenSymbol,
			WithdrawalStatusApproved, WithdrawalStatusProcessing, WithdrawalStatusCompleted,
		).Bind(ctx, tx, &row)
		if err != nil {
			return errors.Wrap(err, "failed to sum lifetime withdrawals")
		}
		total, err := ParseAmount(row.Total)
		if err != nil {
			return err
		}

		if check != nil {
			if err := check(&w, total); err != nil {
				return err
			}
		}

		now := time.Now()
		_, err = tx.ExecContext(ctx,
			`UPDATE withdrawals SET status = $2, approved_by = $3, approved_at = $4, updated_at = now() WHERE id = $1`,
			id, WithdrawalStatusApproved, approvedBy, now,
		)
		if err != nil {
			return errors.Wrap(err, "failed to approve withdrawal")
		}

		w.Status = WithdrawalStatusApproved
		w.ApprovedBy = null.StringFrom(approvedBy)
		w.ApprovedAt = null.TimeFrom(now)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &w, nil
}

// RejectWithdrawal cancels a pending withdrawal and releases its
// reservation. Only pending withdrawals can be rejected.
func (s *Store) RejectWithdrawal(ctx context.Context, id, reason string) (*Withdrawal, error) {
	return s.releaseWithdrawal(ctx, id, reason, WithdrawalStatusCancelled, LedgerStatusCancelled, []string{WithdrawalStatusPending})
}

// FailWithdrawal marks a withdrawal terminally failed and releases its
// reservation. Reachable from any non-terminal state so broadcast
// rejections and confirmation failures converge on the same path.
func (s *Store) FailWithdrawal(ctx context.Context, id, reason string) (*Withdrawal, error) {
	return s.releaseWithdrawal(ctx, id, reason, WithdrawalStatusFailed, LedgerStatusFailed,
		[]string{WithdrawalStatusPending, WithdrawalStatusApproved, WithdrawalStatusProcessing})
}

func (s *Store) releaseWithdrawal(ctx context.Context, id, reason, status, ledgerStatus string, from []string) (*Withdrawal, error) {
	var w Withdrawal
	err := s.withTx(ctx, func(tx boil.ContextExecutor) error {
		err := queries.Raw(`SELECT * FROM withdrawals WHERE id = $1 FOR UPDATE`, id).Bind(ctx, tx, &w)
		if err != nil {
			return wrapNotFound(err, "failed to load withdrawal")
		}
		allowed := false
		for _, f := range from {
			if w.Status == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return errors.Wrapf(ErrInvalidTransition, "cannot release withdrawal in status %s", w.Status)
		}

		reserved, err := w.ReservedBig()
		if err != nil {
			return err
		}

		// Release happens exactly once because every source status here
		// still holds the reservation and every target status is terminal.
		_, err = tx.ExecContext(ctx,
			`UPDATE wallets SET locked_balance = locked_balance - $2::numeric, updated_at = now() WHERE id = $1`,
			w.WalletID, FormatAmount(reserved),
		)
		if err != nil {
			return errors.Wrap(err, "failed to release reservation")
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE withdrawals SET status = $2, failure_reason = $3, updated_at = now() WHERE id = $1`,
			id, status, reason,
		)
		if err != nil {
			return errors.Wrap(err, "failed to update withdrawal")
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE ledger_transactions SET status = $3, updated_at = now() WHERE kind = $1 AND reference_id = $2`,
			LedgerKindWithdrawal, id, ledgerStatus,
		)
		if err != nil {
			return errors.Wrap(err, "failed to update ledger entry")
		}

		w.Status = status
		w.FailureReason = null.StringFrom(reason)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &w, nil
}

// ClaimWithdrawalForProcessing flips approved to processing; a zero row
// count means another worker got there first.
func (s *Store) ClaimWithdrawalForProcessing(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE withdrawals SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
		id, WithdrawalStatusProcessing, WithdrawalStatusApproved,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to claim withdrawal")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}

	return n == 1, nil
}

// ReturnWithdrawalToApproved undoes a processing claim after a transient
// broadcast error so the next processor pass retries it. The reservation
// is untouched.
func (s *Store) ReturnWithdrawalToApproved(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE withdrawals SET status = $2, updated_at = now() WHERE id = $1 AND status = $3 AND tx_hash IS NULL`,
		id, WithdrawalStatusApproved, WithdrawalStatusProcessing,
	)

	return errors.Wrap(err, "failed to return withdrawal to approved")
}

// SetWithdrawalBroadcast records the broadcast tx hash. The fee stays as
// estimated at creation so the reservation total never shifts mid-flight.
func (s *Store) SetWithdrawalBroadcast(ctx context.Context, id, txHash string) error {
	return s.withTx(ctx, func(tx boil.ContextExecutor) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE withdrawals SET tx_hash = $2, updated_at = now() WHERE id = $1 AND status = $3`,
			id, txHash, WithdrawalStatusProcessing,
		)
		if err != nil {
			return errors.Wrap(err, "failed to record broadcast")
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE ledger_transactions SET tx_hash = $3, updated_at = now() WHERE kind = $1 AND reference_id = $2`,
			LedgerKindWithdrawal, id, txHash,
		)

		return errors.Wrap(err, "failed to record ledger tx hash")
	})
}

// CompleteWithdrawal consumes the reservation: balance and locked_balance
// both drop by the amount, the withdrawal and its ledger entry become
// completed. Guarded on processing status so the reservation settles at
// most once.
func (s *Store) CompleteWithdrawal(ctx context.Context, id string) (*Withdrawal, error) {
	var w Withdrawal
	err := s.withTx(ctx, func(tx boil.ContextExecutor) error {
		err := queries.Raw(`SELECT * FROM withdrawals WHERE id = $1 FOR UPDATE`, id).Bind(ctx, tx, &w)
		if err != nil {
			return wrapNotFound(err, "failed to load withdrawal")
		}
		if w.Status != WithdrawalStatusProcessing {
			return errors.Wrapf(ErrInvalidTransition, "cannot complete withdrawal in status %s", w.Status)
		}

		reserved, err := w.ReservedBig()
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE wallets SET balance = balance - $2::numeric, locked_balance = locked_balance - $2::numeric, updated_at = now() WHERE id = $1`,
			w.WalletID, FormatAmount(reserved),
		)
		if err != nil {
			return errors.Wrap(err, "failed to settle wallet balance")
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE withdrawals SET status = $2, updated_at = now() WHERE id = $1`,
			id, WithdrawalStatusCompleted,
		)
		if err != nil {
			return errors.Wrap(err, "failed to complete withdrawal")
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE ledger_transactions SET status = $3, updated_at = now() WHERE kind = $1 AND reference_id = $2`,
			LedgerKindWithdrawal, id, LedgerStatusCompleted,
		)
		if err != nil {
			return errors.Wrap(err, "failed to complete ledger entry")
		}

		w.Status = WithdrawalStatusCompleted

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &w, nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (*Withdrawal, error) {
	var w Withdrawal
	err := queries.Raw(`SELECT * FROM withdrawals WHERE id = $1`, id).Bind(ctx, s.db, &w)
	if err != nil {
		return nil, wrapNotFound(err, "failed to load withdrawal")
	}

	return &w, nil
}

func (s *Store) GetWithdrawalByTxHash(ctx context.Context, txHash string) (*Withdrawal, error) {
	var w Withdrawal
	err := queries.Raw(`SELECT * FROM withdrawals WHERE tx_hash = $1`, txHash).Bind(ctx, s.db, &w)
	if err != nil {
		return nil, wrapNotFound(err, "failed to load withdrawal by tx hash")
	}

	return &w, nil
}

func (s *Store) ListWithdrawalsByStatus(ctx context.Context, chainID, status string) ([]*Withdrawal, error) {
	var ws []*Withdrawal
	err := queries.Raw(
		`SELECT * FROM withdrawals WHERE chain_id = $1 AND status = $2 ORDER BY created_at`,
		chainID, status,
	).Bind(ctx, s.db, &ws)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list withdrawals")
	}

	return ws, nil
}

// ListBroadcastWithdrawals returns processing withdrawals that already
// have a tx hash, the set the confirmation poller tracks.
func (s *Store) ListBroadcastWithdrawals(ctx context.Context, chainID string) ([]*Withdrawal, error) {
	var ws []*Withdrawal
	err := queries.Raw(
		`SELECT * FROM withdrawals WHERE chain_id = $1 AND status = $2 AND tx_hash IS NOT NULL ORDER BY created_at`,
		chainID, WithdrawalStatusProcessing,
	).Bind(ctx, s.db, &ws)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list broadcast withdrawals")
	}

	return ws, nil
}
