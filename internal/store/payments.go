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

var ErrDuplicateOrder = errors.New("store: duplicate order")

func (s *Store) CreatePayment(ctx context.Context, p *Payment) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Status = PaymentStatusPending

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments (id, order_id, chain_id, api_key_id, commission_bps, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.OrderID, p.ChainID, p.APIKeyID, p.CommissionBPS, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if db.IsUniqueViolation(err, "payments_order_id_key") {
		return ErrDuplicateOrder
	}

	return errors.Wrap(err, "failed to insert payment")
}

func (s *Store) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var p Payment
	err := queries.Raw(`SELECT * FROM payments WHERE id = $1`, id).Bind(ctx, s.db, &p)
	if err != nil {
		return nil, wrapNotFound(err, "failed to load payment")
	}

	return &p, nil
}

func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	var p Payment
	err := queries.Raw(`SELECT * FROM payments WHERE order_id = $1`, orderID).Bind(ctx, s.db, &p)
	if err != nil {
		return nil, wrapNotFound(err, "failed to load payment by order")
	}

	return &p, nil
}

// ListStalePendingPayments returns pending payments older than the given
// age, the set the fallback sweep re-queries on chain.
func (s *Store) ListStalePendingPayments(ctx context.Context, chainID string, olderThan time.Duration) ([]*Payment, error) {
	var ps []*Payment
	err := queries.Raw(
		`SELECT * FROM payments WHERE chain_id = $1 AND status = $2 AND created_at <= $3 ORDER BY created_at`,
		chainID, PaymentStatusPending, time.Now().Add(-olderThan),
	).Bind(ctx, s.db, &ps)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stale payments")
	}

	return ps, nil
}

// MarkPaymentPaid records the observed on-chain settlement and creates the
// pending commission for the referring API key in one transaction. A
// payment that is already paid returns false and nothing changes, which
// makes replayed events and sweep/subscription overlap harmless.
func (s *Store) MarkPaymentPaid(ctx context.Context, orderID, txHash, payer, amount, tokenSymbol string) (bool, *Payment, error) {
	var (
		p       Payment
		applied bool
	)
	err := s.withTx(ctx, func(tx boil.ContextExecutor) error {
		err := queries.Raw(`SELECT * FROM payments WHERE order_id = $1 FOR UPDATE`, orderID).Bind(ctx, tx, &p)
		if err != nil {
			return wrapNotFound(err, "failed to load payment")
		}
		if p.Status != PaymentStatusPending {
			return nil
		}

		now := time.Now()
		_, err = tx.ExecContext(ctx,
			`UPDATE payments SET status = $2, tx_hash = $3, payer_address = $4, amount = $5::numeric, token_symbol = $6, paid_at = $7, updated_at = now() WHERE id = $1`,
			p.ID, PaymentStatusPaid, txHash, payer, amount, tokenSymbol, now,
		)
		if err != nil {
			return errors.Wrap(err, "failed to mark payment paid")
		}

		p.Status = PaymentStatusPaid
		p.TxHash = null.StringFrom(txHash)
		p.PayerAddress = null.StringFrom(payer)
		p.Amount = null.StringFrom(amount)
		p.TokenSymbol = null.StringFrom(tokenSymbol)
		p.PaidAt = null.TimeFrom(now)

		if p.APIKeyID.Valid && p.CommissionBPS > 0 {
			commission, err := commissionAmount(amount, p.CommissionBPS)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO commissions (id, api_key_id, order_id, amount, token_symbol, chain_id, status, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
				 ON CONFLICT ON CONSTRAINT commissions_order_id_key DO NOTHING`,
				uuid.New().String(), p.APIKeyID.String, p.OrderID, commission, tokenSymbol, p.ChainID, CommissionStatusPending,
			)
			if err != nil {
				return errors.Wrap(err, "failed to insert commission")
			}
		}

		applied = true

		return nil
	})
	if err != nil {
		return false, nil, err
	}

	return applied, &p, nil
}

// ConfirmCommission flips a pending commission to confirmed once the
// settling transaction reached its confirmation threshold.
func (s *Store) ConfirmCommission(ctx context.Context, orderID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE commissions SET status = $2, updated_at = now() WHERE order_id = $1 AND status = $3`,
		orderID, CommissionStatusConfirmed, CommissionStatusPending,
	)

	return errors.Wrap(err, "failed to confirm commission")
}

func (s *Store) GetCommissionByOrderID(ctx context.Context, orderID string) (*Commission, error) {
	var c Commission
	err := queries.Raw(`SELECT * FROM commissions WHERE order_id = $1`, orderID).Bind(ctx, s.db, &c)
	if err != nil {
		return nil, wrapNotFound(err, "failed to load commission")
	}

	return &c, nil
}

func commissionAmount(amount string, bps int) (string, error) {
	v, err := ParseAmount(amount)
	if err != nil {
		return "", err
	}
	v.Mul(v, big.NewInt(int64(bps)))
	v.Div(v, big.NewInt(10000))

	return v.String(), nil
}

// ListPendingCommissions returns commissions awaiting confirmation on a
// chain.
func (s *Store) ListPendingCommissions(ctx context.Context, chainID string) ([]*Commission, error) {
	var cs []*Commission
	err := queries.Raw(
		`SELECT * FROM commissions WHERE chain_id = $1 AND status = $2 ORDER BY created_at`,
		chainID, CommissionStatusPending,
	).Bind(ctx, s.db, &cs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending commissions")
	}

	return cs, nil
}
