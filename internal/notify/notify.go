// Package notify delivers customer-facing events. Publishing is
// fire-and-forget: a delivery failure is logged and never blocks or fails
// the money movement that produced the event.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/cobaltpay/custody/internal/util"
)

const (
	SubjectDepositConfirmed    = "custody.deposit.confirmed"
	SubjectDepositFlagged      = "custody.deposit.flagged"
	SubjectWithdrawalCompleted = "custody.withdrawal.completed"
	SubjectWithdrawalFailed    = "custody.withdrawal.failed"
	SubjectPaymentPaid         = "custody.payment.paid"
)

// Event is the envelope published on every subject.
type Event struct {
	Subject     string    `json:"-"`
	OwnerID     string    `json:"owner_id,omitempty"`
	ChainID     string    `json:"chain_id"`
	TokenSymbol string    `json:"token_symbol,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	TxHash      string    `json:"tx_hash,omitempty"`
	ReferenceID string    `json:"reference_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Service interface {
	Publish(ctx context.Context, event Event)
	Close()
}

type natsService struct {
	nc *nats.Conn
}

// NewNATSService connects to the broker with unlimited reconnects so a
// broker restart never takes the service down with it.
func NewNATSService(url string) (Service, error) { //nolint:ireturn
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to NATS")
	}

	return &natsService{nc: nc}, nil
}

func (s *natsService) Publish(ctx context.Context, event Event) {
	l := util.LogFromContext(ctx).With().Str("subject", event.Subject).Str("tx_hash", event.TxHash).Logger()

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		l.Error().Err(err).Msg("Failed to marshal notification")
		return
	}

	if err := s.nc.Publish(event.Subject, payload); err != nil {
		l.Warn().Err(err).Msg("Failed to publish notification")
		return
	}

	l.Debug().Msg("Published notification")
}

func (s *natsService) Close() {
	s.nc.Close()
}

type noopService struct{}

// NewNoopService returns a notifier that drops every event, used when no
// broker is configured.
func NewNoopService() Service { //nolint:ireturn
	return noopService{}
}

func (noopService) Publish(_ context.Context, _ Event) {}
func (noopService) Close()                             {}
