// Package reconciler matches merchant payments against on-chain payment
// contract events. The primary path is a log subscription over websocket;
// a periodic sweep re-queries the contract for payments that stayed
// pending too long, so a dropped subscription can only delay settlement,
// never lose it.
package reconciler

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/cobaltpay/custody/internal/chain"
	"github.com/cobaltpay/custody/internal/config"
	"github.com/cobaltpay/custody/internal/metrics"
	"github.com/cobaltpay/custody/internal/notify"
	"github.com/cobaltpay/custody/internal/store"
	"github.com/cobaltpay/custody/internal/util"
)

// paymentReceivedSig is the event the payment contract emits on settlement:
// orderId and payer are indexed, token and amount live in the data part.
const paymentReceivedSig = "PaymentReceived(bytes32,address,address,uint256)"

// sweepLookback bounds how far behind the head the fallback sweep queries.
const sweepLookback = int64(50_000)

var paymentReceivedTopic = crypto.Keccak256Hash([]byte(paymentReceivedSig))

// Storage is the slice of the persistence layer the reconciler needs.
type Storage interface {
	GetPaymentByOrderID(ctx context.Context, orderID string) (*store.Payment, error)
	ListStalePendingPayments(ctx context.Context, chainID string, olderThan time.Duration) ([]*store.Payment, error)
	MarkPaymentPaid(ctx context.Context, orderID, txHash, payer, amount, tokenSymbol string) (bool, *store.Payment, error)
	ListPendingCommissions(ctx context.Context, chainID string) ([]*store.Commission, error)
	ConfirmCommission(ctx context.Context, orderID string) error
}

type Service interface {
	Start(ctx context.Context)
	Stop()
	// Sweep runs one fallback pass for a chain, used by the operational
	// trigger endpoint.
	Sweep(ctx context.Context, chainID string) error
}

type service struct {
	storage  Storage
	registry *chain.Registry
	notify   notify.Service
	metrics  *metrics.Metrics
	cfg      config.Reconciler
	chains   map[string]config.Chain

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(
	storage Storage,
	registry *chain.Registry,
	notifier notify.Service,
	m *metrics.Metrics,
	cfg config.Reconciler,
	chains []config.Chain,
) Service {
	byID := make(map[string]config.Chain, len(chains))
	for _, c := range chains {
		byID[c.ID] = c
	}

	return &service{
		storage:  storage,
		registry: registry,
		notify:   notifier,
		metrics:  m,
		cfg:      cfg,
		chains:   byID,
	}
}

func (s *service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, chainCfg := range s.chains {
		if chainCfg.Family != string(chain.FamilyEVM) || chainCfg.PaymentContract == "" {
			continue
		}
		if chainCfg.WSURL != "" {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.subscribeLoop(ctx, chainCfg)
			}()
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for chainID, chainCfg := range s.chains {
					if chainCfg.Family != string(chain.FamilyEVM) || chainCfg.PaymentContract == "" {
						continue
					}
					if err := s.Sweep(ctx, chainID); err != nil {
						util.LogFromContext(ctx).Warn().Err(err).Str("chain_id", chainID).Msg("Payment sweep failed")
					}
				}
			}
		}
	}()
}

func (s *service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// subscribeLoop keeps a log subscription alive with bounded reconnect
// attempts at a fixed backoff. When the budget is exhausted the loop
// exits and the sweep carries the chain alone.
func (s *service) subscribeLoop(ctx context.Context, chainCfg config.Chain) {
	log := util.LogFromContext(ctx).With().Str("chain_id", chainCfg.ID).Logger()

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if attempts > 0 {
			if attempts > s.cfg.MaxReconnects {
				log.Error().Int("attempts", attempts-1).Msg("Subscription retries exhausted, falling back to sweep only")
				return
			}
			s.metrics.SubscriberReconnects.WithLabelValues(chainCfg.ID).Inc()
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.ReconnectBackoff):
			}
		}
		attempts++

		err := s.subscribe(ctx, chainCfg)
		if err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Int("attempt", attempts).Msg("Payment subscription dropped")
		}
	}
}

func (s *service) subscribe(ctx context.Context, chainCfg config.Chain) error {
	client, err := ethclient.DialContext(ctx, chainCfg.WSURL)
	if err != nil {
		return errors.Wrap(err, "failed to dial websocket endpoint")
	}
	defer client.Close()

	query := ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(chainCfg.PaymentContract)},
		Topics:    [][]common.Hash{{paymentReceivedTopic}},
	}
	logs := make(chan types.Log, 64)
	sub, err := client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return errors.Wrap(err, "failed to subscribe to payment logs")
	}
	defer sub.Unsubscribe()

	util.LogFromContext(ctx).Info().Str("chain_id", chainCfg.ID).Msg("Subscribed to payment events")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return errors.Wrap(err, "subscription error")
		case eventLog := <-logs:
			s.handleLog(ctx, chainCfg, eventLog, "subscription")
		}
	}
}

// Sweep re-queries the contract for payments pending longer than the
// configured age. MarkPaymentPaid is idempotent, so overlap with the
// subscription path is harmless.
func (s *service) Sweep(ctx context.Context, chainID string) error {
	log := util.LogFromContext(ctx).With().Str("chain_id", chainID).Logger()

	chainCfg, ok := s.chains[chainID]
	if !ok || chainCfg.PaymentContract == "" {
		return errors.Errorf("no payment contract configured for chain %s", chainID)
	}

	stale, err := s.storage.ListStalePendingPayments(ctx, chainID, s.cfg.PendingAge)
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		if err := s.sweepStale(ctx, chainCfg, stale); err != nil {
			return err
		}
	}

	s.confirmCommissions(ctx, chainID)

	log.Debug().Int("stale", len(stale)).Msg("Payment sweep finished")

	return nil
}

func (s *service) sweepStale(ctx context.Context, chainCfg config.Chain, stale []*store.Payment) error {
	if len(chainCfg.RPCURLs) == 0 {
		return errors.Errorf("no RPC endpoint configured for chain %s", chainCfg.ID)
	}
	client, err := ethclient.DialContext(ctx, chainCfg.RPCURLs[0])
	if err != nil {
		return errors.Wrap(err, "failed to dial RPC endpoint")
	}
	defer client.Close()

	head, err := client.BlockNumber(ctx)
	if err != nil {
		s.metrics.RPCErrors.WithLabelValues(chainCfg.ID).Inc()
		return chain.Unavailable(err, "failed to fetch head")
	}
	from := int64(head) - sweepLookback
	if from < 0 {
		from = 0
	}

	orderTopics := make([]common.Hash, 0, len(stale))
	for _, payment := range stale {
		orderTopics = append(orderTopics, common.HexToHash(payment.OrderID))
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetInt64(from),
		Addresses: []common.Address{common.HexToAddress(chainCfg.PaymentContract)},
		Topics:    [][]common.Hash{{paymentReceivedTopic}, orderTopics},
	}
	eventLogs, err := client.FilterLogs(ctx, query)
	if err != nil {
		s.metrics.RPCErrors.WithLabelValues(chainCfg.ID).Inc()
		return chain.Unavailable(err, "failed to filter payment logs")
	}

	for _, eventLog := range eventLogs {
		s.handleLog(ctx, chainCfg, eventLog, "sweep")
	}

	return nil
}

// handleLog settles one payment event. Replays of the same order are
// no-ops in the store, so both detection paths can process the same log.
func (s *service) handleLog(ctx context.Context, chainCfg config.Chain, eventLog types.Log, source string) {
	log := util.LogFromContext(ctx).With().Str("chain_id", chainCfg.ID).Logger()

	if eventLog.Removed || len(eventLog.Topics) < 3 || len(eventLog.Data) < 64 {
		return
	}

	orderID := eventLog.Topics[1].Hex()
	payer := common.BytesToAddress(eventLog.Topics[2].Bytes()).Hex()
	tokenContract := common.BytesToAddress(eventLog.Data[:32]).Hex()
	amount := new(big.Int).SetBytes(eventLog.Data[32:64])

	applied, payment, err := s.storage.MarkPaymentPaid(ctx, orderID, eventLog.TxHash.Hex(), payer,
		amount.String(), s.symbolFor(chainCfg, tokenContract))
	if errors.Is(err, store.ErrNotFound) {
		// Contract event for an order this platform never issued.
		log.Debug().Str("order_id", orderID).Msg("Ignoring payment event for unknown order")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("Failed to settle payment")
		return
	}
	if !applied {
		return
	}

	s.metrics.PaymentsPaid.WithLabelValues(chainCfg.ID, source).Inc()
	log.Info().
		Str("order_id", orderID).
		Str("tx_hash", eventLog.TxHash.Hex()).
		Str("amount", amount.String()).
		Str("source", source).
		Msg("Payment settled")

	s.notify.Publish(ctx, notify.Event{
		Subject:     notify.SubjectPaymentPaid,
		ChainID:     chainCfg.ID,
		TokenSymbol: payment.TokenSymbol.String,
		Amount:      amount.String(),
		TxHash:      eventLog.TxHash.Hex(),
		ReferenceID: payment.ID,
	})
}

// confirmCommissions flips pending commissions whose settling transaction
// reached the chain's confirmation threshold.
func (s *service) confirmCommissions(ctx context.Context, chainID string) {
	log := util.LogFromContext(ctx).With().Str("chain_id", chainID).Logger()

	adapter, err := s.registry.Get(chainID)
	if err != nil {
		return
	}
	required := int64(1)
	if cfg, ok := s.chains[chainID]; ok && cfg.RequiredConfirmations > 0 {
		required = cfg.RequiredConfirmations
	}

	pending, err := s.storage.ListPendingCommissions(ctx, chainID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list pending commissions")
		return
	}

	for _, commission := range pending {
		payment, err := s.storage.GetPaymentByOrderID(ctx, commission.OrderID)
		if err != nil || !payment.TxHash.Valid {
			continue
		}
		status, err := adapter.TransactionStatus(ctx, payment.TxHash.String)
		if err != nil {
			s.metrics.RPCErrors.WithLabelValues(chainID).Inc()
			continue
		}
		if status.State != chain.TxSuccess || status.Confirmations < required {
			continue
		}
		if err := s.storage.ConfirmCommission(ctx, commission.OrderID); err != nil {
			log.Warn().Err(err).Str("order_id", commission.OrderID).Msg("Failed to confirm commission")
			continue
		}
		log.Info().Str("order_id", commission.OrderID).Msg("Confirmed commission")
	}
}

func (s *service) symbolFor(chainCfg config.Chain, contract string) string {
	for _, token := range chainCfg.Tokens {
		if strings.EqualFold(token.Contract, contract) {
			return token.Symbol
		}
	}

	return ""
}
