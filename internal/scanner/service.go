// Package scanner runs the deposit pipeline: it walks each chain for
// inbound transfers to watched addresses, records them idempotently and
// credits them once they reach the chain's confirmation threshold.
package scanner

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cobaltpay/custody/internal/chain"
	"github.com/cobaltpay/custody/internal/config"
	"github.com/cobaltpay/custody/internal/limits"
	"github.com/cobaltpay/custody/internal/metrics"
	"github.com/cobaltpay/custody/internal/notify"
	"github.com/cobaltpay/custody/internal/store"
	"github.com/cobaltpay/custody/internal/util"
)

// Storage is the slice of the persistence layer the scanner needs.
type Storage interface {
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
	GetScanCursor(ctx context.Context, chainID string, defaultHeight int64) (int64, error)
	AdvanceScanCursor(ctx context.Context, chainID string, height int64) error
	ListWalletsByChain(ctx context.Context, chainID string) ([]*store.Wallet, error)
	InsertDeposit(ctx context.Context, d *store.Deposit) error
	ListPendingDeposits(ctx context.Context, chainID string) ([]*store.Deposit, error)
	UpdateDepositConfirmations(ctx context.Context, id string, confirmations int64) error
	CompleteDeposit(ctx context.Context, depositID string, confirmations int64) (*store.Deposit, *store.Wallet, error)
	SumCompletedDepositsSince(ctx context.Context, ownerID, tokenSymbol string, since time.Time) (*big.Int, error)
	FlagDeposit(ctx context.Context, flag *store.DepositFlag) error
}

type Service interface {
	Start(ctx context.Context)
	Stop()
	// RunCycle runs one scan cycle for a single chain, used by the
	// operational trigger endpoint. It still takes the chain lease, so a
	// manual run never races the timer.
	RunCycle(ctx context.Context, chainID string) error
}

type service struct {
	storage  Storage
	registry *chain.Registry
	limits   limits.Resolver
	notify   notify.Service
	metrics  *metrics.Metrics
	cfg      config.Scanner
	window   time.Duration
	chains   map[string]config.Chain
	holder   string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(
	storage Storage,
	registry *chain.Registry,
	tierResolver limits.Resolver,
	notifier notify.Service,
	m *metrics.Metrics,
	cfg config.Scanner,
	depositWindow time.Duration,
	chains []config.Chain,
) Service {
	byID := make(map[string]config.Chain, len(chains))
	for _, c := range chains {
		byID[c.ID] = c
	}
	if depositWindow <= 0 {
		depositWindow = 24 * time.Hour
	}

	return &service{
		storage:  storage,
		registry: registry,
		limits:   tierResolver,
		notify:   notifier,
		metrics:  m,
		cfg:      cfg,
		window:   depositWindow,
		chains:   byID,
		holder:   uuid.New().String(),
	}
}

func (s *service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runAll(ctx)
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

// runAll scans every registered chain concurrently. A chain's failure is
// isolated: it is logged, counted and retried next tick.
func (s *service) runAll(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for _, chainID := range s.registry.Chains() {
		g.Go(func() error {
			if err := s.RunCycle(ctx, chainID); err != nil {
				util.LogFromContext(ctx).Warn().Err(err).Str("chain_id", chainID).Msg("Scan cycle failed")
			}

			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck
}

func (s *service) RunCycle(ctx context.Context, chainID string) error {
	log := util.LogFromContext(ctx).With().Str("chain_id", chainID).Logger()

	adapter, err := s.registry.Get(chainID)
	if err != nil {
		return err
	}

	leaseName := "scan:" + chainID
	acquired, err := s.storage.AcquireLease(ctx, leaseName, s.holder, s.cfg.LeaseTTL)
	if err != nil {
		return err
	}
	if !acquired {
		log.Debug().Msg("Scan lease held elsewhere, skipping cycle")
		return nil
	}
	defer func() {
		if err := s.storage.ReleaseLease(context.WithoutCancel(ctx), leaseName, s.holder); err != nil {
			log.Warn().Err(err).Msg("Failed to release scan lease")
		}
	}()

	if err := s.detect(ctx, adapter); err != nil {
		s.metrics.ScanCycles.WithLabelValues(chainID, "error").Inc()
		return err
	}
	if err := s.confirm(ctx, adapter); err != nil {
		s.metrics.ScanCycles.WithLabelValues(chainID, "error").Inc()
		return err
	}

	s.metrics.ScanCycles.WithLabelValues(chainID, "ok").Inc()

	return nil
}

// detect walks the chain from slightly behind the cursor and records new
// transfers. The lookback overlap re-covers recent heights on purpose;
// the deposits tx_hash constraint absorbs the duplicates.
func (s *service) detect(ctx context.Context, adapter chain.Adapter) error {
	chainID := adapter.Chain()
	log := util.LogFromContext(ctx).With().Str("chain_id", chainID).Logger()

	cursor, err := s.storage.GetScanCursor(ctx, chainID, s.cfg.InitialHeight)
	if err != nil {
		return err
	}
	from := cursor - s.cfg.Lookback
	if from < s.cfg.InitialHeight {
		from = s.cfg.InitialHeight
	}

	wallets, err := s.storage.ListWalletsByChain(ctx, chainID)
	if err != nil {
		return err
	}
	if len(wallets) == 0 {
		return nil
	}

	var (
		mu sync.Mutex
		// Lowest height fully covered across all wallets this cycle. The
		// cursor may only advance to a height every wallet has seen.
		minCovered int64 = -1
		hadErrors  bool
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, w := range wallets {
		g.Go(func() error {
			logs, covered, err := adapter.TransferLogs(ctx, s.tokenFor(chainID, w.TokenSymbol), w.Address, from)
			if err != nil {
				s.metrics.RPCErrors.WithLabelValues(chainID).Inc()
				log.Warn().Err(err).Str("address", w.Address).Msg("Failed to fetch transfer logs")
				mu.Lock()
				hadErrors = true
				mu.Unlock()

				return nil
			}

			for _, transfer := range logs {
				s.recordDeposit(ctx, w, transfer)
			}

			mu.Lock()
			if minCovered == -1 || covered < minCovered {
				minCovered = covered
			}
			mu.Unlock()

			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck

	// A partial cycle never advances the cursor; the failed addresses get
	// their heights re-covered next tick.
	if hadErrors || minCovered <= cursor {
		return nil
	}

	if err := s.storage.AdvanceScanCursor(ctx, chainID, minCovered); err != nil {
		return err
	}
	s.metrics.ScanCursorHeight.WithLabelValues(chainID).Set(float64(minCovered))

	return nil
}

func (s *service) recordDeposit(ctx context.Context, w *store.Wallet, transfer chain.TransferLog) {
	log := util.LogFromContext(ctx)

	deposit := &store.Deposit{
		WalletID:              w.ID,
		TxHash:                transfer.TxHash,
		FromAddress:           transfer.From,
		Amount:                store.FormatAmount(transfer.Amount),
		BlockHeight:           transfer.Height,
		RequiredConfirmations: s.requiredConfirmations(w.ChainID),
	}
	err := s.storage.InsertDeposit(ctx, deposit)
	if errors.Is(err, store.ErrDuplicateDeposit) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("tx_hash", transfer.TxHash).Msg("Failed to record deposit")
		return
	}

	s.metrics.DepositsDetected.WithLabelValues(w.ChainID).Inc()
	log.Info().
		Str("chain_id", w.ChainID).
		Str("tx_hash", transfer.TxHash).
		Str("address", w.Address).
		Str("amount", deposit.Amount).
		Msg("Recorded deposit")
}

// confirm advances confirmation counts on pending deposits and credits
// the ones past their threshold.
func (s *service) confirm(ctx context.Context, adapter chain.Adapter) error {
	chainID := adapter.Chain()
	log := util.LogFromContext(ctx).With().Str("chain_id", chainID).Logger()

	pending, err := s.storage.ListPendingDeposits(ctx, chainID)
	if err != nil {
		return err
	}

	for _, deposit := range pending {
		status, err := adapter.TransactionStatus(ctx, deposit.TxHash)
		if err != nil {
			s.metrics.RPCErrors.WithLabelValues(chainID).Inc()
			log.Warn().Err(err).Str("tx_hash", deposit.TxHash).Msg("Failed to check deposit status")
			continue
		}

		switch status.State {
		case chain.TxFailed:
			// A transfer we already saw should not fail; most likely the
			// block got reorged away. Leave it pending for review.
			log.Warn().Str("tx_hash", deposit.TxHash).Msg("Recorded deposit no longer succeeds on chain")
		case chain.TxSuccess:
			if status.Confirmations >= deposit.RequiredConfirmations {
				s.credit(ctx, deposit, status.Confirmations)
			} else if status.Confirmations > deposit.Confirmations {
				// A lagging node on failover can report fewer
				// confirmations than already recorded; the stored count
				// only ever moves forward.
				if err := s.storage.UpdateDepositConfirmations(ctx, deposit.ID, status.Confirmations); err != nil {
					log.Warn().Err(err).Str("deposit_id", deposit.ID).Msg("Failed to update confirmations")
				}
			}
		case chain.TxPending:
		}
	}

	return nil
}

func (s *service) credit(ctx context.Context, deposit *store.Deposit, confirmations int64) {
	log := util.LogFromContext(ctx)

	credited, wallet, err := s.storage.CompleteDeposit(ctx, deposit.ID, confirmations)
	if errors.Is(err, store.ErrDepositNotPending) {
		return
	}
	if err != nil {
		log.Error().Err(err).Str("deposit_id", deposit.ID).Msg("Failed to credit deposit")
		return
	}

	s.metrics.DepositsCompleted.WithLabelValues(wallet.ChainID).Inc()
	log.Info().
		Str("chain_id", wallet.ChainID).
		Str("owner_id", wallet.OwnerID).
		Str("tx_hash", credited.TxHash).
		Str("amount", credited.Amount).
		Msg("Credited deposit")

	s.checkDepositWindow(ctx, credited, wallet)

	s.notify.Publish(ctx, notify.Event{
		Subject:     notify.SubjectDepositConfirmed,
		OwnerID:     wallet.OwnerID,
		ChainID:     wallet.ChainID,
		TokenSymbol: wallet.TokenSymbol,
		Amount:      credited.Amount,
		TxHash:      credited.TxHash,
		ReferenceID: credited.ID,
	})
}

// checkDepositWindow evaluates the owner's trailing-window deposit total
// against their tier cap. Exceeding the cap never blocks the credit; it
// records a review flag and notifies compliance.
func (s *service) checkDepositWindow(ctx context.Context, deposit *store.Deposit, wallet *store.Wallet) {
	log := util.LogFromContext(ctx)

	tier, err := s.limits.TierOf(ctx, wallet.OwnerID)
	if err != nil {
		log.Warn().Err(err).Str("owner_id", wallet.OwnerID).Msg("Failed to resolve tier")
		return
	}

	since := time.Now().Add(-s.window)
	total, err := s.storage.SumCompletedDepositsSince(ctx, wallet.OwnerID, wallet.TokenSymbol, since)
	if err != nil {
		log.Warn().Err(err).Str("owner_id", wallet.OwnerID).Msg("Failed to sum deposit window")
		return
	}

	if !limits.DepositWindowExceeded(tier, total) {
		return
	}

	flag := &store.DepositFlag{
		DepositID:   deposit.ID,
		OwnerID:     wallet.OwnerID,
		Reason:      "deposit window cap exceeded",
		WindowTotal: store.FormatAmount(total),
		TierCap:     store.FormatAmount(tier.DepositWindowCap),
	}
	if err := s.storage.FlagDeposit(ctx, flag); err != nil {
		log.Error().Err(err).Str("deposit_id", deposit.ID).Msg("Failed to flag deposit")
		return
	}

	s.metrics.DepositsFlagged.WithLabelValues(wallet.ChainID).Inc()
	log.Warn().
		Str("owner_id", wallet.OwnerID).
		Str("deposit_id", deposit.ID).
		Str("window_total", flag.WindowTotal).
		Str("tier", tier.Name).
		Msg("Deposit window cap exceeded, flagged for review")

	s.notify.Publish(ctx, notify.Event{
		Subject:     notify.SubjectDepositFlagged,
		OwnerID:     wallet.OwnerID,
		ChainID:     wallet.ChainID,
		TokenSymbol: wallet.TokenSymbol,
		Amount:      deposit.Amount,
		TxHash:      deposit.TxHash,
		ReferenceID: deposit.ID,
		Reason:      flag.Reason,
	})
}

func (s *service) tokenFor(chainID, symbol string) chain.Token {
	cfg, ok := s.chains[chainID]
	if !ok {
		return chain.Token{Symbol: symbol}
	}
	for _, token := range cfg.Tokens {
		if token.Symbol == symbol {
			return chain.Token{Symbol: token.Symbol, Contract: token.Contract, Decimals: token.Decimals}
		}
	}

	return chain.Token{Symbol: symbol}
}

func (s *service) requiredConfirmations(chainID string) int64 {
	if cfg, ok := s.chains[chainID]; ok && cfg.RequiredConfirmations > 0 {
		return cfg.RequiredConfirmations
	}

	return 1
}
