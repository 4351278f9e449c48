// Package withdraw drives withdrawals from creation through admin
// approval, hot-wallet signing and broadcast, to terminal confirmation.
// Funds are reserved once at creation and settled exactly once on every
// terminal path.
package withdraw

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/cobaltpay/custody/internal/chain"
	"github.com/cobaltpay/custody/internal/config"
	"github.com/cobaltpay/custody/internal/keys"
	"github.com/cobaltpay/custody/internal/limits"
	"github.com/cobaltpay/custody/internal/metrics"
	"github.com/cobaltpay/custody/internal/notify"
	"github.com/cobaltpay/custody/internal/store"
	"github.com/cobaltpay/custody/internal/util"
)

var (
	ErrInvalidAddress = errors.New("withdraw: invalid destination address")
	ErrInvalidAmount  = errors.New("withdraw: amount must be positive")
)

// Storage is the slice of the persistence layer the withdrawal pipeline
// needs.
type Storage interface {
	GetWallet(ctx context.Context, id string) (*store.Wallet, error)
	CreateWithdrawal(ctx context.Context, w *store.Withdrawal) error
	GetWithdrawal(ctx context.Context, id string) (*store.Withdrawal, error)
	ApproveWithdrawal(ctx context.Context, id, approvedBy string, check func(w *store.Withdrawal, lifetimeTotal *big.Int) error) (*store.Withdrawal, error)
	RejectWithdrawal(ctx context.Context, id, reason string) (*store.Withdrawal, error)
	FailWithdrawal(ctx context.Context, id, reason string) (*store.Withdrawal, error)
	ClaimWithdrawalForProcessing(ctx context.Context, id string) (bool, error)
	ReturnWithdrawalToApproved(ctx context.Context, id string) error
	SetWithdrawalBroadcast(ctx context.Context, id, txHash string) error
	CompleteWithdrawal(ctx context.Context, id string) (*store.Withdrawal, error)
	ListWithdrawalsByStatus(ctx context.Context, chainID, status string) ([]*store.Withdrawal, error)
	ListBroadcastWithdrawals(ctx context.Context, chainID string) ([]*store.Withdrawal, error)
}

type CreateRequest struct {
	WalletID  string
	ToAddress string
	Amount    string
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*store.Withdrawal, error)
	Approve(ctx context.Context, id, approvedBy string) (*store.Withdrawal, error)
	Reject(ctx context.Context, id, reason string) (*store.Withdrawal, error)
	Get(ctx context.Context, id string) (*store.Withdrawal, error)

	Start(ctx context.Context)
	Stop()
	// RunCycle processes approved withdrawals and polls broadcast ones for
	// one chain, used by the operational trigger endpoint.
	RunCycle(ctx context.Context, chainID string) error
}

type service struct {
	storage  Storage
	registry *chain.Registry
	keys     keys.Service
	limits   limits.Resolver
	notify   notify.Service
	metrics  *metrics.Metrics
	interval time.Duration
	chains   map[string]config.Chain

	// One mutex per chain serializes signing and broadcast against that
	// chain's hot wallet. Two concurrent signs on one account would race
	// for the same nonce and one broadcast would be rejected.
	signMuMu sync.Mutex
	signMu   map[string]*sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(
	storage Storage,
	registry *chain.Registry,
	keyService keys.Service,
	tierResolver limits.Resolver,
	notifier notify.Service,
	m *metrics.Metrics,
	cfg config.Withdrawals,
	chains []config.Chain,
) Service {
	byID := make(map[string]config.Chain, len(chains))
	signMu := make(map[string]*sync.Mutex, len(chains))
	for _, c := range chains {
		byID[c.ID] = c
		signMu[c.ID] = &sync.Mutex{}
	}

	return &service{
		storage:  storage,
		registry: registry,
		keys:     keyService,
		limits:   tierResolver,
		notify:   notifier,
		metrics:  m,
		interval: cfg.Interval,
		chains:   byID,
		signMu:   signMu,
	}
}

func (s *service) Create(ctx context.Context, req CreateRequest) (*store.Withdrawal, error) {
	log := util.LogFromContext(ctx)

	wallet, err := s.storage.GetWallet(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.Get(wallet.ChainID)
	if err != nil {
		return nil, err
	}

	if !s.keys.ValidAddress(adapter.Family(), req.ToAddress) {
		return nil, errors.Wrapf(ErrInvalidAddress, "%q on %s", req.ToAddress, wallet.ChainID)
	}
	amount, err := store.ParseAmount(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	fee, err := adapter.EstimateFee(ctx, s.tokenFor(wallet.ChainID, wallet.TokenSymbol))
	if err != nil {
		return nil, err
	}

	withdrawal := &store.Withdrawal{
		WalletID:  wallet.ID,
		ToAddress: req.ToAddress,
		Amount:    store.FormatAmount(amount),
		Fee:       store.FormatAmount(fee),
	}
	if err := s.storage.CreateWithdrawal(ctx, withdrawal); err != nil {
		return nil, err
	}

	log.Info().
		Str("withdrawal_id", withdrawal.ID).
		Str("owner_id", wallet.OwnerID).
		Str("chain_id", wallet.ChainID).
		Str("amount", withdrawal.Amount).
		Str("fee", withdrawal.Fee).
		Msg("Created withdrawal")

	return withdrawal, nil
}

// Approve enforces the lifetime withdrawal cap for the owner's tier
// before the transition. A failed check leaves the withdrawal pending
// with its reservation intact.
func (s *service) Approve(ctx context.Context, id, approvedBy string) (*store.Withdrawal, error) {
	withdrawal, err := s.storage.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	wallet, err := s.storage.GetWallet(ctx, withdrawal.WalletID)
	if err != nil {
		return nil, err
	}
	tier, err := s.limits.TierOf(ctx, wallet.OwnerID)
	if err != nil {
		return nil, err
	}

	return s.storage.ApproveWithdrawal(ctx, id, approvedBy, func(w *store.Withdrawal, lifetimeTotal *big.Int) error {
		amount, err := w.AmountBig()
		if err != nil {
			return err
		}

		return limits.CheckWithdrawal(tier, lifetimeTotal, amount)
	})
}

func (s *service) Reject(ctx context.Context, id, reason string) (*store.Withdrawal, error) {
	return s.storage.RejectWithdrawal(ctx, id, reason)
}

func (s *service) Get(ctx context.Context, id string) (*store.Withdrawal, error) {
	return s.storage.GetWithdrawal(ctx, id)
}

func (s *service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, chainID := range s.registry.Chains() {
					if err := s.RunCycle(ctx, chainID); err != nil {
						util.LogFromContext(ctx).Warn().Err(err).Str("chain_id", chainID).Msg("Withdrawal cycle failed")
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

func (s *service) RunCycle(ctx context.Context, chainID string) error {
	adapter, err := s.registry.Get(chainID)
	if err != nil {
		return err
	}

	if err := s.processApproved(ctx, adapter); err != nil {
		return err
	}

	return s.pollBroadcast(ctx, adapter)
}

func (s *service) processApproved(ctx context.Context, adapter chain.Adapter) error {
	chainID := adapter.Chain()
	log := util.LogFromContext(ctx).With().Str("chain_id", chainID).Logger()

	approved, err := s.storage.ListWithdrawalsByStatus(ctx, chainID, store.WithdrawalStatusApproved)
	if err != nil {
		return err
	}

	for _, withdrawal := range approved {
		claimed, err := s.storage.ClaimWithdrawalForProcessing(ctx, withdrawal.ID)
		if err != nil {
			log.Warn().Err(err).Str("withdrawal_id", withdrawal.ID).Msg("Failed to claim withdrawal")
			continue
		}
		if !claimed {
			continue
		}

		s.broadcast(ctx, adapter, withdrawal)
	}

	return nil
}

// broadcast checks hot-wallet funding, signs and sends one withdrawal.
// Transient chain faults put the withdrawal back to approved for the next
// cycle; terminal faults fail it and release the reservation.
func (s *service) broadcast(ctx context.Context, adapter chain.Adapter, withdrawal *store.Withdrawal) {
	chainID := adapter.Chain()
	log := util.LogFromContext(ctx).With().Str("chain_id", chainID).Str("withdrawal_id", withdrawal.ID).Logger()

	mu := s.signMutex(chainID)
	mu.Lock()
	defer mu.Unlock()

	hotIndex := uint32(s.chains[chainID].HotWalletIndex)
	hotAddress, err := s.keys.Address(adapter.Family(), hotIndex)
	if err != nil {
		log.Error().Err(err).Msg("Failed to derive hot wallet address")
		s.returnToApproved(ctx, withdrawal.ID)
		return
	}

	token := s.tokenFor(chainID, withdrawal.TokenSymbol)
	amount, err := withdrawal.AmountBig()
	if err != nil {
		s.fail(ctx, withdrawal.ID, "invalid stored amount")
		return
	}

	funded, err := s.hotWalletFunded(ctx, adapter, token, hotAddress, amount)
	if err != nil {
		s.metrics.RPCErrors.WithLabelValues(chainID).Inc()
		log.Warn().Err(err).Msg("Failed to check hot wallet funding, retrying next cycle")
		s.returnToApproved(ctx, withdrawal.ID)
		return
	}
	if !funded {
		s.fail(ctx, withdrawal.ID, "hot wallet balance too low")
		return
	}

	_, privateKey, err := s.keys.Derive(adapter.Family(), hotIndex)
	if err != nil {
		log.Error().Err(err).Msg("Failed to derive hot wallet key")
		s.returnToApproved(ctx, withdrawal.ID)
		return
	}
	txHash, err := adapter.SignAndSend(ctx, privateKey, token, withdrawal.ToAddress, amount)
	keys.Zero(privateKey)

	switch {
	case chain.IsUnavailable(err):
		s.metrics.RPCErrors.WithLabelValues(chainID).Inc()
		log.Warn().Err(err).Msg("Chain unavailable, retrying broadcast next cycle")
		s.returnToApproved(ctx, withdrawal.ID)
		return
	case chain.IsRejected(err):
		log.Warn().Err(err).Msg("Broadcast rejected by chain")
		s.fail(ctx, withdrawal.ID, "transaction rejected by chain")
		return
	case err != nil:
		log.Error().Err(err).Msg("Failed to sign withdrawal")
		s.fail(ctx, withdrawal.ID, "signing failed")
		return
	}

	if err := s.storage.SetWithdrawalBroadcast(ctx, withdrawal.ID, txHash); err != nil {
		// The transfer is on chain; the poller will match it up by hash
		// once the row catches up.
		log.Error().Err(err).Str("tx_hash", txHash).Msg("Failed to record broadcast")
		return
	}

	s.metrics.WithdrawalsBroadcast.WithLabelValues(chainID).Inc()
	log.Info().Str("tx_hash", txHash).Msg("Broadcast withdrawal")
}

// signMutex returns the hot-wallet mutex for chainID, creating one for
// chains registered after construction.
func (s *service) signMutex(chainID string) *sync.Mutex {
	s.signMuMu.Lock()
	defer s.signMuMu.Unlock()

	mu, ok := s.signMu[chainID]
	if !ok {
		mu = &sync.Mutex{}
		s.signMu[chainID] = mu
	}

	return mu
}

// hotWalletFunded verifies token balance covers the amount and the native
// balance covers the fee estimate before any chain mutation is attempted.
// A query error is returned as-is so callers can retry instead of treating
// an unreachable node as an empty wallet.
func (s *service) hotWalletFunded(ctx context.Context, adapter chain.Adapter, token chain.Token, hotAddress string, amount *big.Int) (bool, error) {
	nativeBalance, err := adapter.NativeBalance(ctx, hotAddress)
	if err != nil {
		return false, errors.Wrap(err, "failed to check hot wallet native balance")
	}
	feeBudget, err := adapter.EstimateFee(ctx, token)
	if err != nil {
		return false, errors.Wrap(err, "failed to estimate fee budget")
	}

	if token.IsNative() {
		need := new(big.Int).Add(amount, feeBudget)
		return nativeBalance.Cmp(need) >= 0, nil
	}

	if nativeBalance.Cmp(feeBudget) < 0 {
		return false, nil
	}
	tokenBalance, err := adapter.TokenBalance(ctx, token, hotAddress)
	if err != nil {
		return false, errors.Wrap(err, "failed to check hot wallet token balance")
	}

	return tokenBalance.Cmp(amount) >= 0, nil
}

func (s *service) pollBroadcast(ctx context.Context, adapter chain.Adapter) error {
	chainID := adapter.Chain()
	log := util.LogFromContext(ctx).With().Str("chain_id", chainID).Logger()

	inFlight, err := s.storage.ListBroadcastWithdrawals(ctx, chainID)
	if err != nil {
		return err
	}

	required := int64(1)
	if cfg, ok := s.chains[chainID]; ok && cfg.RequiredConfirmations > 0 {
		required = cfg.RequiredConfirmations
	}

	for _, withdrawal := range inFlight {
		status, err := adapter.TransactionStatus(ctx, withdrawal.TxHash.String)
		if err != nil {
			s.metrics.RPCErrors.WithLabelValues(chainID).Inc()
			log.Warn().Err(err).Str("tx_hash", withdrawal.TxHash.String).Msg("Failed to check withdrawal status")
			continue
		}

		switch status.State {
		case chain.TxSuccess:
			if status.Confirmations >= required {
				s.complete(ctx, withdrawal)
			}
		case chain.TxFailed:
			s.fail(ctx, withdrawal.ID, "transaction reverted on chain")
		case chain.TxPending:
		}
	}

	return nil
}

func (s *service) complete(ctx context.Context, withdrawal *store.Withdrawal) {
	log := util.LogFromContext(ctx)

	completed, err := s.storage.CompleteWithdrawal(ctx, withdrawal.ID)
	if errors.Is(err, store.ErrInvalidTransition) {
		return
	}
	if err != nil {
		log.Error().Err(err).Str("withdrawal_id", withdrawal.ID).Msg("Failed to complete withdrawal")
		return
	}

	s.metrics.WithdrawalsCompleted.WithLabelValues(completed.ChainID).Inc()
	log.Info().
		Str("withdrawal_id", completed.ID).
		Str("tx_hash", completed.TxHash.String).
		Msg("Completed withdrawal")

	s.publish(ctx, notify.SubjectWithdrawalCompleted, completed, "")
}

func (s *service) fail(ctx context.Context, id, reason string) {
	log := util.LogFromContext(ctx)

	failed, err := s.storage.FailWithdrawal(ctx, id, reason)
	if errors.Is(err, store.ErrInvalidTransition) {
		return
	}
	if err != nil {
		log.Error().Err(err).Str("withdrawal_id", id).Msg("Failed to fail withdrawal")
		return
	}

	s.metrics.WithdrawalsFailed.WithLabelValues(failed.ChainID).Inc()
	log.Warn().
		Str("withdrawal_id", failed.ID).
		Str("reason", reason).
		Msg("Withdrawal failed")

	s.publish(ctx, notify.SubjectWithdrawalFailed, failed, reason)
}

func (s *service) returnToApproved(ctx context.Context, id string) {
	if err := s.storage.ReturnWithdrawalToApproved(ctx, id); err != nil {
		util.LogFromContext(ctx).Error().Err(err).Str("withdrawal_id", id).Msg("Failed to requeue withdrawal")
	}
}

func (s *service) publish(ctx context.Context, subject string, withdrawal *store.Withdrawal, reason string) {
	ownerID := ""
	if wallet, err := s.storage.GetWallet(ctx, withdrawal.WalletID); err == nil {
		ownerID = wallet.OwnerID
	}

	s.notify.Publish(ctx, notify.Event{
		Subject:     subject,
		OwnerID:     ownerID,
		ChainID:     withdrawal.ChainID,
		TokenSymbol: withdrawal.TokenSymbol,
		Amount:      withdrawal.Amount,
		TxHash:      withdrawal.TxHash.String,
		ReferenceID: withdrawal.ID,
		Reason:      reason,
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
