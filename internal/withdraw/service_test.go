package withdraw_test

import (
	"context"
	"math/big"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aarondl/null/v8"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltpay/custody/internal/chain"
	"github.com/cobaltpay/custody/internal/config"
	"github.com/cobaltpay/custody/internal/keys"
	"github.com/cobaltpay/custody/internal/limits"
	"github.com/cobaltpay/custody/internal/metrics"
	"github.com/cobaltpay/custody/internal/notify"
	"github.com/cobaltpay/custody/internal/store"
	"github.com/cobaltpay/custody/internal/withdraw"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// fakeStorage replicates the store's withdrawal semantics in memory:
// status-guarded transitions and a reservation that moves exactly once.
type fakeStorage struct {
	mu sync.Mutex

	wallets     map[string]*store.Wallet
	withdrawals map[string]*store.Withdrawal
	nextID      int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		wallets:     map[string]*store.Wallet{},
		withdrawals: map[string]*store.Withdrawal{},
	}
}

func (f *fakeStorage) GetWallet(_ context.Context, id string) (*store.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.wallets[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	return w, nil
}

func (f *fakeStorage) CreateWithdrawal(_ context.Context, w *store.Withdrawal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	wallet, ok := f.wallets[w.WalletID]
	if !ok {
		return store.ErrNotFound
	}

	reserved, err := w.ReservedBig()
	if err != nil {
		return err
	}
	available, err := wallet.Available()
	if err != nil {
		return err
	}
	if available.Cmp(reserved) < 0 {
		return store.ErrInsufficientFunds
	}

	locked, err := wallet.LockedBalanceBig()
	if err != nil {
		return err
	}
	wallet.LockedBalance = store.FormatAmount(new(big.Int).Add(locked, reserved))

	f.nextID++
	w.ID = "wd-" + strconv.Itoa(f.nextID)
	w.ChainID = wallet.ChainID
	w.TokenSymbol = wallet.TokenSymbol
	w.Status = store.WithdrawalStatusPending
	f.withdrawals[w.ID] = w

	return nil
}

func (f *fakeStorage) GetWithdrawal(_ context.Context, id string) (*store.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.withdrawals[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	return w, nil
}

func (f *fakeStorage) ApproveWithdrawal(_ context.Context, id, approvedBy string, check func(w *store.Withdrawal, lifetimeTotal *big.Int) error) (*store.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.withdrawals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if w.Status != store.WithdrawalStatusPending {
		return nil, store.ErrInvalidTransition
	}

	ownerID := f.wallets[w.WalletID].OwnerID
	total := big.NewInt(0)
	for _, other := range f.withdrawals {
		if other.ID == id || f.wallets[other.WalletID].OwnerID != ownerID || other.TokenSymbol != w.TokenSymbol {
			continue
		}
		switch other.Status {
		case store.WithdrawalStatusApproved, store.WithdrawalStatusProcessing, store.WithdrawalStatusCompleted:
			amount, err := other.AmountBig()
			if err != nil {
				return nil, err
			}
			total.Add(total, amount)
		}
	}

	if err := check(w, total); err != nil {
		return nil, err
	}

	w.Status = store.WithdrawalStatusApproved
	w.ApprovedBy = null.StringFrom(approvedBy)
	w.ApprovedAt = null.TimeFrom(time.Now())

	return w, nil
}

func (f *fakeStorage) release(w *store.Withdrawal, status, reason string) (*store.Withdrawal, error) {
	reserved, err := w.ReservedBig()
	if err != nil {
		return nil, err
	}
	wallet := f.wallets[w.WalletID]
	locked, err := wallet.LockedBalanceBig()
	if err != nil {
		return nil, err
	}
	wallet.LockedBalance = store.FormatAmount(new(big.Int).Sub(locked, reserved))

	w.Status = status
	w.FailureReason = null.StringFrom(reason)

	return w, nil
}

func (f *fakeStorage) RejectWithdrawal(_ context.Context, id, reason string) (*store.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.withdrawals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if w.Status != store.WithdrawalStatusPending {
		return nil, store.ErrInvalidTransition
	}

	return f.release(w, store.WithdrawalStatusCancelled, reason)
}

func (f *fakeStorage) FailWithdrawal(_ context.Context, id, reason string) (*store.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.withdrawals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	switch w.Status {
	case store.WithdrawalStatusPending, store.WithdrawalStatusApproved, store.WithdrawalStatusProcessing:
	default:
		return nil, store.ErrInvalidTransition
	}

	return f.release(w, store.WithdrawalStatusFailed, reason)
}

func (f *fakeStorage) ClaimWithdrawalForProcessing(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.withdrawals[id]
	if !ok || w.Status != store.WithdrawalStatusApproved {
		return false, nil
	}
	w.Status = store.WithdrawalStatusProcessing

	return true, nil
}

func (f *fakeStorage) ReturnWithdrawalToApproved(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.withdrawals[id]
	if !ok {
		return store.ErrNotFound
	}
	if w.Status != store.WithdrawalStatusProcessing || w.TxHash.Valid {
		return store.ErrInvalidTransition
	}
	w.Status = store.WithdrawalStatusApproved

	return nil
}

func (f *fakeStorage) SetWithdrawalBroadcast(_ context.Context, id, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.withdrawals[id]
	if !ok {
		return store.ErrNotFound
	}
	w.TxHash = null.StringFrom(txHash)

	return nil
}

func (f *fakeStorage) CompleteWithdrawal(_ context.Context, id string) (*store.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.withdrawals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if w.Status != store.WithdrawalStatusProcessing {
		return nil, store.ErrInvalidTransition
	}

	reserved, err := w.ReservedBig()
	if err != nil {
		return nil, err
	}
	wallet := f.wallets[w.WalletID]
	balance, err := wallet.BalanceBig()
	if err != nil {
		return nil, err
	}
	locked, err := wallet.LockedBalanceBig()
	if err != nil {
		return nil, err
	}
	wallet.Balance = store.FormatAmount(new(big.Int).Sub(balance, reserved))
	wallet.LockedBalance = store.FormatAmount(new(big.Int).Sub(locked, reserved))
	w.Status = store.WithdrawalStatusCompleted

	return w, nil
}

func (f *fakeStorage) ListWithdrawalsByStatus(_ context.Context, chainID, status string) ([]*store.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*store.Withdrawal
	for _, w := range f.withdrawals {
		if w.ChainID == chainID && w.Status == status {
			out = append(out, w)
		}
	}

	return out, nil
}

func (f *fakeStorage) ListBroadcastWithdrawals(_ context.Context, chainID string) ([]*store.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*store.Withdrawal
	for _, w := range f.withdrawals {
		if w.ChainID == chainID && w.Status == store.WithdrawalStatusProcessing && w.TxHash.Valid {
			out = append(out, w)
		}
	}

	return out, nil
}

// fakeAdapter lets tests script balances and broadcast outcomes.
type fakeAdapter struct {
	chainID       string
	nativeBalance *big.Int
	tokenBalance  *big.Int
	fee           *big.Int
	balanceErr    error
	sendErr       error
	sentTxHash    string
	sendCount     int
	statuses      map[string]*chain.TxStatus
}

func (a *fakeAdapter) Chain() string        { return a.chainID }
func (a *fakeAdapter) Family() chain.Family { return chain.FamilyEVM }

func (a *fakeAdapter) NativeBalance(context.Context, string) (*big.Int, error) {
	if a.balanceErr != nil {
		return nil, a.balanceErr
	}

	return a.nativeBalance, nil
}

func (a *fakeAdapter) TokenBalance(context.Context, chain.Token, string) (*big.Int, error) {
	return a.tokenBalance, nil
}

func (a *fakeAdapter) TransactionStatus(_ context.Context, txHash string) (*chain.TxStatus, error) {
	status, ok := a.statuses[txHash]
	if !ok {
		return &chain.TxStatus{State: chain.TxPending}, nil
	}

	return status, nil
}

func (a *fakeAdapter) CurrentHeight(context.Context) (int64, error) { return 100, nil }

func (a *fakeAdapter) TransferLogs(context.Context, chain.Token, string, int64) ([]chain.TransferLog, int64, error) {
	return nil, 0, nil
}

func (a *fakeAdapter) EstimateFee(context.Context, chain.Token) (*big.Int, error) {
	return new(big.Int).Set(a.fee), nil
}

func (a *fakeAdapter) SignAndSend(_ context.Context, privateKey []byte, _ chain.Token, _ string, _ *big.Int) (string, error) {
	a.sendCount++
	if len(privateKey) == 0 {
		return "", errors.New("missing key material")
	}
	if a.sendErr != nil {
		return "", a.sendErr
	}

	return a.sentTxHash, nil
}

type fixture struct {
	storage *fakeStorage
	adapter *fakeAdapter
	svc     withdraw.Service
}

func newFixture(t *testing.T, withdrawalCap string) *fixture {
	t.Helper()

	seeds := keys.NewSeedManager()
	require.NoError(t, seeds.Initialize(testMnemonic, ""))
	t.Cleanup(seeds.Clear)

	keyService, err := keys.NewService(seeds)
	require.NoError(t, err)

	resolver, err := limits.NewStaticResolver(config.Limits{
		DefaultTier: "basic",
		Tiers: map[string]config.Tier{
			"basic": {DepositWindowCap: "1000000", WithdrawalLifetimeCap: withdrawalCap},
		},
	})
	require.NoError(t, err)

	storage := newFakeStorage()
	storage.wallets["w-1"] = &store.Wallet{
		ID: "w-1", OwnerID: "owner-1", ChainID: "ethereum", TokenSymbol: "ETH",
		Address: "0x1111111111111111111111111111111111111111",
		Balance: "10000", LockedBalance: "0",
	}

	adapter := &fakeAdapter{
		chainID:       "ethereum",
		nativeBalance: big.NewInt(1_000_000),
		tokenBalance:  big.NewInt(1_000_000),
		fee:           big.NewInt(21),
		sentTxHash:    "0xbeef",
		statuses:      map[string]*chain.TxStatus{},
	}
	registry := chain.NewRegistry()
	registry.Register(adapter)

	svc := withdraw.NewService(storage, registry, keyService, resolver, notify.NewNoopService(),
		metrics.NewUnregistered(), config.Withdrawals{Interval: time.Minute},
		[]config.Chain{{ID: "ethereum", RequiredConfirmations: 2, HotWalletIndex: 0}})

	return &fixture{storage: storage, adapter: adapter, svc: svc}
}

const validDest = "0x2222222222222222222222222222222222222222"

func (fx *fixture) create(t *testing.T, amount string) *store.Withdrawal {
	t.Helper()

	w, err := fx.svc.Create(t.Context(), withdraw.CreateRequest{
		WalletID:  "w-1",
		ToAddress: validDest,
		Amount:    amount,
	})
	require.NoError(t, err)

	return w
}

func TestCreateReservesAmountPlusFee(t *testing.T) {
	fx := newFixture(t, "1000000")

	w := fx.create(t, "1000")
	assert.Equal(t, store.WithdrawalStatusPending, w.Status)
	assert.Equal(t, "1000", w.Amount)
	assert.Equal(t, "21", w.Fee)

	wallet := fx.storage.wallets["w-1"]
	assert.Equal(t, "1021", wallet.LockedBalance)
	assert.Equal(t, "10000", wallet.Balance, "creation must not touch the balance itself")
}

func TestCreateRejectsBadInput(t *testing.T) {
	fx := newFixture(t, "1000000")
	ctx := t.Context()

	_, err := fx.svc.Create(ctx, withdraw.CreateRequest{WalletID: "w-1", ToAddress: "not-an-address", Amount: "10"})
	assert.True(t, errors.Is(err, withdraw.ErrInvalidAddress))

	_, err = fx.svc.Create(ctx, withdraw.CreateRequest{WalletID: "w-1", ToAddress: validDest, Amount: "0"})
	assert.True(t, errors.Is(err, withdraw.ErrInvalidAmount))

	_, err = fx.svc.Create(ctx, withdraw.CreateRequest{WalletID: "w-1", ToAddress: validDest, Amount: "-5"})
	assert.True(t, errors.Is(err, withdraw.ErrInvalidAmount))

	_, err = fx.svc.Create(ctx, withdraw.CreateRequest{WalletID: "w-1", ToAddress: validDest, Amount: "999999999"})
	assert.True(t, errors.Is(err, store.ErrInsufficientFunds))
}

func TestCreateInsufficientAvailableAfterReservation(t *testing.T) {
	fx := newFixture(t, "1000000")

	// First reservation locks 5000+21; a second 5000 no longer fits the
	// 10000 balance.
	fx.create(t, "5000")
	_, err := fx.svc.Create(t.Context(), withdraw.CreateRequest{WalletID: "w-1", ToAddress: validDest, Amount: "5000"})
	assert.True(t, errors.Is(err, store.ErrInsufficientFunds))
}

func TestApproveWithinCap(t *testing.T) {
	fx := newFixture(t, "2000")

	w := fx.create(t, "1500")
	approved, err := fx.svc.Approve(t.Context(), w.ID, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, store.WithdrawalStatusApproved, approved.Status)
	assert.Equal(t, "admin-1", approved.ApprovedBy.String)
}

func TestApproveLifetimeCapCountsPriorWithdrawals(t *testing.T) {
	fx := newFixture(t, "2000")
	ctx := t.Context()

	first := fx.create(t, "1500")
	_, err := fx.svc.Approve(ctx, first.ID, "admin-1")
	require.NoError(t, err)

	// 1500 already approved; another 600 would put the lifetime total at
	// 2100, over the 2000 cap.
	second := fx.create(t, "600")
	_, err = fx.svc.Approve(ctx, second.ID, "admin-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, limits.ErrLimitExceeded))

	// The rejected approval leaves it pending with the reservation intact.
	kept, err := fx.svc.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, store.WithdrawalStatusPending, kept.Status)
	assert.Equal(t, "2142", fx.storage.wallets["w-1"].LockedBalance)
}

func TestApproveZeroCapTier(t *testing.T) {
	fx := newFixture(t, "0")

	w := fx.create(t, "10")
	_, err := fx.svc.Approve(t.Context(), w.ID, "admin-1")
	assert.True(t, errors.Is(err, limits.ErrLimitExceeded))
}

func TestRejectReleasesReservation(t *testing.T) {
	fx := newFixture(t, "1000000")

	w := fx.create(t, "1000")
	rejected, err := fx.svc.Reject(t.Context(), w.ID, "customer request")
	require.NoError(t, err)

	assert.Equal(t, store.WithdrawalStatusCancelled, rejected.Status)
	assert.Equal(t, "0", fx.storage.wallets["w-1"].LockedBalance)
	assert.Equal(t, "10000", fx.storage.wallets["w-1"].Balance)

	// Terminal already; releasing twice must not be possible.
	_, err = fx.svc.Reject(t.Context(), w.ID, "again")
	assert.True(t, errors.Is(err, store.ErrInvalidTransition))
}

func TestRunCycleBroadcastsAndCompletes(t *testing.T) {
	fx := newFixture(t, "1000000")
	ctx := t.Context()

	w := fx.create(t, "1000")
	_, err := fx.svc.Approve(ctx, w.ID, "admin-1")
	require.NoError(t, err)

	require.NoError(t, fx.svc.RunCycle(ctx, "ethereum"))

	broadcast, err := fx.svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, store.WithdrawalStatusProcessing, broadcast.Status)
	assert.Equal(t, "0xbeef", broadcast.TxHash.String)
	assert.Equal(t, 1, fx.adapter.sendCount)

	// Not enough confirmations yet.
	fx.adapter.statuses["0xbeef"] = &chain.TxStatus{State: chain.TxSuccess, Confirmations: 1}
	require.NoError(t, fx.svc.RunCycle(ctx, "ethereum"))
	stillProcessing, err := fx.svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, store.WithdrawalStatusProcessing, stillProcessing.Status)

	fx.adapter.statuses["0xbeef"] = &chain.TxStatus{State: chain.TxSuccess, Confirmations: 2}
	require.NoError(t, fx.svc.RunCycle(ctx, "ethereum"))

	completed, err := fx.svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, store.WithdrawalStatusCompleted, completed.Status)

	wallet := fx.storage.wallets["w-1"]
	assert.Equal(t, "8979", wallet.Balance, "completion consumes amount plus fee")
	assert.Equal(t, "0", wallet.LockedBalance)

	// Re-running the cycle must not double settle.
	require.NoError(t, fx.svc.RunCycle(ctx, "ethereum"))
	assert.Equal(t, "8979", wallet.Balance)
	assert.Equal(t, 1, fx.adapter.sendCount)
}

func TestRunCycleRetriesOnChainUnavailable(t *testing.T) {
	fx := newFixture(t, "1000000")
	ctx := t.Context()

	w := fx.create(t, "1000")
	_, err := fx.svc.Approve(ctx, w.ID, "admin-1")
	require.NoError(t, err)

	fx.adapter.sendErr = chain.Unavailable(errors.New("connection refused"), "broadcast")
	require.NoError(t, fx.svc.RunCycle(ctx, "ethereum"))

	returned, err := fx.svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, store.WithdrawalStatusApproved, returned.Status, "transient fault puts it back for retry")
	assert.Equal(t, "1021", fx.storage.wallets["w-1"].LockedBalance, "reservation survives the retry")

	fx.adapter.sendErr = nil
	require.NoError(t, fx.svc.RunCycle(ctx, "ethereum"))

	broadcast, err := fx.svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, store.WithdrawalStatusProcessing, broadcast.Status)
	assert.Equal(t, 2, fx.adapter.sendCount)
}

func TestRunCycleFailsOnChainRejection(t *testing.T) {
	fx := newFixture(t, "1000000")
	ctx := t.Context()

	w := fx.create(t, "1000")
	_, err := fx.svc.Approve(ctx, w.ID, "admin-1")
	require.NoError(t, err)

	fx.adapter.sendErr = chain.Rejected(errors.New("nonce too low"), "broadcast")
	require.NoError(t, fx.svc.RunCycle(ctx, "ethereum"))

	failed, err := fx.svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, store.WithdrawalStatusFailed, failed.Status)
	assert.Equal(t, "0", fx.storage.wallets["w-1"].LockedBalance, "terminal failure releases the reservation")
	assert.Equal(t, "10000", fx.storage.wallets["w-1"].Balance)
}

func TestRunCycleFailsOnUnderfundedHotWallet(t *testing.T) {
	fx := newFixture(t, "1000000")
	ctx := t.Context()

	fx.adapter.nativeBalance = big.NewInt(10)

	w := fx.create(t, "1000")
	_, err := fx.svc.Approve(ctx, w.ID, "admin-1")
	require.NoError(t, err)

	require.NoError(t, fx.svc.RunCycle(ctx, "ethereum"))

	failed, err := fx.svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, store.WithdrawalStatusFailed, failed.Status)
	assert.Zero(t, fx.adapter.sendCount, "no broadcast may be attempted without funding")
}

func TestRunCycleRetriesWhenFundingCheckUnavailable(t *testing.T) {
	fx := newFixture(t, "1000000")
	ctx := t.Context()

	fx.adapter.balanceErr = chain.Unavailable(errors.New("connection refused"), "rpc down")

	w := fx.create(t, "1000")
	_, err := fx.svc.Approve(ctx, w.ID, "admin-1")
	require.NoError(t, err)

	require.NoError(t, fx.svc.RunCycle(ctx, "ethereum"))

	held, err := fx.svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, store.WithdrawalStatusApproved, held.Status, "an unreachable node must not fail the withdrawal")
	assert.Equal(t, "1021", fx.storage.wallets["w-1"].LockedBalance, "reservation stays held")
	assert.Zero(t, fx.adapter.sendCount)

	fx.adapter.balanceErr = nil
	require.NoError(t, fx.svc.RunCycle(ctx, "ethereum"))

	sent, err := fx.svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, store.WithdrawalStatusProcessing, sent.Status)
	assert.Equal(t, 1, fx.adapter.sendCount)
}

func TestRunCycleRevertedTransactionFails(t *testing.T) {
	fx := newFixture(t, "1000000")
	ctx := t.Context()

	w := fx.create(t, "1000")
	_, err := fx.svc.Approve(ctx, w.ID, "admin-1")
	require.NoError(t, err)

	require.NoError(t, fx.svc.RunCycle(ctx, "ethereum"))
	fx.adapter.statuses["0xbeef"] = &chain.TxStatus{State: chain.TxFailed}
	require.NoError(t, fx.svc.RunCycle(ctx, "ethereum"))

	failed, err := fx.svc.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, store.WithdrawalStatusFailed, failed.Status)
	assert.Equal(t, "0", fx.storage.wallets["w-1"].LockedBalance)
	assert.Equal(t, "10000", fx.storage.wallets["w-1"].Balance)
}
