package reconciler

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/aarondl/null/v8"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltpay/custody/internal/chain"
	"github.com/cobaltpay/custody/internal/config"
	"github.com/cobaltpay/custody/internal/metrics"
	"github.com/cobaltpay/custody/internal/notify"
	"github.com/cobaltpay/custody/internal/store"
)

type fakeStorage struct {
	mu sync.Mutex

	payments    map[string]*store.Payment // by order id
	commissions map[string]*store.Commission
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		payments:    map[string]*store.Payment{},
		commissions: map[string]*store.Commission{},
	}
}

func (f *fakeStorage) GetPaymentByOrderID(_ context.Context, orderID string) (*store.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.payments[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}

	return p, nil
}

func (f *fakeStorage) ListStalePendingPayments(_ context.Context, chainID string, _ time.Duration) ([]*store.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*store.Payment
	for _, p := range f.payments {
		if p.ChainID == chainID && p.Status == store.PaymentStatusPending {
			out = append(out, p)
		}
	}

	return out, nil
}

func (f *fakeStorage) MarkPaymentPaid(_ context.Context, orderID, txHash, payer, amount, tokenSymbol string) (bool, *store.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.payments[orderID]
	if !ok {
		return false, nil, store.ErrNotFound
	}
	if p.Status != store.PaymentStatusPending {
		return false, p, nil
	}

	p.Status = store.PaymentStatusPaid
	p.TxHash = null.StringFrom(txHash)
	p.PayerAddress = null.StringFrom(payer)
	p.Amount = null.StringFrom(amount)
	p.TokenSymbol = null.StringFrom(tokenSymbol)
	p.PaidAt = null.TimeFrom(time.Now())

	if p.CommissionBPS > 0 && p.APIKeyID.Valid {
		v, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return false, nil, store.ErrNotFound
		}
		commission := new(big.Int).Div(new(big.Int).Mul(v, big.NewInt(int64(p.CommissionBPS))), big.NewInt(10_000))
		f.commissions[orderID] = &store.Commission{
			OrderID:     orderID,
			APIKeyID:    p.APIKeyID.String,
			Amount:      commission.String(),
			TokenSymbol: tokenSymbol,
			ChainID:     p.ChainID,
			Status:      store.CommissionStatusPending,
		}
	}

	return true, p, nil
}

func (f *fakeStorage) ListPendingCommissions(_ context.Context, chainID string) ([]*store.Commission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*store.Commission
	for _, c := range f.commissions {
		if c.ChainID == chainID && c.Status == store.CommissionStatusPending {
			out = append(out, c)
		}
	}

	return out, nil
}

func (f *fakeStorage) ConfirmCommission(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.commissions[orderID]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = store.CommissionStatusConfirmed

	return nil
}

type fakeAdapter struct {
	statuses map[string]*chain.TxStatus
}

func (a *fakeAdapter) Chain() string        { return "ethereum" }
func (a *fakeAdapter) Family() chain.Family { return chain.FamilyEVM }

func (a *fakeAdapter) NativeBalance(context.Context, string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (a *fakeAdapter) TokenBalance(context.Context, chain.Token, string) (*big.Int, error) {
	return big.NewInt(0), nil
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
	return big.NewInt(0), nil
}

func (a *fakeAdapter) SignAndSend(context.Context, []byte, chain.Token, string, *big.Int) (string, error) {
	return "", nil
}

const usdcContract = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"

func testChainConfig() config.Chain {
	return config.Chain{
		ID:                    "ethereum",
		Family:                string(chain.FamilyEVM),
		PaymentContract:       "0x000000000000000000000000000000000000cafe",
		RequiredConfirmations: 2,
		Tokens: []config.Token{
			{Symbol: "USDC", Contract: usdcContract, Decimals: 6},
		},
	}
}

func newTestService(storage *fakeStorage, adapter *fakeAdapter) *service {
	registry := chain.NewRegistry()
	if adapter != nil {
		registry.Register(adapter)
	}

	svc := NewService(storage, registry, notify.NewNoopService(), metrics.NewUnregistered(),
		config.Reconciler{SweepInterval: time.Minute, PendingAge: time.Minute, ReconnectBackoff: time.Millisecond, MaxReconnects: 1},
		[]config.Chain{testChainConfig()})

	return svc.(*service)
}

func paymentLog(orderID common.Hash, payer common.Address, token common.Address, amount *big.Int) types.Log {
	data := make([]byte, 64)
	copy(data[12:32], token.Bytes())
	amount.FillBytes(data[32:64])

	return types.Log{
		Topics: []common.Hash{paymentReceivedTopic, orderID, common.BytesToHash(payer.Bytes())},
		Data:   data,
		TxHash: common.HexToHash("0xbeef"),
	}
}

func TestHandleLogSettlesPendingPayment(t *testing.T) {
	storage := newFakeStorage()
	orderID := common.HexToHash("0x01")
	storage.payments[orderID.Hex()] = &store.Payment{
		ID: "p-1", OrderID: orderID.Hex(), ChainID: "ethereum",
		Status: store.PaymentStatusPending, CommissionBPS: 250, APIKeyID: null.StringFrom("key-1"),
	}

	svc := newTestService(storage, nil)
	payer := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	svc.handleLog(t.Context(), testChainConfig(), paymentLog(orderID, payer, common.HexToAddress(usdcContract), big.NewInt(1_000_000)), "subscription")

	p := storage.payments[orderID.Hex()]
	assert.Equal(t, store.PaymentStatusPaid, p.Status)
	assert.Equal(t, payer.Hex(), p.PayerAddress.String)
	assert.Equal(t, "1000000", p.Amount.String)
	assert.Equal(t, "USDC", p.TokenSymbol.String)

	// 250 bps of 1000000
	commission := storage.commissions[orderID.Hex()]
	require.NotNil(t, commission)
	assert.Equal(t, "25000", commission.Amount)
	assert.Equal(t, store.CommissionStatusPending, commission.Status)
}

func TestHandleLogIsIdempotent(t *testing.T) {
	storage := newFakeStorage()
	orderID := common.HexToHash("0x01")
	storage.payments[orderID.Hex()] = &store.Payment{
		ID: "p-1", OrderID: orderID.Hex(), ChainID: "ethereum", Status: store.PaymentStatusPending,
	}

	svc := newTestService(storage, nil)
	payer := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	eventLog := paymentLog(orderID, payer, common.HexToAddress(usdcContract), big.NewInt(500))

	// Subscription and sweep both deliver the same event.
	svc.handleLog(t.Context(), testChainConfig(), eventLog, "subscription")
	svc.handleLog(t.Context(), testChainConfig(), eventLog, "sweep")

	p := storage.payments[orderID.Hex()]
	assert.Equal(t, store.PaymentStatusPaid, p.Status)
	assert.Equal(t, "500", p.Amount.String)
}

func TestHandleLogIgnoresUnknownOrder(t *testing.T) {
	storage := newFakeStorage()
	svc := newTestService(storage, nil)

	payer := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	svc.handleLog(t.Context(), testChainConfig(), paymentLog(common.HexToHash("0x99"), payer, common.HexToAddress(usdcContract), big.NewInt(500)), "sweep")

	assert.Empty(t, storage.commissions)
}

func TestHandleLogSkipsMalformedAndRemovedLogs(t *testing.T) {
	storage := newFakeStorage()
	orderID := common.HexToHash("0x01")
	storage.payments[orderID.Hex()] = &store.Payment{
		ID: "p-1", OrderID: orderID.Hex(), ChainID: "ethereum", Status: store.PaymentStatusPending,
	}

	svc := newTestService(storage, nil)
	payer := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	removed := paymentLog(orderID, payer, common.HexToAddress(usdcContract), big.NewInt(500))
	removed.Removed = true
	svc.handleLog(t.Context(), testChainConfig(), removed, "subscription")
	assert.Equal(t, store.PaymentStatusPending, storage.payments[orderID.Hex()].Status)

	short := paymentLog(orderID, payer, common.HexToAddress(usdcContract), big.NewInt(500))
	short.Data = short.Data[:16]
	svc.handleLog(t.Context(), testChainConfig(), short, "subscription")
	assert.Equal(t, store.PaymentStatusPending, storage.payments[orderID.Hex()].Status)

	missingTopics := paymentLog(orderID, payer, common.HexToAddress(usdcContract), big.NewInt(500))
	missingTopics.Topics = missingTopics.Topics[:2]
	svc.handleLog(t.Context(), testChainConfig(), missingTopics, "subscription")
	assert.Equal(t, store.PaymentStatusPending, storage.payments[orderID.Hex()].Status)
}

func TestConfirmCommissionsAtThreshold(t *testing.T) {
	storage := newFakeStorage()
	orderID := common.HexToHash("0x01")
	storage.payments[orderID.Hex()] = &store.Payment{
		ID: "p-1", OrderID: orderID.Hex(), ChainID: "ethereum",
		Status: store.PaymentStatusPaid, TxHash: null.StringFrom("0xbeef"),
	}
	storage.commissions[orderID.Hex()] = &store.Commission{
		OrderID: orderID.Hex(), ChainID: "ethereum", Amount: "25000",
		Status: store.CommissionStatusPending,
	}

	adapter := &fakeAdapter{statuses: map[string]*chain.TxStatus{
		"0xbeef": {State: chain.TxSuccess, Confirmations: 1},
	}}

	svc := newTestService(storage, adapter)

	// One confirmation is below the threshold of two.
	svc.confirmCommissions(t.Context(), "ethereum")
	assert.Equal(t, store.CommissionStatusPending, storage.commissions[orderID.Hex()].Status)

	adapter.statuses["0xbeef"].Confirmations = 2
	svc.confirmCommissions(t.Context(), "ethereum")
	assert.Equal(t, store.CommissionStatusConfirmed, storage.commissions[orderID.Hex()].Status)
}

func TestSymbolForMatchesCaseInsensitive(t *testing.T) {
	svc := newTestService(newFakeStorage(), nil)

	cfg := testChainConfig()
	assert.Equal(t, "USDC", svc.symbolFor(cfg, usdcContract))
	assert.Equal(t, "USDC", svc.symbolFor(cfg, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"))
	assert.Equal(t, "", svc.symbolFor(cfg, "0x0000000000000000000000000000000000000000"))
}

