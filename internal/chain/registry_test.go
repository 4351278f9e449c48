package chain_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltpay/custody/internal/chain"
)

type stubAdapter struct {
	chainID string
	family  chain.Family
}

func (a *stubAdapter) Chain() string        { return a.chainID }
func (a *stubAdapter) Family() chain.Family { return a.family }

func (a *stubAdapter) NativeBalance(context.Context, string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (a *stubAdapter) TokenBalance(context.Context, chain.Token, string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (a *stubAdapter) TransactionStatus(context.Context, string) (*chain.TxStatus, error) {
	return &chain.TxStatus{}, nil
}

func (a *stubAdapter) CurrentHeight(context.Context) (int64, error) { return 0, nil }

func (a *stubAdapter) TransferLogs(context.Context, chain.Token, string, int64) ([]chain.TransferLog, int64, error) {
	return nil, 0, nil
}

func (a *stubAdapter) EstimateFee(context.Context, chain.Token) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (a *stubAdapter) SignAndSend(context.Context, []byte, chain.Token, string, *big.Int) (string, error) {
	return "", nil
}

func TestRegistryDispatch(t *testing.T) {
	r := chain.NewRegistry()
	r.Register(&stubAdapter{chainID: "ethereum", family: chain.FamilyEVM})
	r.Register(&stubAdapter{chainID: "solana", family: chain.FamilySolana})

	adapter, err := r.Get("ethereum")
	require.NoError(t, err)
	assert.Equal(t, "ethereum", adapter.Chain())

	_, err = r.Get("dogecoin")
	assert.Error(t, err)
}

func TestRegistryChainsAreSorted(t *testing.T) {
	r := chain.NewRegistry()
	r.Register(&stubAdapter{chainID: "sui", family: chain.FamilySui})
	r.Register(&stubAdapter{chainID: "base", family: chain.FamilyEVM})
	r.Register(&stubAdapter{chainID: "ethereum", family: chain.FamilyEVM})

	assert.Equal(t, []string{"base", "ethereum", "sui"}, r.Chains())
	assert.Equal(t, []string{"base", "ethereum"}, r.EVMChains())
}

func TestRegistryReplaceOnReRegister(t *testing.T) {
	r := chain.NewRegistry()
	first := &stubAdapter{chainID: "ethereum", family: chain.FamilyEVM}
	second := &stubAdapter{chainID: "ethereum", family: chain.FamilyEVM}

	r.Register(first)
	r.Register(second)

	adapter, err := r.Get("ethereum")
	require.NoError(t, err)
	assert.Same(t, second, adapter)
	assert.Len(t, r.Chains(), 1)
}

func TestErrorKinds(t *testing.T) {
	unavailable := chain.Unavailable(assert.AnError, "rpc call")
	assert.True(t, chain.IsUnavailable(unavailable))
	assert.False(t, chain.IsRejected(unavailable))

	rejected := chain.Rejected(nil, "reverted")
	assert.True(t, chain.IsRejected(rejected))
	assert.False(t, chain.IsUnavailable(rejected))
}
