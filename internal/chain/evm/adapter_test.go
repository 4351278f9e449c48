package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltpay/custody/internal/chain"
)

func transferLog(from, to common.Address, amount *big.Int, block uint64) types.Log {
	data := make([]byte, 32)
	amount.FillBytes(data)

	return types.Log{
		Topics:      []common.Hash{transferTopic, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:        data,
		TxHash:      common.HexToHash("0xfeed"),
		BlockNumber: block,
	}
}

func TestParseTransferLog(t *testing.T) {
	from := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	transfer, ok := parseTransferLog(transferLog(from, to, big.NewInt(123456), 99))
	require.True(t, ok)

	assert.Equal(t, from.Hex(), transfer.From)
	assert.Equal(t, "123456", transfer.Amount.String())
	assert.Equal(t, int64(99), transfer.Height)
	assert.NotEmpty(t, transfer.TxHash)
}

func TestParseTransferLogSkipsMalformed(t *testing.T) {
	from := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	removed := transferLog(from, to, big.NewInt(1), 99)
	removed.Removed = true
	_, ok := parseTransferLog(removed)
	assert.False(t, ok)

	// Anonymous or non-indexed variants carry a different topic count.
	short := transferLog(from, to, big.NewInt(1), 99)
	short.Topics = short.Topics[:2]
	_, ok = parseTransferLog(short)
	assert.False(t, ok)
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{Chain: "ethereum"})
	assert.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	a, err := New(Config{Chain: "ethereum", RPCURLs: []string{"http://localhost:8545"}})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "ethereum", a.Chain())
	assert.Equal(t, chain.FamilyEVM, a.Family())
}

func TestClassifyBroadcastError(t *testing.T) {
	rejected := []string{
		"nonce too low",
		"replacement transaction underpriced",
		"INTRINSIC GAS TOO LOW",
		"err: insufficient funds for gas * price + value",
	}
	for _, msg := range rejected {
		err := classifyBroadcastError(errors.New(msg))
		assert.Truef(t, chain.IsRejected(err), "%q must be terminal", msg)
		assert.False(t, chain.IsUnavailable(err))
	}

	transient := []string{
		"connection refused",
		"context deadline exceeded",
		"502 bad gateway",
	}
	for _, msg := range transient {
		err := classifyBroadcastError(errors.New(msg))
		assert.Truef(t, chain.IsUnavailable(err), "%q must be retryable", msg)
		assert.False(t, chain.IsRejected(err))
	}
}
