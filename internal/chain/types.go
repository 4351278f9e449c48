package chain

import (
	"context"
	"math/big"
)

// Family identifies the implementation family of a chain. All EVM-compatible
// chains share one adapter implementation; the others each have their own.
type Family string

const (
	FamilyEVM      Family = "evm"
	FamilySolana   Family = "solana"
	FamilySui      Family = "sui"
	FamilyFilecoin Family = "filecoin"
)

// TxState is the terminal-vs-pending classification of an on-chain transaction.
type TxState int

const (
	TxPending TxState = iota
	TxSuccess
	TxFailed
)

func (s TxState) String() string {
	switch s {
	case TxSuccess:
		return "success"
	case TxFailed:
		return "failed"
	default:
		return "pending"
	}
}

// TxStatus describes the chain-side status of a transaction.
type TxStatus struct {
	State         TxState
	Height        int64
	Confirmations int64
}

// TransferLog is one inbound token transfer observed on chain.
type TransferLog struct {
	TxHash string
	From   string
	Amount *big.Int
	Height int64
}

// Token describes a token as the adapter needs it: contract reference and
// decimals. A zero Contract means the chain's native asset.
type Token struct {
	Symbol   string
	Contract string
	Decimals int
}

// IsNative reports whether the token is the chain's native asset.
func (t Token) IsNative() bool {
	return t.Contract == ""
}

// Adapter is the uniform capability set every supported chain exposes.
//
// TransferLogs is paged: one call returns at most one page of logs starting at
// fromHeight, together with the last height covered by that page. The caller
// owns the cursor and passes lastCovered+1 on the next call.
//
// SignAndSend accepts raw private key material by value. Callers must not
// retain or log it; adapters must not store it beyond the call.
type Adapter interface {
	// Chain returns the chain identifier this adapter serves (e.g. "ethereum").
	Chain() string

	// Family returns the implementation family.
	Family() Family

	// NativeBalance returns the native-asset balance of an address in base units.
	NativeBalance(ctx context.Context, address string) (*big.Int, error)

	// TokenBalance returns the token balance of an address in base units.
	TokenBalance(ctx context.Context, token Token, address string) (*big.Int, error)

	// TransactionStatus looks up a transaction by hash.
	TransactionStatus(ctx context.Context, txHash string) (*TxStatus, error)

	// CurrentHeight returns the latest chain height.
	CurrentHeight(ctx context.Context) (int64, error)

	// TransferLogs returns one page of inbound transfers of token to toAddress
	// starting at fromHeight, plus the last height the page covers.
	TransferLogs(ctx context.Context, token Token, toAddress string, fromHeight int64) ([]TransferLog, int64, error)

	// EstimateFee returns a conservative upper bound, in native base units,
	// of the fee for one transfer of token. Reservations are sized with it.
	EstimateFee(ctx context.Context, token Token) (*big.Int, error)

	// SignAndSend signs a transfer with the given key material and broadcasts
	// it, returning the transaction hash.
	SignAndSend(ctx context.Context, privateKey []byte, token Token, toAddress string, amount *big.Int) (string, error)
}
