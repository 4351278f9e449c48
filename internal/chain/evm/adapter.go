package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/cobaltpay/custody/internal/chain"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

var balanceOfMethodID = common.Hex2Bytes("70a08231")

const (
	defaultLogPageSize = int64(2000)
	abiWordLength      = 32
)

// Config parameterizes one EVM-compatible chain.
type Config struct {
	Chain       string
	NumericID   int64
	RPCURLs     []string
	LogPageSize int64
}

// Adapter implements chain.Adapter for all EVM-compatible chains. One instance
// per chain, parameterized by RPC endpoints and numeric chain id.
type Adapter struct {
	cfg    Config
	client *failoverClient
}

var _ chain.Adapter = (*Adapter)(nil)

// New connects the failover client and returns the adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.LogPageSize <= 0 {
		cfg.LogPageSize = defaultLogPageSize
	}

	client, err := newFailoverClient(cfg.RPCURLs)
	if err != nil {
		return nil, errors.Wrapf(err, "chain %s", cfg.Chain)
	}

	return &Adapter{cfg: cfg, client: client}, nil
}

func (a *Adapter) Chain() string { return a.cfg.Chain }

func (a *Adapter) Family() chain.Family { return chain.FamilyEVM }

// Close releases all RPC connections.
func (a *Adapter) Close() { a.client.close() }

func (a *Adapter) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	var balance *big.Int
	err := a.client.do(ctx, func(c *ethclient.Client) error {
		b, err := c.BalanceAt(ctx, common.HexToAddress(address), nil)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	if err != nil {
		return nil, chain.Unavailable(err, "failed to get native balance")
	}

	return balance, nil
}

func (a *Adapter) TokenBalance(ctx context.Context, token chain.Token, address string) (*big.Int, error) {
	if token.IsNative() {
		return a.NativeBalance(ctx, address)
	}

	contract := common.HexToAddress(token.Contract)
	data := make([]byte, 0, len(balanceOfMethodID)+abiWordLength)
	data = append(data, balanceOfMethodID...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(address).Bytes(), abiWordLength)...)

	var raw []byte
	err := a.client.do(ctx, func(c *ethclient.Client) error {
		resp, err := c.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
		if err != nil {
			return err
		}
		raw = resp
		return nil
	})
	if err != nil {
		return nil, chain.Unavailable(err, "failed to call balanceOf")
	}

	return new(big.Int).SetBytes(raw), nil
}

func (a *Adapter) CurrentHeight(ctx context.Context) (int64, error) {
	var height int64
	err := a.client.do(ctx, func(c *ethclient.Client) error {
		n, err := c.BlockNumber(ctx)
		if err != nil {
			return err
		}
		//nolint:gosec // Block numbers fit in int64 for every supported chain
		height = int64(n)
		return nil
	})
	if err != nil {
		return 0, chain.Unavailable(err, "failed to get block number")
	}

	return height, nil
}

// TransactionStatus resolves a hash to pending/success/failed. A receipt that
// is simply not found yet is pending, not an error.
func (a *Adapter) TransactionStatus(ctx context.Context, txHash string) (*chain.TxStatus, error) {
	var receipt *types.Receipt
	err := a.client.do(ctx, func(c *ethclient.Client) error {
		r, err := c.TransactionReceipt(ctx, common.HexToHash(txHash))
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &chain.TxStatus{State: chain.TxPending}, nil
		}
		return nil, chain.Unavailable(err, "failed to get transaction receipt")
	}

	height, err := a.CurrentHeight(ctx)
	if err != nil {
		return nil, err
	}

	status := &chain.TxStatus{
		State:         chain.TxSuccess,
		Height:        receipt.BlockNumber.Int64(),
		Confirmations: height - receipt.BlockNumber.Int64(),
	}
	if receipt.Status == types.ReceiptStatusFailed {
		status.State = chain.TxFailed
	}

	return status, nil
}

// TransferLogs returns one page of ERC-20 Transfer events to toAddress.
// Native-asset transfers are not log-indexed on EVM chains; deposit detection
// is token-based, so a native token yields an empty page that still advances
// the cursor.
func (a *Adapter) TransferLogs(ctx context.Context, token chain.Token, toAddress string, fromHeight int64) ([]chain.TransferLog, int64, error) {
	latest, err := a.CurrentHeight(ctx)
	if err != nil {
		return nil, 0, err
	}
	if fromHeight > latest {
		return nil, latest, nil
	}

	toHeight := fromHeight + a.cfg.LogPageSize - 1
	if toHeight > latest {
		toHeight = latest
	}

	if token.IsNative() {
		return nil, toHeight, nil
	}

	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(fromHeight),
		ToBlock:   big.NewInt(toHeight),
		Addresses: []common.Address{common.HexToAddress(token.Contract)},
		Topics: [][]common.Hash{
			{transferTopic},
			nil, // any sender
			{common.BytesToHash(common.HexToAddress(toAddress).Bytes())},
		},
	}

	var rawLogs []types.Log
	err = a.client.do(ctx, func(c *ethclient.Client) error {
		logs, err := c.FilterLogs(ctx, query)
		if err != nil {
			return err
		}
		rawLogs = logs
		return nil
	})
	if err != nil {
		return nil, 0, chain.Unavailable(err, "failed to filter transfer logs")
	}

	transfers := make([]chain.TransferLog, 0, len(rawLogs))
	for _, l := range rawLogs {
		transfer, ok := parseTransferLog(l)
		if !ok {
			continue
		}
		transfers = append(transfers, transfer)
	}

	return transfers, toHeight, nil
}

// parseTransferLog decodes one Transfer event into a TransferLog. Logs with a
// malformed topic layout are skipped.
func parseTransferLog(l types.Log) (chain.TransferLog, bool) {
	const transferTopicCount = 3
	if len(l.Topics) != transferTopicCount || l.Removed {
		return chain.TransferLog{}, false
	}

	return chain.TransferLog{
		TxHash: l.TxHash.Hex(),
		From:   common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
		Amount: new(big.Int).SetBytes(l.Data),
		//nolint:gosec // Block numbers fit in int64 for every supported chain
		Height: int64(l.BlockNumber),
	}, true
}
