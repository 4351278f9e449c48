// Package sui adapts the object-model chain to the shared adapter contract.
// Heights are checkpoint sequence numbers; transaction building is delegated
// to the node's unsafe_* builders and only the signing happens locally.
package sui

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"math/big"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/cobaltpay/custody/internal/chain"
	"github.com/cobaltpay/custody/internal/chain/jsonrpc"
	"github.com/cobaltpay/custody/internal/keys"
)

const (
	defaultPageSize = 50

	// ed25519 signature scheme flag in serialized signatures.
	ed25519SchemeFlag = byte(0x00)

	defaultGasBudget = uint64(10_000_000)
)

// Config parameterizes the adapter.
type Config struct {
	Chain     string
	RPCURL    string
	Timeout   time.Duration
	PageSize  int
	GasBudget uint64
}

// Adapter implements chain.Adapter over the chain's JSON-RPC surface.
type Adapter struct {
	cfg    Config
	client *jsonrpc.Client
}

var _ chain.Adapter = (*Adapter)(nil)

func New(cfg Config) *Adapter {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.GasBudget == 0 {
		cfg.GasBudget = defaultGasBudget
	}

	return &Adapter{
		cfg:    cfg,
		client: jsonrpc.NewClient(cfg.RPCURL, cfg.Timeout),
	}
}

func (a *Adapter) Chain() string { return a.cfg.Chain }

func (a *Adapter) Family() chain.Family { return chain.FamilySui }

func (a *Adapter) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	return a.balance(ctx, address, "0x2::sui::SUI")
}

func (a *Adapter) TokenBalance(ctx context.Context, token chain.Token, address string) (*big.Int, error) {
	if token.IsNative() {
		return a.NativeBalance(ctx, address)
	}
	return a.balance(ctx, address, token.Contract)
}

func (a *Adapter) balance(ctx context.Context, address, coinType string) (*big.Int, error) {
	var resp struct {
		TotalBalance string `json:"totalBalance"`
	}
	if err := a.client.Call(ctx, "suix_getBalance", []any{address, coinType}, &resp); err != nil {
		return nil, chain.Unavailable(err, "failed to get balance")
	}

	balance, ok := new(big.Int).SetString(resp.TotalBalance, 10)
	if !ok {
		return nil, errors.Errorf("invalid balance %q", resp.TotalBalance)
	}

	return balance, nil
}

func (a *Adapter) CurrentHeight(ctx context.Context) (int64, error) {
	var seq string
	if err := a.client.Call(ctx, "sui_getLatestCheckpointSequenceNumber", nil, &seq); err != nil {
		return 0, chain.Unavailable(err, "failed to get latest checkpoint")
	}

	height, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid checkpoint %q", seq)
	}

	return height, nil
}

func (a *Adapter) TransactionStatus(ctx context.Context, txHash string) (*chain.TxStatus, error) {
	var resp struct {
		Checkpoint string `json:"checkpoint"`
		Effects    struct {
			Status struct {
				Status string `json:"status"`
			} `json:"status"`
		} `json:"effects"`
	}
	params := []any{txHash, map[string]bool{"showEffects": true}}
	if err := a.client.Call(ctx, "sui_getTransactionBlock", params, &resp); err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			// Not found yet: still pending.
			return &chain.TxStatus{State: chain.TxPending}, nil
		}
		return nil, chain.Unavailable(err, "failed to get transaction block")
	}

	if resp.Checkpoint == "" {
		return &chain.TxStatus{State: chain.TxPending}, nil
	}

	checkpoint, err := strconv.ParseInt(resp.Checkpoint, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid checkpoint %q", resp.Checkpoint)
	}

	height, err := a.CurrentHeight(ctx)
	if err != nil {
		return nil, err
	}

	status := &chain.TxStatus{
		State:         chain.TxSuccess,
		Height:        checkpoint,
		Confirmations: height - checkpoint,
	}
	if resp.Effects.Status.Status != "success" {
		status.State = chain.TxFailed
	}

	return status, nil
}

// TransferLogs queries transaction blocks addressed to toAddress and extracts
// positive balance changes of the requested coin type.
func (a *Adapter) TransferLogs(ctx context.Context, token chain.Token, toAddress string, fromHeight int64) ([]chain.TransferLog, int64, error) {
	coinType := token.Contract
	if token.IsNative() {
		coinType = "0x2::sui::SUI"
	}

	var resp struct {
		Data []struct {
			Digest      string `json:"digest"`
			Checkpoint  string `json:"checkpoint"`
			Transaction struct {
				Data struct {
					Sender string `json:"sender"`
				} `json:"data"`
			} `json:"transaction"`
			BalanceChanges []struct {
				Owner struct {
					AddressOwner string `json:"AddressOwner"`
				} `json:"owner"`
				CoinType string `json:"coinType"`
				Amount   string `json:"amount"`
			} `json:"balanceChanges"`
		} `json:"data"`
	}
	params := []any{
		map[string]any{
			"filter":  map[string]string{"ToAddress": toAddress},
			"options": map[string]bool{"showBalanceChanges": true, "showInput": true},
		},
		nil,            // cursor: newest page
		a.cfg.PageSize, // limit
		true,           // descending
	}
	if err := a.client.Call(ctx, "suix_queryTransactionBlocks", params, &resp); err != nil {
		return nil, 0, chain.Unavailable(err, "failed to query transaction blocks")
	}

	covered := fromHeight - 1
	var transfers []chain.TransferLog
	for _, item := range resp.Data {
		if item.Checkpoint == "" {
			continue
		}
		checkpoint, err := strconv.ParseInt(item.Checkpoint, 10, 64)
		if err != nil || checkpoint < fromHeight {
			continue
		}
		if checkpoint > covered {
			covered = checkpoint
		}

		for _, change := range item.BalanceChanges {
			if change.Owner.AddressOwner != toAddress || change.CoinType != coinType {
				continue
			}
			amount, ok := new(big.Int).SetString(change.Amount, 10)
			if !ok || amount.Sign() <= 0 {
				continue
			}
			transfers = append(transfers, chain.TransferLog{
				TxHash: item.Digest,
				From:   item.Transaction.Data.Sender,
				Amount: amount,
				Height: checkpoint,
			})
		}
	}

	if covered < fromHeight {
		height, err := a.CurrentHeight(ctx)
		if err != nil {
			return nil, 0, err
		}
		covered = height
	}

	return transfers, covered, nil
}

// SignAndSend asks the node to build the transfer, signs the intent digest
// locally with ed25519 and executes the signed transaction block.
func (a *Adapter) SignAndSend(ctx context.Context, privateKey []byte, token chain.Token, toAddress string, amount *big.Int) (string, error) {
	if len(privateKey) != ed25519.SeedSize && len(privateKey) != ed25519.PrivateKeySize {
		return "", errors.New("invalid ed25519 key material")
	}
	key := ed25519.PrivateKey(privateKey)
	if len(privateKey) == ed25519.SeedSize {
		key = ed25519.NewKeyFromSeed(privateKey)
	}
	sender := keys.SuiAddress(key.Public().(ed25519.PublicKey))

	txBytes, err := a.buildTransfer(ctx, sender, toAddress, token, amount)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(txBytes)
	if err != nil {
		return "", errors.Wrap(err, "failed to decode transaction bytes")
	}

	// Intent prefix for transaction data: scope 0, version 0, app id 0.
	payload := append([]byte{0, 0, 0}, raw...)
	digest := blake2b.Sum256(payload)
	signature := ed25519.Sign(key, digest[:])

	serialized := make([]byte, 0, 1+len(signature)+ed25519.PublicKeySize)
	serialized = append(serialized, ed25519SchemeFlag)
	serialized = append(serialized, signature...)
	serialized = append(serialized, key.Public().(ed25519.PublicKey)...)

	var resp struct {
		Digest string `json:"digest"`
	}
	params := []any{
		txBytes,
		[]string{base64.StdEncoding.EncodeToString(serialized)},
		map[string]bool{"showEffects": false},
		"WaitForEffectsCert",
	}
	if err := a.client.Call(ctx, "sui_executeTransactionBlock", params, &resp); err != nil {
		return "", chain.Unavailable(err, "failed to execute transaction block")
	}

	return resp.Digest, nil
}

func (a *Adapter) buildTransfer(ctx context.Context, sender, recipient string, token chain.Token, amount *big.Int) (string, error) {
	coinType := token.Contract
	if token.IsNative() {
		coinType = "0x2::sui::SUI"
	}

	coins, err := a.coins(ctx, sender, coinType)
	if err != nil {
		return "", err
	}
	if len(coins) == 0 {
		return "", errors.Wrap(chain.ErrInsufficientFunds, "no coins to spend")
	}

	gasBudget := strconv.FormatUint(a.cfg.GasBudget, 10)

	var resp struct {
		TxBytes string `json:"txBytes"`
	}
	if token.IsNative() {
		params := []any{sender, coins, []string{recipient}, []string{amount.String()}, gasBudget}
		if err := a.client.Call(ctx, "unsafe_paySui", params, &resp); err != nil {
			return "", chain.Unavailable(err, "failed to build native transfer")
		}
	} else {
		params := []any{sender, coins, []string{recipient}, []string{amount.String()}, nil, gasBudget}
		if err := a.client.Call(ctx, "unsafe_pay", params, &resp); err != nil {
			return "", chain.Unavailable(err, "failed to build token transfer")
		}
	}

	return resp.TxBytes, nil
}

func (a *Adapter) coins(ctx context.Context, owner, coinType string) ([]string, error) {
	var resp struct {
		Data []struct {
			CoinObjectID string `json:"coinObjectId"`
		} `json:"data"`
	}
	if err := a.client.Call(ctx, "suix_getCoins", []any{owner, coinType}, &resp); err != nil {
		return nil, chain.Unavailable(err, "failed to list coins")
	}

	ids := make([]string, 0, len(resp.Data))
	for _, coin := range resp.Data {
		ids = append(ids, coin.CoinObjectID)
	}

	return ids, nil
}

// EstimateFee returns the gas budget attached to transfers, in MIST. The
// node refunds the unused part, so this is the reservation-side bound.
func (a *Adapter) EstimateFee(_ context.Context, _ chain.Token) (*big.Int, error) {
	return new(big.Int).SetUint64(a.cfg.GasBudget), nil
}
