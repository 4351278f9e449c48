// Package filecoin adapts the actor/message-passing chain to the shared
// adapter contract. The node's Filecoin.* JSON-RPC surface covers queries and
// mempool push; message signing happens locally over the message digest.
package filecoin

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/cobaltpay/custody/internal/chain"
	"github.com/cobaltpay/custody/internal/chain/jsonrpc"
	"github.com/cobaltpay/custody/internal/keys"
)

const (
	// exitCodeOK is the receipt exit code of a successfully applied message.
	exitCodeOK = 0

	methodSend = 0
)

// Config parameterizes the adapter.
type Config struct {
	Chain   string
	RPCURL  string
	Timeout time.Duration

	// Lookback bounds StateListMessages scans when the caller's cursor is far
	// behind the chain head.
	Lookback int64
}

// Adapter implements chain.Adapter over the node RPC.
type Adapter struct {
	cfg    Config
	client *jsonrpc.Client
}

var _ chain.Adapter = (*Adapter)(nil)

func New(cfg Config) *Adapter {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 2000
	}

	return &Adapter{
		cfg:    cfg,
		client: jsonrpc.NewClient(cfg.RPCURL, cfg.Timeout),
	}
}

func (a *Adapter) Chain() string { return a.cfg.Chain }

func (a *Adapter) Family() chain.Family { return chain.FamilyFilecoin }

func (a *Adapter) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	var balance string
	if err := a.client.Call(ctx, "Filecoin.WalletBalance", []any{address}, &balance); err != nil {
		return nil, chain.Unavailable(err, "failed to get wallet balance")
	}

	value, ok := new(big.Int).SetString(balance, 10)
	if !ok {
		return nil, errors.Errorf("invalid balance %q", balance)
	}

	return value, nil
}

// TokenBalance: the actor chain carries only its native asset in this
// deployment; token transfers are confined to the other chain families.
func (a *Adapter) TokenBalance(ctx context.Context, token chain.Token, address string) (*big.Int, error) {
	if !token.IsNative() {
		return nil, errors.Errorf("chain %s has no token %s", a.cfg.Chain, token.Symbol)
	}
	return a.NativeBalance(ctx, address)
}

func (a *Adapter) CurrentHeight(ctx context.Context) (int64, error) {
	var head struct {
		Height int64 `json:"Height"`
	}
	if err := a.client.Call(ctx, "Filecoin.ChainHead", nil, &head); err != nil {
		return 0, chain.Unavailable(err, "failed to get chain head")
	}

	return head.Height, nil
}

type msgCID struct {
	Slash string `json:"/"`
}

func (a *Adapter) TransactionStatus(ctx context.Context, txHash string) (*chain.TxStatus, error) {
	var lookup *struct {
		Height  int64 `json:"Height"`
		Receipt struct {
			ExitCode int `json:"ExitCode"`
		} `json:"Receipt"`
	}
	params := []any{msgCID{Slash: txHash}}
	if err := a.client.Call(ctx, "Filecoin.StateSearchMsg", params, &lookup); err != nil {
		return nil, chain.Unavailable(err, "failed to search message")
	}
	if lookup == nil {
		return &chain.TxStatus{State: chain.TxPending}, nil
	}

	height, err := a.CurrentHeight(ctx)
	if err != nil {
		return nil, err
	}

	status := &chain.TxStatus{
		State:         chain.TxSuccess,
		Height:        lookup.Height,
		Confirmations: height - lookup.Height,
	}
	if lookup.Receipt.ExitCode != exitCodeOK {
		status.State = chain.TxFailed
	}

	return status, nil
}

// TransferLogs lists applied messages addressed to toAddress from fromHeight
// onward. One call covers one lookback window.
func (a *Adapter) TransferLogs(ctx context.Context, token chain.Token, toAddress string, fromHeight int64) ([]chain.TransferLog, int64, error) {
	if !token.IsNative() {
		height, err := a.CurrentHeight(ctx)
		if err != nil {
			return nil, 0, err
		}
		return nil, height, nil
	}

	height, err := a.CurrentHeight(ctx)
	if err != nil {
		return nil, 0, err
	}
	if fromHeight > height {
		return nil, height, nil
	}
	toHeight := fromHeight + a.cfg.Lookback - 1
	if toHeight > height {
		toHeight = height
	}

	var cids []msgCID
	params := []any{map[string]string{"To": toAddress}, nil, fromHeight}
	if err := a.client.Call(ctx, "Filecoin.StateListMessages", params, &cids); err != nil {
		return nil, 0, chain.Unavailable(err, "failed to list messages")
	}

	var transfers []chain.TransferLog
	for _, cid := range cids {
		var msg struct {
			From  string `json:"From"`
			To    string `json:"To"`
			Value string `json:"Value"`
		}
		if err := a.client.Call(ctx, "Filecoin.ChainGetMessage", []any{cid}, &msg); err != nil {
			return nil, 0, chain.Unavailable(err, "failed to get message")
		}
		if msg.To != toAddress {
			continue
		}

		amount, ok := new(big.Int).SetString(msg.Value, 10)
		if !ok || amount.Sign() <= 0 {
			continue
		}

		status, err := a.TransactionStatus(ctx, cid.Slash)
		if err != nil {
			return nil, 0, err
		}
		if status.State != chain.TxSuccess || status.Height < fromHeight || status.Height > toHeight {
			continue
		}

		transfers = append(transfers, chain.TransferLog{
			TxHash: cid.Slash,
			From:   msg.From,
			Amount: amount,
			Height: status.Height,
		})
	}

	return transfers, toHeight, nil
}

type message struct {
	Version    int    `json:"Version"`
	To         string `json:"To"`
	From       string `json:"From"`
	Nonce      uint64 `json:"Nonce"`
	Value      string `json:"Value"`
	GasLimit   int64  `json:"GasLimit"`
	GasFeeCap  string `json:"GasFeeCap"`
	GasPremium string `json:"GasPremium"`
	Method     int    `json:"Method"`
	Params     string `json:"Params"`
}

// SignAndSend builds a send message, estimates gas, signs the message digest
// locally and pushes it to the mempool.
func (a *Adapter) SignAndSend(ctx context.Context, privateKey []byte, token chain.Token, toAddress string, amount *big.Int) (string, error) {
	if !token.IsNative() {
		return "", errors.Errorf("chain %s has no token %s", a.cfg.Chain, token.Symbol)
	}
	if len(privateKey) != ed25519.SeedSize && len(privateKey) != ed25519.PrivateKeySize {
		return "", errors.New("invalid ed25519 key material")
	}
	key := ed25519.PrivateKey(privateKey)
	if len(privateKey) == ed25519.SeedSize {
		key = ed25519.NewKeyFromSeed(privateKey)
	}
	from := keys.ActorAddress(key.Public().(ed25519.PublicKey))

	var nonce uint64
	if err := a.client.Call(ctx, "Filecoin.MpoolGetNonce", []any{from}, &nonce); err != nil {
		return "", chain.Unavailable(err, "failed to get nonce")
	}

	msg := message{
		To:     toAddress,
		From:   from,
		Nonce:  nonce,
		Value:  amount.String(),
		Method: methodSend,
	}

	var estimated message
	params := []any{msg, map[string]any{"MaxFee": "0"}, nil}
	if err := a.client.Call(ctx, "Filecoin.GasEstimateMessageGas", params, &estimated); err != nil {
		return "", chain.Unavailable(err, "failed to estimate gas")
	}

	digest, err := messageDigest(estimated)
	if err != nil {
		return "", err
	}
	signature := ed25519.Sign(key, digest)

	var pushed struct {
		CID msgCID `json:"CID"`
	}
	signed := map[string]any{
		"Message": estimated,
		"Signature": map[string]any{
			"Type": 1,
			"Data": base64.StdEncoding.EncodeToString(signature),
		},
	}
	if err := a.client.Call(ctx, "Filecoin.MpoolPush", []any{signed}, &pushed); err != nil {
		return "", chain.Unavailable(err, "failed to push message")
	}

	return pushed.CID.Slash, nil
}

// messageDigest hashes the canonical encoding of the message with blake2b-256.
func messageDigest(msg message) ([]byte, error) {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode message")
	}

	digest := blake2b.Sum256(encoded)
	return digest[:], nil
}

// EstimateFee returns a conservative fee bound in attoFIL. Gas parameters
// are estimated precisely at send time; the reservation only needs an
// upper bound, and 0.001 FIL covers a plain send with wide margin.
func (a *Adapter) EstimateFee(_ context.Context, _ chain.Token) (*big.Int, error) {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil), nil
}
