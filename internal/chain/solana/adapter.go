// Package solana adapts the account-model chain to the shared adapter
// contract. Queries and broadcast go through plain JSON-RPC; only the minimal
// wire encoding needed for a single transfer is implemented here.
package solana

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"math/big"
	"time"

	"github.com/pkg/errors"

	"github.com/cobaltpay/custody/internal/chain"
	"github.com/cobaltpay/custody/internal/chain/jsonrpc"
	"github.com/cobaltpay/custody/internal/keys"
)

const (
	systemProgram = "11111111111111111111111111111111"
	tokenProgram  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

	defaultSigPageSize = 100

	// lamportsPerSignature is the network's flat fee per signature.
	lamportsPerSignature = 5000
)

// Config parameterizes the adapter.
type Config struct {
	Chain      string
	RPCURL     string
	Timeout    time.Duration
	SigPerPage int
}

// Adapter implements chain.Adapter over the chain's JSON-RPC surface.
type Adapter struct {
	cfg    Config
	client *jsonrpc.Client
}

var _ chain.Adapter = (*Adapter)(nil)

func New(cfg Config) *Adapter {
	if cfg.SigPerPage <= 0 {
		cfg.SigPerPage = defaultSigPageSize
	}

	return &Adapter{
		cfg:    cfg,
		client: jsonrpc.NewClient(cfg.RPCURL, cfg.Timeout),
	}
}

func (a *Adapter) Chain() string { return a.cfg.Chain }

func (a *Adapter) Family() chain.Family { return chain.FamilySolana }

func (a *Adapter) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	var resp struct {
		Value uint64 `json:"value"`
	}
	if err := a.client.Call(ctx, "getBalance", []any{address}, &resp); err != nil {
		return nil, chain.Unavailable(err, "failed to get balance")
	}

	return new(big.Int).SetUint64(resp.Value), nil
}

func (a *Adapter) TokenBalance(ctx context.Context, token chain.Token, address string) (*big.Int, error) {
	if token.IsNative() {
		return a.NativeBalance(ctx, address)
	}

	accounts, err := a.tokenAccounts(ctx, address, token.Contract)
	if err != nil {
		return nil, err
	}

	total := new(big.Int)
	for _, acct := range accounts {
		amount, ok := new(big.Int).SetString(acct.amount, 10)
		if !ok {
			return nil, errors.Errorf("invalid token amount %q", acct.amount)
		}
		total.Add(total, amount)
	}

	return total, nil
}

func (a *Adapter) CurrentHeight(ctx context.Context) (int64, error) {
	var slot int64
	if err := a.client.Call(ctx, "getSlot", []any{map[string]string{"commitment": "confirmed"}}, &slot); err != nil {
		return 0, chain.Unavailable(err, "failed to get slot")
	}

	return slot, nil
}

func (a *Adapter) TransactionStatus(ctx context.Context, txHash string) (*chain.TxStatus, error) {
	var resp struct {
		Value []*struct {
			Slot               int64  `json:"slot"`
			Confirmations      *int64 `json:"confirmations"`
			ConfirmationStatus string `json:"confirmationStatus"`
			Err                any    `json:"err"`
		} `json:"value"`
	}
	params := []any{[]string{txHash}, map[string]bool{"searchTransactionHistory": true}}
	if err := a.client.Call(ctx, "getSignatureStatuses", params, &resp); err != nil {
		return nil, chain.Unavailable(err, "failed to get signature status")
	}

	if len(resp.Value) == 0 || resp.Value[0] == nil {
		return &chain.TxStatus{State: chain.TxPending}, nil
	}

	v := resp.Value[0]
	status := &chain.TxStatus{
		State:  chain.TxSuccess,
		Height: v.Slot,
	}
	switch {
	case v.Err != nil:
		status.State = chain.TxFailed
	case v.ConfirmationStatus == "processed":
		status.State = chain.TxPending
	}

	// A finalized transaction reports confirmations as null; treat the current
	// slot distance as the confirmation count so callers see it monotone.
	if v.Confirmations != nil {
		status.Confirmations = *v.Confirmations
	} else {
		height, err := a.CurrentHeight(ctx)
		if err != nil {
			return nil, err
		}
		status.Confirmations = height - v.Slot
	}

	return status, nil
}

// TransferLogs walks the recent signature history of toAddress and extracts
// transfers of token. Paging rides on the signature page size; the cursor is
// the slot of the last signature covered.
func (a *Adapter) TransferLogs(ctx context.Context, token chain.Token, toAddress string, fromHeight int64) ([]chain.TransferLog, int64, error) {
	var sigs []struct {
		Signature string `json:"signature"`
		Slot      int64  `json:"slot"`
		Err       any    `json:"err"`
	}
	params := []any{toAddress, map[string]any{"limit": a.cfg.SigPerPage, "commitment": "confirmed"}}
	if err := a.client.Call(ctx, "getSignaturesForAddress", params, &sigs); err != nil {
		return nil, 0, chain.Unavailable(err, "failed to get signatures for address")
	}

	// Token transfers land on the wallet's token accounts, not the wallet
	// address itself. Resolve them up front so instruction destinations can
	// be matched against accounts the wallet actually owns.
	ownedTokenAccounts := map[string]struct{}{}
	if !token.IsNative() {
		accounts, err := a.tokenAccounts(ctx, toAddress, token.Contract)
		if err != nil {
			return nil, 0, err
		}
		for _, acct := range accounts {
			ownedTokenAccounts[acct.pubkey] = struct{}{}
		}
	}

	covered := fromHeight - 1
	var transfers []chain.TransferLog
	for i := len(sigs) - 1; i >= 0; i-- {
		sig := sigs[i]
		if sig.Slot < fromHeight || sig.Err != nil {
			continue
		}
		if sig.Slot > covered {
			covered = sig.Slot
		}

		found, err := a.transfersInTransaction(ctx, sig.Signature, sig.Slot, token, toAddress, ownedTokenAccounts)
		if err != nil {
			return nil, 0, err
		}
		transfers = append(transfers, found...)
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

func (a *Adapter) transfersInTransaction(ctx context.Context, signature string, slot int64, token chain.Token, toAddress string, ownedTokenAccounts map[string]struct{}) ([]chain.TransferLog, error) {
	var resp *struct {
		Transaction struct {
			Message struct {
				Instructions []struct {
					Program string `json:"program"`
					Parsed  *struct {
						Type string `json:"type"`
						Info struct {
							Source      string `json:"source"`
							Destination string `json:"destination"`
							Authority   string `json:"authority"`
							Lamports    uint64 `json:"lamports"`
							Amount      string `json:"amount"`
							Mint        string `json:"mint"`
							TokenAmount struct {
								Amount string `json:"amount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"instructions"`
			} `json:"message"`
		} `json:"transaction"`
	}
	params := []any{signature, map[string]any{"encoding": "jsonParsed", "maxSupportedTransactionVersion": 0}}
	if err := a.client.Call(ctx, "getTransaction", params, &resp); err != nil {
		return nil, chain.Unavailable(err, "failed to get transaction")
	}
	if resp == nil {
		return nil, nil
	}

	var transfers []chain.TransferLog
	for _, ins := range resp.Transaction.Message.Instructions {
		if ins.Parsed == nil {
			continue
		}
		info := ins.Parsed.Info

		switch {
		case token.IsNative() && ins.Program == "system" && ins.Parsed.Type == "transfer" && info.Destination == toAddress:
			transfers = append(transfers, chain.TransferLog{
				TxHash: signature,
				From:   info.Source,
				Amount: new(big.Int).SetUint64(info.Lamports),
				Height: slot,
			})
		case !token.IsNative() && ins.Program == "spl-token" &&
			(ins.Parsed.Type == "transfer" || ins.Parsed.Type == "transferChecked"):
			// Only credit transfers landing on a token account the wallet
			// owns for this mint; anything else in the transaction is some
			// other party's movement.
			if _, ok := ownedTokenAccounts[info.Destination]; !ok {
				continue
			}
			if ins.Parsed.Type == "transferChecked" && info.Mint != token.Contract {
				continue
			}
			raw := info.Amount
			if raw == "" {
				raw = info.TokenAmount.Amount
			}
			amount, ok := new(big.Int).SetString(raw, 10)
			if !ok {
				continue
			}
			transfers = append(transfers, chain.TransferLog{
				TxHash: signature,
				From:   info.Authority,
				Amount: amount,
				Height: slot,
			})
		}
	}

	return transfers, nil
}

type tokenAccount struct {
	pubkey string
	amount string
}

func (a *Adapter) tokenAccounts(ctx context.Context, owner, mint string) ([]tokenAccount, error) {
	var resp struct {
		Value []struct {
			Pubkey  string `json:"pubkey"`
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								Amount string `json:"amount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	params := []any{owner, map[string]string{"mint": mint}, map[string]string{"encoding": "jsonParsed"}}
	if err := a.client.Call(ctx, "getTokenAccountsByOwner", params, &resp); err != nil {
		return nil, chain.Unavailable(err, "failed to get token accounts")
	}

	accounts := make([]tokenAccount, 0, len(resp.Value))
	for _, v := range resp.Value {
		accounts = append(accounts, tokenAccount{
			pubkey: v.Pubkey,
			amount: v.Account.Data.Parsed.Info.TokenAmount.Amount,
		})
	}

	return accounts, nil
}

// SignAndSend builds a single-transfer transaction, signs it locally with the
// ed25519 key and broadcasts it.
func (a *Adapter) SignAndSend(ctx context.Context, privateKey []byte, token chain.Token, toAddress string, amount *big.Int) (string, error) {
	if len(privateKey) != ed25519.SeedSize && len(privateKey) != ed25519.PrivateKeySize {
		return "", errors.New("invalid ed25519 key material")
	}
	key := ed25519.PrivateKey(privateKey)
	if len(privateKey) == ed25519.SeedSize {
		key = ed25519.NewKeyFromSeed(privateKey)
	}
	from := keys.SolanaAddress(key.Public().(ed25519.PublicKey))

	var blockhashResp struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := a.client.Call(ctx, "getLatestBlockhash", []any{map[string]string{"commitment": "finalized"}}, &blockhashResp); err != nil {
		return "", chain.Unavailable(err, "failed to get latest blockhash")
	}

	var msg []byte
	var err error
	if token.IsNative() {
		msg, err = buildNativeTransferMessage(from, toAddress, blockhashResp.Value.Blockhash, amount.Uint64())
	} else {
		msg, err = a.buildTokenTransferMessage(ctx, from, toAddress, token, blockhashResp.Value.Blockhash, amount.Uint64())
	}
	if err != nil {
		return "", err
	}

	signature := ed25519.Sign(key, msg)
	raw := serializeTransaction(signature, msg)

	var txSig string
	params := []any{base64.StdEncoding.EncodeToString(raw), map[string]string{"encoding": "base64"}}
	if err := a.client.Call(ctx, "sendTransaction", params, &txSig); err != nil {
		return "", chain.Unavailable(err, "failed to send transaction")
	}

	return txSig, nil
}

func (a *Adapter) buildTokenTransferMessage(ctx context.Context, from, to string, token chain.Token, blockhash string, amount uint64) ([]byte, error) {
	sourceAccounts, err := a.tokenAccounts(ctx, from, token.Contract)
	if err != nil {
		return nil, err
	}
	if len(sourceAccounts) == 0 {
		return nil, errors.Wrap(chain.ErrInsufficientFunds, "hot wallet has no token account")
	}

	destAccounts, err := a.tokenAccounts(ctx, to, token.Contract)
	if err != nil {
		return nil, err
	}
	if len(destAccounts) == 0 {
		return nil, chain.Rejected(nil, "destination has no token account")
	}

	return buildTokenTransferMessage(from, sourceAccounts[0].pubkey, destAccounts[0].pubkey, blockhash, amount)
}

// EstimateFee returns the flat per-signature fee for a single-signer
// transfer, in lamports.
func (a *Adapter) EstimateFee(_ context.Context, _ chain.Token) (*big.Int, error) {
	return big.NewInt(lamportsPerSignature), nil
}
