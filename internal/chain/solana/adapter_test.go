package solana

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltpay/custody/internal/chain"
)

const (
	testWallet       = "WaLLeT1111111111111111111111111111111111111"
	testMint         = "USDCMint111111111111111111111111111111111111"
	testTokenAccount = "WaLLeTTokenAcct11111111111111111111111111111"
)

type rpcHandler func(params json.RawMessage) any

func newRPCServer(t *testing.T, handlers map[string]rpcHandler) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		handler, ok := handlers[req.Method]
		require.True(t, ok, "unexpected rpc method %s", req.Method)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  handler(req.Params),
		})
	}))
}

func signatureList() any {
	return []map[string]any{
		{"signature": "sig1", "slot": 100, "err": nil},
	}
}

func walletTokenAccounts() any {
	return map[string]any{
		"value": []map[string]any{
			{
				"pubkey": testTokenAccount,
				"account": map[string]any{
					"data": map[string]any{
						"parsed": map[string]any{
							"info": map[string]any{
								"tokenAmount": map[string]any{"amount": "0"},
							},
						},
					},
				},
			},
		},
	}
}

func splTransferTx(instructions ...map[string]any) any {
	return map[string]any{
		"transaction": map[string]any{
			"message": map[string]any{"instructions": instructions},
		},
	}
}

func transferLogsWith(t *testing.T, tx any) []chain.TransferLog {
	t.Helper()

	srv := newRPCServer(t, map[string]rpcHandler{
		"getSignaturesForAddress": func(json.RawMessage) any { return signatureList() },
		"getTokenAccountsByOwner": func(json.RawMessage) any { return walletTokenAccounts() },
		"getTransaction":          func(json.RawMessage) any { return tx },
	})
	t.Cleanup(srv.Close)

	adapter := New(Config{Chain: "solana", RPCURL: srv.URL})
	token := chain.Token{Symbol: "USDC", Contract: testMint, Decimals: 6}

	logs, covered, err := adapter.TransferLogs(t.Context(), token, testWallet, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), covered)

	return logs
}

func TestTransferLogsIgnoresTokenTransfersToOtherAccounts(t *testing.T) {
	logs := transferLogsWith(t, splTransferTx(map[string]any{
		"program": "spl-token",
		"parsed": map[string]any{
			"type": "transfer",
			"info": map[string]any{
				"source":      "AttackerTokenAcct111111111111111111111111111",
				"destination": "SomeoneElsesTokenAcct11111111111111111111111",
				"authority":   "Attacker111111111111111111111111111111111111",
				"amount":      "999999",
			},
		},
	}))

	assert.Empty(t, logs)
}

func TestTransferLogsAcceptsTokenTransferToOwnedAccount(t *testing.T) {
	logs := transferLogsWith(t, splTransferTx(map[string]any{
		"program": "spl-token",
		"parsed": map[string]any{
			"type": "transfer",
			"info": map[string]any{
				"source":      "SenderTokenAcct11111111111111111111111111111",
				"destination": testTokenAccount,
				"authority":   "Sender11111111111111111111111111111111111111",
				"amount":      "250000",
			},
		},
	}))

	require.Len(t, logs, 1)
	assert.Equal(t, "sig1", logs[0].TxHash)
	assert.Equal(t, "Sender11111111111111111111111111111111111111", logs[0].From)
	assert.Equal(t, "250000", logs[0].Amount.String())
	assert.Equal(t, int64(100), logs[0].Height)
}

func TestTransferLogsRejectsTransferCheckedWrongMint(t *testing.T) {
	logs := transferLogsWith(t, splTransferTx(map[string]any{
		"program": "spl-token",
		"parsed": map[string]any{
			"type": "transferChecked",
			"info": map[string]any{
				"source":      "SenderTokenAcct11111111111111111111111111111",
				"destination": testTokenAccount,
				"authority":   "Sender11111111111111111111111111111111111111",
				"mint":        "OtherMint11111111111111111111111111111111111",
				"tokenAmount": map[string]any{"amount": "500000"},
			},
		},
	}))

	assert.Empty(t, logs)
}

func TestTransferLogsAcceptsTransferCheckedMatchingMint(t *testing.T) {
	logs := transferLogsWith(t, splTransferTx(map[string]any{
		"program": "spl-token",
		"parsed": map[string]any{
			"type": "transferChecked",
			"info": map[string]any{
				"source":      "SenderTokenAcct11111111111111111111111111111",
				"destination": testTokenAccount,
				"authority":   "Sender11111111111111111111111111111111111111",
				"mint":        testMint,
				"tokenAmount": map[string]any{"amount": "500000"},
			},
		},
	}))

	require.Len(t, logs, 1)
	assert.Equal(t, "500000", logs[0].Amount.String())
}
