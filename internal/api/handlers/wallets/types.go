package wallets

import (
	"time"

	"github.com/cobaltpay/custody/internal/store"
)

type WalletResponse struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	ChainID       string    `json:"chain_id"`
	TokenSymbol   string    `json:"token_symbol"`
	Address       string    `json:"address"`
	Balance       string    `json:"balance"`
	LockedBalance string    `json:"locked_balance"`
	CreatedAt     time.Time `json:"created_at"`
}

func newWalletResponse(w *store.Wallet) *WalletResponse {
	return &WalletResponse{
		ID:            w.ID,
		OwnerID:       w.OwnerID,
		ChainID:       w.ChainID,
		TokenSymbol:   w.TokenSymbol,
		Address:       w.Address,
		Balance:       w.Balance,
		LockedBalance: w.LockedBalance,
		CreatedAt:     w.CreatedAt,
	}
}

type TransactionResponse struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	ReferenceID string    `json:"reference_id"`
	WalletID    string    `json:"wallet_id"`
	OwnerID     string    `json:"owner_id"`
	Amount      string    `json:"amount"`
	TokenSymbol string    `json:"token_symbol"`
	ChainID     string    `json:"chain_id"`
	TxHash      *string   `json:"tx_hash,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func newTransactionResponse(lt *store.LedgerTransaction) *TransactionResponse {
	res := &TransactionResponse{
		ID:          lt.ID,
		Kind:        lt.Kind,
		ReferenceID: lt.ReferenceID,
		WalletID:    lt.WalletID,
		OwnerID:     lt.OwnerID,
		Amount:      lt.Amount,
		TokenSymbol: lt.TokenSymbol,
		ChainID:     lt.ChainID,
		Status:      lt.Status,
		CreatedAt:   lt.CreatedAt,
	}
	if lt.TxHash.Valid {
		res.TxHash = &lt.TxHash.String
	}

	return res
}
