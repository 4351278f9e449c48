package withdrawals

import (
	"time"

	"github.com/cobaltpay/custody/internal/store"
)

type WithdrawalResponse struct {
	ID            string     `json:"id"`
	WalletID      string     `json:"wallet_id"`
	ToAddress     string     `json:"to_address"`
	Amount        string     `json:"amount"`
	Fee           string     `json:"fee"`
	ChainID       string     `json:"chain_id"`
	TokenSymbol   string     `json:"token_symbol"`
	Status        string     `json:"status"`
	ApprovedBy    *string    `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	TxHash        *string    `json:"tx_hash,omitempty"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func newWithdrawalResponse(w *store.Withdrawal) *WithdrawalResponse {
	res := &WithdrawalResponse{
		ID:          w.ID,
		WalletID:    w.WalletID,
		ToAddress:   w.ToAddress,
		Amount:      w.Amount,
		Fee:         w.Fee,
		ChainID:     w.ChainID,
		TokenSymbol: w.TokenSymbol,
		Status:      w.Status,
		CreatedAt:   w.CreatedAt,
	}
	if w.ApprovedBy.Valid {
		res.ApprovedBy = &w.ApprovedBy.String
	}
	if w.ApprovedAt.Valid {
		res.ApprovedAt = &w.ApprovedAt.Time
	}
	if w.TxHash.Valid {
		res.TxHash = &w.TxHash.String
	}
	if w.FailureReason.Valid {
		res.FailureReason = &w.FailureReason.String
	}

	return res
}
