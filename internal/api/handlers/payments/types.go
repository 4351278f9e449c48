package payments

import (
	"time"

	"github.com/cobaltpay/custody/internal/store"
)

type PaymentResponse struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"order_id"`
	ChainID       string     `json:"chain_id"`
	TxHash        *string    `json:"tx_hash,omitempty"`
	PayerAddress  *string    `json:"payer_address,omitempty"`
	Amount        *string    `json:"amount,omitempty"`
	TokenSymbol   *string    `json:"token_symbol,omitempty"`
	CommissionBPS int        `json:"commission_bps"`
	Status        string     `json:"status"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func newPaymentResponse(p *store.Payment) *PaymentResponse {
	res := &PaymentResponse{
		ID:            p.ID,
		OrderID:       p.OrderID,
		ChainID:       p.ChainID,
		CommissionBPS: p.CommissionBPS,
		Status:        p.Status,
		CreatedAt:     p.CreatedAt,
	}
	if p.TxHash.Valid {
		res.TxHash = &p.TxHash.String
	}
	if p.PayerAddress.Valid {
		res.PayerAddress = &p.PayerAddress.String
	}
	if p.Amount.Valid {
		res.Amount = &p.Amount.String
	}
	if p.TokenSymbol.Valid {
		res.TokenSymbol = &p.TokenSymbol.String
	}
	if p.PaidAt.Valid {
		res.PaidAt = &p.PaidAt.Time
	}

	return res
}
