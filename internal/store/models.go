package store

import (
	"math/big"
	"time"

	"github.com/aarondl/null/v8"
	"github.com/pkg/errors"
)

// Deposit lifecycle.
const (
	DepositStatusPending   = "pending"
	DepositStatusCompleted = "completed"
)

// Withdrawal lifecycle.
const (
	WithdrawalStatusPending    = "pending"
	WithdrawalStatusApproved   = "approved"
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusCompleted  = "completed"
	WithdrawalStatusFailed     = "failed"
	WithdrawalStatusCancelled  = "cancelled"
)

// Ledger entry lifecycle mirrors the movement it references.
const (
	LedgerStatusPending   = "pending"
	LedgerStatusCompleted = "completed"
	LedgerStatusFailed    = "failed"
	LedgerStatusCancelled = "cancelled"
)

// Ledger entry kinds.
const (
	LedgerKindDeposit    = "deposit"
	LedgerKindWithdrawal = "withdrawal"
)

// Payment lifecycle.
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
)

// Commission lifecycle.
const (
	CommissionStatusPending   = "pending"
	CommissionStatusConfirmed = "confirmed"
)

type Wallet struct {
	ID            string    `boil:"id"`
	OwnerID       string    `boil:"owner_id"`
	ChainID       string    `boil:"chain_id"`
	TokenSymbol   string    `boil:"token_symbol"`
	Address       string    `boil:"address"`
	Scheme        string    `boil:"scheme"`
	AddressIndex  int64     `boil:"address_index"`
	Balance       string    `boil:"balance"`
	LockedBalance string    `boil:"locked_balance"`
	CreatedAt     time.Time `boil:"created_at"`
	UpdatedAt     time.Time `boil:"updated_at"`
}

func (w *Wallet) BalanceBig() (*big.Int, error)       { return ParseAmount(w.Balance) }
func (w *Wallet) LockedBalanceBig() (*big.Int, error) { return ParseAmount(w.LockedBalance) }

// Available returns balance minus locked balance.
func (w *Wallet) Available() (*big.Int, error) {
	balance, err := ParseAmount(w.Balance)
	if err != nil {
		return nil, err
	}
	locked, err := ParseAmount(w.LockedBalance)
	if err != nil {
		return nil, err
	}

	return new(big.Int).Sub(balance, locked), nil
}

type Deposit struct {
	ID                    string    `boil:"id"`
	WalletID              string    `boil:"wallet_id"`
	TxHash                string    `boil:"tx_hash"`
	FromAddress           string    `boil:"from_address"`
	Amount                string    `boil:"amount"`
	BlockHeight           int64     `boil:"block_height"`
	Confirmations         int64     `boil:"confirmations"`
	RequiredConfirmations int64     `boil:"required_confirmations"`
	Status                string    `boil:"status"`
	Flagged               bool      `boil:"flagged"`
	CreatedAt             time.Time `boil:"created_at"`
	UpdatedAt             time.Time `boil:"updated_at"`
}

func (d *Deposit) AmountBig() (*big.Int, error) { return ParseAmount(d.Amount) }

type Withdrawal struct {
	ID            string      `boil:"id"`
	WalletID      string      `boil:"wallet_id"`
	ToAddress     string      `boil:"to_address"`
	Amount        string      `boil:"amount"`
	Fee           string      `boil:"fee"`
	ChainID       string      `boil:"chain_id"`
	TokenSymbol   string      `boil:"token_symbol"`
	Status        string      `boil:"status"`
	ApprovedBy    null.String `boil:"approved_by"`
	ApprovedAt    null.Time   `boil:"approved_at"`
	TxHash        null.String `boil:"tx_hash"`
	FailureReason null.String `boil:"failure_reason"`
	CreatedAt     time.Time   `boil:"created_at"`
	UpdatedAt     time.Time   `boil:"updated_at"`
}

func (w *Withdrawal) AmountBig() (*big.Int, error) { return ParseAmount(w.Amount) }

// ReservedBig is the total held for this withdrawal: amount plus the fee
// estimated at creation.
func (w *Withdrawal) ReservedBig() (*big.Int, error) {
	amount, err := ParseAmount(w.Amount)
	if err != nil {
		return nil, err
	}
	fee, err := ParseAmount(w.Fee)
	if err != nil {
		return nil, err
	}

	return new(big.Int).Add(amount, fee), nil
}

type LedgerTransaction struct {
	ID          string      `boil:"id"`
	Kind        string      `boil:"kind"`
	ReferenceID string      `boil:"reference_id"`
	WalletID    string      `boil:"wallet_id"`
	OwnerID     string      `boil:"owner_id"`
	Amount      string      `boil:"amount"`
	TokenSymbol string      `boil:"token_symbol"`
	ChainID     string      `boil:"chain_id"`
	TxHash      null.String `boil:"tx_hash"`
	Status      string      `boil:"status"`
	CreatedAt   time.Time   `boil:"created_at"`
	UpdatedAt   time.Time   `boil:"updated_at"`
}

type ScanCursor struct {
	ChainID    string    `boil:"chain_id"`
	LastHeight int64     `boil:"last_height"`
	UpdatedAt  time.Time `boil:"updated_at"`
}

type DepositFlag struct {
	ID          string    `boil:"id"`
	DepositID   string    `boil:"deposit_id"`
	OwnerID     string    `boil:"owner_id"`
	Reason      string    `boil:"reason"`
	WindowTotal string    `boil:"window_total"`
	TierCap     string    `boil:"tier_cap"`
	CreatedAt   time.Time `boil:"created_at"`
}

type Payment struct {
	ID            string      `boil:"id"`
	OrderID       string      `boil:"order_id"`
	ChainID       string      `boil:"chain_id"`
	TxHash        null.String `boil:"tx_hash"`
	PayerAddress  null.String `boil:"payer_address"`
	Amount        null.String `boil:"amount"`
	TokenSymbol   null.String `boil:"token_symbol"`
	APIKeyID      null.String `boil:"api_key_id"`
	CommissionBPS int         `boil:"commission_bps"`
	Status        string      `boil:"status"`
	PaidAt        null.Time   `boil:"paid_at"`
	CreatedAt     time.Time   `boil:"created_at"`
	UpdatedAt     time.Time   `boil:"updated_at"`
}

type Commission struct {
	ID          string    `boil:"id"`
	APIKeyID    string    `boil:"api_key_id"`
	OrderID     string    `boil:"order_id"`
	Amount      string    `boil:"amount"`
	TokenSymbol string    `boil:"token_symbol"`
	ChainID     string    `boil:"chain_id"`
	Status      string    `boil:"status"`
	CreatedAt   time.Time `boil:"created_at"`
	UpdatedAt   time.Time `boil:"updated_at"`
}

// ParseAmount parses a base-10 numeric column value into a big integer.
// Amounts are stored as NUMERIC(78, 0) so every chain's smallest unit fits
// without loss.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.Errorf("invalid amount %q", s)
	}

	return v, nil
}

// FormatAmount renders a big integer for a NUMERIC column. Nil formats as zero.
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}

	return v.String()
}
