package chain

import (
	"github.com/pkg/errors"
)

// Error kinds per the money-movement taxonomy. Callers branch on the kind, not
// on message text: ErrChainUnavailable is retryable on the next cycle,
// ErrChainRejected is terminal for the transaction that caused it.
var (
	// ErrChainUnavailable marks a transient RPC or network fault.
	ErrChainUnavailable = errors.New("chain unavailable")

	// ErrChainRejected marks a transaction that failed or reverted on chain.
	ErrChainRejected = errors.New("transaction rejected on chain")

	// ErrInsufficientFunds marks a balance shortfall detected before any chain
	// call is attempted.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrLimitExceeded marks a tiered cap breach.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrDuplicateTransaction marks a uniqueness-constraint hit on a
	// transaction hash. Treated as success-no-op by scan paths.
	ErrDuplicateTransaction = errors.New("duplicate transaction")
)

// Unavailable wraps err as a transient chain fault.
func Unavailable(err error, msg string) error {
	if err == nil {
		return errors.Wrap(ErrChainUnavailable, msg)
	}
	return errors.Wrapf(ErrChainUnavailable, "%s: %v", msg, err)
}

// Rejected wraps err as a terminal on-chain rejection.
func Rejected(err error, msg string) error {
	if err == nil {
		return errors.Wrap(ErrChainRejected, msg)
	}
	return errors.Wrapf(ErrChainRejected, "%s: %v", msg, err)
}

// IsUnavailable reports whether err is a transient chain fault.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrChainUnavailable)
}

// IsRejected reports whether err is a terminal on-chain rejection.
func IsRejected(err error) bool {
	return errors.Is(err, ErrChainRejected)
}

// IsDuplicate reports whether err is a duplicate-transaction no-op.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateTransaction)
}
