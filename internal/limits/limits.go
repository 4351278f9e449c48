// Package limits implements verification-tier caps for deposits and
// withdrawals. Tier definitions come from configuration; tier membership
// is managed at runtime through the admin API and defaults to the
// configured tier for unknown owners.
package limits

import (
	"context"
	"math/big"
	"sync"

	"github.com/pkg/errors"

	"github.com/cobaltpay/custody/internal/config"
)

var ErrLimitExceeded = errors.New("limits: cap exceeded")

// Tier holds parsed caps. A nil or zero WithdrawalLifetimeCap means the
// tier cannot withdraw at all.
type Tier struct {
	Name                  string
	DepositWindowCap      *big.Int
	WithdrawalLifetimeCap *big.Int
}

// Resolver maps an owner to their verification tier.
type Resolver interface {
	TierOf(ctx context.Context, ownerID string) (Tier, error)
}

type StaticResolver struct {
	mu          sync.RWMutex
	tiers       map[string]Tier
	assignments map[string]string
	defaultTier string
}

func NewStaticResolver(cfg config.Limits) (*StaticResolver, error) {
	tiers := make(map[string]Tier, len(cfg.Tiers))
	for name, tc := range cfg.Tiers {
		depositCap, ok := new(big.Int).SetString(tc.DepositWindowCap, 10)
		if !ok {
			return nil, errors.Errorf("invalid deposit cap %q for tier %s", tc.DepositWindowCap, name)
		}
		withdrawalCap, ok := new(big.Int).SetString(tc.WithdrawalLifetimeCap, 10)
		if !ok {
			return nil, errors.Errorf("invalid withdrawal cap %q for tier %s", tc.WithdrawalLifetimeCap, name)
		}
		tiers[name] = Tier{Name: name, DepositWindowCap: depositCap, WithdrawalLifetimeCap: withdrawalCap}
	}
	if _, ok := tiers[cfg.DefaultTier]; !ok {
		return nil, errors.Errorf("default tier %q is not defined", cfg.DefaultTier)
	}

	return &StaticResolver{
		tiers:       tiers,
		assignments: map[string]string{},
		defaultTier: cfg.DefaultTier,
	}, nil
}

func (r *StaticResolver) TierOf(_ context.Context, ownerID string) (Tier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.assignments[ownerID]
	if !ok {
		name = r.defaultTier
	}

	return r.tiers[name], nil
}

// Assign moves an owner to the named tier.
func (r *StaticResolver) Assign(ownerID, tier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tiers[tier]; !ok {
		return errors.Errorf("unknown tier %q", tier)
	}
	r.assignments[ownerID] = tier

	return nil
}

// Tiers returns the defined tier names.
func (r *StaticResolver) Tiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tiers))
	for name := range r.tiers {
		names = append(names, name)
	}

	return names
}

// CheckWithdrawal verifies that approving an additional amount keeps the
// owner within their lifetime cap. A zero cap blocks all withdrawals.
func CheckWithdrawal(tier Tier, lifetimeTotal, amount *big.Int) error {
	if tier.WithdrawalLifetimeCap == nil || tier.WithdrawalLifetimeCap.Sign() == 0 {
		return errors.Wrapf(ErrLimitExceeded, "tier %s cannot withdraw", tier.Name)
	}

	next := new(big.Int).Add(lifetimeTotal, amount)
	if next.Cmp(tier.WithdrawalLifetimeCap) > 0 {
		return errors.Wrapf(ErrLimitExceeded, "lifetime withdrawal total %s exceeds tier %s cap %s",
			next.String(), tier.Name, tier.WithdrawalLifetimeCap.String())
	}

	return nil
}

// DepositWindowExceeded reports whether a trailing-window deposit total
// breached the tier cap. Deposits are still credited either way; the
// caller only records a review flag.
func DepositWindowExceeded(tier Tier, windowTotal *big.Int) bool {
	if tier.DepositWindowCap == nil || tier.DepositWindowCap.Sign() == 0 {
		return false
	}

	return windowTotal.Cmp(tier.DepositWindowCap) > 0
}
