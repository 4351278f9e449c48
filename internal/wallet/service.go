// Package wallet issues per-customer deposit addresses. Every wallet is
// backed by a deterministic derivation index, so the address set can be
// rebuilt from the seed alone.
package wallet

import (
	"context"

	"github.com/pkg/errors"

	"github.com/cobaltpay/custody/internal/chain"
	"github.com/cobaltpay/custody/internal/config"
	"github.com/cobaltpay/custody/internal/keys"
	"github.com/cobaltpay/custody/internal/store"
	"github.com/cobaltpay/custody/internal/util"
)

var ErrUnknownToken = errors.New("wallet: token not configured for chain")

type Service interface {
	// IssueDepositAddress returns the wallet for (owner, chain, token),
	// creating it with a fresh derivation index on first use. Repeated
	// calls return the same address.
	IssueDepositAddress(ctx context.Context, ownerID, chainID, tokenSymbol string) (*store.Wallet, error)
	GetWallet(ctx context.Context, id string) (*store.Wallet, error)
	ListWallets(ctx context.Context, ownerID string) ([]*store.Wallet, error)
}

type service struct {
	store    *store.Store
	keys     keys.Service
	registry *chain.Registry
	chains   map[string]config.Chain
}

//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(st *store.Store, keyService keys.Service, registry *chain.Registry, chains []config.Chain) (Service, error) {
	byID := make(map[string]config.Chain, len(chains))
	for _, c := range chains {
		byID[c.ID] = c
	}

	return &service{
		store:    st,
		keys:     keyService,
		registry: registry,
		chains:   byID,
	}, nil
}

func (s *service) IssueDepositAddress(ctx context.Context, ownerID, chainID, tokenSymbol string) (*store.Wallet, error) {
	log := util.LogFromContext(ctx)

	adapter, err := s.registry.Get(chainID)
	if err != nil {
		return nil, err
	}
	if err := s.validateToken(chainID, tokenSymbol); err != nil {
		return nil, err
	}

	existing, err := s.store.GetWalletByOwner(ctx, ownerID, chainID, tokenSymbol)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	w := &store.Wallet{
		OwnerID:     ownerID,
		ChainID:     chainID,
		TokenSymbol: tokenSymbol,
		Scheme:      schemeFor(adapter.Family()),
	}
	err = s.store.IssueWallet(ctx, w, func(index int64) (string, error) {
		address, privateKey, err := s.keys.Derive(adapter.Family(), uint32(index))
		if err != nil {
			return "", err
		}
		keys.Zero(privateKey)

		return address, nil
	})
	if errors.Is(err, store.ErrWalletExists) {
		// Lost a concurrent first-issue race; the winner's row is the
		// canonical wallet.
		return s.store.GetWalletByOwner(ctx, ownerID, chainID, tokenSymbol)
	}
	if err != nil {
		log.Error().Err(err).Str("owner_id", ownerID).Str("chain_id", chainID).Msg("Failed to issue deposit address")
		return nil, err
	}

	log.Info().
		Str("owner_id", ownerID).
		Str("chain_id", chainID).
		Str("token_symbol", tokenSymbol).
		Str("address", w.Address).
		Int64("address_index", w.AddressIndex).
		Msg("Issued deposit address")

	return w, nil
}

func (s *service) GetWallet(ctx context.Context, id string) (*store.Wallet, error) {
	return s.store.GetWallet(ctx, id)
}

func (s *service) ListWallets(ctx context.Context, ownerID string) ([]*store.Wallet, error) {
	return s.store.ListWalletsByOwner(ctx, ownerID)
}

func (s *service) validateToken(chainID, tokenSymbol string) error {
	cfg, ok := s.chains[chainID]
	if !ok {
		return nil
	}
	for _, token := range cfg.Tokens {
		if token.Symbol == tokenSymbol {
			return nil
		}
	}

	return errors.Wrapf(ErrUnknownToken, "%s on %s", tokenSymbol, chainID)
}

// schemeFor names the derivation index namespace. All EVM chains share one
// secp256k1 index space (the same address works on every EVM chain); each
// ed25519 chain keeps its own hardened index space.
func schemeFor(family chain.Family) string {
	if family == chain.FamilyEVM {
		return "secp256k1"
	}

	return string(family)
}
