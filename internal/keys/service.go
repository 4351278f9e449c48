package keys

import (
	"github.com/pkg/errors"

	"github.com/cobaltpay/custody/internal/chain"
)

// Service turns the master seed plus a (chain family, owner index) pair into a
// deterministic keypair and chain-specific address. Derivation is a pure
// function of (seed, family, index): the same inputs always yield byte
// identical output, so nothing beyond the derivation coordinates ever needs to
// be persisted.
//
// Callers that receive private key material must zero it after use.
type Service interface {
	// Derive returns the address and private key material at index for the
	// given chain family.
	Derive(family chain.Family, index uint32) (string, []byte, error)

	// Address returns only the address at index (key material is derived and
	// zeroed internally).
	Address(family chain.Family, index uint32) (string, error)

	// ValidAddress reports whether address is well-formed for the family.
	ValidAddress(family chain.Family, address string) bool
}

type service struct {
	seeds SeedManager
}

// NewService creates a derivation service backed by the seed manager.
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(seeds SeedManager) (Service, error) {
	if seeds == nil {
		return nil, errors.New("seed manager is required")
	}

	return &service{seeds: seeds}, nil
}

func (s *service) Derive(family chain.Family, index uint32) (string, []byte, error) {
	seed := s.seeds.Seed()
	if seed == nil {
		return "", nil, errors.New("seed not initialized")
	}
	defer Zero(seed)

	switch family {
	case chain.FamilyEVM:
		return deriveSecp256k1(seed, index)
	case chain.FamilySolana, chain.FamilySui, chain.FamilyFilecoin:
		return deriveEd25519(seed, family, index)
	default:
		return "", nil, errors.Errorf("unsupported chain family: %s", family)
	}
}

func (s *service) Address(family chain.Family, index uint32) (string, error) {
	address, priv, err := s.Derive(family, index)
	if err != nil {
		return "", err
	}
	Zero(priv)

	return address, nil
}

func (s *service) ValidAddress(family chain.Family, address string) bool {
	switch family {
	case chain.FamilyEVM:
		return validEVMAddress(address)
	case chain.FamilySolana:
		return validSolanaAddress(address)
	case chain.FamilySui:
		return validSuiAddress(address)
	case chain.FamilyFilecoin:
		return validActorAddress(address)
	default:
		return false
	}
}
