package keys

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
)

// SeedManager holds the master seed in memory with thread-safe access. The
// seed is the only secret the derivation service needs; every address and key
// is re-derivable from it.
type SeedManager interface {
	// Initialize derives the master seed from mnemonic and passphrase.
	Initialize(mnemonic string, passphrase string) error

	// Seed returns a copy of the seed, or nil when not initialized.
	Seed() []byte

	// IsInitialized reports whether a seed is loaded.
	IsInitialized() bool

	// Clear zeroes the seed in memory.
	Clear()
}

type seedManager struct {
	mu          sync.RWMutex
	seed        []byte
	initialized bool
}

// NewSeedManager creates an empty SeedManager.
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewSeedManager() SeedManager {
	return &seedManager{}
}

func (m *seedManager) Initialize(mnemonic string, passphrase string) error {
	if !bip39.IsMnemonicValid(mnemonic) {
		return errors.New("invalid mnemonic")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// BIP39: seed = PBKDF2(mnemonic, "mnemonic"+passphrase, 2048, 64, SHA512)
	m.seed = bip39.NewSeed(mnemonic, passphrase)
	m.initialized = true

	return nil
}

func (m *seedManager) Seed() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized || m.seed == nil {
		return nil
	}

	seedCopy := make([]byte, len(m.seed))
	copy(seedCopy, m.seed)
	return seedCopy
}

func (m *seedManager) IsInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.initialized
}

func (m *seedManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	Zero(m.seed)
	m.seed = nil
	m.initialized = false
}

// Zero overwrites key material in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
