package chain

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Registry maps chain identifiers to their Adapter. Dispatch goes through the
// registry instead of branching on chain names at call sites.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter under its chain identifier. Registering the same
// chain twice replaces the previous adapter.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[adapter.Chain()] = adapter
}

// Get returns the adapter for the given chain.
func (r *Registry) Get(chainID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[chainID]
	if !ok {
		return nil, errors.Errorf("no adapter registered for chain %q", chainID)
	}

	return adapter, nil
}

// Chains returns the registered chain identifiers in stable order.
func (r *Registry) Chains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chains := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		chains = append(chains, id)
	}
	sort.Strings(chains)

	return chains
}

// EVMChains returns the registered chain identifiers of the EVM family.
func (r *Registry) EVMChains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chains := make([]string, 0, len(r.adapters))
	for id, adapter := range r.adapters {
		if adapter.Family() == FamilyEVM {
			chains = append(chains, id)
		}
	}
	sort.Strings(chains)

	return chains
}
