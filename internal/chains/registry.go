package chains

import (
	"fmt"
	"sync"

	"custody-service/internal/domain"
)

// Registry holds the Chain implementation for each supported network.
type Registry struct {
	chains map[domain.Network]domain.Chain
	mu     sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		chains: make(map[domain.Network]domain.Chain),
	}
}

// Register adds a chain to the registry.
func (r *Registry) Register(chain domain.Chain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[chain.Network()] = chain
}

// Get retrieves the chain for a network.
func (r *Registry) Get(network domain.Network) (domain.Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain, ok := r.chains[network]
	if !ok {
		return nil, fmt.Errorf("network not supported: %s", network)
	}

	return chain, nil
}

// List returns all registered networks.
func (r *Registry) List() []domain.Network {
	r.mu.RLock()
	defer r.mu.RUnlock()

	networks := make([]domain.Network, 0, len(r.chains))
	for network := range r.chains {
		networks = append(networks, network)
	}

	return networks
}
