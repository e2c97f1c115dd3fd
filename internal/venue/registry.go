package venue

import (
	"sync"

	"github.com/mExOms/execution-gateway/pkg/types"
)

// Registry maps venue names to adapters. Registration replaces any
// existing adapter for the name so an operator can swap a venue
// implementation without restarting the gateway.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register binds an adapter to a venue name.
func (r *Registry) Register(name string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[name] = adapter
}

// Get returns the adapter for a venue name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[name]
	if !ok {
		return nil, types.NewExecutionError("venue adapter not found: %s", name)
	}
	return adapter, nil
}

// Names lists the registered venue names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// Remove unregisters a venue.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.adapters, name)
}
