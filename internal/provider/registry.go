package provider

import (
	"errors"
	"sort"
	"sync"
)

// Registry routes turn submissions to the adapter registered for a provider
// identifier. Process-wide shared state is guarded by a RWMutex so lookups
// from concurrent sessions never race registration at startup.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]StreamAdapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]StreamAdapter)}
}

// Register adds an adapter under its provider name.
func (r *Registry) Register(a StreamAdapter) error {
	if a == nil {
		return errors.New("registry: adapter cannot be nil")
	}
	if a.Name() == "" {
		return errors.New("registry: adapter name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
	return nil
}

// Lookup resolves a provider identifier to its adapter. Unknown identifiers
// are a client-side protocol error, not an upstream one.
func (r *Registry) Lookup(name string) (StreamAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, Errorf(KindProtocol, "unsupported provider %q", name)
	}
	return a, nil
}

// Names returns the registered provider identifiers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
