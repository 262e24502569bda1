package integration

import (
	"sort"
	"sync"
)

// Registry manages available integration adapters
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	registry := &Registry{
		adapters: make(map[string]Adapter),
	}

	registry.Register(&Unintegrated{})
	registry.Register(&Centered{})

	return registry
}

// Register replaces any adapter of the same name
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, exists := r.adapters[name]
	return a, exists
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
