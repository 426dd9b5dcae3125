package provider

import (
	"fmt"
	"sync"

	"github.com/marketcore/aggregator/internal/domain"
)

// Registry holds every configured Adapter, keyed by name. It is the single
// place the router, orchestrator, and admin surface go to enumerate or
// look up adapters, grounded on the teacher's DefaultProviderRegistry
// (internal/provider/registry.go) but stripped of the health-loop and
// circuit-breaker concerns that now live in internal/health and
// internal/resilience respectively.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its own Name(). Registering the same name
// twice is a programmer error, not a runtime condition, so it returns an
// error rather than silently overwriting.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if name == "" {
		return fmt.Errorf("provider: adapter must have a non-empty name")
	}
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("provider: adapter %q already registered", name)
	}
	r.adapters[name] = a
	return nil
}

// Get retrieves an adapter by name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// All returns every registered adapter, in no particular order.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// SupportingSymbol returns every registered adapter whose symbol table
// maps the given symbol, the eligibility prefilter the router applies
// before ranking (spec.md §4.4).
func (r *Registry) SupportingSymbol(symbol domain.Symbol) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		if a.SupportsSymbol(symbol) {
			out = append(out, a)
		}
	}
	return out
}

// Names returns the registered adapter names, in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	return out
}
