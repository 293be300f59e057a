package transport

import (
	"fmt"
	"sort"
	"strings"

	ksync "github.com/snldzo7/kyano-dashboard-project-sub001/internal/sync"
)

// Factory builds a transport from settings.
type Factory func(s Settings) (Transport, error)

// Registry maps backend names to factories.
type Registry struct {
	mu        ksync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering a name twice is an error.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("transport %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// New builds the transport registered under name.
func (r *Registry) New(name string, s Settings) (Transport, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown transport %q (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	return f(s)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
