package strategy

import (
	"sort"
	"sync"

	"multistrat/internal/errors"
	"multistrat/internal/schema"
)

// Spec describes one configured strategy. New strategies register here at
// startup; the core never needs modification to learn about them.
type Spec struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// Registry holds the strategies allowed to attribute fills. It is populated
// from configuration at startup and read concurrently afterwards.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds a strategy. Registering the reserved unattributed name or a
// duplicate name is a configuration error.
func (r *Registry) Register(s Spec) error {
	if s.Name == "" {
		return errors.New("strategy name is empty")
	}
	if s.Name == schema.StrategyUnattributed {
		return errors.Errorf("strategy name %q is reserved", s.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.specs[s.Name]; ok {
		return errors.Errorf("strategy already registered: %s", s.Name)
	}
	r.specs[s.Name] = s
	return nil
}

// Lookup returns the spec for a strategy name.
func (r *Registry) Lookup(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// Names returns the registered strategy names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered strategies.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}
