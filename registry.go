package nlp

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
)

// Factory builds the model registered under name.
type Factory func(ctx context.Context, name string) (Model, error)

// Registry maps bare model names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding the built-in models: the
// English pipeline under "en" and the aliases "en_core_web_sm" and
// "en_core_web_md".
func DefaultRegistry() *Registry {
	r := NewRegistry()
	english := func(_ context.Context, name string) (Model, error) {
		return newEnglishModel(name)
	}
	for _, name := range []string{"en", "en_core_web_sm", "en_core_web_md"} {
		r.factories[name] = english
	}
	return r
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return errors.New("model name cannot be empty")
	}
	if f == nil {
		return errors.Errorf("nil factory for model %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return errors.Errorf("model already registered: %q", name)
	}
	r.factories[name] = f
	return nil
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
