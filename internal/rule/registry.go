package rule

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Options is rule-specific configuration (opaque to the runner).
type Options map[string]any

// String returns a string option or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// Strings returns a list option or def. A single string is accepted as a
// one-element list.
func (o Options) Strings(key string, def []string) []string {
	switch v := o[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return def
}

// Bool returns a boolean option or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key].(bool); ok {
		return v
	}
	return def
}

// Factory constructs a rule with the provided options.
type Factory func(Options) (Rule, error)

// Registry maintains known rule factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register installs a rule factory. Returns an error if the ID already exists.
func (r *Registry) Register(id string, factory Factory) error {
	if id == "" {
		return fmt.Errorf("rule: id is required")
	}
	if factory == nil {
		return fmt.Errorf("rule: factory is required for %s", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("rule: %s already registered", id)
	}
	r.factories[id] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(id string, factory Factory) {
	if err := r.Register(id, factory); err != nil {
		panic(err)
	}
}

// Resolve constructs a rule by ID.
func (r *Registry) Resolve(id string, opts Options) (Rule, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("rule: unknown id %s", id)
	}
	if opts == nil {
		opts = Options{}
	}
	rl, err := factory(opts)
	if err != nil {
		return nil, err
	}
	if err := rl.Info().Validate(); err != nil {
		return nil, err
	}
	if rl.Info().ID != id {
		return nil, fmt.Errorf("rule: factory for %s built %s", id, rl.Info().ID)
	}
	return rl, nil
}

// IDs returns a sorted list of registered rule identifiers.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
