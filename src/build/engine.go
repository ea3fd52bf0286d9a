package build

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sofmeright/dockrun/src/pipeline"
)

// Capability is the unit of work behind a plugin name. Run receives the
// shared build context and the plugin's resolved arguments, and returns
// what the plugin contributes to the context. A nil contribution is fine.
type Capability interface {
	Run(ctx context.Context, bc *Context, args *pipeline.Map) (*Contribution, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, bc *Context, args *pipeline.Map) (*Contribution, error)

func (f CapabilityFunc) Run(ctx context.Context, bc *Context, args *pipeline.Map) (*Contribution, error) {
	return f(ctx, bc, args)
}

// ErrRegistryFrozen is returned by Register once the registry has been
// handed to an orchestrator.
var ErrRegistryFrozen = errors.New("registry is frozen")

// Registry maps plugin names to capabilities. Registration happens during
// startup; after Freeze the registry is read-only and safe to share
// between concurrent runs.
type Registry struct {
	mu     sync.RWMutex
	caps   map[string]Capability
	frozen bool
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{caps: map[string]Capability{}}
}

// Register associates name with a capability.
func (r *Registry) Register(name string, c Capability) error {
	if name == "" {
		return fmt.Errorf("build: plugin name must not be empty")
	}
	if c == nil {
		return fmt.Errorf("build: plugin %s: nil capability", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("build: registering %s: %w", name, ErrRegistryFrozen)
	}
	if _, exists := r.caps[name]; exists {
		return fmt.Errorf("build: duplicate plugin registration: %s", name)
	}
	r.caps[name] = c
	return nil
}

// MustRegister is Register for startup code; it panics on error.
func (r *Registry) MustRegister(name string, c Capability) {
	if err := r.Register(name, c); err != nil {
		panic(err)
	}
}

// Freeze ends the registration phase. It is idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Resolve returns the capability registered under name.
func (r *Registry) Resolve(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	if !ok {
		return nil, &UnknownPluginError{Plugin: name}
	}
	return c, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.caps[name]
	return ok
}

// Names returns sorted names of all registered plugins.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
