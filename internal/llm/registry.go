package llm

import (
	"fmt"
	"sort"
)

// Registry resolves proposers by provider name.
type Registry struct {
	providers map[string]Proposer
	fallback  string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Proposer)}
}

// Register adds a proposer. The first one registered becomes the default.
func (r *Registry) Register(p Proposer) {
	r.providers[p.Name()] = p
	if r.fallback == "" {
		r.fallback = p.Name()
	}
}

// Resolve returns the named proposer, or the default when name is empty.
func (r *Registry) Resolve(name string) (Proposer, error) {
	if name == "" {
		name = r.fallback
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not registered (have %v)", name, r.Names())
	}
	return p, nil
}

// Names lists registered providers.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for n := range r.providers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
