package tools

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is shared across sessions and safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Capability
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Capability)}
}

func (r *Registry) Register(caps ...Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range caps {
		name := c.Spec().Name
		if name == "" {
			return fmt.Errorf("register tool: empty name")
		}
		if _, exists := r.tools[name]; exists {
			return fmt.Errorf("register %s: %w", name, ErrDuplicateTool)
		}
		r.tools[name] = c
	}
	return nil
}

func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.tools[name]
	return c, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Specs returns every declared capability sorted by name.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.tools))
	for _, c := range r.tools {
		out = append(out, c.Spec())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// External returns the MCP-backed specs, sorted by name.
func (r *Registry) External() []Spec {
	var out []Spec
	for _, s := range r.Specs() {
		if s.External {
			out = append(out, s)
		}
	}
	return out
}
