package enhancers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

var (
	// ErrDuplicateID is returned when registering an id that is already present.
	ErrDuplicateID = errors.New("enhancer id already registered")

	// ErrNotFound is returned when unregistering an unknown id.
	ErrNotFound = errors.New("enhancer not found")
)

// Registry is an immutable set of enhancers. Register and Unregister return
// a new Registry and leave the receiver untouched, so a *Registry can be
// shared across goroutines without locking. The zero value is empty.
type Registry struct {
	entries []Enhancer
	byID    map[string]int
}

// NewRegistry returns a registry holding the given enhancers in order.
func NewRegistry(enhancers ...Enhancer) (*Registry, error) {
	r := &Registry{}
	for _, e := range enhancers {
		next, err := r.Register(e)
		if err != nil {
			return nil, err
		}
		r = next
	}
	return r, nil
}

// Register returns a new registry with e added after all existing entries.
func (r *Registry) Register(e Enhancer) (*Registry, error) {
	if e == nil || strings.TrimSpace(e.ID()) == "" {
		return nil, fmt.Errorf("enhancer id is required")
	}
	if r != nil {
		if _, ok := r.byID[e.ID()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, e.ID())
		}
	}
	entries := make([]Enhancer, 0, r.Len()+1)
	if r != nil {
		entries = append(entries, r.entries...)
	}
	entries = append(entries, e)
	return newRegistry(entries), nil
}

// Unregister returns a new registry without the enhancer id.
func (r *Registry) Unregister(id string) (*Registry, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	idx, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	entries := make([]Enhancer, 0, len(r.entries)-1)
	entries = append(entries, r.entries[:idx]...)
	entries = append(entries, r.entries[idx+1:]...)
	return newRegistry(entries), nil
}

func newRegistry(entries []Enhancer) *Registry {
	byID := make(map[string]int, len(entries))
	for i, e := range entries {
		byID[e.ID()] = i
	}
	return &Registry{entries: entries, byID: byID}
}

// Len returns the number of registered enhancers.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Discover returns the enhancers of kind whose applicability predicate
// accepts target, ordered by priority with ties kept in registration order.
// A nil target skips the predicate.
func (r *Registry) Discover(kind Kind, target any) []Enhancer {
	if r == nil {
		return nil
	}
	var out []Enhancer
	for _, e := range r.entries {
		if e.Kind() == kind && e.matches(target) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority() < out[j].Priority()
	})
	return out
}

// ContextAdapters returns the context adapters applicable to c.
func (r *Registry) ContextAdapters(target any) []*ContextAdapter {
	return discoverTyped[*ContextAdapter](r, KindContext, target)
}

// ToolAdapters returns the tool adapters applicable to the target tool.
func (r *Registry) ToolAdapters(target any) []*ToolAdapter {
	return discoverTyped[*ToolAdapter](r, KindTool, target)
}

// EventHandlers returns every event handler in execution order. Applicability
// is checked per event by the chain.
func (r *Registry) EventHandlers() []*EventHandler {
	return discoverTyped[*EventHandler](r, KindEvent, nil)
}

func discoverTyped[A Enhancer](r *Registry, kind Kind, target any) []A {
	found := r.Discover(kind, target)
	out := make([]A, 0, len(found))
	for _, e := range found {
		if a, ok := e.(A); ok {
			out = append(out, a)
		}
	}
	return out
}

// Fingerprint identifies the ordered enhancer set of kind. Two registries
// with the same fingerprint produce the same chain for that kind. Entries
// are keyed by identity, so replacing an enhancer under the same id and
// priority changes the fingerprint.
func (r *Registry) Fingerprint(kind Kind) string {
	var b strings.Builder
	for _, e := range r.Discover(kind, nil) {
		fmt.Fprintf(&b, "%s@%d/%p;", e.ID(), e.Priority(), e)
	}
	return b.String()
}

// Holder publishes the current registry to concurrent readers. Readers never
// block; writers swap in a new registry with compare-and-swap.
type Holder struct {
	current atomic.Pointer[Registry]
}

// NewHolder returns a holder publishing r (nil means an empty registry).
func NewHolder(r *Registry) *Holder {
	if r == nil {
		r = &Registry{}
	}
	h := &Holder{}
	h.current.Store(r)
	return h
}

// Load returns the current registry.
func (h *Holder) Load() *Registry {
	return h.current.Load()
}

// Update applies fn to the current registry and publishes the result,
// retrying if another writer published first.
func (h *Holder) Update(fn func(*Registry) (*Registry, error)) error {
	for {
		old := h.current.Load()
		next, err := fn(old)
		if err != nil {
			return err
		}
		if h.current.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// Register is shorthand for Update with Registry.Register.
func (h *Holder) Register(e Enhancer) error {
	return h.Update(func(r *Registry) (*Registry, error) { return r.Register(e) })
}

// Unregister is shorthand for Update with Registry.Unregister.
func (h *Holder) Unregister(id string) error {
	return h.Update(func(r *Registry) (*Registry, error) { return r.Unregister(id) })
}
