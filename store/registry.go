package store

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// Factory builds the Handler of an API on first use.
type Factory func(api string) (*Handler, error)

// Registry caches one Handler per API for the life of a process, so that
// schema caches and backend connections survive between requests.
//
// Like the handlers it holds, a cached Handler must be driven by one
// request at a time; the Registry only makes lookup and construction safe.
type Registry struct {
	factory  Factory
	handlers *xsync.MapOf[string, *Handler]
}

// NewRegistry creates an empty Registry.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory:  factory,
		handlers: xsync.NewMapOf[string, *Handler](),
	}
}

// Handler returns the cached handler for api, constructing it if needed.
func (r *Registry) Handler(api string) (*Handler, error) {
	var ferr error
	h, _ := r.handlers.Compute(api, func(old *Handler, loaded bool) (*Handler, bool) {
		if loaded {
			return old, false
		}
		h, err := r.factory(api)
		if err != nil {
			ferr = err
			return nil, true
		}
		return h, false
	})
	if ferr != nil {
		return nil, ferr
	}
	return h, nil
}

// Register adds a pre-built handler, replacing any cached one.
func (r *Registry) Register(api string, h *Handler) {
	r.handlers.Store(api, h)
}

// Evict closes and forgets the handler of api, so that the next lookup
// rebuilds it with fresh configuration.
func (r *Registry) Evict(api string) error {
	h, ok := r.handlers.LoadAndDelete(api)
	if !ok {
		return nil
	}
	return h.Close()
}

// APIs returns the names of the cached APIs.
func (r *Registry) APIs() []string {
	var out []string
	r.handlers.Range(func(api string, _ *Handler) bool {
		out = append(out, api)
		return true
	})
	return out
}

// Close closes every cached handler.
func (r *Registry) Close() error {
	var first error
	r.handlers.Range(func(api string, h *Handler) bool {
		if err := h.Close(); err != nil && first == nil {
			first = err
		}
		r.handlers.Delete(api)
		return true
	})
	return first
}
