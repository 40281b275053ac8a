// Package report defines the error-reporting collaborator the config index
// surfaces typed lookup failures through. Handlers may forward errors to the
// embedder, count them, or drop them; the core never inspects their outcome.
package report

import "sync"

// Handler receives typed configuration errors. Implementations must be safe
// for concurrent use.
type Handler interface {
	HandleError(err error)
}

// NopHandler drops every error.
type NopHandler struct{}

func (NopHandler) HandleError(error) {}

// CollectHandler records every reported error. Tests use it to assert on
// reported error kinds.
type CollectHandler struct {
	mu   sync.Mutex
	errs []error
}

func (c *CollectHandler) HandleError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

// Errors returns a copy of everything reported so far.
func (c *CollectHandler) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]error, len(c.errs))
	copy(out, c.errs)
	return out
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(err error)

func (f HandlerFunc) HandleError(err error) { f(err) }
