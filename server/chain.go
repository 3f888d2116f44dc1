package server

import (
	"context"
	"fmt"
	"log"

	"github.com/numberone-ai/filters-go-sdk/core"
)

// Chain is an ordered set of filters applied to every request and
// response.
type Chain struct {
	filters []core.Filter
	byName  map[string]core.Filter
}

// NewChain builds a chain; filter names must be unique.
func NewChain(filters ...core.Filter) (*Chain, error) {
	byName := make(map[string]core.Filter, len(filters))
	for _, f := range filters {
		name := f.Name()
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("duplicate filter name %q", name)
		}
		byName[name] = f
	}
	return &Chain{filters: filters, byName: byName}, nil
}

// Get returns the named filter.
func (c *Chain) Get(name string) (core.Filter, bool) {
	f, ok := c.byName[name]
	return f, ok
}

// Filters returns the chain in application order.
func (c *Chain) Filters() []core.Filter { return c.filters }

// Inlet runs every filter's Inlet in order.
func (c *Chain) Inlet(ctx context.Context, env *core.Envelope, user *core.User) *core.Envelope {
	for _, f := range c.filters {
		env = f.Inlet(ctx, env, user)
	}
	return env
}

// Outlet runs every filter's Outlet in order.
func (c *Chain) Outlet(ctx context.Context, env *core.Envelope, user *core.User) *core.Envelope {
	for _, f := range c.filters {
		env = f.Outlet(ctx, env, user)
	}
	return env
}

// Startup starts every filter. Failures are logged and skipped; a
// filter that cannot reach its backend degrades per request instead of
// blocking the host.
func (c *Chain) Startup(ctx context.Context) {
	for _, f := range c.filters {
		if err := f.Startup(ctx); err != nil {
			log.Printf("[SERVER] Filter %s startup: %v", f.Name(), err)
		}
	}
}

// Shutdown stops every filter, returning the first error.
func (c *Chain) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, f := range c.filters {
		if err := f.Shutdown(ctx); err != nil {
			log.Printf("[SERVER] Filter %s shutdown: %v", f.Name(), err)
			if firstErr == nil {
				firstErr = fmt.Errorf("shutdown %s: %w", f.Name(), err)
			}
		}
	}
	return firstErr
}
