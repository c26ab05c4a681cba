package replaycache

import (
	"context"

	"github.com/oklog/ulid/v2"
)

// fetchScope tags a group of fetches to one scrub episode. Superseding a
// scope cancels everything it issued, so a slow stale fetch can never block
// bandwidth from, or complete after, the fetches of a newer episode without
// going through the merge arbitration.
type fetchScope struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

func newFetchScope() *fetchScope {
	ctx, cancel := context.WithCancel(context.Background())
	return &fetchScope{
		id:     ulid.Make().String(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// scopeLocked returns the current scope, creating one if needed.
func (c *Cache) scopeLocked() *fetchScope {
	if c.scope == nil {
		c.scope = newFetchScope()
	}
	return c.scope
}

// supersedeLocked invalidates the previous scope, canceling its in-flight
// fetches, and installs a fresh one.
func (c *Cache) supersedeLocked() *fetchScope {
	if c.scope != nil {
		c.scope.cancel()
		c.logger.Debug("fetch scope superseded", "scope", c.scope.id)
	}
	c.scope = newFetchScope()
	return c.scope
}
