// Package filecontainer implements C2: the per-binary state the
// orchestrator owns one of per loaded file (§3, §4.2). It is a pure
// state holder — rebuild decisions live in the orchestrator, not here,
// which keeps invalidation auditable (§4.2 rationale).
package filecontainer

import (
	"sync"

	"ropsvc/internal/gadget"
	"ropsvc/internal/loader"
)

// Container owns one loader handle and its two gadget collections.
type Container struct {
	mu      sync.RWMutex
	ld      loader.Loader
	raw     []*gadget.Gadget
	derived []*gadget.Gadget
	loaded  bool
}

// New wraps ld in a freshly created, unloaded container.
func New(ld loader.Loader) *Container {
	return &Container{ld: ld}
}

// Loader returns the owned loader handle.
func (c *Container) Loader() loader.Loader {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ld
}

// Name is a shorthand for Loader().FileName().
func (c *Container) Name() string {
	return c.Loader().FileName()
}

// Loaded reports whether Raw has ever been assigned a non-nil value
// since the last invalidation (§3).
func (c *Container) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Raw returns the scanner's unfiltered output, or nil if not loaded.
func (c *Container) Raw() []*gadget.Gadget {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.raw
}

// Derived returns the filtered/deduped view, or nil if never
// computed.
func (c *Container) Derived() []*gadget.Gadget {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.derived
}

// SetRaw assigns the scanner's output. A non-nil slice flips Loaded
// to true; nil flips it to false and leaves Derived untouched — the
// orchestrator is responsible for clearing Derived too when that's
// the desired invalidation (§4.2).
func (c *Container) SetRaw(gadgets []*gadget.Gadget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw = gadgets
	c.loaded = gadgets != nil
}

// SetDerived assigns the filter pipeline's output.
func (c *Container) SetDerived(gadgets []*gadget.Gadget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.derived = gadgets
}

// Invalidate clears both Raw and Derived and flips Loaded to false,
// used by set_architecture (§4.5).
func (c *Container) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw = nil
	c.derived = nil
	c.loaded = false
}
