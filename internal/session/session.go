// Package session keeps the effective configuration between events that target
// the same file.
package session

import (
	"sync"

	"github.com/cristianradulescu/phpcsfixer-formatter/internal/resolver"
)

// State is the last resolution and the facts it was computed for.
type State struct {
	ProjectRoot string
	FilePath    string
	Config      *resolver.EffectiveConfig
}

// Stale reports whether the state cannot serve ictx: nothing is cached, or the
// project root or target file changed.
func (s State) Stale(ictx resolver.InvocationContext) bool {
	return s.Config == nil ||
		s.ProjectRoot != ictx.ProjectRoot ||
		s.FilePath != ictx.FilePath
}

// Refresh returns s unchanged when it can serve ictx, else a new state built for it.
func (s State) Refresh(ictx resolver.InvocationContext, build func() *resolver.EffectiveConfig) State {
	if !s.Stale(ictx) {
		return s
	}

	return State{
		ProjectRoot: ictx.ProjectRoot,
		FilePath:    ictx.FilePath,
		Config:      build(),
	}
}

// Cache holds one State for a long-lived host. It is replaced whole, never patched.
type Cache struct {
	mu    sync.Mutex
	state State
}

func NewCache() *Cache {
	return &Cache{}
}

// Get returns the cached config for ictx, calling build when the cache is stale.
func (c *Cache) Get(ictx resolver.InvocationContext, build func() *resolver.EffectiveConfig) *resolver.EffectiveConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = c.state.Refresh(ictx, build)

	return c.state.Config
}

// Invalidate drops the cached state.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = State{}
}

// Snapshot returns the current state.
func (c *Cache) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}
