package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/nupi-ai/connprof/internal/eventbus"
	"github.com/nupi-ai/connprof/internal/profile"
)

// DefaultCache maps a profile type to its default profile.
type DefaultCache struct {
	mu    sync.RWMutex
	items map[string]profile.Profile
}

// NewDefaultCache returns an empty cache.
func NewDefaultCache() *DefaultCache {
	return &DefaultCache{items: make(map[string]profile.Profile)}
}

// Get returns the default of typ.
func (c *DefaultCache) Get(typ string) (profile.Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.items[typ]
	if !ok {
		return profile.Profile{}, false
	}
	return p.Clone(), true
}

// Set records p as the default of its type.
func (c *DefaultCache) Set(p profile.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[p.Type] = p.Clone()
}

// RemoveName drops every entry whose profile is called name, ignoring case.
func (c *DefaultCache) RemoveName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for typ, p := range c.items {
		if p.SameName(name) {
			delete(c.items, typ)
		}
	}
}

// Reset empties the cache.
func (c *DefaultCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]profile.Profile)
}

// Len returns the number of cached defaults.
func (c *DefaultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Types returns the cached types in sorted order.
func (c *DefaultCache) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.items))
	for typ := range c.items {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// SetDefault makes name the default profile of typ and updates the cache.
func (r *Registry) SetDefault(ctx context.Context, typ, name string) error {
	p, err := r.LoadNamedProfile(name, typ)
	if err != nil {
		return err
	}
	s, err := r.storeFor(ctx, typ)
	if err != nil {
		return err
	}
	setter, ok := s.(DefaultSetter)
	if !ok {
		return fmt.Errorf("registry: %s store cannot set defaults", typ)
	}
	if err := setter.SetDefault(ctx, name); err != nil {
		return fmt.Errorf("registry: set %s default %q: %w", typ, name, err)
	}
	r.defaults.Set(p)
	r.logger.Info("default profile set", zap.String("type", typ), zap.String("profile", name))
	r.publishLifecycle(ctx, eventbus.ActionDefault, p, newCorrelationID())
	return nil
}
