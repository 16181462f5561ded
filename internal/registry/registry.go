// Package registry is the authoritative in-memory view of the connection
// profiles. It loads and caches profiles per type, validates them through
// the capability registry, and keeps the consumer stores consistent when a
// profile is created, updated or deleted.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nupi-ai/connprof/internal/errorhandling"
	"github.com/nupi-ai/connprof/internal/eventbus"
	"github.com/nupi-ai/connprof/internal/profile"
)

// ErrProfileNotFound is returned by LoadNamedProfile.
var ErrProfileNotFound = errors.New("profile not found")

// NotFoundError names the profile LoadNamedProfile could not find.
type NotFoundError struct {
	Name string
	Type string
}

func (e *NotFoundError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("profile %q not found", e.Name)
	}
	return fmt.Sprintf("%s profile %q not found", e.Type, e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrProfileNotFound }

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithBus publishes lifecycle events on bus.
func WithBus(bus *eventbus.Bus) Option {
	return func(r *Registry) { r.bus = bus }
}

// WithPrompter sets the user interaction surface. Without one every prompt
// is treated as cancelled.
func WithPrompter(p Prompter) Option {
	return func(r *Registry) {
		if p != nil {
			r.prompts = p
			r.interactive = true
		}
	}
}

// WithErrorHandler sets the error handler.
func WithErrorHandler(h ErrorHandler) Option {
	return func(r *Registry) {
		if h != nil {
			r.errs = h
		}
	}
}

// WithSettings sets the domain settings store cleaned on delete.
func WithSettings(s SettingsStore) Option {
	return func(r *Registry) { r.settings = s }
}

// Registry holds the loaded profiles. Collections are guarded by mu, which
// is never held across store or capability calls; when operations
// interleave, the later completion wins.
type Registry struct {
	caps        Capabilities
	factory     StoreFactory
	settings    SettingsStore
	prompts     Prompter
	interactive bool
	errs        ErrorHandler
	bus         *eventbus.Bus
	logger      *zap.Logger

	storesMu   sync.Mutex
	stores     map[string]ProfileStore
	storeOrder []string

	mu          sync.RWMutex
	all         []profile.Profile
	byType      map[string][]profile.Profile
	defaults    *DefaultCache
	base        *profile.Profile
	schemaTypes []profile.Schema
	validity    profile.Validity
	ledger      map[string]profile.Status
}

// New returns an empty registry. Call Refresh to load profiles.
func New(caps Capabilities, factory StoreFactory, opts ...Option) *Registry {
	r := &Registry{
		caps:     caps,
		factory:  factory,
		prompts:  nopPrompter{},
		logger:   zap.NewNop(),
		stores:   make(map[string]ProfileStore),
		byType:   make(map[string][]profile.Profile),
		defaults: NewDefaultCache(),
		validity: profile.Invalid,
		ledger:   make(map[string]profile.Status),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.errs == nil {
		r.errs = errorhandling.New(r.logger, nil)
	}
	return r
}

// storeFor returns the cached store of typ, opening it on first use.
func (r *Registry) storeFor(ctx context.Context, typ string) (ProfileStore, error) {
	r.storesMu.Lock()
	s, ok := r.stores[typ]
	r.storesMu.Unlock()
	if ok {
		return s, nil
	}

	schema, _ := r.caps.Schema(typ)
	s, err := r.factory.ForType(ctx, typ, schema)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s store: %w", typ, err)
	}

	r.storesMu.Lock()
	defer r.storesMu.Unlock()
	if existing, ok := r.stores[typ]; ok {
		return existing, nil
	}
	r.stores[typ] = s
	r.storeOrder = append(r.storeOrder, typ)
	return s, nil
}

// cachedStore returns the store of typ only if it was opened before.
func (r *Registry) cachedStore(typ string) (ProfileStore, bool) {
	r.storesMu.Lock()
	defer r.storesMu.Unlock()
	s, ok := r.stores[typ]
	return s, ok
}

func (r *Registry) storesInOrder() []ProfileStore {
	r.storesMu.Lock()
	defer r.storesMu.Unlock()
	out := make([]ProfileStore, 0, len(r.storeOrder))
	for _, typ := range r.storeOrder {
		out = append(out, r.stores[typ])
	}
	return out
}

func (r *Registry) collectPrompter() Prompter {
	if !r.interactive {
		return nil
	}
	return r.prompts
}

func newCorrelationID() string {
	return uuid.NewString()
}

func (r *Registry) publishLifecycle(ctx context.Context, action eventbus.LifecycleAction, p profile.Profile, correlationID string) {
	eventbus.Publish(ctx, r.bus, eventbus.Profiles.Lifecycle, eventbus.SourceRegistry,
		eventbus.ProfileLifecycleEvent{Action: action, Name: p.Name, Type: p.Type},
		eventbus.WithCorrelationID(correlationID))
}

// LoadNamedProfile returns the loaded profile called name. An empty typ
// matches any type. Names match exactly.
func (r *Registry) LoadNamedProfile(name, typ string) (profile.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.all {
		if p.Name == name && (typ == "" || p.Type == typ) {
			return p.Clone(), nil
		}
	}
	return profile.Profile{}, &NotFoundError{Name: name, Type: typ}
}

// GetProfiles returns the cached profiles of typ. ok is false when the type
// was never loaded.
func (r *Registry) GetProfiles(typ string) ([]profile.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list, ok := r.byType[typ]
	if !ok {
		return nil, false
	}
	return cloneProfiles(list), true
}

// DirectLoad reads name from the store of typ, bypassing the cache. ok is
// false when the type has no store yet or the load fails.
func (r *Registry) DirectLoad(ctx context.Context, typ, name string) (profile.Profile, bool) {
	s, ok := r.cachedStore(typ)
	if !ok {
		return profile.Profile{}, false
	}
	p, err := s.Load(ctx, name)
	if err != nil {
		r.logger.Debug("direct load failed", zap.String("type", typ), zap.String("profile", name), zap.Error(err))
		return profile.Profile{}, false
	}
	return p, true
}

// AllProfiles returns every loaded profile except the base profile.
func (r *Registry) AllProfiles() []profile.Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneProfiles(r.all)
}

// AllTypes returns the capability types in sorted order.
func (r *Registry) AllTypes() []string {
	return r.caps.Types()
}

// SchemaTypes returns the schemas reported by the store during the last
// refresh.
func (r *Registry) SchemaTypes() []profile.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]profile.Schema(nil), r.schemaTypes...)
}

// GetSchema returns the capability schema of typ.
func (r *Registry) GetSchema(typ string) (profile.Schema, bool) {
	return r.caps.Schema(typ)
}

// DefaultProfile returns the cached default of typ.
func (r *Registry) DefaultProfile(typ string) (profile.Profile, bool) {
	if typ == profile.BaseType {
		return r.BaseProfile()
	}
	return r.defaults.Get(typ)
}

// BaseProfile returns the default profile of the base type.
func (r *Registry) BaseProfile() (profile.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.base == nil {
		return profile.Profile{}, false
	}
	return r.base.Clone(), true
}

// Defaults returns the default profile cache.
func (r *Registry) Defaults() *DefaultCache {
	return r.defaults
}

// NamesForDomain lists the names of profiles whose type serves domain. The
// defaults of those types come first, the rest follow in load order.
func (r *Registry) NamesForDomain(domain profile.Domain) []string {
	r.mu.RLock()
	all := cloneProfiles(r.all)
	r.mu.RUnlock()

	var defaults, rest []string
	seen := make(map[string]bool)
	for _, p := range all {
		if !r.caps.Supports(p.Type, domain) || seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		if d, ok := r.defaults.Get(p.Type); ok && d.Name == p.Name {
			defaults = append(defaults, p.Name)
		} else {
			rest = append(rest, p.Name)
		}
	}
	sort.Strings(defaults)
	return append(defaults, rest...)
}

// Validity returns the registry-wide validation flag.
func (r *Registry) Validity() profile.Validity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.validity
}

// ValidationStatus returns the last recorded status of name.
func (r *Registry) ValidationStatus(name string) (profile.Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.ledger[name]
	return s, ok
}

// findByName returns the loaded profile whose name equals name ignoring case.
func (r *Registry) findByName(name string) (profile.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.all {
		if p.SameName(name) {
			return p.Clone(), true
		}
	}
	return profile.Profile{}, false
}

func (r *Registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.all))
	for _, p := range r.all {
		out = append(out, p.Name)
	}
	return out
}

func cloneProfiles(in []profile.Profile) []profile.Profile {
	out := make([]profile.Profile, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}
