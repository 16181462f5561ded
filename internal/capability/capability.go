// Package capability maps profile types to the code that can validate a
// session for them and report their live status. Each type also carries the
// schema used to collect and normalise its fields, and the consumer domains
// (axes) it can serve.
package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/nupi-ai/connprof/internal/profile"
)

// ErrUnknownType is returned for profile types with no registered capability.
var ErrUnknownType = errors.New("capability: unknown profile type")

// Prompter asks the user for a single value. ok is false when cancelled.
type Prompter interface {
	Input(ctx context.Context, label, current string, secret bool) (value string, ok bool)
}

// SessionOptions controls credential prompting during ValidSession.
type SessionOptions struct {
	PromptCredentials bool
	ForcePrompt       bool
	Prompter          Prompter
}

// Session is an established connection to a profile's backend.
type Session struct {
	Profile  string
	Type     string
	Endpoint string
	closer   io.Closer
}

// NewSession wraps an open connection. closer may be nil.
func NewSession(profileName, typ, endpoint string, closer io.Closer) *Session {
	return &Session{Profile: profileName, Type: typ, Endpoint: endpoint, closer: closer}
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }

// Close releases the underlying connection.
func (s *Session) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Capability validates sessions and reports status for one profile type.
// ValidSession returns a nil session (and nil error) when no session can be
// established with the profile as given.
type Capability interface {
	ValidSession(ctx context.Context, p profile.Profile, opts SessionOptions) (*Session, error)
	Status(ctx context.Context, p profile.Profile) (profile.Status, error)
}

// Definition registers a profile type.
type Definition struct {
	Type       string
	Schema     profile.Schema
	Axes       []profile.Domain
	Capability Capability
}

// Registry holds the registered profile types. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	defs    map[string]Definition
	schemas map[string]profile.Schema
}

// NewRegistry returns a registry that knows the base schema only.
func NewRegistry() *Registry {
	r := &Registry{
		defs:    make(map[string]Definition),
		schemas: make(map[string]profile.Schema),
	}
	if base, ok := BuiltinSpec(profile.BaseType); ok {
		r.schemas[profile.BaseType] = base.Schema
	}
	return r
}

// Register adds a profile type. Registering a type twice is an error.
func (r *Registry) Register(def Definition) error {
	if def.Type == "" {
		return fmt.Errorf("capability: type is required")
	}
	if def.Type == profile.BaseType {
		return fmt.Errorf("capability: %q is reserved", profile.BaseType)
	}
	if def.Capability == nil {
		return fmt.Errorf("capability: %s: capability is required", def.Type)
	}
	if def.Schema.Type == "" {
		def.Schema.Type = def.Type
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Type]; exists {
		return fmt.Errorf("capability: type %q already registered", def.Type)
	}
	def.Axes = append([]profile.Domain(nil), def.Axes...)
	r.defs[def.Type] = def
	r.schemas[def.Type] = def.Schema
	return nil
}

// Types returns the registered types in sorted order. The base type is not
// included.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for typ := range r.defs {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// TypesFor returns the sorted types that serve axis.
func (r *Registry) TypesFor(axis profile.Domain) []string {
	var out []string
	for _, typ := range r.Types() {
		if r.Supports(typ, axis) {
			out = append(out, typ)
		}
	}
	return out
}

// Supports reports whether typ serves axis.
func (r *Registry) Supports(typ string, axis profile.Domain) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[typ]
	if !ok {
		return false
	}
	for _, a := range def.Axes {
		if a == axis {
			return true
		}
	}
	return false
}

// Schema returns the schema of typ, including the base type.
func (r *Registry) Schema(typ string) (profile.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[typ]
	return s, ok
}

// Schemas returns every known schema ordered by type.
func (r *Registry) Schemas() []profile.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]profile.Schema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

func (r *Registry) lookup(typ string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return def.Capability, nil
}

// ValidSession asks the capability of p.Type for a session.
func (r *Registry) ValidSession(ctx context.Context, p profile.Profile, opts SessionOptions) (*Session, error) {
	c, err := r.lookup(p.Type)
	if err != nil {
		return nil, err
	}
	return c.ValidSession(ctx, p, opts)
}

// Status asks the capability of p.Type for the profile's live status.
func (r *Registry) Status(ctx context.Context, p profile.Profile) (profile.Status, error) {
	c, err := r.lookup(p.Type)
	if err != nil {
		return profile.StatusInactive, err
	}
	return c.Status(ctx, p)
}
