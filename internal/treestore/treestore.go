// Package treestore keeps the per-domain view state that shows profiles to
// the user: session nodes, favorites and history. State is persisted as one
// settings object per domain.
package treestore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nupi-ai/connprof/internal/config/store"
	"github.com/nupi-ai/connprof/internal/profile"
	"github.com/nupi-ai/connprof/internal/registry"
)

const defaultHistoryLimit = 30

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHistoryLimit caps the number of history entries kept.
func WithHistoryLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithRefreshHook is called by Refresh, for example to redraw a view.
func WithRefreshHook(fn func(*Store)) Option {
	return func(s *Store) { s.onRefresh = fn }
}

// Store is the consumer store of one domain. It is safe for concurrent use.
type Store struct {
	domain       profile.Domain
	settings     registry.SettingsStore
	logger       *zap.Logger
	historyLimit int
	onRefresh    func(*Store)

	mu        sync.Mutex
	sessions  []registry.SessionNode
	favorites []registry.Entry
	history   []string
	dirty     bool
}

var _ registry.ConsumerStore = (*Store)(nil)

// New returns an empty store for domain. settings may be nil for a store
// that is never persisted.
func New(domain profile.Domain, settings registry.SettingsStore, opts ...Option) *Store {
	s := &Store{
		domain:       domain,
		settings:     settings,
		logger:       zap.NewNop(),
		historyLimit: defaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory state with the persisted settings.
func (s *Store) Load(ctx context.Context) error {
	if s.settings == nil {
		return nil
	}
	settings, err := s.settings.LoadDomainSettings(ctx, s.domain)
	if err != nil {
		return fmt.Errorf("treestore: load %s: %w", s.domain, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = s.sessions[:0]
	for _, name := range settings.Sessions {
		s.sessions = append(s.sessions, registry.SessionNode{Label: name, Profile: name})
	}
	s.favorites = s.favorites[:0]
	for _, label := range settings.Favorites {
		s.favorites = append(s.favorites, registry.Entry{Label: label})
	}
	s.history = append([]string(nil), settings.History...)
	s.dirty = false
	return nil
}

func (s *Store) snapshotLocked() store.DomainSettings {
	var out store.DomainSettings
	for _, n := range s.sessions {
		if n.Profile != "" {
			out.Sessions = append(out.Sessions, n.Profile)
		}
	}
	for _, f := range s.favorites {
		out.Favorites = append(out.Favorites, f.Label)
	}
	out.History = append([]string(nil), s.history...)
	return out
}

func (s *Store) persist(ctx context.Context) error {
	if s.settings == nil {
		return nil
	}
	s.mu.Lock()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	if err := s.settings.SaveDomainSettings(ctx, s.domain, snapshot); err != nil {
		return fmt.Errorf("treestore: save %s: %w", s.domain, err)
	}
	return nil
}

// Flush persists the state when it changed through a mutator that could not
// persist on its own.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if !dirty {
		return nil
	}
	if err := s.persist(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// Dirty reports whether there are unsaved changes.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// TreeType returns the store's domain.
func (s *Store) TreeType() profile.Domain { return s.domain }

// FileHistory returns the history entries, newest first.
func (s *Store) FileHistory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// AddFileHistory records path opened through profileName. A repeated entry
// moves to the front.
func (s *Store) AddFileHistory(ctx context.Context, profileName, path string) error {
	entry := profile.FormatEntry(profileName, path)
	s.mu.Lock()
	s.history = slices.DeleteFunc(s.history, func(h string) bool { return h == entry })
	s.history = append([]string{entry}, s.history...)
	if len(s.history) > s.historyLimit {
		s.history = s.history[:s.historyLimit]
	}
	s.mu.Unlock()
	return s.persist(ctx)
}

// RemoveFileHistory drops entry. The change is saved by the next Flush.
func (s *Store) RemoveFileHistory(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.history)
	s.history = slices.DeleteFunc(s.history, func(h string) bool { return h == entry })
	if len(s.history) != before {
		s.dirty = true
	}
}

// Favorites returns the favorites in insertion order.
func (s *Store) Favorites() []registry.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]registry.Entry(nil), s.favorites...)
}

// AddFavorite records label under profileName.
func (s *Store) AddFavorite(ctx context.Context, profileName, label string) error {
	entry := registry.Entry{Label: profile.FormatEntry(profileName, label)}
	s.mu.Lock()
	if slices.Contains(s.favorites, entry) {
		s.mu.Unlock()
		return nil
	}
	s.favorites = append(s.favorites, entry)
	s.mu.Unlock()
	return s.persist(ctx)
}

// RemoveFavorite drops entry and saves.
func (s *Store) RemoveFavorite(ctx context.Context, entry registry.Entry) error {
	s.mu.Lock()
	idx := slices.Index(s.favorites, entry)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("treestore: favorite %q not found in %s", entry.Label, s.domain)
	}
	s.favorites = slices.Delete(s.favorites, idx, idx+1)
	s.mu.Unlock()
	return s.persist(ctx)
}

// SessionNodes returns the visible session nodes.
func (s *Store) SessionNodes() []registry.SessionNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]registry.SessionNode(nil), s.sessions...)
}

// HasSession reports whether a node for name is visible.
func (s *Store) HasSession(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.ContainsFunc(s.sessions, func(n registry.SessionNode) bool { return n.Profile == name })
}

// AddNode adds a node that is not backed by a profile. Such nodes are not
// persisted.
func (s *Store) AddNode(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, registry.SessionNode{Label: label})
}

// HideSession removes node from view and marks the store dirty.
func (s *Store) HideSession(node registry.SessionNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.sessions)
	s.sessions = slices.DeleteFunc(s.sessions, func(n registry.SessionNode) bool { return n == node })
	if len(s.sessions) != before {
		s.dirty = true
	}
}

// AddSession adds a node for the named profile and saves.
func (s *Store) AddSession(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("treestore: session name is required")
	}
	if s.HasSession(name) {
		return nil
	}
	s.mu.Lock()
	s.sessions = append(s.sessions, registry.SessionNode{Label: name, Profile: name})
	s.mu.Unlock()
	s.logger.Debug("session added", zap.String("domain", string(s.domain)), zap.String("profile", name))
	return s.persist(ctx)
}

// Refresh asks the view to redraw.
func (s *Store) Refresh() {
	if s.onRefresh != nil {
		s.onRefresh(s)
	}
}
