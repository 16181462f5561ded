package registry

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nupi-ai/connprof/internal/capability"
	"github.com/nupi-ai/connprof/internal/config/store"
	"github.com/nupi-ai/connprof/internal/profile"
)

// memBackend keeps profiles of every type, unique by lower-cased name.
type memBackend struct {
	mu        sync.Mutex
	profiles  map[string]profile.Profile
	defaults  map[string]string
	schemas   map[string]profile.Schema
	failLoad  map[string]error
	failSave  error
	failDel   error
	failUpd   error
	loadCalls int
}

func newMemBackend() *memBackend {
	return &memBackend{
		profiles: make(map[string]profile.Profile),
		defaults: make(map[string]string),
		schemas:  make(map[string]profile.Schema),
		failLoad: make(map[string]error),
	}
}

func (b *memBackend) factory() StoreFactory {
	return StoreFactoryFunc(func(_ context.Context, typ string, schema profile.Schema) (ProfileStore, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !schema.IsZero() {
			b.schemas[typ] = schema
		}
		return &memStore{b: b, typ: typ}, nil
	})
}

func (b *memBackend) put(p profile.Profile, isDefault bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profiles[strings.ToLower(p.Name)] = p.Clone()
	if isDefault {
		b.defaults[p.Type] = p.Name
	}
}

func (b *memBackend) has(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.profiles[strings.ToLower(name)]
	return ok
}

type memStore struct {
	b   *memBackend
	typ string
}

func (s *memStore) notFound(name string) error {
	return store.NotFoundError{Entity: "profile", Key: s.typ + "/" + name}
}

func (s *memStore) Load(_ context.Context, name string) (profile.Profile, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	p, ok := s.b.profiles[strings.ToLower(name)]
	if !ok || p.Type != s.typ || p.Name != name {
		return profile.Profile{}, s.notFound(name)
	}
	return p.Clone(), nil
}

func (s *memStore) LoadDefault(ctx context.Context) (profile.Profile, error) {
	s.b.mu.Lock()
	name, ok := s.b.defaults[s.typ]
	s.b.mu.Unlock()
	if !ok {
		return profile.Profile{}, store.NotFoundError{Entity: "default profile", Key: s.typ}
	}
	return s.Load(ctx, name)
}

func (s *memStore) LoadAll(context.Context) ([]profile.Profile, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.loadCalls++
	if err := s.b.failLoad[s.typ]; err != nil {
		return nil, err
	}
	var out []profile.Profile
	for _, p := range s.b.profiles {
		if p.Type == s.typ {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) Save(_ context.Context, p profile.Profile) (profile.Profile, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.b.failSave != nil {
		return profile.Profile{}, s.b.failSave
	}
	key := strings.ToLower(p.Name)
	if _, exists := s.b.profiles[key]; exists {
		return profile.Profile{}, store.ErrAlreadyExists
	}
	p.Type = s.typ
	s.b.profiles[key] = p.Clone()
	return p.Clone(), nil
}

func (s *memStore) Update(ctx context.Context, name string, fields profile.Fields, merge bool) (profile.Profile, error) {
	if s.b.failUpd != nil {
		return profile.Profile{}, s.b.failUpd
	}
	current, err := s.Load(ctx, name)
	if err != nil {
		return profile.Profile{}, err
	}
	next := fields.Clone()
	if merge {
		next = profile.Merge(current.Fields, fields)
	}
	current.Fields = next
	s.b.put(current, false)
	return current.Clone(), nil
}

func (s *memStore) Delete(ctx context.Context, name string) (profile.Profile, error) {
	if s.b.failDel != nil {
		return profile.Profile{}, s.b.failDel
	}
	p, err := s.Load(ctx, name)
	if err != nil {
		return profile.Profile{}, err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	delete(s.b.profiles, strings.ToLower(name))
	if s.b.defaults[s.typ] == name {
		delete(s.b.defaults, s.typ)
	}
	return p, nil
}

func (s *memStore) SetDefault(ctx context.Context, name string) error {
	if _, err := s.Load(ctx, name); err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.defaults[s.typ] = name
	return nil
}

func (s *memStore) Configurations(context.Context) ([]profile.Schema, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var out []profile.Schema
	for _, sc := range s.b.schemas {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

// stubCapability reports a fixed outcome.
type stubCapability struct {
	mu         sync.Mutex
	noSession  bool
	status     profile.Status
	sessionErr error
	statusErr  error
}

func (c *stubCapability) set(fn func(*stubCapability)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

func (c *stubCapability) ValidSession(_ context.Context, p profile.Profile, _ capability.SessionOptions) (*capability.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionErr != nil {
		return nil, c.sessionErr
	}
	if c.noSession {
		return nil, nil
	}
	return capability.NewSession(p.Name, p.Type, "stub", nil), nil
}

func (c *stubCapability) Status(context.Context, profile.Profile) (profile.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.statusErr
}

var (
	zosmfTestSchema = profile.Schema{
		Type: "zosmf",
		Properties: []profile.Property{
			{Name: "host", Kind: profile.KindString, Description: "host name"},
			{Name: "port", Kind: profile.KindNumber, Default: 443},
			{Name: "user", Kind: profile.KindString, Secure: true, Optional: true},
			{Name: "password", Kind: profile.KindString, Secure: true, Optional: true},
			{Name: "encoding", Kind: profile.KindString, Optional: true},
		},
	}
	sshTestSchema = profile.Schema{
		Type: "ssh",
		Properties: []profile.Property{
			{Name: "host", Kind: profile.KindString},
			{Name: "port", Kind: profile.KindNumber, Default: 22},
			{Name: "user", Kind: profile.KindString, Secure: true, Optional: true},
			{Name: "password", Kind: profile.KindString, Secure: true, Optional: true},
		},
	}
)

func newTestCapabilities(t *testing.T, c capability.Capability) *capability.Registry {
	t.Helper()
	caps := capability.NewRegistry()
	require.NoError(t, caps.Register(capability.Definition{
		Type:       "zosmf",
		Schema:     zosmfTestSchema,
		Axes:       []profile.Domain{profile.DomainDatasets, profile.DomainFiles, profile.DomainJobs},
		Capability: c,
	}))
	require.NoError(t, caps.Register(capability.Definition{
		Type:       "ssh",
		Schema:     sshTestSchema,
		Axes:       []profile.Domain{profile.DomainFiles},
		Capability: c,
	}))
	return caps
}

// fakePrompter answers from queues and records notifications.
type fakePrompter struct {
	mu       sync.Mutex
	selected string
	cancel   bool
	confirm  bool
	inputs   []string
	notices  []string
}

func (p *fakePrompter) SelectProfile(_ context.Context, _ string, names []string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel || p.selected == "" {
		return "", false
	}
	return p.selected, true
}

func (p *fakePrompter) Confirm(context.Context, string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.confirm
}

func (p *fakePrompter) Input(context.Context, string, string, bool) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel {
		return "", false
	}
	if len(p.inputs) == 0 {
		return "", true
	}
	v := p.inputs[0]
	p.inputs = p.inputs[1:]
	return v, true
}

func (p *fakePrompter) Notify(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, msg)
}

func (p *fakePrompter) notifications() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.notices...)
}

// recordingHandler keeps handled errors.
type recordingHandler struct {
	mu   sync.Mutex
	errs []error
}

func (h *recordingHandler) Handle(err error, _, _ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) handled() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

// fakeConsumer is an in-memory consumer store.
type fakeConsumer struct {
	domain    profile.Domain
	history   []string
	favorites []Entry
	sessions  []SessionNode
	hidden    []SessionNode
	refreshed int
	favErr    error
}

func (c *fakeConsumer) TreeType() profile.Domain { return c.domain }
func (c *fakeConsumer) FileHistory() []string    { return append([]string(nil), c.history...) }

func (c *fakeConsumer) RemoveFileHistory(entry string) {
	for i, h := range c.history {
		if h == entry {
			c.history = append(c.history[:i], c.history[i+1:]...)
			return
		}
	}
}

func (c *fakeConsumer) Favorites() []Entry { return append([]Entry(nil), c.favorites...) }

func (c *fakeConsumer) RemoveFavorite(_ context.Context, entry Entry) error {
	if c.favErr != nil {
		return c.favErr
	}
	for i, f := range c.favorites {
		if f == entry {
			c.favorites = append(c.favorites[:i], c.favorites[i+1:]...)
			return nil
		}
	}
	return errors.New("favorite not found")
}

func (c *fakeConsumer) SessionNodes() []SessionNode { return append([]SessionNode(nil), c.sessions...) }

func (c *fakeConsumer) HideSession(node SessionNode) {
	for i, n := range c.sessions {
		if n == node {
			c.sessions = append(c.sessions[:i], c.sessions[i+1:]...)
			c.hidden = append(c.hidden, node)
			return
		}
	}
}

func (c *fakeConsumer) Refresh() { c.refreshed++ }

func (c *fakeConsumer) AddSession(_ context.Context, name string) error {
	c.sessions = append(c.sessions, SessionNode{Label: name, Profile: name})
	return nil
}

// memSettings is an in-memory SettingsStore.
type memSettings struct {
	mu    sync.Mutex
	data  map[profile.Domain]store.DomainSettings
	saves int
}

func newMemSettings() *memSettings {
	return &memSettings{data: make(map[profile.Domain]store.DomainSettings)}
}

func (m *memSettings) LoadDomainSettings(_ context.Context, d profile.Domain) (store.DomainSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.data[d]
	return store.DomainSettings{
		Sessions:  append([]string(nil), s.Sessions...),
		Favorites: append([]string(nil), s.Favorites...),
		History:   append([]string(nil), s.History...),
	}, nil
}

func (m *memSettings) SaveDomainSettings(_ context.Context, d profile.Domain, s store.DomainSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[d] = s
	m.saves++
	return nil
}

type harness struct {
	reg      *Registry
	backend  *memBackend
	cap      *stubCapability
	prompts  *fakePrompter
	errs     *recordingHandler
	settings *memSettings
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend:  newMemBackend(),
		cap:      &stubCapability{status: profile.StatusActive},
		prompts:  &fakePrompter{confirm: true},
		errs:     &recordingHandler{},
		settings: newMemSettings(),
	}
	h.reg = New(newTestCapabilities(t, h.cap), h.backend.factory(),
		WithPrompter(h.prompts),
		WithErrorHandler(h.errs),
		WithSettings(h.settings),
	)
	return h
}
