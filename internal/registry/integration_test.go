package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nupi-ai/connprof/internal/config/store"
	"github.com/nupi-ai/connprof/internal/profile"
	"github.com/nupi-ai/connprof/internal/testutil"
)

func sqliteFactory(s *store.Store) StoreFactory {
	return StoreFactoryFunc(func(ctx context.Context, typ string, schema profile.Schema) (ProfileStore, error) {
		m, err := s.ForType(ctx, typ, schema)
		if err != nil {
			return nil, err
		}
		return m, nil
	})
}

func TestSQLiteLifecycle(t *testing.T) {
	s := testutil.OpenStore(t)
	ctx := context.Background()
	prompts := &fakePrompter{confirm: true}
	reg := New(newTestCapabilities(t, &stubCapability{status: profile.StatusActive}), sqliteFactory(s),
		WithPrompter(prompts), WithSettings(s), WithErrorHandler(&recordingHandler{}))

	name, ok := reg.CreateNewConnection(ctx, profile.Fields{"host": "mvs1", "user": "ibmuser", "password": "sys1"}, "LPAR1", "zosmf")
	require.True(t, ok)
	require.NoError(t, reg.Refresh(ctx).Err())

	p, err := reg.LoadNamedProfile(name, "zosmf")
	require.NoError(t, err)
	assert.Equal(t, "sys1", p.Fields["password"])

	var plain string
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT fields FROM profiles WHERE name = ?`, name).Scan(&plain))
	assert.NotContains(t, plain, "sys1")

	_, ok = reg.CreateNewConnection(ctx, profile.Fields{"host": "x"}, "lpar1", "ssh")
	assert.False(t, ok)

	require.True(t, reg.UpdateProfile(ctx, UpdateInfo{Name: "LPAR1", Patch: profile.Fields{"user": nil, "encoding": "IBM-1047"}}, false))
	require.NoError(t, reg.Refresh(ctx).Err())
	p, _ = reg.LoadNamedProfile("LPAR1", "zosmf")
	assert.NotContains(t, p.Fields, "user")
	assert.Equal(t, "IBM-1047", p.Fields["encoding"])

	require.NoError(t, reg.SetDefault(ctx, "zosmf", "LPAR1"))
	require.NoError(t, reg.Refresh(ctx).Err())
	def, ok := reg.DefaultProfile("zosmf")
	require.True(t, ok)
	assert.Equal(t, "LPAR1", def.Name)

	require.NoError(t, s.SaveDomainSettings(ctx, profile.DomainDatasets, store.DomainSettings{
		Sessions:  []string{"LPAR1", "other"},
		Favorites: []string{"[LPAR1]: USER.JCL"},
		History:   []string{"[lpar1] USER.DATA", "[other] X"},
	}))

	target, _ := reg.LoadNamedProfile("LPAR1", "")
	require.Equal(t, "LPAR1", reg.DeleteProfile(ctx, nil, &target))

	settings, err := s.LoadDomainSettings(ctx, profile.DomainDatasets)
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, settings.Sessions)
	assert.Empty(t, settings.Favorites)
	assert.Equal(t, []string{"[other] X"}, settings.History)

	require.NoError(t, reg.Refresh(ctx).Err())
	assert.Empty(t, reg.AllProfiles())
	_, ok = reg.DefaultProfile("zosmf")
	assert.False(t, ok)
}

// startedWatcher signals once the underlying watch has taken its first
// snapshot.
type startedWatcher struct {
	ChangeWatcher
	started chan struct{}
}

func (w startedWatcher) Watch(ctx context.Context, interval time.Duration) (<-chan store.ChangeEvent, error) {
	ch, err := w.ChangeWatcher.Watch(ctx, interval)
	close(w.started)
	return ch, err
}

func TestWatchRefreshesOnExternalChange(t *testing.T) {
	s := testutil.OpenStore(t)
	reg := New(newTestCapabilities(t, &stubCapability{}), sqliteFactory(s))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg.Refresh(ctx)

	refreshed := make(chan *RefreshReport, 4)
	done := make(chan error, 1)
	w := startedWatcher{ChangeWatcher: s, started: make(chan struct{})}
	go func() {
		done <- reg.Watch(ctx, w, 500*time.Millisecond, func(r *RefreshReport) { refreshed <- r })
	}()
	<-w.started

	// Another writer on the same database.
	m, err := s.ForType(context.Background(), "ssh", sshTestSchema)
	require.NoError(t, err)
	_, err = m.Save(context.Background(), profile.Profile{Name: "external", Type: "ssh", Fields: profile.Fields{"host": "h", "port": 22}})
	require.NoError(t, err)

	select {
	case report := <-refreshed:
		assert.Equal(t, 1, report.Profiles)
	case <-time.After(5 * time.Second):
		t.Fatal("registry was not refreshed")
	}
	_, err = reg.LoadNamedProfile("external", "ssh")
	assert.NoError(t, err)

	cancel()
	require.NoError(t, <-done)
}

func TestDeleteByCaseVariantName(t *testing.T) {
	for _, typ := range []string{"zosmf", ""} {
		t.Run("type="+typ, func(t *testing.T) {
			s := testutil.OpenStore(t)
			ctx := context.Background()
			reg := New(newTestCapabilities(t, &stubCapability{}), sqliteFactory(s),
				WithPrompter(&fakePrompter{confirm: true}), WithSettings(s), WithErrorHandler(&recordingHandler{}))

			_, ok := reg.CreateNewConnection(ctx, profile.Fields{"host": "mvs1"}, "LPAR1", "zosmf")
			require.True(t, ok)
			require.NoError(t, reg.Refresh(ctx).Err())
			require.NoError(t, reg.SetDefault(ctx, "zosmf", "LPAR1"))

			jobs := &fakeConsumer{
				domain:    profile.DomainJobs,
				history:   []string{"[LPAR1]: JOB1"},
				favorites: []Entry{{Label: "[LPAR1]: X"}},
				sessions:  []SessionNode{{Label: "LPAR1", Profile: "LPAR1"}},
			}

			deleted := reg.DeleteProfile(ctx, []ConsumerStore{jobs}, &profile.Profile{Name: "lpar1", Type: typ})
			assert.Equal(t, "LPAR1", deleted)

			_, err := reg.LoadNamedProfile("LPAR1", "")
			assert.Error(t, err)
			assert.Empty(t, reg.AllProfiles())
			_, ok = reg.DefaultProfile("zosmf")
			assert.False(t, ok)
			assert.Empty(t, jobs.history)
			assert.Empty(t, jobs.favorites)
			assert.Empty(t, jobs.sessions)

			m, err := s.ForType(ctx, "zosmf", zosmfTestSchema)
			require.NoError(t, err)
			_, err = m.Load(ctx, "LPAR1")
			assert.True(t, store.IsNotFound(err))
		})
	}
}
