package redisstore

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nupi-ai/connprof/internal/config/store"
	storecrypto "github.com/nupi-ai/connprof/internal/config/store/crypto"
	"github.com/nupi-ai/connprof/internal/profile"
)

var sshSchema = profile.Schema{
	Type: "ssh",
	Properties: []profile.Property{
		{Name: "host", Kind: profile.KindString},
		{Name: "port", Kind: profile.KindNumber, Default: 22},
		{Name: "user", Kind: profile.KindString, Secure: true, Optional: true},
		{Name: "password", Kind: profile.KindString, Secure: true, Optional: true},
	},
}

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := Open(context.Background(), Options{
		Addr:         mr.Addr(),
		InstanceName: "test",
		Key:          bytes.Repeat([]byte{1}, storecrypto.KeySize),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestOpenValidatesOptions(t *testing.T) {
	_, err := Open(context.Background(), Options{Addr: "127.0.0.1:1", Key: []byte("short")})
	require.Error(t, err)

	_, err = Open(context.Background(), Options{Key: bytes.Repeat([]byte{1}, storecrypto.KeySize)})
	require.Error(t, err)
}

func TestProfileLifecycle(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	m, err := s.ForType(ctx, "ssh", sshSchema)
	require.NoError(t, err)

	_, err = m.Save(ctx, profile.Profile{Name: "Box", Fields: profile.Fields{"host": "h", "port": 22, "password": "pw"}})
	require.NoError(t, err)

	raw := mr.HGet("connprof:test:profile:box", "secure")
	assert.NotContains(t, raw, "pw", "secure fields must be sealed at rest")

	got, err := m.Load(ctx, "box")
	require.NoError(t, err)
	assert.Equal(t, "Box", got.Name)
	assert.Equal(t, profile.Fields{"host": "h", "port": 22, "password": "pw"}, got.Fields)

	_, err = m.Save(ctx, profile.Profile{Name: "BOX"})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	updated, err := m.Update(ctx, "Box", profile.Fields{"password": nil, "user": "root"}, true)
	require.NoError(t, err)
	assert.Equal(t, profile.Fields{"host": "h", "port": 22, "user": "root"}, updated.Fields)

	require.NoError(t, m.SetDefault(ctx, "Box"))
	def, err := m.LoadDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Box", def.Name)

	all, err := m.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	deleted, err := m.Delete(ctx, "box")
	require.NoError(t, err)
	assert.Equal(t, "Box", deleted.Name)

	_, err = m.Load(ctx, "Box")
	assert.True(t, store.IsNotFound(err))
	_, err = m.LoadDefault(ctx)
	assert.True(t, store.IsNotFound(err))
}

func TestTypesAreIsolated(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sshM, _ := s.ForType(ctx, "ssh", sshSchema)
	wsM, _ := s.ForType(ctx, "ws", profile.Schema{})

	_, err := sshM.Save(ctx, profile.Profile{Name: "a"})
	require.NoError(t, err)

	_, err = wsM.Load(ctx, "a")
	assert.True(t, store.IsNotFound(err))
	all, err := wsM.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	schemas, err := wsM.Configurations(ctx)
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, "ssh", schemas[0].Type)
}

func TestUnreadableCredentials(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	m, _ := s.ForType(ctx, "ssh", sshSchema)

	_, err := m.Save(ctx, profile.Profile{Name: "a", Fields: profile.Fields{"host": "h", "password": "pw"}})
	require.NoError(t, err)
	mr.HSet("connprof:test:profile:a", "secure", `{"password":"enc:v1:garbage"}`)

	_, err = m.Load(ctx, "a")
	assert.True(t, errors.Is(err, store.ErrMissingCredentials))

	all, err := m.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, profile.Fields{"host": "h"}, all[0].Fields)
}

func TestDomainSettings(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	want := store.DomainSettings{Sessions: []string{"a"}, Favorites: []string{"[a]: x"}}
	require.NoError(t, s.SaveDomainSettings(ctx, profile.DomainJobs, want))
	got, err := s.LoadDomainSettings(ctx, profile.DomainJobs)
	require.NoError(t, err)
	assert.Equal(t, want.Sessions, got.Sessions)
	assert.Equal(t, want.Favorites, got.Favorites)
	assert.Empty(t, got.History)

	empty, err := s.LoadDomainSettings(ctx, profile.DomainFiles)
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}

func TestOpenWithSharedClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s, err := Open(context.Background(), Options{Client: client, Key: bytes.Repeat([]byte{2}, storecrypto.KeySize)})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, client.Ping(context.Background()).Err(), "store must not close a client it does not own")
}
