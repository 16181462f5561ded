package crypto

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

type memKeyring struct {
	mu    sync.Mutex
	data  map[string]string
	fail  error
	block chan struct{}
}

func newMemKeyring() *memKeyring { return &memKeyring{data: map[string]string{}} }

func (m *memKeyring) wait() {
	if m.block != nil {
		<-m.block
	}
}

func (m *memKeyring) Set(service, user, password string) error {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.data[service+"|"+user] = password
	return nil
}

func (m *memKeyring) Get(service, user string) (string, error) {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[service+"|"+user]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return v, nil
}

func (m *memKeyring) Delete(service, user string) error {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[service+"|"+user]; !ok {
		return keyring.ErrNotFound
	}
	delete(m.data, service+"|"+user)
	return nil
}

func (m *memKeyring) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func TestAESBackendLifecycle(t *testing.T) {
	ab := NewAESBackend(openTestDB(t), testKey(), "default", "lpar1")
	ctx := context.Background()

	if err := ab.SetBatch(ctx, map[string]string{"user": "ibmuser", "password": "sys1"}); err != nil {
		t.Fatalf("SetBatch: %v", err)
	}
	if got, err := ab.Get(ctx, "password"); err != nil || got != "sys1" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	batch, err := ab.GetBatch(ctx, []string{"user", "password", "tokenValue"})
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(batch) != 2 || batch["user"] != "ibmuser" {
		t.Fatalf("GetBatch = %v", batch)
	}

	if err := ab.Delete(ctx, "password"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := ab.Get(ctx, "password"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound after delete, got %v", err)
	}
	if err := ab.Delete(ctx, "password"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound on second delete, got %v", err)
	}
}

func TestAESBackendScopesByProfileCaseInsensitively(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := NewAESBackend(db, testKey(), "default", "LPAR1").Set(ctx, "password", "a"); err != nil {
		t.Fatal(err)
	}
	if got, err := NewAESBackend(db, testKey(), "default", "lpar1").Get(ctx, "password"); err != nil || got != "a" {
		t.Fatalf("case-folded lookup = %q, %v", got, err)
	}
	if _, err := NewAESBackend(db, testKey(), "default", "lpar2").Get(ctx, "password"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected other profile to be isolated, got %v", err)
	}
}

func TestKeychainBackendRoundTrip(t *testing.T) {
	mem := newMemKeyring()
	kb := newKeychainBackendWithProvider("default", "lpar1", mem)
	ctx := context.Background()

	if !kb.Available() {
		t.Fatal("expected probe to succeed")
	}
	if err := kb.Set(ctx, "password", "pw"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, err := kb.Get(ctx, "password"); err != nil || got != "pw" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	got, err := kb.GetBatch(ctx, []string{"password", "user"})
	if err != nil || len(got) != 1 {
		t.Fatalf("GetBatch = %v, %v", got, err)
	}
	if err := kb.Delete(ctx, "password"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := kb.Delete(ctx, "password"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound, got %v", err)
	}
	if mem.len() != 0 {
		t.Fatalf("probe or delete left %d entries behind", mem.len())
	}
}

func TestKeychainBackendRejectsSeparator(t *testing.T) {
	kb := newKeychainBackendWithProvider("default", "bad\x1fname", newMemKeyring())
	if err := kb.Set(context.Background(), "password", "pw"); err == nil {
		t.Fatal("expected error for separator in profile name")
	}
}

func TestKeychainBackendTripsOnTimeout(t *testing.T) {
	mem := newMemKeyring()
	mem.block = make(chan struct{})
	t.Cleanup(func() { close(mem.block) })

	kb := newKeychainBackendWithProvider("default", "lpar1", mem)
	kb.force.Store(true)
	kb.timeout = 20 * time.Millisecond

	if err := kb.Set(context.Background(), "password", "pw"); err == nil {
		t.Fatal("expected timeout error")
	}
	if kb.Available() {
		t.Fatal("expected tripped backend to report unavailable even when forced")
	}
}

func TestFallbackBackendKeepsDatabaseAuthoritative(t *testing.T) {
	ctx := context.Background()
	mem := newMemKeyring()
	kc := newKeychainBackendWithProvider("default", "lpar1", mem)
	aes := NewAESBackend(openTestDB(t), testKey(), "default", "lpar1")
	fb := NewFallbackBackend(kc, aes)

	if err := fb.SetBatch(ctx, map[string]string{"password": "pw", "user": "u"}); err != nil {
		t.Fatalf("SetBatch: %v", err)
	}
	if got, err := aes.Get(ctx, "password"); err != nil || got != "pw" {
		t.Fatalf("database copy = %q, %v", got, err)
	}
	if got, err := kc.Get(ctx, "password"); err != nil || got != "pw" {
		t.Fatalf("keychain copy = %q, %v", got, err)
	}

	// A keychain miss is filled from the database.
	if err := kc.Delete(ctx, "user"); err != nil {
		t.Fatal(err)
	}
	batch, err := fb.GetBatch(ctx, []string{"password", "user"})
	if err != nil || batch["user"] != "u" || batch["password"] != "pw" {
		t.Fatalf("GetBatch = %v, %v", batch, err)
	}

	if err := fb.Delete(ctx, "password"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := fb.Get(ctx, "password"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound, got %v", err)
	}
	if fb.Name() != "keychain+aes-file" {
		t.Fatalf("Name = %q", fb.Name())
	}
}

func TestFallbackBackendToleratesKeychainWriteFailure(t *testing.T) {
	ctx := context.Background()
	mem := newMemKeyring()
	kc := newKeychainBackendWithProvider("default", "lpar1", mem)
	kc.force.Store(true)
	mem.fail = errors.New("locked")
	fb := NewFallbackBackend(kc, NewAESBackend(openTestDB(t), testKey(), "default", "lpar1"))

	if err := fb.Set(ctx, "password", "pw"); err != nil {
		t.Fatalf("Set should succeed through the database: %v", err)
	}
	if got, err := fb.Get(ctx, "password"); err != nil || got != "pw" {
		t.Fatalf("Get = %q, %v", got, err)
	}
}
