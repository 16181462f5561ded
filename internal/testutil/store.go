// Package testutil holds helpers shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"

	configstore "github.com/nupi-ai/connprof/internal/config/store"
)

// OpenStore creates a throwaway store under t.TempDir with the OS keychain
// disabled. It is closed when the test ends.
func OpenStore(t testing.TB) *configstore.Store {
	t.Helper()
	t.Cleanup(configstore.DisableKeychainForTesting())

	dbPath := filepath.Join(t.TempDir(), "config.db")
	store, err := configstore.Open(configstore.Options{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
