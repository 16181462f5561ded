package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	storecrypto "github.com/nupi-ai/connprof/internal/config/store/crypto"
	"github.com/nupi-ai/connprof/internal/profile"
)

var zosmfSchema = profile.Schema{
	Type: "zosmf",
	Properties: []profile.Property{
		{Name: "host", Kind: profile.KindString},
		{Name: "port", Kind: profile.KindNumber, Default: 443},
		{Name: "user", Kind: profile.KindString, Secure: true, Optional: true},
		{Name: "password", Kind: profile.KindString, Secure: true, Optional: true},
	},
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{DBPath: filepath.Join(t.TempDir(), "config.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func zosmfManager(t *testing.T, s *Store) *TypeManager {
	t.Helper()
	m, err := s.ForType(context.Background(), "zosmf", zosmfSchema)
	if err != nil {
		t.Fatalf("ForType: %v", err)
	}
	return m
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "direct", err: NotFoundError{Entity: "profile", Key: "zosmf/a"}, want: true},
		{name: "wrapped", err: fmt.Errorf("outer: %w", NotFoundError{Entity: "profile"}), want: true},
		{name: "nil", err: nil, want: false},
		{name: "other", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNotFoundErrorMessage(t *testing.T) {
	t.Parallel()
	if got := (NotFoundError{Entity: "profile", Key: "zosmf/a"}).Error(); got != "profile zosmf/a not found" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := (NotFoundError{Entity: "default profile"}).Error(); got != "default profile not found" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestOpenCreatesKeyAndReopens(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "config.db")
	s, err := Open(Options{DBPath: dbPath, InstanceName: "lab"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.InstanceName() != "lab" || s.Path() != dbPath || s.ReadOnly() {
		t.Fatalf("unexpected store metadata: %q %q %v", s.InstanceName(), s.Path(), s.ReadOnly())
	}
	key, err := storecrypto.LoadKey(storecrypto.KeyPath(dbPath))
	if err != nil || key == nil {
		t.Fatalf("expected key file after Open: %v", err)
	}

	ctx := context.Background()
	m, _ := s.ForType(ctx, "zosmf", zosmfSchema)
	if _, err := m.Save(ctx, profile.Profile{Name: "lpar1", Fields: profile.Fields{"host": "h", "password": "pw"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.Close()

	ro, err := Open(Options{DBPath: dbPath, InstanceName: "lab", ReadOnly: true})
	if err != nil {
		t.Fatalf("Open read-only: %v", err)
	}
	defer ro.Close()
	rm, err := ro.ForType(ctx, "zosmf", zosmfSchema)
	if err != nil {
		t.Fatalf("ForType read-only: %v", err)
	}
	p, err := rm.Load(ctx, "lpar1")
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if p.Fields.String("password") != "pw" {
		t.Fatalf("secure field not restored: %v", p.Fields)
	}
	if _, err := rm.Save(ctx, profile.Profile{Name: "x"}); err == nil {
		t.Fatal("expected read-only save to fail")
	}
}
