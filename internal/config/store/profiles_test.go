package store

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/nupi-ai/connprof/internal/profile"
)

func TestSaveAndLoadProfile(t *testing.T) {
	s := openTestStore(t)
	m := zosmfManager(t, s)
	ctx := context.Background()

	saved, err := m.Save(ctx, profile.Profile{
		Name:   "lpar1",
		Fields: profile.Fields{"host": "mvs.example.com", "port": 443, "user": "ibmuser", "password": "sys1"},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.Type != "zosmf" {
		t.Fatalf("saved type = %q", saved.Type)
	}

	loaded, err := m.Load(ctx, "lpar1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := profile.Fields{"host": "mvs.example.com", "port": 443, "user": "ibmuser", "password": "sys1"}
	if !reflect.DeepEqual(loaded.Fields, want) {
		t.Fatalf("Load fields = %#v, want %#v", loaded.Fields, want)
	}

	var plain string
	if err := s.DB().QueryRow(`SELECT fields FROM profiles WHERE name = 'lpar1'`).Scan(&plain); err != nil {
		t.Fatalf("read raw row: %v", err)
	}
	if plain != `{"host":"mvs.example.com","port":443}` {
		t.Fatalf("secure fields leaked into plain column: %s", plain)
	}
}

func TestSaveRejectsDuplicateAcrossTypesAndCase(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := zosmfManager(t, s)
	ssh, err := s.ForType(ctx, "ssh", profile.Schema{})
	if err != nil {
		t.Fatalf("ForType ssh: %v", err)
	}

	if _, err := m.Save(ctx, profile.Profile{Name: "Prod", Fields: profile.Fields{"host": "a"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := m.Save(ctx, profile.Profile{Name: "prod"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for case variant, got %v", err)
	}
	if _, err := ssh.Save(ctx, profile.Profile{Name: "PROD"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists across types, got %v", err)
	}
}

func TestLoadMissingProfile(t *testing.T) {
	m := zosmfManager(t, openTestStore(t))
	ctx := context.Background()

	if _, err := m.Load(ctx, "ghost"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := m.LoadDefault(ctx); !IsNotFound(err) {
		t.Fatalf("expected no default, got %v", err)
	}
	if _, err := m.Delete(ctx, "ghost"); !IsNotFound(err) {
		t.Fatalf("expected not found on delete, got %v", err)
	}
}

func TestUpdateMergeAndReplace(t *testing.T) {
	m := zosmfManager(t, openTestStore(t))
	ctx := context.Background()

	if _, err := m.Save(ctx, profile.Profile{Name: "lpar1", Fields: profile.Fields{"host": "h", "port": 443, "user": "u", "password": "p"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	merged, err := m.Update(ctx, "lpar1", profile.Fields{"port": 1443, "user": nil}, true)
	if err != nil {
		t.Fatalf("Update merge: %v", err)
	}
	want := profile.Fields{"host": "h", "port": 1443, "password": "p"}
	if !reflect.DeepEqual(merged.Fields, want) {
		t.Fatalf("merged = %#v, want %#v", merged.Fields, want)
	}
	loaded, _ := m.Load(ctx, "lpar1")
	if !reflect.DeepEqual(loaded.Fields, want) {
		t.Fatalf("persisted = %#v, want %#v", loaded.Fields, want)
	}

	if _, err := m.Update(ctx, "lpar1", profile.Fields{"host": "other"}, false); err != nil {
		t.Fatalf("Update replace: %v", err)
	}
	loaded, _ = m.Load(ctx, "lpar1")
	if !reflect.DeepEqual(loaded.Fields, profile.Fields{"host": "other"}) {
		t.Fatalf("replace left %#v", loaded.Fields)
	}
}

func TestUpdateReportsMissingCredentials(t *testing.T) {
	s := openTestStore(t)
	m := zosmfManager(t, s)
	ctx := context.Background()

	if _, err := m.Save(ctx, profile.Profile{Name: "lpar1", Fields: profile.Fields{"host": "h", "password": "p"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.DB().Exec(`DELETE FROM security_settings`); err != nil {
		t.Fatalf("drop credentials: %v", err)
	}

	if _, err := m.Update(ctx, "lpar1", profile.Fields{"host": "x"}, true); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}

	all, err := m.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll should tolerate missing credentials: %v", err)
	}
	if len(all) != 1 || all[0].Fields.String("password") != "" {
		t.Fatalf("LoadAll = %#v", all)
	}
}

func TestDeleteRemovesProfileAndCredentials(t *testing.T) {
	s := openTestStore(t)
	m := zosmfManager(t, s)
	ctx := context.Background()

	if _, err := m.Save(ctx, profile.Profile{Name: "lpar1", Fields: profile.Fields{"host": "h", "user": "u"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	deleted, err := m.Delete(ctx, "LPAR1")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted.Name != "lpar1" {
		t.Fatalf("deleted name = %q", deleted.Name)
	}

	var n int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM security_settings`).Scan(&n); err != nil || n != 0 {
		t.Fatalf("credentials left behind: n=%d err=%v", n, err)
	}
	all, _ := m.LoadAll(ctx)
	if len(all) != 0 {
		t.Fatalf("profiles left behind: %v", all)
	}
}

func TestSetDefaultIsExclusivePerType(t *testing.T) {
	s := openTestStore(t)
	m := zosmfManager(t, s)
	ctx := context.Background()
	ssh, _ := s.ForType(ctx, "ssh", profile.Schema{})

	for _, name := range []string{"a", "b"} {
		if _, err := m.Save(ctx, profile.Profile{Name: name, Fields: profile.Fields{"host": name}}); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
	}
	if _, err := ssh.Save(ctx, profile.Profile{Name: "box"}); err != nil {
		t.Fatalf("Save ssh: %v", err)
	}

	if err := m.SetDefault(ctx, "a"); err != nil {
		t.Fatalf("SetDefault a: %v", err)
	}
	if err := ssh.SetDefault(ctx, "box"); err != nil {
		t.Fatalf("SetDefault box: %v", err)
	}
	if err := m.SetDefault(ctx, "b"); err != nil {
		t.Fatalf("SetDefault b: %v", err)
	}
	if err := m.SetDefault(ctx, "box"); !IsNotFound(err) {
		t.Fatalf("expected not found for other type's profile, got %v", err)
	}

	def, err := m.LoadDefault(ctx)
	if err != nil || def.Name != "b" {
		t.Fatalf("zosmf default = %q, %v", def.Name, err)
	}
	def, err = ssh.LoadDefault(ctx)
	if err != nil || def.Name != "box" {
		t.Fatalf("ssh default = %q, %v", def.Name, err)
	}
}

func TestConfigurationsAndTypeScoping(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := zosmfManager(t, s)
	ssh, _ := s.ForType(ctx, "ssh", profile.Schema{})

	schemas, err := ssh.Configurations(ctx)
	if err != nil {
		t.Fatalf("Configurations: %v", err)
	}
	if len(schemas) != 1 || schemas[0].Type != "zosmf" || len(schemas[0].Properties) != 4 {
		t.Fatalf("Configurations = %#v", schemas)
	}

	if _, err := m.Save(ctx, profile.Profile{Name: "a", Fields: profile.Fields{"host": "h"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := ssh.Save(ctx, profile.Profile{Name: "b"}); err != nil {
		t.Fatal(err)
	}
	all, err := ssh.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 1 || all[0].Name != "b" {
		t.Fatalf("ssh LoadAll = %#v", all)
	}
}

func TestDeleteReturnsStoredName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := zosmfManager(t, s)

	if _, err := m.Save(ctx, profile.Profile{Name: "LPAR1", Fields: profile.Fields{"host": "h"}}); err != nil {
		t.Fatal(err)
	}
	deleted, err := m.Delete(ctx, "lpar1")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted.Name != "LPAR1" {
		t.Fatalf("deleted name = %q, want stored spelling", deleted.Name)
	}
	if _, err := m.Load(ctx, "LPAR1"); !IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestSaveDiscardsProfileWhenCredentialsFail(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := zosmfManager(t, s)

	if _, err := s.DB().ExecContext(ctx, `
		CREATE TRIGGER reject_secrets BEFORE INSERT ON security_settings
		BEGIN SELECT RAISE(ABORT, 'secrets rejected'); END
	`); err != nil {
		t.Fatal(err)
	}

	_, err := m.Save(ctx, profile.Profile{Name: "lpar", Fields: profile.Fields{"host": "h", "password": "pw"}})
	if err == nil || !strings.Contains(err.Error(), "store credentials") {
		t.Fatalf("Save error = %v", err)
	}
	if _, err := m.Load(ctx, "lpar"); !IsNotFound(err) {
		t.Fatalf("expected the profile row to be discarded, got %v", err)
	}

	if _, err := s.DB().ExecContext(ctx, `
		CREATE TRIGGER keep_profiles BEFORE DELETE ON profiles
		BEGIN SELECT RAISE(ABORT, 'delete rejected'); END
	`); err != nil {
		t.Fatal(err)
	}
	_, err = m.Save(ctx, profile.Profile{Name: "stuck", Fields: profile.Fields{"host": "h", "password": "pw"}})
	if err == nil {
		t.Fatal("expected Save to fail")
	}
	if !strings.Contains(err.Error(), "store credentials") || !strings.Contains(err.Error(), "discard profile") {
		t.Fatalf("Save error should report both failures, got %v", err)
	}
}

func TestSecureKeysColumn(t *testing.T) {
	raw, err := encodeSecureKeys(map[string]string{"password": "x", "user": "y"})
	if err != nil {
		t.Fatal(err)
	}
	if raw != `["password","user"]` {
		t.Fatalf("encoded = %v", raw)
	}
	if raw, _ := encodeSecureKeys(nil); raw != nil {
		t.Fatalf("empty secure fields should store NULL, got %v", raw)
	}

	keys, err := decodeSecureKeys(sql.NullString{String: `["password","user"]`, Valid: true})
	if err != nil || !reflect.DeepEqual(keys, []string{"password", "user"}) {
		t.Fatalf("decoded = %v, %v", keys, err)
	}
	for _, blank := range []sql.NullString{{}, {String: "  ", Valid: true}} {
		if keys, err := decodeSecureKeys(blank); err != nil || keys != nil {
			t.Fatalf("blank column decoded to %v, %v", keys, err)
		}
	}
	if _, err := decodeSecureKeys(sql.NullString{String: "{", Valid: true}); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}
