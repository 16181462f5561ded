package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	storecrypto "github.com/nupi-ai/connprof/internal/config/store/crypto"
	"github.com/nupi-ai/connprof/internal/profile"
)

// TypeManager persists profiles of a single type. It is safe to keep for the
// lifetime of the store.
type TypeManager struct {
	store  *Store
	typ    string
	schema profile.Schema
}

// ForType returns the manager for typ. A non-empty schema is recorded so
// that other managers can report it through Configurations.
func (s *Store) ForType(ctx context.Context, typ string, schema profile.Schema) (*TypeManager, error) {
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return nil, fmt.Errorf("config: profile type is required")
	}
	if !schema.IsZero() && !s.readOnly {
		if schema.Type == "" {
			schema.Type = typ
		}
		raw, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("config: encode %s schema: %w", typ, err)
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO profile_schemas (instance_name, type, schema, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(instance_name, type) DO UPDATE SET
				schema = excluded.schema,
				updated_at = CURRENT_TIMESTAMP
		`, s.instanceName, typ, string(raw)); err != nil {
			return nil, fmt.Errorf("config: record %s schema: %w", typ, err)
		}
	}
	return &TypeManager{store: s, typ: typ, schema: schema}, nil
}

// Type returns the profile type handled by the manager.
func (m *TypeManager) Type() string { return m.typ }

// Schema returns the schema the manager was created with.
func (m *TypeManager) Schema() profile.Schema { return m.schema }

// Configurations returns every schema recorded for the instance.
func (m *TypeManager) Configurations(ctx context.Context) ([]profile.Schema, error) {
	rows, err := m.store.db.QueryContext(ctx, `
		SELECT schema FROM profile_schemas WHERE instance_name = ? ORDER BY type
	`, m.store.instanceName)
	if err != nil {
		return nil, fmt.Errorf("config: list schemas: %w", err)
	}
	return scanList(rows, func(r rowScanner) (profile.Schema, error) {
		var raw string
		var schema profile.Schema
		if err := r.Scan(&raw); err != nil {
			return schema, err
		}
		err := json.Unmarshal([]byte(raw), &schema)
		return schema, err
	}, "config: scan schema", "config: iterate schemas")
}

// Load returns the named profile of the manager's type.
func (m *TypeManager) Load(ctx context.Context, name string) (profile.Profile, error) {
	row := m.store.db.QueryRowContext(ctx, `
		SELECT name, type, fields, secure_keys, is_default
		FROM profiles
		WHERE instance_name = ? AND type = ? AND name = ?
	`, m.store.instanceName, m.typ, name)
	rec, err := scanProfileRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Profile{}, NotFoundError{Entity: "profile", Key: m.typ + "/" + name}
	}
	if err != nil {
		return profile.Profile{}, fmt.Errorf("config: load profile %q: %w", name, err)
	}
	return m.withSecrets(ctx, rec, true)
}

// LoadDefault returns the type's default profile.
func (m *TypeManager) LoadDefault(ctx context.Context) (profile.Profile, error) {
	row := m.store.db.QueryRowContext(ctx, `
		SELECT name, type, fields, secure_keys, is_default
		FROM profiles
		WHERE instance_name = ? AND type = ? AND is_default = 1
	`, m.store.instanceName, m.typ)
	rec, err := scanProfileRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Profile{}, NotFoundError{Entity: "default profile", Key: m.typ}
	}
	if err != nil {
		return profile.Profile{}, fmt.Errorf("config: load default %s profile: %w", m.typ, err)
	}
	return m.withSecrets(ctx, rec, false)
}

// LoadAll returns every profile of the manager's type ordered by name.
// Profiles whose secure values cannot be resolved are returned without them.
func (m *TypeManager) LoadAll(ctx context.Context) ([]profile.Profile, error) {
	rows, err := m.store.db.QueryContext(ctx, `
		SELECT name, type, fields, secure_keys, is_default
		FROM profiles
		WHERE instance_name = ? AND type = ?
		ORDER BY name
	`, m.store.instanceName, m.typ)
	if err != nil {
		return nil, fmt.Errorf("config: list %s profiles: %w", m.typ, err)
	}
	records, err := scanList(rows, scanProfileRow, "config: scan profile", "config: iterate profiles")
	if err != nil {
		return nil, err
	}

	out := make([]profile.Profile, 0, len(records))
	for _, rec := range records {
		p, err := m.withSecrets(ctx, rec, false)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Save inserts a new profile. Names are unique per instance regardless of
// type and case.
func (m *TypeManager) Save(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	if m.store.readOnly {
		return profile.Profile{}, fmt.Errorf("config: save profile: store opened read-only")
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return profile.Profile{}, fmt.Errorf("config: save profile: name is required")
	}

	plain, secure := m.split(p.Fields)
	fieldsJSON, err := json.Marshal(plain)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("config: encode profile %q: %w", name, err)
	}
	keysJSON, err := encodeSecureKeys(secure)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("config: encode secure keys %q: %w", name, err)
	}

	err = m.store.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM profiles WHERE instance_name = ? AND name = ?)
		`, m.store.instanceName, name).Scan(&exists); err != nil {
			return fmt.Errorf("config: check profile %q: %w", name, err)
		}
		if exists {
			return fmt.Errorf("config: profile %q: %w", name, ErrAlreadyExists)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO profiles (instance_name, name, type, fields, secure_keys, is_default, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, `+timestampExpr+`)
		`, m.store.instanceName, name, m.typ, string(fieldsJSON), keysJSON); err != nil {
			return fmt.Errorf("config: insert profile %q: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return profile.Profile{}, err
	}

	if len(secure) > 0 {
		if err := m.store.secretsFor(name).SetBatch(ctx, secure); err != nil {
			err = fmt.Errorf("config: store credentials for %q: %w", name, err)
			if _, delErr := m.store.db.ExecContext(ctx, `
				DELETE FROM profiles WHERE instance_name = ? AND name = ?
			`, m.store.instanceName, name); delErr != nil {
				err = errors.Join(err, fmt.Errorf("config: discard profile %q without credentials: %w", name, delErr))
			}
			return profile.Profile{}, err
		}
	}

	return profile.Profile{Name: name, Type: m.typ, Fields: p.Fields.Clone()}, nil
}

// Update rewrites the stored fields of name. With merge the given fields are
// merged onto the stored ones (nil values delete); without merge they
// replace the stored fields entirely.
func (m *TypeManager) Update(ctx context.Context, name string, fields profile.Fields, merge bool) (profile.Profile, error) {
	if m.store.readOnly {
		return profile.Profile{}, fmt.Errorf("config: update profile: store opened read-only")
	}
	current, err := m.Load(ctx, name)
	if err != nil {
		return profile.Profile{}, err
	}

	next := fields.Clone()
	if merge {
		next = profile.Merge(current.Fields, fields)
	}
	for k, v := range next {
		if v == nil {
			delete(next, k)
		}
	}

	plain, secure := m.split(next)
	fieldsJSON, err := json.Marshal(plain)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("config: encode profile %q: %w", name, err)
	}
	keysJSON, err := encodeSecureKeys(secure)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("config: encode secure keys %q: %w", name, err)
	}

	res, err := m.store.db.ExecContext(ctx, `
		UPDATE profiles
		SET fields = ?, secure_keys = ?, updated_at = `+timestampExpr+`
		WHERE instance_name = ? AND type = ? AND name = ?
	`, string(fieldsJSON), keysJSON, m.store.instanceName, m.typ, current.Name)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("config: update profile %q: %w", name, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return profile.Profile{}, NotFoundError{Entity: "profile", Key: m.typ + "/" + name}
	}

	backend := m.store.secretsFor(current.Name)
	if err := backend.SetBatch(ctx, secure); err != nil {
		return profile.Profile{}, fmt.Errorf("config: store credentials for %q: %w", name, err)
	}
	for _, key := range m.schema.SecureNames() {
		if _, keep := secure[key]; keep {
			continue
		}
		if _, had := current.Fields[key]; !had {
			continue
		}
		if err := backend.Delete(ctx, key); err != nil && !errors.Is(err, storecrypto.ErrSecretNotFound) {
			return profile.Profile{}, fmt.Errorf("config: remove credential %q of %q: %w", key, name, err)
		}
	}

	return profile.Profile{Name: current.Name, Type: m.typ, Fields: next}, nil
}

// Delete removes the named profile and its stored credentials.
func (m *TypeManager) Delete(ctx context.Context, name string) (profile.Profile, error) {
	if m.store.readOnly {
		return profile.Profile{}, fmt.Errorf("config: delete profile: store opened read-only")
	}
	row := m.store.db.QueryRowContext(ctx, `
		SELECT name, type, fields, secure_keys, is_default
		FROM profiles
		WHERE instance_name = ? AND type = ? AND name = ?
	`, m.store.instanceName, m.typ, name)
	rec, err := scanProfileRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Profile{}, NotFoundError{Entity: "profile", Key: m.typ + "/" + name}
	}
	if err != nil {
		return profile.Profile{}, fmt.Errorf("config: load profile %q: %w", name, err)
	}

	// Keychain entries are not covered by the cascade on security_settings.
	backend := m.store.secretsFor(rec.name)
	for _, key := range rec.secureKeys {
		if err := backend.Delete(ctx, key); err != nil && !errors.Is(err, storecrypto.ErrSecretNotFound) {
			return profile.Profile{}, fmt.Errorf("config: remove credential %q of %q: %w", key, name, err)
		}
	}

	if _, err := m.store.db.ExecContext(ctx, `
		DELETE FROM profiles WHERE instance_name = ? AND type = ? AND name = ?
	`, m.store.instanceName, m.typ, rec.name); err != nil {
		return profile.Profile{}, fmt.Errorf("config: delete profile %q: %w", name, err)
	}
	return profile.Profile{Name: rec.name, Type: rec.typ, Fields: rec.fields}, nil
}

// SetDefault marks name as the default profile of the manager's type.
func (m *TypeManager) SetDefault(ctx context.Context, name string) error {
	if m.store.readOnly {
		return fmt.Errorf("config: set default profile: store opened read-only")
	}

	return m.store.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM profiles
				WHERE instance_name = ? AND type = ? AND name = ?
			)
		`, m.store.instanceName, m.typ, name).Scan(&exists); err != nil {
			return fmt.Errorf("config: check profile %q: %w", name, err)
		}
		if !exists {
			return NotFoundError{Entity: "profile", Key: m.typ + "/" + name}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE profiles
			SET is_default = CASE WHEN name = ? THEN 1 ELSE 0 END,
			    updated_at = `+timestampExpr+`
			WHERE instance_name = ? AND type = ?
		`, name, m.store.instanceName, m.typ); err != nil {
			return fmt.Errorf("config: update default profile: %w", err)
		}
		return nil
	})
}

// split separates secure values (per schema) from plain ones.
func (m *TypeManager) split(fields profile.Fields) (profile.Fields, map[string]string) {
	plain := profile.Fields{}
	secure := map[string]string{}
	for k, v := range fields {
		if v == nil {
			continue
		}
		if prop, ok := m.schema.Property(k); ok && prop.Secure {
			secure[k] = fields.String(k)
			continue
		}
		plain[k] = v
	}
	return plain, secure
}

// withSecrets resolves secure values into the profile fields. With strict,
// an unresolved secure key is reported as ErrMissingCredentials.
func (m *TypeManager) withSecrets(ctx context.Context, rec profileRecord, strict bool) (profile.Profile, error) {
	p := profile.Profile{Name: rec.name, Type: rec.typ, Fields: rec.fields}
	if len(rec.secureKeys) == 0 {
		return p, nil
	}
	values, err := m.store.secretsFor(rec.name).GetBatch(ctx, rec.secureKeys)
	if err != nil {
		if strict {
			return profile.Profile{}, fmt.Errorf("config: credentials for %q: %w: %v", rec.name, ErrMissingCredentials, err)
		}
		return p, nil
	}
	for _, key := range rec.secureKeys {
		value, ok := values[key]
		if !ok {
			if strict {
				return profile.Profile{}, fmt.Errorf("config: credential %q for %q: %w", key, rec.name, ErrMissingCredentials)
			}
			continue
		}
		p.Fields[key] = value
	}
	return p, nil
}
