package crypto

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const upsertCredentialSQL = `
	INSERT INTO security_settings (instance_name, profile_name, key, value, updated_at)
	VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(instance_name, profile_name, key) DO UPDATE SET
		value = excluded.value,
		updated_at = CURRENT_TIMESTAMP
`

// AESBackend keeps sealed credentials in the security_settings table.
type AESBackend struct {
	db       *sql.DB
	key      []byte
	instance string
	profile  string
}

// NewAESBackend returns a backend for the credentials of one profile.
func NewAESBackend(db *sql.DB, key []byte, instance, profile string) *AESBackend {
	return &AESBackend{db: db, key: key, instance: instance, profile: profile}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (ab *AESBackend) put(ctx context.Context, db execer, key, value string) error {
	sealed, err := EncryptValue(ab.key, value)
	if err != nil {
		return fmt.Errorf("aes-file: seal %q: %w", key, err)
	}
	if _, err := db.ExecContext(ctx, upsertCredentialSQL, ab.instance, ab.profile, key, sealed); err != nil {
		return fmt.Errorf("aes-file: set %q: %w", key, err)
	}
	return nil
}

// Set stores one credential.
func (ab *AESBackend) Set(ctx context.Context, key, value string) error {
	return ab.put(ctx, ab.db, key, value)
}

// SetBatch stores all values in one transaction.
func (ab *AESBackend) SetBatch(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	tx, err := ab.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("aes-file: begin tx: %w", err)
	}
	defer tx.Rollback()

	for key, value := range values {
		if err := ab.put(ctx, tx, key, value); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("aes-file: commit: %w", err)
	}
	return nil
}

// Get returns one credential or ErrSecretNotFound.
func (ab *AESBackend) Get(ctx context.Context, key string) (string, error) {
	var sealed string
	err := ab.db.QueryRowContext(ctx, `
		SELECT value FROM security_settings
		WHERE instance_name = ? AND profile_name = ? AND key = ?
	`, ab.instance, ab.profile, key).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("aes-file: get %q: %w", key, ErrSecretNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("aes-file: get %q: %w", key, err)
	}
	value, err := DecryptValue(ab.key, sealed)
	if err != nil {
		return "", fmt.Errorf("aes-file: open %q: %w", key, err)
	}
	return value, nil
}

// GetBatch returns the credentials among keys that are stored.
func (ab *AESBackend) GetBatch(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(keys)+2)
	args = append(args, ab.instance, ab.profile)
	for _, k := range keys {
		args = append(args, k)
	}
	query := `SELECT key, value FROM security_settings
		WHERE instance_name = ? AND profile_name = ? AND key IN (?` + strings.Repeat(",?", len(keys)-1) + `)`

	rows, err := ab.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aes-file: get batch: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, sealed string
		if err := rows.Scan(&key, &sealed); err != nil {
			return nil, fmt.Errorf("aes-file: scan batch: %w", err)
		}
		value, err := DecryptValue(ab.key, sealed)
		if err != nil {
			return nil, fmt.Errorf("aes-file: open %q: %w", key, err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aes-file: iterate batch: %w", err)
	}
	return out, nil
}

// Delete removes one credential or reports ErrSecretNotFound.
func (ab *AESBackend) Delete(ctx context.Context, key string) error {
	res, err := ab.db.ExecContext(ctx, `
		DELETE FROM security_settings
		WHERE instance_name = ? AND profile_name = ? AND key = ?
	`, ab.instance, ab.profile, key)
	if err != nil {
		return fmt.Errorf("aes-file: delete %q: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("aes-file: delete %q: %w", key, ErrSecretNotFound)
	}
	return nil
}

// Available reports whether a key was loaded.
func (ab *AESBackend) Available() bool { return ab.key != nil }

func (ab *AESBackend) Name() string { return "aes-file" }
