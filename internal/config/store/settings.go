package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nupi-ai/connprof/internal/profile"
)

// LoadSettings returns key/value settings stored under namespace. Optional
// keys limit the selection.
func (s *Store) LoadSettings(ctx context.Context, namespace string, keys ...string) (map[string]string, error) {
	query := `SELECT key, value FROM settings WHERE instance_name = ? AND namespace = ?`
	args := []any{s.instanceName, namespace}

	if len(keys) > 0 {
		query += " AND key IN (?" + strings.Repeat(",?", len(keys)-1) + ")"
		for _, key := range keys {
			args = append(args, key)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("config: load settings %s: %w", namespace, err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		key, value, err := scanStringPair(rows)
		if err != nil {
			return nil, fmt.Errorf("config: scan settings row: %w", err)
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: iterate settings rows: %w", err)
	}
	return result, nil
}

// SaveSettings upserts values under namespace.
func (s *Store) SaveSettings(ctx context.Context, namespace string, values map[string]string) error {
	if s.readOnly {
		return fmt.Errorf("config: save settings: store opened read-only")
	}
	if len(values) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertSettings(ctx, tx, s.instanceName, namespace, values)
	})
}

func upsertSettings(ctx context.Context, tx *sql.Tx, instance, namespace string, values map[string]string) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO settings (instance_name, namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?, `+timestampExpr+`)
		ON CONFLICT(instance_name, namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("config: prepare save settings: %w", err)
	}
	defer stmt.Close()

	for key, value := range values {
		if _, err := stmt.ExecContext(ctx, instance, namespace, key, value); err != nil {
			return fmt.Errorf("config: save setting %s.%s: %w", namespace, key, err)
		}
	}
	return nil
}

// LoadDomainSettings returns the persisted lists of a consumer domain.
func (s *Store) LoadDomainSettings(ctx context.Context, domain profile.Domain) (DomainSettings, error) {
	values, err := s.LoadSettings(ctx, domain.SettingsNamespace(), settingSessions, settingFavorites, settingHistory)
	if err != nil {
		return DomainSettings{}, err
	}

	var out DomainSettings
	for key, target := range map[string]*[]string{
		settingSessions:  &out.Sessions,
		settingFavorites: &out.Favorites,
		settingHistory:   &out.History,
	} {
		raw, ok := values[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(raw), target); err != nil {
			return DomainSettings{}, fmt.Errorf("config: decode %s.%s: %w", domain.SettingsNamespace(), key, err)
		}
	}
	return out, nil
}

// SaveDomainSettings replaces every list of a consumer domain in one transaction.
func (s *Store) SaveDomainSettings(ctx context.Context, domain profile.Domain, settings DomainSettings) error {
	if s.readOnly {
		return fmt.Errorf("config: save settings: store opened read-only")
	}

	values := make(map[string]string, 3)
	for key, list := range map[string][]string{
		settingSessions:  settings.Sessions,
		settingFavorites: settings.Favorites,
		settingHistory:   settings.History,
	} {
		if list == nil {
			list = []string{}
		}
		data, err := json.Marshal(list)
		if err != nil {
			return fmt.Errorf("config: encode %s: %w", key, err)
		}
		values[key] = string(data)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertSettings(ctx, tx, s.instanceName, domain.SettingsNamespace(), values)
	})
}
