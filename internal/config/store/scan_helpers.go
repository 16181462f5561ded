package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/nupi-ai/connprof/internal/profile"
)

type rowScanner interface {
	Scan(dest ...any) error
}

type profileRecord struct {
	name       string
	typ        string
	fields     profile.Fields
	secureKeys []string
	isDefault  bool
}

func scanProfileRow(scanner rowScanner) (profileRecord, error) {
	var (
		rec       profileRecord
		fieldsRaw sql.NullString
		secureRaw sql.NullString
		isDefault int
	)
	if err := scanner.Scan(&rec.name, &rec.typ, &fieldsRaw, &secureRaw, &isDefault); err != nil {
		return profileRecord{}, err
	}
	rec.isDefault = isDefault == 1

	fields := profile.Fields{}
	if fieldsRaw.Valid && fieldsRaw.String != "" {
		decoded, err := profile.DecodeFields([]byte(fieldsRaw.String))
		if err != nil {
			return profileRecord{}, fmt.Errorf("decode fields of %s: %w", rec.name, err)
		}
		fields = decoded
	}
	rec.fields = fields

	keys, err := decodeSecureKeys(secureRaw)
	if err != nil {
		return profileRecord{}, fmt.Errorf("decode secure keys of %s: %w", rec.name, err)
	}
	rec.secureKeys = keys
	return rec, nil
}

func scanStringPair(scanner rowScanner) (string, string, error) {
	var key, value string
	err := scanner.Scan(&key, &value)
	return key, value, err
}

// encodeSecureKeys returns the sorted names of the secure fields as the
// secure_keys column value. A profile without secure fields stores NULL.
func encodeSecureKeys(secure map[string]string) (any, error) {
	if len(secure) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(secure))
	for k := range secure {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	data, err := json.Marshal(keys)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// decodeSecureKeys reads the secure_keys column. NULL and blank mean none.
func decodeSecureKeys(raw sql.NullString) ([]string, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw.String), &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// scanList scans every row with scanFn and closes rows.
func scanList[T any](rows *sql.Rows, scanFn func(rowScanner) (T, error), scanOp, iterOp string) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		item, err := scanFn(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", scanOp, err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", iterOp, err)
	}
	return result, nil
}
