package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	KeySize     = 32 // AES-256
	KeyFileName = ".credentials.key"
	// EncPrefix marks sealed credential values.
	EncPrefix = "enc:v1:"
)

// ErrNotEncrypted is returned by DecryptValue for values without EncPrefix.
var ErrNotEncrypted = errors.New("value is not encrypted")

// KeyPath returns the key file location next to the database.
func KeyPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), KeyFileName)
}

// LoadKey reads the key at keyPath. A missing file yields nil, nil.
func LoadKey(keyPath string) ([]byte, error) {
	f, err := os.Open(keyPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open credential key: %w", err)
	}
	defer f.Close()

	// Windows reports synthetic permission bits.
	if runtime.GOOS != "windows" {
		if info, statErr := f.Stat(); statErr == nil && info.Mode().Perm()&0o077 != 0 {
			log.Printf("[Config] WARNING: credential key %s is readable by others (mode 0%o)", keyPath, info.Mode().Perm())
		}
	}

	key, err := io.ReadAll(io.LimitReader(f, KeySize+1))
	if err != nil {
		return nil, fmt.Errorf("config: read credential key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("config: credential key %s has %d bytes, want %d", keyPath, len(key), KeySize)
	}
	return key, nil
}

// CreateKey writes a fresh random key to keyPath. When another process wins
// the race the existing key is returned instead. Callers must make sure no
// sealed values exist that the new key could not open.
func CreateKey(keyPath string) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("config: generate credential key: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(keyPath), KeyFileName+".*")
	if err != nil {
		return nil, fmt.Errorf("config: create credential key: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("config: chmod credential key: %w", err)
	}
	if _, err := tmp.Write(key); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("config: write credential key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("config: close credential key: %w", err)
	}

	// Link fails when keyPath exists, so the file is never seen half written.
	if err := os.Link(tmpPath, keyPath); err != nil {
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("config: install credential key: %w", err)
		}
		existing, loadErr := LoadKey(keyPath)
		if loadErr != nil {
			return nil, loadErr
		}
		if existing == nil {
			return nil, fmt.Errorf("config: credential key %s vanished after concurrent create", keyPath)
		}
		return existing, nil
	}
	return key, nil
}

// HasEncryptedValues reports whether security_settings holds sealed values.
func HasEncryptedValues(ctx context.Context, db *sql.DB) (bool, error) {
	var found bool
	if err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM security_settings WHERE value LIKE ?)`,
		EncPrefix+"%",
	).Scan(&found); err != nil {
		return false, fmt.Errorf("config: check sealed credentials: %w", err)
	}
	return found, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptValue seals plaintext with AES-256-GCM as EncPrefix + base64(nonce|ciphertext).
func EncryptValue(key []byte, plaintext string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("config: init cipher: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("config: generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptValue opens a value produced by EncryptValue.
func DecryptValue(key []byte, stored string) (string, error) {
	encoded, ok := strings.CutPrefix(stored, EncPrefix)
	if !ok {
		return "", ErrNotEncrypted
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("config: decode sealed value: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("config: init cipher: %w", err)
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("config: sealed value too short")
	}
	nonce, body := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("config: open sealed value: %w", err)
	}
	return string(plain), nil
}
