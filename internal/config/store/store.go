package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nupi-ai/connprof/internal/config"
	storecrypto "github.com/nupi-ai/connprof/internal/config/store/crypto"
)

const (
	defaultBusyTimeout        = 5 * time.Second
	defaultConnectionLifetime = 0 // unlimited

	// KeychainEnv selects keychain usage for secure profile fields: off, auto or force.
	KeychainEnv = "CONNPROF_KEYCHAIN"
)

// ErrMissingCredentials indicates that a profile references secure fields
// whose values cannot be resolved from any secret backend.
var ErrMissingCredentials = errors.New("profile credentials are missing")

// ErrAlreadyExists is returned when saving a profile whose name is taken.
var ErrAlreadyExists = errors.New("already exists")

var keychainDisabled atomic.Bool

// DisableKeychainForTesting forces the AES-only secret backend until the
// returned cleanup function is called.
func DisableKeychainForTesting() func() {
	prev := keychainDisabled.Swap(true)
	return func() { keychainDisabled.Store(prev) }
}

// Options describes parameters for opening a configuration store.
type Options struct {
	InstanceName string // Logical instance name (defaults to config.DefaultInstance)
	DBPath       string // Optional override for config.db path (primarily for tests)
	ReadOnly     bool   // Open database in read-only mode
}

// Store provides access to the profile database.
type Store struct {
	db            *sql.DB
	instanceName  string
	dbPath        string
	readOnly      bool
	encryptionKey []byte // AES-256 key for secure profile fields
	keychain      string // off, auto or force
}

// NotFoundError indicates a requested record does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// IsNotFound returns true when err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// Open initialises the configuration store for the given instance.
func Open(opts Options) (*Store, error) {
	if opts.InstanceName == "" {
		opts.InstanceName = config.DefaultInstance
	}

	dbPath := opts.DBPath
	if dbPath == "" {
		instancePaths, err := config.EnsureInstanceDirs(opts.InstanceName)
		if err != nil {
			return nil, fmt.Errorf("config: ensure instance directories: %w", err)
		}
		dbPath = instancePaths.ConfigDB
	}

	dsn := dbPath
	if opts.ReadOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro", dbPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("config: open sqlite store: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(defaultConnectionLifetime)
	db.SetConnMaxIdleTime(defaultConnectionLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := applyPragmas(ctx, db, opts.ReadOnly); err != nil {
		db.Close()
		return nil, err
	}

	if !opts.ReadOnly {
		if err := applySchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		if err := seedDefaults(ctx, db, opts.InstanceName); err != nil {
			db.Close()
			return nil, err
		}
	}

	// A new key is only created when the DB holds no enc:v1: values; a
	// missing key next to encrypted rows would make them unreadable.
	keyPath := storecrypto.KeyPath(dbPath)
	encKey, err := storecrypto.LoadKey(keyPath)
	if err != nil {
		if !opts.ReadOnly {
			db.Close()
			return nil, err
		}
		log.Printf("[Config] WARNING: failed to load encryption key (read-only): %v", err)
		encKey = nil
	}
	if encKey == nil && !opts.ReadOnly {
		hasEnc, checkErr := storecrypto.HasEncryptedValues(ctx, db)
		if checkErr != nil {
			db.Close()
			return nil, checkErr
		}
		if hasEnc {
			db.Close()
			return nil, fmt.Errorf("config: encryption key %s is missing but the database already contains encrypted credentials; restore the key file", keyPath)
		}
		encKey, err = storecrypto.CreateKey(keyPath)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Store{
		db:            db,
		instanceName:  opts.InstanceName,
		dbPath:        dbPath,
		readOnly:      opts.ReadOnly,
		encryptionKey: encKey,
		keychain:      keychainMode(),
	}, nil
}

func keychainMode() string {
	if keychainDisabled.Load() {
		return "off"
	}
	switch mode := strings.ToLower(strings.TrimSpace(os.Getenv(KeychainEnv))); mode {
	case "off", "force":
		return mode
	default:
		return "auto"
	}
}

// Close finalises the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying sql.DB handle for internal usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// InstanceName returns the logical instance associated with the store.
func (s *Store) InstanceName() string {
	return s.instanceName
}

// Path returns the filesystem path of the backing database.
func (s *Store) Path() string {
	return s.dbPath
}

// ReadOnly reports whether the store rejects writes.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("config: rollback failed after %v: %w", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// secretsFor returns the secret backend holding secure fields of one profile.
func (s *Store) secretsFor(profileName string) storecrypto.SecretBackend {
	aes := storecrypto.NewAESBackend(s.db, s.encryptionKey, s.instanceName, profileName)
	if s.keychain == "off" {
		return aes
	}
	kc := storecrypto.NewKeychainBackend(s.instanceName, profileName)
	if s.keychain == "force" {
		kc.SetForceAvailable()
	}
	return storecrypto.NewFallbackBackend(kc, aes)
}
