package crypto

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zalando/go-keyring"
)

const (
	keychainService = "connprof"
	// Unit separator; profile names may contain "/" or ":".
	keychainSep = "\x1f"

	keychainOpTimeout    = 5 * time.Second
	keychainProbeTimeout = 3 * time.Second
	probeKey             = "__probe__"
)

type keyringProvider interface {
	Set(service, user, password string) error
	Get(service, user string) (string, error)
	Delete(service, user string) error
}

type osKeyring struct{}

func (osKeyring) Set(service, user, password string) error { return keyring.Set(service, user, password) }
func (osKeyring) Get(service, user string) (string, error)  { return keyring.Get(service, user) }
func (osKeyring) Delete(service, user string) error         { return keyring.Delete(service, user) }

// KeychainBackend stores profile credentials in the OS keychain. A single
// timed-out call disables it for the rest of the process.
type KeychainBackend struct {
	instance string
	profile  string
	provider keyringProvider
	probe    bool // use a Set+Delete probe on every platform
	timeout  time.Duration

	force    atomic.Bool
	tripped  atomic.Bool
	once     sync.Once
	detected bool
}

// NewKeychainBackend returns a backend for the credentials of one profile.
func NewKeychainBackend(instance, profile string) *KeychainBackend {
	return &KeychainBackend{
		instance: instance,
		profile:  profile,
		provider: osKeyring{},
		timeout:  keychainOpTimeout,
	}
}

func newKeychainBackendWithProvider(instance, profile string, p keyringProvider) *KeychainBackend {
	kb := NewKeychainBackend(instance, profile)
	kb.provider = p
	kb.probe = true
	return kb
}

// SetForceAvailable skips the availability probe (CONNPROF_KEYCHAIN=force).
// A tripped circuit still wins.
func (kb *KeychainBackend) SetForceAvailable() { kb.force.Store(true) }

func (kb *KeychainBackend) user(key string) (string, error) {
	parts := []string{kb.instance, kb.profile, key}
	for _, part := range parts {
		if part == "" || strings.Contains(part, keychainSep) {
			return "", fmt.Errorf("keychain: invalid entry name %q/%q/%q", kb.instance, kb.profile, key)
		}
	}
	return strings.Join(parts, keychainSep), nil
}

// call runs fn with the operation timeout. The keyring API has no
// cancellation, so a hung call is abandoned and the circuit is tripped.
func (kb *KeychainBackend) call(op string, fn func() error) error {
	if kb.tripped.Load() {
		return fmt.Errorf("keychain %s: disabled after earlier timeout", op)
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(kb.timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		kb.tripped.Store(true)
		log.Printf("[Config] Keychain %s timed out after %v, falling back to database credentials", op, kb.timeout)
		return fmt.Errorf("keychain %s: timed out after %v", op, kb.timeout)
	}
}

func (kb *KeychainBackend) Set(_ context.Context, key, value string) error {
	user, err := kb.user(key)
	if err != nil {
		return err
	}
	if err := kb.call("set", func() error { return kb.provider.Set(keychainService, user, value) }); err != nil {
		return fmt.Errorf("keychain: set %q: %w", key, err)
	}
	return nil
}

// SetBatch is not atomic; the database backend behind FallbackBackend holds
// the authoritative copy.
func (kb *KeychainBackend) SetBatch(ctx context.Context, values map[string]string) error {
	for key, value := range values {
		if err := kb.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (kb *KeychainBackend) Get(_ context.Context, key string) (string, error) {
	user, err := kb.user(key)
	if err != nil {
		return "", err
	}
	var value string
	err = kb.call("get", func() error {
		var getErr error
		value, getErr = kb.provider.Get(keychainService, user)
		return getErr
	})
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("keychain: get %q: %w", key, ErrSecretNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("keychain: get %q: %w", key, err)
	}
	return value, nil
}

func (kb *KeychainBackend) GetBatch(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		value, err := kb.Get(ctx, key)
		if errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}

func (kb *KeychainBackend) Delete(_ context.Context, key string) error {
	user, err := kb.user(key)
	if err != nil {
		return err
	}
	err = kb.call("delete", func() error { return kb.provider.Delete(keychainService, user) })
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keychain: delete %q: %w", key, ErrSecretNotFound)
	}
	if err != nil {
		return fmt.Errorf("keychain: delete %q: %w", key, err)
	}
	return nil
}

// Available probes the keychain once and caches the answer. On macOS the
// `security` tool is used because a write probe can raise a dialog.
func (kb *KeychainBackend) Available() bool {
	if kb.tripped.Load() {
		return false
	}
	if kb.force.Load() {
		return true
	}
	kb.once.Do(func() {
		if runtime.GOOS == "darwin" && !kb.probe {
			kb.detected = kb.detectDarwin()
			return
		}
		kb.detected = kb.detectByProbe()
	})
	return kb.detected
}

func (kb *KeychainBackend) detectDarwin() bool {
	ctx, cancel := context.WithTimeout(context.Background(), keychainProbeTimeout)
	defer cancel()
	if err := exec.CommandContext(ctx, "security", "default-keychain", "-d", "user").Run(); err != nil {
		log.Printf("[Config] Keychain unavailable: %v", err)
		return false
	}
	return true
}

func (kb *KeychainBackend) detectByProbe() bool {
	user, err := kb.user(probeKey)
	if err != nil {
		return false
	}
	done := make(chan error, 1)
	go func() {
		// A crashed earlier probe may have left the entry behind.
		_ = kb.provider.Delete(keychainService, user)
		if err := kb.provider.Set(keychainService, user, "probe"); err != nil {
			done <- err
			return
		}
		_ = kb.provider.Delete(keychainService, user)
		done <- nil
	}()

	timer := time.NewTimer(keychainProbeTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			log.Printf("[Config] Keychain unavailable: %v", err)
			return false
		}
		return true
	case <-timer.C:
		log.Printf("[Config] Keychain probe timed out")
		return false
	}
}

func (kb *KeychainBackend) Name() string { return "keychain" }
