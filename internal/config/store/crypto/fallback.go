package crypto

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// FallbackBackend pairs the OS keychain with the database backend. The
// database always receives every write so it can enumerate keys; the
// keychain is written best-effort and read first.
type FallbackBackend struct {
	primary   SecretBackend
	secondary SecretBackend
}

func NewFallbackBackend(primary, secondary SecretBackend) *FallbackBackend {
	return &FallbackBackend{primary: primary, secondary: secondary}
}

func (fb *FallbackBackend) Set(ctx context.Context, key, value string) error {
	return fb.SetBatch(ctx, map[string]string{key: value})
}

func (fb *FallbackBackend) SetBatch(ctx context.Context, values map[string]string) error {
	if err := fb.secondary.SetBatch(ctx, values); err != nil {
		return err
	}
	if fb.primary.Available() {
		if err := fb.primary.SetBatch(ctx, values); err != nil {
			log.Printf("[Config] %s write failed, credentials kept in %s: %v", fb.primary.Name(), fb.secondary.Name(), err)
		}
	}
	return nil
}

func (fb *FallbackBackend) Get(ctx context.Context, key string) (string, error) {
	if fb.primary.Available() {
		value, err := fb.primary.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			log.Printf("[Config] %s read of %q failed, using %s: %v", fb.primary.Name(), key, fb.secondary.Name(), err)
		}
	}
	return fb.secondary.Get(ctx, key)
}

func (fb *FallbackBackend) GetBatch(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	missing := keys
	if fb.primary.Available() {
		found, err := fb.primary.GetBatch(ctx, keys)
		if err != nil {
			log.Printf("[Config] %s batch read failed, using %s: %v", fb.primary.Name(), fb.secondary.Name(), err)
		} else {
			missing = nil
			for _, k := range keys {
				if v, ok := found[k]; ok {
					out[k] = v
				} else {
					missing = append(missing, k)
				}
			}
		}
	}
	if len(missing) == 0 {
		return out, nil
	}
	rest, err := fb.secondary.GetBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for k, v := range rest {
		out[k] = v
	}
	return out, nil
}

// Delete removes the key from the keychain first; a keychain failure other
// than not-found aborts so that Get cannot resurrect a deleted value.
func (fb *FallbackBackend) Delete(ctx context.Context, key string) error {
	if fb.primary.Available() {
		if err := fb.primary.Delete(ctx, key); err != nil && !errors.Is(err, ErrSecretNotFound) {
			return fmt.Errorf("delete from %s: %w", fb.primary.Name(), err)
		}
	}
	return fb.secondary.Delete(ctx, key)
}

func (fb *FallbackBackend) Available() bool {
	return fb.primary.Available() || fb.secondary.Available()
}

func (fb *FallbackBackend) Name() string {
	return fb.primary.Name() + "+" + fb.secondary.Name()
}
