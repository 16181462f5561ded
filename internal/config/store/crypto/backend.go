package crypto

import (
	"context"
	"errors"
)

// ErrSecretNotFound is returned when a credential key is not held by a backend.
var ErrSecretNotFound = errors.New("secret not found")

// SecretBackend stores the secure fields of one profile.
type SecretBackend interface {
	Set(ctx context.Context, key, value string) error
	// SetBatch stores all values; transactional backends commit all-or-nothing.
	SetBatch(ctx context.Context, values map[string]string) error
	Get(ctx context.Context, key string) (string, error)
	// GetBatch skips keys the backend does not hold.
	GetBatch(ctx context.Context, keys []string) (map[string]string, error)
	Delete(ctx context.Context, key string) error
	Available() bool
	Name() string
}
