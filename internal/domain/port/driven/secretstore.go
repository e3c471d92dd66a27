package driven

import (
	"context"
	"errors"
)

// ErrEncryptionKeyNotSet is returned by SecretStore operations when
// REVIEWFLOW_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set REVIEWFLOW_SECRET_KEY")

// SecretStore defines the driven port for encrypted secret persistence.
// The adapter layer is responsible for encryption/decryption; this interface
// operates on plaintext values at the domain boundary.
type SecretStore interface {
	// Set stores or replaces the secret for the given service with the
	// provided plaintext value.
	Set(ctx context.Context, service, plaintext string) error

	// Get retrieves the plaintext secret for the given service.
	// Returns ("", nil) if no secret exists for that service.
	Get(ctx context.Context, service string) (string, error)

	// Delete removes the secret for the given service.
	Delete(ctx context.Context, service string) error
}
