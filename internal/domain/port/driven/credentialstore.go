package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by CredentialStore and GrantStore
// operations when MAILCODE_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set MAILCODE_SECRET_KEY")

// CredentialStore defines the driven port for credential persistence.
// The adapter layer is responsible for encryption/decryption; this interface
// operates on plaintext values at the domain boundary.
type CredentialStore interface {
	// Get returns the credential for serviceID, or (nil, nil) when none is stored.
	Get(ctx context.Context, serviceID string) (*model.Credential, error)

	// Put stores or replaces the credential for cred.ServiceID.
	Put(ctx context.Context, cred model.Credential) error

	// Clear removes the credential for serviceID. Clearing an absent
	// credential is not an error.
	Clear(ctx context.Context, serviceID string) error
}

// GrantStore persists the long-lived grant (an OAuth2 refresh token and its
// metadata) an acquirer uses to obtain fresh credentials without user
// interaction. Values are opaque to everything except the acquirer.
type GrantStore interface {
	// GetGrant returns the stored grant, or (nil, nil) when none is stored.
	GetGrant(ctx context.Context, serviceID string) ([]byte, error)
	PutGrant(ctx context.Context, serviceID string, grant []byte) error
	DeleteGrant(ctx context.Context, serviceID string) error
}
