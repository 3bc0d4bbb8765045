package driven

import (
	"context"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
)

// CredentialAcquirer obtains credentials from the identity provider.
type CredentialAcquirer interface {
	// Acquire returns a fresh credential, or nil when none could be obtained
	// (user declined, no prior grant, provider error). When interactive is
	// false the user is never prompted. Failures are logged by the adapter
	// and never returned.
	Acquire(ctx context.Context, interactive bool) *model.Credential

	// Revoke invalidates cred and any stored grant at the identity provider.
	Revoke(ctx context.Context, cred *model.Credential) error
}
