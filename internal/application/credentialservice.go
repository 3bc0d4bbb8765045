package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
)

// CredentialService owns the credential lifecycle for one mail service:
// cached lookup, silent and interactive acquisition, invalidation and
// revocation.
type CredentialService struct {
	serviceID string
	store     driven.CredentialStore
	acquirer  driven.CredentialAcquirer
	now       func() time.Time
}

// NewCredentialService creates a CredentialService for serviceID.
func NewCredentialService(serviceID string, store driven.CredentialStore, acquirer driven.CredentialAcquirer) *CredentialService {
	return &CredentialService{
		serviceID: serviceID,
		store:     store,
		acquirer:  acquirer,
		now:       time.Now,
	}
}

// ServiceID returns the mail service this credential service manages.
func (s *CredentialService) ServiceID() string { return s.serviceID }

// Cached returns the stored credential, or nil when none is stored or it has
// expired.
func (s *CredentialService) Cached(ctx context.Context) (*model.Credential, error) {
	cred, err := s.store.Get(ctx, s.serviceID)
	if err != nil {
		return nil, fmt.Errorf("get cached credential: %w", err)
	}
	if cred == nil {
		return nil, nil
	}
	if cred.Expired(s.now()) {
		slog.Debug("cached credential expired", "service", s.serviceID, "expiry", cred.Expiry)
		return nil, nil
	}
	return cred, nil
}

// Resolve returns the cached credential or, when absent, one acquired
// without user interaction. A nil credential means authentication is pending.
func (s *CredentialService) Resolve(ctx context.Context) (*model.Credential, error) {
	cred, err := s.Cached(ctx)
	if err != nil || cred != nil {
		return cred, err
	}
	return s.acquire(ctx, false), nil
}

// AcquireInteractive obtains a credential, prompting the user if needed.
func (s *CredentialService) AcquireInteractive(ctx context.Context) *model.Credential {
	return s.acquire(ctx, true)
}

func (s *CredentialService) acquire(ctx context.Context, interactive bool) *model.Credential {
	cred := s.acquirer.Acquire(ctx, interactive)
	if cred == nil {
		slog.Debug("no credential acquired", "service", s.serviceID, "interactive", interactive)
		return nil
	}

	cred.ServiceID = s.serviceID
	if err := s.store.Put(ctx, *cred); err != nil {
		slog.Error("failed to persist credential", "service", s.serviceID, "error", err)
	}
	return cred
}

// Invalidate drops the cached credential so the next resolve re-acquires.
func (s *CredentialService) Invalidate(ctx context.Context) error {
	if err := s.store.Clear(ctx, s.serviceID); err != nil {
		return fmt.Errorf("invalidate credential: %w", err)
	}
	slog.Info("credential invalidated", "service", s.serviceID)
	return nil
}

// Revoke revokes the credential at the identity provider and deletes it
// locally. The local delete happens even when the provider call fails.
func (s *CredentialService) Revoke(ctx context.Context) error {
	cred, err := s.store.Get(ctx, s.serviceID)
	if err != nil {
		slog.Warn("failed to read credential before revoke", "service", s.serviceID, "error", err)
	}

	if err := s.acquirer.Revoke(ctx, cred); err != nil {
		slog.Warn("provider revoke failed", "service", s.serviceID, "error", err)
	}

	if err := s.store.Clear(ctx, s.serviceID); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	slog.Info("credential revoked", "service", s.serviceID)
	return nil
}
