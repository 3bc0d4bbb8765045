package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.CredentialStore = (*CredentialRepo)(nil)
	_ driven.GrantStore      = (*CredentialRepo)(nil)
)

// CredentialRepo is the SQLite implementation of the CredentialStore and
// GrantStore ports. Values are encrypted with AES-256-GCM before write and
// decrypted after read.
type CredentialRepo struct {
	db     *DB
	sealer sealer
}

// NewCredentialRepo creates a new CredentialRepo. key must be 32 bytes for AES-256-GCM,
// or nil to disable credential storage (all operations will return ErrEncryptionKeyNotSet).
func NewCredentialRepo(db *DB, key []byte) *CredentialRepo {
	return &CredentialRepo{db: db, sealer: sealer{key: key}}
}

type storedCredential struct {
	Token       string    `json:"token"`
	Interactive bool      `json:"interactive"`
	Expiry      time.Time `json:"expiry,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Get returns the credential for serviceID, or (nil, nil) when none is stored.
func (r *CredentialRepo) Get(ctx context.Context, serviceID string) (*model.Credential, error) {
	encrypted, ok, err := getValue(ctx, r.db.Reader, keyCredentialPrefix+serviceID)
	if err != nil {
		return nil, fmt.Errorf("get credential %q: %w", serviceID, err)
	}
	if !ok {
		return nil, nil
	}

	plaintext, err := r.sealer.open(encrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential %q: %w", serviceID, err)
	}

	var sc storedCredential
	if err := json.Unmarshal(plaintext, &sc); err != nil {
		return nil, fmt.Errorf("decode credential %q: %w", serviceID, err)
	}

	return &model.Credential{
		ServiceID:           serviceID,
		Token:               sc.Token,
		InteractiveObtained: sc.Interactive,
		Expiry:              sc.Expiry,
		UpdatedAt:           sc.UpdatedAt,
	}, nil
}

// Put stores or replaces the credential for cred.ServiceID.
func (r *CredentialRepo) Put(ctx context.Context, cred model.Credential) error {
	updatedAt := cred.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	plaintext, err := json.Marshal(storedCredential{
		Token:       cred.Token,
		Interactive: cred.InteractiveObtained,
		Expiry:      cred.Expiry,
		UpdatedAt:   updatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode credential %q: %w", cred.ServiceID, err)
	}

	encrypted, err := r.sealer.seal(plaintext)
	if err != nil {
		return err
	}

	if err := putValue(ctx, r.db.Writer, keyCredentialPrefix+cred.ServiceID, encrypted); err != nil {
		return fmt.Errorf("set credential %q: %w", cred.ServiceID, err)
	}
	return nil
}

// Clear removes the credential for serviceID.
func (r *CredentialRepo) Clear(ctx context.Context, serviceID string) error {
	if err := deleteValue(ctx, r.db.Writer, keyCredentialPrefix+serviceID); err != nil {
		return fmt.Errorf("clear credential %q: %w", serviceID, err)
	}
	return nil
}

// GetGrant returns the decrypted grant for serviceID, or (nil, nil) when none is stored.
func (r *CredentialRepo) GetGrant(ctx context.Context, serviceID string) ([]byte, error) {
	encrypted, ok, err := getValue(ctx, r.db.Reader, keyGrantPrefix+serviceID)
	if err != nil {
		return nil, fmt.Errorf("get grant %q: %w", serviceID, err)
	}
	if !ok {
		return nil, nil
	}

	grant, err := r.sealer.open(encrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt grant %q: %w", serviceID, err)
	}
	return grant, nil
}

// PutGrant stores or replaces the grant for serviceID.
func (r *CredentialRepo) PutGrant(ctx context.Context, serviceID string, grant []byte) error {
	encrypted, err := r.sealer.seal(grant)
	if err != nil {
		return err
	}
	if err := putValue(ctx, r.db.Writer, keyGrantPrefix+serviceID, encrypted); err != nil {
		return fmt.Errorf("set grant %q: %w", serviceID, err)
	}
	return nil
}

// DeleteGrant removes the grant for serviceID.
func (r *CredentialRepo) DeleteGrant(ctx context.Context, serviceID string) error {
	if err := deleteValue(ctx, r.db.Writer, keyGrantPrefix+serviceID); err != nil {
		return fmt.Errorf("delete grant %q: %w", serviceID, err)
	}
	return nil
}
