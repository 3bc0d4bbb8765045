// Package keyring stores credentials and grants in the operating system's
// secret store (Keychain, Secret Service, WinCred, pass) with an encrypted
// file fallback.
package keyring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/99designs/keyring"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
)

const serviceName = "mailcode"

var (
	_ driven.CredentialStore = (*Store)(nil)
	_ driven.GrantStore      = (*Store)(nil)
)

// Store implements CredentialStore and GrantStore on top of a keyring.Keyring.
type Store struct {
	ring keyring.Keyring
}

// Open opens the platform keyring. fileDir and filePassword configure the
// encrypted file backend used when no native backend is available.
func Open(fileDir, filePassword string) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(filePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return New(ring), nil
}

// New wraps an already opened keyring.
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

type storedCredential struct {
	Token       string    `json:"token"`
	Interactive bool      `json:"interactive"`
	Expiry      time.Time `json:"expiry"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func credentialKey(serviceID string) string { return "credential:" + serviceID }
func grantKey(serviceID string) string      { return "grant:" + serviceID }

// Get returns the credential for serviceID, or (nil, nil) when none is stored.
func (s *Store) Get(_ context.Context, serviceID string) (*model.Credential, error) {
	data, err := s.get(credentialKey(serviceID))
	if err != nil || data == nil {
		return nil, err
	}

	var sc storedCredential
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("decoding credential %q: %w", serviceID, err)
	}

	return &model.Credential{
		ServiceID:           serviceID,
		Token:               sc.Token,
		InteractiveObtained: sc.Interactive,
		Expiry:              sc.Expiry,
		UpdatedAt:           sc.UpdatedAt,
	}, nil
}

func (s *Store) Put(_ context.Context, cred model.Credential) error {
	updatedAt := cred.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(storedCredential{
		Token:       cred.Token,
		Interactive: cred.InteractiveObtained,
		Expiry:      cred.Expiry,
		UpdatedAt:   updatedAt,
	})
	if err != nil {
		return fmt.Errorf("encoding credential %q: %w", cred.ServiceID, err)
	}
	return s.set(credentialKey(cred.ServiceID), "mailcode access token", data)
}

func (s *Store) Clear(_ context.Context, serviceID string) error {
	return s.remove(credentialKey(serviceID))
}

func (s *Store) GetGrant(_ context.Context, serviceID string) ([]byte, error) {
	return s.get(grantKey(serviceID))
}

func (s *Store) PutGrant(_ context.Context, serviceID string, grant []byte) error {
	return s.set(grantKey(serviceID), "mailcode authorization grant", grant)
}

func (s *Store) DeleteGrant(_ context.Context, serviceID string) error {
	return s.remove(grantKey(serviceID))
}

func (s *Store) get(key string) ([]byte, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting %q: %w", key, err)
	}
	return item.Data, nil
}

func (s *Store) set(key, label string, data []byte) error {
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  data,
		Label: label,
	})
	if err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	return nil
}

func (s *Store) remove(key string) error {
	err := s.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	return nil
}
