// Package outlook is a placeholder provider for Microsoft mailboxes. Every
// operation reports driven.ErrNotImplemented.
package outlook

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
)

var (
	_ driven.MailClient         = (*Client)(nil)
	_ driven.CredentialAcquirer = (*Client)(nil)
)

// Client satisfies the provider ports without talking to any service.
type Client struct{}

func NewClient() *Client { return &Client{} }

func (c *Client) Search(_ context.Context, _ model.Credential, _ string) ([]model.MessageRef, error) {
	return nil, fmt.Errorf("outlook search: %w", driven.ErrNotImplemented)
}

func (c *Client) FetchFull(_ context.Context, _ model.Credential, _ model.MessageRef) (*model.MessageBody, error) {
	return nil, fmt.Errorf("outlook fetch: %w", driven.ErrNotImplemented)
}

// Acquire never yields a credential.
func (c *Client) Acquire(_ context.Context, _ bool) *model.Credential {
	return nil
}

func (c *Client) Revoke(_ context.Context, _ *model.Credential) error {
	return fmt.Errorf("outlook revoke: %w", driven.ErrNotImplemented)
}
