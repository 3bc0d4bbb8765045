package driven

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
)

// ErrNotImplemented is returned by provider adapters that exist only as
// placeholders.
var ErrNotImplemented = errors.New("not implemented")

// MailClient defines the driven port for read-only mailbox access.
type MailClient interface {
	// Search returns references to messages matching query, newest first.
	// An empty slice means no match.
	Search(ctx context.Context, cred model.Credential, query string) ([]model.MessageRef, error)

	// FetchFull returns the full content of the referenced message.
	FetchFull(ctx context.Context, cred model.Credential, ref model.MessageRef) (*model.MessageBody, error)
}

// TransportError reports a failed provider API call: a network failure or a
// non-success HTTP status.
type TransportError struct {
	Op string
	// StatusCode is zero for network-level failures.
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsUnauthorized reports whether err wraps a *TransportError carrying HTTP 401.
func IsUnauthorized(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.StatusCode == http.StatusUnauthorized
}
