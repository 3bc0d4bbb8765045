// Package gmail implements the MailClient port using the Gmail REST API.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	gm "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.MailClient = (*Client)(nil)

// searchPageSize caps how many message references one search returns. Only
// the newest is ever fetched.
const searchPageSize = 10

// Client implements the driven.MailClient port. Each call authenticates with
// the bearer token of the credential it is given.
type Client struct {
	base     http.RoundTripper
	endpoint string // empty in production; an httptest server URL in tests.
	cb       *gobreaker.CircuitBreaker
}

// NewClient creates a Gmail API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. oauth2.Transport (per-call bearer token)
//  3. gobreaker around each API call
func NewClient() *Client {
	return &Client{
		base: httpcache.NewMemoryCacheTransport(),
		cb:   newBreaker(),
	}
}

// NewClientWithHTTPClient creates a Client whose requests go through
// httpClient's transport to baseURL. This constructor is intended for testing,
// allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) *Client {
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &Client{
		base:     base,
		endpoint: baseURL,
		cb:       newBreaker(),
	}
}

func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		// Client errors say nothing about the API's health.
		IsSuccessful: func(err error) bool {
			var apiErr *googleapi.Error
			return err == nil || (errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500)
		},
	})
}

// Search lists messages matching query, newest first.
func (c *Client) Search(ctx context.Context, cred model.Credential, query string) ([]model.MessageRef, error) {
	svc, err := c.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	var resp *gm.ListMessagesResponse
	err = c.execute(func() error {
		var apiErr error
		resp, apiErr = svc.Users.Messages.List("me").Q(query).MaxResults(searchPageSize).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, wrapError("search messages", err)
	}

	refs := make([]model.MessageRef, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil {
			continue
		}
		refs = append(refs, model.MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}

	slog.Debug("gmail search complete", "query", query, "results", len(refs))
	return refs, nil
}

// FetchFull fetches the full MIME tree of the referenced message.
func (c *Client) FetchFull(ctx context.Context, cred model.Credential, ref model.MessageRef) (*model.MessageBody, error) {
	svc, err := c.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	var msg *gm.Message
	err = c.execute(func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get("me", ref.ID).Format("full").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, wrapError(fmt.Sprintf("fetch message %s", ref.ID), err)
	}

	return mapMessage(msg), nil
}

func (c *Client) service(ctx context.Context, cred model.Credential) (*gm.Service, error) {
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.Token, TokenType: "Bearer"}),
			Base:   c.base,
		},
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	svc, err := gm.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	return svc, nil
}

func (c *Client) execute(fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// wrapError maps API and transport failures to *driven.TransportError so the
// application layer can tell them apart from programming errors.
func wrapError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &driven.TransportError{Op: op, StatusCode: apiErr.Code, Err: err}
	}
	return &driven.TransportError{Op: op, Err: err}
}

func mapMessage(msg *gm.Message) *model.MessageBody {
	body := &model.MessageBody{
		ID:      msg.Id,
		Snippet: msg.Snippet,
	}
	if msg.InternalDate > 0 {
		body.SentAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload != nil {
		part := mapPart(msg.Payload)
		body.Payload = &part
	}
	return body
}

func mapPart(p *gm.MessagePart) model.MessagePart {
	part := model.MessagePart{
		MimeType: p.MimeType,
		Filename: p.Filename,
	}
	if p.Body != nil {
		part.Data = p.Body.Data
	}
	for _, child := range p.Parts {
		if child == nil {
			continue
		}
		part.Parts = append(part.Parts, mapPart(child))
	}
	return part
}
