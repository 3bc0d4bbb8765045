// Package googleauth implements the CredentialAcquirer port for Google
// accounts: a silent refresh from a stored grant, and an interactive loopback
// authorization-code flow with PKCE.
package googleauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gm "google.golang.org/api/gmail/v1"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialAcquirer = (*Acquirer)(nil)

const (
	callbackPath         = "/oauth2/callback"
	defaultRevokeURL     = "https://oauth2.googleapis.com/revoke"
	defaultLoopbackAddr  = "127.0.0.1:0"
	defaultConsentWindow = 5 * time.Minute
)

// Config holds the OAuth2 client registration and loopback flow settings.
type Config struct {
	ServiceID    string
	ClientID     string
	ClientSecret string
	// AuthURL, TokenURL and RevokeURL default to Google's endpoints.
	AuthURL   string
	TokenURL  string
	RevokeURL string
	// LoopbackAddr is the listen address for the redirect receiver.
	LoopbackAddr string
	// Timeout bounds how long an interactive flow waits for the user.
	Timeout time.Duration
}

// Acquirer obtains Gmail credentials. Failures never surface to callers: they
// are logged and reported as an absent credential.
type Acquirer struct {
	cfg        Config
	oauth      *oauth2.Config
	grants     driven.GrantStore
	openURL    func(string) error
	httpClient *http.Client

	// interactiveMu serializes consent flows so two prompts never race.
	interactiveMu sync.Mutex
}

// Option configures an Acquirer.
type Option func(*Acquirer)

// WithOpenURL sets the function used to present the consent URL to the user.
// The default logs the URL.
func WithOpenURL(fn func(string) error) Option {
	return func(a *Acquirer) { a.openURL = fn }
}

// WithHTTPClient sets the client used for token and revoke requests.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Acquirer) { a.httpClient = c }
}

// NewAcquirer creates an Acquirer that keeps its grant in grants.
func NewAcquirer(cfg Config, grants driven.GrantStore, opts ...Option) *Acquirer {
	endpoint := google.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = defaultRevokeURL
	}
	if cfg.LoopbackAddr == "" {
		cfg.LoopbackAddr = defaultLoopbackAddr
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultConsentWindow
	}

	a := &Acquirer{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{gm.GmailReadonlyScope},
		},
		grants:     grants,
		httpClient: http.DefaultClient,
		openURL: func(u string) error {
			slog.Info("open this URL to authorize mail access", "url", u)
			return nil
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Acquire returns a credential refreshed from the stored grant, or, when
// interactive is true and no grant is usable, runs the consent flow.
func (a *Acquirer) Acquire(ctx context.Context, interactive bool) *model.Credential {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)

	if cred := a.silent(ctx); cred != nil {
		return cred
	}
	if !interactive {
		return nil
	}

	cred, err := a.interactive(ctx)
	if err != nil {
		slog.Warn("interactive authorization failed", "service", a.cfg.ServiceID, "error", err)
		return nil
	}
	return cred
}

func (a *Acquirer) silent(ctx context.Context) *model.Credential {
	tok, err := a.loadGrant(ctx)
	if err != nil {
		slog.Warn("failed to load authorization grant", "service", a.cfg.ServiceID, "error", err)
		return nil
	}
	if tok == nil {
		return nil
	}

	fresh, err := a.oauth.TokenSource(ctx, tok).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.ErrorCode == "invalid_grant" {
			slog.Info("authorization grant rejected, discarding", "service", a.cfg.ServiceID)
			if derr := a.grants.DeleteGrant(ctx, a.cfg.ServiceID); derr != nil {
				slog.Error("failed to delete authorization grant", "service", a.cfg.ServiceID, "error", derr)
			}
		} else {
			slog.Warn("silent token refresh failed", "service", a.cfg.ServiceID, "error", err)
		}
		return nil
	}

	if fresh.AccessToken != tok.AccessToken {
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = tok.RefreshToken
		}
		if err := a.saveGrant(ctx, fresh); err != nil {
			slog.Warn("failed to persist refreshed grant", "service", a.cfg.ServiceID, "error", err)
		}
	}

	return a.credential(fresh, false)
}

func (a *Acquirer) interactive(ctx context.Context) (*model.Credential, error) {
	a.interactiveMu.Lock()
	defer a.interactiveMu.Unlock()

	ln, err := net.Listen("tcp", a.cfg.LoopbackAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", a.cfg.LoopbackAddr, err)
	}
	defer ln.Close()

	conf := *a.oauth
	conf.RedirectURL = "http://" + ln.Addr().String() + callbackPath

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	authURL := conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)

	type callback struct {
		code string
		err  error
	}
	resultCh := make(chan callback, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		if e := q.Get("error"); e != "" {
			fmt.Fprint(w, "Authorization was not granted. You can close this tab.")
			select {
			case resultCh <- callback{err: fmt.Errorf("authorization denied: %s", e)}:
			default:
			}
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "code missing", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, "Authorization received. You can close this tab.")
		select {
		case resultCh <- callback{code: code}:
		default:
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	if err := a.openURL(authURL); err != nil {
		return nil, fmt.Errorf("open consent url: %w", err)
	}

	timer := time.NewTimer(a.cfg.Timeout)
	defer timer.Stop()

	var res callback
	select {
	case res = <-resultCh:
	case <-timer.C:
		return nil, errors.New("authorization timeout")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := conf.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	if err := a.saveGrant(ctx, tok); err != nil {
		return nil, err
	}

	slog.Info("authorization granted", "service", a.cfg.ServiceID)
	return a.credential(tok, true), nil
}

// Revoke revokes the refresh grant when one is stored, otherwise cred's
// access token, and forgets the grant either way.
func (a *Acquirer) Revoke(ctx context.Context, cred *model.Credential) error {
	token := ""
	if tok, err := a.loadGrant(ctx); err == nil && tok != nil && tok.RefreshToken != "" {
		token = tok.RefreshToken
	} else if cred != nil {
		token = cred.Token
	}

	var revokeErr error
	if token != "" {
		revokeErr = a.postRevoke(ctx, token)
	}

	if err := a.grants.DeleteGrant(ctx, a.cfg.ServiceID); err != nil {
		return errors.Join(revokeErr, fmt.Errorf("delete grant: %w", err))
	}
	return revokeErr
}

func (a *Acquirer) postRevoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &driven.TransportError{Op: "revoke token", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &driven.TransportError{
			Op:         "revoke token",
			StatusCode: resp.StatusCode,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}
	return nil
}

func (a *Acquirer) loadGrant(ctx context.Context) (*oauth2.Token, error) {
	raw, err := a.grants.GetGrant(ctx, a.cfg.ServiceID)
	if err != nil || raw == nil {
		return nil, err
	}

	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode grant: %w", err)
	}
	return &tok, nil
}

func (a *Acquirer) saveGrant(ctx context.Context, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode grant: %w", err)
	}
	if err := a.grants.PutGrant(ctx, a.cfg.ServiceID, raw); err != nil {
		return fmt.Errorf("save grant: %w", err)
	}
	return nil
}

func (a *Acquirer) credential(tok *oauth2.Token, interactive bool) *model.Credential {
	return &model.Credential{
		ServiceID:           a.cfg.ServiceID,
		Token:               tok.AccessToken,
		InteractiveObtained: interactive,
		Expiry:              tok.Expiry,
		UpdatedAt:           time.Now().UTC(),
	}
}
