package main

import (
	"fmt"
	"log/slog"
	"net/http"

	gmailadapter "github.com/ericfisherdev/mailcode/internal/adapter/driven/gmail"
	"github.com/ericfisherdev/mailcode/internal/adapter/driven/googleauth"
	keyringadapter "github.com/ericfisherdev/mailcode/internal/adapter/driven/keyring"
	notifyadapter "github.com/ericfisherdev/mailcode/internal/adapter/driven/notify"
	outlookadapter "github.com/ericfisherdev/mailcode/internal/adapter/driven/outlook"
	sqliteadapter "github.com/ericfisherdev/mailcode/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/mailcode/internal/adapter/driving/http"
	"github.com/ericfisherdev/mailcode/internal/adapter/driving/ws"
	"github.com/ericfisherdev/mailcode/internal/application"
	"github.com/ericfisherdev/mailcode/internal/config"
	"github.com/ericfisherdev/mailcode/internal/domain/model"
	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
	"github.com/ericfisherdev/mailcode/internal/telemetry"
)

const webPushTTL = 300

// app holds the wired coordinator.
type app struct {
	cfg     *config.Config
	metrics *telemetry.Metrics
	hub     *ws.Hub
	records driven.RecordStore

	creds      *application.CredentialService
	dispatcher *application.NotificationDispatcher
	scheduler  *application.PollScheduler
	router     *application.MessageRouter

	closers []func() error
}

// credentialStores is implemented by both credential backends.
type credentialStores interface {
	driven.CredentialStore
	driven.GrantStore
}

// closeableNotifier is a notifier that holds a resource, such as a D-Bus
// connection, and accepts action callbacks.
type closeableNotifier interface {
	driven.DesktopNotifier
	SetSink(sink driven.NotificationEventSink)
	Close() error
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	wired := false
	defer func() {
		if !wired {
			a.Close()
		}
	}()

	// Open database (dual reader/writer with WAL mode) and run migrations.
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return nil, err
	}
	slog.Debug("database ready", "path", db.Path())

	a.records = sqliteadapter.NewRecordRepo(db)
	state := sqliteadapter.NewStateRepo(db)

	stores, err := newCredentialStores(cfg, db)
	if err != nil {
		return nil, err
	}

	mail, acquirer := newMailProvider(cfg, stores)

	notifier, err := newNotifier(cfg)
	if err != nil {
		return nil, err
	}

	a.metrics = telemetry.New()
	a.hub = ws.NewHub(a.metrics)

	a.creds = application.NewCredentialService(cfg.ServiceID, stores, acquirer)
	a.dispatcher = application.NewNotificationDispatcher(notifier, a.hub, a.hub, a.metrics)
	if c, ok := notifier.(closeableNotifier); ok {
		c.SetSink(a.dispatcher)
		a.closers = append(a.closers, c.Close)
	}

	fetcher := application.NewFetchService(cfg.ServiceID, cfg.SearchQuery, mail, a.records, a.dispatcher, a.hub, a.metrics)
	a.scheduler = application.NewPollScheduler(a.creds, fetcher, state, cfg.PollInterval, a.metrics)
	a.router = application.NewMessageRouter(a.creds, fetcher, a.scheduler, a.records, a.dispatcher)

	wired = true
	return a, nil
}

func newCredentialStores(cfg *config.Config, db *sqliteadapter.DB) (credentialStores, error) {
	switch cfg.CredentialBackend {
	case config.BackendKeyring:
		store, err := keyringadapter.Open(cfg.KeyringDir, cfg.KeyringPassword)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		if cfg.SecretKey == nil {
			slog.Warn("MAILCODE_SECRET_KEY not set, credentials cannot be stored")
		}
		return sqliteadapter.NewCredentialRepo(db, cfg.SecretKey), nil
	}
}

func newMailProvider(cfg *config.Config, grants driven.GrantStore) (driven.MailClient, driven.CredentialAcquirer) {
	if cfg.Provider == config.ProviderOutlook {
		client := outlookadapter.NewClient()
		return client, client
	}

	if !cfg.HasGoogleClient() {
		slog.Warn("MAILCODE_GOOGLE_CLIENT_ID not set, interactive authorization will fail")
	}
	acquirer := googleauth.NewAcquirer(googleauth.Config{
		ServiceID:    cfg.ServiceID,
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		AuthURL:      cfg.GoogleAuthURL,
		TokenURL:     cfg.GoogleTokenURL,
		RevokeURL:    cfg.GoogleRevokeURL,
		LoopbackAddr: cfg.LoopbackAddr,
		Timeout:      cfg.AuthTimeout,
	}, grants)
	return gmailadapter.NewClient(), acquirer
}

func newNotifier(cfg *config.Config) (driven.DesktopNotifier, error) {
	permission := model.NotificationPermission(cfg.NotificationPermission)

	switch cfg.Notifier {
	case config.NotifierDesktop:
		desktop, err := notifyadapter.NewDesktop(permission)
		if err != nil {
			slog.Warn("desktop notifications unavailable, logging instead", "error", err)
			return notifyadapter.NewLog(model.PermissionDenied), nil
		}
		return desktop, nil
	case config.NotifierWebPush:
		push, err := notifyadapter.NewWebPush(notifyadapter.WebPushConfig{
			Subscription:    cfg.WebPushSubscription,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			Subscriber:      cfg.VAPIDContact,
			TTL:             webPushTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("configure web push: %w", err)
		}
		return push, nil
	default:
		return notifyadapter.NewLog(permission), nil
	}
}

// httpHandler builds the API mux with the WebSocket gateway and metrics.
func (a *app) httpHandler() http.Handler {
	logger := slog.Default()
	gateway := ws.NewGateway(logger, a.hub, a.router, ws.Options{
		OriginPatterns: a.cfg.AllowedOrigins,
	})
	h := httphandler.NewHandler(a.router, a.records, a.scheduler, logger)
	return httphandler.NewServeMux(h, httphandler.Routes{
		WebSocket: gateway,
		Metrics:   a.metrics.Handler(),
	}, logger)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Error("error closing resource", "error", err)
		}
	}
	a.closers = nil
}
