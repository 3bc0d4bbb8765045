package application_test

import (
	"context"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericfisherdev/mailcode/internal/application"
	"github.com/ericfisherdev/mailcode/internal/domain/model"
)

// --- Mock implementations ---

type mockCredentialStore struct {
	mu     sync.Mutex
	creds  map[string]model.Credential
	clears int
}

func newMockCredentialStore() *mockCredentialStore {
	return &mockCredentialStore{creds: make(map[string]model.Credential)}
}

func (m *mockCredentialStore) Get(_ context.Context, serviceID string) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[serviceID]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

func (m *mockCredentialStore) Put(_ context.Context, cred model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[cred.ServiceID] = cred
	return nil
}

func (m *mockCredentialStore) Clear(_ context.Context, serviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, serviceID)
	m.clears++
	return nil
}

type mockAcquirer struct {
	silent      *model.Credential
	interactive *model.Credential
	silentCalls atomic.Int32
	interCalls  atomic.Int32
	revoked     []*model.Credential
}

func (m *mockAcquirer) Acquire(_ context.Context, interactive bool) *model.Credential {
	if interactive {
		m.interCalls.Add(1)
		if m.interactive == nil {
			return nil
		}
		c := *m.interactive
		return &c
	}
	m.silentCalls.Add(1)
	if m.silent == nil {
		return nil
	}
	c := *m.silent
	return &c
}

func (m *mockAcquirer) Revoke(_ context.Context, cred *model.Credential) error {
	m.revoked = append(m.revoked, cred)
	return nil
}

type mockMailClient struct {
	search      func(ctx context.Context, query string) ([]model.MessageRef, error)
	fetch       func(ctx context.Context, ref model.MessageRef) (*model.MessageBody, error)
	searchCalls atomic.Int32
	fetchCalls  atomic.Int32
	lastToken   atomic.Value
}

func (m *mockMailClient) Search(ctx context.Context, cred model.Credential, query string) ([]model.MessageRef, error) {
	m.searchCalls.Add(1)
	m.lastToken.Store(cred.Token)
	if m.search == nil {
		return nil, nil
	}
	return m.search(ctx, query)
}

func (m *mockMailClient) FetchFull(ctx context.Context, _ model.Credential, ref model.MessageRef) (*model.MessageBody, error) {
	m.fetchCalls.Add(1)
	return m.fetch(ctx, ref)
}

func (m *mockMailClient) httpCalls() int32 {
	return m.searchCalls.Load() + m.fetchCalls.Load()
}

// staticMail returns a mail client whose single matching message carries text.
func staticMail(text string) *mockMailClient {
	return &mockMailClient{
		search: func(context.Context, string) ([]model.MessageRef, error) {
			return []model.MessageRef{{ID: "m1", ThreadID: "t1"}}, nil
		},
		fetch: func(_ context.Context, ref model.MessageRef) (*model.MessageBody, error) {
			return textBody(ref.ID, text), nil
		},
	}
}

// mockRecordStore is an in-memory RecordStore with the same dedup semantics
// as the SQLite implementation.
type mockRecordStore struct {
	mu     sync.Mutex
	rec    *model.VerificationRecord
	writes int
}

func (m *mockRecordStore) GetLatest(_ context.Context) (*model.VerificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return nil, nil
	}
	r := *m.rec
	return &r, nil
}

func (m *mockRecordStore) TrySet(_ context.Context, rec model.VerificationRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec != nil && m.rec.Code == rec.Code {
		return false, nil
	}
	rec.IsShown = false
	m.rec = &rec
	m.writes++
	return true, nil
}

func (m *mockRecordStore) MarkShown(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil || m.rec.Code != code {
		return false, nil
	}
	m.rec.IsShown = true
	return true, nil
}

func (m *mockRecordStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = nil
	return nil
}

func (m *mockRecordStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

type mockStateStore struct {
	mu      sync.Mutex
	enabled bool
}

func (m *mockStateStore) PollingEnabled(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled, nil
}

func (m *mockStateStore) SetPollingEnabled(_ context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
	return nil
}

func (m *mockStateStore) get() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

type mockNotifier struct {
	mu         sync.Mutex
	permission model.NotificationPermission
	showErr    error
	shown      []model.Notification
	dismissed  []string
}

func (m *mockNotifier) Permission(_ context.Context) (model.NotificationPermission, error) {
	return m.permission, nil
}

func (m *mockNotifier) Show(_ context.Context, n model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.showErr != nil {
		return m.showErr
	}
	m.shown = append(m.shown, n)
	return nil
}

func (m *mockNotifier) Dismiss(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dismissed = append(m.dismissed, id)
	return nil
}

type mockBadge struct {
	mu     sync.Mutex
	badges []model.Badge
}

func (m *mockBadge) SetBadge(_ context.Context, b model.Badge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.badges = append(m.badges, b)
	return nil
}

func (m *mockBadge) last() model.Badge {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.badges) == 0 {
		return model.BadgeCleared
	}
	return m.badges[len(m.badges)-1]
}

type mockBroadcaster struct {
	mu   sync.Mutex
	sent []model.Broadcast
}

func (m *mockBroadcaster) Broadcast(_ context.Context, b model.Broadcast) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, b)
}

func (m *mockBroadcaster) actions() []model.BroadcastAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.BroadcastAction, 0, len(m.sent))
	for _, b := range m.sent {
		out = append(out, b.Action)
	}
	return out
}

// --- Message builders ---

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func textBody(id, text string) *model.MessageBody {
	return &model.MessageBody{
		ID:     id,
		SentAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Payload: &model.MessagePart{
			MimeType: "text/plain",
			Data:     b64(text),
		},
	}
}

// --- Fixture wiring ---

type fixture struct {
	creds       *mockCredentialStore
	acquirer    *mockAcquirer
	mail        *mockMailClient
	records     *mockRecordStore
	state       *mockStateStore
	notifier    *mockNotifier
	badge       *mockBadge
	broadcaster *mockBroadcaster
}

func newFixture(mail *mockMailClient) *fixture {
	return &fixture{
		creds:       newMockCredentialStore(),
		acquirer:    &mockAcquirer{},
		mail:        mail,
		records:     &mockRecordStore{},
		state:       &mockStateStore{},
		notifier:    &mockNotifier{permission: model.PermissionGranted},
		badge:       &mockBadge{},
		broadcaster: &mockBroadcaster{},
	}
}

func (f *fixture) withCachedCredential() *fixture {
	f.creds.creds["gmail"] = model.Credential{ServiceID: "gmail", Token: "cached-token"}
	return f
}

type services struct {
	creds      *application.CredentialService
	fetcher    *application.FetchService
	dispatcher *application.NotificationDispatcher
	scheduler  *application.PollScheduler
	router     *application.MessageRouter
}

func (f *fixture) build(interval time.Duration) services {
	creds := application.NewCredentialService("gmail", f.creds, f.acquirer)
	dispatcher := application.NewNotificationDispatcher(f.notifier, f.badge, f.broadcaster, nil)
	fetcher := application.NewFetchService("gmail", "verification code", f.mail, f.records, dispatcher, f.broadcaster, nil)
	scheduler := application.NewPollScheduler(creds, fetcher, f.state, interval, nil)
	router := application.NewMessageRouter(creds, fetcher, scheduler, f.records, dispatcher)
	return services{
		creds:      creds,
		fetcher:    fetcher,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		router:     router,
	}
}
