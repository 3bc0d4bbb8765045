package httphandler_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/ericfisherdev/mailcode/internal/adapter/driving/http"
	"github.com/ericfisherdev/mailcode/internal/adapter/driving/ws"
	"github.com/ericfisherdev/mailcode/internal/application"
	"github.com/ericfisherdev/mailcode/internal/domain/model"
)

// --- Mock implementations ---

type mockRouter struct {
	got    []model.InboundMessage
	ctxErr []error
	delay  time.Duration
	reply  any
	ok     bool
}

func (m *mockRouter) Handle(ctx context.Context, msg model.InboundMessage) (any, bool) {
	m.got = append(m.got, msg)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.ctxErr = append(m.ctxErr, ctx.Err())
	return m.reply, m.ok
}

type mockRecordStore struct {
	rec       *model.VerificationRecord
	err       error
	shownCode string
}

func (m *mockRecordStore) GetLatest(_ context.Context) (*model.VerificationRecord, error) {
	return m.rec, m.err
}
func (m *mockRecordStore) TrySet(_ context.Context, _ model.VerificationRecord) (bool, error) {
	return false, nil
}
func (m *mockRecordStore) MarkShown(_ context.Context, code string) (bool, error) {
	m.shownCode = code
	if m.err != nil {
		return false, m.err
	}
	return m.rec != nil && m.rec.Code == code, nil
}
func (m *mockRecordStore) Clear(_ context.Context) error { return nil }

type mockScheduler struct {
	state model.SchedulerState
}

func (m mockScheduler) State() model.SchedulerState { return m.state }

func setupMux(router *mockRouter, records *mockRecordStore) http.Handler {
	h := httphandler.NewHandler(router, records, mockScheduler{state: model.SchedulerPolling}, slog.Default())
	return httphandler.NewServeMux(h, httphandler.Routes{}, slog.Default())
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	err := json.NewDecoder(rec.Body).Decode(v)
	require.NoError(t, err)
}

// --- Tests ---

func TestPostMessage(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		router     *mockRouter
		wantStatus int
		wantBody   string
	}{
		{
			name:       "reply",
			body:       `{"id":"r1","action":"fetch-now"}`,
			router:     &mockRouter{reply: application.FetchNowReply{Code: "482913", Found: true}, ok: true},
			wantStatus: http.StatusOK,
			wantBody:   `{"replyTo":"r1","action":"fetch-now","data":{"code":"482913"}}`,
		},
		{
			name:       "no code",
			body:       `{"id":"r1","action":"fetch-now"}`,
			router:     &mockRouter{reply: application.FetchNowReply{}, ok: true},
			wantStatus: http.StatusOK,
			wantBody:   `{"replyTo":"r1","action":"fetch-now","data":{"code":null}}`,
		},
		{
			name:       "fire and forget",
			body:       `{"action":"reset-indicator"}`,
			router:     &mockRouter{},
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "invalid json",
			body:       `{nope`,
			router:     &mockRouter{},
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"invalid request body"}`,
		},
		{
			name:       "missing action",
			body:       `{"id":"r1"}`,
			router:     &mockRouter{},
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"missing field: action"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := setupMux(tt.router, &mockRecordStore{})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestPostMessage_PassesPayload(t *testing.T) {
	router := &mockRouter{reply: application.ShownReply{Shown: true}, ok: true}
	mux := setupMux(router, &mockRecordStore{})
	body := `{"id":"r2","action":"mark-shown","payload":{"code":"482913"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, router.got, 1)
	assert.Equal(t, model.InboundMessage{Action: model.ActionMarkShown, Code: "482913"}, router.got[0])
	assert.JSONEq(t, `{"replyTo":"r2","action":"mark-shown","data":{"shown":true}}`, rec.Body.String())
}

func TestPostMessage_AcquireOutlivesCaller(t *testing.T) {
	router := &mockRouter{reply: application.AcquireReply{}, ok: true}
	mux := setupMux(router, &mockRecordStore{})

	for _, action := range []string{"acquire-credential", "fetch-now"} {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/messages",
			strings.NewReader(`{"id":"r1","action":"`+action+`"}`)).WithContext(ctx)
		mux.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Len(t, router.ctxErr, 2)
	assert.NoError(t, router.ctxErr[0])
	assert.ErrorIs(t, router.ctxErr[1], context.Canceled)
}

func TestPostMessage_AcquireIgnoresWriteTimeout(t *testing.T) {
	router := &mockRouter{
		reply: application.AcquireReply{Token: "t1", Found: true},
		ok:    true,
		delay: 300 * time.Millisecond,
	}
	srv := httptest.NewUnstartedServer(setupMux(router, &mockRecordStore{}))
	srv.Config.WriteTimeout = 50 * time.Millisecond
	srv.Start()
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/messages", "application/json",
		strings.NewReader(`{"id":"r1","action":"acquire-credential"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "acquire-credential", out["action"])
}

func TestGetRecord(t *testing.T) {
	sent := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name       string
		store      *mockRecordStore
		wantStatus int
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name:       "no record",
			store:      &mockRecordStore{},
			wantStatus: http.StatusNotFound,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "no verification code", body["error"])
			},
		},
		{
			name: "record",
			store: &mockRecordStore{rec: &model.VerificationRecord{
				Service: "gmail", Code: "482913", SentAt: sent, FetchedAt: sent.Add(time.Minute),
			}},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "gmail", body["service"])
				assert.Equal(t, "482913", body["code"])
				assert.Equal(t, "2026-01-02T03:04:05Z", body["sentAt"])
				assert.NotEmpty(t, body["sentDate"])
				assert.Equal(t, false, body["isShown"])
			},
		},
		{
			name:       "store error",
			store:      &mockRecordStore{err: errors.New("disk on fire")},
			wantStatus: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "internal server error", body["error"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := setupMux(&mockRouter{}, tt.store)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/record", nil)
			rec := httptest.NewRecorder()

			mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body map[string]any
			decodeJSON(t, rec, &body)
			tt.check(t, body)
		})
	}
}

func TestMarkShown(t *testing.T) {
	store := &mockRecordStore{rec: &model.VerificationRecord{Service: "gmail", Code: "482913"}}
	mux := setupMux(&mockRouter{}, store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/record/shown", strings.NewReader(`{"code":"482913"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"shown":true}`, rec.Body.String())
	assert.Equal(t, "482913", store.shownCode)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/record/shown", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	mux := setupMux(&mockRouter{}, &mockRecordStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "polling", resp["polling"])
	assert.NotEmpty(t, resp["time"])
}

func TestRequestID(t *testing.T) {
	mux := setupMux(&mockRouter{}, &mockRecordStore{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Len(t, rec.Header().Get("X-Request-Id"), 26)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-Id", "probe-1")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, "probe-1", rec.Header().Get("X-Request-Id"))
}

func TestOptionalRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("mailcode_subscribers 0\n"))
	})
	h := httphandler.NewHandler(&mockRouter{}, &mockRecordStore{}, nil, slog.Default())

	without := httphandler.NewServeMux(h, httphandler.Routes{}, slog.Default())
	rec := httptest.NewRecorder()
	without.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	with := httphandler.NewServeMux(h, httphandler.Routes{Metrics: metrics}, slog.Default())
	rec = httptest.NewRecorder()
	with.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mailcode_subscribers")
}

func TestWebSocketUpgradeThroughMiddleware(t *testing.T) {
	hub := ws.NewHub(nil)
	router := &mockRouter{reply: application.AckReply{Status: application.StatusStarted}, ok: true}
	gateway := ws.NewGateway(slog.Default(), hub, router, ws.Options{})
	h := httphandler.NewHandler(router, &mockRecordStore{}, nil, slog.Default())
	srv := httptest.NewServer(httphandler.NewServeMux(h, httphandler.Routes{WebSocket: gateway}, slog.Default()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL+"/api/v1/ws", nil)
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), "badge-updated")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"id":"r1","action":"start-polling"}`)))
	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"replyTo":"r1","action":"start-polling","data":{"status":"started"}}`, string(data))
}
