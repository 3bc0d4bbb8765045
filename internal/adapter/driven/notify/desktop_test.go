package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/esiqveland/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
)

type fakeBackend struct {
	mu       sync.Mutex
	nextID   uint32
	sent     []notify.Notification
	closed   []uint32
	capsErr  error
	closeErr error
}

func (f *fakeBackend) SendNotification(n notify.Notification) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, n)
	return f.nextID, nil
}

func (f *fakeBackend) CloseNotification(id uint32) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	return true, f.closeErr
}

func (f *fakeBackend) GetCapabilities() ([]string, error) {
	return []string{"actions", "body"}, f.capsErr
}

func (f *fakeBackend) Close() error { return nil }

type recordingSink struct {
	mu      sync.Mutex
	actions []string
	closed  []string
}

func (s *recordingSink) NotificationAction(_ context.Context, id string, action model.NotificationAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, id+":"+string(action))
	return nil
}

func (s *recordingSink) NotificationClosed(_ context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, id)
}

func TestDesktop_PermissionOverride(t *testing.T) {
	d := newDesktop(&fakeBackend{capsErr: errors.New("no server")}, model.PermissionGranted)

	perm, err := d.Permission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.PermissionGranted, perm)
}

func TestDesktop_PermissionProbe(t *testing.T) {
	ctx := context.Background()

	perm, err := newDesktop(&fakeBackend{}, model.PermissionUndetermined).Permission(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PermissionGranted, perm)

	perm, err = newDesktop(&fakeBackend{capsErr: errors.New("no server")}, model.PermissionUndetermined).Permission(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PermissionDenied, perm)
}

func TestDesktop_ShowMapsActions(t *testing.T) {
	backend := &fakeBackend{}
	d := newDesktop(backend, model.PermissionGranted)

	err := d.Show(context.Background(), model.Notification{
		ID:      "n1",
		Title:   "New verification code",
		Body:    "482913",
		Code:    "482913",
		Actions: []model.NotificationAction{model.NotificationActionCopy, model.NotificationActionActivate},
	})
	require.NoError(t, err)

	require.Len(t, backend.sent, 1)
	note := backend.sent[0]
	assert.Equal(t, "New verification code", note.Summary)
	assert.Equal(t, "482913", note.Body)
	assert.Equal(t, []notify.Action{
		{Key: "copy", Label: "Copy code"},
		{Key: "default", Label: "Open"},
	}, note.Actions)
}

func TestDesktop_ActionSignalsReachSink(t *testing.T) {
	backend := &fakeBackend{}
	d := newDesktop(backend, model.PermissionGranted)
	sink := &recordingSink{}
	d.SetSink(sink)

	require.NoError(t, d.Show(context.Background(), model.Notification{ID: "n1"}))

	d.onAction(&notify.ActionInvokedSignal{ID: 1, ActionKey: "copy"})
	d.onAction(&notify.ActionInvokedSignal{ID: 1, ActionKey: "default"})
	d.onAction(&notify.ActionInvokedSignal{ID: 99, ActionKey: "copy"})

	assert.Equal(t, []string{"n1:copy", "n1:activate"}, sink.actions)

	d.onClosed(&notify.NotificationClosedSignal{ID: 1, Reason: notify.ReasonDismissedByUser})
	assert.Equal(t, []string{"n1"}, sink.closed)

	// The mapping is gone once closed.
	d.onAction(&notify.ActionInvokedSignal{ID: 1, ActionKey: "copy"})
	assert.Len(t, sink.actions, 2)
}

func TestDesktop_Dismiss(t *testing.T) {
	backend := &fakeBackend{}
	d := newDesktop(backend, model.PermissionGranted)
	ctx := context.Background()

	require.NoError(t, d.Show(ctx, model.Notification{ID: "n1"}))
	require.NoError(t, d.Dismiss(ctx, "n1"))
	assert.Equal(t, []uint32{1}, backend.closed)

	// Unknown ids are ignored.
	require.NoError(t, d.Dismiss(ctx, "n1"))
	assert.Len(t, backend.closed, 1)
}

func TestLog_Permission(t *testing.T) {
	perm, err := NewLog("").Permission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.PermissionUndetermined, perm)

	perm, err = NewLog(model.PermissionDenied).Permission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.PermissionDenied, perm)
}
