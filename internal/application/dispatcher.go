package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
)

var _ driven.NotificationEventSink = (*NotificationDispatcher)(nil)

// NotificationDispatcher drives the badge and the desktop notification for
// each new record.
//
// At most one notification registration is live at a time. A registration
// is released when one of its actions fires, when the notification closes,
// or when a newer notification supersedes it.
type NotificationDispatcher struct {
	notifier    driven.DesktopNotifier
	badge       driven.BadgeIndicator
	broadcaster driven.Broadcaster
	observer    Observer
	newID       func() string

	mu     sync.Mutex
	active *registration
}

type registration struct {
	id       string
	code     string
	handlers map[model.NotificationAction]func(ctx context.Context)
}

// NewNotificationDispatcher creates a NotificationDispatcher. observer may be nil.
func NewNotificationDispatcher(
	notifier driven.DesktopNotifier,
	badge driven.BadgeIndicator,
	broadcaster driven.Broadcaster,
	observer Observer,
) *NotificationDispatcher {
	return &NotificationDispatcher{
		notifier:    notifier,
		badge:       badge,
		broadcaster: broadcaster,
		observer:    observerOrNop(observer),
		newID:       func() string { return ulid.Make().String() },
	}
}

// OnNewRecord sets the NEW badge and, depending on notification permission,
// raises a notification or switches the badge to OFF.
func (d *NotificationDispatcher) OnNewRecord(ctx context.Context, rec model.VerificationRecord) {
	d.setBadge(ctx, model.BadgeNew)

	perm, err := d.notifier.Permission(ctx)
	if err != nil {
		slog.Warn("failed to query notification permission", "error", err)
		perm = model.PermissionUndetermined
	}

	switch perm {
	case model.PermissionGranted:
		d.notify(ctx, rec)
	case model.PermissionDenied:
		d.setBadge(ctx, model.BadgeOff)
		d.observer.ObserveNotification("denied")
	default:
		d.observer.ObserveNotification("undetermined")
	}
}

func (d *NotificationDispatcher) notify(ctx context.Context, rec model.VerificationRecord) {
	d.supersede(ctx)

	id := d.newID()
	reg := &registration{id: id, code: rec.Code}
	reg.handlers = map[model.NotificationAction]func(context.Context){
		model.NotificationActionCopy: func(ctx context.Context) {
			d.broadcaster.Broadcast(ctx, model.Broadcast{Action: model.BroadcastCopyRequested, Code: reg.code})
			d.dismiss(ctx, id)
		},
		model.NotificationActionActivate: func(ctx context.Context) {
			d.broadcaster.Broadcast(ctx, model.Broadcast{Action: model.BroadcastOpenPopup})
			d.dismiss(ctx, id)
		},
	}

	d.mu.Lock()
	d.active = reg
	d.mu.Unlock()

	body := rec.Code
	if sent := rec.SentDate(); sent != "" {
		body = fmt.Sprintf("%s\nSent %s", rec.Code, sent)
	}

	err := d.notifier.Show(ctx, model.Notification{
		ID:      id,
		Title:   "New verification code",
		Body:    body,
		Code:    rec.Code,
		Actions: []model.NotificationAction{model.NotificationActionCopy, model.NotificationActionActivate},
	})
	if err != nil {
		d.release(id)
		d.observer.ObserveNotification("error")
		slog.Warn("failed to show notification", "error", err)
		return
	}

	d.observer.ObserveNotification("shown")
	slog.Debug("notification shown", "id", id)
}

// NotificationAction fires the one-shot handler registered for id and action.
// Unknown or already released ids are ignored.
func (d *NotificationDispatcher) NotificationAction(ctx context.Context, id string, action model.NotificationAction) error {
	d.mu.Lock()
	reg := d.active
	if reg == nil || reg.id != id {
		d.mu.Unlock()
		slog.Debug("ignoring action for inactive notification", "id", id, "action", action)
		return nil
	}
	handler, ok := reg.handlers[action]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("unknown notification action %q", action)
	}
	d.active = nil
	d.mu.Unlock()

	handler(ctx)
	return nil
}

// NotificationClosed releases the registration for a notification the user
// or the host closed.
func (d *NotificationDispatcher) NotificationClosed(_ context.Context, id string) {
	d.release(id)
}

// ResetBadge clears the badge indicator.
func (d *NotificationDispatcher) ResetBadge(ctx context.Context) {
	d.setBadge(ctx, model.BadgeCleared)
}

// supersede releases and dismisses the live notification, if any.
func (d *NotificationDispatcher) supersede(ctx context.Context) {
	d.mu.Lock()
	prev := d.active
	d.active = nil
	d.mu.Unlock()

	if prev != nil {
		d.dismiss(ctx, prev.id)
	}
}

func (d *NotificationDispatcher) release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active != nil && d.active.id == id {
		d.active = nil
	}
}

func (d *NotificationDispatcher) dismiss(ctx context.Context, id string) {
	if err := d.notifier.Dismiss(ctx, id); err != nil {
		slog.Warn("failed to dismiss notification", "id", id, "error", err)
	}
}

func (d *NotificationDispatcher) setBadge(ctx context.Context, b model.Badge) {
	if err := d.badge.SetBadge(ctx, b); err != nil {
		slog.Warn("failed to set badge", "text", b.Text, "error", err)
	}
}
