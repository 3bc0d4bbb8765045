package driven

import (
	"context"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
)

// DesktopNotifier shows user-visible notifications.
type DesktopNotifier interface {
	// Permission reports the host's current notification permission.
	Permission(ctx context.Context) (model.NotificationPermission, error)

	// Show displays n. Actions on n are reported through a NotificationEventSink.
	Show(ctx context.Context, n model.Notification) error

	// Dismiss closes the notification with the given id if it is still open.
	Dismiss(ctx context.Context, id string) error
}

// NotificationEventSink receives user interaction with shown notifications.
type NotificationEventSink interface {
	NotificationAction(ctx context.Context, id string, action model.NotificationAction) error
	NotificationClosed(ctx context.Context, id string)
}

// BadgeIndicator sets the visible indicator on the extension icon.
type BadgeIndicator interface {
	SetBadge(ctx context.Context, badge model.Badge) error
}

// Broadcaster delivers a message to every subscribed context. Delivery is
// best-effort: absent subscribers are not an error.
type Broadcaster interface {
	Broadcast(ctx context.Context, b model.Broadcast)
}
