package notify

import (
	"context"
	"log/slog"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
)

var _ driven.DesktopNotifier = (*Log)(nil)

// Log writes notifications to the structured log. It is used on hosts
// without a notification server.
type Log struct {
	permission model.NotificationPermission
}

func NewLog(permission model.NotificationPermission) *Log {
	if permission == "" {
		permission = model.PermissionUndetermined
	}
	return &Log{permission: permission}
}

func (l *Log) Permission(_ context.Context) (model.NotificationPermission, error) {
	return l.permission, nil
}

func (l *Log) Show(_ context.Context, n model.Notification) error {
	slog.Info("notification", "id", n.ID, "title", n.Title, "body", n.Body)
	return nil
}

func (l *Log) Dismiss(_ context.Context, id string) error {
	slog.Debug("notification dismissed", "id", id)
	return nil
}
