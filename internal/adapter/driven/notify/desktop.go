// Package notify implements the DesktopNotifier port: freedesktop D-Bus
// notifications, Web Push, and a log-only fallback.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/esiqveland/notify"
	"github.com/godbus/dbus/v5"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
)

var _ driven.DesktopNotifier = (*Desktop)(nil)

const (
	appName = "mailcode"
	appIcon = "mail-message-new"
)

// desktopBackend is the subset of notify.Notifier the Desktop adapter uses.
type desktopBackend interface {
	SendNotification(n notify.Notification) (uint32, error)
	CloseNotification(id uint32) (bool, error)
	GetCapabilities() ([]string, error)
	Close() error
}

// Desktop shows notifications through the session bus notification server.
// Notification ids handed to callers are mapped to the server's uint32 ids.
type Desktop struct {
	backend    desktopBackend
	permission model.NotificationPermission

	mu     sync.Mutex
	sink   driven.NotificationEventSink
	toDBus map[string]uint32
	fromID map[uint32]string
}

// NewDesktop connects to the session bus. permission overrides the host
// permission; PermissionUndetermined probes the notification server instead.
func NewDesktop(permission model.NotificationPermission) (*Desktop, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	d := newDesktop(nil, permission)
	backend, err := notify.New(conn,
		notify.WithOnAction(d.onAction),
		notify.WithOnClosed(d.onClosed),
		notify.WithLogger(slogPrintf{}),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create notifier: %w", err)
	}
	d.backend = backend
	return d, nil
}

func newDesktop(backend desktopBackend, permission model.NotificationPermission) *Desktop {
	return &Desktop{
		backend:    backend,
		permission: permission,
		toDBus:     make(map[string]uint32),
		fromID:     make(map[uint32]string),
	}
}

// SetSink registers the receiver of action and close events.
func (d *Desktop) SetSink(sink driven.NotificationEventSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
}

func (d *Desktop) Permission(_ context.Context) (model.NotificationPermission, error) {
	if d.permission != model.PermissionUndetermined && d.permission != "" {
		return d.permission, nil
	}
	// A reachable notification server counts as a grant.
	if _, err := d.backend.GetCapabilities(); err != nil {
		slog.Debug("notification server unavailable", "error", err)
		return model.PermissionDenied, nil
	}
	return model.PermissionGranted, nil
}

func (d *Desktop) Show(_ context.Context, n model.Notification) error {
	note := notify.Notification{
		AppName:       appName,
		AppIcon:       appIcon,
		Summary:       n.Title,
		Body:          n.Body,
		ExpireTimeout: notify.ExpireTimeoutSetByNotificationServer,
	}
	note.SetUrgency(notify.UrgencyNormal)
	for _, a := range n.Actions {
		switch a {
		case model.NotificationActionCopy:
			note.Actions = append(note.Actions, notify.Action{Key: string(model.NotificationActionCopy), Label: "Copy code"})
		case model.NotificationActionActivate:
			note.Actions = append(note.Actions, notify.NewDefaultAction("Open"))
		}
	}

	id, err := d.backend.SendNotification(note)
	if err != nil {
		return fmt.Errorf("send desktop notification: %w", err)
	}

	d.mu.Lock()
	d.toDBus[n.ID] = id
	d.fromID[id] = n.ID
	d.mu.Unlock()
	return nil
}

func (d *Desktop) Dismiss(_ context.Context, id string) error {
	d.mu.Lock()
	dbusID, ok := d.toDBus[id]
	d.forget(id, dbusID)
	d.mu.Unlock()
	if !ok {
		return nil
	}

	if _, err := d.backend.CloseNotification(dbusID); err != nil {
		return fmt.Errorf("close desktop notification: %w", err)
	}
	return nil
}

// Close shuts down the signal loop.
func (d *Desktop) Close() error {
	return d.backend.Close()
}

func (d *Desktop) onAction(sig *notify.ActionInvokedSignal) {
	d.mu.Lock()
	id, ok := d.fromID[sig.ID]
	sink := d.sink
	d.mu.Unlock()
	if !ok || sink == nil {
		return
	}

	action := model.NotificationAction(sig.ActionKey)
	if sig.ActionKey == "default" {
		action = model.NotificationActionActivate
	}
	if err := sink.NotificationAction(context.Background(), id, action); err != nil {
		slog.Warn("notification action failed", "id", id, "action", action, "error", err)
	}
}

func (d *Desktop) onClosed(sig *notify.NotificationClosedSignal) {
	d.mu.Lock()
	id, ok := d.fromID[sig.ID]
	d.forget(id, sig.ID)
	sink := d.sink
	d.mu.Unlock()
	if !ok || sink == nil {
		return
	}

	slog.Debug("notification closed", "id", id, "reason", sig.Reason.String())
	sink.NotificationClosed(context.Background(), id)
}

// forget drops both directions of an id mapping. Caller holds d.mu.
func (d *Desktop) forget(id string, dbusID uint32) {
	delete(d.toDBus, id)
	delete(d.fromID, dbusID)
}

// slogPrintf adapts slog to the Printf logger the notify library expects.
type slogPrintf struct{}

func (slogPrintf) Printf(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...), "component", "dbus-notify")
}
