package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
)

var _ driven.DesktopNotifier = (*WebPush)(nil)

// WebPushConfig holds the VAPID identity and the single browser subscription
// notifications are pushed to.
type WebPushConfig struct {
	// Subscription is the PushSubscription JSON produced by the browser.
	Subscription    string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	TTL             int
	HTTPClient      webpush.HTTPClient
}

// WebPush delivers notifications to a browser service worker. The service
// worker reports notification clicks back through the message endpoint.
type WebPush struct {
	cfg WebPushConfig
	sub *webpush.Subscription
}

// NewWebPush parses the configured subscription. An empty subscription yields
// a notifier whose permission is denied.
func NewWebPush(cfg WebPushConfig) (*WebPush, error) {
	w := &WebPush{cfg: cfg}
	if cfg.Subscription == "" {
		return w, nil
	}

	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(cfg.Subscription), &sub); err != nil {
		return nil, fmt.Errorf("parse push subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return nil, fmt.Errorf("push subscription has no endpoint")
	}
	w.sub = &sub
	return w, nil
}

type pushPayload struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Code    string   `json:"code"`
	Actions []string `json:"actions"`
}

func (w *WebPush) Permission(_ context.Context) (model.NotificationPermission, error) {
	if w.sub == nil {
		return model.PermissionDenied, nil
	}
	return model.PermissionGranted, nil
}

func (w *WebPush) Show(ctx context.Context, n model.Notification) error {
	if w.sub == nil {
		return fmt.Errorf("send push notification: no subscription configured")
	}

	actions := make([]string, 0, len(n.Actions))
	for _, a := range n.Actions {
		actions = append(actions, string(a))
	}
	payload, err := json.Marshal(pushPayload{
		ID:      n.ID,
		Title:   n.Title,
		Body:    n.Body,
		Code:    n.Code,
		Actions: actions,
	})
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, w.sub, &webpush.Options{
		HTTPClient:      w.cfg.HTTPClient,
		Subscriber:      w.cfg.Subscriber,
		VAPIDPublicKey:  w.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: w.cfg.VAPIDPrivateKey,
		TTL:             w.cfg.TTL,
		Urgency:         webpush.UrgencyHigh,
		Topic:           "verification-code",
	})
	if err != nil {
		return &driven.TransportError{Op: "send push notification", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &driven.TransportError{
			Op:         "send push notification",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("push service rejected notification: %s", body),
		}
	}

	slog.Debug("push notification sent", "id", n.ID, "status", resp.StatusCode)
	return nil
}

// Dismiss is a no-op: the service worker closes its own notification when the
// coordinator broadcasts the follow-up action.
func (w *WebPush) Dismiss(_ context.Context, _ string) error {
	return nil
}
