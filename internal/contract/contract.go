// Package contract defines the JSON wire format of the coordinator's message
// channel. It is shared by the WebSocket and HTTP transports.
package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/mailcode/internal/application"
	"github.com/ericfisherdev/mailcode/internal/domain/model"
)

// Request is one inbound message from a popup, overlay or service worker.
type Request struct {
	ID      string          `json:"id,omitempty"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarkShownPayload is the payload of a mark-shown request.
type MarkShownPayload struct {
	Code string `json:"code"`
}

// NotificationActionPayload is the payload of a notification-action request.
type NotificationActionPayload struct {
	NotificationID string `json:"notificationId"`
	Action         string `json:"action"`
}

// Inbound validates r and converts it to a model.InboundMessage. Unrecognized
// actions are passed through untouched so the router can ignore them.
func (r Request) Inbound() (model.InboundMessage, error) {
	action := strings.TrimSpace(r.Action)
	if action == "" {
		return model.InboundMessage{}, errors.New("missing field: action")
	}
	msg := model.InboundMessage{Action: model.Action(action)}

	switch msg.Action {
	case model.ActionMarkShown:
		var p MarkShownPayload
		if err := decodePayload(r.Payload, &p); err != nil {
			return model.InboundMessage{}, err
		}
		if p.Code == "" {
			return model.InboundMessage{}, errors.New("missing field: payload.code")
		}
		msg.Code = p.Code

	case model.ActionNotificationAction:
		var p NotificationActionPayload
		if err := decodePayload(r.Payload, &p); err != nil {
			return model.InboundMessage{}, err
		}
		if p.NotificationID == "" {
			return model.InboundMessage{}, errors.New("missing field: payload.notificationId")
		}
		if p.Action == "" {
			return model.InboundMessage{}, errors.New("missing field: payload.action")
		}
		msg.NotificationID = p.NotificationID
		msg.NotificationAction = model.NotificationAction(p.Action)
	}

	return msg, nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("missing field: payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// Outbound is a reply to a request (ReplyTo set) or a broadcast.
type Outbound struct {
	ReplyTo string `json:"replyTo,omitempty"`
	Action  string `json:"action"`
	Data    any    `json:"data,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Record is the wire form of a verification record.
type Record struct {
	Service     string    `json:"service"`
	Code        string    `json:"code"`
	SentDate    string    `json:"sentDate"`
	FetchedDate string    `json:"fetchedDate"`
	SentAt      time.Time `json:"sentAt"`
	FetchedAt   time.Time `json:"fetchedAt"`
	IsShown     bool      `json:"isShown"`
}

// NewRecord converts a domain record to its wire form.
func NewRecord(rec model.VerificationRecord) Record {
	return Record{
		Service:     rec.Service,
		Code:        rec.Code,
		SentDate:    rec.SentDate(),
		FetchedDate: rec.FetchedDate(),
		SentAt:      rec.SentAt.UTC(),
		FetchedAt:   rec.FetchedAt.UTC(),
		IsShown:     rec.IsShown,
	}
}

// Badge is the wire form of the badge indicator.
type Badge struct {
	Text  string `json:"text"`
	Color string `json:"color"`
}

type (
	codeData struct {
		Code *string `json:"code"`
	}
	tokenData struct {
		Token *string `json:"token"`
	}
	statusData struct {
		Status string `json:"status"`
	}
	shownData struct {
		Shown bool `json:"shown"`
	}
	errorData struct {
		Error string `json:"error"`
	}
)

// ReplyData converts a router reply to its wire payload. Absent codes and
// tokens are encoded as JSON null.
func ReplyData(reply any) any {
	switch r := reply.(type) {
	case application.FetchNowReply:
		if !r.Found {
			return codeData{}
		}
		return codeData{Code: &r.Code}
	case application.AcquireReply:
		if !r.Found {
			return tokenData{}
		}
		return tokenData{Token: &r.Token}
	case application.AckReply:
		return statusData{Status: r.Status}
	case application.ShownReply:
		return shownData{Shown: r.Shown}
	case application.ErrorReply:
		return errorData{Error: r.Error}
	default:
		return reply
	}
}

// NewReply builds the outbound reply to the request with id.
func NewReply(id string, action model.Action, reply any) Outbound {
	return Outbound{ReplyTo: id, Action: string(action), Data: ReplyData(reply)}
}

// NewError builds an outbound error reply for a request that could not be
// decoded.
func NewError(id string, err error) Outbound {
	return Outbound{ReplyTo: id, Action: "error", Data: errorData{Error: err.Error()}}
}

// NewBroadcast converts a domain broadcast to its wire form.
func NewBroadcast(b model.Broadcast) Outbound {
	out := Outbound{Action: string(b.Action)}
	switch b.Action {
	case model.BroadcastRecordUpdated:
		if b.Record != nil {
			out.Data = NewRecord(*b.Record)
		}
	case model.BroadcastCopyRequested:
		out.Code = b.Code
	case model.BroadcastBadgeUpdated:
		if b.Badge != nil {
			out.Data = Badge{Text: b.Badge.Text, Color: b.Badge.Color}
		}
	}
	return out
}
