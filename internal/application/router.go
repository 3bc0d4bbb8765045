package application

import (
	"context"
	"log/slog"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
)

// Replies returned by MessageRouter.Handle.
type (
	FetchNowReply struct {
		Code  string
		Found bool
	}
	AcquireReply struct {
		Token string
		Found bool
	}
	AckReply struct {
		Status string
	}
	ShownReply struct {
		Shown bool
	}
	ErrorReply struct {
		Error string
	}
)

// Ack statuses.
const (
	StatusStarted = "started"
	StatusStopped = "stopped"
	StatusRevoked = "revoked"
	StatusHandled = "handled"
)

// MessageRouter dispatches inbound messages from popup and overlay contexts.
// Handle is safe for concurrent use; transports run each message on its own
// goroutine and deliver the reply when Handle returns.
type MessageRouter struct {
	creds      *CredentialService
	fetcher    *FetchService
	scheduler  *PollScheduler
	records    driven.RecordStore
	dispatcher *NotificationDispatcher
}

// NewMessageRouter creates a MessageRouter.
func NewMessageRouter(
	creds *CredentialService,
	fetcher *FetchService,
	scheduler *PollScheduler,
	records driven.RecordStore,
	dispatcher *NotificationDispatcher,
) *MessageRouter {
	return &MessageRouter{
		creds:      creds,
		fetcher:    fetcher,
		scheduler:  scheduler,
		records:    records,
		dispatcher: dispatcher,
	}
}

// Handle processes msg. ok is false when no reply must be sent: for
// fire-and-forget actions and for unrecognized actions.
func (r *MessageRouter) Handle(ctx context.Context, msg model.InboundMessage) (reply any, ok bool) {
	switch msg.Action {
	case model.ActionFetchNow:
		return r.fetchNow(ctx), true

	case model.ActionAcquireCredential:
		cred := r.creds.AcquireInteractive(ctx)
		if cred == nil {
			return AcquireReply{}, true
		}
		return AcquireReply{Token: cred.Token, Found: true}, true

	case model.ActionStartPolling:
		r.scheduler.Start(ctx)
		return AckReply{Status: StatusStarted}, true

	case model.ActionStopPolling:
		r.scheduler.Stop(ctx)
		return AckReply{Status: StatusStopped}, true

	case model.ActionResetIndicator:
		r.dispatcher.ResetBadge(ctx)
		return nil, false

	case model.ActionRevokeCredential:
		return r.revoke(ctx), true

	case model.ActionMarkShown:
		shown, err := r.records.MarkShown(ctx, msg.Code)
		if err != nil {
			slog.Error("mark shown failed", "error", err)
			return ErrorReply{Error: err.Error()}, true
		}
		return ShownReply{Shown: shown}, true

	case model.ActionNotificationAction:
		if err := r.dispatcher.NotificationAction(ctx, msg.NotificationID, msg.NotificationAction); err != nil {
			return ErrorReply{Error: err.Error()}, true
		}
		return AckReply{Status: StatusHandled}, true

	default:
		slog.Debug("ignoring unrecognized message", "action", string(msg.Action))
		return nil, false
	}
}

// fetchNow runs the extraction pipeline with the cached credential only; it
// never acquires one. Failures are logged and answered with no code.
func (r *MessageRouter) fetchNow(ctx context.Context) any {
	cred, err := r.creds.Cached(ctx)
	if err != nil {
		slog.Error("fetch-now credential lookup failed", "error", err)
		return FetchNowReply{}
	}
	if cred == nil {
		return FetchNowReply{}
	}

	res, err := r.fetcher.FetchLatest(ctx, *cred)
	if err != nil {
		if driven.IsUnauthorized(err) {
			if ierr := r.creds.Invalidate(ctx); ierr != nil {
				slog.Error("failed to invalidate rejected credential", "error", ierr)
			}
		}
		slog.Warn("fetch-now failed", "error", err)
		return FetchNowReply{}
	}
	return FetchNowReply{Code: res.Code, Found: res.Found}
}

// revoke forgets everything tied to the account: the credential at the
// provider and locally, the latest record, polling, and the badge.
func (r *MessageRouter) revoke(ctx context.Context) any {
	r.scheduler.Stop(ctx)

	if err := r.creds.Revoke(ctx); err != nil {
		slog.Error("revoke failed", "error", err)
		return ErrorReply{Error: err.Error()}
	}
	if err := r.records.Clear(ctx); err != nil {
		slog.Error("failed to clear record on revoke", "error", err)
	}
	r.dispatcher.ResetBadge(ctx)

	return AckReply{Status: StatusRevoked}
}
