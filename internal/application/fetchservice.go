package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
)

// RecordListener is notified once per distinct new code.
type RecordListener interface {
	OnNewRecord(ctx context.Context, rec model.VerificationRecord)
}

// FetchResult describes one pass of the search, fetch, extract and store pipeline.
type FetchResult struct {
	// Messages is the number of search matches.
	Messages int
	Code     string
	Found    bool
	// Updated is true when the code differed from the stored record.
	Updated bool
	Record  *model.VerificationRecord
}

// FetchService runs the extraction pipeline for one credential.
type FetchService struct {
	serviceID   string
	query       string
	mail        driven.MailClient
	records     driven.RecordStore
	listener    RecordListener
	broadcaster driven.Broadcaster
	observer    Observer
	now         func() time.Time
}

// NewFetchService creates a FetchService. listener and observer may be nil.
func NewFetchService(
	serviceID string,
	query string,
	mail driven.MailClient,
	records driven.RecordStore,
	listener RecordListener,
	broadcaster driven.Broadcaster,
	observer Observer,
) *FetchService {
	return &FetchService{
		serviceID:   serviceID,
		query:       query,
		mail:        mail,
		records:     records,
		listener:    listener,
		broadcaster: broadcaster,
		observer:    observerOrNop(observer),
		now:         time.Now,
	}
}

// FetchLatest searches for the newest matching message, extracts its code
// and submits it to the record store. Listeners and subscribers are notified
// only when the stored code changed. Provider failures are returned as
// *driven.TransportError.
func (s *FetchService) FetchLatest(ctx context.Context, cred model.Credential) (FetchResult, error) {
	refs, err := s.mail.Search(ctx, cred, s.query)
	if err != nil {
		return FetchResult{}, fmt.Errorf("search mailbox: %w", err)
	}
	if len(refs) == 0 {
		return FetchResult{}, nil
	}

	res := FetchResult{Messages: len(refs)}

	body, err := s.mail.FetchFull(ctx, cred, refs[0])
	if err != nil {
		return res, fmt.Errorf("fetch message %s: %w", refs[0].ID, err)
	}

	code, ok := ExtractCode(body)
	if !ok {
		return res, nil
	}
	res.Code = code
	res.Found = true

	rec := model.VerificationRecord{
		Service:   s.serviceID,
		Code:      code,
		SentAt:    body.SentAt,
		FetchedAt: s.now(),
	}

	updated, err := s.records.TrySet(ctx, rec)
	if err != nil {
		return res, fmt.Errorf("store record: %w", err)
	}
	if !updated {
		return res, nil
	}

	res.Updated = true
	res.Record = &rec
	s.observer.ObserveRecordUpdated()
	slog.Info("record updated", "service", s.serviceID, "message_id", body.ID)

	if s.listener != nil {
		s.listener.OnNewRecord(ctx, rec)
	}
	s.broadcaster.Broadcast(ctx, model.Broadcast{
		Action: model.BroadcastRecordUpdated,
		Record: &rec,
	})

	return res, nil
}
