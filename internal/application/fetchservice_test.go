package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
)

var testCred = model.Credential{ServiceID: "gmail", Token: "tok"}

func TestFetchLatest_DeduplicatesByCode(t *testing.T) {
	codes := []string{"111111", "111111", "111111", "222222"}
	var i int
	mail := &mockMailClient{
		search: func(context.Context, string) ([]model.MessageRef, error) {
			return []model.MessageRef{{ID: "m"}}, nil
		},
		fetch: func(_ context.Context, ref model.MessageRef) (*model.MessageBody, error) {
			body := textBody(ref.ID, "code "+codes[i])
			i++
			return body, nil
		},
	}
	f := newFixture(mail)
	svc := f.build(time.Hour)

	var updates []bool
	for range codes {
		res, err := svc.fetcher.FetchLatest(context.Background(), testCred)
		require.NoError(t, err)
		assert.True(t, res.Found)
		updates = append(updates, res.Updated)
	}

	assert.Equal(t, []bool{true, false, false, true}, updates)
	assert.Equal(t, []model.BroadcastAction{
		model.BroadcastRecordUpdated,
		model.BroadcastRecordUpdated,
	}, f.broadcaster.actions())
	assert.Len(t, f.notifier.shown, 2)
	assert.Equal(t, 2, f.records.writes)
}

func TestFetchLatest_NoMessages(t *testing.T) {
	f := newFixture(&mockMailClient{})
	svc := f.build(time.Hour)

	res, err := svc.fetcher.FetchLatest(context.Background(), testCred)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Messages)
	assert.False(t, res.Found)
	assert.Equal(t, int32(0), f.mail.fetchCalls.Load())
	assert.Equal(t, 0, f.records.writes)
	assert.Empty(t, f.broadcaster.actions())
}

func TestFetchLatest_NoCode(t *testing.T) {
	f := newFixture(staticMail("Welcome to the newsletter"))
	svc := f.build(time.Hour)

	res, err := svc.fetcher.FetchLatest(context.Background(), testCred)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Messages)
	assert.False(t, res.Found)
	assert.Equal(t, 0, f.records.writes)
}

func TestFetchLatest_UsesFirstMatchAndQuery(t *testing.T) {
	var gotQuery string
	var fetched []string
	mail := &mockMailClient{
		search: func(_ context.Context, q string) ([]model.MessageRef, error) {
			gotQuery = q
			return []model.MessageRef{{ID: "newest"}, {ID: "older"}}, nil
		},
		fetch: func(_ context.Context, ref model.MessageRef) (*model.MessageBody, error) {
			fetched = append(fetched, ref.ID)
			return textBody(ref.ID, "code 5050"), nil
		},
	}
	f := newFixture(mail)
	svc := f.build(time.Hour)

	_, err := svc.fetcher.FetchLatest(context.Background(), testCred)
	require.NoError(t, err)
	assert.Equal(t, "verification code", gotQuery)
	assert.Equal(t, []string{"newest"}, fetched)
}

func TestFetchLatest_ReplacesDifferentStoredCode(t *testing.T) {
	f := newFixture(staticMail("Your sign-in code: 482913 expires in 5 minutes"))
	f.records.rec = &model.VerificationRecord{Service: "gmail", Code: "117450", IsShown: true}
	svc := f.build(time.Hour)

	res, err := svc.fetcher.FetchLatest(context.Background(), testCred)
	require.NoError(t, err)
	assert.Equal(t, "482913", res.Code)
	assert.True(t, res.Updated)

	assert.Equal(t, model.BadgeNew, f.badge.badges[0])

	require.Len(t, f.broadcaster.sent, 1)
	b := f.broadcaster.sent[0]
	assert.Equal(t, model.BroadcastRecordUpdated, b.Action)
	require.NotNil(t, b.Record)
	assert.Equal(t, "482913", b.Record.Code)
	assert.Equal(t, "gmail", b.Record.Service)
	assert.False(t, b.Record.IsShown)
	assert.False(t, b.Record.FetchedAt.IsZero())
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), b.Record.SentAt)

	stored, err := f.records.GetLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "482913", stored.Code)
	assert.False(t, stored.IsShown)
}

func TestFetchLatest_TransportErrorPropagates(t *testing.T) {
	mail := &mockMailClient{
		search: func(context.Context, string) ([]model.MessageRef, error) {
			return nil, &driven.TransportError{Op: "search", StatusCode: 503, Err: errors.New("unavailable")}
		},
	}
	f := newFixture(mail)
	svc := f.build(time.Hour)

	_, err := svc.fetcher.FetchLatest(context.Background(), testCred)
	require.Error(t, err)
	assert.True(t, driven.IsTransportError(err))
	assert.Equal(t, 0, f.records.writes)
}
