package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
)

var _ driven.RecordStore = (*RecordRepo)(nil)

// RecordRepo is the SQLite implementation of the RecordStore port. The record
// is stored as JSON under a single key.
type RecordRepo struct {
	db *DB
}

// NewRecordRepo creates a new RecordRepo backed by the given database.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

type storedRecord struct {
	Service   string    `json:"service"`
	Code      string    `json:"code"`
	SentAt    time.Time `json:"sentAt"`
	FetchedAt time.Time `json:"fetchedAt"`
	IsShown   bool      `json:"isShown"`
}

func toStoredRecord(rec model.VerificationRecord) storedRecord {
	return storedRecord{
		Service:   rec.Service,
		Code:      rec.Code,
		SentAt:    rec.SentAt,
		FetchedAt: rec.FetchedAt,
		IsShown:   rec.IsShown,
	}
}

func (s storedRecord) toModel() *model.VerificationRecord {
	return &model.VerificationRecord{
		Service:   s.Service,
		Code:      s.Code,
		SentAt:    s.SentAt,
		FetchedAt: s.FetchedAt,
		IsShown:   s.IsShown,
	}
}

// GetLatest returns the stored record, or (nil, nil) when none exists.
func (r *RecordRepo) GetLatest(ctx context.Context) (*model.VerificationRecord, error) {
	rec, err := loadRecord(ctx, r.db.Reader)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return rec.toModel(), nil
}

// TrySet writes rec unless the stored record already carries the same code.
// The read and the write share one writer transaction.
func (r *RecordRepo) TrySet(ctx context.Context, rec model.VerificationRecord) (bool, error) {
	var written bool
	err := r.db.withWriteTx(ctx, func(tx *sql.Tx) error {
		prev, err := loadRecord(ctx, tx)
		if err != nil {
			return err
		}
		if prev != nil && prev.Code == rec.Code {
			return nil
		}

		if err := saveRecord(ctx, tx, toStoredRecord(rec)); err != nil {
			return err
		}
		written = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("try set record: %w", err)
	}
	return written, nil
}

// MarkShown flags the stored record as shown when its code equals code.
func (r *RecordRepo) MarkShown(ctx context.Context, code string) (bool, error) {
	var marked bool
	err := r.db.withWriteTx(ctx, func(tx *sql.Tx) error {
		rec, err := loadRecord(ctx, tx)
		if err != nil {
			return err
		}
		if rec == nil || rec.Code != code {
			return nil
		}
		if rec.IsShown {
			marked = true
			return nil
		}

		rec.IsShown = true
		if err := saveRecord(ctx, tx, *rec); err != nil {
			return err
		}
		marked = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark record shown: %w", err)
	}
	return marked, nil
}

// Clear removes the stored record.
func (r *RecordRepo) Clear(ctx context.Context) error {
	if err := deleteValue(ctx, r.db.Writer, keyLatestRecord); err != nil {
		return fmt.Errorf("clear record: %w", err)
	}
	return nil
}

func loadRecord(ctx context.Context, q queryRower) (*storedRecord, error) {
	raw, ok, err := getValue(ctx, q, keyLatestRecord)
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var rec storedRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

func saveRecord(ctx context.Context, e execer, rec storedRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return putValue(ctx, e, keyLatestRecord, string(raw))
}
