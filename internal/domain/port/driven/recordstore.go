package driven

import (
	"context"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
)

// RecordStore defines the driven port for the single latest verification record.
type RecordStore interface {
	// GetLatest returns the stored record, or (nil, nil) when none exists.
	GetLatest(ctx context.Context) (*model.VerificationRecord, error)

	// TrySet stores rec only when no record exists or the stored code differs
	// from rec.Code. The compare and the write are atomic with respect to
	// other TrySet calls. Returns true when rec was written.
	TrySet(ctx context.Context, rec model.VerificationRecord) (bool, error)

	// MarkShown sets IsShown on the stored record when its code equals code.
	// Returns false when no record with that code exists.
	MarkShown(ctx context.Context, code string) (bool, error)

	// Clear removes the stored record.
	Clear(ctx context.Context) error
}

// StateStore persists small pieces of coordinator state that must survive a
// restart.
type StateStore interface {
	PollingEnabled(ctx context.Context) (bool, error)
	SetPollingEnabled(ctx context.Context, enabled bool) error
}
