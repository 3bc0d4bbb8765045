package sqlite

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
)

var _ driven.StateStore = (*StateRepo)(nil)

// StateRepo persists coordinator flags in the kv table.
type StateRepo struct {
	db *DB
}

// NewStateRepo creates a new StateRepo backed by the given database.
func NewStateRepo(db *DB) *StateRepo {
	return &StateRepo{db: db}
}

// PollingEnabled reports whether polling was left enabled. Absent means false.
func (r *StateRepo) PollingEnabled(ctx context.Context) (bool, error) {
	raw, ok, err := getValue(ctx, r.db.Reader, keyPollingEnabled)
	if err != nil {
		return false, fmt.Errorf("get polling state: %w", err)
	}
	if !ok {
		return false, nil
	}

	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse polling state %q: %w", raw, err)
	}
	return enabled, nil
}

func (r *StateRepo) SetPollingEnabled(ctx context.Context, enabled bool) error {
	if err := putValue(ctx, r.db.Writer, keyPollingEnabled, strconv.FormatBool(enabled)); err != nil {
		return fmt.Errorf("set polling state: %w", err)
	}
	return nil
}
