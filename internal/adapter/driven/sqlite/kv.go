package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Keys of the kv table. Credential and grant keys are suffixed with the
// service id.
const (
	keyCredentialPrefix = "credential:"
	keyGrantPrefix      = "grant:"
	keyLatestRecord     = "latestVerificationRecord"
	keyPollingEnabled   = "pollingEnabled"
)

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// getValue returns the value stored under key and whether it exists.
func getValue(ctx context.Context, q queryRower, key string) (string, bool, error) {
	const query = `SELECT value FROM kv WHERE key = ?`
	var value string
	err := q.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

func putValue(ctx context.Context, e execer, key, value string) error {
	const query = `INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`
	if _, err := e.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func deleteValue(ctx context.Context, e execer, key string) error {
	const query = `DELETE FROM kv WHERE key = ?`
	if _, err := e.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}
