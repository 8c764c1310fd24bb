package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Sync kinds recorded in sync_state.
const (
	SyncKindEmail    = "email"
	SyncKindCalendar = "calendar"
)

// RecordSyncCompleted stamps when a sync run of the given kind finished
// successfully. Staleness is keyed to these stamps rather than to cached
// row timestamps, so a run that legitimately fetches nothing still
// counts as fresh.
func (s *Store) RecordSyncCompleted(ctx context.Context, userEmail, kind string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (user_email, kind, last_sync)
		VALUES (?, ?, ?)
		ON CONFLICT (user_email, kind) DO UPDATE SET last_sync = excluded.last_sync`,
		userEmail, kind, t.UTC())
	if err != nil {
		return fmt.Errorf("recording %s sync completion: %w", kind, err)
	}
	return nil
}

// LastSyncCompleted returns when the most recent successful sync of the
// given kind finished, or the zero time when none has run.
func (s *Store) LastSyncCompleted(ctx context.Context, userEmail, kind string) (time.Time, error) {
	var t time.Time
	err := s.db.GetContext(ctx, &t,
		"SELECT last_sync FROM sync_state WHERE user_email = ? AND kind = ?",
		userEmail, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading last %s sync: %w", kind, err)
	}
	return t, nil
}
