package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLMarkerStore keeps markers in the shared relational store, so every
// worker pointed at the same database participates in the same dedup
// domain. Expiry is evaluated against wall-clock milliseconds at read and
// set time; expired markers are overwritten by the next TrySet.
type SQLMarkerStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLMarkerStore creates the store and its table.
func NewSQLMarkerStore(db *sql.DB) (*SQLMarkerStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_markers (
		key         TEXT PRIMARY KEY,
		acquired_at INTEGER NOT NULL,
		expires_at  INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create sync_markers table: %w", err)
	}
	return &SQLMarkerStore{db: db, now: time.Now}, nil
}

// TrySet implements MarkerStore with a single atomic upsert: the insert
// wins, or the update wins only over an expired marker.
func (s *SQLMarkerStore) TrySet(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_markers (key, acquired_at, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			acquired_at = excluded.acquired_at,
			expires_at  = excluded.expires_at
		WHERE sync_markers.expires_at <= excluded.acquired_at`,
		key, now, now+ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("failed to set marker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Age implements MarkerStore.
func (s *SQLMarkerStore) Age(ctx context.Context, key string) (time.Duration, bool, error) {
	var acquiredAt, expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT acquired_at, expires_at FROM sync_markers WHERE key = ?`, key,
	).Scan(&acquiredAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read marker: %w", err)
	}

	now := s.now().UnixMilli()
	if expiresAt <= now {
		return 0, false, nil
	}
	return time.Duration(now-acquiredAt) * time.Millisecond, true, nil
}

// Clear implements MarkerStore.
func (s *SQLMarkerStore) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_markers WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to clear marker: %w", err)
	}
	return nil
}
