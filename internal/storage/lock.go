package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"republisher/internal/republish"
)

// TryAcquire is a single-attempt conditional upsert: it wins when no row
// exists or the existing row's TTL has lapsed (stale holder reclaim). The
// conditional DO UPDATE keeps the check-and-set atomic inside SQLite.
func (s *Store) TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO locks(name, held_since, expires_at) VALUES(?,?,?)
		 ON CONFLICT(name) DO UPDATE SET
			held_since = excluded.held_since,
			expires_at = excluded.expires_at
		 WHERE locks.expires_at < ?`,
		name, now.UnixMilli(), now.Add(ttl).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Release(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM locks WHERE name = ?`, name)
	return err
}

func (s *Store) Status(ctx context.Context, name string) (republish.LockStatus, error) {
	var sinceMS, expMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT held_since, expires_at FROM locks WHERE name = ?`, name,
	).Scan(&sinceMS, &expMS)
	if errors.Is(err, sql.ErrNoRows) {
		return republish.LockStatus{}, nil
	}
	if err != nil {
		return republish.LockStatus{}, err
	}

	now := time.Now()
	// An expired row means the holder is presumed dead; report unlocked.
	if expMS < now.UnixMilli() {
		return republish.LockStatus{}, nil
	}
	since := time.UnixMilli(sinceMS)
	return republish.LockStatus{Held: true, Since: since, Age: now.Sub(since)}, nil
}
