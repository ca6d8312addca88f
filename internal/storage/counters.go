package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Incr bumps a TTL counter and returns the new value. An expired row restarts
// at 1 with a fresh TTL, which gives retry budgets their daily reset.
func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int, error) {
	now := time.Now().UnixMilli()
	exp := time.Now().Add(ttl).UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO retry_counters(key, count, expires_at) VALUES(?,1,?)
		 ON CONFLICT(key) DO UPDATE SET
			count = CASE WHEN retry_counters.expires_at < ? THEN 1 ELSE retry_counters.count + 1 END,
			expires_at = CASE WHEN retry_counters.expires_at < ? THEN ? ELSE retry_counters.expires_at END`,
		key, exp, now, now, exp,
	)
	if err != nil {
		return 0, err
	}
	s.maybePrune()
	return s.Get(ctx, key)
}

func (s *Store) Get(ctx context.Context, key string) (int, error) {
	var count int
	var expMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count, expires_at FROM retry_counters WHERE key = ?`, key,
	).Scan(&count, &expMS)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if expMS < time.Now().UnixMilli() {
		return 0, nil
	}
	return count, nil
}

func (s *Store) Reset(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM retry_counters WHERE key = ?`, key)
	return err
}
