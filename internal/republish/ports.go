package republish

import (
	"context"
	"time"
)

// ContentStore is the content-side persistence the core mutates.
type ContentStore interface {
	// SelectEligible returns published items matching the criteria, ordered
	// ascending by publish timestamp (global oldest-first across types).
	SelectEligible(ctx context.Context, crit Criteria) ([]EligiblePost, error)

	// CountEligible runs the same predicate without a limit, count only.
	CountEligible(ctx context.Context, crit Criteria) (int, error)

	// GetPost loads a single item fresh. Returns ErrNotFound when missing.
	GetPost(ctx context.Context, id int64) (EligiblePost, error)

	// Republish rewrites the item's publish timestamp and bumps its
	// last-modified timestamp.
	Republish(ctx context.Context, id int64, publishedAt, modifiedAt time.Time) error
}

// HistoryRepo is the append-only log of republish attempts.
type HistoryRepo interface {
	Append(ctx context.Context, rec HistoryRecord) (int64, error)

	// UpdateStatus performs the in-place interim transition (failed->retrying).
	UpdateStatus(ctx context.Context, id int64, status Status) error

	Query(ctx context.Context, f HistoryFilter) ([]HistoryRecord, error)
	CountSuccessToday(ctx context.Context, now time.Time) (int, error)
	IDsProcessedToday(ctx context.Context, now time.Time) ([]int64, error)
	FailedSince(ctx context.Context, since time.Time) ([]HistoryRecord, error)
}

// HistoryFilter narrows history queries for the operational surface.
type HistoryFilter struct {
	Status Status // empty means any
	Since  time.Time
	Until  time.Time
	ItemID int64 // 0 means any
	Limit  int
}

// LockStore provides the single named execution mutex with test-and-set
// acquire semantics and TTL-based staleness reclaim.
type LockStore interface {
	// TryAcquire is a single non-blocking attempt. A held lock older than ttl
	// is stale and may be taken over.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
	Status(ctx context.Context, name string) (LockStatus, error)
}

// CounterStore is a keyed counter with per-key TTL (retry budgets).
type CounterStore interface {
	// Incr bumps the counter and returns the new value. The ttl applies from
	// the first increment; expired counters read as zero.
	Incr(ctx context.Context, key string, ttl time.Duration) (int, error)
	Get(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}

// SettingsSource yields a fresh read-only settings snapshot. The engine reads
// one snapshot per batch so a run is internally consistent.
type SettingsSource interface {
	Snapshot(ctx context.Context) (Settings, error)
}
