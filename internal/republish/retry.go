package republish

import (
	"context"
	"fmt"
	"time"

	"republisher/pkg/logx"
)

// RetryFailed reprocesses today's failed items with bounded attempts.
// Retries are quota-exempt: this pass never consults the quota calculator.
//
// Each candidate's counter is checked against MaxRetries before any work; at
// or over the limit the item is skipped without touching its counter. The
// interim failed->retrying transition updates the existing history record in
// place, the final outcome is appended as a new record by the shared
// single-item apply path.
func (e *Engine) RetryFailed(ctx context.Context) (RetryResult, error) {
	s, err := e.settings.Snapshot(ctx)
	if err != nil {
		return RetryResult{}, fmt.Errorf("load settings: %w", err)
	}

	now := e.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	failed, err := e.history.FailedSince(ctx, dayStart)
	if err != nil {
		return RetryResult{}, fmt.Errorf("failed records: %w", err)
	}

	var res RetryResult
	seen := make(map[int64]bool, len(failed))
	startHour, endHour := s.Window()

	for _, rec := range failed {
		if seen[rec.ItemID] {
			continue
		}
		seen[rec.ItemID] = true

		count, err := e.counters.Get(ctx, retryKey(rec.ItemID))
		if err != nil {
			e.log.Warn("retry counter read failed", logx.Int64("item_id", rec.ItemID), logx.Err(err))
			res.Skipped++
			continue
		}
		if count >= MaxRetries {
			e.log.Debug("retry budget exhausted", logx.Int64("item_id", rec.ItemID), logx.Int("attempts", count))
			res.Skipped++
			continue
		}

		if _, err := e.counters.Incr(ctx, retryKey(rec.ItemID), CounterTTL); err != nil {
			e.log.Warn("retry counter incr failed", logx.Int64("item_id", rec.ItemID), logx.Err(err))
			res.Skipped++
			continue
		}
		if err := e.history.UpdateStatus(ctx, rec.ID, StatusRetrying); err != nil {
			e.log.Warn("retrying marker failed", logx.Int64("record_id", rec.ID), logx.Err(err))
		}

		e.rngMu.Lock()
		newAt := RandomWindowTime(e.rng, now, startHour, endHour)
		e.rngMu.Unlock()

		item := e.applyOne(ctx, rec.ItemID, newAt, rec.TriggeredBy)
		res.Retried++
		res.Items = append(res.Items, item)
	}

	e.log.Info("retry pass finished", logx.Int("retried", res.Retried), logx.Int("skipped", res.Skipped))
	return res, nil
}

// RetryDelay is the exponential backoff for scheduling a future retry pass:
// base * 2^(attempt-1). The subsystem itself never sleeps; the trigger layer
// uses this to decide when the next pass runs.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := RetryBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > 24*time.Hour {
			return 24 * time.Hour
		}
	}
	return d
}
