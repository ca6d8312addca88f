package trigger

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"republisher/internal/republish"
	"republisher/pkg/logx"
)

// runBatch fires one scheduled batch. The cron_enabled setting is re-checked
// on every fire so toggling it takes effect without restarting the service.
func (s *Service) runBatch(ctx context.Context) {
	defer s.recoverPanic("batch")
	start := time.Now()

	set, err := s.settings.Snapshot(ctx)
	if err != nil {
		s.log.Warn("settings read failed, skipping run", logx.Err(err))
		return
	}
	if !set.CronEnabled {
		s.log.Debug("cron disabled in settings, skipping run")
		return
	}

	res, err := s.runner.RunBatch(ctx, republish.TriggerScheduler)
	info := RunInfo{Kind: "batch", Started: start, Duration: time.Since(start), Summary: res.Message}
	switch {
	case errors.Is(err, republish.ErrLockHeld):
		// Contention is a clean no-op; the next tick will try again.
		s.log.Debug("scheduled run skipped, lock held")
		info.Summary = "skipped: lock held"
	case !res.Success:
		info.Error = res.Message
	}
	s.record(info)

	// Failures get a follow-up retry pass after backoff. A clean batch
	// resets the chain.
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if res.Failed > 0 {
		s.retryAttempt = 1
		s.scheduleRetryLocked(ctx)
	} else if err == nil {
		s.retryAttempt = 0
	}
}

// scheduleRetryLocked arms the retry timer for the current attempt.
// Caller holds tmu.
func (s *Service) scheduleRetryLocked(ctx context.Context) {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	delay := republish.RetryDelay(s.retryAttempt)
	s.log.Info("retry pass scheduled", logx.Int("attempt", s.retryAttempt), logx.Duration("delay", delay))
	s.retryTimer = time.AfterFunc(delay, func() { s.runRetry(ctx) })
}

func (s *Service) runRetry(ctx context.Context) {
	defer s.recoverPanic("retry")
	if ctx.Err() != nil {
		return
	}
	start := time.Now()

	res, err := s.runner.RetryFailed(ctx)
	info := RunInfo{Kind: "retry", Started: start, Duration: time.Since(start)}
	if err != nil {
		info.Error = err.Error()
		s.record(info)
		return
	}
	failed := 0
	for _, it := range res.Items {
		if !it.OK {
			failed++
		}
	}
	info.Summary = summaryRetry(res, failed)
	s.record(info)

	// Chain another pass while failures remain and the backoff schedule
	// still has attempts left.
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if failed > 0 && s.retryAttempt < republish.MaxRetries {
		s.retryAttempt++
		s.scheduleRetryLocked(ctx)
	} else {
		s.retryAttempt = 0
	}
}

func (s *Service) runPurge(ctx context.Context) {
	defer s.recoverPanic("purge")
	start := time.Now()

	s.mu.Lock()
	days := s.cfg.RetentionDays
	s.mu.Unlock()
	if days == 0 {
		days = defaultRetentionDays
	}
	if days < 0 {
		return
	}

	n, err := s.purger.PurgeHistory(ctx, time.Now().AddDate(0, 0, -days))
	info := RunInfo{Kind: "purge", Started: start, Duration: time.Since(start)}
	if err != nil {
		info.Error = err.Error()
		s.log.Warn("history purge failed", logx.Err(err))
	} else {
		s.log.Info("history purged", logx.Int64("deleted", n), logx.Int("retention_days", days))
	}
	s.record(info)
}

func (s *Service) recoverPanic(kind string) {
	if r := recover(); r != nil {
		s.log.Error("panic in trigger run",
			logx.String("kind", kind),
			logx.Any("panic", r),
			logx.String("stack", string(debug.Stack())))
	}
}

func summaryRetry(res republish.RetryResult, failed int) string {
	if res.Retried == 0 && res.Skipped == 0 {
		return "nothing to retry"
	}
	return fmt.Sprintf("retried %d, skipped %d, still failing %d", res.Retried, res.Skipped, failed)
}
