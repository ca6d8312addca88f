package republish

import (
	"context"
	"fmt"
)

// RemainingQuota converts settings into today's remaining budget:
// fixed count or ceil(percentage of total eligible), clamped to
// [0, MaxDailyQuota], net of items already successfully processed today.
//
// Called fresh on every batch; "already done today" moves as batches run, so
// the result must never be cached.
func (e *Engine) RemainingQuota(ctx context.Context, s Settings) (int, error) {
	base := s.QuotaValue
	if s.QuotaType == QuotaPercentage {
		crit, err := e.criteria(ctx, s)
		if err != nil {
			return 0, err
		}
		total, err := e.content.CountEligible(ctx, crit)
		if err != nil {
			return 0, fmt.Errorf("count eligible: %w", err)
		}
		base = ceilDiv(total*s.QuotaValue, 100)
	}

	if base < 0 {
		base = 0
	}
	if base > MaxDailyQuota {
		base = MaxDailyQuota
	}

	done, err := e.history.CountSuccessToday(ctx, e.now())
	if err != nil {
		return 0, fmt.Errorf("count success today: %w", err)
	}

	remaining := base - done
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
