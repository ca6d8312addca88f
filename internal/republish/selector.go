package republish

import (
	"context"
	"fmt"
)

// criteria builds the shared eligibility predicate from a settings snapshot.
// The exclude set is today's already-processed items, so selection is
// idempotent within a calendar day.
func (e *Engine) criteria(ctx context.Context, s Settings) (Criteria, error) {
	now := e.now()
	excluded, err := e.history.IDsProcessedToday(ctx, now)
	if err != nil {
		return Criteria{}, fmt.Errorf("processed-today ids: %w", err)
	}
	return Criteria{
		Types:        s.EnabledTypes,
		OlderThan:    now.AddDate(0, 0, -s.MinAgeDays),
		ExcludeIDs:   excluded,
		CategoryMode: s.CategoryMode,
		CategoryIDs:  s.CategoryIDs,
	}, nil
}

// Select returns up to limit eligible items. The selected SET is always the
// oldest-first truncation; when maintain_order is off the returned ORDER is
// shuffled so items land at random positions in the window.
func (e *Engine) Select(ctx context.Context, s Settings, limit int) ([]EligiblePost, error) {
	if limit <= 0 || len(s.EnabledTypes) == 0 {
		return nil, nil
	}
	crit, err := e.criteria(ctx, s)
	if err != nil {
		return nil, err
	}
	crit.Limit = limit

	posts, err := e.content.SelectEligible(ctx, crit)
	if err != nil {
		return nil, fmt.Errorf("select eligible: %w", err)
	}

	if !s.MaintainOrder && len(posts) > 1 {
		e.rngMu.Lock()
		e.rng.Shuffle(len(posts), func(i, j int) {
			posts[i], posts[j] = posts[j], posts[i]
		})
		e.rngMu.Unlock()
	}
	return posts, nil
}

// IsEligible re-evaluates the full selection predicate for a single item,
// including the already-processed-today exclusion.
func (e *Engine) IsEligible(ctx context.Context, id int64) (bool, error) {
	s, err := e.settings.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	if len(s.EnabledTypes) == 0 {
		return false, nil
	}
	crit, err := e.criteria(ctx, s)
	if err != nil {
		return false, err
	}
	crit.ItemID = id
	crit.Limit = 1

	n, err := e.content.CountEligible(ctx, crit)
	if err != nil {
		return false, fmt.Errorf("eligibility check: %w", err)
	}
	return n > 0, nil
}
