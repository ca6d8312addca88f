package republish

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"republisher/pkg/logx"
)

// Engine is the mutex-guarded batch runner.
type Engine struct {
	content  ContentStore
	history  HistoryRepo
	locks    LockStore
	counters CounterStore
	settings SettingsSource
	hooks    *Hooks
	log      logx.Logger

	// identity seeds the deterministic calendar preview.
	identity string

	rngMu sync.Mutex
	rng   *rand.Rand

	now func() time.Time
}

// Deps wires the engine's collaborators. Hooks and Now are optional.
type Deps struct {
	Content  ContentStore
	History  HistoryRepo
	Locks    LockStore
	Counters CounterStore
	Settings SettingsSource
	Hooks    *Hooks
	Log      logx.Logger
	Identity string
	Now      func() time.Time
}

func NewEngine(d Deps) *Engine {
	if d.Hooks == nil {
		d.Hooks = NewHooks(d.Log)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Identity == "" {
		d.Identity = "republisher"
	}
	return &Engine{
		content:  d.Content,
		history:  d.History,
		locks:    d.Locks,
		counters: d.Counters,
		settings: d.Settings,
		hooks:    d.Hooks,
		log:      d.Log,
		identity: d.Identity,
		rng:      rand.New(rand.NewSource(d.Now().UnixNano())),
		now:      d.Now,
	}
}

// RunBatch executes one republish batch. The only non-nil error it returns is
// ErrLockHeld; every other failure mode is encoded in the result so partial
// outcomes are never lost.
func (e *Engine) RunBatch(ctx context.Context, source TriggerSource) (BatchResult, error) {
	start := e.now()

	s, err := e.settings.Snapshot(ctx)
	if err != nil {
		return BatchResult{Success: false, Message: fmt.Sprintf("load settings: %v", err)}, nil
	}

	// Dry-run computes the preview without touching the lock, so it never
	// blocks and is never blocked by a real run.
	if s.DryRun {
		return e.dryRun(ctx, s, start), nil
	}

	ok, err := e.locks.TryAcquire(ctx, LockName, LockTTL)
	if err != nil {
		return BatchResult{Success: false, Message: fmt.Sprintf("acquire lock: %v", err)}, nil
	}
	if !ok {
		e.log.Info("batch skipped, lock held", logx.String("source", string(source)))
		return BatchResult{Success: false, Message: ErrLockHeld.Error()}, ErrLockHeld
	}

	res := e.runLocked(ctx, s, source, start)
	res.Duration = e.now().Sub(start)
	return res, nil
}

// runLocked owns the lock for its whole lifetime. The release is deferred and
// a panic in the loop is converted into a failed result, so a crashed batch
// never leaves the lock held past its TTL.
func (e *Engine) runLocked(ctx context.Context, s Settings, source TriggerSource, start time.Time) (res BatchResult) {
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.locks.Release(rctx, LockName); err != nil {
			e.log.Warn("lock release failed", logx.Err(err))
		}
		if r := recover(); r != nil {
			e.log.Error("panic during batch", logx.Any("panic", r))
			res.Success = false
			res.Message = fmt.Sprintf("unexpected error: %v", r)
		}
	}()

	quota, err := e.RemainingQuota(ctx, s)
	if err != nil {
		return BatchResult{Success: false, Message: fmt.Sprintf("quota: %v", err)}
	}

	posts, err := e.Select(ctx, s, quota)
	if err != nil {
		return BatchResult{Success: false, Message: fmt.Sprintf("selection: %v", err)}
	}
	if len(posts) == 0 {
		// Nothing to do is a normal terminal state, not an error.
		e.log.Debug("no eligible items", logx.Int("quota", quota), logx.String("source", string(source)))
		return BatchResult{Success: true, Message: "no eligible items"}
	}

	startHour, endHour := s.Window()
	e.rngMu.Lock()
	times := GenerateTimes(e.rng, start, len(posts), startHour, endHour, s.MaintainOrder)
	e.rngMu.Unlock()

	res = BatchResult{Total: len(posts)}
	for i, p := range posts {
		item := e.applyOne(ctx, p.ID, times[i], source)
		if item.OK {
			res.Successful++
		} else {
			res.Failed++
		}
		res.Items = append(res.Items, item)
	}

	res.Success = true
	res.Message = fmt.Sprintf("republished %d of %d items (%d failed)", res.Successful, res.Total, res.Failed)
	e.log.Info("batch finished",
		logx.String("source", string(source)),
		logx.Int("total", res.Total),
		logx.Int("successful", res.Successful),
		logx.Int("failed", res.Failed))
	return res
}

// applyOne mutates a single item and records the outcome. Failures are
// isolated: the caller keeps iterating regardless of the result.
func (e *Engine) applyOne(ctx context.Context, id int64, newAt time.Time, source TriggerSource) ItemResult {
	itemStart := e.now()

	post, err := e.content.GetPost(ctx, id)
	if err != nil {
		msg := "not found"
		if !errors.Is(err, ErrNotFound) {
			msg = err.Error()
		}
		e.recordFailure(ctx, HistoryRecord{ItemID: id, Status: StatusFailed, ErrorMessage: msg, TriggeredBy: source}, err)
		return ItemResult{ItemID: id, OK: false, Error: msg}
	}

	e.hooks.beforeRepublish(ctx, post)

	if err := e.content.Republish(ctx, id, newAt, e.now()); err != nil {
		e.recordFailure(ctx, HistoryRecord{
			ItemID:       id,
			ItemType:     post.Type,
			OriginalAt:   post.PublishedAt,
			NewAt:        newAt,
			Status:       StatusFailed,
			ErrorMessage: err.Error(),
			TriggeredBy:  source,
		}, err)
		return ItemResult{ItemID: id, Title: post.Title, OldAt: post.PublishedAt, NewAt: newAt, OK: false, Error: err.Error()}
	}

	rec := HistoryRecord{
		ItemID:        id,
		ItemType:      post.Type,
		OriginalAt:    post.PublishedAt,
		NewAt:         newAt,
		Status:        StatusSuccess,
		ExecutionSecs: e.now().Sub(itemStart).Seconds(),
		TriggeredBy:   source,
	}
	if _, err := e.history.Append(ctx, rec); err != nil {
		e.log.Warn("history append failed", logx.Int64("item_id", id), logx.Err(err))
	}
	if err := e.counters.Reset(ctx, retryKey(id)); err != nil {
		e.log.Warn("retry counter reset failed", logx.Int64("item_id", id), logx.Err(err))
	}

	e.hooks.republished(ctx, id, post.PublishedAt, newAt)
	e.log.Debug("item republished",
		logx.Int64("item_id", id),
		logx.Time("old", post.PublishedAt),
		logx.Time("new", newAt))
	return ItemResult{ItemID: id, Title: post.Title, OldAt: post.PublishedAt, NewAt: newAt, OK: true}
}

func (e *Engine) recordFailure(ctx context.Context, rec HistoryRecord, cause error) {
	if _, err := e.history.Append(ctx, rec); err != nil {
		e.log.Warn("history append failed", logx.Int64("item_id", rec.ItemID), logx.Err(err))
	}
	e.hooks.republishFailed(ctx, rec.ItemID, cause)
	e.log.Warn("item republish failed", logx.Int64("item_id", rec.ItemID), logx.Err(cause))
}

// DryRun computes the same selection + scheduling as a real run with no lock,
// no mutation, and no history writes.
func (e *Engine) DryRun(ctx context.Context) (BatchResult, error) {
	s, err := e.settings.Snapshot(ctx)
	if err != nil {
		return BatchResult{Success: false, Message: fmt.Sprintf("load settings: %v", err)}, nil
	}
	return e.dryRun(ctx, s, e.now()), nil
}

func (e *Engine) dryRun(ctx context.Context, s Settings, start time.Time) BatchResult {
	quota, err := e.RemainingQuota(ctx, s)
	if err != nil {
		return BatchResult{Success: false, DryRun: true, Message: fmt.Sprintf("quota: %v", err)}
	}
	posts, err := e.Select(ctx, s, quota)
	if err != nil {
		return BatchResult{Success: false, DryRun: true, Message: fmt.Sprintf("selection: %v", err)}
	}

	startHour, endHour := s.Window()
	e.rngMu.Lock()
	times := GenerateTimes(e.rng, start, len(posts), startHour, endHour, s.MaintainOrder)
	e.rngMu.Unlock()

	res := BatchResult{Success: true, DryRun: true, Total: len(posts)}
	for i, p := range posts {
		res.Items = append(res.Items, ItemResult{
			ItemID: p.ID,
			Title:  p.Title,
			OldAt:  p.PublishedAt,
			NewAt:  times[i],
			OK:     true,
		})
	}
	res.Message = fmt.Sprintf("dry run: %d items would be republished", res.Total)
	res.Duration = e.now().Sub(start)
	return res
}

// Preview computes the deterministic calendar preview for a date. It is
// informational only; a real run draws fresh random times.
func (e *Engine) Preview(ctx context.Context, date time.Time) ([]time.Time, error) {
	s, err := e.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	slots := s.QuotaValue
	if s.QuotaType == QuotaPercentage {
		crit, err := e.criteria(ctx, s)
		if err != nil {
			return nil, err
		}
		total, err := e.content.CountEligible(ctx, crit)
		if err != nil {
			return nil, err
		}
		slots = ceilDiv(total*s.QuotaValue, 100)
	}
	if slots > MaxDailyQuota {
		slots = MaxDailyQuota
	}
	startHour, endHour := s.Window()
	return PreviewTimes(e.identity, date, slots, startHour, endHour), nil
}

// IsLocked reports whether a batch currently holds the execution lock.
func (e *Engine) IsLocked(ctx context.Context) (bool, error) {
	st, err := e.locks.Status(ctx, LockName)
	if err != nil {
		return false, err
	}
	return st.Held, nil
}

// LockState returns the operational lock view.
func (e *Engine) LockState(ctx context.Context) (LockStatus, error) {
	return e.locks.Status(ctx, LockName)
}

func retryKey(id int64) string {
	return fmt.Sprintf("retry:%d", id)
}
