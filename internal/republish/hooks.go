package republish

import (
	"context"
	"fmt"
	"sync"
	"time"

	"republisher/pkg/logx"
)

// Observer receives republish lifecycle events. Implementations are
// registered explicitly at startup and must tolerate concurrent batches not
// existing: calls are strictly sequential within one run.
//
// Observers are best-effort: returned errors are logged and never affect the
// batch outcome.
type Observer interface {
	BeforeRepublish(ctx context.Context, post EligiblePost) error
	OnRepublishSuccess(ctx context.Context, itemID int64, oldAt, newAt time.Time) error
	OnRepublishFailure(ctx context.Context, itemID int64, err error) error
}

// CacheInvalidator is the cache invalidation port. Plugin-specific cache
// integrations live behind adapters implementing this single method.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, itemID int64) error
}

// Hooks fans lifecycle events out to registered observers and invalidators.
// The zero value is usable and dispatches to nobody.
type Hooks struct {
	mu           sync.RWMutex
	observers    []Observer
	invalidators []CacheInvalidator
	log          logx.Logger
}

func NewHooks(log logx.Logger) *Hooks {
	return &Hooks{log: log}
}

func (h *Hooks) Register(o Observer) {
	if o == nil {
		return
	}
	h.mu.Lock()
	h.observers = append(h.observers, o)
	h.mu.Unlock()
}

func (h *Hooks) RegisterInvalidator(ci CacheInvalidator) {
	if ci == nil {
		return
	}
	h.mu.Lock()
	h.invalidators = append(h.invalidators, ci)
	h.mu.Unlock()
}

func (h *Hooks) snapshot() ([]Observer, []CacheInvalidator) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.observers, h.invalidators
}

func (h *Hooks) beforeRepublish(ctx context.Context, post EligiblePost) {
	obs, _ := h.snapshot()
	for _, o := range obs {
		h.guard("before_republish", func() error { return o.BeforeRepublish(ctx, post) })
	}
}

func (h *Hooks) republished(ctx context.Context, itemID int64, oldAt, newAt time.Time) {
	obs, inv := h.snapshot()
	for _, ci := range inv {
		h.guard("cache_invalidate", func() error { return ci.Invalidate(ctx, itemID) })
	}
	for _, o := range obs {
		h.guard("republished", func() error { return o.OnRepublishSuccess(ctx, itemID, oldAt, newAt) })
	}
}

func (h *Hooks) republishFailed(ctx context.Context, itemID int64, cause error) {
	obs, _ := h.snapshot()
	for _, o := range obs {
		h.guard("republish_failed", func() error { return o.OnRepublishFailure(ctx, itemID, cause) })
	}
}

// guard keeps hook failures (including panics) away from the batch.
func (h *Hooks) guard(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Warn("hook panicked", logx.String("hook", name), logx.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		h.log.Warn("hook failed", logx.String("hook", name), logx.Err(fmt.Errorf("%s: %w", name, err)))
	}
}
