// Package notifier announces republish outcomes to a Telegram chat.
//
// It implements republish.Observer, so it plugs into the engine's hook
// registry like any other observer. Delivery is best-effort: messages are
// queued on a bounded channel (drop-on-full, never blocking a batch) and
// sent by a single worker under a rate limiter.
package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"republisher/internal/republish"
	"republisher/pkg/logx"
)

type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	RatePerSec int
}

type Service struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	limiter *rate.Limiter
	queue   chan string

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the service. With Enabled false (or an empty token) it stays a
// no-op observer, so callers can register it unconditionally.
func New(cfg Config, log logx.Logger) (*Service, error) {
	s := &Service{
		cfg:   cfg,
		log:   log,
		queue: make(chan string, 64),
	}
	if !cfg.Enabled || cfg.Token == "" {
		return s, nil
	}

	// Offline skips the getMe call, so construction cannot fail on a
	// transient Telegram outage; send errors surface in the worker instead.
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	s.bot = bot

	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	return s, nil
}

func (s *Service) Start(ctx context.Context) {
	if s.bot == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker(wctx)
	}()
}

func (s *Service) Stop(_ context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			if _, err := s.bot.Send(tele.ChatID(s.cfg.ChatID), msg); err != nil {
				s.log.Warn("telegram send failed", logx.Err(err))
			}
		}
	}
}

// enqueue never blocks core execution; on a full queue the message is dropped.
func (s *Service) enqueue(msg string) {
	if s.bot == nil {
		return
	}
	select {
	case s.queue <- msg:
	default:
		s.log.Debug("notifier queue full, dropping message")
	}
}

// ---- republish.Observer ----

func (s *Service) BeforeRepublish(context.Context, republish.EligiblePost) error { return nil }

func (s *Service) OnRepublishSuccess(_ context.Context, itemID int64, oldAt, newAt time.Time) error {
	s.enqueue(fmt.Sprintf("♻️ Item %d republished: %s → %s",
		itemID, oldAt.Format("2006-01-02 15:04"), newAt.Format("2006-01-02 15:04")))
	return nil
}

func (s *Service) OnRepublishFailure(_ context.Context, itemID int64, err error) error {
	s.enqueue(fmt.Sprintf("⚠️ Item %d republish failed: %v", itemID, err))
	return nil
}
