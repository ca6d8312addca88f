package trigger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"republisher/internal/republish"
	"republisher/pkg/logx"
)

const (
	defaultSpec          = "@every 30m"
	defaultRetentionDays = 90
	purgeSpec            = "@daily"
)

// Config controls the trigger service.
type Config struct {
	Enabled       bool
	Spec          string
	Timezone      string // IANA TZ, e.g. "Europe/Berlin"
	RetentionDays int    // negative disables the purge
}

// Runner is the slice of the engine the trigger drives.
type Runner interface {
	RunBatch(ctx context.Context, source republish.TriggerSource) (republish.BatchResult, error)
	RetryFailed(ctx context.Context) (republish.RetryResult, error)
}

// Purger deletes aged history (time-based retention).
type Purger interface {
	PurgeHistory(ctx context.Context, olderThan time.Time) (int64, error)
}

// RunInfo is one completed trigger-driven run, kept in a bounded ring for
// operational visibility.
type RunInfo struct {
	Kind     string        `json:"kind"` // "batch", "retry", "purge"
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Summary  string        `json:"summary,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot is a point-in-time view of the service.
type Snapshot struct {
	Enabled  bool      `json:"enabled"`
	Spec     string    `json:"spec"`
	Timezone string    `json:"timezone"`
	Next     time.Time `json:"next,omitempty"`
	Recent   []RunInfo `json:"recent,omitempty"`
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	runner   Runner
	settings republish.SettingsSource
	purger   Purger

	c         *cron.Cron
	batchID   cron.EntryID
	runCtx    context.Context
	runCancel context.CancelFunc

	// retry timer chain; retryAttempt counts scheduled passes since the last
	// clean batch.
	tmu          sync.Mutex
	retryTimer   *time.Timer
	retryAttempt int

	hmu     sync.Mutex
	history []RunInfo
}

func New(cfg Config, runner Runner, settings republish.SettingsSource, purger Purger, log logx.Logger) *Service {
	return &Service{cfg: cfg, runner: runner, settings: settings, purger: purger, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates config at runtime; it starts, stops, or restarts cron as
// needed, so an enabled=false followed by enabled=true round-trips cleanly.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.c != nil
	s.mu.Unlock()

	if !cfg.Enabled {
		if running {
			s.Stop(ctx)
		}
		return
	}
	if !running {
		s.Start(ctx)
		return
	}
	if strings.TrimSpace(prev.Spec) != strings.TrimSpace(cfg.Spec) ||
		strings.TrimSpace(prev.Timezone) != strings.TrimSpace(cfg.Timezone) {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}

	spec := strings.TrimSpace(s.cfg.Spec)
	if spec == "" {
		spec = defaultSpec
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithLocation(loc))

	id, err := s.c.AddFunc(spec, func() { s.runBatch(s.runCtx) })
	if err != nil {
		s.log.Error("invalid trigger spec, falling back", logx.String("spec", spec), logx.Err(err))
		id, _ = s.c.AddFunc(defaultSpec, func() { s.runBatch(s.runCtx) })
	}
	s.batchID = id

	if s.cfg.RetentionDays >= 0 {
		_, _ = s.c.AddFunc(purgeSpec, func() { s.runPurge(s.runCtx) })
	}

	s.c.Start()
	s.log.Info("trigger started", logx.String("spec", spec), logx.String("tz", loc.String()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	s.tmu.Lock()
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.retryAttempt = 0
	s.tmu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("trigger stopped")
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Spec:     strings.TrimSpace(s.cfg.Spec),
		Timezone: strings.TrimSpace(s.cfg.Timezone),
	}
	if snap.Spec == "" {
		snap.Spec = defaultSpec
	}
	if s.c != nil {
		snap.Next = s.c.Entry(s.batchID).Next
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.Recent = append([]RunInfo(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) record(info RunInfo) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, info)
	if len(s.history) > 50 {
		s.history = s.history[len(s.history)-50:]
	}
}
