// Package app wires configuration, storage, the republish core, and the
// surrounding services into one runnable daemon.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"republisher/internal/api"
	"republisher/internal/config"
	"republisher/internal/notifier"
	"republisher/internal/republish"
	"republisher/internal/storage"
	"republisher/internal/trigger"
	"republisher/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store  *storage.Store
	engine *republish.Engine
	trig   *trigger.Service
	api    *api.Service
	notif  *notifier.Service

	mu       sync.Mutex
	cfgCh    chan *config.Config
	stopOnce sync.Once
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(logxConfig(cfg.Logging))
	mgr.SetLogger(log.With(logx.String("component", "config")))
	mgr.SetValidator(func(_ context.Context, c *config.Config) error { return validate(c) })

	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = "./republisher.db"
	}
	store, err := storage.Open(storage.Config{Path: path, BusyTimeout: busy}, log.With(logx.String("component", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	// The config file seeds the settings blob on first run only; after that
	// the blob in storage is authoritative and edited via the admin API.
	if _, version, err := store.LoadSettings(context.Background()); err == nil && version == 0 {
		seed := republish.DefaultSettings()
		if cfg.Republish != nil {
			seed = *cfg.Republish
		}
		if _, err := store.SaveSettings(context.Background(), seed); err != nil {
			log.Warn("settings seed failed", logx.Err(err))
		}
	}

	identity := strings.TrimSpace(cfg.Identity)
	if identity == "" {
		if host, err := os.Hostname(); err == nil {
			identity = host
		}
	}

	hooks := republish.NewHooks(log.With(logx.String("component", "hooks")))

	notif, err := notifier.New(notifierConfig(cfg.Notifier), log.With(logx.String("component", "notifier")))
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("notifier: %w", err)
	}
	hooks.Register(notif)

	engine := republish.NewEngine(republish.Deps{
		Content:  store,
		History:  store,
		Locks:    store,
		Counters: store,
		Settings: store,
		Hooks:    hooks,
		Log:      log.With(logx.String("component", "engine")),
		Identity: identity,
	})

	trig := trigger.New(triggerConfig(cfg.Trigger), engine, store, store, log.With(logx.String("component", "trigger")))

	apiSvc := api.New(apiConfig(cfg.API), api.Deps{
		Engine:   engine,
		Settings: store,
		History:  store,
		Books:    store,
		Trigger:  trig,
	}, log.With(logx.String("component", "api")))

	return &App{
		cfgMgr: mgr,
		logSvc: logSvc,
		log:    log,
		store:  store,
		engine: engine,
		trig:   trig,
		api:    apiSvc,
		notif:  notif,
	}, nil
}

// Engine exposes the execution engine for one-shot CLI commands.
func (a *App) Engine() *republish.Engine { return a.engine }

func (a *App) Start(ctx context.Context) error {
	a.notif.Start(ctx)
	a.trig.Start(ctx)
	a.api.Start(ctx)

	a.mu.Lock()
	a.cfgCh = a.cfgMgr.Subscribe(4)
	ch := a.cfgCh
	a.mu.Unlock()

	go func() {
		if err := a.cfgMgr.Watch(ctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-ch:
				if !ok || cfg == nil {
					return
				}
				a.apply(ctx, cfg)
			}
		}
	}()

	a.log.Info("republisher started")
	return nil
}

func (a *App) apply(ctx context.Context, cfg *config.Config) {
	a.logSvc.Apply(logxConfig(cfg.Logging))
	a.trig.Apply(ctx, triggerConfig(cfg.Trigger))
	a.api.Reconfigure(ctx, apiConfig(cfg.API))
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.api.Stop(ctx)
		a.trig.Stop(ctx)
		a.notif.Stop(ctx)

		a.mu.Lock()
		ch := a.cfgCh
		a.cfgCh = nil
		a.mu.Unlock()
		if ch != nil {
			a.cfgMgr.Unsubscribe(ch)
		}

		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.log.Info("republisher stopped")
		_ = a.logSvc.Close()
	})
	return nil
}

func validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if cfg.API != nil {
		for _, f := range []struct{ path, raw string }{
			{"api.read_timeout", cfg.API.ReadTimeout},
			{"api.write_timeout", cfg.API.WriteTimeout},
			{"api.idle_timeout", cfg.API.IdleTimeout},
		} {
			if _, err := config.ParseDurationField(f.path, f.raw); err != nil {
				return err
			}
		}
	}
	if cfg.Republish != nil {
		if err := cfg.Republish.Validate(); err != nil {
			return fmt.Errorf("republish: %w", err)
		}
	}
	if cfg.Notifier != nil && cfg.Notifier.Enabled {
		if strings.TrimSpace(cfg.Notifier.Token) == "" {
			return fmt.Errorf("notifier.token is required when notifier is enabled")
		}
		if cfg.Notifier.ChatID == 0 {
			return fmt.Errorf("notifier.chat_id is required when notifier is enabled")
		}
	}
	return nil
}

func logxConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func triggerConfig(c config.TriggerConfig) trigger.Config {
	return trigger.Config{
		Enabled:       c.Enabled,
		Spec:          c.Spec,
		Timezone:      c.Timezone,
		RetentionDays: c.RetentionDays,
	}
}

func apiConfig(c *config.APIConfig) api.Config {
	if c == nil {
		return api.Config{}
	}
	read, _ := config.ParseDurationOrDefault("api.read_timeout", c.ReadTimeout, 10*time.Second)
	write, _ := config.ParseDurationOrDefault("api.write_timeout", c.WriteTimeout, 30*time.Second)
	idle, _ := config.ParseDurationOrDefault("api.idle_timeout", c.IdleTimeout, time.Minute)
	return api.Config{
		Enabled:      c.Enabled,
		Addr:         c.Addr,
		Token:        c.Token,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}
}

func notifierConfig(c *config.NotifierConfig) notifier.Config {
	if c == nil {
		return notifier.Config{}
	}
	return notifier.Config{
		Enabled:    c.Enabled,
		Token:      c.Token,
		ChatID:     c.ChatID,
		RatePerSec: c.RatePerSec,
	}
}
