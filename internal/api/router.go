package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"republisher/internal/republish"
	"republisher/internal/storage"
	"republisher/internal/trigger"
	"republisher/pkg/logx"
)

// Engine is the slice of the execution engine the API exposes.
type Engine interface {
	RunBatch(ctx context.Context, source republish.TriggerSource) (republish.BatchResult, error)
	DryRun(ctx context.Context) (republish.BatchResult, error)
	RetryFailed(ctx context.Context) (republish.RetryResult, error)
	LockState(ctx context.Context) (republish.LockStatus, error)
	IsEligible(ctx context.Context, id int64) (bool, error)
	Preview(ctx context.Context, date time.Time) ([]time.Time, error)
}

// SettingsAdmin reads and writes the versioned settings blob.
type SettingsAdmin interface {
	LoadSettings(ctx context.Context) (republish.Settings, int64, error)
	SaveSettings(ctx context.Context, s republish.Settings) (int64, error)
}

// HistoryQuerier serves history reads.
type HistoryQuerier interface {
	Query(ctx context.Context, f republish.HistoryFilter) ([]republish.HistoryRecord, error)
}

// Bookkeeper appends audit and request-log entries.
type Bookkeeper interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
	AppendRequest(ctx context.Context, e storage.RequestEntry) error
}

// TriggerInfo exposes the trigger service state.
type TriggerInfo interface {
	Snapshot() trigger.Snapshot
}

// Deps wires the API's collaborators. Trigger and Books are optional.
type Deps struct {
	Engine   Engine
	Settings SettingsAdmin
	History  HistoryQuerier
	Books    Bookkeeper
	Trigger  TriggerInfo
}

func (s *Service) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.auth)

		r.Post("/run", s.handleRun)
		r.Post("/dry-run", s.handleDryRun)
		r.Post("/retry", s.handleRetry)

		r.Get("/lock", s.handleLock)
		r.Get("/history", s.handleHistory)
		r.Get("/preview", s.handlePreview)
		r.Get("/eligible/{id}", s.handleEligible)
		r.Get("/trigger", s.handleTrigger)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
	})

	return r
}

// auth enforces the optional bearer token.
func (s *Service) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		token := s.cfg.Token
		s.mu.Unlock()
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLog appends every request to the request log (best-effort).
func (s *Service) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if s.deps.Books == nil {
			return
		}
		entry := storage.RequestEntry{
			At:     start,
			Method: r.Method,
			Path:   r.URL.Path,
			Status: ww.Status(),
			Took:   time.Since(start),
			Remote: r.RemoteAddr,
		}
		if err := s.deps.Books.AppendRequest(r.Context(), entry); err != nil {
			s.log.Debug("request log append failed", logx.Err(err))
		}
	})
}
