package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"republisher/internal/republish"
	"republisher/internal/storage"
	"republisher/pkg/logx"
)

func (s *Service) handleRun(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Engine.RunBatch(r.Context(), republish.TriggerAPI)
	s.audit(r, "run", "", res.Message, res.Success)
	if errors.Is(err, republish.ErrLockHeld) {
		// Contention is "try later", not "something broke".
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleDryRun(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Engine.DryRun(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleRetry(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Engine.RetryFailed(r.Context())
	s.audit(r, "retry", "", fmt.Sprintf("retried=%d skipped=%d", res.Retried, res.Skipped), err == nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleLock(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Engine.LockState(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := map[string]any{"locked": st.Held}
	if st.Held {
		out["since"] = st.Since
		out["age_seconds"] = int64(st.Age.Seconds())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := republish.HistoryFilter{Limit: 100}

	if v := q.Get("status"); v != "" {
		f.Status = republish.Status(v)
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since date, want YYYY-MM-DD")
			return
		}
		f.Since = t
	}
	if v := q.Get("item_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid item_id")
			return
		}
		f.ItemID = id
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid limit, want 1..1000")
			return
		}
		f.Limit = n
	}

	recs, err := s.deps.History.Query(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs, "count": len(recs)})
}

// handlePreview serves the deterministic calendar preview. The preview is
// informational only: a real run draws fresh random times, and with
// maintain_order off it will not match at all.
func (s *Service) handlePreview(w http.ResponseWriter, r *http.Request) {
	date := time.Now()
	if v := r.URL.Query().Get("date"); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
			return
		}
		date = t
	}
	times, err := s.deps.Engine.Preview(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":  date.Format("2006-01-02"),
		"times": times,
	})
}

func (s *Service) handleEligible(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	ok, err := s.deps.Engine.IsEligible(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "eligible": ok})
}

func (s *Service) handleTrigger(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Trigger == nil {
		writeError(w, http.StatusNotFound, "trigger service not running")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Trigger.Snapshot())
}

func (s *Service) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	set, version, err := s.deps.Settings.LoadSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": version, "settings": set})
}

func (s *Service) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var set republish.Settings
	if err := dec.Decode(&set); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	version, err := s.deps.Settings.SaveSettings(r.Context(), set)
	s.audit(r, "settings.save", "", fmt.Sprintf("version=%d", version), err == nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": version})
}

func (s *Service) audit(r *http.Request, action, target, detail string, ok bool) {
	if s.deps.Books == nil {
		return
	}
	err := s.deps.Books.AppendAudit(r.Context(), storage.AuditEntry{
		Action: action,
		Target: target,
		Detail: detail,
		OK:     ok,
	})
	if err != nil {
		s.log.Debug("audit append failed", logx.Err(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
