package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"republisher/internal/republish"
	"republisher/pkg/logx"
)

type fakeEngine struct {
	runRes   republish.BatchResult
	runErr   error
	retryRes republish.RetryResult
	lock     republish.LockStatus
	eligible map[int64]bool
	preview  []time.Time

	previewDate time.Time
}

func (f *fakeEngine) RunBatch(_ context.Context, _ republish.TriggerSource) (republish.BatchResult, error) {
	return f.runRes, f.runErr
}

func (f *fakeEngine) DryRun(_ context.Context) (republish.BatchResult, error) {
	res := f.runRes
	res.DryRun = true
	return res, nil
}

func (f *fakeEngine) RetryFailed(_ context.Context) (republish.RetryResult, error) {
	return f.retryRes, nil
}

func (f *fakeEngine) LockState(_ context.Context) (republish.LockStatus, error) {
	return f.lock, nil
}

func (f *fakeEngine) IsEligible(_ context.Context, id int64) (bool, error) {
	return f.eligible[id], nil
}

func (f *fakeEngine) Preview(_ context.Context, date time.Time) ([]time.Time, error) {
	f.previewDate = date
	return f.preview, nil
}

type fakeSettings struct {
	set     republish.Settings
	version int64
}

func (f *fakeSettings) LoadSettings(_ context.Context) (republish.Settings, int64, error) {
	return f.set, f.version, nil
}

func (f *fakeSettings) SaveSettings(_ context.Context, s republish.Settings) (int64, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	f.set = s
	f.version++
	return f.version, nil
}

type fakeHistory struct {
	recs   []republish.HistoryRecord
	filter republish.HistoryFilter
}

func (f *fakeHistory) Query(_ context.Context, flt republish.HistoryFilter) ([]republish.HistoryRecord, error) {
	f.filter = flt
	return f.recs, nil
}

func newTestService(t *testing.T, cfg Config, eng *fakeEngine) (*Service, *fakeSettings, *fakeHistory) {
	t.Helper()
	if eng.eligible == nil {
		eng.eligible = map[int64]bool{}
	}
	set := &fakeSettings{set: republish.DefaultSettings(), version: 1}
	hist := &fakeHistory{}
	svc := New(cfg, Deps{Engine: eng, Settings: set, History: hist}, logx.Nop())
	return svc, set, hist
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	svc, _, _ := newTestService(t, Config{}, &fakeEngine{})
	rec := doRequest(t, svc.router(), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthTokenRequired(t *testing.T) {
	svc, _, _ := newTestService(t, Config{Token: "secret"}, &fakeEngine{})
	h := svc.router()

	rec := doRequest(t, h, http.MethodGet, "/lock", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("without token: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/lock", nil)
	req.Header.Set("Authorization", "Bearer secret")
	out := httptest.NewRecorder()
	h.ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Fatalf("with token: status = %d, want 200", out.Code)
	}

	// Healthz stays open for liveness probes.
	rec = doRequest(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz behind auth: status = %d", rec.Code)
	}
}

func TestHandleRun(t *testing.T) {
	eng := &fakeEngine{runRes: republish.BatchResult{Success: true, Message: "republished 2 of 2 items (0 failed)", Total: 2, Successful: 2}}
	svc, _, _ := newTestService(t, Config{}, eng)

	rec := doRequest(t, svc.router(), http.MethodPost, "/run", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var res republish.BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !res.Success || res.Successful != 2 {
		t.Fatalf("body = %+v", res)
	}
}

func TestHandleRunLockHeldConflicts(t *testing.T) {
	eng := &fakeEngine{
		runRes: republish.BatchResult{Success: false, Message: republish.ErrLockHeld.Error()},
		runErr: republish.ErrLockHeld,
	}
	svc, _, _ := newTestService(t, Config{}, eng)

	rec := doRequest(t, svc.router(), http.MethodPost, "/run", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestHandleLockViews(t *testing.T) {
	since := time.Now().Add(-90 * time.Second)
	eng := &fakeEngine{lock: republish.LockStatus{Held: true, Since: since, Age: 90 * time.Second}}
	svc, _, _ := newTestService(t, Config{}, eng)

	rec := doRequest(t, svc.router(), http.MethodGet, "/lock", "")
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if out["locked"] != true {
		t.Fatalf("locked = %v, want true", out["locked"])
	}
	if out["age_seconds"].(float64) != 90 {
		t.Fatalf("age_seconds = %v, want 90", out["age_seconds"])
	}
}

func TestHandleHistoryValidation(t *testing.T) {
	svc, _, hist := newTestService(t, Config{}, &fakeEngine{})
	h := svc.router()

	if rec := doRequest(t, h, http.MethodGet, "/history?since=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since: status = %d, want 400", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodGet, "/history?limit=0", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: status = %d, want 400", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodGet, "/history?item_id=abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad item_id: status = %d, want 400", rec.Code)
	}

	rec := doRequest(t, h, http.MethodGet, "/history?status=failed&limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if hist.filter.Status != republish.StatusFailed || hist.filter.Limit != 10 {
		t.Fatalf("filter = %+v", hist.filter)
	}
}

func TestHandlePreviewParsesDate(t *testing.T) {
	eng := &fakeEngine{preview: []time.Time{time.Now()}}
	svc, _, _ := newTestService(t, Config{}, eng)

	rec := doRequest(t, svc.router(), http.MethodGet, "/preview?date=2026-04-01", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := eng.previewDate.Format("2006-01-02"); got != "2026-04-01" {
		t.Fatalf("preview date = %s", got)
	}

	if rec := doRequest(t, svc.router(), http.MethodGet, "/preview?date=someday", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date: status = %d, want 400", rec.Code)
	}
}

func TestHandleEligible(t *testing.T) {
	eng := &fakeEngine{eligible: map[int64]bool{42: true}}
	svc, _, _ := newTestService(t, Config{}, eng)
	h := svc.router()

	rec := doRequest(t, h, http.MethodGet, "/eligible/42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if out["eligible"] != true {
		t.Fatalf("eligible = %v, want true", out["eligible"])
	}

	if rec := doRequest(t, h, http.MethodGet, "/eligible/abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: status = %d, want 400", rec.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	svc, set, _ := newTestService(t, Config{}, &fakeEngine{})
	h := svc.router()

	rec := doRequest(t, h, http.MethodGet, "/settings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}

	body := `{"enabled_types":["post"],"quota_type":"fixed","quota_value":3,
		"window_start_hour":8,"window_end_hour":20,"min_age_days":14,
		"maintain_order":true,"category_mode":"none","cron_enabled":true,
		"dry_run":false,"debug":false}`
	rec = doRequest(t, h, http.MethodPut, "/settings", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if set.set.QuotaValue != 3 || set.version != 2 {
		t.Fatalf("settings after put = %+v (version %d)", set.set, set.version)
	}
}

func TestPutSettingsRejectsUnknownAndInvalid(t *testing.T) {
	svc, _, _ := newTestService(t, Config{}, &fakeEngine{})
	h := svc.router()

	if rec := doRequest(t, h, http.MethodPut, "/settings", `{"no_such_field":1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: status = %d, want 400", rec.Code)
	}

	bad := `{"enabled_types":["post"],"quota_type":"dozen","quota_value":1,
		"window_start_hour":9,"window_end_hour":17,"min_age_days":30,
		"maintain_order":true,"category_mode":"none","cron_enabled":true,
		"dry_run":false,"debug":false}`
	if rec := doRequest(t, h, http.MethodPut, "/settings", bad); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid quota_type: status = %d, want 400", rec.Code)
	}
}

func TestTriggerEndpointWithoutService(t *testing.T) {
	svc, _, _ := newTestService(t, Config{}, &fakeEngine{})
	rec := doRequest(t, svc.router(), http.MethodGet, "/trigger", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
