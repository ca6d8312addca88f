package republish

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"republisher/pkg/logx"
)

// fakeStore implements every engine port in memory.
type fakeStore struct {
	mu sync.Mutex

	posts       map[int64]EligiblePost
	failPublish map[int64]error
	republished map[int64]time.Time

	history     []HistoryRecord
	nextHistID  int64
	panicAppend bool

	locked    bool
	lockSince time.Time
	acquires  int

	counters map[string]int

	settings Settings

	now func() time.Time
}

func newFakeStore(now func() time.Time) *fakeStore {
	return &fakeStore{
		posts:       map[int64]EligiblePost{},
		failPublish: map[int64]error{},
		republished: map[int64]time.Time{},
		counters:    map[string]int{},
		settings:    DefaultSettings(),
		now:         now,
	}
}

func (f *fakeStore) addPost(id int64, typ string, publishedAt time.Time) {
	f.posts[id] = EligiblePost{ID: id, Title: "post", Type: typ, PublishedAt: publishedAt}
}

func (f *fakeStore) matches(p EligiblePost, crit Criteria) bool {
	if crit.ItemID != 0 && p.ID != crit.ItemID {
		return false
	}
	if len(crit.Types) > 0 {
		ok := false
		for _, t := range crit.Types {
			if t == p.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !crit.OlderThan.IsZero() && !p.PublishedAt.Before(crit.OlderThan) {
		return false
	}
	for _, id := range crit.ExcludeIDs {
		if id == p.ID {
			return false
		}
	}
	return true
}

func (f *fakeStore) SelectEligible(_ context.Context, crit Criteria) ([]EligiblePost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []EligiblePost
	for _, p := range f.posts {
		if f.matches(p, crit) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.Before(out[j].PublishedAt) })
	if crit.Limit > 0 && len(out) > crit.Limit {
		out = out[:crit.Limit]
	}
	return out, nil
}

func (f *fakeStore) CountEligible(_ context.Context, crit Criteria) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.posts {
		if f.matches(p, crit) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetPost(_ context.Context, id int64) (EligiblePost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return EligiblePost{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) Republish(_ context.Context, id int64, publishedAt, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failPublish[id]; err != nil {
		return err
	}
	p, ok := f.posts[id]
	if !ok {
		return ErrNotFound
	}
	p.PublishedAt = publishedAt
	f.posts[id] = p
	f.republished[id] = publishedAt
	return nil
}

func (f *fakeStore) Append(_ context.Context, rec HistoryRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicAppend {
		panic("history store exploded")
	}
	f.nextHistID++
	rec.ID = f.nextHistID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = f.now()
	}
	f.history = append(f.history, rec)
	return rec.ID, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id int64, status Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.history {
		if f.history[i].ID == id {
			f.history[i].Status = status
			return nil
		}
	}
	return errors.New("record not found")
}

func (f *fakeStore) Query(_ context.Context, _ HistoryFilter) ([]HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]HistoryRecord, len(f.history))
	copy(out, f.history)
	return out, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (f *fakeStore) CountSuccessToday(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rec := range f.history {
		if rec.Status == StatusSuccess && sameDay(rec.NewAt, now) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) IDsProcessedToday(_ context.Context, now time.Time) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[int64]bool{}
	var out []int64
	for _, rec := range f.history {
		if sameDay(rec.CreatedAt, now) && !seen[rec.ItemID] {
			seen[rec.ItemID] = true
			out = append(out, rec.ItemID)
		}
	}
	return out, nil
}

func (f *fakeStore) FailedSince(_ context.Context, since time.Time) ([]HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []HistoryRecord
	for _, rec := range f.history {
		if rec.Status == StatusFailed && !rec.CreatedAt.Before(since) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) TryAcquire(_ context.Context, _ string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	if f.locked && f.now().Sub(f.lockSince) < ttl {
		return false, nil
	}
	f.locked = true
	f.lockSince = f.now()
	return true, nil
}

func (f *fakeStore) Release(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = false
	return nil
}

func (f *fakeStore) Status(_ context.Context, _ string) (LockStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.locked {
		return LockStatus{}, nil
	}
	return LockStatus{Held: true, Since: f.lockSince, Age: f.now().Sub(f.lockSince)}, nil
}

func (f *fakeStore) Incr(_ context.Context, key string, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[key]++
	return f.counters[key], nil
}

func (f *fakeStore) Get(_ context.Context, key string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[key], nil
}

func (f *fakeStore) Reset(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.counters, key)
	return nil
}

func (f *fakeStore) Snapshot(_ context.Context) (Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings, nil
}

var testNow = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *fakeStore) {
	t.Helper()
	clock := func() time.Time { return testNow }
	f := newFakeStore(clock)
	e := NewEngine(Deps{
		Content:  f,
		History:  f,
		Locks:    f,
		Counters: f,
		Settings: f,
		Log:      logx.Nop(),
		Identity: "test",
		Now:      clock,
	})
	return e, f
}

func TestRunBatchLockHeld(t *testing.T) {
	e, f := newTestEngine(t)
	f.addPost(1, "post", testNow.AddDate(0, -2, 0))
	f.locked = true
	f.lockSince = testNow.Add(-time.Minute)

	res, err := e.RunBatch(context.Background(), TriggerManual)
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
	if res.Success {
		t.Fatal("expected unsuccessful result while lock is held")
	}
	if len(f.republished) != 0 {
		t.Fatalf("blocked batch mutated %d items", len(f.republished))
	}
	if len(f.history) != 0 {
		t.Fatalf("blocked batch wrote %d history records", len(f.history))
	}
}

func TestRunBatchReclaimsStaleLock(t *testing.T) {
	e, f := newTestEngine(t)
	f.addPost(1, "post", testNow.AddDate(0, -2, 0))
	f.settings.QuotaValue = 5
	f.locked = true
	f.lockSince = testNow.Add(-LockTTL - time.Minute)

	res, err := e.RunBatch(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("RunBatch error: %v", err)
	}
	if !res.Success || res.Successful != 1 {
		t.Fatalf("stale lock was not reclaimed: %+v", res)
	}
}

func TestRunBatchPartialFailure(t *testing.T) {
	e, f := newTestEngine(t)
	f.settings.QuotaValue = 10
	f.addPost(1, "post", testNow.AddDate(0, -3, 0))
	f.addPost(2, "post", testNow.AddDate(0, -2, 0))
	f.addPost(3, "post", testNow.AddDate(0, 0, -45))
	f.failPublish[2] = errors.New("db busy")

	res, err := e.RunBatch(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("RunBatch error: %v", err)
	}
	if !res.Success {
		t.Fatalf("partial failure must not fail the batch: %+v", res)
	}
	if res.Total != 3 || res.Successful != 2 || res.Failed != 1 {
		t.Fatalf("got total=%d successful=%d failed=%d, want 3/2/1", res.Total, res.Successful, res.Failed)
	}
	if _, ok := f.republished[2]; ok {
		t.Fatal("failed item must not be mutated")
	}
	if len(f.history) != 3 {
		t.Fatalf("history records = %d, want 3", len(f.history))
	}
	var failed int
	for _, rec := range f.history {
		if rec.Status == StatusFailed {
			failed++
			if rec.ItemID != 2 {
				t.Fatalf("failed record for item %d, want 2", rec.ItemID)
			}
			if rec.ErrorMessage == "" {
				t.Fatal("failed record missing error message")
			}
		}
	}
	if failed != 1 {
		t.Fatalf("failed records = %d, want 1", failed)
	}
}

func TestRunBatchReleasesLock(t *testing.T) {
	e, f := newTestEngine(t)
	f.settings.QuotaValue = 2
	f.addPost(1, "post", testNow.AddDate(0, -2, 0))

	if _, err := e.RunBatch(context.Background(), TriggerManual); err != nil {
		t.Fatalf("RunBatch error: %v", err)
	}
	if f.locked {
		t.Fatal("lock still held after batch")
	}
}

func TestRunBatchNothingToDo(t *testing.T) {
	e, f := newTestEngine(t)
	f.settings.QuotaValue = 5

	res, err := e.RunBatch(context.Background(), TriggerScheduler)
	if err != nil {
		t.Fatalf("RunBatch error: %v", err)
	}
	if !res.Success {
		t.Fatalf("empty selection must be a normal success: %+v", res)
	}
	if res.Message != "no eligible items" {
		t.Fatalf("message = %q", res.Message)
	}
	if res.Total != 0 || len(res.Items) != 0 {
		t.Fatalf("unexpected items in empty batch: %+v", res)
	}
}

func TestRunBatchRespectsWindow(t *testing.T) {
	e, f := newTestEngine(t)
	f.settings.QuotaValue = 10
	f.settings.WindowStartHour = 9
	f.settings.WindowEndHour = 17
	for i := int64(1); i <= 5; i++ {
		f.addPost(i, "post", testNow.AddDate(0, -2, 0).Add(time.Duration(i)*time.Hour))
	}

	res, err := e.RunBatch(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("RunBatch error: %v", err)
	}
	for _, item := range res.Items {
		if h := item.NewAt.Hour(); h < 9 || h > 17 {
			t.Fatalf("new time %v outside window [9,17]", item.NewAt)
		}
		if !sameDay(item.NewAt, testNow) {
			t.Fatalf("new time %v not on run date", item.NewAt)
		}
	}
}

func TestRunBatchMaintainOrder(t *testing.T) {
	e, f := newTestEngine(t)
	f.settings.QuotaValue = 10
	f.settings.MaintainOrder = true
	for i := int64(1); i <= 4; i++ {
		f.addPost(i, "post", testNow.AddDate(0, -2, 0).Add(time.Duration(i)*time.Hour))
	}

	res, err := e.RunBatch(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("RunBatch error: %v", err)
	}
	for i := 1; i < len(res.Items); i++ {
		if res.Items[i].NewAt.Before(res.Items[i-1].NewAt) {
			t.Fatalf("times not ascending with maintain_order: %v then %v",
				res.Items[i-1].NewAt, res.Items[i].NewAt)
		}
		if res.Items[i].ItemID <= res.Items[i-1].ItemID {
			t.Fatalf("oldest-first order broken: item %d before %d",
				res.Items[i-1].ItemID, res.Items[i].ItemID)
		}
	}
}

func TestRunBatchExcludesProcessedToday(t *testing.T) {
	e, f := newTestEngine(t)
	f.settings.QuotaValue = 10
	f.addPost(1, "post", testNow.AddDate(0, -2, 0))
	f.addPost(2, "post", testNow.AddDate(0, 0, -45))
	// Item 1 already failed earlier today; the batch must still skip it.
	if _, err := f.Append(context.Background(), HistoryRecord{ItemID: 1, Status: StatusFailed}); err != nil {
		t.Fatal(err)
	}

	res, err := e.RunBatch(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("RunBatch error: %v", err)
	}
	if res.Total != 1 || res.Items[0].ItemID != 2 {
		t.Fatalf("expected only item 2, got %+v", res.Items)
	}
}

func TestRunBatchResetsRetryCounter(t *testing.T) {
	e, f := newTestEngine(t)
	f.settings.QuotaValue = 2
	f.addPost(1, "post", testNow.AddDate(0, -2, 0))
	f.counters["retry:1"] = 2

	if _, err := e.RunBatch(context.Background(), TriggerManual); err != nil {
		t.Fatalf("RunBatch error: %v", err)
	}
	if n := f.counters["retry:1"]; n != 0 {
		t.Fatalf("retry counter = %d after success, want 0", n)
	}
}

func TestRunBatchPanicReleasesLock(t *testing.T) {
	e, f := newTestEngine(t)
	f.settings.QuotaValue = 5
	f.addPost(1, "post", testNow.AddDate(0, -2, 0))
	f.panicAppend = true

	res, err := e.RunBatch(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("RunBatch error: %v", err)
	}
	if res.Success {
		t.Fatal("crashed batch reported success")
	}
	if !strings.Contains(res.Message, "unexpected error") || !strings.Contains(res.Message, "history store exploded") {
		t.Fatalf("message = %q, want the panic text", res.Message)
	}
	// The lock must not stay held past the crash.
	if f.locked {
		t.Fatal("lock still held after panic")
	}
}

func TestDryRunTouchesNothing(t *testing.T) {
	e, f := newTestEngine(t)
	f.settings.QuotaValue = 5
	f.settings.DryRun = true
	f.addPost(1, "post", testNow.AddDate(0, -2, 0))
	f.addPost(2, "post", testNow.AddDate(0, 0, -45))

	res, err := e.RunBatch(context.Background(), TriggerAPI)
	if err != nil {
		t.Fatalf("RunBatch error: %v", err)
	}
	if !res.DryRun || !res.Success {
		t.Fatalf("unexpected dry-run result: %+v", res)
	}
	if res.Total != 2 {
		t.Fatalf("dry run total = %d, want 2", res.Total)
	}
	if f.acquires != 0 {
		t.Fatal("dry run must not touch the lock")
	}
	if len(f.republished) != 0 || len(f.history) != 0 {
		t.Fatal("dry run must not mutate content or history")
	}
}

func TestDryRunIsRepeatable(t *testing.T) {
	e, f := newTestEngine(t)
	f.settings.QuotaValue = 3
	for i := int64(1); i <= 5; i++ {
		f.addPost(i, "post", testNow.AddDate(0, -2, 0).Add(time.Duration(i)*time.Hour))
	}

	first, err := e.DryRun(context.Background())
	if err != nil {
		t.Fatalf("DryRun error: %v", err)
	}
	second, err := e.DryRun(context.Background())
	if err != nil {
		t.Fatalf("DryRun error: %v", err)
	}
	if first.Total != second.Total {
		t.Fatalf("dry run selection changed: %d then %d", first.Total, second.Total)
	}
	// Unchanged data must yield the same selected set, item for item.
	for i := range first.Items {
		if first.Items[i].ItemID != second.Items[i].ItemID {
			t.Fatalf("selection differs at %d: item %d then %d",
				i, first.Items[i].ItemID, second.Items[i].ItemID)
		}
	}
}

func TestIsEligible(t *testing.T) {
	e, f := newTestEngine(t)
	f.addPost(1, "post", testNow.AddDate(0, -2, 0))
	f.addPost(2, "page", testNow.AddDate(0, -2, 0))
	f.addPost(3, "post", testNow.Add(-time.Hour)) // too young

	for _, tt := range []struct {
		id   int64
		want bool
	}{
		{1, true},
		{2, false},
		{3, false},
		{99, false},
	} {
		got, err := e.IsEligible(context.Background(), tt.id)
		if err != nil {
			t.Fatalf("IsEligible(%d) error: %v", tt.id, err)
		}
		if got != tt.want {
			t.Fatalf("IsEligible(%d) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestPreviewStableAcrossCalls(t *testing.T) {
	e, f := newTestEngine(t)
	f.settings.QuotaValue = 3
	date := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	a, err := e.Preview(context.Background(), date)
	if err != nil {
		t.Fatalf("Preview error: %v", err)
	}
	b, err := e.Preview(context.Background(), date)
	if err != nil {
		t.Fatalf("Preview error: %v", err)
	}
	if len(a) != 3 || len(b) != 3 {
		t.Fatalf("preview slots = %d/%d, want 3", len(a), len(b))
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			t.Fatalf("preview not stable at slot %d: %v vs %v", i, a[i], b[i])
		}
	}
}
