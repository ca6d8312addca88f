package republish

import (
	"fmt"
	"time"
)

// Hard limits. These are policy, not configuration.
const (
	// MaxDailyQuota caps how many items may be republished per calendar day
	// regardless of settings.
	MaxDailyQuota = 50

	// MaxRetries bounds retry attempts per item per day.
	MaxRetries = 3

	// LockTTL is the staleness timeout after which a batch lock is presumed
	// abandoned by a crashed process and may be reclaimed.
	LockTTL = 10 * time.Minute

	// LockName is the single named mutex guarding batch execution.
	LockName = "republish:batch"

	// RetryBaseDelay seeds the exponential backoff for scheduling retry passes.
	RetryBaseDelay = 30 * time.Minute

	// CounterTTL expires retry counters so every item starts a new day with a
	// fresh retry budget.
	CounterTTL = 24 * time.Hour
)

type QuotaType string

const (
	QuotaFixed      QuotaType = "fixed"
	QuotaPercentage QuotaType = "percentage"
)

type CategoryMode string

const (
	CategoryNone      CategoryMode = "none"
	CategoryWhitelist CategoryMode = "whitelist"
	CategoryBlacklist CategoryMode = "blacklist"
)

type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusRetrying Status = "retrying"
)

type TriggerSource string

const (
	TriggerScheduler TriggerSource = "scheduler"
	TriggerAPI       TriggerSource = "api"
	TriggerManual    TriggerSource = "manual"
	TriggerCLI       TriggerSource = "cli"
)

// Settings is the versioned republishing configuration blob.
// It is read-only to the core; mutation happens via the admin surface.
type Settings struct {
	EnabledTypes []string `json:"enabled_types"`

	QuotaType  QuotaType `json:"quota_type"`
	QuotaValue int       `json:"quota_value"`

	WindowStartHour int `json:"window_start_hour"`
	WindowEndHour   int `json:"window_end_hour"`

	MinAgeDays    int  `json:"min_age_days"`
	MaintainOrder bool `json:"maintain_order"`

	CategoryMode CategoryMode `json:"category_mode"`
	CategoryIDs  []int64      `json:"category_ids,omitempty"`

	CronEnabled bool `json:"cron_enabled"`
	DryRun      bool `json:"dry_run"`
	Debug       bool `json:"debug"`
}

// DefaultSettings mirrors a fresh install: posts only, one item per day,
// business-hours window, month-old content.
func DefaultSettings() Settings {
	return Settings{
		EnabledTypes:    []string{"post"},
		QuotaType:       QuotaFixed,
		QuotaValue:      1,
		WindowStartHour: 9,
		WindowEndHour:   17,
		MinAgeDays:      30,
		MaintainOrder:   true,
		CategoryMode:    CategoryNone,
		CronEnabled:     true,
	}
}

// Validate rejects out-of-range values at load time rather than deep in the
// pipeline. The MaxDailyQuota clamp is intentionally NOT validation: it is a
// documented runtime policy applied by the quota calculator.
func (s Settings) Validate() error {
	switch s.QuotaType {
	case QuotaFixed, QuotaPercentage:
	default:
		return fmt.Errorf("invalid quota_type %q", s.QuotaType)
	}
	if s.QuotaValue < 0 {
		return fmt.Errorf("quota_value must be >= 0, got %d", s.QuotaValue)
	}
	if s.WindowStartHour < 0 || s.WindowStartHour > 23 {
		return fmt.Errorf("window_start_hour out of range [0,23]: %d", s.WindowStartHour)
	}
	if s.WindowEndHour < 0 || s.WindowEndHour > 23 {
		return fmt.Errorf("window_end_hour out of range [0,23]: %d", s.WindowEndHour)
	}
	if s.MinAgeDays < 0 {
		return fmt.Errorf("min_age_days must be >= 0, got %d", s.MinAgeDays)
	}
	switch s.CategoryMode {
	case CategoryNone, CategoryWhitelist, CategoryBlacklist:
	default:
		return fmt.Errorf("invalid category_mode %q", s.CategoryMode)
	}
	return nil
}

// Window returns the effective [start, end] hour pair. An inverted or empty
// range is fixed up to a one hour window (clamped to 23) so a misconfigured
// range still yields a usable window.
func (s Settings) Window() (start, end int) {
	start, end = s.WindowStartHour, s.WindowEndHour
	if end <= start {
		end = start + 1
		if end > 23 {
			end = 23
		}
	}
	return start, end
}

// EligiblePost is an ephemeral query result; it is recomputed every run and
// never persisted.
type EligiblePost struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Type        string    `json:"type"`
	PublishedAt time.Time `json:"published_at"`
}

// HistoryRecord is one republish attempt. Exactly one record is created per
// attempt; only the interim failed->retrying transition updates a record in
// place, final outcomes are appended as new records.
type HistoryRecord struct {
	ID            int64         `json:"id"`
	ItemID        int64         `json:"item_id"`
	ItemType      string        `json:"item_type"`
	OriginalAt    time.Time     `json:"original_at"`
	NewAt         time.Time     `json:"new_at"`
	Status        Status        `json:"status"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	ExecutionSecs float64       `json:"execution_seconds,omitempty"`
	TriggeredBy   TriggerSource `json:"triggered_by"`
	CreatedAt     time.Time     `json:"created_at"`
}

// ItemResult is the per-item breakdown inside a batch or retry result.
type ItemResult struct {
	ItemID int64     `json:"item_id"`
	Title  string    `json:"title,omitempty"`
	OldAt  time.Time `json:"old_at"`
	NewAt  time.Time `json:"new_at,omitempty"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
}

// BatchResult is the outcome of one execution engine run.
type BatchResult struct {
	Success    bool          `json:"success"`
	DryRun     bool          `json:"dry_run,omitempty"`
	Message    string        `json:"message"`
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Items      []ItemResult  `json:"items,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// RetryResult is the outcome of one retry pass.
type RetryResult struct {
	Retried int          `json:"retried"`
	Skipped int          `json:"skipped"`
	Items   []ItemResult `json:"items,omitempty"`
}

// LockStatus is the operational view of the execution lock.
type LockStatus struct {
	Held  bool          `json:"held"`
	Since time.Time     `json:"since,omitempty"`
	Age   time.Duration `json:"age,omitempty"`
}

// Criteria is the storage-level eligibility predicate shared by Select,
// CountEligible and IsEligible so all three apply identical rules.
type Criteria struct {
	Types        []string
	OlderThan    time.Time
	ExcludeIDs   []int64
	CategoryMode CategoryMode
	CategoryIDs  []int64
	ItemID       int64 // non-zero narrows to one item (IsEligible)
	Limit        int   // 0 means no limit (count-only paths)
}
