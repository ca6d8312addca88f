package config

import (
	"republisher/internal/republish"
)

// Config is the daemon configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// The republish block seeds the versioned settings blob on first run only;
// after that, the blob in storage is authoritative and is edited via the
// admin API, not the file.
type Config struct {
	Logging   LoggingConfig       `json:"logging"`
	Storage   StorageConfig       `json:"storage"`
	Trigger   TriggerConfig       `json:"trigger"`
	API       *APIConfig          `json:"api,omitempty"`
	Notifier  *NotifierConfig     `json:"notifier,omitempty"`
	Republish *republish.Settings `json:"republish,omitempty"`

	// Identity seeds the deterministic calendar preview. Defaults to the
	// hostname when empty.
	Identity string `json:"identity,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the SQLite persistence layer.
//
// Example:
//
//	"storage": { "path": "./republisher.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// TriggerConfig controls the time-based trigger service.
//
// Spec accepts robfig/cron syntax: 5-field cron expressions, descriptors
// ("@daily"), or intervals ("@every 30m").
type TriggerConfig struct {
	Enabled  bool   `json:"enabled"`
	Spec     string `json:"spec,omitempty"`     // default: "@every 30m"
	Timezone string `json:"timezone,omitempty"` // IANA TZ, e.g. "Europe/Berlin"

	// RetentionDays bounds history age; the daily purge deletes older rows.
	// 0 keeps the default of 90 days, negative disables purging.
	RetentionDays int `json:"retention_days,omitempty"`
}

// APIConfig controls the operational HTTP API.
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:8080").
//   - If you bind to a non-loopback address, set a token.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// NotifierConfig controls the optional Telegram republish announcements.
type NotifierConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"` // default 1
}
