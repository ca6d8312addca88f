package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"republisher/internal/republish"
)

// LoadSettings returns the current settings blob and its version.
// Returns (defaults, 0, nil) when no blob has been saved yet.
func (s *Store) LoadSettings(ctx context.Context) (republish.Settings, int64, error) {
	var (
		version int64
		blob    string
	)
	err := s.db.QueryRowContext(ctx, `SELECT version, blob FROM settings WHERE id = 1`).Scan(&version, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return republish.DefaultSettings(), 0, nil
	}
	if err != nil {
		return republish.Settings{}, 0, err
	}

	var out republish.Settings
	if err := json.Unmarshal([]byte(blob), &out); err != nil {
		return republish.Settings{}, 0, fmt.Errorf("decode settings blob: %w", err)
	}
	return out, version, nil
}

// SaveSettings validates and persists the blob, bumping its version.
func (s *Store) SaveSettings(ctx context.Context, set republish.Settings) (int64, error) {
	if err := set.Validate(); err != nil {
		return 0, err
	}
	blob, err := json.Marshal(set)
	if err != nil {
		return 0, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings(id, version, blob, updated_at) VALUES(1, 1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			version = settings.version + 1,
			blob = excluded.blob,
			updated_at = excluded.updated_at`,
		string(blob), time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	_, version, err := s.LoadSettings(ctx)
	return version, err
}

// Snapshot satisfies republish.SettingsSource: a fresh read-only view.
func (s *Store) Snapshot(ctx context.Context) (republish.Settings, error) {
	set, _, err := s.LoadSettings(ctx)
	return set, err
}
