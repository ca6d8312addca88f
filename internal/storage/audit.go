package storage

import (
	"context"
	"time"
)

// AuditEntry records an operator action (manual runs, settings writes).
// Keep it compact and schema-stable.
type AuditEntry struct {
	At     time.Time
	Action string
	Target string
	Detail string
	OK     bool
}

func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, action, target, detail, ok) VALUES(?,?,?,?,?)`,
		e.At.UnixMilli(), e.Action, nullStr(e.Target), nullStr(e.Detail), ok,
	)
	return err
}

// RequestEntry is one HTTP API request, kept for rate/quota bookkeeping.
type RequestEntry struct {
	At     time.Time
	Method string
	Path   string
	Status int
	Took   time.Duration
	Remote string
}

func (s *Store) AppendRequest(ctx context.Context, e RequestEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_log(at, method, path, status, took_ms, remote) VALUES(?,?,?,?,?,?)`,
		e.At.UnixMilli(), e.Method, e.Path, e.Status, e.Took.Milliseconds(), nullStr(e.Remote),
	)
	return err
}
