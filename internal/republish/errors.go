package republish

import "errors"

var (
	// ErrLockHeld distinguishes "another run in progress" from execution
	// failures so callers know to try later rather than alert.
	ErrLockHeld = errors.New("another run in progress")

	ErrNotFound = errors.New("item not found")
)
