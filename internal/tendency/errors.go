package tendency

import (
	"errors"
	"fmt"

	"github.com/muffinbran/pitch-tendency-analyzer/internal/db"
)

var (
	// ErrConflict matches any ConflictError via errors.Is.
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned when deleting a session that is not stored.
	ErrNotFound = errors.New("not found")
)

// ValidationError reports a malformed or incomplete submission. It is returned
// before the store is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid session: " + e.Reason
	}
	return fmt.Sprintf("invalid session: %s: %s", e.Field, e.Reason)
}

// ConflictError reports a resubmission of an already stored session id.
// Callers may treat it as idempotent success.
type ConflictError struct {
	SessionID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session %q already submitted", e.SessionID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func (e *ConflictError) Unwrap() error { return db.ErrDuplicateSession }

// StoreError wraps a failure of the underlying store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }
