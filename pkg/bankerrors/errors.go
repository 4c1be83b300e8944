// Package bankerrors defines the typed error taxonomy shared by the
// account aggregate, the event store, and the projector. Each kind maps
// to a distinct recovery strategy for callers (see DESIGN.md §4).
package bankerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no further detail.
var (
	// ErrInvalidArgument signals malformed caller input (empty holder
	// name, negative amount, unparseable currency, ...).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState signals a command not allowed in the aggregate's
	// current status, or one that would violate an invariant.
	ErrInvalidState = errors.New("invalid state")

	// ErrCurrencyMismatch signals a Money operation across currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrNotFound signals an aggregate load for an unknown stream.
	ErrNotFound = errors.New("not found")

	// ErrCodecError signals an unknown event type tag or a payload that
	// does not match its schema. Fatal: indicates schema drift.
	ErrCodecError = errors.New("codec error")

	// ErrStorageError signals an underlying store I/O failure. Callers
	// may retry; the projector retries with backoff.
	ErrStorageError = errors.New("storage error")

	// ErrCommandNotFound signals a dispatched command whose type has no
	// registered handler on the bus.
	ErrCommandNotFound = errors.New("command handler not found")

	// ErrInvalidCommand signals a nil command or one missing required
	// envelope metadata.
	ErrInvalidCommand = errors.New("invalid command")
)

// ConcurrencyConflictError is returned when an Append's expected version
// does not match the stream's actual version.
type ConcurrencyConflictError struct {
	StreamID string
	Expected int64
	Actual   int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on stream %s: expected version %d, actual %d",
		e.StreamID, e.Expected, e.Actual)
}

// Is allows errors.Is(err, ErrConcurrencyConflict) to match any
// *ConcurrencyConflictError, regardless of its field values.
func (e *ConcurrencyConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// ErrConcurrencyConflict is the sentinel matched by
// errors.Is(err, ErrConcurrencyConflict) for any *ConcurrencyConflictError.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// InvalidArgument wraps ErrInvalidArgument with a message.
func InvalidArgument(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", msg, ErrInvalidArgument)
}

// InvalidState wraps ErrInvalidState with a message.
func InvalidState(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", msg, ErrInvalidState)
}
