package store

import (
	"time"

	"github.com/plaenen/bankledger/pkg/domain"
)

// EventStore defines the interface for persisting and retrieving events.
type EventStore interface {
	// AppendEvents appends events to an aggregate's stream atomically.
	// Returns a *bankerrors.ConcurrencyConflictError if expectedVersion
	// doesn't match the stream's current version.
	AppendEvents(aggregateID string, expectedVersion int64, events []*domain.Event) error

	// AppendEventsIdempotent appends events with command-level idempotency.
	// If commandID was already processed, returns the cached result
	// without appending. ttl specifies how long to remember processed
	// commands (see domain.DefaultCommandTTL).
	AppendEventsIdempotent(
		aggregateID string,
		expectedVersion int64,
		events []*domain.Event,
		commandID string,
		ttl time.Duration,
	) (*domain.CommandResult, error)

	// GetCommandResult retrieves the result of a previously processed
	// command. Returns nil if the command hasn't been processed or its
	// TTL has expired.
	GetCommandResult(commandID string) (*domain.CommandResult, error)

	// LoadEvents loads all events for an aggregate with version strictly
	// greater than afterVersion, in ascending version order.
	LoadEvents(aggregateID string, afterVersion int64) ([]*domain.Event, error)

	// LoadSince loads up to limit events across all streams with global
	// position strictly greater than position, in ascending position
	// order. Used by projectors to read the global feed.
	LoadSince(position int64, limit int) ([]*domain.Event, error)

	// GetAggregateVersion returns the current version of an aggregate.
	// Returns -1 if the aggregate doesn't exist.
	GetAggregateVersion(aggregateID string) (int64, error)

	// Close closes the event store and releases resources.
	Close() error
}
