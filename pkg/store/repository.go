package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/plaenen/bankledger/pkg/bankerrors"
	"github.com/plaenen/bankledger/pkg/domain"
)

// Repository provides persistence operations for aggregates.
type Repository[T domain.Aggregate] interface {
	// Load loads an aggregate by ID from the event store.
	Load(id string) (T, error)

	// Save persists an aggregate's uncommitted events to the event store.
	Save(aggregate T) error

	// SaveWithCommand persists events with command-level idempotency.
	SaveWithCommand(aggregate T, commandID string) (*domain.CommandResult, error)

	// Exists checks if an aggregate exists.
	Exists(id string) (bool, error)
}

// BaseRepository provides a basic implementation of Repository.
type BaseRepository[T domain.Aggregate] struct {
	eventStore    EventStore
	aggregateType string
	factory       func(id string) T
	applier       func(aggregate T, event *domain.Event) error
}

// NewRepository creates a new repository for the given aggregate type.
// factory creates a new, empty aggregate instance ready to fold history.
// applier applies a single historical event to the aggregate.
func NewRepository[T domain.Aggregate](
	eventStore EventStore,
	aggregateType string,
	factory func(id string) T,
	applier func(aggregate T, event *domain.Event) error,
) *BaseRepository[T] {
	return &BaseRepository[T]{
		eventStore:    eventStore,
		aggregateType: aggregateType,
		factory:       factory,
		applier:       applier,
	}
}

// Load loads an aggregate by ID from the event store.
func (r *BaseRepository[T]) Load(id string) (T, error) {
	var zero T

	events, err := r.eventStore.LoadEvents(id, -1)
	if err != nil {
		return zero, fmt.Errorf("load events: %w", err)
	}

	if len(events) == 0 {
		return zero, domain.ErrAggregateNotFound
	}

	aggregate := r.factory(id)

	for _, event := range events {
		if err := r.applier(aggregate, event); err != nil {
			return zero, fmt.Errorf("apply event: %w", err)
		}
	}

	if err := aggregate.LoadFromHistory(events); err != nil {
		return zero, fmt.Errorf("load history: %w", err)
	}

	return aggregate, nil
}

// Save persists an aggregate's uncommitted events.
func (r *BaseRepository[T]) Save(aggregate T) error {
	uncommittedEvents := aggregate.UncommittedEvents()
	if len(uncommittedEvents) == 0 {
		return nil
	}

	expectedVersion := aggregate.Version() - int64(len(uncommittedEvents))

	if err := r.eventStore.AppendEvents(aggregate.ID(), expectedVersion, uncommittedEvents); err != nil {
		return fmt.Errorf("append events: %w", err)
	}

	aggregate.ClearUncommittedEvents()

	return nil
}

// SaveWithCommand persists events with command-level idempotency. Returns
// a CommandResult indicating whether the command had already been
// processed.
func (r *BaseRepository[T]) SaveWithCommand(aggregate T, commandID string) (*domain.CommandResult, error) {
	uncommittedEvents := aggregate.UncommittedEvents()
	if len(uncommittedEvents) == 0 {
		return &domain.CommandResult{CommandID: commandID}, nil
	}

	expectedVersion := aggregate.Version() - int64(len(uncommittedEvents))

	result, err := r.eventStore.AppendEventsIdempotent(
		aggregate.ID(),
		expectedVersion,
		uncommittedEvents,
		commandID,
		domain.DefaultCommandTTL,
	)
	if err != nil {
		return nil, fmt.Errorf("append events: %w", err)
	}

	if !result.AlreadyProcessed {
		aggregate.ClearUncommittedEvents()
	}

	return result, nil
}

// Exists checks if an aggregate exists in the event store.
func (r *BaseRepository[T]) Exists(id string) (bool, error) {
	version, err := r.eventStore.GetAggregateVersion(id)
	if err != nil {
		return false, fmt.Errorf("check aggregate existence: %w", err)
	}
	return version >= 0, nil
}

// RetryOnConflict loads a fresh aggregate and invokes fn, retrying with a
// short backoff if fn fails due to an optimistic concurrency conflict.
func (r *BaseRepository[T]) RetryOnConflict(id string, maxRetries int, fn func(T) error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		agg, err := r.Load(id)
		if err != nil {
			return err
		}

		err = fn(agg)
		if err == nil {
			return nil
		}

		if !isConcurrencyConflict(err) {
			return err
		}

		if attempt == maxRetries {
			return err
		}

		backoff := time.Duration(10*(1<<uint(attempt))) * time.Millisecond
		time.Sleep(backoff)
	}
	return fmt.Errorf("max retries exceeded")
}

// isConcurrencyConflict reports whether err is (or wraps) a
// bankerrors.ConcurrencyConflictError.
func isConcurrencyConflict(err error) bool {
	var conflict *bankerrors.ConcurrencyConflictError
	return errors.As(err, &conflict)
}
