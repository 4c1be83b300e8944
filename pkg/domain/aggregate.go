package domain

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Aggregate defines the interface that all aggregates must implement.
type Aggregate interface {
	// ID returns the unique identifier of the aggregate.
	ID() string

	// Type returns the type name of the aggregate.
	Type() string

	// Version returns the current version of the aggregate. -1 before
	// any event has been applied.
	Version() int64

	// ApplyEvent applies a historical event to the aggregate's state.
	// Called when rebuilding from the event store.
	ApplyEvent(event *Event) error

	// UncommittedEvents returns events applied but not yet persisted.
	UncommittedEvents() []*Event

	// ClearUncommittedEvents clears the uncommitted events after persisting.
	ClearUncommittedEvents()

	// LoadFromHistory advances version bookkeeping from historical events.
	LoadFromHistory(events []*Event) error
}

// AggregateRoot provides base functionality for all aggregates. Embed
// this in concrete aggregate implementations.
type AggregateRoot struct {
	id                string
	aggregateType     string
	version           int64
	uncommittedEvents []*Event
	commandID         string
}

// NewAggregateRoot creates a new aggregate root with the given ID and
// type, at version -1 (no events applied yet).
func NewAggregateRoot(id, aggregateType string) AggregateRoot {
	return AggregateRoot{
		id:                id,
		aggregateType:     aggregateType,
		version:           -1,
		uncommittedEvents: make([]*Event, 0),
	}
}

// ID returns the aggregate's unique identifier.
func (a *AggregateRoot) ID() string {
	return a.id
}

// Type returns the aggregate's type name.
func (a *AggregateRoot) Type() string {
	return a.aggregateType
}

// Version returns the aggregate's current version.
func (a *AggregateRoot) Version() int64 {
	return a.version
}

// UncommittedEvents returns events that haven't been persisted yet.
func (a *AggregateRoot) UncommittedEvents() []*Event {
	return a.uncommittedEvents
}

// ClearUncommittedEvents clears the uncommitted events list.
func (a *AggregateRoot) ClearUncommittedEvents() {
	a.uncommittedEvents = make([]*Event, 0)
}

// SetCommandID sets the command ID for deterministic event ID generation.
// Call before processing a command.
func (a *AggregateRoot) SetCommandID(commandID string) {
	a.commandID = commandID
}

// ApplyChange appends a new event with the given JSON payload, type tag,
// and metadata to the uncommitted buffer, then advances the version.
// The event's Timestamp is occurredOn exactly as passed in.
func (a *AggregateRoot) ApplyChange(data []byte, eventType string, metadata EventMetadata, occurredOn time.Time) *Event {
	var eventID string
	if a.commandID != "" {
		eventID = GenerateDeterministicEventID(a.commandID, a.id, len(a.uncommittedEvents))
	} else {
		eventID = generateRandomID()
	}

	evt := &Event{
		ID:            eventID,
		AggregateID:   a.id,
		AggregateType: a.aggregateType,
		EventType:     eventType,
		Version:       a.version + 1,
		Timestamp:     occurredOn,
		Data:          data,
		Metadata:      metadata,
	}

	a.uncommittedEvents = append(a.uncommittedEvents, evt)
	a.version++

	return evt
}

// LoadFromHistory advances version bookkeeping from historical events.
// Concrete aggregates call this after folding each event's payload into
// their own state; this only tracks the version counter.
func (a *AggregateRoot) LoadFromHistory(events []*Event) error {
	for _, evt := range events {
		if evt.Version <= a.version {
			continue
		}
		a.version = evt.Version
	}
	return nil
}

// TimeFunc is a function that returns the current time. Override for
// deterministic tests.
var TimeFunc = time.Now

// Now returns the current time using the configured TimeFunc.
func Now() time.Time {
	return TimeFunc()
}

func generateRandomID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// GenerateID generates a random unique identifier.
func GenerateID() string {
	return generateRandomID()
}

// TimeFromUnix creates a time.Time from a Unix timestamp.
func TimeFromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
