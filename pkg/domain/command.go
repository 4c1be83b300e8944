package domain

import "time"

// Command represents an intention to change the system state.
type Command interface {
	// ID returns the unique identifier for this command, supplied by
	// the caller for idempotency.
	ID() string

	// AggregateID returns the ID of the aggregate this command targets.
	AggregateID() string

	// CommandType returns the canonical name of this command.
	CommandType() string
}

// CommandMetadata contains contextual information about a command.
type CommandMetadata struct {
	CommandID     string
	CorrelationID string
	PrincipalID   string
	TenantID      string
	Timestamp     time.Time
	Custom        map[string]string
}

// CommandResult represents the result of processing a command.
type CommandResult struct {
	// CommandID is the ID of the command that was processed.
	CommandID string

	// Events are the events produced by the command.
	Events []*Event

	// AlreadyProcessed indicates this was a duplicate command: the
	// events are the ones produced the first time, not newly appended.
	AlreadyProcessed bool

	// ProcessedAt is when the command was originally processed.
	ProcessedAt time.Time
}
