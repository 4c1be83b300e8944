// Package bus dispatches commands to their registered handlers through
// an ordered middleware chain. It replaces the teacher's protobuf-coupled
// command bus with one typed against this repository's own domain.Event
// and bankaccount command types.
package bus

import (
	"context"
	"time"

	"github.com/plaenen/bankledger/pkg/domain"
)

// Command is something a caller asks the system to do: open an account,
// deposit money, freeze a stream. Each command targets exactly one
// aggregate and carries a caller-supplied ID for idempotent retries.
type Command interface {
	// ID returns the unique identifier for this command. Must be
	// provided by the client for idempotency.
	ID() string

	// AggregateID returns the ID of the aggregate this command targets.
	AggregateID() string

	// CommandType returns the fully qualified type name of the command,
	// used to look up its registered handler.
	CommandType() string
}

// Metadata carries contextual information about a command alongside the
// command payload itself.
type Metadata struct {
	// CorrelationID traces a chain of related commands and events.
	CorrelationID string

	// PrincipalID identifies who (or what) issued the command.
	PrincipalID string

	// Timestamp is when the command was created.
	Timestamp time.Time

	// Custom allows for application-specific metadata.
	Custom map[string]string
}

// Envelope wraps a command with its metadata.
type Envelope struct {
	Command  Command
	Metadata Metadata
}

// Handler processes a command and returns the events it produced.
type Handler interface {
	Handle(ctx context.Context, cmd *Envelope) ([]*domain.Event, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, cmd *Envelope) ([]*domain.Event, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, cmd *Envelope) ([]*domain.Event, error) {
	return f(ctx, cmd)
}

// CommandBus routes commands to their handlers through a middleware chain.
type CommandBus interface {
	// Send dispatches cmd to its registered handler. Idempotency, if
	// wanted, is the handler's responsibility (typically via
	// store.Repository.SaveWithCommand), not the bus's.
	Send(ctx context.Context, cmd *Envelope) ([]*domain.Event, error)

	// Register registers a handler for a command type. Panics if a
	// handler is already registered for that type, since that is
	// always a wiring mistake rather than a runtime condition.
	Register(commandType string, handler Handler)

	// Use adds middleware to the command processing pipeline.
	// Middleware runs in registration order: the first added is
	// outermost and sees the command first.
	Use(middleware Middleware)
}

// Middleware wraps a Handler with a cross-cutting concern (logging,
// recovery, tracing, validation, ...).
type Middleware func(Handler) Handler
