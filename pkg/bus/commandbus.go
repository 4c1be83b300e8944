package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/plaenen/bankledger/pkg/bankerrors"
	"github.com/plaenen/bankledger/pkg/domain"
)

// DefaultCommandBus is an in-memory CommandBus keyed by command type.
type DefaultCommandBus struct {
	mu         sync.RWMutex
	handlers   map[string]Handler
	middleware []Middleware
}

// NewCommandBus creates an empty command bus ready to register handlers.
func NewCommandBus() *DefaultCommandBus {
	return &DefaultCommandBus{
		handlers: make(map[string]Handler),
	}
}

// Register registers handler for commandType.
func (b *DefaultCommandBus) Register(commandType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[commandType]; exists {
		panic(fmt.Sprintf("bus: handler already registered for command type %q", commandType))
	}
	b.handlers[commandType] = handler
}

// Use appends middleware to the pipeline. The first middleware added is
// the outermost: it sees the command first and the result last.
func (b *DefaultCommandBus) Use(middleware Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, middleware)
}

// Send dispatches cmd through the middleware chain to its handler.
func (b *DefaultCommandBus) Send(ctx context.Context, cmd *Envelope) ([]*domain.Event, error) {
	if cmd == nil || cmd.Command == nil {
		return nil, bankerrors.ErrInvalidCommand
	}

	commandType := cmd.Command.CommandType()
	if commandType == "" {
		return nil, fmt.Errorf("command_type not specified: %w", bankerrors.ErrInvalidCommand)
	}

	b.mu.RLock()
	handler, exists := b.handlers[commandType]
	middleware := make([]Middleware, len(b.middleware))
	copy(middleware, b.middleware)
	b.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%s: %w", commandType, bankerrors.ErrCommandNotFound)
	}

	final := handler
	for i := len(middleware) - 1; i >= 0; i-- {
		final = middleware[i](final)
	}

	events, err := final.Handle(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// RegisteredCommandTypes returns the command types with a registered
// handler, for diagnostics and startup logging.
func (b *DefaultCommandBus) RegisteredCommandTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	types := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		types = append(types, t)
	}
	return types
}

var _ CommandBus = (*DefaultCommandBus)(nil)
