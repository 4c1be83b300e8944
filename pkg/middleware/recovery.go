package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/plaenen/bankledger/pkg/bus"
	"github.com/plaenen/bankledger/pkg/domain"
)

// RecoveryMiddleware recovers from panics in command handlers, turning
// them into an error rather than crashing the process that hosts the bus.
func RecoveryMiddleware(logger *slog.Logger) bus.Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next bus.Handler) bus.Handler {
		return bus.HandlerFunc(func(ctx context.Context, cmd *bus.Envelope) (events []*domain.Event, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "command handler panicked",
						slog.String("command_id", cmd.Command.ID()),
						slog.String("command_type", cmd.Command.CommandType()),
						slog.Any("panic", r),
						slog.String("stack_trace", string(debug.Stack())),
					)
					err = fmt.Errorf("command handler panicked: %v", r)
					events = nil
				}
			}()

			return next.Handle(ctx, cmd)
		})
	}
}
