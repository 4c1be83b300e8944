package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/plaenen/bankledger/pkg/bus"
	"github.com/plaenen/bankledger/pkg/domain"
	"github.com/plaenen/bankledger/pkg/validators"
)

// LoggingMiddleware logs command execution with timing information using slog.
func LoggingMiddleware(logger *slog.Logger) bus.Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next bus.Handler) bus.Handler {
		return bus.HandlerFunc(func(ctx context.Context, cmd *bus.Envelope) ([]*domain.Event, error) {
			start := time.Now()

			commandType := cmd.Command.CommandType()
			commandID := cmd.Command.ID()
			maskedAccountID := validators.MaskString(cmd.Command.AggregateID())

			logger.InfoContext(ctx, "executing command",
				slog.String("command_type", commandType),
				slog.String("command_id", commandID),
				slog.String("account_id", maskedAccountID),
				slog.String("principal_id", cmd.Metadata.PrincipalID),
				slog.String("correlation_id", cmd.Metadata.CorrelationID),
			)

			events, err := next.Handle(ctx, cmd)
			duration := time.Since(start)

			if err != nil {
				logger.ErrorContext(ctx, "command execution failed",
					slog.String("command_type", commandType),
					slog.String("command_id", commandID),
					slog.String("account_id", maskedAccountID),
					slog.Int64("duration_ms", duration.Milliseconds()),
					slog.String("error", err.Error()),
				)
				return nil, err
			}

			logger.InfoContext(ctx, "command executed successfully",
				slog.String("command_type", commandType),
				slog.String("command_id", commandID),
				slog.String("account_id", maskedAccountID),
				slog.Int("events_count", len(events)),
				slog.Int64("duration_ms", duration.Milliseconds()),
			)

			return events, nil
		})
	}
}
