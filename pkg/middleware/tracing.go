package middleware

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/plaenen/bankledger/pkg/bus"
	"github.com/plaenen/bankledger/pkg/domain"
)

// TracingMiddleware adds an OpenTelemetry span around command execution.
// Uses the global tracer provider under tracerName.
func TracingMiddleware(tracerName string) bus.Middleware {
	if tracerName == "" {
		tracerName = "github.com/plaenen/bankledger"
	}
	return TracingMiddlewareWithTracer(otel.Tracer(tracerName))
}

// TracingMiddlewareWithTracer is TracingMiddleware against an
// already-constructed tracer, for callers that already hold one (tests,
// a custom TracerProvider).
func TracingMiddlewareWithTracer(tracer trace.Tracer) bus.Middleware {
	return func(next bus.Handler) bus.Handler {
		return bus.HandlerFunc(func(ctx context.Context, cmd *bus.Envelope) ([]*domain.Event, error) {
			commandType := cmd.Command.CommandType()

			spanCtx, span := tracer.Start(ctx, fmt.Sprintf("command.%s", commandType),
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("command.id", cmd.Command.ID()),
					attribute.String("command.type", commandType),
					attribute.String("command.aggregate_id", cmd.Command.AggregateID()),
					attribute.String("command.principal_id", cmd.Metadata.PrincipalID),
					attribute.String("command.correlation_id", cmd.Metadata.CorrelationID),
				),
			)
			defer span.End()

			events, err := next.Handle(spanCtx, cmd)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}

			span.SetAttributes(attribute.Int("events.count", len(events)))
			if len(events) > 0 {
				eventTypes := make([]string, len(events))
				for i, evt := range events {
					eventTypes[i] = evt.EventType
				}
				span.SetAttributes(attribute.StringSlice("events.types", eventTypes))
			}
			span.SetStatus(codes.Ok, "command executed successfully")
			return events, nil
		})
	}
}
