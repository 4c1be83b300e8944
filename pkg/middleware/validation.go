package middleware

import (
	"context"
	"fmt"

	"github.com/plaenen/bankledger/pkg/bankerrors"
	"github.com/plaenen/bankledger/pkg/bus"
	"github.com/plaenen/bankledger/pkg/domain"
)

// MetadataValidationMiddleware rejects commands missing the envelope
// fields every handler in this repo relies on: a command ID (idempotency
// key) and an aggregate ID (which stream to load/append to).
func MetadataValidationMiddleware() bus.Middleware {
	return func(next bus.Handler) bus.Handler {
		return bus.HandlerFunc(func(ctx context.Context, cmd *bus.Envelope) ([]*domain.Event, error) {
			if cmd.Command.ID() == "" {
				return nil, fmt.Errorf("%w: command id is required", bankerrors.ErrInvalidCommand)
			}
			if cmd.Command.AggregateID() == "" {
				return nil, fmt.Errorf("%w: aggregate id is required", bankerrors.ErrInvalidCommand)
			}
			return next.Handle(ctx, cmd)
		})
	}
}
