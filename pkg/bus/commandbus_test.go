package bus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/plaenen/bankledger/pkg/bankerrors"
	"github.com/plaenen/bankledger/pkg/bus"
	"github.com/plaenen/bankledger/pkg/domain"
)

type testCommand struct {
	commandID, aggregateID, commandType string
}

func (c testCommand) ID() string          { return c.commandID }
func (c testCommand) AggregateID() string { return c.aggregateID }
func (c testCommand) CommandType() string { return c.commandType }

func TestCommandBusRegisterAndSend(t *testing.T) {
	b := bus.NewCommandBus()
	executed := false

	b.Register("test.Command", bus.HandlerFunc(
		func(ctx context.Context, cmd *bus.Envelope) ([]*domain.Event, error) {
			executed = true
			return []*domain.Event{{ID: "event-1", AggregateID: "agg-1", EventType: "test.Created"}}, nil
		},
	))

	events, err := b.Send(context.Background(), &bus.Envelope{
		Command: testCommand{commandID: "cmd-1", aggregateID: "agg-1", commandType: "test.Command"},
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if !executed {
		t.Error("handler was not executed")
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
}

func TestCommandBusCommandNotFound(t *testing.T) {
	b := bus.NewCommandBus()

	_, err := b.Send(context.Background(), &bus.Envelope{
		Command: testCommand{commandID: "cmd-2", aggregateID: "agg-1", commandType: "nonexistent.Command"},
	})
	if !errors.Is(err, bankerrors.ErrCommandNotFound) {
		t.Fatalf("expected ErrCommandNotFound, got %v", err)
	}
}

func TestCommandBusNilCommand(t *testing.T) {
	b := bus.NewCommandBus()

	_, err := b.Send(context.Background(), &bus.Envelope{})
	if !errors.Is(err, bankerrors.ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
}

func TestCommandBusMiddlewareRunsInRegistrationOrder(t *testing.T) {
	b := bus.NewCommandBus()
	var order []int

	b.Use(func(next bus.Handler) bus.Handler {
		return bus.HandlerFunc(func(ctx context.Context, cmd *bus.Envelope) ([]*domain.Event, error) {
			order = append(order, 1)
			events, err := next.Handle(ctx, cmd)
			order = append(order, 4)
			return events, err
		})
	})
	b.Use(func(next bus.Handler) bus.Handler {
		return bus.HandlerFunc(func(ctx context.Context, cmd *bus.Envelope) ([]*domain.Event, error) {
			order = append(order, 2)
			events, err := next.Handle(ctx, cmd)
			order = append(order, 3)
			return events, err
		})
	})
	b.Register("test.OrderCommand", bus.HandlerFunc(
		func(ctx context.Context, cmd *bus.Envelope) ([]*domain.Event, error) {
			return nil, nil
		},
	))

	_, err := b.Send(context.Background(), &bus.Envelope{
		Command: testCommand{commandID: "cmd-3", aggregateID: "agg-1", commandType: "test.OrderCommand"},
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	expected := []int{1, 2, 3, 4}
	if len(order) != len(expected) {
		t.Fatalf("expected %d middleware calls, got %d", len(expected), len(order))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("order[%d] = %d, want %d", i, order[i], v)
		}
	}
}

func TestCommandBusRegisterPanicsOnDuplicate(t *testing.T) {
	b := bus.NewCommandBus()
	b.Register("test.Dup", bus.HandlerFunc(
		func(ctx context.Context, cmd *bus.Envelope) ([]*domain.Event, error) { return nil, nil },
	))

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	b.Register("test.Dup", bus.HandlerFunc(
		func(ctx context.Context, cmd *bus.Envelope) ([]*domain.Event, error) { return nil, nil },
	))
}
