// Package nats implements messaging.EventBus on top of NATS JetStream.
package nats

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/plaenen/bankledger/pkg/domain"
	"github.com/plaenen/bankledger/pkg/messaging"
)

// EventBus is a NATS JetStream implementation of messaging.EventBus.
// Publication uses JetStream's message-ID deduplication window so a
// retried Publish of the same event is a no-op on the broker side, on
// top of the read model's own version-guarded idempotency.
type EventBus struct {
	nc         *nats.Conn
	js         nats.JetStreamContext
	streamName string
	mu         sync.RWMutex
	subs       map[string]*nats.Subscription
}

// Config holds configuration for the NATS event bus.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream name for events.
	StreamName string

	// StreamSubjects are the subjects the stream captures (default: "events.>").
	StreamSubjects []string

	// MaxAge is how long to retain events in the stream.
	MaxAge time.Duration

	// MaxBytes is the maximum bytes the stream can store.
	MaxBytes int64
}

// DefaultConfig returns sensible defaults for the NATS event bus.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		StreamName:     "EVENTS",
		StreamSubjects: []string{"events.>"},
		MaxAge:         7 * 24 * time.Hour,
		MaxBytes:       1024 * 1024 * 1024,
	}
}

// NewEventBus creates a new NATS JetStream-backed event bus.
func NewEventBus(config Config) (*EventBus, error) {
	nc, err := nats.Connect(config.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	bus := &EventBus{
		nc:         nc,
		js:         js,
		streamName: config.StreamName,
		subs:       make(map[string]*nats.Subscription),
	}

	if err := bus.ensureStream(config); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return bus, nil
}

func (b *EventBus) ensureStream(config Config) error {
	streamConfig := &nats.StreamConfig{
		Name:      config.StreamName,
		Subjects:  config.StreamSubjects,
		Retention: nats.InterestPolicy,
		MaxAge:    config.MaxAge,
		MaxBytes:  config.MaxBytes,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}

	stream, err := b.js.StreamInfo(config.StreamName)
	if err != nil {
		_, err = b.js.AddStream(streamConfig)
		if err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		return nil
	}

	if stream.Config.MaxAge != config.MaxAge || stream.Config.MaxBytes != config.MaxBytes {
		if _, err := b.js.UpdateStream(streamConfig); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
	}

	return nil
}

// Publish publishes events to the JetStream stream, one NATS message per
// event, keyed by event ID for broker-side deduplication.
func (b *EventBus) Publish(events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", event.ID, err)
		}

		subject := fmt.Sprintf("events.%s.%s", event.AggregateType, event.EventType)

		if _, err := b.js.Publish(subject, data, nats.MsgId(event.ID)); err != nil {
			return fmt.Errorf("publish event %s: %w", event.ID, err)
		}
	}

	return nil
}

// Subscribe subscribes to events matching filter. The returned
// Subscription must be closed via Unsubscribe to release the durable
// consumer; a new, uniquely-named durable consumer is created on every
// call, so repeated subscriptions do not share delivery state.
func (b *EventBus) Subscribe(filter messaging.EventFilter, handler messaging.EventHandler) (messaging.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subject := buildSubject(filter)
	consumerName := fmt.Sprintf("consumer_%s", domain.GenerateID()[:8])

	sub, err := b.js.QueueSubscribe(
		subject,
		consumerName,
		func(msg *nats.Msg) {
			var event domain.Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				msg.Nak()
				return
			}

			if !matchesFilter(filter, &event) {
				msg.Ack()
				return
			}

			envelope := &domain.EventEnvelope{Event: event}
			if err := handler(envelope); err != nil {
				msg.Nak()
				return
			}
			msg.Ack()
		},
		nats.Durable(consumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	b.subs[consumerName] = sub

	return &subscription{bus: b, sub: sub, consumerName: consumerName}, nil
}

// buildSubject builds a NATS subject from an event filter. Filters with
// more than one aggregate or event type fall back to the wildcard
// subject and rely on matchesFilter to narrow delivery, since NATS
// subjects can't express an arbitrary OR of tokens.
func buildSubject(filter messaging.EventFilter) string {
	if len(filter.AggregateTypes) == 1 && len(filter.EventTypes) == 1 {
		return fmt.Sprintf("events.%s.%s", filter.AggregateTypes[0], filter.EventTypes[0])
	}
	if len(filter.AggregateTypes) == 1 {
		return fmt.Sprintf("events.%s.>", filter.AggregateTypes[0])
	}
	return "events.>"
}

func matchesFilter(filter messaging.EventFilter, event *domain.Event) bool {
	if event.GlobalPosition < filter.FromPosition {
		return false
	}
	if len(filter.AggregateTypes) > 0 && !contains(filter.AggregateTypes, event.AggregateType) {
		return false
	}
	if len(filter.EventTypes) > 0 && !contains(filter.EventTypes, event.EventType) {
		return false
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// Close closes the event bus and all subscriptions.
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.subs = make(map[string]*nats.Subscription)

	b.nc.Close()
	return nil
}

type subscription struct {
	bus          *EventBus
	sub          *nats.Subscription
	consumerName string
}

func (s *subscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	delete(s.bus.subs, s.consumerName)
	return s.sub.Unsubscribe()
}

var _ messaging.EventBus = (*EventBus)(nil)
