package sqlite_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/bankledger/pkg/bankerrors"
	"github.com/plaenen/bankledger/pkg/domain"
	"github.com/plaenen/bankledger/pkg/messaging"
	"github.com/plaenen/bankledger/pkg/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.EventStore {
	t.Helper()
	store, err := sqlite.NewEventStore(sqlite.WithDSN(":memory:"), sqlite.WithWALMode(false))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testEvent(streamID string, version int64) *domain.Event {
	return &domain.Event{
		ID:            domain.GenerateID(),
		AggregateID:   streamID,
		AggregateType: "TestAggregate",
		EventType:     "test.Created",
		Version:       version,
		Timestamp:     time.Now(),
		Data:          []byte(`{"field":"value"}`),
		Metadata:      domain.EventMetadata{PrincipalID: "test-user"},
	}
}

func TestAppendAndLoadEvents(t *testing.T) {
	store := newTestStore(t)
	streamID := "stream-1"

	require.NoError(t, store.AppendEvents(streamID, -1, []*domain.Event{testEvent(streamID, 0)}))

	events, err := store.LoadEvents(streamID, -1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(0), events[0].Version)
	assert.NotZero(t, events[0].GlobalPosition)
}

func TestAppendEventsConcurrencyConflict(t *testing.T) {
	store := newTestStore(t)
	streamID := "stream-2"

	require.NoError(t, store.AppendEvents(streamID, -1, []*domain.Event{testEvent(streamID, 0)}))

	err := store.AppendEvents(streamID, -1, []*domain.Event{testEvent(streamID, 0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, bankerrors.ErrConcurrencyConflict)
}

func TestLoadEventsAfterVersion(t *testing.T) {
	store := newTestStore(t)
	streamID := "stream-3"

	require.NoError(t, store.AppendEvents(streamID, -1, []*domain.Event{testEvent(streamID, 0)}))
	require.NoError(t, store.AppendEvents(streamID, 0, []*domain.Event{testEvent(streamID, 1)}))

	events, err := store.LoadEvents(streamID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].Version)
}

func TestLoadSinceGlobalFeed(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.AppendEvents("stream-a", -1, []*domain.Event{testEvent("stream-a", 0)}))
	require.NoError(t, store.AppendEvents("stream-b", -1, []*domain.Event{testEvent("stream-b", 0)}))

	events, err := store.LoadSince(-1, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Less(t, events[0].GlobalPosition, events[1].GlobalPosition)

	events, err = store.LoadSince(events[0].GlobalPosition, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestGetAggregateVersionUnknownStreamIsNegativeOne(t *testing.T) {
	store := newTestStore(t)
	version, err := store.GetAggregateVersion("does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), version)
}

func TestAppendEventsIdempotentReplayReturnsCachedResult(t *testing.T) {
	store := newTestStore(t)
	streamID := "stream-4"
	commandID := "cmd-1"

	result1, err := store.AppendEventsIdempotent(streamID, -1, []*domain.Event{testEvent(streamID, 0)}, commandID, time.Hour)
	require.NoError(t, err)
	assert.False(t, result1.AlreadyProcessed)

	result2, err := store.AppendEventsIdempotent(streamID, -1, []*domain.Event{testEvent(streamID, 0)}, commandID, time.Hour)
	require.NoError(t, err)
	assert.True(t, result2.AlreadyProcessed)
	assert.Equal(t, result1.Events[0].ID, result2.Events[0].ID)

	version, err := store.GetAggregateVersion(streamID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version) // second call did not re-append
}

func TestGetCommandResultUnknownCommandReturnsNil(t *testing.T) {
	store := newTestStore(t)
	result, err := store.GetCommandResult("never-seen")
	require.NoError(t, err)
	assert.Nil(t, result)
}

type fakeEventBus struct {
	published [][]*domain.Event
}

func (b *fakeEventBus) Publish(events []*domain.Event) error {
	b.published = append(b.published, events)
	return nil
}

func (b *fakeEventBus) Subscribe(messaging.EventFilter, messaging.EventHandler) (messaging.Subscription, error) {
	return nil, nil
}

func (b *fakeEventBus) Close() error { return nil }

func TestAppendEventsNotifiesWiredEventBus(t *testing.T) {
	bus := &fakeEventBus{}
	store, err := sqlite.NewEventStore(sqlite.WithDSN(":memory:"), sqlite.WithWALMode(false), sqlite.WithEventBus(bus))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	streamID := "stream-5"
	require.NoError(t, store.AppendEvents(streamID, -1, []*domain.Event{testEvent(streamID, 0)}))

	require.Len(t, bus.published, 1)
	assert.Len(t, bus.published[0], 1)
}

func TestAppendEventsIdempotentDoesNotNotifyOnReplay(t *testing.T) {
	bus := &fakeEventBus{}
	store, err := sqlite.NewEventStore(sqlite.WithDSN(":memory:"), sqlite.WithWALMode(false), sqlite.WithEventBus(bus))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	streamID := "stream-6"
	commandID := "cmd-notify-1"

	_, err = store.AppendEventsIdempotent(streamID, -1, []*domain.Event{testEvent(streamID, 0)}, commandID, time.Hour)
	require.NoError(t, err)
	require.Len(t, bus.published, 1)

	_, err = store.AppendEventsIdempotent(streamID, -1, []*domain.Event{testEvent(streamID, 0)}, commandID, time.Hour)
	require.NoError(t, err)
	assert.Len(t, bus.published, 1) // replay must not re-notify
}

func TestGetMigrationVersionReflectsAppliedSchema(t *testing.T) {
	store := newTestStore(t)

	version, err := store.GetMigrationVersion()
	require.NoError(t, err)
	assert.Greater(t, version, 0)
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	before, err := store.GetMigrationVersion()
	require.NoError(t, err)

	// Operator tooling may re-run migrations against an already-current
	// database; it must be a no-op rather than an error.
	require.NoError(t, store.RunMigrations())

	after, err := store.GetMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	var count int
	require.NoError(t, store.DB().QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='events'`,
	).Scan(&count))
	assert.Equal(t, 1, count)
}
