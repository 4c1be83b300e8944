// Package sqlite implements the event store, checkpoint store, and
// projection status store on top of modernc.org/sqlite (pure Go, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/plaenen/bankledger/pkg/bankerrors"
	"github.com/plaenen/bankledger/pkg/domain"
	"github.com/plaenen/bankledger/pkg/messaging"
	"github.com/plaenen/bankledger/pkg/store"
)

// EventStore persists domain events to a SQLite database and serves both
// per-stream reads (for aggregate rehydration) and the global feed (for
// projection building).
type EventStore struct {
	db       *sql.DB
	mu       sync.RWMutex
	dsn      string
	walMode  bool
	eventBus messaging.EventBus
}

// Option configures an EventStore at construction time.
type Option func(*config)

type config struct {
	dsn         string
	walMode     bool
	maxOpenConn int
	eventBus    messaging.EventBus
}

// WithEventBus wires a "stream touched" notifier: after a successful
// Append, each event is published to bus so a subscriber (the
// projector's wake channel) can cut its poll sleep short. Publish
// failures are ignored here; polling remains the correctness
// mechanism, so a missed notification only slows best-case latency
// back down to the poll interval.
func WithEventBus(bus messaging.EventBus) Option {
	return func(c *config) { c.eventBus = bus }
}

// WithDSN sets the SQLite data source name, e.g. "file:events.db" or
// ":memory:".
func WithDSN(dsn string) Option {
	return func(c *config) { c.dsn = dsn }
}

// WithWALMode enables or disables write-ahead logging. Defaults to
// enabled for file-backed databases.
func WithWALMode(enabled bool) Option {
	return func(c *config) { c.walMode = enabled }
}

// WithMaxOpenConns caps the connection pool size. :memory: databases
// must use 1 (the default when dsn is ":memory:").
func WithMaxOpenConns(n int) Option {
	return func(c *config) { c.maxOpenConn = n }
}

// NewEventStore opens (or creates) a SQLite-backed event store and runs
// pending migrations under a schema initialization lock.
func NewEventStore(opts ...Option) (*EventStore, error) {
	cfg := &config{dsn: ":memory:", walMode: true}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.maxOpenConn == 0 {
		// A single connection keeps every statement serialized through
		// SQLite's one-writer model; required for :memory: databases and
		// kept as the default for file-backed ones too.
		cfg.maxOpenConn = 1
	}

	db, err := sql.Open("sqlite", cfg.dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", bankerrors.ErrStorageError, err)
	}
	if cfg.maxOpenConn > 0 {
		db.SetMaxOpenConns(cfg.maxOpenConn)
		db.SetMaxIdleConns(cfg.maxOpenConn)
	}

	if cfg.walMode && cfg.dsn != ":memory:" {
		if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: set WAL mode: %v", bankerrors.ErrStorageError, err)
		}
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enable foreign keys: %v", bankerrors.ErrStorageError, err)
	}

	store := &EventStore{db: db, dsn: cfg.dsn, walMode: cfg.walMode, eventBus: cfg.eventBus}

	if err := store.initSchemaLocked(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchemaLocked serializes entry into schema initialization against
// concurrent openers of the same database file. modernc.org/sqlite has no
// pg_advisory_lock equivalent; writing to a singleton row inside its own
// transaction forces SQLite's write lock to be acquired immediately
// (the same effect BEGIN IMMEDIATE would have), so only one opener ever
// proceeds to run migrations while the others block on the write lock
// until it commits and observes the migration table already current.
func (s *EventStore) initSchemaLocked() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_init_lock (id INTEGER PRIMARY KEY CHECK (id = 1))`); err != nil {
		return fmt.Errorf("%w: create schema_init_lock: %v", bankerrors.ErrStorageError, err)
	}

	lockTx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: acquire schema init lock: %v", bankerrors.ErrStorageError, err)
	}
	if _, err := lockTx.Exec(`INSERT OR IGNORE INTO schema_init_lock (id) VALUES (1)`); err != nil {
		lockTx.Rollback()
		return fmt.Errorf("%w: claim schema init lock: %v", bankerrors.ErrStorageError, err)
	}
	if err := lockTx.Commit(); err != nil {
		return fmt.Errorf("%w: release schema init lock: %v", bankerrors.ErrStorageError, err)
	}

	if err := runMigrations(s.db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// DB returns the underlying connection for use by projections that need
// direct SQL access to the same database file.
func (s *EventStore) DB() *sql.DB {
	return s.db
}

// Close closes the event store and releases resources.
func (s *EventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// AppendEvents appends events to a stream atomically, enforcing optimistic
// concurrency against expectedVersion.
func (s *EventStore) AppendEvents(aggregateID string, expectedVersion int64, events []*domain.Event) error {
	if err := s.appendEventsLocked(aggregateID, expectedVersion, events); err != nil {
		return err
	}
	// Published after the lock is released: a slow or blocked
	// notification channel must never serialize writes to the store.
	s.notify(events)
	return nil
}

func (s *EventStore) appendEventsLocked(aggregateID string, expectedVersion int64, events []*domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", bankerrors.ErrStorageError, err)
	}
	defer tx.Rollback()

	if err := s.appendEventsInTx(tx, aggregateID, expectedVersion, events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", bankerrors.ErrStorageError, err)
	}
	return nil
}

// notify publishes a best-effort "stream touched" notification for each
// appended event. It never returns an error: the append has already
// committed, and a failed or absent notification only costs latency on
// the projector's poll-based fallback, never correctness.
func (s *EventStore) notify(events []*domain.Event) {
	if s.eventBus == nil {
		return
	}
	_ = s.eventBus.Publish(events)
}

func (s *EventStore) appendEventsInTx(tx *sql.Tx, aggregateID string, expectedVersion int64, events []*domain.Event) error {
	currentVersion, err := currentStreamVersion(tx, aggregateID)
	if err != nil {
		return err
	}
	if currentVersion != expectedVersion {
		return &bankerrors.ConcurrencyConflictError{
			StreamID: aggregateID,
			Expected: expectedVersion,
			Actual:   currentVersion,
		}
	}

	for _, evt := range events {
		metadataJSON, err := json.Marshal(evt.Metadata)
		if err != nil {
			return fmt.Errorf("%w: marshal metadata: %v", bankerrors.ErrCodecError, err)
		}

		_, err = tx.Exec(`
			INSERT INTO events (event_id, stream_id, aggregate_type, version, event_type, event_data, metadata, occurred_on, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, evt.ID, evt.AggregateID, evt.AggregateType, evt.Version, evt.EventType,
			string(evt.Data), string(metadataJSON), evt.Timestamp.Unix(), domain.Now().Unix())
		if err != nil {
			if isUniqueConstraintErr(err) {
				actual, verErr := currentStreamVersion(tx, aggregateID)
				if verErr != nil {
					return verErr
				}
				return &bankerrors.ConcurrencyConflictError{
					StreamID: aggregateID,
					Expected: expectedVersion,
					Actual:   actual,
				}
			}
			return fmt.Errorf("%w: insert event: %v", bankerrors.ErrStorageError, err)
		}
	}

	return nil
}

// currentStreamVersion returns the highest version recorded for a stream,
// or -1 if the stream has no events.
func currentStreamVersion(q queryer, aggregateID string) (int64, error) {
	var version sql.NullInt64
	err := q.QueryRow(`SELECT MAX(version) FROM events WHERE stream_id = ?`, aggregateID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("%w: query stream version: %v", bankerrors.ErrStorageError, err)
	}
	if !version.Valid {
		return -1, nil
	}
	return version.Int64, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

// AppendEventsIdempotent appends events with command-level idempotency: a
// retried commandID returns the originally produced events without
// appending duplicates.
func (s *EventStore) AppendEventsIdempotent(
	aggregateID string,
	expectedVersion int64,
	events []*domain.Event,
	commandID string,
	ttl time.Duration,
) (*domain.CommandResult, error) {
	result, notifyEvents, err := s.appendEventsIdempotentLocked(aggregateID, expectedVersion, events, commandID, ttl)
	if err != nil {
		return nil, err
	}
	if notifyEvents != nil {
		// Published after the lock is released: see AppendEvents.
		s.notify(notifyEvents)
	}
	return result, nil
}

func (s *EventStore) appendEventsIdempotentLocked(
	aggregateID string,
	expectedVersion int64,
	events []*domain.Event,
	commandID string,
	ttl time.Duration,
) (result *domain.CommandResult, notifyEvents []*domain.Event, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result, err := s.getCommandResultLocked(commandID); err == nil && result != nil {
		return result, nil, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: begin tx: %v", bankerrors.ErrStorageError, err)
	}
	defer tx.Rollback()

	if err := s.appendEventsInTx(tx, aggregateID, expectedVersion, events); err != nil {
		return nil, nil, err
	}

	eventIDs := make([]string, len(events))
	for i, evt := range events {
		eventIDs[i] = evt.ID
	}
	eventIDsJSON, err := json.Marshal(eventIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: marshal event ids: %v", bankerrors.ErrCodecError, err)
	}

	now := domain.Now()
	_, err = tx.Exec(`
		INSERT INTO processed_commands (command_id, event_ids, processed_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, commandID, string(eventIDsJSON), now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: record processed command: %v", bankerrors.ErrStorageError, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("%w: commit: %v", bankerrors.ErrStorageError, err)
	}

	return &domain.CommandResult{
		CommandID:        commandID,
		Events:           events,
		AlreadyProcessed: false,
		ProcessedAt:      now,
	}, events, nil
}

// GetCommandResult retrieves the result of a previously processed command.
func (s *EventStore) GetCommandResult(commandID string) (*domain.CommandResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCommandResultLocked(commandID)
}

func (s *EventStore) getCommandResultLocked(commandID string) (*domain.CommandResult, error) {
	var eventIDsJSON string
	var processedAt, expiresAt int64

	err := s.db.QueryRow(`
		SELECT event_ids, processed_at, expires_at FROM processed_commands WHERE command_id = ?
	`, commandID).Scan(&eventIDsJSON, &processedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query processed command: %v", bankerrors.ErrStorageError, err)
	}
	if expiresAt < domain.Now().Unix() {
		return nil, nil
	}

	var eventIDs []string
	if err := json.Unmarshal([]byte(eventIDsJSON), &eventIDs); err != nil {
		return nil, fmt.Errorf("%w: unmarshal event ids: %v", bankerrors.ErrCodecError, err)
	}

	events := make([]*domain.Event, 0, len(eventIDs))
	for _, id := range eventIDs {
		evt, err := s.loadEventByIDLocked(id)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}

	return &domain.CommandResult{
		CommandID:        commandID,
		Events:           events,
		AlreadyProcessed: true,
		ProcessedAt:      time.Unix(processedAt, 0).UTC(),
	}, nil
}

func (s *EventStore) loadEventByIDLocked(eventID string) (*domain.Event, error) {
	row := s.db.QueryRow(`
		SELECT global_position, event_id, stream_id, aggregate_type, version, event_type, event_data, metadata, occurred_on
		FROM events WHERE event_id = ?
	`, eventID)
	return scanEvent(row)
}

func scanEvent(row *sql.Row) (*domain.Event, error) {
	var evt domain.Event
	var eventData, metadataJSON string
	var occurredOn int64

	err := row.Scan(&evt.GlobalPosition, &evt.ID, &evt.AggregateID, &evt.AggregateType,
		&evt.Version, &evt.EventType, &eventData, &metadataJSON, &occurredOn)
	if err == sql.ErrNoRows {
		return nil, bankerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan event: %v", bankerrors.ErrStorageError, err)
	}

	evt.Data = json.RawMessage(eventData)
	evt.Timestamp = time.Unix(occurredOn, 0).UTC()
	if err := json.Unmarshal([]byte(metadataJSON), &evt.Metadata); err != nil {
		return nil, fmt.Errorf("%w: unmarshal metadata: %v", bankerrors.ErrCodecError, err)
	}

	return &evt, nil
}

// LoadEvents loads events for a stream with version strictly greater than
// afterVersion, ascending.
func (s *EventStore) LoadEvents(aggregateID string, afterVersion int64) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT global_position, event_id, stream_id, aggregate_type, version, event_type, event_data, metadata, occurred_on
		FROM events WHERE stream_id = ? AND version > ? ORDER BY version ASC
	`, aggregateID, afterVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: query events: %v", bankerrors.ErrStorageError, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LoadSince loads up to limit events across all streams with global
// position strictly greater than position, ascending. Used by the
// projector to read the global feed.
func (s *EventStore) LoadSince(position int64, limit int) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT global_position, event_id, stream_id, aggregate_type, version, event_type, event_data, metadata, occurred_on
		FROM events WHERE global_position > ? ORDER BY global_position ASC LIMIT ?
	`, position, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query global feed: %v", bankerrors.ErrStorageError, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*domain.Event, error) {
	events := make([]*domain.Event, 0)
	for rows.Next() {
		var evt domain.Event
		var eventData, metadataJSON string
		var occurredOn int64

		if err := rows.Scan(&evt.GlobalPosition, &evt.ID, &evt.AggregateID, &evt.AggregateType,
			&evt.Version, &evt.EventType, &eventData, &metadataJSON, &occurredOn); err != nil {
			return nil, fmt.Errorf("%w: scan event: %v", bankerrors.ErrStorageError, err)
		}

		evt.Data = json.RawMessage(eventData)
		evt.Timestamp = time.Unix(occurredOn, 0).UTC()
		if err := json.Unmarshal([]byte(metadataJSON), &evt.Metadata); err != nil {
			return nil, fmt.Errorf("%w: unmarshal metadata: %v", bankerrors.ErrCodecError, err)
		}

		events = append(events, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate events: %v", bankerrors.ErrStorageError, err)
	}
	return events, nil
}

// GetAggregateVersion returns the current version of an aggregate, or -1
// if it doesn't exist.
func (s *EventStore) GetAggregateVersion(aggregateID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return currentStreamVersion(s.db, aggregateID)
}

// CleanExpiredCommands removes expired idempotency records. Intended to
// be called periodically by an operator task, not on the hot path.
func (s *EventStore) CleanExpiredCommands(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM processed_commands WHERE expires_at < ?`, domain.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("%w: clean expired commands: %v", bankerrors.ErrStorageError, err)
	}
	return result.RowsAffected()
}

var _ store.EventStore = (*EventStore)(nil)
