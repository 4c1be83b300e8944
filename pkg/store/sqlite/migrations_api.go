package sqlite

import "github.com/plaenen/bankledger/pkg/store/sqlite/migrate"

// RunMigrations runs all pending migrations on the event store. Safe to
// call after construction (NewEventStore already runs it once); useful
// for operator tooling that wants to force a re-check.
func (s *EventStore) RunMigrations() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return runMigrations(s.db)
}

// GetMigrationVersion returns the current schema_migrations version.
func (s *EventStore) GetMigrationVersion() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := migrate.New(s.db, "schema_migrations")
	return m.Version()
}
