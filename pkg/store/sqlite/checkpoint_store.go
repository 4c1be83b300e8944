package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/plaenen/bankledger/pkg/bankerrors"
	"github.com/plaenen/bankledger/pkg/store"
)

// CheckpointStore persists projector checkpoints in the
// projector_checkpoints table. It can share a *sql.DB with an EventStore
// or use a completely separate database.
type CheckpointStore struct {
	db *sql.DB
}

// NewCheckpointStore creates a checkpoint store backed by db. The
// projector_checkpoints table is created if it doesn't already exist,
// so this also works against a database that never ran the event store's
// migrations (e.g. a dedicated read-model database).
func NewCheckpointStore(db *sql.DB) (*CheckpointStore, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS projector_checkpoints (
			projector_name TEXT PRIMARY KEY,
			position       INTEGER NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("%w: create projector_checkpoints: %v", bankerrors.ErrStorageError, err)
	}
	return &CheckpointStore{db: db}, nil
}

// DB returns the underlying connection, e.g. to start a shared
// transaction with a read-model update.
func (c *CheckpointStore) DB() *sql.DB {
	return c.db
}

// Save upserts a checkpoint outside of any caller-managed transaction.
func (c *CheckpointStore) Save(checkpoint *store.ProjectionCheckpoint) error {
	_, err := c.db.Exec(upsertCheckpointSQL, checkpoint.ProjectionName, checkpoint.Position)
	if err != nil {
		return fmt.Errorf("%w: save checkpoint: %v", bankerrors.ErrStorageError, err)
	}
	return nil
}

// SaveInTx upserts a checkpoint as part of an existing transaction, so it
// commits atomically with the read-model row it accompanies.
func (c *CheckpointStore) SaveInTx(tx *sql.Tx, checkpoint *store.ProjectionCheckpoint) error {
	_, err := tx.Exec(upsertCheckpointSQL, checkpoint.ProjectionName, checkpoint.Position)
	if err != nil {
		return fmt.Errorf("%w: save checkpoint in tx: %v", bankerrors.ErrStorageError, err)
	}
	return nil
}

const upsertCheckpointSQL = `
	INSERT INTO projector_checkpoints (projector_name, position) VALUES (?, ?)
	ON CONFLICT(projector_name) DO UPDATE SET position = excluded.position
`

// Load loads the checkpoint for a projector. Returns position -1 (never
// started) with no error if the projector has no checkpoint yet.
func (c *CheckpointStore) Load(projectorName string) (*store.ProjectionCheckpoint, error) {
	var position int64
	err := c.db.QueryRow(`SELECT position FROM projector_checkpoints WHERE projector_name = ?`, projectorName).Scan(&position)
	if err == sql.ErrNoRows {
		return &store.ProjectionCheckpoint{ProjectionName: projectorName, Position: -1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load checkpoint: %v", bankerrors.ErrStorageError, err)
	}
	return &store.ProjectionCheckpoint{ProjectionName: projectorName, Position: position}, nil
}

// Delete removes a projector's checkpoint, used when rebuilding from
// scratch.
func (c *CheckpointStore) Delete(projectorName string) error {
	if _, err := c.db.Exec(`DELETE FROM projector_checkpoints WHERE projector_name = ?`, projectorName); err != nil {
		return fmt.Errorf("%w: delete checkpoint: %v", bankerrors.ErrStorageError, err)
	}
	return nil
}

// DeleteInTx removes a projector's checkpoint as part of an existing
// transaction.
func (c *CheckpointStore) DeleteInTx(tx *sql.Tx, projectorName string) error {
	if _, err := tx.Exec(`DELETE FROM projector_checkpoints WHERE projector_name = ?`, projectorName); err != nil {
		return fmt.Errorf("%w: delete checkpoint in tx: %v", bankerrors.ErrStorageError, err)
	}
	return nil
}

var _ store.CheckpointStore = (*CheckpointStore)(nil)
