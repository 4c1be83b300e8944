package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/plaenen/bankledger/pkg/bankerrors"
	"github.com/plaenen/bankledger/pkg/store"
)

// ProjectionStatusStore persists projection operational status
// (READY/REBUILDING/FAILED/PAUSED) for health checks and rebuild
// progress reporting.
type ProjectionStatusStore struct {
	db *sql.DB
}

// NewProjectionStatusStore creates a status store backed by db, creating
// the projection_status table if it doesn't already exist.
func NewProjectionStatusStore(db *sql.DB) (*ProjectionStatusStore, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS projection_status (
			projection_name TEXT PRIMARY KEY,
			status          TEXT NOT NULL,
			message         TEXT NOT NULL DEFAULT '',
			updated_at      INTEGER NOT NULL,
			progress        TEXT
		)
	`); err != nil {
		return nil, fmt.Errorf("%w: create projection_status: %v", bankerrors.ErrStorageError, err)
	}
	return &ProjectionStatusStore{db: db}, nil
}

// Save upserts the projection's operational status.
func (s *ProjectionStatusStore) Save(state *store.ProjectionState) error {
	var progressJSON sql.NullString
	if state.Progress != nil {
		data, err := json.Marshal(state.Progress)
		if err != nil {
			return fmt.Errorf("%w: marshal progress: %v", bankerrors.ErrCodecError, err)
		}
		progressJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO projection_status (projection_name, status, message, updated_at, progress)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(projection_name) DO UPDATE SET
			status = excluded.status,
			message = excluded.message,
			updated_at = excluded.updated_at,
			progress = excluded.progress
	`, state.ProjectionName, string(state.Status), state.Message, state.UpdatedAt.Unix(), progressJSON)
	if err != nil {
		return fmt.Errorf("%w: save projection status: %v", bankerrors.ErrStorageError, err)
	}
	return nil
}

// Load loads a projection's operational status.
func (s *ProjectionStatusStore) Load(projectionName string) (*store.ProjectionState, error) {
	var status, message string
	var updatedAt int64
	var progressJSON sql.NullString

	err := s.db.QueryRow(`
		SELECT status, message, updated_at, progress FROM projection_status WHERE projection_name = ?
	`, projectionName).Scan(&status, &message, &updatedAt, &progressJSON)
	if err == sql.ErrNoRows {
		return nil, bankerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load projection status: %v", bankerrors.ErrStorageError, err)
	}

	state := &store.ProjectionState{
		ProjectionName: projectionName,
		Status:         store.ProjectionStatus(status),
		Message:        message,
		UpdatedAt:      time.Unix(updatedAt, 0).UTC(),
	}
	if progressJSON.Valid && progressJSON.String != "" {
		var progress store.RebuildProgress
		if err := json.Unmarshal([]byte(progressJSON.String), &progress); err != nil {
			return nil, fmt.Errorf("%w: unmarshal progress: %v", bankerrors.ErrCodecError, err)
		}
		state.Progress = &progress
	}

	return state, nil
}

// UpdateProgress updates only the rebuild progress for a projection,
// leaving its status and message untouched.
func (s *ProjectionStatusStore) UpdateProgress(projectionName string, progress *store.RebuildProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("%w: marshal progress: %v", bankerrors.ErrCodecError, err)
	}
	_, err = s.db.Exec(`UPDATE projection_status SET progress = ? WHERE projection_name = ?`, string(data), projectionName)
	if err != nil {
		return fmt.Errorf("%w: update progress: %v", bankerrors.ErrStorageError, err)
	}
	return nil
}

var _ store.ProjectionStatusStore = (*ProjectionStatusStore)(nil)
