package store

// ProjectionCheckpoint tracks a projector's position in the global event
// feed. Position is -1 when the projector has never run.
type ProjectionCheckpoint struct {
	ProjectionName string
	Position       int64
}

// CheckpointStore persists projection checkpoints.
type CheckpointStore interface {
	// Save saves a checkpoint.
	Save(checkpoint *ProjectionCheckpoint) error

	// Load loads a checkpoint for a projection.
	Load(projectionName string) (*ProjectionCheckpoint, error)

	// Delete deletes a checkpoint (for rebuilding).
	Delete(projectionName string) error
}
