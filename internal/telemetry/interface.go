package telemetry

import (
	"context"

	"codeberg.org/mutker/thermalctl/internal/thermal"
)

// Collector stores control loop snapshots. It satisfies controller.Recorder.
type Collector interface {
	Record(ctx context.Context, snapshot *thermal.Snapshot) error
	// RunID identifies this process's rows in the database.
	RunID() string
	Close() error
}

// Repository defines the interface for snapshot storage
type Repository interface {
	Record(snapshot *thermal.Snapshot) error
	Close() error
}
