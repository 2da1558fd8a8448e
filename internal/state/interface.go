package state

import (
	"context"
	"io"

	"github.com/crewdev/crew/internal/tracker"
	"github.com/crewdev/crew/pkg/models"
)

// SnapshotStore handles registry snapshot persistence.
type SnapshotStore interface {
	// SaveSnapshot replaces the stored registry atomically.
	SaveSnapshot(ctx context.Context, snap *tracker.Snapshot) error
	// LoadSnapshot reads the stored registry.
	LoadSnapshot(ctx context.Context) (*tracker.Snapshot, error)
}

// RunStore handles run history persistence.
type RunStore interface {
	SaveRun(ctx context.Context, run *models.RunRecord) error
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store defines the interface for coordination state persistence.
// This interface allows the coordinator to work with any state backend
// without depending on the concrete SQLite implementation.
// It composes focused sub-interfaces for better modularity.
type Store interface {
	io.Closer
	Migrator
	SnapshotStore
	RunStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store         = (*DB)(nil)
	_ Migrator      = (*DB)(nil)
	_ SnapshotStore = (*DB)(nil)
	_ RunStore      = (*DB)(nil)
)
