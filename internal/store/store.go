package store

import (
	"context"
	"time"
)

// Store defines the run journal contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id string, outcome RunOutcome) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Events (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
