// Package repository defines the persistence interfaces for submissions,
// model runs and published aggregate cells, with memory and SQLite backends.
package repository

import (
	"context"
	"time"

	"github.com/okian/stopodds/internal/domain/model"
)

// Stats summarises the stored submissions.
type Stats struct {
	// Stored counts every row, anomalous ones included.
	Stored int
	// Clean totals the rows eligible for training and aggregation.
	Clean model.Totals
}

// SubmissionStore is the write-once store of accepted rows.
type SubmissionStore interface {
	// Insert appends one accepted row. Returns ErrDuplicate on id reuse.
	Insert(ctx context.Context, sub model.Submission) error
	// Snapshot returns a consistent copy of all stored rows in insertion order.
	Snapshot(ctx context.Context) ([]model.Submission, error)
	// Stats returns row counts and clean totals.
	Stats(ctx context.Context) (Stats, error)
	// DeleteBefore removes rows created before cutoff and returns how many went.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// RunStore is the append-only store of fitted runs plus the published
// pointer per run kind.
type RunStore interface {
	// Append stores a new run. Returns ErrDuplicate on id reuse.
	Append(ctx context.Context, run *model.ModelRun) error
	// Get returns a run by id or ErrNotFound.
	Get(ctx context.Context, id string) (*model.ModelRun, error)
	// List returns up to limit runs newest first. An empty kind lists all kinds.
	List(ctx context.Context, kind model.RunKind, limit int) ([]*model.ModelRun, error)
	// SetCurrent moves the published pointer for kind to id.
	SetCurrent(ctx context.Context, kind model.RunKind, id string) error
	// Current returns the published run id for kind or ErrNotFound.
	Current(ctx context.Context, kind model.RunKind) (string, error)
}

// AggregateStore holds the privacy-filtered cells computed with each run.
type AggregateStore interface {
	// Replace writes the full cell set for runID. Suppressed cells are refused.
	Replace(ctx context.Context, runID string, cells []model.GroupCell) error
	// ListByRun returns the cells written for runID in their original order.
	ListByRun(ctx context.Context, runID string) ([]model.GroupCell, error)
}

// Store bundles the three logical stores behind one backend.
type Store interface {
	SubmissionStore
	RunStore
	AggregateStore
	Close() error
}

func checkCells(cells []model.GroupCell) error {
	for _, c := range cells {
		if c.Suppressed {
			return ErrSuppressedCell
		}
	}
	return nil
}
