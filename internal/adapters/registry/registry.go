// Package registry tracks fitted runs and the published pointer per run kind.
// Readers get an immutable snapshot through an atomic pointer and never wait
// on a publish.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/okian/stopodds/internal/adapters/repository"
	"github.com/okian/stopodds/internal/domain/model"
	"github.com/okian/stopodds/pkg/metrics"
)

// Snapshot is what the read paths see. Any field may be nil when nothing of
// that kind has been published. A snapshot is never mutated after it is stored.
type Snapshot struct {
	Primary    *model.ModelRun
	Cells      []model.GroupCell
	Engagement *model.ModelRun
}

// Registry combines the run and aggregate stores with the in-memory pointer.
type Registry struct {
	runs  repository.RunStore
	cells repository.AggregateStore

	// writeMu serialises publishers; readers only touch current.
	writeMu sync.Mutex
	current atomic.Pointer[Snapshot]
}

// New creates a registry with an empty snapshot. Call Refresh to load the
// persisted pointers.
func New(runs repository.RunStore, cells repository.AggregateStore) *Registry {
	r := &Registry{runs: runs, cells: cells}
	r.current.Store(&Snapshot{})
	return r
}

// Current returns the published snapshot.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Record appends a run and, for primary runs, the privacy-filtered cells
// computed with it. The run is not published.
func (r *Registry) Record(ctx context.Context, run *model.ModelRun, cells []model.GroupCell) error {
	if run == nil || run.ID == "" {
		return ErrInvalidRun
	}
	if _, err := model.ParseRunKind(string(run.Kind)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRun, err)
	}
	for _, c := range cells {
		if c.Suppressed {
			return fmt.Errorf("store cells: %w", repository.ErrSuppressedCell)
		}
	}
	if err := r.runs.Append(ctx, run); err != nil {
		return fmt.Errorf("append run: %w", err)
	}
	if run.Kind == model.RunPrimary {
		if err := r.cells.Replace(ctx, run.ID, cells); err != nil {
			return fmt.Errorf("store cells: %w", err)
		}
	}
	return nil
}

// Publish moves the pointer for the run's kind to id. The pointer is persisted
// first and the in-memory snapshot is swapped only once fully formed.
// Publishing an older id is a rollback.
func (r *Registry) Publish(ctx context.Context, id string) (*model.ModelRun, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	run, err := r.runs.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	next := *r.current.Load()
	switch run.Kind {
	case model.RunPrimary:
		cells, err := r.cells.ListByRun(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load cells: %w", err)
		}
		next.Primary, next.Cells = run, cells
	case model.RunEngagement:
		next.Engagement = run
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidRun, run.Kind)
	}

	if err := r.runs.SetCurrent(ctx, run.Kind, id); err != nil {
		return nil, fmt.Errorf("persist pointer: %w", err)
	}
	run.Published = true
	r.swap(&next)
	return run, nil
}

// Refresh reloads every pointer from storage, picking up publishes made by
// another process.
func (r *Registry) Refresh(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	var next Snapshot
	primary, err := r.load(ctx, model.RunPrimary)
	if err != nil {
		return err
	}
	if primary != nil {
		cells, err := r.cells.ListByRun(ctx, primary.ID)
		if err != nil {
			return fmt.Errorf("load cells: %w", err)
		}
		next.Primary, next.Cells = primary, cells
	}
	if next.Engagement, err = r.load(ctx, model.RunEngagement); err != nil {
		return err
	}

	if prev := r.current.Load(); sameRun(prev.Primary, next.Primary) && sameRun(prev.Engagement, next.Engagement) {
		return nil
	}
	r.swap(&next)
	return nil
}

func (r *Registry) load(ctx context.Context, kind model.RunKind) (*model.ModelRun, error) {
	id, err := r.runs.Current(ctx, kind)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s pointer: %w", kind, err)
	}
	run, err := r.runs.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get %s run %s: %w", kind, id, err)
	}
	run.Published = true
	return run, nil
}

func sameRun(a, b *model.ModelRun) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}

func (r *Registry) swap(next *Snapshot) {
	r.current.Store(next)
	if next.Primary != nil {
		metrics.UpdatePublishedTrainRows(next.Primary.TrainRows)
		metrics.UpdateDispersionRatio(next.Primary.DispersionRatio)
	}
	metrics.UpdatePublishedCells(len(next.Cells))
}

// Get returns a stored run with Published set from the current snapshot.
func (r *Registry) Get(ctx context.Context, id string) (*model.ModelRun, error) {
	run, err := r.runs.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	if err != nil {
		return nil, err
	}
	run.Published = r.isPublished(run)
	return run, nil
}

// List returns up to limit runs newest first, optionally of one kind.
func (r *Registry) List(ctx context.Context, kind model.RunKind, limit int) ([]*model.ModelRun, error) {
	runs, err := r.runs.List(ctx, kind, limit)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		run.Published = r.isPublished(run)
	}
	return runs, nil
}

func (r *Registry) isPublished(run *model.ModelRun) bool {
	snap := r.current.Load()
	switch run.Kind {
	case model.RunPrimary:
		return snap.Primary != nil && snap.Primary.ID == run.ID
	case model.RunEngagement:
		return snap.Engagement != nil && snap.Engagement.ID == run.ID
	}
	return false
}
