package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/stopodds/internal/domain/model"
	"github.com/okian/stopodds/pkg/metrics"
)

const driverMemory = "memory"

// MemoryStore keeps every logical store in process memory. It is the
// default backend and the one used by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	subs     []model.Submission
	subIDs   map[string]struct{}
	runs     map[string]*model.ModelRun
	runOrder []string
	pointers map[model.RunKind]string
	cells    map[string][]model.GroupCell
	closed   bool

	metricsUpdateInterval time.Duration
	now                   func() time.Time

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore constructs an empty store and starts its metrics updater.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		subIDs:                make(map[string]struct{}),
		runs:                  make(map[string]*model.ModelRun),
		pointers:              make(map[model.RunKind]string),
		cells:                 make(map[string][]model.GroupCell),
		metricsUpdateInterval: 5 * time.Second,
		now:                   time.Now,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startMetricsUpdater(ctx)
	return s
}

// Close stops the background updater.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	})
	s.wg.Wait()
	return nil
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(driverMemory, op, float64(time.Since(start).Microseconds())/1000)
}

// Insert implements SubmissionStore.
func (s *MemoryStore) Insert(ctx context.Context, sub model.Submission) error {
	defer observe("insert", time.Now())
	if err := ctx.Err(); err != nil {
		return err
	}

	sub.Traits = sub.Traits.Clone()
	sub.Anomalies = append([]string(nil), sub.Anomalies...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.subIDs[sub.ID]; ok {
		return ErrDuplicate
	}
	s.subIDs[sub.ID] = struct{}{}
	s.subs = append(s.subs, sub)
	return nil
}

// Snapshot implements SubmissionStore.
func (s *MemoryStore) Snapshot(ctx context.Context) ([]model.Submission, error) {
	defer observe("snapshot", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Submission, len(s.subs))
	for i, sub := range s.subs {
		sub.Traits = sub.Traits.Clone()
		sub.Anomalies = append([]string(nil), sub.Anomalies...)
		out[i] = sub
	}
	return out, nil
}

// Stats implements SubmissionStore.
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Stored: len(s.subs)}
	for _, sub := range s.subs {
		if !sub.Anomalous() {
			st.Clean.Add(sub.Trips, sub.Stops)
		}
	}
	return st, nil
}

// DeleteBefore implements SubmissionStore.
func (s *MemoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	defer observe("delete", time.Now())
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.subs[:0]
	removed := 0
	for _, sub := range s.subs {
		if sub.CreatedAt.Before(cutoff) {
			delete(s.subIDs, sub.ID)
			removed++
			continue
		}
		kept = append(kept, sub)
	}
	// Clear the tail so dropped rows can be collected.
	for i := len(kept); i < len(s.subs); i++ {
		s.subs[i] = model.Submission{}
	}
	s.subs = kept
	return removed, nil
}

// Append implements RunStore.
func (s *MemoryStore) Append(ctx context.Context, run *model.ModelRun) error {
	defer observe("append_run", time.Now())
	if err := ctx.Err(); err != nil {
		return err
	}

	cp := *run
	cp.Published = false
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.runs[cp.ID]; ok {
		return ErrDuplicate
	}
	s.runs[cp.ID] = &cp
	s.runOrder = append(s.runOrder, cp.ID)
	return nil
}

// Get implements RunStore.
func (s *MemoryStore) Get(ctx context.Context, id string) (*model.ModelRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *run
	return &cp, nil
}

// List implements RunStore.
func (s *MemoryStore) List(ctx context.Context, kind model.RunKind, limit int) ([]*model.ModelRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	out := make([]*model.ModelRun, 0, limit)
	for _, id := range s.runOrder {
		run := s.runs[id]
		if kind != "" && run.Kind != kind {
			continue
		}
		cp := *run
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	// Newest first; insertion order breaks ties.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetCurrent implements RunStore.
func (s *MemoryStore) SetCurrent(ctx context.Context, kind model.RunKind, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	if run.Kind != kind {
		return ErrKindMismatch
	}
	s.pointers[kind] = id
	return nil
}

// Current implements RunStore.
func (s *MemoryStore) Current(ctx context.Context, kind model.RunKind) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pointers[kind]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

// Replace implements AggregateStore.
func (s *MemoryStore) Replace(ctx context.Context, runID string, cells []model.GroupCell) error {
	defer observe("replace_cells", time.Now())
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkCells(cells); err != nil {
		return err
	}
	cp := append([]model.GroupCell(nil), cells...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells[runID] = cp
	return nil
}

// ListByRun implements AggregateStore.
func (s *MemoryStore) ListByRun(ctx context.Context, runID string) ([]model.GroupCell, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.GroupCell(nil), s.cells[runID]...), nil
}

// startMetricsUpdater starts a background goroutine that publishes the stored row count.
func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.mu.RLock()
				n := len(s.subs)
				s.mu.RUnlock()
				metrics.UpdateStoredSubmissions(n)
			}
		}
	}()
}
