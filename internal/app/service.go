// Package service wires the domain components, stores and job runner into the
// operations the HTTP API and the admin CLI call.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/stopodds/internal/adapters/lease"
	"github.com/okian/stopodds/internal/adapters/mq/queue"
	"github.com/okian/stopodds/internal/adapters/mq/worker"
	"github.com/okian/stopodds/internal/adapters/registry"
	"github.com/okian/stopodds/internal/adapters/repository"
	"github.com/okian/stopodds/internal/domain/dedupe"
	"github.com/okian/stopodds/internal/domain/engagement"
	"github.com/okian/stopodds/internal/domain/intake"
	"github.com/okian/stopodds/internal/domain/model"
	"github.com/okian/stopodds/internal/domain/prediction"
	"github.com/okian/stopodds/internal/domain/privacy"
	"github.com/okian/stopodds/internal/domain/ratemodel"
	"github.com/okian/stopodds/internal/domain/types"
	"github.com/okian/stopodds/pkg/logger"
	"github.com/okian/stopodds/pkg/metrics"
)

// Service implements the dependencies required by the HTTP API.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	ownsStore bool
	locker    lease.Locker
	registry  *registry.Registry
	validator *intake.Validator
	gate      *privacy.Gate
	rates     *ratemodel.Model
	trainer   *engagement.Trainer
	predictor *prediction.Service
	jobs      *queue.InMemoryQueue
	pool      *worker.Pool

	// Configuration
	minGroupSize        int
	minSubmissions      int
	minStops            int
	dispersionThreshold float64
	references          map[model.Trait]string
	anomalyTrips        int
	repeatLimit         int
	dedupeSize          int
	fraudSecret         string
	retentionMonths     int
	trainInterval       time.Duration
	pruneInterval       time.Duration
	refreshInterval     time.Duration
	leaseTTL            time.Duration
	autoPublish         bool
	jobQueueSize        int
	engagementEnabled   bool
	engagementRounds    int
	exposure            int
	background          bool

	// Corpus totals over non-anomalous rows, swapped as one value so readers
	// never see a mixed triple. intakeMu is held shared by inserts and
	// exclusively while prune reloads the totals.
	intakeMu sync.RWMutex
	stored   atomic.Int64
	clean    atomic.Pointer[model.Totals]

	// State
	started atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	now    func() time.Time
	logger logger.Logger
}

// New constructs a new Service with default configuration. The domain
// components are built here; stores and background loops are set up by Start.
func New(opts ...Option) *Service {
	s := &Service{
		minGroupSize:        privacy.DefaultMinGroupSize,
		minSubmissions:      privacy.DefaultActivationSubmissions,
		minStops:            privacy.DefaultActivationStops,
		dispersionThreshold: ratemodel.DefaultDispersionThreshold,
		references:          model.DefaultReferences(),
		anomalyTrips:        intake.DefaultAnomalyTripsThreshold,
		repeatLimit:         intake.DefaultRepeatClientLimit,
		dedupeSize:          50_000,
		retentionMonths:     12,
		trainInterval:       7 * 24 * time.Hour,
		pruneInterval:       24 * time.Hour,
		refreshInterval:     30 * time.Second,
		leaseTTL:            30 * time.Minute,
		autoPublish:         true,
		jobQueueSize:        16,
		engagementRounds:    engagement.DefaultRounds,
		exposure:            prediction.DefaultExposure,
		background:          true,
		stopCh:              make(chan struct{}),
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	secret := s.fraudSecret
	if secret == "" {
		secret = randomSecret()
		s.logger.Warn(context.Background(), "fraud_secret not set; using a per-process secret, repeat-client tokens will not survive a restart")
	}

	s.gate = privacy.NewGate(
		privacy.WithMinGroupSize(s.minGroupSize),
		privacy.WithActivation(s.minSubmissions, s.minStops),
	)
	s.validator = intake.NewValidator(
		intake.WithFraudSecret(secret),
		intake.WithAnomalyTripsThreshold(s.anomalyTrips),
		intake.WithRepeatClientLimit(s.repeatLimit),
		intake.WithCounter(dedupe.NewInMemoryCounter(dedupe.WithMaxSize(s.dedupeSize))),
		intake.WithClock(s.now),
	)
	s.rates = ratemodel.New(
		ratemodel.WithDispersionThreshold(s.dispersionThreshold),
		ratemodel.WithReferences(s.references),
	)
	s.trainer = engagement.NewTrainer(engagement.WithRounds(s.engagementRounds))
	s.predictor = prediction.New(s.gate, prediction.WithExposure(s.exposure))
	return s
}

func randomSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Start opens the stores, loads the published snapshot and corpus totals and,
// unless disabled, starts the job worker and scheduler.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started.Load() {
		return nil
	}

	s.logger.Info(ctx, "starting stopodds service...")

	if s.store == nil {
		s.store = repository.NewMemoryStore(ctx)
		s.ownsStore = true
		s.logger.Info(ctx, "using memory store")
	}
	if s.locker == nil {
		s.locker = lease.NewMemory(s.now)
	}

	s.registry = registry.New(s.store, s.store)
	if err := s.registry.Refresh(ctx); err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	if err := s.reloadTotals(ctx); err != nil {
		return fmt.Errorf("load corpus totals: %w", err)
	}

	if s.background {
		s.jobs = queue.NewInMemoryQueue(queue.WithCapacity(s.jobQueueSize), queue.WithCoalescing())
		s.pool = worker.NewPool(1, s.jobs, worker.RunnerFunc(s.RunJob),
			worker.WithName("jobs"),
			worker.WithLogger(s.logger.Named("jobs")),
			worker.WithJobTimeout(s.leaseTTL))
		s.pool.Start(ctx)
		s.startScheduler(ctx)
	}

	s.started.Store(true)
	snap := s.registry.Current()
	s.logger.Info(ctx, "stopodds service started",
		logger.Int64("stored", s.stored.Load()),
		logger.Int("clean_submissions", s.Totals().Submissions),
		logger.String("model_run_id", runID(snap.Primary)),
		logger.Bool("background", s.background),
	)
	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started.Load() {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping stopodds service...")

	// Signal the scheduler to stop
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.wg.Wait()

	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "job worker shutdown", logger.Error(err))
		}
	}

	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(ctx, "close store", logger.Error(err))
		}
	}

	s.started.Store(false)
	s.logger.Info(ctx, "stopodds service stopped")
}

func (s *Service) reloadTotals(ctx context.Context) error {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return err
	}
	s.stored.Store(int64(st.Stored))
	clean := st.Clean
	s.clean.Store(&clean)
	metrics.UpdateStoredSubmissions(st.Stored)
	return nil
}

// Totals returns the in-memory corpus totals over non-anomalous rows.
func (s *Service) Totals() model.Totals {
	if t := s.clean.Load(); t != nil {
		return *t
	}
	return model.Totals{}
}

// addClean folds one clean row into the totals.
func (s *Service) addClean(trips, stops int) {
	for {
		old := s.clean.Load()
		var next model.Totals
		if old != nil {
			next = *old
		}
		next.Add(trips, stops)
		if s.clean.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Submit validates and stores one row. Rejections are *intake.Rejection.
func (s *Service) Submit(ctx context.Context, c intake.Candidate, meta intake.Metadata) (model.Submission, error) {
	if !s.started.Load() {
		return model.Submission{}, ErrNotStarted
	}

	sub, err := s.validator.Validate(ctx, c, meta)
	if err != nil {
		var rej *intake.Rejection
		if errors.As(err, &rej) {
			metrics.RecordSubmissionRejected(rej.Code)
		}
		return model.Submission{}, err
	}

	s.intakeMu.RLock()
	defer s.intakeMu.RUnlock()
	if err := s.store.Insert(ctx, sub); err != nil {
		s.validator.Release(ctx, sub)
		metrics.RecordErrorByComponent("store", "insert")
		return model.Submission{}, fmt.Errorf("store submission: %w", err)
	}

	s.stored.Add(1)
	if sub.Anomalous() {
		for _, flag := range sub.Anomalies {
			metrics.RecordSubmissionAnomaly(flag)
		}
		s.logger.Debug(ctx, "anomalous submission stored",
			logger.String("id", sub.ID), logger.Any("anomalies", sub.Anomalies))
	} else {
		s.addClean(sub.Trips, sub.Stops)
	}
	metrics.RecordSubmissionAccepted()
	return sub, nil
}

// snapshot returns the published runs, or an empty snapshot before Start.
func (s *Service) snapshot() *registry.Snapshot {
	s.mu.RLock()
	reg := s.registry
	s.mu.RUnlock()
	if reg == nil {
		return &registry.Snapshot{}
	}
	return reg.Current()
}

// Overview returns the public aggregate table. Baseline mode has no groups.
func (s *Service) Overview(_ context.Context) types.Overview {
	snap := s.snapshot()
	totals := s.Totals()
	out := types.Overview{
		IsBaseline:       snap.Primary == nil || !s.gate.Activated(totals),
		TotalSubmissions: totals.Submissions,
		TotalTrips:       totals.Trips,
		TotalStops:       totals.Stops,
		RatePer100:       types.Round2(totals.RatePer100()),
		Groups:           []types.GroupView{},
	}
	if out.IsBaseline {
		return out
	}

	out.ModelRunID = snap.Primary.ID
	for _, c := range snap.Cells {
		if s.gate.Suppress(c.NPeople) {
			continue
		}
		g := types.GroupView{
			GroupKey:   c.Key.String(),
			NPeople:    c.NPeople,
			NTrips:     c.NTrips,
			NStops:     c.NStops,
			RatePer100: types.Round2(c.RatePer100),
		}
		if c.IRR != nil {
			irr := types.Round2(*c.IRR)
			g.IRRVsRef = &irr
		}
		if c.CILower != nil && c.CIUpper != nil {
			g.ConfidenceInterval = []float64{types.Round2(*c.CILower), types.Round2(*c.CIUpper)}
		}
		out.Groups = append(out.Groups, g)
	}
	return out
}

// Predict returns the personal estimate for traits.
func (s *Service) Predict(_ context.Context, traits model.Traits) types.Prediction {
	snap := s.snapshot()
	p := s.predictor.Predict(prediction.Input{
		Traits:     traits,
		Totals:     s.Totals(),
		Run:        snap.Primary,
		Engagement: snap.Engagement,
	})
	mode := "model"
	if p.IsBaseline {
		mode = "baseline"
	}
	metrics.RecordPrediction(mode)
	return p
}

// Methods describes the run behind the published charts, or the activation
// requirements when serving the baseline.
func (s *Service) Methods(_ context.Context) types.Methods {
	snap := s.snapshot()
	totals := s.Totals()
	if snap.Primary == nil || !s.gate.Activated(totals) {
		subs, stops := s.gate.Requirements()
		return types.Methods{
			ModelType:  "baseline",
			SampleSize: totals.Submissions,
			Metrics: map[string]any{
				"rate_per_100": types.Round2(totals.RatePer100()),
			},
			Requirements: &types.Requirements{
				RequiredSubmissions: subs,
				RequiredStops:       stops,
				CurrentSubmissions:  totals.Submissions,
				CurrentStops:        totals.Stops,
			},
			Note: "insufficient data",
		}
	}

	run := snap.Primary
	created := run.CreatedAt
	m := run.Metrics
	out := types.Methods{
		ModelType:   string(run.Type),
		ModelRunID:  run.ID,
		LastTrained: &created,
		SampleSize:  run.TrainRows,
		Metrics: map[string]any{
			"deviance":         m.Deviance,
			"pearson_chi2":     m.PearsonChi2,
			"log_likelihood":   m.LogLikelihood,
			"aic":              m.AIC,
			"bic":              m.BIC,
			"df_resid":         m.DegreesOfFreedom,
			"iterations":       m.Iterations,
			"converged":        m.Converged,
			"dispersion_ratio": run.DispersionRatio,
			"min_group_size":   s.gate.MinGroupSize(),
		},
	}
	if run.Type == model.ModelNegBin {
		out.Metrics["nb_alpha"] = m.Alpha
	}
	if len(m.DroppedTerms) > 0 {
		out.Metrics["dropped_terms"] = m.DroppedTerms
	}
	if eng := snap.Engagement; eng != nil && eng.ParentRunID == run.ID {
		out.Metrics["engagement_model_run_id"] = eng.ID
		out.Metrics["engagement_auc"] = eng.Metrics.AUC
		out.Metrics["engagement_brier"] = eng.Metrics.Brier
	}
	return out
}

// EnqueueJob queues a batch job. It returns false when the queue is full, a
// job of the same kind is already waiting, or no worker is running.
func (s *Service) EnqueueJob(ctx context.Context, kind model.JobKind, reason string) (model.Job, bool) {
	job := model.Job{ID: uuid.NewString(), Kind: kind, Reason: reason, RequestedAt: s.now().UTC()}
	if !s.started.Load() || s.jobs == nil {
		return job, false
	}
	ok := s.jobs.Enqueue(ctx, job)
	if ok {
		s.logger.Debug(ctx, "job enqueued",
			logger.String("job_id", job.ID), logger.String("kind", string(kind)), logger.String("reason", reason))
	}
	return job, ok
}

// RunJob executes one batch job; it is the job worker's runner.
func (s *Service) RunJob(ctx context.Context, job model.Job) error {
	switch job.Kind {
	case model.JobTrain:
		_, err := s.Train(ctx, job.Reason)
		return err
	case model.JobPrune:
		_, err := s.Prune(ctx)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, job.Kind)
	}
}

// Publish makes run id current for its kind. Publishing an older id is a
// rollback.
func (s *Service) Publish(ctx context.Context, id string) (*model.ModelRun, error) {
	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	run, err := s.registry.Publish(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "run published",
		logger.String("model_run_id", run.ID), logger.String("kind", string(run.Kind)))
	return run, nil
}

// Runs lists recorded runs newest first. An empty kind lists every kind.
func (s *Service) Runs(ctx context.Context, kind model.RunKind, limit int) ([]*model.ModelRun, error) {
	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	return s.registry.List(ctx, kind, limit)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	ctx := context.Background()
	totals := s.Totals()
	stats := map[string]interface{}{
		"started":           s.started.Load(),
		"storedSubmissions": s.stored.Load(),
		"cleanSubmissions":  totals.Submissions,
		"cleanTrips":        totals.Trips,
		"cleanStops":        totals.Stops,
		"trackedClients":    s.validator.TrackedClients(),
		"activated":         s.gate.Activated(totals),
		"minGroupSize":      s.gate.MinGroupSize(),
		"autoPublish":       s.autoPublish,
		"engagementEnabled": s.engagementEnabled,
	}

	snap := s.snapshot()
	if snap.Primary != nil {
		stats["modelRunId"] = snap.Primary.ID
		stats["modelType"] = string(snap.Primary.Type)
		stats["publishedCells"] = len(snap.Cells)
	}
	if snap.Engagement != nil {
		stats["engagementRunId"] = snap.Engagement.ID
	}
	if s.jobs != nil {
		queueLen := s.jobs.Len(ctx)
		stats["jobQueueLength"] = queueLen
		metrics.UpdateQueueSize(queueLen)
	}
	metrics.UpdateStoredSubmissions(int(s.stored.Load()))
	return stats
}

func runID(run *model.ModelRun) string {
	if run == nil {
		return ""
	}
	return run.ID
}
