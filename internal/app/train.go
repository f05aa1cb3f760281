package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/stopodds/internal/adapters/lease"
	"github.com/okian/stopodds/internal/domain/aggregate"
	"github.com/okian/stopodds/internal/domain/model"
	"github.com/okian/stopodds/pkg/logger"
	"github.com/okian/stopodds/pkg/metrics"
)

// BatchLease is the lease name training and prune jobs both hold, so at most
// one of them runs across all instances sharing a locker.
const BatchLease = "batch"

// TrainResult reports what one training job produced.
type TrainResult struct {
	Run        *model.ModelRun
	Engagement *model.ModelRun
	Cells      int
	Suppressed int
	Excluded   int
	Published  bool
	Took       time.Duration
}

// Train snapshots the corpus, fits the rate model, computes the
// privacy-filtered cells and records the run. The run is published when
// auto publish is on. Any failure leaves the current run in place.
func (s *Service) Train(ctx context.Context, reason string) (*TrainResult, error) {
	if !s.started.Load() {
		return nil, ErrNotStarted
	}

	release, err := s.acquireLease(ctx)
	if err != nil {
		if errors.Is(err, ErrJobInProgress) {
			metrics.RecordTrainingRun(string(model.RunPrimary), "conflict")
		}
		return nil, err
	}
	defer release()

	start := s.now()
	res, err := s.train(ctx, reason)
	if err != nil {
		outcome := "failed"
		if errors.Is(err, ErrInsufficientSample) {
			outcome = "insufficient"
		}
		metrics.RecordTrainingRun(string(model.RunPrimary), outcome)
		s.logger.Warn(ctx, "training job ended without a run",
			logger.String("reason", reason), logger.Error(err))
		return nil, err
	}
	res.Took = s.now().Sub(start)
	metrics.RecordTrainingDuration(res.Took.Seconds())

	outcome := "recorded"
	if res.Published {
		outcome = "published"
	}
	metrics.RecordTrainingRun(string(model.RunPrimary), outcome)

	fields := []logger.Field{
		logger.String("model_run_id", res.Run.ID),
		logger.String("model_type", string(res.Run.Type)),
		logger.Int("train_rows", res.Run.TrainRows),
		logger.Float64("dispersion_ratio", res.Run.DispersionRatio),
		logger.Int("cells", res.Cells),
		logger.Int("suppressed", res.Suppressed),
		logger.Bool("published", res.Published),
		logger.Duration("took", res.Took),
	}
	if res.Engagement != nil {
		fields = append(fields, logger.String("engagement_run_id", res.Engagement.ID))
	}
	s.logger.Info(ctx, "training job finished", fields...)
	return res, nil
}

func (s *Service) train(ctx context.Context, reason string) (*TrainResult, error) {
	rows, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot submissions: %w", err)
	}

	sum := aggregate.Aggregate(rows)
	if !s.gate.Activated(sum.Totals) {
		return nil, fmt.Errorf("%w: %d submissions, %d stops", ErrInsufficientSample, sum.Totals.Submissions, sum.Totals.Stops)
	}

	run, err := s.rates.Fit(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("fit rate model: %w", err)
	}
	run.ID = uuid.NewString()
	run.CreatedAt = s.now().UTC()
	run.Notes = reason
	metrics.RecordDroppedTerms(len(run.Metrics.DroppedTerms))

	cells := aggregate.AttachIRR(s.gate.Filter(sum.Cells), run)
	if err := s.registry.Record(ctx, run, cells); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}

	res := &TrainResult{
		Run:        run,
		Cells:      len(cells),
		Suppressed: len(sum.Cells) - len(cells),
		Excluded:   sum.Excluded,
	}
	if s.autoPublish {
		if _, err := s.registry.Publish(ctx, run.ID); err != nil {
			return nil, fmt.Errorf("publish run: %w", err)
		}
		res.Published = true
	}

	// The engagement classifier only ever sits on top of a published primary run.
	if s.engagementEnabled && res.Published {
		eng, err := s.trainEngagement(ctx, rows, run)
		if err != nil {
			// The primary run stands on its own.
			metrics.RecordTrainingRun(string(model.RunEngagement), "failed")
			s.logger.Warn(ctx, "engagement model not trained", logger.Error(err))
		} else {
			res.Engagement = eng
		}
	}
	return res, nil
}

func (s *Service) trainEngagement(ctx context.Context, rows []model.Submission, parent *model.ModelRun) (*model.ModelRun, error) {
	ensemble, m, err := s.trainer.Train(ctx, rows)
	if err != nil {
		return nil, err
	}
	run := &model.ModelRun{
		ID:            uuid.NewString(),
		Kind:          model.RunEngagement,
		Type:          model.ModelGBT,
		CreatedAt:     s.now().UTC(),
		TrainRows:     parent.TrainRows,
		SchemaVersion: model.SchemaVersion,
		Totals:        parent.Totals,
		Metrics:       m,
		Engagement:    ensemble,
		ParentRunID:   parent.ID,
	}
	if err := s.registry.Record(ctx, run, nil); err != nil {
		return nil, fmt.Errorf("record engagement run: %w", err)
	}
	if _, err := s.registry.Publish(ctx, run.ID); err != nil {
		return nil, fmt.Errorf("publish engagement run: %w", err)
	}
	metrics.RecordTrainingRun(string(model.RunEngagement), "published")
	return run, nil
}

// Prune deletes raw rows older than the retention window and reloads the
// corpus totals. Published runs and cells are not touched.
func (s *Service) Prune(ctx context.Context) (int, error) {
	if !s.started.Load() {
		return 0, ErrNotStarted
	}
	release, err := s.acquireLease(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	cutoff := s.now().UTC().AddDate(0, -s.retentionMonths, 0)

	s.intakeMu.Lock()
	defer s.intakeMu.Unlock()
	n, err := s.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired submissions: %w", err)
	}
	if err := s.reloadTotals(ctx); err != nil {
		return n, fmt.Errorf("reload corpus totals: %w", err)
	}
	s.logger.Info(ctx, "retention prune finished",
		logger.Int("deleted", n), logger.String("cutoff", cutoff.Format(time.RFC3339)))
	return n, nil
}

// acquireLease takes the batch lease. A lease held elsewhere is
// ErrJobInProgress.
func (s *Service) acquireLease(ctx context.Context) (func(), error) {
	token, err := s.locker.Acquire(ctx, BatchLease, s.leaseTTL)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			metrics.RecordLeaseConflict()
			return nil, ErrJobInProgress
		}
		return nil, fmt.Errorf("acquire batch lease: %w", err)
	}
	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), BatchLease, token); err != nil {
			s.logger.Warn(ctx, "release batch lease", logger.Error(err))
		}
	}, nil
}
