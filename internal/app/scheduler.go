package service

import (
	"context"
	"time"

	"github.com/okian/stopodds/internal/domain/model"
	"github.com/okian/stopodds/pkg/logger"
	"github.com/okian/stopodds/pkg/metrics"
)

const reasonSchedule = "schedule"

// startScheduler enqueues periodic jobs and refreshes the registry pointer so
// a publish from another process reaches this one.
func (s *Service) startScheduler(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		train := time.NewTicker(s.trainInterval)
		defer train.Stop()
		prune := time.NewTicker(s.pruneInterval)
		defer prune.Stop()
		refresh := time.NewTicker(s.refreshInterval)
		defer refresh.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-train.C:
				s.schedule(ctx, model.JobTrain)
			case <-prune.C:
				s.schedule(ctx, model.JobPrune)
			case <-refresh.C:
				if err := s.registry.Refresh(ctx); err != nil {
					metrics.RecordErrorByComponent("registry", "refresh")
					s.logger.Warn(ctx, "registry refresh failed", logger.Error(err))
				}
			}
		}
	}()
}

func (s *Service) schedule(ctx context.Context, kind model.JobKind) {
	if job, ok := s.EnqueueJob(ctx, kind, reasonSchedule); !ok {
		s.logger.Warn(ctx, "scheduled job dropped; queue full or same kind already waiting",
			logger.String("job_id", job.ID), logger.String("kind", string(kind)))
	}
}
