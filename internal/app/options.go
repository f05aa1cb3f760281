package service

import (
	"time"

	"github.com/okian/stopodds/internal/adapters/lease"
	"github.com/okian/stopodds/internal/adapters/repository"
	"github.com/okian/stopodds/internal/config"
	"github.com/okian/stopodds/internal/domain/model"
	"github.com/okian/stopodds/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the backing store. The service does not close a store it
// was given.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithLocker sets the lease used to serialise training jobs.
func WithLocker(l lease.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMinGroupSize sets k, the smallest publishable group.
func WithMinGroupSize(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.minGroupSize = k
		}
	}
}

// WithActivation sets the corpus size model mode requires.
func WithActivation(submissions, stops int) Option {
	return func(s *Service) {
		if submissions >= 0 && stops >= 0 {
			s.minSubmissions, s.minStops = submissions, stops
		}
	}
}

// WithDispersionThreshold sets the Pearson ratio above which NB2 is fitted.
func WithDispersionThreshold(t float64) Option {
	return func(s *Service) {
		if t > 0 {
			s.dispersionThreshold = t
		}
	}
}

// WithReferences overrides reference levels per trait.
func WithReferences(refs map[model.Trait]string) Option {
	return func(s *Service) {
		for t, v := range refs {
			s.references[t] = v
		}
	}
}

// WithAnomalyTripsThreshold sets the trip count above which rows are flagged.
func WithAnomalyTripsThreshold(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.anomalyTrips = n
		}
	}
}

// WithRepeatClientLimit sets how many submissions per daily token are clean.
func WithRepeatClientLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.repeatLimit = n
		}
	}
}

// WithDedupeSize bounds the number of fraud tokens tracked.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithFraudSecret sets the daily salt key. An empty secret makes the service
// generate a random one per process.
func WithFraudSecret(secret string) Option {
	return func(s *Service) {
		s.fraudSecret = secret
	}
}

// WithRetentionMonths bounds how long raw rows are kept.
func WithRetentionMonths(months int) Option {
	return func(s *Service) {
		if months > 0 {
			s.retentionMonths = months
		}
	}
}

// WithSchedule sets the periodic train, prune and registry refresh intervals.
func WithSchedule(train, prune, refresh time.Duration) Option {
	return func(s *Service) {
		if train > 0 {
			s.trainInterval = train
		}
		if prune > 0 {
			s.pruneInterval = prune
		}
		if refresh > 0 {
			s.refreshInterval = refresh
		}
	}
}

// WithLeaseTTL bounds how long a crashed trainer can block the next one. Queued
// jobs are cancelled when they run longer than this.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.leaseTTL = ttl
		}
	}
}

// WithAutoPublish controls whether a successful training run is published.
func WithAutoPublish(on bool) Option {
	return func(s *Service) {
		s.autoPublish = on
	}
}

// WithJobQueueSize sets the job queue capacity.
func WithJobQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.jobQueueSize = size
		}
	}
}

// WithEngagement enables the boosted engagement model.
func WithEngagement(enabled bool, rounds int) Option {
	return func(s *Service) {
		s.engagementEnabled = enabled
		if rounds > 0 {
			s.engagementRounds = rounds
		}
	}
}

// WithPredictionExposure sets the trip count engagement is quoted at.
func WithPredictionExposure(trips int) Option {
	return func(s *Service) {
		if trips > 0 {
			s.exposure = trips
		}
	}
}

// WithBackground controls whether Start runs the job worker and scheduler.
// One-shot callers such as the admin CLI turn it off and call Train or
// Prune directly.
func WithBackground(on bool) Option {
	return func(s *Service) {
		s.background = on
	}
}

// FromConfig maps a loaded Config onto service options.
func FromConfig(cfg *config.Config) []Option {
	return []Option{
		WithMinGroupSize(cfg.MinGroupSize),
		WithActivation(cfg.ActivationMinSubmissions, cfg.ActivationMinStops),
		WithDispersionThreshold(cfg.DispersionThreshold),
		WithReferences(cfg.References()),
		WithAnomalyTripsThreshold(cfg.AnomalyTripsThreshold),
		WithRepeatClientLimit(cfg.RepeatClientLimit),
		WithDedupeSize(cfg.DedupeSize),
		WithFraudSecret(cfg.FraudSecret),
		WithRetentionMonths(cfg.RetentionMonths),
		WithSchedule(cfg.TrainInterval, cfg.PruneInterval, cfg.RegistryRefreshInterval),
		WithLeaseTTL(cfg.LeaseTTL),
		WithAutoPublish(cfg.AutoPublish),
		WithJobQueueSize(cfg.JobQueueSize),
		WithEngagement(cfg.EngagementEnabled, cfg.EngagementRounds),
		WithPredictionExposure(cfg.PredictionExposure),
	}
}
