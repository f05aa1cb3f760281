package sampledata

import (
	"time"

	"github.com/okian/stopodds/internal/domain/model"
	"github.com/okian/stopodds/pkg/logger"
)

// Option configures a Generator.
type Option func(*Generator)

// WithBaseRate sets the per-trip stop probability of the reference person.
func WithBaseRate(rate float64) Option {
	return func(g *Generator) {
		if rate > 0 && rate < 1 {
			g.baseRate = rate
		}
	}
}

// WithTripRange bounds the trips drawn per row.
func WithTripRange(low, high int) Option {
	return func(g *Generator) {
		if low >= 1 && high >= low {
			g.minTrips = low
			g.maxTrips = high
		}
	}
}

// WithSetProbability sets how often each trait is answered.
func WithSetProbability(p float64) Option {
	return func(g *Generator) {
		if p >= 0 && p <= 1 {
			g.setProb = p
		}
	}
}

// WithEffects replaces the rate ratios applied per trait level.
func WithEffects(effects map[model.Trait]map[string]float64) Option {
	return func(g *Generator) {
		if effects != nil {
			g.effects = effects
		}
	}
}

// SeederOption configures a Seeder.
type SeederOption func(*Seeder)

// WithWorkers sets the number of concurrent submitters.
func WithWorkers(n int) SeederOption {
	return func(s *Seeder) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithProgress installs a callback invoked after every submission.
func WithProgress(fn func(Stats)) SeederOption {
	return func(s *Seeder) {
		s.progress = fn
	}
}

// WithProgressInterval limits how often the progress callback fires.
func WithProgressInterval(d time.Duration) SeederOption {
	return func(s *Seeder) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger the run summary goes to. The global logger is
// used when none is given.
func WithLogger(l logger.Logger) SeederOption {
	return func(s *Seeder) {
		if l != nil {
			s.logger = l
		}
	}
}
