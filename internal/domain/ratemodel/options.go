package ratemodel

import "github.com/okian/stopodds/internal/domain/model"

// Option applies a configuration option to the Model.
type Option func(*Model)

// WithDispersionThreshold sets the Pearson ratio above which the fit escalates
// to negative binomial.
func WithDispersionThreshold(t float64) Option {
	return func(m *Model) {
		if t > 0 {
			m.dispersionThreshold = t
		}
	}
}

// WithReferences sets the baseline level per trait. Traits missing from refs
// keep their default reference.
func WithReferences(refs map[model.Trait]string) Option {
	return func(m *Model) {
		for k, v := range refs {
			m.references[k] = v
		}
	}
}

// WithMaxIterations caps IRLS iterations per fit.
func WithMaxIterations(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.maxIter = n
		}
	}
}

// WithTolerance sets the relative deviance change that counts as converged.
func WithTolerance(tol float64) Option {
	return func(m *Model) {
		if tol > 0 {
			m.tol = tol
		}
	}
}

// WithSeparationBound sets the coefficient magnitude treated as separation.
func WithSeparationBound(b float64) Option {
	return func(m *Model) {
		if b > 0 {
			m.separationBound = b
		}
	}
}
