package engagement

// Option applies a configuration option to the Trainer.
type Option func(*Trainer)

// WithRounds sets the number of boosting rounds.
func WithRounds(n int) Option {
	return func(t *Trainer) {
		if n > 0 {
			t.rounds = n
		}
	}
}

// WithLearningRate sets the shrinkage applied to each tree.
func WithLearningRate(lr float64) Option {
	return func(t *Trainer) {
		if lr > 0 && lr <= 1 {
			t.learningRate = lr
		}
	}
}

// WithMaxDepth sets the depth of each tree.
func WithMaxDepth(d int) Option {
	return func(t *Trainer) {
		if d > 0 {
			t.maxDepth = d
		}
	}
}

// WithMinLeaf sets the minimum number of rows per leaf.
func WithMinLeaf(n int) Option {
	return func(t *Trainer) {
		if n > 0 {
			t.minLeaf = n
		}
	}
}

// WithHoldoutEvery holds out every nth row for calibration and metrics.
func WithHoldoutEvery(n int) Option {
	return func(t *Trainer) {
		if n > 1 {
			t.holdoutEvery = n
		}
	}
}
