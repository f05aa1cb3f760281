package worker

import (
	"time"

	"github.com/okian/stopodds/pkg/logger"
)

// Option configures an InMemoryWorker. A Pool applies its options to every
// worker it starts.
type Option func(*InMemoryWorker)

// WithName sets the name job outcomes are logged under. Pool workers get
// their index appended.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets the logger job outcomes are written to.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithJobTimeout bounds each job run. A job holding a lease should be cut
// off before the lease expires.
func WithJobTimeout(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d > 0 {
			w.jobTimeout = d
		}
	}
}
