// Package dedupe tracks how often a fraud-signal token has submitted.
package dedupe

// Option applies a configuration option to the in-memory counter.
type Option func(*inMemoryCounter)

// WithMaxSize sets the maximum number of tokens to keep in memory.
// If maxSize > 0: bounded mode with oldest-first eviction.
// If maxSize <= 0: unbounded mode.
func WithMaxSize(maxSize int) Option {
	return func(c *inMemoryCounter) {
		c.maxSize = maxSize
	}
}
