package queue

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum number of pending jobs.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithCoalescing refuses a job while another job of the same kind is still
// waiting, so repeated triggers collapse into the one already queued.
func WithCoalescing() Option {
	return func(q *InMemoryQueue) {
		q.coalesce = true
	}
}
