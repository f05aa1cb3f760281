package intake

import (
	"time"

	"github.com/okian/stopodds/internal/domain/dedupe"
)

// Option applies a configuration option to the Validator.
type Option func(*Validator)

// WithFraudSecret sets the key the daily salt is derived from.
func WithFraudSecret(secret string) Option {
	return func(v *Validator) {
		if secret != "" {
			v.secret = []byte(secret)
		}
	}
}

// WithAnomalyTripsThreshold sets the trip count above which rows are flagged.
func WithAnomalyTripsThreshold(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.anomalyTrips = n
		}
	}
}

// WithRepeatClientLimit sets how many rows one token may submit per day
// before further rows are flagged.
func WithRepeatClientLimit(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.repeatLimit = n
		}
	}
}

// WithCounter sets the token frequency tracker.
func WithCounter(c dedupe.Counter) Option {
	return func(v *Validator) {
		if c != nil {
			v.counter = c
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithIDGenerator overrides submission id generation.
func WithIDGenerator(gen func() string) Option {
	return func(v *Validator) {
		if gen != nil {
			v.newID = gen
		}
	}
}
