// Package intake validates candidate submissions before they reach storage.
package intake

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/okian/stopodds/internal/domain/dedupe"
	"github.com/okian/stopodds/internal/domain/model"
)

// Range limits for a single 30-day report.
const (
	MinTrips = 1
	MaxTrips = 200
)

// Defaults for the anomaly heuristics.
const (
	DefaultAnomalyTripsThreshold = 100
	DefaultRepeatClientLimit     = 5
	defaultFraudSecret           = "stopodds-dev-secret"
)

// Candidate is an unvalidated submission. Trips and Stops are pointers so a
// missing field can be told apart from zero. Traits holds raw trait names
// and values; booleans are "true" or "false".
type Candidate struct {
	Trips  *int
	Stops  *int
	Traits map[string]string
}

// Metadata is the client information the fraud token is derived from. It is
// hashed and never stored.
type Metadata struct {
	UserAgent string
	ClientIP  string
}

// Validator enforces submission invariants and attaches anomaly flags.
type Validator struct {
	secret       []byte
	anomalyTrips int
	repeatLimit  int
	counter      dedupe.Counter
	now          func() time.Time
	newID        func() string
}

// NewValidator creates a validator with configuration options.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		secret:       []byte(defaultFraudSecret),
		anomalyTrips: DefaultAnomalyTripsThreshold,
		repeatLimit:  DefaultRepeatClientLimit,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.counter == nil {
		v.counter = dedupe.NewInMemoryCounter()
	}
	return v
}

// Validate returns an accepted submission or a *Rejection.
func (v *Validator) Validate(ctx context.Context, c Candidate, meta Metadata) (model.Submission, error) {
	if c.Trips == nil {
		return model.Submission{}, reject(CodeMissingField, "trips", "trips is required")
	}
	trips := *c.Trips
	if trips < MinTrips || trips > MaxTrips {
		return model.Submission{}, reject(CodeTripsOutOfRange, "trips", "trips must be between %d and %d, got %d", MinTrips, MaxTrips, trips)
	}
	if c.Stops == nil {
		return model.Submission{}, reject(CodeMissingField, "stops", "stops is required")
	}
	stops := *c.Stops
	if stops < 0 || stops > trips {
		return model.Submission{}, reject(CodeStopsOutOfRange, "stops", "stops must be between 0 and trips (%d), got %d", trips, stops)
	}

	traits, err := validateTraits(c.Traits)
	if err != nil {
		return model.Submission{}, err
	}

	now := v.now().UTC()
	sub := model.Submission{
		ID:            v.newID(),
		Trips:         trips,
		Stops:         stops,
		Traits:        traits,
		CreatedAt:     now,
		FraudSignal:   FraudToken(v.secret, now, meta),
		SchemaVersion: model.SchemaVersion,
	}

	if trips > v.anomalyTrips {
		sub.Anomalies = append(sub.Anomalies, model.AnomalyHighTrips)
	}
	if v.counter.SeenAndRecord(ctx, sub.FraudSignal) > v.repeatLimit {
		sub.Anomalies = append(sub.Anomalies, model.AnomalyRepeatClient)
	}
	return sub, nil
}

// Release undoes the frequency count of a submission that failed to persist.
func (v *Validator) Release(ctx context.Context, sub model.Submission) {
	v.counter.Unrecord(ctx, sub.FraudSignal)
}

// TrackedClients returns the number of distinct tokens being counted.
func (v *Validator) TrackedClients() int64 {
	return v.counter.Size()
}

// validateTraits checks names and values in a stable order so the same bad
// payload always produces the same rejection.
func validateTraits(raw map[string]string) (model.Traits, error) {
	if len(raw) == 0 {
		return model.Traits{}, nil
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(model.Traits, len(raw))
	for _, name := range names {
		spec, ok := model.LookupTrait(model.Trait(name))
		if !ok {
			return nil, reject(CodeUnknownTrait, name, "unknown trait %q", name)
		}
		value := raw[name]
		if !spec.Valid(value) {
			return nil, reject(CodeInvalidTraitValue, name, "%q is not a valid %s", value, spec.Label)
		}
		out[spec.Name] = value
	}
	return out, nil
}

// FraudToken derives the opaque daily token for a client. The salt is an
// HMAC of the UTC calendar date, so tokens for the same client are
// unlinkable across days.
func FraudToken(secret []byte, at time.Time, meta Metadata) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(at.UTC().Format(time.DateOnly)))
	salt := mac.Sum(nil)

	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(meta.UserAgent))
	h.Write([]byte{0})
	h.Write([]byte(meta.ClientIP))
	return hex.EncodeToString(h.Sum(nil))
}
