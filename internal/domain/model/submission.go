package model

import (
	"fmt"
	"time"
)

// Anomaly flags attached by intake. Flagged rows are stored but never used
// for training or aggregation.
const (
	AnomalyHighTrips    = "high_trips"
	AnomalyRepeatClient = "repeat_client"
)

// Submission is one respondent's accepted report. It is immutable once stored.
type Submission struct {
	ID            string
	Trips         int
	Stops         int
	Traits        Traits
	CreatedAt     time.Time
	FraudSignal   string
	Anomalies     []string
	SchemaVersion int
}

// Anomalous reports whether intake attached any anomaly flag.
func (s Submission) Anomalous() bool { return len(s.Anomalies) > 0 }

// GroupKey identifies a single-trait marginal group.
type GroupKey struct {
	Trait Trait
	Value string
}

// String renders the key as "trait=value".
func (k GroupKey) String() string { return fmt.Sprintf("%s=%s", k.Trait, k.Value) }

// GroupCell is the marginal summary for one trait value.
type GroupCell struct {
	Key        GroupKey
	NPeople    int
	NTrips     int
	NStops     int
	RatePer100 float64

	// IRR against the trait's reference level; nil when the model has no
	// usable term for the level.
	IRR     *float64
	CILower *float64
	CIUpper *float64

	Suppressed bool
}

// Totals summarises a corpus of submissions.
type Totals struct {
	Submissions int
	Trips       int
	Stops       int
}

// RatePer100 is the additive corpus rate, zero when there are no trips.
func (t Totals) RatePer100() float64 {
	return RatePer100(t.Stops, t.Trips)
}

// Add accumulates one submission.
func (t *Totals) Add(trips, stops int) {
	t.Submissions++
	t.Trips += trips
	t.Stops += stops
}

// RatePer100 computes stops/trips*100 with the zero-exposure convention.
func RatePer100(stops, trips int) float64 {
	if trips == 0 {
		return 0
	}
	return float64(stops) / float64(trips) * 100
}
