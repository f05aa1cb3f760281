// Package types contains the read-side response shapes used across the application
package types

import (
	"math"
	"time"
)

// GroupView is one published marginal group in the overview
type GroupView struct {
	GroupKey           string    `json:"group_key"`
	NPeople            int       `json:"n_people"`
	NTrips             int       `json:"n_trips"`
	NStops             int       `json:"n_stops"`
	RatePer100         float64   `json:"rate_per_100"`
	IRRVsRef           *float64  `json:"irr_vs_ref,omitempty"`
	ConfidenceInterval []float64 `json:"confidence_interval,omitempty"`
}

// Overview is the public aggregate table
type Overview struct {
	IsBaseline       bool        `json:"is_baseline"`
	TotalSubmissions int         `json:"total_submissions"`
	TotalTrips       int         `json:"total_trips"`
	TotalStops       int         `json:"total_stops"`
	RatePer100       float64     `json:"rate_per_100"`
	ModelRunID       string      `json:"model_run_id,omitempty"`
	Groups           []GroupView `json:"groups"`
}

// Factor is one ranked contributor to an engagement prediction
type Factor struct {
	Feature      string  `json:"feature"`
	Contribution float64 `json:"contribution"`
}

// Engagement is the calibrated probability of at least one stop
type Engagement struct {
	Probability float64  `json:"probability"`
	Exposure    int      `json:"exposure_trips"`
	TopFactors  []Factor `json:"top_factors"`
	ModelRunID  string   `json:"model_run_id"`
}

// Prediction is a personal rate estimate in stops per 100 trips
type Prediction struct {
	Probability        float64     `json:"probability"`
	ConfidenceInterval []float64   `json:"confidence_interval,omitempty"`
	Explanation        []string    `json:"explanation"`
	IsBaseline         bool        `json:"is_baseline"`
	ModelRunID         string      `json:"model_run_id,omitempty"`
	UnusedTraits       int         `json:"unused_traits,omitempty"`
	Engagement         *Engagement `json:"engagement,omitempty"`
}

// Requirements reports the activation gate against current counts
type Requirements struct {
	RequiredSubmissions int `json:"required_submissions"`
	RequiredStops       int `json:"required_stops"`
	CurrentSubmissions  int `json:"current_submissions"`
	CurrentStops        int `json:"current_stops"`
}

// Methods describes the run behind every published chart
type Methods struct {
	ModelType    string         `json:"model_type"`
	ModelRunID   string         `json:"model_run_id,omitempty"`
	LastTrained  *time.Time     `json:"last_trained"`
	SampleSize   int            `json:"sample_size"`
	Metrics      map[string]any `json:"metrics"`
	Requirements *Requirements  `json:"requirements,omitempty"`
	Note         string         `json:"note,omitempty"`
}

// Round2 rounds to two decimals for presentation
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
