// Package prediction turns a trait set and the published artifacts into a
// personal rate estimate with an interval and a short explanation.
package prediction

import (
	"fmt"
	"math"
	"sort"

	"github.com/okian/stopodds/internal/domain/engagement"
	"github.com/okian/stopodds/internal/domain/model"
	"github.com/okian/stopodds/internal/domain/privacy"
	"github.com/okian/stopodds/internal/domain/types"
)

// Defaults.
const (
	DefaultExposure = 30
	maxExplanations = 3
	z95             = 1.96
)

// Explanations used when no per-trait statement applies.
const (
	BaselineExplanation  = "Not enough reports yet for a personal estimate; this is the average rate across all reports."
	ReferenceExplanation = "None of your answers move the estimate away from the reference profile."
	NoDataExplanation    = "No reports have been received yet."
)

// Input is everything a prediction may read. Runs may be nil. Engagement is
// only used when its parent is Run.
type Input struct {
	Traits     model.Traits
	Totals     model.Totals
	Run        *model.ModelRun
	Engagement *model.ModelRun
}

// Service computes predictions. It holds no per-request state.
type Service struct {
	gate     *privacy.Gate
	exposure int
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithExposure sets the trip count the engagement probability is quoted at.
func WithExposure(trips int) Option {
	return func(s *Service) {
		if trips > 0 {
			s.exposure = trips
		}
	}
}

// New creates a prediction service backed by gate.
func New(gate *privacy.Gate, opts ...Option) *Service {
	s := &Service{gate: gate, exposure: DefaultExposure}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Baseline reports whether in would be served in baseline mode.
func (s *Service) Baseline(in Input) bool {
	return in.Run == nil || !s.gate.Activated(in.Totals)
}

// Predict returns a model based estimate, or the corpus baseline when no run
// is published or the activation gate is unmet.
func (s *Service) Predict(in Input) types.Prediction {
	if s.Baseline(in) {
		return baseline(in.Totals)
	}
	return s.fromModel(in)
}

func baseline(t model.Totals) types.Prediction {
	p := types.Prediction{
		Probability: types.Round2(t.RatePer100()),
		IsBaseline:  true,
		Explanation: []string{BaselineExplanation},
	}
	if t.Trips == 0 {
		p.Explanation = []string{NoDataExplanation}
		return p
	}
	if t.Stops > 0 {
		logRate := math.Log(t.RatePer100())
		se := 1 / math.Sqrt(float64(t.Stops))
		p.ConfidenceInterval = []float64{
			types.Round2(math.Exp(logRate - z95*se)),
			types.Round2(math.Exp(logRate + z95*se)),
		}
	}
	return p
}

type usedTerm struct {
	trait model.Trait
	value string
	beta  float64
}

func (s *Service) fromModel(in Input) types.Prediction {
	run := in.Run
	// x is aligned with the covariance: intercept then coefficients.
	x := make([]float64, len(run.Coefficients)+1)
	x[0] = 1
	eta := run.Intercept.Beta
	unused := 0
	var used []usedTerm

	for _, trait := range in.Traits.Keys() {
		value := in.Traits[trait]
		if run.References[trait] == value {
			continue
		}
		c, idx, ok := run.Lookup(trait, value)
		if !ok || s.gate.Suppress(c.NPeople) {
			unused++
			continue
		}
		x[idx+1] = 1
		eta += c.Beta
		used = append(used, usedTerm{trait: trait, value: value, beta: c.Beta})
	}

	p := types.Prediction{
		Probability:  types.Round2(math.Exp(eta) * 100),
		ModelRunID:   run.ID,
		UnusedTraits: unused,
		Explanation:  explain(used, run.References),
	}
	if v := quadForm(run.Covariance, x); v >= 0 && !math.IsNaN(v) {
		se := math.Sqrt(v)
		p.ConfidenceInterval = []float64{
			types.Round2(math.Exp(eta-z95*se) * 100),
			types.Round2(math.Exp(eta+z95*se) * 100),
		}
	}
	// An engagement run trained under another primary run is stale, for
	// example after a rollback.
	if eng := in.Engagement; eng != nil && eng.Engagement != nil && eng.ParentRunID == run.ID {
		p.Engagement = s.engagement(eng, in.Traits)
	}
	return p
}

func (s *Service) engagement(run *model.ModelRun, traits model.Traits) *types.Engagement {
	r := engagement.Predict(run.Engagement, traits, s.exposure)
	out := &types.Engagement{
		Probability: math.Round(r.Probability*1000) / 1000,
		Exposure:    s.exposure,
		ModelRunID:  run.ID,
		TopFactors:  []types.Factor{},
	}
	for _, c := range r.Top(maxExplanations) {
		out.TopFactors = append(out.TopFactors, types.Factor{Feature: c.Feature, Contribution: math.Round(c.Value*1e4) / 1e4})
	}
	return out
}

// quadForm is xᵀ·Σ·x. A covariance of the wrong shape yields -1.
func quadForm(cov [][]float64, x []float64) float64 {
	if len(cov) != len(x) {
		return -1
	}
	v := 0.0
	for i := range x {
		if x[i] == 0 {
			continue
		}
		if len(cov[i]) != len(x) {
			return -1
		}
		for j := range x {
			v += x[i] * cov[i][j] * x[j]
		}
	}
	return v
}

// explain phrases the largest effects as comparisons with the reference.
func explain(used []usedTerm, refs map[model.Trait]string) []string {
	if len(used) == 0 {
		return []string{ReferenceExplanation}
	}
	sort.SliceStable(used, func(a, b int) bool { return math.Abs(used[a].beta) > math.Abs(used[b].beta) })
	if len(used) > maxExplanations {
		used = used[:maxExplanations]
	}

	out := make([]string, 0, len(used))
	for _, u := range used {
		spec, _ := model.LookupTrait(u.trait)
		value, ref := display(spec, u.value), display(spec, refs[u.trait])
		pct := int(math.Round((math.Exp(u.beta) - 1) * 100))
		switch {
		case pct > 0:
			out = append(out, fmt.Sprintf("Your %s (%s) is associated with a %d%% higher stop rate than %s.", spec.Label, value, pct, ref))
		case pct < 0:
			out = append(out, fmt.Sprintf("Your %s (%s) is associated with a %d%% lower stop rate than %s.", spec.Label, value, -pct, ref))
		default:
			out = append(out, fmt.Sprintf("Your %s (%s) is associated with about the same stop rate as %s.", spec.Label, value, ref))
		}
	}
	return out
}

func display(spec model.TraitSpec, v string) string {
	if !spec.Binary {
		return v
	}
	if v == model.ValueTrue {
		return "yes"
	}
	return "no"
}
