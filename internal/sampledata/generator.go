// Package sampledata produces synthetic submissions with known per-trait
// rate effects. It backs the admin seed command and end-to-end tests.
package sampledata

import (
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/okian/stopodds/internal/domain/intake"
	"github.com/okian/stopodds/internal/domain/model"
)

// Defaults for the synthetic population.
const (
	DefaultBaseRate   = 0.05
	DefaultMinTrips   = 5
	DefaultMaxTrips   = 60
	DefaultSetProb    = 0.85
	DefaultBinaryProb = 0.15
)

// DefaultEffects are the multiplicative rate ratios applied on top of the
// base rate. Levels not listed have ratio 1.
func DefaultEffects() map[model.Trait]map[string]float64 {
	return map[model.Trait]map[string]float64{
		model.TraitAgeBracket:        {"18-24": 1.5, "45+": 0.8},
		model.TraitSkinTone:          {"Medium": 1.2, "Dark": 1.6},
		model.TraitVisibleDisability: {model.ValueTrue: 1.2},
		model.TraitConcession:        {model.ValueTrue: 1.3},
	}
}

// Generator draws candidates from a seeded source, so a seed always
// reproduces the same rows.
type Generator struct {
	rng        *rand.Rand
	baseRate   float64
	minTrips   int
	maxTrips   int
	setProb    float64
	binaryProb float64
	effects    map[model.Trait]map[string]float64
}

// NewGenerator creates a generator with configuration options.
func NewGenerator(seed int64, opts ...Option) *Generator {
	g := &Generator{
		rng:        rand.New(rand.NewSource(seed)),
		baseRate:   DefaultBaseRate,
		minTrips:   DefaultMinTrips,
		maxTrips:   DefaultMaxTrips,
		setProb:    DefaultSetProb,
		binaryProb: DefaultBinaryProb,
		effects:    DefaultEffects(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Next returns one candidate. Stops never exceed trips.
func (g *Generator) Next() intake.Candidate {
	traits := make(map[string]string, len(model.Schema()))
	rate := g.baseRate
	for _, spec := range model.Schema() {
		if g.rng.Float64() >= g.setProb {
			continue
		}
		v := g.pick(spec)
		traits[string(spec.Name)] = v
		if r, ok := g.effects[spec.Name][v]; ok {
			rate *= r
		}
	}

	trips := g.minTrips + g.rng.Intn(g.maxTrips-g.minTrips+1)
	stops := g.poisson(float64(trips)*rate, trips)
	return intake.Candidate{Trips: &trips, Stops: &stops, Traits: traits}
}

// Batch returns n candidates.
func (g *Generator) Batch(n int) []intake.Candidate {
	out := make([]intake.Candidate, n)
	for i := range out {
		out[i] = g.Next()
	}
	return out
}

func (g *Generator) pick(spec model.TraitSpec) string {
	if spec.Binary {
		if g.rng.Float64() < g.binaryProb {
			return model.ValueTrue
		}
		return model.ValueFalse
	}
	return spec.Values[g.rng.Intn(len(spec.Values))]
}

// poisson draws by inverting the CDF with the generator's own uniform, so
// rows stay reproducible from the seed. Draws are capped at limit.
func (g *Generator) poisson(lambda float64, limit int) int {
	if lambda <= 0 {
		return 0
	}
	dist := distuv.Poisson{Lambda: lambda}
	u := g.rng.Float64()
	k := 0
	for k < limit && dist.CDF(float64(k)) < u {
		k++
	}
	return k
}
