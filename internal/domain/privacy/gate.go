// Package privacy decides what may leave the engine: cells under the
// k-anonymity floor are dropped, and modeling waits for a minimum corpus.
package privacy

import "github.com/okian/stopodds/internal/domain/model"

// Defaults for the gate.
const (
	DefaultMinGroupSize          = 50
	DefaultActivationSubmissions = 500
	DefaultActivationStops       = 100
)

// Gate is a pure filter over aggregate cells and corpus totals.
type Gate struct {
	minGroupSize   int
	minSubmissions int
	minStops       int
}

// Option applies a configuration option to the Gate.
type Option func(*Gate)

// WithMinGroupSize sets the k-anonymity floor.
func WithMinGroupSize(k int) Option {
	return func(g *Gate) {
		if k > 0 {
			g.minGroupSize = k
		}
	}
}

// WithActivation sets the corpus size required before model output is served.
func WithActivation(submissions, stops int) Option {
	return func(g *Gate) {
		if submissions > 0 {
			g.minSubmissions = submissions
		}
		if stops > 0 {
			g.minStops = stops
		}
	}
}

// NewGate creates a gate with configuration options.
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		minGroupSize:   DefaultMinGroupSize,
		minSubmissions: DefaultActivationSubmissions,
		minStops:       DefaultActivationStops,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// MinGroupSize returns the configured k.
func (g *Gate) MinGroupSize() int { return g.minGroupSize }

// Requirements returns the activation thresholds.
func (g *Gate) Requirements() (submissions, stops int) {
	return g.minSubmissions, g.minStops
}

// Suppress reports whether a group of n people must be withheld.
func (g *Gate) Suppress(nPeople int) bool {
	return nPeople < g.minGroupSize
}

// Mark sets Suppressed on every cell in place.
func (g *Gate) Mark(cells []model.GroupCell) {
	for i := range cells {
		cells[i].Suppressed = g.Suppress(cells[i].NPeople)
	}
}

// Filter returns only the cells that may be published, preserving order.
// The input is not modified.
func (g *Gate) Filter(cells []model.GroupCell) []model.GroupCell {
	out := make([]model.GroupCell, 0, len(cells))
	for _, c := range cells {
		if g.Suppress(c.NPeople) {
			continue
		}
		c.Suppressed = false
		out = append(out, c)
	}
	return out
}

// Activated reports whether the corpus is large enough for modeling.
func (g *Gate) Activated(t model.Totals) bool {
	return t.Submissions >= g.minSubmissions && t.Stops >= g.minStops
}
