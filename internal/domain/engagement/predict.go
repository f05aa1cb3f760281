package engagement

import (
	"math"
	"sort"

	"github.com/okian/stopodds/internal/domain/model"
)

// Contribution is one feature's share of a prediction in log-odds.
type Contribution struct {
	Feature string
	Value   float64
}

// Result is a single explained prediction. Bias plus the sum of all
// contributions equals Raw exactly.
type Result struct {
	Probability   float64 // calibrated
	Raw           float64 // uncalibrated log-odds
	Bias          float64
	Contributions []Contribution // ranked by magnitude, zero entries removed
}

// Predict scores a trait set at the given exposure. Contributions walk each
// tree's decision path and credit the change in node value at every split to
// the feature split on.
func Predict(e *model.Ensemble, traits model.Traits, trips int) Result {
	x := vectorize(e.Features, traits, trips)
	contrib := make([]float64, len(e.Features))
	bias := e.Base
	raw := e.Base
	for _, t := range e.Trees {
		n := 0
		bias += e.LearningRate * t.Nodes[0].Value
		for !t.Nodes[n].Leaf {
			node := t.Nodes[n]
			next := node.Right
			if x[node.Feature] <= node.Threshold {
				next = node.Left
			}
			contrib[node.Feature] += e.LearningRate * (t.Nodes[next].Value - node.Value)
			n = next
		}
		raw += e.LearningRate * t.Nodes[n].Value
	}

	res := Result{
		Probability: calibrate(e.Calibration, sigmoid(raw)),
		Raw:         raw,
		Bias:        bias,
	}
	for i, c := range contrib {
		if c != 0 {
			res.Contributions = append(res.Contributions, Contribution{Feature: e.Features[i], Value: c})
		}
	}
	sort.SliceStable(res.Contributions, func(a, b int) bool {
		return math.Abs(res.Contributions[a].Value) > math.Abs(res.Contributions[b].Value)
	})
	return res
}

// Top returns at most n contributions.
func (r Result) Top(n int) []Contribution {
	if len(r.Contributions) <= n {
		return r.Contributions
	}
	return r.Contributions[:n]
}
