// Package aggregate computes single-trait marginal summaries of the
// submission corpus.
package aggregate

import (
	"github.com/okian/stopodds/internal/domain/model"
)

// Summary is the output of one aggregation pass.
type Summary struct {
	Totals model.Totals
	Cells  []model.GroupCell
	// Excluded counts anomalous rows left out of Totals and Cells.
	Excluded int
}

// Aggregate groups the non-anomalous submissions by each trait independently.
// Cells come back in schema order, then enumeration order, and only levels
// with at least one person are present. Joint breakdowns across traits are
// never produced.
func Aggregate(subs []model.Submission) Summary {
	schema := model.Schema()
	counts := make([][]model.GroupCell, len(schema))
	for i, spec := range schema {
		counts[i] = make([]model.GroupCell, len(spec.Values))
		for j, v := range spec.Values {
			counts[i][j].Key = model.GroupKey{Trait: spec.Name, Value: v}
		}
	}

	var sum Summary
	for _, s := range subs {
		if s.Anomalous() {
			sum.Excluded++
			continue
		}
		sum.Totals.Add(s.Trips, s.Stops)
		for i, spec := range schema {
			v, ok := s.Traits[spec.Name]
			if !ok {
				continue
			}
			j := spec.Index(v)
			if j < 0 {
				continue
			}
			c := &counts[i][j]
			c.NPeople++
			c.NTrips += s.Trips
			c.NStops += s.Stops
		}
	}

	for i := range counts {
		for _, c := range counts[i] {
			if c.NPeople == 0 {
				continue
			}
			c.RatePer100 = model.RatePer100(c.NStops, c.NTrips)
			sum.Cells = append(sum.Cells, c)
		}
	}
	return sum
}

// AttachIRR returns a copy of cells annotated with the run's incidence rate
// ratios. The reference level of each trait gets exactly 1.0; levels the run
// has no usable term for are left without an IRR. A nil run returns plain
// copies.
func AttachIRR(cells []model.GroupCell, run *model.ModelRun) []model.GroupCell {
	out := make([]model.GroupCell, len(cells))
	copy(out, cells)
	if run == nil {
		return out
	}
	for i := range out {
		c := &out[i]
		c.IRR, c.CILower, c.CIUpper = nil, nil, nil
		if ref, ok := run.References[c.Key.Trait]; ok && ref == c.Key.Value {
			one := 1.0
			c.IRR = &one
			continue
		}
		coef, _, ok := run.Lookup(c.Key.Trait, c.Key.Value)
		if !ok {
			continue
		}
		irr, lo, hi := coef.IRR, coef.CILower, coef.CIUpper
		c.IRR, c.CILower, c.CIUpper = &irr, &lo, &hi
	}
	return out
}
