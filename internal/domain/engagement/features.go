// Package engagement trains the optional classifier for any stop at all:
// depth-limited gradient boosted trees on logistic loss, calibrated with
// isotonic regression and explained by tree-path attribution.
package engagement

import (
	"math"

	"github.com/okian/stopodds/internal/domain/model"
)

// FeatureLogTrips is the exposure feature. All other features are level
// indicators named "trait=value".
const FeatureLogTrips = "log_trips"

// featureNames lists every level present in rows, in schema order, followed
// by the exposure feature.
func featureNames(rows []model.Submission) []string {
	var names []string
	for _, spec := range model.Schema() {
		for _, v := range spec.Values {
			for _, r := range rows {
				if r.Traits[spec.Name] == v {
					names = append(names, model.GroupKey{Trait: spec.Name, Value: v}.String())
					break
				}
			}
		}
	}
	return append(names, FeatureLogTrips)
}

// vectorize encodes a trait set and exposure against the feature list.
func vectorize(features []string, traits model.Traits, trips int) []float64 {
	x := make([]float64, len(features))
	set := make(map[string]bool, len(traits))
	for t, v := range traits {
		set[model.GroupKey{Trait: t, Value: v}.String()] = true
	}
	for i, f := range features {
		if f == FeatureLogTrips {
			x[i] = math.Log(float64(max(trips, 1)))
			continue
		}
		if set[f] {
			x[i] = 1
		}
	}
	return x
}
