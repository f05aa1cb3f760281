package engagement

import (
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/okian/stopodds/internal/domain/model"
)

// fitIsotonic fits a non-decreasing step function from raw scores to
// outcome frequencies with pool-adjacent-violators. Equal scores are pooled
// before fitting so a score maps to a single value.
func fitIsotonic(raw, y []float64) model.Calibration {
	if len(raw) == 0 {
		return model.Calibration{}
	}
	order := make([]int, len(raw))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return raw[order[a]] < raw[order[b]] })

	type block struct {
		upper  float64
		sum    float64
		weight float64
	}
	var blocks []block
	for _, i := range order {
		if n := len(blocks); n > 0 && blocks[n-1].upper == raw[i] {
			blocks[n-1].sum += y[i]
			blocks[n-1].weight++
			continue
		}
		blocks = append(blocks, block{upper: raw[i], sum: y[i], weight: 1})
	}

	stack := make([]block, 0, len(blocks))
	for _, b := range blocks {
		stack = append(stack, b)
		for len(stack) > 1 {
			n := len(stack)
			prev, cur := stack[n-2], stack[n-1]
			if prev.sum/prev.weight <= cur.sum/cur.weight {
				break
			}
			stack = stack[:n-2]
			stack = append(stack, block{upper: cur.upper, sum: prev.sum + cur.sum, weight: prev.weight + cur.weight})
		}
	}

	c := model.Calibration{X: make([]float64, len(stack)), Y: make([]float64, len(stack))}
	for i, b := range stack {
		c.X[i] = b.upper
		c.Y[i] = b.sum / b.weight
	}
	return c
}

// calibrate maps a raw probability through the step function. An empty
// calibration is the identity.
func calibrate(c model.Calibration, p float64) float64 {
	if len(c.X) == 0 {
		return p
	}
	i := sort.SearchFloat64s(c.X, p)
	if i >= len(c.X) {
		i = len(c.X) - 1
	}
	return c.Y[i]
}

// auc is the area under the ROC curve, with tied scores crediting half. It
// is 0.5 when only one class is present.
func auc(score, y []float64) float64 {
	n := len(score)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return score[order[a]] < score[order[b]] })

	sorted := make([]float64, n)
	classes := make([]bool, n)
	var pos int
	for k, i := range order {
		sorted[k] = score[i]
		classes[k] = y[i] == 1
		if classes[k] {
			pos++
		}
	}
	if pos == 0 || pos == n {
		return 0.5
	}
	tpr, fpr, _ := stat.ROC(nil, sorted, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

func brier(p, y []float64) float64 {
	if len(p) == 0 {
		return 0
	}
	s := 0.0
	for i := range p {
		d := p[i] - y[i]
		s += d * d
	}
	return s / float64(len(p))
}
