package engagement

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/okian/stopodds/internal/domain/model"
)

// Defaults for boosting.
const (
	DefaultRounds       = 60
	DefaultLearningRate = 0.1
	DefaultMaxDepth     = 2
	DefaultMinLeaf      = 20
	DefaultHoldoutEvery = 5

	lambda        = 1.0 // L2 penalty on leaf values
	maxThresholds = 32
	minRows       = 50
)

// Trainer fits calibrated boosted ensembles.
type Trainer struct {
	rounds       int
	learningRate float64
	maxDepth     int
	minLeaf      int
	holdoutEvery int
}

// NewTrainer creates a trainer with configuration options.
func NewTrainer(opts ...Option) *Trainer {
	t := &Trainer{
		rounds:       DefaultRounds,
		learningRate: DefaultLearningRate,
		maxDepth:     DefaultMaxDepth,
		minLeaf:      DefaultMinLeaf,
		holdoutEvery: DefaultHoldoutEvery,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Train fits an ensemble predicting stops >= 1 from the non-anomalous rows.
// Every holdoutEvery-th row is held out. Held-out rows alternate between the
// calibration fit and the evaluation set AUC and Brier score are computed on.
func (t *Trainer) Train(ctx context.Context, subs []model.Submission) (*model.Ensemble, model.Metrics, error) {
	rows := make([]model.Submission, 0, len(subs))
	for _, s := range subs {
		if !s.Anomalous() {
			rows = append(rows, s)
		}
	}
	if len(rows) < minRows {
		return nil, model.Metrics{}, fmt.Errorf("%d rows: %w", len(rows), ErrInsufficientRows)
	}

	features := featureNames(rows)
	var trainX, calX, evalX [][]float64
	var trainY, calY, evalY []float64
	held := 0
	for i, r := range rows {
		x := vectorize(features, r.Traits, r.Trips)
		y := 0.0
		if r.Stops > 0 {
			y = 1
		}
		switch {
		case i%t.holdoutEvery != t.holdoutEvery-1:
			trainX, trainY = append(trainX, x), append(trainY, y)
		case held%2 == 0:
			calX, calY = append(calX, x), append(calY, y)
			held++
		default:
			evalX, evalY = append(evalX, x), append(evalY, y)
			held++
		}
	}

	pos := 0.0
	for _, y := range trainY {
		pos += y
	}
	if pos == 0 || pos == float64(len(trainY)) {
		return nil, model.Metrics{}, ErrSingleClass
	}

	p0 := pos / float64(len(trainY))
	ens := &model.Ensemble{
		Features:     features,
		Base:         math.Log(p0 / (1 - p0)),
		LearningRate: t.learningRate,
	}

	score := make([]float64, len(trainX))
	for i := range score {
		score[i] = ens.Base
	}
	grad := make([]float64, len(trainX))
	hess := make([]float64, len(trainX))
	all := make([]int, len(trainX))
	for i := range all {
		all[i] = i
	}

	for round := 0; round < t.rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, model.Metrics{}, err
		}
		for i := range score {
			p := sigmoid(score[i])
			grad[i] = trainY[i] - p
			hess[i] = p * (1 - p)
		}
		b := &builder{x: trainX, grad: grad, hess: hess, maxDepth: t.maxDepth, minLeaf: t.minLeaf}
		b.grow(all, 0)
		tree := model.Tree{Nodes: b.nodes}
		for i, x := range trainX {
			score[i] += t.learningRate * leafValue(tree, x)
		}
		ens.Trees = append(ens.Trees, tree)
	}

	calRaw := make([]float64, len(calX))
	for i, x := range calX {
		calRaw[i] = sigmoid(rawScore(ens, x))
	}
	ens.Calibration = fitIsotonic(calRaw, calY)

	raw := make([]float64, len(evalX))
	cal := make([]float64, len(evalX))
	for i, x := range evalX {
		raw[i] = sigmoid(rawScore(ens, x))
		cal[i] = calibrate(ens.Calibration, raw[i])
	}
	metrics := model.Metrics{
		AUC:         auc(raw, evalY),
		Brier:       brier(cal, evalY),
		HoldoutRows: len(evalX),
		Converged:   true,
	}
	return ens, metrics, nil
}

// builder grows one regression tree on Newton steps.
type builder struct {
	x        [][]float64
	grad     []float64
	hess     []float64
	maxDepth int
	minLeaf  int
	nodes    []model.TreeNode
}

// grow appends the subtree for idx and returns its node index. Node values
// are Newton leaf values for leaves and the row-weighted mean of the
// children for internal nodes.
func (b *builder) grow(idx []int, depth int) int {
	at := len(b.nodes)
	b.nodes = append(b.nodes, model.TreeNode{})

	g, h := b.sums(idx)
	if depth < b.maxDepth && len(idx) >= 2*b.minLeaf {
		if f, thr, ok := b.bestSplit(idx, g, h); ok {
			var left, right []int
			for _, i := range idx {
				if b.x[i][f] <= thr {
					left = append(left, i)
				} else {
					right = append(right, i)
				}
			}
			l := b.grow(left, depth+1)
			r := b.grow(right, depth+1)
			nl, nr := float64(len(left)), float64(len(right))
			b.nodes[at] = model.TreeNode{
				Feature:   f,
				Threshold: thr,
				Left:      l,
				Right:     r,
				Value:     (nl*b.nodes[l].Value + nr*b.nodes[r].Value) / (nl + nr),
			}
			return at
		}
	}
	b.nodes[at] = model.TreeNode{Leaf: true, Value: g / (h + lambda)}
	return at
}

func (b *builder) sums(idx []int) (g, h float64) {
	for _, i := range idx {
		g += b.grad[i]
		h += b.hess[i]
	}
	return g, h
}

// bestSplit scans every feature for the threshold with the largest gain.
func (b *builder) bestSplit(idx []int, g, h float64) (int, float64, bool) {
	parent := g * g / (h + lambda)
	bestGain, bestF, bestT := 1e-12, -1, 0.0
	for f := range b.x[0] {
		for _, thr := range b.thresholds(idx, f) {
			var gl, hl float64
			nl := 0
			for _, i := range idx {
				if b.x[i][f] <= thr {
					gl += b.grad[i]
					hl += b.hess[i]
					nl++
				}
			}
			if nl < b.minLeaf || len(idx)-nl < b.minLeaf {
				continue
			}
			gr, hr := g-gl, h-hl
			gain := gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - parent
			if gain > bestGain {
				bestGain, bestF, bestT = gain, f, thr
			}
		}
	}
	return bestF, bestT, bestF >= 0
}

// thresholds returns candidate midpoints between distinct values of feature
// f, thinned to at most maxThresholds evenly spaced candidates.
func (b *builder) thresholds(idx []int, f int) []float64 {
	seen := make(map[float64]bool)
	var vals []float64
	for _, i := range idx {
		v := b.x[i][f]
		if !seen[v] {
			seen[v] = true
			vals = append(vals, v)
		}
	}
	if len(vals) < 2 {
		return nil
	}
	sort.Float64s(vals)
	mids := make([]float64, 0, len(vals)-1)
	for i := 1; i < len(vals); i++ {
		mids = append(mids, (vals[i-1]+vals[i])/2)
	}
	if len(mids) <= maxThresholds {
		return mids
	}
	out := make([]float64, 0, maxThresholds)
	step := float64(len(mids)) / maxThresholds
	for k := 0; k < maxThresholds; k++ {
		out = append(out, mids[int(float64(k)*step)])
	}
	return out
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func leafValue(t model.Tree, x []float64) float64 {
	n := 0
	for !t.Nodes[n].Leaf {
		node := t.Nodes[n]
		if x[node.Feature] <= node.Threshold {
			n = node.Left
		} else {
			n = node.Right
		}
	}
	return t.Nodes[n].Value
}

// rawScore is the ensemble log-odds.
func rawScore(e *model.Ensemble, x []float64) float64 {
	s := e.Base
	for _, t := range e.Trees {
		s += e.LearningRate * leafValue(t, x)
	}
	return s
}
