package ratemodel

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"
)

// etaBound keeps exp(eta) finite while a diverging term is being detected.
const etaBound = 50

// irlsResult is the state of one converged (or abandoned) fit over the
// active columns.
type irlsResult struct {
	beta       []float64 // aligned with active
	mu         []float64
	deviance   float64
	iterations int
	converged  bool
	// chol is the factor of the information matrix at the final mu.
	chol *mat.Cholesky
}

// irls fits a log-link GLM by iteratively reweighted least squares over the
// active columns of d.
func irls(ctx context.Context, d *design, active []int, fam family, maxIter int, tol float64) (*irlsResult, error) {
	n, p := len(d.y), len(active)
	mu := make([]float64, n)
	eta := make([]float64, n)
	for i, y := range d.y {
		mu[i] = y + 0.1
		eta[i] = math.Log(mu[i])
	}

	res := &irlsResult{mu: mu}
	devOld := math.Inf(1)
	for iter := 1; iter <= maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		xtwz := make([]float64, p)
		for i := 0; i < n; i++ {
			w := fam.weight(mu[i])
			z := eta[i] - d.offset[i] + (d.y[i]-mu[i])/mu[i]
			for a, ca := range active {
				xtwz[a] += w * d.x[i][ca] * z
			}
		}

		l, err := cholesky(information(d, active, fam, mu))
		if err != nil {
			return nil, err
		}
		beta, err := cholSolve(l, xtwz)
		if err != nil {
			return nil, err
		}

		dev := 0.0
		for i := 0; i < n; i++ {
			lin := d.offset[i]
			for a, ca := range active {
				lin += d.x[i][ca] * beta[a]
			}
			eta[i] = math.Max(-etaBound, math.Min(etaBound, lin))
			mu[i] = math.Exp(eta[i])
			dev += fam.unitDeviance(d.y[i], mu[i])
		}

		res.beta = beta
		res.deviance = dev
		res.iterations = iter
		if math.Abs(dev-devOld)/(math.Abs(dev)+0.1) < tol {
			res.converged = true
			break
		}
		devOld = dev
	}

	l, err := cholesky(information(d, active, fam, mu))
	if err != nil {
		return nil, err
	}
	res.chol = l
	return res, nil
}

// information is Xᵀ·W·X at mu.
func information(d *design, active []int, fam family, mu []float64) [][]float64 {
	p := len(active)
	info := make([][]float64, p)
	for a := range info {
		info[a] = make([]float64, p)
	}
	for i, row := range d.x {
		w := fam.weight(mu[i])
		for a, ca := range active {
			if row[ca] == 0 {
				continue
			}
			for b := 0; b <= a; b++ {
				info[a][b] += w * row[ca] * row[active[b]]
			}
		}
	}
	for a := 0; a < p; a++ {
		for b := 0; b < a; b++ {
			info[b][a] = info[a][b]
		}
	}
	return info
}
