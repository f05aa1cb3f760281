package ratemodel

import "math"

// family is the count distribution under a log link. alpha == 0 is Poisson,
// alpha > 0 is NB2 with variance mu + alpha·mu².
type family struct {
	alpha float64
}

func (f family) variance(mu float64) float64 {
	return mu + f.alpha*mu*mu
}

// weight is the IRLS working weight for the log link.
func (f family) weight(mu float64) float64 {
	return mu / (1 + f.alpha*mu)
}

func (f family) unitDeviance(y, mu float64) float64 {
	ylog := 0.0
	if y > 0 {
		ylog = y * math.Log(y/mu)
	}
	if f.alpha == 0 {
		return 2 * (ylog - (y - mu))
	}
	inv := 1 / f.alpha
	return 2 * (ylog - (y+inv)*math.Log((1+f.alpha*y)/(1+f.alpha*mu)))
}

func (f family) logLikelihood(y, mu float64) float64 {
	lgy1, _ := math.Lgamma(y + 1)
	if f.alpha == 0 {
		return y*math.Log(mu) - mu - lgy1
	}
	inv := 1 / f.alpha
	a, _ := math.Lgamma(y + inv)
	b, _ := math.Lgamma(inv)
	return a - b - lgy1 + y*math.Log(f.alpha*mu/(1+f.alpha*mu)) - inv*math.Log(1+f.alpha*mu)
}

// extraParams counts the auxiliary parameters for information criteria.
func (f family) extraParams() int {
	if f.alpha == 0 {
		return 0
	}
	return 1
}

// momentAlpha estimates the NB2 dispersion from Poisson fitted means with the
// Cameron-Trivedi auxiliary regression ((y-mu)²-y)/mu = alpha·mu.
func momentAlpha(y, mu []float64) float64 {
	num, den := 0.0, 0.0
	for i := range y {
		r := y[i] - mu[i]
		num += r*r - y[i]
		den += mu[i] * mu[i]
	}
	if den == 0 {
		return minAlpha
	}
	return math.Max(num/den, minAlpha)
}

const minAlpha = 1e-6
