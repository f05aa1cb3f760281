// Package ratemodel fits exposure-adjusted count regressions: Poisson with
// log(trips) as offset, escalating to NB2 when the Poisson fit is
// overdispersed.
package ratemodel

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/okian/stopodds/internal/domain/model"
)

// Defaults for fitting.
const (
	DefaultDispersionThreshold = 1.5
	DefaultMaxIterations       = 50
	DefaultTolerance           = 1e-8
	DefaultSeparationBound     = 10

	z95 = 1.96
)

// Model fits rate models with a fixed configuration. It holds no fit state
// and is safe for concurrent use.
type Model struct {
	dispersionThreshold float64
	maxIter             int
	tol                 float64
	separationBound     float64
	references          map[model.Trait]string
}

// New creates a Model with configuration options.
func New(opts ...Option) *Model {
	m := &Model{
		dispersionThreshold: DefaultDispersionThreshold,
		maxIter:             DefaultMaxIterations,
		tol:                 DefaultTolerance,
		separationBound:     DefaultSeparationBound,
		references:          model.DefaultReferences(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// References returns a copy of the configured reference levels.
func (m *Model) References() map[model.Trait]string {
	out := make(map[model.Trait]string, len(m.references))
	for k, v := range m.references {
		out[k] = v
	}
	return out
}

// Fit estimates the rate model over the non-anomalous rows of subs. The
// returned run has every fitted field set; the caller assigns its identity.
func (m *Model) Fit(ctx context.Context, subs []model.Submission) (*model.ModelRun, error) {
	rows := make([]model.Submission, 0, len(subs))
	var totals model.Totals
	for _, s := range subs {
		if s.Anomalous() {
			continue
		}
		rows = append(rows, s)
		totals.Add(s.Trips, s.Stops)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%d rows: %w", len(rows), ErrInsufficientRows)
	}

	d := buildDesign(rows, m.references)
	var dropped []string

	constant := make(map[int]bool)
	for _, j := range d.constantColumns() {
		constant[j] = true
		dropped = append(dropped, d.cols[j].term)
	}
	active := make([]int, 0, len(d.cols))
	for j := range d.cols {
		if !constant[j] {
			active = append(active, j)
		}
	}

	pois, active, err := m.fitDropping(ctx, d, active, family{}, &dropped)
	if err != nil {
		return nil, fmt.Errorf("poisson fit: %w", err)
	}
	poisChi2 := pearson(d.y, pois.mu, family{})
	dfResid := len(rows) - len(active)
	dispersion := poisChi2 / float64(dfResid)

	fam, final, modelType := family{}, pois, model.ModelPoisson
	if dispersion > m.dispersionThreshold {
		fam = family{alpha: momentAlpha(d.y, pois.mu)}
		nb, nbActive, err := m.fitDropping(ctx, d, active, fam, &dropped)
		if err != nil {
			return nil, fmt.Errorf("negative binomial fit: %w", err)
		}
		final, active, modelType = nb, nbActive, model.ModelNegBin
		dfResid = len(rows) - len(active)
	}

	cov, err := cholInverse(final.chol)
	if err != nil {
		return nil, fmt.Errorf("covariance: %w", err)
	}
	run := &model.ModelRun{
		Kind:               model.RunPrimary,
		Type:               modelType,
		TrainRows:          len(rows),
		SchemaVersion:      model.SchemaVersion,
		References:         m.References(),
		Covariance:         cov,
		DispersionRatio:    dispersion,
		BaselineRatePer100: totals.RatePer100(),
		Totals:             totals,
	}
	for a, j := range active {
		c := coefficient(d.cols[j], final.beta[a], math.Sqrt(cov[a][a]))
		if a == 0 {
			run.Intercept = c
			continue
		}
		run.Coefficients = append(run.Coefficients, c)
	}

	ll := 0.0
	for i := range d.y {
		ll += fam.logLikelihood(d.y[i], final.mu[i])
	}
	k := float64(len(active) + fam.extraParams())
	run.Metrics = model.Metrics{
		Deviance:         final.deviance,
		PearsonChi2:      pearson(d.y, final.mu, fam),
		LogLikelihood:    ll,
		AIC:              -2*ll + 2*k,
		BIC:              -2*ll + k*math.Log(float64(len(rows))),
		DegreesOfFreedom: dfResid,
		Iterations:       final.iterations,
		Converged:        final.converged,
		Alpha:            fam.alpha,
		PoissonDisp:      dispersion,
		DroppedTerms:     dropped,
	}
	return run, nil
}

// fitDropping runs IRLS, removing one offending column per failure until the
// fit is usable. The intercept is never dropped.
func (m *Model) fitDropping(ctx context.Context, d *design, active []int, fam family, dropped *[]string) (*irlsResult, []int, error) {
	active = append([]int(nil), active...)
	for len(active) > 0 {
		if len(d.y) <= len(active) {
			return nil, nil, fmt.Errorf("%d rows for %d parameters: %w", len(d.y), len(active), ErrInsufficientRows)
		}

		res, err := irls(ctx, d, active, fam, m.maxIter, m.tol)
		var sing *singularError
		switch {
		case errors.As(err, &sing):
			if sing.pivot == 0 {
				return nil, nil, ErrSingular
			}
			*dropped = append(*dropped, d.cols[active[sing.pivot]].term)
			active = append(active[:sing.pivot], active[sing.pivot+1:]...)
			continue
		case err != nil:
			return nil, nil, err
		}

		worst, worstAbs := -1, 0.0
		for a := 1; a < len(active); a++ {
			if b := math.Abs(res.beta[a]); b > worstAbs {
				worst, worstAbs = a, b
			}
		}
		if res.converged && worstAbs <= m.separationBound {
			return res, active, nil
		}
		if worst < 0 {
			return nil, nil, ErrNoConvergence
		}
		*dropped = append(*dropped, d.cols[active[worst]].term)
		active = append(active[:worst], active[worst+1:]...)
	}
	return nil, nil, ErrNoConvergence
}

// pearson is Σ (y-mu)²/V(mu).
func pearson(y, mu []float64, fam family) float64 {
	s := 0.0
	for i := range y {
		r := y[i] - mu[i]
		s += r * r / fam.variance(mu[i])
	}
	return s
}

func coefficient(c column, beta, se float64) model.Coefficient {
	return model.Coefficient{
		Term:    c.term,
		Trait:   c.trait,
		Value:   c.value,
		Beta:    beta,
		StdErr:  se,
		IRR:     math.Exp(beta),
		CILower: math.Exp(beta - z95*se),
		CIUpper: math.Exp(beta + z95*se),
		NPeople: c.nPeople,
	}
}
