package model

import (
	"fmt"
	"time"
)

// ModelType is the discriminant of a fitted model.
type ModelType string

// Model types. Baseline is never stored as a run; it labels read responses
// served without a published model.
const (
	ModelPoisson  ModelType = "poisson"
	ModelNegBin   ModelType = "negbin"
	ModelGBT      ModelType = "gbt"
	ModelBaseline ModelType = "baseline"
)

// RunKind separates the inferential rate model from the optional
// engagement classifier. Each kind has its own published pointer.
type RunKind string

// Run kinds.
const (
	RunPrimary    RunKind = "primary"
	RunEngagement RunKind = "engagement"
)

// ParseRunKind validates a run kind name.
func ParseRunKind(s string) (RunKind, error) {
	switch k := RunKind(s); k {
	case RunPrimary, RunEngagement:
		return k, nil
	}
	return "", fmt.Errorf("unknown run kind %q", s)
}

// Coefficient is one fitted term of the rate model.
type Coefficient struct {
	Term    string  `json:"term"`
	Trait   Trait   `json:"trait,omitempty"`
	Value   string  `json:"value,omitempty"`
	Beta    float64 `json:"beta"`
	StdErr  float64 `json:"std_err"`
	IRR     float64 `json:"irr"`
	CILower float64 `json:"ci_lower"`
	CIUpper float64 `json:"ci_upper"`
	NPeople int     `json:"n_people"`
}

// Metrics summarise fit quality. GLM runs fill the deviance family,
// engagement runs fill AUC and Brier.
type Metrics struct {
	Deviance         float64  `json:"deviance,omitempty"`
	PearsonChi2      float64  `json:"pearson_chi2,omitempty"`
	LogLikelihood    float64  `json:"log_likelihood,omitempty"`
	AIC              float64  `json:"aic,omitempty"`
	BIC              float64  `json:"bic,omitempty"`
	DegreesOfFreedom int      `json:"df_resid,omitempty"`
	Iterations       int      `json:"iterations,omitempty"`
	Converged        bool     `json:"converged"`
	Alpha            float64  `json:"nb_alpha,omitempty"`
	PoissonDisp      float64  `json:"poisson_dispersion,omitempty"`
	DroppedTerms     []string `json:"dropped_terms,omitempty"`
	AUC              float64  `json:"auc,omitempty"`
	Brier            float64  `json:"brier,omitempty"`
	HoldoutRows      int      `json:"holdout_rows,omitempty"`
}

// ModelRun is an immutable fitted snapshot. Published is not stored with the
// run; the registry fills it from its pointer when handing a run out.
type ModelRun struct {
	ID            string    `json:"id"`
	Kind          RunKind   `json:"kind"`
	Type          ModelType `json:"model_type"`
	CreatedAt     time.Time `json:"created_at"`
	TrainRows     int       `json:"train_rows"`
	SchemaVersion int       `json:"schema_version"`

	// References is the baseline level per trait the coefficients are
	// relative to.
	References map[Trait]string `json:"references,omitempty"`

	Intercept    Coefficient   `json:"intercept"`
	Coefficients []Coefficient `json:"coefficients,omitempty"`
	// Covariance is ordered intercept first, then Coefficients.
	Covariance [][]float64 `json:"covariance,omitempty"`

	DispersionRatio    float64 `json:"dispersion_ratio"`
	BaselineRatePer100 float64 `json:"baseline_rate_per_100"`
	Totals             Totals  `json:"totals"`
	Metrics            Metrics `json:"metrics"`

	Engagement *Ensemble `json:"engagement,omitempty"`
	// ParentRunID links an engagement run to the primary run it was trained under.
	ParentRunID string `json:"parent_run_id,omitempty"`
	Notes       string `json:"notes,omitempty"`

	Published bool `json:"-"`
}

// Lookup returns the coefficient for a trait value and its position in
// Coefficients.
func (r *ModelRun) Lookup(trait Trait, value string) (Coefficient, int, bool) {
	for i, c := range r.Coefficients {
		if c.Trait == trait && c.Value == value {
			return c, i, true
		}
	}
	return Coefficient{}, -1, false
}

// TreeNode is one node of a regression tree. Internal nodes route rows with
// feature value <= Threshold to Left. Value holds the leaf output for leaves
// and the training-weighted mean output of the subtree for internal nodes.
type TreeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Leaf      bool    `json:"leaf"`
	Value     float64 `json:"v"`
}

// Tree is a flat node list rooted at index 0.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

// Calibration is a monotone step function mapping raw probabilities to
// calibrated ones. X is ascending.
type Calibration struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

// Ensemble is a gradient boosted classifier in log-odds space.
type Ensemble struct {
	Features     []string    `json:"features"`
	Base         float64     `json:"base"`
	LearningRate float64     `json:"learning_rate"`
	Trees        []Tree      `json:"trees"`
	Calibration  Calibration `json:"calibration"`
}
