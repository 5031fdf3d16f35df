package prior

import "errors"

// #region errors

// ErrInvalidPrior is returned when prior moments fall outside log-normal support.
var ErrInvalidPrior = errors.New("invalid prior")

// #endregion errors

// #region spec

// Spec holds experimenter-supplied moments for threshold (alpha) and slope (beta).
// Both parameters are strictly positive.
type Spec struct {
	AlphaMean  float64 `json:"alpha_mean" yaml:"alpha_mean"`
	AlphaScale float64 `json:"alpha_scale" yaml:"alpha_scale"`
	BetaMean   float64 `json:"beta_mean" yaml:"beta_mean"`
	BetaScale  float64 `json:"beta_scale" yaml:"beta_scale"`
}

// #endregion spec

// #region params

// Params is the log-normal (location, scale) form of both parameters. This is
// the representation the posterior is fit and stored in.
type Params struct {
	AlphaMu    float64 `json:"alpha_mu"`
	AlphaSigma float64 `json:"alpha_sigma"`
	BetaMu     float64 `json:"beta_mu"`
	BetaSigma  float64 `json:"beta_sigma"`
}

// #endregion params

// #region estimates

// Estimates is the moment form of a posterior, as written to trial logs.
type Estimates struct {
	ThresholdMean  float64 `json:"threshold_mean"`
	ThresholdScale float64 `json:"threshold_scale"`
	SlopeMean      float64 `json:"slope_mean"`
	SlopeScale     float64 `json:"slope_scale"`
}

// #endregion estimates

// #region defaults

const (
	// DefaultPreemptiveGain is subtracted from baseline reaction times to
	// place the threshold prior ahead of the subject's own press.
	DefaultPreemptiveGain = 40.0

	// DefaultSlopeMean and DefaultSlopeScale come from published slopes for
	// stimulation-latency agency curves.
	DefaultSlopeMean  = 0.017
	DefaultSlopeScale = 0.005

	// DefaultInflation widens a previous session's posterior before reuse.
	DefaultInflation = 1.5
)

// #endregion defaults
