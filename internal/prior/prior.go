package prior

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// #region reparameterize

// Reparameterize returns the log-normal location and scale whose mean and
// standard deviation equal the given moments.
//
//	mu    = ln(mean² / sqrt(mean² + scale²))
//	sigma = sqrt(ln(1 + scale²/mean²))
func Reparameterize(mean, scale float64) (mu, sigma float64, err error) {
	if !(mean > 0) || math.IsInf(mean, 0) {
		return 0, 0, fmt.Errorf("%w: mean %v must be positive and finite", ErrInvalidPrior, mean)
	}
	if !(scale >= 0) || math.IsInf(scale, 0) {
		return 0, 0, fmt.Errorf("%w: scale %v must be non-negative and finite", ErrInvalidPrior, scale)
	}
	ratio := scale / mean
	sigma2 := math.Log1p(ratio * ratio)
	mu = math.Log(mean) - sigma2/2
	return mu, math.Sqrt(sigma2), nil
}

// Unreparameterize is the exact inverse of Reparameterize.
func Unreparameterize(mu, sigma float64) (mean, scale float64) {
	s2 := sigma * sigma
	mean = math.Exp(mu + s2/2)
	scale = mean * math.Sqrt(math.Expm1(s2))
	return mean, scale
}

// #endregion reparameterize

// #region conversions

// Params converts the moment form into log-normal form.
func (s Spec) Params() (Params, error) {
	amu, asd, err := Reparameterize(s.AlphaMean, s.AlphaScale)
	if err != nil {
		return Params{}, fmt.Errorf("alpha: %w", err)
	}
	bmu, bsd, err := Reparameterize(s.BetaMean, s.BetaScale)
	if err != nil {
		return Params{}, fmt.Errorf("beta: %w", err)
	}
	return Params{AlphaMu: amu, AlphaSigma: asd, BetaMu: bmu, BetaSigma: bsd}, nil
}

// Validate reports whether the spec is inside log-normal support.
func (s Spec) Validate() error {
	_, err := s.Params()
	return err
}

// Spec converts log-normal form back into moments.
func (p Params) Spec() Spec {
	am, as := Unreparameterize(p.AlphaMu, p.AlphaSigma)
	bm, bs := Unreparameterize(p.BetaMu, p.BetaSigma)
	return Spec{AlphaMean: am, AlphaScale: as, BetaMean: bm, BetaScale: bs}
}

// Estimates returns the moment form under the names used in trial logs.
func (p Params) Estimates() Estimates {
	s := p.Spec()
	return Estimates{
		ThresholdMean:  s.AlphaMean,
		ThresholdScale: s.AlphaScale,
		SlopeMean:      s.BetaMean,
		SlopeScale:     s.BetaScale,
	}
}

// Finite reports whether every field is a finite number.
func (p Params) Finite() bool {
	for _, v := range []float64{p.AlphaMu, p.AlphaSigma, p.BetaMu, p.BetaSigma} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// #endregion conversions

// #region session-priors

// FromBaseline builds a first-session prior from a block of unassisted
// reaction times: the threshold is centred preemptiveGain ahead of the mean
// reaction time with the reaction-time spread as its scale.
func FromBaseline(rts []float64, preemptiveGain, betaMean, betaScale float64) (Spec, error) {
	if len(rts) == 0 {
		return Spec{}, fmt.Errorf("%w: no baseline reaction times", ErrInvalidPrior)
	}
	mean, std := stat.PopMeanStdDev(rts, nil)
	s := Spec{
		AlphaMean:  mean - preemptiveGain,
		AlphaScale: std,
		BetaMean:   betaMean,
		BetaScale:  betaScale,
	}
	if err := s.Validate(); err != nil {
		return Spec{}, err
	}
	return s, nil
}

// FromPreviousSession carries a prior session's final estimates forward,
// widening both scales by inflation.
func FromPreviousSession(est Estimates, inflation float64) (Spec, error) {
	if !(inflation > 0) {
		return Spec{}, fmt.Errorf("%w: inflation %v must be positive", ErrInvalidPrior, inflation)
	}
	s := Spec{
		AlphaMean:  est.ThresholdMean,
		AlphaScale: est.ThresholdScale * inflation,
		BetaMean:   est.SlopeMean,
		BetaScale:  est.SlopeScale * inflation,
	}
	if err := s.Validate(); err != nil {
		return Spec{}, err
	}
	return s, nil
}

// #endregion session-priors
