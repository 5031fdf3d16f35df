package eval

import (
	"context"
	"fmt"
	"math"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/inference"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
)

// #region eval-harness
// EvalHarness checks that a recorded posterior can be reproduced by refitting
// its observation history from the prior.
type EvalHarness struct {
	config   EvalConfig
	refitter inference.Refitter
}

// NewEvalHarness creates an eval harness that refits with r.
func NewEvalHarness(config EvalConfig, r inference.Refitter) *EvalHarness {
	return &EvalHarness{config: config, refitter: r}
}

// Run refits obs from p0 and compares the result with recorded.
func (h *EvalHarness) Run(ctx context.Context, obs []state.Observation, p0, recorded prior.Params) (EvalResult, error) {
	res, err := h.refitter.Refit(ctx, obs, p0, p0)
	if err != nil {
		return EvalResult{}, fmt.Errorf("reference refit: %w", err)
	}
	return h.Compare(recorded, res.Params), nil
}

// Compare checks each log-space parameter of got against want. The threshold
// mean shift is reported but never fails the check.
func (h *EvalHarness) Compare(want, got prior.Params) EvalResult {
	var metrics []EvalMetric
	passed := true
	var failReasons []string

	fields := []struct {
		name      string
		want, got float64
	}{
		{"alpha_mu", want.AlphaMu, got.AlphaMu},
		{"alpha_sigma", want.AlphaSigma, got.AlphaSigma},
		{"beta_mu", want.BetaMu, got.BetaMu},
		{"beta_sigma", want.BetaSigma, got.BetaSigma},
	}

	for _, f := range fields {
		diff := math.Abs(f.want - f.got)
		pass := diff <= h.config.Tolerance
		metrics = append(metrics, EvalMetric{
			Name:  f.name + "_diff",
			Value: diff,
			Pass:  pass,
		})
		if !pass {
			passed = false
			failReasons = append(failReasons, fmt.Sprintf("%s differs by %.4g (tolerance %.4g)", f.name, diff, h.config.Tolerance))
		}
	}

	// informational
	shift := math.Abs(want.Estimates().ThresholdMean - got.Estimates().ThresholdMean)
	metrics = append(metrics, EvalMetric{
		Name:  "threshold_mean_shift",
		Value: shift,
		Pass:  true,
	})

	reason := "all checks passed"
	if !passed {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}

	return EvalResult{
		Passed:  passed,
		Metrics: metrics,
		Reason:  reason,
	}
}

// #endregion eval-harness
