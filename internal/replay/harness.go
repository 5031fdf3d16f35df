package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/eval"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/gate"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/inference"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
)

// #region types
// Replay actions.
const (
	ActionCommit     = "commit"
	ActionGateReject = "gate_reject"
	ActionDiverged   = "diverged"
)

// ReplayConfig bundles fit, gate, and eval configs for a replay run.
type ReplayConfig struct {
	FitConfig  inference.FitConfig
	GateConfig gate.GateConfig
	EvalConfig eval.EvalConfig
}

// DefaultReplayConfig returns the live-session defaults for all three stages.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		FitConfig:  inference.DefaultFitConfig(),
		GateConfig: gate.DefaultGateConfig(),
		EvalConfig: eval.DefaultEvalConfig(),
	}
}

// ReplayResult captures the outcome of refitting after one trial.
type ReplayResult struct {
	Trial       int
	Observation state.Observation
	Action      string // "commit" | "gate_reject" | "diverged"
	Reason      string

	// Gate stage (nil if the refit diverged)
	GateDecision *gate.GateDecision

	// Live posterior after this trial (equals the previous one unless committed)
	Params    prior.Params
	Estimates prior.Estimates
	ELBO      float64
	Duration  time.Duration
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalTrials    int
	Commits        int
	GateRejects    int
	Divergences    int
	FinalParams    prior.Params
	FinalEstimates prior.Estimates
}

// #endregion types

// #region replay
// Replay feeds obs to the refitter one trial at a time exactly as a live
// session would: each refit sees the full prefix and warm-starts from the
// live posterior, and only gated results advance it. It stops early only if
// ctx ends.
func Replay(ctx context.Context, p0 prior.Params, obs []state.Observation, r inference.Refitter, config ReplayConfig) ([]ReplayResult, prior.Params, error) {
	current := p0
	results := make([]ReplayResult, 0, len(obs))
	gateInst := gate.NewGate(config.GateConfig)

	for i, o := range obs {
		began := time.Now()
		res, err := r.Refit(ctx, obs[:i+1], p0, current)
		elapsed := time.Since(began)

		if err != nil {
			if ctx.Err() != nil {
				return results, current, fmt.Errorf("trial %d: %w", i+1, ctx.Err())
			}
			if !errors.Is(err, inference.ErrFitDivergence) {
				return results, current, fmt.Errorf("trial %d: %w", i+1, err)
			}
			results = append(results, ReplayResult{
				Trial:       i + 1,
				Observation: o,
				Action:      ActionDiverged,
				Reason:      err.Error(),
				Params:      current,
				Estimates:   current.Estimates(),
				Duration:    elapsed,
			})
			continue
		}

		gateDecision := gateInst.Evaluate(res.Params)
		if gateDecision.Vetoed {
			results = append(results, ReplayResult{
				Trial:        i + 1,
				Observation:  o,
				Action:       ActionGateReject,
				Reason:       gateDecision.Reason,
				GateDecision: &gateDecision,
				Params:       current,
				Estimates:    current.Estimates(),
				ELBO:         res.ELBO,
				Duration:     elapsed,
			})
			continue
		}

		current = res.Params
		results = append(results, ReplayResult{
			Trial:        i + 1,
			Observation:  o,
			Action:       ActionCommit,
			Reason:       gateDecision.Reason,
			GateDecision: &gateDecision,
			Params:       current,
			Estimates:    current.Estimates(),
			ELBO:         res.ELBO,
			Duration:     elapsed,
		})
	}

	return results, current, nil
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult, final prior.Params) ReplaySummary {
	s := ReplaySummary{
		TotalTrials:    len(results),
		FinalParams:    final,
		FinalEstimates: final.Estimates(),
	}
	for _, r := range results {
		switch r.Action {
		case ActionCommit:
			s.Commits++
		case ActionGateReject:
			s.GateRejects++
		case ActionDiverged:
			s.Divergences++
		}
	}
	return s
}

// #endregion replay
