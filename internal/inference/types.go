package inference

import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
)

// #region errors

// ErrFitDivergence is returned when optimization produces non-finite parameters.
var ErrFitDivergence = errors.New("fit divergence")

// #endregion errors

// #region refitter
// Refitter produces a refined posterior from the complete observation history.
// obs is an immutable snapshot; implementations must not retain or mutate it.
// start is the warm-start point, usually the live posterior.
type Refitter interface {
	Refit(ctx context.Context, obs []state.Observation, prior, start prior.Params) (Result, error)
}
// #endregion refitter

// #region fit-config
// FitConfig holds optimizer settings for stochastic variational inference.
// Fewer iterations shorten refits, and with them the wait before each design request.
type FitConfig struct {
	Iterations      int     `yaml:"iterations" validate:"gt=0"`
	Samples         int     `yaml:"samples" validate:"gt=0"`          // Monte Carlo draws per gradient step
	LearningRate    float64 `yaml:"learning_rate" validate:"gt=0"`    // Adam step size
	AverageFraction float64 `yaml:"average_fraction" validate:"gt=0,lte=1"` // trailing share of iterates averaged into the result
	Seed            uint64  `yaml:"seed"`
}

// DefaultFitConfig returns the settings used for live sessions.
func DefaultFitConfig() FitConfig {
	return FitConfig{
		Iterations:      1000,
		Samples:         16,
		LearningRate:    0.01,
		AverageFraction: 0.5,
		Seed:            1,
	}
}
// #endregion fit-config

// #region result
// Metrics captures telemetry from one refit.
type Metrics struct {
	Iterations      int
	NumObservations int
	Duration        time.Duration
}

// Result is the output of a successful refit.
type Result struct {
	Params  prior.Params
	ELBO    float64 // mean Monte Carlo ELBO estimate over the averaged iterates
	Metrics Metrics
}
// #endregion result
