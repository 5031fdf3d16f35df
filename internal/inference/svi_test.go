package inference

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// refitTolerance bounds the log-space distance between refits of the same
// history started from different warm-start points.
const refitTolerance = 0.05

func scenarioPrior(t *testing.T) prior.Params {
	t.Helper()
	p, err := prior.Spec{AlphaMean: 300, AlphaScale: 50, BetaMean: 0.017, BetaScale: 0.005}.Params()
	require.NoError(t, err)
	return p
}

func scenarioObservations() []state.Observation {
	return []state.Observation{{X: 100, Y: 0}, {X: 200, Y: 1}, {X: 150, Y: 0}}
}

func assertParamsNear(t *testing.T, want, got prior.Params, tol float64) {
	t.Helper()
	assert.InDelta(t, want.AlphaMu, got.AlphaMu, tol, "alpha mu")
	assert.InDelta(t, want.AlphaSigma, got.AlphaSigma, tol, "alpha sigma")
	assert.InDelta(t, want.BetaMu, got.BetaMu, tol, "beta mu")
	assert.InDelta(t, want.BetaSigma, got.BetaSigma, tol, "beta sigma")
}

func TestRefitShiftsThresholdTowardObservations(t *testing.T) {
	p0 := scenarioPrior(t)
	res, err := NewSVI(DefaultFitConfig()).Refit(context.Background(), scenarioObservations(), p0, p0)
	require.NoError(t, err)

	est := res.Params.Estimates()
	// Exact posterior mean under this prior is about 278: three trials move a
	// 50 ms prior part of the way toward the 150/200 bracket.
	assert.Less(t, est.ThresholdMean, 292.0)
	assert.Greater(t, est.ThresholdMean, 265.0)
	assert.Less(t, est.ThresholdScale, 50.0, "data narrows the threshold")
	assert.Equal(t, 3, res.Metrics.NumObservations)
	assert.False(t, math.IsNaN(res.ELBO))
}

func TestRefitIdenticalInputsAreIdentical(t *testing.T) {
	p0 := scenarioPrior(t)
	svi := NewSVI(DefaultFitConfig())

	a, err := svi.Refit(context.Background(), scenarioObservations(), p0, p0)
	require.NoError(t, err)
	b, err := svi.Refit(context.Background(), scenarioObservations(), p0, p0)
	require.NoError(t, err)

	assert.Equal(t, a.Params, b.Params)
}

func TestRefitFromWarmStartConverges(t *testing.T) {
	p0 := scenarioPrior(t)
	svi := NewSVI(DefaultFitConfig())

	first, err := svi.Refit(context.Background(), scenarioObservations(), p0, p0)
	require.NoError(t, err)
	second, err := svi.Refit(context.Background(), scenarioObservations(), p0, first.Params)
	require.NoError(t, err)

	assertParamsNear(t, first.Params, second.Params, refitTolerance)
}

func TestRefitWithoutObservationsKeepsPrior(t *testing.T) {
	p0 := scenarioPrior(t)
	res, err := NewSVI(DefaultFitConfig()).Refit(context.Background(), nil, p0, p0)
	require.NoError(t, err)
	assertParamsNear(t, p0, res.Params, 1e-9)
}

func TestRefitRecoversSimulatedThreshold(t *testing.T) {
	if testing.Short() {
		t.Skip("long refit")
	}
	p0 := scenarioPrior(t)
	rng := rand.New(rand.NewPCG(7, 7))

	obs := make([]state.Observation, 0, 200)
	for i := 0; i < 200; i++ {
		x := float64(50 + (i*37)%301)
		y := 0
		if rng.Float64() < Sigmoid(0.05*(x-200)) {
			y = 1
		}
		obs = append(obs, state.Observation{X: x, Y: y})
	}

	res, err := NewSVI(DefaultFitConfig()).Refit(context.Background(), obs, p0, p0)
	require.NoError(t, err)
	est := res.Params.Estimates()
	assert.InDelta(t, 200, est.ThresholdMean, 25)
	assert.Less(t, est.ThresholdScale, 15.0)
	assert.Greater(t, est.SlopeMean, 0.017, "slope moves from the prior toward the true 0.05")
}

func TestRefitDivergenceIsReported(t *testing.T) {
	p0 := scenarioPrior(t)
	cfg := DefaultFitConfig()
	cfg.LearningRate = math.Inf(1)

	_, err := NewSVI(cfg).Refit(context.Background(), scenarioObservations(), p0, p0)
	assert.ErrorIs(t, err, ErrFitDivergence)
}

func TestRefitRejectsImproperPrior(t *testing.T) {
	p0 := scenarioPrior(t)
	p0.AlphaSigma = 0
	_, err := NewSVI(DefaultFitConfig()).Refit(context.Background(), scenarioObservations(), p0, p0)
	assert.ErrorIs(t, err, ErrFitDivergence)
}

func TestRefitHonoursCancellation(t *testing.T) {
	p0 := scenarioPrior(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSVI(DefaultFitConfig()).Refit(ctx, scenarioObservations(), p0, p0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSigmoidIsStable(t *testing.T) {
	assert.Equal(t, 0.5, Sigmoid(0))
	assert.InDelta(t, 1, Sigmoid(1000), 1e-12)
	assert.InDelta(t, 0, Sigmoid(-1000), 1e-12)
	assert.False(t, math.IsNaN(LogSigmoid(-1000)))
	assert.InDelta(t, -1000, LogSigmoid(-1000), 1e-9)
	assert.InDelta(t, 0, LogSigmoid(1000), 1e-12)
	assert.InDelta(t, math.Log(Sigmoid(1.3)), LogSigmoid(1.3), 1e-12)
}

func TestGaussianKLIsZeroAtPrior(t *testing.T) {
	kl, dm, drho := gaussianKL(1.5, 0.3, 1.5, 0.3)
	assert.InDelta(t, 0, kl, 1e-12)
	assert.InDelta(t, 0, dm, 1e-12)
	assert.InDelta(t, 0, drho, 1e-12)
}

func TestLogLikelihoodGradientMatchesFiniteDifference(t *testing.T) {
	obs := scenarioObservations()
	alpha, beta := 180.0, 0.02
	dA, dB, _ := logLikelihood(obs, alpha, beta)

	const h = 1e-5
	_, _, up := logLikelihood(obs, alpha+h, beta)
	_, _, down := logLikelihood(obs, alpha-h, beta)
	assert.InDelta(t, (up-down)/(2*h), dA, 1e-6)

	_, _, up = logLikelihood(obs, alpha, beta+h)
	_, _, down = logLikelihood(obs, alpha, beta-h)
	assert.InDelta(t, (up-down)/(2*h), dB, 1e-3)
}
