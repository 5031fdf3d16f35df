package inference

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// #region adam-constants
const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8

	// cancellation is checked every this many iterations
	ctxCheckEvery = 50
)
// #endregion adam-constants

// #region svi
// SVI fits a mean-field log-normal posterior over threshold and slope for the
// model P(y=1|x) = sigmoid(beta*(x-alpha)).
//
// The variational parameters are the log-space location and log of the
// log-space scale for each factor: theta = [mu_a, log s_a, mu_b, log s_b].
// Gradients of the expected log-likelihood use the reparameterization
// alpha = exp(mu_a + s_a*eps); the KL term against the log-normal prior is
// closed form because both factors are Gaussian in log space.
type SVI struct {
	config FitConfig
}

// NewSVI creates an SVI refitter.
func NewSVI(config FitConfig) *SVI {
	return &SVI{config: config}
}

// Config returns the optimizer settings.
func (s *SVI) Config() FitConfig {
	return s.config
}

// Refit runs a fixed number of Adam steps on the negative ELBO over the whole
// history, starting from start. The random stream is derived from the
// configured seed and the history length, so identical inputs give identical
// output.
func (s *SVI) Refit(ctx context.Context, obs []state.Observation, p0, start prior.Params) (Result, error) {
	began := time.Now()
	cfg := s.config

	if !p0.Finite() || !(p0.AlphaSigma > 0) || !(p0.BetaSigma > 0) {
		return Result{}, fmt.Errorf("%w: prior %+v is not a proper log-normal", ErrFitDivergence, p0)
	}
	if !start.Finite() || !(start.AlphaSigma > 0) || !(start.BetaSigma > 0) {
		start = p0
	}

	theta := [4]float64{start.AlphaMu, math.Log(start.AlphaSigma), start.BetaMu, math.Log(start.BetaSigma)}
	var m1, m2 [4]float64

	tail := int(math.Ceil(float64(cfg.Iterations) * cfg.AverageFraction))
	if tail < 1 {
		tail = 1
	}
	avg := make([]float64, 4)
	var elboSum float64

	noise := distuv.Normal{
		Mu:    0,
		Sigma: 1,
		Src:   rand.NewPCG(cfg.Seed, uint64(len(obs))),
	}

	for it := 1; it <= cfg.Iterations; it++ {
		if it%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, fmt.Errorf("refit cancelled at iteration %d: %w", it, err)
			}
		}

		grad, elbo := elboGradient(obs, p0, theta, cfg.Samples, &noise)

		// Adam minimizes the negative ELBO.
		b1t := 1 - math.Pow(adamBeta1, float64(it))
		b2t := 1 - math.Pow(adamBeta2, float64(it))
		for i := range theta {
			g := -grad[i]
			m1[i] = adamBeta1*m1[i] + (1-adamBeta1)*g
			m2[i] = adamBeta2*m2[i] + (1-adamBeta2)*g*g
			theta[i] -= cfg.LearningRate * (m1[i] / b1t) / (math.Sqrt(m2[i]/b2t) + adamEpsilon)
		}

		if !finite(theta[:]) {
			return Result{}, fmt.Errorf("%w: non-finite parameters at iteration %d", ErrFitDivergence, it)
		}

		if it > cfg.Iterations-tail {
			floats.Add(avg, theta[:])
			elboSum += elbo
		}
	}

	floats.Scale(1/float64(tail), avg)
	params := prior.Params{
		AlphaMu:    avg[0],
		AlphaSigma: math.Exp(avg[1]),
		BetaMu:     avg[2],
		BetaSigma:  math.Exp(avg[3]),
	}
	if !params.Finite() {
		return Result{}, fmt.Errorf("%w: non-finite averaged parameters %+v", ErrFitDivergence, params)
	}

	return Result{
		Params: params,
		ELBO:   elboSum / float64(tail),
		Metrics: Metrics{
			Iterations:      cfg.Iterations,
			NumObservations: len(obs),
			Duration:        time.Since(began),
		},
	}, nil
}
// #endregion svi

// #region gradient
// elboGradient returns a Monte Carlo estimate of the ELBO and its gradient
// with respect to theta.
func elboGradient(obs []state.Observation, p0 prior.Params, theta [4]float64, samples int, noise *distuv.Normal) ([4]float64, float64) {
	var grad [4]float64
	var ll float64

	sa, sb := math.Exp(theta[1]), math.Exp(theta[3])
	for k := 0; k < samples; k++ {
		ea, eb := noise.Rand(), noise.Rand()
		alpha := math.Exp(theta[0] + sa*ea)
		beta := math.Exp(theta[2] + sb*eb)

		dAlpha, dBeta, l := logLikelihood(obs, alpha, beta)
		// chain rule through alpha = exp(u), u = mu + s*eps, s = exp(rho)
		du := dAlpha * alpha
		dv := dBeta * beta
		grad[0] += du
		grad[1] += du * ea * sa
		grad[2] += dv
		grad[3] += dv * eb * sb
		ll += l
	}
	inv := 1 / float64(samples)
	for i := range grad {
		grad[i] *= inv
	}
	ll *= inv

	klA, dmA, drA := gaussianKL(theta[0], sa, p0.AlphaMu, p0.AlphaSigma)
	klB, dmB, drB := gaussianKL(theta[2], sb, p0.BetaMu, p0.BetaSigma)
	grad[0] -= dmA
	grad[1] -= drA
	grad[2] -= dmB
	grad[3] -= drB

	return grad, ll - klA - klB
}

// logLikelihood returns the Bernoulli-logistic log-likelihood of obs at
// (alpha, beta) and its partial derivatives.
func logLikelihood(obs []state.Observation, alpha, beta float64) (dAlpha, dBeta, ll float64) {
	for _, o := range obs {
		d := o.X - alpha
		z := beta * d
		r := float64(o.Y) - Sigmoid(z)
		dAlpha -= r * beta
		dBeta += r * d
		if o.Y == 1 {
			ll += LogSigmoid(z)
		} else {
			ll += LogSigmoid(-z)
		}
	}
	return dAlpha, dBeta, ll
}

// gaussianKL returns KL(N(m, s) || N(m0, s0)) and its derivatives with
// respect to m and rho = log s.
func gaussianKL(m, s, m0, s0 float64) (kl, dm, drho float64) {
	v0 := s0 * s0
	diff := m - m0
	kl = math.Log(s0/s) + (s*s+diff*diff)/(2*v0) - 0.5
	dm = diff / v0
	drho = -1 + s*s/v0
	return kl, dm, drho
}
// #endregion gradient

// #region helpers
// Sigmoid is the numerically stable logistic function.
func Sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// LogSigmoid returns log(sigmoid(z)) without overflow.
func LogSigmoid(z float64) float64 {
	if z >= 0 {
		return -math.Log1p(math.Exp(-z))
	}
	return z - math.Log1p(math.Exp(z))
}

func finite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
// #endregion helpers
