package policy

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/inference"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// #region policy
// Policy selects design points from a posterior. It owns a random stream, so
// successive threshold-seeking draws differ while a fixed seed keeps whole
// sessions reproducible.
type Policy struct {
	config PolicyConfig

	mu  sync.Mutex
	src rand.Source
}

// NewPolicy creates a policy with its own seeded random stream.
func NewPolicy(config PolicyConfig) *Policy {
	return &Policy{
		config: config,
		src:    rand.NewPCG(config.Seed, 0x9e3779b97f4a7c15),
	}
}
// #endregion policy

// #region select
// Select returns the next design value under mode. The result is always a
// member of candidates.
func (p *Policy) Select(mode Mode, post prior.Params, candidates state.CandidateSet) (float64, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return 0, err
	}
	if candidates.Len() == 0 {
		return 0, fmt.Errorf("%w: mode %s", ErrEmptyCandidateSet, mode)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch mode {
	case ModeOED:
		gains := p.informationGains(post, candidates)
		return candidates.At(floats.MaxIdx(gains)), nil
	default:
		probs := p.thresholdProbabilities(post, candidates)
		idx := int(distuv.NewCategorical(probs, p.src).Rand())
		return candidates.At(idx), nil
	}
}
// #endregion select

// #region threshold-probabilities
// ThresholdProbabilities returns, per candidate, the posterior probability
// that it is the candidate closest to the 50% response point.
func (p *Policy) ThresholdProbabilities(post prior.Params, candidates state.CandidateSet) ([]float64, error) {
	if candidates.Len() == 0 {
		return nil, ErrEmptyCandidateSet
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.thresholdProbabilities(post, candidates), nil
}

// thresholdProbabilities scores each posterior draw by |logit| at every
// candidate; the logit is zero exactly at threshold. Each draw votes for its
// minimizing candidate, ties going to the earliest.
func (p *Policy) thresholdProbabilities(post prior.Params, candidates state.CandidateSet) []float64 {
	alphas, betas := p.draw(post)
	counts := make([]float64, candidates.Len())
	for s := range alphas {
		best, bestLoss := 0, math.Inf(1)
		for j := 0; j < candidates.Len(); j++ {
			loss := math.Abs(betas[s] * (candidates.At(j) - alphas[s]))
			if loss < bestLoss {
				best, bestLoss = j, loss
			}
		}
		counts[best]++
	}
	floats.Scale(1/float64(len(alphas)), counts)
	return counts
}
// #endregion threshold-probabilities

// #region information-gain
// InformationGains returns, per candidate, the expected information gain
// about (alpha, beta) from observing one outcome there.
func (p *Policy) InformationGains(post prior.Params, candidates state.CandidateSet) ([]float64, error) {
	if candidates.Len() == 0 {
		return nil, ErrEmptyCandidateSet
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.informationGains(post, candidates), nil
}

// informationGains estimates the mutual information between the binary
// outcome and the parameters, H(E[p]) - E[H(p)], over posterior draws. For a
// Bernoulli outcome this is the marginal estimator with its optimal marginal.
func (p *Policy) informationGains(post prior.Params, candidates state.CandidateSet) []float64 {
	alphas, betas := p.draw(post)
	n := float64(len(alphas))
	gains := make([]float64, candidates.Len())
	for j := range gains {
		x := candidates.At(j)
		var meanP, meanH float64
		for s := range alphas {
			pr := inference.Sigmoid(betas[s] * (x - alphas[s]))
			meanP += pr
			meanH += binaryEntropy(pr)
		}
		gains[j] = binaryEntropy(meanP/n) - meanH/n
	}
	return gains
}

func binaryEntropy(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return -p*math.Log(p) - (1-p)*math.Log1p(-p)
}
// #endregion information-gain

// #region sampling
func (p *Policy) draw(post prior.Params) (alphas, betas []float64) {
	a := distuv.LogNormal{Mu: post.AlphaMu, Sigma: post.AlphaSigma, Src: p.src}
	b := distuv.LogNormal{Mu: post.BetaMu, Sigma: post.BetaSigma, Src: p.src}
	alphas = make([]float64, p.config.Samples)
	betas = make([]float64, p.config.Samples)
	for i := range alphas {
		alphas[i] = a.Rand()
		betas[i] = b.Rand()
	}
	return alphas, betas
}
// #endregion sampling
