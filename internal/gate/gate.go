package gate

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
)

// #region gate
// Gate decides whether a refit's proposed posterior may replace the live one.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Evaluate collects every veto that applies to proposed. Any veto rejects it;
// the caller keeps the live posterior.
func (g *Gate) Evaluate(proposed prior.Params) GateDecision {
	var vetoes []VetoSignal

	fields := []struct {
		name  string
		value float64
		scale bool
	}{
		{"alpha_mu", proposed.AlphaMu, false},
		{"alpha_sigma", proposed.AlphaSigma, true},
		{"beta_mu", proposed.BetaMu, false},
		{"beta_sigma", proposed.BetaSigma, true},
	}

	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			vetoes = append(vetoes, VetoSignal{
				Type:   VetoNonFinite,
				Reason: fmt.Sprintf("%s is %v", f.name, f.value),
			})
			continue
		}
		if !f.scale {
			continue
		}
		if f.value < g.config.MinLogScale {
			vetoes = append(vetoes, VetoSignal{
				Type:   VetoScaleCollapse,
				Reason: fmt.Sprintf("%s %.3g below floor %.3g", f.name, f.value, g.config.MinLogScale),
			})
		}
		if f.value > g.config.MaxLogScale {
			vetoes = append(vetoes, VetoSignal{
				Type:   VetoScaleExplosion,
				Reason: fmt.Sprintf("%s %.3g exceeds cap %.3g", f.name, f.value, g.config.MaxLogScale),
			})
		}
	}

	if len(vetoes) > 0 {
		return GateDecision{
			Action:      "reject",
			Reason:      fmt.Sprintf("hard veto: %s", vetoes[0].Reason),
			Vetoed:      true,
			VetoSignals: vetoes,
		}
	}

	return GateDecision{
		Action: "commit",
		Reason: "passed gate",
	}
}

// #endregion gate
