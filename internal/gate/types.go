package gate

// #region veto-type
// VetoType enumerates hard veto categories.
type VetoType string

const (
	VetoNonFinite      VetoType = "non_finite"
	VetoScaleCollapse  VetoType = "scale_collapse"
	VetoScaleExplosion VetoType = "scale_explosion"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal represents a detected hard veto condition.
type VetoSignal struct {
	Type   VetoType
	Reason string
}

// #endregion veto-signal

// #region gate-config
// GateConfig bounds the log-space scales a refit may publish.
type GateConfig struct {
	MinLogScale float64 `yaml:"min_log_scale" validate:"gte=0"` // below this a factor has collapsed to a point
	MaxLogScale float64 `yaml:"max_log_scale" validate:"gtfield=MinLogScale"`
}

// DefaultGateConfig returns bounds wide enough for any plausible latency prior.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinLogScale: 1e-6,
		MaxLogScale: 5.0,
	}
}

// #endregion gate-config

// #region gate-decision
// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Action      string // "commit" | "reject"
	Reason      string
	Vetoed      bool
	VetoSignals []VetoSignal // non-empty if vetoed
}

// #endregion gate-decision
