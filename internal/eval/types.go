package eval

// #region eval-config
// EvalConfig holds tolerances for the refit reproducibility check.
type EvalConfig struct {
	Tolerance float64 // max absolute difference per log-space parameter
}

// DefaultEvalConfig matches the spread seen between refits of one history
// from different warm starts.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		Tolerance: 0.05,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of a reproducibility check.
type EvalResult struct {
	Passed  bool
	Metrics []EvalMetric
	Reason  string
}

// #endregion eval-result
