package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/eval"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/gate"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/inference"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/logging"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description       string                  `json:"description"`
	SessionID         string                  `json:"session_id,omitempty"`
	Prior             prior.Spec              `json:"prior"`
	Candidates        FixtureCandidates       `json:"candidates"`
	Config            FixtureConfig           `json:"config"`
	Observations      []FixtureObservation    `json:"observations"`
	ExpectedResults   []FixtureExpectedResult `json:"expected_results,omitempty"`
	ExpectedThreshold *FixtureBand            `json:"expected_threshold,omitempty"`
}

// FixtureCandidates lists candidates explicitly or as a half-open range.
// Values wins when both are present.
type FixtureCandidates struct {
	Values []float64 `json:"values,omitempty"`
	Start  float64   `json:"start,omitempty"`
	Stop   float64   `json:"stop,omitempty"`
	Step   float64   `json:"step,omitempty"`
}

// FixtureObservation is one recorded trial.
type FixtureObservation struct {
	Trial int     `json:"trial"`
	X     float64 `json:"x"`
	Y     int     `json:"y"`
}

// FixtureExpectedResult captures the expected action per trial.
type FixtureExpectedResult struct {
	Trial  int    `json:"trial"`
	Action string `json:"action"`
}

// FixtureBand bounds the final threshold mean.
type FixtureBand struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// FixtureConfig bundles all sub-configs for a replay run.
type FixtureConfig struct {
	FitConfig  FixtureFitConfig  `json:"fit_config"`
	GateConfig FixtureGateConfig `json:"gate_config"`
	EvalConfig FixtureEvalConfig `json:"eval_config"`
}

// FixtureFitConfig mirrors inference.FitConfig with JSON tags.
type FixtureFitConfig struct {
	Iterations      int     `json:"iterations"`
	Samples         int     `json:"samples"`
	LearningRate    float64 `json:"learning_rate"`
	AverageFraction float64 `json:"average_fraction"`
	Seed            uint64  `json:"seed"`
}

// FixtureGateConfig mirrors gate.GateConfig with JSON tags.
type FixtureGateConfig struct {
	MinLogScale float64 `json:"min_log_scale"`
	MaxLogScale float64 `json:"max_log_scale"`
}

// FixtureEvalConfig mirrors eval.EvalConfig with JSON tags.
type FixtureEvalConfig struct {
	Tolerance float64 `json:"tolerance"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file. Config keys the file
// leaves out keep their live-session defaults.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	f := Fixture{Config: FixtureConfigFrom(DefaultReplayConfig())}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Save writes the fixture as indented JSON.
func (f *Fixture) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// CandidateSet builds the fixture's candidate set.
func (c FixtureCandidates) CandidateSet() (state.CandidateSet, error) {
	if len(c.Values) > 0 {
		return state.NewCandidateSet(c.Values)
	}
	return state.Arange(c.Start, c.Stop, c.Step)
}

// ToObservations validates the recorded trials against the candidate set and
// returns them in trial order.
func (f *Fixture) ToObservations() ([]state.Observation, error) {
	cands, err := f.Candidates.CandidateSet()
	if err != nil {
		return nil, err
	}
	h := state.NewHistory(cands)
	for i, o := range f.Observations {
		if o.Trial != i+1 {
			return nil, fmt.Errorf("observation %d: trial %d out of sequence", i, o.Trial)
		}
		if err := h.Append(o.X, o.Y); err != nil {
			return nil, fmt.Errorf("trial %d: %w", o.Trial, err)
		}
	}
	return h.Snapshot(), nil
}

// FixtureObservations numbers obs from trial 1.
func FixtureObservations(obs []state.Observation) []FixtureObservation {
	out := make([]FixtureObservation, len(obs))
	for i, o := range obs {
		out[i] = FixtureObservation{Trial: i + 1, X: o.X, Y: o.Y}
	}
	return out
}

// RecordedActions maps a session's refit provenance rows to the trial whose
// refit they record, keyed by history length. Trials without a row are
// absent: a resumed history is refit once at its full length, and a refit
// cancelled at close writes nothing.
func RecordedActions(entries []logging.ProvenanceEntry) map[int]string {
	out := make(map[int]string)
	for _, e := range entries {
		if e.TriggerType != logging.TriggerRefit || e.NumObservations < 1 {
			continue
		}
		out[e.NumObservations] = e.Decision
	}
	return out
}

// ToReplayConfig converts a FixtureConfig to a domain ReplayConfig.
func (fc *FixtureConfig) ToReplayConfig() ReplayConfig {
	return ReplayConfig{
		FitConfig: inference.FitConfig{
			Iterations:      fc.FitConfig.Iterations,
			Samples:         fc.FitConfig.Samples,
			LearningRate:    fc.FitConfig.LearningRate,
			AverageFraction: fc.FitConfig.AverageFraction,
			Seed:            fc.FitConfig.Seed,
		},
		GateConfig: gate.GateConfig{
			MinLogScale: fc.GateConfig.MinLogScale,
			MaxLogScale: fc.GateConfig.MaxLogScale,
		},
		EvalConfig: eval.EvalConfig{
			Tolerance: fc.EvalConfig.Tolerance,
		},
	}
}

// FixtureConfigFrom is the inverse of ToReplayConfig.
func FixtureConfigFrom(c ReplayConfig) FixtureConfig {
	return FixtureConfig{
		FitConfig: FixtureFitConfig{
			Iterations:      c.FitConfig.Iterations,
			Samples:         c.FitConfig.Samples,
			LearningRate:    c.FitConfig.LearningRate,
			AverageFraction: c.FitConfig.AverageFraction,
			Seed:            c.FitConfig.Seed,
		},
		GateConfig: FixtureGateConfig{
			MinLogScale: c.GateConfig.MinLogScale,
			MaxLogScale: c.GateConfig.MaxLogScale,
		},
		EvalConfig: FixtureEvalConfig{
			Tolerance: c.EvalConfig.Tolerance,
		},
	}
}

// #endregion fixture-loader
