package replay

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/inference"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/logging"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
)

// #region fixture-tests

// runFixture loads a fixture, replays it through SVI, and checks each trial's
// action and the final threshold band.
func runFixture(t *testing.T, name string) ReplaySummary {
	t.Helper()
	f, err := LoadFixture(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}

	p0, err := f.Prior.Params()
	if err != nil {
		t.Fatalf("prior: %v", err)
	}
	obs, err := f.ToObservations()
	if err != nil {
		t.Fatalf("ToObservations: %v", err)
	}
	config := f.Config.ToReplayConfig()

	results, final, err := Replay(context.Background(), p0, obs, inference.NewSVI(config.FitConfig), config)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results) != len(obs) {
		t.Fatalf("expected %d results, got %d", len(obs), len(results))
	}

	for _, expected := range f.ExpectedResults {
		actual := results[expected.Trial-1]
		if actual.Action != expected.Action {
			t.Errorf("trial %d: expected action=%s, got action=%s (reason: %s)",
				expected.Trial, expected.Action, actual.Action, actual.Reason)
		}
	}

	summary := Summarize(results, final)
	if f.ExpectedThreshold != nil {
		got := summary.FinalEstimates.ThresholdMean
		if got < f.ExpectedThreshold.Min || got > f.ExpectedThreshold.Max {
			t.Errorf("final threshold mean %.2f outside [%.0f, %.0f]", got, f.ExpectedThreshold.Min, f.ExpectedThreshold.Max)
		}
	}
	return summary
}

// TestFixture_ScenarioSession is the three-trial regression baseline.
func TestFixture_ScenarioSession(t *testing.T) {
	s := runFixture(t, "scenario_session.json")
	if s.Commits != 3 {
		t.Errorf("expected 3 commits, got %d", s.Commits)
	}
}

// TestFixture_SimulatedSession replays a simulated observer with a known
// threshold of 200 ms.
func TestFixture_SimulatedSession(t *testing.T) {
	if testing.Short() {
		t.Skip("24 sequential refits")
	}
	s := runFixture(t, "simulated_session.json")
	if s.GateRejects != 0 || s.Divergences != 0 {
		t.Errorf("expected clean session, got %+v", s)
	}
	if s.FinalEstimates.ThresholdScale >= 50 {
		t.Errorf("threshold scale %.2f did not narrow", s.FinalEstimates.ThresholdScale)
	}
}

func TestLoadFixture_DefaultsMissingConfig(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "scenario_session.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if got, want := f.Config.ToReplayConfig(), DefaultReplayConfig(); got != want {
		t.Errorf("expected defaults %+v, got %+v", want, got)
	}
}

func TestLoadFixture_MissingFile(t *testing.T) {
	if _, err := LoadFixture(filepath.Join("testdata", "nope.json")); err == nil {
		t.Fatal("expected error for missing fixture")
	}
}

func TestFixture_RejectsOutOfSetTrial(t *testing.T) {
	f := &Fixture{
		Candidates:   FixtureCandidates{Values: []float64{100, 200}},
		Observations: []FixtureObservation{{Trial: 1, X: 100, Y: 0}, {Trial: 2, X: 999, Y: 1}},
	}
	if _, err := f.ToObservations(); !errors.Is(err, state.ErrInvalidObservation) {
		t.Fatalf("expected ErrInvalidObservation, got %v", err)
	}
}

func TestFixture_RejectsOutOfSequenceTrial(t *testing.T) {
	f := &Fixture{
		Candidates:   FixtureCandidates{Values: []float64{100, 200}},
		Observations: []FixtureObservation{{Trial: 2, X: 100, Y: 0}},
	}
	if _, err := f.ToObservations(); err == nil {
		t.Fatal("expected sequence error")
	}
}

func TestFixture_SaveRoundTrip(t *testing.T) {
	obs := []state.Observation{{X: 100, Y: 0}, {X: 200, Y: 1}}
	f := &Fixture{
		Description:  "round trip",
		SessionID:    "s-1",
		Candidates:   FixtureCandidates{Start: 0, Stop: 300, Step: 1},
		Config:       FixtureConfigFrom(DefaultReplayConfig()),
		Observations: FixtureObservations(obs),
	}
	f.Prior.AlphaMean, f.Prior.AlphaScale, f.Prior.BetaMean, f.Prior.BetaScale = 300, 50, 0.017, 0.005

	path := filepath.Join(t.TempDir(), "out.json")
	if err := f.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	got, err := loaded.ToObservations()
	if err != nil {
		t.Fatalf("ToObservations: %v", err)
	}
	if len(got) != 2 || got[0] != obs[0] || got[1] != obs[1] {
		t.Errorf("observations changed: %+v", got)
	}
	if loaded.SessionID != "s-1" || loaded.Prior != f.Prior {
		t.Errorf("metadata changed: %+v", loaded)
	}
}

// #endregion fixture-tests

// #region recorded-actions-tests
func TestRecordedActions_KeysByHistoryLength(t *testing.T) {
	entries := []logging.ProvenanceEntry{
		{TriggerType: logging.TriggerInitial, Decision: "commit"},
		{TriggerType: logging.TriggerResume, Decision: "replay", NumObservations: 4},
		{TriggerType: logging.TriggerRefit, Decision: "commit", NumObservations: 4},
		{TriggerType: logging.TriggerDecision, Decision: "bopt", NumObservations: 4},
		{TriggerType: logging.TriggerRefit, Decision: "reject", NumObservations: 6},
	}

	got := RecordedActions(entries)
	if len(got) != 2 {
		t.Fatalf("expected 2 recorded trials, got %v", got)
	}
	if got[4] != "commit" {
		t.Errorf("trial 4: expected commit, got %q", got[4])
	}
	if got[6] != "reject" {
		t.Errorf("trial 6: expected reject, got %q", got[6])
	}
	if _, ok := got[5]; ok {
		t.Error("trial 5 has no refit row and must stay unrecorded")
	}
}
// #endregion recorded-actions-tests
