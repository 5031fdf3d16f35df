package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/engine"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/logging"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/replay"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// #region helpers
func testSpec() prior.Spec {
	return prior.Spec{AlphaMean: 300, AlphaScale: 50, BetaMean: 0.017, BetaScale: 0.005}
}

func openStore(t *testing.T) (*state.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replay.db")
	store, err := state.NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}
// #endregion helpers

// #region db-mode-tests
func TestDBModeResumedSessionMatches(t *testing.T) {
	store, path := openStore(t)
	cands, err := state.Arange(50, 351, 1)
	require.NoError(t, err)
	ctx := context.Background()

	history := []state.Observation{{X: 100, Y: 0}, {X: 200, Y: 1}, {X: 150, Y: 0}, {X: 250, Y: 1}}
	eng, err := engine.ResumeFromHistory(ctx, engine.DefaultConfig(), testSpec(), cands, history,
		engine.WithJournal(engine.StoreJournal{Store: store}),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	require.NoError(t, eng.RecordOutcome(ctx, 175, 1))
	_, err = eng.Await(ctx)
	require.NoError(t, err)
	eng.Close()

	var out bytes.Buffer
	err = runDBMode(ctx, &out, &options{dbPath: path, sessionID: eng.SessionID()})
	require.NoError(t, err, out.String())
	assert.Contains(t, out.String(), "Summary: 2 total, 2 match, 0 diverge")
}

func TestDBModeReportsDivergingTrial(t *testing.T) {
	store, path := openStore(t)
	params, err := testSpec().Params()
	require.NoError(t, err)
	initial := state.Posterior{VersionID: "v0", Params: params, CreatedAt: time.Now().UTC()}
	_, err = store.CreateSession("s-1", testSpec(), []float64{100, 150, 200}, initial)
	require.NoError(t, err)

	for i, o := range []state.Observation{{X: 100, Y: 0}, {X: 200, Y: 1}} {
		require.NoError(t, store.AppendObservation("s-1", i+1, o))
	}
	// the recorded session rejected trial 1, which a clean replay commits
	for _, e := range []logging.ProvenanceEntry{
		{SessionID: "s-1", VersionID: "v0", TriggerType: logging.TriggerRefit, Decision: "reject", NumObservations: 1},
		{SessionID: "s-1", VersionID: "v1", TriggerType: logging.TriggerRefit, Decision: "commit", NumObservations: 2},
	} {
		require.NoError(t, logging.LogDecision(store.DB(), e))
	}

	var out bytes.Buffer
	err = runDBMode(context.Background(), &out, &options{dbPath: path, sessionID: "s-1"})
	var code exitCode
	require.True(t, errors.As(err, &code), "got %v", err)
	assert.Equal(t, exitCode(1), code)
	assert.Contains(t, out.String(), "Summary: 2 total, 1 match, 1 diverge")
}

func TestDBModeUnknownSession(t *testing.T) {
	_, path := openStore(t)
	err := runDBMode(context.Background(), io.Discard, &options{dbPath: path, sessionID: "missing"})
	require.Error(t, err)
	var code exitCode
	assert.False(t, errors.As(err, &code))
}
// #endregion db-mode-tests

// #region fixture-mode-tests
func TestFixtureModeScenario(t *testing.T) {
	var out bytes.Buffer
	err := runFixtureMode(context.Background(), &out, &options{
		fixturePath: filepath.Join("..", "..", "internal", "replay", "testdata", "scenario_session.json"),
		verify:      true,
	})
	require.NoError(t, err, out.String())
	assert.Contains(t, out.String(), "Summary: 3 total, 3 match, 0 diverge")
	assert.Contains(t, out.String(), "expected [265, 292]: OK")
}
// #endregion fixture-mode-tests

// #region output-tests
func TestPrintComparisonSkipsUnrecordedTrials(t *testing.T) {
	results := []replay.ReplayResult{
		{Trial: 1, Action: replay.ActionCommit},
		{Trial: 2, Action: replay.ActionDiverged},
		{Trial: 3, Action: replay.ActionCommit},
	}
	var out bytes.Buffer
	code := printComparison(&out, results, []string{"", "reject", "commit"})
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Summary: 2 total, 2 match, 0 diverge")
}

func TestActionsMatch(t *testing.T) {
	tests := []struct {
		expected, replayed string
		want               bool
	}{
		{"commit", replay.ActionCommit, true},
		{"reject", replay.ActionGateReject, true},
		{"reject", replay.ActionDiverged, true},
		{"commit", replay.ActionDiverged, false},
		{"reject", replay.ActionCommit, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, actionsMatch(tt.expected, tt.replayed), "%s vs %s", tt.expected, tt.replayed)
	}
}
// #endregion output-tests
