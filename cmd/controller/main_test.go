package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/config"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/engine"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func quiet() engine.Option {
	return engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func fastConfig() config.Config {
	cfg := config.Default()
	cfg.Engine.Fit.Iterations = 200
	cfg.Engine.Policy.Samples = 200
	cfg.Storage.DBPath = ""
	return cfg
}

func TestObserverFollowsPsychometricCurve(t *testing.T) {
	o := newObserver(200, 0.05, 3)
	far, near := 0, 0
	for i := 0; i < 500; i++ {
		far += o.respond(350)
		near += o.respond(200)
	}
	assert.Greater(t, far, 490, "far above threshold is almost always 1")
	assert.InDelta(t, 250, near, 50, "at threshold about half")
}

func TestRunSimulatePrintsEveryTrial(t *testing.T) {
	var out strings.Builder
	opts := &simulateOptions{alpha: 200, beta: 0.05, trials: 5, mode: "bopt", seed: 1}

	require.NoError(t, runSimulate(context.Background(), &out, fastConfig(), opts, quiet()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	// header, rule, 5 trials, blank, 3 summary lines
	assert.Len(t, lines, 2+5+1+3)
	assert.Contains(t, out.String(), "Final threshold")
}

func TestSimulateDrivesRemoteSession(t *testing.T) {
	cfg := fastConfig()
	cands, err := cfg.CandidateSet()
	require.NoError(t, err)
	eng, err := engine.New(cfg.Engine, cfg.Prior, cands, quiet())
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	g := transport.NewGRPCServer(transport.NewServer(eng, slog.New(slog.NewTextHandler(io.Discard, nil))))
	go func() { _ = g.Serve(lis) }()
	client, err := transport.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		g.Stop()
		eng.Close()
	})

	var out strings.Builder
	opts := &simulateOptions{alpha: 200, beta: 0.05, trials: 4, mode: "oed", seed: 2}
	require.NoError(t, simulate(context.Background(), &out, remoteSession{client}, opts))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 2+4+1+3)
	assert.Equal(t, 4, eng.Len(), "every outcome reached the served engine")
	assert.Contains(t, out.String(), "(last fit committed)")
	assert.Contains(t, out.String(), "Session "+eng.SessionID())
}

func TestRunSimulateRejectsBadMode(t *testing.T) {
	opts := &simulateOptions{alpha: 200, beta: 0.05, trials: 1, mode: "greedy", seed: 1}
	err := runSimulate(context.Background(), io.Discard, fastConfig(), opts, quiet())
	assert.ErrorIs(t, err, engine.ErrInvalidMode)
}

func TestStartEngineFromBaseline(t *testing.T) {
	opts := &serveOptions{baseline: "250, 270,260", preemptive: 40}
	eng, err := startEngine(context.Background(), fastConfig(), opts, nil, []engine.Option{quiet()})
	require.NoError(t, err)
	defer eng.Close()
	assert.InDelta(t, 220, eng.Prior().AlphaMean, 1e-9)
}

func TestStartEngineResumeNeedsStore(t *testing.T) {
	_, err := startEngine(context.Background(), fastConfig(), &serveOptions{resume: "abc"}, nil, nil)
	assert.Error(t, err)
}

func TestStartEngineResumeAndContinue(t *testing.T) {
	store, engOpts, err := openJournal(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	defer store.Close()
	engOpts = append(engOpts, quiet())
	ctx := context.Background()

	cfg := fastConfig()
	first, err := startEngine(ctx, cfg, &serveOptions{}, store, engOpts)
	require.NoError(t, err)
	require.NoError(t, first.RecordOutcome(ctx, 100, 0))
	require.NoError(t, first.RecordOutcome(ctx, 200, 1))
	_, err = first.Await(ctx)
	require.NoError(t, err)
	first.Close()

	resumed, err := startEngine(ctx, cfg, &serveOptions{resume: first.SessionID()}, store, engOpts)
	require.NoError(t, err)
	defer resumed.Close()
	assert.Equal(t, first.History(), resumed.History())
	assert.NotEqual(t, first.SessionID(), resumed.SessionID())

	next, err := startEngine(ctx, cfg, &serveOptions{priorFrom: first.SessionID(), inflation: prior.DefaultInflation}, store, engOpts)
	require.NoError(t, err)
	defer next.Close()
	want := first.CurrentEstimates()
	assert.InDelta(t, want.ThresholdMean, next.Prior().AlphaMean, 1e-9)
	assert.InDelta(t, want.ThresholdScale*prior.DefaultInflation, next.Prior().AlphaScale, 1e-9)
}

func TestParseFloats(t *testing.T) {
	got, err := parseFloats("1, 2.5,,3")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2.5, 3}, got)

	_, err = parseFloats("1,x")
	assert.Error(t, err)
}
