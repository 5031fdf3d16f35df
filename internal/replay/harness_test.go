package replay

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/inference"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
)

// scriptedRefitter returns results from a per-call script.
type scriptedRefitter struct {
	calls  int
	starts []prior.Params
	lens   []int
	script func(call int, p0, start prior.Params) (inference.Result, error)
}

func (s *scriptedRefitter) Refit(ctx context.Context, obs []state.Observation, p0, start prior.Params) (inference.Result, error) {
	s.calls++
	s.starts = append(s.starts, start)
	s.lens = append(s.lens, len(obs))
	if err := ctx.Err(); err != nil {
		return inference.Result{}, err
	}
	return s.script(s.calls, p0, start)
}

func testPrior(t *testing.T) prior.Params {
	t.Helper()
	p, err := prior.Spec{AlphaMean: 300, AlphaScale: 50, BetaMean: 0.017, BetaScale: 0.005}.Params()
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func threeTrials() []state.Observation {
	return []state.Observation{{X: 100, Y: 0}, {X: 200, Y: 1}, {X: 150, Y: 0}}
}

// step nudges the threshold location down a little on every call.
func step(_ int, _, start prior.Params) (inference.Result, error) {
	start.AlphaMu -= 0.01
	return inference.Result{Params: start, ELBO: -1}, nil
}

// 1. Full commit path: every trial commits and warm-starts from the last.
func TestReplay_FullCommitPath(t *testing.T) {
	p0 := testPrior(t)
	r := &scriptedRefitter{script: step}

	results, final, err := Replay(context.Background(), p0, threeTrials(), r, DefaultReplayConfig())
	if err != nil {
		t.Fatal(err)
	}

	for i, res := range results {
		if res.Action != ActionCommit {
			t.Errorf("trial %d: expected commit, got %s", i+1, res.Action)
		}
		if res.GateDecision == nil {
			t.Errorf("trial %d: expected GateDecision", i+1)
		}
		if r.lens[i] != i+1 {
			t.Errorf("trial %d: refit saw %d observations", i+1, r.lens[i])
		}
	}
	if r.starts[1] != results[0].Params || r.starts[2] != results[1].Params {
		t.Error("expected warm start from previous commit")
	}
	if math.Abs(final.AlphaMu-(p0.AlphaMu-0.03)) > 1e-12 {
		t.Errorf("final alpha mu %v", final.AlphaMu)
	}
}

// 2. Gate rejection: collapsed scale is vetoed and the posterior stays put.
func TestReplay_GateRejection(t *testing.T) {
	p0 := testPrior(t)
	r := &scriptedRefitter{script: func(call int, p0, start prior.Params) (inference.Result, error) {
		if call == 2 {
			start.BetaSigma = 0
			return inference.Result{Params: start}, nil
		}
		return step(call, p0, start)
	}}

	results, _, err := Replay(context.Background(), p0, threeTrials(), r, DefaultReplayConfig())
	if err != nil {
		t.Fatal(err)
	}

	rej := results[1]
	if rej.Action != ActionGateReject {
		t.Fatalf("expected gate_reject, got %s", rej.Action)
	}
	if rej.Params != results[0].Params {
		t.Error("rejected trial must keep previous posterior")
	}
	if r.starts[2] != results[0].Params {
		t.Error("next refit must start from the last committed posterior")
	}
	if results[2].Action != ActionCommit {
		t.Errorf("expected recovery commit, got %s", results[2].Action)
	}
}

// 3. Divergence is recorded and the run continues.
func TestReplay_Divergence(t *testing.T) {
	p0 := testPrior(t)
	r := &scriptedRefitter{script: func(call int, p0, start prior.Params) (inference.Result, error) {
		if call == 1 {
			return inference.Result{}, inference.ErrFitDivergence
		}
		return step(call, p0, start)
	}}

	results, _, err := Replay(context.Background(), p0, threeTrials(), r, DefaultReplayConfig())
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Action != ActionDiverged || results[0].Params != p0 {
		t.Errorf("expected diverged at prior, got %+v", results[0])
	}
	if results[0].GateDecision != nil {
		t.Error("diverged trial never reaches the gate")
	}

	s := Summarize(results, results[2].Params)
	if s.TotalTrials != 3 || s.Divergences != 1 || s.Commits != 2 {
		t.Errorf("unexpected summary %+v", s)
	}
}

// 4. Other refit errors and cancellation abort the run.
func TestReplay_AbortsOnHardErrors(t *testing.T) {
	p0 := testPrior(t)
	boom := errors.New("boom")
	r := &scriptedRefitter{script: func(call int, p0, start prior.Params) (inference.Result, error) {
		if call == 2 {
			return inference.Result{}, boom
		}
		return step(call, p0, start)
	}}

	results, _, err := Replay(context.Background(), p0, threeTrials(), r, DefaultReplayConfig())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result before abort, got %d", len(results))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, final, err := Replay(ctx, p0, threeTrials(), &scriptedRefitter{script: step}, DefaultReplayConfig())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if final != p0 {
		t.Error("cancelled run must return the prior")
	}
}

func TestReplay_Empty(t *testing.T) {
	p0 := testPrior(t)
	results, final, err := Replay(context.Background(), p0, nil, &scriptedRefitter{script: step}, DefaultReplayConfig())
	if err != nil || len(results) != 0 || final != p0 {
		t.Errorf("expected no-op replay, got %d results, err %v", len(results), err)
	}
}
