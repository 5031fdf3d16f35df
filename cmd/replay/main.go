package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/eval"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/inference"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/logging"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/replay"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
	"github.com/spf13/cobra"
)

// #region main

// exitCode carries a non-error process status out of RunE.
type exitCode int

func (e exitCode) Error() string { return "exit " + strconv.Itoa(int(e)) }

type options struct {
	dbPath      string
	sessionID   string
	fixturePath string
	verify      bool
}

func main() {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded trials through the refit pipeline",
		Long: `Replay a session trial by trial: refit on each prefix, gate the result,
and compare the commit/reject sequence with what was recorded.

Exit codes:
  0 - every trial matches (and --verify passed)
  1 - at least one trial diverges, or --verify failed
  2 - command error

Examples:
  replay --fixture internal/replay/testdata/scenario_session.json
  replay --db adaptive_design.db --session 3f1c... --verify`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (opts.dbPath == "") == (opts.fixturePath == "") {
				return errors.New("exactly one of --db or --fixture is required")
			}
			if opts.fixturePath != "" {
				return runFixtureMode(cmd.Context(), cmd.OutOrStdout(), opts)
			}
			if opts.sessionID == "" {
				return errors.New("--session is required with --db")
			}
			return runDBMode(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "path to adaptive_design.db (DB mode)")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "session to replay (DB mode)")
	cmd.Flags().StringVar(&opts.fixturePath, "fixture", "", "path to fixture JSON (fixture mode)")
	cmd.Flags().BoolVar(&opts.verify, "verify", false, "also check the final posterior reproduces from a single refit")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		var code exitCode
		if errors.As(err, &code) {
			os.Exit(int(code))
		}
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(2)
	}
}

// #endregion main

// #region db-mode

func runDBMode(ctx context.Context, w io.Writer, opts *options) error {
	store, err := state.NewStore(opts.dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	sess, err := store.GetSession(opts.sessionID)
	if err != nil {
		return err
	}
	obs, err := store.ListObservations(opts.sessionID)
	if err != nil {
		return err
	}
	if len(obs) == 0 {
		return fmt.Errorf("session %s has no observations", opts.sessionID)
	}

	entries, err := logging.ListProvenance(store.DB(), opts.sessionID)
	if err != nil {
		return err
	}
	// Trials the live session never refit on their own stay unrecorded.
	recorded := replay.RecordedActions(entries)
	expected := make([]string, len(obs))
	for i := range expected {
		expected[i] = recorded[i+1]
	}

	p0, err := sess.Prior.Params()
	if err != nil {
		return err
	}
	config := replay.DefaultReplayConfig()
	results, final, err := replay.Replay(ctx, p0, obs, inference.NewSVI(config.FitConfig), config)
	if err != nil {
		return err
	}

	code := printComparison(w, results, expected)
	if opts.verify {
		cur, err := store.GetCurrent(opts.sessionID)
		if err != nil {
			return err
		}
		h := eval.NewEvalHarness(config.EvalConfig, nil)
		code = max(code, printVerify(w, h.Compare(cur.Params, final)))
	}
	printSummary(w, replay.Summarize(results, final))
	return exitOrNil(code)
}

// #endregion db-mode

// #region fixture-mode

func runFixtureMode(ctx context.Context, w io.Writer, opts *options) error {
	f, err := replay.LoadFixture(opts.fixturePath)
	if err != nil {
		return err
	}
	p0, err := f.Prior.Params()
	if err != nil {
		return err
	}
	obs, err := f.ToObservations()
	if err != nil {
		return err
	}

	config := f.Config.ToReplayConfig()
	svi := inference.NewSVI(config.FitConfig)
	results, final, err := replay.Replay(ctx, p0, obs, svi, config)
	if err != nil {
		return err
	}

	expected := make([]string, len(results))
	for i := range expected {
		expected[i] = replay.ActionCommit
	}
	for _, e := range f.ExpectedResults {
		if e.Trial >= 1 && e.Trial <= len(expected) {
			expected[e.Trial-1] = e.Action
		}
	}

	code := printComparison(w, results, expected)
	summary := replay.Summarize(results, final)
	if band := f.ExpectedThreshold; band != nil {
		got := summary.FinalEstimates.ThresholdMean
		status := "OK"
		if got < band.Min || got > band.Max {
			status = "DIFF"
			code = 1
		}
		fmt.Fprintf(w, "Threshold mean %.2f, expected [%.0f, %.0f]: %s\n", got, band.Min, band.Max, status)
	}
	if opts.verify {
		res, err := eval.NewEvalHarness(config.EvalConfig, svi).Run(ctx, obs, p0, final)
		if err != nil {
			return err
		}
		code = max(code, printVerify(w, res))
	}
	printSummary(w, summary)
	return exitOrNil(code)
}

// #endregion fixture-mode

// #region output

// printComparison outputs a comparison table and returns exit code.
// expected holds the reference action per trial; "" marks a trial with no
// recorded action, which is shown but not compared.
func printComparison(w io.Writer, results []replay.ReplayResult, expected []string) int {
	fmt.Fprintf(w, "%-6s| %-6s| %-12s| %-12s| %-9s| %s\n", "Trial", "x", "Expected", "Replayed", "Thresh", "Match")
	fmt.Fprintf(w, "%-6s+%-7s+%-13s+%-13s+%-10s+%s\n",
		"------", "-------", "-------------", "-------------", "----------", "------")

	total, matches := 0, 0
	for i, r := range results {
		exp, match := "-", "-"
		if i < len(expected) && expected[i] != "" {
			exp = expected[i]
			total++
			match = "DIFF"
			if actionsMatch(exp, r.Action) {
				match = "OK"
				matches++
			}
		}
		fmt.Fprintf(w, "%-6d| %-6g| %-12s| %-12s| %-9.2f| %s\n",
			r.Trial, r.Observation.X, exp, r.Action, r.Estimates.ThresholdMean, match)
	}

	diverge := total - matches
	fmt.Fprintf(w, "\nSummary: %d total, %d match, %d diverge\n", total, matches, diverge)

	if diverge > 0 {
		return 1
	}
	return 0
}

// actionsMatch compares expected vs replayed action.
// Recorded "reject" matches either "gate_reject" or "diverged".
func actionsMatch(expected, replayed string) bool {
	if expected == replayed {
		return true
	}
	if expected == "reject" && (replayed == replay.ActionGateReject || replayed == replay.ActionDiverged) {
		return true
	}
	return false
}

func printVerify(w io.Writer, res eval.EvalResult) int {
	fmt.Fprintf(w, "\nVerify: %s\n", res.Reason)
	for _, m := range res.Metrics {
		fmt.Fprintf(w, "  %-22s %.6f  pass=%v\n", m.Name, m.Value, m.Pass)
	}
	if !res.Passed {
		return 1
	}
	return 0
}

func printSummary(w io.Writer, s replay.ReplaySummary) {
	est := s.FinalEstimates
	fmt.Fprintf(w, "\nCommits %d, gate rejects %d, divergences %d\n", s.Commits, s.GateRejects, s.Divergences)
	fmt.Fprintf(w, "Final threshold %.2f ± %.2f, slope %.4f ± %.4f\n",
		est.ThresholdMean, est.ThresholdScale, est.SlopeMean, est.SlopeScale)
}

func exitOrNil(code int) error {
	if code != 0 {
		return exitCode(code)
	}
	return nil
}

// #endregion output
