package main

import (
	"cmp"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/logging"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/policy"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/replay"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
	"github.com/spf13/cobra"
)

// #region main

type rootOptions struct {
	dbPath  string
	jsonOut bool
}

func main() {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "inspect",
		Short:         "Inspect sessions, posterior versions and decisions in a session journal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "path to adaptive_design.db (required)")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "output as JSON instead of table")
	_ = root.MarkPersistentFlagRequired("db")

	root.AddCommand(newSessionsCommand(opts))
	root.AddCommand(newVersionsCommand(opts))
	root.AddCommand(newDecisionsCommand(opts))
	root.AddCommand(newScoresCommand(opts))
	root.AddCommand(newExportCommand(opts))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func withStore(opts *rootOptions, fn func(*state.Store) error) error {
	store, err := state.NewStore(opts.dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()
	return fn(store)
}

// #endregion main

// #region sessions

type sessionRow struct {
	SessionID      string  `json:"session_id"`
	Trials         int     `json:"trials"`
	ThresholdMean  float64 `json:"threshold_mean"`
	ThresholdScale float64 `json:"threshold_scale"`
	Candidates     int     `json:"candidates"`
	CreatedAt      string  `json:"created_at"`
}

func newSessionsCommand(opts *rootOptions) *cobra.Command {
	last := 20
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent sessions with their live estimates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(store *state.Store) error {
				sessions, err := store.ListSessions(last)
				if err != nil {
					return err
				}
				if len(sessions) == 0 {
					fmt.Fprintln(os.Stderr, "no sessions found")
					return nil
				}

				rows := make([]sessionRow, 0, len(sessions))
				for _, s := range sessions {
					cur, err := store.GetCurrent(s.SessionID)
					if err != nil {
						return err
					}
					est := cur.Estimates()
					rows = append(rows, sessionRow{
						SessionID:      s.SessionID,
						Trials:         cur.NumObservations,
						ThresholdMean:  est.ThresholdMean,
						ThresholdScale: est.ThresholdScale,
						Candidates:     len(s.Candidates),
						CreatedAt:      s.CreatedAt.Format("2006-01-02T15:04:05Z"),
					})
				}

				if opts.jsonOut {
					return printJSON(rows)
				}
				fmt.Printf("%-12s  %6s  %10s  %8s  %5s  %s\n", "Session", "Trials", "Threshold", "Scale", "Cands", "Time")
				fmt.Printf("%-12s+-%6s+-%10s+-%8s+-%5s+-%s\n",
					"------------", "------", "----------", "--------", "-----", "--------------------")
				for _, r := range rows {
					fmt.Printf("%-12s  %6d  %10.2f  %8.2f  %5d  %s\n",
						shortID(r.SessionID), r.Trials, r.ThresholdMean, r.ThresholdScale, r.Candidates, r.CreatedAt)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&last, "last", last, "show N most recent sessions")
	return cmd
}

// #endregion sessions

// #region versions

type versionRow struct {
	VersionID      string  `json:"version_id"`
	ParentID       string  `json:"parent_id,omitempty"`
	Trials         int     `json:"trials"`
	ThresholdMean  float64 `json:"threshold_mean"`
	ThresholdScale float64 `json:"threshold_scale"`
	SlopeMean      float64 `json:"slope_mean"`
	ELBO           float64 `json:"elbo"`
	CreatedAt      string  `json:"created_at"`
}

func newVersionsCommand(opts *rootOptions) *cobra.Command {
	var sessionID string
	last := 20
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List a session's posterior versions, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(store *state.Store) error {
				versions, err := store.ListVersions(sessionID, last)
				if err != nil {
					return err
				}

				// store returns DESC, reverse for chronological
				rows := make([]versionRow, len(versions))
				for i, v := range versions {
					est := v.Estimates()
					rows[len(versions)-1-i] = versionRow{
						VersionID:      v.VersionID,
						ParentID:       v.ParentID,
						Trials:         v.NumObservations,
						ThresholdMean:  est.ThresholdMean,
						ThresholdScale: est.ThresholdScale,
						SlopeMean:      est.SlopeMean,
						ELBO:           v.ELBO,
						CreatedAt:      v.CreatedAt.Format("2006-01-02T15:04:05Z"),
					}
				}

				if opts.jsonOut {
					return printJSON(rows)
				}
				fmt.Printf("%-12s  %6s  %10s  %8s  %8s  %10s\n", "Version", "Trials", "Threshold", "Scale", "Slope", "ELBO")
				fmt.Printf("%-12s+-%6s+-%10s+-%8s+-%8s+-%10s\n",
					"------------", "------", "----------", "--------", "--------", "----------")
				for _, r := range rows {
					fmt.Printf("%-12s  %6d  %10.2f  %8.2f  %8.4f  %10.3f\n",
						shortID(r.VersionID), r.Trials, r.ThresholdMean, r.ThresholdScale, r.SlopeMean, r.ELBO)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID (required)")
	cmd.Flags().IntVar(&last, "last", last, "show N most recent versions")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

// #endregion versions

// #region decisions

func newDecisionsCommand(opts *rootOptions) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Show a session's provenance log: refits and chosen design points",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(store *state.Store) error {
				entries, err := logging.ListProvenance(store.DB(), sessionID)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return printJSON(entries)
				}
				fmt.Printf("%-10s  %-8s  %4s  %8s  %-12s  %s\n", "Trigger", "Decision", "Obs", "Design", "Version", "Reason")
				fmt.Printf("%-10s+-%-8s+-%4s+-%8s+-%-12s+-%s\n",
					"----------", "--------", "----", "--------", "------------", "--------------------")
				for _, e := range entries {
					design := "-"
					if e.DesignValue != nil {
						design = fmt.Sprintf("%g", *e.DesignValue)
					}
					fmt.Printf("%-10s  %-8s  %4d  %8s  %-12s  %s\n",
						e.TriggerType, e.Decision, e.NumObservations, design, shortID(e.VersionID), e.Reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID (required)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

// #endregion decisions

// #region scores

type scoreRow struct {
	Value                float64 `json:"value"`
	ThresholdProbability float64 `json:"threshold_probability"`
	InformationGain      float64 `json:"information_gain"`
}

func newScoresCommand(opts *rootOptions) *cobra.Command {
	var sessionID string
	top := 10
	cmd := &cobra.Command{
		Use:   "scores",
		Short: "Score a session's candidates against its current posterior",
		Long: `For each candidate, the probability that it is the threshold (what bopt
samples from) and its expected information gain (what oed maximizes),
under the session's live posterior. Rows are ordered by information gain.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(store *state.Store) error {
				rows, err := scoreSession(store, sessionID, policy.DefaultPolicyConfig())
				if err != nil {
					return err
				}
				if top > 0 && len(rows) > top {
					rows = rows[:top]
				}
				if opts.jsonOut {
					return printJSON(rows)
				}
				fmt.Printf("%-8s  %12s  %12s\n", "Value", "P(threshold)", "Info gain")
				fmt.Printf("%-8s+-%12s+-%12s\n", "--------", "------------", "------------")
				for _, r := range rows {
					fmt.Printf("%-8g  %12.4f  %12.5f\n", r.Value, r.ThresholdProbability, r.InformationGain)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID (required)")
	cmd.Flags().IntVar(&top, "top", top, "show the N most informative candidates (0 for all)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func scoreSession(store *state.Store, sessionID string, config policy.PolicyConfig) ([]scoreRow, error) {
	sess, err := store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	cur, err := store.GetCurrent(sessionID)
	if err != nil {
		return nil, err
	}
	cands, err := state.NewCandidateSet(sess.Candidates)
	if err != nil {
		return nil, err
	}

	p := policy.NewPolicy(config)
	probs, err := p.ThresholdProbabilities(cur.Params, cands)
	if err != nil {
		return nil, err
	}
	gains, err := p.InformationGains(cur.Params, cands)
	if err != nil {
		return nil, err
	}

	rows := make([]scoreRow, cands.Len())
	for i := range rows {
		rows[i] = scoreRow{Value: cands.At(i), ThresholdProbability: probs[i], InformationGain: gains[i]}
	}
	slices.SortStableFunc(rows, func(a, b scoreRow) int {
		return cmp.Compare(b.InformationGain, a.InformationGain)
	})
	return rows, nil
}

// #endregion scores

// #region export

func newExportCommand(opts *rootOptions) *cobra.Command {
	var sessionID, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a session as a replay fixture",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, func(store *state.Store) error {
				f, err := exportFixture(store, sessionID)
				if err != nil {
					return err
				}
				if out == "" {
					return printJSON(f)
				}
				if err := f.Save(out); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "wrote %d trials to %s\n", len(f.Observations), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID (required)")
	cmd.Flags().StringVar(&out, "out", "", "output path (default stdout)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func exportFixture(store *state.Store, sessionID string) (*replay.Fixture, error) {
	sess, err := store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	obs, err := store.ListObservations(sessionID)
	if err != nil {
		return nil, err
	}
	entries, err := logging.ListProvenance(store.DB(), sessionID)
	if err != nil {
		return nil, err
	}

	recorded := replay.RecordedActions(entries)
	trials := slices.Sorted(maps.Keys(recorded))
	expected := make([]replay.FixtureExpectedResult, 0, len(trials))
	for _, trial := range trials {
		expected = append(expected, replay.FixtureExpectedResult{Trial: trial, Action: recorded[trial]})
	}

	return &replay.Fixture{
		Description:     fmt.Sprintf("exported from session %s", sessionID),
		SessionID:       sessionID,
		Prior:           sess.Prior,
		Candidates:      replay.FixtureCandidates{Values: sess.Candidates},
		Config:          replay.FixtureConfigFrom(replay.DefaultReplayConfig()),
		Observations:    replay.FixtureObservations(obs),
		ExpectedResults: expected,
	}, nil
}

// #endregion export

// #region helpers

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// #endregion helpers
