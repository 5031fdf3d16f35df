package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/config"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/engine"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/inference"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/transport"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat/distuv"
)

// #region observer
// observer is a simulated subject whose agency judgments follow the model
// with known threshold and slope.
type observer struct {
	alpha, beta float64
	src         rand.Source
}

func newObserver(alpha, beta float64, seed uint64) *observer {
	return &observer{alpha: alpha, beta: beta, src: rand.NewPCG(seed, 0)}
}

// respond draws y ~ Bernoulli(sigmoid(beta*(x-alpha))).
func (o *observer) respond(x float64) int {
	p := inference.Sigmoid(o.beta * (x - o.alpha))
	return int(distuv.Bernoulli{P: p, Src: o.src}.Rand())
}
// #endregion observer

// #region session
// session is what the simulation drives: an engine in this process, or one
// served by `controller serve` and reached over gRPC.
type session interface {
	nextDesign(ctx context.Context, mode string) (value float64, fitStatus string, err error)
	recordOutcome(ctx context.Context, x float64, y int) error
	estimates(ctx context.Context) (prior.Estimates, error)
	// await waits for the last refit and returns its status and the session ID.
	await(ctx context.Context) (fitStatus, sessionID string, err error)
}

type localSession struct{ eng *engine.Engine }

func (s localSession) nextDesign(ctx context.Context, mode string) (float64, string, error) {
	d, err := s.eng.NextDesign(ctx, mode)
	if err != nil {
		return 0, "", err
	}
	return d.Value, string(d.Fit.Status), nil
}

func (s localSession) recordOutcome(ctx context.Context, x float64, y int) error {
	return s.eng.RecordOutcome(ctx, x, y)
}

func (s localSession) estimates(context.Context) (prior.Estimates, error) {
	return s.eng.CurrentEstimates(), nil
}

func (s localSession) await(ctx context.Context) (string, string, error) {
	fit, err := s.eng.Await(ctx)
	if err != nil {
		return "", "", err
	}
	return string(fit.Status), s.eng.SessionID(), nil
}

type remoteSession struct{ client *transport.Client }

func (s remoteSession) nextDesign(ctx context.Context, mode string) (float64, string, error) {
	d, err := s.client.NextDesign(ctx, mode)
	if err != nil {
		return 0, "", err
	}
	return d.Value, d.FitStatus, nil
}

func (s remoteSession) recordOutcome(ctx context.Context, x float64, y int) error {
	_, err := s.client.RecordOutcome(ctx, x, y)
	return err
}

func (s remoteSession) estimates(ctx context.Context) (prior.Estimates, error) {
	cur, err := s.client.CurrentEstimates(ctx)
	if err != nil {
		return prior.Estimates{}, err
	}
	return cur.Estimates, nil
}

func (s remoteSession) await(ctx context.Context) (string, string, error) {
	fit, err := s.client.Await(ctx)
	if err != nil {
		return "", "", err
	}
	return fit.Status, fit.SessionID, nil
}
// #endregion session

// #region simulate

type simulateOptions struct {
	alpha  float64
	beta   float64
	trials int
	mode   string
	seed   uint64
	remote string
}

func newSimulateCommand(root *rootOptions) *cobra.Command {
	opts := &simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a session against a simulated observer and print per-trial estimates",
		Long: `Run a session against a simulated observer with known threshold and slope.
By default the engine runs in this process from the loaded config; with
--remote the observer drives a session served by "controller serve".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.remote != "" {
				client, err := transport.NewClient(opts.remote)
				if err != nil {
					return err
				}
				defer client.Close()
				return simulate(cmd.Context(), os.Stdout, remoteSession{client}, opts)
			}

			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			store, engOpts, err := openJournal(cfg.Storage.DBPath)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}
			engOpts = append(engOpts, engine.WithLogger(logger))
			return runSimulate(cmd.Context(), os.Stdout, cfg, opts, engOpts...)
		},
	}
	cmd.Flags().Float64Var(&opts.alpha, "alpha", 200, "simulated threshold (ms)")
	cmd.Flags().Float64Var(&opts.beta, "beta", 0.05, "simulated slope")
	cmd.Flags().IntVar(&opts.trials, "trials", 40, "number of trials")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "policy mode (oed|bopt); empty uses the session default")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "observer random seed")
	cmd.Flags().StringVar(&opts.remote, "remote", "", "drive a served session at this address instead of a local engine")
	return cmd
}

// runSimulate runs the simulation against an engine built from cfg.
func runSimulate(ctx context.Context, w io.Writer, cfg config.Config, opts *simulateOptions, engOpts ...engine.Option) error {
	cands, err := cfg.CandidateSet()
	if err != nil {
		return err
	}
	eng, err := engine.New(cfg.Engine, cfg.Prior, cands, engOpts...)
	if err != nil {
		return err
	}
	defer eng.Close()
	return simulate(ctx, w, localSession{eng}, opts)
}

func simulate(ctx context.Context, w io.Writer, sess session, opts *simulateOptions) error {
	obs := newObserver(opts.alpha, opts.beta, opts.seed)

	fmt.Fprintf(w, "%-6s| %-6s| %-2s| %-10s| %-9s| %s\n", "Trial", "x", "y", "Threshold", "Scale", "Fit")
	fmt.Fprintf(w, "%-6s+%-7s+%-3s+%-11s+%-10s+%s\n", "------", "-------", "---", "-----------", "----------", "----------")
	for trial := 1; trial <= opts.trials; trial++ {
		x, status, err := sess.nextDesign(ctx, opts.mode)
		if err != nil {
			return fmt.Errorf("trial %d: %w", trial, err)
		}
		// no refit is pending between a design and its outcome
		est, err := sess.estimates(ctx)
		if err != nil {
			return fmt.Errorf("trial %d: %w", trial, err)
		}
		y := obs.respond(x)
		if err := sess.recordOutcome(ctx, x, y); err != nil {
			return fmt.Errorf("trial %d: %w", trial, err)
		}
		fmt.Fprintf(w, "%-6d| %-6g| %-2d| %-10.2f| %-9.2f| %s\n",
			trial, x, y, est.ThresholdMean, est.ThresholdScale, status)
	}

	status, sessionID, err := sess.await(ctx)
	if err != nil {
		return err
	}
	est, err := sess.estimates(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nTrue threshold %.2f, slope %.4f\n", opts.alpha, opts.beta)
	fmt.Fprintf(w, "Final threshold %.2f ± %.2f, slope %.4f ± %.4f (last fit %s)\n",
		est.ThresholdMean, est.ThresholdScale, est.SlopeMean, est.SlopeScale, status)
	fmt.Fprintf(w, "Session %s\n", sessionID)
	return nil
}

// #endregion simulate
