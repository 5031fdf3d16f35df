package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/config"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/engine"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/metrics"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/transport"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// #region serve

type serveOptions struct {
	resume     string
	priorFrom  string
	baseline   string
	inflation  float64
	preemptive float64
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run one session behind the DesignEngine gRPC service",
		Long: `Run one adaptive session for an external presentation process.

The prior comes from the config unless one of these is given:
  --resume SESSION      rebuild SESSION's history from the journal and continue
  --prior-from SESSION  start a new session from SESSION's final posterior, widened by --inflation
  --baseline RTS        centre the threshold prior on baseline reaction times (comma separated, ms)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, opts, logger)
		},
	}
	cmd.Flags().StringVar(&opts.resume, "resume", "", "session ID to resume from the journal")
	cmd.Flags().StringVar(&opts.priorFrom, "prior-from", "", "session ID whose final posterior seeds the prior")
	cmd.Flags().StringVar(&opts.baseline, "baseline", "", "comma-separated baseline reaction times (ms)")
	cmd.Flags().Float64Var(&opts.inflation, "inflation", prior.DefaultInflation, "scale inflation for --prior-from")
	cmd.Flags().Float64Var(&opts.preemptive, "preemptive-gain", prior.DefaultPreemptiveGain, "ms subtracted from baseline reaction times")
	cmd.MarkFlagsMutuallyExclusive("resume", "prior-from", "baseline")
	return cmd
}

func runServe(parent context.Context, cfg config.Config, opts *serveOptions, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, engOpts, err := openJournal(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}
	engOpts = append(engOpts, engine.WithLogger(logger))

	eng, err := startEngine(ctx, cfg, opts, store, engOpts)
	if err != nil {
		return err
	}
	defer eng.Close()

	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	grpcServer := transport.NewGRPCServer(transport.NewServer(eng, logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("design engine listening", "addr", lis.Addr().String(), "session_id", eng.SessionID())
		return grpcServer.Serve(lis)
	})

	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.Server.MetricsAddr)
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		grpcServer.GracefulStop()
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}

// startEngine builds the session engine according to the prior-source flags.
func startEngine(ctx context.Context, cfg config.Config, opts *serveOptions, store *state.Store, engOpts []engine.Option) (*engine.Engine, error) {
	if (opts.resume != "" || opts.priorFrom != "") && store == nil {
		return nil, errors.New("--resume and --prior-from need storage.db_path")
	}

	switch {
	case opts.resume != "":
		sess, err := store.GetSession(opts.resume)
		if err != nil {
			return nil, err
		}
		obs, err := store.ListObservations(opts.resume)
		if err != nil {
			return nil, err
		}
		cands, err := state.NewCandidateSet(sess.Candidates)
		if err != nil {
			return nil, err
		}
		return engine.ResumeFromHistory(ctx, cfg.Engine, sess.Prior, cands, obs, engOpts...)

	case opts.priorFrom != "":
		prev, err := store.GetCurrent(opts.priorFrom)
		if err != nil {
			return nil, err
		}
		spec, err := prior.FromPreviousSession(prev.Estimates(), opts.inflation)
		if err != nil {
			return nil, err
		}
		cfg.Prior = spec

	case opts.baseline != "":
		rts, err := parseFloats(opts.baseline)
		if err != nil {
			return nil, err
		}
		spec, err := prior.FromBaseline(rts, opts.preemptive, cfg.Prior.BetaMean, cfg.Prior.BetaScale)
		if err != nil {
			return nil, err
		}
		cfg.Prior = spec
	}

	cands, err := cfg.CandidateSet()
	if err != nil {
		return nil, err
	}
	return engine.New(cfg.Engine, cfg.Prior, cands, engOpts...)
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// #endregion serve
