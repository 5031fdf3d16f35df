package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/config"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/engine"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
	"github.com/spf13/cobra"
)

// #region main

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "controller",
		Short:         "Adaptive design engine for threshold estimation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML config (defaults apply when empty)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug|info|warn|error)")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newSimulateCommand(opts))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "controller: %v\n", err)
		os.Exit(1)
	}
}

// load reads the config and builds the process logger.
func (o *rootOptions) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openJournal opens the store at path, or returns nil options when path is empty.
func openJournal(path string) (*state.Store, []engine.Option, error) {
	if path == "" {
		return nil, nil, nil
	}
	store, err := state.NewStore(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return store, []engine.Option{engine.WithJournal(engine.StoreJournal{Store: store})}, nil
}

// #endregion main
