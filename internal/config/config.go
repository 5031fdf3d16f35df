package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/engine"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// #region config
// Config is everything a controller process needs to run a session.
type Config struct {
	Prior      prior.Spec     `yaml:"prior"`
	Candidates CandidateRange `yaml:"candidates"`
	Engine     engine.Config  `yaml:",inline"`
	Storage    StorageConfig  `yaml:"storage"`
	Server     ServerConfig   `yaml:"server"`
	Log        LogConfig      `yaml:"log"`
}

// CandidateRange describes an evenly spaced candidate set; Stop is exclusive.
type CandidateRange struct {
	Start float64 `yaml:"start" validate:"gte=0"`
	Stop  float64 `yaml:"stop" validate:"gtfield=Start"`
	Step  float64 `yaml:"step" validate:"gt=0"`
}

// StorageConfig locates the session journal. An empty path disables it.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// ServerConfig holds listen addresses for the gRPC engine and /metrics.
type ServerConfig struct {
	Addr        string `yaml:"addr" validate:"required,hostname_port"`
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}
// #endregion config

// #region defaults
// Default returns a configuration for integer latencies 50..350 ms and a
// threshold prior centred on 300 ms.
func Default() Config {
	return Config{
		Prior: prior.Spec{
			AlphaMean:  300,
			AlphaScale: 50,
			BetaMean:   prior.DefaultSlopeMean,
			BetaScale:  prior.DefaultSlopeScale,
		},
		Candidates: CandidateRange{Start: 50, Stop: 351, Step: 1},
		Engine:     engine.DefaultConfig(),
		Storage:    StorageConfig{DBPath: "adaptive_design.db"},
		Server:     ServerConfig{Addr: "localhost:50061", MetricsAddr: "localhost:9108"},
		Log:        LogConfig{Level: "info", Format: "text"},
	}
}
// #endregion defaults

// #region load
// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Storage.DBPath = envOr("OED_DB", cfg.Storage.DBPath)
	cfg.Server.Addr = envOr("OED_ADDR", cfg.Server.Addr)
	cfg.Server.MetricsAddr = envOr("OED_METRICS_ADDR", cfg.Server.MetricsAddr)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks struct constraints and that the prior and candidate range
// are usable.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Prior.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// CandidateSet expands the configured range.
func (c Config) CandidateSet() (state.CandidateSet, error) {
	return state.Arange(c.Candidates.Start, c.Candidates.Stop, c.Candidates.Step)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
// #endregion load
