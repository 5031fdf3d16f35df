package engine

import (
	"time"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/gate"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/inference"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/label"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/logging"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/policy"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
)

// #region config
// Config bundles the settings of every stage the engine drives.
type Config struct {
	Fit    inference.FitConfig `yaml:"fit"`
	Policy policy.PolicyConfig `yaml:"policy"`
	Gate   gate.GateConfig     `yaml:"gate"`
	Label  label.Rule          `yaml:"label_rule" validate:"oneof=pressed_first_override agency_only pressed_first_only"`
}

// DefaultConfig returns the settings used for live sessions.
func DefaultConfig() Config {
	return Config{
		Fit:    inference.DefaultFitConfig(),
		Policy: policy.DefaultPolicyConfig(),
		Gate:   gate.DefaultGateConfig(),
		Label:  label.DefaultRule,
	}
}
// #endregion config

// #region fit-report
// FitStatus describes how the most recent refit ended.
type FitStatus string

const (
	FitNone      FitStatus = "none"      // no refit has run yet
	FitCommitted FitStatus = "committed" // new posterior published
	FitRecovered FitStatus = "recovered" // refit diverged or was vetoed; last-known-good posterior kept
	FitCancelled FitStatus = "cancelled" // engine closed mid-refit; result discarded
)

// FitReport tells callers what happened to the last refit.
type FitReport struct {
	Status          FitStatus
	NumObservations int
	VersionID       string // live posterior after the refit
	Reason          string
	Err             error
	Duration        time.Duration
}
// #endregion fit-report

// #region decision
// Decision is a chosen design point together with its audit record and the
// outcome of the refit it waited for.
type Decision struct {
	logging.DecisionRecord
	Fit FitReport
}
// #endregion decision

// #region journal
// Journal persists what the engine does. *state.Store satisfies it through
// StoreJournal.
type Journal interface {
	CreateSession(sessionID string, spec prior.Spec, candidates []float64, initial state.Posterior) (state.Session, error)
	CommitPosterior(sessionID string, p state.Posterior) error
	AppendObservation(sessionID string, trial int, obs state.Observation) error
	LogDecision(entry logging.ProvenanceEntry) error
}

// StoreJournal adapts a SQLite store to Journal.
type StoreJournal struct {
	*state.Store
}

// LogDecision writes to the store's provenance log.
func (j StoreJournal) LogDecision(entry logging.ProvenanceEntry) error {
	return logging.LogDecision(j.DB(), entry)
}
// #endregion journal
