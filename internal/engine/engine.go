package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/gate"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/inference"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/label"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/logging"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/metrics"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/policy"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/scheduler"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
	"github.com/google/uuid"
)

// #region engine
// Engine is one adaptive session: a prior, a fixed candidate set, the growing
// observation history, and the live posterior. Outcomes are recorded in the
// foreground; each one triggers a full-history refit in the background, and
// the next design request waits for that refit before choosing a point.
type Engine struct {
	cfg        Config
	logger     *slog.Logger
	sessionID  string
	spec       prior.Spec
	priorPar   prior.Params
	candidates state.CandidateSet
	history    *state.History

	refitter inference.Refitter
	gate     *gate.Gate
	policy   *policy.Policy
	sched    *scheduler.Scheduler
	journal  Journal

	// fg serializes foreground calls so await, append and submit happen as one step.
	fg sync.Mutex

	mu      sync.RWMutex
	live    state.Posterior
	lastFit FitReport
	closed  bool
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithJournal persists the session, every observation, every committed
// posterior and every decision.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithRefitter replaces the SVI refitter.
func WithRefitter(r inference.Refitter) Option {
	return func(e *Engine) {
		if r != nil {
			e.refitter = r
		}
	}
}

// WithSessionID fixes the session identifier instead of generating one.
func WithSessionID(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.sessionID = id
		}
	}
}

// New creates an engine whose live posterior is the prior.
func New(cfg Config, spec prior.Spec, candidates state.CandidateSet, opts ...Option) (*Engine, error) {
	params, err := spec.Params()
	if err != nil {
		return nil, err
	}
	if _, err := label.ParseRule(string(cfg.Label)); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		logger:     slog.Default(),
		sessionID:  uuid.New().String(),
		spec:       spec,
		priorPar:   params,
		candidates: candidates,
		history:    state.NewHistory(candidates),
		refitter:   inference.NewSVI(cfg.Fit),
		gate:       gate.NewGate(cfg.Gate),
		policy:     policy.NewPolicy(cfg.Policy),
		sched:      scheduler.New(),
		lastFit:    FitReport{Status: FitNone},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine", "session_id", e.sessionID)

	e.live = state.Posterior{
		VersionID: uuid.New().String(),
		Params:    params,
		CreatedAt: time.Now().UTC(),
	}
	e.lastFit.VersionID = e.live.VersionID

	if e.journal != nil {
		if _, err := e.journal.CreateSession(e.sessionID, spec, candidates.Values(), e.live); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		e.journalLog(logging.ProvenanceEntry{
			VersionID:   e.live.VersionID,
			TriggerType: logging.TriggerInitial,
			Decision:    "commit",
			Reason:      "prior",
		})
	}

	est := params.Estimates()
	e.logger.Info("session started",
		"candidates", candidates.Len(),
		"threshold_mean", est.ThresholdMean,
		"slope_mean", est.SlopeMean,
	)
	return e, nil
}

// ResumeFromHistory rebuilds an engine from a previously recorded outcome
// sequence. Every observation is validated before any is applied, then a
// single refit over the whole history runs to completion before returning.
// A refit that diverges leaves the prior live and is reported by LastFit.
func ResumeFromHistory(ctx context.Context, cfg Config, spec prior.Spec, candidates state.CandidateSet, obs []state.Observation, opts ...Option) (*Engine, error) {
	e, err := New(cfg, spec, candidates, opts...)
	if err != nil {
		return nil, err
	}

	for i, o := range obs {
		if err := e.history.Validate(o.X, o.Y); err != nil {
			e.Close()
			return nil, fmt.Errorf("observation %d: %w", i, err)
		}
	}
	for i, o := range obs {
		if e.journal != nil {
			if err := e.journal.AppendObservation(e.sessionID, i+1, o); err != nil {
				e.Close()
				return nil, fmt.Errorf("persist observation %d: %w", i, err)
			}
		}
		// validated above
		_ = e.history.Append(o.X, o.Y)
	}
	if len(obs) == 0 {
		return e, nil
	}

	e.journalLog(logging.ProvenanceEntry{
		VersionID:   e.live.VersionID,
		TriggerType:     logging.TriggerResume,
		Decision:        "replay",
		NumObservations: len(obs),
		Reason:          fmt.Sprintf("%d observations", len(obs)),
	})
	if err := e.sched.Submit(e.refitTask(e.history.Snapshot(), e.live)); err != nil {
		e.Close()
		return nil, err
	}
	if _, err := e.Await(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}
// #endregion engine

// #region record
// RecordOutcome appends (x, y) to the history and schedules a refit. It
// first waits for any refit still pending, so refits never overlap and each
// one sees every earlier observation. An invalid observation changes nothing.
func (e *Engine) RecordOutcome(ctx context.Context, x float64, y int) error {
	if err := e.history.Validate(x, y); err != nil {
		metrics.ObservationsTotal.WithLabelValues(metrics.ResultRejected).Inc()
		return err
	}

	e.fg.Lock()
	defer e.fg.Unlock()

	if e.isClosed() {
		return ErrClosed
	}
	if _, err := e.Await(ctx); err != nil {
		return err
	}

	// Close may have cancelled the refit we just awaited. The read lock keeps
	// it out until the observation and its refit are both in place.
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}

	trial := e.history.Len() + 1
	if e.journal != nil {
		if err := e.journal.AppendObservation(e.sessionID, trial, state.Observation{X: x, Y: y}); err != nil {
			return fmt.Errorf("persist observation %d: %w", trial, err)
		}
	}
	if err := e.history.Append(x, y); err != nil {
		return err
	}
	metrics.ObservationsTotal.WithLabelValues(metrics.ResultAccepted).Inc()

	if err := e.sched.Submit(e.refitTask(e.history.Snapshot(), e.live)); err != nil {
		if errors.Is(err, scheduler.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	e.logger.Debug("outcome recorded", "trial", trial, "x", x, "y", y)
	return nil
}

// RecordTrial labels a raw response with the configured rule, records it,
// and returns the label it was recorded under.
func (e *Engine) RecordTrial(ctx context.Context, x float64, resp label.Response) (int, error) {
	y, err := e.cfg.Label.Label(resp)
	if err != nil {
		metrics.ObservationsTotal.WithLabelValues(metrics.ResultRejected).Inc()
		return 0, err
	}
	if err := e.RecordOutcome(ctx, x, y); err != nil {
		return 0, err
	}
	return y, nil
}
// #endregion record

// #region refit
// refitTask fits the posterior to snapshot, warm-started from start. Only a
// result that passes the gate replaces the live posterior; anything else
// keeps the last-known-good one.
func (e *Engine) refitTask(snapshot []state.Observation, start state.Posterior) scheduler.Task {
	return func(ctx context.Context) error {
		began := time.Now()
		res, err := e.refitter.Refit(ctx, snapshot, e.priorPar, start.Params)
		elapsed := time.Since(began)
		metrics.RefitDuration.Observe(elapsed.Seconds())

		report := FitReport{
			NumObservations: len(snapshot),
			VersionID:       start.VersionID,
			Duration:        elapsed,
		}

		if ctx.Err() != nil {
			report.Status = FitCancelled
			report.Err = ctx.Err()
			report.Reason = "engine closed"
			e.finish(report, nil)
			return report.Err
		}

		if err != nil {
			report.Status = FitRecovered
			report.Err = err
			report.Reason = err.Error()
			e.finish(report, nil)
			return err
		}

		decision := e.gate.Evaluate(res.Params)
		if decision.Vetoed {
			report.Status = FitRecovered
			report.Err = fmt.Errorf("%w: %s", ErrFitDivergence, decision.Reason)
			report.Reason = decision.Reason
			e.finish(report, nil)
			return report.Err
		}

		next := state.Posterior{
			VersionID:       uuid.New().String(),
			ParentID:        start.VersionID,
			Params:          res.Params,
			NumObservations: len(snapshot),
			ELBO:            res.ELBO,
			CreatedAt:       time.Now().UTC(),
		}
		report.Status = FitCommitted
		report.VersionID = next.VersionID
		report.Reason = decision.Reason
		e.finish(report, &next)
		return nil
	}
}

// finish publishes the refit outcome unless the engine has been closed.
func (e *Engine) finish(report FitReport, next *state.Posterior) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		metrics.RefitsTotal.WithLabelValues(metrics.ResultCancelled).Inc()
		return
	}
	if next != nil {
		e.live = *next
	}
	e.lastFit = report
	e.mu.Unlock()

	switch report.Status {
	case FitCommitted:
		metrics.RefitsTotal.WithLabelValues(metrics.ResultCommitted).Inc()
		if e.journal != nil {
			if err := e.journal.CommitPosterior(e.sessionID, *next); err != nil {
				e.logger.Error("persist posterior failed", "version_id", next.VersionID, "error", err)
			}
		}
		est := next.Params.Estimates()
		e.logger.Debug("refit committed",
			"version_id", next.VersionID,
			"observations", report.NumObservations,
			"threshold_mean", est.ThresholdMean,
			"elbo", next.ELBO,
			"duration", report.Duration,
		)
		e.journalLog(logging.ProvenanceEntry{
			VersionID:       next.VersionID,
			TriggerType:     logging.TriggerRefit,
			Decision:        "commit",
			NumObservations: report.NumObservations,
			Reason:          report.Reason,
		})
	case FitRecovered:
		metrics.RefitsTotal.WithLabelValues(metrics.ResultRecovered).Inc()
		e.logger.Warn("refit rejected, keeping last posterior",
			"version_id", report.VersionID,
			"observations", report.NumObservations,
			"reason", report.Reason,
		)
		e.journalLog(logging.ProvenanceEntry{
			VersionID:       report.VersionID,
			TriggerType:     logging.TriggerRefit,
			Decision:        "reject",
			NumObservations: report.NumObservations,
			Reason:          report.Reason,
		})
	case FitCancelled:
		metrics.RefitsTotal.WithLabelValues(metrics.ResultCancelled).Inc()
	}
}

// Await blocks until the pending refit, if any, has finished and returns its
// report. A refit that diverged is not an error here; it shows up in the
// report. Only ctx ending early produces an error.
func (e *Engine) Await(ctx context.Context) (FitReport, error) {
	if err := e.sched.Wait(ctx); err != nil && ctx.Err() != nil {
		return FitReport{}, err
	}
	return e.LastFit(), nil
}
// #endregion refit

// #region design
// NextDesign returns the next design value under mode, which is "oed" or
// "bopt"; an empty mode uses the configured default. It waits for the refit
// triggered by the last recorded outcome, so the choice always reflects the
// full history.
func (e *Engine) NextDesign(ctx context.Context, mode string) (Decision, error) {
	if mode == "" {
		mode = string(e.cfg.Policy.DefaultMode)
	}
	m, err := policy.ParseMode(mode)
	if err != nil {
		metrics.DesignRequestsTotal.WithLabelValues("invalid", metrics.ResultRejected).Inc()
		return Decision{}, err
	}
	if e.candidates.Len() == 0 {
		metrics.DesignRequestsTotal.WithLabelValues(string(m), metrics.ResultRejected).Inc()
		return Decision{}, fmt.Errorf("%w: mode %s", ErrEmptyCandidateSet, m)
	}

	e.fg.Lock()
	defer e.fg.Unlock()

	if e.isClosed() {
		return Decision{}, ErrClosed
	}

	began := time.Now()
	fit, err := e.Await(ctx)
	if err != nil {
		return Decision{}, err
	}
	metrics.DesignWait.Observe(time.Since(began).Seconds())

	// A Close during the wait discards the refit, so the live posterior would
	// miss the latest observation. Holding mu keeps Close out until the
	// decision is journaled.
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return Decision{}, ErrClosed
	}
	post := e.live
	value, err := e.policy.Select(m, post.Params, e.candidates)
	if err != nil {
		metrics.DesignRequestsTotal.WithLabelValues(string(m), metrics.ResultRejected).Inc()
		return Decision{}, err
	}
	metrics.DesignRequestsTotal.WithLabelValues(string(m), metrics.ResultAccepted).Inc()

	rec := logging.DecisionRecord{
		SessionID: e.sessionID,
		Trial:     e.history.Len() + 1,
		Mode:      string(m),
		Value:     value,
		VersionID: post.VersionID,
		Params:    post.Params,
		CreatedAt: time.Now().UTC(),
	}
	e.journalLog(rec.Entry())
	e.logger.Debug("design chosen", "trial", rec.Trial, "mode", m, "value", value, "version_id", post.VersionID)

	return Decision{DecisionRecord: rec, Fit: fit}, nil
}
// #endregion design

// #region accessors
// Posterior returns the live posterior. It never blocks on a refit.
func (e *Engine) Posterior() state.Posterior {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.live
}

// CurrentEstimates returns the moments of the live posterior.
func (e *Engine) CurrentEstimates() prior.Estimates {
	return e.Posterior().Estimates()
}

// CurrentParams returns the live posterior in both parameterizations.
func (e *Engine) CurrentParams() state.CurrentParams {
	post := e.Posterior()
	return state.CurrentParams{VersionID: post.VersionID, Params: post.Params, Estimates: post.Estimates()}
}

// LastFit reports the outcome of the most recently finished refit.
func (e *Engine) LastFit() FitReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastFit
}

// History returns a copy of the observations in recording order.
func (e *Engine) History() []state.Observation { return e.history.Snapshot() }

func (e *Engine) Len() int                       { return e.history.Len() }
func (e *Engine) SessionID() string              { return e.sessionID }
func (e *Engine) Prior() prior.Spec              { return e.spec }
func (e *Engine) Candidates() state.CandidateSet { return e.candidates }
// #endregion accessors

// #region close
// Close cancels any in-flight refit and discards its result. Close is
// idempotent; later mutating calls return ErrClosed.
func (e *Engine) Close() {
	e.mu.Lock()
	already := e.closed
	e.closed = true
	e.mu.Unlock()
	if already {
		return
	}
	pending := e.sched.Pending()
	e.sched.Close()
	e.logger.Info("session closed", "observations", e.history.Len(), "refit_pending", pending)
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

func (e *Engine) journalLog(entry logging.ProvenanceEntry) {
	if e.journal == nil {
		return
	}
	entry.SessionID = e.sessionID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := e.journal.LogDecision(entry); err != nil {
		e.logger.Error("provenance write failed", "trigger", entry.TriggerType, "error", err)
	}
}
// #endregion close
