package state

import (
	"errors"
	"time"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
)

// #region errors

// ErrInvalidObservation is returned for outcomes outside {0,1} or design
// values outside the active candidate set.
var ErrInvalidObservation = errors.New("invalid observation")

// #endregion errors

// #region observation
// Observation is one completed trial: the design value shown and the binary outcome.
type Observation struct {
	X float64 `json:"x"`
	Y int     `json:"y"`
}
// #endregion observation

// #region posterior
// Posterior is a versioned snapshot of the approximate posterior over
// threshold and slope. A new version is produced by every successful refit
// and links to the version it was fit from.
type Posterior struct {
	VersionID       string
	ParentID        string
	Params          prior.Params
	NumObservations int
	ELBO            float64
	CreatedAt       time.Time
}

// Estimates returns the moment form of the posterior.
func (p Posterior) Estimates() prior.Estimates {
	return p.Params.Estimates()
}
// #endregion posterior

// #region current-params
// CurrentParams bundles the log-normal parameters with their moments and the
// version they were read from.
type CurrentParams struct {
	VersionID string
	prior.Params
	prior.Estimates
}
// #endregion current-params

// #region session
// Session describes one engine lifetime as persisted in the store.
type Session struct {
	SessionID  string
	Prior      prior.Spec
	Candidates []float64
	CreatedAt  time.Time
}
// #endregion session
