package engine

import (
	"errors"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/inference"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/policy"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
)

// Errors surfaced by the engine. Match with errors.Is.
var (
	ErrInvalidPrior       = prior.ErrInvalidPrior
	ErrInvalidObservation = state.ErrInvalidObservation
	ErrEmptyCandidateSet  = policy.ErrEmptyCandidateSet
	ErrInvalidMode        = policy.ErrInvalidMode
	ErrFitDivergence      = inference.ErrFitDivergence

	// ErrClosed is returned by every mutating call after Close.
	ErrClosed = errors.New("engine closed")
)
