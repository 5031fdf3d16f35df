package policy

import (
	"errors"
	"fmt"
)

// #region errors
var (
	// ErrEmptyCandidateSet is returned when there is nothing to choose from.
	ErrEmptyCandidateSet = errors.New("empty candidate set")

	// ErrInvalidMode is returned for unrecognized policy names.
	ErrInvalidMode = errors.New("invalid mode")
)
// #endregion errors

// #region mode
// Mode names a decision strategy.
type Mode string

const (
	// ModeOED maximizes expected information gain about (alpha, beta).
	ModeOED Mode = "oed"
	// ModeBOpt samples the next point by its posterior probability of being
	// the 50% threshold.
	ModeBOpt Mode = "bopt"

	DefaultMode = ModeBOpt
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeOED, ModeBOpt:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidMode, s, ModeOED, ModeBOpt)
}
// #endregion mode

// #region config
// PolicyConfig holds Monte Carlo settings for both strategies.
type PolicyConfig struct {
	Samples     int    `yaml:"samples" validate:"gt=0"` // posterior draws per decision
	Seed        uint64 `yaml:"seed"`
	DefaultMode Mode   `yaml:"default_mode" validate:"oneof=oed bopt"`
}

// DefaultPolicyConfig returns the settings used for live sessions.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Samples:     1000,
		Seed:        2,
		DefaultMode: DefaultMode,
	}
}
// #endregion config
