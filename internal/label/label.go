package label

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/state"
)

// #region rule

// ErrUnknownRule is returned for unrecognized labeling rule names.
var ErrUnknownRule = errors.New("unknown labeling rule")

// Rule turns a raw trial response into the binary outcome the model is fit on.
type Rule string

const (
	// RulePressedFirstOverride labels a trial 1 whenever the stimulator
	// pressed before the subject, otherwise uses the agency judgment.
	RulePressedFirstOverride Rule = "pressed_first_override"
	// RuleAgencyOnly uses the subject's agency judgment as-is.
	RuleAgencyOnly Rule = "agency_only"
	// RulePressedFirstOnly ignores the judgment and uses timing alone.
	RulePressedFirstOnly Rule = "pressed_first_only"

	DefaultRule = RulePressedFirstOverride
)

// ParseRule validates a rule name.
func ParseRule(s string) (Rule, error) {
	switch r := Rule(s); r {
	case RulePressedFirstOverride, RuleAgencyOnly, RulePressedFirstOnly:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRule, s)
}

// #endregion rule

// #region response

// Response is what the presentation surface collected on one trial.
type Response struct {
	PressedFirst bool `json:"pressed_first"` // stimulator-driven press preceded the subject's own
	Agency       int  `json:"agency"`        // 1 if the subject reported causing the press
}

// #endregion response

// #region label

// Label applies the rule. Agency judgments outside {0,1} are invalid observations.
func (r Rule) Label(resp Response) (int, error) {
	if resp.Agency != 0 && resp.Agency != 1 {
		return 0, fmt.Errorf("%w: agency %d not in {0,1}", state.ErrInvalidObservation, resp.Agency)
	}
	switch r {
	case RulePressedFirstOverride:
		if resp.PressedFirst {
			return 1, nil
		}
		return resp.Agency, nil
	case RuleAgencyOnly:
		return resp.Agency, nil
	case RulePressedFirstOnly:
		if resp.PressedFirst {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRule, string(r))
}

// #endregion label
