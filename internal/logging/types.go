package logging

import (
	"time"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
)

// #region provenance-entry
// ProvenanceEntry is a single row in the provenance_log table.
type ProvenanceEntry struct {
	SessionID       string
	VersionID       string
	TriggerType     string // "initial" | "refit" | "decision" | "resume"
	Decision        string // "commit" | "reject" | "oed" | "bopt"
	DesignValue     *float64
	NumObservations int // history length the row refers to
	Reason          string
	CreatedAt       time.Time
}
// #endregion provenance-entry

// #region trigger-types
const (
	TriggerInitial  = "initial"
	TriggerRefit    = "refit"
	TriggerDecision = "decision"
	TriggerResume   = "resume"
)
// #endregion trigger-types

// #region decision-record
// DecisionRecord is the audit record for one chosen design point: the value,
// the posterior it was chosen against, and the policy that chose it.
type DecisionRecord struct {
	SessionID string       `json:"session_id"`
	Trial     int          `json:"trial"`
	Mode      string       `json:"mode"`
	Value     float64      `json:"value"`
	VersionID string       `json:"version_id"`
	Params    prior.Params `json:"params"`
	CreatedAt time.Time    `json:"created_at"`
}

// Entry converts the record to a provenance row.
func (d DecisionRecord) Entry() ProvenanceEntry {
	v := d.Value
	return ProvenanceEntry{
		SessionID:   d.SessionID,
		VersionID:   d.VersionID,
		TriggerType:     TriggerDecision,
		Decision:        d.Mode,
		DesignValue:     &v,
		NumObservations: d.Trial - 1,
		CreatedAt:       d.CreatedAt,
	}
}
// #endregion decision-record
