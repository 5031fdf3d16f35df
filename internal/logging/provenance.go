package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region log-decision
// LogDecision writes a provenance entry to the provenance_log table.
func LogDecision(db *sql.DB, entry ProvenanceEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var design interface{}
	if entry.DesignValue != nil {
		design = *entry.DesignValue
	}

	_, err := db.Exec(
		`INSERT INTO provenance_log (session_id, version_id, trigger_type, decision, design_value, num_observations, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID,
		entry.VersionID,
		entry.TriggerType,
		entry.Decision,
		design,
		entry.NumObservations,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}
// #endregion log-decision

// #region list-provenance
// ListProvenance returns a session's provenance rows in insertion order.
func ListProvenance(db *sql.DB, sessionID string) ([]ProvenanceEntry, error) {
	rows, err := db.Query(
		`SELECT session_id, version_id, trigger_type, decision, design_value, num_observations, reason, created_at
		 FROM provenance_log WHERE session_id = ? ORDER BY id ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list provenance: %w", err)
	}
	defer rows.Close()

	var out []ProvenanceEntry
	for rows.Next() {
		var e ProvenanceEntry
		var design sql.NullFloat64
		var reason sql.NullString
		var createdStr string
		if err := rows.Scan(&e.SessionID, &e.VersionID, &e.TriggerType, &e.Decision, &design, &e.NumObservations, &reason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if design.Valid {
			v := design.Float64
			e.DesignValue = &v
		}
		if reason.Valid {
			e.Reason = reason.String
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, e)
	}
	return out, rows.Err()
}
// #endregion list-provenance

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
