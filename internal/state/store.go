package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielpatrickdp/adaptive-design/go-engine/internal/prior"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id      TEXT PRIMARY KEY,
	prior_json      TEXT NOT NULL,
	candidates_json TEXT NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS posterior_versions (
	version_id       TEXT PRIMARY KEY,
	parent_id        TEXT,
	session_id       TEXT NOT NULL,
	alpha_mu         REAL NOT NULL,
	alpha_sigma      REAL NOT NULL,
	beta_mu          REAL NOT NULL,
	beta_sigma       REAL NOT NULL,
	num_observations INTEGER NOT NULL,
	elbo             REAL,
	created_at       TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES posterior_versions(version_id),
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE TABLE IF NOT EXISTS observations (
	session_id  TEXT NOT NULL,
	trial       INTEGER NOT NULL,
	x           REAL NOT NULL,
	y           INTEGER NOT NULL CHECK (y IN (0, 1)),
	created_at  TEXT NOT NULL,
	PRIMARY KEY (session_id, trial),
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE TABLE IF NOT EXISTS active_posterior (
	session_id  TEXT PRIMARY KEY,
	version_id  TEXT NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id),
	FOREIGN KEY (version_id) REFERENCES posterior_versions(version_id)
);

CREATE TABLE IF NOT EXISTS provenance_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	version_id    TEXT NOT NULL,
	trigger_type  TEXT NOT NULL,
	decision      TEXT NOT NULL,
	design_value  REAL,
	num_observations INTEGER NOT NULL DEFAULT 0,
	reason        TEXT,
	created_at    TEXT NOT NULL
);
`
// #endregion schema

// #region store-struct
// Store persists sessions, observation histories, and versioned posteriors in SQLite.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps per-connection pragmas in force for every query.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}
// #endregion close

// #region create-session
// CreateSession records a new session and its initial posterior, and points
// the session's active posterior at it. An empty sessionID gets a fresh UUID.
func (s *Store) CreateSession(sessionID string, spec prior.Spec, candidates []float64, initial Posterior) (Session, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	now := time.Now().UTC()

	priorJSON, err := json.Marshal(spec)
	if err != nil {
		return Session{}, fmt.Errorf("marshal prior: %w", err)
	}
	candJSON, err := json.Marshal(candidates)
	if err != nil {
		return Session{}, fmt.Errorf("marshal candidates: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO sessions (session_id, prior_json, candidates_json, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(priorJSON), string(candJSON), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	if err := insertVersion(tx, sessionID, initial); err != nil {
		return Session{}, err
	}
	if err := setActive(tx, sessionID, initial.VersionID); err != nil {
		return Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return Session{}, fmt.Errorf("commit: %w", err)
	}

	return Session{
		SessionID:  sessionID,
		Prior:      spec,
		Candidates: candidates,
		CreatedAt:  now,
	}, nil
}
// #endregion create-session

// #region get-session
// GetSession reads a session's prior and candidate set.
func (s *Store) GetSession(sessionID string) (Session, error) {
	var sess Session
	var priorJSON, candJSON, createdStr string
	err := s.db.QueryRow(
		`SELECT session_id, prior_json, candidates_json, created_at FROM sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&sess.SessionID, &priorJSON, &candJSON, &createdStr)
	if err != nil {
		return Session{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if err := json.Unmarshal([]byte(priorJSON), &sess.Prior); err != nil {
		return Session{}, fmt.Errorf("unmarshal prior: %w", err)
	}
	if err := json.Unmarshal([]byte(candJSON), &sess.Candidates); err != nil {
		return Session{}, fmt.Errorf("unmarshal candidates: %w", err)
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return sess, nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan row: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetSession(id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}
// #endregion get-session

// #region commit-posterior
// CommitPosterior inserts a new posterior version and moves the session's
// active pointer to it atomically.
func (s *Store) CommitPosterior(sessionID string, p Posterior) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertVersion(tx, sessionID, p); err != nil {
		return err
	}
	if err := setActive(tx, sessionID, p.VersionID); err != nil {
		return err
	}
	return tx.Commit()
}

func insertVersion(tx *sql.Tx, sessionID string, p Posterior) error {
	var parentPtr interface{}
	if p.ParentID != "" {
		parentPtr = p.ParentID
	}
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := tx.Exec(
		`INSERT INTO posterior_versions
		 (version_id, parent_id, session_id, alpha_mu, alpha_sigma, beta_mu, beta_sigma, num_observations, elbo, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.VersionID, parentPtr, sessionID,
		p.Params.AlphaMu, p.Params.AlphaSigma, p.Params.BetaMu, p.Params.BetaSigma,
		p.NumObservations, p.ELBO, created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func setActive(tx *sql.Tx, sessionID, versionID string) error {
	_, err := tx.Exec(
		`INSERT INTO active_posterior (session_id, version_id) VALUES (?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET version_id = excluded.version_id`,
		sessionID, versionID,
	)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	return nil
}
// #endregion commit-posterior

// #region get-current
// GetCurrent reads the session's active posterior.
func (s *Store) GetCurrent(sessionID string) (Posterior, error) {
	var versionID string
	err := s.db.QueryRow(
		`SELECT version_id FROM active_posterior WHERE session_id = ?`, sessionID,
	).Scan(&versionID)
	if err != nil {
		return Posterior{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetVersion(versionID)
}
// #endregion get-current

// #region get-version
const versionColumns = `version_id, parent_id, alpha_mu, alpha_sigma, beta_mu, beta_sigma, num_observations, elbo, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosterior(row rowScanner) (Posterior, error) {
	var p Posterior
	var parentID sql.NullString
	var elbo sql.NullFloat64
	var createdStr string
	err := row.Scan(
		&p.VersionID, &parentID,
		&p.Params.AlphaMu, &p.Params.AlphaSigma, &p.Params.BetaMu, &p.Params.BetaSigma,
		&p.NumObservations, &elbo, &createdStr,
	)
	if err != nil {
		return Posterior{}, err
	}
	if parentID.Valid {
		p.ParentID = parentID.String
	}
	if elbo.Valid {
		p.ELBO = elbo.Float64
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return p, nil
}

// GetVersion retrieves a specific posterior version by ID.
func (s *Store) GetVersion(id string) (Posterior, error) {
	row := s.db.QueryRow(`SELECT `+versionColumns+` FROM posterior_versions WHERE version_id = ?`, id)
	p, err := scanPosterior(row)
	if err != nil {
		return Posterior{}, fmt.Errorf("get version %s: %w", id, err)
	}
	return p, nil
}
// #endregion get-version

// #region list-versions
// ListVersions returns a session's most recent posterior versions, newest first.
func (s *Store) ListVersions(sessionID string, limit int) ([]Posterior, error) {
	rows, err := s.db.Query(
		`SELECT `+versionColumns+` FROM posterior_versions
		 WHERE session_id = ? ORDER BY num_observations DESC, created_at DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []Posterior
	for rows.Next() {
		p, err := scanPosterior(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
// #endregion list-versions

// #region observations
// AppendObservation stores the observation for a 1-based trial number.
// Trials are unique per session, so an append can never overwrite history.
func (s *Store) AppendObservation(sessionID string, trial int, obs Observation) error {
	_, err := s.db.Exec(
		`INSERT INTO observations (session_id, trial, x, y, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, trial, obs.X, obs.Y, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

// ListObservations returns a session's observations in trial order.
func (s *Store) ListObservations(sessionID string) ([]Observation, error) {
	rows, err := s.db.Query(
		`SELECT x, y FROM observations WHERE session_id = ? ORDER BY trial ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.X, &o.Y); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
// #endregion observations
