package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/foraging-rig/go-controller/internal/bus"
	"github.com/foraging-rig/go-controller/internal/stats"
	"github.com/foraging-rig/go-controller/internal/task"
	"github.com/foraging-rig/go-controller/internal/trial"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id    TEXT PRIMARY KEY,
	rig_name      TEXT NOT NULL,
	task          TEXT NOT NULL,
	seed          INTEGER NOT NULL,
	config_json   TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	ended_at      TEXT,
	stop_reason   TEXT,
	summary_json  TEXT
);

CREATE TABLE IF NOT EXISTS trials (
	session_id    TEXT NOT NULL,
	trial         INTEGER NOT NULL,
	record_json   TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	PRIMARY KEY (session_id, trial),
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE TABLE IF NOT EXISTS irregular_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	trial         INTEGER NOT NULL,
	tag           TEXT NOT NULL,
	time          REAL NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE TABLE IF NOT EXISTS decision_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	trial         INTEGER NOT NULL,
	kind          TEXT NOT NULL,
	decision      TEXT NOT NULL,
	reason        TEXT,
	detail_json   TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE TABLE IF NOT EXISTS active_session (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	session_id    TEXT NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`
// #endregion schema

// #region store-struct
// Store persists sessions and their trial records in SQLite.
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
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
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
// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for the decision log.
func (s *Store) DB() *sql.DB {
	return s.db
}
// #endregion db-accessor

// #region create-session
// CreateSession inserts a new session and makes it the active one.
func (s *Store) CreateSession(rig string, seed int64, cfg task.Config) (SessionRecord, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("marshal config: %w", err)
	}
	rec := SessionRecord{
		SessionID:  uuid.New().String(),
		RigName:    rig,
		Task:       string(cfg.Task),
		Seed:       seed,
		ConfigJSON: string(cfgJSON),
		StartedAt:  time.Now().UTC(),
	}

	tx, err := s.db.Begin()
	if err != nil {
		return SessionRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO sessions (session_id, rig_name, task, seed, config_json, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.RigName, rec.Task, rec.Seed, rec.ConfigJSON, rec.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("insert session: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_session (id, session_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET session_id = excluded.session_id`,
		rec.SessionID,
	)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return SessionRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}
// #endregion create-session

// #region get-session
// GetActive reads the most recently created session.
func (s *Store) GetActive() (SessionRecord, error) {
	var id string
	if err := s.db.QueryRow(`SELECT session_id FROM active_session WHERE id = 1`).Scan(&id); err != nil {
		return SessionRecord{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetSession(id)
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(id string) (SessionRecord, error) {
	row := s.db.QueryRow(
		`SELECT session_id, rig_name, task, seed, config_json, started_at, ended_at, stop_reason, summary_json
		 FROM sessions WHERE session_id = ?`, id,
	)
	rec, err := scanSession(row)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionRecord, error) {
	var rec SessionRecord
	var startedStr string
	var endedStr, reason, summary sql.NullString
	if err := row.Scan(&rec.SessionID, &rec.RigName, &rec.Task, &rec.Seed, &rec.ConfigJSON,
		&startedStr, &endedStr, &reason, &summary); err != nil {
		return SessionRecord{}, err
	}
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedStr)
	if endedStr.Valid {
		rec.EndedAt, _ = time.Parse(time.RFC3339Nano, endedStr.String)
	}
	rec.StopReason = reason.String
	rec.SummaryJSON = summary.String
	return rec, nil
}

// Config decodes the session's starting configuration.
func (r SessionRecord) Config() (task.Config, error) {
	var cfg task.Config
	if err := json.Unmarshal([]byte(r.ConfigJSON), &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
// #endregion get-session

// #region list-sessions
// ListSessions returns the most recent sessions.
func (s *Store) ListSessions(limit int) ([]SessionRecord, error) {
	rows, err := s.db.Query(
		`SELECT session_id, rig_name, task, seed, config_json, started_at, ended_at, stop_reason, summary_json
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
// #endregion list-sessions

// #region trials
// AppendTrial stores a committed trial and the irregular events drained
// with it.
func (s *Store) AppendTrial(sessionID string, rec trial.Record, events []bus.Event) error {
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal trial %d: %w", rec.Index, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO trials (session_id, trial, record_json, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, rec.Index, string(recJSON), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert trial %d: %w", rec.Index, err)
	}
	if err := insertEvents(tx, sessionID, rec.Index, events); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendEvents stores irregular events that arrived after trial's commit.
func (s *Store) AppendEvents(sessionID string, trial int, events []bus.Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertEvents(tx, sessionID, trial, events); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEvents(tx *sql.Tx, sessionID string, trial int, events []bus.Event) error {
	for _, e := range events {
		_, err := tx.Exec(
			`INSERT INTO irregular_events (session_id, trial, tag, time) VALUES (?, ?, ?, ?)`,
			sessionID, trial, e.Tag, e.Time,
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return nil
}

// Trials returns the session's trial records in trial order.
func (s *Store) Trials(sessionID string) ([]trial.Record, error) {
	rows, err := s.db.Query(
		`SELECT record_json FROM trials WHERE session_id = ? ORDER BY trial`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list trials: %w", err)
	}
	defer rows.Close()

	var out []trial.Record
	for rows.Next() {
		var recJSON string
		if err := rows.Scan(&recJSON); err != nil {
			return nil, fmt.Errorf("scan trial: %w", err)
		}
		var rec trial.Record
		if err := json.Unmarshal([]byte(recJSON), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal trial: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Events returns the session's irregular events in insertion order.
func (s *Store) Events(sessionID string) ([]EventRow, error) {
	rows, err := s.db.Query(
		`SELECT trial, tag, time FROM irregular_events WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.Trial, &e.Tag, &e.Time); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
// #endregion trials

// #region finish
// FinishSession records the end time, stop reason and final summary.
func (s *Store) FinishSession(sessionID, reason string, summary stats.Summary) error {
	sumJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	res, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ?, stop_reason = ?, summary_json = ? WHERE session_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), reason, string(sumJSON), sessionID,
	)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return nil
}
// #endregion finish
