package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/foraging-rig/go-controller/internal/trial"
	"github.com/foraging-rig/go-controller/internal/warning"
)

// #region log-decision
// LogDecision writes an entry to the decision_log table.
func LogDecision(db *sql.DB, entry DecisionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO decision_log (session_id, trial, kind, decision, reason, detail_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID,
		entry.Trial,
		entry.Kind,
		entry.Decision,
		nullIfEmpty(entry.Reason),
		nullIfEmpty(entry.DetailJSON),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}
// #endregion log-decision

// #region trial-decisions
// TrialDecisions expands a committed record into decision log entries:
// one "trial" row carrying the drawn inputs, plus one row per auto-water,
// block switch or opto event.
func TrialDecisions(sessionID string, rec trial.Record) ([]DecisionEntry, error) {
	detail, err := json.Marshal(TrialDecision{
		Trial:         rec.Index,
		Warmup:        rec.Warmup,
		RewardProb:    rec.RewardProb,
		RandomNumber:  rec.RandomNumber,
		Bait:          rec.Bait,
		ResidualBait:  rec.ResidualBait,
		AutoWater:     rec.AutoWater,
		ITI:           rec.ITI,
		Delay:         rec.Delay,
		BlockCount:    rec.BlockCount,
		OptoCondition: rec.Opto.Condition,
		OptoError:     rec.Opto.Error,
		Outcome:       string(rec.Outcome),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal trial decision: %w", err)
	}

	entry := func(kind, decision, reason string) DecisionEntry {
		return DecisionEntry{SessionID: sessionID, Trial: rec.Index, Kind: kind, Decision: decision, Reason: reason}
	}
	out := []DecisionEntry{{
		SessionID:  sessionID,
		Trial:      rec.Index,
		Kind:       "trial",
		Decision:   string(rec.Outcome),
		DetailJSON: string(detail),
	}}
	if rec.AnyAutoWater() {
		out = append(out, entry("auto_water", sidesLabel(rec.AutoWater), rec.AutoWaterReason))
	}
	if rec.BlockSwitched[0] || rec.BlockSwitched[1] {
		out = append(out, entry("block", "switch "+sidesLabel(rec.BlockSwitched), rec.BlockMessage))
	}
	switch {
	case rec.Opto.Error:
		out = append(out, entry("opto", "control", rec.Opto.ErrorText))
	case rec.Opto.LaserOn:
		out = append(out, entry("opto", fmt.Sprintf("condition %d", rec.Opto.Condition), string(rec.Opto.Location)))
	}
	return out, nil
}

// LogTrial writes every decision derived from rec.
func LogTrial(db *sql.DB, sessionID string, rec trial.Record) error {
	entries, err := TrialDecisions(sessionID, rec)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := LogDecision(db, e); err != nil {
			return err
		}
	}
	return nil
}

func sidesLabel(s [2]bool) string {
	switch {
	case s[0] && s[1]:
		return "both"
	case s[0]:
		return "left"
	case s[1]:
		return "right"
	}
	return "none"
}
// #endregion trial-decisions

// #region read
// ReadDecisions returns the session's entries in insertion order.
func ReadDecisions(db *sql.DB, sessionID string) ([]DecisionEntry, error) {
	rows, err := db.Query(
		`SELECT session_id, trial, kind, decision, reason, detail_json, created_at
		 FROM decision_log WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("read decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionEntry
	for rows.Next() {
		var e DecisionEntry
		var reason, detail sql.NullString
		var created string
		if err := rows.Scan(&e.SessionID, &e.Trial, &e.Kind, &e.Decision, &reason, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.Reason = reason.String
		e.DetailJSON = detail.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}
// #endregion read

// #region warning-sink
// WarningSink records warnings as "warning" rows. Write failures are
// logged, never returned to the trial loop.
type WarningSink struct {
	DB        *sql.DB
	SessionID string
}

func (w WarningSink) Warn(m warning.Message) {
	err := LogDecision(w.DB, DecisionEntry{
		SessionID: w.SessionID,
		Trial:     m.Trial,
		Kind:      "warning",
		Decision:  m.Tag,
		Reason:    m.Text,
		CreatedAt: m.Time.UTC(),
	})
	if err != nil {
		log.Printf("[logging] warning not persisted: %v", err)
	}
}
// #endregion warning-sink

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
