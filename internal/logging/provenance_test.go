package logging

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/foraging-rig/go-controller/internal/opto"
	"github.com/foraging-rig/go-controller/internal/task"
	"github.com/foraging-rig/go-controller/internal/trial"
	"github.com/foraging-rig/go-controller/internal/warning"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE decision_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL,
		trial       INTEGER NOT NULL,
		kind        TEXT NOT NULL,
		decision    TEXT NOT NULL,
		reason      TEXT,
		detail_json TEXT,
		created_at  TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

// #endregion helpers

// #region log-decision-tests
func TestLogDecision_Success(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := DecisionEntry{
		SessionID:  "s1",
		Trial:      4,
		Kind:       "auto_water",
		Decision:   "both",
		Reason:     "5 ignored trials",
		DetailJSON: `{"trial":4}`,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := LogDecision(db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := ReadDecisions(db, "s1")
	if err != nil {
		t.Fatalf("ReadDecisions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	if got[0].Trial != 4 || got[0].Decision != "both" || got[0].Reason != "5 ignored trials" {
		t.Errorf("unexpected row %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(entry.CreatedAt) {
		t.Errorf("created_at %v, want %v", got[0].CreatedAt, entry.CreatedAt)
	}
}

func TestLogDecision_ZeroCreatedAt(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	before := time.Now().UTC()
	if err := LogDecision(db, DecisionEntry{SessionID: "s1", Kind: "trial", Decision: "none"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var createdAtStr string
	db.QueryRow("SELECT created_at FROM decision_log").Scan(&createdAtStr)
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		t.Fatalf("parse created_at: %v", err)
	}
	if createdAt.Before(before) {
		t.Error("expected auto-filled created_at to be >= test start time")
	}
}

func TestLogDecision_EmptyOptionalFields(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	if err := LogDecision(db, DecisionEntry{SessionID: "s1", Kind: "block", Decision: "switch"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var reason, detail sql.NullString
	db.QueryRow("SELECT reason, detail_json FROM decision_log").Scan(&reason, &detail)
	if reason.Valid {
		t.Error("expected NULL reason for empty string")
	}
	if detail.Valid {
		t.Error("expected NULL detail_json for empty string")
	}
}

func TestLogDecision_Error(t *testing.T) {
	db := setupDB(t)
	db.Close() // close to force error

	if err := LogDecision(db, DecisionEntry{SessionID: "s1", Kind: "trial", Decision: "x"}); err == nil {
		t.Fatal("expected error on closed db")
	}
}

// #endregion log-decision-tests

// #region trial-decision-tests
func TestTrialDecisions(t *testing.T) {
	tests := []struct {
		name  string
		rec   trial.Record
		kinds []string
	}{
		{
			name:  "plain",
			rec:   trial.Record{Index: 1, Outcome: trial.OutcomeRewardLeft},
			kinds: []string{"trial"},
		},
		{
			name: "auto water and block switch",
			rec: trial.Record{
				Index:           2,
				Outcome:         trial.OutcomeNoResponse,
				AutoWater:       [2]bool{true, true},
				AutoWaterReason: "ignored",
				BlockSwitched:   [2]bool{true, true},
				BlockMessage:    "block switch",
			},
			kinds: []string{"trial", "auto_water", "block"},
		},
		{
			name:  "opto on",
			rec:   trial.Record{Index: 3, Opto: opto.Record{LaserOn: true, Condition: 2, Location: task.LocationLeft}},
			kinds: []string{"trial", "opto"},
		},
		{
			name:  "opto error",
			rec:   trial.Record{Index: 4, Opto: opto.Record{Error: true, ErrorText: "pulse count"}},
			kinds: []string{"trial", "opto"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := TrialDecisions("s1", tt.rec)
			if err != nil {
				t.Fatalf("TrialDecisions: %v", err)
			}
			if len(entries) != len(tt.kinds) {
				t.Fatalf("got %d entries, want %d", len(entries), len(tt.kinds))
			}
			for i, k := range tt.kinds {
				if entries[i].Kind != k {
					t.Errorf("entry %d kind %q, want %q", i, entries[i].Kind, k)
				}
				if entries[i].Trial != tt.rec.Index {
					t.Errorf("entry %d trial %d", i, entries[i].Trial)
				}
			}
			if entries[0].DetailJSON == "" {
				t.Error("trial entry should carry detail JSON")
			}
		})
	}
}

func TestTrialDecisions_OptoErrorIsControl(t *testing.T) {
	entries, _ := TrialDecisions("s1", trial.Record{Opto: opto.Record{Error: true, ErrorText: "bad"}})
	if entries[1].Decision != "control" || entries[1].Reason != "bad" {
		t.Errorf("unexpected opto entry %+v", entries[1])
	}
}

func TestLogTrialAndWarningSink(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	rec := trial.Record{Index: 7, Outcome: trial.OutcomeErrorRight, AutoWater: [2]bool{false, true}}
	if err := LogTrial(db, "s1", rec); err != nil {
		t.Fatalf("LogTrial: %v", err)
	}
	warning.Emit(WarningSink{DB: db, SessionID: "s1"}, warning.Warning, 7, "auto_stop", "stop after %d", 7)

	got, err := ReadDecisions(db, "s1")
	if err != nil {
		t.Fatalf("ReadDecisions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}
	if got[1].Decision != "right" {
		t.Errorf("auto water decision %q", got[1].Decision)
	}
	if got[2].Kind != "warning" || got[2].Decision != "auto_stop" || got[2].Reason != "stop after 7" {
		t.Errorf("unexpected warning row %+v", got[2])
	}
}

// #endregion trial-decision-tests

// #region null-if-empty-tests
func TestNullIfEmpty_Empty(t *testing.T) {
	result := nullIfEmpty("")
	if result != nil {
		t.Errorf("expected nil for empty string, got %v", result)
	}
}

func TestNullIfEmpty_NonEmpty(t *testing.T) {
	result := nullIfEmpty("hello")
	if result != "hello" {
		t.Errorf("expected 'hello', got %v", result)
	}
}

// #endregion null-if-empty-tests
