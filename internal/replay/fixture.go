package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/foraging-rig/go-controller/internal/bus"
	"github.com/foraging-rig/go-controller/internal/stats"
	"github.com/foraging-rig/go-controller/internal/store"
	"github.com/foraging-rig/go-controller/internal/task"
	"github.com/foraging-rig/go-controller/internal/trial"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: one
// recorded session with everything needed to regenerate and re-score it.
type Fixture struct {
	Description string         `json:"description"`
	SessionID   string         `json:"session_id,omitempty"`
	Seed        int64          `json:"seed"`
	Task        task.Type      `json:"task"`
	Trials      []trial.Record `json:"trials"`
	Licks       []Lick         `json:"licks,omitempty"`
	StopReason  string         `json:"stop_reason,omitempty"`
	Expected    *stats.Summary `json:"expected_summary,omitempty"`
}

// Lick is one recorded lick on the hardware clock.
type Lick struct {
	Side task.Choice `json:"side"`
	Time float64     `json:"time"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Write saves f as indented JSON.
func (f *Fixture) Write(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// FromStore builds a fixture from a stored session. The stored final
// summary becomes the expected summary when the session has finished.
func FromStore(s *store.Store, sessionID string) (*Fixture, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	trials, err := s.Trials(sessionID)
	if err != nil {
		return nil, err
	}
	events, err := s.Events(sessionID)
	if err != nil {
		return nil, err
	}

	f := &Fixture{
		Description: fmt.Sprintf("%s session on %s, %s", sess.Task, sess.RigName, sess.StartedAt.Format("2006-01-02 15:04")),
		SessionID:   sess.SessionID,
		Seed:        sess.Seed,
		Task:        task.Type(sess.Task),
		Trials:      trials,
		StopReason:  sess.StopReason,
	}
	for _, e := range events {
		if side, ok := (bus.Event{Tag: e.Tag, Time: e.Time}).LickSide(); ok {
			f.Licks = append(f.Licks, Lick{Side: side, Time: e.Time})
		}
	}
	if sess.SummaryJSON != "" {
		var sum stats.Summary
		if err := json.Unmarshal([]byte(sess.SummaryJSON), &sum); err != nil {
			return nil, fmt.Errorf("parse stored summary: %w", err)
		}
		f.Expected = &sum
	}
	return f, nil
}

// #endregion fixture-loader
