package store

import "time"

// #region session-record
// SessionRecord is one behavior session.
type SessionRecord struct {
	SessionID   string
	RigName     string
	Task        string
	Seed        int64
	ConfigJSON  string
	StartedAt   time.Time
	EndedAt     time.Time // zero while running
	StopReason  string
	SummaryJSON string
}

// Running reports whether the session has not been finished.
func (r SessionRecord) Running() bool { return r.EndedAt.IsZero() }
// #endregion session-record

// #region event-row
// EventRow is one stored irregular event.
type EventRow struct {
	Trial int
	Tag   string
	Time  float64
}
// #endregion event-row
