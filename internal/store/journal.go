package store

import (
	"fmt"

	"github.com/foraging-rig/go-controller/internal/bus"
	"github.com/foraging-rig/go-controller/internal/logging"
	"github.com/foraging-rig/go-controller/internal/stats"
	"github.com/foraging-rig/go-controller/internal/trial"
)

// #region journal
// Journal appends one session's trials and decision log rows.
type Journal struct {
	Store     *Store
	SessionID string
}

// AppendTrial stores rec with its events, then its decision rows.
func (j Journal) AppendTrial(rec trial.Record, events []bus.Event) error {
	if err := j.Store.AppendTrial(j.SessionID, rec, events); err != nil {
		return err
	}
	if err := logging.LogTrial(j.Store.DB(), j.SessionID, rec); err != nil {
		return fmt.Errorf("trial %d decisions: %w", rec.Index, err)
	}
	return nil
}

// AppendEvents stores events drained after trial was committed.
func (j Journal) AppendEvents(trial int, events []bus.Event) error {
	return j.Store.AppendEvents(j.SessionID, trial, events)
}

// Finish closes the session row.
func (j Journal) Finish(reason string, sum stats.Summary) error {
	return j.Store.FinishSession(j.SessionID, reason, sum)
}

// Warnings returns a sink that records warnings against this session.
func (j Journal) Warnings() logging.WarningSink {
	return logging.WarningSink{DB: j.Store.DB(), SessionID: j.SessionID}
}
// #endregion journal
