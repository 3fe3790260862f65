package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strings"

	"github.com/foraging-rig/go-controller/internal/logging"
	"github.com/foraging-rig/go-controller/internal/stats"
	"github.com/foraging-rig/go-controller/internal/store"
	"github.com/foraging-rig/go-controller/internal/task"
	"github.com/foraging-rig/go-controller/internal/trial"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to foraging.db")
	last := flag.Int("last", 20, "show N most recent sessions")
	session := flag.String("session", "", "show single session detail")
	kind := flag.String("kind", "", "filter decision log to one kind (trial, auto_water, block, opto, warning)")
	trials := flag.Bool("trials", false, "include the per-trial table in session detail")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/foraging.db [--last N] [--session id] [--kind k] [--trials] [--json]")
		os.Exit(2)
	}

	s, err := store.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	if *session != "" {
		err = runDetailMode(s, *session, *kind, *trials, *jsonOut)
	} else {
		err = runListMode(s, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	SessionID   string   `json:"session_id"`
	Rig         string   `json:"rig"`
	Task        string   `json:"task"`
	Trials      int      `json:"trials"`
	FinishRatio *float64 `json:"finish_ratio,omitempty"`
	Efficiency  *float64 `json:"efficiency,omitempty"`
	StopReason  string   `json:"stop_reason,omitempty"`
	StartedAt   string   `json:"started_at"`
	Running     bool     `json:"running"`
}

func runListMode(s *store.Store, last int, jsonOut bool) error {
	sessions, err := s.ListSessions(last)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(os.Stderr, "no sessions found")
		return nil
	}

	// Store returns newest first; print chronologically.
	rows := make([]listRow, len(sessions))
	for i, sr := range sessions {
		row := listRow{
			SessionID:  sr.SessionID,
			Rig:        sr.RigName,
			Task:       sr.Task,
			StopReason: sr.StopReason,
			StartedAt:  sr.StartedAt.Format("2006-01-02 15:04:05"),
			Running:    sr.Running(),
		}
		if sum, ok := summaryOf(sr); ok {
			row.Trials = sum.Trials
			row.FinishRatio = finite(sum.FinishRatio)
			row.Efficiency = finite(sum.Efficiency.Optimal)
		} else if recs, err := s.Trials(sr.SessionID); err == nil {
			row.Trials = len(recs)
		}
		rows[len(sessions)-1-i] = row
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-10s %-10s %-20s %6s %7s %7s  %-19s  %s\n",
		"SESSION", "RIG", "TASK", "TRIALS", "FINISH", "EFF", "STARTED", "STOP")
	fmt.Println(strings.Repeat("-", 100))
	for _, r := range rows {
		stop := r.StopReason
		if r.Running {
			stop = "(running)"
		}
		fmt.Printf("%-10s %-10s %-20s %6d %7s %7s  %-19s  %s\n",
			shortID(r.SessionID), r.Rig, r.Task, r.Trials,
			fmtRatio(r.FinishRatio), fmtRatio(r.Efficiency), r.StartedAt, stop)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	Session   sessionInfo             `json:"session"`
	Summary   *stats.Summary          `json:"summary,omitempty"`
	Bias      *stats.Bias             `json:"bias,omitempty"`
	Decisions []logging.DecisionEntry `json:"decisions"`
	Trials    []trial.Record          `json:"trials,omitempty"`
}

type sessionInfo struct {
	SessionID  string `json:"session_id"`
	Rig        string `json:"rig"`
	Task       string `json:"task"`
	Seed       int64  `json:"seed"`
	StartedAt  string `json:"started_at"`
	EndedAt    string `json:"ended_at,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

func runDetailMode(s *store.Store, sessionID, kind string, withTrials, jsonOut bool) error {
	sr, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}
	recs, err := s.Trials(sessionID)
	if err != nil {
		return err
	}
	decisions, err := logging.ReadDecisions(s.DB(), sessionID)
	if err != nil {
		return err
	}
	if kind != "" {
		filtered := decisions[:0]
		for _, d := range decisions {
			if d.Kind == kind {
				filtered = append(filtered, d)
			}
		}
		decisions = filtered
	}

	out := detailOutput{
		Session: sessionInfo{
			SessionID:  sr.SessionID,
			Rig:        sr.RigName,
			Task:       sr.Task,
			Seed:       sr.Seed,
			StartedAt:  sr.StartedAt.Format("2006-01-02 15:04:05"),
			StopReason: sr.StopReason,
		},
		Decisions: decisions,
	}
	if !sr.Running() {
		out.Session.EndedAt = sr.EndedAt.Format("2006-01-02 15:04:05")
	}
	if sum, ok := summaryOf(sr); ok {
		out.Summary = &sum
	}
	if b, err := fitBias(recs, sr.Seed); err == nil {
		out.Bias = &b
	}
	if withTrials {
		out.Trials = recs
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Session:  %s\n", out.Session.SessionID)
	fmt.Printf("Rig:      %s\n", out.Session.Rig)
	fmt.Printf("Task:     %s (seed %d)\n", out.Session.Task, out.Session.Seed)
	fmt.Printf("Started:  %s\n", out.Session.StartedAt)
	if out.Session.EndedAt != "" {
		fmt.Printf("Ended:    %s (%s)\n", out.Session.EndedAt, out.Session.StopReason)
	} else {
		fmt.Println("Ended:    (running)")
	}
	fmt.Printf("Trials:   %d stored\n", len(recs))

	if out.Summary != nil {
		sum := out.Summary
		fmt.Println()
		fmt.Println("Summary:")
		fmt.Printf("  finished %d/%d (%s), rewarded %d (%s)\n",
			sum.Finished, sum.Trials, fmtFloat(sum.FinishRatio), sum.Rewarded, fmtFloat(sum.RewardRate))
		fmt.Printf("  right choice ratio %s, auto water L=%d R=%d\n",
			fmtFloat(sum.RightChoiceRatio), sum.AutoWater[0], sum.AutoWater[1])
		fmt.Printf("  foraging efficiency %s (random seed %s)\n",
			fmtFloat(sum.Efficiency.Optimal), fmtFloat(sum.Efficiency.RandomSeed))
	}
	if out.Bias != nil {
		mark := ""
		if out.Bias.Flagged {
			mark = "  BIASED"
		}
		fmt.Printf("  bias %+.3f [%+.3f, %+.3f] over %d trials%s\n",
			out.Bias.Value, out.Bias.CILow, out.Bias.CIHigh, out.Bias.N, mark)
	}

	if withTrials && len(recs) > 0 {
		fmt.Println()
		printTrialTable(recs)
	}

	fmt.Println()
	if len(decisions) == 0 {
		fmt.Println("No decisions logged.")
		return nil
	}
	fmt.Printf("%6s  %-10s  %-16s  %s\n", "TRIAL", "KIND", "DECISION", "REASON")
	fmt.Println(strings.Repeat("-", 72))
	for _, d := range decisions {
		if d.Kind == "trial" && kind == "" {
			continue // covered by the trial table
		}
		fmt.Printf("%6d  %-10s  %-16s  %s\n", d.Trial, d.Kind, d.Decision, d.Reason)
	}
	return nil
}

func printTrialTable(recs []trial.Record) {
	fmt.Printf("%6s %5s %5s %5s %-12s %6s %6s %5s %s\n",
		"TRIAL", "P_L", "P_R", "BAIT", "OUTCOME", "ITI", "DELAY", "OPTO", "NOTE")
	fmt.Println(strings.Repeat("-", 80))
	for _, r := range recs {
		var notes []string
		if r.Warmup {
			notes = append(notes, "warmup")
		}
		if r.AnyAutoWater() {
			notes = append(notes, "auto water")
		}
		if r.BlockSwitched[0] || r.BlockSwitched[1] {
			notes = append(notes, "block switch")
		}
		opto := "-"
		if r.Opto.LaserOn {
			opto = fmt.Sprintf("c%d", r.Opto.Condition)
		}
		fmt.Printf("%6d %5.2f %5.2f %5s %-12s %6.2f %6.2f %5s %s\n",
			r.Index, r.RewardProb[0], r.RewardProb[1], baitLabel(r.Bait),
			string(r.Outcome), r.ITI, r.Delay, opto, strings.Join(notes, ", "))
	}
}

// #endregion detail-mode

// #region helpers

// summaryOf decodes the stored summary of a finished session.
func summaryOf(sr store.SessionRecord) (stats.Summary, bool) {
	if sr.SummaryJSON == "" {
		return stats.Summary{}, false
	}
	var sum stats.Summary
	if err := json.Unmarshal([]byte(sr.SummaryJSON), &sum); err != nil {
		return stats.Summary{}, false
	}
	return sum, true
}

// fitBias refits the choice bias from stored trials. The session seed
// keeps the bootstrap interval stable across invocations.
func fitBias(recs []trial.Record, seed int64) (stats.Bias, error) {
	choices := make([]task.Choice, len(recs))
	earned := make([]bool, len(recs))
	for i, r := range recs {
		choices[i] = r.Response
		earned[i] = r.Earned()
	}
	return stats.FitBias(choices, earned, stats.DefaultBiasConfig(), rand.New(rand.NewSource(seed)))
}

func baitLabel(b [2]bool) string {
	switch {
	case b[0] && b[1]:
		return "LR"
	case b[0]:
		return "L"
	case b[1]:
		return "R"
	}
	return "-"
}

func finite(x float64) *float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return &x
}

func fmtRatio(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *p)
}

func fmtFloat(x float64) string {
	return fmtRatio(finite(x))
}

// #endregion helpers

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
