package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/foraging-rig/go-controller/internal/opto"
	"github.com/foraging-rig/go-controller/internal/replay"
	"github.com/foraging-rig/go-controller/internal/settings"
	"github.com/foraging-rig/go-controller/internal/store"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to foraging.db (DB mode)")
	sessionID := flag.String("session", "", "session ID in DB mode (default: most recent)")
	fixturePath := flag.String("fixture", "", "path to fixture JSON (fixture mode)")
	laserCal := flag.String("laser-calibration", "", "laser calibration JSON used by the recorded session")
	verbose := flag.Bool("v", false, "print every trial, not only divergent ones")
	flag.Parse()

	if (*dbPath == "" && *fixturePath == "") || (*dbPath != "" && *fixturePath != "") {
		fmt.Fprintln(os.Stderr, "usage: replay --db path/to/foraging.db [--session ID]")
		fmt.Fprintln(os.Stderr, "       replay --fixture path/to/fixture.json")
		os.Exit(2)
	}

	var cal opto.Calibrator
	if *laserCal != "" {
		c, err := settings.LoadCalibration("", *laserCal)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load calibration: %v\n", err)
			os.Exit(2)
		}
		cal = c
	}

	var f *replay.Fixture
	var err error
	if *fixturePath != "" {
		f, err = replay.LoadFixture(*fixturePath)
	} else {
		f, err = fromDB(*dbPath, *sessionID)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	os.Exit(run(f, cal, *verbose))
}

// #endregion main

// #region db-extract

func fromDB(dbPath, sessionID string) (*replay.Fixture, error) {
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	defer s.Close()

	if sessionID == "" {
		sess, err := s.GetActive()
		if err != nil {
			return nil, fmt.Errorf("find session: %w", err)
		}
		sessionID = sess.SessionID
	}
	f, err := replay.FromStore(s, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if len(f.Trials) == 0 {
		return nil, fmt.Errorf("session %s has no trials", sessionID)
	}
	return f, nil
}

// #endregion db-extract

// #region output

// run replays f, prints a comparison table and returns the exit code.
func run(f *replay.Fixture, cal opto.Calibrator, verbose bool) int {
	results, sum, err := replay.Verify(f, cal)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 2
	}

	fmt.Printf("%-8s| %-6s| %s\n", "Trial", "Match", "Differences")
	fmt.Printf("%-8s+%-7s+%s\n", "--------", "-------", "------------------------------")
	for _, r := range results {
		if r.Match && !verbose {
			continue
		}
		match := "OK"
		if !r.Match {
			match = "DIFF"
		}
		fmt.Printf("%-8d| %-6s| %s\n", r.Trial, match, strings.Join(r.Diffs, "; "))
	}

	fmt.Printf("\nSummary: %d total, %d match, %d diverge\n", sum.TotalTrials, sum.Matched, sum.Mismatched)
	fmt.Printf("Recomputed: finished %d/%d, rewarded %d, efficiency %.3f\n",
		sum.Stats.Finished, sum.Stats.Trials, sum.Stats.Rewarded, sum.Stats.Efficiency.Optimal)

	code := 0
	if sum.Mismatched > 0 {
		code = 1
	}
	switch {
	case f.Expected == nil:
		fmt.Println("Statistics: no recorded summary to compare")
	case sum.StatsMatch:
		fmt.Println("Statistics: match recorded summary")
	default:
		fmt.Println("Statistics: DIFFER from recorded summary")
		code = 1
	}
	return code
}

// #endregion output
