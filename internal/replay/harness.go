package replay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/foraging-rig/go-controller/internal/opto"
	"github.com/foraging-rig/go-controller/internal/stats"
	"github.com/foraging-rig/go-controller/internal/trial"
)

// #region types
// TrialResult compares one regenerated trial with its recording.
type TrialResult struct {
	Trial int
	Match bool
	Diffs []string
}

// ReplaySummary provides aggregate results from a replay run.
type ReplaySummary struct {
	TotalTrials int
	Matched     int
	Mismatched  int
	StatsMatch  bool // false when the fixture has no expected summary
	Stats       stats.Summary
}

// #endregion types

// #region recompute
// Recompute feeds the recorded trials and licks through fresh statistics.
func Recompute(trials []trial.Record, licks []Lick, baiting bool) stats.Summary {
	tr := stats.NewTracker(baiting)
	for _, rec := range trials {
		tr.Add(trial.StatsTrial(rec))
	}
	for _, l := range licks {
		tr.AddLick(l.Side, l.Time)
	}
	return tr.Summary()
}

// SameSummary compares two summaries by their wire form, so undefined
// ratios compare equal.
func SameSummary(a, b stats.Summary) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

// #endregion recompute

// #region regenerate
type frozenClock struct{ t time.Time }

func (c frozenClock) Now() time.Time { return c.t }

// Regenerate re-runs the trial generator with the session seed, feeding
// the recorded outcomes back in, and compares every regenerated draw with
// the recording. cal may be nil when no opto channel used laser power.
func Regenerate(seed int64, trials []trial.Record, cal opto.Calibrator) ([]TrialResult, error) {
	if len(trials) == 0 {
		return nil, nil
	}
	gen, err := trial.NewGenerator(trials[0].Config, trial.Options{
		Seed:       seed,
		Calibrator: cal,
		Clock:      frozenClock{t: time.Unix(0, 0)},
	})
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	results := make([]TrialResult, 0, len(trials))
	for _, want := range trials {
		got, _, err := gen.GenerateNextTrial(want.Config)
		if errors.Is(err, trial.ErrStopped) {
			results = append(results, TrialResult{Trial: want.Index, Diffs: []string{"generator stopped: " + err.Error()}})
			continue
		}
		if err != nil {
			return results, fmt.Errorf("replay trial %d: %w", want.Index, err)
		}
		diffs := compare(*got, want)
		results = append(results, TrialResult{Trial: want.Index, Match: len(diffs) == 0, Diffs: diffs})

		if _, err := gen.CommitOutcome(trial.Result{Outcome: want.Outcome, Times: want.Times}); err != nil {
			return results, fmt.Errorf("replay commit %d: %w", want.Index, err)
		}
	}
	return results, nil
}

func compare(got, want trial.Record) []string {
	var diffs []string
	check := func(name string, a, b any) {
		if fmt.Sprint(a) != fmt.Sprint(b) {
			diffs = append(diffs, fmt.Sprintf("%s: got %v, recorded %v", name, a, b))
		}
	}
	check("index", got.Index, want.Index)
	check("warmup", got.Warmup, want.Warmup)
	check("reward_prob", got.RewardProb, want.RewardProb)
	check("bait", got.Bait, want.Bait)
	check("auto_water", got.AutoWater, want.AutoWater)
	check("iti", got.ITI, want.ITI)
	check("delay", got.Delay, want.Delay)
	check("block_switched", got.BlockSwitched, want.BlockSwitched)
	check("opto_condition", got.Opto.Condition, want.Opto.Condition)
	check("laser_on", got.Opto.LaserOn, want.Opto.LaserOn)
	return diffs
}

// #endregion regenerate

// #region verify
// Verify regenerates and re-scores a fixture.
func Verify(f *Fixture, cal opto.Calibrator) ([]TrialResult, ReplaySummary, error) {
	results, err := Regenerate(f.Seed, f.Trials, cal)
	if err != nil {
		return results, ReplaySummary{}, err
	}
	sum := Summarize(results)
	sum.Stats = Recompute(f.Trials, f.Licks, f.Task.Baiting())
	if f.Expected != nil {
		sum.StatsMatch = SameSummary(sum.Stats, *f.Expected)
	}
	return results, sum, nil
}

// Summarize counts matching and mismatching trials.
func Summarize(results []TrialResult) ReplaySummary {
	s := ReplaySummary{TotalTrials: len(results)}
	for _, r := range results {
		if r.Match {
			s.Matched++
		} else {
			s.Mismatched++
		}
	}
	return s
}

// #endregion verify
