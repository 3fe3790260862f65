package stats

import (
	"math"

	"github.com/foraging-rig/go-controller/internal/task"
)

// #region summary
// Summary is the running snapshot consumed by the monitor and metadata layers.
type Summary struct {
	Trials           int        `json:"trials"`
	Finished         int        `json:"finished"`
	Rewarded         int        `json:"rewarded"`
	AutoWater        [2]int     `json:"auto_water"`
	FinishRatio      float64    `json:"finish_ratio"`
	RewardRate       float64    `json:"reward_rate"`
	RightChoiceRatio float64    `json:"right_choice_ratio"`
	Efficiency       Efficiency `json:"efficiency"`
	Licks            LickStats  `json:"licks"`
}

// #endregion summary

// #region tracker
// Tracker accumulates per-trial statistics. Trials are appended once and
// never rewritten, so replaying the same trials yields the same summary.
type Tracker struct {
	baiting bool
	trials  []Trial
	licks   Licks

	finished int
	rewarded int
	right    int
	auto     [2]int
}

func NewTracker(baiting bool) *Tracker {
	return &Tracker{baiting: baiting}
}

// Add appends one finished trial.
func (tr *Tracker) Add(t Trial) {
	tr.trials = append(tr.trials, t)
	if t.Choice != task.NoResponse {
		tr.finished++
		if t.Choice == task.Right {
			tr.right++
		}
	}
	if t.earned() {
		tr.rewarded++
	}
	for s := 0; s < 2; s++ {
		if t.AutoWater[s] {
			tr.auto[s]++
		}
	}
}

// AddLick records one lick from the irregular-event stream.
func (tr *Tracker) AddLick(side task.Choice, at float64) { tr.licks.Add(side, at) }

// Len returns the number of trials added.
func (tr *Tracker) Len() int { return len(tr.trials) }

// Choices returns the recorded responses.
func (tr *Tracker) Choices() []task.Choice {
	out := make([]task.Choice, len(tr.trials))
	for i, t := range tr.trials {
		out[i] = t.Choice
	}
	return out
}

// EarnedRewards returns whether each trial paid out on the chosen side.
func (tr *Tracker) EarnedRewards() []bool {
	out := make([]bool, len(tr.trials))
	for i, t := range tr.trials {
		out[i] = t.earned()
	}
	return out
}

// Summary computes the full snapshot.
func (tr *Tracker) Summary() Summary {
	n := len(tr.trials)
	s := Summary{
		Trials:           n,
		Finished:         tr.finished,
		Rewarded:         tr.rewarded,
		AutoWater:        tr.auto,
		FinishRatio:      math.NaN(),
		RewardRate:       math.NaN(),
		RightChoiceRatio: math.NaN(),
		Efficiency:       ForagingEfficiency(tr.trials, tr.baiting),
		Licks:            PartitionLicks(tr.trials, tr.licks),
	}
	if n > 0 {
		s.FinishRatio = float64(tr.finished) / float64(n)
		s.RewardRate = float64(tr.rewarded) / float64(n)
	}
	if tr.finished > 0 {
		s.RightChoiceRatio = float64(tr.right) / float64(tr.finished)
	}
	return s
}

// Window returns finished count, finish ratio and right-choice ratio over
// the last n trials.
func (tr *Tracker) Window(n int) (finished int, finishRatio, rightRatio float64) {
	start := len(tr.trials) - n
	if start < 0 {
		start = 0
	}
	win := tr.trials[start:]
	var right int
	for _, t := range win {
		if t.Choice != task.NoResponse {
			finished++
			if t.Choice == task.Right {
				right++
			}
		}
	}
	if len(win) == 0 {
		return 0, 0, math.NaN()
	}
	finishRatio = float64(finished) / float64(len(win))
	rightRatio = math.NaN()
	if finished > 0 {
		rightRatio = float64(right) / float64(finished)
	}
	return finished, finishRatio, rightRatio
}

// #endregion tracker
