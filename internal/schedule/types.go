package schedule

import (
	"fmt"
	"math/rand"

	"github.com/foraging-rig/go-controller/internal/task"
)

// #region types
// Outcome is what the schedule learns about a finished trial.
type Outcome struct {
	Choice    task.Choice
	Rewarded  bool // earned reward on the chosen side
	AutoWater bool // auto-water was dispensed on any side
}

// Step is the reward state for the upcoming trial.
type Step struct {
	Prob     [2]float64
	Switched [2]bool // block transition happened on this trial, per side
	Message  string  // diagnostic text, empty when nothing notable happened
}

// Schedule produces per-trial reward probabilities and owns block transitions.
type Schedule interface {
	// NextTrial advances to the next trial. last is the outcome of the
	// previous trial and must be nil only for the first trial.
	NextTrial(cfg task.Config, last *Outcome) Step
	// ExtendBlock adds n trials to the open block on both sides.
	ExtendBlock(n int)
	// BlockLengths returns realized block lengths per side. The open block
	// reports its length so far.
	BlockLengths() [2][]int
	// Trials returns the number of trials assigned so far.
	Trials() int
}

// Activator is implemented by schedules that can hold a side inactive.
type Activator interface {
	Inactive(side task.Choice) bool
}

// #endregion types

// #region constructor
// New builds the schedule variant for cfg.Task.
func New(cfg task.Config, rng *rand.Rand) (Schedule, error) {
	switch {
	case cfg.Task.Coupled():
		return NewCoupled(rng), nil
	case cfg.Task.Uncoupled():
		if len(cfg.UncoupledRewardPool) == 0 {
			return nil, &task.ConfigError{Path: "uncoupled_reward_pool", Err: task.ErrEmptyPool}
		}
		return NewUncoupled(rng), nil
	case cfg.Task == task.RandomWalk:
		return NewRandomWalk(rng), nil
	}
	return nil, task.Errorf("task", task.ErrUnknown, "%q", cfg.Task)
}

// #endregion constructor

// #region outcomes
// outcomes is the per-trial outcome log the gating rules read.
type outcomes struct {
	choices  []task.Choice
	rewarded []bool
	auto     []bool
}

func (o *outcomes) add(last *Outcome) {
	if last == nil {
		last = &Outcome{Choice: task.NoResponse}
	}
	o.choices = append(o.choices, last.Choice)
	o.rewarded = append(o.rewarded, last.Rewarded)
	o.auto = append(o.auto, last.AutoWater)
}

// rewardsSince counts rewarded trials from start to the latest outcome.
func (o *outcomes) rewardsSince(start int, includeAuto bool) int {
	n := 0
	for i := start; i < len(o.rewarded); i++ {
		if o.rewarded[i] || (includeAuto && o.auto[i]) {
			n++
		}
	}
	return n
}

func (o *outcomes) last() (task.Choice, bool) {
	if len(o.choices) == 0 {
		return task.NoResponse, false
	}
	return o.choices[len(o.choices)-1], true
}

// #endregion outcomes

func formatProb(p [2]float64) string {
	return fmt.Sprintf("L=%.3f R=%.3f", p[0], p[1])
}
