package trial

import (
	"github.com/foraging-rig/go-controller/internal/opto"
	"github.com/foraging-rig/go-controller/internal/task"
)

// #region outcome
// Outcome is the RewardOutcome value reported by the hardware.
type Outcome string

const (
	OutcomeNoResponse  Outcome = "NoResponse"
	OutcomeRewardLeft  Outcome = "RewardLeft"
	OutcomeErrorLeft   Outcome = "ErrorLeft"
	OutcomeRewardRight Outcome = "RewardRight"
	OutcomeErrorRight  Outcome = "ErrorRight"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeNoResponse, OutcomeRewardLeft, OutcomeErrorLeft, OutcomeRewardRight, OutcomeErrorRight:
		return true
	}
	return false
}

// Choice maps the outcome to the animal response.
func (o Outcome) Choice() task.Choice {
	switch o {
	case OutcomeRewardLeft, OutcomeErrorLeft:
		return task.Left
	case OutcomeRewardRight, OutcomeErrorRight:
		return task.Right
	}
	return task.NoResponse
}

// Rewarded returns the per-port earned reward.
func (o Outcome) Rewarded() [2]bool {
	switch o {
	case OutcomeRewardLeft:
		return [2]bool{true, false}
	case OutcomeRewardRight:
		return [2]bool{false, true}
	}
	return [2]bool{}
}

// OutcomeFor builds the outcome for a choice and whether it paid.
func OutcomeFor(c task.Choice, rewarded bool) Outcome {
	switch {
	case c == task.Left && rewarded:
		return OutcomeRewardLeft
	case c == task.Left:
		return OutcomeErrorLeft
	case c == task.Right && rewarded:
		return OutcomeRewardRight
	case c == task.Right:
		return OutcomeErrorRight
	}
	return OutcomeNoResponse
}

// #endregion outcome

// #region timestamps
// Timestamps are the trial event times in seconds. The first group is on
// the bus clock; HW fields come from the hardware timestamp source.
type Timestamps struct {
	TrialStart     float64  `json:"trial_start"`
	DelayStart     *float64 `json:"delay_start,omitempty"`
	DelayRestarts  int      `json:"delay_restarts"`
	GoCue          float64  `json:"go_cue"`
	GoCueSoundCard float64  `json:"go_cue_sound_card"`
	RewardOutcome  float64  `json:"reward_outcome"`
	TrialEnd       float64  `json:"trial_end"`
	HWGoCue        float64  `json:"hw_go_cue"`
	HWTrialEnd     float64  `json:"hw_trial_end"`
	LocalStart     float64  `json:"local_start"`
	LocalEnd       float64  `json:"local_end"`
}

// Result is what response acquisition reports for one trial.
type Result struct {
	Outcome Outcome
	Times   Timestamps
}

// #endregion timestamps

// #region record
// Record is everything decided and observed for one trial.
type Record struct {
	Index           int         `json:"trial"`
	Config          task.Config `json:"config"`
	Warmup          bool        `json:"warmup"`
	RewardProb      [2]float64  `json:"reward_prob"`
	Bait            [2]bool     `json:"bait"`
	ResidualBait    [2]bool     `json:"residual_bait"`
	RandomNumber    [2]float64  `json:"random_number"`
	AutoWater       [2]bool     `json:"auto_water"`
	AutoWaterReason string      `json:"auto_water_reason,omitempty"`
	ITI             float64     `json:"iti"`
	Delay           float64     `json:"delay"`
	ResponseTime    float64     `json:"response_time"`
	BlockSwitched   [2]bool     `json:"block_switched"`
	BlockCount      [2]int      `json:"block_count"`
	BlockMessage    string      `json:"block_message,omitempty"`
	Opto            opto.Record `json:"opto"`

	Completed bool        `json:"completed"`
	Outcome   Outcome     `json:"outcome,omitempty"`
	Response  task.Choice `json:"animal_response"`
	Rewarded  [2]bool     `json:"rewarded"`
	Times     Timestamps  `json:"times"`
}

// Earned reports whether the trial paid out on the chosen port.
func (r Record) Earned() bool { return r.Rewarded[0] || r.Rewarded[1] }

// Effective returns the configuration the trial was generated with, with
// warmup overrides applied when warmup was active.
func (r Record) Effective() task.Config {
	if r.Warmup {
		return r.Config.WithWarmup()
	}
	return r.Config
}

// AnyAutoWater reports whether rescue water was scheduled on either port.
func (r Record) AnyAutoWater() bool { return r.AutoWater[0] || r.AutoWater[1] }

// #endregion record
