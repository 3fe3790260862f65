package bus

import (
	"math"

	"github.com/foraging-rig/go-controller/internal/opto"
	"github.com/foraging-rig/go-controller/internal/task"
	"github.com/foraging-rig/go-controller/internal/trial"
)

// ValveTimes are the valve open durations in seconds for an earned reward.
type ValveTimes struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

// triggerLines maps the opto start event to the DAQ line that arms the
// waveform engine.
var triggerLines = map[task.Event]string{
	task.EventTrialStart:    "/Dev1/PFI0",
	task.EventGoCue:         "/Dev1/PFI1",
	task.EventRewardOutcome: "/Dev1/PFI2",
}

// TriggerLine returns the DAQ line for an opto start event.
func TriggerLine(e task.Event) string { return triggerLines[e] }

// Micros converts seconds to whole microseconds.
func Micros(sec float64) int { return int(math.Round(sec * 1e6)) }

// TrialCommands encodes the command batch for one trial, in transmit order:
// bait, timing, valve times, opto waveforms and the start opcode.
func TrialCommands(rec *trial.Record, plan opto.Plan, v ValveTimes) []Message {
	cfg := rec.Effective()
	mult := cfg.AutoWater.Multiplier
	msgs := []Message{
		Msg(TagLeftBait, b2i(rec.Bait[0])),
		Msg(TagRightBait, b2i(rec.Bait[1])),
		Msg(TagRewardDelay, cfg.RewardDelay),
		Msg(TagITI, rec.ITI),
		Msg(TagDelayTime, rec.Delay),
		Msg(TagResponseTime, rec.ResponseTime),
		Msg(TagRewardConsumeTime, cfg.RewardConsumeTime),
		Msg(TagLeftValue, Micros(v.Left)),
		Msg(TagRightValue, Micros(v.Right)),
		Msg(TagLeftValue1, Micros(v.Left*mult)),
		Msg(TagRightValue1, Micros(v.Right*mult)),
	}
	start := StartNormal
	if plan.Active() {
		start = StartOpto
		r := plan.Record
		msgs = append(msgs,
			Msg(TagTriggerSource, TriggerLine(r.Start)),
			Msg(TagPassGoCue, b2i(r.Start == task.EventGoCue)),
			Msg(TagPassRewardOutcome, b2i(r.Start == task.EventRewardOutcome)),
		)
		for loc := 0; loc < 2; loc++ {
			msgs = append(msgs, Msg(LocationSizeTag(loc), r.Sizes[loc]))
		}
		for loc := 0; loc < 2; loc++ {
			if w := plan.Waveforms[loc]; w != nil {
				args := make([]any, len(w))
				for i, x := range w {
					args[i] = x
				}
				msgs = append(msgs, Message{Tag: WaveFormTag(r.Slot, loc), Args: args})
			}
		}
	}
	return append(msgs, Msg(TagStart, start))
}

// WaterCommand returns the dispense command for side. auto selects the
// auto-water valve time instead of the manual one.
func WaterCommand(side task.Choice, auto bool) Message {
	switch {
	case auto && side == task.Left:
		return Msg(TagAutoWaterLeft, 1)
	case auto:
		return Msg(TagAutoWaterRight, 1)
	case side == task.Left:
		return Msg(TagManualWaterLeft, 1)
	}
	return Msg(TagManualWaterRight, 1)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
