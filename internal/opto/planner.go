package opto

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/foraging-rig/go-controller/internal/task"
)

// #region types
// Record is the per-trial opto summary kept in trial history.
type Record struct {
	LaserOn             bool          `json:"laser_on"`
	Condition           int           `json:"selected_condition"` // 1..6, 0 for control
	Color               string        `json:"color,omitempty"`
	Location            task.Location `json:"location,omitempty"`
	Amplitude           [2]float64    `json:"laser_amplitude"`
	Duration            float64       `json:"laser_duration"`
	Protocol            task.Protocol `json:"protocol,omitempty"`
	Frequency           float64       `json:"frequency,omitempty"`
	Start               task.Event    `json:"start,omitempty"`
	End                 task.Event    `json:"end,omitempty"`
	SessionControlState int           `json:"session_control_state"`
	Sizes               [2]int        `json:"location_sizes"`
	Slot                int           `json:"waveform_slot,omitempty"`
	Error               bool          `json:"opto_error"`
	ErrorText           string        `json:"opto_error_text,omitempty"`
}

// Plan is the planner output for one trial.
type Plan struct {
	Record    Record
	Waveforms [2][]float64 // per location, nil when that location is off
}

// Active reports whether the plan stimulates on any location.
func (p Plan) Active() bool { return p.Record.LaserOn }

// Calibrator converts a requested laser power to a drive voltage.
type Calibrator interface {
	Voltage(color string, protocol task.Protocol, frequency, powerMW float64) (float64, bool)
}

// #endregion types

// #region planner
// Planner selects the opto condition for each trial and renders its waveforms.
type Planner struct {
	rng    *rand.Rand
	cal    Calibrator
	lastOn int
	slot   int
}

// NewPlanner returns a planner. cal may be nil, in which case channel
// amplitudes are used as volts directly.
func NewPlanner(rng *rand.Rand, cal Calibrator) *Planner {
	return &Planner{rng: rng, cal: cal, lastOn: -1, slot: 2}
}

// Plan selects a condition for trial and synthesizes its waveforms.
// iti and responseTime feed event-anchored durations. A channel
// configuration problem yields a control plan marked with Error together
// with the *task.ConfigError that caused it.
func (p *Planner) Plan(cfg task.Config, trial int, iti, responseTime float64) (Plan, error) {
	state := SessionControlState(cfg.Opto.SessionControl, cfg.Stop.MaxTrial, trial)
	plan := Plan{Record: Record{SessionControlState: state}}
	if !cfg.Opto.Enabled {
		return plan, nil
	}

	cond := p.selectCondition(cfg.Opto)
	if cond > 0 && cfg.Opto.SessionControl.Enabled && state == 0 {
		cond = 0
	}
	if cond > 0 && p.lastOn >= 0 && trial-p.lastOn < cfg.Opto.MinOptoInterval {
		cond = 0
	}
	if cond == 0 {
		return plan, nil
	}

	ch := cfg.Opto.Channels[cond-1]
	path := fmt.Sprintf("opto.channels[%d]", cond-1)
	rec, waves, err := p.render(cfg.Opto, ch, path, iti, responseTime)
	if err != nil {
		plan.Record.Error = true
		plan.Record.ErrorText = err.Error()
		return plan, err
	}
	rec.SessionControlState = state
	rec.Condition = cond
	rec.LaserOn = true
	if p.slot == 1 {
		p.slot = 2
	} else {
		p.slot = 1
	}
	rec.Slot = p.slot
	p.lastOn = trial
	return Plan{Record: rec, Waveforms: waves}, nil
}

// selectCondition draws a channel from the cumulative probabilities of
// enabled channels. It returns 1..6, or 0 for control.
func (p *Planner) selectCondition(o task.Opto) int {
	u := p.rng.Float64()
	cum := 0.0
	for i, ch := range o.Channels {
		if !ch.Enabled {
			continue
		}
		cum += ch.Probability
		if u <= cum {
			if cp := ch.ConditionProbability; cp > 0 && cp < 1 && p.rng.Float64() >= cp {
				return 0
			}
			return i + 1
		}
	}
	return 0
}

func (p *Planner) render(o task.Opto, ch task.Channel, path string, iti, responseTime float64) (Record, [2][]float64, error) {
	var waves [2][]float64
	dur, err := Duration(ch, path, iti, responseTime)
	if err != nil {
		return Record{}, waves, err
	}
	var on [2]bool
	switch ch.Location {
	case task.LocationLeft:
		on[0] = true
	case task.LocationRight:
		on[1] = true
	case task.LocationBoth:
		on = [2]bool{true, true}
	default:
		return Record{}, waves, task.Errorf(path+".location", task.ErrUnknown, "%q", ch.Location)
	}

	amp := ch.Amplitude
	if p.cal != nil && ch.Power > 0 {
		if v, ok := p.cal.Voltage(ch.Color, ch.Protocol, ch.Frequency, ch.Power); ok {
			amp = v
		}
	}
	rec := Record{
		Color:     ch.Color,
		Location:  ch.Location,
		Duration:  dur,
		Protocol:  ch.Protocol,
		Frequency: ch.Frequency,
		Start:     ch.Start,
		End:       ch.End,
	}
	for loc := 0; loc < 2; loc++ {
		if !on[loc] {
			continue
		}
		w, err := Synthesize(WaveSpec{
			Protocol:        ch.Protocol,
			Amplitude:       amp,
			Frequency:       ch.Frequency,
			Duration:        dur,
			RampDown:        ch.RampDown,
			PulseDur:        ch.PulseDur,
			OffsetStart:     ch.OffsetStart,
			SampleFrequency: o.SampleFrequency,
		}, path)
		if err != nil {
			return Record{}, [2][]float64{}, err
		}
		waves[loc] = w
		rec.Amplitude[loc] = amp
		rec.Sizes[loc] = len(w)
	}
	return rec, waves, nil
}

// #endregion planner

// #region duration
// Duration derives the stimulation length from the channel's event pair.
func Duration(ch task.Channel, path string, iti, responseTime float64) (float64, error) {
	var d float64
	switch {
	case ch.End == task.EventNA || ch.End == "":
		switch ch.Start {
		case task.EventTrialStart, task.EventGoCue, task.EventRewardOutcome:
			d = ch.Duration
		default:
			return 0, task.Errorf(path+".start", task.ErrUnknown, "%q", ch.Start)
		}
	case ch.Start == task.EventTrialStart && ch.End == task.EventGoCue:
		d = iti - ch.OffsetStart + ch.OffsetEnd
	case ch.Start == task.EventGoCue && ch.End == task.EventTrialStart:
		d = responseTime - ch.OffsetStart + ch.OffsetEnd
	default:
		return 0, task.Errorf(path+".end", task.ErrIncompatible, "%q to %q", ch.Start, ch.End)
	}
	if ch.Start == task.EventTrialStart && ch.OffsetStart < 0 {
		return 0, task.Errorf(path+".offset_start", task.ErrOutOfRange, "%v < 0 with trial start alignment", ch.OffsetStart)
	}
	if d <= 0 {
		return 0, task.Errorf(path+".duration", task.ErrOutOfRange, "derived duration %v <= 0", d)
	}
	return d, nil
}

// #endregion duration

// #region session-control
// SessionControlState returns 1 when opto is allowed on trial under
// session-wide control, 0 when the trial is forced to control. Trials are
// split into runs of maxTrial*Fraction that alternate starting from StartWith.
func SessionControlState(sc task.SessionControl, maxTrial, trial int) int {
	if !sc.Enabled {
		return 1
	}
	start := 0
	if sc.StartWith != 0 {
		start = 1
	}
	run := int(float64(maxTrial) * sc.Fraction)
	if run <= 0 {
		return start
	}
	if (trial/run)%2 == 0 {
		return start
	}
	return 1 - start
}

// #endregion session-control

// IsConfigError reports whether err is a recoverable channel problem.
func IsConfigError(err error) bool {
	var ce *task.ConfigError
	return errors.As(err, &ce)
}
