package trial

import (
	"github.com/foraging-rig/go-controller/internal/policy"
	"github.com/foraging-rig/go-controller/internal/stats"
	"github.com/foraging-rig/go-controller/internal/task"
)

// #region history
// History is the ordered sequence of committed trial records. Per-field
// histories are projections of it.
type History struct {
	records []Record
}

// NewHistory wraps already committed records, for replay.
func NewHistory(records []Record) *History {
	return &History{records: append([]Record(nil), records...)}
}

func (h *History) Len() int { return len(h.records) }

// Records returns a copy of the committed records.
func (h *History) Records() []Record { return append([]Record(nil), h.records...) }

// Last returns the latest committed record.
func (h *History) Last() (Record, bool) {
	if len(h.records) == 0 {
		return Record{}, false
	}
	return h.records[len(h.records)-1], true
}

func (h *History) append(r Record) { h.records = append(h.records, r) }

// #endregion history

// #region projections
func (h *History) RewardProb() [2][]float64 {
	var out [2][]float64
	for _, r := range h.records {
		for s := 0; s < 2; s++ {
			out[s] = append(out[s], r.RewardProb[s])
		}
	}
	return out
}

func (h *History) Bait() [2][]bool {
	return h.sided(func(r Record) [2]bool { return r.Bait })
}

func (h *History) Rewarded() [2][]bool {
	return h.sided(func(r Record) [2]bool { return r.Rewarded })
}

func (h *History) AutoWater() [2][]bool {
	return h.sided(func(r Record) [2]bool { return r.AutoWater })
}

func (h *History) sided(f func(Record) [2]bool) [2][]bool {
	var out [2][]bool
	for _, r := range h.records {
		v := f(r)
		out[0] = append(out[0], v[0])
		out[1] = append(out[1], v[1])
	}
	return out
}

func (h *History) Responses() []task.Choice {
	out := make([]task.Choice, len(h.records))
	for i, r := range h.records {
		out[i] = r.Response
	}
	return out
}

// Timing returns the ITI, delay and response-time histories.
func (h *History) Timing() (iti, delay, response []float64) {
	for _, r := range h.records {
		iti = append(iti, r.ITI)
		delay = append(delay, r.Delay)
		response = append(response, r.ResponseTime)
	}
	return iti, delay, response
}

// Policy returns the view read by the auto-water and auto-stop rules.
func (h *History) Policy() policy.History {
	ph := policy.History{
		Responses: h.Responses(),
		Rewarded:  make([]bool, len(h.records)),
		AutoWater: make([]bool, len(h.records)),
	}
	for i, r := range h.records {
		ph.Rewarded[i] = r.Earned()
		ph.AutoWater[i] = r.AnyAutoWater()
	}
	return ph
}

// StatsTrial converts a record to the statistics input.
func StatsTrial(r Record) stats.Trial {
	return stats.Trial{
		Prob:         r.RewardProb,
		RandomNumber: r.RandomNumber,
		Bait:         r.Bait,
		Choice:       r.Response,
		Rewarded:     r.Rewarded,
		AutoWater:    r.AutoWater,
		TrialStart:   r.Times.TrialStart,
		DelayStart:   r.Times.DelayStart,
		GoCue:        r.Times.GoCue,
		TrialEnd:     r.Times.TrialEnd,
	}
}

// #endregion projections
