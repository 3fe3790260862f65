package stats

import (
	"math"
	"sort"

	"github.com/foraging-rig/go-controller/internal/task"
)

// LickIntervalThreshold separates bursts from isolated licks, in seconds.
const LickIntervalThreshold = 0.1

// responseWindow is the post go-cue window, in seconds.
const responseWindow = 1.0

var negInf, posInf = math.Inf(-1), math.Inf(1)

// #region licks
// Licks holds hardware-clock lick times per port.
type Licks struct {
	Left  []float64 `json:"left"`
	Right []float64 `json:"right"`
}

// Add inserts a lick keeping each side sorted.
func (l *Licks) Add(side task.Choice, at float64) {
	switch side {
	case task.Left:
		l.Left = insertSorted(l.Left, at)
	case task.Right:
		l.Right = insertSorted(l.Right, at)
	}
}

func insertSorted(xs []float64, v float64) []float64 {
	i := sort.SearchFloat64s(xs, v)
	xs = append(xs, 0)
	copy(xs[i+1:], xs[i:])
	xs[i] = v
	return xs
}

type lick struct {
	at   float64
	side task.Choice
}

// merged returns licks in [from, to) ordered by time.
func (l Licks) merged(from, to float64) []lick {
	var out []lick
	for _, side := range task.Sides {
		xs := l.Left
		if side == task.Right {
			xs = l.Right
		}
		lo := sort.SearchFloat64s(xs, from)
		hi := sort.SearchFloat64s(xs, to)
		for _, v := range xs[lo:hi] {
			out = append(out, lick{at: v, side: side})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at < out[j].at })
	return out
}

// #endregion licks

// #region partition
// Interval names one region of a trial.
type Interval int

const (
	BeforeDelay Interval = iota // trial start to delay start
	Delay                       // delay start to go cue
	Response                    // go cue to go cue + 1 s
	Consume                     // go cue + 1 s to next trial start
	numIntervals
)

var intervalNames = [numIntervals]string{"before_delay", "delay", "response", "consume"}

func (i Interval) String() string { return intervalNames[i] }

// bounds returns the interval edges of trial i. next is the next trial
// start, or the trial end for the latest trial.
func bounds(t Trial, next float64) [numIntervals + 1]float64 {
	delay := t.TrialStart
	if t.DelayStart != nil {
		delay = *t.DelayStart
	}
	resp := t.GoCue + responseWindow
	if resp > next {
		resp = next
	}
	return [numIntervals + 1]float64{t.TrialStart, delay, t.GoCue, resp, next}
}

// LickStats summarizes lick behavior over the session.
type LickStats struct {
	EarlyLickingRate float64            `json:"early_licking_rate"`
	DoubleDipping    map[string]float64 `json:"double_dipping_rate"`
	DoubleDipCounts  map[string]int     `json:"double_dipping_count"`
	Intervals        LickIntervals      `json:"lick_intervals"`
	PerTrial         []TrialLicks       `json:"-"`
}

// TrialLicks is the lick partition of one trial.
type TrialLicks struct {
	Early    bool
	Counts   [numIntervals]int
	Switches [numIntervals]int
}

// PartitionLicks assigns licks to the intervals of every trial and
// counts port switches (double dipping) inside each interval.
func PartitionLicks(trials []Trial, licks Licks) LickStats {
	st := LickStats{
		DoubleDipping:   map[string]float64{},
		DoubleDipCounts: map[string]int{},
		Intervals:       IntervalPercentages(licks),
	}
	if len(trials) == 0 {
		return st
	}
	var early int
	var dipped [numIntervals]int
	for i, t := range trials {
		next := t.TrialEnd
		if i+1 < len(trials) {
			next = trials[i+1].TrialStart
		}
		edges := bounds(t, next)
		var tl TrialLicks
		for k := Interval(0); k < numIntervals; k++ {
			seq := licks.merged(edges[k], edges[k+1])
			tl.Counts[k] = len(seq)
			tl.Switches[k] = switches(seq)
			if tl.Switches[k] > 0 {
				dipped[k]++
			}
			st.DoubleDipCounts[k.String()] += tl.Switches[k]
		}
		tl.Early = len(licks.merged(t.TrialStart, t.GoCue)) > 0
		if tl.Early {
			early++
		}
		st.PerTrial = append(st.PerTrial, tl)
	}
	n := float64(len(trials))
	st.EarlyLickingRate = float64(early) / n
	for k := Interval(0); k < numIntervals; k++ {
		st.DoubleDipping[k.String()] = float64(dipped[k]) / n
	}
	return st
}

// switches counts side changes in a time-ordered lick sequence.
func switches(seq []lick) int {
	n := 0
	for i := 1; i < len(seq); i++ {
		if seq[i].side != seq[i-1].side {
			n++
		}
	}
	return n
}

// #endregion partition

// #region intervals
// LickIntervals are percentages of inter-lick intervals shorter than
// LickIntervalThreshold.
type LickIntervals struct {
	SameLeft  float64 `json:"same_side_left_pct"`
	SameRight float64 `json:"same_side_right_pct"`
	Cross     float64 `json:"cross_side_pct"`
}

// IntervalPercentages computes short-interval percentages from the sorted
// lick train. Cross-side intervals are those between consecutive licks on
// different ports.
func IntervalPercentages(l Licks) LickIntervals {
	var out LickIntervals
	out.SameLeft = shortPct(diffs(l.Left))
	out.SameRight = shortPct(diffs(l.Right))

	seq := l.merged(negInf, posInf)
	var cross []float64
	for i := 1; i < len(seq); i++ {
		if seq[i].side != seq[i-1].side {
			cross = append(cross, seq[i].at-seq[i-1].at)
		}
	}
	out.Cross = shortPct(cross)
	return out
}

func diffs(xs []float64) []float64 {
	if len(xs) < 2 {
		return nil
	}
	out := make([]float64, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		out[i-1] = xs[i] - xs[i-1]
	}
	return out
}

func shortPct(ds []float64) float64 {
	if len(ds) == 0 {
		return 0
	}
	n := 0
	for _, d := range ds {
		if d < LickIntervalThreshold {
			n++
		}
	}
	return 100 * float64(n) / float64(len(ds))
}

// #endregion intervals
