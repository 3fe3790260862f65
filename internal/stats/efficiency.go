package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/foraging-rig/go-controller/internal/task"
)

// #region trial
// Trial is the per-trial input to the statistics. Times are on the
// hardware clock in seconds.
type Trial struct {
	Prob         [2]float64
	RandomNumber [2]float64
	Bait         [2]bool
	Choice       task.Choice
	Rewarded     [2]bool
	AutoWater    [2]bool
	TrialStart   float64
	DelayStart   *float64
	GoCue        float64
	TrialEnd     float64
}

func (t Trial) earned() bool { return t.Rewarded[0] || t.Rewarded[1] }

func (t Trial) auto() bool { return t.AutoWater[0] || t.AutoWater[1] }

// #endregion trial

// #region p-star
// PStar is the reward rate of the ideal baiting agent that stays on the
// richer side m* times and then samples the poorer side once.
func PStar(pL, pR float64) float64 {
	pmax, pmin := math.Max(pL, pR), math.Min(pL, pR)
	if pmin <= 0 || pmax >= 1 {
		return pmax
	}
	m := optimalStay(pmax, pmin)
	return pmax + (1-math.Pow(1-pmin, m+1)-pmax*pmax)/(m+1)
}

// optimalStay is m* = floor(log(1-pmax)/log(1-pmin)).
func optimalStay(pmax, pmin float64) float64 {
	return math.Floor(math.Log(1-pmax) / math.Log(1-pmin))
}

// #endregion p-star

// #region efficiency
// Efficiency compares realized reward with an optimal agent. Trials with
// auto-water are excluded from both sides of the ratio.
type Efficiency struct {
	Optimal    float64 `json:"foraging_efficiency"`
	RandomSeed float64 `json:"foraging_efficiency_random_seed"`
}

// ForagingEfficiency computes both efficiency measures. RandomSeed replays
// an optimal agent on the recorded bait draws and is NaN when there are no
// draws to replay.
func ForagingEfficiency(trials []Trial, baiting bool) Efficiency {
	var reward, ideal []float64
	var kept []Trial
	for _, t := range trials {
		if t.auto() {
			continue
		}
		kept = append(kept, t)
		reward = append(reward, b2f(t.earned()))
		if baiting {
			ideal = append(ideal, PStar(t.Prob[0], t.Prob[1]))
		} else {
			ideal = append(ideal, math.Max(t.Prob[0], t.Prob[1]))
		}
	}
	if len(kept) == 0 {
		return Efficiency{Optimal: math.NaN(), RandomSeed: math.NaN()}
	}
	rate := stat.Mean(reward, nil)
	eff := Efficiency{Optimal: ratio(rate, stat.Mean(ideal, nil)), RandomSeed: math.NaN()}

	var replay []float64
	if baiting {
		replay = replayOptimalBaiting(kept)
	} else {
		replay = replayGreedy(kept)
	}
	if replay != nil {
		eff.RandomSeed = ratio(rate, stat.Mean(replay, nil))
	}
	return eff
}

// replayGreedy picks the richer side on every trial and collects whatever
// the recorded draw would have paid there.
func replayGreedy(trials []Trial) []float64 {
	out := make([]float64, len(trials))
	for i, t := range trials {
		s := 0
		if t.Prob[1] > t.Prob[0] {
			s = 1
		}
		out[i] = b2f(t.Prob[s] > t.RandomNumber[s])
	}
	return out
}

// replayOptimalBaiting runs the stay-m*-then-sample policy with bait
// carry-over on the recorded draws.
func replayOptimalBaiting(trials []Trial) []float64 {
	out := make([]float64, len(trials))
	var bait [2]bool
	stay := 0
	var prev [2]float64
	for i, t := range trials {
		if t.Prob != prev {
			stay = 0
			prev = t.Prob
		}
		for s := 0; s < 2; s++ {
			bait[s] = bait[s] || t.Prob[s] > t.RandomNumber[s]
		}
		high, low := 0, 1
		if t.Prob[1] > t.Prob[0] {
			high, low = 1, 0
		}
		choice := high
		pmax, pmin := t.Prob[high], t.Prob[low]
		if pmin > 0 && pmax < 1 && float64(stay) >= optimalStay(pmax, pmin) {
			choice = low
			stay = 0
		} else {
			stay++
		}
		if bait[choice] {
			out[i] = 1
			bait[choice] = false
		}
	}
	return out
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return math.NaN()
	}
	return a / b
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// #endregion efficiency
