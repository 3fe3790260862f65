package stats

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foraging-rig/go-controller/internal/task"
)

func TestPStarEdgeCases(t *testing.T) {
	require.Equal(t, 0.5, PStar(0.5, 0))
	require.Equal(t, 1.0, PStar(0.2, 1))
	require.InDelta(t, PStar(0.1, 0.7), PStar(0.7, 0.1), 1e-15)
}

func TestPStarMatchesSimulatedOptimalAgent(t *testing.T) {
	m := optimalStay(0.7, 0.1)
	require.Equal(t, 11.0, m)
	want := 0.7 + (1-math.Pow(0.9, 12)-0.49)/12
	ps := PStar(0.7, 0.1)
	require.InDelta(t, want, ps, 1e-12)

	rng := rand.New(rand.NewSource(0))
	trials := make([]Trial, 40000)
	for i := range trials {
		trials[i] = Trial{Prob: [2]float64{0.7, 0.1}, RandomNumber: [2]float64{rng.Float64(), rng.Float64()}}
	}
	sim := replayOptimalBaiting(trials)
	rate := 0.0
	for _, r := range sim {
		rate += r
	}
	rate /= float64(len(sim))
	require.InEpsilon(t, ps, rate, 0.05)

	// a block of 40 trials at reward rate 0.4
	block := make([]Trial, 40)
	for i := range block {
		block[i] = Trial{Prob: [2]float64{0.7, 0.1}, Choice: task.Left, Rewarded: [2]bool{i%5 < 2, false}}
	}
	eff := ForagingEfficiency(block, true)
	require.InDelta(t, 0.4/ps, eff.Optimal, 1e-12)
}

func TestEfficiencyNoBaiting(t *testing.T) {
	trials := []Trial{
		{Prob: [2]float64{0.8, 0.2}, RandomNumber: [2]float64{0.5, 0.5}, Choice: task.Left, Rewarded: [2]bool{true, false}},
		{Prob: [2]float64{0.8, 0.2}, RandomNumber: [2]float64{0.9, 0.1}, Choice: task.Right, Rewarded: [2]bool{false, true}},
		{Prob: [2]float64{0.2, 0.8}, RandomNumber: [2]float64{0.3, 0.3}, Choice: task.NoResponse},
		{Prob: [2]float64{0.2, 0.8}, RandomNumber: [2]float64{0.3, 0.3}, Choice: task.Right, AutoWater: [2]bool{true, true}},
	}
	eff := ForagingEfficiency(trials, false)
	// auto-water trial excluded: rate 2/3 over max p 0.8
	require.InDelta(t, (2.0/3)/0.8, eff.Optimal, 1e-12)
	// greedy replay collects the first and third kept trials
	require.InDelta(t, (2.0/3)/(2.0/3), eff.RandomSeed, 1e-12)
}

func TestEfficiencyEmpty(t *testing.T) {
	eff := ForagingEfficiency(nil, true)
	require.True(t, math.IsNaN(eff.Optimal))
}

func TestPartitionLicks(t *testing.T) {
	d0 := 2.0
	trials := []Trial{
		{TrialStart: 0, DelayStart: &d0, GoCue: 3, TrialEnd: 6},
		{TrialStart: 10, GoCue: 12, TrialEnd: 15},
	}
	var l Licks
	for _, x := range []float64{1.0, 3.2, 3.5} {
		l.Add(task.Left, x)
	}
	for _, x := range []float64{3.3, 4.5, 11.0} {
		l.Add(task.Right, x)
	}
	st := PartitionLicks(trials, l)

	require.Equal(t, 1.0, st.EarlyLickingRate, "both trials lick before go cue")
	first := st.PerTrial[0]
	require.Equal(t, [4]int{1, 0, 3, 1}, first.Counts)
	require.Equal(t, 2, first.Switches[Response], "L R L in the response window")
	require.Equal(t, 0.5, st.DoubleDipping["response"])
	require.Equal(t, 2, st.DoubleDipCounts["response"])
	require.Equal(t, 1, st.PerTrial[1].Counts[Delay])
}

func TestIntervalPercentages(t *testing.T) {
	l := Licks{
		Left:  []float64{0, 0.05, 0.5, 0.55},
		Right: []float64{0.58, 2.0},
	}
	iv := IntervalPercentages(l)
	require.InDelta(t, 100*2.0/3, iv.SameLeft, 1e-9)
	require.InDelta(t, 0, iv.SameRight, 1e-9)
	require.InDelta(t, 100, iv.Cross, 1e-9)
}

func TestFitBiasDetectsRightBias(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	n := 600
	choices := make([]task.Choice, n)
	rewarded := make([]bool, n)
	for i := range choices {
		if rng.Float64() < 0.9 {
			choices[i] = task.Right
		} else {
			choices[i] = task.Left
		}
		rewarded[i] = rng.Float64() < 0.4
	}
	b, err := FitBias(choices, rewarded, DefaultBiasConfig(), rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	require.Greater(t, b.Value, 1.0)
	require.Greater(t, b.CILow, 0.0)
	require.True(t, b.Flagged)
}

func TestFitBiasBalanced(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	n := 600
	choices := make([]task.Choice, n)
	rewarded := make([]bool, n)
	for i := range choices {
		choices[i] = task.Choice(rng.Intn(2))
		rewarded[i] = rng.Float64() < 0.4
	}
	b, err := FitBias(choices, rewarded, DefaultBiasConfig(), rand.New(rand.NewSource(4)))
	require.NoError(t, err)
	require.Less(t, math.Abs(b.Value), 0.5)
	require.False(t, b.Flagged)
}

func TestFitBiasTooFewTrials(t *testing.T) {
	_, err := FitBias([]task.Choice{task.Left, task.Right}, []bool{true, false}, DefaultBiasConfig(), nil)
	require.ErrorIs(t, err, ErrTooFewTrials)
}

func TestTrackerReplayIsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	var trials []Trial
	for i := 0; i < 100; i++ {
		c := task.Choice(rng.Intn(3))
		tr := Trial{
			Prob:         [2]float64{0.4, 0.1},
			RandomNumber: [2]float64{rng.Float64(), rng.Float64()},
			Choice:       c,
			TrialStart:   float64(i) * 5,
			GoCue:        float64(i)*5 + 2,
			TrialEnd:     float64(i)*5 + 4,
		}
		if c != task.NoResponse && rng.Float64() < 0.5 {
			tr.Rewarded[c] = true
		}
		trials = append(trials, tr)
	}
	a, b := NewTracker(true), NewTracker(true)
	for _, tr := range trials {
		a.Add(tr)
		b.Add(tr)
	}
	require.Equal(t, a.Summary(), b.Summary())
	require.Equal(t, 100, a.Summary().Trials)

	fin, ratio, _ := a.Window(20)
	require.LessOrEqual(t, fin, 20)
	require.InDelta(t, float64(fin)/20, ratio, 1e-12)
}

func TestSummaryJSONHandlesNaN(t *testing.T) {
	empty := NewTracker(true).Summary()
	require.True(t, math.IsNaN(empty.FinishRatio))

	b, err := json.Marshal(empty)
	require.NoError(t, err)
	require.Contains(t, string(b), `"finish_ratio":null`)
	require.Contains(t, string(b), `"foraging_efficiency":null`)

	var back Summary
	require.NoError(t, json.Unmarshal(b, &back))
	require.True(t, math.IsNaN(back.FinishRatio))
	require.True(t, math.IsNaN(back.Efficiency.Optimal))
	require.Equal(t, 0, back.Trials)

	tr := NewTracker(false)
	tr.Add(Trial{Prob: [2]float64{0.8, 0.2}, RandomNumber: [2]float64{0.5, 0.5}, Choice: task.Left, Rewarded: [2]bool{true, false}})
	full := tr.Summary()
	b, err = json.Marshal(full)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, 1.0, back.FinishRatio)
	require.InDelta(t, full.Efficiency.Optimal, back.Efficiency.Optimal, 1e-12)
}
