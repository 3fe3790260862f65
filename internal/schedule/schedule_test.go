package schedule

import (
	"math"
	"math/rand"
	"testing"

	"github.com/foraging-rig/go-controller/internal/task"
)

func coupledConfig() task.Config {
	cfg := task.DefaultConfig()
	cfg.Task = task.CoupledNoBaiting
	cfg.RewardFamily = 2
	cfg.RewardPairsN = 2
	cfg.BaseRewardSum = 0.6
	cfg.Block = task.BlockParams{Min: 2, Max: 4, Beta: 1, MinReward: 0}
	return cfg
}

func choicesOf(s string) []task.Choice {
	out := make([]task.Choice, len(s))
	for i, r := range s {
		switch r {
		case 'L':
			out[i] = task.Left
		case 'R':
			out[i] = task.Right
		default:
			out[i] = task.NoResponse
		}
	}
	return out
}

// run drives sched for the given choices and returns every step.
func run(sched Schedule, cfg task.Config, choices []task.Choice, rewarded func(int) bool) []Step {
	steps := make([]Step, 0, len(choices))
	var last *Outcome
	for i, c := range choices {
		steps = append(steps, sched.NextTrial(cfg, last))
		last = &Outcome{Choice: c, Rewarded: c != task.NoResponse && rewarded(i)}
	}
	return steps
}

func always(int) bool { return true }

func sum(xs []int) int {
	n := 0
	for _, x := range xs {
		n += x
	}
	return n
}

// #region coupled
func TestCoupledScenarioSixTrials(t *testing.T) {
	cfg := coupledConfig()
	allowed := [][2]float64{{0.6 * 8 / 9, 0.6 / 9}, {0.6 / 9, 0.6 * 8 / 9}, {0.3, 0.3}}

	mirror := rand.New(rand.NewSource(0))
	mirror.Intn(len(allowed))
	firstLen := BlockLength(mirror, cfg.Randomness, cfg.Block)

	steps := run(NewCoupled(rand.New(rand.NewSource(0))), cfg, choicesOf("LRLLRR"), always)

	firstSwitch := -1
	for i, st := range steps {
		ok := false
		for _, p := range allowed {
			if samePair(st.Prob, p) {
				ok = true
			}
		}
		if !ok {
			t.Fatalf("trial %d: pair %v not in family pool", i, st.Prob)
		}
		if math.Abs(st.Prob[0]+st.Prob[1]-0.6) > 1e-9 {
			t.Fatalf("trial %d: sum %v != 0.6", i, st.Prob[0]+st.Prob[1])
		}
		if i > 0 && firstSwitch < 0 && !samePair(st.Prob, steps[i-1].Prob) {
			firstSwitch = i
		}
	}
	if firstSwitch != firstLen {
		t.Fatalf("expected first transition at trial %d, got %d", firstLen, firstSwitch)
	}
}

func TestCoupledOppositeIdentity(t *testing.T) {
	cfg := coupledConfig()
	rng := rand.New(rand.NewSource(7))
	choices := make([]task.Choice, 400)
	for i := range choices {
		choices[i] = task.Choice(rng.Intn(3))
	}
	steps := run(NewCoupled(rand.New(rand.NewSource(3))), cfg, choices, always)
	for i := 1; i < len(steps); i++ {
		prev, cur := identity(steps[i-1].Prob), identity(steps[i].Prob)
		if samePair(steps[i-1].Prob, steps[i].Prob) {
			continue
		}
		if prev != 0 && cur == prev {
			t.Fatalf("trial %d: identity %d repeated after a strict block", i, cur)
		}
	}
}

func TestCoupledBlockLengthsMatchHistory(t *testing.T) {
	cfg := task.DefaultConfig()
	cfg.Block = task.BlockParams{Min: 5, Max: 15, Beta: 5, MinReward: 1}
	rng := rand.New(rand.NewSource(11))
	choices := make([]task.Choice, 300)
	for i := range choices {
		choices[i] = task.Choice(rng.Intn(2))
	}
	sched := NewCoupled(rand.New(rand.NewSource(1)))
	steps := run(sched, cfg, choices, func(i int) bool { return i%3 == 0 })

	lengths := sched.BlockLengths()
	for s := 0; s < 2; s++ {
		if got := sum(lengths[s]); got != len(steps) {
			t.Fatalf("side %d: block lengths sum to %d, want %d", s, got, len(steps))
		}
		start := 0
		for b, n := range lengths[s] {
			for i := start; i < start+n; i++ {
				if steps[i].Prob[s] != steps[start].Prob[s] {
					t.Fatalf("side %d block %d: probability changed inside block at trial %d", s, b, i)
				}
			}
			start += n
		}
	}
	for i, st := range steps {
		if math.Abs(st.Prob[0]+st.Prob[1]-cfg.BaseRewardSum) > 1e-9 {
			t.Fatalf("trial %d: coupled sum %v", i, st.Prob[0]+st.Prob[1])
		}
	}
}

func TestMinRewardHoldsBlockForever(t *testing.T) {
	cfg := coupledConfig()
	cfg.Block.MinReward = 1000
	sched := NewCoupled(rand.New(rand.NewSource(0)))
	choices := make([]task.Choice, 200)
	run(sched, cfg, choices, always)

	lengths := sched.BlockLengths()
	if len(lengths[0]) != 1 || lengths[0][0] != 200 {
		t.Fatalf("expected a single 200-trial block, got %v", lengths[0])
	}
}

func TestHoldAndNextBlock(t *testing.T) {
	cfg := coupledConfig()
	sched := NewCoupled(rand.New(rand.NewSource(0)))
	sched.NextTrial(cfg, nil)

	held := cfg
	held.HoldBlock = true
	for i := 0; i < 20; i++ {
		sched.NextTrial(held, &Outcome{Choice: task.Left, Rewarded: true})
	}
	if n := len(sched.BlockLengths()[0]); n != 1 {
		t.Fatalf("expected hold to keep one block, got %d", n)
	}

	forced := cfg
	forced.Block.MinReward = 1000
	forced.NextBlock = true
	st := sched.NextTrial(forced, &Outcome{Choice: task.Left})
	if !st.Switched[0] && !st.Switched[1] {
		t.Fatal("expected manual next block to switch")
	}
	if got := sched.BlockLengths()[0]; len(got) != 2 || got[0] != 21 || got[1] != 1 {
		t.Fatalf("unexpected block lengths after manual switch: %v", got)
	}
}

func TestExtendBlockDelaysTransition(t *testing.T) {
	cfg := coupledConfig()
	cfg.Block = task.BlockParams{Min: 5, Max: 5, MinReward: 0}
	cfg.Randomness = task.Even
	sched := NewCoupled(rand.New(rand.NewSource(0)))
	last := (*Outcome)(nil)
	for i := 0; i < 5; i++ {
		sched.NextTrial(cfg, last)
		last = &Outcome{Choice: task.NoResponse}
		if i == 2 {
			sched.ExtendBlock(1)
		}
	}
	if st := sched.NextTrial(cfg, last); st.Switched[0] || st.Switched[1] {
		t.Fatal("extended block switched at its original end")
	}
	if st := sched.NextTrial(cfg, last); !st.Switched[0] && !st.Switched[1] {
		t.Fatal("expected switch one trial after the original end")
	}
}

// #endregion coupled

// #region reward-n
func TestRewardNInactiveUntilConsecutive(t *testing.T) {
	cfg := coupledConfig()
	cfg.Task = task.RewardN
	cfg.RewardFamily = 1
	cfg.RewardPairsN = 1
	cfg.InitiallyInactiveN = 2
	cfg.Block = task.BlockParams{Min: 100, Max: 100, MinReward: 0}

	sched := NewCoupled(rand.New(rand.NewSource(0)))
	st := sched.NextTrial(cfg, nil)
	high := task.Left
	if st.Prob[1] > st.Prob[0] {
		high = task.Right
	}
	if !sched.Inactive(high) || sched.Inactive(high.Other()) {
		t.Fatal("expected only the high side to start inactive")
	}
	sched.NextTrial(cfg, &Outcome{Choice: high})
	if !sched.Inactive(high) {
		t.Fatal("one choice must not activate the high side")
	}
	sched.NextTrial(cfg, &Outcome{Choice: high.Other()})
	sched.NextTrial(cfg, &Outcome{Choice: high})
	if !sched.Inactive(high) {
		t.Fatal("choosing the other side must reset the count")
	}
	sched.NextTrial(cfg, &Outcome{Choice: high})
	if sched.Inactive(high) {
		t.Fatal("expected high side active after two consecutive choices")
	}
	sched.NextTrial(cfg, &Outcome{Choice: high.Other()})
	if sched.Inactive(high) {
		t.Fatal("activation must latch for the rest of the block")
	}
}

// #endregion reward-n

// #region auto-block
func TestAutoBlockPermits(t *testing.T) {
	now := task.AutoBlock{Mode: task.AutoBlockNow, SwitchThr: 0.5, PointsInARow: 3, RunLength: 4}
	once := now
	once.Mode = task.AutoBlockOnce
	rightHigh := [2]float64{0.1, 0.7}

	tests := []struct {
		name    string
		cfg     task.AutoBlock
		choices string
		probs   [2]float64
		want    bool
	}{
		{"off always permits", task.AutoBlock{Mode: task.AutoBlockOff}, "LLLL", rightHigh, true},
		{"equal probabilities permit", now, "LLLL", [2]float64{0.3, 0.3}, true},
		{"now satisfied by trailing run", now, "LLRRRRR", rightHigh, true},
		{"now broken by last trial", now, "RRRRRLL", rightHigh, false},
		{"once remembers an earlier run", once, "RRRRRLLLL", rightHigh, true},
		{"once never satisfied", once, "LLLLLLL", rightHigh, false},
		{"left high band", now, "LLLL", [2]float64{0.7, 0.1}, true},
		{"ignores do not count as responses", now, "III", rightHigh, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := AutoBlockPermits(tc.cfg, choicesOf(tc.choices), tc.probs); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

// #endregion auto-block

// #region uncoupled
func uncoupledConfig() task.Config {
	cfg := task.DefaultConfig()
	cfg.Task = task.UncoupledNoBaiting
	cfg.UncoupledRewardPool = []float64{0.1, 0.5, 0.9}
	cfg.Block = task.BlockParams{Min: 20, Max: 35, MinReward: 0}
	return cfg
}

func TestUncoupledScenario(t *testing.T) {
	cfg := uncoupledConfig()
	rng := rand.New(rand.NewSource(0))
	choices := make([]task.Choice, 200)
	for i := range choices {
		choices[i] = task.Choice(rng.Intn(3))
	}
	sched := NewUncoupled(rand.New(rand.NewSource(0)))
	steps := run(sched, cfg, choices, func(int) bool { return rng.Float64() < 0.5 })

	// (a) higher-in-a-row over effective blocks
	var runs [2]int
	for i, st := range steps {
		if i > 0 && st.Prob == steps[i-1].Prob {
			continue
		}
		switch {
		case st.Prob[0] > st.Prob[1]:
			runs[0]++
			runs[1] = 0
		case st.Prob[1] > st.Prob[0]:
			runs[1]++
			runs[0] = 0
		}
		for s := 0; s < 2; s++ {
			if runs[s] > cfg.Uncoupled.MaxBlockTally {
				t.Fatalf("trial %d: side %d higher for %d effective blocks", i, s, runs[s])
			}
		}
	}

	// (b) never both at the minimum, and distinct
	for i, st := range steps {
		if st.Prob[0] == st.Prob[1] {
			t.Fatalf("trial %d: both sides at %v", i, st.Prob[0])
		}
	}

	// (c) desynchronized block ends
	lengths := sched.BlockLengths()
	ends := func(ls []int) map[int]bool {
		m := map[int]bool{}
		acc := 0
		for _, n := range ls[:len(ls)-1] {
			acc += n
			m[acc] = true
		}
		return m
	}
	l, r := ends(lengths[0]), ends(lengths[1])
	same := len(l) == len(r)
	for k := range l {
		if !r[k] {
			same = false
		}
	}
	if same {
		t.Fatalf("block ends did not desynchronize: L=%v R=%v", lengths[0], lengths[1])
	}
	for s := 0; s < 2; s++ {
		if got := sum(lengths[s]); got != 200 {
			t.Fatalf("side %d: block lengths sum to %d", s, got)
		}
	}
}

func TestUncoupledDistinctAcrossSeeds(t *testing.T) {
	cfg := uncoupledConfig()
	cfg.Block = task.BlockParams{Min: 3, Max: 8, MinReward: 0}
	for seed := int64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewSource(seed + 100))
		choices := make([]task.Choice, 300)
		for i := range choices {
			choices[i] = task.Choice(rng.Intn(3))
		}
		sched := NewUncoupled(rand.New(rand.NewSource(seed)))
		steps := run(sched, cfg, choices, always)
		lengths := sched.BlockLengths()
		for i, st := range steps {
			if st.Prob[0] == st.Prob[1] {
				t.Fatalf("seed %d trial %d: sides share %v", seed, i, st.Prob[0])
			}
		}
		for s := 0; s < 2; s++ {
			if got := sum(lengths[s]); got != len(steps) {
				t.Fatalf("seed %d side %d: lengths sum %d, want %d", seed, s, got, len(steps))
			}
			start := 0
			for _, n := range lengths[s] {
				for i := start; i < start+n; i++ {
					if steps[i].Prob[s] != steps[start].Prob[s] {
						t.Fatalf("seed %d side %d: value changed inside block at trial %d", seed, s, i)
					}
				}
				start += n
			}
		}
	}
}

func TestUncoupledSingleValuePool(t *testing.T) {
	cfg := uncoupledConfig()
	cfg.UncoupledRewardPool = []float64{0.5}
	cfg.Block = task.BlockParams{Min: 5, Max: 10, MinReward: 0}
	cfg.Uncoupled.PerseverativeAdd = false
	sched := NewUncoupled(rand.New(rand.NewSource(0)))
	steps := run(sched, cfg, choicesOf("LRLRLRLRLRLRLRLRLRLRLRLRLRLRLRLRLRLRLRLR"), always)
	for i, st := range steps {
		if st.Prob != [2]float64{0.5, 0.5} {
			t.Fatalf("trial %d: expected both sides pinned at 0.5, got %v", i, st.Prob)
		}
	}
	lengths := sched.BlockLengths()
	for s := 0; s < 2; s++ {
		if len(lengths[s]) < 3 {
			t.Fatalf("side %d: expected transitions on schedule, got %v", s, lengths[s])
		}
	}
}

func TestUncoupledPerseverativeAdd(t *testing.T) {
	cfg := uncoupledConfig()
	cfg.UncoupledRewardPool = []float64{0.1, 0.9}
	cfg.Block = task.BlockParams{Min: 10, Max: 10, MinReward: 0}
	sched := NewUncoupled(rand.New(rand.NewSource(0)))
	st := sched.NextTrial(cfg, nil)
	low := task.Left
	if st.Prob[1] < st.Prob[0] {
		low = task.Right
	}
	for i := 0; i < cfg.Uncoupled.PerseverativeLimit; i++ {
		sched.NextTrial(cfg, &Outcome{Choice: low})
	}
	d := sched.Diagnostics()
	if len(d.PerseverativeAdds) != 1 {
		t.Fatalf("expected one perseverative add, got %v", d.PerseverativeAdds)
	}
}

// #endregion uncoupled

func TestNewRejectsEmptyPool(t *testing.T) {
	cfg := uncoupledConfig()
	cfg.UncoupledRewardPool = nil
	if _, err := New(cfg, rand.New(rand.NewSource(0))); err == nil {
		t.Fatal("expected error for empty pool")
	}
}

func TestDeterministicReplay(t *testing.T) {
	cfg := uncoupledConfig()
	choices := choicesOf("LRLLRRIRLLRLRRLLLRRRLIRLRLLRRL")
	a := run(NewUncoupled(rand.New(rand.NewSource(42))), cfg, choices, always)
	b := run(NewUncoupled(rand.New(rand.NewSource(42))), cfg, choices, always)
	for i := range a {
		if a[i].Prob != b[i].Prob || a[i].Message != b[i].Message {
			t.Fatalf("trial %d diverged: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestRandomWalkStaysInBounds(t *testing.T) {
	cfg := task.DefaultConfig()
	cfg.Task = task.RandomWalk
	cfg.RandomWalk.PMin = [2]float64{0.1, 0.2}
	cfg.RandomWalk.PMax = [2]float64{0.8, 0.9}
	sched := NewRandomWalk(rand.New(rand.NewSource(5)))
	steps := run(sched, cfg, make([]task.Choice, 500), always)
	for i, st := range steps {
		for s := 0; s < 2; s++ {
			if st.Prob[s] < cfg.RandomWalk.PMin[s] || st.Prob[s] > cfg.RandomWalk.PMax[s] {
				t.Fatalf("trial %d side %d: %v out of bounds", i, s, st.Prob[s])
			}
		}
	}
	if got := sched.BlockLengths()[0][0]; got != 500 {
		t.Fatalf("expected one 500-trial block, got %d", got)
	}
}
