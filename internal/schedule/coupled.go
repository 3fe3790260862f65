package schedule

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/foraging-rig/go-controller/internal/task"
)

const probTolerance = 1e-9

// #region coupled
// Coupled runs lockstep L/R blocks whose probabilities sum to the base
// reward sum. It also serves RewardN, which adds an inactive high side.
type Coupled struct {
	rng *rand.Rand

	trialNow   int
	blockStart int
	blockEnd   int // exclusive trial index at which the open block closes
	pair       [2]float64
	closed     []int
	out        outcomes

	rewardN     bool
	consecutive int
	active      bool
	inactiveN   int
}

// NewCoupled returns a coupled schedule. The first block is drawn on the first NextTrial.
func NewCoupled(rng *rand.Rand) *Coupled {
	return &Coupled{rng: rng, trialNow: -1}
}

func (c *Coupled) NextTrial(cfg task.Config, last *Outcome) Step {
	if c.trialNow >= 0 {
		c.out.add(last)
		c.trackActive(last)
	}
	c.trialNow++
	c.rewardN = cfg.Task == task.RewardN
	c.inactiveN = cfg.InitiallyInactiveN

	var step Step
	switch {
	case c.trialNow == 0:
		c.pair = c.drawPair(cfg, false)
		c.blockEnd = BlockLength(c.rng, cfg.Randomness, cfg.Block)
		step.Switched = [2]bool{true, true}
		step.Message = "first block " + formatProb(c.pair)
	case cfg.HoldBlock:
		if c.trialNow >= c.blockEnd {
			c.blockEnd = c.trialNow + 1
		}
		step.Message = "block held"
	case cfg.NextBlock || c.trialNow >= c.blockEnd:
		ok, why := true, ""
		if !cfg.NextBlock {
			ok, why = permitSwitch(cfg, &c.out, c.blockStart, c.pair, true)
		}
		if !ok {
			c.blockEnd = c.trialNow + 1
			step.Message = why
			break
		}
		prev := c.pair
		c.closed = append(c.closed, c.trialNow-c.blockStart)
		c.blockStart = c.trialNow
		c.blockEnd = c.trialNow + BlockLength(c.rng, cfg.Randomness, cfg.Block)
		c.pair = c.drawPair(cfg, true)
		c.consecutive, c.active = 0, false
		step.Switched = [2]bool{c.pair[0] != prev[0], c.pair[1] != prev[1]}
		step.Message = fmt.Sprintf("block switch %s -> %s", formatProb(prev), formatProb(c.pair))
	}
	step.Prob = c.pair
	return step
}

// drawPair samples the next pair from the family pool plus mirrors.
func (c *Coupled) drawPair(cfg task.Config, excludeCurrent bool) [2]float64 {
	pairs := cfg.RewardPairs()
	var pool [][2]float64
	for _, p := range pairs {
		pool = append(pool, p, [2]float64{p[1], p[0]})
	}
	pool = dedupPairs(pool)
	if len(pool) == 0 {
		half := cfg.BaseRewardSum / 2
		return [2]float64{half, half}
	}

	candidates := pool
	if excludeCurrent {
		candidates = filterPairs(pool, func(p [2]float64) bool { return !samePair(p, c.pair) })
		switch identity(c.pair) {
		case 1:
			if opp := filterPairs(candidates, func(p [2]float64) bool { return identity(p) == -1 }); len(opp) > 0 {
				candidates = opp
			}
		case -1:
			if opp := filterPairs(candidates, func(p [2]float64) bool { return identity(p) == 1 }); len(opp) > 0 {
				candidates = opp
			}
		}
		if len(candidates) == 0 {
			return c.pair
		}
	}
	return candidates[c.rng.Intn(len(candidates))]
}

func (c *Coupled) ExtendBlock(n int) {
	if c.trialNow >= 0 {
		c.blockEnd += n
	}
}

func (c *Coupled) BlockLengths() [2][]int {
	var out [2][]int
	if c.trialNow < 0 {
		return out
	}
	lengths := append(append([]int(nil), c.closed...), c.trialNow+1-c.blockStart)
	out[0] = lengths
	out[1] = append([]int(nil), lengths...)
	return out
}

func (c *Coupled) Trials() int { return c.trialNow + 1 }

// #endregion coupled

// #region reward-n
// trackActive counts consecutive choices of the high side. Once the count
// reaches InitiallyInactiveN the side stays active for the rest of the block.
func (c *Coupled) trackActive(last *Outcome) {
	if !c.rewardN || c.active || last == nil {
		return
	}
	high, ok := c.highSide()
	if !ok {
		return
	}
	switch last.Choice {
	case high:
		c.consecutive++
	case high.Other():
		c.consecutive = 0
	}
	if c.consecutive >= c.inactiveN {
		c.active = true
	}
}

// Inactive reports whether side must not be baited on the current trial.
func (c *Coupled) Inactive(side task.Choice) bool {
	if !c.rewardN || c.active || c.consecutive >= c.inactiveN {
		return false
	}
	high, ok := c.highSide()
	return ok && side == high
}

// Consecutive returns the current consecutive-on-active count.
func (c *Coupled) Consecutive() int { return c.consecutive }

func (c *Coupled) highSide() (task.Choice, bool) {
	switch identity(c.pair) {
	case 1:
		return task.Left, true
	case -1:
		return task.Right, true
	}
	return task.NoResponse, false
}

// #endregion reward-n

// #region pair-helpers
// identity is 1 for L>R, -1 for R>L and 0 for a tie.
func identity(p [2]float64) int {
	switch {
	case p[0]-p[1] > probTolerance:
		return 1
	case p[1]-p[0] > probTolerance:
		return -1
	}
	return 0
}

func samePair(a, b [2]float64) bool {
	return math.Abs(a[0]-b[0]) <= probTolerance && math.Abs(a[1]-b[1]) <= probTolerance
}

func dedupPairs(pool [][2]float64) [][2]float64 {
	var out [][2]float64
	for _, p := range pool {
		dup := false
		for _, q := range out {
			if samePair(p, q) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, p)
		}
	}
	return out
}

func filterPairs(pool [][2]float64, keep func([2]float64) bool) [][2]float64 {
	var out [][2]float64
	for _, p := range pool {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// #endregion pair-helpers
