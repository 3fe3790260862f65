package schedule

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/foraging-rig/go-controller/internal/task"
)

// #region block-length
// BlockLength draws a block length in trials: clip(exp(beta)+min, min, max)
// for Exponential randomness, uniform in [min, max] for Even.
func BlockLength(rng *rand.Rand, r task.Randomness, b task.BlockParams) int {
	if r == task.Even {
		return b.Min + rng.Intn(b.Max-b.Min+1)
	}
	n := int(rng.ExpFloat64()*b.Beta + float64(b.Min))
	if n > b.Max {
		n = b.Max
	}
	if n < b.Min {
		n = b.Min
	}
	return n
}

// #endregion block-length

// #region gate
// permitSwitch evaluates the transition gates for a block that started at
// start. probs are the probabilities of the block being closed. It returns
// false with a reason when the transition must be held.
func permitSwitch(cfg task.Config, out *outcomes, start int, probs [2]float64, checkAutoBlock bool) (bool, string) {
	if cfg.Block.MinReward > 0 {
		got := out.rewardsSince(start, cfg.AutoWater.IncludeInBlockCount)
		if got < cfg.Block.MinReward {
			return false, fmt.Sprintf("hold block: %d rewards < min %d", got, cfg.Block.MinReward)
		}
	}
	if checkAutoBlock && !AutoBlockPermits(cfg.AutoBlock, out.choices[start:], probs) {
		return false, fmt.Sprintf("hold block: auto block (%s) not satisfied", cfg.AutoBlock.Mode)
	}
	return true, ""
}

// #endregion gate

// #region auto-block
// AutoBlockPermits applies the advanced auto-block rule to the choices made
// in the current block. For every trial the fraction of right choices over
// the last RunLength trials is computed; a trial is acceptable when that
// fraction lies within SwitchThr*|pL-pR| of the high-probability side.
// Mode now needs the latest PointsInARow trials to be acceptable; mode once
// needs such a run anywhere in the block.
func AutoBlockPermits(cfg task.AutoBlock, choices []task.Choice, probs [2]float64) bool {
	if cfg.Mode != task.AutoBlockNow && cfg.Mode != task.AutoBlockOnce {
		return true
	}
	if probs[0] == probs[1] {
		return true
	}
	offset := cfg.SwitchThr * math.Abs(probs[0]-probs[1])
	highRight := probs[1] > probs[0]

	run, ever := 0, false
	for t := range choices {
		lo := t - cfg.RunLength + 1
		if lo < 0 {
			lo = 0
		}
		frac, ok := rightFraction(choices[lo : t+1])
		acceptable := ok && ((highRight && frac >= 1-offset) || (!highRight && frac <= offset))
		if acceptable {
			run++
		} else {
			run = 0
		}
		if run >= cfg.PointsInARow {
			ever = true
		}
	}
	if cfg.Mode == task.AutoBlockNow {
		return run >= cfg.PointsInARow
	}
	return ever
}

// rightFraction is the fraction of right choices among responded trials.
func rightFraction(choices []task.Choice) (float64, bool) {
	var right, n int
	for _, c := range choices {
		switch c {
		case task.Right:
			right++
			n++
		case task.Left:
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return float64(right) / float64(n), true
}

// #endregion auto-block
