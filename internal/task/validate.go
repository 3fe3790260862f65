package task

import (
	"fmt"
	"math"
)

// #region validate
// Validate checks every enumerated field the trial generator depends on.
// It returns the first *ConfigError found. Opto channel problems are not
// reported here: they are recovered per trial by the opto planner.
func (c Config) Validate() error {
	if !c.Task.Valid() {
		return Errorf("task", ErrUnknown, "%q", c.Task)
	}
	if c.Randomness != Exponential && c.Randomness != Even {
		return Errorf("randomness", ErrUnknown, "%q", c.Randomness)
	}

	switch {
	case c.Task.Coupled():
		if err := validateRewardPairs("", c.RewardFamily, c.RewardPairsN, c.BaseRewardSum); err != nil {
			return err
		}
	case c.Task.Uncoupled():
		if len(c.UncoupledRewardPool) == 0 {
			return &ConfigError{Path: "uncoupled_reward_pool", Err: ErrEmptyPool}
		}
		for i, p := range c.UncoupledRewardPool {
			if !finite(p) || p < 0 || p > 1 {
				return Errorf(fmt.Sprintf("uncoupled_reward_pool[%d]", i), ErrOutOfRange, "%v not in [0,1]", p)
			}
		}
		if c.Uncoupled.PerseverativeAdd && c.Uncoupled.PerseverativeLimit < 1 {
			return Errorf("uncoupled.perseverative_limit", ErrOutOfRange, "%d < 1", c.Uncoupled.PerseverativeLimit)
		}
	case c.Task == RandomWalk:
		for s := 0; s < 2; s++ {
			rw := c.RandomWalk
			if rw.PMin[s] < 0 || rw.PMax[s] > 1 || rw.PMin[s] > rw.PMax[s] {
				return Errorf(fmt.Sprintf("random_walk[%d]", s), ErrOutOfRange, "p_min=%v p_max=%v", rw.PMin[s], rw.PMax[s])
			}
			if rw.Sigma[s] < 0 {
				return Errorf(fmt.Sprintf("random_walk.sigma[%d]", s), ErrOutOfRange, "%v < 0", rw.Sigma[s])
			}
		}
	}
	if c.Task == RewardN && c.InitiallyInactiveN < 0 {
		return Errorf("initially_inactive_n", ErrOutOfRange, "%d < 0", c.InitiallyInactiveN)
	}

	if err := c.Block.validate("block"); err != nil {
		return err
	}
	if err := c.ITI.validate("iti"); err != nil {
		return err
	}
	if err := c.Delay.validate("delay"); err != nil {
		return err
	}
	for _, f := range []struct {
		path string
		v    float64
	}{
		{"response_time", c.ResponseTime},
		{"reward_consume_time", c.RewardConsumeTime},
		{"reward_delay", c.RewardDelay},
	} {
		if !finite(f.v) || f.v < 0 {
			return Errorf(f.path, ErrOutOfRange, "%v < 0", f.v)
		}
	}

	if err := c.AutoWater.validate("auto_water"); err != nil {
		return err
	}
	switch c.AutoBlock.Mode {
	case AutoBlockOff, "":
	case AutoBlockNow, AutoBlockOnce:
		if c.AutoBlock.PointsInARow < 1 || c.AutoBlock.RunLength < 1 {
			return Errorf("auto_block", ErrOutOfRange, "points_in_a_row=%d run_length=%d", c.AutoBlock.PointsInARow, c.AutoBlock.RunLength)
		}
		if c.AutoBlock.SwitchThr < 0 || c.AutoBlock.SwitchThr > 1 {
			return Errorf("auto_block.switch_thr", ErrOutOfRange, "%v not in [0,1]", c.AutoBlock.SwitchThr)
		}
	default:
		return Errorf("auto_block.mode", ErrUnknown, "%q", c.AutoBlock.Mode)
	}
	if c.Warmup.Enabled {
		if c.Warmup.WindowSize < 1 {
			return Errorf("warmup.window_size", ErrOutOfRange, "%d < 1", c.Warmup.WindowSize)
		}
		if c.Warmup.MinFinishRatio < 0 || c.Warmup.MinFinishRatio > 1 {
			return Errorf("warmup.min_finish_ratio", ErrOutOfRange, "%v not in [0,1]", c.Warmup.MinFinishRatio)
		}
		// The generator swaps these in wholesale while warmup is on.
		o := c.Warmup.Overrides
		if c.Task.Coupled() {
			if err := validateRewardPairs("warmup.overrides.", o.RewardFamily, o.RewardPairsN, o.BaseRewardSum); err != nil {
				return err
			}
		}
		if err := o.Block.validate("warmup.overrides.block"); err != nil {
			return err
		}
		if err := o.AutoWater.validate("warmup.overrides.auto_water"); err != nil {
			return err
		}
	}
	if c.Stop.MaxTrial < 1 {
		return Errorf("stop.max_trial", ErrOutOfRange, "%d < 1", c.Stop.MaxTrial)
	}
	if c.Opto.Enabled && c.Opto.SampleFrequency <= 0 {
		return Errorf("opto.sample_frequency", ErrOutOfRange, "%v <= 0", c.Opto.SampleFrequency)
	}
	return nil
}

func validateRewardPairs(prefix string, family, pairs int, sum float64) error {
	if family < 1 || family > len(RewardFamilies) {
		return Errorf(prefix+"reward_family", ErrOutOfRange, "%d not in [1,%d]", family, len(RewardFamilies))
	}
	if pairs < 1 {
		return Errorf(prefix+"reward_pairs_n", ErrOutOfRange, "%d < 1", pairs)
	}
	if !finite(sum) || sum <= 0 || sum > 1 {
		return Errorf(prefix+"base_reward_sum", ErrOutOfRange, "%v not in (0,1]", sum)
	}
	return nil
}

func (b BlockParams) validate(path string) error {
	if b.Min < 1 || b.Max < b.Min {
		return Errorf(path, ErrOutOfRange, "min=%d max=%d", b.Min, b.Max)
	}
	if !finite(b.Beta) || b.Beta < 0 {
		return Errorf(path+".beta", ErrOutOfRange, "%v", b.Beta)
	}
	if b.MinReward < 0 {
		return Errorf(path+".min_reward", ErrOutOfRange, "%d < 0", b.MinReward)
	}
	return nil
}

func (a AutoWater) validate(path string) error {
	if !a.Enabled {
		return nil
	}
	switch a.Type {
	case AutoWaterNatural, AutoWaterBoth, AutoWaterHighPro:
	default:
		return Errorf(path+".type", ErrUnknown, "%q", a.Type)
	}
	if !finite(a.Multiplier) || a.Multiplier < 0 {
		return Errorf(path+".multiplier", ErrOutOfRange, "%v", a.Multiplier)
	}
	return nil
}

func (r Range) validate(path string) error {
	if !finite(r.Min) || !finite(r.Max) || !finite(r.Beta) {
		return Errorf(path, ErrOutOfRange, "non-numeric value")
	}
	if r.Min < 0 || r.Max < r.Min || r.Beta < 0 {
		return Errorf(path, ErrOutOfRange, "min=%v max=%v beta=%v", r.Min, r.Max, r.Beta)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// #endregion validate
