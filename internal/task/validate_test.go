package task

import (
	"errors"
	"math"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if err := DefaultConfig().WithWarmup().Validate(); err != nil {
		t.Fatalf("warmup config invalid: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		path     string
		sentinel error
	}{
		{"unknown task", func(c *Config) { c.Task = "Foo" }, "task", ErrUnknown},
		{"family out of range", func(c *Config) { c.RewardFamily = 9 }, "reward_family", ErrOutOfRange},
		{"zero base sum", func(c *Config) { c.BaseRewardSum = 0 }, "base_reward_sum", ErrOutOfRange},
		{"nan base sum", func(c *Config) { c.BaseRewardSum = math.NaN() }, "base_reward_sum", ErrOutOfRange},
		{"empty pool", func(c *Config) {
			c.Task = UncoupledBaiting
			c.UncoupledRewardPool = nil
		}, "uncoupled_reward_pool", ErrEmptyPool},
		{"pool probability above one", func(c *Config) {
			c.Task = UncoupledNoBaiting
			c.UncoupledRewardPool = []float64{0.1, 1.5}
		}, "uncoupled_reward_pool[1]", ErrOutOfRange},
		{"block max below min", func(c *Config) { c.Block.Max = 5 }, "block", ErrOutOfRange},
		{"negative iti", func(c *Config) { c.ITI.Min = -1 }, "iti", ErrOutOfRange},
		{"infinite delay", func(c *Config) { c.Delay.Max = math.Inf(1) }, "delay", ErrOutOfRange},
		{"negative response time", func(c *Config) { c.ResponseTime = -0.5 }, "response_time", ErrOutOfRange},
		{"bad auto water type", func(c *Config) {
			c.AutoWater.Enabled = true
			c.AutoWater.Type = "Sometimes"
		}, "auto_water.type", ErrUnknown},
		{"bad auto block mode", func(c *Config) { c.AutoBlock.Mode = "later" }, "auto_block.mode", ErrUnknown},
		{"zero max trial", func(c *Config) { c.Stop.MaxTrial = 0 }, "stop.max_trial", ErrOutOfRange},
		{"warmup family out of range", func(c *Config) {
			c.Warmup.Enabled = true
			c.Warmup.Overrides.RewardFamily = 0
		}, "warmup.overrides.reward_family", ErrOutOfRange},
		{"warmup zero pairs", func(c *Config) {
			c.Warmup.Enabled = true
			c.Warmup.Overrides.RewardPairsN = 0
		}, "warmup.overrides.reward_pairs_n", ErrOutOfRange},
		{"warmup zero base sum", func(c *Config) {
			c.Warmup.Enabled = true
			c.Warmup.Overrides.BaseRewardSum = 0
		}, "warmup.overrides.base_reward_sum", ErrOutOfRange},
		{"warmup block max below min", func(c *Config) {
			c.Randomness = Even
			c.Warmup.Enabled = true
			c.Warmup.Overrides.Block = BlockParams{Min: 5, Max: 1}
		}, "warmup.overrides.block", ErrOutOfRange},
		{"warmup negative block beta", func(c *Config) {
			c.Warmup.Enabled = true
			c.Warmup.Overrides.Block.Beta = -1
		}, "warmup.overrides.block.beta", ErrOutOfRange},
		{"warmup negative min reward", func(c *Config) {
			c.Warmup.Enabled = true
			c.Warmup.Overrides.Block.MinReward = -1
		}, "warmup.overrides.block.min_reward", ErrOutOfRange},
		{"warmup bad auto water type", func(c *Config) {
			c.Warmup.Enabled = true
			c.Warmup.Overrides.AutoWater = AutoWater{Enabled: true, Type: "Sometimes"}
		}, "warmup.overrides.auto_water.type", ErrUnknown},
		{"warmup negative auto water multiplier", func(c *Config) {
			c.Warmup.Enabled = true
			c.Warmup.Overrides.AutoWater.Multiplier = -0.5
		}, "warmup.overrides.auto_water.multiplier", ErrOutOfRange},
		{"opto without sample rate", func(c *Config) {
			c.Opto.Enabled = true
			c.Opto.SampleFrequency = 0
		}, "opto.sample_frequency", ErrOutOfRange},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.mutate(&c)
			err := c.Validate()
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
			if ce.Path != tc.path {
				t.Errorf("expected path %q, got %q", tc.path, ce.Path)
			}
			if !errors.Is(err, tc.sentinel) {
				t.Errorf("expected %v in chain, got %v", tc.sentinel, err)
			}
		})
	}
}

func TestValidateIgnoresOverridesWhenWarmupOff(t *testing.T) {
	c := DefaultConfig()
	c.Warmup.Enabled = false
	c.Warmup.Overrides.Block = BlockParams{Min: 5, Max: 1}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	c.Warmup.Enabled = true
	c.Warmup.Overrides = DefaultWarmupOverrides()
	if err := c.Validate(); err != nil {
		t.Fatalf("default warmup overrides rejected: %v", err)
	}
}

func TestRewardPairs(t *testing.T) {
	c := DefaultConfig()
	c.RewardFamily = 2
	c.RewardPairsN = 2
	c.BaseRewardSum = 0.6
	pairs := c.RewardPairs()
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	want := [][2]float64{{0.6 * 8 / 9, 0.6 / 9}, {0.3, 0.3}}
	for i := range want {
		for s := 0; s < 2; s++ {
			if math.Abs(pairs[i][s]-want[i][s]) > 1e-12 {
				t.Errorf("pair %d side %d: expected %v, got %v", i, s, want[i][s], pairs[i][s])
			}
		}
		if math.Abs(pairs[i][0]+pairs[i][1]-0.6) > 1e-12 {
			t.Errorf("pair %d does not sum to base", i)
		}
	}
}

func TestRewardPairsClampsN(t *testing.T) {
	c := DefaultConfig()
	c.RewardFamily = 2
	c.RewardPairsN = 10
	if got := len(c.RewardPairs()); got != 2 {
		t.Fatalf("expected pairs clamped to family size 2, got %d", got)
	}
}

func TestCloneDetachesPool(t *testing.T) {
	c := DefaultConfig()
	pd := 0.002
	c.Opto.Channels[0].PulseDur = &pd
	cp := c.Clone()
	cp.UncoupledRewardPool[0] = 0.7
	*cp.Opto.Channels[0].PulseDur = 0.5
	if c.UncoupledRewardPool[0] != 0.1 {
		t.Error("clone shares reward pool")
	}
	if *c.Opto.Channels[0].PulseDur != 0.002 {
		t.Error("clone shares pulse duration")
	}
}

func TestChoiceOther(t *testing.T) {
	if Left.Other() != Right || Right.Other() != Left || NoResponse.Other() != NoResponse {
		t.Fatal("unexpected Other mapping")
	}
}
