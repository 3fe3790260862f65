package task

// #region reward-families
// RewardFamilies is the static table of integer reward-ratio pairs.
// Config.RewardFamily indexes it starting at 1.
var RewardFamilies = [][][2]float64{
	{{8, 1}, {6, 1}, {3, 1}, {1, 1}},
	{{8, 1}, {1, 1}},
	{{1, 0}, {.9, .1}, {.8, .2}, {.7, .3}, {.6, .4}, {.5, .5}},
	{{6, 1}, {3, 1}, {1, 1}},
}

// #endregion reward-families

// #region config
// Range is a min/max/beta triple for a random draw.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Beta float64 `json:"beta"`
}

// BlockParams controls block length draws.
type BlockParams struct {
	Min       int     `json:"min"`
	Max       int     `json:"max"`
	Beta      float64 `json:"beta"`
	MinReward int     `json:"min_reward"`
}

// AutoWater controls rescue water delivery.
type AutoWater struct {
	Enabled             bool          `json:"enabled"`
	UnrewardedThreshold int           `json:"unrewarded"`
	IgnoredThreshold    int           `json:"ignored"`
	Multiplier          float64       `json:"multiplier"`
	Type                AutoWaterType `json:"type"`
	IncludeInBlockCount bool          `json:"include_auto_reward_in_block_count"`
}

// AutoBlock is the advanced block-switch rule.
type AutoBlock struct {
	Mode         AutoBlockMode `json:"mode"`
	SwitchThr    float64       `json:"switch_thr"`
	PointsInARow int           `json:"points_in_a_row"`
	RunLength    int           `json:"run_length"`
}

// Warmup holds the finish criteria and the relaxed parameter set used while warmup is on.
type Warmup struct {
	Enabled            bool            `json:"enabled"`
	MinTrial           int             `json:"min_trial"`
	MaxChoiceRatioBias float64         `json:"max_choice_ratio_bias"`
	MinFinishRatio     float64         `json:"min_finish_ratio"`
	WindowSize         int             `json:"window_size"`
	Overrides          WarmupOverrides `json:"overrides"`
}

// WarmupOverrides replaces the reward and block parameters while warmup is active.
type WarmupOverrides struct {
	RewardFamily  int         `json:"reward_family"`
	RewardPairsN  int         `json:"reward_pairs_n"`
	BaseRewardSum float64     `json:"base_reward_sum"`
	Block         BlockParams `json:"block"`
	AutoWater     AutoWater   `json:"auto_water"`
}

// Uncoupled holds the extra knobs of the uncoupled block generator.
type Uncoupled struct {
	PerseverativeAdd   bool `json:"persev_add"`
	PerseverativeLimit int  `json:"perseverative_limit"`
	MaxBlockTally      int  `json:"max_block_tally"`
}

// RandomWalkParams are per-side (L, R) random walk settings.
type RandomWalkParams struct {
	PMin  [2]float64 `json:"p_min"`
	PMax  [2]float64 `json:"p_max"`
	Sigma [2]float64 `json:"sigma"`
	Mean  [2]float64 `json:"mean"`
}

// Stop holds session termination criteria.
type Stop struct {
	MaxTrial     int     `json:"max_trial"`
	MaxTimeMin   float64 `json:"max_time_min"`
	StopIgnores  int     `json:"stop_ignores"`
	IgnoreWindow int     `json:"ignore_window"`
	IgnoreRatio  float64 `json:"ignore_ratio"`
	MinTimeMin   float64 `json:"min_time_min"`
}

// Valves holds valve open times in seconds and optional reward volumes in uL.
// A positive volume takes precedence when a water calibration is available.
type Valves struct {
	LeftOpen    float64 `json:"left_open_s"`
	RightOpen   float64 `json:"right_open_s"`
	LeftVolume  float64 `json:"left_volume_ul"`
	RightVolume float64 `json:"right_volume_ul"`
}

// Config is the full parameterization of one trial. It is immutable within
// a trial and may change between trials.
type Config struct {
	Task                Type             `json:"task"`
	RewardFamily        int              `json:"reward_family"`
	RewardPairsN        int              `json:"reward_pairs_n"`
	BaseRewardSum       float64          `json:"base_reward_sum"`
	UncoupledRewardPool []float64        `json:"uncoupled_reward_pool"`
	Block               BlockParams      `json:"block"`
	ITI                 Range            `json:"iti"`
	Delay               Range            `json:"delay"`
	ResponseTime        float64          `json:"response_time"`
	RewardConsumeTime   float64          `json:"reward_consume_time"`
	RewardDelay         float64          `json:"reward_delay"`
	Randomness          Randomness       `json:"randomness"`
	AutoWater           AutoWater        `json:"auto_water"`
	AutoBlock           AutoBlock        `json:"auto_block"`
	Warmup              Warmup           `json:"warmup"`
	InitiallyInactiveN  int              `json:"initially_inactive_n"`
	Uncoupled           Uncoupled        `json:"uncoupled"`
	RandomWalk          RandomWalkParams `json:"random_walk"`
	Stop                Stop             `json:"stop"`
	Valves              Valves           `json:"valves"`
	Opto                Opto             `json:"opto"`

	NoResponseExtendsBlock bool `json:"no_response_extends_block"`
	HoldBlock              bool `json:"hold_block"`
	NextBlock              bool `json:"next_block"`
}

// #endregion config

// #region opto-config
// Channel is one of the six opto conditions.
type Channel struct {
	Enabled              bool     `json:"enabled"`
	Color                string   `json:"color"`
	Location             Location `json:"location"`
	Amplitude            float64  `json:"amplitude_v"`
	Power                float64  `json:"power_mw"`
	Duration             float64  `json:"duration"`
	Protocol             Protocol `json:"protocol"`
	Frequency            float64  `json:"frequency"`
	RampDown             float64  `json:"ramp_down"`
	PulseDur             *float64 `json:"pulse_dur,omitempty"`
	Start                Event    `json:"start"`
	OffsetStart          float64  `json:"offset_start"`
	End                  Event    `json:"end"`
	OffsetEnd            float64  `json:"offset_end"`
	Probability          float64  `json:"probability"`
	Condition            string   `json:"condition"`
	ConditionProbability float64  `json:"condition_probability"`
}

// SessionControl alternates whole stretches of the session between opto-allowed and control.
type SessionControl struct {
	Enabled   bool    `json:"enabled"`
	Fraction  float64 `json:"fraction"`
	StartWith int     `json:"start_with"`
}

// Opto is the optogenetics section of the configuration.
type Opto struct {
	Enabled         bool                 `json:"enabled"`
	Channels        [NumChannels]Channel `json:"channels"`
	SampleFrequency float64              `json:"sample_frequency"`
	MinOptoInterval int                  `json:"min_opto_interval"`
	SessionControl  SessionControl       `json:"session_control"`
}

// #endregion opto-config

// #region defaults
// DefaultConfig returns the coupled-baiting defaults used by the rig.
func DefaultConfig() Config {
	return Config{
		Task:                CoupledBaiting,
		RewardFamily:        1,
		RewardPairsN:        1,
		BaseRewardSum:       0.8,
		UncoupledRewardPool: []float64{0.1, 0.5, 0.9},
		Block:               BlockParams{Min: 20, Max: 60, Beta: 20, MinReward: 1},
		ITI:                 Range{Min: 1, Max: 8, Beta: 2},
		Delay:               Range{Min: 1, Max: 8, Beta: 1},
		ResponseTime:        1,
		RewardConsumeTime:   3,
		RewardDelay:         0,
		Randomness:          Exponential,
		AutoWater: AutoWater{
			UnrewardedThreshold: 200,
			IgnoredThreshold:    100,
			Multiplier:          0.8,
			Type:                AutoWaterNatural,
		},
		AutoBlock: AutoBlock{Mode: AutoBlockOff, SwitchThr: 0.5, PointsInARow: 5, RunLength: 10},
		Warmup: Warmup{
			MinTrial:           50,
			MaxChoiceRatioBias: 0.1,
			MinFinishRatio:     0.8,
			WindowSize:         20,
			Overrides:          DefaultWarmupOverrides(),
		},
		InitiallyInactiveN: 2,
		Uncoupled:          Uncoupled{PerseverativeAdd: true, PerseverativeLimit: 4, MaxBlockTally: 4},
		RandomWalk: RandomWalkParams{
			PMin:  [2]float64{0, 0},
			PMax:  [2]float64{1, 1},
			Sigma: [2]float64{0.15, 0.15},
		},
		Stop:   Stop{MaxTrial: 1000, MaxTimeMin: 120, StopIgnores: 30, IgnoreWindow: 30, IgnoreRatio: 0.8, MinTimeMin: 30},
		Valves: Valves{LeftOpen: 0.03, RightOpen: 0.03},
		Opto:   Opto{SampleFrequency: 5000},
	}
}

// DefaultWarmupOverrides is the relaxed parameter set used at the start of training.
func DefaultWarmupOverrides() WarmupOverrides {
	return WarmupOverrides{
		RewardFamily:  3,
		RewardPairsN:  1,
		BaseRewardSum: 1,
		Block:         BlockParams{Min: 1, Max: 1, Beta: 1, MinReward: 0},
		AutoWater: AutoWater{
			Enabled:    true,
			Multiplier: 0.8,
			Type:       AutoWaterNatural,
		},
	}
}

// #endregion defaults

// #region derived
// WithWarmup returns a copy of c with the warmup overrides applied.
func (c Config) WithWarmup() Config {
	o := c.Warmup.Overrides
	c.RewardFamily = o.RewardFamily
	c.RewardPairsN = o.RewardPairsN
	c.BaseRewardSum = o.BaseRewardSum
	c.Block = o.Block
	c.AutoWater = o.AutoWater
	return c
}

// Clone returns a deep copy safe to store in a trial record.
func (c Config) Clone() Config {
	if c.UncoupledRewardPool != nil {
		c.UncoupledRewardPool = append([]float64(nil), c.UncoupledRewardPool...)
	}
	for i := range c.Opto.Channels {
		if pd := c.Opto.Channels[i].PulseDur; pd != nil {
			v := *pd
			c.Opto.Channels[i].PulseDur = &v
		}
	}
	return c
}

// RewardPairs returns the allowed (L, R) probability pairs of the configured
// family scaled to BaseRewardSum, without mirrors.
func (c Config) RewardPairs() [][2]float64 {
	if c.RewardFamily < 1 || c.RewardFamily > len(RewardFamilies) {
		return nil
	}
	family := RewardFamilies[c.RewardFamily-1]
	n := c.RewardPairsN
	if n > len(family) {
		n = len(family)
	}
	pairs := make([][2]float64, 0, n)
	for _, p := range family[:n] {
		sum := p[0] + p[1]
		pairs = append(pairs, [2]float64{p[0] / sum * c.BaseRewardSum, p[1] / sum * c.BaseRewardSum})
	}
	return pairs
}

// #endregion derived
