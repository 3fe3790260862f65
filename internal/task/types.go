package task

// #region task-type
// Type names the reward-schedule variant of a session.
type Type string

const (
	CoupledBaiting     Type = "Coupled Baiting"
	CoupledNoBaiting   Type = "Coupled Without Baiting"
	UncoupledBaiting   Type = "Uncoupled Baiting"
	UncoupledNoBaiting Type = "Uncoupled Without Baiting"
	RewardN            Type = "RewardN"
	RandomWalk         Type = "Random Walk"
)

// Coupled reports whether L and R probabilities sum to a constant.
func (t Type) Coupled() bool {
	return t == CoupledBaiting || t == CoupledNoBaiting || t == RewardN
}

// Uncoupled reports whether L and R run independent block sequences.
func (t Type) Uncoupled() bool {
	return t == UncoupledBaiting || t == UncoupledNoBaiting
}

// Baiting reports whether unchosen bait carries over to the next trial.
func (t Type) Baiting() bool {
	return t == CoupledBaiting || t == UncoupledBaiting
}

// Valid reports whether t is a known task type.
func (t Type) Valid() bool {
	switch t {
	case CoupledBaiting, CoupledNoBaiting, UncoupledBaiting, UncoupledNoBaiting, RewardN, RandomWalk:
		return true
	}
	return false
}

// #endregion task-type

// #region choice
// Choice is the animal response on a trial. Values match the recorded
// animal_response history: 0 left, 1 right, 2 no response.
type Choice int

const (
	Left       Choice = 0
	Right      Choice = 1
	NoResponse Choice = 2
)

// Sides lists the two lick ports in index order.
var Sides = [2]Choice{Left, Right}

func (c Choice) String() string {
	switch c {
	case Left:
		return "L"
	case Right:
		return "R"
	case NoResponse:
		return "ignored"
	}
	return "?"
}

// Other returns the opposite port. NoResponse has no opposite and is returned unchanged.
func (c Choice) Other() Choice {
	switch c {
	case Left:
		return Right
	case Right:
		return Left
	}
	return c
}

// #endregion choice

// #region enums
// Randomness selects the distribution for block length, ITI and delay draws.
type Randomness string

const (
	Exponential Randomness = "Exponential"
	Even        Randomness = "Even"
)

// AutoWaterType selects which ports receive auto-water.
type AutoWaterType string

const (
	AutoWaterNatural AutoWaterType = "Natural"
	AutoWaterBoth    AutoWaterType = "Both"
	AutoWaterHighPro AutoWaterType = "High pro"
)

// AutoBlockMode is the advanced auto-block rule.
type AutoBlockMode string

const (
	AutoBlockOff  AutoBlockMode = "off"
	AutoBlockNow  AutoBlockMode = "now"
	AutoBlockOnce AutoBlockMode = "once"
)

// #endregion enums

// #region opto-enums
// Event is a trial event an opto waveform can be aligned to.
type Event string

const (
	EventNA            Event = "NA"
	EventTrialStart    Event = "Trial start"
	EventGoCue         Event = "Go cue"
	EventRewardOutcome Event = "Reward outcome"
)

// Protocol is the shape of an opto waveform.
type Protocol string

const (
	Sine     Protocol = "Sine"
	Pulse    Protocol = "Pulse"
	Constant Protocol = "Constant"
)

// Location is the stimulation target of an opto channel.
type Location string

const (
	LocationLeft  Location = "Left"
	LocationRight Location = "Right"
	LocationBoth  Location = "Both"
)

// NumChannels is the number of opto conditions a session can advertise.
const NumChannels = 6

// #endregion opto-enums
