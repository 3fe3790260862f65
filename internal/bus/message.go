package bus

import (
	"context"
	"fmt"
)

// #region tags
// Command tags sent to the rig.
const (
	TagLeftBait          = "Left_Bait"
	TagRightBait         = "Right_Bait"
	TagITI               = "ITI"
	TagDelayTime         = "DelayTime"
	TagResponseTime      = "ResponseTime"
	TagRewardDelay       = "RewardDelay"
	TagRewardConsumeTime = "RewardConsumeTime"
	TagLeftValue         = "LeftValue"
	TagRightValue        = "RightValue"
	TagLeftValue1        = "LeftValue1"
	TagRightValue1       = "RightValue1"
	TagTriggerSource     = "TriggerSource"
	TagPassGoCue         = "PassGoCue"
	TagPassRewardOutcome = "PassRewardOutcome"
	TagStart             = "start"
	TagManualWaterLeft   = "ManualWater_Left"
	TagManualWaterRight  = "ManualWater_Right"
	TagAutoWaterLeft     = "AutoWater_Left"
	TagAutoWaterRight    = "AutoWater_Right"
)

// Trial-outcome packet tags.
const (
	TagTrialStartTime     = "TrialStartTime"
	TagDelayStartTime     = "DelayStartTime"
	TagGoCueTime          = "GoCueTime"
	TagGoCueTimeSoundCard = "GoCueTimeSoundCard"
	TagRewardOutcome      = "RewardOutcome"
	TagRewardOutcomeTime  = "RewardOutcomeTime"
	TagTrialEndTime       = "TrialEndTime"
	TagBehaviorEvent      = "BehaviorEvent"
)

// Start opcodes.
const (
	StartNormal = 1
	StartOpto   = 3
)

// LocationSizeTag names the waveform length tag of location loc (0 or 1).
func LocationSizeTag(loc int) string { return fmt.Sprintf("Location%d_Size", loc+1) }

// WaveFormTag names the waveform buffer tag for slot (1 or 2) and location loc.
func WaveFormTag(slot, loc int) string { return fmt.Sprintf("WaveForm%d_%d", slot, loc+1) }

// #endregion tags

// #region message
// Message is one tagged message with typed arguments. Arguments are
// float64, int, string or bool.
type Message struct {
	Tag  string `json:"tag"`
	Args []any  `json:"args"`
}

// Msg builds a message.
func Msg(tag string, args ...any) Message { return Message{Tag: tag, Args: args} }

// Float returns the first argument as a number.
func (m Message) Float() (float64, error) {
	if len(m.Args) == 0 {
		return 0, fmt.Errorf("%s: no argument", m.Tag)
	}
	switch v := m.Args[0].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("%s: argument %T is not numeric", m.Tag, m.Args[0])
}

// Text returns the first argument as a string.
func (m Message) Text() (string, error) {
	if len(m.Args) == 0 {
		return "", fmt.Errorf("%s: no argument", m.Tag)
	}
	s, ok := m.Args[0].(string)
	if !ok {
		return "", fmt.Errorf("%s: argument %T is not a string", m.Tag, m.Args[0])
	}
	return s, nil
}

// Floats returns every argument as a number.
func (m Message) Floats() ([]float64, error) {
	out := make([]float64, len(m.Args))
	for i := range m.Args {
		v, err := Message{Tag: m.Tag, Args: m.Args[i : i+1]}.Float()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// #endregion message

// #region interfaces
// Sink transmits a batch of commands. The batch is atomic from the
// caller's perspective; the transport serializes it to the wire.
type Sink interface {
	Send(ctx context.Context, msgs ...Message) error
}

// Source yields hardware messages one at a time, blocking until one
// arrives or ctx ends.
type Source interface {
	Receive(ctx context.Context) (Message, error)
}

// #endregion interfaces
