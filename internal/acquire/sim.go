package acquire

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"

	"github.com/foraging-rig/go-controller/internal/bus"
	"github.com/foraging-rig/go-controller/internal/task"
	"github.com/foraging-rig/go-controller/internal/trial"
)

// #region policy
// ChoicePolicy is the simulated animal's strategy.
type ChoicePolicy string

const (
	WinStayLoseSwitch ChoicePolicy = "wsls"
	RandomChoice      ChoicePolicy = "random"
)

// IgnoreRate is the fraction of simulated trials with no response.
const IgnoreRate = 0.1

// #endregion policy

// #region simulator
// Simulator stands in for the rig. It consumes trial commands as a
// bus.Sink and answers each start opcode with a synthesized outcome packet
// on Packets. Licks and water deliveries go to Irregular.
type Simulator struct {
	rng       *rand.Rand
	policy    ChoicePolicy
	packets   *bus.Loopback
	irregular *bus.Loopback

	mu          sync.Mutex
	cur         simTrial
	clock       float64
	last        task.Choice
	lastPaid    bool
	hasLast     bool
	goCue       float64
	dispensed   []bus.Message
	startsTotal int
}

// simTrial holds the commanded parameters of the upcoming trial.
type simTrial struct {
	bait         [2]bool
	iti          float64
	delay        float64
	responseTime float64
	rewardDelay  float64
	consume      float64
}

func NewSimulator(seed int64, policy ChoicePolicy) *Simulator {
	return &Simulator{
		rng:       rand.New(rand.NewSource(seed)),
		policy:    policy,
		packets:   bus.NewLoopback(1024),
		irregular: bus.NewLoopback(4096),
	}
}

// Packets is the trial-outcome source.
func (s *Simulator) Packets() bus.Source { return s.packets }

// Irregular is the irregular-event source.
func (s *Simulator) Irregular() bus.Source { return s.irregular }

// Dispensed returns the water commands received so far.
func (s *Simulator) Dispensed() []bus.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bus.Message(nil), s.dispensed...)
}

// Starts returns the number of start opcodes received.
func (s *Simulator) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startsTotal
}

// Send implements bus.Sink.
func (s *Simulator) Send(_ context.Context, msgs ...bus.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		if err := s.apply(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) apply(m bus.Message) error {
	switch m.Tag {
	case bus.TagStart:
		s.startsTotal++
		return s.run()
	case bus.TagAutoWaterLeft, bus.TagAutoWaterRight, bus.TagManualWaterLeft, bus.TagManualWaterRight:
		s.dispensed = append(s.dispensed, m)
		tag := map[string]string{
			bus.TagAutoWaterLeft:    bus.EventAutoLeftWater,
			bus.TagAutoWaterRight:   bus.EventAutoRightWater,
			bus.TagManualWaterLeft:  bus.EventManualLeftWater,
			bus.TagManualWaterRight: bus.EventManualRightWater,
		}[m.Tag]
		if err := s.irregular.Push(bus.Msg(tag, s.goCue)); err != nil {
			log.Printf("simulator: %v", err)
		}
		return nil
	}
	var dst *float64
	switch m.Tag {
	case bus.TagLeftBait, bus.TagRightBait:
		v, err := m.Float()
		if err != nil {
			return err
		}
		s.cur.bait[map[string]int{bus.TagLeftBait: 0, bus.TagRightBait: 1}[m.Tag]] = v != 0
		return nil
	case bus.TagITI:
		dst = &s.cur.iti
	case bus.TagDelayTime:
		dst = &s.cur.delay
	case bus.TagResponseTime:
		dst = &s.cur.responseTime
	case bus.TagRewardDelay:
		dst = &s.cur.rewardDelay
	case bus.TagRewardConsumeTime:
		dst = &s.cur.consume
	default:
		return nil
	}
	v, err := m.Float()
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// choose picks the simulated response.
func (s *Simulator) choose() task.Choice {
	if s.rng.Float64() < IgnoreRate {
		return task.NoResponse
	}
	if s.policy == WinStayLoseSwitch && s.hasLast {
		if s.lastPaid {
			return s.last
		}
		return s.last.Other()
	}
	return task.Sides[s.rng.Intn(2)]
}

// run synthesizes the packet for the commanded trial. Timestamps come from
// accumulating iti, delay, response time and reward consumption.
func (s *Simulator) run() error {
	c := s.cur
	choice := s.choose()
	paid := choice != task.NoResponse && c.bait[choice]

	start := s.clock
	delayStart := start + c.iti
	goCue := delayStart + c.delay
	s.goCue = goCue
	outcomeAt := goCue + c.responseTime
	end := outcomeAt
	if choice != task.NoResponse {
		outcomeAt = goCue + 0.1 + s.rng.Float64()*max(c.responseTime-0.1, 0)
		end = outcomeAt
		if paid {
			end += c.rewardDelay + c.consume
		}
	}
	s.clock = end

	msgs := []bus.Message{
		bus.Msg(bus.TagTrialStartTime, start),
		bus.Msg(bus.TagDelayStartTime, delayStart),
		bus.Msg(bus.TagGoCueTime, goCue),
		bus.Msg(bus.TagGoCueTimeSoundCard, goCue+0.0005),
		bus.Msg(bus.TagBehaviorEvent, goCue),
		bus.Msg(bus.TagRewardOutcome, string(trial.OutcomeFor(choice, paid))),
		bus.Msg(bus.TagRewardOutcomeTime, outcomeAt),
		bus.Msg(bus.TagTrialEndTime, end),
		bus.Msg(bus.TagBehaviorEvent, end),
	}
	for _, m := range msgs {
		if err := s.packets.Push(m); err != nil {
			return fmt.Errorf("simulator: %w", err)
		}
	}
	if choice != task.NoResponse {
		lick := bus.EventLeftLick
		earned := bus.EventEarnedLeftWater
		if choice == task.Right {
			lick, earned = bus.EventRightLick, bus.EventEarnedRightWater
		}
		_ = s.irregular.Push(bus.Msg(lick, outcomeAt))
		if paid {
			_ = s.irregular.Push(bus.Msg(earned, outcomeAt+c.rewardDelay))
			for i := 1; i <= 3; i++ {
				_ = s.irregular.Push(bus.Msg(lick, outcomeAt+float64(i)*0.15))
			}
		}
		s.last, s.lastPaid, s.hasLast = choice, paid, true
	}
	return nil
}

// #endregion simulator
