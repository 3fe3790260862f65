package acquire

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/foraging-rig/go-controller/internal/bus"
	"github.com/foraging-rig/go-controller/internal/task"
	"github.com/foraging-rig/go-controller/internal/trial"
	"github.com/foraging-rig/go-controller/internal/warning"
)

var (
	ErrOutcomeTimeout = errors.New("trial outcome timeout")
	ErrPacket         = errors.New("malformed outcome packet")
)

// #region packet
// required lists the packet tags that must arrive before a trial is done.
// Two BehaviorEvent messages are required as well.
var required = []string{
	bus.TagTrialStartTime,
	bus.TagGoCueTime,
	bus.TagGoCueTimeSoundCard,
	bus.TagRewardOutcome,
	bus.TagRewardOutcomeTime,
	bus.TagTrialEndTime,
}

// packet collects one trial's tagged messages in any interleaving.
type packet struct {
	res      trial.Result
	seen     map[string]bool
	behavior int
}

func newPacket() *packet { return &packet{seen: map[string]bool{}} }

// apply consumes one message. It reports whether the go-cue sound-card
// tick just arrived.
func (p *packet) apply(m bus.Message) (goCue bool, err error) {
	if m.Tag == bus.TagRewardOutcome {
		s, err := m.Text()
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrPacket, err)
		}
		o := trial.Outcome(s)
		if !o.Valid() {
			return false, fmt.Errorf("%w: reward outcome %q", ErrPacket, s)
		}
		if p.seen[m.Tag] {
			log.Printf("acquire: duplicate %s ignored", m.Tag)
			return false, nil
		}
		p.seen[m.Tag] = true
		p.res.Outcome = o
		return false, nil
	}

	v, err := m.Float()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPacket, err)
	}
	ts := &p.res.Times
	switch m.Tag {
	case bus.TagDelayStartTime:
		if ts.DelayStart == nil {
			ts.DelayStart = &v
		} else {
			ts.DelayRestarts++
		}
		return false, nil
	case bus.TagBehaviorEvent:
		switch p.behavior {
		case 0:
			ts.HWGoCue = v
		case 1:
			ts.HWTrialEnd = v
		default:
			log.Printf("acquire: extra %s at %.4f ignored", m.Tag, v)
		}
		p.behavior++
		return false, nil
	}

	var field *float64
	switch m.Tag {
	case bus.TagTrialStartTime:
		field = &ts.TrialStart
	case bus.TagGoCueTime:
		field = &ts.GoCue
	case bus.TagGoCueTimeSoundCard:
		field = &ts.GoCueSoundCard
	case bus.TagRewardOutcomeTime:
		field = &ts.RewardOutcome
	case bus.TagTrialEndTime:
		field = &ts.TrialEnd
	default:
		log.Printf("acquire: unexpected tag %s ignored", m.Tag)
		return false, nil
	}
	if p.seen[m.Tag] {
		log.Printf("acquire: duplicate %s ignored", m.Tag)
		return false, nil
	}
	p.seen[m.Tag] = true
	*field = v
	return m.Tag == bus.TagGoCueTimeSoundCard, nil
}

func (p *packet) complete() bool {
	for _, tag := range required {
		if !p.seen[tag] {
			return false
		}
	}
	return p.behavior >= 2
}

func (p *packet) missing() string {
	var out []string
	for _, tag := range required {
		if !p.seen[tag] {
			out = append(out, tag)
		}
	}
	if p.behavior < 2 {
		out = append(out, fmt.Sprintf("%s x%d", bus.TagBehaviorEvent, 2-p.behavior))
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

// #endregion packet

// #region acquirer
// Options configures an Acquirer.
type Options struct {
	Seed     int64
	Clock    trial.Clock
	Warnings warning.Sink
}

// Acquirer waits for trial-outcome packets and dispenses water at the go cue.
type Acquirer struct {
	src   bus.Source
	sink  bus.Sink
	rng   *rand.Rand
	clock trial.Clock
	start time.Time
	warn  warning.Sink

	mu     sync.Mutex
	manual [2]int
}

func New(src bus.Source, sink bus.Sink, opts Options) *Acquirer {
	clock := opts.Clock
	if clock == nil {
		clock = trial.SystemClock{}
	}
	return &Acquirer{
		src:   src,
		sink:  sink,
		rng:   rand.New(rand.NewSource(opts.Seed)),
		clock: clock,
		start: clock.Now(),
		warn:  opts.Warnings,
	}
}

// ReserveManualWater queues a manual reward for the next go cue. Safe to
// call from any goroutine.
func (a *Acquirer) ReserveManualWater(side task.Choice) {
	if side != task.Left && side != task.Right {
		return
	}
	a.mu.Lock()
	a.manual[side]++
	a.mu.Unlock()
}

// Await blocks until the packet for rec is complete. An incomplete packet
// when ctx expires yields ErrOutcomeTimeout.
func (a *Acquirer) Await(ctx context.Context, rec *trial.Record) (trial.Result, error) {
	p := newPacket()
	localStart := a.clock.Now().Sub(a.start).Seconds()
	dispensed := false
	for !p.complete() {
		m, err := a.src.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return trial.Result{}, fmt.Errorf("%w: trial %d missing %s: %v", ErrOutcomeTimeout, rec.Index, p.missing(), ctx.Err())
			}
			return trial.Result{}, fmt.Errorf("await trial %d: %w", rec.Index, err)
		}
		goCue, err := p.apply(m)
		if err != nil {
			return trial.Result{}, fmt.Errorf("trial %d: %w", rec.Index, err)
		}
		if goCue && !dispensed {
			dispensed = true
			if err := a.dispense(ctx, rec); err != nil {
				return trial.Result{}, err
			}
		}
	}
	p.res.Times.LocalStart = localStart
	p.res.Times.LocalEnd = a.clock.Now().Sub(a.start).Seconds()
	return p.res, nil
}

// dispense triggers scheduled auto-water, in random side order, and any
// reserved manual water.
func (a *Acquirer) dispense(ctx context.Context, rec *trial.Record) error {
	var msgs []bus.Message
	order := task.Sides
	if a.rng.Intn(2) == 1 {
		order = [2]task.Choice{task.Right, task.Left}
	}
	for _, side := range order {
		if rec.AutoWater[side] {
			msgs = append(msgs, bus.WaterCommand(side, true))
		}
	}
	a.mu.Lock()
	manual := a.manual
	a.manual = [2]int{}
	a.mu.Unlock()
	for _, side := range task.Sides {
		for i := 0; i < manual[side]; i++ {
			msgs = append(msgs, bus.WaterCommand(side, false))
		}
		if manual[side] > 0 {
			warning.Emit(a.warn, warning.Info, rec.Index, "manual_water", "%d manual reward(s) on %s", manual[side], side)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := a.sink.Send(ctx, msgs...); err != nil {
		return fmt.Errorf("dispense trial %d: %w", rec.Index, err)
	}
	return nil
}

// #endregion acquirer

// #region drain
// LickRecorder receives lick timestamps.
type LickRecorder interface {
	AddLick(side task.Choice, at float64)
}

// DrainEvents empties q without blocking, forwards licks to licks and
// returns every drained event.
func DrainEvents(q *bus.EventQueue, licks LickRecorder) []bus.Event {
	events := q.Drain()
	for _, e := range events {
		if side, ok := e.LickSide(); ok && licks != nil {
			licks.AddLick(side, e.Time)
		}
	}
	return events
}

// #endregion drain
