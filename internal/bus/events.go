package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/foraging-rig/go-controller/internal/task"
)

// #region tags
// Irregular event tags. Each carries a hardware-clock timestamp.
const (
	EventLeftLick             = "LeftLickTime"
	EventRightLick            = "RightLickTime"
	EventLeftRewardDelivery   = "LeftRewardDeliveryTime"
	EventRightRewardDelivery  = "RightRewardDeliveryTime"
	EventPhotometryRising     = "PhotometryRising"
	EventPhotometryFalling    = "PhotometryFalling"
	EventOptogeneticsTimeHarp = "OptogeneticsTimeHarp"
	EventManualLeftWater      = "ManualLeftWaterStartTime"
	EventManualRightWater     = "ManualRightWaterStartTime"
	EventEarnedLeftWater      = "EarnedLeftWaterStartTime"
	EventEarnedRightWater     = "EarnedRightWaterStartTime"
	EventAutoLeftWater        = "AutoLeftWaterStartTime"
	EventAutoRightWater       = "AutoRightWaterStartTime"
)

// #endregion tags

// ErrEventLost is returned when the queue is full and an event is dropped.
var ErrEventLost = errors.New("irregular event lost")

// #region event
// Event is one irregular hardware event.
type Event struct {
	Tag  string  `json:"tag"`
	Time float64 `json:"time"`
}

// LickSide reports the port of a lick event.
func (e Event) LickSide() (task.Choice, bool) {
	switch e.Tag {
	case EventLeftLick:
		return task.Left, true
	case EventRightLick:
		return task.Right, true
	}
	return task.NoResponse, false
}

// EventFromMessage converts a bus message carrying a timestamp.
func EventFromMessage(m Message) (Event, error) {
	t, err := m.Float()
	if err != nil {
		return Event{}, err
	}
	return Event{Tag: m.Tag, Time: t}, nil
}

// #endregion event

// #region queue
// EventQueue is a bounded multiple-producer single-consumer queue. Push
// never blocks; Drain never blocks.
type EventQueue struct {
	ch   chan Event
	lost atomic.Int64
}

func NewEventQueue(capacity int) *EventQueue {
	return &EventQueue{ch: make(chan Event, capacity)}
}

// Push enqueues e or drops it when the queue is full.
func (q *EventQueue) Push(e Event) error {
	select {
	case q.ch <- e:
		return nil
	default:
		q.lost.Add(1)
		return fmt.Errorf("%w: %s at %.4f", ErrEventLost, e.Tag, e.Time)
	}
}

// Drain returns every queued event in arrival order.
func (q *EventQueue) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-q.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

// Lost returns the number of dropped events.
func (q *EventQueue) Lost() int64 { return q.lost.Load() }

// #endregion queue

// #region pump
// Pump copies messages from src into q until ctx ends or src fails. Lost
// and malformed events are logged only.
func Pump(ctx context.Context, src Source, q *EventQueue) error {
	for {
		m, err := src.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pump irregular events: %w", err)
		}
		e, err := EventFromMessage(m)
		if err != nil {
			log.Printf("bus: skipping irregular event: %v", err)
			continue
		}
		if err := q.Push(e); err != nil {
			log.Printf("bus: %v", err)
		}
	}
}

// #endregion pump
