package bus

import (
	"context"
	"fmt"
	"sync"
)

// Loopback is an in-process Source fed by Push.
type Loopback struct {
	ch chan Message
}

func NewLoopback(capacity int) *Loopback {
	return &Loopback{ch: make(chan Message, capacity)}
}

// Push enqueues m without blocking.
func (l *Loopback) Push(m Message) error {
	select {
	case l.ch <- m:
		return nil
	default:
		return fmt.Errorf("loopback full, dropping %s", m.Tag)
	}
}

// Receive returns a queued message before honoring ctx.
func (l *Loopback) Receive(ctx context.Context) (Message, error) {
	if m, ok := l.TryReceive(); ok {
		return m, nil
	}
	select {
	case m := <-l.ch:
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// TryReceive returns a queued message without blocking.
func (l *Loopback) TryReceive() (Message, bool) {
	select {
	case m := <-l.ch:
		return m, true
	default:
		return Message{}, false
	}
}

// Recorder is a Sink that keeps every batch it receives.
type Recorder struct {
	mu      sync.Mutex
	batches [][]Message
}

func (r *Recorder) Send(_ context.Context, msgs ...Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]Message(nil), msgs...))
	return nil
}

// Batches returns a copy of the received batches.
func (r *Recorder) Batches() [][]Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]Message(nil), r.batches...)
}
