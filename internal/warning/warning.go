package warning

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// #region types
// Severity drives colorization in the surrounding UI.
type Severity string

const (
	Info    Severity = "info"
	Warning Severity = "warning"
	Error   Severity = "error"
)

// Message is a user-visible notice raised by the trial loop.
type Message struct {
	Severity Severity  `json:"severity"`
	Tag      string    `json:"tag"`
	Text     string    `json:"text"`
	Trial    int       `json:"trial"`
	Time     time.Time `json:"time"`
}

// Sink receives warnings. Implementations must not block the trial loop.
type Sink interface {
	Warn(Message)
}

// #endregion types

// #region helpers
// Emit formats and sends a message to s. A nil sink drops the message.
func Emit(s Sink, sev Severity, trial int, tag, format string, args ...any) {
	if s == nil {
		return
	}
	s.Warn(Message{
		Severity: sev,
		Tag:      tag,
		Text:     fmt.Sprintf(format, args...),
		Trial:    trial,
		Time:     time.Now(),
	})
}

// Fanout forwards every message to each sink in order.
type Fanout []Sink

func (f Fanout) Warn(m Message) {
	for _, s := range f {
		if s != nil {
			s.Warn(m)
		}
	}
}

// #endregion helpers

// #region log-sink
// LogSink writes messages through the standard logger.
type LogSink struct {
	Logger *log.Logger
}

func (l LogSink) Warn(m Message) {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[%s] trial=%d %s: %s", m.Severity, m.Trial, m.Tag, m.Text)
}

// #endregion log-sink

// #region recorder
// Recorder keeps every message in memory. Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Warn(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// Tagged returns recorded messages carrying tag.
func (r *Recorder) Tagged(tag string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Tag == tag {
			out = append(out, m)
		}
	}
	return out
}

// #endregion recorder
