package trial

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvariant  = errors.New("invariant violation")
	ErrStopped    = errors.New("session stopped")
	ErrNoPending  = errors.New("no pending trial")
	ErrBadOutcome = errors.New("unknown reward outcome")
)

// InvariantError aborts the session. Dump is a JSON snapshot for diagnosis.
type InvariantError struct {
	Trial  int
	Detail string
	Dump   string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("trial %d: %v: %s", e.Trial, ErrInvariant, e.Detail)
}

func (e *InvariantError) Unwrap() error { return ErrInvariant }

func invariantf(trial int, dump any, format string, args ...any) *InvariantError {
	b, err := json.Marshal(dump)
	if err != nil {
		b = []byte(fmt.Sprintf("%+v", dump))
	}
	return &InvariantError{Trial: trial, Detail: fmt.Sprintf(format, args...), Dump: string(b)}
}

// StopError carries the reason the auto-stop policy ended the session.
type StopError struct {
	Trial  int
	Reason string
}

func (e *StopError) Error() string { return fmt.Sprintf("trial %d: %s", e.Trial, e.Reason) }

func (e *StopError) Unwrap() error { return ErrStopped }
