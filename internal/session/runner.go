package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/foraging-rig/go-controller/internal/acquire"
	"github.com/foraging-rig/go-controller/internal/bus"
	"github.com/foraging-rig/go-controller/internal/settings"
	"github.com/foraging-rig/go-controller/internal/stats"
	"github.com/foraging-rig/go-controller/internal/task"
	"github.com/foraging-rig/go-controller/internal/trial"
	"github.com/foraging-rig/go-controller/internal/warning"
)

// Stop reasons that do not come from the auto-stop policy.
const (
	ReasonCancelled = "cancelled"
	ReasonTimeout   = "outcome timeout"
	ReasonInvariant = "invariant violation"
)

// #region interfaces
// Journal persists committed trials. store.Journal is the SQLite one.
type Journal interface {
	AppendTrial(rec trial.Record, events []bus.Event) error
	AppendEvents(trial int, events []bus.Event) error
	Finish(reason string, sum stats.Summary) error
}

// Observer is told about every committed trial. monitor.Hub implements it.
type Observer interface {
	Trial(rec trial.Record, sum stats.Summary)
}

// #endregion interfaces

// #region options
// Options wires a Runner to its transport and shell.
type Options struct {
	Sink      bus.Sink   // trial and water commands
	Packets   bus.Source // trial-outcome packets
	Irregular bus.Source // licks and water deliveries; nil disables the pump

	Calibration    *settings.Calibration
	Journal        Journal
	Observer       Observer
	Warnings       warning.Sink
	Clock          trial.Clock
	Seed           int64
	OutcomeTimeout time.Duration // zero waits indefinitely
	EventQueueSize int
}

// Result is returned when a session ends.
type Result struct {
	Trials  int
	Reason  string
	Summary stats.Summary
}

// #endregion options

// #region runner
// Runner drives one session: generate, emit, await, commit, repeat.
// Operator controls may be called from any goroutine; they take effect at
// the next trial boundary.
type Runner struct {
	gen     *trial.Generator
	acq     *acquire.Acquirer
	opts    Options
	events  *bus.EventQueue
	timeout time.Duration

	mu         sync.Mutex
	cfg        task.Config
	stopReason string
	nextBlock  bool
}

// New validates cfg and builds the generator and acquirer.
func New(cfg task.Config, opts Options) (*Runner, error) {
	if opts.Sink == nil || opts.Packets == nil {
		return nil, errors.New("session: sink and packet source are required")
	}
	topts := trial.Options{Seed: opts.Seed, Warnings: opts.Warnings, Clock: opts.Clock}
	if opts.Calibration != nil {
		topts.Calibrator = opts.Calibration
	}
	gen, err := trial.NewGenerator(cfg, topts)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	size := opts.EventQueueSize
	if size <= 0 {
		size = 4096
	}
	return &Runner{
		gen: gen,
		acq: acquire.New(opts.Packets, opts.Sink, acquire.Options{
			Seed:     opts.Seed + 1,
			Clock:    opts.Clock,
			Warnings: opts.Warnings,
		}),
		opts:    opts,
		events:  bus.NewEventQueue(size),
		timeout: opts.OutcomeTimeout,
		cfg:     cfg.Clone(),
	}, nil
}

// Generator exposes the trial state for inspection after Run.
func (r *Runner) Generator() *trial.Generator { return r.gen }

// #endregion runner

// #region controls
// RequestStop ends the session after the current trial completes.
func (r *Runner) RequestStop(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopReason == "" {
		r.stopReason = reason
	}
}

// ForceNextBlock switches blocks on the next generated trial.
func (r *Runner) ForceNextBlock() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextBlock = true
}

// ManualWater gives a reward at the next go cue.
func (r *Runner) ManualWater(side task.Choice) error {
	if side != task.Left && side != task.Right {
		return fmt.Errorf("manual water: bad side %v", side)
	}
	r.acq.ReserveManualWater(side)
	return nil
}

// SetConfig replaces the configuration used from the next trial on. The
// task type cannot change mid-session.
func (r *Runner) SetConfig(cfg task.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.Task != r.cfg.Task {
		return task.Errorf("task", task.ErrIncompatible, "session started as %q, got %q", r.cfg.Task, cfg.Task)
	}
	r.cfg = cfg.Clone()
	return nil
}

// next returns the configuration for the upcoming trial, consuming a
// pending block switch, or the stop reason when one was requested.
func (r *Runner) next() (task.Config, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopReason != "" {
		return task.Config{}, r.stopReason
	}
	cfg := r.cfg
	cfg.NextBlock = r.nextBlock
	r.nextBlock = false
	return cfg, ""
}

// #endregion controls

// #region run
// Run executes trials until auto-stop, RequestStop or ctx cancellation.
// Invariant violations, outcome timeouts and transport errors end the
// session with an error; the journal is finished in every case.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	if r.opts.Irregular != nil {
		go func() {
			if err := bus.Pump(pumpCtx, r.opts.Irregular, r.events); err != nil && pumpCtx.Err() == nil {
				log.Printf("session: irregular event pump: %v", err)
			}
		}()
	}

	reason, runErr := r.loop(ctx)

	// Licks after the last commit still belong to the session.
	stopPump()
	if events := acquire.DrainEvents(r.events, r.gen); len(events) > 0 && r.opts.Journal != nil {
		last := max(r.gen.History().Len()-1, 0)
		if err := r.opts.Journal.AppendEvents(last, events); err != nil {
			log.Printf("session: %d trailing events not persisted: %v", len(events), err)
		}
	}
	if lost := r.events.Lost(); lost > 0 {
		warning.Emit(r.opts.Warnings, warning.Warning, r.gen.History().Len(), "events", "%d irregular events lost", lost)
	}

	sum := r.gen.Finish()
	res := Result{Trials: r.gen.History().Len(), Reason: reason, Summary: sum}
	if r.opts.Journal != nil {
		if err := r.opts.Journal.Finish(reason, sum); err != nil {
			log.Printf("session: finish journal: %v", err)
			if runErr == nil {
				runErr = fmt.Errorf("session: finish journal: %w", err)
			}
		}
	}
	log.Printf("session: ended after %d trials: %s", res.Trials, reason)
	return res, runErr
}

func (r *Runner) loop(ctx context.Context) (string, error) {
	for {
		if ctx.Err() != nil {
			return ReasonCancelled, nil
		}
		cfg, reason := r.next()
		if reason != "" {
			return reason, nil
		}

		rec, plan, err := r.gen.GenerateNextTrial(cfg)
		var stop *trial.StopError
		if errors.As(err, &stop) {
			return stop.Reason, nil
		}
		if err != nil {
			return "error", fmt.Errorf("session: generate trial %d: %w", r.gen.History().Len(), err)
		}

		valves := r.opts.Calibration.ValveTimes(rec.Effective().Valves)
		if err := r.opts.Sink.Send(ctx, bus.TrialCommands(rec, plan, valves)...); err != nil {
			if ctx.Err() != nil {
				return ReasonCancelled, nil
			}
			return "error", fmt.Errorf("session: send trial %d: %w", rec.Index, err)
		}

		res, err := r.await(ctx, rec)
		if err != nil {
			if ctx.Err() != nil {
				return ReasonCancelled, nil
			}
			if errors.Is(err, acquire.ErrOutcomeTimeout) {
				warning.Emit(r.opts.Warnings, warning.Error, rec.Index, "timeout", "%v", err)
				return ReasonTimeout, err
			}
			return "error", err
		}

		committed, err := r.gen.CommitOutcome(res)
		if err != nil {
			if errors.Is(err, trial.ErrInvariant) {
				warning.Emit(r.opts.Warnings, warning.Error, rec.Index, "invariant", "%v", err)
				return ReasonInvariant, err
			}
			return "error", fmt.Errorf("session: commit trial %d: %w", rec.Index, err)
		}

		events := acquire.DrainEvents(r.events, r.gen)
		if r.opts.Journal != nil {
			if err := r.opts.Journal.AppendTrial(committed, events); err != nil {
				warning.Emit(r.opts.Warnings, warning.Error, committed.Index, "journal", "trial not persisted: %v", err)
			}
		}
		if r.opts.Observer != nil {
			r.opts.Observer.Trial(committed, r.gen.Summary())
		}
	}
}

func (r *Runner) await(ctx context.Context, rec *trial.Record) (trial.Result, error) {
	if r.timeout <= 0 {
		return r.acq.Await(ctx, rec)
	}
	actx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	res, err := r.acq.Await(actx, rec)
	if err != nil && ctx.Err() == nil && actx.Err() != nil && !errors.Is(err, acquire.ErrOutcomeTimeout) {
		err = fmt.Errorf("%w: %v", acquire.ErrOutcomeTimeout, err)
	}
	return res, err
}

// #endregion run
