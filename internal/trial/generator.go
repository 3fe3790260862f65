package trial

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/foraging-rig/go-controller/internal/opto"
	"github.com/foraging-rig/go-controller/internal/policy"
	"github.com/foraging-rig/go-controller/internal/schedule"
	"github.com/foraging-rig/go-controller/internal/stats"
	"github.com/foraging-rig/go-controller/internal/task"
	"github.com/foraging-rig/go-controller/internal/warning"
)

// MinInterval is the floor applied to ITI and delay draws, in seconds.
const MinInterval = 0.05

// #region clock
// Clock supplies wall time for session-duration checks.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// #endregion clock

// #region generator
// Options configures a Generator.
type Options struct {
	Seed       int64
	Calibrator opto.Calibrator
	Warnings   warning.Sink
	Clock      Clock
}

// Generator owns the per-session trial state: the reward schedule, residual
// bait, warmup and the committed history. It is not safe for concurrent use;
// the session loop drives it from one goroutine.
type Generator struct {
	rng     *rand.Rand
	task    task.Type
	sched   schedule.Schedule
	planner *opto.Planner
	tracker *stats.Tracker
	warn    warning.Sink
	clock   Clock
	start   time.Time

	history    *History
	residual   [2]bool
	blockMsg   string
	warmupDone bool
	stopped    *StopError

	pending     *Record
	pendingPlan opto.Plan
}

// NewGenerator validates cfg and builds the schedule for its task type.
// The task type is fixed for the life of the generator.
func NewGenerator(cfg task.Config, opts Options) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	sched, err := schedule.New(cfg, rng)
	if err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &Generator{
		rng:     rng,
		task:    cfg.Task,
		sched:   sched,
		planner: opto.NewPlanner(rng, opts.Calibrator),
		tracker: stats.NewTracker(cfg.Task.Baiting()),
		warn:    opts.Warnings,
		clock:   clock,
		start:   clock.Now(),
		history: &History{},
	}, nil
}

// #endregion generator

// #region generate
// GenerateNextTrial prepares the next trial. Until the pending trial is
// committed, repeated calls return the same record and plan. A fired
// auto-stop returns a *StopError wrapping ErrStopped.
func (g *Generator) GenerateNextTrial(cfg task.Config) (*Record, opto.Plan, error) {
	if g.pending != nil {
		return g.pending, g.pendingPlan, nil
	}
	if g.stopped != nil {
		return nil, opto.Plan{}, g.stopped
	}
	if err := cfg.Validate(); err != nil {
		return nil, opto.Plan{}, err
	}
	if cfg.Task != g.task {
		return nil, opto.Plan{}, task.Errorf("task", task.ErrIncompatible, "session started as %q, got %q", g.task, cfg.Task)
	}

	idx := g.history.Len()
	g.flushStats()

	ph := g.history.Policy()
	if d := policy.Stop(cfg.Stop, ph, idx, g.clock.Now().Sub(g.start)); d.Fired() {
		g.stopped = &StopError{Trial: idx, Reason: d.Reason}
		warning.Emit(g.warn, warning.Info, idx, "auto_stop", "%s", d.Reason)
		return nil, opto.Plan{}, g.stopped
	}

	warm := g.warmupActive(cfg)
	eff := cfg
	if warm {
		eff = cfg.WithWarmup()
	}

	rec := &Record{
		Index:        idx,
		Config:       cfg.Clone(),
		Warmup:       warm,
		ResponseTime: eff.ResponseTime,
		ResidualBait: g.residual,
	}

	aw := policy.AutoWater(eff.AutoWater, ph)

	var last *schedule.Outcome
	if r, ok := g.history.Last(); ok {
		last = &schedule.Outcome{Choice: r.Response, Rewarded: r.Earned(), AutoWater: r.AnyAutoWater()}
	}
	step := g.sched.NextTrial(eff, last)
	rec.RewardProb = step.Prob
	rec.BlockSwitched = step.Switched
	rec.BlockMessage = step.Message
	// Holds repeat their message every trial; log only the first.
	if step.Message != "" && step.Message != g.blockMsg {
		warning.Emit(g.warn, warning.Info, idx, "block", "%s", step.Message)
	}
	g.blockMsg = step.Message
	bl := g.sched.BlockLengths()
	rec.BlockCount = [2]int{len(bl[0]), len(bl[1])}

	rec.ITI = DrawInterval(g.rng, eff.Randomness, eff.ITI)
	rec.Delay = DrawInterval(g.rng, eff.Randomness, eff.Delay)

	g.bait(eff, rec)

	if aw.Fired() {
		rec.AutoWater = AutoWaterSides(eff.AutoWater.Type, rec.Bait, rec.RewardProb)
		rec.AutoWaterReason = aw.Reason
		for s := 0; s < 2; s++ {
			if rec.AutoWater[s] {
				rec.Bait[s] = false
			}
		}
		warning.Emit(g.warn, warning.Warning, idx, "auto_water", "%s", aw.Reason)
	}
	if eff.Task.Baiting() {
		g.residual = rec.Bait
	} else {
		g.residual = [2]bool{}
	}

	plan, err := g.planner.Plan(eff, idx, rec.ITI, rec.ResponseTime)
	if err != nil {
		if !opto.IsConfigError(err) {
			return nil, opto.Plan{}, fmt.Errorf("plan opto for trial %d: %w", idx, err)
		}
		warning.Emit(g.warn, warning.Error, idx, "opto", "%v; trial converted to control", err)
	}
	rec.Opto = plan.Record

	g.checkWarmup(cfg, idx)

	g.pending = rec
	g.pendingPlan = plan
	return rec, plan, nil
}

// bait draws the per-side bait for rec. In baiting tasks unchosen bait from
// the previous trial carries over. A RewardN side that is still inactive
// cannot be baited.
func (g *Generator) bait(cfg task.Config, rec *Record) {
	act, hasAct := g.sched.(schedule.Activator)
	for s, side := range task.Sides {
		u := g.rng.Float64()
		rec.RandomNumber[s] = u
		b := rec.RewardProb[s] > u
		if cfg.Task.Baiting() {
			b = b || rec.ResidualBait[s]
		}
		if hasAct && cfg.Task == task.RewardN && act.Inactive(side) {
			b = false
		}
		rec.Bait[s] = b
	}
}

// #endregion generate

// #region commit
// CommitOutcome applies the acquired outcome to the pending trial and
// appends it to the history.
func (g *Generator) CommitOutcome(res Result) (Record, error) {
	if g.pending == nil {
		return Record{}, ErrNoPending
	}
	if !res.Outcome.Valid() {
		return Record{}, fmt.Errorf("commit trial %d: %w: %q", g.pending.Index, ErrBadOutcome, res.Outcome)
	}
	rec := *g.pending
	rec.Completed = true
	rec.Outcome = res.Outcome
	rec.Response = res.Outcome.Choice()
	rec.Rewarded = res.Outcome.Rewarded()
	rec.Times = res.Times

	for s := 0; s < 2; s++ {
		if rec.Rewarded[s] && !rec.Bait[s] {
			return Record{}, invariantf(rec.Index, rec, "side %s rewarded without bait", task.Sides[s])
		}
	}
	if rec.Response != task.NoResponse {
		g.residual[rec.Response] = false
	} else if rec.Config.NoResponseExtendsBlock {
		g.sched.ExtendBlock(1)
	}

	g.history.append(rec)
	g.pending = nil
	g.pendingPlan = opto.Plan{}
	if err := g.checkHistory(); err != nil {
		return rec, err
	}
	return rec, nil
}

// checkHistory verifies that block lengths account for every assigned trial.
func (g *Generator) checkHistory() error {
	n := g.history.Len()
	if g.sched.Trials() != n {
		return invariantf(n-1, g.sched.BlockLengths(), "schedule assigned %d trials, history has %d", g.sched.Trials(), n)
	}
	bl := g.sched.BlockLengths()
	for s := 0; s < 2; s++ {
		sum := 0
		for _, l := range bl[s] {
			sum += l
		}
		if sum != n {
			return invariantf(n-1, bl, "block lengths on %s sum to %d, history has %d", task.Sides[s], sum, n)
		}
	}
	return nil
}

// #endregion commit

// #region stats
// flushStats feeds committed trials not yet seen by the tracker.
func (g *Generator) flushStats() {
	records := g.history.records
	for i := g.tracker.Len(); i < len(records); i++ {
		g.tracker.Add(StatsTrial(records[i]))
	}
}

// Summary feeds committed trials to the statistics and returns the running
// summary.
func (g *Generator) Summary() stats.Summary {
	g.flushStats()
	return g.tracker.Summary()
}

// Finish returns the final summary, including the last committed trial.
func (g *Generator) Finish() stats.Summary { return g.Summary() }

// AddLick records a lick on the hardware clock.
func (g *Generator) AddLick(side task.Choice, at float64) { g.tracker.AddLick(side, at) }

// #endregion stats

// #region warmup
func (g *Generator) warmupActive(cfg task.Config) bool {
	return cfg.Warmup.Enabled && !g.warmupDone
}

// checkWarmup turns warmup off once the animal finishes enough trials with
// little side bias.
func (g *Generator) checkWarmup(cfg task.Config, trial int) {
	if !g.warmupActive(cfg) {
		return
	}
	w := cfg.Warmup
	total, _, _ := g.tracker.Window(g.tracker.Len())
	finished, finishRatio, right := g.tracker.Window(w.WindowSize)
	if total < w.MinTrial || finished == 0 || math.IsNaN(right) {
		return
	}
	if finishRatio >= w.MinFinishRatio && math.Abs(right-0.5) <= w.MaxChoiceRatioBias {
		g.warmupDone = true
		warning.Emit(g.warn, warning.Info, trial, "warmup", "warmup finished after %d trials", trial+1)
	}
}

// #endregion warmup

// #region accessors
func (g *Generator) History() *History { return g.history }

func (g *Generator) Tracker() *stats.Tracker { return g.tracker }

func (g *Generator) Schedule() schedule.Schedule { return g.sched }

func (g *Generator) WarmupDone() bool { return g.warmupDone }

// Stopped returns the auto-stop error once the policy has fired.
func (g *Generator) Stopped() *StopError { return g.stopped }

// Pending returns the generated but uncommitted trial.
func (g *Generator) Pending() (*Record, bool) { return g.pending, g.pending != nil }

// #endregion accessors

// #region draws
// DrawInterval draws an ITI or delay. Exponential draws are shifted by Min
// and clipped to Max; Even draws are uniform on [Min, Max].
func DrawInterval(rng *rand.Rand, r task.Randomness, rg task.Range) float64 {
	var v float64
	if r == task.Even {
		v = rg.Min + rng.Float64()*(rg.Max-rg.Min)
	} else {
		v = math.Min(rng.ExpFloat64()*rg.Beta+rg.Min, rg.Max)
	}
	return math.Max(v, MinInterval)
}

// AutoWaterSides resolves which ports receive auto-water.
func AutoWaterSides(t task.AutoWaterType, bait [2]bool, prob [2]float64) [2]bool {
	switch t {
	case task.AutoWaterBoth:
		return [2]bool{true, true}
	case task.AutoWaterHighPro:
		switch {
		case prob[0] > prob[1]:
			return [2]bool{true, false}
		case prob[1] > prob[0]:
			return [2]bool{false, true}
		}
		return [2]bool{true, true}
	}
	return bait
}

// #endregion draws
