package schedule

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/foraging-rig/go-controller/internal/task"
)

// #region uncoupled
// Uncoupled runs independent L and R block sequences drawn from a reward
// pool. Neither side may sit above the other for more than MaxBlockTally
// effective blocks, the two sides never share the pool minimum, and with a
// pool of two or more values they never share any value.
type Uncoupled struct {
	rng *rand.Rand

	pool    []float64
	min     float64
	stagger int

	trialNow  int
	ends      [2][]int // exclusive end of every block; the last one is open
	probs     [2][]float64
	ind       [2]int
	trialProb [2][]float64
	tally     [2]int
	persev    [2]int
	out       outcomes
	diag      Diagnostics
}

// Diagnostics records why the uncoupled generator intervened.
type Diagnostics struct {
	EffectiveBlocks   int      `json:"effective_blocks"`
	ForcedByTally     [2][]int `json:"forced_by_tally"`
	ForcedBothLowest  [2][]int `json:"forced_by_both_lowest"`
	PerseverativeAdds []int    `json:"perseverative_adds"`
}

// NewUncoupled returns an uncoupled schedule. The first blocks are drawn on the first NextTrial.
func NewUncoupled(rng *rand.Rand) *Uncoupled {
	return &Uncoupled{rng: rng, trialNow: -1}
}

func (u *Uncoupled) NextTrial(cfg task.Config, last *Outcome) Step {
	if u.trialNow >= 0 {
		u.out.add(last)
	}
	u.trialNow++
	u.setPool(cfg)

	var msgs []string
	var switched [2]bool
	if u.trialNow == 0 {
		u.first(cfg)
		switched = [2]bool{true, true}
		msgs = append(msgs, fmt.Sprintf("first blocks L=%.3f R=%.3f", u.current(0), u.current(1)))
	} else if cfg.HoldBlock {
		for s := 0; s < 2; s++ {
			if u.trialNow >= u.ends[s][u.ind[s]] {
				u.ends[s][u.ind[s]] = u.trialNow + 1
			}
		}
		msgs = append(msgs, "block held")
	} else {
		before := [2]float64{u.current(0), u.current(1)}
		msgs = append(msgs, u.advance(cfg)...)
		switched = [2]bool{u.current(0) != before[0] || u.blockStart(0) == u.trialNow, u.current(1) != before[1] || u.blockStart(1) == u.trialNow}
	}

	for s := 0; s < 2; s++ {
		u.trialProb[s] = append(u.trialProb[s], u.current(s))
	}
	if m := u.perseverate(cfg); m != "" {
		msgs = append(msgs, m)
	}
	return Step{
		Prob:     [2]float64{u.current(0), u.current(1)},
		Switched: switched,
		Message:  strings.Join(msgs, "; "),
	}
}

// advance closes every due block, applies the tally and both-lowest rules
// and returns diagnostic messages.
func (u *Uncoupled) advance(cfg task.Config) []string {
	var msgs []string
	var due [2]bool
	for s := 0; s < 2; s++ {
		if !cfg.NextBlock && u.trialNow < u.ends[s][u.ind[s]] {
			continue
		}
		if !cfg.NextBlock {
			probs := [2]float64{u.current(0), u.current(1)}
			if ok, why := permitSwitch(cfg, &u.out, u.blockStart(s), probs, false); !ok {
				u.ends[s][u.ind[s]] = u.trialNow + 1
				msgs = append(msgs, fmt.Sprintf("%s %s", task.Sides[s], why))
				continue
			}
		}
		due[s] = true
	}
	if !due[0] && !due[1] {
		return msgs
	}

	u.diag.EffectiveBlocks++
	u.updateTally()
	maxTally := cfg.Uncoupled.MaxBlockTally
	for s := 0; s < 2; s++ {
		if !due[s] {
			continue
		}
		force := maxTally > 0 && u.tally[s] >= maxTally && len(u.pool) >= 2
		u.switchSide(cfg, s, force)
		if force {
			u.diag.ForcedByTally[s] = append(u.diag.ForcedByTally[s], u.trialNow)
			u.tally = [2]int{}
			msgs = append(msgs, fmt.Sprintf("%s forced to %.3f after %d higher blocks", task.Sides[s], u.current(s), maxTally))
		}
		msgs = append(msgs, u.resolve(cfg, s)...)
	}
	for s := 0; s < 2; s++ {
		o := 1 - s
		if due[s] || maxTally <= 0 || u.tally[s] < maxTally || u.current(s) <= u.current(o) {
			continue
		}
		u.switchSide(cfg, s, true)
		u.diag.ForcedByTally[s] = append(u.diag.ForcedByTally[s], u.trialNow)
		u.tally = [2]int{}
		msgs = append(msgs, fmt.Sprintf("%s forced to %.3f after %d higher blocks", task.Sides[s], u.current(s), maxTally))
		msgs = append(msgs, u.resolve(cfg, s)...)
	}
	return msgs
}

// first draws the opening blocks and staggers the lower side.
func (u *Uncoupled) first(cfg task.Config) {
	for s := 0; s < 2; s++ {
		u.ends[s] = []int{BlockLength(u.rng, task.Even, cfg.Block)}
		u.probs[s] = []float64{math.NaN()}
	}
	u.probs[0][0] = u.draw(math.NaN(), math.NaN(), false)
	u.probs[1][0] = u.draw(math.NaN(), u.probs[0][0], false)

	low := 0
	if u.probs[1][0] < u.probs[0][0] {
		low = 1
	}
	u.ends[low][0] -= u.stagger
	if u.ends[low][0] < 1 {
		u.ends[low][0] = 1
	}
}

// switchSide closes the open block of side s at the current trial and opens
// a new one. A block that opened on this same trial is redrawn in place.
func (u *Uncoupled) switchSide(cfg task.Config, s int, forceMin bool) {
	other := u.current(1 - s)
	if u.blockStart(s) == u.trialNow {
		prev := math.NaN()
		if u.ind[s] > 0 {
			prev = u.probs[s][u.ind[s]-1]
		}
		u.probs[s][u.ind[s]] = u.draw(prev, other, forceMin)
		return
	}
	prev := u.current(s)
	u.ends[s][u.ind[s]] = u.trialNow
	u.ind[s]++
	u.ends[s] = append(u.ends[s], u.trialNow+BlockLength(u.rng, task.Even, cfg.Block))
	u.probs[s] = append(u.probs[s], u.draw(prev, other, forceMin))
}

// resolve breaks a tie between side s and the other side. When both sit at
// the pool minimum, s is staggered and the other side is forced to switch.
func (u *Uncoupled) resolve(cfg task.Config, s int) []string {
	o := 1 - s
	if len(u.pool) < 2 || u.current(s) != u.current(o) {
		return nil
	}
	var msgs []string
	if u.current(s) == u.min {
		end := u.ends[s][u.ind[s]] - u.stagger
		if end <= u.trialNow {
			end = u.trialNow + 1
		}
		u.ends[s][u.ind[s]] = end
		u.diag.ForcedBothLowest[o] = append(u.diag.ForcedBothLowest[o], u.trialNow)
		msgs = append(msgs, fmt.Sprintf("both sides at minimum, %s staggered and %s switched", task.Sides[s], task.Sides[o]))
	}
	u.switchSide(cfg, o, false)
	return msgs
}

// draw samples from the pool excluding prev and other. Exclusions are
// relaxed in that order when the pool is too small.
func (u *Uncoupled) draw(prev, other float64, forceMin bool) float64 {
	if forceMin && u.min != prev {
		return u.min
	}
	candidates := u.without(prev, other)
	if len(candidates) == 0 {
		candidates = u.without(prev)
	}
	if len(candidates) == 0 {
		candidates = u.pool
	}
	return candidates[u.rng.Intn(len(candidates))]
}

func (u *Uncoupled) without(vals ...float64) []float64 {
	var out []float64
	for _, p := range u.pool {
		skip := false
		for _, v := range vals {
			if p == v {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, p)
		}
	}
	return out
}

// updateTally compares the probabilities of the effective block that just
// ended. Ties count for both sides.
func (u *Uncoupled) updateTally() {
	l, r := u.current(0), u.current(1)
	switch {
	case l > r:
		u.tally[0]++
		u.tally[1] = 0
	case l < r:
		u.tally[1]++
		u.tally[0] = 0
	default:
		u.tally[0]++
		u.tally[1]++
	}
}

// perseverate extends both blocks when the animal keeps choosing the
// minimum-probability side.
func (u *Uncoupled) perseverate(cfg task.Config) string {
	if !cfg.Uncoupled.PerseverativeAdd || cfg.HoldBlock {
		u.persev = [2]int{}
		return ""
	}
	choice, ok := u.out.last()
	if !ok || choice == task.NoResponse || len(u.trialProb[0]) < 2 {
		return ""
	}
	s := int(choice)
	u.persev[1-s] = 0
	if u.trialProb[s][len(u.trialProb[s])-2] == u.min {
		u.persev[s]++
	}
	limit := cfg.Uncoupled.PerseverativeLimit
	if limit < 1 || u.persev[s] < limit {
		return ""
	}
	for side := 0; side < 2; side++ {
		u.ends[side][u.ind[side]] += limit
	}
	u.persev = [2]int{}
	u.diag.PerseverativeAdds = append(u.diag.PerseverativeAdds, u.trialNow)
	return fmt.Sprintf("perseverative choices on %s, both blocks extended by %d", task.Sides[s], limit)
}

func (u *Uncoupled) setPool(cfg task.Config) {
	seen := map[float64]bool{}
	u.pool = u.pool[:0]
	for _, p := range cfg.UncoupledRewardPool {
		if !seen[p] {
			seen[p] = true
			u.pool = append(u.pool, p)
		}
	}
	sort.Float64s(u.pool)
	if len(u.pool) > 0 {
		u.min = u.pool[0]
	}
	// half the mean block length
	u.stagger = int((math.RoundToEven(float64(cfg.Block.Max-cfg.Block.Min)-0.5)/2 + float64(cfg.Block.Min)) / 2)
}

func (u *Uncoupled) current(s int) float64 { return u.probs[s][u.ind[s]] }

func (u *Uncoupled) blockStart(s int) int {
	if u.ind[s] == 0 {
		return 0
	}
	return u.ends[s][u.ind[s]-1]
}

func (u *Uncoupled) ExtendBlock(n int) {
	if u.trialNow < 0 {
		return
	}
	for s := 0; s < 2; s++ {
		u.ends[s][u.ind[s]] += n
	}
}

func (u *Uncoupled) BlockLengths() [2][]int {
	var out [2][]int
	if u.trialNow < 0 {
		return out
	}
	for s := 0; s < 2; s++ {
		start := 0
		for i := 0; i < u.ind[s]; i++ {
			if n := u.ends[s][i] - start; n > 0 {
				out[s] = append(out[s], n)
			}
			start = u.ends[s][i]
		}
		out[s] = append(out[s], u.trialNow+1-start)
	}
	return out
}

func (u *Uncoupled) Trials() int { return u.trialNow + 1 }

// Diagnostics returns a copy of the intervention log.
func (u *Uncoupled) Diagnostics() Diagnostics {
	d := u.diag
	for s := 0; s < 2; s++ {
		d.ForcedByTally[s] = append([]int(nil), d.ForcedByTally[s]...)
		d.ForcedBothLowest[s] = append([]int(nil), d.ForcedBothLowest[s]...)
	}
	d.PerseverativeAdds = append([]int(nil), d.PerseverativeAdds...)
	return d
}

// #endregion uncoupled
