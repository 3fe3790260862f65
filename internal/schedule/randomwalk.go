package schedule

import (
	"math/rand"

	"github.com/foraging-rig/go-controller/internal/task"
)

// #region random-walk
// RandomWalk drifts each side's probability by a clipped Gaussian step per
// trial. It has no block structure: the whole session is one block per side.
type RandomWalk struct {
	rng      *rand.Rand
	trialNow int
	prob     [2]float64
}

func NewRandomWalk(rng *rand.Rand) *RandomWalk {
	return &RandomWalk{rng: rng, trialNow: -1}
}

func (w *RandomWalk) NextTrial(cfg task.Config, _ *Outcome) Step {
	w.trialNow++
	rw := cfg.RandomWalk
	if w.trialNow == 0 {
		for s := 0; s < 2; s++ {
			w.prob[s] = rw.PMin[s] + w.rng.Float64()*(rw.PMax[s]-rw.PMin[s])
		}
		return Step{Prob: w.prob, Switched: [2]bool{true, true}}
	}
	if cfg.HoldBlock {
		return Step{Prob: w.prob, Message: "random walk held"}
	}
	next := w.prob
	for s := 0; s < 2; s++ {
		p := w.prob[s] + rw.Mean[s] + w.rng.NormFloat64()*rw.Sigma[s]
		next[s] = min(rw.PMax[s], max(rw.PMin[s], p))
	}
	// both ports dry is never offered
	if next[0]+next[1] > 0 {
		w.prob = next
	}
	return Step{Prob: w.prob}
}

// ExtendBlock is a no-op: a random walk has no block end to move.
func (w *RandomWalk) ExtendBlock(int) {}

func (w *RandomWalk) BlockLengths() [2][]int {
	if w.trialNow < 0 {
		return [2][]int{}
	}
	return [2][]int{{w.trialNow + 1}, {w.trialNow + 1}}
}

func (w *RandomWalk) Trials() int { return w.trialNow + 1 }

// #endregion random-walk
