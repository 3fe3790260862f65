package stats

import (
	"errors"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/foraging-rig/go-controller/internal/task"
)

var ErrTooFewTrials = errors.New("too few responded trials for bias fit")

// #region types
// BiasConfig controls the logistic choice-bias fit.
type BiasConfig struct {
	TrialsBack int     `json:"n_trial_back"`
	Bootstrap  int     `json:"bootstrap"`
	Threshold  float64 `json:"threshold"`
	Ridge      float64 `json:"ridge"`
}

// DefaultBiasConfig returns the fit settings used during a session.
func DefaultBiasConfig() BiasConfig {
	return BiasConfig{TrialsBack: 5, Bootstrap: 200, Threshold: 0.7, Ridge: 1e-3}
}

// Bias is the fitted intercept of the choice model. Positive values mean
// a right bias.
type Bias struct {
	Value   float64   `json:"bias"`
	CILow   float64   `json:"ci_low"`
	CIHigh  float64   `json:"ci_high"`
	Flagged bool      `json:"flagged"`
	Weights []float64 `json:"weights"`
	N       int       `json:"n"`
}

// #endregion types

// #region fit
// FitBias regresses right choices on rewarded and unrewarded choice history
// over the last TrialsBack trials. The intercept is the bias; its 95% CI
// comes from a bootstrap over trials.
func FitBias(choices []task.Choice, rewarded []bool, cfg BiasConfig, rng *rand.Rand) (Bias, error) {
	x, y := biasDesign(choices, rewarded, cfg.TrialsBack)
	n := len(y)
	if n < 2*(2*cfg.TrialsBack+1) {
		return Bias{N: n}, ErrTooFewTrials
	}
	w, err := logistic(x, y, cfg.Ridge)
	if err != nil {
		return Bias{N: n}, err
	}
	res := Bias{Value: w[0], Weights: w, N: n, CILow: w[0], CIHigh: w[0]}

	if cfg.Bootstrap > 0 && rng != nil {
		var intercepts []float64
		bx := make([][]float64, n)
		by := make([]float64, n)
		for b := 0; b < cfg.Bootstrap; b++ {
			for i := range by {
				j := rng.Intn(n)
				bx[i], by[i] = x[j], y[j]
			}
			if bw, err := logistic(bx, by, cfg.Ridge); err == nil {
				intercepts = append(intercepts, bw[0])
			}
		}
		if len(intercepts) > 0 {
			sort.Float64s(intercepts)
			res.CILow = stat.Quantile(0.025, stat.Empirical, intercepts, nil)
			res.CIHigh = stat.Quantile(0.975, stat.Empirical, intercepts, nil)
		}
	}
	res.Flagged = math.Abs(res.Value) > cfg.Threshold && (res.CILow > 0 || res.CIHigh < 0)
	return res, nil
}

// biasDesign builds rows [1, RC_1..RC_k, UC_1..UC_k] for every responded
// trial with k trials of history. RC is +1/-1 for a rewarded right/left
// choice, UC the same for unrewarded choices.
func biasDesign(choices []task.Choice, rewarded []bool, k int) ([][]float64, []float64) {
	var x [][]float64
	var y []float64
	for t := k; t < len(choices); t++ {
		if choices[t] == task.NoResponse {
			continue
		}
		row := make([]float64, 1+2*k)
		row[0] = 1
		for back := 1; back <= k; back++ {
			c := choices[t-back]
			if c == task.NoResponse {
				continue
			}
			sign := -1.0
			if c == task.Right {
				sign = 1
			}
			if rewarded[t-back] {
				row[back] = sign
			} else {
				row[k+back] = sign
			}
		}
		x = append(x, row)
		y = append(y, b2f(choices[t] == task.Right))
	}
	return x, y
}

// logistic fits weights by iteratively reweighted least squares with a
// small ridge penalty so separable data still converges.
func logistic(rows [][]float64, y []float64, ridge float64) ([]float64, error) {
	n, p := len(rows), len(rows[0])
	X := mat.NewDense(n, p, nil)
	for i, r := range rows {
		X.SetRow(i, r)
	}
	beta := mat.NewVecDense(p, nil)
	eta := mat.NewVecDense(n, nil)
	for iter := 0; iter < 50; iter++ {
		eta.MulVec(X, beta)
		wx := mat.NewDense(n, p, nil)
		z := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			mu := 1 / (1 + math.Exp(-eta.AtVec(i)))
			w := math.Max(mu*(1-mu), 1e-9)
			z.SetVec(i, w*(eta.AtVec(i)+(y[i]-mu)/w))
			for j := 0; j < p; j++ {
				wx.Set(i, j, w*X.At(i, j))
			}
		}
		var h mat.Dense
		h.Mul(X.T(), wx)
		for j := 0; j < p; j++ {
			h.Set(j, j, h.At(j, j)+ridge)
		}
		var g mat.VecDense
		g.MulVec(X.T(), z)
		var next mat.VecDense
		if err := next.SolveVec(&h, &g); err != nil {
			return nil, err
		}
		delta := make([]float64, p)
		floats.SubTo(delta, next.RawVector().Data, beta.RawVector().Data)
		beta.CopyVec(&next)
		if floats.Norm(delta, 2) < 1e-8 {
			break
		}
	}
	return append([]float64(nil), beta.RawVector().Data...), nil
}

// #endregion fit
