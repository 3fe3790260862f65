package policy

import (
	"fmt"
	"time"

	"github.com/foraging-rig/go-controller/internal/task"
)

// #region types
// Action is what a policy decided.
type Action string

const (
	ActionNone      Action = "none"
	ActionAutoWater Action = "auto_water"
	ActionStop      Action = "stop"
)

// Decision carries the action and the reason shown to the operator.
type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// Fired reports whether the decision asks for anything.
func (d Decision) Fired() bool { return d.Action != ActionNone && d.Action != "" }

// History is the behavior record the policies read. Rewarded[t] is true when
// trial t paid out on any port; AutoWater[t] when rescue water was given.
type History struct {
	Responses []task.Choice
	Rewarded  []bool
	AutoWater []bool
}

// #endregion types

// #region auto-water
// AutoWater decides whether the upcoming trial gets rescue water.
func AutoWater(cfg task.AutoWater, h History) Decision {
	if !cfg.Enabled {
		return Decision{Action: ActionNone}
	}
	if cfg.UnrewardedThreshold <= 0 || cfg.IgnoredThreshold <= 0 {
		return Decision{Action: ActionAutoWater, Reason: "auto water threshold <= 0"}
	}
	if n := cfg.IgnoredThreshold; len(h.Responses) >= n && allIgnored(h.Responses[len(h.Responses)-n:]) {
		return Decision{Action: ActionAutoWater, Reason: fmt.Sprintf("last %d trials ignored", n)}
	}
	if n := cfg.UnrewardedThreshold; len(h.Rewarded) >= n {
		start := len(h.Rewarded) - n
		unrewarded := true
		for t := start; t < len(h.Rewarded); t++ {
			if h.Rewarded[t] || (cfg.IncludeInBlockCount && t < len(h.AutoWater) && h.AutoWater[t]) {
				unrewarded = false
				break
			}
		}
		if unrewarded {
			return Decision{Action: ActionAutoWater, Reason: fmt.Sprintf("last %d trials unrewarded", n)}
		}
	}
	return Decision{Action: ActionNone}
}

// #endregion auto-water

// #region auto-stop
// Stop decides whether the session must end. trial is the index of the
// trial about to be generated.
func Stop(cfg task.Stop, h History, trial int, elapsed time.Duration) Decision {
	if n := cfg.StopIgnores; n > 0 && len(h.Responses) >= n && allIgnored(h.Responses[len(h.Responses)-n:]) {
		return Decision{Action: ActionStop, Reason: fmt.Sprintf("stop: last %d trials ignored", n)}
	}
	if trial > cfg.MaxTrial-2 {
		return Decision{Action: ActionStop, Reason: fmt.Sprintf("stop: max trial %d reached", cfg.MaxTrial)}
	}
	if cfg.MaxTimeMin > 0 && elapsed.Seconds() > cfg.MaxTimeMin*60 {
		return Decision{Action: ActionStop, Reason: fmt.Sprintf("stop: session exceeded %.0f min", cfg.MaxTimeMin)}
	}
	if d := ignoreRatio(cfg, h, elapsed); d.Fired() {
		return d
	}
	return Decision{Action: ActionNone}
}

// ignoreRatio stops a session that has run at least MinTimeMin and whose
// last IgnoreWindow trials are mostly ignored.
func ignoreRatio(cfg task.Stop, h History, elapsed time.Duration) Decision {
	n := cfg.IgnoreWindow
	if n <= 0 || cfg.IgnoreRatio <= 0 || len(h.Responses) < n || elapsed.Minutes() < cfg.MinTimeMin {
		return Decision{Action: ActionNone}
	}
	ignored := 0
	for _, c := range h.Responses[len(h.Responses)-n:] {
		if c == task.NoResponse {
			ignored++
		}
	}
	ratio := float64(ignored) / float64(n)
	if ratio < cfg.IgnoreRatio {
		return Decision{Action: ActionNone}
	}
	return Decision{
		Action: ActionStop,
		Reason: fmt.Sprintf("stop: %.0f%% of last %d trials ignored after %.0f min", ratio*100, n, elapsed.Minutes()),
	}
}

func allIgnored(cs []task.Choice) bool {
	for _, c := range cs {
		if c != task.NoResponse {
			return false
		}
	}
	return true
}

// #endregion auto-stop
