package policy

import (
	"testing"
	"time"

	"github.com/foraging-rig/go-controller/internal/task"
)

func ignored(n int) []task.Choice {
	out := make([]task.Choice, n)
	for i := range out {
		out[i] = task.NoResponse
	}
	return out
}

func TestAutoWater(t *testing.T) {
	base := task.AutoWater{Enabled: true, UnrewardedThreshold: 5, IgnoredThreshold: 5, Type: task.AutoWaterBoth}
	tests := []struct {
		name string
		cfg  task.AutoWater
		h    History
		want Action
	}{
		{"disabled", task.AutoWater{}, History{Responses: ignored(10)}, ActionNone},
		{"zero threshold always fires", task.AutoWater{Enabled: true, UnrewardedThreshold: 0, IgnoredThreshold: 5}, History{}, ActionAutoWater},
		{"four ignores is not enough", base, History{Responses: ignored(4), Rewarded: make([]bool, 4)}, ActionNone},
		{"five ignores fires", base, History{Responses: ignored(5), Rewarded: make([]bool, 5)}, ActionAutoWater},
		{"unrewarded streak fires", base, History{
			Responses: []task.Choice{0, 1, 0, 1, 0},
			Rewarded:  make([]bool, 5),
		}, ActionAutoWater},
		{"one reward breaks streak", base, History{
			Responses: []task.Choice{0, 1, 0, 1, 0},
			Rewarded:  []bool{false, false, true, false, false},
		}, ActionNone},
		{"auto water counts when included", task.AutoWater{Enabled: true, UnrewardedThreshold: 3, IgnoredThreshold: 10, IncludeInBlockCount: true}, History{
			Responses: []task.Choice{0, 1, 0},
			Rewarded:  make([]bool, 3),
			AutoWater: []bool{false, true, false},
		}, ActionNone},
		{"auto water ignored when excluded", task.AutoWater{Enabled: true, UnrewardedThreshold: 3, IgnoredThreshold: 10}, History{
			Responses: []task.Choice{0, 1, 0},
			Rewarded:  make([]bool, 3),
			AutoWater: []bool{false, true, false},
		}, ActionAutoWater},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := AutoWater(tc.cfg, tc.h)
			if d.Action != tc.want {
				t.Fatalf("expected %s, got %s (%s)", tc.want, d.Action, d.Reason)
			}
			if d.Fired() && d.Reason == "" {
				t.Fatal("fired decision without reason")
			}
		})
	}
}

func TestStop(t *testing.T) {
	cfg := task.Stop{MaxTrial: 100, MaxTimeMin: 60, StopIgnores: 30, IgnoreWindow: 20, IgnoreRatio: 0.8, MinTimeMin: 30}
	mixed := make([]task.Choice, 40)
	for i := range mixed {
		if i%10 == 0 {
			mixed[i] = task.Left
		} else {
			mixed[i] = task.NoResponse
		}
	}
	tests := []struct {
		name    string
		h       History
		trial   int
		elapsed time.Duration
		want    Action
	}{
		{"fresh session", History{}, 0, 0, ActionNone},
		{"ignores below limit", History{Responses: ignored(29)}, 29, time.Minute, ActionNone},
		{"ignores at limit", History{Responses: ignored(30)}, 30, time.Minute, ActionStop},
		{"max trial minus two", History{Responses: make([]task.Choice, 98)}, 98, time.Minute, ActionNone},
		{"past max trial minus two", History{Responses: make([]task.Choice, 99)}, 99, time.Minute, ActionStop},
		{"over time", History{}, 10, 61 * time.Minute, ActionStop},
		{"mostly ignored too early", History{Responses: mixed}, 40, 10 * time.Minute, ActionNone},
		{"mostly ignored after min time", History{Responses: mixed}, 40, 31 * time.Minute, ActionStop},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := Stop(cfg, tc.h, tc.trial, tc.elapsed)
			if d.Action != tc.want {
				t.Fatalf("expected %s, got %s (%s)", tc.want, d.Action, d.Reason)
			}
		})
	}
}
