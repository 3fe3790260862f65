package logging

import "time"

// #region decision-entry
// DecisionEntry is a single row in the decision_log table.
type DecisionEntry struct {
	SessionID  string
	Trial      int
	Kind       string // "trial" | "auto_water" | "block" | "opto" | "warning"
	Decision   string
	Reason     string
	DetailJSON string
	CreatedAt  time.Time
}
// #endregion decision-entry

// #region trial-decision
// TrialDecision captures the randomized inputs drawn for one trial.
// Serialized as JSON into decision_log.detail_json so a session can be
// audited without the full record.
type TrialDecision struct {
	Trial        int        `json:"trial"`
	Warmup       bool       `json:"warmup"`
	RewardProb   [2]float64 `json:"reward_prob"`
	RandomNumber [2]float64 `json:"random_number"`
	Bait         [2]bool    `json:"bait"`
	ResidualBait [2]bool    `json:"residual_bait"`
	AutoWater    [2]bool    `json:"auto_water"`
	ITI          float64    `json:"iti"`
	Delay        float64    `json:"delay"`
	BlockCount   [2]int     `json:"block_count"`

	// Opto condition chosen, 0 for control.
	OptoCondition int  `json:"opto_condition"`
	OptoError     bool `json:"opto_error"`

	Outcome string `json:"outcome"`
}
// #endregion trial-decision
