package stats

import (
	"encoding/json"
	"math"
)

// #region json
// Undefined ratios are NaN in memory and null on the wire.

func nullable(x float64) *float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return &x
}

func orNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

func (e Efficiency) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Optimal    *float64 `json:"foraging_efficiency"`
		RandomSeed *float64 `json:"foraging_efficiency_random_seed"`
	}{nullable(e.Optimal), nullable(e.RandomSeed)})
}

func (e *Efficiency) UnmarshalJSON(b []byte) error {
	var aux struct {
		Optimal    *float64 `json:"foraging_efficiency"`
		RandomSeed *float64 `json:"foraging_efficiency_random_seed"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	e.Optimal, e.RandomSeed = orNaN(aux.Optimal), orNaN(aux.RandomSeed)
	return nil
}

func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	return json.Marshal(struct {
		plain
		FinishRatio      *float64 `json:"finish_ratio"`
		RewardRate       *float64 `json:"reward_rate"`
		RightChoiceRatio *float64 `json:"right_choice_ratio"`
	}{plain(s), nullable(s.FinishRatio), nullable(s.RewardRate), nullable(s.RightChoiceRatio)})
}

func (s *Summary) UnmarshalJSON(b []byte) error {
	type plain Summary
	aux := struct {
		*plain
		FinishRatio      *float64 `json:"finish_ratio"`
		RewardRate       *float64 `json:"reward_rate"`
		RightChoiceRatio *float64 `json:"right_choice_ratio"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	s.FinishRatio = orNaN(aux.FinishRatio)
	s.RewardRate = orNaN(aux.RewardRate)
	s.RightChoiceRatio = orNaN(aux.RightChoiceRatio)
	return nil
}

// #endregion json
