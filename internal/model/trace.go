package model

// ConditionTrace records the structured explanation of one condition
// evaluation (spec §4.3), produced identically by the live Rule Engine
// and the Dry-Run Service (invariant 7).
type ConditionTrace struct {
	ConditionID      string                 `json:"conditionId"`
	Type             ConditionType          `json:"type"`
	Parameters       map[string]interface{} `json:"parameters"`
	Result           bool                   `json:"result"`
	Details          string                 `json:"details"`
	EvaluationTimeMs float64                `json:"evaluationTimeMs"`
}

// PredictedReward/PredictedSpending are the dry-run analogues of Reward and
// Spending. Their fields carry the values exactly as declared on the rule;
// "attr:name" references are not resolved here.
type PredictedReward struct {
	RewardID string      `json:"rewardId"`
	Type     RewardType  `json:"type"`
	TargetID string      `json:"targetId,omitempty"`
	Amount   interface{} `json:"amount,omitempty"`
}

type PredictedSpending struct {
	SpendingID  string       `json:"spendingId"`
	Category    string       `json:"category"`
	Type        SpendingType `json:"type"`
	Amount      interface{}  `json:"amount,omitempty"`
	Source      interface{}  `json:"source,omitempty"`
	Destination interface{}  `json:"destination,omitempty"`
}

// RuleTrace is the per-rule slice of both the Rule Engine's plan-building
// pass and the Dry-Run Service's response.
type RuleTrace struct {
	RuleID            string              `json:"ruleId"`
	Name              string              `json:"name"`
	Description       string              `json:"description,omitempty"`
	TriggerMatched    bool                `json:"triggerMatched"`
	Conditions        []ConditionTrace    `json:"conditions"`
	PredictedRewards  []PredictedReward   `json:"predictedRewards"`
	PredictedSpendings []PredictedSpending `json:"predictedSpendings"`
	WouldExecute      bool                `json:"wouldExecute"`
	EvaluationTimeMs  float64             `json:"evaluationTimeMs"`
}

// Plan is the materialization plan produced by the Rule Engine for a single
// trigger event: the ordered reward/spending intents of every rule whose
// conditions were satisfied.
type Plan struct {
	TriggerEvent *Event
	Items        []PlanItem
	Traces       []RuleTrace
}

// PlanItem carries one reward or spending intent plus the rule that
// produced it, preserving declared order within the rule and catalog order
// across rules (spec §4.4 "Ordering").
type PlanItem struct {
	RuleID   string
	Reward   *Reward
	Spending *Spending
}
