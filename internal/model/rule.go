package model

import (
	"strings"
	"time"
)

// ConditionType is one of the closed set defined in spec §4.2.
type ConditionType string

const (
	ConditionAlwaysTrue         ConditionType = "alwaysTrue"
	ConditionAttributeEquals    ConditionType = "attributeEquals"
	ConditionCount              ConditionType = "count"
	ConditionThreshold          ConditionType = "threshold"
	ConditionSequence           ConditionType = "sequence"
	ConditionTimeSinceLastEvent ConditionType = "timeSinceLastEvent"
	ConditionFirstOccurrence    ConditionType = "firstOccurrence"
	ConditionCustomScript       ConditionType = "customScript"
)

// ValidConditionTypes is the closed set checked at rule load (§4.2).
var ValidConditionTypes = map[ConditionType]bool{
	ConditionAlwaysTrue:         true,
	ConditionAttributeEquals:    true,
	ConditionCount:              true,
	ConditionThreshold:          true,
	ConditionSequence:           true,
	ConditionTimeSinceLastEvent: true,
	ConditionFirstOccurrence:    true,
	ConditionCustomScript:       true,
}

// ThresholdOperator is one of the comparison operators a threshold
// condition may use.
type ThresholdOperator string

const (
	OpLT ThresholdOperator = "lt"
	OpLE ThresholdOperator = "le"
	OpEQ ThresholdOperator = "eq"
	OpNE ThresholdOperator = "ne"
	OpGE ThresholdOperator = "ge"
	OpGT ThresholdOperator = "gt"
)

// Condition is a single predicate within a rule's condition sequence. The
// Parameters map is interpreted according to Type (see spec §4.3); Value
// may be a literal or an "attr:name" reference resolved against the
// trigger event.
type Condition struct {
	ConditionID string                 `json:"conditionId"`
	Type        ConditionType          `json:"type"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// RewardType is one of the closed set defined in spec §4.2.
type RewardType string

const (
	RewardPoints RewardType = "points"
	RewardBadge  RewardType = "badge"
	RewardTrophy RewardType = "trophy"
	RewardLevel  RewardType = "level"
)

var ValidRewardTypes = map[RewardType]bool{
	RewardPoints: true,
	RewardBadge:  true,
	RewardTrophy: true,
	RewardLevel:  true,
}

// Reward is a single reward intent declared on a rule. TargetID is the
// point category for RewardPoints, the badge/trophy id otherwise, and the
// category whose level should be recomputed for RewardLevel. Amount may be
// a literal number or an "attr:name" reference, resolved at evaluation
// time.
type Reward struct {
	RewardID string      `json:"rewardId"`
	Type     RewardType  `json:"type"`
	TargetID string      `json:"targetId,omitempty"`
	Amount   interface{} `json:"amount,omitempty"`
}

// SpendingType is one of the closed set defined in spec §4.2.
type SpendingType string

const (
	SpendingTransaction SpendingType = "transaction"
	SpendingTransfer    SpendingType = "transfer"
)

// Spending is a single debit/transfer intent declared on a rule.
// Source/Destination/Amount may be literals or "attr:name" references.
type Spending struct {
	SpendingID  string       `json:"spendingId"`
	Category    string       `json:"category"`
	Type        SpendingType `json:"type"`
	Amount      interface{}  `json:"amount,omitempty"`
	Source      interface{}  `json:"source,omitempty"`
	Destination interface{}  `json:"destination,omitempty"`
}

// RuleLogic selects how a rule's conditions combine; default is AND.
type RuleLogic string

const (
	LogicAND RuleLogic = "AND"
	LogicOR  RuleLogic = "OR"
)

// Rule is a user-authored trigger -> conditions -> rewards/spendings unit.
type Rule struct {
	RuleID     string      `json:"ruleId"`
	Name       string      `json:"name"`
	Triggers   []string    `json:"triggers"`
	Logic      RuleLogic   `json:"logic,omitempty"`
	Conditions []Condition `json:"conditions"`
	Rewards    []Reward    `json:"rewards"`
	Spendings  []Spending  `json:"spendings,omitempty"`
	IsActive   bool        `json:"isActive"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// EffectiveLogic returns the rule's condition-combination logic, defaulting
// to AND when unset.
func (r *Rule) EffectiveLogic() RuleLogic {
	if r.Logic == LogicOR {
		return LogicOR
	}
	return LogicAND
}

// TriggeredBy reports whether the rule is eligible for the given event
// type, case-insensitively (spec §4.4 step 1).
func (r *Rule) TriggeredBy(eventType string) bool {
	for _, t := range r.Triggers {
		if strings.EqualFold(t, eventType) {
			return true
		}
	}
	return false
}
