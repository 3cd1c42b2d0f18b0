package model

import "time"

// RewardHistory is an immutable record of a single reward or spending
// materialization attempt, successful or not (spec §3, invariant 5).
type RewardHistory struct {
	ID              string                 `json:"id" db:"id"`
	UserID          string                 `json:"userId" db:"user_id"`
	RewardType      string                 `json:"rewardType" db:"reward_type"`
	RewardID        string                 `json:"rewardId" db:"reward_id"`
	PointsAmount    *int64                 `json:"pointsAmount,omitempty" db:"points_amount"`
	PointCategory   string                 `json:"pointCategory,omitempty" db:"point_category_id"`
	TriggerEventID  string                 `json:"triggerEventId" db:"trigger_event_id"`
	AwardedAt       time.Time              `json:"awardedAt" db:"awarded_at"`
	Success         bool                   `json:"success" db:"success"`
	Message         string                 `json:"message,omitempty" db:"message"`
	Details         map[string]interface{} `json:"details,omitempty" db:"-"`
}

// Bookkeeping reward types used outside the closed catalog Reward.Type set,
// for rows that record rule-level or no-match outcomes (invariant 5, §8).
const (
	RewardTypeRuleEvaluation = "rule_evaluation"
	RewardTypeNoMatch        = "no_match"
)
