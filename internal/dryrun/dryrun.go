// Package dryrun implements the Dry-Run Service of spec §4.7: it evaluates
// a candidate event against the live catalog and the user's real history
// without ever storing the event, enqueueing it, or invoking the Reward
// Executor. It is built directly on rules.Engine.Evaluate and
// rules.StoreHistoryWindow.WindowFor — the same functions the worker pool
// calls on the live path — so the two stay observationally equivalent by
// construction (invariant 7), not by convention.
package dryrun

import (
	"context"
	"time"

	"github.com/voidexforge/gamification-engine/internal/model"
	"github.com/voidexforge/gamification-engine/internal/rules"
	"github.com/voidexforge/gamification-engine/internal/storage"
)

// Response is the DryRunResponse wire shape of spec §6.
type Response struct {
	TriggerEventID string            `json:"triggerEventId"`
	UserID         string            `json:"userId"`
	EventType      string            `json:"eventType"`
	Rules          []model.RuleTrace `json:"rules"`
	Summary        Summary           `json:"summary"`
	EvaluatedAt    time.Time         `json:"evaluatedAt"`
}

// Summary is the DryRunResponse.summary wire shape of spec §6.
type Summary struct {
	TotalRulesEvaluated   int      `json:"totalRulesEvaluated"`
	RulesThatWouldExecute int      `json:"rulesThatWouldExecute"`
	TotalPredictedRewards int      `json:"totalPredictedRewards"`
	TotalEvaluationTimeMs float64  `json:"totalEvaluationTimeMs"`
	EventValid            bool     `json:"eventValid"`
	ValidationErrors      []string `json:"validationErrors,omitempty"`
}

// Service runs candidate events through the Rule Engine without any
// storage or queue side effects.
type Service struct {
	history *rules.StoreHistoryWindow
	userSt  storage.UserStateStore
	engine  *rules.Engine
}

func New(history *rules.StoreHistoryWindow, userSt storage.UserStateStore, engine *rules.Engine) *Service {
	return &Service{history: history, userSt: userSt, engine: engine}
}

// Evaluate builds the same history window and user-state read the live
// worker would use for candidate, then runs it through the Rule Engine.
// candidate is never persisted by this call.
func (s *Service) Evaluate(ctx context.Context, candidate *model.Event) (*Response, error) {
	now := time.Now().UTC()

	if err := validateCandidate(candidate); err != nil {
		return &Response{
			UserID: candidate.UserID, EventType: candidate.EventType, EvaluatedAt: now,
			Summary: Summary{EventValid: false, ValidationErrors: []string{err.Error()}},
		}, nil
	}

	hist, err := s.history.WindowFor(ctx, candidate, now)
	if err != nil {
		return nil, err
	}

	state, err := s.userSt.Get(ctx, candidate.UserID)
	if err != nil {
		return nil, err
	}

	plan := s.engine.Evaluate(candidate, hist, state, now)

	resp := &Response{
		TriggerEventID: candidate.EventID, UserID: candidate.UserID, EventType: candidate.EventType,
		Rules: plan.Traces, EvaluatedAt: now,
	}
	resp.Summary.EventValid = true
	for _, tr := range plan.Traces {
		resp.Summary.TotalRulesEvaluated++
		if tr.WouldExecute {
			resp.Summary.RulesThatWouldExecute++
			resp.Summary.TotalPredictedRewards += len(tr.PredictedRewards)
		}
		resp.Summary.TotalEvaluationTimeMs += tr.EvaluationTimeMs
	}
	return resp, nil
}

func validateCandidate(e *model.Event) error {
	if e.UserID == "" {
		return errMissingUserID
	}
	if e.EventType == "" {
		return errMissingEventType
	}
	return nil
}

var (
	errMissingUserID    = dryRunError("candidate event missing userId")
	errMissingEventType = dryRunError("candidate event missing eventType")
)

type dryRunError string

func (e dryRunError) Error() string { return string(e) }
