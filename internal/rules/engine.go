// Package rules implements the Rule Engine of spec §4.4: given a trigger
// event it selects active rules, evaluates their conditions, and builds a
// materialization Plan. The Dry-Run Service (internal/dryrun) calls the
// exact same Evaluate function so the two stay observationally equivalent
// (invariant 7).
package rules

import (
	"time"

	"github.com/voidexforge/gamification-engine/internal/catalog"
	"github.com/voidexforge/gamification-engine/internal/conditions"
	"github.com/voidexforge/gamification-engine/internal/model"
)

// Engine evaluates rules against trigger events.
type Engine struct {
	catalog   *catalog.Catalog
	evaluator *conditions.Evaluator
	maxEvalMs int
}

func New(cat *catalog.Catalog, evaluator *conditions.Evaluator, maxEvalMs int) *Engine {
	return &Engine{catalog: cat, evaluator: evaluator, maxEvalMs: maxEvalMs}
}

// Evaluate runs every active, trigger-matching rule against e and returns
// the materialization plan plus the full per-rule trace (spec §4.4). hist
// is the bounded, trigger-inclusive history window the caller fetched
// (internal/rules.StoreHistoryWindow.WindowFor); both the live worker path
// and the Dry-Run Service build it the same way, which is what keeps them
// observationally equivalent (invariant 7). userState is passed through to
// the condition Scope untouched; builtin conditions do not read it, but a
// registered plugin may.
func (e *Engine) Evaluate(trigger *model.Event, hist []*model.Event, userState *model.UserState, now time.Time) *model.Plan {
	snap := e.catalog.Snapshot()

	scope := &conditions.Scope{Now: now, Trigger: trigger, History: hist, UserState: userState}

	plan := &model.Plan{TriggerEvent: trigger}

	for _, rule := range snap.Rules {
		ruleStart := time.Now()
		matched := rule.TriggeredBy(trigger.EventType)

		rt := model.RuleTrace{
			RuleID:         rule.RuleID,
			Name:           rule.Name,
			TriggerMatched: matched,
		}

		if !matched {
			rt.EvaluationTimeMs = float64(time.Since(ruleStart)) / float64(time.Millisecond)
			plan.Traces = append(plan.Traces, rt)
			continue
		}

		satisfied := e.evaluateConditions(scope, rule, &rt)
		rt.WouldExecute = satisfied

		if satisfied {
			for i := range rule.Rewards {
				rw := rule.Rewards[i]
				plan.Items = append(plan.Items, model.PlanItem{RuleID: rule.RuleID, Reward: &rw})
				rt.PredictedRewards = append(rt.PredictedRewards, model.PredictedReward{
					RewardID: rw.RewardID, Type: rw.Type, TargetID: rw.TargetID, Amount: rw.Amount,
				})
			}
			for i := range rule.Spendings {
				sp := rule.Spendings[i]
				plan.Items = append(plan.Items, model.PlanItem{RuleID: rule.RuleID, Spending: &sp})
				rt.PredictedSpendings = append(rt.PredictedSpendings, model.PredictedSpending{
					SpendingID: sp.SpendingID, Category: sp.Category, Type: sp.Type,
					Amount: sp.Amount, Source: sp.Source, Destination: sp.Destination,
				})
			}
		}

		rt.EvaluationTimeMs = float64(time.Since(ruleStart)) / float64(time.Millisecond)
		plan.Traces = append(plan.Traces, rt)
	}

	return plan
}

// evaluateConditions runs rule's conditions in declared order with
// short-circuit AND/OR semantics, recording a trace for every condition
// even the ones skipped after short-circuit (spec §4.4 step 2).
func (e *Engine) evaluateConditions(scope *conditions.Scope, rule *model.Rule, rt *model.RuleTrace) bool {
	logic := rule.EffectiveLogic()
	decided := false
	result := logic == model.LogicAND // AND starts true, OR starts false

	for i := range rule.Conditions {
		cond := rule.Conditions[i]

		if decided {
			rt.Conditions = append(rt.Conditions, model.ConditionTrace{
				ConditionID: cond.ConditionID,
				Type:        cond.Type,
				Parameters:  cond.Parameters,
				Result:      false,
				Details:     "skipped",
			})
			continue
		}

		start := time.Now()
		trace := e.evaluator.Evaluate(scope, &cond)
		elapsed := time.Since(start)
		if e.maxEvalMs > 0 && elapsed > time.Duration(e.maxEvalMs)*time.Millisecond {
			trace.Details += " (degraded: exceeded MaxEvalMs)"
		}
		rt.Conditions = append(rt.Conditions, trace)

		if logic == model.LogicAND {
			result = result && trace.Result
			if !trace.Result {
				decided = true
			}
		} else {
			result = result || trace.Result
			if trace.Result {
				decided = true
			}
		}
	}

	return result
}
