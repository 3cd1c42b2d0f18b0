// Package conditions implements the Condition Evaluator of spec §4.3: a
// pure function over (triggerEvent, userHistory, userState, parameters)
// that returns a boolean plus a structured trace. Every builtin type is a
// case in Evaluator.Evaluate; a Registry lets a deployer register
// additional types per the plugin-registry design note (§9).
package conditions

import (
	"fmt"
	"time"

	"github.com/voidexforge/gamification-engine/internal/model"
)

// Scope is everything a condition is allowed to look at: the trigger
// event, a bounded slice of the user's history (ascending by OccurredAt,
// including the trigger event itself where relevant), the user's current
// projection, and the evaluation instant used for window math (spec §9
// "Clocks": window math uses server receipt time, not occurredAt, so the
// caller is responsible for populating Now from its own clock).
type Scope struct {
	Now       time.Time
	Trigger   *model.Event
	History   []*model.Event
	UserState *model.UserState
}

// Evaluator evaluates a single condition within a Scope.
type Evaluator struct {
	registry *Registry
}

func NewEvaluator(registry *Registry) *Evaluator {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Evaluator{registry: registry}
}

// Evaluate dispatches on cond.Type and always returns a trace, even for
// unsupported/unknown types (spec: "condition evaluation never throws").
func (ev *Evaluator) Evaluate(scope *Scope, cond *model.Condition) model.ConditionTrace {
	start := time.Now()
	trace := model.ConditionTrace{
		ConditionID: cond.ConditionID,
		Type:        cond.Type,
		Parameters:  cond.Parameters,
	}

	result, details := ev.dispatch(scope, cond)
	trace.Result = result
	trace.Details = details
	trace.EvaluationTimeMs = float64(time.Since(start)) / float64(time.Millisecond)
	return trace
}

func (ev *Evaluator) dispatch(scope *Scope, cond *model.Condition) (bool, string) {
	switch cond.Type {
	case model.ConditionAlwaysTrue:
		return evalAlwaysTrue()
	case model.ConditionAttributeEquals:
		return evalAttributeEquals(scope, cond)
	case model.ConditionCount:
		return evalCount(scope, cond)
	case model.ConditionThreshold:
		return evalThreshold(scope, cond)
	case model.ConditionSequence:
		return evalSequence(scope, cond)
	case model.ConditionTimeSinceLastEvent:
		return evalTimeSinceLastEvent(scope, cond)
	case model.ConditionFirstOccurrence:
		return evalFirstOccurrence(scope, cond)
	case model.ConditionCustomScript:
		if plugin, ok := ev.registry.Lookup(model.ConditionCustomScript); ok {
			return plugin(scope, cond)
		}
		// No runtime defined by default (spec §4.3, Design Notes §9 (b)).
		return false, "unsupported"
	default:
		if plugin, ok := ev.registry.Lookup(cond.Type); ok {
			return plugin(scope, cond)
		}
		return false, fmt.Sprintf("unknown condition type %q", cond.Type)
	}
}

func evalAlwaysTrue() (bool, string) {
	return true, "always true"
}

func evalAttributeEquals(scope *Scope, cond *model.Condition) (bool, string) {
	attr, _ := cond.Parameters["attribute"].(string)
	want, _ := Resolve(scope.Trigger, cond.Parameters["value"])

	got, ok := scope.Trigger.Attr(attr)
	if !ok {
		return false, "attribute missing"
	}
	if numericEqual(got, want) {
		return true, fmt.Sprintf("%s=%v matches %v", attr, got, want)
	}
	return false, fmt.Sprintf("%s=%v does not match %v", attr, got, want)
}

func evalThreshold(scope *Scope, cond *model.Condition) (bool, string) {
	attr, _ := cond.Parameters["attribute"].(string)
	op, _ := cond.Parameters["operator"].(string)
	wantRaw, _ := Resolve(scope.Trigger, cond.Parameters["value"])
	want, wantOK := AsFloat64(wantRaw)

	raw, ok := scope.Trigger.Attr(attr)
	if !ok {
		return false, "attribute missing"
	}
	got, gotOK := AsFloat64(raw)
	if !gotOK || !wantOK {
		return false, fmt.Sprintf("attribute %s is not numeric", attr)
	}

	var result bool
	switch model.ThresholdOperator(op) {
	case model.OpLT:
		result = got < want
	case model.OpLE:
		result = got <= want
	case model.OpEQ:
		result = got == want
	case model.OpNE:
		result = got != want
	case model.OpGE:
		result = got >= want
	case model.OpGT:
		result = got > want
	default:
		return false, fmt.Sprintf("unknown operator %q", op)
	}
	return result, fmt.Sprintf("%s=%v %s %v -> %v", attr, got, op, want, result)
}

func evalCount(scope *Scope, cond *model.Condition) (bool, string) {
	eventType, _ := cond.Parameters["eventType"].(string)
	minCount, _ := AsInt64(cond.Parameters["minCount"])
	maxCount, hasMax := AsInt64(cond.Parameters["maxCount"])
	windowMin, hasWindow := AsFloat64(cond.Parameters["timeWindow"])

	var since time.Time
	if hasWindow {
		since = scope.Now.Add(-time.Duration(windowMin * float64(time.Minute)))
	}

	var n int64
	for _, e := range scope.History {
		if e.EventType != eventType {
			continue
		}
		if hasWindow && e.OccurredAt.Before(since) {
			continue
		}
		n++
	}

	if n < minCount {
		return false, fmt.Sprintf("count=%d below minCount=%d", n, minCount)
	}
	if hasMax && n > maxCount {
		return false, fmt.Sprintf("count=%d above maxCount=%d", n, maxCount)
	}
	return true, fmt.Sprintf("count=%d within [%d,%v]", n, minCount, cond.Parameters["maxCount"])
}

func evalSequence(scope *Scope, cond *model.Condition) (bool, string) {
	rawEvents, _ := cond.Parameters["events"].([]interface{})
	wantTypes := make([]string, 0, len(rawEvents))
	for _, re := range rawEvents {
		if s, ok := re.(string); ok {
			wantTypes = append(wantTypes, s)
		}
	}
	if len(wantTypes) == 0 {
		return false, "no events configured"
	}

	n := len(wantTypes)
	hist := scope.History
	if len(hist) < n {
		return false, fmt.Sprintf("only %d events in history, need %d", len(hist), n)
	}
	recent := hist[len(hist)-n:]

	for i, e := range recent {
		if e.EventType != wantTypes[i] {
			return false, fmt.Sprintf("sequence mismatch at position %d: got %s want %s", i, e.EventType, wantTypes[i])
		}
	}

	if windowMin, hasWindow := AsFloat64(cond.Parameters["timeWindow"]); hasWindow {
		span := recent[len(recent)-1].OccurredAt.Sub(recent[0].OccurredAt)
		if span > time.Duration(windowMin*float64(time.Minute)) {
			return false, "sequence span exceeds timeWindow"
		}
	}
	return true, fmt.Sprintf("matched sequence of %d events", n)
}

func evalTimeSinceLastEvent(scope *Scope, cond *model.Condition) (bool, string) {
	eventType, _ := cond.Parameters["eventType"].(string)
	minMinutes, _ := AsFloat64(cond.Parameters["minMinutes"])

	windowStart := scope.Trigger.OccurredAt.Add(-time.Duration(minMinutes * float64(time.Minute)))
	for _, e := range scope.History {
		if e.EventID == scope.Trigger.EventID {
			continue
		}
		if e.EventType != eventType {
			continue
		}
		if e.OccurredAt.After(windowStart) && e.OccurredAt.Before(scope.Trigger.OccurredAt) {
			return false, fmt.Sprintf("found %s at %s within %v minutes", eventType, e.OccurredAt, minMinutes)
		}
	}
	return true, fmt.Sprintf("no %s event within %v minutes before trigger", eventType, minMinutes)
}

func evalFirstOccurrence(scope *Scope, cond *model.Condition) (bool, string) {
	eventType, _ := cond.Parameters["eventType"].(string)
	for _, e := range scope.History {
		if e.EventID == scope.Trigger.EventID {
			continue
		}
		if e.EventType == eventType && e.OccurredAt.Before(scope.Trigger.OccurredAt) {
			return false, fmt.Sprintf("prior %s event found at %s", eventType, e.OccurredAt)
		}
	}
	return true, "no prior occurrence found"
}
