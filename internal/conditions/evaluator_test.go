package conditions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidexforge/gamification-engine/internal/model"
)

func mkEvent(id, typ, userID string, at time.Time, attrs map[string]interface{}) *model.Event {
	return &model.Event{EventID: id, EventType: typ, UserID: userID, OccurredAt: at, Attributes: attrs}
}

func TestEvaluate_AlwaysTrue(t *testing.T) {
	ev := NewEvaluator(nil)
	trigger := mkEvent("e1", "USER_COMMENTED", "u1", time.Now(), nil)
	scope := &Scope{Now: time.Now(), Trigger: trigger, History: []*model.Event{trigger}}

	trace := ev.Evaluate(scope, &model.Condition{ConditionID: "c1", Type: model.ConditionAlwaysTrue})
	require.True(t, trace.Result)
}

func TestEvaluate_AttributeEquals_NumericCoercion(t *testing.T) {
	ev := NewEvaluator(nil)
	trigger := mkEvent("e1", "X", "u1", time.Now(), map[string]interface{}{"amount": float64(50)})
	scope := &Scope{Now: time.Now(), Trigger: trigger, History: []*model.Event{trigger}}

	trace := ev.Evaluate(scope, &model.Condition{
		ConditionID: "c1", Type: model.ConditionAttributeEquals,
		Parameters: map[string]interface{}{"attribute": "amount", "value": 50},
	})
	assert.True(t, trace.Result)
}

func TestEvaluate_AttributeEquals_MissingAttribute(t *testing.T) {
	ev := NewEvaluator(nil)
	trigger := mkEvent("e1", "X", "u1", time.Now(), nil)
	scope := &Scope{Now: time.Now(), Trigger: trigger, History: []*model.Event{trigger}}

	trace := ev.Evaluate(scope, &model.Condition{
		ConditionID: "c1", Type: model.ConditionAttributeEquals,
		Parameters: map[string]interface{}{"attribute": "amount", "value": 50},
	})
	assert.False(t, trace.Result)
	assert.Equal(t, "attribute missing", trace.Details)
}

func TestEvaluate_Threshold_MissingAttribute(t *testing.T) {
	ev := NewEvaluator(nil)
	trigger := mkEvent("e1", "X", "u1", time.Now(), nil)
	scope := &Scope{Now: time.Now(), Trigger: trigger, History: []*model.Event{trigger}}

	trace := ev.Evaluate(scope, &model.Condition{
		ConditionID: "c1", Type: model.ConditionThreshold,
		Parameters: map[string]interface{}{"attribute": "amount", "operator": "ge", "value": 50},
	})
	assert.False(t, trace.Result)
	assert.Equal(t, "attribute missing", trace.Details)
}

func TestEvaluate_Threshold_Operators(t *testing.T) {
	ev := NewEvaluator(nil)
	trigger := mkEvent("e1", "X", "u1", time.Now(), map[string]interface{}{"amount": 50.0})
	scope := &Scope{Now: time.Now(), Trigger: trigger, History: []*model.Event{trigger}}

	trace := ev.Evaluate(scope, &model.Condition{
		ConditionID: "c1", Type: model.ConditionThreshold,
		Parameters: map[string]interface{}{"attribute": "amount", "operator": "ge", "value": 50},
	})
	assert.True(t, trace.Result)

	trace = ev.Evaluate(scope, &model.Condition{
		ConditionID: "c1", Type: model.ConditionThreshold,
		Parameters: map[string]interface{}{"attribute": "amount", "operator": "ge", "value": 51},
	})
	assert.False(t, trace.Result)
}

func TestEvaluate_Count_InclusiveBounds(t *testing.T) {
	ev := NewEvaluator(nil)
	now := time.Now()
	trigger := mkEvent("e3", "USER_COMMENTED", "u1", now, nil)

	// Zero prior events + trigger -> count=1, minCount=1 maxCount=1 -> true.
	scope := &Scope{Now: now, Trigger: trigger, History: []*model.Event{trigger}}
	trace := ev.Evaluate(scope, &model.Condition{
		ConditionID: "c1", Type: model.ConditionCount,
		Parameters: map[string]interface{}{"eventType": "USER_COMMENTED", "minCount": 1, "maxCount": 1},
	})
	assert.True(t, trace.Result)

	// One prior event + trigger -> count=2 > maxCount=1 -> false.
	prior := mkEvent("e2", "USER_COMMENTED", "u1", now.Add(-time.Minute), nil)
	scope.History = []*model.Event{prior, trigger}
	trace = ev.Evaluate(scope, &model.Condition{
		ConditionID: "c1", Type: model.ConditionCount,
		Parameters: map[string]interface{}{"eventType": "USER_COMMENTED", "minCount": 1, "maxCount": 1},
	})
	assert.False(t, trace.Result)
}

func TestEvaluate_Count_NoMaxMeansOpenEnded(t *testing.T) {
	ev := NewEvaluator(nil)
	now := time.Now()
	trigger := mkEvent("e4", "USER_COMMENTED", "u1", now, nil)
	history := []*model.Event{
		mkEvent("e1", "USER_COMMENTED", "u1", now.Add(-3*time.Minute), nil),
		mkEvent("e2", "USER_COMMENTED", "u1", now.Add(-2*time.Minute), nil),
		mkEvent("e3", "USER_COMMENTED", "u1", now.Add(-1*time.Minute), nil),
		trigger,
	}
	scope := &Scope{Now: now, Trigger: trigger, History: history}
	trace := ev.Evaluate(scope, &model.Condition{
		ConditionID: "c1", Type: model.ConditionCount,
		Parameters: map[string]interface{}{"eventType": "USER_COMMENTED", "minCount": 3, "timeWindow": 60},
	})
	assert.True(t, trace.Result)
}

func TestEvaluate_Sequence_OnlyMostRecent(t *testing.T) {
	ev := NewEvaluator(nil)
	now := time.Now()
	history := []*model.Event{
		mkEvent("e1", "A", "u1", now.Add(-3*time.Minute), nil),
		mkEvent("e2", "B", "u1", now.Add(-2*time.Minute), nil),
		mkEvent("e3", "C", "u1", now.Add(-1*time.Minute), nil),
	}
	trigger := mkEvent("e4", "D", "u1", now, nil)
	scope := &Scope{Now: now, Trigger: trigger, History: append(history, trigger)}

	// The earlier prefix A,B,C should NOT match events=[A,B] even though it
	// appears in history; only the most recent 2 events (C,D) are compared.
	trace := ev.Evaluate(scope, &model.Condition{
		ConditionID: "c1", Type: model.ConditionSequence,
		Parameters: map[string]interface{}{"events": []interface{}{"A", "B"}},
	})
	assert.False(t, trace.Result)

	trace = ev.Evaluate(scope, &model.Condition{
		ConditionID: "c1", Type: model.ConditionSequence,
		Parameters: map[string]interface{}{"events": []interface{}{"C", "D"}},
	})
	assert.True(t, trace.Result)
}

func TestEvaluate_FirstOccurrence(t *testing.T) {
	ev := NewEvaluator(nil)
	now := time.Now()
	trigger := mkEvent("e1", "USER_COMMENTED", "u1", now, nil)
	scope := &Scope{Now: now, Trigger: trigger, History: []*model.Event{trigger}}

	trace := ev.Evaluate(scope, &model.Condition{
		ConditionID: "c1", Type: model.ConditionFirstOccurrence,
		Parameters: map[string]interface{}{"eventType": "USER_COMMENTED"},
	})
	assert.True(t, trace.Result)

	prior := mkEvent("e0", "USER_COMMENTED", "u1", now.Add(-time.Hour), nil)
	scope.History = []*model.Event{prior, trigger}
	trace = ev.Evaluate(scope, &model.Condition{
		ConditionID: "c1", Type: model.ConditionFirstOccurrence,
		Parameters: map[string]interface{}{"eventType": "USER_COMMENTED"},
	})
	assert.False(t, trace.Result)
}

func TestEvaluate_TimeSinceLastEvent(t *testing.T) {
	ev := NewEvaluator(nil)
	now := time.Now()
	trigger := mkEvent("e1", "X", "u1", now, nil)

	recent := mkEvent("e0", "LOGIN", "u1", now.Add(-10*time.Minute), nil)
	scope := &Scope{Now: now, Trigger: trigger, History: []*model.Event{recent, trigger}}
	trace := ev.Evaluate(scope, &model.Condition{
		ConditionID: "c1", Type: model.ConditionTimeSinceLastEvent,
		Parameters: map[string]interface{}{"eventType": "LOGIN", "minMinutes": 30},
	})
	assert.False(t, trace.Result)

	old := mkEvent("e0", "LOGIN", "u1", now.Add(-time.Hour), nil)
	scope.History = []*model.Event{old, trigger}
	trace = ev.Evaluate(scope, &model.Condition{
		ConditionID: "c1", Type: model.ConditionTimeSinceLastEvent,
		Parameters: map[string]interface{}{"eventType": "LOGIN", "minMinutes": 30},
	})
	assert.True(t, trace.Result)
}

func TestEvaluate_CustomScript_DefaultUnsupported(t *testing.T) {
	ev := NewEvaluator(nil)
	trigger := mkEvent("e1", "X", "u1", time.Now(), nil)
	scope := &Scope{Now: time.Now(), Trigger: trigger, History: []*model.Event{trigger}}

	trace := ev.Evaluate(scope, &model.Condition{ConditionID: "c1", Type: model.ConditionCustomScript})
	assert.False(t, trace.Result)
	assert.Equal(t, "unsupported", trace.Details)
}

func TestEvaluate_CustomScript_RegisteredPlugin(t *testing.T) {
	reg := NewRegistry()
	reg.Register(model.ConditionCustomScript, GojaScriptPlugin)
	ev := NewEvaluator(reg)

	trigger := mkEvent("e1", "X", "u1", time.Now(), map[string]interface{}{"amount": 10.0})
	scope := &Scope{Now: time.Now(), Trigger: trigger, History: []*model.Event{trigger}}

	trace := ev.Evaluate(scope, &model.Condition{
		ConditionID: "c1", Type: model.ConditionCustomScript,
		Parameters: map[string]interface{}{"script": "attributes.amount >= 5"},
	})
	assert.True(t, trace.Result)
}
