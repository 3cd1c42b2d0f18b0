package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidexforge/gamification-engine/internal/log"
	"github.com/voidexforge/gamification-engine/internal/model"
	"github.com/voidexforge/gamification-engine/internal/storage/memstore"
)

func TestValidate_RejectsMalformedRule(t *testing.T) {
	cases := []struct {
		name string
		rule *model.Rule
	}{
		{"no id", &model.Rule{Name: "x", Triggers: []string{"A"}, Conditions: []model.Condition{{ConditionID: "c1", Type: model.ConditionAlwaysTrue}}, Rewards: []model.Reward{{RewardID: "r1", Type: model.RewardBadge, TargetID: "b1"}}}},
		{"no triggers", &model.Rule{RuleID: "r1", Name: "x", Conditions: []model.Condition{{ConditionID: "c1", Type: model.ConditionAlwaysTrue}}, Rewards: []model.Reward{{RewardID: "r1", Type: model.RewardBadge, TargetID: "b1"}}}},
		{"no conditions", &model.Rule{RuleID: "r1", Name: "x", Triggers: []string{"A"}, Rewards: []model.Reward{{RewardID: "r1", Type: model.RewardBadge, TargetID: "b1"}}}},
		{"unknown condition type", &model.Rule{RuleID: "r1", Name: "x", Triggers: []string{"A"}, Conditions: []model.Condition{{ConditionID: "c1", Type: "bogus"}}, Rewards: []model.Reward{{RewardID: "r1", Type: model.RewardBadge, TargetID: "b1"}}}},
		{"points reward missing targetId", &model.Rule{RuleID: "r1", Name: "x", Triggers: []string{"A"}, Conditions: []model.Condition{{ConditionID: "c1", Type: model.ConditionAlwaysTrue}}, Rewards: []model.Reward{{RewardID: "r1", Type: model.RewardPoints, Amount: 1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, Validate(tc.rule))
		})
	}
}

func TestValidate_AcceptsWellFormedRule(t *testing.T) {
	rule := &model.Rule{
		RuleID:   "r1",
		Name:     "First comment badge",
		Triggers: []string{"USER_COMMENTED"},
		Conditions: []model.Condition{
			{ConditionID: "c1", Type: model.ConditionFirstOccurrence, Parameters: map[string]interface{}{"eventType": "USER_COMMENTED"}},
		},
		Rewards: []model.Reward{
			{RewardID: "rw1", Type: model.RewardBadge, TargetID: "badge-commenter"},
		},
		IsActive: true,
	}
	assert.NoError(t, Validate(rule))
}

func TestCatalog_Load_SkipsMalformedAndSortsRules(t *testing.T) {
	store := memstore.New()
	good := &model.Rule{
		RuleID: "b", Name: "good", Triggers: []string{"A"}, IsActive: true,
		Conditions: []model.Condition{{ConditionID: "c1", Type: model.ConditionAlwaysTrue}},
		Rewards:    []model.Reward{{RewardID: "r1", Type: model.RewardBadge, TargetID: "badge1"}},
	}
	good2 := &model.Rule{
		RuleID: "a", Name: "good2", Triggers: []string{"A"}, IsActive: true,
		Conditions: []model.Condition{{ConditionID: "c1", Type: model.ConditionAlwaysTrue}},
		Rewards:    []model.Reward{{RewardID: "r1", Type: model.RewardBadge, TargetID: "badge1"}},
	}
	bad := &model.Rule{RuleID: "bad", Name: "", IsActive: true}
	inactive := &model.Rule{
		RuleID: "c", Name: "inactive", Triggers: []string{"A"}, IsActive: false,
		Conditions: []model.Condition{{ConditionID: "c1", Type: model.ConditionAlwaysTrue}},
		Rewards:    []model.Reward{{RewardID: "r1", Type: model.RewardBadge, TargetID: "badge1"}},
	}
	store.SeedCatalog(nil, nil, nil, nil, nil, []*model.Rule{good, good2, bad, inactive})

	c := New(store, log.Nop())
	require.NoError(t, c.Load(context.Background()))

	snap := c.Snapshot()
	require.Len(t, snap.Rules, 2)
	assert.Equal(t, "a", snap.Rules[0].RuleID)
	assert.Equal(t, "b", snap.Rules[1].RuleID)
}

func TestSnapshot_LevelFor(t *testing.T) {
	snap := &Snapshot{Levels: map[string][]*model.Level{
		"xp": {
			{ID: "bronze", Category: "xp", MinPoints: 0},
			{ID: "silver", Category: "xp", MinPoints: 100},
			{ID: "gold", Category: "xp", MinPoints: 500},
		},
	}}

	assert.Equal(t, "bronze", snap.LevelFor("xp", 99).ID)
	assert.Equal(t, "silver", snap.LevelFor("xp", 100).ID)
	assert.Equal(t, "silver", snap.LevelFor("xp", 499).ID)
	assert.Equal(t, "gold", snap.LevelFor("xp", 1000).ID)
}
