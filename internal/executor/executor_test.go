package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidexforge/gamification-engine/internal/catalog"
	"github.com/voidexforge/gamification-engine/internal/log"
	"github.com/voidexforge/gamification-engine/internal/model"
	"github.com/voidexforge/gamification-engine/internal/storage/memstore"
)

func setup(t *testing.T, cats []*model.PointCategory, badges []*model.Badge, trophies []*model.Trophy, levels []*model.Level) (*Executor, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	store.SeedCatalog(nil, cats, badges, trophies, levels, nil)
	cat := catalog.New(store, log.Nop())
	require.NoError(t, cat.Load(context.Background()))
	return New(store, store, store, cat, log.Nop()), store
}

func trigger(userID string) *model.Event {
	return &model.Event{EventID: "e1", EventType: "A", UserID: userID, OccurredAt: time.Now()}
}

func TestExecutor_PointsRewardCreditsWallet(t *testing.T) {
	ex, store := setup(t, []*model.PointCategory{{ID: "xp", NegativeAllowed: true}}, nil, nil, nil)
	plan := &model.Plan{
		TriggerEvent: trigger("u1"),
		Items: []model.PlanItem{
			{RuleID: "r1", Reward: &model.Reward{RewardID: "rw1", Type: model.RewardPoints, TargetID: "xp", Amount: 100}},
		},
	}

	res, err := ex.Apply(context.Background(), plan, 0, 8)
	require.NoError(t, err)
	assert.EqualValues(t, 100, res.UserState.PointsByCategory["xp"])

	w, err := store.GetWallet(context.Background(), "u1", "xp")
	require.NoError(t, err)
	assert.EqualValues(t, 100, w.Balance)
}

func TestExecutor_BadgeGrantIsIdempotent(t *testing.T) {
	ex, _ := setup(t, nil, []*model.Badge{{ID: "b1"}}, nil, nil)
	plan := &model.Plan{
		TriggerEvent: trigger("u1"),
		Items: []model.PlanItem{
			{RuleID: "r1", Reward: &model.Reward{RewardID: "rw1", Type: model.RewardBadge, TargetID: "b1"}},
		},
	}

	res, err := ex.Apply(context.Background(), plan, 0, 8)
	require.NoError(t, err)
	assert.True(t, res.UserState.HasBadge("b1"))
	require.Len(t, res.Cascades, 1)
	assert.Equal(t, model.EventTypeBadgeGranted, res.Cascades[0].EventType)

	res2, err := ex.Apply(context.Background(), plan, 0, 8)
	require.NoError(t, err)
	assert.True(t, res2.UserState.HasBadge("b1"))
	assert.Empty(t, res2.Cascades, "re-granting an already-held badge must not cascade again")
}

func TestExecutor_NegativeBalanceRejectedWhenNotAllowed(t *testing.T) {
	ex, store := setup(t, []*model.PointCategory{{ID: "gold", NegativeAllowed: false}}, nil, nil, nil)
	plan := &model.Plan{
		TriggerEvent: trigger("u1"),
		Items: []model.PlanItem{
			{RuleID: "r1", Reward: &model.Reward{RewardID: "rw1", Type: model.RewardPoints, TargetID: "gold", Amount: -10}},
		},
	}

	res, err := ex.Apply(context.Background(), plan, 0, 8)
	require.NoError(t, err)
	assert.EqualValues(t, 0, res.UserState.PointsByCategory["gold"])

	w, err := store.GetWallet(context.Background(), "u1", "gold")
	require.NoError(t, err)
	assert.EqualValues(t, 0, w.Balance)
}

func TestExecutor_PlanAbortsAfterFailureAndSkipsRemainder(t *testing.T) {
	ex, store := setup(t, []*model.PointCategory{{ID: "gold", NegativeAllowed: false}}, []*model.Badge{{ID: "b1"}}, nil, nil)
	plan := &model.Plan{
		TriggerEvent: trigger("u1"),
		Items: []model.PlanItem{
			{RuleID: "r1", Reward: &model.Reward{RewardID: "rw1", Type: model.RewardPoints, TargetID: "gold", Amount: -10}},
			{RuleID: "r1", Reward: &model.Reward{RewardID: "rw2", Type: model.RewardBadge, TargetID: "b1"}},
		},
	}

	res, err := ex.Apply(context.Background(), plan, 0, 8)
	require.NoError(t, err)
	assert.False(t, res.UserState.HasBadge("b1"), "badge reward after a failed item must be skipped, not applied")

	hist, err := store.ListByUser(context.Background(), "u1", time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.False(t, hist[0].Success)
	assert.False(t, hist[1].Success)
	assert.Equal(t, "plan_aborted", hist[1].Message)
}

func TestExecutor_LevelUpRecomputesAndCascades(t *testing.T) {
	levels := []*model.Level{
		{ID: "bronze", Category: "xp", MinPoints: 0},
		{ID: "silver", Category: "xp", MinPoints: 100},
	}
	ex, _ := setup(t, []*model.PointCategory{{ID: "xp", NegativeAllowed: true}}, nil, nil, levels)
	plan := &model.Plan{
		TriggerEvent: trigger("u1"),
		Items: []model.PlanItem{
			{RuleID: "r1", Reward: &model.Reward{RewardID: "rw1", Type: model.RewardPoints, TargetID: "xp", Amount: 150}},
			{RuleID: "r1", Reward: &model.Reward{RewardID: "rw2", Type: model.RewardLevel, TargetID: "xp"}},
		},
	}

	res, err := ex.Apply(context.Background(), plan, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, "silver", res.UserState.CurrentLevelsByCategory["xp"])
	require.Len(t, res.Cascades, 1)
	assert.Equal(t, model.EventTypeLevelUp, res.Cascades[0].EventType)
}

func TestExecutor_CascadeDepthLimitDropsFurtherCascades(t *testing.T) {
	ex, _ := setup(t, nil, []*model.Badge{{ID: "b1"}}, nil, nil)
	plan := &model.Plan{
		TriggerEvent: trigger("u1"),
		Items: []model.PlanItem{
			{RuleID: "r1", Reward: &model.Reward{RewardID: "rw1", Type: model.RewardBadge, TargetID: "b1"}},
		},
	}

	res, err := ex.Apply(context.Background(), plan, 8, 8)
	require.NoError(t, err)
	assert.True(t, res.UserState.HasBadge("b1"))
	assert.Empty(t, res.Cascades, "a cascade at the depth limit must be dropped, not emitted")
}

func TestExecutor_TransferMovesBalanceBetweenUsers(t *testing.T) {
	ex, store := setup(t, []*model.PointCategory{{ID: "gold", NegativeAllowed: false}}, nil, nil, nil)

	seed := &model.Plan{
		TriggerEvent: trigger("giver"),
		Items: []model.PlanItem{
			{RuleID: "r0", Reward: &model.Reward{RewardID: "rw0", Type: model.RewardPoints, TargetID: "gold", Amount: 50}},
		},
	}
	_, err := ex.Apply(context.Background(), seed, 0, 8)
	require.NoError(t, err)

	transferTrigger := &model.Event{
		EventID: "e2", EventType: "A", UserID: "giver", OccurredAt: time.Now(),
		Attributes: map[string]interface{}{"from": "giver", "to": "receiver"},
	}
	plan := &model.Plan{
		TriggerEvent: transferTrigger,
		Items: []model.PlanItem{
			{RuleID: "r1", Spending: &model.Spending{
				SpendingID: "sp1", Category: "gold", Type: model.SpendingTransfer,
				Amount: 20, Source: "attr:from", Destination: "attr:to",
			}},
		},
	}
	_, err = ex.Apply(context.Background(), plan, 0, 8)
	require.NoError(t, err)

	giverWallet, err := store.GetWallet(context.Background(), "giver", "gold")
	require.NoError(t, err)
	receiverWallet, err := store.GetWallet(context.Background(), "receiver", "gold")
	require.NoError(t, err)
	assert.EqualValues(t, 30, giverWallet.Balance)
	assert.EqualValues(t, 20, receiverWallet.Balance)
}
