package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidexforge/gamification-engine/internal/catalog"
	"github.com/voidexforge/gamification-engine/internal/conditions"
	"github.com/voidexforge/gamification-engine/internal/executor"
	"github.com/voidexforge/gamification-engine/internal/log"
	"github.com/voidexforge/gamification-engine/internal/model"
	"github.com/voidexforge/gamification-engine/internal/queue"
	"github.com/voidexforge/gamification-engine/internal/rules"
	"github.com/voidexforge/gamification-engine/internal/storage/memstore"
)

func testPool(t *testing.T, rulesList []*model.Rule, cats []*model.PointCategory, badges []*model.Badge) (*Pool, *memstore.Store, *queue.Queue) {
	t.Helper()
	store := memstore.New()
	store.SeedCatalog(nil, cats, badges, nil, nil, rulesList)
	cat := catalog.New(store, log.Nop())
	require.NoError(t, cat.Load(context.Background()))

	eng := rules.New(cat, conditions.NewEvaluator(nil), 250)
	exec := executor.New(store, store, store, cat, log.Nop())
	q := queue.New(store, store, log.Nop(), 100)

	cfg := Config{Concurrency: 2, EnableRetryOnFailure: true, MaxRetries: 3, BaseBackoff: time.Millisecond, MaxCascadeDepth: 8, HistoryMaxCount: 0}
	idn := 0
	pool := New(cfg, q, eng, exec, store, store, store, cat, log.Nop(), nil, func() string {
		idn++
		return fmt.Sprintf("id%d", idn)
	})
	return pool, store, q
}

func TestPool_ProcessesEventAndRecordsBadgeGrant(t *testing.T) {
	rule := &model.Rule{
		RuleID: "r1", Name: "r1", IsActive: true, Triggers: []string{"A"},
		Conditions: []model.Condition{{ConditionID: "c1", Type: model.ConditionAlwaysTrue}},
		Rewards:    []model.Reward{{RewardID: "rw1", Type: model.RewardBadge, TargetID: "b1"}},
	}
	pool, store, q := testPool(t, []*model.Rule{rule}, nil, []*model.Badge{{ID: "b1"}})

	e := &model.Event{EventID: "e1", EventType: "A", UserID: "u1", OccurredAt: time.Now()}
	outcome, err := q.Enqueue(context.Background(), e)
	require.NoError(t, err)
	require.Equal(t, queue.OK, outcome)

	ctx, cancel := context.WithCancel(context.Background())
	go pool.Run(ctx)

	deadline := time.After(time.Second)
	for {
		state, err := store.Get(context.Background(), "u1")
		require.NoError(t, err)
		if state.HasBadge("b1") {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for badge grant")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
}

func TestPool_NoMatchRecordsHistoryRow(t *testing.T) {
	pool, store, q := testPool(t, nil, nil, nil)
	e := &model.Event{EventID: "e1", EventType: "UNMATCHED", UserID: "u1", OccurredAt: time.Now()}
	_, err := q.Enqueue(context.Background(), e)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go pool.Run(ctx)
	defer cancel()

	deadline := time.After(time.Second)
	for {
		rows, err := store.ListByUser(context.Background(), "u1", time.Time{}, time.Now().Add(time.Hour))
		require.NoError(t, err)
		if len(rows) > 0 {
			assert.Equal(t, model.RewardTypeNoMatch, rows[0].RewardType)
			assert.True(t, rows[0].Success)
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for no-match history row")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
