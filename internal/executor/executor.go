// Package executor implements the Reward Executor of spec §4.5: given a
// Plan it applies every reward and spending in order, mutating wallets and
// the user-state projection, appending reward history, and collecting the
// cascade events the plan's badge/trophy/level rewards produce.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voidexforge/gamification-engine/internal/catalog"
	"github.com/voidexforge/gamification-engine/internal/conditions"
	"github.com/voidexforge/gamification-engine/internal/enginerr"
	"github.com/voidexforge/gamification-engine/internal/model"
	"github.com/voidexforge/gamification-engine/internal/storage"
)

// Executor applies materialization plans. Callers (internal/worker) are
// responsible for holding the per-user lock for the plan's user for the
// duration of Apply (spec §5 "exclusively mutated under the per-user
// lock").
type Executor struct {
	wallets   storage.WalletStore
	history   storage.HistoryStore
	states    storage.UserStateStore
	catalog   *catalog.Catalog
	logger    *zap.Logger
	newID     func() string
}

func New(wallets storage.WalletStore, history storage.HistoryStore, states storage.UserStateStore, cat *catalog.Catalog, logger *zap.Logger) *Executor {
	return &Executor{
		wallets: wallets, history: history, states: states, catalog: cat, logger: logger,
		newID: func() string { return uuid.NewString() },
	}
}

// Result is what Apply produces: the user's updated projection and any
// cascade events the plan's rewards generated, ready for the caller to
// re-enqueue (spec §4.5 "Cascade events").
type Result struct {
	UserState *model.UserState
	Cascades  []*model.Event
}

// Apply executes every PlanItem in order (spec §4.4/§4.5 "Ordering").
// Once one reward/spending fails to apply (plan_abort, §7), every
// subsequent item in the plan is recorded as a skipped failure and no
// further mutation happens; items already applied are not rolled back.
func (ex *Executor) Apply(ctx context.Context, plan *model.Plan, cascadeDepth int, maxCascadeDepth int) (*Result, error) {
	userID := plan.TriggerEvent.UserID
	state, err := ex.states.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("executor: load user state: %w", err)
	}

	res := &Result{UserState: state}
	aborted := false

	for _, item := range plan.Items {
		if aborted {
			ex.recordSkipped(ctx, item, plan, "plan_aborted")
			continue
		}

		var err error
		switch {
		case item.Reward != nil:
			err = ex.applyReward(ctx, item, plan, state, res, cascadeDepth, maxCascadeDepth)
		case item.Spending != nil:
			err = ex.applySpending(ctx, item, plan, state)
		}

		if err != nil {
			aborted = true
			ex.logger.Warn("executor: plan item failed, aborting remainder",
				zap.String("userId", userID), zap.String("ruleId", item.RuleID), zap.Error(err))
		}
	}

	if err := ex.states.Put(ctx, state); err != nil {
		return nil, fmt.Errorf("executor: persist user state: %w", err)
	}
	return res, nil
}

func (ex *Executor) recordSkipped(ctx context.Context, item model.PlanItem, plan *model.Plan, reason string) {
	rewardType, rewardID := "spending", ""
	if item.Reward != nil {
		rewardType, rewardID = string(item.Reward.Type), item.Reward.RewardID
	} else if item.Spending != nil {
		rewardType, rewardID = string(item.Spending.Type), item.Spending.SpendingID
	}
	_ = ex.history.Append(ctx, &model.RewardHistory{
		ID: ex.newID(), UserID: plan.TriggerEvent.UserID, RewardType: rewardType, RewardID: rewardID,
		TriggerEventID: plan.TriggerEvent.EventID, AwardedAt: time.Now().UTC(), Success: false, Message: reason,
	})
}

func (ex *Executor) applyReward(ctx context.Context, item model.PlanItem, plan *model.Plan, state *model.UserState, res *Result, cascadeDepth, maxCascadeDepth int) error {
	rw := item.Reward
	trigger := plan.TriggerEvent
	snap := ex.catalog.Snapshot()

	switch rw.Type {
	case model.RewardPoints:
		return ex.applyPointsReward(ctx, rw, item.RuleID, trigger, state, snap)
	case model.RewardBadge:
		return ex.applyBadgeReward(ctx, rw, item.RuleID, trigger, state, res, cascadeDepth, maxCascadeDepth, snap)
	case model.RewardTrophy:
		return ex.applyTrophyReward(ctx, rw, item.RuleID, trigger, state, res, cascadeDepth, maxCascadeDepth, snap)
	case model.RewardLevel:
		return ex.applyLevelReward(ctx, rw, item.RuleID, trigger, state, res, cascadeDepth, maxCascadeDepth, snap)
	default:
		return enginerr.ErrRuleMalformed
	}
}

func (ex *Executor) applyPointsReward(ctx context.Context, rw *model.Reward, ruleID string, trigger *model.Event, state *model.UserState, snap *catalog.Snapshot) error {
	amount, ok := conditions.Resolve(trigger, rw.Amount)
	amt, okAmt := conditions.AsInt64(amount)
	if !ok || !okAmt {
		ex.appendHistory(ctx, trigger, rw.Type, rw.RewardID, nil, rw.TargetID, false, "amount_unresolved")
		return enginerr.ErrRuleMalformed
	}

	negativeAllowed := true
	if cat, ok := snap.PointCategories[rw.TargetID]; ok {
		negativeAllowed = cat.NegativeAllowed
	} else {
		ex.appendHistory(ctx, trigger, rw.Type, rw.RewardID, &amt, rw.TargetID, false, "category_not_found")
		return enginerr.ErrCatalogNotFound
	}

	tx := &model.WalletTransaction{
		ID: ex.newID(), UserID: trigger.UserID, PointCategory: rw.TargetID, Amount: amt,
		Type: txTypeFor(amt), Timestamp: time.Now().UTC(),
	}
	balance, err := ex.wallets.ApplyTransaction(ctx, tx, negativeAllowed)
	if err != nil {
		ex.appendHistory(ctx, trigger, rw.Type, rw.RewardID, &amt, rw.TargetID, false, "insufficient_balance")
		return err
	}
	state.PointsByCategory[rw.TargetID] = balance

	ex.appendHistory(ctx, trigger, rw.Type, rw.RewardID, &amt, rw.TargetID, true, "")
	return nil
}

func txTypeFor(amount int64) model.TransactionType {
	if amount < 0 {
		return model.TxDebit
	}
	return model.TxCredit
}

func (ex *Executor) applyBadgeReward(ctx context.Context, rw *model.Reward, ruleID string, trigger *model.Event, state *model.UserState, res *Result, cascadeDepth, maxCascadeDepth int, snap *catalog.Snapshot) error {
	if _, ok := snap.Badges[rw.TargetID]; !ok {
		ex.appendHistory(ctx, trigger, rw.Type, rw.RewardID, nil, "", false, "badge_not_found")
		return enginerr.ErrCatalogNotFound
	}
	if state.HasBadge(rw.TargetID) {
		ex.appendHistory(ctx, trigger, rw.Type, rw.RewardID, nil, "", true, "already_granted")
		return nil
	}
	state.BadgeIDs[rw.TargetID] = true
	ex.appendHistory(ctx, trigger, rw.Type, rw.RewardID, nil, "", true, "")

	if cascade := ex.cascadeEvent(trigger, model.EventTypeBadgeGranted, cascadeDepth, maxCascadeDepth, map[string]interface{}{
		"badgeId": rw.TargetID, "ruleId": ruleID,
	}); cascade != nil {
		res.Cascades = append(res.Cascades, cascade)
	}
	return nil
}

func (ex *Executor) applyTrophyReward(ctx context.Context, rw *model.Reward, ruleID string, trigger *model.Event, state *model.UserState, res *Result, cascadeDepth, maxCascadeDepth int, snap *catalog.Snapshot) error {
	if _, ok := snap.Trophies[rw.TargetID]; !ok {
		ex.appendHistory(ctx, trigger, rw.Type, rw.RewardID, nil, "", false, "trophy_not_found")
		return enginerr.ErrCatalogNotFound
	}
	if state.HasTrophy(rw.TargetID) {
		ex.appendHistory(ctx, trigger, rw.Type, rw.RewardID, nil, "", true, "already_granted")
		return nil
	}
	state.TrophyIDs[rw.TargetID] = true
	ex.appendHistory(ctx, trigger, rw.Type, rw.RewardID, nil, "", true, "")

	if cascade := ex.cascadeEvent(trigger, model.EventTypeTrophyGranted, cascadeDepth, maxCascadeDepth, map[string]interface{}{
		"trophyId": rw.TargetID, "ruleId": ruleID,
	}); cascade != nil {
		res.Cascades = append(res.Cascades, cascade)
	}
	return nil
}

func (ex *Executor) applyLevelReward(ctx context.Context, rw *model.Reward, ruleID string, trigger *model.Event, state *model.UserState, res *Result, cascadeDepth, maxCascadeDepth int, snap *catalog.Snapshot) error {
	category := rw.TargetID
	balance := state.PointsByCategory[category]
	level := snap.LevelFor(category, balance)
	if level == nil {
		ex.appendHistory(ctx, trigger, rw.Type, rw.RewardID, nil, category, true, "no_qualifying_level")
		return nil
	}

	prev := state.CurrentLevelsByCategory[category]
	if prev == level.ID {
		ex.appendHistory(ctx, trigger, rw.Type, rw.RewardID, nil, category, true, "unchanged")
		return nil
	}
	state.CurrentLevelsByCategory[category] = level.ID
	ex.appendHistory(ctx, trigger, rw.Type, rw.RewardID, nil, category, true, "")

	if cascade := ex.cascadeEvent(trigger, model.EventTypeLevelUp, cascadeDepth, maxCascadeDepth, map[string]interface{}{
		"category": category, "from": prev, "to": level.ID, "ruleId": ruleID,
	}); cascade != nil {
		res.Cascades = append(res.Cascades, cascade)
	}
	return nil
}

func (ex *Executor) applySpending(ctx context.Context, item model.PlanItem, plan *model.Plan, state *model.UserState) error {
	sp := item.Spending
	trigger := plan.TriggerEvent
	snap := ex.catalog.Snapshot()

	amountVal, _ := conditions.Resolve(trigger, sp.Amount)
	amount, ok := conditions.AsInt64(amountVal)
	if !ok || amount <= 0 {
		ex.appendHistory(ctx, trigger, string(sp.Type), sp.SpendingID, nil, sp.Category, false, "amount_unresolved")
		return enginerr.ErrRuleMalformed
	}

	switch sp.Type {
	case model.SpendingTransaction:
		negativeAllowed := true
		if cat, ok := snap.PointCategories[sp.Category]; ok {
			negativeAllowed = cat.NegativeAllowed
		}
		tx := &model.WalletTransaction{
			ID: ex.newID(), UserID: trigger.UserID, PointCategory: sp.Category, Amount: -amount,
			Type: model.TxDebit, Timestamp: time.Now().UTC(),
		}
		balance, err := ex.wallets.ApplyTransaction(ctx, tx, negativeAllowed)
		if err != nil {
			ex.appendHistory(ctx, trigger, string(sp.Type), sp.SpendingID, &amount, sp.Category, false, "insufficient_balance")
			return err
		}
		state.PointsByCategory[sp.Category] = balance
		ex.appendHistory(ctx, trigger, string(sp.Type), sp.SpendingID, &amount, sp.Category, true, "")
		return nil

	case model.SpendingTransfer:
		return ex.applyTransfer(ctx, sp, trigger, amount)

	default:
		return enginerr.ErrRuleMalformed
	}
}

// applyTransfer resolves source/destination from event attributes, creates
// a pending WalletTransfer, and hands the out/in pair to CompleteTransfer,
// which performs the balance check and both writes atomically (spec §4.5
// "transfer") rather than this method prechecking the balance itself —
// a separate read-then-write here would race against another transfer
// debiting the same source wallet under a different user's lock.
func (ex *Executor) applyTransfer(ctx context.Context, sp *model.Spending, trigger *model.Event, amount int64) error {
	srcVal, _ := conditions.Resolve(trigger, sp.Source)
	dstVal, _ := conditions.Resolve(trigger, sp.Destination)
	src := conditions.AsString(srcVal)
	dst := conditions.AsString(dstVal)
	if src == "" || dst == "" {
		ex.appendHistory(ctx, trigger, string(sp.Type), sp.SpendingID, &amount, sp.Category, false, "source_or_destination_unresolved")
		return enginerr.ErrRuleMalformed
	}

	snap := ex.catalog.Snapshot()
	negativeAllowed := true
	if cat, ok := snap.PointCategories[sp.Category]; ok {
		negativeAllowed = cat.NegativeAllowed
	}

	transferID := ex.newID()
	transfer := &model.WalletTransfer{
		ID: transferID, FromUserID: src, ToUserID: dst, PointCategory: sp.Category,
		Amount: amount, Status: model.TransferPending, Timestamp: time.Now().UTC(),
	}
	if err := ex.wallets.CreateTransfer(ctx, transfer); err != nil {
		return err
	}

	out := &model.WalletTransaction{ID: ex.newID(), UserID: src, PointCategory: sp.Category, Amount: -amount, Type: model.TxTransferOut, Timestamp: time.Now().UTC(), ReferenceID: transferID}
	in := &model.WalletTransaction{ID: ex.newID(), UserID: dst, PointCategory: sp.Category, Amount: amount, Type: model.TxTransferIn, Timestamp: time.Now().UTC(), ReferenceID: transferID}
	if err := ex.wallets.CompleteTransfer(ctx, transferID, out, in, negativeAllowed); err != nil {
		reason := "transfer write failed"
		if errors.Is(err, enginerr.ErrNegativeBalance) {
			reason = "insufficient source balance"
		}
		_ = ex.wallets.FailTransfer(ctx, transferID, reason)
		ex.appendHistory(ctx, trigger, string(sp.Type), sp.SpendingID, &amount, sp.Category, false, reason)
		return err
	}

	ex.appendHistory(ctx, trigger, string(sp.Type), sp.SpendingID, &amount, sp.Category, true, "")
	return nil
}

func (ex *Executor) appendHistory(ctx context.Context, trigger *model.Event, rewardType, rewardID string, amount *int64, category string, success bool, message string) {
	if err := ex.history.Append(ctx, &model.RewardHistory{
		ID: ex.newID(), UserID: trigger.UserID, RewardType: rewardType, RewardID: rewardID,
		PointsAmount: amount, PointCategory: category, TriggerEventID: trigger.EventID,
		AwardedAt: time.Now().UTC(), Success: success, Message: message,
	}); err != nil {
		ex.logger.Error("executor: failed to append reward history", zap.Error(err))
	}
}

// cascadeEvent builds the synthetic event the executor re-enqueues, or nil
// if doing so would exceed the configured cascade depth (Design Notes §9
// "Cascade depth").
func (ex *Executor) cascadeEvent(trigger *model.Event, eventType string, depth, maxDepth int, attrs map[string]interface{}) *model.Event {
	if depth+1 > maxDepth {
		ex.logger.Warn("executor: cascade depth limit reached, dropping cascade",
			zap.String("userId", trigger.UserID), zap.String("eventType", eventType), zap.Int("depth", depth))
		return nil
	}
	return &model.Event{
		EventID:      ex.newID(),
		EventType:    eventType,
		UserID:       trigger.UserID,
		OccurredAt:   time.Now().UTC(),
		Attributes:   attrs,
		CascadeDepth: depth + 1,
	}
}
