// Package catalog loads and validates the rule/entity catalog (spec §4.2)
// and republishes it atomically on reload, the same copy-on-write shape
// the teacher's Init/initSystem gives each gameplay system's config.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/voidexforge/gamification-engine/internal/model"
	"github.com/voidexforge/gamification-engine/internal/storage"
)

// Snapshot is one immutable, fully-validated view of the catalog. Rule
// Engine and Dry-Run Service both read from the same *Snapshot pointer,
// which is how they stay observationally equivalent (invariant 7).
type Snapshot struct {
	EventDefinitions map[string]*model.EventDefinition
	PointCategories  map[string]*model.PointCategory
	Badges           map[string]*model.Badge
	Trophies         map[string]*model.Trophy
	Levels           map[string][]*model.Level // by category, sorted ascending by MinPoints
	Rules            []*model.Rule             // active rules only, stable order by RuleID
}

// LevelFor returns the level the user qualifies for in category given
// balance: the level with the largest MinPoints <= balance (spec §3).
func (s *Snapshot) LevelFor(category string, balance int64) *model.Level {
	levels := s.Levels[category]
	var best *model.Level
	for _, l := range levels {
		if l.MinPoints <= balance {
			best = l
		} else {
			break
		}
	}
	return best
}

// Catalog holds the current Snapshot behind an atomic pointer so readers
// never block a reload (spec §5 "Catalog is read-mostly and replaced
// atomically on update").
type Catalog struct {
	store   storage.CatalogStore
	logger  *zap.Logger
	current atomic.Pointer[Snapshot]
}

func New(store storage.CatalogStore, logger *zap.Logger) *Catalog {
	return &Catalog{store: store, logger: logger}
}

// Load builds a fresh snapshot from the store, validates every rule
// (spec §4.2), and swaps it in atomically. Called at boot and whenever the
// engine is told a catalog update happened (§13 supplemented feature).
func (c *Catalog) Load(ctx context.Context) error {
	defs, err := c.store.ListEventDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("catalog: list event definitions: %w", err)
	}
	cats, err := c.store.ListPointCategories(ctx)
	if err != nil {
		return fmt.Errorf("catalog: list point categories: %w", err)
	}
	badges, err := c.store.ListBadges(ctx)
	if err != nil {
		return fmt.Errorf("catalog: list badges: %w", err)
	}
	trophies, err := c.store.ListTrophies(ctx)
	if err != nil {
		return fmt.Errorf("catalog: list trophies: %w", err)
	}
	levels, err := c.store.ListLevels(ctx)
	if err != nil {
		return fmt.Errorf("catalog: list levels: %w", err)
	}
	rules, err := c.store.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("catalog: list rules: %w", err)
	}

	snap := &Snapshot{
		EventDefinitions: make(map[string]*model.EventDefinition, len(defs)),
		PointCategories:  make(map[string]*model.PointCategory, len(cats)),
		Badges:           make(map[string]*model.Badge, len(badges)),
		Trophies:         make(map[string]*model.Trophy, len(trophies)),
		Levels:           make(map[string][]*model.Level),
	}
	for _, d := range defs {
		snap.EventDefinitions[d.ID] = d
	}
	for _, p := range cats {
		snap.PointCategories[p.ID] = p
	}
	for _, b := range badges {
		snap.Badges[b.ID] = b
	}
	for _, t := range trophies {
		snap.Trophies[t.ID] = t
	}
	for _, l := range levels {
		snap.Levels[l.Category] = append(snap.Levels[l.Category], l)
	}
	for cat := range snap.Levels {
		sort.Slice(snap.Levels[cat], func(i, j int) bool {
			return snap.Levels[cat][i].MinPoints < snap.Levels[cat][j].MinPoints
		})
	}

	active := make([]*model.Rule, 0, len(rules))
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		if err := Validate(r); err != nil {
			c.logger.Warn("catalog: skipping malformed rule", zap.String("ruleId", r.RuleID), zap.Error(err))
			continue
		}
		active = append(active, r)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].RuleID < active[j].RuleID })
	snap.Rules = active

	c.current.Store(snap)
	c.logger.Info("catalog loaded", zap.Int("rules", len(active)), zap.Int("badges", len(badges)), zap.Int("trophies", len(trophies)))
	return nil
}

// Snapshot returns the current catalog snapshot. Callers must not mutate
// it; Load always installs a fresh copy.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// Validate checks rule well-formedness per spec §4.2.
func Validate(r *model.Rule) error {
	if r.RuleID == "" {
		return fmt.Errorf("ruleId must not be empty")
	}
	if r.Name == "" {
		return fmt.Errorf("rule %s: name must not be empty", r.RuleID)
	}
	if len(r.Triggers) == 0 {
		return fmt.Errorf("rule %s: triggers must not be empty", r.RuleID)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule %s: conditions must not be empty", r.RuleID)
	}
	if len(r.Rewards) == 0 {
		return fmt.Errorf("rule %s: rewards must not be empty", r.RuleID)
	}

	seenCond := make(map[string]bool)
	for _, cond := range r.Conditions {
		if cond.ConditionID == "" {
			return fmt.Errorf("rule %s: condition missing id", r.RuleID)
		}
		if seenCond[cond.ConditionID] {
			return fmt.Errorf("rule %s: duplicate conditionId %s", r.RuleID, cond.ConditionID)
		}
		seenCond[cond.ConditionID] = true
		if !model.ValidConditionTypes[cond.Type] {
			return fmt.Errorf("rule %s: condition %s has unknown type %s", r.RuleID, cond.ConditionID, cond.Type)
		}
	}

	seenReward := make(map[string]bool)
	for _, rw := range r.Rewards {
		if rw.RewardID == "" {
			return fmt.Errorf("rule %s: reward missing id", r.RuleID)
		}
		if seenReward[rw.RewardID] {
			return fmt.Errorf("rule %s: duplicate rewardId %s", r.RuleID, rw.RewardID)
		}
		seenReward[rw.RewardID] = true
		if !model.ValidRewardTypes[rw.Type] {
			return fmt.Errorf("rule %s: reward %s has unknown type %s", r.RuleID, rw.RewardID, rw.Type)
		}
		if rw.Type == model.RewardPoints && rw.TargetID == "" {
			return fmt.Errorf("rule %s: points reward %s requires targetId", r.RuleID, rw.RewardID)
		}
		if (rw.Type == model.RewardBadge || rw.Type == model.RewardTrophy) && rw.TargetID == "" {
			return fmt.Errorf("rule %s: %s reward %s requires targetId", r.RuleID, rw.Type, rw.RewardID)
		}
	}

	for _, sp := range r.Spendings {
		if sp.Category == "" {
			return fmt.Errorf("rule %s: spending %s requires category", r.RuleID, sp.SpendingID)
		}
		switch sp.Type {
		case model.SpendingTransaction:
			if sp.Amount == nil {
				return fmt.Errorf("rule %s: transaction spending %s requires amount", r.RuleID, sp.SpendingID)
			}
		case model.SpendingTransfer:
			if sp.Source == nil || sp.Destination == nil || sp.Amount == nil {
				return fmt.Errorf("rule %s: transfer spending %s requires source, destination and amount", r.RuleID, sp.SpendingID)
			}
		default:
			return fmt.Errorf("rule %s: spending %s has unknown type %s", r.RuleID, sp.SpendingID, sp.Type)
		}
	}

	return nil
}
