// Package memstore is an in-memory implementation of every storage.*Store
// interface, used by package tests across the engine the way the teacher's
// mock_db.go/mock_nakama_module.go stand in for a real Nakama+Postgres
// deployment in its own test suite.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/voidexforge/gamification-engine/internal/enginerr"
	"github.com/voidexforge/gamification-engine/internal/model"
)

// Store bundles every in-memory store behind one mutex, since in real
// deployments these are separate tables but in tests we only care about
// observable behavior, not isolation between them.
type Store struct {
	mu sync.Mutex

	events        map[string]*model.Event
	walletBalance map[walletKey]int64
	walletTxs     map[walletKey][]*model.WalletTransaction
	transfers     map[string]*model.WalletTransfer
	history       []*model.RewardHistory
	userStates    map[string]*model.UserState

	eventDefs  []*model.EventDefinition
	categories []*model.PointCategory
	badges     []*model.Badge
	trophies   []*model.Trophy
	levels     []*model.Level
	rules      []*model.Rule

	admitted map[string]time.Time
}

type walletKey struct {
	userID   string
	category string
}

func New() *Store {
	return &Store{
		events:        make(map[string]*model.Event),
		walletBalance: make(map[walletKey]int64),
		walletTxs:     make(map[walletKey][]*model.WalletTransaction),
		transfers:     make(map[string]*model.WalletTransfer),
		userStates:    make(map[string]*model.UserState),
		admitted:      make(map[string]time.Time),
	}
}

// --- EventStore ---

func (s *Store) Insert(ctx context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.EventID]; ok {
		return enginerr.ErrDuplicateEvent
	}
	cp := *e
	s.events[e.EventID] = &cp
	return nil
}

func (s *Store) Get(ctx context.Context, eventID string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return nil, enginerr.ErrCatalogNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *Store) ListByUser(ctx context.Context, userID, eventType string, since, until time.Time) ([]*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Event
	for _, e := range s.events {
		if e.UserID != userID {
			continue
		}
		if eventType != "" && e.EventType != eventType {
			continue
		}
		if e.OccurredAt.Before(since) || e.OccurredAt.After(until) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.events {
		if n >= limit {
			break
		}
		if e.OccurredAt.Before(cutoff) {
			delete(s.events, id)
			n++
		}
	}
	return n, nil
}

// --- WalletStore ---

func (s *Store) GetWallet(ctx context.Context, userID, pointCategory string) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := walletKey{userID, pointCategory}
	return &model.Wallet{UserID: userID, PointCategory: pointCategory, Balance: s.walletBalance[k]}, nil
}

func (s *Store) ApplyTransaction(ctx context.Context, tx *model.WalletTransaction, negativeAllowed bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := walletKey{tx.UserID, tx.PointCategory}
	next := s.walletBalance[k] + tx.Amount
	if !negativeAllowed && next < 0 {
		return s.walletBalance[k], enginerr.ErrNegativeBalance
	}
	s.walletBalance[k] = next
	cp := *tx
	s.walletTxs[k] = append(s.walletTxs[k], &cp)
	return next, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID, pointCategory string) ([]*model.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := walletKey{userID, pointCategory}
	out := make([]*model.WalletTransaction, len(s.walletTxs[k]))
	copy(out, s.walletTxs[k])
	return out, nil
}

func (s *Store) CreateTransfer(ctx context.Context, t *model.WalletTransfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.transfers[t.ID] = &cp
	return nil
}

func (s *Store) CompleteTransfer(ctx context.Context, transferID string, out, in *model.WalletTransaction, negativeAllowed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[transferID]
	if !ok {
		return enginerr.ErrCatalogNotFound
	}

	outKey := walletKey{out.UserID, out.PointCategory}
	inKey := walletKey{in.UserID, in.PointCategory}

	outNext := s.walletBalance[outKey] + out.Amount
	if !negativeAllowed && outNext < 0 {
		return enginerr.ErrNegativeBalance
	}

	s.walletBalance[outKey] = outNext
	outCp := *out
	s.walletTxs[outKey] = append(s.walletTxs[outKey], &outCp)

	inNext := s.walletBalance[inKey] + in.Amount
	s.walletBalance[inKey] = inNext
	inCp := *in
	s.walletTxs[inKey] = append(s.walletTxs[inKey], &inCp)

	t.Status = model.TransferCompleted
	return nil
}

func (s *Store) FailTransfer(ctx context.Context, transferID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[transferID]
	if !ok {
		return enginerr.ErrCatalogNotFound
	}
	t.Status = model.TransferFailed
	t.FailureReason = reason
	return nil
}

func (s *Store) GetTransfer(ctx context.Context, transferID string) (*model.WalletTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[transferID]
	if !ok {
		return nil, enginerr.ErrCatalogNotFound
	}
	cp := *t
	return &cp, nil
}

// --- HistoryStore ---

func (s *Store) Append(ctx context.Context, h *model.RewardHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *h
	s.history = append(s.history, &cp)
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, since, until time.Time) ([]*model.RewardHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.RewardHistory
	for _, h := range s.history {
		if h.UserID != userID {
			continue
		}
		if h.AwardedAt.Before(since) || h.AwardedAt.After(until) {
			continue
		}
		cp := *h
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) ListByUserAndType(ctx context.Context, userID, rewardType string) ([]*model.RewardHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.RewardHistory
	for _, h := range s.history {
		if h.UserID == userID && h.RewardType == rewardType {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- UserStateStore ---

func (s *Store) Get(ctx context.Context, userID string) (*model.UserState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.userStates[userID]; ok {
		return st.Clone(), nil
	}
	return model.NewUserState(userID), nil
}

func (s *Store) Put(ctx context.Context, state *model.UserState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userStates[state.UserID] = state.Clone()
	return nil
}

// --- CatalogStore ---

func (s *Store) ListEventDefinitions(ctx context.Context) ([]*model.EventDefinition, error) {
	return s.eventDefs, nil
}
func (s *Store) ListPointCategories(ctx context.Context) ([]*model.PointCategory, error) {
	return s.categories, nil
}
func (s *Store) ListBadges(ctx context.Context) ([]*model.Badge, error)   { return s.badges, nil }
func (s *Store) ListTrophies(ctx context.Context) ([]*model.Trophy, error) { return s.trophies, nil }
func (s *Store) ListLevels(ctx context.Context) ([]*model.Level, error)   { return s.levels, nil }
func (s *Store) ListRules(ctx context.Context) ([]*model.Rule, error)     { return s.rules, nil }

// SeedCatalog lets tests populate the catalog without a database.
func (s *Store) SeedCatalog(defs []*model.EventDefinition, cats []*model.PointCategory, badges []*model.Badge, trophies []*model.Trophy, levels []*model.Level, rules []*model.Rule) {
	s.eventDefs, s.categories, s.badges, s.trophies, s.levels, s.rules = defs, cats, badges, trophies, levels, rules
}

// --- QueueStore ---

func (s *Store) Admit(ctx context.Context, eventID string, enqueuedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admitted[eventID] = enqueuedAt
	return nil
}

func (s *Store) MarkProcessed(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.admitted, eventID)
	return nil
}

func (s *Store) PendingEventIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type pair struct {
		id string
		at time.Time
	}
	pairs := make([]pair, 0, len(s.admitted))
	for id, at := range s.admitted {
		pairs = append(pairs, pair{id, at})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].at.Before(pairs[j].at) })
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.id
	}
	return out, nil
}

func (s *Store) Depth(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.admitted), nil
}
