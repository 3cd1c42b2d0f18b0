// Package postgres is the pgx-backed implementation of every storage.*Store
// interface, grounded in the pgxpool + transaction style the reward-service
// example in the pack uses (pool.Begin/tx.QueryRow) and the teacher's own
// mock_db.go choice of a Postgres-wire-compatible driver for its tests.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voidexforge/gamification-engine/internal/enginerr"
	"github.com/voidexforge/gamification-engine/internal/model"
)

// Store implements storage.EventStore, storage.WalletStore,
// storage.HistoryStore, storage.UserStateStore, storage.CatalogStore, and
// storage.QueueStore against a single Postgres database.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// --- EventStore ---

func (s *Store) Insert(ctx context.Context, e *model.Event) error {
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("postgres: marshal attributes: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO events (event_id, event_type, user_id, occurred_at, attributes, cascade_depth)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.EventID, e.EventType, e.UserID, e.OccurredAt, attrs, e.CascadeDepth)
	if isUniqueViolation(err) {
		return enginerr.ErrDuplicateEvent
	}
	return err
}

func (s *Store) Get(ctx context.Context, eventID string) (*model.Event, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT event_id, event_type, user_id, occurred_at, attributes, cascade_depth
		FROM events WHERE event_id = $1`, eventID)
	return scanEvent(row)
}

func (s *Store) ListByUser(ctx context.Context, userID, eventType string, since, until time.Time) ([]*model.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, event_type, user_id, occurred_at, attributes, cascade_depth
		FROM events
		WHERE user_id = $1
		  AND ($2 = '' OR event_type = $2)
		  AND occurred_at BETWEEN $3 AND $4
		ORDER BY occurred_at ASC`, userID, eventType, since, until)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events by user: %w", err)
	}
	defer rows.Close()

	var out []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM events WHERE event_id IN (
			SELECT event_id FROM events WHERE occurred_at < $1 LIMIT $2
		)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete older than: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*model.Event, error) {
	var e model.Event
	var attrs []byte
	if err := row.Scan(&e.EventID, &e.EventType, &e.UserID, &e.OccurredAt, &attrs, &e.CascadeDepth); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, enginerr.ErrCatalogNotFound
		}
		return nil, fmt.Errorf("postgres: scan event: %w", err)
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal attributes: %w", err)
		}
	}
	return &e, nil
}

// --- WalletStore ---

func (s *Store) GetWallet(ctx context.Context, userID, pointCategory string) (*model.Wallet, error) {
	var w model.Wallet
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, point_category_id, balance FROM wallets WHERE user_id = $1 AND point_category_id = $2`,
		userID, pointCategory).Scan(&w.UserID, &w.PointCategory, &w.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.Wallet{UserID: userID, PointCategory: pointCategory, Balance: 0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get wallet: %w", err)
	}
	return &w, nil
}

// ApplyTransaction runs the balance read, guard check, ledger insert and
// balance upsert inside one transaction so concurrent writers never
// interleave a negative-balance check with another writer's credit.
func (s *Store) ApplyTransaction(ctx context.Context, tx *model.WalletTransaction, negativeAllowed bool) (int64, error) {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx)

	var balance int64
	err = dbTx.QueryRow(ctx, `
		SELECT balance FROM wallets WHERE user_id = $1 AND point_category_id = $2 FOR UPDATE`,
		tx.UserID, tx.PointCategory).Scan(&balance)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("postgres: lock wallet: %w", err)
	}

	next := balance + tx.Amount
	if !negativeAllowed && next < 0 {
		return balance, enginerr.ErrNegativeBalance
	}

	if _, err := dbTx.Exec(ctx, `
		INSERT INTO wallets (user_id, point_category_id, balance) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, point_category_id) DO UPDATE SET balance = $3`,
		tx.UserID, tx.PointCategory, next); err != nil {
		return 0, fmt.Errorf("postgres: upsert wallet: %w", err)
	}

	if _, err := dbTx.Exec(ctx, `
		INSERT INTO wallet_transactions (id, user_id, point_category_id, amount, type, timestamp, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tx.ID, tx.UserID, tx.PointCategory, tx.Amount, tx.Type, tx.Timestamp, tx.ReferenceID); err != nil {
		return 0, fmt.Errorf("postgres: insert transaction: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit: %w", err)
	}
	return next, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID, pointCategory string) ([]*model.WalletTransaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, point_category_id, amount, type, timestamp, reference_id
		FROM wallet_transactions WHERE user_id = $1 AND point_category_id = $2 ORDER BY timestamp ASC`,
		userID, pointCategory)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions: %w", err)
	}
	defer rows.Close()

	var out []*model.WalletTransaction
	for rows.Next() {
		var t model.WalletTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.PointCategory, &t.Amount, &t.Type, &t.Timestamp, &t.ReferenceID); err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *Store) CreateTransfer(ctx context.Context, t *model.WalletTransfer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_transfers (id, from_user_id, to_user_id, point_category_id, amount, status, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.FromUserID, t.ToUserID, t.PointCategory, t.Amount, t.Status, t.Timestamp)
	return err
}

// walletKey identifies a (user, category) wallet row for lock ordering.
type walletKey struct {
	userID   string
	category string
}

func keyOf(tx *model.WalletTransaction) walletKey {
	return walletKey{tx.UserID, tx.PointCategory}
}

// CompleteTransfer locks both legs' wallet rows in one transaction (in a
// fixed user/category order, so two transfers moving opposite directions
// between the same pair of wallets can't deadlock each other), checks the
// out leg's balance against negativeAllowed, and writes both legs plus the
// transfer status flip before committing — mirroring ApplyTransaction's
// single-leg lock-check-write pattern for the two-leg case.
func (s *Store) CompleteTransfer(ctx context.Context, transferID string, out, in *model.WalletTransaction, negativeAllowed bool) error {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx)

	outKey, inKey := keyOf(out), keyOf(in)
	lockOrder := []walletKey{outKey, inKey}
	if lockOrder[1].userID < lockOrder[0].userID ||
		(lockOrder[1].userID == lockOrder[0].userID && lockOrder[1].category < lockOrder[0].category) {
		lockOrder[0], lockOrder[1] = lockOrder[1], lockOrder[0]
	}

	balances := make(map[walletKey]int64, 2)
	for _, k := range lockOrder {
		if _, seen := balances[k]; seen {
			continue
		}
		var balance int64
		err := dbTx.QueryRow(ctx, `
			SELECT balance FROM wallets WHERE user_id = $1 AND point_category_id = $2 FOR UPDATE`,
			k.userID, k.category).Scan(&balance)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: lock wallet: %w", err)
		}
		balances[k] = balance
	}

	outNext := balances[outKey] + out.Amount
	if !negativeAllowed && outNext < 0 {
		return enginerr.ErrNegativeBalance
	}
	balances[outKey] = outNext
	inNext := balances[inKey] + in.Amount

	for _, leg := range []struct {
		tx   *model.WalletTransaction
		next int64
	}{{out, outNext}, {in, inNext}} {
		if _, err := dbTx.Exec(ctx, `
			INSERT INTO wallets (user_id, point_category_id, balance) VALUES ($1, $2, $3)
			ON CONFLICT (user_id, point_category_id) DO UPDATE SET balance = $3`,
			leg.tx.UserID, leg.tx.PointCategory, leg.next); err != nil {
			return fmt.Errorf("postgres: upsert wallet: %w", err)
		}
		if _, err := dbTx.Exec(ctx, `
			INSERT INTO wallet_transactions (id, user_id, point_category_id, amount, type, timestamp, reference_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			leg.tx.ID, leg.tx.UserID, leg.tx.PointCategory, leg.tx.Amount, leg.tx.Type, leg.tx.Timestamp, leg.tx.ReferenceID); err != nil {
			return fmt.Errorf("postgres: insert transaction: %w", err)
		}
	}

	if _, err := dbTx.Exec(ctx, `UPDATE wallet_transfers SET status = $1 WHERE id = $2`,
		model.TransferCompleted, transferID); err != nil {
		return fmt.Errorf("postgres: update transfer status: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (s *Store) FailTransfer(ctx context.Context, transferID, reason string) error {
	_, err := s.pool.Exec(ctx, `UPDATE wallet_transfers SET status = $1, failure_reason = $2 WHERE id = $3`,
		model.TransferFailed, reason, transferID)
	return err
}

func (s *Store) GetTransfer(ctx context.Context, transferID string) (*model.WalletTransfer, error) {
	var t model.WalletTransfer
	err := s.pool.QueryRow(ctx, `
		SELECT id, from_user_id, to_user_id, point_category_id, amount, status, timestamp, failure_reason
		FROM wallet_transfers WHERE id = $1`, transferID).Scan(
		&t.ID, &t.FromUserID, &t.ToUserID, &t.PointCategory, &t.Amount, &t.Status, &t.Timestamp, &t.FailureReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, enginerr.ErrCatalogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get transfer: %w", err)
	}
	return &t, nil
}

// --- HistoryStore ---

func (s *Store) Append(ctx context.Context, h *model.RewardHistory) error {
	details, err := json.Marshal(h.Details)
	if err != nil {
		return fmt.Errorf("postgres: marshal history details: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO reward_history (id, user_id, reward_type, reward_id, points_amount, point_category_id,
			trigger_event_id, awarded_at, success, message, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		h.ID, h.UserID, h.RewardType, h.RewardID, h.PointsAmount, h.PointCategory,
		h.TriggerEventID, h.AwardedAt, h.Success, h.Message, details)
	return err
}

func (s *Store) ListByUser(ctx context.Context, userID string, since, until time.Time) ([]*model.RewardHistory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, reward_type, reward_id, points_amount, point_category_id,
			trigger_event_id, awarded_at, success, message, details
		FROM reward_history WHERE user_id = $1 AND awarded_at BETWEEN $2 AND $3 ORDER BY awarded_at ASC`,
		userID, since, until)
	if err != nil {
		return nil, fmt.Errorf("postgres: list reward history: %w", err)
	}
	defer rows.Close()
	return scanRewardHistoryRows(rows)
}

func (s *Store) ListByUserAndType(ctx context.Context, userID, rewardType string) ([]*model.RewardHistory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, reward_type, reward_id, points_amount, point_category_id,
			trigger_event_id, awarded_at, success, message, details
		FROM reward_history WHERE user_id = $1 AND reward_type = $2 ORDER BY awarded_at ASC`,
		userID, rewardType)
	if err != nil {
		return nil, fmt.Errorf("postgres: list reward history by type: %w", err)
	}
	defer rows.Close()
	return scanRewardHistoryRows(rows)
}

func scanRewardHistoryRows(rows pgx.Rows) ([]*model.RewardHistory, error) {
	var out []*model.RewardHistory
	for rows.Next() {
		var h model.RewardHistory
		var details []byte
		if err := rows.Scan(&h.ID, &h.UserID, &h.RewardType, &h.RewardID, &h.PointsAmount, &h.PointCategory,
			&h.TriggerEventID, &h.AwardedAt, &h.Success, &h.Message, &details); err != nil {
			return nil, fmt.Errorf("postgres: scan reward history: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &h.Details); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal history details: %w", err)
			}
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// --- UserStateStore ---

func (s *Store) Get(ctx context.Context, userID string) (*model.UserState, error) {
	var points, badges, trophies, levels []byte
	err := s.pool.QueryRow(ctx, `
		SELECT points_by_category, badge_ids, trophy_ids, current_levels_by_category
		FROM user_states WHERE user_id = $1`, userID).Scan(&points, &badges, &trophies, &levels)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.NewUserState(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get user state: %w", err)
	}

	state := model.NewUserState(userID)
	if err := unmarshalInto(points, &state.PointsByCategory); err != nil {
		return nil, err
	}
	if err := unmarshalInto(badges, &state.BadgeIDs); err != nil {
		return nil, err
	}
	if err := unmarshalInto(trophies, &state.TrophyIDs); err != nil {
		return nil, err
	}
	if err := unmarshalInto(levels, &state.CurrentLevelsByCategory); err != nil {
		return nil, err
	}
	return state, nil
}

func unmarshalInto(data []byte, target interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("postgres: unmarshal user state field: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, state *model.UserState) error {
	points, err := json.Marshal(state.PointsByCategory)
	if err != nil {
		return err
	}
	badges, err := json.Marshal(state.BadgeIDs)
	if err != nil {
		return err
	}
	trophies, err := json.Marshal(state.TrophyIDs)
	if err != nil {
		return err
	}
	levels, err := json.Marshal(state.CurrentLevelsByCategory)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO user_states (user_id, points_by_category, badge_ids, trophy_ids, current_levels_by_category)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			points_by_category = $2, badge_ids = $3, trophy_ids = $4, current_levels_by_category = $5`,
		state.UserID, points, badges, trophies, levels)
	return err
}

// --- CatalogStore ---

func (s *Store) ListEventDefinitions(ctx context.Context) ([]*model.EventDefinition, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, description FROM event_definitions`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list event definitions: %w", err)
	}
	defer rows.Close()
	var out []*model.EventDefinition
	for rows.Next() {
		var d model.EventDefinition
		if err := rows.Scan(&d.ID, &d.Description); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *Store) ListPointCategories(ctx context.Context) ([]*model.PointCategory, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, aggregation, negative_allowed, spend_allowed FROM point_categories`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list point categories: %w", err)
	}
	defer rows.Close()
	var out []*model.PointCategory
	for rows.Next() {
		var c model.PointCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.Aggregation, &c.NegativeAllowed, &c.SpendAllowed); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *Store) ListBadges(ctx context.Context) ([]*model.Badge, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, description, image, visible FROM badges`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list badges: %w", err)
	}
	defer rows.Close()
	var out []*model.Badge
	for rows.Next() {
		var b model.Badge
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &b.Image, &b.Visible); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *Store) ListTrophies(ctx context.Context) ([]*model.Trophy, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, description, image, visible FROM trophies`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trophies: %w", err)
	}
	defer rows.Close()
	var out []*model.Trophy
	for rows.Next() {
		var t model.Trophy
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Image, &t.Visible); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *Store) ListLevels(ctx context.Context) ([]*model.Level, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, category, min_points FROM levels`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list levels: %w", err)
	}
	defer rows.Close()
	var out []*model.Level
	for rows.Next() {
		var l model.Level
		if err := rows.Scan(&l.ID, &l.Name, &l.Category, &l.MinPoints); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (s *Store) ListRules(ctx context.Context) ([]*model.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT rule_id, name, triggers, logic, conditions, rewards, spendings, is_active, updated_at FROM rules`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rules: %w", err)
	}
	defer rows.Close()

	var out []*model.Rule
	for rows.Next() {
		var r model.Rule
		var triggers, conditions, rewards, spendings []byte
		if err := rows.Scan(&r.RuleID, &r.Name, &triggers, &r.Logic, &conditions, &rewards, &spendings, &r.IsActive, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan rule: %w", err)
		}
		if err := json.Unmarshal(triggers, &r.Triggers); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rewards, &r.Rewards); err != nil {
			return nil, err
		}
		if len(spendings) > 0 {
			if err := json.Unmarshal(spendings, &r.Spendings); err != nil {
				return nil, err
			}
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- QueueStore ---

func (s *Store) Admit(ctx context.Context, eventID string, enqueuedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_admissions (event_id, enqueued_at) VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING`, eventID, enqueuedAt)
	return err
}

func (s *Store) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM queue_admissions WHERE event_id = $1`, eventID)
	return err
}

func (s *Store) PendingEventIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT event_id FROM queue_admissions ORDER BY enqueued_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending event ids: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) Depth(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue_admissions`).Scan(&n)
	return n, err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
