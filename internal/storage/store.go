// Package storage defines the persistence contracts every other package
// depends on. internal/storage/postgres provides the pgx-backed
// implementation; tests use the in-memory fakes in storage/memstore.
package storage

import (
	"context"
	"time"

	"github.com/voidexforge/gamification-engine/internal/model"
)

// EventStore is the append-only log of ingested and cascade events
// (spec §3 Event, §2 component 1).
type EventStore interface {
	// Insert writes a new event row. Returns enginerr.ErrDuplicateEvent
	// itself, unwrapped, if EventID already exists.
	Insert(ctx context.Context, e *model.Event) error
	Get(ctx context.Context, eventID string) (*model.Event, error)
	// ListByUser returns events for userID with occurredAt in
	// [since, until], ordered ascending, optionally filtered to a single
	// event type. A zero eventType matches every type.
	ListByUser(ctx context.Context, userID, eventType string, since, until time.Time) ([]*model.Event, error)
	// DeleteOlderThan deletes up to limit events with occurredAt before
	// cutoff, returning the number deleted (retention sweeper, §4.8).
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// WalletStore owns Wallet rows and their transaction ledger (spec §3
// Wallet/WalletTransaction/WalletTransfer, §2 component 2).
type WalletStore interface {
	GetWallet(ctx context.Context, userID, pointCategory string) (*model.Wallet, error)
	// ApplyTransaction appends tx and updates the wallet balance
	// atomically, returning the wallet's balance after the write. If
	// negativeAllowed is false and the resulting balance would be < 0,
	// no write happens and enginerr.ErrNegativeBalance is returned.
	ApplyTransaction(ctx context.Context, tx *model.WalletTransaction, negativeAllowed bool) (int64, error)
	ListTransactions(ctx context.Context, userID, pointCategory string) ([]*model.WalletTransaction, error)

	CreateTransfer(ctx context.Context, t *model.WalletTransfer) error
	// CompleteTransfer atomically checks the source leg's balance against
	// negativeAllowed, writes the transferOut/transferIn pair referencing
	// transferID, and flips the transfer to completed — all inside one
	// transaction, the same "lock, check, write" shape ApplyTransaction
	// uses for a single leg. If negativeAllowed is false and the source
	// leg's resulting balance would be < 0, neither leg is written and
	// enginerr.ErrNegativeBalance is returned so the caller can fail the
	// transfer instead.
	CompleteTransfer(ctx context.Context, transferID string, out, in *model.WalletTransaction, negativeAllowed bool) error
	FailTransfer(ctx context.Context, transferID, reason string) error
	GetTransfer(ctx context.Context, transferID string) (*model.WalletTransfer, error)
}

// HistoryStore is the append-only reward/spending history (spec §3
// RewardHistory, §2 component 4).
type HistoryStore interface {
	Append(ctx context.Context, h *model.RewardHistory) error
	ListByUser(ctx context.Context, userID string, since, until time.Time) ([]*model.RewardHistory, error)
	ListByUserAndType(ctx context.Context, userID, rewardType string) ([]*model.RewardHistory, error)
}

// UserStateStore owns the denormalized projection row (spec §3 UserState,
// §2 component 3).
type UserStateStore interface {
	Get(ctx context.Context, userID string) (*model.UserState, error)
	Put(ctx context.Context, state *model.UserState) error
}

// CatalogStore persists catalog entities; the Catalog package owns
// caching and copy-on-write semantics on top of it (spec §2 component 5).
type CatalogStore interface {
	ListEventDefinitions(ctx context.Context) ([]*model.EventDefinition, error)
	ListPointCategories(ctx context.Context) ([]*model.PointCategory, error)
	ListBadges(ctx context.Context) ([]*model.Badge, error)
	ListTrophies(ctx context.Context) ([]*model.Trophy, error)
	ListLevels(ctx context.Context) ([]*model.Level, error)
	ListRules(ctx context.Context) ([]*model.Rule, error)
}

// QueueStore persists the durable FIFO admission log the Ingest Queue
// rehydrates from on boot (spec §4.1).
type QueueStore interface {
	// Admit records that eventID has been accepted for processing.
	Admit(ctx context.Context, eventID string, enqueuedAt time.Time) error
	// MarkProcessed removes eventID's processing marker once its plan has
	// fully completed (success or terminal failure).
	MarkProcessed(ctx context.Context, eventID string) error
	// PendingEventIDs lists event ids admitted but not yet processed, in
	// admission order, used to rehydrate the queue after a restart.
	PendingEventIDs(ctx context.Context) ([]string, error)
	// Depth returns the current count of admitted-but-unprocessed events.
	Depth(ctx context.Context) (int, error)
}
