// Package queue implements the Ingest Queue of spec §4.1: a bounded,
// durable FIFO of admitted events. The durable record lives in
// storage.QueueStore/storage.EventStore; an in-memory channel gives
// Dequeue its blocking, in-process ordering without re-reading storage on
// every pop.
package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voidexforge/gamification-engine/internal/enginerr"
	"github.com/voidexforge/gamification-engine/internal/model"
	"github.com/voidexforge/gamification-engine/internal/storage"
)

// Outcome is the result of an Enqueue call (spec §4.1 contract).
type Outcome int

const (
	OK Outcome = iota
	QueueFull
	DuplicateID
)

// Queue is the bounded durable FIFO. MaxSize bounds how many
// admitted-but-unprocessed events may exist at once; admission durability
// ordering follows spec §4.1: the event row is written before the
// admission ack, and the ack returns only once both writes succeed.
type Queue struct {
	events  storage.EventStore
	admits  storage.QueueStore
	logger  *zap.Logger
	maxSize int
	ch      chan *model.Event
}

func New(events storage.EventStore, admits storage.QueueStore, logger *zap.Logger, maxSize int) *Queue {
	return &Queue{
		events: events, admits: admits, logger: logger, maxSize: maxSize,
		ch: make(chan *model.Event, maxSize),
	}
}

// Rehydrate loads every admitted-but-unprocessed event id from the
// QueueStore and refills the in-memory channel in admission order, so a
// restart does not lose events that were accepted but never processed
// (spec §4.1 "survives restart").
func (q *Queue) Rehydrate(ctx context.Context) error {
	ids, err := q.admits.PendingEventIDs(ctx)
	if err != nil {
		return fmt.Errorf("queue: rehydrate: list pending: %w", err)
	}
	restored := 0
	for _, id := range ids {
		e, err := q.events.Get(ctx, id)
		if err != nil {
			q.logger.Warn("queue: rehydrate: pending event missing from store, dropping", zap.String("eventId", id), zap.Error(err))
			_ = q.admits.MarkProcessed(ctx, id)
			continue
		}
		select {
		case q.ch <- e:
			restored++
		default:
			q.logger.Error("queue: rehydrate: channel capacity exceeded, stopping early", zap.Int("restored", restored), zap.Int("remaining", len(ids)-restored))
			return nil
		}
	}
	q.logger.Info("queue: rehydrated", zap.Int("count", restored))
	return nil
}

// Enqueue admits e for processing, or reports why it could not be
// admitted.
func (q *Queue) Enqueue(ctx context.Context, e *model.Event) (Outcome, error) {
	depth, err := q.admits.Depth(ctx)
	if err != nil {
		return OK, fmt.Errorf("queue: depth check: %w", err)
	}
	if depth >= q.maxSize {
		return QueueFull, nil
	}

	if err := q.events.Insert(ctx, e); err != nil {
		if err == enginerr.ErrDuplicateEvent {
			return DuplicateID, nil
		}
		return OK, fmt.Errorf("queue: insert event: %w", err)
	}

	if err := q.admits.Admit(ctx, e.EventID, time.Now().UTC()); err != nil {
		return OK, fmt.Errorf("queue: admit: %w", err)
	}

	select {
	case q.ch <- e:
	default:
		q.logger.Error("queue: in-memory channel full despite admission check; event stays durable, will be picked up on next rehydrate", zap.String("eventId", e.EventID))
	}
	return OK, nil
}

// Dequeue blocks until an event is available or ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (*model.Event, error) {
	select {
	case e := <-q.ch:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MarkProcessed removes e's admission marker once its plan has been fully
// applied, whether by success or by a terminal failure recorded as history
// (spec §4.1 "no silent drops").
func (q *Queue) MarkProcessed(ctx context.Context, eventID string) error {
	return q.admits.MarkProcessed(ctx, eventID)
}

// Depth reports the current admitted-but-unprocessed count; the worker
// pool reads it after each event to set its queue-depth gauge.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	return q.admits.Depth(ctx)
}
