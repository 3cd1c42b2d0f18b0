package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidexforge/gamification-engine/internal/log"
	"github.com/voidexforge/gamification-engine/internal/model"
	"github.com/voidexforge/gamification-engine/internal/storage/memstore"
)

func TestEnqueue_DuplicateIDRejected(t *testing.T) {
	store := memstore.New()
	q := New(store, store, log.Nop(), 10)
	e := &model.Event{EventID: "e1", EventType: "A", UserID: "u1", OccurredAt: time.Now()}

	outcome, err := q.Enqueue(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, OK, outcome)

	outcome, err = q.Enqueue(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, DuplicateID, outcome)
}

func TestEnqueue_QueueFullAboveMaxSize(t *testing.T) {
	store := memstore.New()
	q := New(store, store, log.Nop(), 1)
	e1 := &model.Event{EventID: "e1", EventType: "A", UserID: "u1", OccurredAt: time.Now()}
	e2 := &model.Event{EventID: "e2", EventType: "A", UserID: "u1", OccurredAt: time.Now()}

	outcome, err := q.Enqueue(context.Background(), e1)
	require.NoError(t, err)
	require.Equal(t, OK, outcome)

	outcome, err = q.Enqueue(context.Background(), e2)
	require.NoError(t, err)
	assert.Equal(t, QueueFull, outcome)
}

func TestDequeue_ReturnsEnqueuedEventFIFO(t *testing.T) {
	store := memstore.New()
	q := New(store, store, log.Nop(), 10)
	e1 := &model.Event{EventID: "e1", EventType: "A", UserID: "u1", OccurredAt: time.Now()}
	e2 := &model.Event{EventID: "e2", EventType: "A", UserID: "u1", OccurredAt: time.Now()}
	_, err := q.Enqueue(context.Background(), e1)
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), e2)
	require.NoError(t, err)

	got1, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "e1", got1.EventID)

	got2, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "e2", got2.EventID)
}

func TestDequeue_RespectsContextCancellation(t *testing.T) {
	store := memstore.New()
	q := New(store, store, log.Nop(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRehydrate_RestoresPendingEventsOnBoot(t *testing.T) {
	store := memstore.New()
	e := &model.Event{EventID: "e1", EventType: "A", UserID: "u1", OccurredAt: time.Now()}
	require.NoError(t, store.Insert(context.Background(), e))
	require.NoError(t, store.Admit(context.Background(), e.EventID, time.Now()))

	q := New(store, store, log.Nop(), 10)
	require.NoError(t, q.Rehydrate(context.Background()))

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "e1", got.EventID)
}
