package rules

import (
	"context"
	"time"

	"github.com/voidexforge/gamification-engine/internal/model"
	"github.com/voidexforge/gamification-engine/internal/storage"
)

// StoreHistoryWindow reads a user's bounded event history from an
// EventStore, appending the trigger event itself so count/sequence
// conditions see it the way spec §4.3 requires ("including the trigger
// event"). If the listed history does not already contain the trigger
// (dry-run, where it is never persisted), it is appended in memory; if the
// caller already persisted it (live ingest), the stored copy is used.
type StoreHistoryWindow struct {
	Events   storage.EventStore
	Lookback time.Duration
	MaxCount int
}

func NewStoreHistoryWindow(events storage.EventStore, lookback time.Duration, maxCount int) *StoreHistoryWindow {
	return &StoreHistoryWindow{Events: events, Lookback: lookback, MaxCount: maxCount}
}

// WindowFor is used by both the live worker path (trigger already stored)
// and the dry-run path (trigger not stored, appended in memory).
func (w *StoreHistoryWindow) WindowFor(ctx context.Context, trigger *model.Event, now time.Time) ([]*model.Event, error) {
	since := time.Time{}
	if w.Lookback > 0 {
		since = now.Add(-w.Lookback)
	}
	hist, err := w.Events.ListByUser(ctx, trigger.UserID, "", since, now)
	if err != nil {
		return nil, err
	}

	found := false
	for _, e := range hist {
		if e.EventID == trigger.EventID {
			found = true
			break
		}
	}
	if !found {
		hist = append(hist, trigger)
	}

	if w.MaxCount > 0 && len(hist) > w.MaxCount {
		hist = hist[len(hist)-w.MaxCount:]
	}
	return hist, nil
}
