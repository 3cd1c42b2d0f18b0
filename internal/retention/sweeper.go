// Package retention implements the Retention Sweeper of spec §4.8: a
// periodic job that deletes events older than a configured horizon in
// bounded batches, leaving RewardHistory untouched. Scheduling uses
// github.com/robfig/cron/v3, the same cron library the teacher imports for
// its own reset-time calculations (pamlogix.cronParser), here put to its
// more usual job of driving a recurring schedule rather than just parsing
// one.
package retention

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/voidexforge/gamification-engine/internal/storage"
)

// Config controls the sweeper's schedule and batch size.
type Config struct {
	// Schedule is a standard five-field cron expression, e.g. "0 * * * *"
	// for hourly.
	Schedule string
	Horizon  time.Duration
	BatchSize int
}

// Sweeper deletes events older than Config.Horizon on Config.Schedule.
type Sweeper struct {
	cfg    Config
	events storage.EventStore
	logger *zap.Logger
	cron   *cron.Cron
}

func New(cfg Config, events storage.EventStore, logger *zap.Logger) *Sweeper {
	return &Sweeper{cfg: cfg, events: events, logger: logger, cron: cron.New()}
}

// Start registers the sweep job and starts the cron scheduler in the
// background. Stop reverses it.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		s.sweepOnce(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// sweepOnce deletes events older than the horizon in BatchSize-sized
// batches until a batch comes back short (spec §4.8 "a leaf job with no
// interaction with inflight evaluation beyond lock-free deletes on rows
// past the horizon").
func (s *Sweeper) sweepOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.Horizon)
	total := 0
	for {
		n, err := s.events.DeleteOlderThan(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			s.logger.Error("retention: sweep batch failed", zap.Error(err), zap.Int("deletedSoFar", total))
			return
		}
		total += n
		if n < s.cfg.BatchSize {
			break
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if total > 0 {
		s.logger.Info("retention: swept events", zap.Int("deleted", total), zap.Time("cutoff", cutoff))
	}
}
