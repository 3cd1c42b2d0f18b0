// Package worker implements the Worker Pool half of spec §4.1: a bounded
// set of goroutines that dequeue events from the Ingest Queue, evaluate
// them through the Rule Engine, apply the resulting Plan through the
// Reward Executor, and re-enqueue any cascade events the executor
// produced. Failures are retried with exponential backoff up to a limit,
// after which they are recorded as a terminal RewardHistory row — no
// event is ever dropped silently.
package worker

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voidexforge/gamification-engine/internal/catalog"
	"github.com/voidexforge/gamification-engine/internal/enginerr"
	"github.com/voidexforge/gamification-engine/internal/executor"
	"github.com/voidexforge/gamification-engine/internal/model"
	"github.com/voidexforge/gamification-engine/internal/queue"
	"github.com/voidexforge/gamification-engine/internal/rules"
	"github.com/voidexforge/gamification-engine/internal/storage"
)

// Config bounds the pool's concurrency and retry policy (spec §4.1
// MaxConcurrentProcessing / MaxRetryAttempts, SPEC_FULL.md §6 config
// surface).
type Config struct {
	Concurrency          int
	EnableRetryOnFailure bool
	MaxRetries           int
	BaseBackoff          time.Duration
	MaxCascadeDepth      int
	HistoryLookback      time.Duration
	HistoryMaxCount      int
}

// Pool runs Config.Concurrency workers against a shared Queue.
type Pool struct {
	cfg       Config
	queue     *queue.Queue
	engine    *rules.Engine
	executor  *executor.Executor
	userState storage.UserStateStore
	history   storage.HistoryStore
	events    storage.EventStore
	catalog   *catalog.Catalog
	logger    *zap.Logger
	metrics   *Metrics
	locks     *keyedMutex

	wg sync.WaitGroup

	attemptsMu sync.Mutex
	attempts   map[string]int

	newID func() string
}

func New(cfg Config, q *queue.Queue, engine *rules.Engine, exec *executor.Executor, userState storage.UserStateStore, history storage.HistoryStore, events storage.EventStore, cat *catalog.Catalog, logger *zap.Logger, metrics *Metrics, idFunc func() string) *Pool {
	return &Pool{
		cfg: cfg, queue: q, engine: engine, executor: exec, userState: userState,
		history: history, events: events, catalog: cat, logger: logger, metrics: metrics,
		locks: newKeyedMutex(), attempts: make(map[string]int), newID: idFunc,
	}
}

// Run starts Concurrency worker goroutines and blocks until ctx is
// cancelled, then waits for in-flight events to finish (drain).
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.loop(ctx)
	}
	<-ctx.Done()
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		e, err := p.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		p.handle(ctx, e)
		if p.metrics != nil {
			if depth, err := p.queue.Depth(ctx); err == nil {
				p.metrics.QueueDepth.Set(float64(depth))
			}
		}
	}
}

// handle holds the per-user lock for e's entire retry sequence, so a retry
// never interleaves with another event for the same user (spec §4.1).
func (p *Pool) handle(ctx context.Context, e *model.Event) {
	unlock := p.locks.Lock(e.UserID)
	defer unlock()

	if p.metrics != nil {
		p.metrics.InFlight.Inc()
		defer p.metrics.InFlight.Dec()
	}

	for {
		cascades, err := p.process(ctx, e)
		if err == nil {
			p.finish(ctx, e, cascades)
			return
		}

		if p.cfg.EnableRetryOnFailure && enginerr.Transient(err) && p.attemptCount(e.EventID) < p.cfg.MaxRetries {
			if !p.backoff(ctx, e) {
				return
			}
			continue
		}

		p.logger.Error("worker: terminal failure processing event", zap.String("eventId", e.EventID), zap.Error(err))
		_ = p.history.Append(ctx, &model.RewardHistory{
			ID: p.newID(), UserID: e.UserID, RewardType: model.RewardTypeRuleEvaluation, TriggerEventID: e.EventID,
			AwardedAt: time.Now().UTC(), Success: false, Message: err.Error(),
		})
		if p.metrics != nil {
			p.metrics.Failed.Inc()
		}
		p.clearAttempts(e.EventID)
		if err := p.queue.MarkProcessed(ctx, e.EventID); err != nil {
			p.logger.Error("worker: failed to mark event processed after terminal failure", zap.String("eventId", e.EventID), zap.Error(err))
		}
		return
	}
}

// process evaluates e through the Rule Engine and applies the resulting
// plan. It records a single no_match RewardHistory row whenever the plan
// has no items, whether no rule's trigger matched or the matched rules'
// conditions did not hold, so every dequeued event leaves a trace even
// absent any reward (spec §4.1 "no silent drops"). No per-rule evaluation
// rows are written for rules that matched but did not execute.
func (p *Pool) process(ctx context.Context, e *model.Event) ([]*model.Event, error) {
	hw := rules.NewStoreHistoryWindow(p.events, p.cfg.HistoryLookback, p.cfg.HistoryMaxCount)
	hist, err := hw.WindowFor(ctx, e, time.Now())
	if err != nil {
		return nil, enginerr.ErrStorageUnavail
	}

	state, err := p.userState.Get(ctx, e.UserID)
	if err != nil {
		return nil, enginerr.ErrStorageUnavail
	}

	plan := p.engine.Evaluate(e, hist, state, time.Now())

	if len(plan.Items) == 0 {
		if err := p.history.Append(ctx, &model.RewardHistory{
			ID: p.newID(), UserID: e.UserID, RewardType: model.RewardTypeNoMatch, TriggerEventID: e.EventID,
			AwardedAt: time.Now().UTC(), Success: true,
		}); err != nil {
			return nil, enginerr.ErrStorageUnavail
		}
		return nil, nil
	}

	res, err := p.executor.Apply(ctx, plan, e.CascadeDepth, p.cfg.MaxCascadeDepth)
	if err != nil {
		return nil, err
	}
	return res.Cascades, nil
}

func (p *Pool) finish(ctx context.Context, e *model.Event, cascades []*model.Event) {
	p.clearAttempts(e.EventID)
	if err := p.queue.MarkProcessed(ctx, e.EventID); err != nil {
		p.logger.Error("worker: failed to mark event processed", zap.String("eventId", e.EventID), zap.Error(err))
	}
	if p.metrics != nil {
		p.metrics.Processed.Inc()
	}
	for _, c := range cascades {
		outcome, err := p.queue.Enqueue(ctx, c)
		if err != nil {
			p.logger.Error("worker: failed to enqueue cascade event", zap.String("eventType", c.EventType), zap.Error(err))
			continue
		}
		if outcome != queue.OK {
			p.logger.Warn("worker: cascade event not admitted", zap.String("eventType", c.EventType), zap.Int("outcome", int(outcome)))
			continue
		}
		if p.metrics != nil {
			p.metrics.CascadesSent.Inc()
		}
	}
}

// backoff sleeps for 2^attempt * BaseBackoff, a delay exponential in the
// attempt count, before the caller retries e inline (spec §4.1 "retry up to
// MaxRetryAttempts with exponential backoff"). Retrying inline rather than
// re-enqueueing keeps the event's position in front of the line and avoids
// reordering unrelated users' events behind it. Returns false if ctx was
// cancelled while waiting.
func (p *Pool) backoff(ctx context.Context, e *model.Event) bool {
	attempt := p.incrementAttempts(e.EventID)
	delay := time.Duration(math.Pow(2, float64(attempt))) * p.cfg.BaseBackoff
	if p.metrics != nil {
		p.metrics.Retries.Inc()
	}
	p.logger.Warn("worker: retrying event after transient failure", zap.String("eventId", e.EventID), zap.Int("attempt", attempt), zap.Duration("backoff", delay))

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pool) attemptCount(eventID string) int {
	p.attemptsMu.Lock()
	defer p.attemptsMu.Unlock()
	return p.attempts[eventID]
}

func (p *Pool) incrementAttempts(eventID string) int {
	p.attemptsMu.Lock()
	defer p.attemptsMu.Unlock()
	p.attempts[eventID]++
	return p.attempts[eventID]
}

func (p *Pool) clearAttempts(eventID string) {
	p.attemptsMu.Lock()
	defer p.attemptsMu.Unlock()
	delete(p.attempts, eventID)
}
