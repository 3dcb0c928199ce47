// Package engine ties the pipeline together: sources feed a router that
// validates, dedupes and pins events to shard workers; workers apply
// events to the aggregation store, run the rule evaluator and fold
// triggers into the alert manager; an expiry loop evicts stale windows
// and re-checks their closing snapshots.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/meridianbank/sentinel/pkg/aggstore"
	"github.com/meridianbank/sentinel/pkg/alert"
	"github.com/meridianbank/sentinel/pkg/config"
	senterrors "github.com/meridianbank/sentinel/pkg/errors"
	"github.com/meridianbank/sentinel/pkg/event"
	"github.com/meridianbank/sentinel/pkg/metrics"
	"github.com/meridianbank/sentinel/pkg/rules"
)

// terminalAlertRetention bounds how long closed/false-positive alerts
// stay queryable in memory.
const terminalAlertRetention = 7 * 24 * time.Hour

type inbound struct {
	source string
	ev     *event.Event
	at     time.Time // arrival, for latency measurement
}

// Engine is the running pipeline.
type Engine struct {
	cfg config.EngineConfig

	store      *aggstore.Store
	eval       *rules.Evaluator
	alerts     *alert.Manager
	dispatcher *alert.Dispatcher
	collector  *metrics.Collector
	logger     *zap.Logger
	tracer     trace.Tracer

	sources []Source
	ingest  chan inbound
	shards  []chan inbound
	dedupe  *dedupeTable

	nowFn       func() time.Time
	lastResets  int64
	lastSkipped int64

	cancel   context.CancelFunc
	routerWG sync.WaitGroup
	workerWG sync.WaitGroup
	sourceWG sync.WaitGroup
	stopOnce sync.Once
}

// New assembles an engine. All dependencies are required except sources,
// which may be added with AddSource before Start.
func New(cfg config.EngineConfig, store *aggstore.Store, eval *rules.Evaluator,
	alerts *alert.Manager, dispatcher *alert.Dispatcher,
	collector *metrics.Collector, logger *zap.Logger) *Engine {

	if cfg.Shards <= 0 {
		cfg.Shards = 32
	}
	if cfg.ShardBufferSize <= 0 {
		cfg.ShardBufferSize = 1024
	}
	if cfg.IngestBufferSize <= 0 {
		cfg.IngestBufferSize = 10000
	}
	if cfg.EvictionTick <= 0 {
		cfg.EvictionTick = 30 * time.Second
	}
	if cfg.DedupeRetention <= 0 {
		cfg.DedupeRetention = time.Hour
	}

	shards := make([]chan inbound, cfg.Shards)
	for i := range shards {
		shards[i] = make(chan inbound, cfg.ShardBufferSize)
	}

	return &Engine{
		cfg:        cfg,
		store:      store,
		eval:       eval,
		alerts:     alerts,
		dispatcher: dispatcher,
		collector:  collector,
		logger:     logger,
		tracer:     otel.Tracer("sentinel/engine"),
		ingest:     make(chan inbound, cfg.IngestBufferSize),
		shards:     shards,
		dedupe:     newDedupeTable(),
		nowFn:      time.Now,
	}
}

// WithClock overrides the wall clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.nowFn = now
	return e
}

// AddSource registers a source. Must be called before Start.
func (e *Engine) AddSource(s Source) {
	e.sources = append(e.sources, s)
}

// Alerts exposes the alert manager for analyst-facing surfaces
// (transitions, notes, queries).
func (e *Engine) Alerts() *alert.Manager {
	return e.alerts
}

// Start launches workers, the router, the expiry loop, the dispatcher and
// all registered sources.
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	e.dispatcher.Start(ctx)

	for i := range e.shards {
		e.workerWG.Add(1)
		go e.worker(ctx, i)
	}

	e.routerWG.Add(1)
	go e.router()

	e.routerWG.Add(1)
	go e.expiryLoop(ctx)

	for _, src := range e.sources {
		src := src
		out := make(chan *event.Event, e.cfg.ShardBufferSize)

		e.sourceWG.Add(1)
		go func() {
			defer e.sourceWG.Done()
			defer close(out)
			if err := src.Start(ctx, out); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Error("source terminated", zap.String("source", src.Name()), zap.Error(err))
			}
		}()

		e.sourceWG.Add(1)
		go func() {
			defer e.sourceWG.Done()
			for ev := range out {
				select {
				case e.ingest <- inbound{source: src.Name(), ev: ev, at: e.nowFn()}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	e.logger.Info("engine started",
		zap.Int("shards", e.cfg.Shards),
		zap.Int("sources", len(e.sources)))
	return nil
}

// Submit injects one event directly, bypassing sources. Used by tests and
// embedding callers.
func (e *Engine) Submit(source string, ev *event.Event) {
	e.ingest <- inbound{source: source, ev: ev, at: e.nowFn()}
}

// Stop drains the pipeline: sources first, then the router and workers,
// the expiry loop, and finally the dispatcher.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.logger.Info("engine stopping")

		for _, src := range e.sources {
			if err := src.Stop(); err != nil {
				e.logger.Warn("source stop failed", zap.String("source", src.Name()), zap.Error(err))
			}
		}
		if e.cancel != nil {
			e.cancel()
		}
		e.sourceWG.Wait()

		close(e.ingest)
		e.routerWG.Wait()

		for _, sh := range e.shards {
			close(sh)
		}
		e.workerWG.Wait()

		e.dispatcher.Stop()
		e.logger.Info("engine stopped")
	})
}

// router validates and dedupes inbound events, then pins each to one
// shard worker by its primary subject so per-key updates stay ordered.
func (e *Engine) router() {
	defer e.routerWG.Done()

	for in := range e.ingest {
		if err := in.ev.Validate(); err != nil {
			e.collector.EventsRejected.WithLabelValues("invalid").Inc()
			e.logger.Warn("invalid event dropped", zap.Error(err))
			continue
		}
		if e.dedupe.observe(in.ev.ID, e.nowFn()) {
			e.collector.EventsRejected.WithLabelValues("duplicate").Inc()
			e.logger.Debug("duplicate event dropped", zap.String("event_id", in.ev.ID))
			continue
		}

		dim, value := primarySubject(in.ev)
		idx := aggstore.ShardFor(dim, value, len(e.shards))
		e.shards[idx] <- in
		e.collector.ShardQueueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(e.shards[idx])))
	}
}

// primarySubject picks the dimension that orders an event's processing:
// transactions serialize per account, logins per customer.
func primarySubject(ev *event.Event) (event.Dimension, string) {
	if ev.Kind == event.KindLogin {
		return event.DimCustomer, ev.CustomerID
	}
	return event.DimAccount, ev.AccountID
}

func (e *Engine) worker(ctx context.Context, idx int) {
	defer e.workerWG.Done()

	for in := range e.shards[idx] {
		e.process(ctx, in)
	}
}

func (e *Engine) process(ctx context.Context, in inbound) {
	ctx, span := e.tracer.Start(ctx, "engine.process",
		trace.WithAttributes(
			attribute.String("event.id", in.ev.ID),
			attribute.String("event.kind", string(in.ev.Kind)),
			attribute.String("event.source", in.source),
		))
	defer span.End()

	updates, err := e.store.Apply(in.ev)
	if err != nil {
		if errors.Is(err, senterrors.ErrLateEvent) {
			e.collector.EventsRejected.WithLabelValues("late").Inc()
			e.logger.Warn("late event rejected",
				zap.String("event_id", in.ev.ID),
				zap.Time("event_time", in.ev.Timestamp))
			return
		}
		e.logger.Error("store apply failed", zap.String("event_id", in.ev.ID), zap.Error(err))
		return
	}

	for _, res := range e.eval.EvaluateEvent(ctx, in.ev) {
		e.raise(res)
	}

	for _, u := range updates {
		e.collector.WindowUpdates.WithLabelValues(u.Key.SpecID).Inc()
		if u.Late {
			e.collector.LateAccepted.Inc()
		}
		for _, res := range e.eval.EvaluateUpdate(u) {
			e.raise(res)
		}
	}

	e.collector.EventsProcessed.WithLabelValues(in.source).Inc()
	e.collector.ProcessingLatency.WithLabelValues(in.source).Observe(e.nowFn().Sub(in.at).Seconds())
}

// raise folds one rule trigger into the alert store and queues the
// resulting mutation for delivery.
func (e *Engine) raise(res rules.Result) {
	e.collector.RuleTriggers.WithLabelValues(res.Rule.ID, string(res.Rule.Severity)).Inc()

	m := e.alerts.OnTrigger(res)
	e.collector.AlertMutations.WithLabelValues(string(m.Kind)).Inc()
	e.collector.AlertsOpen.Set(float64(e.alerts.OpenCount()))

	e.dispatcher.Enqueue(m)
}

// expiryLoop sweeps the store on a fixed tick, re-checks closing windows
// and prunes the auxiliary tables.
func (e *Engine) expiryLoop(ctx context.Context) {
	defer e.routerWG.Done()

	ticker := time.NewTicker(e.cfg.EvictionTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

func (e *Engine) sweep() {
	now := e.nowFn()

	closed := e.store.Evict(now)
	for _, u := range closed {
		e.collector.WindowsEvicted.WithLabelValues(u.Key.SpecID).Inc()
		for _, res := range e.eval.EvaluateClosure(u) {
			e.raise(res)
		}
	}

	e.collector.WindowsActive.Set(float64(e.store.Size()))
	if resets := e.store.Resets(); resets > e.lastResets {
		e.collector.StateResets.Add(float64(resets - e.lastResets))
		e.lastResets = resets
	}
	if skipped := e.eval.Skipped(); skipped > e.lastSkipped {
		e.collector.RulesSkipped.Add(float64(skipped - e.lastSkipped))
		e.lastSkipped = skipped
	}

	e.dedupe.prune(now.Add(-e.cfg.DedupeRetention))
	e.eval.Prune(now.Add(-24 * time.Hour))
	e.alerts.Prune(now.Add(-terminalAlertRetention))

	if len(closed) > 0 {
		e.logger.Debug("expiry sweep", zap.Int("evicted", len(closed)), zap.Int("live", e.store.Size()))
	}
}

// Stats summarizes engine health for logs and debugging.
func (e *Engine) Stats() string {
	delivered, dropped, failed := e.dispatcher.Stats()
	return fmt.Sprintf("windows=%d open_alerts=%d late_rejected=%d delivered=%d dropped=%d failed=%d",
		e.store.Size(), e.alerts.OpenCount(), e.store.LateRejected(), delivered, dropped, failed)
}
