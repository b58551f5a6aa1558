// Package engine runs the message pipeline: preprocessing workers validate
// and parse requests, a bounded queue feeds a single business goroutine
// that owns the live books and balances, and every message is persisted
// before its effects become visible.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/internal/trading/fee"
	"github.com/Aidin1998/pincex_matching/internal/trading/matching"
	"github.com/Aidin1998/pincex_matching/internal/trading/messages"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
	"github.com/Aidin1998/pincex_matching/internal/trading/persistence"
	"github.com/Aidin1998/pincex_matching/internal/trading/process"
	"github.com/Aidin1998/pincex_matching/internal/trading/trigger"
	"github.com/Aidin1998/pincex_matching/internal/trading/validation"
	"github.com/Aidin1998/pincex_matching/pkg/metrics"
)

var (
	// ErrNotRunning is returned by Submit before Start and after Stop.
	ErrNotRunning = errors.New("engine is not running")
	// ErrAlreadyRunning is returned by a second Start.
	ErrAlreadyRunning = errors.New("engine is already running")
)

// Deps are the collaborators of the engine.
type Deps struct {
	Logger    *zap.Logger
	Factory   *execution.ContextFactory
	Persister execution.Persister
	Publisher execution.Publisher
	Dedup     persistence.Deduplicator
	Fees      *fee.Calculator
	// LastSequence is the last persisted sequence number.
	LastSequence uint64
}

// Engine is the trading engine
type Engine struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	factory    *execution.ContextFactory
	structural *validation.Structural
	generic    *process.GenericLimitOrdersProcessor
	previous   *process.PreviousOrdersProcessor
	canceller  *process.LimitOrdersCanceller
	triggers   *trigger.StopOrderBookProcessor

	persistence *execution.PersistenceService
	sequence    *execution.SequenceNumbers
	events      *execution.EventSender
	dedup       persistence.Deduplicator
	snapshots   *SnapshotStore

	incoming chan *messages.MessageWrapper
	business chan *messages.MessageWrapper

	mu        sync.RWMutex
	running   bool
	stopRun   context.CancelFunc
	workers   sync.WaitGroup
	loops     sync.WaitGroup
	processed atomic.Int64
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, *execution.ExecutionEvent) error { return nil }

// New wires the processors around deps.
func New(cfg Config, deps Deps) *Engine {
	logger := deps.Logger.Named("engine")
	fees := deps.Fees
	if fees == nil {
		fees = fee.NewCalculator(fee.Config{})
	}
	matcher := matching.NewEngine(logger, fees)
	limit := process.NewLimitOrderProcessor(logger, matcher)
	market := process.NewMarketOrderProcessor(logger, matcher)
	stop := process.NewStopLimitOrderProcessor(logger, limit)
	generic := process.NewGenericLimitOrdersProcessor(limit, stop, market)
	canceller := process.NewLimitOrdersCanceller(logger)

	dedup := deps.Dedup
	if dedup == nil {
		dedup = persistence.NewMemoryDeduplicator(0)
	}
	for _, client := range cfg.TrustedClients {
		deps.Factory.Balances().SetTrusted(client, true)
	}

	snapshots := NewSnapshotStore()
	var next execution.Publisher = discardPublisher{}
	if deps.Publisher != nil {
		next = deps.Publisher
	}
	publisher := newGuardedPublisher(logger, next, NewCircuitBreaker(5, 10*time.Second), cfg.PublishTimeout)

	return &Engine{
		cfg:         cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		factory:     deps.Factory,
		structural:  validation.NewStructural(),
		generic:     generic,
		previous:    process.NewPreviousOrdersProcessor(logger, canceller, generic),
		canceller:   canceller,
		triggers:    trigger.NewStopOrderBookProcessor(logger, limit, cfg.MaxStopTriggers),
		persistence: execution.NewPersistenceService(logger, deps.Persister),
		sequence:    execution.NewSequenceNumbers(deps.LastSequence),
		events:      execution.NewEventSender(logger, publisher, snapshots, cfg.SnapshotDepth),
		dedup:       dedup,
		snapshots:   snapshots,
	}
}

// Start publishes the initial snapshots and starts the pipeline goroutines.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	if err := e.cfg.Validate(); err != nil {
		return err
	}

	now := e.now()
	var snaps []*orderbook.Snapshot
	for _, b := range e.factory.OrderBooks().Books() {
		snaps = append(snaps, b.Depth(e.cfg.SnapshotDepth, now))
	}
	e.snapshots.Update(snaps)

	ctx, e.stopRun = context.WithCancel(ctx)
	e.incoming = make(chan *messages.MessageWrapper, e.cfg.PreprocessQueueSize)
	e.business = make(chan *messages.MessageWrapper, e.cfg.BusinessQueueSize)
	for i := 0; i < e.cfg.PreprocessWorkers; i++ {
		e.workers.Add(1)
		go e.preprocess()
	}
	e.loops.Add(2)
	// accepted messages are finished even after Stop cancels ctx
	go e.run(context.WithoutCancel(ctx))
	go e.expireLoop(ctx)

	e.running = true
	e.logger.Info("trading engine started",
		zap.Int("preprocess_workers", e.cfg.PreprocessWorkers),
		zap.Int("business_queue_size", e.cfg.BusinessQueueSize),
		zap.Uint64("sequence_number", e.sequence.Current()))
	return nil
}

// Stop stops accepting messages, drains the queues and waits for the
// business goroutine to finish the messages already accepted.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.running = false
	close(e.incoming)
	e.mu.Unlock()

	e.workers.Wait()
	close(e.business)
	e.stopRun()
	e.loops.Wait()
	e.logger.Info("trading engine stopped",
		zap.Int64("messages_processed", e.processed.Load()),
		zap.Uint64("sequence_number", e.sequence.Current()))
	return nil
}

// Submit hands w to the pipeline. It blocks while the preprocessing queue
// is full. The response arrives through w.Wait.
func (e *Engine) Submit(ctx context.Context, w *messages.MessageWrapper) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.running {
		return ErrNotRunning
	}
	select {
	case e.incoming <- w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process submits w and waits for its response.
func (e *Engine) Process(ctx context.Context, w *messages.MessageWrapper) (*messages.Response, error) {
	if err := e.Submit(ctx, w); err != nil {
		return nil, err
	}
	return w.Wait(ctx)
}

// Snapshots returns the published book snapshots.
func (e *Engine) Snapshots() *SnapshotStore { return e.snapshots }

// SequenceNumber returns the last confirmed sequence number.
func (e *Engine) SequenceNumber() uint64 { return e.sequence.Current() }

// Running reports whether the engine accepts messages.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stats returns pipeline counters for health output.
func (e *Engine) Stats() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	stats := map[string]interface{}{
		"running":            e.running,
		"messages_processed": e.processed.Load(),
		"sequence_number":    e.sequence.Current(),
		"expiry_queue":       e.factory.Expiry().Len(),
	}
	if e.running {
		stats["preprocess_queue"] = len(e.incoming)
		stats["business_queue"] = len(e.business)
	}
	for k, v := range e.triggers.Stats() {
		stats["stop_"+k] = v
	}
	return stats
}

// preprocess validates and parses messages off the business goroutine.
func (e *Engine) preprocess() {
	defer e.workers.Done()
	for w := range e.incoming {
		if err := w.Prepare(e.structural); err != nil {
			e.logger.Info("message rejected by preprocessing",
				zap.String("message_id", w.ID),
				zap.String("type", string(w.Type)),
				zap.Error(err))
			e.respond(w, &messages.Response{Status: messages.StatusBadRequest, Message: err.Error()}, time.Time{})
			continue
		}
		e.business <- w
		metrics.BusinessQueueDepth.Set(float64(len(e.business)))
	}
}

// run is the business goroutine.
func (e *Engine) run(ctx context.Context) {
	defer e.loops.Done()
	for w := range e.business {
		metrics.BusinessQueueDepth.Set(float64(len(e.business)))
		e.handle(ctx, w)
	}
}

func (e *Engine) respond(w *messages.MessageWrapper, resp *messages.Response, start time.Time) {
	metrics.MessagesProcessed.WithLabelValues(string(w.Type), string(resp.Status)).Inc()
	if !start.IsZero() {
		metrics.MessageLatency.WithLabelValues(string(w.Type)).Observe(time.Since(start).Seconds())
	}
	w.Respond(resp)
}

// enqueueInternal puts an engine generated message straight onto the
// business queue.
func (e *Engine) enqueueInternal(ctx context.Context, w *messages.MessageWrapper) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.running {
		return ErrNotRunning
	}
	select {
	case e.business <- w:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", w.Type, ctx.Err())
	}
}
