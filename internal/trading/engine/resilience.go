// =============================
// Event Publishing Resilience
// =============================
// The business goroutine publishes synchronously after every commit. A
// broken broker must not add its timeout to every message, so publishing
// goes through a circuit breaker; while it is open events are dropped
// (the state they describe is already durable) and counted.
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/pkg/metrics"
)

const (
	StateClosed   = 0
	StateOpen     = 1
	StateHalfOpen = 2
)

var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreaker protects external dependencies
type CircuitBreaker struct {
	state       int32
	failures    int32
	lastFailure int64
	threshold   int32
	timeout     time.Duration
	now         func() time.Time
}

// NewCircuitBreaker opens after more than threshold consecutive failures
// and lets one call through again after timeout.
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{threshold: int32(threshold), timeout: timeout, now: time.Now}
}

func (cb *CircuitBreaker) Call(fn func() error) error {
	state := atomic.LoadInt32(&cb.state)
	if state == StateOpen {
		if cb.now().Sub(time.Unix(0, atomic.LoadInt64(&cb.lastFailure))) > cb.timeout {
			atomic.StoreInt32(&cb.state, StateHalfOpen)
		} else {
			return ErrCircuitBreakerOpen
		}
	}
	err := fn()
	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
	return err
}

// State returns StateClosed, StateOpen or StateHalfOpen.
func (cb *CircuitBreaker) State() int32 {
	return atomic.LoadInt32(&cb.state)
}

func (cb *CircuitBreaker) recordFailure() {
	atomic.AddInt32(&cb.failures, 1)
	atomic.StoreInt64(&cb.lastFailure, cb.now().UnixNano())
	if atomic.LoadInt32(&cb.failures) > cb.threshold || atomic.LoadInt32(&cb.state) == StateHalfOpen {
		atomic.StoreInt32(&cb.state, StateOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	atomic.StoreInt32(&cb.failures, 0)
	atomic.StoreInt32(&cb.state, StateClosed)
}

// guardedPublisher bounds every publish by a timeout and a breaker.
type guardedPublisher struct {
	next    execution.Publisher
	breaker *CircuitBreaker
	timeout time.Duration
	logger  *zap.Logger
}

func newGuardedPublisher(logger *zap.Logger, next execution.Publisher, breaker *CircuitBreaker, timeout time.Duration) *guardedPublisher {
	return &guardedPublisher{next: next, breaker: breaker, timeout: timeout, logger: logger}
}

// Publish implements execution.Publisher.
func (p *guardedPublisher) Publish(ctx context.Context, event *execution.ExecutionEvent) error {
	err := p.breaker.Call(func() error {
		if p.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}
		return p.next.Publish(ctx, event)
	})
	if err != nil {
		metrics.PublishFailures.Inc()
		if errors.Is(err, ErrCircuitBreakerOpen) {
			p.logger.Warn("event dropped, publisher circuit open",
				zap.Uint64("sequence_number", event.SequenceNumber))
		}
	}
	return err
}
