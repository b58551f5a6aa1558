package messaging

import (
	"context"
	"errors"
	"sync"

	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
)

// MemoryPublisher keeps published events in order and fans them out to
// subscribers. Subscribers that fall behind miss events.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []*execution.ExecutionEvent
	limit  int
	subs   []chan *execution.ExecutionEvent
}

// NewMemoryPublisher keeps at most limit events (all when limit <= 0).
func NewMemoryPublisher(limit int) *MemoryPublisher {
	return &MemoryPublisher{limit: limit}
}

// Publish implements execution.Publisher.
func (p *MemoryPublisher) Publish(_ context.Context, event *execution.ExecutionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	if p.limit > 0 && len(p.events) > p.limit {
		p.events = p.events[len(p.events)-p.limit:]
	}
	for _, ch := range p.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel receiving events published from now on.
func (p *MemoryPublisher) Subscribe(buffer int) <-chan *execution.ExecutionEvent {
	ch := make(chan *execution.ExecutionEvent, buffer)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func (p *MemoryPublisher) Unsubscribe(ch <-chan *execution.ExecutionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, sub := range p.subs {
		if sub == ch {
			close(sub)
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}

// Events returns the retained events.
func (p *MemoryPublisher) Events() []*execution.ExecutionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*execution.ExecutionEvent(nil), p.events...)
}

// Fanout publishes every event to each publisher in order and returns the
// joined errors.
type Fanout []execution.Publisher

// Publish implements execution.Publisher.
func (f Fanout) Publish(ctx context.Context, event *execution.ExecutionEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
