package execution

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
)

// ExecutionEvent is the outbound bundle produced by one applied message.
type ExecutionEvent struct {
	SequenceNumber      uint64                  `json:"sequence_number"`
	MessageID           string                  `json:"message_id"`
	RequestID           string                  `json:"request_id"`
	MessageType         string                  `json:"message_type"`
	Timestamp           time.Time               `json:"timestamp"`
	BalanceUpdates      []model.BalanceUpdate   `json:"balance_updates,omitempty"`
	ClientOrders        []model.OrderWithTrades `json:"client_orders,omitempty"`
	TrustedClientOrders []model.OrderWithTrades `json:"trusted_client_orders,omitempty"`
	MarketOrders        []model.OrderWithTrades `json:"market_orders,omitempty"`
	LkkTrades           []model.LkkTrade        `json:"lkk_trades,omitempty"`
	OrderBooks          []*orderbook.Snapshot   `json:"order_books,omitempty"`
}

// Publisher delivers events. Ordering across calls is the caller's.
type Publisher interface {
	Publish(ctx context.Context, event *ExecutionEvent) error
}

// SnapshotSink receives fresh book snapshots after every applied message.
type SnapshotSink interface {
	Update(snapshots []*orderbook.Snapshot)
}

// EventSender turns applied contexts into events.
type EventSender struct {
	publisher Publisher
	sink      SnapshotSink
	logger    *zap.Logger
	depth     int
}

// NewEventSender creates a sender. depth limits the price levels per side
// in book snapshots; sink may be nil.
func NewEventSender(logger *zap.Logger, publisher Publisher, sink SnapshotSink, depth int) *EventSender {
	return &EventSender{publisher: publisher, sink: sink, logger: logger, depth: depth}
}

// BuildEvent assembles the event for an applied context.
func BuildEvent(ec *Context, seq uint64, depth int) *ExecutionEvent {
	event := &ExecutionEvent{
		SequenceNumber:      seq,
		MessageID:           ec.MessageID,
		RequestID:           ec.RequestID,
		MessageType:         ec.MessageType,
		Timestamp:           ec.Date(),
		BalanceUpdates:      ec.BalanceUpdates(),
		ClientOrders:        ec.ClientOrders(),
		TrustedClientOrders: ec.TrustedClientOrders(),
		MarketOrders:        ec.MarketOrders(),
		LkkTrades:           ec.LkkTrades(),
	}
	for _, b := range ec.OrderBooks().ChangedBooks() {
		event.OrderBooks = append(event.OrderBooks, b.Depth(depth, ec.Date()))
	}
	return event
}

// Send publishes the event of an applied context. Publish failures are
// logged; the state change is already durable.
func (s *EventSender) Send(ctx context.Context, ec *Context, seq uint64) *ExecutionEvent {
	event := BuildEvent(ec, seq, s.depth)
	if s.sink != nil && len(event.OrderBooks) > 0 {
		s.sink.Update(event.OrderBooks)
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish execution event",
			zap.Uint64("sequence_number", seq),
			zap.String("message_id", ec.MessageID),
			zap.Error(err))
	}
	return event
}
