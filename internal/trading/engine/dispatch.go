package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/internal/trading/messages"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/process"
	"github.com/Aidin1998/pincex_matching/pkg/metrics"
)

var tracer = otel.Tracer("github.com/Aidin1998/pincex_matching/internal/trading/engine")

// outcome is what a dispatched message produced before persisting.
type outcome struct {
	orders []messages.OrderResult
	// rejected marks a message refused as a whole, e.g. an unknown asset
	// on a cash operation.
	rejected bool
	reason   string
}

// handle runs one message through dedup, processing, persistence and
// publishing. Only the business goroutine calls it.
func (e *Engine) handle(ctx context.Context, w *messages.MessageWrapper) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while processing message",
				zap.String("message_id", w.ID),
				zap.String("type", string(w.Type)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			e.respond(w, &messages.Response{Status: messages.StatusRuntimeError, Message: fmt.Sprint(r)}, start)
		}
	}()
	e.processed.Add(1)

	ctx, span := tracer.Start(ctx, "engine.handle", trace.WithAttributes(
		attribute.String("message.id", w.ID),
		attribute.String("message.type", string(w.Type)),
	))
	defer span.End()

	seen, err := e.dedup.IsProcessed(ctx, w.ID)
	if err != nil {
		e.logger.Error("dedup lookup failed", zap.String("message_id", w.ID), zap.Error(err))
		e.respond(w, &messages.Response{Status: messages.StatusUnavailable, Message: err.Error()}, start)
		return
	}
	if seen {
		e.logger.Info("duplicate message ignored", zap.String("message_id", w.ID), zap.String("type", string(w.Type)))
		e.respond(w, &messages.Response{Status: messages.StatusDuplicate}, start)
		return
	}

	ec := e.factory.New(w.ID, w.RequestID, string(w.Type), e.now())
	ec.SetProcessedMessage(&execution.ProcessedMessage{MessageID: w.ID, Type: string(w.Type), Timestamp: ec.Date()})

	out := e.dispatch(ec, w)
	if triggered := e.triggers.ProcessTriggered(ec, ec.OrderBooks().ChangedPairs()); len(triggered) > 0 {
		metrics.StopOrdersTriggered.Add(float64(len(triggered)))
	}

	resp := &messages.Response{Status: messages.StatusOK, Orders: out.orders}
	if out.rejected {
		resp.Status, resp.Message = messages.StatusRejected, out.reason
	}

	persistCtx, cancel := context.WithTimeout(ctx, e.cfg.PersistTimeout)
	persistCtx, persistSpan := tracer.Start(persistCtx, "engine.persist")
	seq := e.sequence.Next()
	err = e.persistence.Persist(persistCtx, w, ec, seq)
	persistSpan.End()
	cancel()
	if errors.Is(err, execution.ErrAlreadyProcessed) {
		if err := e.dedup.MarkProcessed(ctx, w.ID); err != nil {
			e.logger.Warn("failed to mark message processed", zap.String("message_id", w.ID), zap.Error(err))
		}
		e.respond(w, &messages.Response{Status: messages.StatusDuplicate}, start)
		return
	}
	if err != nil {
		span.SetStatus(codes.Error, messages.MessageUnableToSave)
		metrics.PersistenceFailures.Inc()
		e.respond(w, &messages.Response{Status: messages.StatusRuntimeError, Message: messages.MessageUnableToSave}, start)
		return
	}
	e.sequence.Confirm(seq)
	span.SetAttributes(attribute.Int64("sequence_number", int64(seq)))
	metrics.SequenceNumber.Set(float64(seq))
	resp.SequenceNumber = seq

	if err := e.dedup.MarkProcessed(ctx, w.ID); err != nil {
		e.logger.Warn("failed to mark message processed", zap.String("message_id", w.ID), zap.Error(err))
	}
	e.events.Send(ctx, ec, seq)
	e.observe(ec)
	e.respond(w, resp, start)
}

// dispatch stages the effects of w's payload on ec.
func (e *Engine) dispatch(ec *execution.Context, w *messages.MessageWrapper) outcome {
	switch p := w.Payload.(type) {
	case *model.Order:
		if r, ok := w.Request.(*messages.LimitOrderRequest); ok && r.CancelPrevious {
			res := e.previous.CancelAndReplace(ec, p.ClientID, p.AssetPairID, true, model.CancelModeNotEmptySide, []*model.Order{p})
			return outcome{orders: orderResults(res.Orders)}
		}
		return outcome{orders: orderResults([]*process.OrderResult{e.generic.ProcessOrder(ec, p)})}
	case *messages.MultiLimitOrder:
		res := e.previous.CancelAndReplace(ec, p.ClientID, p.AssetPairID, p.CancelAll, p.CancelMode, p.Orders)
		out := outcome{orders: orderResults(res.Orders)}
		for _, o := range res.Cancelled {
			out.orders = append(out.orders, messages.NewOrderResult(o, ""))
		}
		return out
	case *messages.CancelOrders:
		return e.cancel(ec, p)
	case *messages.CashInOut:
		if err := process.CashInOut(ec, p.ClientID, p.AssetID, p.Amount); err != nil {
			return outcome{rejected: true, reason: err.Error()}
		}
		return outcome{}
	default:
		panic(fmt.Sprintf("unexpected payload %T for message %s", w.Payload, w.ID))
	}
}

func (e *Engine) cancel(ec *execution.Context, c *messages.CancelOrders) outcome {
	var (
		orders  []*model.Order
		missing []string
	)
	switch {
	case len(c.OrderIDs) > 0:
		orders = e.canceller.FindByIDs(ec, c.OrderIDs)
	case len(c.ExternalIDs) > 0:
		orders, missing = e.canceller.FindByExternalIDs(ec, c.ClientID, c.ExternalIDs)
	default:
		orders = e.canceller.FindClientOrders(ec, c.ClientID, c.AssetPairID, c.IsBuy)
	}
	status := c.Status
	if status == "" {
		status = model.StatusCancelled
	}
	var out outcome
	for _, o := range e.canceller.Cancel(ec, orders, status) {
		out.orders = append(out.orders, messages.NewOrderResult(o, ""))
	}
	for _, id := range missing {
		out.orders = append(out.orders, messages.OrderResult{ExternalID: id, Reason: "order not found"})
	}
	return out
}

func orderResults(results []*process.OrderResult) []messages.OrderResult {
	out := make([]messages.OrderResult, 0, len(results))
	for _, r := range results {
		out = append(out, messages.NewOrderResult(r.Order, r.Reason))
	}
	return out
}

// observe records per order and per trade metrics of an applied context.
func (e *Engine) observe(ec *execution.Context) {
	count := func(entries []model.OrderWithTrades) {
		for _, ow := range entries {
			metrics.OrdersProcessed.WithLabelValues(string(ow.Order.Type), string(ow.Order.Status)).Inc()
		}
	}
	count(ec.ClientOrders())
	count(ec.TrustedClientOrders())
	count(ec.MarketOrders())
	for _, t := range ec.LkkTrades() {
		metrics.Trades.WithLabelValues(t.AssetPairID).Inc()
	}
}
