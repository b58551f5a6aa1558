package process

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
	"github.com/Aidin1998/pincex_matching/internal/trading/validation"
)

// StopLimitOrderProcessor places stop-limit orders. An order whose trigger
// already holds is executed right away as a limit order.
type StopLimitOrderProcessor struct {
	logger *zap.Logger
	limit  *LimitOrderProcessor
}

// NewStopLimitOrderProcessor creates the processor.
func NewStopLimitOrderProcessor(logger *zap.Logger, limit *LimitOrderProcessor) *StopLimitOrderProcessor {
	return &StopLimitOrderProcessor{logger: logger, limit: limit}
}

// Process validates order, then either executes it or reserves funds and
// parks it in the stop book.
func (p *StopLimitOrderProcessor) Process(ec *execution.Context, order *model.Order) *OrderResult {
	in, err := validation.ResolveInstrument(ec, order.AssetPairID)
	if err == nil {
		err = validation.ValidateStopLimitOrder(order, in, ec.Date())
	}
	if err != nil {
		return rejectErr(ec, order, err)
	}

	book := ec.OrderBooks().Book(order.AssetPairID)
	if price, ok := orderbook.CheckTrigger(order, book.BidPrice(), book.AskPrice()); ok {
		ec.Logger().Info("stop order triggered on arrival",
			zap.String("order_id", order.ID),
			zap.String("trigger_price", price.String()))
		child := NewChildOrder(order, price, ec.Date())
		order.ChildOrderExternalID = child.ExternalID
		res := p.limit.Process(ec, child, decimal.Zero)
		if res.Accepted() {
			order.UpdateStatus(model.StatusExecuted, ec.Date())
		} else {
			order.UpdateStatus(res.Order.Status, ec.Date())
		}
		ec.AddOrderReport(order, nil)
		return &OrderResult{Order: order, Reason: res.Reason, Trades: res.Trades}
	}

	reserved := decimal.Zero
	if !ec.IsTrusted(order.ClientID) {
		reserved = order.CalculateReservedVolume(in.Quoting.Accuracy)
		available := ec.Wallet().AvailableBalance(order.ClientID, order.ReservedAssetID(in.Pair), decimal.Zero)
		if reserved.GreaterThan(available) {
			return reject(ec, order, model.StatusNotEnoughFunds, "available balance below reservation")
		}
	}
	if reserved.IsPositive() {
		op := model.NewReservationOperation(order.ClientID, order.ReservedAssetID(in.Pair), reserved)
		if err := ec.Wallet().PreProcess([]model.WalletOperation{op}, false); err != nil {
			return reject(ec, order, model.StatusNotEnoughFunds, err.Error())
		}
	}
	order.ReservedLimitVolume = reserved
	order.UpdateStatus(model.StatusPending, ec.Date())
	ec.StopOrderBooks().AddOrder(order)
	ec.AddExpiryOrder(order)
	ec.AddOrderReport(order, nil)
	return &OrderResult{Order: order}
}

// GenericLimitOrdersProcessor dispatches a batch of orders by type, sharing
// one execution context.
type GenericLimitOrdersProcessor struct {
	limit  *LimitOrderProcessor
	stop   *StopLimitOrderProcessor
	market *MarketOrderProcessor
}

// NewGenericLimitOrdersProcessor creates the dispatcher.
func NewGenericLimitOrdersProcessor(limit *LimitOrderProcessor, stop *StopLimitOrderProcessor, market *MarketOrderProcessor) *GenericLimitOrdersProcessor {
	return &GenericLimitOrdersProcessor{limit: limit, stop: stop, market: market}
}

// ProcessOrders processes orders in order and returns one result each.
func (g *GenericLimitOrdersProcessor) ProcessOrders(ec *execution.Context, orders []*model.Order) []*OrderResult {
	out := make([]*OrderResult, 0, len(orders))
	for _, o := range orders {
		out = append(out, g.ProcessOrder(ec, o))
	}
	return out
}

// ProcessOrder processes a single order of any type.
func (g *GenericLimitOrdersProcessor) ProcessOrder(ec *execution.Context, order *model.Order) *OrderResult {
	switch order.Type {
	case model.OrderTypeLimit:
		return g.limit.Process(ec, order, decimal.Zero)
	case model.OrderTypeStopLimit:
		return g.stop.Process(ec, order)
	case model.OrderTypeMarket:
		return g.market.Process(ec, order)
	default:
		return reject(ec, order, model.StatusInvalidValue, "unknown order type "+string(order.Type))
	}
}
