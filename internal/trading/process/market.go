package process

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/internal/trading/matching"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/validation"
)

// MarketOrderProcessor executes market orders. A market order never rests:
// it fills completely or fails.
type MarketOrderProcessor struct {
	logger *zap.Logger
	engine *matching.Engine
}

// NewMarketOrderProcessor creates the processor.
func NewMarketOrderProcessor(logger *zap.Logger, engine *matching.Engine) *MarketOrderProcessor {
	return &MarketOrderProcessor{logger: logger, engine: engine}
}

func (p *MarketOrderProcessor) reject(ec *execution.Context, order *model.Order, status model.OrderStatus, reason string) *OrderResult {
	if !order.UpdateStatus(status, ec.Date()) {
		ec.Logger().Error("illegal order status transition",
			zap.String("order_id", order.ID),
			zap.String("from", string(order.Status)),
			zap.String("to", string(status)))
	}
	ec.Logger().Info("market order rejected",
		zap.String("order_id", order.ID),
		zap.String("client_id", order.ClientID),
		zap.String("status", string(status)),
		zap.String("reason", reason))
	ec.AddMarketOrderReport(order, nil)
	return &OrderResult{Order: order, Reason: reason}
}

// Process matches order against the staged book of its pair.
func (p *MarketOrderProcessor) Process(ec *execution.Context, order *model.Order) *OrderResult {
	in, err := validation.ResolveInstrument(ec, order.AssetPairID)
	if err == nil {
		err = validation.ValidateMarketOrder(order, in)
	}
	if err != nil {
		status, ok := validation.StatusOf(err)
		if !ok {
			status = model.StatusInvalidValue
		}
		return p.reject(ec, order, status, err.Error())
	}

	available := decimal.NullDecimal{}
	if !ec.IsTrusted(order.ClientID) {
		available = decimal.NewNullDecimal(ec.Wallet().AvailableBalance(order.ClientID, order.ReservedAssetID(in.Pair), decimal.Zero))
	}

	book := ec.OrderBooks().Book(order.AssetPairID)
	candidate := book.Copy()
	res, err := p.engine.Match(order, candidate, ec.MessageID, available, in.Pair.MarketOrderPriceDeviationThreshold, ec)
	if err != nil {
		p.logger.Error("matching failed", zap.String("order_id", order.ID), zap.Error(err))
		return p.reject(ec, order, model.StatusUnknownAsset, err.Error())
	}
	if !res.Success() {
		stageRejectedMakers(ec, res)
		ec.AddMarketOrderReport(res.Order, nil)
		return &OrderResult{Order: res.Order, Reason: "matching failed"}
	}

	// Rejections from here on report the order as it arrived: the fills of
	// res are dropped.
	applyToBook(candidate, res)
	if !midPriceAllowed(in.Pair, book, candidate) {
		return p.reject(ec, order, model.StatusTooHighMidPriceDeviation, "mid price moves beyond threshold")
	}
	ops := make([]model.WalletOperation, 0, len(res.OwnCashMovements)+len(res.OppositeCashMovements))
	ops = append(ops, res.OwnCashMovements...)
	ops = append(ops, res.OppositeCashMovements...)
	if err := ec.Wallet().PreProcess(ops, false); err != nil {
		return p.reject(ec, order, model.StatusNotEnoughFunds, err.Error())
	}
	releaseReserved(ec, res.CancelledWalletOperations)

	ec.OrderBooks().SetBook(candidate)
	for _, o := range res.RemovedOrders() {
		ec.RemoveExpiryOrder(o.ID)
	}
	ec.AddMarketOrderReport(res.Order, res.MarketOrderTrades)
	ec.AddOrderReports(res.LimitOrdersReport)
	ec.AddLkkTrades(res.LkkTrades)
	return &OrderResult{Order: res.Order, Trades: res.MarketOrderTrades}
}
