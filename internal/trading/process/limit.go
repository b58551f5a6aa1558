package process

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/internal/trading/matching"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
	"github.com/Aidin1998/pincex_matching/internal/trading/validation"
)

// LimitOrderProcessor validates a limit order and either matches it or
// rests it. Every change is made on a candidate copy of the staged book
// and only handed to the context once the wallet batch was accepted.
type LimitOrderProcessor struct {
	logger *zap.Logger
	engine *matching.Engine
}

// NewLimitOrderProcessor creates the processor.
func NewLimitOrderProcessor(logger *zap.Logger, engine *matching.Engine) *LimitOrderProcessor {
	return &LimitOrderProcessor{logger: logger, engine: engine}
}

// limitRequest bundles what both the match and the rest paths need.
type limitRequest struct {
	ec        *execution.Context
	order     *model.Order
	in        *validation.Instrument
	book      *orderbook.AssetOrderBook
	trusted   bool
	available decimal.NullDecimal
	payback   []model.WalletOperation
}

// Process handles order. payBackReserved is an amount already reserved for
// the client in the order's reserved asset that is released as part of the
// order's wallet batch; stop order children use it to inherit the stop
// reservation.
func (p *LimitOrderProcessor) Process(ec *execution.Context, order *model.Order, payBackReserved decimal.Decimal) *OrderResult {
	in, err := validation.ResolveInstrument(ec, order.AssetPairID)
	if err == nil {
		err = validation.ValidateLimitOrder(order, in, ec.Date())
	}
	if err != nil {
		return rejectErr(ec, order, err)
	}

	book := ec.OrderBooks().Book(order.AssetPairID)
	if book.LeadToNegativeSpreadForClient(order) {
		return reject(ec, order, model.StatusLeadToNegativeSpread, "order crosses a resting order of the same client")
	}

	r := &limitRequest{
		ec:      ec,
		order:   order,
		in:      in,
		book:    book,
		trusted: ec.IsTrusted(order.ClientID),
	}
	reservedAsset := order.ReservedAssetID(in.Pair)
	if !r.trusted {
		r.available = decimal.NewNullDecimal(ec.Wallet().AvailableBalance(order.ClientID, reservedAsset, payBackReserved))
	}
	if payBackReserved.IsPositive() {
		r.payback = []model.WalletOperation{
			model.NewReservationOperation(order.ClientID, reservedAsset, payBackReserved.Neg()),
		}
	}

	if book.LeadToNegativeSpread(order) {
		return p.match(r)
	}
	return p.rest(r)
}

func (p *LimitOrderProcessor) reservation(r *limitRequest, order *model.Order) decimal.Decimal {
	if r.trusted {
		return decimal.Zero
	}
	return order.CalculateReservedVolume(r.in.Quoting.Accuracy)
}

// rest adds an order that does not cross the book.
func (p *LimitOrderProcessor) rest(r *limitRequest) *OrderResult {
	ec, order := r.ec, r.order
	switch order.TimeInForce {
	case model.TimeInForceIOC:
		order.UpdateStatus(model.StatusCancelled, ec.Date())
		ec.AddOrderReport(order, nil)
		return &OrderResult{Order: order, Reason: "nothing to match immediately"}
	case model.TimeInForceFOK:
		return reject(ec, order, model.StatusNoLiquidity, "order cannot be filled in full")
	}

	reserved := p.reservation(r, order)
	if r.available.Valid && reserved.GreaterThan(r.available.Decimal) {
		return reject(ec, order, model.StatusNotEnoughFunds, "available balance below reservation")
	}

	candidate := r.book.Copy()
	order.ReservedLimitVolume = reserved
	order.UpdateStatus(model.StatusInOrderBook, ec.Date())
	candidate.AddOrder(order)
	if !midPriceAllowed(r.in.Pair, r.book, candidate) {
		order.ReservedLimitVolume = decimal.Zero
		return reject(ec, order, model.StatusTooHighMidPriceDeviation, "mid price moves beyond threshold")
	}

	ops := append([]model.WalletOperation(nil), r.payback...)
	if reserved.IsPositive() {
		ops = append(ops, model.NewReservationOperation(order.ClientID, order.ReservedAssetID(r.in.Pair), reserved))
	}
	if err := ec.Wallet().PreProcess(ops, false); err != nil {
		order.ReservedLimitVolume = decimal.Zero
		return reject(ec, order, model.StatusNotEnoughFunds, err.Error())
	}

	ec.OrderBooks().SetBook(candidate)
	ec.AddExpiryOrder(order)
	ec.AddOrderReport(order, nil)
	return &OrderResult{Order: order, PaybackApplied: len(r.payback) > 0}
}

// match runs the matching engine for an order that crosses the book.
func (p *LimitOrderProcessor) match(r *limitRequest) *OrderResult {
	ec := r.ec
	candidate := r.book.Copy()
	res, err := p.engine.Match(r.order, candidate, ec.MessageID, r.available, decimal.NullDecimal{}, ec)
	if err != nil {
		p.logger.Error("matching failed", zap.String("order_id", r.order.ID), zap.Error(err))
		return reject(ec, r.order, model.StatusUnknownAsset, err.Error())
	}
	if !res.Success() {
		stageRejectedMakers(ec, res)
		order := res.Order
		ec.AddOrderReport(order, nil)
		ec.Logger().Info("order rejected by matching",
			zap.String("order_id", order.ID),
			zap.String("client_id", order.ClientID),
			zap.String("status", string(order.Status)))
		return &OrderResult{Order: order, Reason: "matching failed"}
	}

	// Rejections from here on report the order as it arrived (r.order): the
	// fills of res are dropped.
	order := res.Order
	remaining := order.AbsRemainingVolume()
	rests := remaining.IsPositive() && matching.RemainderRests(order, r.in.Pair, remaining)
	if remaining.IsPositive() && !rests {
		if order.TimeInForce == model.TimeInForceFOK {
			return reject(ec, r.order, model.StatusNoLiquidity, "order cannot be filled in full")
		}
		order.UpdateStatus(model.StatusCancelled, ec.Date())
	}

	applyToBook(candidate, res)
	reserved := decimal.Zero
	if rests {
		reserved = p.reservation(r, order)
		order.ReservedLimitVolume = reserved
		candidate.AddOrder(order)
	}
	if !midPriceAllowed(r.in.Pair, r.book, candidate) {
		return reject(ec, r.order, model.StatusTooHighMidPriceDeviation, "mid price moves beyond threshold")
	}

	ops := make([]model.WalletOperation, 0, len(res.OwnCashMovements)+len(res.OppositeCashMovements)+2)
	ops = append(ops, r.payback...)
	ops = append(ops, res.OwnCashMovements...)
	ops = append(ops, res.OppositeCashMovements...)
	if reserved.IsPositive() {
		ops = append(ops, model.NewReservationOperation(order.ClientID, order.ReservedAssetID(r.in.Pair), reserved))
	}
	if err := ec.Wallet().PreProcess(ops, false); err != nil {
		return reject(ec, r.order, model.StatusNotEnoughFunds, err.Error())
	}
	releaseReserved(ec, res.CancelledWalletOperations)

	ec.OrderBooks().SetBook(candidate)
	for _, o := range res.RemovedOrders() {
		ec.RemoveExpiryOrder(o.ID)
	}
	if rests {
		ec.AddExpiryOrder(order)
	}
	ec.AddOrderReport(order, res.MarketOrderTrades)
	ec.AddOrderReports(res.LimitOrdersReport)
	ec.AddLkkTrades(res.LkkTrades)
	return &OrderResult{Order: order, Trades: res.MarketOrderTrades, PaybackApplied: len(r.payback) > 0}
}

// applyToBook writes the resting side of a successful match into book.
func applyToBook(book *orderbook.AssetOrderBook, res *matching.Result) {
	for _, o := range res.RemovedOrders() {
		book.RemoveOrder(o)
	}
	if res.UncompletedLimitOrder != nil {
		book.AddOrder(res.UncompletedLimitOrder)
	}
}

// stageRejectedMakers keeps the cancellation of resting orders that could
// not trade even though the incoming order failed.
func stageRejectedMakers(ec *execution.Context, res *matching.Result) {
	if len(res.CancelledLimitOrders) == 0 {
		return
	}
	ec.OrderBooks().RemoveOrders(res.CancelledLimitOrders)
	for _, o := range res.CancelledLimitOrders {
		ec.RemoveExpiryOrder(o.ID)
	}
	releaseReserved(ec, res.CancelledWalletOperations)
	ec.AddOrderReports(res.LimitOrdersReport)
}
