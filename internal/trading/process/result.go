// Package process turns validated orders into staged book and balance
// changes inside an execution context.
package process

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/numeric"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
	"github.com/Aidin1998/pincex_matching/internal/trading/validation"
)

// OrderResult is the outcome of processing one order.
type OrderResult struct {
	Order  *model.Order
	Reason string
	Trades []model.Trade
	// PaybackApplied is set when the caller's payback release was staged
	// together with the order's own wallet batch.
	PaybackApplied bool
}

// Accepted reports whether the order was not rejected.
func (r *OrderResult) Accepted() bool {
	return !r.Order.Status.IsRejection()
}

func reject(ec *execution.Context, order *model.Order, status model.OrderStatus, reason string) *OrderResult {
	if !order.UpdateStatus(status, ec.Date()) {
		ec.Logger().Error("illegal order status transition",
			zap.String("order_id", order.ID),
			zap.String("from", string(order.Status)),
			zap.String("to", string(status)))
	}
	ec.Logger().Info("order rejected",
		zap.String("order_id", order.ID),
		zap.String("external_id", order.ExternalID),
		zap.String("client_id", order.ClientID),
		zap.String("status", string(status)),
		zap.String("reason", reason))
	ec.AddOrderReport(order, nil)
	return &OrderResult{Order: order, Reason: reason}
}

// releaseReserved stages operations that must go through even when they
// leave a balance short, such as reservation releases.
func releaseReserved(ec *execution.Context, ops []model.WalletOperation) {
	if len(ops) == 0 {
		return
	}
	if err := ec.Wallet().PreProcess(ops, true); err != nil {
		ec.Logger().Error("unable to stage reservation release",
			zap.String("message_id", ec.MessageID),
			zap.Int("operations", len(ops)),
			zap.Error(err))
	}
}

func rejectErr(ec *execution.Context, order *model.Order, err error) *OrderResult {
	status, ok := validation.StatusOf(err)
	if !ok {
		status = model.StatusInvalidValue
	}
	return reject(ec, order, status, err.Error())
}

// midPriceAllowed reports whether moving the book from before to after
// keeps the mid price within the pair's deviation band. Books with an
// empty side on either end are not checked.
func midPriceAllowed(pair *model.AssetPair, before, after *orderbook.AssetOrderBook) bool {
	if !pair.MidPriceDeviationThreshold.Valid {
		return true
	}
	old, cur := before.MidPrice(), after.MidPrice()
	if !old.IsPositive() || !cur.IsPositive() {
		return true
	}
	deviation := cur.Sub(old).Abs().DivRound(old, numeric.DivisionPrecision)
	return deviation.LessThanOrEqual(pair.MidPriceDeviationThreshold.Decimal)
}

// NewChildOrder creates the limit order a triggered stop order becomes.
func NewChildOrder(stop *model.Order, price decimal.Decimal, now time.Time) *model.Order {
	child := &model.Order{
		Type:                  model.OrderTypeLimit,
		ID:                    uuid.NewString(),
		ExternalID:            uuid.NewString(),
		AssetPairID:           stop.AssetPairID,
		ClientID:              stop.ClientID,
		Volume:                stop.Volume,
		RemainingVolume:       stop.Volume,
		Price:                 price,
		Status:                model.StatusPending,
		StatusDate:            now,
		CreatedAt:             now,
		RegisteredAt:          now,
		TimeInForce:           stop.TimeInForce,
		ParentOrderExternalID: stop.ExternalID,
	}
	if stop.Fees != nil {
		child.Fees = append([]model.FeeInstruction(nil), stop.Fees...)
	}
	if stop.ExpiryTime != nil {
		t := *stop.ExpiryTime
		child.ExpiryTime = &t
	}
	return child
}
