package matching

import (
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

// Result is the outcome of one Match call. Nothing in it has been applied;
// orders are private copies.
type Result struct {
	Order *model.Order

	CompletedLimitOrders  []*model.Order
	CancelledLimitOrders  []*model.Order
	UncompletedLimitOrder *model.Order
	SkipLimitOrders       []*model.Order

	OwnCashMovements      []model.WalletOperation
	OppositeCashMovements []model.WalletOperation
	// CancelledWalletOperations release the reservations of cancelled
	// resting orders. They are applied even when the incoming order fails.
	CancelledWalletOperations []model.WalletOperation

	MarketOrderTrades []model.Trade
	LimitOrdersReport []model.OrderWithTrades
	LkkTrades         []model.LkkTrade

	// MatchedBaseVolume and MatchedQuotingVolume are the absolute totals
	// traded by the incoming order.
	MatchedBaseVolume    decimal.Decimal
	MatchedQuotingVolume decimal.Decimal
}

// Success reports whether the incoming order survived matching.
func (r *Result) Success() bool {
	switch r.Order.Status {
	case model.StatusMatched, model.StatusProcessing, model.StatusInOrderBook:
		return true
	}
	return false
}

// HasTrades reports whether at least one fill happened.
func (r *Result) HasTrades() bool {
	return len(r.MarketOrderTrades) > 0
}

// RemovedOrders lists every resting order the match takes off the book.
func (r *Result) RemovedOrders() []*model.Order {
	out := make([]*model.Order, 0, len(r.CompletedLimitOrders)+len(r.CancelledLimitOrders))
	out = append(out, r.CompletedLimitOrders...)
	return append(out, r.CancelledLimitOrders...)
}
