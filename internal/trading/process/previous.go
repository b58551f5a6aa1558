package process

import (
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

// CancelReplaceResult is the outcome of a cancel-and-replace batch.
type CancelReplaceResult struct {
	Cancelled []*model.Order
	Replaced  []*model.Order
	Orders    []*OrderResult
}

// PreviousOrdersProcessor replaces or cancels a client's resting orders on
// one pair before the client's new orders are processed in the same
// context, so released funds are available to the new orders at once.
type PreviousOrdersProcessor struct {
	logger    *zap.Logger
	canceller *LimitOrdersCanceller
	orders    *GenericLimitOrdersProcessor
}

// NewPreviousOrdersProcessor creates the processor.
func NewPreviousOrdersProcessor(logger *zap.Logger, canceller *LimitOrdersCanceller, orders *GenericLimitOrdersProcessor) *PreviousOrdersProcessor {
	return &PreviousOrdersProcessor{logger: logger, canceller: canceller, orders: orders}
}

// CancelAndReplace removes the client's orders that newOrders replace (by
// PreviousExternalID) and, when cancelAll is set, the orders on the sides
// selected by mode. A new order naming a previous order that does not rest
// fails with NotFoundPrevious.
func (p *PreviousOrdersProcessor) CancelAndReplace(
	ec *execution.Context,
	clientID, assetPairID string,
	cancelAll bool,
	mode model.CancelMode,
	newOrders []*model.Order,
) *CancelReplaceResult {
	resting := p.canceller.FindClientOrders(ec, clientID, assetPairID, nil)
	byExternal := make(map[string]*model.Order, len(resting))
	for _, o := range resting {
		byExternal[o.ExternalID] = o
	}

	replaced := make(map[string]bool)
	notFound := make(map[*model.Order]bool)
	for _, o := range newOrders {
		if o.PreviousExternalID == "" {
			continue
		}
		prev, ok := byExternal[o.PreviousExternalID]
		if !ok {
			notFound[o] = true
			continue
		}
		replaced[prev.ID] = true
	}

	buy, sell := cancelSides(cancelAll, mode, newOrders)
	var toReplace, toCancel []*model.Order
	for _, o := range resting {
		switch {
		case replaced[o.ID]:
			toReplace = append(toReplace, o)
		case o.IsBuySide() && buy, !o.IsBuySide() && sell:
			toCancel = append(toCancel, o)
		}
	}

	result := &CancelReplaceResult{
		Replaced:  p.canceller.Cancel(ec, toReplace, model.StatusReplaced),
		Cancelled: p.canceller.Cancel(ec, toCancel, model.StatusCancelled),
	}
	for _, o := range newOrders {
		if notFound[o] {
			result.Orders = append(result.Orders,
				reject(ec, o, model.StatusNotFoundPrevious, "previous order "+o.PreviousExternalID+" not found"))
			continue
		}
		result.Orders = append(result.Orders, p.orders.ProcessOrder(ec, o))
	}
	ec.Logger().Info("cancel and replace processed",
		zap.String("client_id", clientID),
		zap.String("asset_pair_id", assetPairID),
		zap.Int("replaced", len(result.Replaced)),
		zap.Int("cancelled", len(result.Cancelled)),
		zap.Int("new_orders", len(newOrders)))
	return result
}

// cancelSides reports which sides a cancel-all removes.
func cancelSides(cancelAll bool, mode model.CancelMode, newOrders []*model.Order) (buy, sell bool) {
	if !cancelAll {
		return false, false
	}
	switch mode {
	case model.CancelModeBothSides:
		return true, true
	case model.CancelModeBuySide:
		return true, false
	case model.CancelModeSellSide:
		return false, true
	default:
		for _, o := range newOrders {
			if o.IsBuySide() {
				buy = true
			} else {
				sell = true
			}
		}
		return buy, sell
	}
}
