package process

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

// LimitOrdersCanceller removes resting limit and stop orders and releases
// their reservations in one wallet batch.
type LimitOrdersCanceller struct {
	logger *zap.Logger
}

// NewLimitOrdersCanceller creates the canceller.
func NewLimitOrdersCanceller(logger *zap.Logger) *LimitOrdersCanceller {
	return &LimitOrdersCanceller{logger: logger}
}

// Cancel stages the removal of orders with the given final status and
// returns the updated copies. Orders of unknown pairs are removed without
// a release since nothing could have been reserved for them.
func (c *LimitOrdersCanceller) Cancel(ec *execution.Context, orders []*model.Order, status model.OrderStatus) []*model.Order {
	if len(orders) == 0 {
		return nil
	}
	var (
		releases  []model.WalletOperation
		limits    []*model.Order
		stops     []*model.Order
		cancelled = make([]*model.Order, 0, len(orders))
	)
	for _, o := range orders {
		cp := o.Copy()
		if pair, ok := ec.AssetPair(o.AssetPairID); ok && cp.ReservedLimitVolume.IsPositive() {
			releases = append(releases, model.NewReservationOperation(cp.ClientID, cp.ReservedAssetID(pair), cp.ReservedLimitVolume.Neg()))
		}
		cp.ReservedLimitVolume = decimal.Zero
		cp.UpdateStatus(status, ec.Date())
		if o.Type == model.OrderTypeStopLimit {
			stops = append(stops, o)
		} else {
			limits = append(limits, o)
		}
		ec.RemoveExpiryOrder(o.ID)
		ec.AddOrderReport(cp, nil)
		cancelled = append(cancelled, cp)
	}
	ec.OrderBooks().RemoveOrders(limits)
	ec.StopOrderBooks().RemoveOrders(stops)
	releaseReserved(ec, releases)
	c.logger.Debug("orders cancelled",
		zap.String("message_id", ec.MessageID),
		zap.Int("count", len(cancelled)),
		zap.String("status", string(status)))
	return cancelled
}

// FindByIDs returns the resting orders with the given internal ids.
func (c *LimitOrdersCanceller) FindByIDs(ec *execution.Context, ids []string) []*model.Order {
	var out []*model.Order
	for _, id := range ids {
		if o, ok := ec.OrderBooks().FindOrder(id); ok {
			out = append(out, o)
			continue
		}
		if o, ok := ec.StopOrderBooks().FindOrder(id); ok {
			out = append(out, o)
		}
	}
	return out
}

// FindByExternalIDs returns the client's resting orders with the given
// external ids and the ids that matched nothing.
func (c *LimitOrdersCanceller) FindByExternalIDs(ec *execution.Context, clientID string, externalIDs []string) ([]*model.Order, []string) {
	byExternal := make(map[string]*model.Order)
	for _, o := range c.FindClientOrders(ec, clientID, "", nil) {
		byExternal[o.ExternalID] = o
	}
	var (
		found   []*model.Order
		missing []string
	)
	for _, id := range externalIDs {
		if o, ok := byExternal[id]; ok {
			found = append(found, o)
		} else {
			missing = append(missing, id)
		}
	}
	return found, missing
}

// FindClientOrders returns the client's resting limit and stop orders,
// optionally restricted to one pair and one side.
func (c *LimitOrdersCanceller) FindClientOrders(ec *execution.Context, clientID, assetPairID string, isBuy *bool) []*model.Order {
	limitPairs, stopPairs := ec.OrderBooks().Pairs(), ec.StopOrderBooks().Pairs()
	if assetPairID != "" {
		limitPairs, stopPairs = []string{assetPairID}, []string{assetPairID}
	}
	var all []*model.Order
	for _, pair := range limitPairs {
		all = append(all, ec.OrderBooks().Book(pair).ClientOrders(clientID)...)
	}
	for _, pair := range stopPairs {
		all = append(all, ec.StopOrderBooks().Book(pair).ClientOrders(clientID)...)
	}
	if isBuy == nil {
		return all
	}
	out := all[:0]
	for _, o := range all {
		if o.IsBuySide() == *isBuy {
			out = append(out, o)
		}
	}
	return out
}
