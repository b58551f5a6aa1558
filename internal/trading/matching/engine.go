// Package matching implements price-time priority matching of one incoming
// order against the opposite side of an asset order book.
package matching

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/balance"
	"github.com/Aidin1998/pincex_matching/internal/trading/fee"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/numeric"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
)

// Context is what matching needs from the execution context.
type Context interface {
	Wallet() *balance.WalletOperationsProcessor
	AssetPair(id string) (*model.AssetPair, bool)
	Asset(id string) (*model.Asset, bool)
	Date() time.Time
}

// Engine matches orders. It holds no book state and never mutates its
// inputs.
type Engine struct {
	logger *zap.Logger
	fees   *fee.Calculator
}

// NewEngine creates a matching engine.
func NewEngine(logger *zap.Logger, fees *fee.Calculator) *Engine {
	return &Engine{logger: logger, fees: fees}
}

// Fees returns the fee calculator used for matched legs.
func (e *Engine) Fees() *fee.Calculator { return e.fees }

type walletKey struct {
	clientID string
	assetID  string
}

// matchState carries everything accumulated while walking the book.
type matchState struct {
	ctx       Context
	messageID string
	pair      *model.AssetPair
	base      *model.Asset
	quoting   *model.Asset
	order     *model.Order
	result    *Result
	pending   map[walletKey]model.AssetBalance
	date      time.Time
	bid       decimal.Decimal
	ask       decimal.Decimal

	// rejected makers and their releases survive an aborted match
	rejected         []*model.Order
	rejectedReleases []model.WalletOperation
}

// balance returns the maker balance as staged plus what this match has
// already moved.
func (s *matchState) balance(clientID, assetID string) model.AssetBalance {
	k := walletKey{clientID, assetID}
	if b, ok := s.pending[k]; ok {
		return b
	}
	return s.ctx.Wallet().Balance(clientID, assetID)
}

func (s *matchState) track(ops ...model.WalletOperation) {
	for _, op := range ops {
		b := s.balance(op.ClientID, op.AssetID)
		b.Balance = b.Balance.Add(op.BalanceDelta)
		b.Reserved = b.Reserved.Add(op.ReservedBalanceDelta)
		s.pending[walletKey{op.ClientID, op.AssetID}] = b
	}
}

func (s *matchState) accuracy(assetID string) int {
	if assetID == s.base.ID {
		return s.base.Accuracy
	}
	return s.quoting.Accuracy
}

// Match walks the opposite side of book for order. availableBalance is the
// incoming client's spendable amount in the asset it pays with; it is
// absent for trusted clients. priceDeviationThreshold, when present, skips
// resting orders priced too far from the mid price at the start of the
// match.
func (e *Engine) Match(
	order *model.Order,
	book *orderbook.AssetOrderBook,
	messageID string,
	availableBalance decimal.NullDecimal,
	priceDeviationThreshold decimal.NullDecimal,
	ctx Context,
) (*Result, error) {
	pair, ok := ctx.AssetPair(order.AssetPairID)
	if !ok {
		return nil, fmt.Errorf("match order %s: unknown asset pair %s", order.ID, order.AssetPairID)
	}
	base, ok := ctx.Asset(pair.BaseAssetID)
	if !ok {
		return nil, fmt.Errorf("match order %s: unknown asset %s", order.ID, pair.BaseAssetID)
	}
	quoting, ok := ctx.Asset(pair.QuotingAssetID)
	if !ok {
		return nil, fmt.Errorf("match order %s: unknown asset %s", order.ID, pair.QuotingAssetID)
	}

	s := &matchState{
		ctx:       ctx,
		messageID: messageID,
		pair:      pair,
		base:      base,
		quoting:   quoting,
		order:     order.Copy(),
		result:    &Result{},
		pending:   make(map[walletKey]model.AssetBalance),
		date:      ctx.Date(),
		bid:       book.BidPrice(),
		ask:       book.AskPrice(),
	}
	s.result.Order = s.order

	isBuy := order.IsBuySide()
	if book.SideLen(!isBuy) == 0 {
		return e.abort(s, model.StatusNoLiquidity), nil
	}

	refMid := book.MidPrice()
	takePrice := order.TakePrice()
	straight := order.IsStraight()
	remaining := order.AbsVolume()
	if order.Type != model.OrderTypeMarket {
		remaining = order.AbsRemainingVolume()
	}

	totalPaid := decimal.Zero
	deviationSkips := 0
	var fatal error
	var takerFailure model.OrderStatus

	book.Scan(!isBuy, func(maker *model.Order) bool {
		if remaining.IsZero() {
			return false
		}
		if takePrice.Valid {
			if isBuy && maker.Price.GreaterThan(takePrice.Decimal) {
				return false
			}
			if !isBuy && maker.Price.LessThan(takePrice.Decimal) {
				return false
			}
		}
		if maker.ClientID == order.ClientID {
			s.result.SkipLimitOrders = append(s.result.SkipLimitOrders, maker)
			return true
		}
		if priceDeviationThreshold.Valid && refMid.IsPositive() {
			deviation := maker.Price.Sub(refMid).Abs().DivRound(refMid, numeric.DivisionPrecision)
			if deviation.GreaterThan(priceDeviationThreshold.Decimal) {
				deviationSkips++
				s.result.SkipLimitOrders = append(s.result.SkipLimitOrders, maker)
				return true
			}
		}

		makerBuys := !isBuy
		makerRemaining := maker.AbsRemainingVolume()
		var baseVolume, quotingVolume decimal.Decimal
		if straight {
			baseVolume = numeric.Min(remaining, makerRemaining)
			quotingVolume = quoteFor(baseVolume, maker.Price, makerBuys, quoting.Accuracy)
		} else {
			full := quoteFor(makerRemaining, maker.Price, makerBuys, quoting.Accuracy)
			if remaining.GreaterThanOrEqual(full) {
				baseVolume, quotingVolume = makerRemaining, full
			} else {
				quotingVolume = remaining
				baseVolume = baseFor(quotingVolume, maker.Price, makerBuys, base.Accuracy)
				if baseVolume.IsZero() {
					return false
				}
			}
		}

		status, err := e.fill(s, maker, baseVolume, quotingVolume)
		if err != nil {
			fatal = err
			return false
		}
		switch status {
		case fillTakerInvalidFee:
			takerFailure = model.StatusInvalidFee
			return false
		case fillMakerRejected:
			return true
		}

		if straight {
			remaining = remaining.Sub(baseVolume)
		} else {
			remaining = remaining.Sub(quotingVolume)
		}
		if isBuy {
			totalPaid = totalPaid.Add(quotingVolume)
		} else {
			totalPaid = totalPaid.Add(baseVolume)
		}
		return true
	})
	if fatal != nil {
		return nil, fatal
	}
	if takerFailure != "" {
		return e.abort(s, takerFailure), nil
	}

	if order.Type == model.OrderTypeMarket && remaining.IsPositive() {
		if deviationSkips > 0 {
			return e.abort(s, model.StatusTooHighPriceDeviation), nil
		}
		return e.abort(s, model.StatusNoLiquidity), nil
	}

	if availableBalance.Valid {
		required := totalPaid
		if order.Type != model.OrderTypeMarket && remaining.IsPositive() && RemainderRests(order, pair, remaining) {
			rest := s.order.Copy()
			rest.RemainingVolume = signed(remaining, isBuy)
			required = required.Add(rest.CalculateReservedVolume(quoting.Accuracy))
		}
		if required.GreaterThan(availableBalance.Decimal) {
			if order.Type == model.OrderTypeMarket {
				return e.abort(s, model.StatusNotEnoughFunds), nil
			}
			return e.abort(s, model.StatusReservedVolumeGreaterThanBalance), nil
		}
	}

	e.finish(s, remaining)
	return s.result, nil
}

// RemainderRests reports whether an unmatched remainder of order would be
// added to the book rather than cancelled.
func RemainderRests(order *model.Order, pair *model.AssetPair, remaining decimal.Decimal) bool {
	if order.Type == model.OrderTypeMarket {
		return false
	}
	switch order.TimeInForce {
	case model.TimeInForceIOC, model.TimeInForceFOK:
		return false
	}
	return !pair.IsDust(remaining)
}

func signed(v decimal.Decimal, positive bool) decimal.Decimal {
	if positive {
		return v
	}
	return v.Neg()
}

// quoteFor converts a base volume into the quoting amount at price, rounded
// in favour of the resting order.
func quoteFor(baseVolume, price decimal.Decimal, makerBuys bool, accuracy int) decimal.Decimal {
	q := baseVolume.Mul(price)
	if makerBuys {
		return numeric.RoundDown(q, accuracy)
	}
	return numeric.RoundUp(q, accuracy)
}

// baseFor converts a quoting amount into a base volume at price, rounded
// in favour of the resting order.
func baseFor(quotingVolume, price decimal.Decimal, makerBuys bool, accuracy int) decimal.Decimal {
	v := quotingVolume.DivRound(price, numeric.DivisionPrecision)
	if makerBuys {
		return numeric.RoundUp(v, accuracy)
	}
	return numeric.RoundDown(v, accuracy)
}

type fillStatus int

const (
	fillDone fillStatus = iota
	fillMakerRejected
	fillTakerInvalidFee
)

// fill books one trade between the incoming order and maker.
func (e *Engine) fill(s *matchState, maker *model.Order, baseVolume, quotingVolume decimal.Decimal) (fillStatus, error) {
	r := s.result
	takerBuys := s.order.IsBuySide()

	takerRecvAsset, takerRecv := s.pair.QuotingAssetID, quotingVolume
	takerPayAsset, takerPay := s.pair.BaseAssetID, baseVolume
	if takerBuys {
		takerRecvAsset, takerRecv = s.pair.BaseAssetID, baseVolume
		takerPayAsset, takerPay = s.pair.QuotingAssetID, quotingVolume
	}
	makerRecvAsset, makerRecv := takerPayAsset, takerPay
	makerPayAsset, makerPay := takerRecvAsset, takerRecv

	wallet := s.ctx.Wallet()
	makerCopy := maker.Copy()
	if !wallet.IsTrusted(maker.ClientID) {
		mb := s.balance(maker.ClientID, makerPayAsset)
		if mb.Balance.LessThan(makerPay) {
			e.cancelMaker(s, makerCopy, model.StatusNotEnoughFunds)
			return fillMakerRejected, nil
		}
		if mb.Reserved.GreaterThan(mb.Balance) {
			makerCopy.UpdateStatus(model.StatusReservedVolumeGreaterThanBalance, s.date)
			r.SkipLimitOrders = append(r.SkipLimitOrders, makerCopy)
			e.logger.Warn("resting order skipped, reserved balance exceeds balance",
				zap.String("message_id", s.messageID),
				zap.String("order_id", maker.ID),
				zap.String("client_id", maker.ClientID),
				zap.String("asset_id", makerPayAsset))
			return fillMakerRejected, nil
		}
	}

	makerFees, err := e.fees.Leg(maker, true, makerRecvAsset, makerRecv, s.accuracy(makerRecvAsset))
	if err != nil {
		e.cancelMaker(s, makerCopy, model.StatusInvalidFee)
		return fillMakerRejected, nil
	}
	takerFees, err := e.fees.Leg(s.order, false, takerRecvAsset, takerRecv, s.accuracy(takerRecvAsset))
	if err != nil {
		return fillTakerInvalidFee, nil
	}

	own := []model.WalletOperation{
		model.NewWalletOperation(s.order.ClientID, takerRecvAsset, takerRecv),
		model.NewWalletOperation(s.order.ClientID, takerPayAsset, takerPay.Neg()),
	}
	own = append(own, fee.CashMovements(takerFees)...)

	reservedDelta := numeric.Min(makerCopy.ReservedLimitVolume, makerPay)
	makerCopy.ReservedLimitVolume = makerCopy.ReservedLimitVolume.Sub(reservedDelta)
	opposite := []model.WalletOperation{
		{ClientID: maker.ClientID, AssetID: makerPayAsset, BalanceDelta: makerPay.Neg(), ReservedBalanceDelta: reservedDelta.Neg()},
		model.NewWalletOperation(maker.ClientID, makerRecvAsset, makerRecv),
	}
	opposite = append(opposite, fee.CashMovements(makerFees)...)

	makerRemaining := makerCopy.AbsRemainingVolume().Sub(baseVolume)
	makerCopy.RemainingVolume = signed(makerRemaining, makerCopy.IsBuySide())
	date := s.date
	makerCopy.LastMatchTime = &date

	switch {
	case makerRemaining.IsZero():
		makerCopy.UpdateStatus(model.StatusMatched, s.date)
		r.CompletedLimitOrders = append(r.CompletedLimitOrders, makerCopy)
		if makerCopy.ReservedLimitVolume.IsPositive() {
			opposite = append(opposite, model.NewReservationOperation(maker.ClientID, makerPayAsset, makerCopy.ReservedLimitVolume.Neg()))
			makerCopy.ReservedLimitVolume = decimal.Zero
		}
	case s.pair.IsDust(makerRemaining):
		makerCopy.UpdateStatus(model.StatusCancelled, s.date)
		r.CancelledLimitOrders = append(r.CancelledLimitOrders, makerCopy)
		if makerCopy.ReservedLimitVolume.IsPositive() {
			r.CancelledWalletOperations = append(r.CancelledWalletOperations,
				model.NewReservationOperation(maker.ClientID, makerPayAsset, makerCopy.ReservedLimitVolume.Neg()))
			makerCopy.ReservedLimitVolume = decimal.Zero
		}
	default:
		makerCopy.UpdateStatus(model.StatusProcessing, s.date)
		r.UncompletedLimitOrder = makerCopy
	}

	s.track(own...)
	s.track(opposite...)
	r.OwnCashMovements = append(r.OwnCashMovements, own...)
	r.OppositeCashMovements = append(r.OppositeCashMovements, opposite...)

	tradeID := uuid.NewString()
	index := len(r.MarketOrderTrades)
	price := maker.Price
	takerBase, takerQuote := signed(baseVolume, takerBuys), signed(quotingVolume, !takerBuys)
	takerTrade := model.Trade{
		TradeID:                 tradeID,
		Index:                   index,
		Role:                    model.RoleTaker,
		Timestamp:               s.date,
		AssetPairID:             s.pair.ID,
		ClientID:                s.order.ClientID,
		OrderID:                 s.order.ID,
		OrderExternalID:         s.order.ExternalID,
		OppositeClientID:        maker.ClientID,
		OppositeOrderID:         maker.ID,
		OppositeOrderExternalID: maker.ExternalID,
		BaseAssetID:             s.pair.BaseAssetID,
		BaseVolume:              takerBase,
		QuotingAssetID:          s.pair.QuotingAssetID,
		QuotingVolume:           takerQuote,
		Price:                   price,
		Fees:                    takerFees,
		BidPrice:                s.bid,
		AskPrice:                s.ask,
	}
	makerTrade := takerTrade
	makerTrade.Role = model.RoleMaker
	makerTrade.ClientID, makerTrade.OppositeClientID = maker.ClientID, s.order.ClientID
	makerTrade.OrderID, makerTrade.OppositeOrderID = maker.ID, s.order.ID
	makerTrade.OrderExternalID, makerTrade.OppositeOrderExternalID = maker.ExternalID, s.order.ExternalID
	makerTrade.BaseVolume, makerTrade.QuotingVolume = takerBase.Neg(), takerQuote.Neg()
	makerTrade.Fees = makerFees

	r.MarketOrderTrades = append(r.MarketOrderTrades, takerTrade)
	r.LimitOrdersReport = append(r.LimitOrdersReport, model.OrderWithTrades{Order: makerCopy, Trades: []model.Trade{makerTrade}})
	r.LkkTrades = append(r.LkkTrades,
		model.LkkTrade{AssetPairID: s.pair.ID, ClientID: maker.ClientID, OrderID: maker.ID, Price: price, Volume: takerBase.Neg(), Date: s.date},
		model.LkkTrade{AssetPairID: s.pair.ID, ClientID: s.order.ClientID, OrderID: s.order.ID, Price: price, Volume: takerBase, Date: s.date},
	)
	r.MatchedBaseVolume = r.MatchedBaseVolume.Add(baseVolume)
	r.MatchedQuotingVolume = r.MatchedQuotingVolume.Add(quotingVolume)
	return fillDone, nil
}

// cancelMaker removes a resting order that can no longer trade and releases
// what it still reserves.
func (e *Engine) cancelMaker(s *matchState, maker *model.Order, status model.OrderStatus) {
	e.logger.Info("cancelling resting order during matching",
		zap.String("message_id", s.messageID),
		zap.String("order_id", maker.ID),
		zap.String("client_id", maker.ClientID),
		zap.String("reason", string(status)))
	maker.UpdateStatus(model.StatusCancelled, s.date)
	s.result.CancelledLimitOrders = append(s.result.CancelledLimitOrders, maker)
	s.rejected = append(s.rejected, maker)
	if maker.ReservedLimitVolume.IsPositive() {
		op := model.NewReservationOperation(maker.ClientID, maker.ReservedAssetID(s.pair), maker.ReservedLimitVolume.Neg())
		s.result.CancelledWalletOperations = append(s.result.CancelledWalletOperations, op)
		s.rejectedReleases = append(s.rejectedReleases, op)
		s.track(op)
		maker.ReservedLimitVolume = decimal.Zero
	}
	s.result.LimitOrdersReport = append(s.result.LimitOrdersReport, model.OrderWithTrades{Order: maker})
}

// abort fails the incoming order. Fills are dropped; only the cancellation
// of resting orders that could not trade survives.
func (e *Engine) abort(s *matchState, status model.OrderStatus) *Result {
	order := s.result.Order
	order.UpdateStatus(status, s.date)
	r := &Result{
		Order:                     order,
		CancelledLimitOrders:      s.rejected,
		CancelledWalletOperations: s.rejectedReleases,
		SkipLimitOrders:           s.result.SkipLimitOrders,
	}
	for _, o := range s.rejected {
		r.LimitOrdersReport = append(r.LimitOrdersReport, model.OrderWithTrades{Order: o})
	}
	s.result = r
	return r
}

// finish sets the final state of the incoming order after a successful walk.
func (e *Engine) finish(s *matchState, remaining decimal.Decimal) {
	o := s.order
	r := s.result
	date := s.date
	if r.HasTrades() {
		o.LastMatchTime = &date
	}
	switch o.Type {
	case model.OrderTypeMarket:
		o.MatchedAt = &date
		if r.MatchedBaseVolume.IsPositive() {
			o.Price = numeric.Divide(r.MatchedQuotingVolume, r.MatchedBaseVolume, s.pair.Accuracy)
		}
		o.UpdateStatus(model.StatusMatched, s.date)
	default:
		o.RemainingVolume = signed(remaining, o.IsBuySide())
		if remaining.IsZero() {
			o.UpdateStatus(model.StatusMatched, s.date)
		} else {
			o.UpdateStatus(model.StatusProcessing, s.date)
		}
	}
}
