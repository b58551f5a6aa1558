// Package messages defines the inbound requests the engine accepts, the
// wrapper that carries one request through the pipeline and the responses
// sent back to the caller.
package messages

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

// MessageType identifies the kind of an inbound message.
type MessageType string

const (
	TypeLimitOrder          MessageType = "LIMIT_ORDER"
	TypeStopLimitOrder      MessageType = "STOP_LIMIT_ORDER"
	TypeMarketOrder         MessageType = "MARKET_ORDER"
	TypeMultiLimitOrder     MessageType = "MULTI_LIMIT_ORDER"
	TypeLimitOrderCancel    MessageType = "LIMIT_ORDER_CANCEL"
	TypeExpiredOrdersCancel MessageType = "EXPIRED_ORDERS_CANCEL"
	TypeCashInOut           MessageType = "CASH_IN_OUT"
)

// FeeRequest is one fee instruction as received on the wire.
type FeeRequest struct {
	Type           string `json:"type" validate:"required,oneof=NO_FEE CLIENT_FEE EXTERNAL_FEE"`
	SizeType       string `json:"size_type" validate:"omitempty,oneof=PERCENTAGE ABSOLUTE"`
	Size           string `json:"size" validate:"omitempty,decimal"`
	MakerSizeType  string `json:"maker_size_type" validate:"omitempty,oneof=PERCENTAGE ABSOLUTE"`
	MakerSize      string `json:"maker_size" validate:"omitempty,decimal"`
	SourceClientID string `json:"source_client_id" validate:"max=64"`
	TargetClientID string `json:"target_client_id" validate:"max=64"`
}

// LimitOrderRequest places one limit order.
type LimitOrderRequest struct {
	MessageID      string       `json:"message_id" validate:"max=64"`
	ExternalID     string       `json:"external_id" validate:"required,max=64"`
	ClientID       string       `json:"client_id" validate:"required,max=64"`
	AssetPairID    string       `json:"asset_pair_id" validate:"required,max=32"`
	Price          string       `json:"price" validate:"required,decimal"`
	Volume         string       `json:"volume" validate:"required,decimal"`
	TimeInForce    string       `json:"time_in_force" validate:"omitempty,oneof=GTC GTD IOC FOK"`
	ExpiryTime     *time.Time   `json:"expiry_time"`
	CancelPrevious bool         `json:"cancel_previous_orders"`
	Fees           []FeeRequest `json:"fees" validate:"omitempty,dive"`
}

// StopLimitOrderRequest places one stop-limit order.
type StopLimitOrderRequest struct {
	MessageID       string       `json:"message_id" validate:"max=64"`
	ExternalID      string       `json:"external_id" validate:"required,max=64"`
	ClientID        string       `json:"client_id" validate:"required,max=64"`
	AssetPairID     string       `json:"asset_pair_id" validate:"required,max=32"`
	Volume          string       `json:"volume" validate:"required,decimal"`
	LowerLimitPrice string       `json:"lower_limit_price" validate:"omitempty,decimal"`
	LowerPrice      string       `json:"lower_price" validate:"omitempty,decimal"`
	UpperLimitPrice string       `json:"upper_limit_price" validate:"omitempty,decimal"`
	UpperPrice      string       `json:"upper_price" validate:"omitempty,decimal"`
	TimeInForce     string       `json:"time_in_force" validate:"omitempty,oneof=GTC GTD"`
	ExpiryTime      *time.Time   `json:"expiry_time"`
	Fees            []FeeRequest `json:"fees" validate:"omitempty,dive"`
}

// MarketOrderRequest places one market order. Straight defaults to true;
// a non-straight order carries its volume in the quoting asset.
type MarketOrderRequest struct {
	MessageID   string       `json:"message_id" validate:"max=64"`
	ExternalID  string       `json:"external_id" validate:"required,max=64"`
	ClientID    string       `json:"client_id" validate:"required,max=64"`
	AssetPairID string       `json:"asset_pair_id" validate:"required,max=32"`
	Volume      string       `json:"volume" validate:"required,decimal"`
	Straight    *bool        `json:"straight"`
	Fees        []FeeRequest `json:"fees" validate:"omitempty,dive"`
}

// MultiOrderItem is one order of a multi limit order batch.
type MultiOrderItem struct {
	ExternalID         string       `json:"external_id" validate:"required,max=64"`
	Price              string       `json:"price" validate:"required,decimal"`
	Volume             string       `json:"volume" validate:"required,decimal"`
	PreviousExternalID string       `json:"previous_external_id" validate:"max=64"`
	TimeInForce        string       `json:"time_in_force" validate:"omitempty,oneof=GTC GTD IOC FOK"`
	ExpiryTime         *time.Time   `json:"expiry_time"`
	Fees               []FeeRequest `json:"fees" validate:"omitempty,dive"`
}

// MultiLimitOrderRequest replaces a client's quotes on one pair atomically.
type MultiLimitOrderRequest struct {
	MessageID         string           `json:"message_id" validate:"max=64"`
	ClientID          string           `json:"client_id" validate:"required,max=64"`
	AssetPairID       string           `json:"asset_pair_id" validate:"required,max=32"`
	CancelAllPrevious bool             `json:"cancel_all_previous_limit_orders"`
	CancelMode        string           `json:"cancel_mode" validate:"omitempty,oneof=NOT_EMPTY_SIDE BOTH_SIDES SELL_SIDE BUY_SIDE"`
	Orders            []MultiOrderItem `json:"orders" validate:"required,min=1,max=200,dive"`
}

// CancelRequest cancels orders by external id, or every resting order of
// the client (optionally narrowed to a pair and a side) when no ids are given.
type CancelRequest struct {
	MessageID   string   `json:"message_id" validate:"max=64"`
	ClientID    string   `json:"client_id" validate:"required,max=64"`
	ExternalIDs []string `json:"external_ids" validate:"omitempty,max=500,dive,required"`
	AssetPairID string   `json:"asset_pair_id" validate:"max=32"`
	Side        string   `json:"side" validate:"omitempty,oneof=BUY SELL"`
}

// CashInOutRequest credits or debits a client balance.
type CashInOutRequest struct {
	MessageID string `json:"message_id" validate:"max=64"`
	ClientID  string `json:"client_id" validate:"required,max=64"`
	AssetID   string `json:"asset_id" validate:"required,max=32"`
	Amount    string `json:"amount" validate:"required,nonzero_decimal"`
}

// MultiLimitOrder is the parsed form of MultiLimitOrderRequest.
type MultiLimitOrder struct {
	ClientID    string
	AssetPairID string
	CancelAll   bool
	CancelMode  model.CancelMode
	Orders      []*model.Order
}

// CancelOrders is the parsed form of a cancel. OrderIDs are internal ids and
// are used by expiry; ExternalIDs come from clients.
type CancelOrders struct {
	ClientID    string
	ExternalIDs []string
	OrderIDs    []string
	AssetPairID string
	IsBuy       *bool
	Status      model.OrderStatus
}

// CashInOut is the parsed form of CashInOutRequest.
type CashInOut struct {
	ClientID string
	AssetID  string
	Amount   decimal.Decimal
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", field, err)
	}
	return v, nil
}

func parseOptional(field, s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := parseDecimal(field, s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

func parseFees(reqs []FeeRequest) ([]model.FeeInstruction, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	out := make([]model.FeeInstruction, 0, len(reqs))
	for _, r := range reqs {
		size, err := parseOptional("fee size", r.Size)
		if err != nil {
			return nil, err
		}
		makerSize, err := parseOptional("fee maker size", r.MakerSize)
		if err != nil {
			return nil, err
		}
		out = append(out, model.FeeInstruction{
			Type:           model.FeeType(r.Type),
			SizeType:       model.FeeSizeType(r.SizeType),
			Size:           size,
			MakerSizeType:  model.FeeSizeType(r.MakerSizeType),
			MakerSize:      makerSize,
			SourceClientID: r.SourceClientID,
			TargetClientID: r.TargetClientID,
		})
	}
	return out, nil
}

func newOrder(t model.OrderType, externalID, clientID, pairID string, volume decimal.Decimal, now time.Time) *model.Order {
	return &model.Order{
		Type:            t,
		ID:              uuid.NewString(),
		ExternalID:      externalID,
		AssetPairID:     pairID,
		ClientID:        clientID,
		Volume:          volume,
		RemainingVolume: volume,
		Status:          model.StatusPending,
		StatusDate:      now,
		CreatedAt:       now,
		RegisteredAt:    now,
	}
}

// Order converts the request into a new limit order.
func (r *LimitOrderRequest) Order(now time.Time) (*model.Order, error) {
	price, err := parseDecimal("price", r.Price)
	if err != nil {
		return nil, err
	}
	volume, err := parseDecimal("volume", r.Volume)
	if err != nil {
		return nil, err
	}
	fees, err := parseFees(r.Fees)
	if err != nil {
		return nil, err
	}
	o := newOrder(model.OrderTypeLimit, r.ExternalID, r.ClientID, r.AssetPairID, volume, now)
	o.Price = price
	o.Fees = fees
	o.TimeInForce = model.TimeInForce(r.TimeInForce)
	o.ExpiryTime = r.ExpiryTime
	return o, nil
}

// Order converts the request into a new stop-limit order.
func (r *StopLimitOrderRequest) Order(now time.Time) (*model.Order, error) {
	volume, err := parseDecimal("volume", r.Volume)
	if err != nil {
		return nil, err
	}
	fees, err := parseFees(r.Fees)
	if err != nil {
		return nil, err
	}
	o := newOrder(model.OrderTypeStopLimit, r.ExternalID, r.ClientID, r.AssetPairID, volume, now)
	if o.LowerLimitPrice, err = parseOptional("lower limit price", r.LowerLimitPrice); err != nil {
		return nil, err
	}
	if o.LowerPrice, err = parseOptional("lower price", r.LowerPrice); err != nil {
		return nil, err
	}
	if o.UpperLimitPrice, err = parseOptional("upper limit price", r.UpperLimitPrice); err != nil {
		return nil, err
	}
	if o.UpperPrice, err = parseOptional("upper price", r.UpperPrice); err != nil {
		return nil, err
	}
	o.Fees = fees
	o.TimeInForce = model.TimeInForce(r.TimeInForce)
	o.ExpiryTime = r.ExpiryTime
	return o, nil
}

// Order converts the request into a new market order.
func (r *MarketOrderRequest) Order(now time.Time) (*model.Order, error) {
	volume, err := parseDecimal("volume", r.Volume)
	if err != nil {
		return nil, err
	}
	fees, err := parseFees(r.Fees)
	if err != nil {
		return nil, err
	}
	o := newOrder(model.OrderTypeMarket, r.ExternalID, r.ClientID, r.AssetPairID, volume, now)
	o.Straight = r.Straight == nil || *r.Straight
	o.Fees = fees
	return o, nil
}

// Parse converts the request into its batch form.
func (r *MultiLimitOrderRequest) Parse(now time.Time) (*MultiLimitOrder, error) {
	m := &MultiLimitOrder{
		ClientID:    r.ClientID,
		AssetPairID: r.AssetPairID,
		CancelAll:   r.CancelAllPrevious,
		CancelMode:  model.CancelMode(r.CancelMode),
	}
	if m.CancelMode == "" {
		m.CancelMode = model.CancelModeNotEmptySide
	}
	for i, item := range r.Orders {
		price, err := parseDecimal("price", item.Price)
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		volume, err := parseDecimal("volume", item.Volume)
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		fees, err := parseFees(item.Fees)
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
		o := newOrder(model.OrderTypeLimit, item.ExternalID, r.ClientID, r.AssetPairID, volume, now)
		o.Price = price
		o.Fees = fees
		o.PreviousExternalID = item.PreviousExternalID
		o.TimeInForce = model.TimeInForce(item.TimeInForce)
		o.ExpiryTime = item.ExpiryTime
		m.Orders = append(m.Orders, o)
	}
	return m, nil
}

// Parse converts the request into its cancel form.
func (r *CancelRequest) Parse() *CancelOrders {
	c := &CancelOrders{
		ClientID:    r.ClientID,
		ExternalIDs: r.ExternalIDs,
		AssetPairID: r.AssetPairID,
		Status:      model.StatusCancelled,
	}
	if r.Side != "" {
		isBuy := r.Side == "BUY"
		c.IsBuy = &isBuy
	}
	return c
}

// Parse converts the request into a balance adjustment.
func (r *CashInOutRequest) Parse() (*CashInOut, error) {
	amount, err := parseDecimal("amount", r.Amount)
	if err != nil {
		return nil, err
	}
	return &CashInOut{ClientID: r.ClientID, AssetID: r.AssetID, Amount: amount}, nil
}
