package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/pincex_matching/internal/trading/numeric"
)

// OrderType tags the variant of an Order.
type OrderType string

// Order variants. The set is closed; every switch over OrderType handles all three.
const (
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
	OrderTypeMarket    OrderType = "MARKET"
)

// TimeInForce options for limit orders.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // Good Till Cancelled
	TimeInForceGTD TimeInForce = "GTD" // Good Till Date
	TimeInForceIOC TimeInForce = "IOC" // Immediate Or Cancel
	TimeInForceFOK TimeInForce = "FOK" // Fill Or Kill
)

// Order is the single representation of limit, stop-limit and market orders.
// Fields that only make sense for one variant are zero for the others.
type Order struct {
	Type         OrderType       `json:"type"`
	ID           string          `json:"id"`
	ExternalID   string          `json:"external_id"`
	AssetPairID  string          `json:"asset_pair_id"`
	ClientID     string          `json:"client_id"`
	Volume       decimal.Decimal `json:"volume"`
	Status       OrderStatus     `json:"status"`
	StatusDate   time.Time       `json:"status_date"`
	CreatedAt    time.Time       `json:"created_at"`
	RegisteredAt time.Time       `json:"registered_at"`

	// ReservedLimitVolume is the amount currently locked for the order in
	// the asset it pays with.
	ReservedLimitVolume decimal.Decimal  `json:"reserved_limit_volume"`
	Fees                []FeeInstruction `json:"fees,omitempty"`

	// Limit and stop-limit. For market orders Price holds the average
	// execution price once matched.
	Price                 decimal.Decimal     `json:"price"`
	RemainingVolume       decimal.Decimal     `json:"remaining_volume"`
	LastMatchTime         *time.Time          `json:"last_match_time,omitempty"`
	LowerLimitPrice       decimal.NullDecimal `json:"lower_limit_price"`
	LowerPrice            decimal.NullDecimal `json:"lower_price"`
	UpperLimitPrice       decimal.NullDecimal `json:"upper_limit_price"`
	UpperPrice            decimal.NullDecimal `json:"upper_price"`
	TimeInForce           TimeInForce         `json:"time_in_force,omitempty"`
	ExpiryTime            *time.Time          `json:"expiry_time,omitempty"`
	PreviousExternalID    string              `json:"previous_external_id,omitempty"`
	ParentOrderExternalID string              `json:"parent_order_external_id,omitempty"`
	ChildOrderExternalID  string              `json:"child_order_external_id,omitempty"`

	// Market only.
	Straight  bool       `json:"straight"`
	MatchedAt *time.Time `json:"matched_at,omitempty"`
}

// IsBuySide reports whether the order buys the base asset. A non-straight
// market order expresses its volume in the quoting asset, so the sign flips.
func (o *Order) IsBuySide() bool {
	switch o.Type {
	case OrderTypeMarket:
		if o.Straight {
			return o.Volume.IsPositive()
		}
		return o.Volume.IsNegative()
	default:
		return o.Volume.IsPositive()
	}
}

// IsStraight reports whether Volume is denominated in the base asset.
func (o *Order) IsStraight() bool {
	switch o.Type {
	case OrderTypeMarket:
		return o.Straight
	default:
		return true
	}
}

// AbsVolume returns |Volume|.
func (o *Order) AbsVolume() decimal.Decimal {
	return o.Volume.Abs()
}

// AbsRemainingVolume returns |RemainingVolume|.
func (o *Order) AbsRemainingVolume() decimal.Decimal {
	return o.RemainingVolume.Abs()
}

// TakePrice is the limit price the order accepts, absent for market orders.
func (o *Order) TakePrice() decimal.NullDecimal {
	switch o.Type {
	case OrderTypeLimit, OrderTypeStopLimit:
		return numeric.Null(o.Price)
	default:
		return decimal.NullDecimal{}
	}
}

// IsPartiallyMatched reports whether some of the order volume has traded.
func (o *Order) IsPartiallyMatched() bool {
	switch o.Type {
	case OrderTypeMarket:
		return false
	default:
		return !o.RemainingVolume.Equal(o.Volume)
	}
}

// IsExpired reports whether a GTD order passed its expiry time at now.
func (o *Order) IsExpired(now time.Time) bool {
	return o.ExpiryTime != nil && !now.Before(*o.ExpiryTime)
}

// HasExpiry reports whether the order must be registered for expiry.
func (o *Order) HasExpiry() bool {
	return o.Type != OrderTypeMarket && o.TimeInForce == TimeInForceGTD && o.ExpiryTime != nil
}

// ReservedAssetID is the asset locked while the order rests.
func (o *Order) ReservedAssetID(pair *AssetPair) string {
	if o.IsBuySide() {
		return pair.QuotingAssetID
	}
	return pair.BaseAssetID
}

// CalculateReservedVolume returns the amount that must be locked for the
// unmatched part of the order. Market orders never rest and reserve nothing.
func (o *Order) CalculateReservedVolume(quotingAccuracy int) decimal.Decimal {
	switch o.Type {
	case OrderTypeLimit:
		if o.IsBuySide() {
			return numeric.RoundUp(o.AbsRemainingVolume().Mul(o.Price), quotingAccuracy)
		}
		return o.AbsRemainingVolume()
	case OrderTypeStopLimit:
		if o.IsBuySide() {
			price := decimal.Zero
			if o.LowerPrice.Valid {
				price = o.LowerPrice.Decimal
			}
			if o.UpperPrice.Valid {
				price = numeric.Max(price, o.UpperPrice.Decimal)
			}
			return numeric.RoundUp(o.AbsVolume().Mul(price), quotingAccuracy)
		}
		return o.AbsVolume()
	default:
		return decimal.Zero
	}
}

// UpdateStatus moves the order to status at date. A move CanTransition
// forbids leaves the order untouched and returns false.
func (o *Order) UpdateStatus(status OrderStatus, date time.Time) bool {
	if !CanTransition(o.Status, status) {
		return false
	}
	o.Status = status
	o.StatusDate = date
	return true
}

// Copy returns a deep copy safe to mutate independently of o.
func (o *Order) Copy() *Order {
	c := *o
	if o.Fees != nil {
		c.Fees = make([]FeeInstruction, len(o.Fees))
		copy(c.Fees, o.Fees)
	}
	c.LastMatchTime = copyTime(o.LastMatchTime)
	c.ExpiryTime = copyTime(o.ExpiryTime)
	c.MatchedAt = copyTime(o.MatchedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CancelMode selects which resting orders of a client a cancel-and-replace
// batch removes.
type CancelMode string

const (
	CancelModeNotEmptySide CancelMode = "NOT_EMPTY_SIDE"
	CancelModeBothSides    CancelMode = "BOTH_SIDES"
	CancelModeSellSide     CancelMode = "SELL_SIDE"
	CancelModeBuySide      CancelMode = "BUY_SIDE"
)
