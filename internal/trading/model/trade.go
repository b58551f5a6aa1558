package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRole is the side a client took in a trade.
type TradeRole string

const (
	RoleMaker TradeRole = "MAKER"
	RoleTaker TradeRole = "TAKER"
)

// Trade is one fill seen from the perspective of ClientID. Volumes are
// signed: positive means the client received the asset.
type Trade struct {
	TradeID                 string          `json:"trade_id"`
	Index                   int             `json:"index"`
	Role                    TradeRole       `json:"role"`
	Timestamp               time.Time       `json:"timestamp"`
	AssetPairID             string          `json:"asset_pair_id"`
	ClientID                string          `json:"client_id"`
	OrderID                 string          `json:"order_id"`
	OrderExternalID         string          `json:"order_external_id"`
	OppositeClientID        string          `json:"opposite_client_id"`
	OppositeOrderID         string          `json:"opposite_order_id"`
	OppositeOrderExternalID string          `json:"opposite_order_external_id"`
	BaseAssetID             string          `json:"base_asset_id"`
	BaseVolume              decimal.Decimal `json:"base_volume"`
	QuotingAssetID          string          `json:"quoting_asset_id"`
	QuotingVolume           decimal.Decimal `json:"quoting_volume"`
	Price                   decimal.Decimal `json:"price"`
	Fees                    []FeeTransfer   `json:"fees,omitempty"`
	BidPrice                decimal.Decimal `json:"bid_price"`
	AskPrice                decimal.Decimal `json:"ask_price"`
}

// LkkTrade is the flat per-side trade record used by downstream accounting.
type LkkTrade struct {
	AssetPairID string          `json:"asset_pair_id"`
	ClientID    string          `json:"client_id"`
	OrderID     string          `json:"order_id"`
	Price       decimal.Decimal `json:"price"`
	Volume      decimal.Decimal `json:"volume"`
	Date        time.Time       `json:"date"`
}

// OrderWithTrades is a report entry: the final state of an order plus the
// trades it took part in while processing one message.
type OrderWithTrades struct {
	Order  *Order  `json:"order"`
	Trades []Trade `json:"trades,omitempty"`
}
