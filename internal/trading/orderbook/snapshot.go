package orderbook

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

// PriceLevel is the aggregated volume resting at one price.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	Orders int             `json:"orders"`
}

// Snapshot is an immutable aggregated view of a book, safe to share with
// readers outside the business goroutine.
type Snapshot struct {
	AssetPairID string       `json:"asset_pair_id"`
	Timestamp   time.Time    `json:"timestamp"`
	Bids        []PriceLevel `json:"bids"`
	Asks        []PriceLevel `json:"asks"`
}

// Depth aggregates up to levels price levels per side; levels <= 0 means all.
func (b *AssetOrderBook) Depth(levels int, now time.Time) *Snapshot {
	return &Snapshot{
		AssetPairID: b.assetPairID,
		Timestamp:   now,
		Bids:        b.aggregate(true, levels),
		Asks:        b.aggregate(false, levels),
	}
}

func (b *AssetOrderBook) aggregate(isBuy bool, levels int) []PriceLevel {
	out := make([]PriceLevel, 0)
	b.Scan(isBuy, func(o *model.Order) bool {
		n := len(out)
		if n > 0 && out[n-1].Price.Equal(o.Price) {
			out[n-1].Volume = out[n-1].Volume.Add(o.AbsRemainingVolume())
			out[n-1].Orders++
			return true
		}
		if levels > 0 && n == levels {
			return false
		}
		out = append(out, PriceLevel{Price: o.Price, Volume: o.AbsRemainingVolume(), Orders: 1})
		return true
	})
	return out
}

// Truncate returns a copy of s limited to levels per side.
func (s *Snapshot) Truncate(levels int) *Snapshot {
	if levels <= 0 {
		return s
	}
	c := *s
	if len(c.Bids) > levels {
		c.Bids = c.Bids[:levels]
	}
	if len(c.Asks) > levels {
		c.Asks = c.Asks[:levels]
	}
	return &c
}
