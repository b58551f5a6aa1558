// =============================
// Asset Order Book
// =============================
// One AssetOrderBook holds the resting limit orders of a single asset pair.
//
// How it works:
// - Bids and asks live in two B-trees ordered by price, then creation time,
//   then insertion sequence.
// - An id index maps every resting order to its tree entry.
// - Copy is O(1): the trees are copy-on-write, so a processor can stage
//   changes on a copy and either commit or drop it.
//
// Orders stored in a book are treated as immutable. Code that needs to
// change a resting order copies it, changes the copy and adds it back.

package orderbook

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

type bookEntry struct {
	order *model.Order
	seq   uint64
}

func bidLess(a, b bookEntry) bool {
	if c := a.order.Price.Cmp(b.order.Price); c != 0 {
		return c > 0
	}
	return timeSeqLess(a, b)
}

func askLess(a, b bookEntry) bool {
	if c := a.order.Price.Cmp(b.order.Price); c != 0 {
		return c < 0
	}
	return timeSeqLess(a, b)
}

func timeSeqLess(a, b bookEntry) bool {
	if !a.order.CreatedAt.Equal(b.order.CreatedAt) {
		return a.order.CreatedAt.Before(b.order.CreatedAt)
	}
	return a.seq < b.seq
}

// AssetOrderBook is the bid/ask book of one asset pair. It is not safe for
// concurrent mutation; the business goroutine owns live books.
type AssetOrderBook struct {
	assetPairID string
	bids        *btree.BTreeG[bookEntry]
	asks        *btree.BTreeG[bookEntry]
	index       *btree.Map[string, bookEntry]
	seq         uint64
}

// NewAssetOrderBook creates an empty book for assetPairID.
func NewAssetOrderBook(assetPairID string) *AssetOrderBook {
	opts := btree.Options{NoLocks: true}
	return &AssetOrderBook{
		assetPairID: assetPairID,
		bids:        btree.NewBTreeGOptions(bidLess, opts),
		asks:        btree.NewBTreeGOptions(askLess, opts),
		index:       new(btree.Map[string, bookEntry]),
	}
}

// AssetPairID returns the pair this book belongs to.
func (b *AssetOrderBook) AssetPairID() string { return b.assetPairID }

func (b *AssetOrderBook) side(isBuy bool) *btree.BTreeG[bookEntry] {
	if isBuy {
		return b.bids
	}
	return b.asks
}

// AddOrder inserts order into its side. Re-adding an order with a known id
// replaces the previous version and keeps its queue position.
func (b *AssetOrderBook) AddOrder(order *model.Order) {
	seq := b.seq
	if prev, ok := b.index.Get(order.ID); ok {
		b.side(prev.order.IsBuySide()).Delete(prev)
		seq = prev.seq
	} else {
		b.seq++
	}
	entry := bookEntry{order: order, seq: seq}
	b.side(order.IsBuySide()).Set(entry)
	b.index.Set(order.ID, entry)
}

// RemoveOrder removes the order with order.ID. It reports whether the order
// was present.
func (b *AssetOrderBook) RemoveOrder(order *model.Order) bool {
	return b.RemoveOrderByID(order.ID)
}

// RemoveOrderByID removes a resting order by id.
func (b *AssetOrderBook) RemoveOrderByID(id string) bool {
	entry, ok := b.index.Delete(id)
	if !ok {
		return false
	}
	b.side(entry.order.IsBuySide()).Delete(entry)
	return true
}

// Order returns the resting order with id.
func (b *AssetOrderBook) Order(id string) (*model.Order, bool) {
	entry, ok := b.index.Get(id)
	if !ok {
		return nil, false
	}
	return entry.order, true
}

// OrderBook returns one side in priority order.
func (b *AssetOrderBook) OrderBook(isBuy bool) []*model.Order {
	side := b.side(isBuy)
	out := make([]*model.Order, 0, side.Len())
	side.Scan(func(e bookEntry) bool {
		out = append(out, e.order)
		return true
	})
	return out
}

// Scan walks one side in priority order until fn returns false.
func (b *AssetOrderBook) Scan(isBuy bool, fn func(order *model.Order) bool) {
	b.side(isBuy).Scan(func(e bookEntry) bool {
		return fn(e.order)
	})
}

// BestOrder returns the top of one side.
func (b *AssetOrderBook) BestOrder(isBuy bool) (*model.Order, bool) {
	e, ok := b.side(isBuy).Min()
	if !ok {
		return nil, false
	}
	return e.order, true
}

// Copy returns an independent snapshot of the book.
func (b *AssetOrderBook) Copy() *AssetOrderBook {
	return &AssetOrderBook{
		assetPairID: b.assetPairID,
		bids:        b.bids.Copy(),
		asks:        b.asks.Copy(),
		index:       b.index.Copy(),
		seq:         b.seq,
	}
}

// BidPrice returns the best bid or zero when there are no bids.
func (b *AssetOrderBook) BidPrice() decimal.Decimal {
	if o, ok := b.BestOrder(true); ok {
		return o.Price
	}
	return decimal.Zero
}

// AskPrice returns the best ask or zero when there are no asks.
func (b *AssetOrderBook) AskPrice() decimal.Decimal {
	if o, ok := b.BestOrder(false); ok {
		return o.Price
	}
	return decimal.Zero
}

// MidPrice returns (bid+ask)/2, or zero unless both sides are present.
func (b *AssetOrderBook) MidPrice() decimal.Decimal {
	bid, ask := b.BidPrice(), b.AskPrice()
	if bid.IsZero() || ask.IsZero() {
		return decimal.Zero
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2))
}

// LeadToNegativeSpread reports whether order would cross the best price of
// the opposite side, meaning it must be matched rather than rested.
func (b *AssetOrderBook) LeadToNegativeSpread(order *model.Order) bool {
	if order.IsBuySide() {
		ask := b.AskPrice()
		return ask.IsPositive() && order.Price.GreaterThanOrEqual(ask)
	}
	bid := b.BidPrice()
	return bid.IsPositive() && order.Price.LessThanOrEqual(bid)
}

// LeadToNegativeSpreadForClient reports whether the owner of order already
// rests an opposite-side order that order would cross.
func (b *AssetOrderBook) LeadToNegativeSpreadForClient(order *model.Order) bool {
	found := false
	isBuy := order.IsBuySide()
	b.Scan(!isBuy, func(resting *model.Order) bool {
		if isBuy && resting.Price.GreaterThan(order.Price) {
			return false
		}
		if !isBuy && resting.Price.LessThan(order.Price) {
			return false
		}
		if resting.ClientID == order.ClientID {
			found = true
			return false
		}
		return true
	})
	return found
}

// ClientOrders returns the client's resting orders, bids first, each side
// in priority order.
func (b *AssetOrderBook) ClientOrders(clientID string) []*model.Order {
	var out []*model.Order
	for _, isBuy := range []bool{true, false} {
		b.Scan(isBuy, func(o *model.Order) bool {
			if o.ClientID == clientID {
				out = append(out, o)
			}
			return true
		})
	}
	return out
}

// Len returns the number of resting orders.
func (b *AssetOrderBook) Len() int { return b.index.Len() }

// SideLen returns the number of resting orders on one side.
func (b *AssetOrderBook) SideLen(isBuy bool) int { return b.side(isBuy).Len() }
