package orderbook

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

// StopOrderBook holds pending stop-limit orders of one asset pair. An order
// with both limits set sits in both the lower and the upper tree.
type StopOrderBook struct {
	assetPairID string
	buyLower    *btree.BTreeG[bookEntry]
	buyUpper    *btree.BTreeG[bookEntry]
	sellLower   *btree.BTreeG[bookEntry]
	sellUpper   *btree.BTreeG[bookEntry]
	index       *btree.Map[string, bookEntry]
	seq         uint64
}

// Lower limits trigger on a falling price, so the highest limit goes first.
func lowerLess(a, b bookEntry) bool {
	if c := a.order.LowerLimitPrice.Decimal.Cmp(b.order.LowerLimitPrice.Decimal); c != 0 {
		return c > 0
	}
	return timeSeqLess(a, b)
}

// Upper limits trigger on a rising price, so the lowest limit goes first.
func upperLess(a, b bookEntry) bool {
	if c := a.order.UpperLimitPrice.Decimal.Cmp(b.order.UpperLimitPrice.Decimal); c != 0 {
		return c < 0
	}
	return timeSeqLess(a, b)
}

// NewStopOrderBook creates an empty stop book for assetPairID.
func NewStopOrderBook(assetPairID string) *StopOrderBook {
	opts := btree.Options{NoLocks: true}
	return &StopOrderBook{
		assetPairID: assetPairID,
		buyLower:    btree.NewBTreeGOptions(lowerLess, opts),
		buyUpper:    btree.NewBTreeGOptions(upperLess, opts),
		sellLower:   btree.NewBTreeGOptions(lowerLess, opts),
		sellUpper:   btree.NewBTreeGOptions(upperLess, opts),
		index:       new(btree.Map[string, bookEntry]),
	}
}

// AssetPairID returns the pair this book belongs to.
func (b *StopOrderBook) AssetPairID() string { return b.assetPairID }

func (b *StopOrderBook) trees(isBuy bool) (lower, upper *btree.BTreeG[bookEntry]) {
	if isBuy {
		return b.buyLower, b.buyUpper
	}
	return b.sellLower, b.sellUpper
}

// AddOrder inserts a stop order, replacing a previous version with the same id.
func (b *StopOrderBook) AddOrder(order *model.Order) {
	seq := b.seq
	if prev, ok := b.index.Get(order.ID); ok {
		b.remove(prev)
		seq = prev.seq
	} else {
		b.seq++
	}
	entry := bookEntry{order: order, seq: seq}
	lower, upper := b.trees(order.IsBuySide())
	if order.LowerLimitPrice.Valid {
		lower.Set(entry)
	}
	if order.UpperLimitPrice.Valid {
		upper.Set(entry)
	}
	b.index.Set(order.ID, entry)
}

// RemoveOrder removes a stop order and reports whether it was present.
func (b *StopOrderBook) RemoveOrder(order *model.Order) bool {
	return b.RemoveOrderByID(order.ID)
}

// RemoveOrderByID removes a stop order by id.
func (b *StopOrderBook) RemoveOrderByID(id string) bool {
	entry, ok := b.index.Delete(id)
	if !ok {
		return false
	}
	b.remove(entry)
	return true
}

func (b *StopOrderBook) remove(entry bookEntry) {
	lower, upper := b.trees(entry.order.IsBuySide())
	if entry.order.LowerLimitPrice.Valid {
		lower.Delete(entry)
	}
	if entry.order.UpperLimitPrice.Valid {
		upper.Delete(entry)
	}
}

// Order returns the stop order with id.
func (b *StopOrderBook) Order(id string) (*model.Order, bool) {
	entry, ok := b.index.Get(id)
	if !ok {
		return nil, false
	}
	return entry.order, true
}

// Orders returns every stop order in insertion order.
func (b *StopOrderBook) Orders() []*model.Order {
	entries := make([]bookEntry, 0, b.index.Len())
	b.index.Scan(func(_ string, e bookEntry) bool {
		entries = append(entries, e)
		return true
	})
	sortEntries(entries)
	out := make([]*model.Order, len(entries))
	for i, e := range entries {
		out[i] = e.order
	}
	return out
}

// ClientOrders returns the client's stop orders.
func (b *StopOrderBook) ClientOrders(clientID string) []*model.Order {
	var out []*model.Order
	for _, o := range b.Orders() {
		if o.ClientID == clientID {
			out = append(out, o)
		}
	}
	return out
}

// Copy returns an independent snapshot of the stop book.
func (b *StopOrderBook) Copy() *StopOrderBook {
	return &StopOrderBook{
		assetPairID: b.assetPairID,
		buyLower:    b.buyLower.Copy(),
		buyUpper:    b.buyUpper.Copy(),
		sellLower:   b.sellLower.Copy(),
		sellUpper:   b.sellUpper.Copy(),
		index:       b.index.Copy(),
		seq:         b.seq,
	}
}

// Len returns the number of stop orders.
func (b *StopOrderBook) Len() int { return b.index.Len() }

// Triggered returns the first stop order whose trigger condition holds for
// the given best prices, together with the limit price its child order must
// use. Sell stops are checked against the bid before buy stops are checked
// against the ask; within a side the lower limit is checked first. A zero
// price means the side is empty and triggers nothing.
func (b *StopOrderBook) Triggered(bid, ask decimal.Decimal) (*model.Order, decimal.Decimal, bool) {
	if bid.IsPositive() {
		if o, p, ok := triggered(b.sellLower, b.sellUpper, bid); ok {
			return o, p, true
		}
	}
	if ask.IsPositive() {
		if o, p, ok := triggered(b.buyLower, b.buyUpper, ask); ok {
			return o, p, true
		}
	}
	return nil, decimal.Zero, false
}

func triggered(lower, upper *btree.BTreeG[bookEntry], price decimal.Decimal) (*model.Order, decimal.Decimal, bool) {
	if e, ok := lower.Min(); ok && price.LessThanOrEqual(e.order.LowerLimitPrice.Decimal) {
		return e.order, e.order.LowerPrice.Decimal, true
	}
	if e, ok := upper.Min(); ok && price.GreaterThanOrEqual(e.order.UpperLimitPrice.Decimal) {
		return e.order, e.order.UpperPrice.Decimal, true
	}
	return nil, decimal.Zero, false
}

// CheckTrigger reports whether order would trigger immediately at the given
// best prices, and at which price.
func CheckTrigger(order *model.Order, bid, ask decimal.Decimal) (decimal.Decimal, bool) {
	price := ask
	if !order.IsBuySide() {
		price = bid
	}
	if !price.IsPositive() {
		return decimal.Zero, false
	}
	if order.LowerLimitPrice.Valid && price.LessThanOrEqual(order.LowerLimitPrice.Decimal) {
		return order.LowerPrice.Decimal, true
	}
	if order.UpperLimitPrice.Valid && price.GreaterThanOrEqual(order.UpperLimitPrice.Decimal) {
		return order.UpperPrice.Decimal, true
	}
	return decimal.Zero, false
}
