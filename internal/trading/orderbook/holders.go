package orderbook

import (
	"slices"
	"sort"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

func sortEntries(entries []bookEntry) {
	slices.SortFunc(entries, func(a, b bookEntry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func unionKeys[V any](a, b map[string]V) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	return sortedKeys(seen)
}

// OrderBooksHolder owns the live limit order books. Only the business
// goroutine touches it; staged changes go through an OrderBooksTx.
type OrderBooksHolder struct {
	books map[string]*AssetOrderBook
}

// NewOrderBooksHolder creates an empty holder.
func NewOrderBooksHolder() *OrderBooksHolder {
	return &OrderBooksHolder{books: make(map[string]*AssetOrderBook)}
}

// Book returns the live book of a pair, or an empty one when none exists yet.
// The returned book must not be mutated.
func (h *OrderBooksHolder) Book(assetPairID string) *AssetOrderBook {
	if b, ok := h.books[assetPairID]; ok {
		return b
	}
	return NewAssetOrderBook(assetPairID)
}

// SetBook replaces the live book of a pair. Used when loading state.
func (h *OrderBooksHolder) SetBook(book *AssetOrderBook) {
	h.books[book.AssetPairID()] = book
}

// Books returns the live books sorted by pair id.
func (h *OrderBooksHolder) Books() []*AssetOrderBook {
	out := make([]*AssetOrderBook, 0, len(h.books))
	for _, k := range sortedKeys(h.books) {
		out = append(out, h.books[k])
	}
	return out
}

// FindOrder looks an order up by id across every book.
func (h *OrderBooksHolder) FindOrder(id string) (*model.Order, bool) {
	for _, b := range h.books {
		if o, ok := b.Order(id); ok {
			return o, true
		}
	}
	return nil, false
}

// Tx opens a staged view over the live books.
func (h *OrderBooksHolder) Tx() *OrderBooksTx {
	return &OrderBooksTx{
		holder:  h,
		staged:  make(map[string]*AssetOrderBook),
		changed: make(map[string]struct{}),
	}
}

// OrderBooksTx stages book changes for one execution context. Books read
// through the tx are private copies; Commit installs the changed ones.
type OrderBooksTx struct {
	holder  *OrderBooksHolder
	staged  map[string]*AssetOrderBook
	changed map[string]struct{}
}

// Book returns the staged copy of a pair's book.
func (tx *OrderBooksTx) Book(assetPairID string) *AssetOrderBook {
	if b, ok := tx.staged[assetPairID]; ok {
		return b
	}
	b := tx.holder.Book(assetPairID).Copy()
	tx.staged[assetPairID] = b
	return b
}

// SetBook replaces the staged book of a pair with a candidate.
func (tx *OrderBooksTx) SetBook(book *AssetOrderBook) {
	tx.staged[book.AssetPairID()] = book
	tx.changed[book.AssetPairID()] = struct{}{}
}

// AddOrder stages adding order to its book.
func (tx *OrderBooksTx) AddOrder(order *model.Order) {
	tx.Book(order.AssetPairID).AddOrder(order)
	tx.changed[order.AssetPairID] = struct{}{}
}

// RemoveOrders stages removing orders from their books.
func (tx *OrderBooksTx) RemoveOrders(orders []*model.Order) {
	for _, o := range orders {
		if tx.Book(o.AssetPairID).RemoveOrder(o) {
			tx.changed[o.AssetPairID] = struct{}{}
		}
	}
}

// FindOrder looks an order up by id in the staged view.
func (tx *OrderBooksTx) FindOrder(id string) (*model.Order, bool) {
	for _, pair := range tx.Pairs() {
		if o, ok := tx.Book(pair).Order(id); ok {
			return o, true
		}
	}
	return nil, false
}

// Pairs returns the ids of every book visible through the tx, sorted.
func (tx *OrderBooksTx) Pairs() []string {
	return unionKeys(tx.holder.books, tx.staged)
}

// ChangedPairs returns the ids of books changed by the tx, sorted.
func (tx *OrderBooksTx) ChangedPairs() []string {
	return sortedKeys(tx.changed)
}

// ChangedBooks returns the staged versions of changed books, sorted by pair.
func (tx *OrderBooksTx) ChangedBooks() []*AssetOrderBook {
	out := make([]*AssetOrderBook, 0, len(tx.changed))
	for _, k := range tx.ChangedPairs() {
		out = append(out, tx.staged[k])
	}
	return out
}

// Commit installs every changed book into the live holder.
func (tx *OrderBooksTx) Commit() {
	for k := range tx.changed {
		tx.holder.books[k] = tx.staged[k]
	}
}

// StopOrderBooksHolder owns the live stop order books.
type StopOrderBooksHolder struct {
	books map[string]*StopOrderBook
}

// NewStopOrderBooksHolder creates an empty holder.
func NewStopOrderBooksHolder() *StopOrderBooksHolder {
	return &StopOrderBooksHolder{books: make(map[string]*StopOrderBook)}
}

// Book returns the live stop book of a pair, or an empty one.
func (h *StopOrderBooksHolder) Book(assetPairID string) *StopOrderBook {
	if b, ok := h.books[assetPairID]; ok {
		return b
	}
	return NewStopOrderBook(assetPairID)
}

// SetBook replaces the live stop book of a pair.
func (h *StopOrderBooksHolder) SetBook(book *StopOrderBook) {
	h.books[book.AssetPairID()] = book
}

// Books returns the live stop books sorted by pair id.
func (h *StopOrderBooksHolder) Books() []*StopOrderBook {
	out := make([]*StopOrderBook, 0, len(h.books))
	for _, k := range sortedKeys(h.books) {
		out = append(out, h.books[k])
	}
	return out
}

// Tx opens a staged view over the live stop books.
func (h *StopOrderBooksHolder) Tx() *StopOrderBooksTx {
	return &StopOrderBooksTx{
		holder:  h,
		staged:  make(map[string]*StopOrderBook),
		changed: make(map[string]struct{}),
	}
}

// StopOrderBooksTx stages stop book changes for one execution context.
type StopOrderBooksTx struct {
	holder  *StopOrderBooksHolder
	staged  map[string]*StopOrderBook
	changed map[string]struct{}
}

// Book returns the staged copy of a pair's stop book.
func (tx *StopOrderBooksTx) Book(assetPairID string) *StopOrderBook {
	if b, ok := tx.staged[assetPairID]; ok {
		return b
	}
	b := tx.holder.Book(assetPairID).Copy()
	tx.staged[assetPairID] = b
	return b
}

// AddOrder stages adding a stop order.
func (tx *StopOrderBooksTx) AddOrder(order *model.Order) {
	tx.Book(order.AssetPairID).AddOrder(order)
	tx.changed[order.AssetPairID] = struct{}{}
}

// RemoveOrders stages removing stop orders.
func (tx *StopOrderBooksTx) RemoveOrders(orders []*model.Order) {
	for _, o := range orders {
		if tx.Book(o.AssetPairID).RemoveOrder(o) {
			tx.changed[o.AssetPairID] = struct{}{}
		}
	}
}

// FindOrder looks a stop order up by id in the staged view.
func (tx *StopOrderBooksTx) FindOrder(id string) (*model.Order, bool) {
	for _, pair := range tx.Pairs() {
		if o, ok := tx.Book(pair).Order(id); ok {
			return o, true
		}
	}
	return nil, false
}

// Pairs returns the ids of every stop book visible through the tx, sorted.
func (tx *StopOrderBooksTx) Pairs() []string {
	return unionKeys(tx.holder.books, tx.staged)
}

// ChangedPairs returns the ids of stop books changed by the tx, sorted.
func (tx *StopOrderBooksTx) ChangedPairs() []string {
	return sortedKeys(tx.changed)
}

// ChangedBooks returns the staged versions of changed stop books.
func (tx *StopOrderBooksTx) ChangedBooks() []*StopOrderBook {
	out := make([]*StopOrderBook, 0, len(tx.changed))
	for _, k := range sortedKeys(tx.changed) {
		out = append(out, tx.staged[k])
	}
	return out
}

// Commit installs every changed stop book into the live holder.
func (tx *StopOrderBooksTx) Commit() {
	for k := range tx.changed {
		tx.holder.books[k] = tx.staged[k]
	}
}
