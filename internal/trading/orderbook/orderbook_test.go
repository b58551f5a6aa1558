package orderbook

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d(s), Valid: true}
}

func limit(id, client, price, volume string, created time.Time) *model.Order {
	return &model.Order{
		Type:            model.OrderTypeLimit,
		ID:              id,
		ExternalID:      "ext-" + id,
		AssetPairID:     "EURUSD",
		ClientID:        client,
		Price:           d(price),
		Volume:          d(volume),
		RemainingVolume: d(volume),
		Status:          model.StatusInOrderBook,
		CreatedAt:       created,
	}
}

func ids(orders []*model.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func TestAssetOrderBook_PriceTimePriority(t *testing.T) {
	book := NewAssetOrderBook("EURUSD")
	book.AddOrder(limit("b1", "c1", "1.1", "1", t0.Add(2*time.Second)))
	book.AddOrder(limit("b2", "c2", "1.2", "1", t0.Add(3*time.Second)))
	book.AddOrder(limit("b3", "c3", "1.1", "1", t0.Add(time.Second)))
	book.AddOrder(limit("a1", "c1", "1.3", "-1", t0.Add(2*time.Second)))
	book.AddOrder(limit("a2", "c2", "1.25", "-1", t0.Add(3*time.Second)))
	book.AddOrder(limit("a3", "c3", "1.3", "-1", t0.Add(time.Second)))

	assert.Equal(t, []string{"b2", "b3", "b1"}, ids(book.OrderBook(true)))
	assert.Equal(t, []string{"a2", "a3", "a1"}, ids(book.OrderBook(false)))
	assert.True(t, book.BidPrice().Equal(d("1.2")))
	assert.True(t, book.AskPrice().Equal(d("1.25")))
	assert.True(t, book.MidPrice().Equal(d("1.225")))
}

func TestAssetOrderBook_EqualTimeKeepsInsertionOrder(t *testing.T) {
	book := NewAssetOrderBook("EURUSD")
	for i := 0; i < 5; i++ {
		book.AddOrder(limit(fmt.Sprintf("o%d", i), "c", "1", "1", t0))
	}
	assert.Equal(t, []string{"o0", "o1", "o2", "o3", "o4"}, ids(book.OrderBook(true)))
}

func TestAssetOrderBook_ReplaceKeepsPosition(t *testing.T) {
	book := NewAssetOrderBook("EURUSD")
	book.AddOrder(limit("o1", "c", "1", "5", t0))
	book.AddOrder(limit("o2", "c", "1", "5", t0))

	o1, ok := book.Order("o1")
	require.True(t, ok)
	updated := o1.Copy()
	updated.RemainingVolume = d("2")
	book.AddOrder(updated)

	orders := book.OrderBook(true)
	assert.Equal(t, []string{"o1", "o2"}, ids(orders))
	assert.True(t, orders[0].RemainingVolume.Equal(d("2")))
	assert.Equal(t, 2, book.Len())
}

func TestAssetOrderBook_EmptyPrices(t *testing.T) {
	book := NewAssetOrderBook("EURUSD")
	assert.True(t, book.BidPrice().IsZero())
	assert.True(t, book.AskPrice().IsZero())
	book.AddOrder(limit("b1", "c1", "1.1", "1", t0))
	assert.True(t, book.MidPrice().IsZero())
}

func TestAssetOrderBook_RemoveOrder(t *testing.T) {
	book := NewAssetOrderBook("EURUSD")
	o := limit("b1", "c1", "1.1", "1", t0)
	book.AddOrder(o)
	assert.True(t, book.RemoveOrder(o))
	assert.False(t, book.RemoveOrder(o))
	assert.Equal(t, 0, book.Len())
	assert.Equal(t, 0, book.SideLen(true))
}

func TestAssetOrderBook_CopyIsIsolated(t *testing.T) {
	book := NewAssetOrderBook("EURUSD")
	book.AddOrder(limit("b1", "c1", "1.1", "1", t0))
	cp := book.Copy()
	cp.AddOrder(limit("b2", "c1", "1.2", "1", t0))
	cp.RemoveOrderByID("b1")

	assert.Equal(t, []string{"b1"}, ids(book.OrderBook(true)))
	assert.Equal(t, []string{"b2"}, ids(cp.OrderBook(true)))
}

func TestAssetOrderBook_NegativeSpread(t *testing.T) {
	book := NewAssetOrderBook("EURUSD")
	book.AddOrder(limit("a1", "c1", "1.3", "-1", t0))
	book.AddOrder(limit("b1", "c2", "1.1", "1", t0))

	assert.True(t, book.LeadToNegativeSpread(limit("x", "c3", "1.3", "1", t0)))
	assert.False(t, book.LeadToNegativeSpread(limit("x", "c3", "1.29", "1", t0)))
	assert.True(t, book.LeadToNegativeSpread(limit("x", "c3", "1.1", "-1", t0)))
	assert.False(t, book.LeadToNegativeSpread(limit("x", "c3", "1.2", "-1", t0)))

	assert.True(t, book.LeadToNegativeSpreadForClient(limit("x", "c1", "1.4", "1", t0)))
	assert.False(t, book.LeadToNegativeSpreadForClient(limit("x", "c3", "1.4", "1", t0)))
	assert.False(t, book.LeadToNegativeSpreadForClient(limit("x", "c1", "1.2", "1", t0)))
}

func TestAssetOrderBook_Depth(t *testing.T) {
	book := NewAssetOrderBook("EURUSD")
	book.AddOrder(limit("b1", "c1", "1.1", "1", t0))
	book.AddOrder(limit("b2", "c2", "1.1", "2", t0))
	book.AddOrder(limit("b3", "c2", "1.0", "2", t0))
	book.AddOrder(limit("a1", "c2", "1.2", "-4", t0))

	snap := book.Depth(1, t0)
	require.Len(t, snap.Bids, 1)
	assert.True(t, snap.Bids[0].Volume.Equal(d("3")))
	assert.Equal(t, 2, snap.Bids[0].Orders)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Volume.Equal(d("4")))

	full := book.Depth(0, t0)
	assert.Len(t, full.Bids, 2)
	assert.Len(t, full.Truncate(1).Bids, 1)
}

func stop(id, volume string, lowerLimit, lowerPrice, upperLimit, upperPrice string) *model.Order {
	o := &model.Order{
		Type:        model.OrderTypeStopLimit,
		ID:          id,
		AssetPairID: "EURUSD",
		ClientID:    "c1",
		Volume:      d(volume),
		Status:      model.StatusPending,
		CreatedAt:   t0,
	}
	if lowerLimit != "" {
		o.LowerLimitPrice, o.LowerPrice = nd(lowerLimit), nd(lowerPrice)
	}
	if upperLimit != "" {
		o.UpperLimitPrice, o.UpperPrice = nd(upperLimit), nd(upperPrice)
	}
	return o
}

func TestStopOrderBook_Triggered(t *testing.T) {
	book := NewStopOrderBook("EURUSD")
	book.AddOrder(stop("buyUp", "1", "", "", "1.3", "1.31"))
	book.AddOrder(stop("sellDown", "-1", "1.0", "0.99", "", ""))

	_, _, ok := book.Triggered(d("1.1"), d("1.2"))
	assert.False(t, ok)

	o, price, ok := book.Triggered(d("1.1"), d("1.3"))
	require.True(t, ok)
	assert.Equal(t, "buyUp", o.ID)
	assert.True(t, price.Equal(d("1.31")))

	o, price, ok = book.Triggered(d("0.95"), d("1.3"))
	require.True(t, ok)
	assert.Equal(t, "sellDown", o.ID, "sell stops are checked against the bid first")
	assert.True(t, price.Equal(d("0.99")))

	_, _, ok = book.Triggered(decimal.Zero, decimal.Zero)
	assert.False(t, ok)
}

func TestStopOrderBook_BothLimits(t *testing.T) {
	book := NewStopOrderBook("EURUSD")
	o := stop("both", "-1", "1.0", "0.99", "1.5", "1.49")
	book.AddOrder(o)
	assert.Equal(t, 1, book.Len())

	_, price, ok := book.Triggered(d("1.6"), decimal.Zero)
	require.True(t, ok)
	assert.True(t, price.Equal(d("1.49")))

	cp := book.Copy()
	assert.True(t, cp.RemoveOrder(o))
	assert.Equal(t, 1, book.Len())
	_, _, ok = cp.Triggered(d("1.6"), decimal.Zero)
	assert.False(t, ok)
}

func TestCheckTrigger(t *testing.T) {
	o := stop("s", "1", "", "", "1.3", "1.31")
	_, ok := CheckTrigger(o, d("1.0"), d("1.2"))
	assert.False(t, ok)
	p, ok := CheckTrigger(o, d("1.0"), d("1.35"))
	assert.True(t, ok)
	assert.True(t, p.Equal(d("1.31")))
}

func TestOrderBooksTx_CommitOnlyChanged(t *testing.T) {
	holder := NewOrderBooksHolder()
	live := NewAssetOrderBook("EURUSD")
	live.AddOrder(limit("b1", "c1", "1.1", "1", t0))
	holder.SetBook(live)

	tx := holder.Tx()
	tx.AddOrder(limit("b2", "c1", "1.2", "1", t0))
	_ = tx.Book("BTCUSD")
	assert.Equal(t, []string{"EURUSD"}, tx.ChangedPairs())
	assert.Equal(t, 1, holder.Book("EURUSD").Len(), "live book untouched before commit")

	found, ok := tx.FindOrder("b2")
	require.True(t, ok)
	assert.Equal(t, "b2", found.ID)

	tx.Commit()
	assert.Equal(t, 2, holder.Book("EURUSD").Len())
	assert.Len(t, holder.Books(), 1)
}

func TestOrderBooksTx_Discard(t *testing.T) {
	holder := NewOrderBooksHolder()
	tx := holder.Tx()
	tx.AddOrder(limit("b1", "c1", "1.1", "1", t0))
	_, ok := holder.FindOrder("b1")
	assert.False(t, ok)
}

func TestStopOrderBooksTx(t *testing.T) {
	holder := NewStopOrderBooksHolder()
	tx := holder.Tx()
	o := stop("s1", "1", "", "", "1.3", "1.31")
	tx.AddOrder(o)
	assert.Len(t, tx.ChangedBooks(), 1)
	tx.Commit()
	assert.Equal(t, 1, holder.Book("EURUSD").Len())

	tx = holder.Tx()
	tx.RemoveOrders([]*model.Order{o})
	tx.Commit()
	assert.Equal(t, 0, holder.Book("EURUSD").Len())
}

func TestExpiryOrdersQueue(t *testing.T) {
	q := NewExpiryOrdersQueue()
	exp1 := t0.Add(time.Minute)
	exp2 := t0.Add(2 * time.Minute)

	o1 := limit("o1", "c1", "1", "1", t0)
	o1.TimeInForce, o1.ExpiryTime = model.TimeInForceGTD, &exp2
	o2 := limit("o2", "c1", "1", "1", t0)
	o2.TimeInForce, o2.ExpiryTime = model.TimeInForceGTD, &exp1
	o3 := limit("o3", "c1", "1", "1", t0)

	assert.True(t, q.Add(o1))
	assert.True(t, q.Add(o2))
	assert.False(t, q.Add(o3))

	assert.Empty(t, q.Expired(t0))
	got := q.Expired(exp2)
	require.Len(t, got, 2)
	assert.Equal(t, "o2", got[0].OrderID)

	assert.True(t, q.Remove("o2"))
	assert.False(t, q.Remove("o2"))
	assert.Equal(t, 1, q.Len())
}
