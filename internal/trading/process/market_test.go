package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

func TestMarket_StraightBuyWalksLevels(t *testing.T) {
	f := newFixture(t, bal("m1", "EUR", "10"), bal("m2", "EUR", "10"), bal("c", "USD", "100"))
	require.True(t, f.place(f.limitOrder("m1", "1.2", "-10")).Accepted())
	require.True(t, f.place(f.limitOrder("m2", "1.3", "-10")).Accepted())

	ec := f.ctx()
	o := f.order(model.OrderTypeMarket, "c", "EURUSD", "", "15")
	o.Straight = true
	r := f.market.Process(ec, o)
	ec.Apply()

	require.Equal(t, model.StatusMatched, r.Order.Status)
	assert.Len(t, r.Trades, 2)
	assert.True(t, r.Order.Price.Equal(d("1.23333")), r.Order.Price.String())
	f.requireBalance("c", "USD", "81.5", "0")
	f.requireBalance("c", "EUR", "15", "0")
	f.requireBalance("m2", "EUR", "5", "5")
	assert.Equal(t, 1, f.book("EURUSD").Len())
	require.Len(t, ec.MarketOrders(), 1)
}

func TestMarket_NoLiquidity(t *testing.T) {
	f := newFixture(t, bal("c", "USD", "100"))

	ec := f.ctx()
	o := f.order(model.OrderTypeMarket, "c", "EURUSD", "", "15")
	o.Straight = true
	r := f.market.Process(ec, o)
	assert.Equal(t, model.StatusNoLiquidity, r.Order.Status)
	assert.Empty(t, ec.Wallet().ChangedBalances())
	require.Len(t, ec.MarketOrders(), 1)
}

func TestMarket_NotEnoughFunds(t *testing.T) {
	f := newFixture(t, bal("m", "EUR", "10"), bal("c", "USD", "5"))
	require.True(t, f.place(f.limitOrder("m", "1.2", "-10")).Accepted())

	ec := f.ctx()
	o := f.order(model.OrderTypeMarket, "c", "EURUSD", "", "10")
	o.Straight = true
	r := f.market.Process(ec, o)
	assert.False(t, r.Accepted())
	assert.Empty(t, ec.LkkTrades())
	ec.Apply()
	f.requireBalance("c", "USD", "5", "0")
	assert.Equal(t, 1, f.book("EURUSD").Len())
}
