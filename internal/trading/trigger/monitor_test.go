package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/balance"
	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/internal/trading/fee"
	"github.com/Aidin1998/pincex_matching/internal/trading/matching"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
	"github.com/Aidin1998/pincex_matching/internal/trading/process"
	"github.com/Aidin1998/pincex_matching/internal/trading/refdata"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type env struct {
	factory  *execution.ContextFactory
	limit    *process.LimitOrderProcessor
	stop     *process.StopLimitOrderProcessor
	triggers *StopOrderBookProcessor
	now      time.Time
}

func newEnv(t *testing.T, balances ...model.AssetBalance) *env {
	t.Helper()
	logger := zap.NewNop()
	cache := refdata.NewCache(logger, &refdata.StaticLoader{Data: refdata.Data{
		Assets: []model.Asset{{ID: "EUR", Accuracy: 2}, {ID: "USD", Accuracy: 2}},
		AssetPairs: []model.AssetPair{
			{ID: "EURUSD", BaseAssetID: "EUR", QuotingAssetID: "USD", Accuracy: 5},
		},
	}}, 0)
	require.NoError(t, cache.Refresh(context.Background()))
	holder := balance.NewBalancesHolder(logger, nil)
	holder.Load(balances)

	limit := process.NewLimitOrderProcessor(logger, matching.NewEngine(logger, fee.NewCalculator(fee.Config{})))
	return &env{
		factory: execution.NewContextFactory(logger, cache, holder,
			orderbook.NewOrderBooksHolder(), orderbook.NewStopOrderBooksHolder(), orderbook.NewExpiryOrdersQueue()),
		limit:    limit,
		stop:     process.NewStopLimitOrderProcessor(logger, limit),
		triggers: NewStopOrderBookProcessor(logger, limit, 0),
		now:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func bal(client, asset, amount string) model.AssetBalance {
	return model.AssetBalance{ClientID: client, AssetID: asset, Balance: d(amount)}
}

func (e *env) ctx() *execution.Context {
	e.now = e.now.Add(time.Millisecond)
	return e.factory.New(uuid.NewString(), "", "TEST", e.now)
}

func (e *env) order(typ model.OrderType, client, price, volume string) *model.Order {
	e.now = e.now.Add(time.Millisecond)
	o := &model.Order{
		Type:            typ,
		ID:              uuid.NewString(),
		ExternalID:      uuid.NewString(),
		AssetPairID:     "EURUSD",
		ClientID:        client,
		Volume:          d(volume),
		RemainingVolume: d(volume),
		Status:          model.StatusPending,
		CreatedAt:       e.now,
		RegisteredAt:    e.now,
	}
	if price != "" {
		o.Price = d(price)
	}
	return o
}

func (e *env) placeLimit(t *testing.T, client, price, volume string) {
	t.Helper()
	ec := e.ctx()
	require.True(t, e.limit.Process(ec, e.order(model.OrderTypeLimit, client, price, volume), decimal.Zero).Accepted())
	ec.Apply()
}

func (e *env) placeStop(t *testing.T, client, upperLimit, upperPrice, volume string) *model.Order {
	t.Helper()
	o := e.order(model.OrderTypeStopLimit, client, "", volume)
	o.UpperLimitPrice = decimal.NewNullDecimal(d(upperLimit))
	o.UpperPrice = decimal.NewNullDecimal(d(upperPrice))
	ec := e.ctx()
	require.Equal(t, model.StatusPending, e.stop.Process(ec, o).Order.Status)
	ec.Apply()
	return o
}

func (e *env) requireBalance(t *testing.T, client, asset, amount, reserved string) {
	t.Helper()
	b := e.factory.Balances().Balance(client, asset)
	require.True(t, b.Balance.Equal(d(amount)), "%s %s balance %s", client, asset, b.Balance)
	require.True(t, b.Reserved.Equal(d(reserved)), "%s %s reserved %s", client, asset, b.Reserved)
}

// A buy stop waits while the ask is below its limit and executes once a
// trade exposes a higher ask.
func TestProcessTriggered_ExecutesAfterAskMoves(t *testing.T) {
	e := newEnv(t,
		bal("s1", "EUR", "5"), bal("s2", "EUR", "10"),
		bal("b", "USD", "100"), bal("c", "USD", "100"))
	e.placeLimit(t, "s1", "1.2", "-5")
	e.placeLimit(t, "s2", "1.26", "-10")

	stop := e.placeStop(t, "c", "1.25", "1.3", "10")
	e.requireBalance(t, "c", "USD", "100", "13")

	ec := e.ctx()
	require.Empty(t, e.triggers.ProcessTriggered(ec, []string{"EURUSD"}))

	taker := e.order(model.OrderTypeLimit, "b", "1.2", "5")
	require.Equal(t, model.StatusMatched, e.limit.Process(ec, taker, decimal.Zero).Order.Status)
	executed := e.triggers.ProcessTriggered(ec, ec.OrderBooks().ChangedPairs())
	ec.Apply()

	require.Len(t, executed, 1)
	assert.Equal(t, stop.ID, executed[0].ID)
	assert.Equal(t, model.StatusExecuted, executed[0].Status)
	assert.NotEmpty(t, executed[0].ChildOrderExternalID)

	e.requireBalance(t, "c", "USD", "87.4", "0")
	e.requireBalance(t, "c", "EUR", "10", "0")
	e.requireBalance(t, "s2", "USD", "12.6", "0")
	assert.Equal(t, 0, e.factory.StopOrderBooks().Book("EURUSD").Len())
	assert.Equal(t, 0, e.factory.OrderBooks().Book("EURUSD").Len())

	var child *model.Order
	for _, r := range ec.ClientOrders() {
		if r.Order.ParentOrderExternalID == stop.ExternalID {
			child = r.Order
		}
	}
	require.NotNil(t, child)
	assert.Equal(t, model.StatusMatched, child.Status)
	assert.True(t, child.Price.Equal(d("1.3")))
	assert.EqualValues(t, 1, e.triggers.Stats()["triggers_processed"])
}

// A child that cannot be placed still consumes the stop and releases its
// reservation.
func TestProcessTriggered_ChildRejectedReleasesReservation(t *testing.T) {
	e := newEnv(t, bal("s1", "EUR", "5"), bal("b", "USD", "100"), bal("c", "USD", "20"), bal("c", "EUR", "10"))
	e.placeLimit(t, "s1", "1.2", "-5")
	e.placeStop(t, "c", "1.25", "1.3", "10")
	// the child would buy at 1.3 from c's own resting sell
	e.placeLimit(t, "c", "1.3", "-10")
	e.requireBalance(t, "c", "USD", "20", "13")

	ec := e.ctx()
	require.True(t, e.limit.Process(ec, e.order(model.OrderTypeLimit, "b", "1.2", "5"), decimal.Zero).Accepted())
	executed := e.triggers.ProcessTriggered(ec, ec.OrderBooks().ChangedPairs())
	ec.Apply()

	require.Len(t, executed, 1)
	assert.Equal(t, model.StatusLeadToNegativeSpread, executed[0].Status)
	e.requireBalance(t, "c", "USD", "20", "0")
	e.requireBalance(t, "c", "EUR", "10", "10")
	assert.Equal(t, 0, e.factory.StopOrderBooks().Book("EURUSD").Len())
	assert.EqualValues(t, 1, e.triggers.Stats()["child_rejections"])
}

func TestProcessTriggered_Cascade(t *testing.T) {
	e := newEnv(t,
		bal("s1", "EUR", "5"), bal("s2", "EUR", "10"), bal("s3", "EUR", "10"),
		bal("b", "USD", "100"), bal("c1", "USD", "100"), bal("c2", "USD", "100"))
	e.placeLimit(t, "s1", "1.2", "-5")
	e.placeLimit(t, "s2", "1.25", "-10")
	e.placeLimit(t, "s3", "1.4", "-10")
	e.placeStop(t, "c1", "1.21", "1.25", "10")
	e.placeStop(t, "c2", "1.3", "1.45", "10")

	ec := e.ctx()
	require.Equal(t, model.StatusMatched,
		e.limit.Process(ec, e.order(model.OrderTypeLimit, "b", "1.2", "5"), decimal.Zero).Order.Status)
	executed := e.triggers.ProcessTriggered(ec, ec.OrderBooks().ChangedPairs())
	ec.Apply()

	// c1's child clears the 1.25 level, exposing 1.4 which triggers c2
	require.Len(t, executed, 2)
	assert.Equal(t, "c1", executed[0].ClientID)
	assert.Equal(t, "c2", executed[1].ClientID)
	e.requireBalance(t, "c1", "EUR", "10", "0")
	e.requireBalance(t, "c1", "USD", "87.5", "0")
	e.requireBalance(t, "c2", "EUR", "10", "0")
	e.requireBalance(t, "c2", "USD", "86", "0")
	assert.Equal(t, 0, e.factory.OrderBooks().Book("EURUSD").Len())
}
