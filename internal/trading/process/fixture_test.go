package process

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/balance"
	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
	"github.com/Aidin1998/pincex_matching/internal/trading/fee"
	"github.com/Aidin1998/pincex_matching/internal/trading/matching"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/orderbook"
	"github.com/Aidin1998/pincex_matching/internal/trading/refdata"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

type fixture struct {
	t         *testing.T
	factory   *execution.ContextFactory
	limit     *LimitOrderProcessor
	market    *MarketOrderProcessor
	stop      *StopLimitOrderProcessor
	generic   *GenericLimitOrdersProcessor
	previous  *PreviousOrdersProcessor
	canceller *LimitOrdersCanceller
	now       time.Time
}

func newFixture(t *testing.T, balances ...model.AssetBalance) *fixture {
	t.Helper()
	logger := zap.NewNop()
	cache := refdata.NewCache(logger, &refdata.StaticLoader{Data: refdata.Data{
		Assets: []model.Asset{
			{ID: "EUR", Accuracy: 2},
			{ID: "USD", Accuracy: 2},
			{ID: "GBP", Accuracy: 2},
			{ID: "BTC", Accuracy: 4},
		},
		AssetPairs: []model.AssetPair{
			{ID: "EURUSD", BaseAssetID: "EUR", QuotingAssetID: "USD", Accuracy: 5},
			{ID: "GBPUSD", BaseAssetID: "GBP", QuotingAssetID: "USD", Accuracy: 5,
				MidPriceDeviationThreshold: nd("0.1")},
			{ID: "BTCUSD", BaseAssetID: "BTC", QuotingAssetID: "USD", Accuracy: 2,
				MinVolume: nd("0.01")},
		},
	}}, 0)
	require.NoError(t, cache.Refresh(context.Background()))

	holder := balance.NewBalancesHolder(logger, []string{"trusted"})
	holder.Load(balances)
	factory := execution.NewContextFactory(logger, cache, holder,
		orderbook.NewOrderBooksHolder(), orderbook.NewStopOrderBooksHolder(), orderbook.NewExpiryOrdersQueue())

	engine := matching.NewEngine(logger, fee.NewCalculator(fee.Config{}))
	limit := NewLimitOrderProcessor(logger, engine)
	market := NewMarketOrderProcessor(logger, engine)
	stop := NewStopLimitOrderProcessor(logger, limit)
	generic := NewGenericLimitOrdersProcessor(limit, stop, market)
	canceller := NewLimitOrdersCanceller(logger)
	return &fixture{
		t:         t,
		factory:   factory,
		limit:     limit,
		market:    market,
		stop:      stop,
		generic:   generic,
		previous:  NewPreviousOrdersProcessor(logger, canceller, generic),
		canceller: canceller,
		now:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func bal(client, asset, amount string) model.AssetBalance {
	return model.AssetBalance{ClientID: client, AssetID: asset, Balance: d(amount)}
}

func (f *fixture) tick() time.Time {
	f.now = f.now.Add(time.Millisecond)
	return f.now
}

func (f *fixture) ctx() *execution.Context {
	return f.factory.New(uuid.NewString(), "", "TEST", f.tick())
}

func (f *fixture) order(t model.OrderType, client, pair, price, volume string) *model.Order {
	now := f.tick()
	o := &model.Order{
		Type:            t,
		ID:              uuid.NewString(),
		ExternalID:      uuid.NewString(),
		AssetPairID:     pair,
		ClientID:        client,
		Volume:          d(volume),
		RemainingVolume: d(volume),
		Status:          model.StatusPending,
		CreatedAt:       now,
		RegisteredAt:    now,
	}
	if price != "" {
		o.Price = d(price)
	}
	return o
}

func (f *fixture) limitOrder(client, price, volume string) *model.Order {
	return f.order(model.OrderTypeLimit, client, "EURUSD", price, volume)
}

// place processes a limit order in its own context and commits it.
func (f *fixture) place(o *model.Order) *OrderResult {
	ec := f.ctx()
	r := f.limit.Process(ec, o, decimal.Zero)
	ec.Apply()
	return r
}

func (f *fixture) balance(client, asset string) model.AssetBalance {
	return f.factory.Balances().Balance(client, asset)
}

func (f *fixture) book(pair string) *orderbook.AssetOrderBook {
	return f.factory.OrderBooks().Book(pair)
}

func (f *fixture) requireBalance(client, asset, balance, reserved string) {
	f.t.Helper()
	b := f.balance(client, asset)
	require.True(f.t, b.Balance.Equal(d(balance)), "%s %s balance: want %s, got %s", client, asset, balance, b.Balance)
	require.True(f.t, b.Reserved.Equal(d(reserved)), "%s %s reserved: want %s, got %s", client, asset, reserved, b.Reserved)
}
