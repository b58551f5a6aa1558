package validation

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

type refs struct {
	assets map[string]*model.Asset
	pairs  map[string]*model.AssetPair
}

func (r refs) Asset(id string) (*model.Asset, bool) {
	a, ok := r.assets[id]
	return a, ok
}

func (r refs) AssetPair(id string) (*model.AssetPair, bool) {
	p, ok := r.pairs[id]
	return p, ok
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

func testRefs() refs {
	return refs{
		assets: map[string]*model.Asset{
			"EUR": {ID: "EUR", Accuracy: 2},
			"USD": {ID: "USD", Accuracy: 2},
			"BTC": {ID: "BTC", Accuracy: 8, Disabled: true},
		},
		pairs: map[string]*model.AssetPair{
			"EURUSD": {ID: "EURUSD", BaseAssetID: "EUR", QuotingAssetID: "USD", Accuracy: 5,
				MinVolume: nd("0.1"), MaxVolume: nd("1000"), MaxValue: nd("2000"), MinInvertedVolume: nd("1")},
			"BTCUSD": {ID: "BTCUSD", BaseAssetID: "BTC", QuotingAssetID: "USD", Accuracy: 2},
			"XXXUSD": {ID: "XXXUSD", BaseAssetID: "XXX", QuotingAssetID: "USD", Accuracy: 2},
		},
	}
}

func instrument(t *testing.T) *Instrument {
	t.Helper()
	in, err := ResolveInstrument(testRefs(), "EURUSD")
	require.NoError(t, err)
	return in
}

func statusOf(t *testing.T, err error) model.OrderStatus {
	t.Helper()
	require.Error(t, err)
	s, ok := StatusOf(err)
	require.True(t, ok, "expected a validation error, got %v", err)
	return s
}

func TestResolveInstrument(t *testing.T) {
	_, err := ResolveInstrument(testRefs(), "NOPE")
	assert.Equal(t, model.StatusUnknownAsset, statusOf(t, err))

	_, err = ResolveInstrument(testRefs(), "XXXUSD")
	assert.Equal(t, model.StatusUnknownAsset, statusOf(t, err))

	_, err = ResolveInstrument(testRefs(), "BTCUSD")
	assert.Equal(t, model.StatusDisabledAsset, statusOf(t, err))

	var ve *OrderValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestValidateLimitOrder(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	in := instrument(t)

	base := func() *model.Order {
		return &model.Order{Type: model.OrderTypeLimit, AssetPairID: "EURUSD", ClientID: "c",
			Price: d("1.2"), Volume: d("10"), RemainingVolume: d("10")}
	}

	tests := []struct {
		name   string
		mutate func(o *model.Order)
		status model.OrderStatus
	}{
		{"valid", func(*model.Order) {}, ""},
		{"zero price", func(o *model.Order) { o.Price = decimal.Zero }, model.StatusInvalidPrice},
		{"negative price", func(o *model.Order) { o.Price = d("-1") }, model.StatusInvalidPrice},
		{"price accuracy", func(o *model.Order) { o.Price = d("1.123456") }, model.StatusInvalidPriceAccuracy},
		{"zero volume", func(o *model.Order) { o.Volume = decimal.Zero }, model.StatusInvalidVolume},
		{"volume accuracy", func(o *model.Order) { o.Volume = d("1.001") }, model.StatusInvalidVolumeAccuracy},
		{"too small", func(o *model.Order) { o.Volume = d("-0.05") }, model.StatusTooSmallVolume},
		{"too large", func(o *model.Order) { o.Volume = d("1001") }, model.StatusTooLargeVolume},
		{"too valuable", func(o *model.Order) { o.Volume = d("900"); o.Price = d("3") }, model.StatusInvalidValue},
		{"bad fee", func(o *model.Order) {
			o.Fees = []model.FeeInstruction{{Type: model.FeeTypeClient, Size: nd("0.1")}}
		}, model.StatusInvalidFee},
		{"gtd without expiry", func(o *model.Order) { o.TimeInForce = model.TimeInForceGTD }, model.StatusInvalidTimeInForce},
		{"expiry without gtd", func(o *model.Order) { o.ExpiryTime = &future }, model.StatusInvalidTimeInForce},
		{"expired", func(o *model.Order) { o.TimeInForce = model.TimeInForceGTD; o.ExpiryTime = &past }, model.StatusExpired},
		{"gtd", func(o *model.Order) { o.TimeInForce = model.TimeInForceGTD; o.ExpiryTime = &future }, ""},
		{"unknown tif", func(o *model.Order) { o.TimeInForce = "DAY" }, model.StatusInvalidTimeInForce},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base()
			tt.mutate(o)
			err := ValidateLimitOrder(o, in, now)
			if tt.status == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.status, statusOf(t, err))
		})
	}
}

func TestValidateStopLimitOrder(t *testing.T) {
	in := instrument(t)
	now := time.Now()

	o := &model.Order{Type: model.OrderTypeStopLimit, Volume: d("1"),
		UpperLimitPrice: nd("1.3"), UpperPrice: nd("1.31")}
	assert.NoError(t, ValidateStopLimitOrder(o, in, now))

	o.LowerLimitPrice = nd("1.4")
	o.LowerPrice = nd("1.39")
	assert.Equal(t, model.StatusInvalidPrice, statusOf(t, ValidateStopLimitOrder(o, in, now)))

	missing := &model.Order{Type: model.OrderTypeStopLimit, Volume: d("1"), LowerLimitPrice: nd("1.1")}
	assert.Equal(t, model.StatusInvalidPrice, statusOf(t, ValidateStopLimitOrder(missing, in, now)))

	none := &model.Order{Type: model.OrderTypeStopLimit, Volume: d("1")}
	assert.Equal(t, model.StatusInvalidPrice, statusOf(t, ValidateStopLimitOrder(none, in, now)))

	ioc := &model.Order{Type: model.OrderTypeStopLimit, Volume: d("1"), LowerLimitPrice: nd("1.1"),
		LowerPrice: nd("1.09"), TimeInForce: model.TimeInForceIOC}
	assert.Equal(t, model.StatusInvalidTimeInForce, statusOf(t, ValidateStopLimitOrder(ioc, in, now)))
}

func TestValidateMarketOrder(t *testing.T) {
	in := instrument(t)

	assert.NoError(t, ValidateMarketOrder(&model.Order{Type: model.OrderTypeMarket, Straight: true, Volume: d("5")}, in))
	assert.Equal(t, model.StatusInvalidVolume,
		statusOf(t, ValidateMarketOrder(&model.Order{Type: model.OrderTypeMarket, Straight: true}, in)))
	assert.Equal(t, model.StatusTooSmallVolume,
		statusOf(t, ValidateMarketOrder(&model.Order{Type: model.OrderTypeMarket, Straight: true, Volume: d("0.01")}, in)))
	assert.Equal(t, model.StatusTooSmallVolume,
		statusOf(t, ValidateMarketOrder(&model.Order{Type: model.OrderTypeMarket, Volume: d("-0.5")}, in)))
	assert.Equal(t, model.StatusInvalidVolumeAccuracy,
		statusOf(t, ValidateMarketOrder(&model.Order{Type: model.OrderTypeMarket, Volume: d("10.001")}, in)))
	assert.Equal(t, model.StatusInvalidValue,
		statusOf(t, ValidateMarketOrder(&model.Order{Type: model.OrderTypeMarket, Volume: d("2500")}, in)))
}

type limitRequest struct {
	ClientID    string `validate:"required"`
	Price       string `validate:"required,positive_decimal"`
	Volume      string `validate:"required,nonzero_decimal"`
	TimeInForce string `validate:"omitempty,oneof=GTC GTD IOC FOK"`
}

func TestStructural(t *testing.T) {
	s := NewStructural()

	assert.NoError(t, s.Validate(limitRequest{ClientID: "c", Price: "1.2", Volume: "-3"}))

	err := s.Validate(limitRequest{Price: "abc", Volume: "0", TimeInForce: "DAY"})
	var fe FieldErrors
	require.ErrorAs(t, err, &fe)
	tags := map[string]string{}
	for _, e := range fe {
		tags[e.Tag] = e.Field
	}
	assert.Contains(t, tags, "required")
	assert.Contains(t, tags, "positive_decimal")
	assert.Contains(t, tags, "nonzero_decimal")
	assert.Contains(t, tags, "oneof")
	assert.Contains(t, err.Error(), "ClientID is required")
}
