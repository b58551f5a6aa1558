package validation

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/pincex_matching/internal/trading/fee"
	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/Aidin1998/pincex_matching/internal/trading/numeric"
)

// RefData resolves the reference data the rules need.
type RefData interface {
	Asset(id string) (*model.Asset, bool)
	AssetPair(id string) (*model.AssetPair, bool)
}

// Instrument is the resolved reference data of an order.
type Instrument struct {
	Pair    *model.AssetPair
	Base    *model.Asset
	Quoting *model.Asset
}

// ResolveInstrument looks up the pair of order and both of its assets.
func ResolveInstrument(refdata RefData, assetPairID string) (*Instrument, error) {
	pair, ok := refdata.AssetPair(assetPairID)
	if !ok {
		return nil, reject(model.StatusUnknownAsset, "unknown asset pair %s", assetPairID)
	}
	base, ok := refdata.Asset(pair.BaseAssetID)
	if !ok {
		return nil, reject(model.StatusUnknownAsset, "unknown asset %s", pair.BaseAssetID)
	}
	quoting, ok := refdata.Asset(pair.QuotingAssetID)
	if !ok {
		return nil, reject(model.StatusUnknownAsset, "unknown asset %s", pair.QuotingAssetID)
	}
	if base.Disabled {
		return nil, reject(model.StatusDisabledAsset, "asset %s is disabled", base.ID)
	}
	if quoting.Disabled {
		return nil, reject(model.StatusDisabledAsset, "asset %s is disabled", quoting.ID)
	}
	return &Instrument{Pair: pair, Base: base, Quoting: quoting}, nil
}

// StatusOf extracts the rejection status from err. ok is false for errors
// that are not validation failures.
func StatusOf(err error) (model.OrderStatus, bool) {
	var ve *OrderValidationError
	if errors.As(err, &ve) {
		return ve.Status, true
	}
	return "", false
}

// ValidateLimitOrder checks a limit order against its instrument at now.
func ValidateLimitOrder(order *model.Order, in *Instrument, now time.Time) error {
	if err := validateFees(order); err != nil {
		return err
	}
	if err := validatePrice(order.Price, in.Pair); err != nil {
		return err
	}
	if err := validateBaseVolume(order.Volume, in); err != nil {
		return err
	}
	if err := validateValue(order.AbsVolume(), order.Price, in.Pair); err != nil {
		return err
	}
	return validateTimeInForce(order, now)
}

// ValidateStopLimitOrder checks a stop-limit order. At least one complete
// limit/price pair is required and the lower limit must sit below the upper.
func ValidateStopLimitOrder(order *model.Order, in *Instrument, now time.Time) error {
	if err := validateFees(order); err != nil {
		return err
	}
	lower := order.LowerLimitPrice.Valid || order.LowerPrice.Valid
	upper := order.UpperLimitPrice.Valid || order.UpperPrice.Valid
	if !lower && !upper {
		return reject(model.StatusInvalidPrice, "stop order needs a lower or an upper limit")
	}
	if lower {
		if order.LowerLimitPrice.Valid != order.LowerPrice.Valid {
			return reject(model.StatusInvalidPrice, "lower limit and lower price go together")
		}
		if err := validatePrice(order.LowerLimitPrice.Decimal, in.Pair); err != nil {
			return err
		}
		if err := validatePrice(order.LowerPrice.Decimal, in.Pair); err != nil {
			return err
		}
	}
	if upper {
		if order.UpperLimitPrice.Valid != order.UpperPrice.Valid {
			return reject(model.StatusInvalidPrice, "upper limit and upper price go together")
		}
		if err := validatePrice(order.UpperLimitPrice.Decimal, in.Pair); err != nil {
			return err
		}
		if err := validatePrice(order.UpperPrice.Decimal, in.Pair); err != nil {
			return err
		}
	}
	if lower && upper && order.LowerLimitPrice.Decimal.GreaterThanOrEqual(order.UpperLimitPrice.Decimal) {
		return reject(model.StatusInvalidPrice, "lower limit %s must be below upper limit %s",
			order.LowerLimitPrice.Decimal, order.UpperLimitPrice.Decimal)
	}
	if err := validateBaseVolume(order.Volume, in); err != nil {
		return err
	}
	for _, p := range []decimal.NullDecimal{order.LowerPrice, order.UpperPrice} {
		if !p.Valid {
			continue
		}
		if err := validateValue(order.AbsVolume(), p.Decimal, in.Pair); err != nil {
			return err
		}
	}
	return validateTimeInForce(order, now)
}

// ValidateMarketOrder checks a market order. A non-straight order carries
// its volume in the quoting asset.
func ValidateMarketOrder(order *model.Order, in *Instrument) error {
	if err := validateFees(order); err != nil {
		return err
	}
	if order.Volume.IsZero() {
		return reject(model.StatusInvalidVolume, "volume must not be zero")
	}
	abs := order.AbsVolume()
	if order.Straight {
		if !numeric.CheckAccuracy(abs, in.Base.Accuracy) {
			return reject(model.StatusInvalidVolumeAccuracy, "volume %s exceeds accuracy %d", abs, in.Base.Accuracy)
		}
		if in.Pair.MinVolume.Valid && abs.LessThan(in.Pair.MinVolume.Decimal) {
			return reject(model.StatusTooSmallVolume, "volume %s below minimum %s", abs, in.Pair.MinVolume.Decimal)
		}
		if in.Pair.MaxVolume.Valid && abs.GreaterThan(in.Pair.MaxVolume.Decimal) {
			return reject(model.StatusTooLargeVolume, "volume %s above maximum %s", abs, in.Pair.MaxVolume.Decimal)
		}
		return nil
	}
	if !numeric.CheckAccuracy(abs, in.Quoting.Accuracy) {
		return reject(model.StatusInvalidVolumeAccuracy, "volume %s exceeds accuracy %d", abs, in.Quoting.Accuracy)
	}
	if in.Pair.MinInvertedVolume.Valid && abs.LessThan(in.Pair.MinInvertedVolume.Decimal) {
		return reject(model.StatusTooSmallVolume, "volume %s below minimum %s", abs, in.Pair.MinInvertedVolume.Decimal)
	}
	if in.Pair.MaxValue.Valid && abs.GreaterThan(in.Pair.MaxValue.Decimal) {
		return reject(model.StatusInvalidValue, "value %s above maximum %s", abs, in.Pair.MaxValue.Decimal)
	}
	return nil
}

func validateFees(order *model.Order) error {
	if !fee.ValidInstructions(order.Fees) {
		return reject(model.StatusInvalidFee, "invalid fee instructions")
	}
	return nil
}

func validatePrice(price decimal.Decimal, pair *model.AssetPair) error {
	if !price.IsPositive() {
		return reject(model.StatusInvalidPrice, "price %s must be positive", price)
	}
	if !numeric.CheckAccuracy(price, pair.Accuracy) {
		return reject(model.StatusInvalidPriceAccuracy, "price %s exceeds accuracy %d", price, pair.Accuracy)
	}
	return nil
}

func validateBaseVolume(volume decimal.Decimal, in *Instrument) error {
	if volume.IsZero() {
		return reject(model.StatusInvalidVolume, "volume must not be zero")
	}
	abs := volume.Abs()
	if !numeric.CheckAccuracy(abs, in.Base.Accuracy) {
		return reject(model.StatusInvalidVolumeAccuracy, "volume %s exceeds accuracy %d", abs, in.Base.Accuracy)
	}
	if in.Pair.MinVolume.Valid && abs.LessThan(in.Pair.MinVolume.Decimal) {
		return reject(model.StatusTooSmallVolume, "volume %s below minimum %s", abs, in.Pair.MinVolume.Decimal)
	}
	if in.Pair.MaxVolume.Valid && abs.GreaterThan(in.Pair.MaxVolume.Decimal) {
		return reject(model.StatusTooLargeVolume, "volume %s above maximum %s", abs, in.Pair.MaxVolume.Decimal)
	}
	return nil
}

func validateValue(absVolume, price decimal.Decimal, pair *model.AssetPair) error {
	if !pair.MaxValue.Valid {
		return nil
	}
	if value := absVolume.Mul(price); value.GreaterThan(pair.MaxValue.Decimal) {
		return reject(model.StatusInvalidValue, "value %s above maximum %s", value, pair.MaxValue.Decimal)
	}
	return nil
}

func validateTimeInForce(order *model.Order, now time.Time) error {
	switch order.TimeInForce {
	case "", model.TimeInForceGTC, model.TimeInForceIOC, model.TimeInForceFOK:
		if order.ExpiryTime != nil {
			return reject(model.StatusInvalidTimeInForce, "expiry time requires GTD")
		}
		if order.Type == model.OrderTypeStopLimit &&
			(order.TimeInForce == model.TimeInForceIOC || order.TimeInForce == model.TimeInForceFOK) {
			return reject(model.StatusInvalidTimeInForce, "stop orders cannot be %s", order.TimeInForce)
		}
		return nil
	case model.TimeInForceGTD:
		if order.ExpiryTime == nil {
			return reject(model.StatusInvalidTimeInForce, "GTD requires an expiry time")
		}
		if order.IsExpired(now) {
			return reject(model.StatusExpired, "expiry time %s already passed", order.ExpiryTime.Format(time.RFC3339))
		}
		return nil
	default:
		return reject(model.StatusInvalidTimeInForce, "unknown time in force %q", order.TimeInForce)
	}
}
