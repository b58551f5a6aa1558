package model

import "github.com/shopspring/decimal"

// Asset is immutable reference data.
type Asset struct {
	ID       string `json:"id"`
	Accuracy int    `json:"accuracy"`
	Disabled bool   `json:"disabled"`
}

// AssetPair is immutable reference data. Accuracy governs price rounding,
// MinVolume governs dust cancellation.
type AssetPair struct {
	ID                                 string              `json:"id"`
	BaseAssetID                        string              `json:"base_asset_id"`
	QuotingAssetID                     string              `json:"quoting_asset_id"`
	Accuracy                           int                 `json:"accuracy"`
	MinVolume                          decimal.NullDecimal `json:"min_volume"`
	MinInvertedVolume                  decimal.NullDecimal `json:"min_inverted_volume"`
	MaxVolume                          decimal.NullDecimal `json:"max_volume"`
	MaxValue                           decimal.NullDecimal `json:"max_value"`
	MidPriceDeviationThreshold         decimal.NullDecimal `json:"mid_price_deviation_threshold"`
	MarketOrderPriceDeviationThreshold decimal.NullDecimal `json:"market_order_price_deviation_threshold"`
}

// IsDust reports whether an absolute base volume is below the pair minimum.
func (p *AssetPair) IsDust(absVolume decimal.Decimal) bool {
	return p.MinVolume.Valid && absVolume.LessThan(p.MinVolume.Decimal)
}
