package refdata

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

type fileAsset struct {
	ID       string `yaml:"id"`
	Accuracy int    `yaml:"accuracy"`
	Disabled bool   `yaml:"disabled"`
}

type fileAssetPair struct {
	ID                                 string `yaml:"id"`
	BaseAssetID                        string `yaml:"base_asset_id"`
	QuotingAssetID                     string `yaml:"quoting_asset_id"`
	Accuracy                           int    `yaml:"accuracy"`
	MinVolume                          string `yaml:"min_volume"`
	MinInvertedVolume                  string `yaml:"min_inverted_volume"`
	MaxVolume                          string `yaml:"max_volume"`
	MaxValue                           string `yaml:"max_value"`
	MidPriceDeviationThreshold         string `yaml:"mid_price_deviation_threshold"`
	MarketOrderPriceDeviationThreshold string `yaml:"market_order_price_deviation_threshold"`
}

type fileData struct {
	Assets     []fileAsset     `yaml:"assets"`
	AssetPairs []fileAssetPair `yaml:"asset_pairs"`
}

// FileLoader reads reference data from a YAML file on every load.
type FileLoader struct {
	Path string
}

// Load parses the file.
func (l *FileLoader) Load(context.Context) (*Data, error) {
	raw, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.Path, err)
	}
	return ParseYAML(raw)
}

// ParseYAML decodes reference data from YAML.
func ParseYAML(raw []byte) (*Data, error) {
	var f fileData
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode reference data: %w", err)
	}
	data := &Data{}
	for _, a := range f.Assets {
		data.Assets = append(data.Assets, model.Asset{ID: a.ID, Accuracy: a.Accuracy, Disabled: a.Disabled})
	}
	for _, p := range f.AssetPairs {
		pair := model.AssetPair{
			ID:             p.ID,
			BaseAssetID:    p.BaseAssetID,
			QuotingAssetID: p.QuotingAssetID,
			Accuracy:       p.Accuracy,
		}
		fields := []struct {
			raw string
			dst *decimal.NullDecimal
		}{
			{p.MinVolume, &pair.MinVolume},
			{p.MinInvertedVolume, &pair.MinInvertedVolume},
			{p.MaxVolume, &pair.MaxVolume},
			{p.MaxValue, &pair.MaxValue},
			{p.MidPriceDeviationThreshold, &pair.MidPriceDeviationThreshold},
			{p.MarketOrderPriceDeviationThreshold, &pair.MarketOrderPriceDeviationThreshold},
		}
		for _, f := range fields {
			if f.raw == "" {
				continue
			}
			v, err := decimal.NewFromString(f.raw)
			if err != nil {
				return nil, fmt.Errorf("asset pair %s: %w", p.ID, err)
			}
			*f.dst = decimal.NullDecimal{Decimal: v, Valid: true}
		}
		data.AssetPairs = append(data.AssetPairs, pair)
	}
	return data, nil
}
