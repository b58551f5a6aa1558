package refdata

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

// AssetRecord is the assets table row.
type AssetRecord struct {
	ID       string `gorm:"primaryKey;size:36"`
	Accuracy int    `gorm:"not null"`
	Disabled bool   `gorm:"not null;default:false"`
}

// TableName returns the table name.
func (AssetRecord) TableName() string { return "assets" }

// AssetPairRecord is the asset_pairs table row.
type AssetPairRecord struct {
	ID                                 string              `gorm:"primaryKey;size:36"`
	BaseAssetID                        string              `gorm:"not null;size:36"`
	QuotingAssetID                     string              `gorm:"not null;size:36"`
	Accuracy                           int                 `gorm:"not null"`
	MinVolume                          decimal.NullDecimal `gorm:"type:decimal(36,18)"`
	MinInvertedVolume                  decimal.NullDecimal `gorm:"type:decimal(36,18)"`
	MaxVolume                          decimal.NullDecimal `gorm:"type:decimal(36,18)"`
	MaxValue                           decimal.NullDecimal `gorm:"type:decimal(36,18)"`
	MidPriceDeviationThreshold         decimal.NullDecimal `gorm:"type:decimal(36,18)"`
	MarketOrderPriceDeviationThreshold decimal.NullDecimal `gorm:"type:decimal(36,18)"`
}

// TableName returns the table name.
func (AssetPairRecord) TableName() string { return "asset_pairs" }

// OpenDB opens a gorm connection for the named driver ("postgres" or "sqlite").
func OpenDB(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported reference data driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return db, nil
}

// DBLoader reads reference data from SQL tables.
type DBLoader struct {
	db *gorm.DB
}

// NewDBLoader creates a loader. migrate creates the tables when missing.
func NewDBLoader(db *gorm.DB, migrate bool) (*DBLoader, error) {
	if migrate {
		if err := db.AutoMigrate(&AssetRecord{}, &AssetPairRecord{}); err != nil {
			return nil, fmt.Errorf("migrate reference data tables: %w", err)
		}
	}
	return &DBLoader{db: db}, nil
}

// Load reads both tables.
func (l *DBLoader) Load(ctx context.Context) (*Data, error) {
	var assets []AssetRecord
	if err := l.db.WithContext(ctx).Order("id").Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	var pairs []AssetPairRecord
	if err := l.db.WithContext(ctx).Order("id").Find(&pairs).Error; err != nil {
		return nil, fmt.Errorf("query asset pairs: %w", err)
	}
	data := &Data{
		Assets:     make([]model.Asset, 0, len(assets)),
		AssetPairs: make([]model.AssetPair, 0, len(pairs)),
	}
	for _, a := range assets {
		data.Assets = append(data.Assets, model.Asset{ID: a.ID, Accuracy: a.Accuracy, Disabled: a.Disabled})
	}
	for _, p := range pairs {
		data.AssetPairs = append(data.AssetPairs, model.AssetPair{
			ID:                                 p.ID,
			BaseAssetID:                        p.BaseAssetID,
			QuotingAssetID:                     p.QuotingAssetID,
			Accuracy:                           p.Accuracy,
			MinVolume:                          p.MinVolume,
			MinInvertedVolume:                  p.MinInvertedVolume,
			MaxVolume:                          p.MaxVolume,
			MaxValue:                           p.MaxValue,
			MidPriceDeviationThreshold:         p.MidPriceDeviationThreshold,
			MarketOrderPriceDeviationThreshold: p.MarketOrderPriceDeviationThreshold,
		})
	}
	return data, nil
}
