// Package refdata serves asset and asset pair reference data from a
// read-through cache that is loaded at start and refreshed periodically.
package refdata

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
)

// Data is one consistent set of reference data.
type Data struct {
	Assets     []model.Asset
	AssetPairs []model.AssetPair
}

// Loader fetches reference data from its source of truth.
type Loader interface {
	Load(ctx context.Context) (*Data, error)
}

// StaticLoader serves fixed data. Used by tests and single-node setups.
type StaticLoader struct {
	Data Data
}

// Load returns the fixed data.
func (l *StaticLoader) Load(context.Context) (*Data, error) {
	return &l.Data, nil
}

type snapshot struct {
	assets     map[string]*model.Asset
	assetPairs map[string]*model.AssetPair
	loadedAt   time.Time
}

// Cache is safe for concurrent use. Readers always see a complete snapshot.
type Cache struct {
	loader   Loader
	logger   *zap.Logger
	interval time.Duration
	current  atomic.Pointer[snapshot]
}

// NewCache creates an empty cache. Call Refresh before serving lookups.
func NewCache(logger *zap.Logger, loader Loader, interval time.Duration) *Cache {
	c := &Cache{loader: loader, logger: logger, interval: interval}
	c.current.Store(&snapshot{
		assets:     map[string]*model.Asset{},
		assetPairs: map[string]*model.AssetPair{},
	})
	return c
}

// Refresh reloads the data and swaps it in atomically. Pairs referring to
// unknown assets are rejected as a whole load.
func (c *Cache) Refresh(ctx context.Context) error {
	data, err := c.loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load reference data: %w", err)
	}
	s := &snapshot{
		assets:     make(map[string]*model.Asset, len(data.Assets)),
		assetPairs: make(map[string]*model.AssetPair, len(data.AssetPairs)),
		loadedAt:   time.Now(),
	}
	for i := range data.Assets {
		a := data.Assets[i]
		s.assets[a.ID] = &a
	}
	for i := range data.AssetPairs {
		p := data.AssetPairs[i]
		if _, ok := s.assets[p.BaseAssetID]; !ok {
			return fmt.Errorf("asset pair %s: unknown base asset %s", p.ID, p.BaseAssetID)
		}
		if _, ok := s.assets[p.QuotingAssetID]; !ok {
			return fmt.Errorf("asset pair %s: unknown quoting asset %s", p.ID, p.QuotingAssetID)
		}
		s.assetPairs[p.ID] = &p
	}
	c.current.Store(s)
	c.logger.Debug("reference data refreshed",
		zap.Int("assets", len(s.assets)),
		zap.Int("asset_pairs", len(s.assetPairs)))
	return nil
}

// Run refreshes on every interval until ctx is done. Failed refreshes keep
// the previous snapshot.
func (c *Cache) Run(ctx context.Context) {
	if c.interval <= 0 {
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Error("reference data refresh failed", zap.Error(err))
			}
		}
	}
}

// Asset returns the asset with id.
func (c *Cache) Asset(id string) (*model.Asset, bool) {
	a, ok := c.current.Load().assets[id]
	return a, ok
}

// AssetPair returns the asset pair with id.
func (c *Cache) AssetPair(id string) (*model.AssetPair, bool) {
	p, ok := c.current.Load().assetPairs[id]
	return p, ok
}

// AssetPairs returns every pair sorted by id.
func (c *Cache) AssetPairs() []*model.AssetPair {
	s := c.current.Load()
	out := make([]*model.AssetPair, 0, len(s.assetPairs))
	for _, p := range s.assetPairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadedAt returns when the current snapshot was loaded.
func (c *Cache) LoadedAt() time.Time {
	return c.current.Load().loadedAt
}
