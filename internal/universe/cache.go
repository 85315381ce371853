// Package universe holds the tradable-asset cache the order validator's
// tradability gate consults (spec §4.4 step 2) and the ASSET_UNIVERSE_SYNC
// processor refreshes (spec §4.6).
package universe

import (
	"context"
	"sync"

	"github.com/web3guy0/polybot/internal/broker"
	"github.com/web3guy0/polybot/internal/validate"
)

// Cache is a concurrency-safe snapshot of the broker's tradable universe. It
// satisfies validate.Universe.
type Cache struct {
	mu     sync.RWMutex
	assets map[string]validate.Asset
}

func NewCache() *Cache {
	return &Cache{assets: make(map[string]validate.Asset)}
}

func (c *Cache) Lookup(symbol string) (validate.Asset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.assets[symbol]
	return a, ok
}

// Refresh replaces the cache contents with a fresh pull from the broker. The
// assetClass filter is passed straight through to broker.Client.GetAssets;
// an empty string means all classes.
func (c *Cache) Refresh(ctx context.Context, client broker.Client, assetClass string) error {
	assets, err := client.GetAssets(ctx, assetClass)
	if err != nil {
		return err
	}
	next := make(map[string]validate.Asset, len(assets))
	for _, a := range assets {
		next[a.Symbol] = validate.Asset{Tradable: a.Tradable, Fractionable: a.Fractionable, Marginable: a.Marginable}
	}
	c.mu.Lock()
	c.assets = next
	c.mu.Unlock()
	return nil
}

// Size reports how many symbols are currently cached, for health reporting.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.assets)
}
