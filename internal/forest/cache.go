package forest

import (
	"fmt"
	"time"

	"github.com/sells-group/catchment-cli/internal/cache"
	"github.com/sells-group/catchment-cli/internal/model"
)

// Cache keeps classified rasters keyed by region and parameters, so any
// change of threshold, start or end year is a miss.
type Cache struct {
	lru *cache.LRU[*ClassifiedRaster]
}

// NewCache creates a cache holding at most maxEntries rasters for ttl.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{lru: cache.NewLRU[*ClassifiedRaster](maxEntries, ttl)}
}

// Key identifies a classification of region with p.
func Key(region model.BBox, p Params) string {
	return fmt.Sprintf("%s|t%d|s%d|e%d", region, p.Threshold, p.StartYear, p.EndYear)
}

// Get returns a cached raster.
func (c *Cache) Get(region model.BBox, p Params) (*ClassifiedRaster, bool) {
	return c.lru.Get(Key(region, p))
}

// Put stores a raster under its own parameters.
func (c *Cache) Put(region model.BBox, r *ClassifiedRaster) {
	c.lru.Put(Key(region, r.Params), r)
}

// Invalidate drops every cached raster and returns how many were removed.
func (c *Cache) Invalidate() int {
	return c.lru.InvalidatePrefix("")
}

// Len returns the number of cached rasters.
func (c *Cache) Len() int { return c.lru.Len() }

// Stats returns hit and miss counters.
func (c *Cache) Stats() cache.Stats { return c.lru.Stats() }
