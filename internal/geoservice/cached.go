package geoservice

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/catchment-cli/internal/cache"
	"github.com/sells-group/catchment-cli/internal/hydro"
	"github.com/sells-group/catchment-cli/internal/model"
)

// CachedBasins keeps each level's basin dataset, indexed, in memory and
// de-duplicates concurrent loads of the same level. Raster and reduce calls
// pass through.
type CachedBasins struct {
	Service
	lru         *cache.LRU[*hydro.Index]
	group       singleflight.Group
	loadTimeout time.Duration
}

// DefaultLoadTimeout bounds one shared dataset load. The load does not end
// when the caller that started it goes away.
const DefaultLoadTimeout = 2 * time.Minute

// NewCachedBasins caches up to levels datasets for ttl.
func NewCachedBasins(next Service, levels int, ttl time.Duration) *CachedBasins {
	if levels <= 0 {
		levels = model.MaxLevel - model.MinLevel + 1
	}
	return &CachedBasins{Service: next, lru: cache.NewLRU[*hydro.Index](levels, ttl), loadTimeout: DefaultLoadTimeout}
}

// Index returns the indexed dataset of a level, loading it on a miss.
func (c *CachedBasins) Index(ctx context.Context, level int) (*hydro.Index, error) {
	if err := model.ValidateLevel(level); err != nil {
		return nil, err
	}
	key := strconv.Itoa(level)
	if ix, ok := c.lru.Get(key); ok {
		return ix, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		if ix, ok := c.lru.Get(key); ok {
			return ix, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		basins, err := c.Service.FetchBasinDataset(loadCtx, level)
		if err != nil {
			return nil, err
		}
		ix := hydro.NewIndex(basins)
		c.lru.Put(key, ix)
		return ix, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		ix, ok := r.Val.(*hydro.Index)
		if !ok {
			return nil, eris.Errorf("geoservice: unexpected cached value %T", r.Val)
		}
		return ix, nil
	}
}

// FetchBasinDataset returns the cached dataset. Callers must not modify it.
func (c *CachedBasins) FetchBasinDataset(ctx context.Context, level int) ([]model.Basin, error) {
	ix, err := c.Index(ctx, level)
	if err != nil {
		return nil, err
	}
	return ix.Basins(), nil
}

// Basins implements hydro.BasinSource.
func (c *CachedBasins) Basins(ctx context.Context, level int) ([]model.Basin, error) {
	return c.FetchBasinDataset(ctx, level)
}

// Invalidate drops a level so the next call reloads it.
func (c *CachedBasins) Invalidate(level int) {
	c.lru.Delete(strconv.Itoa(level))
}

// InvalidateAll drops every cached level.
func (c *CachedBasins) InvalidateAll() int {
	return c.lru.InvalidatePrefix("")
}

// Stats returns cache counters.
func (c *CachedBasins) Stats() cache.Stats { return c.lru.Stats() }
