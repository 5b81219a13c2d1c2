package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_GetPut(t *testing.T) {
	c := NewLRU[string](10, time.Minute)

	_, ok := c.Get("upstream:6:1.00000:2.00000")
	assert.False(t, ok)

	c.Put("upstream:6:1.00000:2.00000", "members")
	v, ok := c.Get("upstream:6:1.00000:2.00000")
	require.True(t, ok)
	assert.Equal(t, "members", v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[int](2, 0)
	c.Put("a", 1)
	c.Put("b", 2)
	_, _ = c.Get("a") // a becomes newest
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRU_TTLExpiry(t *testing.T) {
	now := time.Now()
	c := NewLRU[int](4, time.Minute)
	c.now = func() time.Time { return now }
	c.Put("k", 1)

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestLRU_InvalidatePrefix(t *testing.T) {
	c := NewLRU[int](10, 0)
	c.Put("upstream:6:a", 1)
	c.Put("upstream:6:b", 2)
	c.Put("upstream:7:a", 3)

	assert.Equal(t, 2, c.InvalidatePrefix("upstream:6:"))
	_, ok := c.Get("upstream:7:a")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())

	assert.Equal(t, 1, c.InvalidatePrefix(""))
}

func TestLRU_ConcurrentAccess(t *testing.T) {
	c := NewLRU[int](50, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (n*j)%75)
				c.Put(key, j)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}
