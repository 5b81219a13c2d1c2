package geoservice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catchment-cli/internal/hydro"
	"github.com/sells-group/catchment-cli/internal/model"
)

func TestCachedBasins_LoadsOncePerLevel(t *testing.T) {
	f := &fakeService{basins: func(context.Context, int) ([]model.Basin, error) {
		time.Sleep(5 * time.Millisecond)
		return testBasins(), nil
	}}
	c := NewCachedBasins(f, 0, time.Hour)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			basins, err := c.FetchBasinDataset(context.Background(), 6)
			assert.NoError(t, err)
			assert.Len(t, basins, 3)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), f.basinCalls.Load())

	_, err := c.FetchBasinDataset(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.basinCalls.Load())
}

func TestCachedBasins_Invalidate(t *testing.T) {
	f := &fakeService{basins: func(context.Context, int) ([]model.Basin, error) { return testBasins(), nil }}
	c := NewCachedBasins(f, 0, time.Hour)

	_, err := c.Index(context.Background(), 6)
	require.NoError(t, err)
	_, err = c.Index(context.Background(), 7)
	require.NoError(t, err)

	c.Invalidate(6)
	_, err = c.Index(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, int32(3), f.basinCalls.Load())

	assert.Equal(t, 2, c.InvalidateAll())
	_, err = c.Index(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int32(4), f.basinCalls.Load())
}

func TestCachedBasins_ErrorsAreNotCached(t *testing.T) {
	fail := true
	f := &fakeService{basins: func(context.Context, int) ([]model.Basin, error) {
		if fail {
			return nil, eris.New("unavailable")
		}
		return testBasins(), nil
	}}
	c := NewCachedBasins(f, 0, time.Hour)

	_, err := c.Index(context.Background(), 6)
	require.Error(t, err)

	fail = false
	ix, err := c.Index(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, 3, ix.Len())
}

func TestCachedBasins_LoadOutlivesCanceledCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	f := &fakeService{basins: func(ctx context.Context, _ int) ([]model.Basin, error) {
		close(started)
		select {
		case <-release:
			return testBasins(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	c := NewCachedBasins(f, 0, time.Hour)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Index(firstCtx, 6)
		first <- err
	}()
	<-started

	second := make(chan error, 1)
	go func() {
		ix, err := c.Index(context.Background(), 6)
		if err == nil && ix.Len() != 3 {
			err = eris.Errorf("got %d basins", ix.Len())
		}
		second <- err
	}()

	cancelFirst()
	assert.True(t, errors.Is(<-first, context.Canceled))

	close(release)
	require.NoError(t, <-second)
	assert.Equal(t, int32(1), f.basinCalls.Load())
}

func TestCachedBasins_InvalidLevel(t *testing.T) {
	f := &fakeService{}
	c := NewCachedBasins(f, 0, time.Hour)

	_, err := c.Basins(context.Background(), 4)
	assert.True(t, errors.Is(err, model.ErrInvalidParameter))
	assert.Equal(t, int32(0), f.basinCalls.Load())
}

func TestBasinSource_ResolvesThroughCache(t *testing.T) {
	f := &fakeService{basins: func(context.Context, int) ([]model.Basin, error) { return testBasins(), nil }}
	c := NewCachedBasins(f, 0, time.Hour)

	src := BasinSource(c)
	_, ok := src.(hydro.IndexSource)
	require.True(t, ok)

	for range 3 {
		set, err := hydro.ResolveUpstream(context.Background(), model.Point{Lon: 0.5, Lat: 0.5}, 6, src, 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{9, 17, 42}, set.Members)
	}
	assert.Equal(t, int32(1), f.basinCalls.Load())

	plain := BasinSource(f)
	_, ok = plain.(hydro.IndexSource)
	assert.False(t, ok)
	set, err := hydro.ResolveUpstream(context.Background(), model.Point{Lon: 2.5, Lat: 0.5}, 6, plain, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, set.Members)
}
