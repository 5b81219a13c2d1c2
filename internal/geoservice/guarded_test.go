package geoservice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catchment-cli/internal/forest"
	"github.com/sells-group/catchment-cli/internal/model"
	"github.com/sells-group/catchment-cli/internal/resilience"
)

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestGuarded_RetriesTransientFailure(t *testing.T) {
	f := &fakeService{}
	f.basins = func(context.Context, int) ([]model.Basin, error) {
		if f.basinCalls.Load() == 1 {
			return nil, resilience.NewTransientError(eris.New("bad gateway"), 502)
		}
		return testBasins(), nil
	}
	g := NewGuarded(f, GuardConfig{Retry: fastRetry(3)})

	basins, err := g.FetchBasinDataset(context.Background(), 6)
	require.NoError(t, err)
	assert.Len(t, basins, 3)
	assert.Equal(t, int32(2), f.basinCalls.Load())
}

func TestGuarded_BasinFailureIsUpstreamUnavailable(t *testing.T) {
	cause := eris.New("dataset missing")
	f := &fakeService{basins: func(context.Context, int) ([]model.Basin, error) { return nil, cause }}
	g := NewGuarded(f, GuardConfig{Retry: fastRetry(3)})

	_, err := g.FetchBasinDataset(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUpstreamUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.True(t, model.IsRetryable(err))
	assert.Equal(t, int32(1), f.basinCalls.Load(), "non-transient errors are not retried")

	var opErr *model.OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, OpBasins, opErr.Op)
	assert.Equal(t, 7, opErr.Params["level"])
}

func TestGuarded_InvalidLevelBeforeRemoteCall(t *testing.T) {
	f := &fakeService{}
	g := NewGuarded(f, GuardConfig{})

	_, err := g.FetchBasinDataset(context.Background(), 20)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidParameter))
	assert.Equal(t, int32(0), f.basinCalls.Load())
}

func TestGuarded_TypedErrorsPassThrough(t *testing.T) {
	f := &fakeService{
		layers: func(context.Context, []string, model.BBox) (*forest.LayerSet, error) {
			return nil, model.InvalidParameter("query raster layers", "empty region")
		},
	}
	g := NewGuarded(f, GuardConfig{Retry: fastRetry(3)})

	for range 10 {
		_, err := g.QueryRasterLayers(context.Background(), nil, model.BBox{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrInvalidParameter))
		assert.False(t, errors.Is(err, model.ErrClassificationUnavailable))
	}
	assert.Equal(t, int32(10), f.layerCalls.Load())
	assert.Equal(t, resilience.CircuitClosed, g.Breakers().Get(OpRasters).State())
}

func TestGuarded_RasterAndReduceFailures(t *testing.T) {
	f := &fakeService{
		layers: func(context.Context, []string, model.BBox) (*forest.LayerSet, error) {
			return nil, eris.New("quota exceeded")
		},
		reduce: func(context.Context, *forest.ClassifiedRaster, []model.Basin) ([]model.ZonalStatRow, error) {
			return nil, eris.New("computation timed out")
		},
	}
	g := NewGuarded(f, GuardConfig{Retry: fastRetry(1)})

	_, err := g.QueryRasterLayers(context.Background(), nil, model.BBox{MaxLng: 1, MaxLat: 1})
	assert.True(t, errors.Is(err, model.ErrClassificationUnavailable))

	_, err = g.ReduceRegions(context.Background(), &forest.ClassifiedRaster{}, testBasins())
	assert.True(t, errors.Is(err, model.ErrClassificationUnavailable))
}

func TestGuarded_ReduceEmptySelection(t *testing.T) {
	f := &fakeService{}
	g := NewGuarded(f, GuardConfig{})

	_, err := g.ReduceRegions(context.Background(), &forest.ClassifiedRaster{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrEmptySelection))
	assert.Equal(t, int32(0), f.reduceCalls.Load())
}

func TestGuarded_CircuitOpens(t *testing.T) {
	f := &fakeService{basins: func(context.Context, int) ([]model.Basin, error) {
		return nil, eris.New("connection refused by policy")
	}}
	bc := resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour, ShouldTrip: ShouldTrip}
	var transitions []string
	breakers := resilience.NewBreakers(bc)
	breakers.OnStateChange = func(name string, _, to resilience.CircuitState) {
		transitions = append(transitions, name+":"+to.String())
	}
	g := NewGuarded(f, GuardConfig{Retry: fastRetry(1), Breakers: breakers})

	for range 2 {
		_, err := g.FetchBasinDataset(context.Background(), 6)
		require.Error(t, err)
	}
	_, err := g.FetchBasinDataset(context.Background(), 6)
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.True(t, errors.Is(err, model.ErrUpstreamUnavailable))
	assert.Equal(t, int32(2), f.basinCalls.Load())
	assert.Equal(t, []string{OpBasins + ":open"}, transitions)
	assert.Equal(t, resilience.CircuitOpen, g.Breakers().States()[OpBasins])
}

func TestGuarded_PerAttemptTimeout(t *testing.T) {
	f := &fakeService{basins: func(ctx context.Context, _ int) ([]model.Basin, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	g := NewGuarded(f, GuardConfig{Timeout: 5 * time.Millisecond, Retry: fastRetry(2)})

	_, err := g.FetchBasinDataset(context.Background(), 6)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUpstreamUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, int32(2), f.basinCalls.Load())
}

func TestGuarded_CallerCancellation(t *testing.T) {
	f := &fakeService{basins: func(ctx context.Context, _ int) ([]model.Basin, error) {
		return nil, ctx.Err()
	}}
	g := NewGuarded(f, GuardConfig{Retry: fastRetry(3)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.FetchBasinDataset(ctx, 6)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Nil(t, model.KindOf(err))
	assert.Equal(t, int32(1), f.basinCalls.Load())
}

func TestShouldTrip(t *testing.T) {
	assert.False(t, ShouldTrip(nil))
	assert.False(t, ShouldTrip(context.Canceled))
	assert.False(t, ShouldTrip(model.InvalidParameter("op", "bad")))
	assert.False(t, ShouldTrip(model.NewOpError(model.ErrEmptySelection, "op", nil)))
	assert.True(t, ShouldTrip(eris.New("boom")))
	assert.True(t, ShouldTrip(model.NewOpError(model.ErrUpstreamUnavailable, "op", nil)))
}
