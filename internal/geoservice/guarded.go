package geoservice

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/catchment-cli/internal/forest"
	"github.com/sells-group/catchment-cli/internal/model"
	"github.com/sells-group/catchment-cli/internal/resilience"
)

// Breaker names, one per remote operation.
const (
	OpBasins  = "fetch_basin_dataset"
	OpRasters = "query_raster_layers"
	OpReduce  = "reduce_regions"
)

// GuardConfig configures Guarded.
type GuardConfig struct {
	Timeout  time.Duration // per attempt
	Retry    resilience.RetryConfig
	Breakers *resilience.Breakers // nil creates a default registry
}

// Guarded applies timeout, retry and circuit breaking to every call of the
// wrapped Service and maps failures to the domain error kinds: basin calls
// to ErrUpstreamUnavailable, raster and reduce calls to
// ErrClassificationUnavailable. Errors that already carry a kind pass
// through unchanged.
type Guarded struct {
	next     Service
	cfg      GuardConfig
	breakers *resilience.Breakers
}

// NewGuarded wraps next.
func NewGuarded(next Service, cfg GuardConfig) *Guarded {
	b := cfg.Breakers
	if b == nil {
		bc := resilience.DefaultCircuitBreakerConfig()
		bc.ShouldTrip = ShouldTrip
		b = resilience.NewBreakers(bc)
	}
	return &Guarded{next: next, cfg: cfg, breakers: b}
}

// ShouldTrip counts only service failures against a breaker; caller errors
// and cancellation do not open the circuit.
func ShouldTrip(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	kind := model.KindOf(err)
	return kind == nil || model.IsRetryable(err)
}

// Breakers exposes the breaker registry for health reporting.
func (g *Guarded) Breakers() *resilience.Breakers { return g.breakers }

func (g *Guarded) policy(op string) resilience.Policy {
	retry := g.cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("geoservice", op)
	}
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = func(err error) bool {
			return model.KindOf(err) == nil && resilience.IsTransient(err) ||
				model.IsRetryable(err)
		}
	}
	return resilience.Policy{
		Timeout: g.cfg.Timeout,
		Retry:   retry,
		Breaker: g.breakers.Get(op),
	}
}

func (g *Guarded) FetchBasinDataset(ctx context.Context, level int) ([]model.Basin, error) {
	if err := model.ValidateLevel(level); err != nil {
		return nil, err
	}
	basins, err := resilience.Call(ctx, g.policy(OpBasins), func(ctx context.Context) ([]model.Basin, error) {
		return g.next.FetchBasinDataset(ctx, level)
	})
	if err != nil {
		return nil, mapError(ctx, err, model.ErrUpstreamUnavailable, OpBasins, "level", level)
	}
	return basins, nil
}

func (g *Guarded) QueryRasterLayers(ctx context.Context, names []string, region model.BBox) (*forest.LayerSet, error) {
	ls, err := resilience.Call(ctx, g.policy(OpRasters), func(ctx context.Context) (*forest.LayerSet, error) {
		return g.next.QueryRasterLayers(ctx, names, region)
	})
	if err != nil {
		return nil, mapError(ctx, err, model.ErrClassificationUnavailable, OpRasters, "region", region.String())
	}
	return ls, nil
}

func (g *Guarded) ReduceRegions(ctx context.Context, raster *forest.ClassifiedRaster, regions []model.Basin) ([]model.ZonalStatRow, error) {
	if len(regions) == 0 {
		return nil, model.NewOpError(model.ErrEmptySelection, OpReduce, nil)
	}
	rows, err := resilience.Call(ctx, g.policy(OpReduce), func(ctx context.Context) ([]model.ZonalStatRow, error) {
		return g.next.ReduceRegions(ctx, raster, regions)
	})
	if err != nil {
		return nil, mapError(ctx, err, model.ErrClassificationUnavailable, OpReduce, "regions", len(regions))
	}
	return rows, nil
}

// mapError keeps typed errors and caller cancellation, and classifies
// everything else, including per-attempt timeouts, as kind.
func mapError(ctx context.Context, err error, kind error, op string, params ...any) error {
	if model.KindOf(err) != nil {
		return err
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return err
	}
	zap.L().Warn("geoservice: call failed",
		zap.String("operation", op),
		zap.Error(err),
	)
	return model.NewOpError(kind, op, err, params...)
}
