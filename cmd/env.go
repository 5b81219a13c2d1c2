package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catchment-cli/internal/cache"
	"github.com/sells-group/catchment-cli/internal/catchment"
	"github.com/sells-group/catchment-cli/internal/db"
	"github.com/sells-group/catchment-cli/internal/forest"
	"github.com/sells-group/catchment-cli/internal/geoservice"
	"github.com/sells-group/catchment-cli/internal/hydro"
	"github.com/sells-group/catchment-cli/internal/metrics"
	"github.com/sells-group/catchment-cli/internal/rasterstore"
	"github.com/sells-group/catchment-cli/internal/resilience"
	"github.com/sells-group/catchment-cli/internal/store"
	"github.com/sells-group/catchment-cli/pkg/geoapi"
)

// appEnv holds the wired service graph shared by serve, upstream and stats.
type appEnv struct {
	Service *catchment.Service
	Basins  *geoservice.CachedBasins
	Guarded *geoservice.Guarded
	Runs    store.Store // nil when store.driver is "none"
	Metrics *metrics.Metrics

	closers []func()
}

// Close releases every resource opened by initEnv in reverse order.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// initEnv builds the catchment service from cfg: the remote API when
// remote.base_url is set, otherwise PostGIS basins plus object-store rasters.
func initEnv(ctx context.Context, m *metrics.Metrics) (*appEnv, error) {
	env := &appEnv{Metrics: m}

	backend, err := initBackend(ctx, env)
	if err != nil {
		env.Close()
		return nil, err
	}

	breakerCfg := resilience.FromCircuitConfig(cfg.Resilience.FailureThreshold, cfg.Resilience.ResetTimeoutSecs)
	breakerCfg.ShouldTrip = geoservice.ShouldTrip
	breakers := resilience.NewBreakers(breakerCfg)
	breakers.OnStateChange = func(name string, from, to resilience.CircuitState) {
		zap.L().Warn("circuit breaker state change",
			zap.String("operation", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		m.SetBreakerState(name, int(to))
	}

	env.Guarded = geoservice.NewGuarded(backend, geoservice.GuardConfig{
		Timeout: time.Duration(cfg.Resilience.CallTimeoutSecs) * time.Second,
		Retry: resilience.FromRetryConfig(
			cfg.Resilience.MaxAttempts,
			cfg.Resilience.InitialBackoffMs,
			cfg.Resilience.MaxBackoffMs,
			cfg.Resilience.Multiplier,
			cfg.Resilience.JitterFraction,
		),
		Breakers: breakers,
	})
	env.Basins = geoservice.NewCachedBasins(env.Guarded, cfg.Cache.BasinLevels,
		time.Duration(cfg.Cache.BasinTTLMins)*time.Minute)

	upstream, err := initUpstreamCache(ctx, env)
	if err != nil {
		env.Close()
		return nil, err
	}

	opts := []catchment.Option{
		catchment.WithUpstreamCache(upstream, time.Duration(cfg.Cache.UpstreamTTLMins)*time.Minute),
		catchment.WithRasterCache(forest.NewCache(cfg.Cache.RasterSize, time.Duration(cfg.Cache.RasterTTLMins)*time.Minute)),
		catchment.WithMetrics(m),
		catchment.WithMaxIterations(cfg.Analysis.MaxIterations),
		catchment.WithRequestTimeout(time.Duration(cfg.Analysis.RequestTimeoutSecs) * time.Second),
	}

	if cfg.Store.Driver != "none" {
		st, err := initStore(ctx)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.closers = append(env.closers, func() { _ = st.Close() })
		if err := st.Migrate(ctx); err != nil {
			env.Close()
			return nil, err
		}
		env.Runs = st
		opts = append(opts, catchment.WithRunStore(st))
	}

	env.Service = catchment.New(env.Basins, opts...)
	return env, nil
}

func initBackend(ctx context.Context, env *appEnv) (geoservice.Service, error) {
	if cfg.Remote.BaseURL != "" {
		client := geoapi.NewClient(cfg.Remote.BaseURL,
			geoapi.WithAPIKey(cfg.Remote.APIKey),
			geoapi.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Remote.TimeoutSecs) * time.Second}),
			geoapi.WithRateLimit(cfg.Remote.RateLimit, cfg.Remote.Burst),
		)
		zap.L().Info("using remote geospatial service", zap.String("base_url", cfg.Remote.BaseURL))
		return geoservice.NewRemote(client), nil
	}

	pool, err := initPool(ctx)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, pool.Close)

	bucket, err := rasterstore.OpenMinio(ctx, rasterstore.MinioConfig{
		Endpoint:  cfg.Raster.Endpoint,
		AccessKey: cfg.Raster.AccessKey,
		SecretKey: cfg.Raster.SecretKey,
		Bucket:    cfg.Raster.Bucket,
		UseSSL:    cfg.Raster.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	return geoservice.NewLocal(hydro.NewPostgresStore(pool), rasterstore.New(bucket, cfg.Raster.Dataset)), nil
}

// initUpstreamCache returns the shared Redis cache when configured, else an
// in-process LRU.
func initUpstreamCache(ctx context.Context, env *appEnv) (cache.Store, error) {
	if cfg.Cache.RedisURL == "" {
		return cache.NewMemory(cfg.Cache.UpstreamSize, time.Duration(cfg.Cache.UpstreamTTLMins)*time.Minute), nil
	}
	r, err := cache.OpenRedis(ctx, cfg.Cache.RedisURL, "catchment")
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, func() { _ = r.Close() })
	return r, nil
}

func initPool(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, eris.New("database URL is required (CATCHMENT_DATABASE_URL)")
	}
	return db.Connect(ctx, cfg.Database.URL, db.PoolConfig{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
}

func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.RunStoreURL(), &store.PoolConfig{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
}
