// Package catchment answers the two user-facing questions: which basins
// drain into a location, and how forest cover changed inside them.
package catchment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catchment-cli/internal/cache"
	"github.com/sells-group/catchment-cli/internal/forest"
	"github.com/sells-group/catchment-cli/internal/geoservice"
	"github.com/sells-group/catchment-cli/internal/hydro"
	"github.com/sells-group/catchment-cli/internal/metrics"
	"github.com/sells-group/catchment-cli/internal/model"
)

// Operation names used in errors and metrics.
const (
	OpUpstream   = "resolve_upstream"
	OpStatistics = "compute_statistics"
)

// upstreamKeyPlaces is the seed rounding applied to upstream cache keys
// (1e-5 degrees, about one meter).
const upstreamKeyPlaces = 5

// RunStore persists statistics runs.
type RunStore interface {
	CreateRun(ctx context.Context, params model.RunParams) (*model.Run, error)
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, status model.RunStatus, message string) error
}

// Option configures a Service.
type Option func(*Service)

// WithUpstreamCache caches resolved upstream sets in store for ttl.
func WithUpstreamCache(store cache.Store, ttl time.Duration) Option {
	return func(s *Service) {
		s.upstream = store
		s.upstreamTTL = ttl
	}
}

// WithRasterCache caches classified rasters by region and parameters.
func WithRasterCache(c *forest.Cache) Option {
	return func(s *Service) {
		s.rasters = c
	}
}

// WithRunStore records every statistics run.
func WithRunStore(rs RunStore) Option {
	return func(s *Service) {
		s.runs = rs
	}
}

// WithMetrics records request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithMaxIterations bounds upstream expansion.
func WithMaxIterations(n int) Option {
	return func(s *Service) {
		s.maxIterations = n
	}
}

// WithRequestTimeout bounds each request as a whole.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.requestTimeout = d
	}
}

// Service resolves catchments and computes their statistics.
type Service struct {
	geo     geoservice.Service
	basins  hydro.BasinSource
	tracker *Tracker

	upstream       cache.Store
	upstreamTTL    time.Duration
	rasters        *forest.Cache
	runs           RunStore
	metrics        *metrics.Metrics
	maxIterations  int
	requestTimeout time.Duration
}

// New creates a Service over geo.
func New(geo geoservice.Service, opts ...Option) *Service {
	s := &Service{
		geo:           geo,
		basins:        geoservice.BasinSource(geo),
		tracker:       NewTracker(),
		maxIterations: hydro.DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tracker exposes the session tracker.
func (s *Service) Tracker() *Tracker { return s.tracker }

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.requestTimeout > 0 {
		return context.WithTimeout(ctx, s.requestTimeout)
	}
	return context.WithCancel(ctx)
}

// ResolveUpstream returns the upstream catchment of seed at level. Results
// are cached per level and seed rounded to 1e-5 degrees.
func (s *Service) ResolveUpstream(ctx context.Context, seed model.Point, level int) (set *model.UpstreamSet, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveRequest(OpUpstream, err, time.Since(start)) }()

	if err := model.ValidateLevel(level); err != nil {
		return nil, err
	}
	if !seed.Valid() {
		return nil, model.NewOpError(model.ErrInvalidParameter, OpUpstream,
			eris.New("seed must be a longitude in [-180, 180] and latitude in [-90, 90]"),
			"lon", seed.Lon, "lat", seed.Lat)
	}

	key := UpstreamKey(level, seed)
	if cached, ok := s.cachedUpstream(ctx, key); ok {
		cached.Seed = seed
		return cached, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	set, err = hydro.ResolveUpstream(ctx, seed, level, s.basins, s.maxIterations)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveUpstream(set)
	s.storeUpstream(ctx, key, set)
	return set, nil
}

// UpstreamKey is the cache key of an upstream set.
func UpstreamKey(level int, seed model.Point) string {
	p := seed.Round(upstreamKeyPlaces)
	return fmt.Sprintf("%s%.5f:%.5f", UpstreamPrefix(level), p.Lon, p.Lat)
}

// UpstreamPrefix is the key prefix shared by every upstream set of a level.
func UpstreamPrefix(level int) string {
	return fmt.Sprintf("upstream:%d:", level)
}

func (s *Service) cachedUpstream(ctx context.Context, key string) (*model.UpstreamSet, bool) {
	if s.upstream == nil {
		return nil, false
	}
	data, ok, err := s.upstream.Get(ctx, key)
	if err != nil {
		zap.L().Warn("catchment: upstream cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	s.metrics.CacheLookup(ok)
	if !ok {
		return nil, false
	}
	var set model.UpstreamSet
	if err := json.Unmarshal(data, &set); err != nil {
		zap.L().Warn("catchment: discard corrupt upstream cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &set, true
}

func (s *Service) storeUpstream(ctx context.Context, key string, set *model.UpstreamSet) {
	if s.upstream == nil {
		return
	}
	data, err := json.Marshal(set)
	if err != nil {
		zap.L().Warn("catchment: encode upstream set", zap.Error(err))
		return
	}
	if err := s.upstream.Set(ctx, key, data, s.upstreamTTL); err != nil {
		zap.L().Warn("catchment: upstream cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidateLevel drops every cached upstream set and basin dataset of a
// level. Call it after the level's dataset is reloaded.
func (s *Service) InvalidateLevel(ctx context.Context, level int) error {
	if err := model.ValidateLevel(level); err != nil {
		return err
	}
	if inv, ok := s.geo.(interface{ Invalidate(level int) }); ok {
		inv.Invalidate(level)
	}
	if s.upstream == nil {
		return nil
	}
	n, err := s.upstream.DeletePrefix(ctx, UpstreamPrefix(level))
	if err != nil {
		return eris.Wrapf(err, "catchment: invalidate level %d", level)
	}
	zap.L().Info("catchment: invalidated upstream cache",
		zap.Int("level", level),
		zap.Int("entries", n),
	)
	return nil
}

// ComputeStatistics classifies forest change over the selected basins and
// sums the area per basin and category. A newer request with the same
// session cancels this one, which then fails with ErrSuperseded.
func (s *Service) ComputeStatistics(ctx context.Context, req StatisticsRequest) (res *StatisticsResult, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveRequest(OpStatistics, err, time.Since(start)) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	ids, err := selection(req)
	if err != nil {
		return nil, err
	}

	ctx, ticket := s.tracker.Begin(ctx, req.Session)
	defer ticket.Done()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	run := s.createRun(ctx, req, ids)

	res, err = s.compute(ctx, req, ids)
	if err == nil && !ticket.Current() {
		err = superseded(req.Session)
	}
	if err != nil && errors.Is(context.Cause(ctx), model.ErrSuperseded) {
		err = superseded(req.Session)
	}
	if err != nil {
		s.failRun(run, err)
		return nil, err
	}

	res.Duration = time.Since(start)
	if run != nil {
		res.RunID = run.ID
		s.completeRun(run, res)
	}
	return res, nil
}

// selection returns the requested basin ids, or every member when none
// were named. It needs no remote call.
func selection(req StatisticsRequest) ([]int64, error) {
	if err := model.ValidateLevel(req.Upstream.Level); err != nil {
		return nil, err
	}
	if req.Upstream.Empty() {
		return nil, model.NewOpError(model.ErrEmptySelection, OpStatistics,
			eris.New("upstream catchment has no basins"))
	}
	if len(req.BasinIDs) == 0 {
		return req.Upstream.Members, nil
	}
	for _, id := range req.BasinIDs {
		if !req.Upstream.Contains(id) {
			return nil, model.NewOpError(model.ErrInvalidParameter, OpStatistics,
				eris.Errorf("basin %d is not part of the upstream catchment", id), "basin_id", id)
		}
	}
	return req.BasinIDs, nil
}

func (s *Service) compute(ctx context.Context, req StatisticsRequest, ids []int64) (*StatisticsResult, error) {
	level := req.Upstream.Level
	ix, err := hydro.LoadIndex(ctx, s.basins, level)
	if err != nil {
		return nil, err
	}
	basins, err := ix.Select(req.Upstream.Members, ids)
	if err != nil {
		return nil, err
	}
	if len(basins) == 0 {
		return nil, model.NewOpError(model.ErrEmptySelection, OpStatistics, eris.New("no basins selected"))
	}

	params := req.Params()
	raster, err := s.classify(ctx, hydro.Bounds(basins), params)
	if err != nil {
		return nil, err
	}

	rows, err := s.geo.ReduceRegions(ctx, raster, basins)
	if err != nil {
		return nil, err
	}

	selected := make([]int64, len(basins))
	var total float64
	for i, b := range basins {
		selected[i] = b.ID
	}
	for _, r := range rows {
		total += r.Area
	}
	return &StatisticsResult{
		Level:     level,
		BasinIDs:  selected,
		Params:    params,
		Rows:      rows,
		TotalArea: total,
	}, nil
}

func (s *Service) classify(ctx context.Context, region model.BBox, p forest.Params) (*forest.ClassifiedRaster, error) {
	if s.rasters != nil {
		if r, ok := s.rasters.Get(region, p); ok {
			return r, nil
		}
	}
	layers, err := s.geo.QueryRasterLayers(ctx, forest.LayerNames(), region)
	if err != nil {
		return nil, err
	}
	raster, err := forest.Classify(layers, p.Threshold, p.StartYear, p.EndYear)
	if err != nil {
		return nil, err
	}
	if s.rasters != nil {
		s.rasters.Put(region, raster)
	}
	return raster, nil
}

func superseded(session string) error {
	return model.NewOpError(model.ErrSuperseded, OpStatistics, nil, "session", session)
}

func (s *Service) createRun(ctx context.Context, req StatisticsRequest, ids []int64) *model.Run {
	if s.runs == nil {
		return nil
	}
	seed := req.Upstream.Seed
	run, err := s.runs.CreateRun(ctx, model.RunParams{
		Session:   req.Session,
		Level:     req.Upstream.Level,
		Seed:      &seed,
		BasinIDs:  ids,
		StartYear: req.StartYear,
		EndYear:   req.EndYear,
		Threshold: req.Threshold,
	})
	if err != nil {
		zap.L().Warn("catchment: create run failed", zap.Error(err))
		return nil
	}
	return run
}

// Run bookkeeping uses a fresh context so a canceled request is still
// recorded.
func (s *Service) completeRun(run *model.Run, res *StatisticsResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.runs.UpdateRunResult(ctx, run.ID, &model.RunResult{
		Rows:       res.Rows,
		BasinCount: len(res.BasinIDs),
		TotalArea:  res.TotalArea,
		DurationMs: res.Duration.Milliseconds(),
	})
	if err != nil {
		zap.L().Warn("catchment: save run result failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (s *Service) failRun(run *model.Run, cause error) {
	if run == nil {
		return
	}
	status := model.RunStatusFailed
	if errors.Is(cause, model.ErrSuperseded) {
		status = model.RunStatusSuperseded
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.runs.FailRun(ctx, run.ID, status, cause.Error()); err != nil {
		zap.L().Warn("catchment: save run failure failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}
