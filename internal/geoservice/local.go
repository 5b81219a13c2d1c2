package geoservice

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/catchment-cli/internal/forest"
	"github.com/sells-group/catchment-cli/internal/hydro"
	"github.com/sells-group/catchment-cli/internal/model"
)

// RasterSource reads one raster band cropped to a region.
type RasterSource interface {
	Layer(ctx context.Context, name string, region model.BBox) (*forest.Grid, error)
}

// Local serves basins from a BasinSource (PostGIS), rasters from a
// RasterSource (object storage) and reduces in process.
type Local struct {
	basins  hydro.BasinSource
	rasters RasterSource
	agg     forest.Aggregator
}

// NewLocal creates a local service using spherical pixel areas.
func NewLocal(basins hydro.BasinSource, rasters RasterSource) *Local {
	return &Local{basins: basins, rasters: rasters, agg: forest.Aggregator{Area: forest.SphericalArea}}
}

// WithArea overrides the pixel area function.
func (l *Local) WithArea(area forest.AreaFunc) *Local {
	l.agg.Area = area
	return l
}

func (l *Local) FetchBasinDataset(ctx context.Context, level int) ([]model.Basin, error) {
	if err := model.ValidateLevel(level); err != nil {
		return nil, err
	}
	basins, err := l.basins.Basins(ctx, level)
	if err != nil {
		return nil, eris.Wrapf(err, "geoservice: fetch basins for level %d", level)
	}
	return basins, nil
}

// QueryRasterLayers fetches the named bands concurrently. Empty names
// fetches every band Classify needs.
func (l *Local) QueryRasterLayers(ctx context.Context, names []string, region model.BBox) (*forest.LayerSet, error) {
	if len(names) == 0 {
		names = forest.LayerNames()
	}
	if region.IsEmpty() {
		return nil, model.InvalidParameter("query raster layers", "empty region")
	}

	var mu sync.Mutex
	out := &forest.LayerSet{}

	g, gCtx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			grid, err := l.rasters.Layer(gCtx, name, region)
			if err != nil {
				return eris.Wrapf(err, "geoservice: query layer %s", name)
			}
			mu.Lock()
			defer mu.Unlock()
			if err := out.SetLayer(name, grid); err != nil {
				return model.NewOpError(model.ErrInvalidParameter, "query raster layers", err, "layer", name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Local) ReduceRegions(ctx context.Context, raster *forest.ClassifiedRaster, regions []model.Basin) ([]model.ZonalStatRow, error) {
	return l.agg.Aggregate(ctx, raster, regions)
}
