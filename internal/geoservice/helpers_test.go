package geoservice

import (
	"context"
	"sync/atomic"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/catchment-cli/internal/forest"
	"github.com/sells-group/catchment-cli/internal/model"
)

func square(id, next int64, x, y float64) model.Basin {
	flat := []float64{x, y, x, y + 1, x + 1, y + 1, x + 1, y, x, y}
	return model.Basin{
		ID:       id,
		NextDown: next,
		Level:    6,
		Geometry: geom.NewMultiPolygonFlat(geom.XY, flat, [][]int{{len(flat)}}),
	}
}

func testBasins() []model.Basin {
	return []model.Basin{
		square(42, 0, 0, 0),
		square(17, 42, 1, 0),
		square(9, 17, 2, 0),
	}
}

// fakeService answers from function fields and counts calls per operation.
type fakeService struct {
	basins func(ctx context.Context, level int) ([]model.Basin, error)
	layers func(ctx context.Context, names []string, region model.BBox) (*forest.LayerSet, error)
	reduce func(ctx context.Context, raster *forest.ClassifiedRaster, regions []model.Basin) ([]model.ZonalStatRow, error)

	basinCalls  atomic.Int32
	layerCalls  atomic.Int32
	reduceCalls atomic.Int32
}

func (f *fakeService) FetchBasinDataset(ctx context.Context, level int) ([]model.Basin, error) {
	f.basinCalls.Add(1)
	return f.basins(ctx, level)
}

func (f *fakeService) QueryRasterLayers(ctx context.Context, names []string, region model.BBox) (*forest.LayerSet, error) {
	f.layerCalls.Add(1)
	return f.layers(ctx, names, region)
}

func (f *fakeService) ReduceRegions(ctx context.Context, raster *forest.ClassifiedRaster, regions []model.Basin) ([]model.ZonalStatRow, error) {
	f.reduceCalls.Add(1)
	return f.reduce(ctx, raster, regions)
}
