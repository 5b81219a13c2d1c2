// Package geoservice defines the geospatial processing capability the
// catchment service consumes, with a local implementation and the
// resilience and caching decorators wrapped around any implementation.
package geoservice

import (
	"context"

	"github.com/sells-group/catchment-cli/internal/forest"
	"github.com/sells-group/catchment-cli/internal/hydro"
	"github.com/sells-group/catchment-cli/internal/model"
)

// Service is the remote geospatial capability: basin datasets, raster
// layers and zonal reduction.
type Service interface {
	FetchBasinDataset(ctx context.Context, level int) ([]model.Basin, error)
	QueryRasterLayers(ctx context.Context, names []string, region model.BBox) (*forest.LayerSet, error)
	ReduceRegions(ctx context.Context, raster *forest.ClassifiedRaster, regions []model.Basin) ([]model.ZonalStatRow, error)
}

// BasinSource adapts a Service for the upstream resolver. Sources that
// already keep per-level indexes are returned unchanged.
func BasinSource(s Service) hydro.BasinSource {
	if is, ok := s.(hydro.IndexSource); ok {
		return is
	}
	return hydro.BasinSourceFunc(s.FetchBasinDataset)
}
