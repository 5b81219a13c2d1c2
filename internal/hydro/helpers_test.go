package hydro

import (
	"context"
	"sync/atomic"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/catchment-cli/internal/model"
)

// square returns a unit-aligned MultiPolygon with its lower-left corner at
// (x, y), wound clockwise as in shapefiles.
func square(x, y, size float64) *geom.MultiPolygon {
	flat := []float64{x, y, x, y + size, x + size, y + size, x + size, y, x, y}
	return geom.NewMultiPolygonFlat(geom.XY, flat, [][]int{{len(flat)}}).SetSRID(SRID)
}

func basin(id, next int64, x, y float64) model.Basin {
	return model.Basin{ID: id, NextDown: next, Level: 6, Geometry: square(x, y, 1)}
}

// countingSource serves a fixed dataset and counts calls.
type countingSource struct {
	basins []model.Basin
	err    error
	calls  atomic.Int32
}

func (s *countingSource) Basins(_ context.Context, _ int) ([]model.Basin, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.basins, nil
}

// scenarioBasins is the reference catchment: 9 drains to 17, 17 drains to
// 42, 42 is an outlet and holds the seed. Basin 5 is an unrelated outlet
// and 8 drains into it.
func scenarioBasins() []model.Basin {
	return []model.Basin{
		basin(42, 0, 0, 0),
		basin(17, 42, 1, 0),
		basin(9, 17, 2, 0),
		basin(5, 0, 10, 10),
		basin(8, 5, 11, 10),
	}
}

// chain returns n+1 basins where basin i+1 drains into basin i and basin 1
// holds the point (0.5, 0.5).
func chain(n int) []model.Basin {
	out := make([]model.Basin, 0, n+1)
	out = append(out, basin(1, 0, 0, 0))
	for i := 2; i <= n+1; i++ {
		out = append(out, basin(int64(i), int64(i-1), float64(i), 0))
	}
	return out
}
