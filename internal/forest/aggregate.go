package forest

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catchment-cli/internal/hydro"
	"github.com/sells-group/catchment-cli/internal/model"
)

// Aggregator sums classified pixel area per basin and category. A pixel
// belongs to a basin when its center lies in the basin geometry, boundary
// included; pixels whose center falls outside are not apportioned.
type Aggregator struct {
	Area AreaFunc
}

// Aggregate reduces raster over basins using spherical pixel areas.
func Aggregate(ctx context.Context, raster *ClassifiedRaster, basins []model.Basin) ([]model.ZonalStatRow, error) {
	return Aggregator{Area: SphericalArea}.Aggregate(ctx, raster, basins)
}

// Aggregate emits one row per (basin, category) with nonzero area, sorted
// by basin id then category code.
func (a Aggregator) Aggregate(ctx context.Context, raster *ClassifiedRaster, basins []model.Basin) ([]model.ZonalStatRow, error) {
	if len(basins) == 0 {
		return nil, model.NewOpError(model.ErrEmptySelection, "aggregate", eris.New("no basins selected"))
	}
	if raster == nil {
		return nil, model.InvalidParameter("aggregate", "no classified raster")
	}
	area := a.Area
	if area == nil {
		area = SphericalArea
	}

	var rows []model.ZonalStatRow
	for _, b := range basins {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "forest: aggregate")
		}
		sums := reduceBasin(raster, b, area)
		cats := make([]model.Category, 0, len(sums))
		for c := range sums {
			cats = append(cats, c)
		}
		slices.Sort(cats)
		for _, c := range cats {
			if sums[c] > 0 {
				rows = append(rows, model.ZonalStatRow{BasinID: b.ID, Category: c, Area: sums[c]})
			}
		}
	}

	SortRows(rows)
	return rows, nil
}

// SortRows orders rows by basin id, then category code.
func SortRows(rows []model.ZonalStatRow) {
	slices.SortStableFunc(rows, func(x, y model.ZonalStatRow) int {
		if x.BasinID != y.BasinID {
			if x.BasinID < y.BasinID {
				return -1
			}
			return 1
		}
		return int(x.Category) - int(y.Category)
	})
}

func reduceBasin(r *ClassifiedRaster, b model.Basin, area AreaFunc) map[model.Category]float64 {
	sums := make(map[model.Category]float64)
	col0, row0, col1, row1 := r.Window(hydro.GeometryBounds(b.Geometry))
	for row := row0; row < row1; row++ {
		var pixelArea float64
		rowArea := false
		for col := col0; col < col1; col++ {
			cat, ok := r.At(col, row)
			if !ok {
				continue
			}
			center := r.PixelCenter(col, row)
			if !hydro.ContainsPoint(b.Geometry, center) {
				continue
			}
			if !rowArea {
				pixelArea = area(center.Lat, r.PixelSize)
				rowArea = true
			}
			sums[cat] += pixelArea
		}
	}
	return sums
}

// TotalArea sums the area of rows, optionally restricted to one basin
// (basinID 0 means all).
func TotalArea(rows []model.ZonalStatRow, basinID int64) float64 {
	var total float64
	for _, r := range rows {
		if basinID == 0 || r.BasinID == basinID {
			total += r.Area
		}
	}
	return total
}
