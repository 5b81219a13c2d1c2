package hydro

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"

	"github.com/sells-group/catchment-cli/internal/model"
)

// ContainsPoint reports whether pt lies in mp. Polygons are closed: a point
// on an outer ring or on a hole ring is contained, a point strictly inside
// a hole is not.
func ContainsPoint(mp *geom.MultiPolygon, pt model.Point) bool {
	if mp == nil {
		return false
	}
	c := geom.Coord{pt.Lon, pt.Lat}
	for i := 0; i < mp.NumPolygons(); i++ {
		if polygonContains(mp.Polygon(i), c) {
			return true
		}
	}
	return false
}

func polygonContains(p *geom.Polygon, c geom.Coord) bool {
	if p.NumLinearRings() == 0 {
		return false
	}
	layout := p.Layout()
	switch xy.LocatePointInRing(layout, c, p.LinearRing(0).FlatCoords()) {
	case location.Exterior:
		return false
	case location.Boundary:
		return true
	}
	for j := 1; j < p.NumLinearRings(); j++ {
		if xy.LocatePointInRing(layout, c, p.LinearRing(j).FlatCoords()) == location.Interior {
			return false
		}
	}
	return true
}

// GeometryBounds returns the bounding box of mp, or an empty box.
func GeometryBounds(mp *geom.MultiPolygon) model.BBox {
	if mp == nil || mp.Empty() {
		return model.EmptyBBox()
	}
	b := mp.Bounds()
	return model.BBox{
		MinLng: b.Min(0),
		MinLat: b.Min(1),
		MaxLng: b.Max(0),
		MaxLat: b.Max(1),
	}
}

// Bounds returns the union bounding box of the basins' geometries.
func Bounds(basins []model.Basin) model.BBox {
	box := model.EmptyBBox()
	for _, b := range basins {
		box = box.Extend(GeometryBounds(b.Geometry))
	}
	return box
}

// Select picks ids out of an upstream catchment. Nil or empty ids select
// every member.
func Select(basins []model.Basin, set *model.UpstreamSet, ids []int64) ([]model.Basin, error) {
	var members []int64
	if set != nil {
		members = set.Members
	}
	return NewIndex(basins).Select(members, ids)
}

// SelectAll returns every member of the catchment.
func SelectAll(basins []model.Basin, set *model.UpstreamSet) ([]model.Basin, error) {
	return Select(basins, set, nil)
}
