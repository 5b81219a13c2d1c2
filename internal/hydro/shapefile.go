package hydro

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/sells-group/catchment-cli/internal/model"
)

// Attribute names of a HydroBASINS shapefile.
const (
	FieldHybasID  = "hybas_id"
	FieldNextDown = "next_down"
)

// SRID of basin geometries (WGS84).
const SRID = 4326

// ParseShapefile reads a HydroBASINS shapefile into basins of the given
// level. Records without a polygon or a parsable HYBAS_ID are skipped.
func ParseShapefile(shpPath string, level int) ([]model.Basin, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "hydro: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	idIdx, ok := fieldIdx[FieldHybasID]
	if !ok {
		return nil, eris.Errorf("hydro: shapefile %s has no %s field", shpPath, strings.ToUpper(FieldHybasID))
	}
	downIdx, ok := fieldIdx[FieldNextDown]
	if !ok {
		return nil, eris.Errorf("hydro: shapefile %s has no %s field", shpPath, strings.ToUpper(FieldNextDown))
	}

	var basins []model.Basin
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}

		id, err := parseID(reader.Attribute(idIdx))
		if err != nil || id == 0 {
			skipped++
			continue
		}
		next, err := parseID(reader.Attribute(downIdx))
		if err != nil {
			next = model.OutletID
		}

		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}

		basins = append(basins, model.Basin{
			ID:       id,
			NextDown: next,
			Level:    level,
			Geometry: mp,
		})
	}

	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "hydro: read shapefile %s", shpPath)
	}

	if skipped > 0 {
		zap.L().Debug("hydro: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("level", level),
			zap.Int("skipped", skipped),
		)
	}

	return basins, nil
}

// parseID reads a DBF numeric attribute. HydroBASINS stores ids as
// N(11,0), which some writers emit with a trailing ".0".
func parseID(raw string) (int64, error) {
	s := strings.TrimSpace(strings.TrimRight(raw, "\x00"))
	s = strings.TrimSuffix(s, ".0")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, eris.Wrapf(err, "hydro: parse id %q", raw)
		}
		v = int64(f)
	}
	return v, nil
}

// polygonToMultiPolygon groups shapefile rings into polygons. Outer rings
// are clockwise; each counter-clockwise ring is a hole of the preceding
// outer ring. Degenerate rings are dropped.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(SRID)
	var current *geom.Polygon
	flush := func() {
		if current == nil {
			return
		}
		if err := mp.Push(current); err != nil {
			zap.L().Debug("hydro: skipping malformed polygon part", zap.Error(err))
		}
		current = nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || end > int32(len(p.Points)) || end-start < 4 {
			continue
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		area := xy.SignedArea(geom.XY, flat)
		if area == 0 {
			continue
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		// SignedArea is positive for clockwise rings.
		if area > 0 || current == nil {
			flush()
			current = geom.NewPolygon(geom.XY)
		}
		if err := current.Push(ring); err != nil {
			zap.L().Debug("hydro: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
