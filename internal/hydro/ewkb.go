package hydro

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/catchment-cli/internal/model"
)

// EncodeEWKB encodes a basin geometry as little-endian EWKB with SRID 4326.
func EncodeEWKB(b model.Basin) ([]byte, error) {
	if b.Geometry == nil {
		return nil, eris.Errorf("hydro: basin %d has no geometry", b.ID)
	}
	g := b.Geometry
	if g.SRID() == 0 {
		g = g.Clone().SetSRID(SRID)
	}
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrapf(err, "hydro: encode EWKB for basin %d", b.ID)
	}
	return data, nil
}

// DecodeEWKB decodes an EWKB Polygon or MultiPolygon.
func DecodeEWKB(data []byte) (*geom.MultiPolygon, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "hydro: decode EWKB")
	}
	mp, err := model.AsMultiPolygon(g)
	if err != nil {
		return nil, eris.Wrap(err, "hydro: decode EWKB")
	}
	return mp, nil
}
