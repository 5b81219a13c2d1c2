package geoservice

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/catchment-cli/internal/forest"
	"github.com/sells-group/catchment-cli/internal/model"
	"github.com/sells-group/catchment-cli/pkg/geoapi"
)

// Remote serves the Service from the hosted processing API.
type Remote struct {
	client *geoapi.Client
}

// NewRemote wraps an API client.
func NewRemote(client *geoapi.Client) *Remote {
	return &Remote{client: client}
}

func (r *Remote) FetchBasinDataset(ctx context.Context, level int) ([]model.Basin, error) {
	if err := model.ValidateLevel(level); err != nil {
		return nil, err
	}
	in, err := r.client.Basins(ctx, level)
	if err != nil {
		return nil, err
	}
	out := make([]model.Basin, 0, len(in))
	for _, b := range in {
		mb, err := fromWireBasin(b)
		if err != nil {
			return nil, err
		}
		if mb.Level == 0 {
			mb.Level = level
		}
		out = append(out, mb)
	}
	return out, nil
}

func (r *Remote) QueryRasterLayers(ctx context.Context, names []string, region model.BBox) (*forest.LayerSet, error) {
	if len(names) == 0 {
		names = forest.LayerNames()
	}
	if region.IsEmpty() {
		return nil, model.InvalidParameter("query raster layers", "empty region")
	}
	resp, err := r.client.QueryRasters(ctx, geoapi.RasterQuery{
		Layers: names,
		BBox:   [4]float64{region.MinLng, region.MinLat, region.MaxLng, region.MaxLat},
	})
	if err != nil {
		return nil, err
	}

	out := &forest.LayerSet{}
	for _, name := range names {
		g, ok := resp.Layers[name]
		if !ok {
			return nil, eris.Errorf("geoservice: response is missing layer %s", name)
		}
		grid := fromWireGrid(g)
		if err := grid.Validate(); err != nil {
			return nil, eris.Wrapf(err, "geoservice: layer %s", name)
		}
		if err := out.SetLayer(name, grid); err != nil {
			return nil, model.NewOpError(model.ErrInvalidParameter, "query raster layers", err, "layer", name)
		}
	}
	return out, nil
}

func (r *Remote) ReduceRegions(ctx context.Context, raster *forest.ClassifiedRaster, regions []model.Basin) ([]model.ZonalStatRow, error) {
	if len(regions) == 0 {
		return nil, model.NewOpError(model.ErrEmptySelection, OpReduce, eris.New("no basins selected"))
	}
	if raster == nil {
		return nil, model.InvalidParameter(OpReduce, "no classified raster")
	}

	req := geoapi.ReduceRequest{Classes: toWireClasses(raster), Regions: make([]geoapi.Basin, 0, len(regions))}
	for _, b := range regions {
		wb, err := toWireBasin(b)
		if err != nil {
			return nil, err
		}
		req.Regions = append(req.Regions, wb)
	}

	resp, err := r.client.Reduce(ctx, req)
	if err != nil {
		return nil, err
	}
	rows := make([]model.ZonalStatRow, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		c := model.Category(row.Class)
		if !c.Valid() {
			return nil, eris.Errorf("geoservice: reduce returned unknown class %d", row.Class)
		}
		if row.AreaHa > 0 {
			rows = append(rows, model.ZonalStatRow{BasinID: row.BasinID, Category: c, Area: row.AreaHa})
		}
	}
	forest.SortRows(rows)
	return rows, nil
}

func fromWireBasin(b geoapi.Basin) (model.Basin, error) {
	out := model.Basin{ID: b.ID, NextDown: b.NextDown, Level: b.Level}
	if len(b.Geometry) == 0 || string(b.Geometry) == "null" {
		return out, nil
	}
	var g geom.T
	if err := geojson.Unmarshal(b.Geometry, &g); err != nil {
		return out, eris.Wrapf(err, "geoservice: decode geometry of basin %d", b.ID)
	}
	mp, err := model.AsMultiPolygon(g)
	if err != nil {
		return out, eris.Wrapf(err, "geoservice: basin %d", b.ID)
	}
	out.Geometry = mp
	return out, nil
}

func toWireBasin(b model.Basin) (geoapi.Basin, error) {
	out := geoapi.Basin{ID: b.ID, NextDown: b.NextDown, Level: b.Level}
	if b.Geometry == nil {
		return out, nil
	}
	data, err := geojson.Marshal(b.Geometry)
	if err != nil {
		return out, eris.Wrapf(err, "geoservice: encode geometry of basin %d", b.ID)
	}
	out.Geometry = data
	return out, nil
}

func fromWireGrid(g geoapi.Grid) *forest.Grid {
	return &forest.Grid{
		Geometry: forest.Geometry{
			OriginLon: g.OriginLon,
			OriginLat: g.OriginLat,
			PixelSize: g.PixelSize,
			Width:     g.Width,
			Height:    g.Height,
		},
		Data: g.Data,
	}
}

func toWireClasses(r *forest.ClassifiedRaster) geoapi.Grid {
	data := make([]byte, len(r.Classes))
	for i, c := range r.Classes {
		if r.Valid[i] {
			data[i] = byte(c)
		} else {
			data[i] = geoapi.MaskedClass
		}
	}
	return geoapi.Grid{
		OriginLon: r.OriginLon,
		OriginLat: r.OriginLat,
		PixelSize: r.PixelSize,
		Width:     r.Width,
		Height:    r.Height,
		Data:      data,
	}
}
