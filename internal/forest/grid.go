// Package forest classifies forest-change rasters into change categories
// and aggregates classified area per basin.
package forest

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catchment-cli/internal/model"
)

// Layer names of the forest change dataset.
const (
	LayerTreeCover = "treecover2000"
	LayerGain      = "gain"
	LayerLossYear  = "lossyear"
)

// LayerNames lists the bands Classify needs, in fetch order.
func LayerNames() []string {
	return []string{LayerTreeCover, LayerGain, LayerLossYear}
}

// Geometry places a north-up, row-major pixel grid on the globe. The origin
// is the top-left corner of pixel (0, 0).
type Geometry struct {
	OriginLon float64 `json:"origin_lon"`
	OriginLat float64 `json:"origin_lat"`
	PixelSize float64 `json:"pixel_size"` // degrees
	Width     int     `json:"width"`
	Height    int     `json:"height"`
}

// Len returns the number of pixels.
func (g Geometry) Len() int { return g.Width * g.Height }

// Validate rejects non-positive pixel sizes and negative dimensions.
func (g Geometry) Validate() error {
	if !(g.PixelSize > 0) || math.IsInf(g.PixelSize, 0) {
		return eris.Errorf("forest: pixel size must be positive, got %v", g.PixelSize)
	}
	if g.Width < 0 || g.Height < 0 {
		return eris.Errorf("forest: invalid grid size %dx%d", g.Width, g.Height)
	}
	return nil
}

// Aligned reports whether two grids cover the same pixels.
func (g Geometry) Aligned(o Geometry) bool {
	return g == o
}

// Bounds returns the geographic extent of the grid.
func (g Geometry) Bounds() model.BBox {
	if g.Len() == 0 {
		return model.EmptyBBox()
	}
	return model.BBox{
		MinLng: g.OriginLon,
		MinLat: g.OriginLat - float64(g.Height)*g.PixelSize,
		MaxLng: g.OriginLon + float64(g.Width)*g.PixelSize,
		MaxLat: g.OriginLat,
	}
}

// PixelCenter returns the center of pixel (col, row).
func (g Geometry) PixelCenter(col, row int) model.Point {
	return model.Point{
		Lon: g.OriginLon + (float64(col)+0.5)*g.PixelSize,
		Lat: g.OriginLat - (float64(row)+0.5)*g.PixelSize,
	}
}

// Window returns the half-open pixel range [col0,col1) x [row0,row1) whose
// pixels intersect region, clamped to the grid. The range is empty when the
// region misses the grid.
func (g Geometry) Window(region model.BBox) (col0, row0, col1, row1 int) {
	if region.IsEmpty() || g.Len() == 0 {
		return 0, 0, 0, 0
	}
	col0 = clamp(int(math.Floor((region.MinLng-g.OriginLon)/g.PixelSize)), 0, g.Width)
	col1 = clamp(int(math.Ceil((region.MaxLng-g.OriginLon)/g.PixelSize)), 0, g.Width)
	row0 = clamp(int(math.Floor((g.OriginLat-region.MaxLat)/g.PixelSize)), 0, g.Height)
	row1 = clamp(int(math.Ceil((g.OriginLat-region.MinLat)/g.PixelSize)), 0, g.Height)
	if col1 <= col0 || row1 <= row0 {
		return 0, 0, 0, 0
	}
	return col0, row0, col1, row1
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Grid is one raster band of 8-bit values.
type Grid struct {
	Geometry
	Data []uint8 `json:"data"`
}

// NewGrid allocates a zeroed grid.
func NewGrid(geo Geometry) *Grid {
	return &Grid{Geometry: geo, Data: make([]uint8, geo.Len())}
}

// At returns the value of pixel (col, row).
func (g *Grid) At(col, row int) uint8 {
	return g.Data[row*g.Width+col]
}

// Set writes the value of pixel (col, row).
func (g *Grid) Set(col, row int, v uint8) {
	g.Data[row*g.Width+col] = v
}

// Validate checks the geometry and that Data matches it.
func (g *Grid) Validate() error {
	if g == nil {
		return eris.New("forest: nil grid")
	}
	if err := g.Geometry.Validate(); err != nil {
		return err
	}
	if len(g.Data) != g.Len() {
		return eris.Errorf("forest: grid has %d values for %dx%d pixels", len(g.Data), g.Width, g.Height)
	}
	return nil
}

// Crop returns the sub-grid covering region. The result shares no memory
// with g.
func (g *Grid) Crop(region model.BBox) *Grid {
	col0, row0, col1, row1 := g.Window(region)
	out := NewGrid(Geometry{
		OriginLon: g.OriginLon + float64(col0)*g.PixelSize,
		OriginLat: g.OriginLat - float64(row0)*g.PixelSize,
		PixelSize: g.PixelSize,
		Width:     col1 - col0,
		Height:    row1 - row0,
	})
	for r := row0; r < row1; r++ {
		copy(out.Data[(r-row0)*out.Width:(r-row0+1)*out.Width], g.Data[r*g.Width+col0:r*g.Width+col1])
	}
	return out
}

// LayerSet holds the three aligned bands a classification needs.
type LayerSet struct {
	TreeCover *Grid `json:"treecover2000"`
	Gain      *Grid `json:"gain"`
	LossYear  *Grid `json:"lossyear"`
}

// Layer returns a band by name.
func (ls *LayerSet) Layer(name string) (*Grid, bool) {
	switch name {
	case LayerTreeCover:
		return ls.TreeCover, ls.TreeCover != nil
	case LayerGain:
		return ls.Gain, ls.Gain != nil
	case LayerLossYear:
		return ls.LossYear, ls.LossYear != nil
	}
	return nil, false
}

// SetLayer stores a band by name.
func (ls *LayerSet) SetLayer(name string, g *Grid) error {
	switch name {
	case LayerTreeCover:
		ls.TreeCover = g
	case LayerGain:
		ls.Gain = g
	case LayerLossYear:
		ls.LossYear = g
	default:
		return eris.Errorf("forest: unknown layer %q", name)
	}
	return nil
}

// Validate fails with ErrInvalidParameter when a band is missing, malformed
// or misaligned with the others.
func (ls *LayerSet) Validate() error {
	if ls == nil {
		return model.InvalidParameter("validate layers", "no raster layers")
	}
	for _, name := range LayerNames() {
		g, ok := ls.Layer(name)
		if !ok {
			return model.InvalidParameter("validate layers", "missing layer %s", name)
		}
		if err := g.Validate(); err != nil {
			return model.NewOpError(model.ErrInvalidParameter, "validate layers", err, "layer", name)
		}
	}
	if !ls.TreeCover.Aligned(ls.Gain.Geometry) || !ls.TreeCover.Aligned(ls.LossYear.Geometry) {
		return model.InvalidParameter("validate layers", "layers are not aligned")
	}
	return nil
}

// Crop crops every band to region.
func (ls *LayerSet) Crop(region model.BBox) *LayerSet {
	return &LayerSet{
		TreeCover: ls.TreeCover.Crop(region),
		Gain:      ls.Gain.Crop(region),
		LossYear:  ls.LossYear.Crop(region),
	}
}
