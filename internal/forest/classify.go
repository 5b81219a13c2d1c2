package forest

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/catchment-cli/internal/model"
)

// Domain limits of the input bands.
const (
	MaxTreeCover = 100
	MaxThreshold = 100
)

// Params are the classification parameters. Years are offsets from
// model.BaseYear.
type Params struct {
	Threshold int `json:"threshold" yaml:"threshold"`
	StartYear int `json:"start_year" yaml:"start_year"`
	EndYear   int `json:"end_year" yaml:"end_year"`
}

// Validate fails with ErrInvalidParameter for out-of-range values.
func (p Params) Validate() error {
	if p.Threshold < 0 || p.Threshold > MaxThreshold {
		return model.NewOpError(model.ErrInvalidParameter, "validate classification",
			eris.Errorf("threshold must be between 0 and %d", MaxThreshold), "threshold", p.Threshold)
	}
	if p.StartYear < model.MinLossYear || p.EndYear > model.MaxLossYear || p.StartYear > p.EndYear {
		return model.NewOpError(model.ErrInvalidParameter, "validate classification",
			eris.Errorf("year range must satisfy %d <= start <= end <= %d", model.MinLossYear, model.MaxLossYear),
			"start_year", p.StartYear, "end_year", p.EndYear)
	}
	return nil
}

// ClassifyPixel maps one pixel to its category. The rules are evaluated in
// order and the first match wins. A loss year of 0 means the pixel was never
// lost and satisfies none of the year-window predicates. ok is false for
// pixels outside the input domain, which are masked rather than defaulted.
func ClassifyPixel(cover, gain, lossYear uint8, p Params) (cat model.Category, ok bool) {
	if cover > MaxTreeCover || gain > 1 || lossYear > model.MaxLossYear {
		return 0, false
	}

	c, ly := int(cover), int(lossYear)
	lost := ly != 0
	inWindow := lost && ly >= p.StartYear && ly <= p.EndYear

	switch {
	case c <= p.Threshold && gain == 1:
		return model.CategoryGain, true
	case c <= p.Threshold:
		return model.CategoryNonForest, true
	case lost && ly < p.StartYear:
		return model.CategoryNonForest, true
	case lost && ly > p.EndYear:
		return model.CategoryForest, true
	case gain == 1 && inWindow:
		return model.CategoryGainLoss, true
	case gain == 1 && !lost:
		return model.CategoryGain, true
	case inWindow:
		return model.LossCategory(ly), true
	case !lost:
		return model.CategoryForest, true
	}
	return 0, false
}

// ClassifiedRaster is a classified grid. Classes is only meaningful where
// Valid is true.
type ClassifiedRaster struct {
	Geometry
	Params  Params           `json:"params"`
	Classes []model.Category `json:"classes"`
	Valid   []bool           `json:"valid"`
}

// At returns the category of pixel (col, row) and whether it is valid.
func (r *ClassifiedRaster) At(col, row int) (model.Category, bool) {
	i := row*r.Width + col
	return r.Classes[i], r.Valid[i]
}

// Counts returns the number of valid pixels per category.
func (r *ClassifiedRaster) Counts() map[model.Category]int {
	out := make(map[model.Category]int)
	for i, ok := range r.Valid {
		if ok {
			out[r.Classes[i]]++
		}
	}
	return out
}

// Classify classifies every pixel of the layer set.
func Classify(layers *LayerSet, threshold, startYear, endYear int) (*ClassifiedRaster, error) {
	p := Params{Threshold: threshold, StartYear: startYear, EndYear: endYear}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := layers.Validate(); err != nil {
		return nil, err
	}

	geo := layers.TreeCover.Geometry
	out := &ClassifiedRaster{
		Geometry: geo,
		Params:   p,
		Classes:  make([]model.Category, geo.Len()),
		Valid:    make([]bool, geo.Len()),
	}
	cover, gain, loss := layers.TreeCover.Data, layers.Gain.Data, layers.LossYear.Data
	for i := range out.Classes {
		out.Classes[i], out.Valid[i] = ClassifyPixel(cover[i], gain[i], loss[i], p)
	}
	return out, nil
}
