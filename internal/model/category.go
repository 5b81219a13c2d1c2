package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Year range of the loss band, as offsets from BaseYear.
const (
	BaseYear    = 2000
	MinLossYear = 0
	MaxLossYear = 20
)

// Category is a classified pixel class. Loss categories use the year
// offset as their code; the remaining classes use fixed codes.
type Category uint8

// Fixed category codes.
const (
	CategoryNonForest Category = 30
	CategoryForest    Category = 40
	CategoryGain      Category = 50
	CategoryGainLoss  Category = 51
)

// Aggregation groups.
const (
	GroupLoss      = "loss"
	GroupNonForest = "non_forest"
	GroupForest    = "forest"
	GroupGain      = "gain"
	GroupGainLoss  = "gain_loss"
)

// LossCategory returns the loss category for a year offset.
func LossCategory(yearOffset int) Category {
	return Category(yearOffset)
}

// IsLoss reports whether c is a per-year loss category.
func (c Category) IsLoss() bool {
	return int(c) >= MinLossYear && int(c) <= MaxLossYear
}

// Valid reports whether c is a known category code.
func (c Category) Valid() bool {
	switch c {
	case CategoryNonForest, CategoryForest, CategoryGain, CategoryGainLoss:
		return true
	}
	return c.IsLoss()
}

// Year returns the calendar year of a loss category, or 0 otherwise.
func (c Category) Year() int {
	if !c.IsLoss() {
		return 0
	}
	return BaseYear + int(c)
}

// Label returns the category name, e.g. "loss_2005" or "gain".
func (c Category) Label() string {
	switch c {
	case CategoryNonForest:
		return GroupNonForest
	case CategoryForest:
		return GroupForest
	case CategoryGain:
		return GroupGain
	case CategoryGainLoss:
		return GroupGainLoss
	}
	if c.IsLoss() {
		return fmt.Sprintf("loss_%d", c.Year())
	}
	return fmt.Sprintf("unknown_%d", uint8(c))
}

func (c Category) String() string { return c.Label() }

// Group returns the aggregation group of the category.
func (c Category) Group() string {
	if c.IsLoss() {
		return GroupLoss
	}
	return c.Label()
}

// Color returns the display color as a #rrggbb string.
func (c Category) Color() string {
	switch c {
	case CategoryNonForest:
		return "#d3d3d3"
	case CategoryForest:
		return "#006400"
	case CategoryGain:
		return "#90ee90"
	case CategoryGainLoss:
		return "#800080"
	}
	if !c.IsLoss() {
		return "#000000"
	}
	return lossColor(int(c))
}

// lossColor fades from yellow to darkred across the loss year range.
func lossColor(year int) string {
	n := float64(MaxLossYear - MinLossYear + 1)
	mix := float64(year) / n
	from := [3]float64{1, 1, 0}
	to := [3]float64{139.0 / 255.0, 0, 0}
	var rgb [3]int
	for i := range rgb {
		rgb[i] = int(math.Round(((1-mix)*from[i] + mix*to[i]) * 255))
	}
	return fmt.Sprintf("#%02x%02x%02x", rgb[0], rgb[1], rgb[2])
}

// GroupColor returns the display color of an aggregation group.
func GroupColor(group string) string {
	switch group {
	case GroupLoss:
		return "#8b0000"
	case GroupNonForest:
		return CategoryNonForest.Color()
	case GroupForest:
		return CategoryForest.Color()
	case GroupGain:
		return CategoryGain.Color()
	case GroupGainLoss:
		return CategoryGainLoss.Color()
	}
	return "#000000"
}

// Categories lists every category: loss years first, then fixed classes.
func Categories() []Category {
	out := make([]Category, 0, MaxLossYear-MinLossYear+5)
	for y := MinLossYear; y <= MaxLossYear; y++ {
		out = append(out, LossCategory(y))
	}
	return append(out, CategoryNonForest, CategoryForest, CategoryGain, CategoryGainLoss)
}

// Groups lists the aggregation groups in display order.
func Groups() []string {
	return []string{GroupLoss, GroupNonForest, GroupForest, GroupGain, GroupGainLoss}
}

// ParseCategory parses a label ("loss_2005", "forest") or a numeric code.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case GroupNonForest:
		return CategoryNonForest, nil
	case GroupForest:
		return CategoryForest, nil
	case GroupGain:
		return CategoryGain, nil
	case GroupGainLoss:
		return CategoryGainLoss, nil
	}
	if rest, ok := strings.CutPrefix(s, "loss_"); ok {
		year, err := strconv.Atoi(rest)
		if err != nil {
			return 0, eris.Wrapf(err, "model: parse category %q", s)
		}
		off := year - BaseYear
		if off < MinLossYear || off > MaxLossYear {
			return 0, eris.Errorf("model: loss year %d out of range", year)
		}
		return LossCategory(off), nil
	}
	code, err := strconv.Atoi(s)
	if err != nil || code < 0 || code > math.MaxUint8 || !Category(code).Valid() {
		return 0, eris.Errorf("model: unknown category %q", s)
	}
	return Category(code), nil
}

// MarshalText encodes the category as its label.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.Label()), nil
}

// UnmarshalText accepts labels and numeric codes.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// CategoryInfo is the static description of a category.
type CategoryInfo struct {
	Code  uint8  `json:"code" yaml:"code"`
	Label string `json:"label" yaml:"label"`
	Group string `json:"group" yaml:"group"`
	Color string `json:"color" yaml:"color"`
	Year  int    `json:"year,omitempty" yaml:"year,omitempty"`
}

// CategoryTable returns the full category lookup table.
func CategoryTable() []CategoryInfo {
	cats := Categories()
	out := make([]CategoryInfo, len(cats))
	for i, c := range cats {
		out[i] = CategoryInfo{
			Code:  uint8(c),
			Label: c.Label(),
			Group: c.Group(),
			Color: c.Color(),
			Year:  c.Year(),
		}
	}
	return out
}

// ZonalStatRow is the classified area of one category inside one basin.
type ZonalStatRow struct {
	BasinID  int64    `json:"basin_id" yaml:"basin_id"`
	Category Category `json:"category" yaml:"category"`
	Area     float64  `json:"area_ha" yaml:"area_ha"`
}
