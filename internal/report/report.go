// Package report turns zonal statistics rows into the long-format table and
// the chart-ready aggregates used by the CLI, the HTTP API and exports.
package report

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/catchment-cli/internal/model"
)

// DefaultMaxChartBasins caps the basins shown in per-basin charts.
const DefaultMaxChartBasins = 10

// basinPalette is a categorical palette cycled by basin id.
var basinPalette = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
}

// BasinColor returns the display color of a basin. The same id always maps
// to the same color.
func BasinColor(id int64) string {
	n := int64(len(basinPalette))
	return basinPalette[((id%n)+n)%n]
}

// Record is one row of the long-format statistics table.
type Record struct {
	Basin      int64          `json:"basin" yaml:"basin"`
	Category   model.Category `json:"category" yaml:"category"`
	Label      string         `json:"label" yaml:"label"`
	Group      string         `json:"group" yaml:"group"`
	Year       int            `json:"year,omitempty" yaml:"year,omitempty"`
	Area       float64        `json:"area_ha" yaml:"area_ha"`
	Color      string         `json:"color" yaml:"color"`
	BasinColor string         `json:"basin_color" yaml:"basin_color"`
}

// GroupTotal is the area of one aggregation group.
type GroupTotal struct {
	Group string  `json:"group" yaml:"group"`
	Label string  `json:"label" yaml:"label"`
	Area  float64 `json:"area_ha" yaml:"area_ha"`
	Color string  `json:"color" yaml:"color"`
}

// BasinTotal is an area attributed to one basin.
type BasinTotal struct {
	Basin int64   `json:"basin" yaml:"basin"`
	Area  float64 `json:"area_ha" yaml:"area_ha"`
	Color string  `json:"color" yaml:"color"`
}

// TrendPoint is the loss area of one basin in one calendar year.
type TrendPoint struct {
	Basin int64   `json:"basin" yaml:"basin"`
	Year  int     `json:"year" yaml:"year"`
	Area  float64 `json:"area_ha" yaml:"area_ha"`
	Color string  `json:"color" yaml:"color"`
}

// Summary is the compact view returned alongside statistics results.
type Summary struct {
	TotalArea float64      `json:"total_area_ha" yaml:"total_area_ha"`
	Groups    []GroupTotal `json:"groups" yaml:"groups"`
	Basins    []BasinTotal `json:"basins" yaml:"basins"`
}

// Report is the long-format table built from zonal statistics rows.
type Report struct {
	Records []Record `json:"records" yaml:"records"`
	basins  []int64
}

// New builds a report. Records keep the order of rows; basins are listed in
// ascending id order.
func New(rows []model.ZonalStatRow) *Report {
	r := &Report{Records: make([]Record, 0, len(rows))}
	seen := make(map[int64]bool)
	for _, row := range rows {
		r.Records = append(r.Records, Record{
			Basin:      row.BasinID,
			Category:   row.Category,
			Label:      DisplayLabel(row.Category.Label()),
			Group:      row.Category.Group(),
			Year:       row.Category.Year(),
			Area:       row.Area,
			Color:      row.Category.Color(),
			BasinColor: BasinColor(row.BasinID),
		})
		if !seen[row.BasinID] {
			seen[row.BasinID] = true
			r.basins = append(r.basins, row.BasinID)
		}
	}
	slices.Sort(r.basins)
	return r
}

// DisplayLabel turns a category or group name into a title-cased label:
// "loss_2005" becomes "Loss 2005".
func DisplayLabel(name string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(name, "_", " "))
}

// Basins returns the ids present in the report.
func (r *Report) Basins() []int64 {
	return slices.Clone(r.basins)
}

// TotalArea sums every record.
func (r *Report) TotalArea() float64 {
	var total float64
	for _, rec := range r.Records {
		total += rec.Area
	}
	return total
}

// GroupTotals returns the area per aggregation group in display order,
// omitting groups with no area.
func (r *Report) GroupTotals() []GroupTotal {
	sums := make(map[string]float64)
	for _, rec := range r.Records {
		sums[rec.Group] += rec.Area
	}
	var out []GroupTotal
	for _, g := range model.Groups() {
		area, ok := sums[g]
		if !ok {
			continue
		}
		out = append(out, GroupTotal{Group: g, Label: DisplayLabel(g), Area: area, Color: model.GroupColor(g)})
	}
	return out
}

// BasinTotals returns the total area per basin over all categories. A nil
// ids selects every basin in the report.
func (r *Report) BasinTotals(ids []int64) []BasinTotal {
	return r.basinSums(ids, func(Record) bool { return true })
}

// GroupByBasin returns the area of one group per basin.
func (r *Report) GroupByBasin(group string, ids []int64) []BasinTotal {
	return r.basinSums(ids, func(rec Record) bool { return rec.Group == group })
}

func (r *Report) basinSums(ids []int64, keep func(Record) bool) []BasinTotal {
	if ids == nil {
		ids = r.basins
	}
	sums := make(map[int64]float64, len(ids))
	for _, rec := range r.Records {
		if keep(rec) {
			sums[rec.Basin] += rec.Area
		}
	}
	out := make([]BasinTotal, 0, len(ids))
	for _, id := range ids {
		out = append(out, BasinTotal{Basin: id, Area: sums[id], Color: BasinColor(id)})
	}
	return out
}

// LossTrend returns the loss area per basin for every calendar year in
// [fromYear, toYear]. Years without loss are reported as zero so each
// basin yields a continuous series.
func (r *Report) LossTrend(ids []int64, fromYear, toYear int) []TrendPoint {
	if ids == nil {
		ids = r.basins
	}
	type key struct {
		basin int64
		year  int
	}
	sums := make(map[key]float64)
	for _, rec := range r.Records {
		if rec.Category.IsLoss() {
			sums[key{rec.Basin, rec.Year}] += rec.Area
		}
	}
	var out []TrendPoint
	for _, id := range ids {
		for y := fromYear; y <= toYear; y++ {
			out = append(out, TrendPoint{Basin: id, Year: y, Area: sums[key{id, y}], Color: BasinColor(id)})
		}
	}
	return out
}

// Summary returns the totals shown next to a statistics result.
func (r *Report) Summary() Summary {
	return Summary{
		TotalArea: r.TotalArea(),
		Groups:    r.GroupTotals(),
		Basins:    r.BasinTotals(nil),
	}
}

// ChartBasins returns the first n ids, or all of them when n <= 0.
func ChartBasins(ids []int64, n int) []int64 {
	if n <= 0 || len(ids) <= n {
		return slices.Clone(ids)
	}
	return slices.Clone(ids[:n])
}

// DefaultChartBasins returns the basins preselected for detailed views.
func DefaultChartBasins(ids []int64) []int64 {
	return ChartBasins(ids, DefaultMaxChartBasins)
}
