package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"
)

// Sheet names written by WriteXLSX.
const (
	SheetRows   = "rows"
	SheetGroups = "groups"
	SheetBasins = "basins"
)

// WriteXLSX saves the report as a workbook with one sheet for the long
// table, one for group totals and one for basin totals.
func (r *Report) WriteXLSX(path string) error {
	f := xlsx.NewFile()

	rows, err := f.AddSheet(SheetRows)
	if err != nil {
		return eris.Wrap(err, "report: add rows sheet")
	}
	addStrings(rows, "basin", "category", "label", "group", "year", "area_ha")
	for _, rec := range r.Records {
		row := rows.AddRow()
		row.AddCell().SetInt64(rec.Basin)
		row.AddCell().SetString(rec.Category.Label())
		row.AddCell().SetString(rec.Label)
		row.AddCell().SetString(rec.Group)
		if rec.Year > 0 {
			row.AddCell().SetInt(rec.Year)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetFloat(rec.Area)
	}

	groups, err := f.AddSheet(SheetGroups)
	if err != nil {
		return eris.Wrap(err, "report: add groups sheet")
	}
	addStrings(groups, "group", "label", "area_ha", "color")
	for _, g := range r.GroupTotals() {
		row := groups.AddRow()
		row.AddCell().SetString(g.Group)
		row.AddCell().SetString(g.Label)
		row.AddCell().SetFloat(g.Area)
		row.AddCell().SetString(g.Color)
	}

	basins, err := f.AddSheet(SheetBasins)
	if err != nil {
		return eris.Wrap(err, "report: add basins sheet")
	}
	addStrings(basins, "basin", "area_ha", "color")
	for _, b := range r.BasinTotals(nil) {
		row := basins.AddRow()
		row.AddCell().SetInt64(b.Basin)
		row.AddCell().SetFloat(b.Area)
		row.AddCell().SetString(b.Color)
	}

	return eris.Wrapf(f.Save(path), "report: save xlsx %s", path)
}

func addStrings(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// WriteJSON encodes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "report: encode json")
}

// WriteYAML encodes v as YAML.
func WriteYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "report: encode yaml")
	}
	return eris.Wrap(enc.Close(), "report: close yaml encoder")
}

// WriteTable prints the long table followed by group totals.
func (r *Report) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BASIN\tCATEGORY\tGROUP\tAREA (ha)")
	for _, rec := range r.Records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", rec.Basin, rec.Label, rec.Group, formatArea(rec.Area))
	}
	fmt.Fprintln(tw, "\t\t\t")
	for _, g := range r.GroupTotals() {
		fmt.Fprintf(tw, "\t%s\t%s\t%s\n", g.Label, g.Group, formatArea(g.Area))
	}
	fmt.Fprintf(tw, "\tTotal\t\t%s\n", formatArea(r.TotalArea()))
	return eris.Wrap(tw.Flush(), "report: flush table")
}

func formatArea(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
