package report

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/catchment-cli/internal/model"
)

func testRows() []model.ZonalStatRow {
	return []model.ZonalStatRow{
		{BasinID: 9, Category: model.CategoryNonForest, Area: 9},
		{BasinID: 17, Category: model.LossCategory(5), Area: 17},
		{BasinID: 17, Category: model.LossCategory(7), Area: 3},
		{BasinID: 42, Category: model.CategoryForest, Area: 42},
		{BasinID: 42, Category: model.LossCategory(5), Area: 1},
	}
}

func TestNew(t *testing.T) {
	r := New(testRows())
	require.Len(t, r.Records, 5)
	assert.Equal(t, []int64{9, 17, 42}, r.Basins())

	rec := r.Records[1]
	assert.Equal(t, int64(17), rec.Basin)
	assert.Equal(t, "Loss 2005", rec.Label)
	assert.Equal(t, model.GroupLoss, rec.Group)
	assert.Equal(t, 2005, rec.Year)
	assert.Equal(t, model.LossCategory(5).Color(), rec.Color)
	assert.Equal(t, BasinColor(17), rec.BasinColor)

	assert.Equal(t, "Non Forest", r.Records[0].Label)
	assert.Zero(t, r.Records[0].Year)
	assert.InDelta(t, 72.0, r.TotalArea(), 1e-9)
}

func TestDisplayLabel(t *testing.T) {
	tests := map[string]string{
		"forest":     "Forest",
		"non_forest": "Non Forest",
		"gain_loss":  "Gain Loss",
		"loss_2019":  "Loss 2019",
	}
	for in, want := range tests {
		assert.Equal(t, want, DisplayLabel(in), in)
	}
}

func TestBasinColor(t *testing.T) {
	assert.Equal(t, BasinColor(3), BasinColor(3))
	assert.Equal(t, BasinColor(3), BasinColor(3+int64(len(basinPalette))))
	assert.NotEqual(t, BasinColor(3), BasinColor(4))
	assert.NotEmpty(t, BasinColor(-7))
}

func TestGroupTotals(t *testing.T) {
	got := New(testRows()).GroupTotals()
	require.Len(t, got, 3)

	assert.Equal(t, model.GroupLoss, got[0].Group)
	assert.InDelta(t, 21.0, got[0].Area, 1e-9)
	assert.Equal(t, model.GroupColor(model.GroupLoss), got[0].Color)
	assert.Equal(t, model.GroupNonForest, got[1].Group)
	assert.Equal(t, "Non Forest", got[1].Label)
	assert.Equal(t, model.GroupForest, got[2].Group)
	assert.InDelta(t, 42.0, got[2].Area, 1e-9)
}

func TestBasinTotals(t *testing.T) {
	r := New(testRows())

	all := r.BasinTotals(nil)
	require.Len(t, all, 3)
	assert.Equal(t, BasinTotal{Basin: 9, Area: 9, Color: BasinColor(9)}, all[0])
	assert.InDelta(t, 20.0, all[1].Area, 1e-9)
	assert.InDelta(t, 43.0, all[2].Area, 1e-9)

	some := r.BasinTotals([]int64{42, 100})
	require.Len(t, some, 2)
	assert.InDelta(t, 43.0, some[0].Area, 1e-9)
	assert.Zero(t, some[1].Area)
}

func TestGroupByBasin(t *testing.T) {
	got := New(testRows()).GroupByBasin(model.GroupLoss, nil)
	require.Len(t, got, 3)
	assert.Zero(t, got[0].Area)
	assert.InDelta(t, 20.0, got[1].Area, 1e-9)
	assert.InDelta(t, 1.0, got[2].Area, 1e-9)
}

func TestLossTrend(t *testing.T) {
	got := New(testRows()).LossTrend([]int64{17}, 2004, 2007)
	require.Len(t, got, 4)

	areas := make(map[int]float64)
	for _, p := range got {
		assert.Equal(t, int64(17), p.Basin)
		areas[p.Year] = p.Area
	}
	assert.Equal(t, map[int]float64{2004: 0, 2005: 17, 2006: 0, 2007: 3}, areas)

	assert.Empty(t, New(testRows()).LossTrend(nil, 2010, 2005))
}

func TestChartBasins(t *testing.T) {
	ids := make([]int64, 15)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	got := DefaultChartBasins(ids)
	assert.Len(t, got, DefaultMaxChartBasins)
	assert.Equal(t, int64(1), got[0])

	assert.Equal(t, []int64{1, 2}, ChartBasins([]int64{1, 2}, 10))
	assert.Len(t, ChartBasins(ids, 0), 15)

	got[0] = 99
	assert.Equal(t, int64(1), ids[0])
}

func TestSummary(t *testing.T) {
	s := New(testRows()).Summary()
	assert.InDelta(t, 72.0, s.TotalArea, 1e-9)
	assert.Len(t, s.Groups, 3)
	assert.Len(t, s.Basins, 3)
}

func TestEmptyReport(t *testing.T) {
	r := New(nil)
	assert.Empty(t, r.Records)
	assert.Empty(t, r.GroupTotals())
	assert.Empty(t, r.BasinTotals(nil))
	assert.Zero(t, r.TotalArea())
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.xlsx")
	require.NoError(t, New(testRows()).WriteXLSX(path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)

	rows, ok := f.Sheet[SheetRows]
	require.True(t, ok)
	require.Len(t, rows.Rows, 6)
	assert.Equal(t, "basin", rows.Rows[0].Cells[0].String())
	assert.Equal(t, "loss_2005", rows.Rows[2].Cells[1].String())
	assert.Equal(t, "Loss 2005", rows.Rows[2].Cells[2].String())

	groups, ok := f.Sheet[SheetGroups]
	require.True(t, ok)
	assert.Len(t, groups.Rows, 4)
	assert.Equal(t, "loss", groups.Rows[1].Cells[0].String())

	basins, ok := f.Sheet[SheetBasins]
	require.True(t, ok)
	assert.Len(t, basins.Rows, 4)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, New(testRows())))

	var decoded struct {
		Records []struct {
			Basin    int64   `json:"basin"`
			Category string  `json:"category"`
			Area     float64 `json:"area_ha"`
		} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Records, 5)
	assert.Equal(t, "loss_2005", decoded.Records[1].Category)
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteYAML(&buf, New(testRows()).Summary()))

	var decoded Summary
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.InDelta(t, 72.0, decoded.TotalArea, 1e-9)
	require.Len(t, decoded.Groups, 3)
	assert.Equal(t, "loss", decoded.Groups[0].Group)
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(testRows()).WriteTable(&buf))

	out := buf.String()
	assert.Contains(t, out, "BASIN")
	assert.Contains(t, out, "Loss 2005")
	assert.Contains(t, out, "72.00")
}
