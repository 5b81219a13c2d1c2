package catchment

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/catchment-cli/internal/forest"
	"github.com/sells-group/catchment-cli/internal/geoservice"
	"github.com/sells-group/catchment-cli/internal/hydro"
	"github.com/sells-group/catchment-cli/internal/model"
	"github.com/sells-group/catchment-cli/internal/rasterstore"
)

func square(id, next int64, x, y float64) model.Basin {
	flat := []float64{x, y, x, y + 1, x + 1, y + 1, x + 1, y, x, y}
	return model.Basin{
		ID:       id,
		NextDown: next,
		Level:    6,
		Geometry: geom.NewMultiPolygonFlat(geom.XY, flat, [][]int{{len(flat)}}),
	}
}

// testBasins: 9 drains to 17, 17 drains to 42 (outlet); 5 is unrelated.
func testBasins() []model.Basin {
	return []model.Basin{
		square(42, 0, 0, 0),
		square(17, 42, 1, 0),
		square(9, 17, 2, 0),
		square(5, 0, 3, 0),
	}
}

// testGeo is a local service over testBasins and a 4x1 raster: forest
// under 42, loss in 2005 under 17, non-forest under 9 and gain under 5.
type testGeo struct {
	*geoservice.Local
	basinCalls atomic.Int32
	layerCalls atomic.Int32
	basinHook  func(ctx context.Context) error
	reduceHook func(ctx context.Context) error
}

func newTestGeo(t *testing.T) *testGeo {
	t.Helper()
	geo := forest.Geometry{OriginLon: 0, OriginLat: 1, PixelSize: 1, Width: 4, Height: 1}
	rasters := rasterstore.New(rasterstore.NewMemoryBucket(), "")
	require.NoError(t, rasters.PutLayers(context.Background(), &forest.LayerSet{
		TreeCover: &forest.Grid{Geometry: geo, Data: []uint8{80, 80, 10, 80}},
		Gain:      &forest.Grid{Geometry: geo, Data: []uint8{0, 0, 0, 1}},
		LossYear:  &forest.Grid{Geometry: geo, Data: []uint8{0, 5, 0, 0}},
	}))

	g := &testGeo{}
	basins := hydro.BasinSourceFunc(func(ctx context.Context, _ int) ([]model.Basin, error) {
		g.basinCalls.Add(1)
		if g.basinHook != nil {
			if err := g.basinHook(ctx); err != nil {
				return nil, err
			}
		}
		return testBasins(), nil
	})
	g.Local = geoservice.NewLocal(basins, rasters).WithArea(forest.ConstantArea(1))
	return g
}

func (g *testGeo) QueryRasterLayers(ctx context.Context, names []string, region model.BBox) (*forest.LayerSet, error) {
	g.layerCalls.Add(1)
	return g.Local.QueryRasterLayers(ctx, names, region)
}

func (g *testGeo) ReduceRegions(ctx context.Context, raster *forest.ClassifiedRaster, regions []model.Basin) ([]model.ZonalStatRow, error) {
	if g.reduceHook != nil {
		if err := g.reduceHook(ctx); err != nil {
			return nil, err
		}
	}
	return g.Local.ReduceRegions(ctx, raster, regions)
}

// memoryRuns is an in-memory RunStore.
type memoryRuns struct {
	mu   sync.Mutex
	runs map[string]*model.Run
	fail bool
}

func newMemoryRuns() *memoryRuns {
	return &memoryRuns{runs: make(map[string]*model.Run)}
}

func (m *memoryRuns) CreateRun(_ context.Context, params model.RunParams) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, eris.New("store offline")
	}
	r := &model.Run{ID: uuid.NewString(), Params: params, Status: model.RunStatusRunning}
	m.runs[r.ID] = r
	return r, nil
}

func (m *memoryRuns) UpdateRunResult(_ context.Context, id string, result *model.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[id].Status = model.RunStatusComplete
	m.runs[id].Result = result
	return nil
}

func (m *memoryRuns) FailRun(_ context.Context, id string, status model.RunStatus, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[id].Status = status
	m.runs[id].Error = msg
	return nil
}

func (m *memoryRuns) get(id string) model.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.runs[id]
}

func (m *memoryRuns) byStatus(status model.RunStatus) []model.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Run
	for _, r := range m.runs {
		if r.Status == status {
			out = append(out, *r)
		}
	}
	return out
}
