package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catchment-cli/internal/catchment"
	"github.com/sells-group/catchment-cli/internal/model"
	"github.com/sells-group/catchment-cli/internal/store"
)

type fakeCatchment struct {
	resolveFn func(ctx context.Context, seed model.Point, level int) (*model.UpstreamSet, error)
	statsFn   func(ctx context.Context, req catchment.StatisticsRequest) (*catchment.StatisticsResult, error)

	lastStats catchment.StatisticsRequest
}

func (f *fakeCatchment) ResolveUpstream(ctx context.Context, seed model.Point, level int) (*model.UpstreamSet, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, seed, level)
	}
	return &model.UpstreamSet{
		Level:      level,
		Seed:       seed,
		SeedBasins: []int64{42},
		Members:    []int64{9, 17, 42},
		Iterations: 3,
	}, nil
}

func (f *fakeCatchment) ComputeStatistics(ctx context.Context, req catchment.StatisticsRequest) (*catchment.StatisticsResult, error) {
	f.lastStats = req
	if f.statsFn != nil {
		return f.statsFn(ctx, req)
	}
	return &catchment.StatisticsResult{
		RunID:    "run-1",
		Level:    req.Upstream.Level,
		BasinIDs: req.Upstream.Members,
		Rows: []model.ZonalStatRow{
			{BasinID: 9, Category: model.CategoryNonForest, Area: 9},
			{BasinID: 17, Category: model.LossCategory(5), Area: 17},
			{BasinID: 42, Category: model.CategoryForest, Area: 42},
		},
		TotalArea: 68,
		Duration:  1500 * time.Millisecond,
	}, nil
}

type fakeRuns struct {
	runs       []model.Run
	lastFilter store.RunFilter
}

func (f *fakeRuns) GetRun(_ context.Context, id string) (*model.Run, error) {
	for i := range f.runs {
		if f.runs[i].ID == id {
			return &f.runs[i], nil
		}
	}
	return nil, eris.Wrapf(store.ErrNotFound, "run %s", id)
}

func (f *fakeRuns) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	f.lastFilter = filter
	return f.runs, nil
}

func testServer(svc Catchment, runs RunReader) http.Handler {
	return New(svc, Options{
		Defaults: Defaults{Level: 6, Threshold: 30, StartYear: 0, EndYear: 20},
		Runs:     runs,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("metrics"))
		}),
	}).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	rec := do(t, testServer(&fakeCatchment{}, nil), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestMetricsMounted(t *testing.T) {
	rec := do(t, testServer(&fakeCatchment{}, nil), http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "metrics", rec.Body.String())
}

func TestLevels(t *testing.T) {
	rec := do(t, testServer(&fakeCatchment{}, nil), http.MethodGet, "/v1/levels", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Len(t, body["levels"], model.MaxLevel-model.MinLevel+1)
	assert.EqualValues(t, 6, body["default_level"])
}

func TestCategories(t *testing.T) {
	rec := do(t, testServer(&fakeCatchment{}, nil), http.MethodGet, "/v1/categories", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["categories"], len(model.Categories()))
}

func TestUpstream(t *testing.T) {
	var gotLevel int
	svc := &fakeCatchment{}
	svc.resolveFn = func(_ context.Context, seed model.Point, level int) (*model.UpstreamSet, error) {
		gotLevel = level
		return &model.UpstreamSet{Level: level, Seed: seed, SeedBasins: []int64{42}, Members: []int64{17, 42}}, nil
	}

	rec := do(t, testServer(svc, nil), http.MethodPost, "/v1/upstream", `{"lon":0.5,"lat":0.5}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, gotLevel)

	body := decodeBody(t, rec)
	assert.Equal(t, []any{float64(17), float64(42)}, body["members"])
	assert.Equal(t, false, body["truncated"])
}

func TestUpstream_BadRequests(t *testing.T) {
	h := testServer(&fakeCatchment{}, nil)
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"lon":`},
		{"unknown field", `{"lon":1,"lat":1,"zoom":3}`},
		{"longitude out of range", `{"lon":181,"lat":1}`},
		{"latitude out of range", `{"lon":1,"lat":-91}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/upstream", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_parameter", decodeBody(t, rec)["kind"])
		})
	}
}

func TestStatistics(t *testing.T) {
	svc := &fakeCatchment{}
	h := testServer(svc, nil)

	rec := do(t, h, http.MethodPost, "/v1/statistics",
		`{"lon":0.5,"lat":0.5,"level":7,"start_year":3}`,
		map[string]string{SessionHeader: "tab-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "tab-1", svc.lastStats.Session)
	assert.Equal(t, 3, svc.lastStats.StartYear)
	assert.Equal(t, 20, svc.lastStats.EndYear)
	assert.Equal(t, 30, svc.lastStats.Threshold)
	assert.Equal(t, 7, svc.lastStats.Upstream.Level)

	var resp statisticsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Len(t, resp.Rows, 3)
	assert.Equal(t, model.LossCategory(5), resp.Rows[1].Category)
	assert.InDelta(t, 68.0, resp.Summary.TotalArea, 1e-9)
	assert.Equal(t, []int64{9, 17, 42}, resp.ChartBasins)
	assert.Equal(t, int64(1500), resp.DurationMs)
}

func TestStatistics_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"invalid", model.InvalidParameter("compute statistics", "end_year before start_year"), http.StatusBadRequest, "invalid_parameter"},
		{"empty", model.NewOpError(model.ErrEmptySelection, "compute statistics", nil), http.StatusUnprocessableEntity, "empty_selection"},
		{"superseded", model.NewOpError(model.ErrSuperseded, "compute statistics", nil, "session", "s"), http.StatusConflict, "superseded"},
		{"upstream", model.NewOpError(model.ErrUpstreamUnavailable, "fetch_basin_dataset", eris.New("boom")), http.StatusServiceUnavailable, "upstream_unavailable"},
		{"classification", model.NewOpError(model.ErrClassificationUnavailable, "reduce_regions", eris.New("boom")), http.StatusServiceUnavailable, "classification_unavailable"},
		{"timeout", eris.Wrap(context.DeadlineExceeded, "compute"), http.StatusGatewayTimeout, "timeout"},
		{"internal", eris.New("unexpected"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeCatchment{}
			svc.statsFn = func(context.Context, catchment.StatisticsRequest) (*catchment.StatisticsResult, error) {
				return nil, tt.err
			}
			rec := do(t, testServer(svc, nil), http.MethodPost, "/v1/statistics", `{"lon":0.5,"lat":0.5}`, nil)
			assert.Equal(t, tt.status, rec.Code)
			body := decodeBody(t, rec)
			if tt.kind != "" {
				assert.Equal(t, tt.kind, body["kind"])
			}
			if tt.status == http.StatusInternalServerError {
				assert.Equal(t, "internal error", body["error"])
			}
		})
	}
}

func TestStatistics_UpstreamFailureSkipsCompute(t *testing.T) {
	svc := &fakeCatchment{}
	svc.resolveFn = func(context.Context, model.Point, int) (*model.UpstreamSet, error) {
		return nil, model.ValidateLevel(20)
	}
	called := false
	svc.statsFn = func(context.Context, catchment.StatisticsRequest) (*catchment.StatisticsResult, error) {
		called = true
		return nil, nil
	}

	rec := do(t, testServer(svc, nil), http.MethodPost, "/v1/statistics", `{"lon":0.5,"lat":0.5,"level":20}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}

func TestRuns(t *testing.T) {
	runs := &fakeRuns{runs: []model.Run{
		{ID: "a", Status: model.RunStatusComplete, Params: model.RunParams{Level: 6}},
		{ID: "b", Status: model.RunStatusFailed, Error: "boom"},
	}}
	h := testServer(&fakeCatchment{}, runs)

	rec := do(t, h, http.MethodGet, "/v1/runs?status=failed&level=6&limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["runs"], 2)
	assert.Equal(t, store.RunFilter{Status: model.RunStatusFailed, Level: 6, Limit: 5}, runs.lastFilter)

	rec = do(t, h, http.MethodGet, "/v1/runs?limit=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/runs/a", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a", decodeBody(t, rec)["id"])

	rec = do(t, h, http.MethodGet, "/v1/runs/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["kind"])
}

func TestRuns_Disabled(t *testing.T) {
	rec := do(t, testServer(&fakeCatchment{}, nil), http.MethodGet, "/v1/runs", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS(t *testing.T) {
	h := New(&fakeCatchment{}, Options{AllowedOrigins: []string{"https://example.org"}}).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/v1/statistics", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", SessionHeader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	status, kind := StatusFor(context.Canceled)
	assert.Equal(t, 499, status)
	assert.Equal(t, "canceled", kind)
}
