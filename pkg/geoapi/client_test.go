package geoapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/catchment-cli/internal/resilience"
)

func newTestClient(url string) *Client {
	c := NewClient(url+"/", WithAPIKey("secret"))
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

func TestClient_Basins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/basins/6", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			{"hybas_id": 42, "next_down": 0, "level": 6,
			 "geometry": {"type": "Polygon", "coordinates": [[[0,0],[0,1],[1,1],[1,0],[0,0]]]}}
		]`)
	}))
	defer srv.Close()

	basins, err := newTestClient(srv.URL).Basins(context.Background(), 6)
	require.NoError(t, err)
	require.Len(t, basins, 1)
	assert.Equal(t, int64(42), basins[0].ID)
	assert.Contains(t, string(basins[0].Geometry), "Polygon")
}

func TestClient_QueryRasters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/rasters/query", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var q RasterQuery
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, []string{"gain"}, q.Layers)
		assert.Equal(t, [4]float64{0, 0, 2, 1}, q.BBox)

		_ = json.NewEncoder(w).Encode(RasterResponse{Layers: map[string]Grid{
			"gain": {OriginLat: 1, PixelSize: 1, Width: 2, Height: 1, Data: []byte{0, 1}},
		}})
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).QueryRasters(context.Background(), RasterQuery{
		Layers: []string{"gain"},
		BBox:   [4]float64{0, 0, 2, 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1}, resp.Layers["gain"].Data)
}

func TestClient_Reduce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/reduce", r.URL.Path)
		var req ReduceRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Regions, 1)
		_, _ = io.WriteString(w, `{"rows": [{"basin_id": 42, "class": 40, "area_ha": 12.5}]}`)
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Reduce(context.Background(), ReduceRequest{
		Classes: Grid{Width: 1, Height: 1, PixelSize: 1, Data: []byte{40}},
		Regions: []Basin{{ID: 42}},
	})
	require.NoError(t, err)
	assert.Equal(t, []Row{{BasinID: 42, Class: 40, AreaHa: 12.5}}, resp.Rows)
}

func TestClient_TransientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Basins(context.Background(), 6)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "try later", apiErr.Message)
}

func TestClient_PermanentStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown level", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Basins(context.Background(), 6)
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestClient_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{not json`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).QueryRasters(context.Background(), RasterQuery{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestClient_CanceledContext(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", WithRateLimit(1, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Basins(ctx, 6)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
