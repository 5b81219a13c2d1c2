// Package geoapi is a client for a hosted geospatial processing API that
// serves basin datasets, raster bands and zonal reductions over JSON.
package geoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/catchment-cli/internal/resilience"
)

// MaskedClass marks a pixel excluded from reduction.
const MaskedClass uint8 = 255

// Basin is one basin as served by the API. Geometry is GeoJSON.
type Basin struct {
	ID       int64           `json:"hybas_id"`
	NextDown int64           `json:"next_down"`
	Level    int             `json:"level"`
	Geometry json.RawMessage `json:"geometry"`
}

// Grid is a raster band. Data is row-major from the top-left pixel and is
// base64 encoded on the wire.
type Grid struct {
	OriginLon float64 `json:"origin_lon"`
	OriginLat float64 `json:"origin_lat"`
	PixelSize float64 `json:"pixel_size"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Data      []byte  `json:"data"`
}

// RasterQuery selects bands cropped to a bounding box (minLon, minLat,
// maxLon, maxLat).
type RasterQuery struct {
	Layers []string   `json:"layers"`
	BBox   [4]float64 `json:"bbox"`
}

// RasterResponse holds the requested bands by name.
type RasterResponse struct {
	Layers map[string]Grid `json:"layers"`
}

// ReduceRequest sums pixel area per class inside each region. Pixels with
// MaskedClass are skipped.
type ReduceRequest struct {
	Classes Grid    `json:"classes"`
	Regions []Basin `json:"regions"`
}

// Row is the area of one class inside one region.
type Row struct {
	BasinID int64   `json:"basin_id"`
	Class   uint8   `json:"class"`
	AreaHa  float64 `json:"area_ha"`
}

// ReduceResponse lists the nonzero rows of a reduction.
type ReduceResponse struct {
	Rows []Row `json:"rows"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("geoapi: status %d: %s", e.StatusCode, e.Message)
}

// Option configures the client.
type Option func(*Client)

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit and burst size.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, burst))
	}
}

// Client calls the processing API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		limiter:    rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Basins fetches the basin dataset of a hierarchy level.
func (c *Client) Basins(ctx context.Context, level int) ([]Basin, error) {
	var out []Basin
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/basins/%d", level), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// QueryRasters fetches raster bands cropped to a bounding box.
func (c *Client) QueryRasters(ctx context.Context, q RasterQuery) (*RasterResponse, error) {
	var out RasterResponse
	if err := c.do(ctx, http.MethodPost, "/v1/rasters/query", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reduce runs a zonal reduction.
func (c *Client) Reduce(ctx context.Context, req ReduceRequest) (*ReduceResponse, error) {
	var out ReduceResponse
	if err := c.do(ctx, http.MethodPost, "/v1/reduce", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends one request. Transient statuses come back as
// resilience.TransientError so callers can retry them.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "geoapi: rate limit")
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return eris.Wrapf(err, "geoapi: encode %s", path)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return eris.Wrap(err, "geoapi: build request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return eris.Wrapf(err, "geoapi: %s %s", method, path)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrapf(err, "geoapi: decode %s", path)
	}
	return nil
}
