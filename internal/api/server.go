// Package api exposes the catchment service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/catchment-cli/internal/catchment"
	"github.com/sells-group/catchment-cli/internal/model"
	"github.com/sells-group/catchment-cli/internal/report"
	"github.com/sells-group/catchment-cli/internal/store"
)

// SessionHeader identifies the client session whose older statistics
// requests are superseded by newer ones.
const SessionHeader = "X-Session-ID"

// Catchment is the service behind the API.
type Catchment interface {
	ResolveUpstream(ctx context.Context, seed model.Point, level int) (*model.UpstreamSet, error)
	ComputeStatistics(ctx context.Context, req catchment.StatisticsRequest) (*catchment.StatisticsResult, error)
}

// RunReader reads persisted runs.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Defaults fill statistics request fields the client leaves out.
type Defaults struct {
	Level          int
	Threshold      int
	StartYear      int
	EndYear        int
	MaxChartBasins int
}

// Options configures the HTTP handler.
type Options struct {
	AllowedOrigins []string
	Defaults       Defaults
	Runs           RunReader    // optional; /v1/runs returns 404 when nil
	Metrics        http.Handler // optional; mounted at /metrics
}

// Server routes HTTP requests to the catchment service.
type Server struct {
	svc  Catchment
	opts Options
}

// New creates a Server.
func New(svc Catchment, opts Options) *Server {
	if opts.Defaults.MaxChartBasins <= 0 {
		opts.Defaults.MaxChartBasins = report.DefaultMaxChartBasins
	}
	return &Server{svc: svc, opts: opts}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", SessionHeader},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/levels", s.handleLevels)
		r.Get("/categories", s.handleCategories)
		r.Post("/upstream", s.handleUpstream)
		r.Post("/statistics", s.handleStatistics)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})
	return r
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("component", "api"),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
