package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/catchment-cli/internal/catchment"
	"github.com/sells-group/catchment-cli/internal/model"
	"github.com/sells-group/catchment-cli/internal/report"
	"github.com/sells-group/catchment-cli/internal/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type upstreamRequest struct {
	Lon   float64 `json:"lon" validate:"gte=-180,lte=180"`
	Lat   float64 `json:"lat" validate:"gte=-90,lte=90"`
	Level int     `json:"level"`
}

type statisticsRequest struct {
	upstreamRequest
	BasinIDs  []int64 `json:"basin_ids,omitempty"`
	StartYear *int    `json:"start_year,omitempty"`
	EndYear   *int    `json:"end_year,omitempty"`
	Threshold *int    `json:"threshold,omitempty"`
}

type upstreamResponse struct {
	Level      int         `json:"level"`
	Seed       model.Point `json:"seed"`
	SeedBasins []int64     `json:"seed_basins"`
	Members    []int64     `json:"members"`
	Iterations int         `json:"iterations"`
	Truncated  bool        `json:"truncated"`
}

type statisticsResponse struct {
	RunID       string               `json:"run_id,omitempty"`
	Level       int                  `json:"level"`
	Upstream    upstreamResponse     `json:"upstream"`
	BasinIDs    []int64              `json:"basin_ids"`
	ChartBasins []int64              `json:"chart_basins"`
	StartYear   int                  `json:"start_year"`
	EndYear     int                  `json:"end_year"`
	Threshold   int                  `json:"threshold"`
	Rows        []model.ZonalStatRow `json:"rows"`
	Summary     report.Summary       `json:"summary"`
	DurationMs  int64                `json:"duration_ms"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLevels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"levels":        model.SupportedLevels(),
		"default_level": s.opts.Defaults.Level,
		"base_year":     model.BaseYear,
		"min_year":      model.MinLossYear,
		"max_year":      model.MaxLossYear,
	})
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"categories": model.CategoryTable()})
}

func (s *Server) handleUpstream(w http.ResponseWriter, r *http.Request) {
	var req upstreamRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.applyLevel(&req)

	set, err := s.svc.ResolveUpstream(r.Context(), model.Point{Lon: req.Lon, Lat: req.Lat}, req.Level)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUpstreamResponse(set))
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	var req statisticsRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.applyLevel(&req.upstreamRequest)

	set, err := s.svc.ResolveUpstream(r.Context(), model.Point{Lon: req.Lon, Lat: req.Lat}, req.Level)
	if err != nil {
		writeError(w, err)
		return
	}

	sreq := catchment.StatisticsRequest{
		Session:   r.Header.Get(SessionHeader),
		Upstream:  set,
		BasinIDs:  req.BasinIDs,
		StartYear: intOr(req.StartYear, s.opts.Defaults.StartYear),
		EndYear:   intOr(req.EndYear, s.opts.Defaults.EndYear),
		Threshold: intOr(req.Threshold, s.opts.Defaults.Threshold),
	}
	res, err := s.svc.ComputeStatistics(r.Context(), sreq)
	if err != nil {
		writeError(w, err)
		return
	}

	rep := report.New(res.Rows)
	writeJSON(w, http.StatusOK, statisticsResponse{
		RunID:       res.RunID,
		Level:       res.Level,
		Upstream:    toUpstreamResponse(set),
		BasinIDs:    res.BasinIDs,
		ChartBasins: report.ChartBasins(res.BasinIDs, s.opts.Defaults.MaxChartBasins),
		StartYear:   sreq.StartYear,
		EndYear:     sreq.EndYear,
		Threshold:   sreq.Threshold,
		Rows:        res.Rows,
		Summary:     rep.Summary(),
		DurationMs:  res.Duration.Milliseconds(),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.opts.Runs == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "run history is not enabled"})
		return
	}
	q := r.URL.Query()
	filter := store.RunFilter{
		Status:  model.RunStatus(q.Get("status")),
		Session: q.Get("session"),
	}
	for name, dst := range map[string]*int{"level": &filter.Level, "limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, model.InvalidParameter("list runs", "%s must be a non-negative integer", name))
			return
		}
		*dst = v
	}

	runs, err := s.opts.Runs.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.opts.Runs == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "run history is not enabled"})
		return
	}
	run, err := s.opts.Runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) applyLevel(req *upstreamRequest) {
	if req.Level == 0 {
		req.Level = s.opts.Defaults.Level
	}
}

func toUpstreamResponse(set *model.UpstreamSet) upstreamResponse {
	return upstreamResponse{
		Level:      set.Level,
		Seed:       set.Seed,
		SeedBasins: nonNil(set.SeedBasins),
		Members:    nonNil(set.Members),
		Iterations: set.Iterations,
		Truncated:  set.Truncated,
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return model.InvalidParameter("decode request", "invalid request body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return model.InvalidParameter("decode request", "%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return model.InvalidParameter("decode request", "%v", err)
	}
	return nil
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}
