package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/catchment-cli/internal/model"
	"github.com/sells-group/catchment-cli/internal/store"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// StatusFor maps an error to its HTTP status code and kind name.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidParameter):
		return http.StatusBadRequest, "invalid_parameter"
	case errors.Is(err, model.ErrEmptySelection):
		return http.StatusUnprocessableEntity, "empty_selection"
	case errors.Is(err, model.ErrSuperseded):
		return http.StatusConflict, "superseded"
	case errors.Is(err, model.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	case errors.Is(err, model.ErrClassificationUnavailable):
		return http.StatusServiceUnavailable, "classification_unavailable"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return 499, "canceled"
	default:
		return http.StatusInternalServerError, ""
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := StatusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Int("status", status), zap.Error(err))
		if kind == "" {
			msg = "internal error"
		}
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}
