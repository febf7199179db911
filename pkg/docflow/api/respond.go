package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/randalmurphal/docflow/pkg/docflow"
	"github.com/randalmurphal/docflow/pkg/docflow/orchestrator"
)

// StatusCode maps an orchestrator error to an HTTP status. Caller-facing
// errors are matched before the 500 fallback so an unknown run or a
// duplicate decision never surfaces as a server error.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, docflow.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, docflow.ErrUnknownRun):
		return http.StatusNotFound
	case errors.Is(err, docflow.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// RespondJSON writes data as a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes {"error": msg}. Server errors are logged.
func RespondError(w http.ResponseWriter, logger *slog.Logger, status int, err error) {
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	}
	RespondJSON(w, status, map[string]string{"error": err.Error()})
}
