package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/pagelift/pagelift/internal/fault"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeFault maps a classified error to its HTTP shape. Unclassified errors
// are logged with the request id and reported as internal without leaking
// wrapped detail beyond the message.
func writeFault(w http.ResponseWriter, r *http.Request, err error) {
	msg := fault.Message(err)
	switch fault.KindOf(err) {
	case fault.Validation:
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", msg)
	case fault.Auth:
		httpError(w, http.StatusUnauthorized, "authentication_error", "%s", msg)
	case fault.NotFound:
		httpError(w, http.StatusNotFound, "not_found", "%s", msg)
	case fault.State:
		httpError(w, http.StatusConflict, "state_error", "%s", msg)
	case fault.Fetch, fault.Generation:
		httpError(w, http.StatusBadGateway, "api_error", "%s", msg)
	default:
		slog.Error("internal error",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "%s", msg)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
