package datavet

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// writeJSON encodes data as JSON and writes it to the response.
// Logs any encoding errors instead of silently ignoring them.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "err", err)
	}
}

// writeJSONStatus writes a JSON response with a specific status code.
func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "err", err)
	}
}

// apiError writes a JSON-formatted error response.
func apiError(w http.ResponseWriter, status int, message string) {
	slog.Warn("http error", "status", status, "message", message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error":  message,
		"status": status,
	}); err != nil {
		slog.Error("failed to encode error response", "err", err)
	}
}

// apiErrorFor maps pipeline errors onto HTTP status codes: missing
// artifacts become 404, rejected input becomes 400, a closed engine
// becomes 503, everything else 500.
func apiErrorFor(w http.ResponseWriter, err error) {
	switch {
	case IsNotFound(err):
		apiError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrMalformedSchema),
		errors.Is(err, ErrInvalidRecord),
		errors.Is(err, ErrKindMismatch),
		errors.Is(err, ErrUnknownFeature),
		errors.Is(err, ErrUnknownEnvironment):
		apiError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrClosed):
		apiError(w, http.StatusServiceUnavailable, err.Error())
	default:
		apiError(w, http.StatusInternalServerError, err.Error())
	}
}
