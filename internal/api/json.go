package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/p-n-ai/pai-grades/internal/grades"
	"github.com/p-n-ai/pai-grades/internal/report"
)

type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var badReq *badRequestError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &badReq), errors.Is(err, report.ErrInvalidName):
		status = http.StatusBadRequest
	case errors.Is(err, grades.ErrCourseNotFound),
		errors.Is(err, grades.ErrBlockNotFound),
		errors.Is(err, report.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, report.ErrInvalidToken):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSONError(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}
