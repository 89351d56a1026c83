package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/seqci-proxy/internal/api/common"
	"github.com/stacklok/seqci-proxy/internal/engine"
	"github.com/stacklok/seqci-proxy/internal/lifecycle"
	"github.com/stacklok/seqci-proxy/internal/ports"
)

// StatusForError maps lifecycle errors onto HTTP status codes
func StatusForError(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidArgument), errors.Is(err, engine.ErrInvalidTail):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrInstanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ports.ErrExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, lifecycle.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as a JSON error body. Only bad request errors
// echo their message; the rest use a fixed text so engine and database
// details stay in the logs.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusForError(err)

	var message string
	switch status {
	case http.StatusBadRequest:
		message = err.Error()
	case http.StatusNotFound:
		message = lifecycle.ErrInstanceNotFound.Error()
	case http.StatusForbidden:
		message = lifecycle.ErrForbidden.Error()
	case http.StatusServiceUnavailable:
		message = ports.ErrExhausted.Error()
	case http.StatusBadGateway:
		message = lifecycle.ErrUpstreamUnavailable.Error()
	default:
		message = "internal server error"
	}

	attrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err,
		"request_id", middleware.GetReqID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed", attrs...)
	} else {
		slog.DebugContext(r.Context(), "Request rejected", attrs...)
	}

	common.WriteErrorResponse(w, message, status)
}
