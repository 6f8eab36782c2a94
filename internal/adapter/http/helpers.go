package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/contractreview/internal/domain"
	"github.com/Strob0t/contractreview/internal/port/a2a"
)

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// decodeParams unmarshals JSON-RPC params, reporting a missing or
// malformed object as invalid params.
func decodeParams[T any](raw json.RawMessage) (T, *a2a.Error) {
	var v T
	if len(raw) == 0 {
		return v, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "params are required"}
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return v, nil
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, fallback int) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeRPC writes a JSON-RPC response. JSON-RPC errors travel in the
// body, so the status is always 200.
func writeRPC(w http.ResponseWriter, resp a2a.Response) {
	writeJSON(w, http.StatusOK, resp)
}

// writeDomainError maps service errors onto REST status codes.
func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, fallbackMsg)
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrIDRetired):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrCapacityExceeded), errors.Is(err, domain.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrValidation):
		msg := strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
		writeError(w, http.StatusBadRequest, msg)
	default:
		writeInternalError(w, err)
	}
}

// rpcError maps service errors onto JSON-RPC error objects.
func rpcError(err error) *a2a.Error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return &a2a.Error{Code: a2a.CodeTaskNotFound, Message: "task not found"}
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrIDRetired):
		return &a2a.Error{Code: a2a.CodeInvalidState, Message: err.Error()}
	case errors.Is(err, domain.ErrCapacityExceeded), errors.Is(err, domain.ErrShutdown):
		return &a2a.Error{Code: a2a.CodeCapacityExceeded, Message: err.Error()}
	case errors.Is(err, domain.ErrValidation):
		return &a2a.Error{Code: a2a.CodeInvalidParams, Message: err.Error()}
	default:
		slog.Error("rpc call failed", "error", err)
		return &a2a.Error{Code: a2a.CodeInternalError, Message: "internal error"}
	}
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
