package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/usecase/blob"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRawJSON writes already encoded JSON such as an ordered document
func writeRawJSON(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func statusOf(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, model.ErrInvalidQuery):
		return http.StatusBadRequest, "invalid_query"
	case errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrUpstreamModel):
		return http.StatusBadGateway, "upstream_model"
	case errors.Is(err, blob.ErrCorrupted):
		return http.StatusInternalServerError, "corrupted"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	logger := logging.From(r.Context())

	msg := err.Error()
	if status >= 500 && status != http.StatusBadGateway {
		logger.Error("request failed", "error", err, "code", code)
		msg = http.StatusText(status)
	} else {
		logger.Info("request rejected", "error", err, "code", code)
	}

	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
