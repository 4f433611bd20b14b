package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"gwi.com/answer-engine/internal/auth"
	"gwi.com/answer-engine/internal/core"
)

const (
	codeUnauthorized      = "UNAUTHORIZED"
	codeStreamUnsupported = "STREAMING_UNSUPPORTED"

	maxBodyBytes = 1 << 20
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// writeServiceError maps core errors onto status codes.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		vErr  *core.ValidationError
		rlErr *core.RateLimitedError
		pErr  *core.PersistenceError
	)
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Message, vErr.Code)
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "Conversation not found", core.CodeNotFound)
	case errors.As(err, &rlErr):
		w.Header().Set("Retry-After", strconv.Itoa(rlErr.RetryAfter))
		writeError(w, http.StatusTooManyRequests, rlErr.Error(), core.CodeRateLimited)
	case errors.As(err, &pErr):
		h.logger.Error("store operation failed",
			zap.String("path", r.URL.Path),
			zap.String("code", pErr.Code),
			zap.Error(pErr.Err),
		)
		writeError(w, http.StatusInternalServerError, pErr.Message, pErr.Code)
	default:
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error", core.CodeInternal)
	}
}

// resolveOwner writes the error response itself and reports false when the
// request carries no usable owner.
func (h *APIHandler) resolveOwner(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := h.owners.ResolveOwnerID(r)
	switch {
	case err == nil:
		return id, true
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "Invalid or expired token", codeUnauthorized)
	default:
		writeError(w, http.StatusBadRequest, "Valid user ID is required", core.CodeInvalidUserID)
	}
	return 0, false
}
