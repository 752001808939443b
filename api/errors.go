package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloudx-io/cipherbid/core"
	"github.com/cloudx-io/cipherbid/escrow"
	"github.com/cloudx-io/cipherbid/history"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidCiphertext),
		errors.Is(err, core.ErrZoneMismatch),
		errors.Is(err, core.ErrInvalidDuration),
		errors.Is(err, escrow.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, core.ErrAuctionNotActive),
		errors.Is(err, core.ErrAuctionStillActive),
		errors.Is(err, core.ErrAlreadyClaimed):
		return http.StatusConflict
	case errors.Is(err, core.ErrDecryptionPending):
		return http.StatusAccepted
	case errors.Is(err, core.ErrUnknownDecryption),
		errors.Is(err, history.ErrNotFound),
		errors.Is(err, escrow.ErrNotReleased):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logEvent := s.log.Debug()
	if status == http.StatusInternalServerError {
		logEvent = s.log.Error()
	}
	logEvent.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
