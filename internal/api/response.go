package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/user/dealtracker/internal/apperror"
	"github.com/user/dealtracker/pkg/logger"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logger.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status, kind := http.StatusInternalServerError, "internal_error"
		switch {
		case errors.Is(err, apperror.ErrInvalid):
			status, kind = http.StatusBadRequest, "validation_error"
		case errors.Is(err, apperror.ErrNotFound):
			status, kind = http.StatusNotFound, "not_found"
		case errors.Is(err, apperror.ErrConflict):
			status, kind = http.StatusConflict, "conflict"
		}
		if status != http.StatusInternalServerError {
			writeJSON(w, status, ErrorResponse{Error: kind, Message: appErr.Message})
			return
		}
	}

	logger.Error().Err(err).Msg("Request failed")
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}
