package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"carelog/internal/service"
	"carelog/internal/validation"
)

func respondWithError(w http.ResponseWriter, log zerolog.Logger, status int, userMsg, logMsg string, err error) {
	if err != nil {
		if logMsg == "" {
			logMsg = userMsg
		}
		log.Error().Err(err).Int("status", status).Msg(logMsg)
	}

	http.Error(w, userMsg, status)
}

// respondWithJSON writes v as JSON with the given status.
func respondWithJSON(w http.ResponseWriter, log zerolog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

type apiError struct {
	Error string `json:"error"`
}

func respondWithJSONError(w http.ResponseWriter, log zerolog.Logger, status int, userMsg string, err error) {
	if err != nil && status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg(userMsg)
	}
	respondWithJSON(w, log, status, apiError{Error: userMsg})
}

// statusFor maps service errors to an HTTP status and a message safe to show.
func statusFor(err error) (int, string) {
	var verr validation.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Message
	case errors.Is(err, service.ErrChildNotFound),
		errors.Is(err, service.ErrLogNotFound),
		errors.Is(err, service.ErrProfileNotFound),
		errors.Is(err, service.ErrCategoryNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, ErrForbidden
	case errors.Is(err, service.ErrAlreadyMember),
		errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrUnsupportedFormat):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidAccessToken),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrSessionExpired):
		return http.StatusUnauthorized, ErrUnauthorized
	default:
		return http.StatusInternalServerError, ErrInternalServerError
	}
}

// respondWithServiceError logs unexpected failures and writes the mapped status.
func respondWithServiceError(w http.ResponseWriter, log zerolog.Logger, logMsg string, err error) {
	status, msg := statusFor(err)
	if status < http.StatusInternalServerError {
		err = nil
	}
	respondWithError(w, log, status, msg, logMsg, err)
}
