package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	var (
		invalidTemplate *appErrors.ErrInvalidTemplate
		invalidRequest  *appErrors.ErrInvalidRequest
		exhausted       *appErrors.ErrCapacityExhausted
		notRetriable    *appErrors.ErrNotRetriable
		duplicate       *appErrors.ErrDuplicateSchedule
	)
	switch {
	case errors.As(err, &invalidTemplate):
		return http.StatusUnprocessableEntity
	case appErrors.IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &invalidRequest):
		return http.StatusBadRequest
	case errors.As(err, &exhausted), errors.As(err, &notRetriable), errors.As(err, &duplicate),
		errors.Is(err, appErrors.ErrClaimConflict), errors.Is(err, appErrors.ErrClaimLost):
		return http.StatusConflict
	case errors.Is(err, appErrors.ErrEmptyRecipientSet):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// WriteError writes {"error": ...}. Internal errors are logged and hidden.
func WriteError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		msg = "internal error"
	}
	WriteJSON(w, status, map[string]string{"error": msg})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return appErrors.NewInvalidRequest("body", err.Error())
	}
	return nil
}
