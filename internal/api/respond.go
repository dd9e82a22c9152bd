package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Priya8975/notify-delivery/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondDomainError maps domain errors onto HTTP status codes.
func respondDomainError(w http.ResponseWriter, err error, fallback string) {
	var (
		noProvider *domain.NoProviderAvailableError
		suspended  *domain.ServiceSuspendedError
		unknown    *domain.UnknownStatusError
	)
	switch {
	case errors.As(err, &noProvider):
		respondError(w, http.StatusServiceUnavailable, noProvider.Error())
	case errors.As(err, &suspended):
		respondError(w, http.StatusForbidden, suspended.Error())
	case errors.Is(err, domain.ErrServiceInactive):
		respondError(w, http.StatusForbidden, "service is inactive")
	case errors.As(err, &unknown):
		respondError(w, http.StatusUnprocessableEntity, unknown.Error())
	case errors.Is(err, domain.ErrNotificationNotFound),
		errors.Is(err, domain.ErrServiceNotFound),
		errors.Is(err, domain.ErrProviderNotFound),
		errors.Is(err, domain.ErrDeadLetterNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrBackendUnavailable):
		respondError(w, http.StatusServiceUnavailable, "rate limiting backend unavailable")
	default:
		respondError(w, http.StatusInternalServerError, fallback)
	}
}
