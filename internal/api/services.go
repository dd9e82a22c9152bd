package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/Priya8975/notify-delivery/internal/engine"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type BounceReporter interface {
	Snapshot(ctx context.Context, serviceID uuid.UUID) (engine.BounceRateSnapshot, error)
}

type GuardController interface {
	GetState(ctx context.Context, serviceID uuid.UUID) engine.ServiceGuardState
	Resume(ctx context.Context, serviceID uuid.UUID) error
}

// ServiceHandler exposes bounce-rate risk and the suspension switch.
type ServiceHandler struct {
	services ServiceLookup
	bounces  BounceReporter
	guard    GuardController
}

func NewServiceHandler(services ServiceLookup, bounces BounceReporter, guard GuardController) *ServiceHandler {
	return &ServiceHandler{services: services, bounces: bounces, guard: guard}
}

type serviceStatusResponse struct {
	Service *domain.Service           `json:"service"`
	Bounce  engine.BounceRateSnapshot `json:"bounce_rate"`
	Guard   engine.ServiceGuardState  `json:"guard"`
}

// Get returns the service with its current bounce rate and guard state.
func (h *ServiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.load(w, r)
	if !ok {
		return
	}

	snap, err := h.bounces.Snapshot(r.Context(), svc.ID)
	if err != nil {
		respondDomainError(w, err, "failed to read bounce rate")
		return
	}

	respondJSON(w, http.StatusOK, serviceStatusResponse{
		Service: svc,
		Bounce:  snap,
		Guard:   h.guard.GetState(r.Context(), svc.ID),
	})
}

func (h *ServiceHandler) BounceRate(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.load(w, r)
	if !ok {
		return
	}

	snap, err := h.bounces.Snapshot(r.Context(), svc.ID)
	if err != nil {
		respondDomainError(w, err, "failed to read bounce rate")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// Resume reactivates a suspended service and clears its guard state.
func (h *ServiceHandler) Resume(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.load(w, r)
	if !ok {
		return
	}

	if err := h.guard.Resume(r.Context(), svc.ID); err != nil {
		respondDomainError(w, err, "failed to resume service")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (h *ServiceHandler) load(w http.ResponseWriter, r *http.Request) (*domain.Service, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid service id")
		return nil, false
	}

	svc, err := h.services.GetService(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrServiceNotFound) {
			respondError(w, http.StatusNotFound, "service not found")
			return nil, false
		}
		respondError(w, http.StatusInternalServerError, "failed to get service")
		return nil, false
	}
	return svc, true
}
