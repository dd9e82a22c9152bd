package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type ProviderStore interface {
	ListProviders(ctx context.Context) ([]domain.ProviderDetails, error)
	GetProvider(ctx context.Context, id uuid.UUID) (*domain.ProviderDetails, error)
	ListProviderHistory(ctx context.Context, id uuid.UUID) ([]domain.ProviderDetailsHistory, error)
	ProviderStats(ctx context.Context, since time.Time) ([]domain.ProviderStats, error)
}

// ProviderUpdater applies admin changes and refreshes the selection cache.
type ProviderUpdater interface {
	RecordVersionChange(ctx context.Context, id uuid.UUID, upd domain.ProviderUpdate) (*domain.ProviderDetails, error)
}

type ProviderHandler struct {
	store    ProviderStore
	registry ProviderUpdater
	now      func() time.Time
}

func NewProviderHandler(s ProviderStore, registry ProviderUpdater) *ProviderHandler {
	return &ProviderHandler{store: s, registry: registry, now: time.Now}
}

func (h *ProviderHandler) List(w http.ResponseWriter, r *http.Request) {
	channel := domain.Channel(r.URL.Query().Get("notification_type"))
	if channel != "" && !channel.Valid() {
		respondError(w, http.StatusBadRequest, "notification_type must be email or sms")
		return
	}

	providers, err := h.store.ListProviders(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list providers")
		return
	}

	if channel != "" {
		filtered := []domain.ProviderDetails{}
		for _, p := range providers {
			if p.Channel == channel {
				filtered = append(filtered, p)
			}
		}
		providers = filtered
	}

	respondJSON(w, http.StatusOK, providers)
}

func (h *ProviderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid provider id")
		return
	}

	p, err := h.store.GetProvider(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get provider")
		return
	}
	if p == nil {
		respondError(w, http.StatusNotFound, "provider not found")
		return
	}

	respondJSON(w, http.StatusOK, p)
}

func (h *ProviderHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid provider id")
		return
	}

	var upd domain.ProviderUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if upd.Priority != nil && *upd.Priority < 0 {
		respondError(w, http.StatusBadRequest, "priority must not be negative")
		return
	}
	if upd.LoadBalancingWeight != nil && *upd.LoadBalancingWeight < 0 {
		respondError(w, http.StatusBadRequest, "load_balancing_weight must not be negative")
		return
	}

	updated, err := h.registry.RecordVersionChange(r.Context(), id, upd)
	if err != nil {
		respondDomainError(w, err, "failed to update provider")
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

func (h *ProviderHandler) Versions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid provider id")
		return
	}

	history, err := h.store.ListProviderHistory(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list provider versions")
		return
	}

	respondJSON(w, http.StatusOK, history)
}

// Stats counts notifications per provider over the last ?days= (default 7).
func (h *ProviderHandler) Stats(w http.ResponseWriter, r *http.Request) {
	days := 7
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		n, err := strconv.Atoi(daysStr)
		if err != nil || n < 1 || n > 90 {
			respondError(w, http.StatusBadRequest, "days must be between 1 and 90")
			return
		}
		days = n
	}

	stats, err := h.store.ProviderStats(r.Context(), h.now().AddDate(0, 0, -days))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get provider stats")
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
