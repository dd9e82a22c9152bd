package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/Priya8975/notify-delivery/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type DeadLetterStore interface {
	ListDeadLetters(ctx context.Context, provider string, resolved bool, limit int) ([]domain.DeadLetter, error)
	GetDeadLetter(ctx context.Context, id uuid.UUID) (*domain.DeadLetter, error)
	ResolveDeadLetter(ctx context.Context, id uuid.UUID, resolvedBy string) error
}

type DeadLetterHandler struct {
	store DeadLetterStore
	sink  CallbackSink
	now   func() time.Time
}

func NewDeadLetterHandler(s DeadLetterStore, sink CallbackSink) *DeadLetterHandler {
	return &DeadLetterHandler{store: s, sink: sink, now: time.Now}
}

func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	resolvedStr := r.URL.Query().Get("resolved")
	limitStr := r.URL.Query().Get("limit")

	resolved := false
	if resolvedStr == "true" {
		resolved = true
	}

	limit := 50
	if limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	letters, err := h.store.ListDeadLetters(r.Context(), provider, resolved, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}

	respondJSON(w, http.StatusOK, letters)
}

func (h *DeadLetterHandler) Get(w http.ResponseWriter, r *http.Request) {
	letter, ok := h.load(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, letter)
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

func (h *DeadLetterHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid dead letter id")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ResolvedBy == "" {
		req.ResolvedBy = "manual"
	}

	if err := h.store.ResolveDeadLetter(r.Context(), id, req.ResolvedBy); err != nil {
		if errors.Is(err, domain.ErrDeadLetterNotFound) {
			respondError(w, http.StatusNotFound, "dead letter not found or already resolved")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to resolve dead letter")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// Replay puts the stored callback back on the queue with a fresh retry
// window and marks the dead letter resolved.
func (h *DeadLetterHandler) Replay(w http.ResponseWriter, r *http.Request) {
	letter, ok := h.load(w, r)
	if !ok {
		return
	}
	if letter.ResolvedAt != nil {
		respondError(w, http.StatusConflict, "dead letter already resolved")
		return
	}

	var job worker.CallbackJob
	if err := json.Unmarshal(letter.Payload, &job); err != nil || job.Callback.Provider == "" {
		respondError(w, http.StatusUnprocessableEntity, "dead letter payload is not a replayable callback")
		return
	}
	job.Attempt = 0
	job.Callback.ReceivedAt = h.now()

	if err := h.sink.Submit(r.Context(), job); err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to queue callback")
		return
	}

	if err := h.store.ResolveDeadLetter(r.Context(), letter.ID, "replay"); err != nil && !errors.Is(err, domain.ErrDeadLetterNotFound) {
		respondError(w, http.StatusInternalServerError, "callback queued but dead letter not resolved")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "replayed"})
}

func (h *DeadLetterHandler) load(w http.ResponseWriter, r *http.Request) (*domain.DeadLetter, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid dead letter id")
		return nil, false
	}

	letter, err := h.store.GetDeadLetter(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get dead letter")
		return nil, false
	}
	if letter == nil {
		respondError(w, http.StatusNotFound, "dead letter not found")
		return nil, false
	}
	return letter, true
}
