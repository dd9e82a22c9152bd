package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/Priya8975/notify-delivery/internal/engine"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, req engine.DispatchRequest) (*domain.Notification, error)
}

type NotificationReader interface {
	GetNotification(ctx context.Context, id uuid.UUID) (*domain.Notification, error)
	ListNotifications(ctx context.Context, serviceID uuid.UUID, status string, limit int) ([]domain.Notification, error)
}

type NotificationHandler struct {
	dispatcher Dispatcher
	store      NotificationReader
	logger     *slog.Logger
}

func NewNotificationHandler(d Dispatcher, s NotificationReader, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{dispatcher: d, store: s, logger: logger}
}

type templateRequest struct {
	ID                 uuid.UUID `json:"id"`
	Version            int       `json:"version"`
	Subject            string    `json:"subject"`
	Body               string    `json:"body"`
	ProviderIdentifier string    `json:"provider_identifier"`
}

type sendRequest struct {
	EmailAddress          string            `json:"email_address"`
	PhoneNumber           string            `json:"phone_number"`
	Template              templateRequest   `json:"template"`
	Personalisation       map[string]string `json:"personalisation"`
	RequiresInternational bool              `json:"requires_international"`
	JobID                 *uuid.UUID        `json:"job_id"`
}

func (h *NotificationHandler) SendEmail(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, domain.ChannelEmail)
}

func (h *NotificationHandler) SendSMS(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, domain.ChannelSMS)
}

func (h *NotificationHandler) send(w http.ResponseWriter, r *http.Request, channel domain.Channel) {
	svc := serviceFromContext(r.Context())
	if svc == nil {
		respondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	recipient := req.EmailAddress
	if channel == domain.ChannelSMS {
		recipient = req.PhoneNumber
	}
	if recipient == "" {
		if channel == domain.ChannelSMS {
			respondError(w, http.StatusBadRequest, "phone_number is required")
		} else {
			respondError(w, http.StatusBadRequest, "email_address is required")
		}
		return
	}
	if req.Template.ID == uuid.Nil || req.Template.Body == "" {
		respondError(w, http.StatusBadRequest, "template id and body are required")
		return
	}
	if req.Template.Version == 0 {
		req.Template.Version = 1
	}

	n, err := h.dispatcher.Dispatch(r.Context(), engine.DispatchRequest{
		ServiceID: svc.ID,
		Channel:   channel,
		Recipient: recipient,
		Template: domain.Template{
			ID:                 req.Template.ID,
			Version:            req.Template.Version,
			Subject:            req.Template.Subject,
			Body:               req.Template.Body,
			ProviderIdentifier: req.Template.ProviderIdentifier,
		},
		Personalisation:       req.Personalisation,
		RequiresInternational: req.RequiresInternational,
		JobID:                 req.JobID,
	})
	if err != nil {
		var sendErr *domain.ProviderSendError
		if errors.As(err, &sendErr) && n != nil {
			// The notification exists in technical-failure; report it.
			respondJSON(w, http.StatusBadGateway, map[string]any{
				"error":        sendErr.Error(),
				"notification": n,
			})
			return
		}
		h.logger.Warn("dispatch rejected", "service_id", svc.ID, "channel", channel, "error", err)
		respondDomainError(w, err, "failed to send notification")
		return
	}

	respondJSON(w, http.StatusCreated, n)
}

func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	svc := serviceFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	n, err := h.store.GetNotification(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get notification")
		return
	}
	if n == nil || svc == nil || n.ServiceID != svc.ID {
		respondError(w, http.StatusNotFound, "notification not found")
		return
	}

	respondJSON(w, http.StatusOK, n)
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	svc := serviceFromContext(r.Context())
	if svc == nil {
		respondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" {
		if _, err := domain.ParseStatus(status); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	notifications, err := h.store.ListNotifications(r.Context(), svc.ID, status, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	respondJSON(w, http.StatusOK, notifications)
}
