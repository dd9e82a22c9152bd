package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/Priya8975/notify-delivery/internal/provider"
	"github.com/Priya8975/notify-delivery/internal/worker"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const maxCallbackBody = 64 << 10

// CallbackSink accepts normalized callbacks for asynchronous processing.
type CallbackSink interface {
	Submit(ctx context.Context, job worker.CallbackJob) error
}

// CallbackHandler receives provider delivery webhooks, normalizes them and
// hands them to the callback queue. It answers 2xx once a callback is
// queued, so providers do not retry what is already accepted.
type CallbackHandler struct {
	sink   CallbackSink
	http   *resty.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewCallbackHandler(sink CallbackSink, logger *slog.Logger) *CallbackHandler {
	return &CallbackHandler{
		sink:   sink,
		http:   resty.New().SetTimeout(10 * time.Second),
		logger: logger,
		now:    time.Now,
	}
}

func (h *CallbackHandler) SES(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var env provider.SNSEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Type == "SubscriptionConfirmation" {
		h.confirmSubscription(r.Context(), env.SubscribeURL)
		respondJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
		return
	}

	cb, err := provider.ParseSESNotification(body, h.now())
	h.accept(w, r, "ses", cb, err)
}

func (h *CallbackHandler) Pinpoint(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	cb, err := provider.ParsePinpointEvent(body, h.now())
	h.accept(w, r, "pinpoint", cb, err)
}

func (h *CallbackHandler) Twilio(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBody)
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	cb, err := provider.ParseTwilioCallback(r.PostForm, h.now())
	if err == nil {
		// The status callback URL carries our id, which saves a reference lookup.
		if id, perr := uuid.Parse(r.URL.Query().Get("notification_id")); perr == nil {
			cb.NotificationID = id
		}
	}
	h.accept(w, r, "twilio", cb, err)
}

func (h *CallbackHandler) GovDelivery(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBody)
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	cb, err := provider.ParseGovDeliveryCallback(r.PostForm, h.now())
	h.accept(w, r, "govdelivery", cb, err)
}

func (h *CallbackHandler) accept(w http.ResponseWriter, r *http.Request, providerName string, cb domain.Callback, parseErr error) {
	if parseErr != nil {
		if errors.Is(parseErr, provider.ErrIgnoredEvent) {
			h.logger.Debug("provider event ignored", "provider", providerName, "reason", parseErr)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.logger.Warn("malformed provider callback", "provider", providerName, "error", parseErr)
		respondError(w, http.StatusBadRequest, parseErr.Error())
		return
	}

	if err := h.sink.Submit(r.Context(), worker.CallbackJob{Callback: cb}); err != nil {
		h.logger.Error("failed to queue callback",
			"provider", providerName,
			"reference", cb.Reference,
			"error", err,
		)
		respondError(w, http.StatusServiceUnavailable, "failed to queue callback")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// confirmSubscription completes an SNS topic subscription handshake. Only
// AWS-hosted confirmation URLs are followed.
func (h *CallbackHandler) confirmSubscription(ctx context.Context, subscribeURL string) {
	u, err := url.Parse(subscribeURL)
	if err != nil || u.Scheme != "https" || !strings.HasSuffix(u.Hostname(), ".amazonaws.com") {
		h.logger.Warn("refusing sns subscription url", "url", subscribeURL)
		return
	}

	resp, err := h.http.R().SetContext(ctx).Get(subscribeURL)
	if err != nil {
		h.logger.Error("sns subscription confirmation failed", "error", err)
		return
	}
	if resp.IsError() {
		h.logger.Error("sns subscription confirmation rejected", "status", resp.StatusCode())
		return
	}
	h.logger.Info("sns subscription confirmed")
}
