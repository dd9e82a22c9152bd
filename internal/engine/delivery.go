package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/Priya8975/notify-delivery/internal/metrics"
	"github.com/Priya8975/notify-delivery/internal/provider"
	"github.com/google/uuid"
)

// BounceGate is the bounce-rate view the dispatcher consults for email.
type BounceGate interface {
	RecordSend(ctx context.Context, serviceID uuid.UUID) error
	GetBounceRate(ctx context.Context, serviceID uuid.UUID) (float64, error)
}

// SafetyCircuit reacts to bounce rates over the warning or suspend thresholds.
type SafetyCircuit interface {
	FlagWarning(ctx context.Context, serviceID uuid.UUID, rate float64)
	Suspend(ctx context.Context, serviceID uuid.UUID, rate float64) error
}

type ProviderSelector interface {
	Select(channel domain.Channel, requiresInternational bool) (domain.ProviderDetails, error)
	SelectByIdentifier(channel domain.Channel, identifier string, requiresInternational bool) (domain.ProviderDetails, error)
}

type ProviderLookup interface {
	Get(identifier string) (provider.Provider, error)
}

type NotificationWriter interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	SetNotificationReference(ctx context.Context, id uuid.UUID, reference string, sentAt time.Time) error
}

type CallbackApplier interface {
	ApplyCallback(ctx context.Context, cb domain.Callback) (Outcome, error)
}

type ServiceReader interface {
	GetService(ctx context.Context, id uuid.UUID) (*domain.Service, error)
}

// DispatcherConfig holds the safety thresholds and provider call timeout.
type DispatcherConfig struct {
	WarnThreshold    float64
	SuspendThreshold float64
	SendTimeout      time.Duration
}

// DispatchRequest is one outbound notification.
type DispatchRequest struct {
	ServiceID             uuid.UUID
	Channel               domain.Channel
	Recipient             string
	Template              domain.Template
	Personalisation       map[string]string
	RequiresInternational bool
	JobID                 *uuid.UUID
	APIKeyID              *uuid.UUID
}

// DeliveryDispatcher sends one notification: bounce-rate gate, provider
// selection, row creation, provider call. There is no automatic failover to
// another provider; a failed call leaves the notification in
// technical-failure for the caller's retry policy.
type DeliveryDispatcher struct {
	cfg           DispatcherConfig
	bounces       BounceGate
	circuit       SafetyCircuit
	registry      ProviderSelector
	providers     ProviderLookup
	notifications NotificationWriter
	statuses      CallbackApplier
	services      ServiceReader
	logger        *slog.Logger
	now           func() time.Time
}

type DispatcherDeps struct {
	Bounces       BounceGate
	Circuit       SafetyCircuit
	Registry      ProviderSelector
	Providers     ProviderLookup
	Notifications NotificationWriter
	Statuses      CallbackApplier
	Services      ServiceReader
}

func NewDeliveryDispatcher(cfg DispatcherConfig, deps DispatcherDeps, logger *slog.Logger) *DeliveryDispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &DeliveryDispatcher{
		cfg:           cfg,
		bounces:       deps.Bounces,
		circuit:       deps.Circuit,
		registry:      deps.Registry,
		providers:     deps.Providers,
		notifications: deps.Notifications,
		statuses:      deps.Statuses,
		services:      deps.Services,
		logger:        logger,
		now:           time.Now,
	}
}

// Dispatch sends req and returns the created notification. On a provider
// failure the notification is returned alongside a *domain.ProviderSendError.
func (d *DeliveryDispatcher) Dispatch(ctx context.Context, req DispatchRequest) (*domain.Notification, error) {
	if !req.Channel.Valid() {
		return nil, fmt.Errorf("unsupported channel %q", req.Channel)
	}

	researchMode := false
	if d.services != nil {
		svc, err := d.services.GetService(ctx, req.ServiceID)
		if err != nil {
			return nil, fmt.Errorf("loading service: %w", err)
		}
		if !svc.Active {
			metrics.RecordDispatch(string(req.Channel), "", "inactive")
			return nil, domain.ErrServiceInactive
		}
		researchMode = svc.ResearchMode
	}

	if req.Channel == domain.ChannelEmail {
		if err := d.checkBounceRate(ctx, req.ServiceID); err != nil {
			return nil, err
		}
	}

	international := req.RequiresInternational
	if req.Channel == domain.ChannelSMS && domain.IsInternationalNumber(req.Recipient) {
		international = true
	}

	details, err := d.chooseProvider(req, international, researchMode)
	if err != nil {
		metrics.RecordDispatch(string(req.Channel), "", "no_provider")
		return nil, err
	}

	impl, err := d.providers.Get(details.Identifier)
	if err != nil {
		metrics.RecordDispatch(string(req.Channel), details.Identifier, "no_adapter")
		d.logger.Error("selected provider has no adapter", "provider", details.Identifier, "error", err)
		return nil, &domain.NoProviderAvailableError{Channel: req.Channel, International: international}
	}

	subject, body := req.Template.Render(req.Personalisation)
	n := d.newNotification(req, details.Identifier, international, body)

	if err := d.notifications.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("creating notification: %w", err)
	}

	reference, sendErr := d.send(ctx, impl, req.Recipient, provider.Content{
		NotificationID: n.ID,
		Subject:        subject,
		Body:           body,
	})
	if sendErr != nil {
		return d.markTechnicalFailure(ctx, n, impl.Name(), sendErr)
	}

	sentAt := d.now()
	if err := d.notifications.SetNotificationReference(ctx, n.ID, reference, sentAt); err != nil {
		return n, fmt.Errorf("recording provider reference: %w", err)
	}
	n.Reference = &reference
	n.SentAt = &sentAt

	metrics.RecordDispatch(string(req.Channel), impl.Name(), "sent")
	d.logger.Info("notification sent",
		"notification_id", n.ID,
		"service_id", req.ServiceID,
		"provider", impl.Name(),
		"reference", reference,
	)
	return n, nil
}

func (d *DeliveryDispatcher) checkBounceRate(ctx context.Context, serviceID uuid.UUID) error {
	if err := d.bounces.RecordSend(ctx, serviceID); err != nil {
		return fmt.Errorf("recording send: %w", err)
	}

	rate, err := d.bounces.GetBounceRate(ctx, serviceID)
	if err != nil {
		return fmt.Errorf("reading bounce rate: %w", err)
	}

	switch {
	case rate > d.cfg.SuspendThreshold:
		metrics.RecordDispatch(string(domain.ChannelEmail), "", "suspended")
		if d.circuit != nil {
			if err := d.circuit.Suspend(ctx, serviceID, rate); err != nil {
				d.logger.Error("failed to suspend service", "service_id", serviceID, "error", err)
			}
		}
		return &domain.ServiceSuspendedError{ServiceID: serviceID, BounceRate: rate}
	case rate > d.cfg.WarnThreshold:
		if d.circuit != nil {
			go d.circuit.FlagWarning(context.WithoutCancel(ctx), serviceID, rate)
		}
	}
	return nil
}

func (d *DeliveryDispatcher) chooseProvider(req DispatchRequest, international, researchMode bool) (domain.ProviderDetails, error) {
	if researchMode {
		return domain.ProviderDetails{Identifier: provider.ResearchIdentifier, Channel: req.Channel, Active: true}, nil
	}
	if req.Template.ProviderIdentifier != "" {
		return d.registry.SelectByIdentifier(req.Channel, req.Template.ProviderIdentifier, international)
	}
	return d.registry.Select(req.Channel, international)
}

func (d *DeliveryDispatcher) newNotification(req DispatchRequest, providerID string, international bool, body string) *domain.Notification {
	to := req.Recipient
	n := &domain.Notification{
		ID:              uuid.New(),
		ServiceID:       req.ServiceID,
		TemplateID:      req.Template.ID,
		TemplateVersion: req.Template.Version,
		JobID:           req.JobID,
		APIKeyID:        req.APIKeyID,
		Channel:         req.Channel,
		To:              &to,
		Status:          domain.StatusSending,
		SentBy:          &providerID,
		International:   international,
		CreatedAt:       d.now(),
	}
	if req.Channel == domain.ChannelSMS {
		n.SegmentsCount = domain.SMSFragmentCount(body)
	}
	return n
}

// send issues the provider call detached from the caller's cancellation: once
// started it runs to completion or to the send timeout.
func (d *DeliveryDispatcher) send(ctx context.Context, impl provider.Provider, recipient string, content provider.Content) (string, error) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	reference, err := impl.Send(sendCtx, recipient, content)
	if err == nil && reference == "" {
		err = errors.New("provider returned an empty reference")
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordProviderSend(impl.Name(), status, time.Since(start))
	return reference, err
}

func (d *DeliveryDispatcher) markTechnicalFailure(ctx context.Context, n *domain.Notification, providerName string, sendErr error) (*domain.Notification, error) {
	metrics.RecordDispatch(string(n.Channel), providerName, "technical_failure")
	d.logger.Warn("provider send failed",
		"notification_id", n.ID,
		"service_id", n.ServiceID,
		"provider", providerName,
		"error", sendErr,
	)

	wrapped := &domain.ProviderSendError{Provider: providerName, Err: sendErr}

	_, err := d.statuses.ApplyCallback(context.WithoutCancel(ctx), domain.Callback{
		NotificationID:   n.ID,
		Provider:         providerName,
		Status:           string(domain.StatusTechnicalFailure),
		ProviderResponse: sendErr.Error(),
		ReceivedAt:       d.now(),
	})
	if err != nil {
		return n, errors.Join(wrapped, fmt.Errorf("marking technical failure: %w", err))
	}

	n.Status = domain.StatusTechnicalFailure
	resp := sendErr.Error()
	n.ProviderResponse = &resp
	return n, wrapped
}
