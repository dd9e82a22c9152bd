package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/Priya8975/notify-delivery/internal/engine"
	"github.com/Priya8975/notify-delivery/internal/metrics"
	"github.com/Priya8975/notify-delivery/internal/mq"
	"github.com/Priya8975/notify-delivery/internal/store"
	"github.com/google/uuid"
)

// ReferenceResolver maps a provider message id to the notification it belongs to.
type ReferenceResolver interface {
	FindNotificationIDByReference(ctx context.Context, sentBy, reference string) (uuid.UUID, error)
}

type DeadLetterWriter interface {
	InsertDeadLetter(ctx context.Context, rec store.DeadLetterRecord) (uuid.UUID, error)
}

// DLQPublisher mirrors dead letters onto the broker's dead letter exchange.
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError string) error
}

// RetryScheduler parks a job until due.
type RetryScheduler interface {
	Schedule(ctx context.Context, job CallbackJob, due time.Time) error
}

// ProcessorConfig bounds how long an unmatched callback keeps being retried.
type ProcessorConfig struct {
	RetryWindow time.Duration
	RetryDelay  time.Duration
}

// CallbackProcessor resolves callbacks to notifications and applies them.
//
// Outcomes:
//   - applied, stale or conflicting callbacks are done
//   - unknown statuses are dead-lettered
//   - callbacks for a notification not yet written are retried until the
//     retry window passes, then dead-lettered
//   - any other error is returned for the caller to redeliver
type CallbackProcessor struct {
	cfg      ProcessorConfig
	refs     ReferenceResolver
	statuses engine.CallbackApplier
	dead     DeadLetterWriter
	dlq      DLQPublisher
	retry    RetryScheduler
	logger   *slog.Logger
	now      func() time.Time
}

func NewCallbackProcessor(cfg ProcessorConfig, refs ReferenceResolver, statuses engine.CallbackApplier, dead DeadLetterWriter, dlq DLQPublisher, logger *slog.Logger) *CallbackProcessor {
	if cfg.RetryWindow <= 0 {
		cfg.RetryWindow = 5 * time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	return &CallbackProcessor{
		cfg:      cfg,
		refs:     refs,
		statuses: statuses,
		dead:     dead,
		dlq:      dlq,
		logger:   logger,
		now:      time.Now,
	}
}

// SetRetryScheduler wires the delay queue. The poller and the processor
// depend on each other, so it is set after construction.
func (p *CallbackProcessor) SetRetryScheduler(r RetryScheduler) {
	p.retry = r
}

// Process handles one job. A returned error means the job was neither
// applied nor parked and should be redelivered.
func (p *CallbackProcessor) Process(ctx context.Context, job CallbackJob) error {
	cb := job.Callback

	if cb.NotificationID == uuid.Nil {
		id, err := p.refs.FindNotificationIDByReference(ctx, cb.Provider, cb.Reference)
		if err != nil {
			if errors.Is(err, domain.ErrNotificationNotFound) {
				return p.notYetKnown(ctx, job, err)
			}
			return fmt.Errorf("resolving reference %s: %w", cb.Reference, err)
		}
		job.Callback.NotificationID = id
		cb.NotificationID = id
	}

	outcome, err := p.statuses.ApplyCallback(ctx, cb)
	if err != nil {
		var unknown *domain.UnknownStatusError
		switch {
		case errors.As(err, &unknown):
			return p.deadLetter(ctx, job, err)
		case errors.Is(err, domain.ErrNotificationNotFound):
			return p.notYetKnown(ctx, job, err)
		default:
			return err
		}
	}

	p.logger.Debug("callback processed",
		"notification_id", cb.NotificationID,
		"provider", cb.Provider,
		"outcome", outcome,
	)
	return nil
}

// Handle processes a job off the worker pool, where there is no broker to
// redeliver, so transient failures go to the retry queue.
func (p *CallbackProcessor) Handle(ctx context.Context, job CallbackJob) {
	err := p.Process(ctx, job)
	if err == nil {
		return
	}

	p.logger.Error("callback processing failed",
		"provider", job.Callback.Provider,
		"reference", job.Callback.Reference,
		"attempt", job.Attempt,
		"error", err,
	)
	if err := p.notYetKnown(ctx, job, err); err != nil {
		p.logger.Error("failed to reschedule callback", "reference", job.Callback.Reference, "error", err)
	}
}

// HandleMessage decodes a broker message and processes it.
func (p *CallbackProcessor) HandleMessage(ctx context.Context, body []byte) error {
	var job CallbackJob
	if err := json.Unmarshal(body, &job); err != nil {
		// Undecodable messages can never succeed.
		return p.deadLetterRaw(ctx, "unknown", "", body, fmt.Errorf("decoding callback job: %w", err))
	}
	return p.Process(ctx, job)
}

func (p *CallbackProcessor) notYetKnown(ctx context.Context, job CallbackJob, cause error) error {
	age := p.now().Sub(job.Callback.ReceivedAt)
	if p.retry == nil || age >= p.cfg.RetryWindow {
		return p.deadLetter(ctx, job, cause)
	}

	job.Attempt++
	due := p.now().Add(p.cfg.RetryDelay)
	if err := p.retry.Schedule(ctx, job, due); err != nil {
		return fmt.Errorf("scheduling callback retry: %w", err)
	}

	metrics.RecordCallback(job.Callback.Provider, "retry_scheduled")
	p.logger.Info("callback parked for retry",
		"provider", job.Callback.Provider,
		"reference", job.Callback.Reference,
		"attempt", job.Attempt,
		"due", due,
	)
	return nil
}

func (p *CallbackProcessor) deadLetter(ctx context.Context, job CallbackJob, cause error) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding dead letter: %w", err)
	}
	return p.deadLetterRaw(ctx, job.Callback.Provider, job.Callback.Reference, body, cause)
}

func (p *CallbackProcessor) deadLetterRaw(ctx context.Context, provider, reference string, body []byte, cause error) error {
	if !json.Valid(body) {
		quoted, _ := json.Marshal(string(body))
		body = quoted
	}

	id, err := p.dead.InsertDeadLetter(ctx, store.DeadLetterRecord{
		Provider:  provider,
		Reference: reference,
		Payload:   body,
		LastError: cause.Error(),
	})
	if err != nil {
		return fmt.Errorf("recording dead letter: %w", err)
	}

	if p.dlq != nil {
		if err := p.dlq.PublishToDLQ(ctx, mq.CallbackRoutingKey(provider), body, cause.Error()); err != nil {
			p.logger.Error("failed to publish dead letter", "dead_letter_id", id, "error", err)
		}
	}

	metrics.RecordCallback(provider, "dead_lettered")
	p.logger.Warn("callback dead-lettered",
		"dead_letter_id", id,
		"provider", provider,
		"reference", reference,
		"error", cause,
	)
	return nil
}
