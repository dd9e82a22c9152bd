package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/Priya8975/notify-delivery/internal/metrics"
	"github.com/google/uuid"
)

// NotificationLocker runs fn against the notification row while holding its
// row lock. The row is persisted only when fn reports a change.
type NotificationLocker interface {
	UpdateNotificationLocked(ctx context.Context, id uuid.UUID, fn func(n *domain.Notification) (bool, error)) error
}

// HardBounceRecorder is notified once for each notification that hard bounces.
type HardBounceRecorder interface {
	RecordHardBounce(ctx context.Context, serviceID uuid.UUID) error
}

// StatusObserver receives every applied status change.
type StatusObserver interface {
	NotificationUpdated(n domain.Notification)
}

// Outcome describes what ApplyCallback did with a callback.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeStale    Outcome = "stale"
	OutcomeConflict Outcome = "conflict"
)

// StatusMachine applies provider callbacks to notifications. Callbacks may
// arrive duplicated and in any order; the provider timestamp orders them.
type StatusMachine struct {
	store    NotificationLocker
	bounces  HardBounceRecorder
	observer StatusObserver
	logger   *slog.Logger
	now      func() time.Time
}

func NewStatusMachine(store NotificationLocker, bounces HardBounceRecorder, observer StatusObserver, logger *slog.Logger) *StatusMachine {
	return &StatusMachine{
		store:    store,
		bounces:  bounces,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
}

// ApplyCallback applies cb to the notification it names.
//
// Terminal statuses are never reopened: a non-terminal status arriving after
// a terminal one is dropped as stale, and a terminal status always replaces a
// non-terminal one. Otherwise a callback not strictly newer than the one
// behind the current status is a stale duplicate and is dropped. A newer
// terminal status that disagrees with a current terminal status is dropped
// with a warning, keeping the earlier terminal status; the one exception is
// delivered confirming sent. Everything else is applied.
func (m *StatusMachine) ApplyCallback(ctx context.Context, cb domain.Callback) (Outcome, error) {
	status, err := domain.ParseStatus(cb.Status)
	if err != nil {
		metrics.RecordCallback(cb.Provider, "unknown_status")
		return "", err
	}

	ts := cb.EffectiveTimestamp()
	if ts.IsZero() {
		ts = m.now()
	}

	var (
		outcome     Outcome
		prevStatus  domain.Status
		updated     domain.Notification
		countBounce bool
	)

	err = m.store.UpdateNotificationLocked(ctx, cb.NotificationID, func(n *domain.Notification) (bool, error) {
		prevStatus = n.Status

		// A terminal status settles a transient one whatever the timestamps say.
		settles := status.IsTerminal() && !n.Status.IsTerminal()
		if !settles && n.ProviderUpdatedAt != nil && !ts.After(*n.ProviderUpdatedAt) {
			outcome = OutcomeStale
			return false, nil
		}

		if n.Status.IsTerminal() && !status.IsTerminal() {
			outcome = OutcomeStale
			return false, nil
		}

		if n.Status.IsTerminal() && status.IsTerminal() && status != n.Status && !confirmsSent(n.Status, status) {
			outcome = OutcomeConflict
			return false, nil
		}

		wasHardBounce := n.IsHardBounce()
		m.apply(n, status, cb, ts)
		countBounce = n.IsHardBounce() && !wasHardBounce

		outcome = OutcomeApplied
		updated = *n
		return true, nil
	})
	if err != nil {
		metrics.RecordCallback(cb.Provider, "error")
		if errors.Is(err, domain.ErrNotificationNotFound) {
			return "", err
		}
		return "", fmt.Errorf("applying %s callback to %s: %w", status, cb.NotificationID, err)
	}

	metrics.RecordCallback(cb.Provider, string(outcome))

	switch outcome {
	case OutcomeStale:
		m.logger.Debug("stale callback discarded",
			"notification_id", cb.NotificationID,
			"provider", cb.Provider,
			"current_status", prevStatus,
			"incoming_status", status,
			"provider_timestamp", ts,
		)
		return outcome, nil
	case OutcomeConflict:
		m.logger.Warn("conflicting terminal status ignored",
			"notification_id", cb.NotificationID,
			"provider", cb.Provider,
			"current_status", prevStatus,
			"incoming_status", status,
			"provider_timestamp", ts,
		)
		return outcome, nil
	}

	if countBounce && m.bounces != nil {
		if err := m.bounces.RecordHardBounce(ctx, updated.ServiceID); err != nil {
			m.logger.Error("failed to record hard bounce",
				"service_id", updated.ServiceID,
				"notification_id", updated.ID,
				"error", err,
			)
		}
	}

	if m.observer != nil {
		m.observer.NotificationUpdated(updated)
	}

	m.logger.Info("notification status updated",
		"notification_id", updated.ID,
		"provider", cb.Provider,
		"from", prevStatus,
		"to", status,
	)
	return outcome, nil
}

func (m *StatusMachine) apply(n *domain.Notification, status domain.Status, cb domain.Callback, ts time.Time) {
	// A repeat of the current status without bounce detail keeps the existing
	// classification, so a hard bounce is never cleared and then re-counted.
	keepFeedback := status == n.Status && cb.FeedbackType == ""

	n.Status = status
	n.StatusReason = optional(cb.StatusReason)
	if status == domain.StatusDelivered {
		n.StatusReason = nil
	}
	if !keepFeedback {
		n.FeedbackType = optional(cb.FeedbackType)
		n.FeedbackSubtype = optional(cb.FeedbackSubtype)
	}

	if cb.ProviderResponse != "" {
		n.ProviderResponse = &cb.ProviderResponse
	}
	if cb.SegmentsCount != nil {
		n.SegmentsCount = *cb.SegmentsCount
	}
	if cb.CostInMillicents != nil {
		n.CostInMillicents = *cb.CostInMillicents
	}
	if len(cb.Metadata) > 0 {
		if n.ProviderMetadata == nil {
			n.ProviderMetadata = make(map[string]string, len(cb.Metadata))
		}
		maps.Copy(n.ProviderMetadata, cb.Metadata)
	}

	now := m.now()
	n.UpdatedAt = &now
	n.ProviderUpdatedAt = &ts
}

// confirmsSent reports whether next is the handset delivery receipt that
// follows a provider's sent acknowledgement.
func confirmsSent(current, next domain.Status) bool {
	return current == domain.StatusSent && next == domain.StatusDelivered
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
