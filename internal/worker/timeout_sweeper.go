package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/Priya8975/notify-delivery/internal/engine"
	"github.com/Priya8975/notify-delivery/internal/store"
)

// TimedOutLister finds notifications stuck in a pre-delivery state.
type TimedOutLister interface {
	ListTimedOutNotifications(ctx context.Context, statuses []domain.Status, before time.Time, limit int) ([]store.TimedOutNotification, error)
}

// TimeoutSweeper fails notifications that never received a final callback.
// Rows stuck in created were never handed to a provider and fail
// permanently; rows stuck in sending may still recover and fail temporarily.
type TimeoutSweeper struct {
	lister   TimedOutLister
	statuses engine.CallbackApplier
	timeout  time.Duration
	interval time.Duration
	batch    int
	logger   *slog.Logger
	now      func() time.Time
}

func NewTimeoutSweeper(lister TimedOutLister, statuses engine.CallbackApplier, timeout, interval time.Duration, logger *slog.Logger) *TimeoutSweeper {
	return &TimeoutSweeper{
		lister:   lister,
		statuses: statuses,
		timeout:  timeout,
		interval: interval,
		batch:    500,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *TimeoutSweeper) Start(ctx context.Context) {
	s.logger.Info("timeout sweeper started", "timeout", s.timeout, "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many notifications were timed out.
func (s *TimeoutSweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.timeout)
	swept := 0

	swept += s.sweep(ctx, []domain.Status{domain.StatusCreated}, cutoff,
		domain.StatusPermanentFailure, domain.StatusReasonUndeliverable)
	swept += s.sweep(ctx, []domain.Status{domain.StatusSending, domain.StatusPendingVirusCheck}, cutoff,
		domain.StatusTemporaryFailure, domain.StatusReasonRetryable)

	if swept > 0 {
		s.logger.Info("timed out notifications", "count", swept)
	}
	return swept
}

func (s *TimeoutSweeper) sweep(ctx context.Context, from []domain.Status, cutoff time.Time, to domain.Status, reason string) int {
	stuck, err := s.lister.ListTimedOutNotifications(ctx, from, cutoff, s.batch)
	if err != nil {
		s.logger.Error("failed to list timed out notifications", "error", err)
		return 0
	}

	n := 0
	for _, t := range stuck {
		outcome, err := s.statuses.ApplyCallback(ctx, domain.Callback{
			NotificationID: t.ID,
			Provider:       "timeout",
			Status:         string(to),
			StatusReason:   reason,
			Timestamp:      s.deadline(t),
			ReceivedAt:     s.now(),
		})
		if err != nil {
			s.logger.Error("failed to time out notification", "notification_id", t.ID, "error", err)
			continue
		}
		if outcome == engine.OutcomeApplied {
			n++
		}
	}
	return n
}

// deadline is the moment the row timed out. Stamping the synthetic callback
// there keeps provider receipts produced before it from being discarded.
func (s *TimeoutSweeper) deadline(t store.TimedOutNotification) time.Time {
	if t.CreatedAt.IsZero() {
		return s.now()
	}
	return t.CreatedAt.Add(s.timeout)
}
