package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// EventWindow is the sliding-window primitive the bounce tracker counts with.
type EventWindow interface {
	AddEvent(ctx context.Context, key string, ts time.Time) error
	CountInWindow(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error)
}

func totalNotificationsKey(serviceID uuid.UUID) string {
	return fmt.Sprintf("total_notifications:%s", serviceID)
}

func hardBounceKey(serviceID uuid.UUID) string {
	return fmt.Sprintf("hard_bounce_total:%s", serviceID)
}

// BounceRateSnapshot is the trailing-window hard bounce ratio of one service.
type BounceRateSnapshot struct {
	ServiceID   uuid.UUID `json:"service_id"`
	HardBounces int64     `json:"hard_bounces"`
	Total       int64     `json:"total_notifications"`
	Rate        float64   `json:"bounce_rate"`
	Window      string    `json:"window"`
}

// BounceRateTracker keeps two counters per service, sends and hard bounces,
// over a rolling window (24h by default).
type BounceRateTracker struct {
	window   EventWindow
	duration time.Duration
	now      func() time.Time
}

func NewBounceRateTracker(window EventWindow, duration time.Duration) *BounceRateTracker {
	if duration <= 0 {
		duration = 24 * time.Hour
	}
	return &BounceRateTracker{
		window:   window,
		duration: duration,
		now:      time.Now,
	}
}

// RecordSend counts one attempted email send. Called before the provider call.
func (t *BounceRateTracker) RecordSend(ctx context.Context, serviceID uuid.UUID) error {
	return t.window.AddEvent(ctx, totalNotificationsKey(serviceID), t.now())
}

// RecordHardBounce counts one permanent bounce.
func (t *BounceRateTracker) RecordHardBounce(ctx context.Context, serviceID uuid.UUID) error {
	return t.window.AddEvent(ctx, hardBounceKey(serviceID), t.now())
}

// GetBounceRate returns hard bounces / sends over the window, rounded to two
// decimals. Zero when nothing was sent.
func (t *BounceRateTracker) GetBounceRate(ctx context.Context, serviceID uuid.UUID) (float64, error) {
	snap, err := t.Snapshot(ctx, serviceID)
	if err != nil {
		return 0, err
	}
	return snap.Rate, nil
}

func (t *BounceRateTracker) Snapshot(ctx context.Context, serviceID uuid.UUID) (BounceRateSnapshot, error) {
	now := t.now()
	snap := BounceRateSnapshot{ServiceID: serviceID, Window: t.duration.String()}

	bounces, err := t.window.CountInWindow(ctx, hardBounceKey(serviceID), t.duration, now)
	if err != nil {
		return snap, fmt.Errorf("counting hard bounces: %w", err)
	}
	total, err := t.window.CountInWindow(ctx, totalNotificationsKey(serviceID), t.duration, now)
	if err != nil {
		return snap, fmt.Errorf("counting notifications: %w", err)
	}

	snap.HardBounces = bounces
	snap.Total = total
	snap.Rate = bounceRate(bounces, total)
	return snap, nil
}

func bounceRate(bounces, total int64) float64 {
	if total <= 0 {
		return 0
	}
	// bounces for sends that already left the window can outnumber total
	rate := math.Min(float64(bounces)/float64(total), 1)
	return math.Round(rate*100) / 100
}
