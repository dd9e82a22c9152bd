package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Priya8975/notify-delivery/internal/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Service guard states
const (
	GuardStateOK        = "ok"
	GuardStateWarning   = "warning"
	GuardStateSuspended = "suspended"
)

// Routing keys for bounce-rate alerts. The templated email sender consumes them.
const (
	AlertBounceRateWarning  = "service.bounce-rate.warning"
	AlertBounceRateExceeded = "service.bounce-rate.exceeded"
)

// AlertPublisher delivers bounce-rate alerts to whoever emails the service.
type AlertPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// ServiceSuspender persists suspension on the service record.
type ServiceSuspender interface {
	SuspendService(ctx context.Context, serviceID uuid.UUID, at time.Time) error
	ResumeService(ctx context.Context, serviceID uuid.UUID) error
}

// BounceRateAlert is the payload published for warnings and suspensions.
type BounceRateAlert struct {
	ServiceID  uuid.UUID `json:"service_id"`
	BounceRate float64   `json:"bounce_rate"`
	State      string    `json:"state"`
	At         time.Time `json:"at"`
}

// ServiceGuardState is the current bounce-rate safety state of a service.
type ServiceGuardState struct {
	State      string  `json:"state"`
	BounceRate float64 `json:"bounce_rate"`
	ChangedAt  string  `json:"changed_at,omitempty"`
}

// ServiceGuard records bounce-rate warnings and suspensions per service in a
// Redis hash. State transitions: ok → warning → suspended → (resume) ok
//
// - Warning: alert published at most once per cooldown.
// - Suspended: service deactivated and alert published.
type ServiceGuard struct {
	redisClient  *redis.Client
	logger       *slog.Logger
	alerts       AlertPublisher
	suspender    ServiceSuspender
	warnCooldown time.Duration
	now          func() time.Time
}

func NewServiceGuard(redisClient *redis.Client, alerts AlertPublisher, suspender ServiceSuspender, logger *slog.Logger) *ServiceGuard {
	return &ServiceGuard{
		redisClient:  redisClient,
		logger:       logger,
		alerts:       alerts,
		suspender:    suspender,
		warnCooldown: 24 * time.Hour,
		now:          time.Now,
	}
}

func guardKey(serviceID uuid.UUID) string {
	return fmt.Sprintf("bounce_guard:%s", serviceID)
}

func warnedKey(serviceID uuid.UUID) string {
	return fmt.Sprintf("bounce_warning_sent:%s", serviceID)
}

// FlagWarning marks the service as over the warning threshold. Errors are
// logged only; callers run it off the send path.
func (g *ServiceGuard) FlagWarning(ctx context.Context, serviceID uuid.UUID, rate float64) {
	now := g.now()

	if state, _ := g.redisClient.HGet(ctx, guardKey(serviceID), "state").Result(); state == GuardStateSuspended {
		return
	}

	first, err := g.redisClient.SetNX(ctx, warnedKey(serviceID), now.Unix(), g.warnCooldown).Result()
	if err != nil {
		g.logger.Error("failed to record bounce rate warning", "service_id", serviceID, "error", err)
		return
	}

	if err := g.redisClient.HSet(ctx, guardKey(serviceID),
		"state", GuardStateWarning,
		"bounce_rate", rate,
		"changed_at", now.Unix(),
	).Err(); err != nil {
		g.logger.Error("failed to record bounce rate warning state", "service_id", serviceID, "error", err)
	}

	if !first {
		return
	}

	metrics.RecordCircuitTrip(GuardStateWarning)
	g.logger.Warn("bounce rate warning threshold exceeded",
		"service_id", serviceID,
		"bounce_rate", rate,
	)
	g.publish(ctx, AlertBounceRateWarning, BounceRateAlert{
		ServiceID: serviceID, BounceRate: rate, State: GuardStateWarning, At: now,
	})
}

// Suspend records the suspension, deactivates the service and publishes the
// exceeded alert. The suspended_at field is claimed with HSETNX so only one
// caller performs the transition; concurrent callers return nil.
func (g *ServiceGuard) Suspend(ctx context.Context, serviceID uuid.UUID, rate float64) error {
	now := g.now()
	key := guardKey(serviceID)

	claimed, err := g.redisClient.HSetNX(ctx, key, "suspended_at", now.Unix()).Result()
	if err != nil {
		// Without the guard hash the service record is still suspended.
		g.logger.Error("failed to claim service suspension", "service_id", serviceID, "error", err)
		claimed = true
	}
	if !claimed {
		if err := g.redisClient.HSet(ctx, key, "bounce_rate", rate).Err(); err != nil {
			g.logger.Error("failed to record bounce rate", "service_id", serviceID, "error", err)
		}
		return nil
	}

	if err := g.redisClient.HSet(ctx, key,
		"state", GuardStateSuspended,
		"bounce_rate", rate,
		"changed_at", now.Unix(),
	).Err(); err != nil {
		g.logger.Error("failed to record service suspension", "service_id", serviceID, "error", err)
	}

	if g.suspender != nil {
		if err := g.suspender.SuspendService(ctx, serviceID, now); err != nil {
			// Release the claim so the next over-threshold send retries.
			g.redisClient.HDel(context.WithoutCancel(ctx), key, "suspended_at")
			return fmt.Errorf("suspending service %s: %w", serviceID, err)
		}
	}

	metrics.RecordCircuitTrip(GuardStateSuspended)
	g.logger.Warn("service suspended for bounce rate",
		"service_id", serviceID,
		"bounce_rate", rate,
	)
	g.publish(ctx, AlertBounceRateExceeded, BounceRateAlert{
		ServiceID: serviceID, BounceRate: rate, State: GuardStateSuspended, At: now,
	})
	return nil
}

// Resume clears the guard state and reactivates the service.
func (g *ServiceGuard) Resume(ctx context.Context, serviceID uuid.UUID) error {
	if g.suspender != nil {
		if err := g.suspender.ResumeService(ctx, serviceID); err != nil {
			return fmt.Errorf("resuming service %s: %w", serviceID, err)
		}
	}

	if err := g.redisClient.Del(ctx, guardKey(serviceID), warnedKey(serviceID)).Err(); err != nil {
		return fmt.Errorf("clearing guard state: %w", err)
	}

	g.logger.Info("service resumed", "service_id", serviceID)
	return nil
}

// GetState returns the guard state for a service.
func (g *ServiceGuard) GetState(ctx context.Context, serviceID uuid.UUID) ServiceGuardState {
	data, err := g.redisClient.HGetAll(ctx, guardKey(serviceID)).Result()
	if err != nil || len(data) == 0 {
		return ServiceGuardState{State: GuardStateOK}
	}

	state := data["state"]
	if state == "" {
		state = GuardStateOK
	}
	rate, _ := strconv.ParseFloat(data["bounce_rate"], 64)

	result := ServiceGuardState{State: state, BounceRate: rate}
	if ts, ok := data["changed_at"]; ok && ts != "" {
		changed, _ := strconv.ParseInt(ts, 10, 64)
		if changed > 0 {
			result.ChangedAt = time.Unix(changed, 0).UTC().Format(time.RFC3339)
		}
	}
	return result
}

func (g *ServiceGuard) publish(ctx context.Context, routingKey string, alert BounceRateAlert) {
	if g.alerts == nil {
		return
	}
	if err := g.alerts.Publish(ctx, routingKey, alert); err != nil {
		g.logger.Error("failed to publish bounce rate alert",
			"routing_key", routingKey,
			"service_id", alert.ServiceID,
			"error", err,
		)
	}
}
