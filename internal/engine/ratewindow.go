package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/Priya8975/notify-delivery/internal/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateWindow is a sliding-window event counter backed by Redis sorted sets.
// Each event is a unique member scored by its timestamp in microseconds.
// Entries older than the window are pruned on every count.
type RateWindow struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
	failOpen    bool
	retention   time.Duration
	now         func() time.Time
}

// Lua script for an atomic add-then-count used by IsOverLimit.
// 1. Remove entries outside the sliding window
// 2. Add this event
// 3. Refresh the TTL
// 4. Return the cardinality
var addAndCountScript = redis.NewScript(`
local key = KEYS[1]
local now = ARGV[1]
local cutoff = ARGV[2]
local member = ARGV[3]
local ttl = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. cutoff)
redis.call('ZADD', key, now, member)
redis.call('EXPIRE', key, ttl)
return redis.call('ZCARD', key)
`)

// NewRateWindow creates a RateWindow. With failOpen set, backend errors are
// logged and treated as "no events" / "not limited".
func NewRateWindow(redisClient *redis.Client, logger *slog.Logger, failOpen bool) *RateWindow {
	return &RateWindow{
		redisClient: redisClient,
		logger:      logger,
		script:      addAndCountScript,
		failOpen:    failOpen,
		retention:   25 * time.Hour,
		now:         time.Now,
	}
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func eventMember(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10) + "-" + uuid.NewString()
}

// AddEvent records one event at ts. A zero ts means now.
func (w *RateWindow) AddEvent(ctx context.Context, key string, ts time.Time) error {
	if ts.IsZero() {
		ts = w.now()
	}

	_, err := w.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: score(ts), Member: eventMember(ts)})
		pipe.Expire(ctx, key, w.retention)
		return nil
	})
	if err != nil {
		return w.degrade("add_event", key, err)
	}
	return nil
}

// CountInWindow prunes members older than now-window and returns how many
// remain. Prune, count and expiry refresh run in one MULTI/EXEC.
func (w *RateWindow) CountInWindow(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	if now.IsZero() {
		now = w.now()
	}
	cutoff := now.Add(-window).UnixMicro()

	var card *redis.IntCmd
	_, err := w.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		card = pipe.ZCard(ctx, key)
		pipe.Expire(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, w.degrade("count_in_window", key, err)
	}
	return card.Val(), nil
}

// IsOverLimit records an event and reports whether the window now holds more
// than limit events. A limit <= 0 disables the check.
func (w *RateWindow) IsOverLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}

	now := w.now()
	cutoff := now.Add(-window).UnixMicro()
	ttl := int64(window/time.Second) + 1
	count, err := w.script.Run(ctx, w.redisClient, []string{key},
		strconv.FormatInt(now.UnixMicro(), 10), strconv.FormatInt(cutoff, 10), eventMember(now), ttl,
	).Int64()
	if err != nil {
		if derr := w.degrade("is_over_limit", key, err); derr != nil {
			return true, derr
		}
		return false, nil
	}

	if count > limit {
		w.logger.Debug("rate limited", "key", key, "limit", limit, "count", count)
		return true, nil
	}
	return false, nil
}

func (w *RateWindow) degrade(op, key string, err error) error {
	metrics.RecordRateWindowError(op)
	if w.failOpen {
		w.logger.Warn("rate window backend error, failing open", "operation", op, "key", key, "error", err)
		return nil
	}
	w.logger.Error("rate window backend error", "operation", op, "key", key, "error", err)
	return fmt.Errorf("%w: %s %s: %v", domain.ErrBackendUnavailable, op, key, err)
}
