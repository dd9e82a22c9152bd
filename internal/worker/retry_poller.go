package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RetryQueueKey is the sorted set holding parked callbacks, scored by due time.
const RetryQueueKey = "callback_retry_queue"

// Submitter accepts jobs that are due.
type Submitter interface {
	Submit(ctx context.Context, job CallbackJob) error
}

// RetryPoller moves due callbacks from the Redis delay queue to the pool.
type RetryPoller struct {
	redisClient  *redis.Client
	pool         Submitter
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int64
	now          func() time.Time
}

func NewRetryPoller(redisClient *redis.Client, pool Submitter, logger *slog.Logger) *RetryPoller {
	return &RetryPoller{
		redisClient:  redisClient,
		pool:         pool,
		logger:       logger,
		pollInterval: time.Second,
		batchSize:    50,
		now:          time.Now,
	}
}

// Schedule parks job until due.
func (r *RetryPoller) Schedule(ctx context.Context, job CallbackJob, due time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding retry job: %w", err)
	}
	return r.redisClient.ZAdd(ctx, RetryQueueKey, redis.Z{
		Score:  float64(due.UnixMicro()),
		Member: string(data),
	}).Err()
}

// Start polls until ctx is cancelled.
func (r *RetryPoller) Start(ctx context.Context) {
	r.logger.Info("retry poller started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("retry poller stopping")
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

// poll claims due jobs and submits them. It returns the number submitted.
func (r *RetryPoller) poll(ctx context.Context) int {
	maxScore := strconv.FormatInt(r.now().UnixMicro(), 10)

	members, err := r.redisClient.ZRangeByScore(ctx, RetryQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   maxScore,
		Count: r.batchSize,
	}).Result()
	if err != nil {
		r.logger.Error("failed to poll retry queue", "error", err)
		return 0
	}

	submitted := 0
	for _, member := range members {
		// ZREM returning 0 means another instance claimed it.
		removed, err := r.redisClient.ZRem(ctx, RetryQueueKey, member).Result()
		if err != nil {
			r.logger.Error("failed to claim retry job", "error", err)
			continue
		}
		if removed == 0 {
			continue
		}

		var job CallbackJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			r.logger.Error("failed to decode retry job", "error", err)
			continue
		}

		if err := r.pool.Submit(ctx, job); err != nil {
			// Put it back for the next poll.
			if err := r.Schedule(context.WithoutCancel(ctx), job, r.now()); err != nil {
				r.logger.Error("failed to requeue retry job", "error", err)
			}
			continue
		}
		submitted++
	}
	return submitted
}
