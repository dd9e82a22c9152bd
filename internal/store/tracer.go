package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/Priya8975/notify-delivery/internal/metrics"
	"github.com/jackc/pgx/v5"
)

type queryStartKey struct{}

type queryStart struct {
	at  time.Time
	sql string
}

// slowQueryTracer logs statements that run longer than threshold.
type slowQueryTracer struct {
	logger    *slog.Logger
	threshold time.Duration
}

func newSlowQueryTracer(logger *slog.Logger, threshold time.Duration) *slowQueryTracer {
	if threshold <= 0 {
		threshold = 200 * time.Millisecond
	}
	return &slowQueryTracer{logger: logger, threshold: threshold}
}

func (t *slowQueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: time.Now(), sql: data.SQL})
}

func (t *slowQueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}

	took := time.Since(start.at)
	if took <= t.threshold {
		return
	}

	sql := start.sql
	if len(sql) > 200 {
		sql = sql[:200] + "..."
	}

	metrics.SlowQueries.Inc()
	t.logger.Warn("slow query",
		"sql", sql,
		"took_ms", took.Milliseconds(),
		"command_tag", data.CommandTag.String(),
		"error", data.Err,
	)
}
