package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/Priya8975/notify-delivery/internal/engine"
	"github.com/Priya8975/notify-delivery/internal/store"
	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeRefs struct {
	ids map[string]uuid.UUID
	err error
}

func (f *fakeRefs) FindNotificationIDByReference(_ context.Context, sentBy, reference string) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	id, ok := f.ids[sentBy+"/"+reference]
	if !ok {
		return uuid.Nil, domain.ErrNotificationNotFound
	}
	return id, nil
}

type fakeApplier struct {
	mu      sync.Mutex
	applied []domain.Callback
	outcome engine.Outcome
	err     error
}

func (f *fakeApplier) ApplyCallback(_ context.Context, cb domain.Callback) (engine.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.applied = append(f.applied, cb)
	if f.outcome == "" {
		return engine.OutcomeApplied, nil
	}
	return f.outcome, nil
}

func (f *fakeApplier) calls() []domain.Callback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Callback(nil), f.applied...)
}

type fakeDeadLetters struct {
	mu      sync.Mutex
	records []store.DeadLetterRecord
}

func (f *fakeDeadLetters) InsertDeadLetter(_ context.Context, rec store.DeadLetterRecord) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return uuid.New(), nil
}

type dlqMessage struct {
	routingKey string
	payload    []byte
	origErr    string
}

type fakeDLQ struct {
	mu   sync.Mutex
	msgs []dlqMessage
}

func (f *fakeDLQ) PublishToDLQ(_ context.Context, routingKey string, payload []byte, originalError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, dlqMessage{routingKey: routingKey, payload: payload, origErr: originalError})
	return nil
}

type scheduledJob struct {
	job CallbackJob
	due time.Time
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs []scheduledJob
}

func (f *fakeScheduler) Schedule(_ context.Context, job CallbackJob, due time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, scheduledJob{job: job, due: due})
	return nil
}

type collectingSubmitter struct {
	mu   sync.Mutex
	jobs []CallbackJob
	err  error
}

func (c *collectingSubmitter) Submit(_ context.Context, job CallbackJob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.jobs = append(c.jobs, job)
	return nil
}

var errBoom = errors.New("boom")

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
