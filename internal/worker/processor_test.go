package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type processorFixture struct {
	processor *CallbackProcessor
	refs      *fakeRefs
	applier   *fakeApplier
	dead      *fakeDeadLetters
	dlq       *fakeDLQ
	retry     *fakeScheduler
}

func setupTestProcessor() *processorFixture {
	f := &processorFixture{
		refs:    &fakeRefs{ids: map[string]uuid.UUID{}},
		applier: &fakeApplier{},
		dead:    &fakeDeadLetters{},
		dlq:     &fakeDLQ{},
		retry:   &fakeScheduler{},
	}
	f.processor = NewCallbackProcessor(ProcessorConfig{RetryWindow: 5 * time.Minute, RetryDelay: 10 * time.Second},
		f.refs, f.applier, f.dead, f.dlq, testLogger())
	f.processor.SetRetryScheduler(f.retry)
	f.processor.now = func() time.Time { return now }
	return f
}

func sesJob(reference string, receivedAt time.Time) CallbackJob {
	return CallbackJob{Callback: domain.Callback{
		Provider:   "ses",
		Reference:  reference,
		Status:     string(domain.StatusDelivered),
		ReceivedAt: receivedAt,
	}}
}

func TestProcessor_ResolvesReferenceAndApplies(t *testing.T) {
	f := setupTestProcessor()
	id := uuid.New()
	f.refs.ids["ses/ref-1"] = id

	require.NoError(t, f.processor.Process(context.Background(), sesJob("ref-1", now)))

	calls := f.applier.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, id, calls[0].NotificationID)
	assert.Empty(t, f.dead.records)
}

func TestProcessor_KnownNotificationSkipsLookup(t *testing.T) {
	f := setupTestProcessor()
	f.refs.err = errBoom
	job := sesJob("", now)
	job.Callback.NotificationID = uuid.New()

	require.NoError(t, f.processor.Process(context.Background(), job))
	assert.Len(t, f.applier.calls(), 1)
}

func TestProcessor_UnknownReferenceIsRetried(t *testing.T) {
	f := setupTestProcessor()

	require.NoError(t, f.processor.Process(context.Background(), sesJob("missing", now.Add(-time.Minute))))

	require.Len(t, f.retry.jobs, 1)
	assert.Equal(t, 1, f.retry.jobs[0].job.Attempt)
	assert.Equal(t, now.Add(10*time.Second), f.retry.jobs[0].due)
	assert.Empty(t, f.dead.records)
	assert.Empty(t, f.applier.calls())
}

func TestProcessor_UnknownReferencePastWindowIsDeadLettered(t *testing.T) {
	f := setupTestProcessor()

	require.NoError(t, f.processor.Process(context.Background(), sesJob("missing", now.Add(-6*time.Minute))))

	assert.Empty(t, f.retry.jobs)
	require.Len(t, f.dead.records, 1)
	rec := f.dead.records[0]
	assert.Equal(t, "ses", rec.Provider)
	assert.Equal(t, "missing", rec.Reference)

	var stored CallbackJob
	require.NoError(t, json.Unmarshal(rec.Payload, &stored))
	assert.Equal(t, "missing", stored.Callback.Reference)

	require.Len(t, f.dlq.msgs, 1)
	assert.Equal(t, "callback.ses", f.dlq.msgs[0].routingKey)
}

func TestProcessor_UnknownStatusIsDeadLettered(t *testing.T) {
	f := setupTestProcessor()
	f.applier.err = &domain.UnknownStatusError{Status: "exploded"}
	job := sesJob("", now)
	job.Callback.NotificationID = uuid.New()

	require.NoError(t, f.processor.Process(context.Background(), job))

	require.Len(t, f.dead.records, 1)
	assert.Contains(t, f.dead.records[0].LastError, "exploded")
	assert.Empty(t, f.retry.jobs)
}

func TestProcessor_NotificationGoneIsRetried(t *testing.T) {
	f := setupTestProcessor()
	f.applier.err = domain.ErrNotificationNotFound
	job := sesJob("", now)
	job.Callback.NotificationID = uuid.New()

	require.NoError(t, f.processor.Process(context.Background(), job))
	assert.Len(t, f.retry.jobs, 1)
}

func TestProcessor_TransientErrorReturned(t *testing.T) {
	f := setupTestProcessor()
	f.applier.err = errBoom
	job := sesJob("", now)
	job.Callback.NotificationID = uuid.New()

	err := f.processor.Process(context.Background(), job)
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, f.dead.records)
	assert.Empty(t, f.retry.jobs)
}

func TestProcessor_NoSchedulerDeadLetters(t *testing.T) {
	f := setupTestProcessor()
	f.processor.SetRetryScheduler(nil)

	require.NoError(t, f.processor.Process(context.Background(), sesJob("missing", now)))
	assert.Len(t, f.dead.records, 1)
}

func TestProcessor_HandleReschedulesTransientErrors(t *testing.T) {
	f := setupTestProcessor()
	f.applier.err = errBoom
	job := sesJob("", now)
	job.Callback.NotificationID = uuid.New()

	f.processor.Handle(context.Background(), job)

	require.Len(t, f.retry.jobs, 1)
	assert.Equal(t, 1, f.retry.jobs[0].job.Attempt)
}

func TestProcessor_HandleMessage(t *testing.T) {
	f := setupTestProcessor()
	id := uuid.New()
	job := sesJob("", now)
	job.Callback.NotificationID = id

	require.NoError(t, f.processor.HandleMessage(context.Background(), mustJSON(t, job)))
	calls := f.applier.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, id, calls[0].NotificationID)
}

func TestProcessor_HandleMessageUndecodable(t *testing.T) {
	f := setupTestProcessor()

	require.NoError(t, f.processor.HandleMessage(context.Background(), []byte("{not json")))

	require.Len(t, f.dead.records, 1)
	rec := f.dead.records[0]
	assert.Equal(t, "unknown", rec.Provider)
	assert.True(t, json.Valid(rec.Payload), "raw body stored as a JSON string")

	var raw string
	require.NoError(t, json.Unmarshal(rec.Payload, &raw))
	assert.Equal(t, "{not json", raw)
}
