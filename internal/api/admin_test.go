package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/Priya8975/notify-delivery/internal/engine"
	"github.com/Priya8975/notify-delivery/internal/worker"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceStatus(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})
	f.bounces.snap = engine.BounceRateSnapshot{HardBounces: 7, Total: 100, Rate: 0.07, Window: "24h0m0s"}
	f.guard.state = engine.ServiceGuardState{State: engine.GuardStateWarning, BounceRate: 0.07}
	token := adminToken(t)

	rec := f.do(t, http.MethodGet, "/admin/services/"+f.service.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[serviceStatusResponse](t, rec)
	assert.Equal(t, f.service.ID, resp.Service.ID)
	assert.Equal(t, 0.07, resp.Bounce.Rate)
	assert.Equal(t, engine.GuardStateWarning, resp.Guard.State)
	assert.NotContains(t, rec.Body.String(), "service-secret", "api secret must not leak")

	rec = f.do(t, http.MethodGet, "/admin/services/"+f.service.ID.String()+"/bounce-rate", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), decode[engine.BounceRateSnapshot](t, rec).HardBounces)

	rec = f.do(t, http.MethodGet, "/admin/services/"+uuid.NewString(), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.bounces.err = domain.ErrBackendUnavailable
	rec = f.do(t, http.MethodGet, "/admin/services/"+f.service.ID.String()+"/bounce-rate", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServiceResume(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})

	rec := f.do(t, http.MethodPost, "/admin/services/"+f.service.ID.String()+"/resume", adminToken(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{f.service.ID}, f.guard.resumed)
}

func testProviderRow(identifier string, channel domain.Channel) domain.ProviderDetails {
	return domain.ProviderDetails{ID: uuid.New(), Identifier: identifier, Channel: channel, Priority: 10, Active: true, Version: 1}
}

func TestProviders_ListAndGet(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})
	ses := testProviderRow("ses", domain.ChannelEmail)
	f.providers.providers = []domain.ProviderDetails{ses, testProviderRow("sns", domain.ChannelSMS)}
	token := adminToken(t)

	rec := f.do(t, http.MethodGet, "/admin/providers", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.ProviderDetails](t, rec), 2)

	rec = f.do(t, http.MethodGet, "/admin/providers?notification_type=email", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]domain.ProviderDetails](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "ses", list[0].Identifier)

	rec = f.do(t, http.MethodGet, "/admin/providers?notification_type=letter", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/admin/providers/"+ses.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ses", decode[domain.ProviderDetails](t, rec).Identifier)

	rec = f.do(t, http.MethodGet, "/admin/providers/"+uuid.NewString(), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProviders_Update(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})
	sns := testProviderRow("sns", domain.ChannelSMS)
	f.providers.providers = []domain.ProviderDetails{sns}
	token := adminToken(t)

	rec := f.do(t, http.MethodPatch, "/admin/providers/"+sns.ID.String(), token, map[string]any{"priority": 5, "active": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	updated := decode[domain.ProviderDetails](t, rec)
	assert.Equal(t, 5, updated.Priority)
	assert.False(t, updated.Active)
	assert.Equal(t, 2, updated.Version)

	rec = f.do(t, http.MethodPatch, "/admin/providers/"+sns.ID.String(), token, map[string]any{"priority": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, "/admin/providers/"+sns.ID.String(), token, map[string]any{"load_balancing_weight": -3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, "/admin/providers/"+uuid.NewString(), token, map[string]any{"priority": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Len(t, f.providers.updates, 2, "invalid updates never reach the registry")
}

func TestProviders_Stats(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})
	token := adminToken(t)

	rec := f.do(t, http.MethodGet, "/admin/providers/stats?days=3", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -3), f.providers.since, time.Minute)

	rec = f.do(t, http.MethodGet, "/admin/providers/stats?days=91", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProviders_Versions(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})
	sns := testProviderRow("sns", domain.ChannelSMS)
	f.providers.history = []domain.ProviderDetailsHistory{{ProviderDetails: sns, RecordedAt: time.Now()}}

	rec := f.do(t, http.MethodGet, "/admin/providers/"+sns.ID.String()+"/versions", adminToken(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.ProviderDetailsHistory](t, rec), 1)
}

func addDeadLetter(t *testing.T, f *apiFixture, job worker.CallbackJob) *domain.DeadLetter {
	t.Helper()
	payload, err := json.Marshal(job)
	require.NoError(t, err)
	l := &domain.DeadLetter{
		ID:        uuid.New(),
		Provider:  job.Callback.Provider,
		Payload:   payload,
		LastError: "notification not found",
		CreatedAt: time.Now(),
	}
	f.deadLetters.letters[l.ID] = l
	return l
}

func TestDeadLetters_Replay(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})
	old := time.Now().Add(-time.Hour)
	letter := addDeadLetter(t, f, worker.CallbackJob{
		Callback: domain.Callback{Provider: "ses", Reference: "late-ref", Status: "delivered", ReceivedAt: old},
		Attempt:  6,
	})
	token := adminToken(t)

	rec := f.do(t, http.MethodPost, "/admin/dead-letters/"+letter.ID.String()+"/replay", token, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	jobs := f.sink.submitted()
	require.Len(t, jobs, 1)
	assert.Zero(t, jobs[0].Attempt)
	assert.Equal(t, "late-ref", jobs[0].Callback.Reference)
	assert.True(t, jobs[0].Callback.ReceivedAt.After(old), "replay starts a fresh retry window")
	assert.Equal(t, "replay", f.deadLetters.resolved[letter.ID])

	rec = f.do(t, http.MethodPost, "/admin/dead-letters/"+letter.ID.String()+"/replay", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeadLetters_ReplayRejectsRawPayload(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})
	l := &domain.DeadLetter{ID: uuid.New(), Provider: "unknown", Payload: json.RawMessage(`"{not json"`)}
	f.deadLetters.letters[l.ID] = l

	rec := f.do(t, http.MethodPost, "/admin/dead-letters/"+l.ID.String()+"/replay", adminToken(t), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, f.sink.submitted())
}

func TestDeadLetters_ReplaySinkFailure(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})
	letter := addDeadLetter(t, f, worker.CallbackJob{Callback: domain.Callback{Provider: "ses", Reference: "r"}})
	f.sink.err = errStore

	rec := f.do(t, http.MethodPost, "/admin/dead-letters/"+letter.ID.String()+"/replay", adminToken(t), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Nil(t, letter.ResolvedAt, "unqueued dead letter stays open")
}

func TestDeadLetters_ListGetResolve(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})
	ses := addDeadLetter(t, f, worker.CallbackJob{Callback: domain.Callback{Provider: "ses"}})
	addDeadLetter(t, f, worker.CallbackJob{Callback: domain.Callback{Provider: "twilio"}})
	token := adminToken(t)

	rec := f.do(t, http.MethodGet, "/admin/dead-letters?provider=ses", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.DeadLetter](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/admin/dead-letters/"+ses.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/dead-letters/"+ses.ID.String()+"/resolve", token, map[string]string{"resolved_by": "ops"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops", f.deadLetters.resolved[ses.ID])

	rec = f.do(t, http.MethodPost, "/admin/dead-letters/"+ses.ID.String()+"/resolve", token, map[string]string{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/admin/dead-letters?resolved=true", token, nil)
	assert.Len(t, decode[[]domain.DeadLetter](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/admin/dead-letters/"+uuid.NewString(), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	handler := HealthHandler(map[string]Pinger{"postgres": fakePinger{}, "redis": fakePinger{err: errStore}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "ok", resp.Checks["postgres"])
	assert.Contains(t, resp.Checks["redis"], "connection refused")

	ok := setupTestAPI(t, RateLimitSettings{}).do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, ok.Code)
}
