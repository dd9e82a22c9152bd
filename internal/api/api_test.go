package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/Priya8975/notify-delivery/internal/engine"
	"github.com/Priya8975/notify-delivery/internal/worker"
	"github.com/google/uuid"
)

const (
	testAdminID     = "notify-admin"
	testAdminSecret = "admin-secret"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fakeServiceStore struct {
	services map[uuid.UUID]*domain.Service
	err      error
}

func (f *fakeServiceStore) GetService(_ context.Context, id uuid.UUID) (*domain.Service, error) {
	if f.err != nil {
		return nil, f.err
	}
	svc, ok := f.services[id]
	if !ok {
		return nil, domain.ErrServiceNotFound
	}
	return svc, nil
}

type fakeDispatcher struct {
	mu       sync.Mutex
	requests []engine.DispatchRequest
	result   *domain.Notification
	err      error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req engine.DispatchRequest) (*domain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.result != nil || f.err != nil {
		return f.result, f.err
	}
	sentBy := "ses"
	return &domain.Notification{
		ID:        uuid.New(),
		ServiceID: req.ServiceID,
		Channel:   req.Channel,
		Status:    domain.StatusSending,
		SentBy:    &sentBy,
	}, nil
}

type fakeNotificationReader struct {
	rows       map[uuid.UUID]*domain.Notification
	listStatus string
	listLimit  int
}

func (f *fakeNotificationReader) GetNotification(_ context.Context, id uuid.UUID) (*domain.Notification, error) {
	return f.rows[id], nil
}

func (f *fakeNotificationReader) ListNotifications(_ context.Context, serviceID uuid.UUID, status string, limit int) ([]domain.Notification, error) {
	f.listStatus = status
	f.listLimit = limit
	out := []domain.Notification{}
	for _, n := range f.rows {
		if n.ServiceID == serviceID {
			out = append(out, *n)
		}
	}
	return out, nil
}

type fakeSink struct {
	mu   sync.Mutex
	jobs []worker.CallbackJob
	err  error
}

func (f *fakeSink) Submit(_ context.Context, job worker.CallbackJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeSink) submitted() []worker.CallbackJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]worker.CallbackJob(nil), f.jobs...)
}

type fakeLimiter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
	over   bool
}

func (f *fakeLimiter) IsOverLimit(_ context.Context, key string, limit int64, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.over, f.err
	}
	if f.counts == nil {
		f.counts = make(map[string]int64)
	}
	f.counts[key]++
	return f.counts[key] > limit, nil
}

type fakeBounces struct {
	snap engine.BounceRateSnapshot
	err  error
}

func (f *fakeBounces) Snapshot(_ context.Context, serviceID uuid.UUID) (engine.BounceRateSnapshot, error) {
	s := f.snap
	s.ServiceID = serviceID
	return s, f.err
}

type fakeGuard struct {
	state   engine.ServiceGuardState
	resumed []uuid.UUID
}

func (f *fakeGuard) GetState(context.Context, uuid.UUID) engine.ServiceGuardState {
	if f.state.State == "" {
		return engine.ServiceGuardState{State: engine.GuardStateOK}
	}
	return f.state
}

func (f *fakeGuard) Resume(_ context.Context, id uuid.UUID) error {
	f.resumed = append(f.resumed, id)
	return nil
}

type fakeProviders struct {
	providers []domain.ProviderDetails
	history   []domain.ProviderDetailsHistory
	since     time.Time
	updates   []domain.ProviderUpdate
}

func (f *fakeProviders) ListProviders(context.Context) ([]domain.ProviderDetails, error) {
	return f.providers, nil
}

func (f *fakeProviders) GetProvider(_ context.Context, id uuid.UUID) (*domain.ProviderDetails, error) {
	for i := range f.providers {
		if f.providers[i].ID == id {
			return &f.providers[i], nil
		}
	}
	return nil, nil
}

func (f *fakeProviders) ListProviderHistory(context.Context, uuid.UUID) ([]domain.ProviderDetailsHistory, error) {
	return f.history, nil
}

func (f *fakeProviders) ProviderStats(_ context.Context, since time.Time) ([]domain.ProviderStats, error) {
	f.since = since
	return []domain.ProviderStats{}, nil
}

func (f *fakeProviders) RecordVersionChange(_ context.Context, id uuid.UUID, upd domain.ProviderUpdate) (*domain.ProviderDetails, error) {
	f.updates = append(f.updates, upd)
	for i := range f.providers {
		if f.providers[i].ID == id {
			upd.Apply(&f.providers[i])
			f.providers[i].Version++
			p := f.providers[i]
			return &p, nil
		}
	}
	return nil, domain.ErrProviderNotFound
}

type fakeDeadLetters struct {
	letters  map[uuid.UUID]*domain.DeadLetter
	resolved map[uuid.UUID]string
}

func (f *fakeDeadLetters) ListDeadLetters(_ context.Context, provider string, resolved bool, _ int) ([]domain.DeadLetter, error) {
	out := []domain.DeadLetter{}
	for _, l := range f.letters {
		if provider != "" && l.Provider != provider {
			continue
		}
		if (l.ResolvedAt != nil) != resolved {
			continue
		}
		out = append(out, *l)
	}
	return out, nil
}

func (f *fakeDeadLetters) GetDeadLetter(_ context.Context, id uuid.UUID) (*domain.DeadLetter, error) {
	return f.letters[id], nil
}

func (f *fakeDeadLetters) ResolveDeadLetter(_ context.Context, id uuid.UUID, resolvedBy string) error {
	l, ok := f.letters[id]
	if !ok || l.ResolvedAt != nil {
		return domain.ErrDeadLetterNotFound
	}
	now := time.Now()
	l.ResolvedAt = &now
	l.ResolvedBy = &resolvedBy
	if f.resolved == nil {
		f.resolved = make(map[uuid.UUID]string)
	}
	f.resolved[id] = resolvedBy
	return nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type apiFixture struct {
	router        http.Handler
	service       *domain.Service
	services      *fakeServiceStore
	dispatcher    *fakeDispatcher
	notifications *fakeNotificationReader
	sink          *fakeSink
	limiter       *fakeLimiter
	bounces       *fakeBounces
	guard         *fakeGuard
	providers     *fakeProviders
	deadLetters   *fakeDeadLetters
}

func setupTestAPI(t *testing.T, rateLimit RateLimitSettings) *apiFixture {
	t.Helper()

	svc := &domain.Service{ID: uuid.New(), Name: "test service", Active: true, APISecret: "service-secret"}
	f := &apiFixture{
		service:       svc,
		services:      &fakeServiceStore{services: map[uuid.UUID]*domain.Service{svc.ID: svc}},
		dispatcher:    &fakeDispatcher{},
		notifications: &fakeNotificationReader{rows: map[uuid.UUID]*domain.Notification{}},
		sink:          &fakeSink{},
		limiter:       &fakeLimiter{},
		bounces:       &fakeBounces{},
		guard:         &fakeGuard{},
		providers:     &fakeProviders{},
		deadLetters:   &fakeDeadLetters{letters: map[uuid.UUID]*domain.DeadLetter{}},
	}

	logger := testLogger()
	f.router = NewRouter(RouterDeps{
		Auth:          NewAuthenticator(f.services, testAdminID, testAdminSecret),
		Notifications: NewNotificationHandler(f.dispatcher, f.notifications, logger),
		Callbacks:     NewCallbackHandler(f.sink, logger),
		Services:      NewServiceHandler(f.services, f.bounces, f.guard),
		Providers:     NewProviderHandler(f.providers, f.providers),
		DeadLetters:   NewDeadLetterHandler(f.deadLetters, f.sink),
		Limiter:       f.limiter,
		RateLimit:     rateLimit,
		Health:        map[string]Pinger{"postgres": fakePinger{}, "redis": fakePinger{}},
		Logger:        logger,
	})
	return f
}

func (f *apiFixture) serviceToken(t *testing.T) string {
	t.Helper()
	token, err := SignToken(f.service.ID.String(), f.service.APISecret, time.Now())
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := SignToken(testAdminID, testAdminSecret, time.Now())
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

var errStore = errors.New("connection refused")
