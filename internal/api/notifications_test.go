package api

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emailBody() map[string]any {
	return map[string]any{
		"email_address": "someone@example.com",
		"template": map[string]any{
			"id":      uuid.NewString(),
			"subject": "Hello ((name))",
			"body":    "Hi ((name))",
		},
		"personalisation": map[string]string{"name": "Sam"},
	}
}

func TestSendEmail(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})

	rec := f.do(t, http.MethodPost, "/v2/notifications/email", f.serviceToken(t), emailBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	n := decode[domain.Notification](t, rec)
	assert.Equal(t, f.service.ID, n.ServiceID)
	assert.Equal(t, domain.StatusSending, n.Status)

	require.Len(t, f.dispatcher.requests, 1)
	req := f.dispatcher.requests[0]
	assert.Equal(t, domain.ChannelEmail, req.Channel)
	assert.Equal(t, "someone@example.com", req.Recipient)
	assert.Equal(t, 1, req.Template.Version, "version defaults to 1")
	assert.Equal(t, "Sam", req.Personalisation["name"])
}

func TestSendSMS(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})
	body := map[string]any{
		"phone_number":           "+447700900123",
		"requires_international": true,
		"template":               map[string]any{"id": uuid.NewString(), "version": 3, "body": "code", "provider_identifier": "sns"},
	}

	rec := f.do(t, http.MethodPost, "/v2/notifications/sms", f.serviceToken(t), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req := f.dispatcher.requests[0]
	assert.Equal(t, domain.ChannelSMS, req.Channel)
	assert.Equal(t, "+447700900123", req.Recipient)
	assert.True(t, req.RequiresInternational)
	assert.Equal(t, 3, req.Template.Version)
	assert.Equal(t, "sns", req.Template.ProviderIdentifier)
}

func TestSend_Validation(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})
	token := f.serviceToken(t)

	rec := f.do(t, http.MethodPost, "/v2/notifications/email", token, "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v2/notifications/sms", token, emailBody())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "phone_number")

	rec = f.do(t, http.MethodPost, "/v2/notifications/email", token, map[string]any{"email_address": "a@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, f.dispatcher.requests)
}

func TestSend_DomainErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"suspended", &domain.ServiceSuspendedError{ServiceID: uuid.New(), BounceRate: 0.12}, http.StatusForbidden},
		{"inactive", domain.ErrServiceInactive, http.StatusForbidden},
		{"no provider", &domain.NoProviderAvailableError{Channel: domain.ChannelEmail}, http.StatusServiceUnavailable},
		{"backend down", domain.ErrBackendUnavailable, http.StatusServiceUnavailable},
		{"unexpected", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestAPI(t, RateLimitSettings{})
			f.dispatcher.err = tt.err

			rec := f.do(t, http.MethodPost, "/v2/notifications/email", f.serviceToken(t), emailBody())
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestSend_ProviderFailureReturnsNotification(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})
	n := &domain.Notification{ID: uuid.New(), ServiceID: f.service.ID, Status: domain.StatusTechnicalFailure}
	f.dispatcher.result = n
	f.dispatcher.err = &domain.ProviderSendError{Provider: "ses", Err: errors.New("timeout")}

	rec := f.do(t, http.MethodPost, "/v2/notifications/email", f.serviceToken(t), emailBody())
	require.Equal(t, http.StatusBadGateway, rec.Code)

	body := decode[map[string]any](t, rec)
	notification := body["notification"].(map[string]any)
	assert.Equal(t, n.ID.String(), notification["id"])
	assert.Equal(t, "technical-failure", notification["status"])
}

func TestGetNotification(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})
	mine := &domain.Notification{ID: uuid.New(), ServiceID: f.service.ID, Status: domain.StatusDelivered}
	theirs := &domain.Notification{ID: uuid.New(), ServiceID: uuid.New(), Status: domain.StatusDelivered}
	f.notifications.rows[mine.ID] = mine
	f.notifications.rows[theirs.ID] = theirs
	token := f.serviceToken(t)

	rec := f.do(t, http.MethodGet, "/v2/notifications/"+mine.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mine.ID, decode[domain.Notification](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/v2/notifications/"+theirs.ID.String(), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "other services' notifications are hidden")

	rec = f.do(t, http.MethodGet, "/v2/notifications/"+uuid.NewString(), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v2/notifications/not-a-uuid", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListNotifications(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})
	f.notifications.rows[uuid.New()] = &domain.Notification{ServiceID: f.service.ID, CreatedAt: time.Now()}
	token := f.serviceToken(t)

	rec := f.do(t, http.MethodGet, "/v2/notifications?status=delivered&limit=10", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Notification](t, rec), 1)
	assert.Equal(t, "delivered", f.notifications.listStatus)
	assert.Equal(t, 10, f.notifications.listLimit)

	rec = f.do(t, http.MethodGet, "/v2/notifications?limit=100000", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, f.notifications.listLimit)

	rec = f.do(t, http.MethodGet, "/v2/notifications?status=bogus", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{Enabled: true, Limit: 2, Window: time.Minute})
	token := f.serviceToken(t)

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodGet, "/v2/notifications", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/v2/notifications", token, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.True(t, strings.Contains(rec.Body.String(), "2 requests per 1m0s"))
	assert.Equal(t, int64(3), f.limiter.counts[RateLimitKey(f.service.ID)])
}

func TestRateLimit_BackendFailure(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{Enabled: true, Limit: 2, Window: time.Minute})
	token := f.serviceToken(t)

	f.limiter.err = domain.ErrBackendUnavailable
	f.limiter.over = false
	rec := f.do(t, http.MethodGet, "/v2/notifications", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "checker reporting not-over lets the request through")

	f.limiter.over = true
	rec = f.do(t, http.MethodGet, "/v2/notifications", token, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "fail-closed checker rejects")
}

func TestRateLimit_Disabled(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{Enabled: false, Limit: 1, Window: time.Minute})
	token := f.serviceToken(t)

	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodGet, "/v2/notifications", token, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Empty(t, f.limiter.counts)
}
