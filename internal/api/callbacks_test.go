package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/Priya8975/notify-delivery/internal/provider"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *apiFixture) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func sesBounceEnvelope(t *testing.T) string {
	t.Helper()
	message := `{"notificationType":"Bounce","mail":{"messageId":"ses-ref"},` +
		`"bounce":{"bounceType":"Permanent","bounceSubType":"General","timestamp":"2026-03-01T11:00:00Z"}}`
	body, err := json.Marshal(provider.SNSEnvelope{Type: "Notification", Message: message})
	require.NoError(t, err)
	return string(body)
}

func TestSESCallback_Queued(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})

	rec := f.do(t, http.MethodPost, "/callbacks/ses", "", sesBounceEnvelope(t))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	jobs := f.sink.submitted()
	require.Len(t, jobs, 1)
	cb := jobs[0].Callback
	assert.Equal(t, "ses", cb.Provider)
	assert.Equal(t, "ses-ref", cb.Reference)
	assert.Equal(t, string(domain.StatusPermanentFailure), cb.Status)
	assert.Equal(t, domain.FeedbackHardBounce, cb.FeedbackType)
	assert.False(t, cb.ReceivedAt.IsZero())
	assert.Zero(t, jobs[0].Attempt)
}

func TestSESCallback_SubscriptionConfirmation(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})

	confirmed := false
	aws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		confirmed = true
	}))
	defer aws.Close()

	// non-AWS hosts are never followed
	body, _ := json.Marshal(provider.SNSEnvelope{Type: "SubscriptionConfirmation", SubscribeURL: aws.URL + "/confirm"})
	rec := f.do(t, http.MethodPost, "/callbacks/ses", "", string(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, confirmed)
	assert.Empty(t, f.sink.submitted())
}

func TestSESCallback_IgnoredAndMalformed(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})

	open, _ := json.Marshal(provider.SNSEnvelope{Type: "Notification", Message: `{"eventType":"Open","mail":{"messageId":"r"}}`})
	rec := f.do(t, http.MethodPost, "/callbacks/ses", "", string(open))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/callbacks/ses", "", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, f.sink.submitted())
}

func TestCallback_SinkFailure(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})
	f.sink.err = errStore

	rec := f.do(t, http.MethodPost, "/callbacks/ses", "", sesBounceEnvelope(t))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "providers retry when the callback was not queued")
}

func TestPinpointCallback(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})
	body := `{"event_type":"_SMS.SUCCESS","event_timestamp":1772366400000,` +
		`"attributes":{"message_id":"pp-1","record_status":"DELIVERED","number_of_message_parts":"1"}}`

	rec := f.do(t, http.MethodPost, "/callbacks/pinpoint", "", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	jobs := f.sink.submitted()
	require.Len(t, jobs, 1)
	assert.Equal(t, "pp-1", jobs[0].Callback.Reference)
	assert.Equal(t, string(domain.StatusDelivered), jobs[0].Callback.Status)
}

func TestTwilioCallback_UsesNotificationID(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})
	id := uuid.New()

	rec := f.postForm(t, "/callbacks/twilio?notification_id="+id.String(), url.Values{
		"MessageSid":    {"SM1"},
		"MessageStatus": {"undelivered"},
		"ErrorCode":     {"30003"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	cb := f.sink.submitted()[0].Callback
	assert.Equal(t, id, cb.NotificationID)
	assert.Equal(t, "SM1", cb.Reference)
	assert.Equal(t, domain.StatusReasonUnreachable, cb.StatusReason)
}

func TestTwilioCallback_WithoutNotificationID(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})

	rec := f.postForm(t, "/callbacks/twilio", url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, uuid.Nil, f.sink.submitted()[0].Callback.NotificationID)

	rec = f.postForm(t, "/callbacks/twilio", url.Values{"MessageStatus": {"delivered"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGovDeliveryCallback(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})

	rec := f.postForm(t, "/callbacks/govdelivery", url.Values{
		"message_url": {"/messages/email/gd-1"},
		"status":      {"sent"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	cb := f.sink.submitted()[0].Callback
	assert.Equal(t, "gd-1", cb.Reference)
	assert.Equal(t, string(domain.StatusDelivered), cb.Status)
}
