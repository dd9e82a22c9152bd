package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireService_ValidToken(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})

	rec := f.do(t, http.MethodGet, "/v2/notifications", f.serviceToken(t), nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRequireService_Rejections(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})

	stale, err := SignToken(f.service.ID.String(), f.service.APISecret, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	future, err := SignToken(f.service.ID.String(), f.service.APISecret, time.Now().Add(time.Minute))
	require.NoError(t, err)
	wrongSecret, err := SignToken(f.service.ID.String(), "not-the-secret", time.Now())
	require.NoError(t, err)
	unknownService, err := SignToken(uuid.NewString(), "whatever", time.Now())
	require.NoError(t, err)
	notUUID, err := SignToken("some-client", "whatever", time.Now())
	require.NoError(t, err)
	noIat, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: f.service.ID.String()}).
		SignedString([]byte(f.service.APISecret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "not.a.token", http.StatusForbidden},
		{"expired iat", stale, http.StatusForbidden},
		{"future iat", future, http.StatusForbidden},
		{"wrong secret", wrongSecret, http.StatusForbidden},
		{"unknown service", unknownService, http.StatusForbidden},
		{"issuer not a service id", notUUID, http.StatusForbidden},
		{"missing iat", noIat, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/v2/notifications", tt.token, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRequireService_RejectsOtherAlgorithms(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Issuer:   f.service.ID.String(),
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}).SignedString([]byte(f.service.APISecret))
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/v2/notifications", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireService_StoreFailure(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})
	token := f.serviceToken(t)
	f.services.err = errStore

	rec := f.do(t, http.MethodGet, "/v2/notifications", token, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequireAdmin(t *testing.T) {
	f := setupTestAPI(t, RateLimitSettings{})

	rec := f.do(t, http.MethodGet, "/admin/providers", adminToken(t), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/admin/providers", f.serviceToken(t), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "service tokens are not admin tokens")

	rec = f.do(t, http.MethodGet, "/admin/providers", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAdmin_NotConfigured(t *testing.T) {
	auth := NewAuthenticator(&fakeServiceStore{}, "", "")
	handler := auth.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/providers", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestExtractToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?access_token=abc", nil)
	assert.Equal(t, "abc", extractToken(req))

	req.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, "xyz", extractToken(req), "header wins over query")

	req.Header.Set("Authorization", "Basic xyz")
	assert.Empty(t, extractToken(req))
}

func TestAuthenticator_ClockInjected(t *testing.T) {
	services := &fakeServiceStore{}
	auth := NewAuthenticator(services, testAdminID, testAdminSecret)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return issued.Add(20 * time.Second) }

	token, err := SignToken(testAdminID, testAdminSecret, issued)
	require.NoError(t, err)

	claims, err := auth.parse(token, func(string) ([]byte, error) { return []byte(testAdminSecret), nil })
	require.NoError(t, err)
	assert.Equal(t, testAdminID, claims.Issuer)

	auth.now = func() time.Time { return issued.Add(31 * time.Second) }
	_, err = auth.parse(token, func(string) ([]byte, error) { return []byte(testAdminSecret), nil })
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidClaims)
}
