package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Tokens are short lived: iat must be within this much of the server clock.
const tokenMaxAge = 30 * time.Second

type ctxKey int

const serviceCtxKey ctxKey = iota

type ServiceLookup interface {
	GetService(ctx context.Context, id uuid.UUID) (*domain.Service, error)
}

// Authenticator validates HS256 bearer tokens. Service tokens carry the
// service id as iss and are signed with that service's API secret; admin
// tokens carry the admin client id and are signed with the admin secret.
type Authenticator struct {
	services      ServiceLookup
	adminClientID string
	adminSecret   string
	now           func() time.Time
}

func NewAuthenticator(services ServiceLookup, adminClientID, adminSecret string) *Authenticator {
	return &Authenticator{
		services:      services,
		adminClientID: adminClientID,
		adminSecret:   adminSecret,
		now:           time.Now,
	}
}

var errInvalidToken = errors.New("invalid token")

// lookupError is a store failure while resolving the token's signing key.
type lookupError struct{ err error }

func (e *lookupError) Error() string { return "looking up service: " + e.err.Error() }
func (e *lookupError) Unwrap() error { return e.err }

// RequireService authenticates a service token and stores the service in
// the request context.
func (a *Authenticator) RequireService(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		var svc *domain.Service
		_, err := a.parse(tokenStr, func(issuer string) ([]byte, error) {
			id, err := uuid.Parse(issuer)
			if err != nil {
				return nil, errInvalidToken
			}
			s, err := a.services.GetService(r.Context(), id)
			if err != nil {
				if errors.Is(err, domain.ErrServiceNotFound) {
					return nil, errInvalidToken
				}
				return nil, &lookupError{err: err}
			}
			svc = s
			return []byte(s.APISecret), nil
		})
		if err != nil {
			var lookup *lookupError
			if errors.As(err, &lookup) {
				respondError(w, http.StatusInternalServerError, "failed to authenticate")
				return
			}
			respondError(w, http.StatusForbidden, "invalid token: "+err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), serviceCtxKey, svc)))
	})
}

// RequireAdmin authenticates an admin client token.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if a.adminClientID == "" || a.adminSecret == "" {
			respondError(w, http.StatusForbidden, "admin access not configured")
			return
		}

		_, err := a.parse(tokenStr, func(issuer string) ([]byte, error) {
			if issuer != a.adminClientID {
				return nil, errInvalidToken
			}
			return []byte(a.adminSecret), nil
		})
		if err != nil {
			respondError(w, http.StatusForbidden, "invalid token: "+err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) parse(tokenStr string, secretFor func(issuer string) ([]byte, error)) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		iss, err := t.Claims.GetIssuer()
		if err != nil || iss == "" {
			return nil, fmt.Errorf("%w: missing iss", errInvalidToken)
		}
		return secretFor(iss)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	if claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing iat", jwt.ErrTokenInvalidClaims)
	}
	if age := a.now().Sub(claims.IssuedAt.Time); age > tokenMaxAge || age < -tokenMaxAge {
		return nil, fmt.Errorf("%w: token issued at %s", jwt.ErrTokenInvalidClaims, claims.IssuedAt.Time.UTC().Format(time.RFC3339))
	}
	return claims, nil
}

// SignToken creates a token for clientID. Used by clients and tests.
func SignToken(clientID, secret string, issuedAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:   clientID,
		IssuedAt: jwt.NewNumericDate(issuedAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// extractToken reads the bearer token, falling back to ?access_token= for
// WebSocket clients, which cannot set headers.
func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return r.URL.Query().Get("access_token")
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// serviceFromContext returns the service authenticated by RequireService.
func serviceFromContext(ctx context.Context) *domain.Service {
	svc, _ := ctx.Value(serviceCtxKey).(*domain.Service)
	return svc
}
