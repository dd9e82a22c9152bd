package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RateLimitSettings configures the per-service API limit.
type RateLimitSettings struct {
	Enabled bool
	Limit   int64
	Window  time.Duration
}

// RouterDeps bundles everything the HTTP surface talks to.
type RouterDeps struct {
	Auth          *Authenticator
	Notifications *NotificationHandler
	Callbacks     *CallbackHandler
	Services      *ServiceHandler
	Providers     *ProviderHandler
	DeadLetters   *DeadLetterHandler
	Limiter       LimitChecker
	RateLimit     RateLimitSettings
	Health        map[string]Pinger
	WebSocket     http.HandlerFunc
	Logger        *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(instrument)
	r.Use(corsMiddleware)

	r.Get("/health", HealthHandler(d.Health))
	r.Handle("/metrics", promhttp.Handler())
	if d.WebSocket != nil {
		r.With(d.Auth.RequireAdmin).Get("/ws", d.WebSocket)
	}

	// Provider webhooks
	r.Route("/callbacks", func(r chi.Router) {
		r.Post("/ses", d.Callbacks.SES)
		r.Post("/pinpoint", d.Callbacks.Pinpoint)
		r.Post("/twilio", d.Callbacks.Twilio)
		r.Post("/govdelivery", d.Callbacks.GovDelivery)
	})

	// Public API, authenticated per service
	r.Route("/v2/notifications", func(r chi.Router) {
		r.Use(d.Auth.RequireService)
		if d.RateLimit.Enabled {
			r.Use(rateLimit(d.Limiter, d.RateLimit.Limit, d.RateLimit.Window, d.Logger))
		}

		r.Post("/email", d.Notifications.SendEmail)
		r.Post("/sms", d.Notifications.SendSMS)
		r.Get("/", d.Notifications.List)
		r.Get("/{id}", d.Notifications.Get)
	})

	// Admin API
	r.Route("/admin", func(r chi.Router) {
		r.Use(d.Auth.RequireAdmin)

		r.Route("/services/{id}", func(r chi.Router) {
			r.Get("/", d.Services.Get)
			r.Get("/bounce-rate", d.Services.BounceRate)
			r.Post("/resume", d.Services.Resume)
		})

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", d.Providers.List)
			r.Get("/stats", d.Providers.Stats)
			r.Get("/{id}", d.Providers.Get)
			r.Patch("/{id}", d.Providers.Update)
			r.Get("/{id}/versions", d.Providers.Versions)
		})

		r.Route("/dead-letters", func(r chi.Router) {
			r.Get("/", d.DeadLetters.List)
			r.Get("/{id}", d.DeadLetters.Get)
			r.Post("/{id}/resolve", d.DeadLetters.Resolve)
			r.Post("/{id}/replay", d.DeadLetters.Replay)
		})
	})

	return r
}
