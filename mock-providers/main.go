// Command mock-providers imitates the Twilio and GovDelivery send APIs for
// local development. Accepted messages get delivery callbacks posted back
// after a short delay.
//
// Recipient conventions:
//   - SMS numbers ending in 0000 are undelivered (error 30003)
//   - SMS numbers ending in 9999 are rejected at send time
//   - email addresses starting with bounce@ fail
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

type mockServer struct {
	client           *resty.Client
	govCallbackURL   string
	callbackDelay    time.Duration
	logger           *slog.Logger
	sent             atomic.Int64
	callbacksPosted  atomic.Int64
	callbacksFailing atomic.Int64
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	port := getEnv("PORT", "9090")
	delay, err := time.ParseDuration(getEnv("CALLBACK_DELAY", "2s"))
	if err != nil {
		delay = 2 * time.Second
	}

	s := &mockServer{
		client:         resty.New().SetTimeout(5 * time.Second),
		govCallbackURL: os.Getenv("GOVDELIVERY_CALLBACK_URL"),
		callbackDelay:  delay,
		logger:         logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Post("/2010-04-01/Accounts/{sid}/Messages.json", s.twilioSend)
	r.Post("/messages/email", s.govDeliverySend)
	r.Get("/stats", s.stats)

	logger.Info("mock providers starting", "port", port, "callback_delay", delay)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func (s *mockServer) twilioSend(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 21601, "message": "invalid form"})
		return
	}

	to := r.PostForm.Get("To")
	if strings.HasSuffix(to, "9999") {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 21211, "message": "invalid 'To' phone number"})
		return
	}

	sid := "SM" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.sent.Add(1)

	if cb := r.PostForm.Get("StatusCallback"); cb != "" {
		final := map[string]string{"MessageStatus": "delivered"}
		if strings.HasSuffix(to, "0000") {
			final = map[string]string{"MessageStatus": "undelivered", "ErrorCode": "30003"}
		}
		go s.postSequence(cb, sid, []map[string]string{{"MessageStatus": "sent"}, final})
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"sid":    sid,
		"status": "queued",
		"to":     to,
	})
}

func (s *mockServer) postSequence(callbackURL, sid string, updates []map[string]string) {
	for _, fields := range updates {
		time.Sleep(s.callbackDelay)
		fields["MessageSid"] = sid
		s.postForm(callbackURL, fields)
	}
}

func (s *mockServer) govDeliverySend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipients []struct {
			Email string `json:"email"`
		} `json:"recipients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Recipients) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "recipients required"})
		return
	}

	id := uuid.NewString()
	self := "/messages/email/" + id
	s.sent.Add(1)

	if s.govCallbackURL != "" {
		status := "sent"
		if strings.HasPrefix(req.Recipients[0].Email, "bounce@") {
			status = "failed"
		}
		go func() {
			time.Sleep(s.callbackDelay)
			s.postForm(s.govCallbackURL, map[string]string{
				"message_url":  self,
				"status":       status,
				"completed_at": time.Now().UTC().Format(time.RFC3339),
			})
		}()
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"_links": map[string]string{"self": self},
	})
}

func (s *mockServer) postForm(url string, fields map[string]string) {
	resp, err := s.client.R().SetFormData(fields).Post(url)
	if err != nil || resp.IsError() {
		s.callbacksFailing.Add(1)
		status := 0
		if resp != nil {
			status = resp.StatusCode()
		}
		s.logger.Warn("callback post failed", "url", url, "status", status, "error", err)
		return
	}
	s.callbacksPosted.Add(1)
}

func (s *mockServer) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{
		"messages_sent":    s.sent.Load(),
		"callbacks_posted": s.callbacksPosted.Load(),
		"callbacks_failed": s.callbacksFailing.Load(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
