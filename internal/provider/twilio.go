package provider

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	From              string
	BaseURL           string
	StatusCallbackURL string
	Timeout           time.Duration
}

// Twilio sends SMS through the Twilio Messages API.
type Twilio struct {
	cfg    TwilioConfig
	client *resty.Client
}

type twilioMessage struct {
	SID          string  `json:"sid"`
	Status       string  `json:"status"`
	ErrorCode    *int    `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewTwilio(cfg TwilioConfig) *Twilio {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetTimeout(cfg.Timeout)

	return &Twilio{cfg: cfg, client: client}
}

func (t *Twilio) Name() string {
	return "twilio"
}

func (t *Twilio) Send(ctx context.Context, recipient string, content Content) (string, error) {
	form := map[string]string{
		"To":   recipient,
		"From": t.cfg.From,
		"Body": content.Body,
	}
	if t.cfg.StatusCallbackURL != "" {
		cb, err := url.Parse(t.cfg.StatusCallbackURL)
		if err != nil {
			return "", fmt.Errorf("parsing twilio status callback url: %w", err)
		}
		q := cb.Query()
		q.Set("notification_id", content.NotificationID.String())
		cb.RawQuery = q.Encode()
		form["StatusCallback"] = cb.String()
	}

	var msg twilioMessage
	var apiErr twilioError
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&msg).
		SetError(&apiErr).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", t.cfg.AccountSID))
	if err != nil {
		return "", fmt.Errorf("twilio request: %w", err)
	}

	if resp.IsError() {
		return "", fmt.Errorf("twilio returned %d: code %d: %s", resp.StatusCode(), apiErr.Code, apiErr.Message)
	}
	if msg.SID == "" {
		return "", fmt.Errorf("twilio response missing message sid")
	}
	return msg.SID, nil
}
