package provider

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/go-resty/resty/v2"
)

type GovDeliveryConfig struct {
	BaseURL   string
	AuthToken string
	FromName  string
	Timeout   time.Duration
}

// GovDelivery sends email through the GovDelivery TMS API.
type GovDelivery struct {
	client   *resty.Client
	fromName string
}

type govDeliveryRecipient struct {
	Email string `json:"email"`
}

type govDeliveryRequest struct {
	Subject    string                 `json:"subject"`
	Body       string                 `json:"body"`
	FromName   string                 `json:"from_name,omitempty"`
	Recipients []govDeliveryRecipient `json:"recipients"`
}

type govDeliveryResponse struct {
	Links struct {
		Self string `json:"self"`
	} `json:"_links"`
}

func NewGovDelivery(cfg GovDeliveryConfig) *GovDelivery {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("X-AUTH-TOKEN", cfg.AuthToken).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)

	return &GovDelivery{client: client, fromName: cfg.FromName}
}

func (g *GovDelivery) Name() string {
	return "govdelivery"
}

func (g *GovDelivery) Send(ctx context.Context, recipient string, content Content) (string, error) {
	var out govDeliveryResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(govDeliveryRequest{
			Subject:    content.Subject,
			Body:       content.Body,
			FromName:   g.fromName,
			Recipients: []govDeliveryRecipient{{Email: recipient}},
		}).
		SetResult(&out).
		Post("/messages/email")
	if err != nil {
		return "", fmt.Errorf("govdelivery request: %w", err)
	}

	if resp.IsError() {
		return "", fmt.Errorf("govdelivery returned %d: %s", resp.StatusCode(), resp.String())
	}
	if out.Links.Self == "" {
		return "", fmt.Errorf("govdelivery response missing message link")
	}
	return path.Base(out.Links.Self), nil
}
