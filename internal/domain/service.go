package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Active       bool       `json:"active"`
	ResearchMode bool       `json:"research_mode"`
	APISecret    string     `json:"-"`
	SuspendedAt  *time.Time `json:"suspended_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Template is the message body a notification is rendered from.
type Template struct {
	ID      uuid.UUID `json:"id"`
	Version int       `json:"version"`
	Subject string    `json:"subject,omitempty"`
	Body    string    `json:"body"`
	// ProviderIdentifier pins sends of this template to one provider.
	ProviderIdentifier string `json:"provider_identifier,omitempty"`
}

// Render substitutes ((placeholder)) fields from personalisation.
func (t Template) Render(personalisation map[string]string) (subject, body string) {
	subject, body = t.Subject, t.Body
	for k, v := range personalisation {
		placeholder := "((" + k + "))"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body
}
