package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeadLetter is a provider callback that could not be applied.
type DeadLetter struct {
	ID         uuid.UUID       `json:"id"`
	Provider   string          `json:"provider"`
	Reference  *string         `json:"reference,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	LastError  string          `json:"last_error"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy *string         `json:"resolved_by,omitempty"`
}
