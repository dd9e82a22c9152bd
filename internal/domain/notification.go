package domain

import (
	"time"

	"github.com/google/uuid"
)

// Channel is the notification type a provider serves.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// Status is the lifecycle state of a single notification.
type Status string

const (
	StatusCreated             Status = "created"
	StatusSending             Status = "sending"
	StatusPendingVirusCheck   Status = "pending-virus-check"
	StatusDelivered           Status = "delivered"
	StatusSent                Status = "sent"
	StatusFailed              Status = "failed"
	StatusTemporaryFailure    Status = "temporary-failure"
	StatusPermanentFailure    Status = "permanent-failure"
	StatusTechnicalFailure    Status = "technical-failure"
	StatusPIICheckFailed      Status = "pii-check-failed"
	StatusPreferencesDeclined Status = "preferences-declined"
	StatusProviderFailure     Status = "provider-failure"
	StatusCancelled           Status = "cancelled"
)

var knownStatuses = map[Status]bool{
	StatusCreated:             false,
	StatusSending:             false,
	StatusPendingVirusCheck:   false,
	StatusFailed:              false,
	StatusTemporaryFailure:    false,
	StatusDelivered:           true,
	StatusSent:                true,
	StatusPermanentFailure:    true,
	StatusTechnicalFailure:    true,
	StatusPIICheckFailed:      true,
	StatusPreferencesDeclined: true,
	StatusProviderFailure:     true,
	StatusCancelled:           true,
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if _, ok := knownStatuses[s]; !ok {
		return "", &UnknownStatusError{Status: raw}
	}
	return s, nil
}

// IsTerminal reports whether no further lifecycle progress is expected.
func (s Status) IsTerminal() bool {
	return knownStatuses[s]
}

// Bounce classification carried on email callbacks.
const (
	FeedbackHardBounce    = "hard-bounce"
	FeedbackSoftBounce    = "soft-bounce"
	FeedbackUnknownBounce = "unknown-bounce"

	FeedbackSubtypeGeneral             = "general"
	FeedbackSubtypeNoEmail             = "no-email"
	FeedbackSubtypeSuppressed          = "suppressed"
	FeedbackSubtypeOnAccountSuppressed = "on-account-suppression-list"
	FeedbackSubtypeMailboxFull         = "mailbox-full"
	FeedbackSubtypeMessageTooLarge     = "message-too-large"
	FeedbackSubtypeContentRejected     = "content-rejected"
	FeedbackSubtypeAttachmentRejected  = "attachment-rejected"
)

// Status reasons set by the platform itself.
const (
	StatusReasonUnreachable   = "STATUS_REASON_UNREACHABLE"
	StatusReasonRetryable     = "STATUS_REASON_RETRYABLE"
	StatusReasonUndeliverable = "STATUS_REASON_UNDELIVERABLE"
)

type Notification struct {
	ID               uuid.UUID         `json:"id"`
	ServiceID        uuid.UUID         `json:"service_id"`
	TemplateID       uuid.UUID         `json:"template_id"`
	TemplateVersion  int               `json:"template_version"`
	JobID            *uuid.UUID        `json:"job_id,omitempty"`
	APIKeyID         *uuid.UUID        `json:"api_key_id,omitempty"`
	Channel          Channel           `json:"notification_type"`
	To               *string           `json:"to,omitempty"`
	Status           Status            `json:"status"`
	StatusReason     *string           `json:"status_reason,omitempty"`
	FeedbackType     *string           `json:"feedback_type,omitempty"`
	FeedbackSubtype  *string           `json:"feedback_subtype,omitempty"`
	ProviderResponse *string           `json:"provider_response,omitempty"`
	Reference        *string           `json:"reference,omitempty"`
	SentBy           *string           `json:"sent_by,omitempty"`
	International    bool              `json:"international"`
	SegmentsCount    int               `json:"segments_count"`
	CostInMillicents float64           `json:"cost_in_millicents"`
	ProviderMetadata map[string]string `json:"provider_metadata,omitempty"`
	SentAt           *time.Time        `json:"sent_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        *time.Time        `json:"updated_at,omitempty"`
	// ProviderUpdatedAt is the provider timestamp of the callback that
	// produced the current status.
	ProviderUpdatedAt *time.Time `json:"provider_updated_at,omitempty"`
}

// IsHardBounce reports whether the notification currently records a hard bounce.
func (n *Notification) IsHardBounce() bool {
	return n.Status == StatusPermanentFailure && n.FeedbackType != nil && *n.FeedbackType == FeedbackHardBounce
}

// Callback is a provider delivery report normalized across providers.
type Callback struct {
	NotificationID   uuid.UUID         `json:"notification_id,omitzero"`
	Reference        string            `json:"reference,omitempty"`
	Provider         string            `json:"provider"`
	Status           string            `json:"status"`
	StatusReason     string            `json:"status_reason,omitempty"`
	FeedbackType     string            `json:"feedback_type,omitempty"`
	FeedbackSubtype  string            `json:"feedback_subtype,omitempty"`
	ProviderResponse string            `json:"provider_response,omitempty"`
	SegmentsCount    *int              `json:"segments_count,omitempty"`
	CostInMillicents *float64          `json:"cost_in_millicents,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	// Timestamp is the provider's event time. Zero when the provider omitted it.
	Timestamp  time.Time `json:"timestamp,omitzero"`
	ReceivedAt time.Time `json:"received_at"`
}

// EffectiveTimestamp falls back to receipt time when the provider sent none.
func (c Callback) EffectiveTimestamp() time.Time {
	if c.Timestamp.IsZero() {
		return c.ReceivedAt
	}
	return c.Timestamp
}
