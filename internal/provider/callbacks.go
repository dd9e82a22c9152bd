package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/Priya8975/notify-delivery/internal/domain"
)

// ErrIgnoredEvent marks provider events that carry no delivery status.
var ErrIgnoredEvent = errors.New("provider event ignored")

// SNSEnvelope is the wrapper SNS puts around SES notifications.
type SNSEnvelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	Message      string `json:"Message"`
	Timestamp    string `json:"Timestamp"`
	SubscribeURL string `json:"SubscribeURL,omitempty"`
}

type sesMessage struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string `json:"messageId"`
		Timestamp string `json:"timestamp"`
	} `json:"mail"`
	Bounce *struct {
		BounceType    string `json:"bounceType"`
		BounceSubType string `json:"bounceSubType"`
		Timestamp     string `json:"timestamp"`
	} `json:"bounce"`
	Delivery *struct {
		Timestamp string `json:"timestamp"`
	} `json:"delivery"`
	Complaint *struct {
		ComplaintFeedbackType string `json:"complaintFeedbackType"`
		Timestamp             string `json:"timestamp"`
	} `json:"complaint"`
}

var sesBounceSubtypes = map[string]string{
	"General":                  domain.FeedbackSubtypeGeneral,
	"NoEmail":                  domain.FeedbackSubtypeNoEmail,
	"Suppressed":               domain.FeedbackSubtypeSuppressed,
	"OnAccountSuppressionList": domain.FeedbackSubtypeOnAccountSuppressed,
	"MailboxFull":              domain.FeedbackSubtypeMailboxFull,
	"MessageTooLarge":          domain.FeedbackSubtypeMessageTooLarge,
	"ContentRejected":          domain.FeedbackSubtypeContentRejected,
	"AttachmentRejected":       domain.FeedbackSubtypeAttachmentRejected,
}

// ParseSESNotification translates an SNS-wrapped SES event. Subscription
// confirmations and other non-notification envelopes return ErrIgnoredEvent.
func ParseSESNotification(body []byte, receivedAt time.Time) (domain.Callback, error) {
	var env SNSEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.Callback{}, fmt.Errorf("decoding sns envelope: %w", err)
	}
	if env.Type != "" && env.Type != "Notification" {
		return domain.Callback{}, fmt.Errorf("%w: sns %s", ErrIgnoredEvent, env.Type)
	}

	raw := []byte(env.Message)
	if env.Message == "" {
		raw = body
	}

	var msg sesMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.Callback{}, fmt.Errorf("decoding ses message: %w", err)
	}

	eventType := msg.EventType
	if eventType == "" {
		eventType = msg.NotificationType
	}

	cb := domain.Callback{
		Provider:   "ses",
		Reference:  msg.Mail.MessageID,
		ReceivedAt: receivedAt,
	}

	switch eventType {
	case "Bounce":
		if msg.Bounce == nil {
			return domain.Callback{}, fmt.Errorf("ses bounce event without bounce body")
		}
		cb.Timestamp = parseTime(msg.Bounce.Timestamp)
		cb.FeedbackSubtype = sesBounceSubtypes[msg.Bounce.BounceSubType]
		switch msg.Bounce.BounceType {
		case "Permanent":
			cb.Status = string(domain.StatusPermanentFailure)
			cb.FeedbackType = domain.FeedbackHardBounce
			cb.ProviderResponse = "Hard bounced"
		case "Transient":
			cb.Status = string(domain.StatusTemporaryFailure)
			cb.FeedbackType = domain.FeedbackSoftBounce
			cb.ProviderResponse = "Soft bounced"
		default:
			cb.Status = string(domain.StatusTemporaryFailure)
			cb.FeedbackType = domain.FeedbackUnknownBounce
			cb.ProviderResponse = "Unknown bounce type"
		}
	case "Delivery":
		if msg.Delivery != nil {
			cb.Timestamp = parseTime(msg.Delivery.Timestamp)
		}
		cb.Status = string(domain.StatusDelivered)
	case "Complaint":
		if msg.Complaint != nil {
			cb.Timestamp = parseTime(msg.Complaint.Timestamp)
			cb.ProviderResponse = "complaint: " + msg.Complaint.ComplaintFeedbackType
		}
		cb.Status = string(domain.StatusDelivered)
	case "Send", "Open", "Click", "DeliveryDelay", "Rendering Failure":
		return domain.Callback{}, fmt.Errorf("%w: ses %s", ErrIgnoredEvent, eventType)
	default:
		cb.Status = eventType
	}

	if cb.Reference == "" {
		return domain.Callback{}, fmt.Errorf("ses event missing mail.messageId")
	}
	return cb, nil
}

var twilioStatuses = map[string]domain.Status{
	"accepted":    domain.StatusCreated,
	"queued":      domain.StatusSending,
	"sending":     domain.StatusSending,
	"sent":        domain.StatusSent,
	"delivered":   domain.StatusDelivered,
	"undelivered": domain.StatusPermanentFailure,
	"failed":      domain.StatusTechnicalFailure,
}

// ParseTwilioCallback translates a Twilio status callback form. Twilio sends
// no event timestamp, so receipt time orders these callbacks.
func ParseTwilioCallback(form url.Values, receivedAt time.Time) (domain.Callback, error) {
	sid := form.Get("MessageSid")
	if sid == "" {
		return domain.Callback{}, fmt.Errorf("twilio callback missing MessageSid")
	}

	raw := form.Get("MessageStatus")
	cb := domain.Callback{
		Provider:   "twilio",
		Reference:  sid,
		ReceivedAt: receivedAt,
		Status:     raw,
	}
	if s, ok := twilioStatuses[raw]; ok {
		cb.Status = string(s)
	}
	if code := form.Get("ErrorCode"); code != "" {
		cb.ProviderResponse = "twilio error code " + code
		if code == "30003" || code == "30005" {
			cb.StatusReason = domain.StatusReasonUnreachable
		}
	}
	return cb, nil
}

// PinpointEvent is a Pinpoint SMS event stream record.
type PinpointEvent struct {
	EventType      string `json:"event_type"`
	EventTimestamp int64  `json:"event_timestamp"`
	Attributes     struct {
		MessageID              string `json:"message_id"`
		RecordStatus           string `json:"record_status"`
		NumberOfMessageParts   string `json:"number_of_message_parts"`
		DestinationPhoneNumber string `json:"destination_phone_number"`
		ISOCountryCode         string `json:"iso_country_code"`
		MCC                    string `json:"mcc_mnc"`
	} `json:"attributes"`
	Metrics struct {
		PriceInMillicentsUSD float64 `json:"price_in_millicents_usd"`
	} `json:"metrics"`
}

var pinpointStatuses = map[string]domain.Status{
	"SUCCESSFUL":          domain.StatusSending,
	"PENDING":             domain.StatusSending,
	"DELIVERED":           domain.StatusDelivered,
	"INVALID":             domain.StatusTechnicalFailure,
	"INVALID_MESSAGE":     domain.StatusTechnicalFailure,
	"UNREACHABLE":         domain.StatusTemporaryFailure,
	"UNKNOWN":             domain.StatusTemporaryFailure,
	"CARRIER_UNREACHABLE": domain.StatusTemporaryFailure,
	"TTL_EXPIRED":         domain.StatusTemporaryFailure,
	"BLOCKED":             domain.StatusPermanentFailure,
	"SPAM":                domain.StatusPermanentFailure,
	"CARRIER_BLOCKED":     domain.StatusPermanentFailure,
	"MAX_PRICE_EXCEEDED":  domain.StatusPermanentFailure,
}

// ParsePinpointEvent translates one Pinpoint SMS event. Opt-out events
// return ErrIgnoredEvent.
func ParsePinpointEvent(body []byte, receivedAt time.Time) (domain.Callback, error) {
	var ev PinpointEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return domain.Callback{}, fmt.Errorf("decoding pinpoint event: %w", err)
	}
	if ev.EventType == "_SMS.OPTOUT" {
		return domain.Callback{}, fmt.Errorf("%w: pinpoint opt-out", ErrIgnoredEvent)
	}
	if ev.Attributes.MessageID == "" {
		return domain.Callback{}, fmt.Errorf("pinpoint event missing message_id")
	}

	raw := ev.Attributes.RecordStatus
	cb := domain.Callback{
		Provider:   "pinpoint",
		Reference:  ev.Attributes.MessageID,
		Status:     raw,
		ReceivedAt: receivedAt,
	}
	if s, ok := pinpointStatuses[raw]; ok {
		cb.Status = string(s)
		cb.ProviderResponse = strings.ToLower(raw)
	}
	if cb.Status == string(domain.StatusTemporaryFailure) {
		cb.StatusReason = domain.StatusReasonRetryable
	}
	if ev.EventTimestamp > 0 {
		cb.Timestamp = time.UnixMilli(ev.EventTimestamp).UTC()
	}
	if parts, err := strconv.Atoi(ev.Attributes.NumberOfMessageParts); err == nil && parts > 0 {
		cb.SegmentsCount = &parts
	}
	if ev.Metrics.PriceInMillicentsUSD > 0 {
		price := ev.Metrics.PriceInMillicentsUSD
		cb.CostInMillicents = &price
	}

	meta := map[string]string{}
	if ev.Attributes.ISOCountryCode != "" {
		meta["iso_country_code"] = ev.Attributes.ISOCountryCode
	}
	if ev.Attributes.MCC != "" {
		meta["mcc_mnc"] = ev.Attributes.MCC
	}
	if len(meta) > 0 {
		cb.Metadata = meta
	}
	return cb, nil
}

var govDeliveryStatuses = map[string]domain.Status{
	"sending":      domain.StatusSending,
	"sent":         domain.StatusDelivered,
	"blacklisted":  domain.StatusPermanentFailure,
	"canceled":     domain.StatusCancelled,
	"failed":       domain.StatusFailed,
	"inconclusive": domain.StatusTemporaryFailure,
}

// ParseGovDeliveryCallback translates a GovDelivery webhook form. The
// reference is the last segment of message_url.
func ParseGovDeliveryCallback(form url.Values, receivedAt time.Time) (domain.Callback, error) {
	messageURL := form.Get("message_url")
	if messageURL == "" {
		return domain.Callback{}, fmt.Errorf("govdelivery callback missing message_url")
	}

	raw := form.Get("status")
	cb := domain.Callback{
		Provider:         "govdelivery",
		Reference:        path.Base(messageURL),
		Status:           raw,
		ProviderResponse: form.Get("error_message"),
		Timestamp:        parseTime(form.Get("completed_at")),
		ReceivedAt:       receivedAt,
	}
	if s, ok := govDeliveryStatuses[raw]; ok {
		cb.Status = string(s)
	}
	return cb, nil
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
