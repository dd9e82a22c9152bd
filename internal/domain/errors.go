package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrServiceNotFound      = errors.New("service not found")
	ErrServiceInactive      = errors.New("service is inactive")
	ErrProviderNotFound     = errors.New("provider not found")
	ErrDeadLetterNotFound   = errors.New("dead letter not found or already resolved")
	ErrBackendUnavailable   = errors.New("rate window backend unavailable")
)

// NoProviderAvailableError means no active provider can serve the channel.
type NoProviderAvailableError struct {
	Channel       Channel
	International bool
}

func (e *NoProviderAvailableError) Error() string {
	if e.International {
		return fmt.Sprintf("no active international %s provider available", e.Channel)
	}
	return fmt.Sprintf("no active %s provider available", e.Channel)
}

// ServiceSuspendedError is returned when a service's bounce rate is over the
// suspension threshold.
type ServiceSuspendedError struct {
	ServiceID  uuid.UUID
	BounceRate float64
}

func (e *ServiceSuspendedError) Error() string {
	return fmt.Sprintf("service %s suspended: bounce rate %.2f", e.ServiceID, e.BounceRate)
}

// UnknownStatusError is returned for a callback status outside the lifecycle.
type UnknownStatusError struct {
	Status string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown notification status %q", e.Status)
}

// ProviderSendError wraps a provider transport failure.
type ProviderSendError struct {
	Provider string
	Err      error
}

func (e *ProviderSendError) Error() string {
	return fmt.Sprintf("provider %s send failed: %v", e.Provider, e.Err)
}

func (e *ProviderSendError) Unwrap() error {
	return e.Err
}
