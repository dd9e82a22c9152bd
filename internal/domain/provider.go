package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProviderDetails is the current version of a sending backend's configuration.
type ProviderDetails struct {
	ID                    uuid.UUID  `json:"id"`
	Identifier            string     `json:"identifier"`
	DisplayName           string     `json:"display_name"`
	Channel               Channel    `json:"notification_type"`
	Priority              int        `json:"priority"`
	LoadBalancingWeight   *int       `json:"load_balancing_weight,omitempty"`
	Active                bool       `json:"active"`
	SupportsInternational bool       `json:"supports_international"`
	Version               int        `json:"version"`
	CreatedBy             *string    `json:"created_by,omitempty"`
	UpdatedAt             *time.Time `json:"updated_at,omitempty"`
}

// ProviderDetailsHistory is one immutable version of a provider row.
type ProviderDetailsHistory struct {
	ProviderDetails
	RecordedAt time.Time `json:"recorded_at"`
}

// ProviderUpdate carries the mutable provider fields. Nil fields are left
// unchanged. ClearWeight removes the load-balancing weight.
type ProviderUpdate struct {
	Priority              *int    `json:"priority,omitempty"`
	LoadBalancingWeight   *int    `json:"load_balancing_weight,omitempty"`
	ClearWeight           bool    `json:"clear_weight,omitempty"`
	Active                *bool   `json:"active,omitempty"`
	SupportsInternational *bool   `json:"supports_international,omitempty"`
	UpdatedBy             *string `json:"updated_by,omitempty"`
}

// Apply mutates p and reports whether any field changed.
func (u ProviderUpdate) Apply(p *ProviderDetails) bool {
	changed := false
	if u.Priority != nil && *u.Priority != p.Priority {
		p.Priority = *u.Priority
		changed = true
	}
	if u.ClearWeight {
		if p.LoadBalancingWeight != nil {
			p.LoadBalancingWeight = nil
			changed = true
		}
	} else if u.LoadBalancingWeight != nil && (p.LoadBalancingWeight == nil || *p.LoadBalancingWeight != *u.LoadBalancingWeight) {
		w := *u.LoadBalancingWeight
		p.LoadBalancingWeight = &w
		changed = true
	}
	if u.Active != nil && *u.Active != p.Active {
		p.Active = *u.Active
		changed = true
	}
	if u.SupportsInternational != nil && *u.SupportsInternational != p.SupportsInternational {
		p.SupportsInternational = *u.SupportsInternational
		changed = true
	}
	if changed && u.UpdatedBy != nil {
		p.CreatedBy = u.UpdatedBy
	}
	return changed
}

// ProviderStats summarizes recent traffic through one provider.
type ProviderStats struct {
	ProviderDetails
	SentLastWindow int64 `json:"sent_last_window"`
}
