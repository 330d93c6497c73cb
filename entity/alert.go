package entity

import "time"

// Severity is the severity of an alert, ordered low < medium < high < critical.
type Severity string

// Alert severities.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the total order position of a severity.
func (s Severity) Rank() int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// AlertStatus is the lifecycle state of a persisted alert.
type AlertStatus string

// Alert lifecycle states. Alerts are never hard-deleted.
const (
	AlertActive   AlertStatus = "active"
	AlertResolved AlertStatus = "resolved"
)

// Alert is the persisted record of an ongoing risk condition for one entity.
type Alert struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	DataSourceID string         `json:"data_source_id"`
	EntityID     string         `json:"entity_id"`
	Key          AlertKey       `json:"key"`
	Severity     Severity       `json:"severity"`
	Message      string         `json:"message"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Status       AlertStatus    `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ResolvedAt   *time.Time     `json:"resolved_at,omitempty"`
}

// StateFromAlerts recomputes an entity's health state purely from its active
// alerts: any critical or high alert means critical, else any medium means
// warn, else any low means low, else normal.
func StateFromAlerts(active []Alert) State {
	state := StateNormal
	for _, a := range active {
		if a.Status != AlertActive {
			continue
		}
		switch a.Severity {
		case SeverityCritical, SeverityHigh:
			return StateCritical
		case SeverityMedium:
			state = MaxState(state, StateWarn)
		case SeverityLow:
			state = MaxState(state, StateLow)
		}
	}
	return state
}
