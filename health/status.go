// Package health provides health monitoring for pipeline components and the
// aggregate /healthz surface.
package health

import (
	"time"
)

// Status represents the health state of a component or system.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "degraded", "unhealthy"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true if the status is healthy.
func (s Status) IsHealthy() bool {
	return s.Status == "healthy"
}

// IsDegraded returns true if the status is degraded.
func (s Status) IsDegraded() bool {
	return s.Status == "degraded"
}

// IsUnhealthy returns true if the status is unhealthy.
func (s Status) IsUnhealthy() bool {
	return s.Status == "unhealthy"
}

// NewHealthy creates a healthy status for a component.
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    "healthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded creates a degraded status for a component.
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    "degraded",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates an unhealthy status for a component.
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    "unhealthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate combines component statuses into one system status: unhealthy if
// any component is unhealthy, degraded if any is degraded, healthy otherwise.
func Aggregate(systemName string, statuses []Status) Status {
	agg := NewHealthy(systemName, "all components healthy")
	agg.SubStatuses = statuses

	for _, s := range statuses {
		if s.IsUnhealthy() {
			agg.Healthy = false
			agg.Status = "unhealthy"
			agg.Message = s.Component + ": " + s.Message
			return agg
		}
	}
	for _, s := range statuses {
		if s.IsDegraded() {
			agg.Healthy = false
			agg.Status = "degraded"
			agg.Message = s.Component + ": " + s.Message
			return agg
		}
	}
	return agg
}
