// Package stage provides the generic pipeline stage runner: subscription,
// decode, bounded-concurrency dispatch, outcome publishing and failure-event
// emission are implemented once here; concrete stages implement only Handle.
package stage

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/c360/tenantsync/entity"
	"github.com/c360/tenantsync/stageflow"
)

// Event is the envelope carried between pipeline stages on the bus. Subjects
// follow `<stage>.<entityType>` so downstream stages can subscribe with
// wildcards like `fetched.>`.
type Event struct {
	ID              string                    `json:"id"`
	Stage           stageflow.Stage           `json:"stage"`
	EntityType      entity.Type               `json:"entity_type"`
	TenantID        string                    `json:"tenant_id"`
	IntegrationID   string                    `json:"integration_id"`
	IntegrationType stageflow.IntegrationType `json:"integration_type"`
	DataSourceID    string                    `json:"data_source_id"`
	Metadata        *stageflow.Metadata       `json:"metadata,omitempty"`

	// Records carries raw provider records (fetched stage); EntityIDs carries
	// store references for stages past the processor.
	Records   []json.RawMessage `json:"records,omitempty"`
	EntityIDs []string          `json:"entity_ids,omitempty"`

	Batch *entity.SyncCursor `json:"batch,omitempty"`

	// Counts summarizes a processing batch for downstream observability.
	Counts *Counts `json:"counts,omitempty"`

	Failure *Failure `json:"failure,omitempty"`
}

// Counts summarizes one processed batch.
type Counts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Record is one raw provider record carried in a fetched-stage event, hashed
// at fetch time so the processor can skip unchanged records without decoding
// provider payloads.
type Record struct {
	ExternalID string          `json:"external_id"`
	SiteID     string          `json:"site_id,omitempty"`
	DataHash   string          `json:"data_hash"`
	Raw        json.RawMessage `json:"raw"`
}

// Failure describes a stage-local error attached to a failed event.
type Failure struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// NewEvent creates an event for one stage and entity type, inheriting tenancy
// fields from the parent event.
func NewEvent(parent *Event, s stageflow.Stage) *Event {
	return &Event{
		ID:              uuid.NewString(),
		Stage:           s,
		EntityType:      parent.EntityType,
		TenantID:        parent.TenantID,
		IntegrationID:   parent.IntegrationID,
		IntegrationType: parent.IntegrationType,
		DataSourceID:    parent.DataSourceID,
		Metadata:        parent.Metadata,
	}
}

// Subject renders the bus subject this event is published on.
func (e *Event) Subject() string {
	return fmt.Sprintf("%s.%s", e.Stage, e.EntityType)
}

// Subject renders `<stage>.<entityType>`.
func Subject(s stageflow.Stage, t entity.Type) string {
	return fmt.Sprintf("%s.%s", s, t)
}

// SubjectWildcard renders `<stage>.>` for subscribing to every entity type of
// one stage.
func SubjectWildcard(s stageflow.Stage) string {
	return fmt.Sprintf("%s.>", s)
}

// Validate checks the envelope fields every stage depends on.
func (e *Event) Validate() error {
	if e.TenantID == "" {
		return fmt.Errorf("event %s: missing tenant_id", e.ID)
	}
	if e.DataSourceID == "" {
		return fmt.Errorf("event %s: missing data_source_id", e.ID)
	}
	if !e.EntityType.Valid() {
		return fmt.Errorf("event %s: invalid entity type %q", e.ID, e.EntityType)
	}
	return nil
}

// Outcome is what a handler returns: zero or more events to publish.
type Outcome struct {
	Events []*Event
}
