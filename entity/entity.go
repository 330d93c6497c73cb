// Package entity defines the normalized domain model shared by every pipeline
// stage: entities, relationships, analyzer findings and persisted alerts.
package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the kind of external object an entity normalizes.
type Type string

// Entity types synced from providers.
const (
	TypeIdentity Type = "identities"
	TypeGroup    Type = "groups"
	TypeLicense  Type = "licenses"
	TypePolicy   Type = "policies"
	TypeDevice   Type = "devices"
	TypeCompany  Type = "companies"
)

// Types lists all entity types in sync order.
func Types() []Type {
	return []Type{TypeIdentity, TypeGroup, TypeLicense, TypePolicy, TypeDevice, TypeCompany}
}

// Valid reports whether t is a known entity type.
func (t Type) Valid() bool {
	switch t {
	case TypeIdentity, TypeGroup, TypeLicense, TypePolicy, TypeDevice, TypeCompany:
		return true
	}
	return false
}

// State is the derived health state of an entity.
type State string

// Entity health states, ordered normal < low < warn < critical.
const (
	StateNormal   State = "normal"
	StateLow      State = "low"
	StateWarn     State = "warn"
	StateCritical State = "critical"
)

// Rank returns the total order position of a state. Unknown states rank as
// normal.
func (s State) Rank() int {
	switch s {
	case StateLow:
		return 1
	case StateWarn:
		return 2
	case StateCritical:
		return 3
	default:
		return 0
	}
}

// MaxState returns the higher-severity of two states.
func MaxState(a, b State) State {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Key is the identity of one entity. All five parts participate in
// uniqueness.
type Key struct {
	TenantID      string `json:"tenant_id"`
	IntegrationID string `json:"integration_id"`
	DataSourceID  string `json:"data_source_id"`
	Type          Type   `json:"entity_type"`
	ExternalID    string `json:"external_id"`
}

// ID derives the deterministic entity identifier from the key.
func (k Key) ID() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%s",
		k.TenantID, k.IntegrationID, k.DataSourceID, k.Type, k.ExternalID)))
	return hex.EncodeToString(sum[:16])
}

// Entity is the normalized record of one external object.
type Entity struct {
	ID  string `json:"id"`
	Key Key    `json:"key"`

	// SiteID is an optional sub-scope within the tenant (provider site).
	SiteID string `json:"site_id,omitempty"`

	// DataHash fingerprints the raw payload, excluding volatile fields, so
	// unchanged records can be dropped without a store write.
	DataHash       string          `json:"data_hash"`
	RawData        json.RawMessage `json:"raw_data,omitempty"`
	NormalizedData map[string]any  `json:"normalized_data,omitempty"`

	Tags  []string `json:"tags,omitempty"`
	State State    `json:"state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an entity from its key with state normal.
func New(key Key) *Entity {
	now := time.Now().UTC()
	return &Entity{
		ID:        key.ID(),
		Key:       key,
		State:     StateNormal,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasTag reports whether the entity carries the tag.
func (e *Entity) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag adds a tag with set semantics.
func (e *Entity) AddTag(tag string) {
	if !e.HasTag(tag) {
		e.Tags = append(e.Tags, tag)
	}
}

// Normalized returns a normalized-data field as a string, or "" when absent.
func (e *Entity) Normalized(field string) string {
	if e.NormalizedData == nil {
		return ""
	}
	if v, ok := e.NormalizedData[field].(string); ok {
		return v
	}
	return ""
}

// NormalizedBool returns a normalized-data field as a bool.
func (e *Entity) NormalizedBool(field string) bool {
	if e.NormalizedData == nil {
		return false
	}
	v, _ := e.NormalizedData[field].(bool)
	return v
}
