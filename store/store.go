// Package store implements the entity store contract: indexed bulk reads,
// get-by-key, and bulk patch mutations over entities, relationships and
// alerts. The production implementation is backed by JetStream KV buckets;
// Memory provides the same contract for tests.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c360/tenantsync/entity"
)

// EntityPatch is one tag/state/content mutation addressed by entity key.
// Nil fields are left untouched.
type EntityPatch struct {
	Key entity.Key

	AddTags  []string
	State    *entity.State
	DataHash *string
	Raw      []byte
	Norm     map[string]any
}

// Store is the entity store contract all pipeline stages depend on.
type Store interface {
	// Entities
	GetEntity(ctx context.Context, key entity.Key) (*entity.Entity, error)
	ListEntities(ctx context.Context, tenantID, dataSourceID string, types ...entity.Type) ([]*entity.Entity, error)
	PutEntity(ctx context.Context, e *entity.Entity) error
	BulkPatch(ctx context.Context, patches []EntityPatch) error

	// Relationships
	PutRelationship(ctx context.Context, r *entity.Relationship) error
	ListRelationships(ctx context.Context, tenantID, dataSourceID string) ([]*entity.Relationship, error)

	// Alerts
	ListAlerts(ctx context.Context, tenantID, entityID string) ([]entity.Alert, error)
	ListActiveAlerts(ctx context.Context, tenantID, entityID string) ([]entity.Alert, error)
	// ListActiveAlertsForDataSource bulk-reads every active alert across a
	// data source in one scan; reconciliation depends on it staying one query.
	ListActiveAlertsForDataSource(ctx context.Context, tenantID, dataSourceID string) ([]entity.Alert, error)
	UpsertAlert(ctx context.Context, a *entity.Alert) error
	ResolveAlert(ctx context.Context, tenantID, entityID string, key entity.AlertKey, at time.Time) error
}

// Key layout. Entities and relationships are addressed so that every core
// query is a single prefix scan:
//
//	entities:      t.<tenant>.d.<dataSource>.<entityType>.<entityID>
//	relationships: t.<tenant>.d.<dataSource>.r.<parentID>.<relType>.<childID>
//	alerts:        t.<tenant>.e.<entityID>.a.<alertType>[.<subID>]
func entityKVKey(k entity.Key) string {
	return fmt.Sprintf("t.%s.d.%s.%s.%s",
		sanitize(k.TenantID), sanitize(k.DataSourceID), k.Type, k.ID())
}

func entityPrefix(tenantID, dataSourceID string, t entity.Type) string {
	return fmt.Sprintf("t.%s.d.%s.%s.>", sanitize(tenantID), sanitize(dataSourceID), t)
}

func relationKVKey(r *entity.Relationship) string {
	return fmt.Sprintf("t.%s.d.%s.r.%s.%s.%s",
		sanitize(r.TenantID), sanitize(r.DataSourceID), r.ParentID, r.Type, r.ChildID)
}

func relationPrefix(tenantID, dataSourceID string) string {
	return fmt.Sprintf("t.%s.d.%s.r.>", sanitize(tenantID), sanitize(dataSourceID))
}

func alertKVKey(tenantID, entityID string, key entity.AlertKey) string {
	base := fmt.Sprintf("t.%s.e.%s.a.%s", sanitize(tenantID), entityID, key.Type)
	if key.SubID != "" {
		base += "." + sanitize(key.SubID)
	}
	return base
}

func alertPrefix(tenantID, entityID string) string {
	return fmt.Sprintf("t.%s.e.%s.a.>", sanitize(tenantID), entityID)
}

func alertTenantPrefix(tenantID string) string {
	return fmt.Sprintf("t.%s.e.>", sanitize(tenantID))
}

// sanitize maps arbitrary identifiers into the KV key alphabet. Dots are the
// key separator and must not leak from identifiers.
func sanitize(part string) string {
	if part == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range part {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '=':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
