package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/tenantsync/entity"
	"github.com/c360/tenantsync/errors"
)

// Memory is an in-memory Store used by stage tests and local development.
// It honors the same contract as the KV store, including patch atomicity per
// entity.
type Memory struct {
	mu        sync.RWMutex
	entities  map[string]*entity.Entity       // entityKVKey → entity
	relations map[string]*entity.Relationship // relationKVKey → edge
	alerts    map[string]*entity.Alert        // alertKVKey → alert

	// PutEntityErr, when set, is returned by PutEntity to simulate storage
	// failures.
	PutEntityErr error
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entities:  make(map[string]*entity.Entity),
		relations: make(map[string]*entity.Relationship),
		alerts:    make(map[string]*entity.Alert),
	}
}

// GetEntity retrieves one entity by key.
func (m *Memory) GetEntity(_ context.Context, key entity.Key) (*entity.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entities[entityKVKey(key)]
	if !ok {
		return nil, errors.ErrKeyNotFound
	}
	clone := *e
	return &clone, nil
}

// ListEntities lists entities for a tenant/data-source pair.
func (m *Memory) ListEntities(_ context.Context, tenantID, dataSourceID string, types ...entity.Type) ([]*entity.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[entity.Type]bool)
	if len(types) == 0 {
		types = entity.Types()
	}
	for _, t := range types {
		wanted[t] = true
	}

	var out []*entity.Entity
	for _, e := range m.entities {
		if e.Key.TenantID == tenantID && e.Key.DataSourceID == dataSourceID && wanted[e.Key.Type] {
			clone := *e
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutEntity stores one entity.
func (m *Memory) PutEntity(_ context.Context, e *entity.Entity) error {
	if m.PutEntityErr != nil {
		return m.PutEntityErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = e.Key.ID()
	}
	clone := *e
	m.entities[entityKVKey(e.Key)] = &clone
	return nil
}

// BulkPatch applies patches under one lock.
func (m *Memory) BulkPatch(_ context.Context, patches []EntityPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range patches {
		e, ok := m.entities[entityKVKey(p.Key)]
		if !ok {
			return errors.ErrKeyNotFound
		}
		applyPatch(e, p)
	}
	return nil
}

// PutRelationship stores one edge.
func (m *Memory) PutRelationship(_ context.Context, r *entity.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *r
	m.relations[relationKVKey(r)] = &clone
	return nil
}

// ListRelationships lists edges for a tenant/data-source pair.
func (m *Memory) ListRelationships(_ context.Context, tenantID, dataSourceID string) ([]*entity.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*entity.Relationship
	for _, r := range m.relations {
		if r.TenantID == tenantID && r.DataSourceID == dataSourceID {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}

// ListAlerts lists all alerts for one entity.
func (m *Memory) ListAlerts(_ context.Context, tenantID, entityID string) ([]entity.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []entity.Alert
	for _, a := range m.alerts {
		if a.TenantID == tenantID && a.EntityID == entityID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Type != out[j].Key.Type {
			return out[i].Key.Type < out[j].Key.Type
		}
		return out[i].Key.SubID < out[j].Key.SubID
	})
	return out, nil
}

// ListActiveAlerts lists only active alerts for one entity.
func (m *Memory) ListActiveAlerts(ctx context.Context, tenantID, entityID string) ([]entity.Alert, error) {
	all, err := m.ListAlerts(ctx, tenantID, entityID)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, a := range all {
		if a.Status == entity.AlertActive {
			active = append(active, a)
		}
	}
	return active, nil
}

// ListActiveAlertsForDataSource lists every active alert in one data source.
func (m *Memory) ListActiveAlertsForDataSource(_ context.Context, tenantID, dataSourceID string) ([]entity.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []entity.Alert
	for _, a := range m.alerts {
		if a.TenantID == tenantID && a.DataSourceID == dataSourceID && a.Status == entity.AlertActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

// UpsertAlert creates or updates an alert in place.
func (m *Memory) UpsertAlert(_ context.Context, a *entity.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	key := alertKVKey(a.TenantID, a.EntityID, a.Key)

	if existing, ok := m.alerts[key]; ok {
		existing.Severity = a.Severity
		existing.Message = a.Message
		existing.Metadata = a.Metadata
		existing.Status = entity.AlertActive
		existing.ResolvedAt = nil
		existing.UpdatedAt = now
		*a = *existing
		return nil
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Status = entity.AlertActive
	a.CreatedAt = now
	a.UpdatedAt = now
	a.ResolvedAt = nil
	clone := *a
	m.alerts[key] = &clone
	return nil
}

// ResolveAlert transitions an alert to resolved.
func (m *Memory) ResolveAlert(_ context.Context, tenantID, entityID string, key entity.AlertKey, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[alertKVKey(tenantID, entityID, key)]
	if !ok {
		return nil
	}
	if a.Status == entity.AlertResolved {
		return nil
	}
	a.Status = entity.AlertResolved
	resolvedAt := at.UTC()
	a.ResolvedAt = &resolvedAt
	a.UpdatedAt = resolvedAt
	return nil
}
