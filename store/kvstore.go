package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/tenantsync/entity"
	"github.com/c360/tenantsync/errors"
	"github.com/c360/tenantsync/natsclient"
)

// Bucket names for the KV-backed store.
const (
	BucketEntities      = "ENTITIES"
	BucketRelationships = "RELATIONSHIPS"
	BucketAlerts        = "ALERTS"
)

// KV is the JetStream KV-backed entity store.
type KV struct {
	entities  *natsclient.KVStore
	relations *natsclient.KVStore
	alerts    *natsclient.KVStore
	logger    *slog.Logger
}

var _ Store = (*KV)(nil)

// NewKV creates the three store buckets (idempotent) and returns the store.
func NewKV(ctx context.Context, client *natsclient.Client, logger *slog.Logger) (*KV, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entities, err := client.EnsureBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketEntities,
		Description: "Normalized entities keyed by tenant/data source/type",
	})
	if err != nil {
		return nil, errors.Wrap(err, "KV", "NewKV", "entities bucket")
	}

	relations, err := client.EnsureBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketRelationships,
		Description: "Relationship edges between entities",
	})
	if err != nil {
		return nil, errors.Wrap(err, "KV", "NewKV", "relationships bucket")
	}

	alerts, err := client.EnsureBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketAlerts,
		Description: "Persisted alerts keyed by entity and alert type",
	})
	if err != nil {
		return nil, errors.Wrap(err, "KV", "NewKV", "alerts bucket")
	}

	return &KV{
		entities:  entities,
		relations: relations,
		alerts:    alerts,
		logger:    logger.With("component", "store"),
	}, nil
}

// GetEntity retrieves one entity by its identity key. Returns
// errors.ErrKeyNotFound when absent.
func (s *KV) GetEntity(ctx context.Context, key entity.Key) (*entity.Entity, error) {
	kvEntry, err := s.entities.Get(ctx, entityKVKey(key))
	if err != nil {
		return nil, err
	}

	var e entity.Entity
	if err := json.Unmarshal(kvEntry.Value, &e); err != nil {
		return nil, errors.WrapInvalid(err, "KV", "GetEntity", "decode entity")
	}
	return &e, nil
}

// ListEntities lists all entities of the given types (all types when empty)
// for one tenant/data-source pair. One prefix scan per type.
func (s *KV) ListEntities(ctx context.Context, tenantID, dataSourceID string, types ...entity.Type) ([]*entity.Entity, error) {
	if len(types) == 0 {
		types = entity.Types()
	}

	var out []*entity.Entity
	for _, t := range types {
		entries, err := s.entities.List(ctx, entityPrefix(tenantID, dataSourceID, t))
		if err != nil {
			return nil, err
		}
		for _, kvEntry := range entries {
			var e entity.Entity
			if err := json.Unmarshal(kvEntry.Value, &e); err != nil {
				s.logger.Error("skipping undecodable entity",
					"key", kvEntry.Key, "error", err)
				continue
			}
			out = append(out, &e)
		}
	}
	return out, nil
}

// PutEntity writes one entity unconditionally.
func (s *KV) PutEntity(ctx context.Context, e *entity.Entity) error {
	if e.ID == "" {
		e.ID = e.Key.ID()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return errors.WrapInvalid(err, "KV", "PutEntity", "encode entity")
	}
	_, err = s.entities.Put(ctx, entityKVKey(e.Key), data)
	return err
}

// BulkPatch applies tag/state/content patches. Each entity's patch is applied
// atomically via revision-checked read-modify-write; a missing entity fails
// the batch.
func (s *KV) BulkPatch(ctx context.Context, patches []EntityPatch) error {
	for _, p := range patches {
		patch := p
		err := s.entities.UpdateWithRetry(ctx, entityKVKey(patch.Key), func(current []byte) ([]byte, error) {
			if current == nil {
				return nil, errors.ErrKeyNotFound
			}
			var e entity.Entity
			if err := json.Unmarshal(current, &e); err != nil {
				return nil, err
			}
			applyPatch(&e, patch)
			return json.Marshal(&e)
		})
		if err != nil {
			return errors.WrapTransient(err, "KV", "BulkPatch", "patch write")
		}
	}
	return nil
}

func applyPatch(e *entity.Entity, p EntityPatch) {
	for _, tag := range p.AddTags {
		e.AddTag(tag)
	}
	if p.State != nil {
		e.State = *p.State
	}
	if p.DataHash != nil {
		e.DataHash = *p.DataHash
	}
	if p.Raw != nil {
		e.RawData = p.Raw
	}
	if p.Norm != nil {
		e.NormalizedData = p.Norm
	}
	e.UpdatedAt = time.Now().UTC()
}

// PutRelationship writes one edge after validating its endpoints' types.
func (s *KV) PutRelationship(ctx context.Context, r *entity.Relationship) error {
	data, err := json.Marshal(r)
	if err != nil {
		return errors.WrapInvalid(err, "KV", "PutRelationship", "encode relationship")
	}
	_, err = s.relations.Put(ctx, relationKVKey(r), data)
	return err
}

// ListRelationships lists all edges for one tenant/data-source pair in one
// prefix scan.
func (s *KV) ListRelationships(ctx context.Context, tenantID, dataSourceID string) ([]*entity.Relationship, error) {
	entries, err := s.relations.List(ctx, relationPrefix(tenantID, dataSourceID))
	if err != nil {
		return nil, err
	}

	out := make([]*entity.Relationship, 0, len(entries))
	for _, kvEntry := range entries {
		var r entity.Relationship
		if err := json.Unmarshal(kvEntry.Value, &r); err != nil {
			s.logger.Error("skipping undecodable relationship",
				"key", kvEntry.Key, "error", err)
			continue
		}
		out = append(out, &r)
	}
	return out, nil
}

// ListAlerts lists all alerts (any status) for one entity.
func (s *KV) ListAlerts(ctx context.Context, tenantID, entityID string) ([]entity.Alert, error) {
	entries, err := s.alerts.List(ctx, alertPrefix(tenantID, entityID))
	if err != nil {
		return nil, err
	}

	out := make([]entity.Alert, 0, len(entries))
	for _, kvEntry := range entries {
		var a entity.Alert
		if err := json.Unmarshal(kvEntry.Value, &a); err != nil {
			s.logger.Error("skipping undecodable alert", "key", kvEntry.Key, "error", err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// ListActiveAlerts lists only active alerts for one entity.
func (s *KV) ListActiveAlerts(ctx context.Context, tenantID, entityID string) ([]entity.Alert, error) {
	all, err := s.ListAlerts(ctx, tenantID, entityID)
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

// ListActiveAlertsForDataSource lists every active alert in one data source
// with a single tenant-wide prefix scan.
func (s *KV) ListActiveAlertsForDataSource(ctx context.Context, tenantID, dataSourceID string) ([]entity.Alert, error) {
	entries, err := s.alerts.List(ctx, alertTenantPrefix(tenantID))
	if err != nil {
		return nil, err
	}

	var out []entity.Alert
	for _, kvEntry := range entries {
		var a entity.Alert
		if err := json.Unmarshal(kvEntry.Value, &a); err != nil {
			s.logger.Error("skipping undecodable alert", "key", kvEntry.Key, "error", err)
			continue
		}
		if a.Status == entity.AlertActive && a.DataSourceID == dataSourceID {
			out = append(out, a)
		}
	}
	return out, nil
}

// UpsertAlert creates or updates an alert in place, preserving the created
// timestamp and identifier of an existing record.
func (s *KV) UpsertAlert(ctx context.Context, a *entity.Alert) error {
	now := time.Now().UTC()
	return s.alerts.UpdateWithRetry(ctx, alertKVKey(a.TenantID, a.EntityID, a.Key), func(current []byte) ([]byte, error) {
		if current == nil {
			if a.ID == "" {
				a.ID = uuid.NewString()
			}
			a.Status = entity.AlertActive
			a.CreatedAt = now
			a.UpdatedAt = now
			a.ResolvedAt = nil
			return json.Marshal(a)
		}

		var existing entity.Alert
		if err := json.Unmarshal(current, &existing); err != nil {
			return nil, err
		}
		existing.Severity = a.Severity
		existing.Message = a.Message
		existing.Metadata = a.Metadata
		existing.Status = entity.AlertActive
		existing.ResolvedAt = nil
		existing.UpdatedAt = now
		*a = existing
		return json.Marshal(&existing)
	})
}

// ResolveAlert transitions an alert to resolved with a timestamp. Resolving
// an absent alert is a no-op.
func (s *KV) ResolveAlert(ctx context.Context, tenantID, entityID string, key entity.AlertKey, at time.Time) error {
	err := s.alerts.UpdateWithRetry(ctx, alertKVKey(tenantID, entityID, key), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, errors.ErrKeyNotFound
		}
		var a entity.Alert
		if err := json.Unmarshal(current, &a); err != nil {
			return nil, err
		}
		if a.Status == entity.AlertResolved {
			return current, nil
		}
		a.Status = entity.AlertResolved
		resolvedAt := at.UTC()
		a.ResolvedAt = &resolvedAt
		a.UpdatedAt = resolvedAt
		return json.Marshal(&a)
	})
	if err != nil && stderrors.Is(err, errors.ErrKeyNotFound) {
		return nil
	}
	return err
}
