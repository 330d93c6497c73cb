//go:build integration

package store

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tenantsync/entity"
	"github.com/c360/tenantsync/errors"
	"github.com/c360/tenantsync/natsclient"
)

// These tests run the KV-backed store against a real JetStream server to pin
// its behavior to the Memory implementation the stage tests use.

func newIntegrationKV(t *testing.T) *KV {
	t.Helper()
	tc := natsclient.NewTestClient(t)
	kv, err := NewKV(context.Background(), tc.Client, slog.Default())
	require.NoError(t, err)
	return kv
}

func storedIdentity(tenantID, externalID string) *entity.Entity {
	return entity.New(entity.Key{
		TenantID:      tenantID,
		IntegrationID: "int-1",
		DataSourceID:  "ds-1",
		Type:          entity.TypeIdentity,
		ExternalID:    externalID,
	})
}

func TestKVIntegration_Entities(t *testing.T) {
	s := newIntegrationKV(t)
	ctx := context.Background()

	t.Run("missing entity", func(t *testing.T) {
		_, err := s.GetEntity(ctx, storedIdentity("t-ent", "ghost").Key)
		assert.ErrorIs(t, err, errors.ErrKeyNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		e := storedIdentity("t-ent", "alice")
		e.NormalizedData = map[string]any{"display_name": "Alice"}
		require.NoError(t, s.PutEntity(ctx, e))

		got, err := s.GetEntity(ctx, e.Key)
		require.NoError(t, err)
		assert.Equal(t, e.ID, got.ID)
		assert.Equal(t, e.Key, got.Key)
		assert.Equal(t, "Alice", got.NormalizedData["display_name"])
	})

	t.Run("list filters by type and tenancy", func(t *testing.T) {
		group := entity.New(entity.Key{
			TenantID:      "t-ent",
			IntegrationID: "int-1",
			DataSourceID:  "ds-1",
			Type:          entity.TypeGroup,
			ExternalID:    "admins",
		})
		require.NoError(t, s.PutEntity(ctx, group))
		require.NoError(t, s.PutEntity(ctx, storedIdentity("t-other", "bob")))

		identities, err := s.ListEntities(ctx, "t-ent", "ds-1", entity.TypeIdentity)
		require.NoError(t, err)
		require.Len(t, identities, 1)
		assert.Equal(t, entity.TypeIdentity, identities[0].Key.Type)

		all, err := s.ListEntities(ctx, "t-ent", "ds-1")
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("bulk patch", func(t *testing.T) {
		e := storedIdentity("t-patch", "carol")
		require.NoError(t, s.PutEntity(ctx, e))

		warn := entity.StateWarn
		require.NoError(t, s.BulkPatch(ctx, []EntityPatch{{
			Key:     e.Key,
			AddTags: []string{"stale", "admin"},
			State:   &warn,
		}}))

		got, err := s.GetEntity(ctx, e.Key)
		require.NoError(t, err)
		assert.Equal(t, entity.StateWarn, got.State)
		assert.ElementsMatch(t, []string{"stale", "admin"}, got.Tags)
	})

	t.Run("bulk patch missing entity fails", func(t *testing.T) {
		err := s.BulkPatch(ctx, []EntityPatch{{Key: storedIdentity("t-patch", "ghost").Key}})
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrKeyNotFound)
	})
}

func TestKVIntegration_Relationships(t *testing.T) {
	s := newIntegrationKV(t)
	ctx := context.Background()

	edge := &entity.Relationship{
		TenantID:     "t-rel",
		DataSourceID: "ds-1",
		ParentID:     "group-1",
		ChildID:      "user-1",
		Type:         entity.RelMemberOf,
	}
	require.NoError(t, s.PutRelationship(ctx, edge))
	require.NoError(t, s.PutRelationship(ctx, &entity.Relationship{
		TenantID:     "t-other",
		DataSourceID: "ds-1",
		ParentID:     "group-2",
		ChildID:      "user-2",
		Type:         entity.RelMemberOf,
	}))

	// Writing the same edge twice is idempotent on the key layout.
	require.NoError(t, s.PutRelationship(ctx, edge))

	edges, err := s.ListRelationships(ctx, "t-rel", "ds-1")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "group-1", edges[0].ParentID)
	assert.Equal(t, "user-1", edges[0].ChildID)
}

func TestKVIntegration_AlertLifecycle(t *testing.T) {
	s := newIntegrationKV(t)
	ctx := context.Background()

	alert := func(sev entity.Severity) *entity.Alert {
		return &entity.Alert{
			TenantID:     "t-alert",
			DataSourceID: "ds-1",
			EntityID:     "user-1",
			Key:          entity.AlertKey{Type: entity.AlertMFANotEnforced},
			Severity:     sev,
			Message:      "mfa is not enforced",
		}
	}

	t.Run("create", func(t *testing.T) {
		a := alert(entity.SeverityHigh)
		require.NoError(t, s.UpsertAlert(ctx, a))
		assert.NotEmpty(t, a.ID)
		assert.Equal(t, entity.AlertActive, a.Status)
		assert.False(t, a.CreatedAt.IsZero())
	})

	t.Run("upsert preserves identity", func(t *testing.T) {
		first := alert(entity.SeverityHigh)
		require.NoError(t, s.UpsertAlert(ctx, first))

		second := alert(entity.SeverityCritical)
		require.NoError(t, s.UpsertAlert(ctx, second))

		assert.Equal(t, first.ID, second.ID, "upsert must update in place, not duplicate")
		assert.True(t, first.CreatedAt.Equal(second.CreatedAt), "created timestamp must survive updates")
		assert.Equal(t, entity.SeverityCritical, second.Severity)

		active, err := s.ListActiveAlerts(ctx, "t-alert", "user-1")
		require.NoError(t, err)
		require.Len(t, active, 1)
	})

	t.Run("resolve", func(t *testing.T) {
		require.NoError(t, s.UpsertAlert(ctx, alert(entity.SeverityHigh)))
		require.NoError(t, s.ResolveAlert(ctx, "t-alert", "user-1",
			entity.AlertKey{Type: entity.AlertMFANotEnforced}, time.Now()))

		active, err := s.ListActiveAlerts(ctx, "t-alert", "user-1")
		require.NoError(t, err)
		assert.Empty(t, active)

		all, err := s.ListAlerts(ctx, "t-alert", "user-1")
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, entity.AlertResolved, all[0].Status)
		require.NotNil(t, all[0].ResolvedAt)
	})

	t.Run("resolve absent alert is a no-op", func(t *testing.T) {
		require.NoError(t, s.ResolveAlert(ctx, "t-alert", "user-1",
			entity.AlertKey{Type: entity.AlertStaleAccount}, time.Now()))
	})

	t.Run("reactivate after resolve", func(t *testing.T) {
		a := alert(entity.SeverityMedium)
		require.NoError(t, s.UpsertAlert(ctx, a))
		assert.Equal(t, entity.AlertActive, a.Status)
		assert.Nil(t, a.ResolvedAt)
	})
}

func TestKVIntegration_ActiveAlertsForDataSource(t *testing.T) {
	s := newIntegrationKV(t)
	ctx := context.Background()

	put := func(entityID, dataSourceID string, key entity.AlertKey) {
		require.NoError(t, s.UpsertAlert(ctx, &entity.Alert{
			TenantID:     "t-scan",
			DataSourceID: dataSourceID,
			EntityID:     entityID,
			Key:          key,
			Severity:     entity.SeverityLow,
			Message:      "m",
		}))
	}
	put("user-1", "ds-1", entity.AlertKey{Type: entity.AlertMFANotEnforced})
	put("user-2", "ds-1", entity.AlertKey{Type: entity.AlertStaleAccount})
	put("user-3", "ds-2", entity.AlertKey{Type: entity.AlertMFANotEnforced})

	require.NoError(t, s.ResolveAlert(ctx, "t-scan", "user-2",
		entity.AlertKey{Type: entity.AlertStaleAccount}, time.Now()))

	active, err := s.ListActiveAlertsForDataSource(ctx, "t-scan", "ds-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "user-1", active[0].EntityID)
}
