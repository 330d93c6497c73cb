package linker

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tenantsync/entity"
	"github.com/c360/tenantsync/stage"
	"github.com/c360/tenantsync/stageflow"
	"github.com/c360/tenantsync/store"
)

func putEntity(t *testing.T, mem *store.Memory, typ entity.Type, externalID string, norm map[string]any) *entity.Entity {
	t.Helper()
	e := entity.New(entity.Key{
		TenantID:      "tenant-1",
		IntegrationID: "int-1",
		DataSourceID:  "ds-1",
		Type:          typ,
		ExternalID:    externalID,
	})
	e.NormalizedData = norm
	require.NoError(t, mem.PutEntity(context.Background(), e))
	return e
}

func processedEvent(typ entity.Type, it stageflow.IntegrationType, ids ...string) *stage.Event {
	return &stage.Event{
		ID:              "ev-1",
		Stage:           stageflow.StageProcessed,
		EntityType:      typ,
		TenantID:        "tenant-1",
		IntegrationID:   "int-1",
		IntegrationType: it,
		DataSourceID:    "ds-1",
		EntityIDs:       ids,
	}
}

func TestLinkerDerivesGroupMembership(t *testing.T) {
	mem := store.NewMemory()
	l := NewLinker(mem, stageflow.NewResolver(), slog.Default())

	group := putEntity(t, mem, entity.TypeGroup, "g1", map[string]any{
		entity.NormMemberIDs: []any{"u1", "u2"},
	})
	u1 := putEntity(t, mem, entity.TypeIdentity, "u1", nil)

	ev := processedEvent(entity.TypeGroup, stageflow.IntegrationMicrosoft365, group.ID)
	outcome, err := l.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, outcome.Events, 1)
	assert.Equal(t, stageflow.StageLinked, outcome.Events[0].Stage)

	edges, err := mem.ListRelationships(context.Background(), "tenant-1", "ds-1")
	require.NoError(t, err)
	require.Len(t, edges, 2)
	for _, edge := range edges {
		assert.Equal(t, entity.RelMemberOf, edge.Type)
		assert.Equal(t, group.ID, edge.ParentID)
	}

	// Edges address entities by deterministic ID.
	found := false
	for _, edge := range edges {
		if edge.ChildID == u1.ID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestLinkerDerivesIdentityEdges(t *testing.T) {
	mem := store.NewMemory()
	l := NewLinker(mem, stageflow.NewResolver(), slog.Default())

	id := putEntity(t, mem, entity.TypeIdentity, "u1", map[string]any{
		entity.NormAssignedSKUs: []any{"sku-a", "sku-b"},
		entity.NormCompanyID:    "c1",
	})

	_, err := l.Handle(context.Background(),
		processedEvent(entity.TypeIdentity, stageflow.IntegrationMicrosoft365, id.ID))
	require.NoError(t, err)

	edges, err := mem.ListRelationships(context.Background(), "tenant-1", "ds-1")
	require.NoError(t, err)

	byType := make(map[entity.RelationshipType]int)
	for _, edge := range edges {
		byType[edge.Type]++
	}
	assert.Equal(t, 2, byType[entity.RelHoldsLicense])
	assert.Equal(t, 1, byType[entity.RelBelongsTo])
}

func TestLinkerPolicyCoverageParentIsIdentity(t *testing.T) {
	mem := store.NewMemory()
	l := NewLinker(mem, stageflow.NewResolver(), slog.Default())

	policy := putEntity(t, mem, entity.TypePolicy, "p1", map[string]any{
		entity.NormCoveredIDs: []any{"u1"},
	})
	u1Key := policy.Key
	u1Key.Type = entity.TypeIdentity
	u1Key.ExternalID = "u1"

	_, err := l.Handle(context.Background(),
		processedEvent(entity.TypePolicy, stageflow.IntegrationMicrosoft365, policy.ID))
	require.NoError(t, err)

	edges, err := mem.ListRelationships(context.Background(), "tenant-1", "ds-1")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, entity.RelCoveredBy, edges[0].Type)
	assert.Equal(t, u1Key.ID(), edges[0].ParentID)
	assert.Equal(t, policy.ID, edges[0].ChildID)
}

func TestLinkerFlowOverrideSkipsLinking(t *testing.T) {
	mem := store.NewMemory()
	l := NewLinker(mem, stageflow.NewResolver(), slog.Default())

	company := putEntity(t, mem, entity.TypeCompany, "c1", nil)

	ev := processedEvent(entity.TypeCompany, stageflow.IntegrationPSA, company.ID)
	ev.Metadata = &stageflow.Metadata{DataSourceSubtype: "psa_contacts"}

	outcome, err := l.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, outcome.Events, 1, "batch must still reach analysis")

	edges, err := mem.ListRelationships(context.Background(), "tenant-1", "ds-1")
	require.NoError(t, err)
	assert.Empty(t, edges, "no edges derived when the flow skips linking")
}
