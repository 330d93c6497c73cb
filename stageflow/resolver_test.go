package stageflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tenantsync/entity"
)

func TestNextStageDefaultsTable(t *testing.T) {
	r := NewResolver()

	tests := []struct {
		stage      Stage
		entityType entity.Type
		it         IntegrationType
		want       Stage
		terminal   bool
	}{
		{StageQueued, entity.TypeIdentity, IntegrationMicrosoft365, StageFetched, false},
		{StageFetched, entity.TypeIdentity, IntegrationMicrosoft365, StageProcessed, false},
		{StageProcessed, entity.TypeIdentity, IntegrationMicrosoft365, StageLinked, false},
		{StageLinked, entity.TypeIdentity, IntegrationMicrosoft365, StageAnalyzed, false},
		{StageAnalyzed, entity.TypeIdentity, IntegrationMicrosoft365, StageCompleted, false},
		{StageCompleted, entity.TypeIdentity, IntegrationMicrosoft365, "", true},
		{StageFailed, entity.TypeIdentity, IntegrationMicrosoft365, "", true},
		{StageQueued, entity.TypeLicense, IntegrationPSA, StageFetched, false},
		{StageProcessed, entity.TypeGroup, IntegrationAVConsole, StageLinked, false},
	}

	for _, tt := range tests {
		next, ok := r.NextStage(tt.stage, tt.entityType, tt.it, nil)
		if tt.terminal {
			assert.False(t, ok, "%s/%s should be terminal", tt.stage, tt.entityType)
			continue
		}
		require.True(t, ok, "%s/%s", tt.stage, tt.entityType)
		assert.Equal(t, tt.want, next, "%s/%s/%s", tt.stage, tt.entityType, tt.it)
	}
}

func TestNextStagePSAContactsOverride(t *testing.T) {
	r := NewResolver()

	// Without the subtype condition the default flow applies.
	next, ok := r.NextStage(StageProcessed, entity.TypeCompany, IntegrationPSA, nil)
	require.True(t, ok)
	assert.Equal(t, StageLinked, next)

	// With the matching subtype the linked stage is skipped.
	meta := &Metadata{DataSourceSubtype: "psa_contacts"}
	next, ok = r.NextStage(StageProcessed, entity.TypeCompany, IntegrationPSA, meta)
	require.True(t, ok)
	assert.Equal(t, StageAnalyzed, next)

	// The override binds to its integration only.
	next, ok = r.NextStage(StageProcessed, entity.TypeCompany, IntegrationMicrosoft365, meta)
	require.True(t, ok)
	assert.Equal(t, StageLinked, next)
}

func TestNextStageAVDeviceOverrideUnconditional(t *testing.T) {
	r := NewResolver()

	next, ok := r.NextStage(StageProcessed, entity.TypeDevice, IntegrationAVConsole, nil)
	require.True(t, ok)
	assert.Equal(t, StageAnalyzed, next)
}

func TestAvailableTransitionsIncludeFailed(t *testing.T) {
	r := NewResolver()

	got := r.AvailableTransitions(StageFetched, entity.TypeIdentity, IntegrationMicrosoft365, nil)
	assert.Equal(t, []Stage{StageProcessed, StageFailed}, got)

	assert.Empty(t, r.AvailableTransitions(StageCompleted, entity.TypeIdentity, IntegrationMicrosoft365, nil))
	assert.Empty(t, r.AvailableTransitions(StageFailed, entity.TypeIdentity, IntegrationMicrosoft365, nil))
}

func TestIsValidTransition(t *testing.T) {
	r := NewResolver()

	assert.True(t, r.IsValidTransition(StageFetched, StageProcessed, entity.TypeIdentity, IntegrationMicrosoft365, nil))
	assert.True(t, r.IsValidTransition(StageFetched, StageFailed, entity.TypeIdentity, IntegrationMicrosoft365, nil))
	assert.False(t, r.IsValidTransition(StageFetched, StageAnalyzed, entity.TypeIdentity, IntegrationMicrosoft365, nil))
	assert.False(t, r.IsValidTransition(StageFailed, StageQueued, entity.TypeIdentity, IntegrationMicrosoft365, nil))
}
