package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tenantsync/entity"
	"github.com/c360/tenantsync/store"
)

type graphBuilder struct {
	t   *testing.T
	mem *store.Memory
}

func newGraph(t *testing.T) *graphBuilder {
	return &graphBuilder{t: t, mem: store.NewMemory()}
}

func (g *graphBuilder) entity(typ entity.Type, externalID string, norm map[string]any) *entity.Entity {
	g.t.Helper()
	e := entity.New(entity.Key{
		TenantID:      "tenant-1",
		IntegrationID: "int-1",
		DataSourceID:  "ds-1",
		Type:          typ,
		ExternalID:    externalID,
	})
	e.NormalizedData = norm
	require.NoError(g.t, g.mem.PutEntity(context.Background(), e))
	return e
}

func (g *graphBuilder) edge(rt entity.RelationshipType, parentID, childID string) {
	g.t.Helper()
	require.NoError(g.t, g.mem.PutRelationship(context.Background(), &entity.Relationship{
		TenantID:     "tenant-1",
		DataSourceID: "ds-1",
		ParentID:     parentID,
		ChildID:      childID,
		Type:         rt,
	}))
}

func (g *graphBuilder) load() *Context {
	g.t.Helper()
	ac, err := LoadContext(context.Background(), g.mem, "tenant-1", "ds-1")
	require.NoError(g.t, err)
	return ac
}

func daysAgo(n int) string {
	return time.Now().UTC().AddDate(0, 0, -n).Format(time.RFC3339)
}

func TestContextGraphIntegrity(t *testing.T) {
	g := newGraph(t)
	group := g.entity(entity.TypeGroup, "g1", nil)
	user := g.entity(entity.TypeIdentity, "u1", nil)
	lic := g.entity(entity.TypeLicense, "sku-a", nil)

	g.edge(entity.RelMemberOf, group.ID, user.ID)
	// Invalid for member_of: identity parent, license child.
	g.edge(entity.RelMemberOf, user.ID, lic.ID)
	// Dangling endpoint.
	g.edge(entity.RelHoldsLicense, user.ID, "missing")

	ac := g.load()

	children := ac.ChildEntities(group.ID)
	require.Len(t, children, 1)
	assert.Equal(t, user.ID, children[0].ID)

	assert.Empty(t, ac.ChildEntities(user.ID), "invalid and dangling edges are dropped")
	assert.Nil(t, ac.Entity("missing"))

	parent := ac.ParentEntity(user.ID, entity.RelMemberOf)
	require.NotNil(t, parent)
	assert.Equal(t, group.ID, parent.ID)
}

func TestMFAAnalyzerSeverityBySubject(t *testing.T) {
	g := newGraph(t)
	admin := g.entity(entity.TypeIdentity, "admin", map[string]any{
		entity.NormAccountEnabled: true,
		entity.NormIsAdmin:        true,
	})
	user := g.entity(entity.TypeIdentity, "user", map[string]any{
		entity.NormAccountEnabled: true,
	})
	covered := g.entity(entity.TypeIdentity, "covered", map[string]any{
		entity.NormAccountEnabled: true,
	})
	disabled := g.entity(entity.TypeIdentity, "disabled", map[string]any{
		entity.NormAccountEnabled: false,
	})
	policy := g.entity(entity.TypePolicy, "p1", map[string]any{
		entity.NormPolicyType:  entity.PolicyConditionalAccess,
		entity.NormEnabled:     true,
		entity.NormRequiresMFA: true,
	})
	g.edge(entity.RelCoveredBy, covered.ID, policy.ID)

	res, err := MFAAnalyzer{}.Analyze(g.load())
	require.NoError(t, err)

	bySubject := make(map[string]entity.Finding)
	for _, f := range res.Findings {
		bySubject[f.EntityID] = f
	}

	require.Contains(t, bySubject, admin.ID)
	assert.Equal(t, entity.SeverityCritical, bySubject[admin.ID].Severity)
	assert.Equal(t, entity.AlertMFANotEnforced, bySubject[admin.ID].Alert.Type)
	require.NotNil(t, bySubject[admin.ID].MFA)
	assert.True(t, bySubject[admin.ID].MFA.IsAdmin)

	require.Contains(t, bySubject, user.ID)
	assert.Equal(t, entity.SeverityHigh, bySubject[user.ID].Severity)

	assert.NotContains(t, bySubject, covered.ID, "policy-covered identities are clean")
	assert.NotContains(t, bySubject, disabled.ID, "disabled identities are skipped")

	assert.Equal(t, entity.StateCritical, res.States[admin.ID])
	assert.Contains(t, res.Tags[admin.ID], TagAdmin)
	assert.Contains(t, res.Tags[admin.ID], TagMFAMissing)
}

func TestMFAAnalyzerSecurityDefaultsArePartial(t *testing.T) {
	g := newGraph(t)
	user := g.entity(entity.TypeIdentity, "user", map[string]any{
		entity.NormAccountEnabled: true,
	})
	g.entity(entity.TypePolicy, "defaults", map[string]any{
		entity.NormPolicyType: entity.PolicySecurityDefaults,
		entity.NormEnabled:    true,
	})

	res, err := MFAAnalyzer{}.Analyze(g.load())
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)

	f := res.Findings[0]
	assert.Equal(t, user.ID, f.EntityID)
	assert.Equal(t, entity.AlertMFAPartial, f.Alert.Type)
	assert.Equal(t, entity.SeverityMedium, f.Severity)
	require.NotNil(t, f.MFA)
	assert.True(t, f.MFA.BaselineOnly)
	assert.Contains(t, res.Tags[user.ID], TagMFABaselineOnly)
}

func TestStaleAccountAnalyzer(t *testing.T) {
	g := newGraph(t)
	stale := g.entity(entity.TypeIdentity, "stale", map[string]any{
		entity.NormAccountEnabled: true,
		entity.NormLastSignIn:     daysAgo(120),
	})
	active := g.entity(entity.TypeIdentity, "active", map[string]any{
		entity.NormAccountEnabled:     true,
		entity.NormLastSignIn:         daysAgo(200),
		entity.NormLastNonInteractive: daysAgo(5),
	})
	disabled := g.entity(entity.TypeIdentity, "disabled", map[string]any{
		entity.NormAccountEnabled: false,
		entity.NormLastSignIn:     daysAgo(400),
	})
	unknown := g.entity(entity.TypeIdentity, "unknown", map[string]any{
		entity.NormAccountEnabled: true,
	})

	res, err := StaleAccountAnalyzer{ThresholdDays: 91}.Analyze(g.load())
	require.NoError(t, err)

	require.Len(t, res.Findings, 1)
	f := res.Findings[0]
	assert.Equal(t, stale.ID, f.EntityID)
	assert.Equal(t, entity.AlertStaleAccount, f.Alert.Type)
	require.NotNil(t, f.Stale)
	assert.GreaterOrEqual(t, f.Stale.DaysInactive, 119)

	assert.Contains(t, res.Tags[stale.ID], TagStale)
	assert.Contains(t, res.Tags[disabled.ID], TagDisabled)
	assert.NotContains(t, res.Tags, active.ID, "recent non-interactive sign-in keeps the account fresh")
	assert.NotContains(t, res.Tags, unknown.ID, "no recorded activity is not judged stale")
}

func TestLicenseAnalyzerWastePerSKU(t *testing.T) {
	g := newGraph(t)
	stale := g.entity(entity.TypeIdentity, "stale", map[string]any{
		entity.NormAccountEnabled: true,
		entity.NormLastSignIn:     daysAgo(200),
	})
	skuA := g.entity(entity.TypeLicense, "sku-a", map[string]any{
		entity.NormSKUID: "sku-a",
	})
	skuB := g.entity(entity.TypeLicense, "sku-b", map[string]any{
		entity.NormSKUID: "sku-b",
	})
	g.edge(entity.RelHoldsLicense, stale.ID, skuA.ID)
	g.edge(entity.RelHoldsLicense, stale.ID, skuB.ID)

	res, err := LicenseAnalyzer{StaleThresholdDays: 91}.Analyze(g.load())
	require.NoError(t, err)
	require.Len(t, res.Findings, 2)

	subIDs := make(map[string]bool)
	for _, f := range res.Findings {
		assert.Equal(t, stale.ID, f.EntityID)
		assert.Equal(t, entity.AlertLicenseWaste, f.Alert.Type)
		subIDs[f.Alert.SubID] = true
	}
	assert.True(t, subIDs["sku-a"])
	assert.True(t, subIDs["sku-b"], "one independently resolvable alert per SKU")
}

func TestLicenseAnalyzerOveruse(t *testing.T) {
	g := newGraph(t)
	over := g.entity(entity.TypeLicense, "sku-a", map[string]any{
		entity.NormSKUID:    "sku-a",
		entity.NormConsumed: 12,
		entity.NormEntitled: 10,
	})
	g.entity(entity.TypeLicense, "sku-b", map[string]any{
		entity.NormSKUID:    "sku-b",
		entity.NormConsumed: 5,
		entity.NormEntitled: 10,
	})

	res, err := LicenseAnalyzer{}.Analyze(g.load())
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)

	f := res.Findings[0]
	assert.Equal(t, over.ID, f.EntityID)
	assert.Equal(t, entity.AlertLicenseOveruse, f.Alert.Type)
	require.NotNil(t, f.License)
	assert.Equal(t, 12, f.License.Consumed)
	assert.Equal(t, 10, f.License.Entitled)
}

func TestPolicyGapAnalyzer(t *testing.T) {
	g := newGraph(t)
	covered := g.entity(entity.TypeIdentity, "covered", map[string]any{
		entity.NormAccountEnabled: true,
	})
	uncovered := g.entity(entity.TypeIdentity, "uncovered", map[string]any{
		entity.NormAccountEnabled: true,
	})
	policy := g.entity(entity.TypePolicy, "p1", map[string]any{
		entity.NormPolicyType: entity.PolicyConditionalAccess,
		entity.NormEnabled:    true,
	})
	g.edge(entity.RelCoveredBy, covered.ID, policy.ID)

	res, err := PolicyGapAnalyzer{}.Analyze(g.load())
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, uncovered.ID, res.Findings[0].EntityID)
	assert.Equal(t, entity.AlertPolicyGap, res.Findings[0].Alert.Type)
	require.NotNil(t, res.Findings[0].Policy)
	assert.Equal(t, 1, res.Findings[0].Policy.PolicyCount)
}

func TestPolicyGapAnalyzerNoPoliciesNoFindings(t *testing.T) {
	g := newGraph(t)
	g.entity(entity.TypeIdentity, "u1", map[string]any{entity.NormAccountEnabled: true})

	res, err := PolicyGapAnalyzer{}.Analyze(g.load())
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
}
