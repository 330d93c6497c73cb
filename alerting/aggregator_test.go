package alerting

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tenantsync/config"
	"github.com/c360/tenantsync/entity"
	"github.com/c360/tenantsync/store"
)

func newTestAggregator(mem store.Store) *Aggregator {
	cfg := config.AggregatorConfig{
		AlertWindow: config.Duration(50 * time.Millisecond),
		TagWindow:   config.Duration(50 * time.Millisecond),
	}
	return NewAggregator(mem, cfg, nil, slog.Default())
}

func seedIdentity(t *testing.T, mem *store.Memory, externalID string) *entity.Entity {
	t.Helper()
	e := entity.New(entity.Key{
		TenantID:      "t1",
		IntegrationID: "int-1",
		DataSourceID:  "ds-1",
		Type:          entity.TypeIdentity,
		ExternalID:    externalID,
	})
	require.NoError(t, mem.PutEntity(context.Background(), e))
	return e
}

func finding(entityID string, key entity.AlertKey, sev entity.Severity) entity.Finding {
	return entity.Finding{
		EntityID: entityID,
		Kind:     entity.KindMFA,
		Alert:    key,
		Severity: sev,
		Message:  "mfa is not enforced",
	}
}

func activeAlerts(t *testing.T, mem *store.Memory, entityID string) []entity.Alert {
	t.Helper()
	alerts, err := mem.ListActiveAlerts(context.Background(), "t1", entityID)
	require.NoError(t, err)
	return alerts
}

func TestAggregatorCreatesAlertsAndState(t *testing.T) {
	mem := store.NewMemory()
	e := seedIdentity(t, mem, "alice")
	agg := newTestAggregator(mem)

	agg.SubmitFindings(&FindingsMessage{
		TenantID:     "t1",
		DataSourceID: "ds-1",
		Producer:     "mfa",
		Findings: []entity.Finding{
			finding(e.ID, entity.AlertKey{Type: entity.AlertMFANotEnforced}, entity.SeverityHigh),
		},
	})
	agg.Flush("t1", "ds-1")

	alerts := activeAlerts(t, mem, e.ID)
	require.Len(t, alerts, 1)
	assert.Equal(t, entity.AlertMFANotEnforced, alerts[0].Key.Type)
	assert.Equal(t, entity.SeverityHigh, alerts[0].Severity)

	got, err := mem.GetEntity(context.Background(), e.Key)
	require.NoError(t, err)
	assert.Equal(t, entity.StateCritical, got.State)
}

func TestAggregatorRedeliveryUpdatesWithoutDuplicates(t *testing.T) {
	mem := store.NewMemory()
	e := seedIdentity(t, mem, "alice")
	agg := newTestAggregator(mem)

	msg := &FindingsMessage{
		TenantID:     "t1",
		DataSourceID: "ds-1",
		Producer:     "mfa",
		Findings: []entity.Finding{
			finding(e.ID, entity.AlertKey{Type: entity.AlertMFANotEnforced}, entity.SeverityHigh),
		},
	}
	agg.SubmitFindings(msg)
	agg.Flush("t1", "ds-1")

	first := activeAlerts(t, mem, e.ID)
	require.Len(t, first, 1)

	agg.SubmitFindings(msg)
	agg.Flush("t1", "ds-1")

	second := activeAlerts(t, mem, e.ID)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID, "redelivery must update, not duplicate")
	assert.Equal(t, first[0].CreatedAt, second[0].CreatedAt)
}

func TestAggregatorEmptyContributionResolves(t *testing.T) {
	mem := store.NewMemory()
	e := seedIdentity(t, mem, "alice")
	agg := newTestAggregator(mem)

	agg.SubmitFindings(&FindingsMessage{
		TenantID:     "t1",
		DataSourceID: "ds-1",
		Producer:     "mfa",
		Findings: []entity.Finding{
			finding(e.ID, entity.AlertKey{Type: entity.AlertMFANotEnforced}, entity.SeverityCritical),
		},
	})
	agg.Flush("t1", "ds-1")
	require.Len(t, activeAlerts(t, mem, e.ID), 1)

	// The producer's next pass reports nothing for the entity; its previous
	// contribution is replaced and the alert resolves.
	agg.SubmitFindings(&FindingsMessage{
		TenantID:     "t1",
		DataSourceID: "ds-1",
		Producer:     "mfa",
		Findings:     nil,
	})
	agg.Flush("t1", "ds-1")

	assert.Empty(t, activeAlerts(t, mem, e.ID))
	got, err := mem.GetEntity(context.Background(), e.Key)
	require.NoError(t, err)
	assert.Equal(t, entity.StateNormal, got.State, "state must drop back once alerts clear")
}

func TestAggregatorSubKeyedAlertsResolveIndependently(t *testing.T) {
	mem := store.NewMemory()
	e := seedIdentity(t, mem, "alice")
	agg := newTestAggregator(mem)

	waste := func(sku string) entity.Finding {
		return entity.Finding{
			EntityID: e.ID,
			Kind:     entity.KindLicenseWaste,
			Alert:    entity.AlertKey{Type: entity.AlertLicenseWaste, SubID: sku},
			Severity: entity.SeverityLow,
			Message:  "license assigned to inactive account",
			License:  &entity.LicenseFinding{SKUID: sku},
		}
	}

	agg.SubmitFindings(&FindingsMessage{
		TenantID: "t1", DataSourceID: "ds-1", Producer: "license",
		Findings: []entity.Finding{waste("SKU_A"), waste("SKU_B")},
	})
	agg.Flush("t1", "ds-1")
	require.Len(t, activeAlerts(t, mem, e.ID), 2)

	// Next pass only reports SKU_B; SKU_A's alert resolves on its own.
	agg.SubmitFindings(&FindingsMessage{
		TenantID: "t1", DataSourceID: "ds-1", Producer: "license",
		Findings: []entity.Finding{waste("SKU_B")},
	})
	agg.Flush("t1", "ds-1")

	alerts := activeAlerts(t, mem, e.ID)
	require.Len(t, alerts, 1)
	assert.Equal(t, "SKU_B", alerts[0].Key.SubID)
}

func TestAggregatorProducerReplaceNotMerge(t *testing.T) {
	mem := store.NewMemory()
	e := seedIdentity(t, mem, "alice")
	agg := newTestAggregator(mem)

	// Two contributions from the same producer within one window: only the
	// latest counts.
	agg.SubmitFindings(&FindingsMessage{
		TenantID: "t1", DataSourceID: "ds-1", Producer: "mfa",
		Findings: []entity.Finding{
			finding(e.ID, entity.AlertKey{Type: entity.AlertMFANotEnforced}, entity.SeverityCritical),
		},
	})
	agg.SubmitFindings(&FindingsMessage{
		TenantID: "t1", DataSourceID: "ds-1", Producer: "mfa",
		Findings: []entity.Finding{
			finding(e.ID, entity.AlertKey{Type: entity.AlertMFAPartial}, entity.SeverityMedium),
		},
	})
	agg.Flush("t1", "ds-1")

	alerts := activeAlerts(t, mem, e.ID)
	require.Len(t, alerts, 1)
	assert.Equal(t, entity.AlertMFAPartial, alerts[0].Key.Type)
}

func TestAggregatorMergesProducersHigherSeverityWins(t *testing.T) {
	mem := store.NewMemory()
	e := seedIdentity(t, mem, "alice")
	agg := newTestAggregator(mem)

	key := entity.AlertKey{Type: entity.AlertStaleAccount}
	agg.SubmitFindings(&FindingsMessage{
		TenantID: "t1", DataSourceID: "ds-1", Producer: "stale",
		Findings: []entity.Finding{finding(e.ID, key, entity.SeverityMedium)},
	})
	agg.SubmitFindings(&FindingsMessage{
		TenantID: "t1", DataSourceID: "ds-1", Producer: "mfa",
		Findings: []entity.Finding{finding(e.ID, key, entity.SeverityHigh)},
	})
	agg.Flush("t1", "ds-1")

	alerts := activeAlerts(t, mem, e.ID)
	require.Len(t, alerts, 1)
	assert.Equal(t, entity.SeverityHigh, alerts[0].Severity)
}

func TestAggregatorDebounceCoalescesIntoOnePass(t *testing.T) {
	mem := store.NewMemory()
	e := seedIdentity(t, mem, "alice")
	agg := newTestAggregator(mem)

	// A burst of messages within the window produces a single reconciliation
	// reflecting the union once the key goes quiet.
	for i := 0; i < 5; i++ {
		agg.SubmitFindings(&FindingsMessage{
			TenantID: "t1", DataSourceID: "ds-1", Producer: "mfa",
			Findings: []entity.Finding{
				finding(e.ID, entity.AlertKey{Type: entity.AlertMFANotEnforced}, entity.SeverityHigh),
			},
		})
	}
	agg.SubmitFindings(&FindingsMessage{
		TenantID: "t1", DataSourceID: "ds-1", Producer: "policy",
		Findings: []entity.Finding{
			finding(e.ID, entity.AlertKey{Type: entity.AlertPolicyGap}, entity.SeverityMedium),
		},
	})

	require.Eventually(t, func() bool {
		return len(activeAlerts(t, mem, e.ID)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, agg.Stop(time.Second))
}

func TestAggregatorTagContributions(t *testing.T) {
	mem := store.NewMemory()
	e := seedIdentity(t, mem, "alice")
	agg := newTestAggregator(mem)

	agg.SubmitTags(&TagsMessage{
		TenantID: "t1", DataSourceID: "ds-1", Producer: "mfa",
		Tags: map[string][]string{e.ID: {"admin", "mfa_missing"}},
	})
	agg.SubmitTags(&TagsMessage{
		TenantID: "t1", DataSourceID: "ds-1", Producer: "stale",
		Tags: map[string][]string{e.ID: {"stale", "admin"}},
	})
	agg.Flush("t1", "ds-1")

	got, err := mem.GetEntity(context.Background(), e.Key)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"admin", "mfa_missing", "stale"}, got.Tags)
}

func TestAggregatorUnknownEntityFindingSkipped(t *testing.T) {
	mem := store.NewMemory()
	e := seedIdentity(t, mem, "alice")
	agg := newTestAggregator(mem)

	agg.SubmitFindings(&FindingsMessage{
		TenantID: "t1", DataSourceID: "ds-1", Producer: "mfa",
		Findings: []entity.Finding{
			finding(e.ID, entity.AlertKey{Type: entity.AlertMFANotEnforced}, entity.SeverityHigh),
			finding("dangling", entity.AlertKey{Type: entity.AlertMFANotEnforced}, entity.SeverityHigh),
		},
	})
	agg.Flush("t1", "ds-1")

	// The known entity's alert lands; the dangling one is dropped.
	assert.Len(t, activeAlerts(t, mem, e.ID), 1)
}

func TestAggregatorStopDropsPendingWindows(t *testing.T) {
	mem := store.NewMemory()
	e := seedIdentity(t, mem, "alice")
	agg := newTestAggregator(mem)

	agg.SubmitFindings(&FindingsMessage{
		TenantID: "t1", DataSourceID: "ds-1", Producer: "mfa",
		Findings: []entity.Finding{
			finding(e.ID, entity.AlertKey{Type: entity.AlertMFANotEnforced}, entity.SeverityHigh),
		},
	})
	require.NoError(t, agg.Stop(time.Second))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, activeAlerts(t, mem, e.ID), "pending windows are dropped on stop")

	// Submissions after stop are ignored.
	agg.SubmitFindings(&FindingsMessage{
		TenantID: "t1", DataSourceID: "ds-1", Producer: "mfa",
		Findings: []entity.Finding{
			finding(e.ID, entity.AlertKey{Type: entity.AlertMFANotEnforced}, entity.SeverityHigh),
		},
	})
	agg.Flush("t1", "ds-1")
	assert.Empty(t, activeAlerts(t, mem, e.ID))
}

// orderedStore records the sequence of store calls reconciliation makes so
// tests can assert reads and writes do not interleave.
type orderedStore struct {
	*store.Memory
	mu  sync.Mutex
	ops []string
}

func (s *orderedStore) record(op string) {
	s.mu.Lock()
	s.ops = append(s.ops, op)
	s.mu.Unlock()
}

func (s *orderedStore) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

func (s *orderedStore) reset() {
	s.mu.Lock()
	s.ops = nil
	s.mu.Unlock()
}

func (s *orderedStore) ListEntities(ctx context.Context, tenantID, dataSourceID string, types ...entity.Type) ([]*entity.Entity, error) {
	s.record("read:entities")
	return s.Memory.ListEntities(ctx, tenantID, dataSourceID, types...)
}

func (s *orderedStore) ListActiveAlertsForDataSource(ctx context.Context, tenantID, dataSourceID string) ([]entity.Alert, error) {
	s.record("read:alerts")
	return s.Memory.ListActiveAlertsForDataSource(ctx, tenantID, dataSourceID)
}

func (s *orderedStore) UpsertAlert(ctx context.Context, a *entity.Alert) error {
	s.record("write:upsert")
	return s.Memory.UpsertAlert(ctx, a)
}

func (s *orderedStore) ResolveAlert(ctx context.Context, tenantID, entityID string, key entity.AlertKey, at time.Time) error {
	s.record("write:resolve")
	return s.Memory.ResolveAlert(ctx, tenantID, entityID, key, at)
}

func (s *orderedStore) BulkPatch(ctx context.Context, patches []store.EntityPatch) error {
	s.record("write:patch")
	return s.Memory.BulkPatch(ctx, patches)
}

func TestReconcileReadsCompleteBeforeWrites(t *testing.T) {
	rec := &orderedStore{Memory: store.NewMemory()}
	e := seedIdentity(t, rec.Memory, "alice")
	agg := newTestAggregator(rec)

	// First pass establishes an active alert so the second pass has both an
	// upsert and a resolve to apply.
	agg.SubmitFindings(&FindingsMessage{
		TenantID: "t1", DataSourceID: "ds-1", Producer: "mfa",
		Findings: []entity.Finding{
			finding(e.ID, entity.AlertKey{Type: entity.AlertMFANotEnforced}, entity.SeverityHigh),
		},
	})
	agg.Flush("t1", "ds-1")
	rec.reset()

	agg.SubmitFindings(&FindingsMessage{
		TenantID: "t1", DataSourceID: "ds-1", Producer: "mfa",
		Findings: []entity.Finding{
			finding(e.ID, entity.AlertKey{Type: entity.AlertMFAPartial}, entity.SeverityMedium),
		},
	})
	agg.Flush("t1", "ds-1")

	ops := rec.calls()
	assert.Contains(t, ops, "write:upsert")
	assert.Contains(t, ops, "write:resolve")
	assert.Contains(t, ops, "write:patch")

	lastRead, firstWrite := -1, -1
	for i, op := range ops {
		if op == "read:entities" || op == "read:alerts" {
			lastRead = i
		} else if firstWrite == -1 {
			firstWrite = i
		}
	}
	require.NotEqual(t, -1, firstWrite)
	assert.Less(t, lastRead, firstWrite, "every store read must complete before the first mutation")
}

func TestFindingsSubjectSanitized(t *testing.T) {
	m := &FindingsMessage{TenantID: "acme.corp", DataSourceID: "m365 primary"}
	assert.Equal(t, "analysis.findings.acme_corp.m365_primary", m.Subject())
}
