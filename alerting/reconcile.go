package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/tenantsync/entity"
	"github.com/c360/tenantsync/errors"
	"github.com/c360/tenantsync/store"
)

// reconcile runs one pass for one key: compute the expected alert set per
// entity from the latest findings, diff it against the persisted active
// alerts (create / update / resolve), apply pending tag contributions, and
// recompute each touched entity's health state purely from its active alerts.
// The pass reads the store a fixed number of times regardless of entity
// count, and every read completes before the first mutation is applied.
func (a *Aggregator) reconcile(ctx context.Context, entry *keyEntry) error {
	expected := expectedAlerts(entry)
	pendingTags := mergeTags(entry)

	// Two bulk reads: entity IDs back to store keys, and the data source's
	// current active alerts.
	entities, err := a.store.ListEntities(ctx, entry.tenantID, entry.dataSourceID)
	if err != nil {
		return a.storageFailure(err, "list entities")
	}
	byID := make(map[string]*entity.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	allActive, err := a.store.ListActiveAlertsForDataSource(ctx, entry.tenantID, entry.dataSourceID)
	if err != nil {
		return a.storageFailure(err, "list active alerts")
	}
	activeByEntity := make(map[string][]entity.Alert)
	for _, alert := range allActive {
		activeByEntity[alert.EntityID] = append(activeByEntity[alert.EntityID], alert)
	}

	// Reconcile every entity any producer reported on, plus every entity
	// holding an active alert: an entity whose findings disappeared is
	// exactly the one whose alerts must resolve.
	touched := make(map[string]bool)
	for id := range expected {
		touched[id] = true
	}
	for id := range activeByEntity {
		touched[id] = true
	}

	// Diff phase: build the complete mutation set before touching the store,
	// so a storage failure mid-pass cannot interleave with the computation and
	// the partial-apply window shrinks to the write loop below. Each alert
	// write is still an individual KV operation; the batch is not
	// transactional.
	var upserts []alertUpsert
	var resolves []alertResolve
	var patches []store.EntityPatch

	for entityID := range touched {
		e := byID[entityID]
		if e == nil {
			a.logger.Warn("finding for unknown entity", "entity_id", entityID)
			continue
		}

		active := activeByEntity[entityID]
		activeKeys := make(map[entity.AlertKey]bool, len(active))
		for _, alert := range active {
			activeKeys[alert.Key] = true
		}

		want := expected[entityID]
		for key, f := range want {
			upserts = append(upserts, alertUpsert{
				alert: &entity.Alert{
					TenantID:     entry.tenantID,
					DataSourceID: entry.dataSourceID,
					EntityID:     entityID,
					Key:          key,
					Severity:     f.Severity,
					Message:      f.Message,
					Metadata:     f.Metadata(),
				},
				update: activeKeys[key],
			})
		}

		for _, alert := range active {
			if _, still := want[alert.Key]; still {
				continue
			}
			resolves = append(resolves, alertResolve{entityID: entityID, key: alert.Key})
		}

		// After the diff the active set equals the expected set, so the
		// health state derives from the expected findings alone.
		state := stateFromExpected(want)
		patch := store.EntityPatch{Key: e.Key, State: &state}
		if tags := pendingTags[entityID]; len(tags) > 0 {
			patch.AddTags = tags
		}
		patches = append(patches, patch)
	}

	// Tag-only contributions for entities without alert activity.
	for entityID, tags := range pendingTags {
		if touched[entityID] {
			continue
		}
		e := byID[entityID]
		if e == nil {
			continue
		}
		patches = append(patches, store.EntityPatch{Key: e.Key, AddTags: tags})
	}

	// Write phase.
	created, updated, resolved := 0, 0, 0
	for _, op := range upserts {
		if err := a.store.UpsertAlert(ctx, op.alert); err != nil {
			return a.storageFailure(err, "upsert alert")
		}
		if op.update {
			updated++
			if a.metrics != nil {
				a.metrics.AlertsUpdated.Inc()
			}
		} else {
			created++
			if a.metrics != nil {
				a.metrics.AlertsCreated.Inc()
			}
		}
	}

	now := time.Now().UTC()
	for _, op := range resolves {
		if err := a.store.ResolveAlert(ctx, entry.tenantID, op.entityID, op.key, now); err != nil {
			return a.storageFailure(err, "resolve alert")
		}
		resolved++
		if a.metrics != nil {
			a.metrics.AlertsResolved.Inc()
		}
	}

	if len(patches) > 0 {
		if err := a.store.BulkPatch(ctx, patches); err != nil {
			return a.storageFailure(err, "patch entities")
		}
	}

	a.logger.Info("reconciliation pass complete",
		"tenant_id", entry.tenantID,
		"data_source_id", entry.dataSourceID,
		"created", created,
		"updated", updated,
		"resolved", resolved,
	)
	return nil
}

// alertUpsert is one pending alert write, classified at diff time so the
// create/update counters do not depend on re-reading the store.
type alertUpsert struct {
	alert  *entity.Alert
	update bool
}

// alertResolve is one pending alert resolution.
type alertResolve struct {
	entityID string
	key      entity.AlertKey
}

func (a *Aggregator) storageFailure(err error, action string) error {
	return errors.WrapTransient(
		fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, err),
		"Aggregator", "reconcile", action)
}

// stateFromExpected maps the post-reconciliation active alert set to the
// entity health state.
func stateFromExpected(want map[entity.AlertKey]entity.Finding) entity.State {
	alerts := make([]entity.Alert, 0, len(want))
	for _, f := range want {
		alerts = append(alerts, entity.Alert{Status: entity.AlertActive, Severity: f.Severity})
	}
	return entity.StateFromAlerts(alerts)
}

// expectedAlerts groups the window's latest findings by entity and alert key.
// When two producers imply the same alert key for the same entity, the higher
// severity wins.
func expectedAlerts(entry *keyEntry) map[string]map[entity.AlertKey]entity.Finding {
	out := make(map[string]map[entity.AlertKey]entity.Finding)
	for _, findings := range entry.findings {
		for _, f := range findings {
			perEntity, ok := out[f.EntityID]
			if !ok {
				perEntity = make(map[entity.AlertKey]entity.Finding)
				out[f.EntityID] = perEntity
			}
			if existing, ok := perEntity[f.Alert]; !ok || f.Severity.Rank() > existing.Severity.Rank() {
				perEntity[f.Alert] = f
			}
		}
	}
	return out
}

// mergeTags unions tag contributions across producers per entity.
func mergeTags(entry *keyEntry) map[string][]string {
	seen := make(map[string]map[string]bool)
	for _, perProducer := range entry.tags {
		for entityID, tags := range perProducer {
			if seen[entityID] == nil {
				seen[entityID] = make(map[string]bool)
			}
			for _, tag := range tags {
				seen[entityID][tag] = true
			}
		}
	}
	out := make(map[string][]string, len(seen))
	for entityID, set := range seen {
		for tag := range set {
			out[entityID] = append(out[entityID], tag)
		}
	}
	return out
}
