// Package linker derives relationship-graph edges from normalized entity
// data: group memberships, license assignments, policy coverage, device
// ownership and company membership.
package linker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/tenantsync/entity"
	"github.com/c360/tenantsync/errors"
	"github.com/c360/tenantsync/stage"
	"github.com/c360/tenantsync/stageflow"
	"github.com/c360/tenantsync/store"
)

// Linker is the stage.Handler for processed events.
type Linker struct {
	store  store.Store
	flow   *stageflow.Resolver
	logger *slog.Logger
}

// NewLinker builds the linker stage.
func NewLinker(s store.Store, flow *stageflow.Resolver, logger *slog.Logger) *Linker {
	return &Linker{
		store:  s,
		flow:   flow,
		logger: logger.With("component", "linker"),
	}
}

func (l *Linker) Name() string { return "link" }

func (l *Linker) Subjects() []string {
	return []string{stage.SubjectWildcard(stageflow.StageProcessed)}
}

// Handle derives and stores edges for the batch's changed entities, then
// publishes a linked event. Flows whose resolver skips the link stage pass
// through without touching the graph.
func (l *Linker) Handle(ctx context.Context, ev *stage.Event) (*stage.Outcome, error) {
	out := stage.NewEvent(ev, stageflow.StageLinked)
	out.EntityIDs = ev.EntityIDs
	out.Batch = ev.Batch
	out.Counts = ev.Counts

	next, ok := l.flow.NextStage(stageflow.StageProcessed, ev.EntityType, ev.IntegrationType, ev.Metadata)
	if !ok {
		return &stage.Outcome{}, nil
	}
	if next != stageflow.StageLinked {
		// Flow override skips linking for this combination; forward the
		// batch untouched so analysis still runs.
		l.logger.Debug("link skipped by flow",
			"entity_type", ev.EntityType, "integration_type", ev.IntegrationType)
		return &stage.Outcome{Events: []*stage.Event{out}}, nil
	}

	// One bulk read covers the whole batch.
	all, err := l.store.ListEntities(ctx, ev.TenantID, ev.DataSourceID, ev.EntityType)
	if err != nil {
		return nil, l.storageFailure(err, "list entities")
	}
	byID := make(map[string]*entity.Entity, len(all))
	for _, e := range all {
		byID[e.ID] = e
	}

	edges := 0
	for _, id := range ev.EntityIDs {
		e, ok := byID[id]
		if !ok {
			l.logger.Warn("linked entity not found", "entity_id", id)
			continue
		}
		n, err := l.linkEntity(ctx, e)
		if err != nil {
			return nil, err
		}
		edges += n
	}

	l.logger.Info("batch linked",
		"event_id", ev.ID,
		"tenant_id", ev.TenantID,
		"entity_type", ev.EntityType,
		"entities", len(ev.EntityIDs),
		"edges", edges,
	)
	return &stage.Outcome{Events: []*stage.Event{out}}, nil
}

// linkEntity derives the edges one entity implies from its normalized data.
func (l *Linker) linkEntity(ctx context.Context, e *entity.Entity) (int, error) {
	var edges []*entity.Relationship

	ref := func(t entity.Type, externalID string) string {
		key := e.Key
		key.Type = t
		key.ExternalID = externalID
		return key.ID()
	}

	switch e.Key.Type {
	case entity.TypeGroup:
		for _, memberID := range e.NormalizedStrings(entity.NormMemberIDs) {
			edges = append(edges, l.edge(e, entity.RelMemberOf,
				e.ID, entity.TypeGroup, ref(entity.TypeIdentity, memberID), entity.TypeIdentity))
		}
	case entity.TypeIdentity:
		for _, sku := range e.NormalizedStrings(entity.NormAssignedSKUs) {
			edges = append(edges, l.edge(e, entity.RelHoldsLicense,
				e.ID, entity.TypeIdentity, ref(entity.TypeLicense, sku), entity.TypeLicense))
		}
		if companyID := e.Normalized(entity.NormCompanyID); companyID != "" {
			edges = append(edges, l.edge(e, entity.RelBelongsTo,
				e.ID, entity.TypeIdentity, ref(entity.TypeCompany, companyID), entity.TypeCompany))
		}
	case entity.TypePolicy:
		for _, userID := range e.NormalizedStrings(entity.NormCoveredIDs) {
			edges = append(edges, l.edge(e, entity.RelCoveredBy,
				ref(entity.TypeIdentity, userID), entity.TypeIdentity, e.ID, entity.TypePolicy))
		}
	case entity.TypeDevice:
		if companyID := e.Normalized(entity.NormCompanyID); companyID != "" {
			edges = append(edges, l.edge(e, entity.RelOwnsDevice,
				ref(entity.TypeCompany, companyID), entity.TypeCompany, e.ID, entity.TypeDevice))
		}
	}

	written := 0
	for _, edge := range edges {
		if edge == nil {
			continue
		}
		if err := l.store.PutRelationship(ctx, edge); err != nil {
			return written, l.storageFailure(err, "write relationship")
		}
		written++
	}
	return written, nil
}

// edge builds a validated relationship; invalid endpoint combinations are
// dropped with a log line rather than poisoning the graph.
func (l *Linker) edge(e *entity.Entity, rt entity.RelationshipType, parentID string, parentType entity.Type, childID string, childType entity.Type) *entity.Relationship {
	if !rt.ValidEndpoints(parentType, childType) {
		l.logger.Warn("dropping invalid edge",
			"relationship_type", rt, "parent_type", parentType, "child_type", childType)
		return nil
	}
	return &entity.Relationship{
		TenantID:     e.Key.TenantID,
		DataSourceID: e.Key.DataSourceID,
		ParentID:     parentID,
		ChildID:      childID,
		Type:         rt,
	}
}

func (l *Linker) storageFailure(err error, action string) error {
	return errors.WrapTransient(
		fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, err),
		"Linker", "Handle", action)
}
