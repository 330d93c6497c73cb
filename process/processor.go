// Package process implements the change-aware processor stage: it diffs
// fetched records against stored hashes, normalizes and upserts only what
// changed, and forwards the affected entities to the next stage in the flow.
package process

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/c360/tenantsync/entity"
	"github.com/c360/tenantsync/errors"
	"github.com/c360/tenantsync/metric"
	"github.com/c360/tenantsync/stage"
	"github.com/c360/tenantsync/stageflow"
	"github.com/c360/tenantsync/store"
)

// Processor is the stage.Handler for fetched events.
type Processor struct {
	store       store.Store
	flow        *stageflow.Resolver
	normalizers map[entity.Type]Normalizer
	metrics     *metric.Metrics
	logger      *slog.Logger
}

// NewProcessor builds the processor with the default normalizer registry.
func NewProcessor(s store.Store, flow *stageflow.Resolver, metrics *metric.Metrics, logger *slog.Logger) *Processor {
	return &Processor{
		store:       s,
		flow:        flow,
		normalizers: DefaultNormalizers(),
		metrics:     metrics,
		logger:      logger.With("component", "process"),
	}
}

func (p *Processor) Name() string { return "process" }

func (p *Processor) Subjects() []string {
	return []string{stage.SubjectWildcard(stageflow.StageFetched)}
}

// Handle processes one fetched batch. Unchanged records are skipped by hash;
// a storage failure fails the whole batch so the originating job's redelivery
// replays it, which is safe because already-stored records skip on replay.
func (p *Processor) Handle(ctx context.Context, ev *stage.Event) (*stage.Outcome, error) {
	counts := stage.Counts{}
	var changedIDs []string

	for _, rawRecord := range ev.Records {
		var rec stage.Record
		if err := json.Unmarshal(rawRecord, &rec); err != nil {
			p.logger.Warn("skipping undecodable record", "event_id", ev.ID, "error", err)
			continue
		}

		key := entity.Key{
			TenantID:      ev.TenantID,
			IntegrationID: ev.IntegrationID,
			DataSourceID:  ev.DataSourceID,
			Type:          ev.EntityType,
			ExternalID:    rec.ExternalID,
		}

		existing, err := p.store.GetEntity(ctx, key)
		switch {
		case err == nil:
			if existing.DataHash == rec.DataHash {
				counts.Skipped++
				if p.metrics != nil {
					p.metrics.EntitiesSkipped.WithLabelValues(string(ev.EntityType)).Inc()
				}
				continue
			}
		case stderrors.Is(err, errors.ErrKeyNotFound):
			existing = nil
		default:
			return nil, p.storageFailure(err, "read entity")
		}

		norm, err := p.normalize(ev.EntityType, rec.Raw)
		if err != nil {
			p.logger.Warn("skipping unnormalizable record",
				"event_id", ev.ID, "external_id", rec.ExternalID, "error", err)
			continue
		}

		var target *entity.Entity
		operation := "updated"
		if existing == nil {
			target = entity.New(key)
			operation = "created"
			counts.Created++
		} else {
			target = existing
			counts.Updated++
		}
		target.SiteID = rec.SiteID
		target.DataHash = rec.DataHash
		target.RawData = rec.Raw
		target.NormalizedData = norm

		if err := p.store.PutEntity(ctx, target); err != nil {
			return nil, p.storageFailure(err, "write entity")
		}
		if p.metrics != nil {
			p.metrics.EntitiesStored.WithLabelValues(string(ev.EntityType), operation).Inc()
		}
		changedIDs = append(changedIDs, target.ID)
	}

	p.logger.Info("batch processed",
		"event_id", ev.ID,
		"tenant_id", ev.TenantID,
		"entity_type", ev.EntityType,
		"created", counts.Created,
		"updated", counts.Updated,
		"skipped", counts.Skipped,
	)

	// An all-skipped batch produces no downstream event: identical
	// redeliveries are fully absorbed here.
	if len(changedIDs) == 0 {
		return &stage.Outcome{}, nil
	}

	next, ok := p.flow.NextStage(stageflow.StageFetched, ev.EntityType, ev.IntegrationType, ev.Metadata)
	if !ok || next == stageflow.StageCompleted {
		return &stage.Outcome{}, nil
	}

	out := stage.NewEvent(ev, next)
	out.EntityIDs = changedIDs
	out.Batch = ev.Batch
	out.Counts = &counts
	return &stage.Outcome{Events: []*stage.Event{out}}, nil
}

func (p *Processor) normalize(t entity.Type, raw json.RawMessage) (map[string]any, error) {
	n, ok := p.normalizers[t]
	if !ok {
		n = normalizeGeneric
	}
	return n(raw)
}

func (p *Processor) storageFailure(err error, action string) error {
	return errors.WrapTransient(
		fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, err),
		"Processor", "Handle", action)
}
