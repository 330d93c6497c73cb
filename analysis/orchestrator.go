package analysis

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/c360/tenantsync/alerting"
	"github.com/c360/tenantsync/entity"
	"github.com/c360/tenantsync/errors"
	"github.com/c360/tenantsync/stage"
	"github.com/c360/tenantsync/stageflow"
	"github.com/c360/tenantsync/store"
)

// Publisher is the bus surface the orchestrator publishes findings on.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Orchestrator is the stage.Handler for linked events: it loads the analysis
// context, runs every registered analyzer in parallel, merges their tag and
// state outputs into one bulk patch, and hands findings to the aggregator.
// Any analyzer error aborts the whole pass before anything is persisted.
type Orchestrator struct {
	store     store.Store
	analyzers []Analyzer
	bus       Publisher
	logger    *slog.Logger
}

// NewOrchestrator builds the orchestrator over a fixed analyzer set.
func NewOrchestrator(s store.Store, analyzers []Analyzer, bus Publisher, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     s,
		analyzers: analyzers,
		bus:       bus,
		logger:    logger.With("component", "analysis"),
	}
}

// DefaultAnalyzers returns the production analyzer set.
func DefaultAnalyzers(staleThresholdDays int) []Analyzer {
	return []Analyzer{
		MFAAnalyzer{},
		StaleAccountAnalyzer{ThresholdDays: staleThresholdDays},
		LicenseAnalyzer{StaleThresholdDays: staleThresholdDays},
		PolicyGapAnalyzer{},
	}
}

func (o *Orchestrator) Name() string { return "analyze" }

func (o *Orchestrator) Subjects() []string {
	return []string{stage.SubjectWildcard(stageflow.StageLinked)}
}

// Handle runs one analysis pass for the event's tenant/data-source pair.
func (o *Orchestrator) Handle(ctx context.Context, ev *stage.Event) (*stage.Outcome, error) {
	results, err := o.run(ctx, ev.TenantID, ev.DataSourceID)
	if err != nil {
		return nil, err
	}

	for _, pr := range results {
		msg := &alerting.FindingsMessage{
			TenantID:     ev.TenantID,
			DataSourceID: ev.DataSourceID,
			Producer:     pr.producer,
			Findings:     pr.findings,
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Orchestrator", "Handle", "encode findings")
		}
		if err := o.bus.Publish(msg.Subject(), data); err != nil {
			return nil, errors.WrapTransient(err, "Orchestrator", "Handle", "publish findings")
		}
	}

	out := stage.NewEvent(ev, stageflow.StageAnalyzed)
	out.EntityIDs = ev.EntityIDs
	out.Batch = ev.Batch
	return &stage.Outcome{Events: []*stage.Event{out}}, nil
}

// producerResult pairs an analyzer's name with its findings so the aggregator
// can apply replace-own-contribution semantics per producer.
type producerResult struct {
	producer string
	findings []entity.Finding
}

// run executes the analyzer set for one key and persists the merged tag and
// state batch. It returns the per-producer findings for delivery to the
// aggregator. Every producer appears in the result even when it found
// nothing: an empty contribution is what retracts a previous one.
func (o *Orchestrator) run(ctx context.Context, tenantID, dataSourceID string) ([]producerResult, error) {
	ac, err := LoadContext(ctx, o.store, tenantID, dataSourceID)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, len(o.analyzers))
	g, _ := errgroup.WithContext(ctx)
	for i, a := range o.analyzers {
		g.Go(func() error {
			res, err := a.Analyze(ac)
			if err != nil {
				return errors.Wrap(err, "Orchestrator", "run", "analyzer "+a.Name())
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Abort the whole pass: no partial merge is ever persisted.
		return nil, err
	}

	// Merge: tags union, state max, independent of analyzer order.
	tags := make(map[string]map[string]bool)
	states := make(map[string]entity.State)
	for _, res := range results {
		for id, ts := range res.Tags {
			if tags[id] == nil {
				tags[id] = make(map[string]bool)
			}
			for _, tag := range ts {
				tags[id][tag] = true
			}
		}
		for id, s := range res.States {
			states[id] = entity.MaxState(states[id], s)
		}
	}

	patches := o.buildPatches(ac, tags, states)
	if len(patches) > 0 {
		if err := o.store.BulkPatch(ctx, patches); err != nil {
			return nil, errors.WrapTransient(err, "Orchestrator", "run", "bulk patch")
		}
	}

	findingCount := 0
	out := make([]producerResult, len(o.analyzers))
	for i, a := range o.analyzers {
		out[i] = producerResult{producer: a.Name(), findings: results[i].Findings}
		findingCount += len(results[i].Findings)
	}

	o.logger.Info("analysis pass complete",
		"tenant_id", tenantID,
		"data_source_id", dataSourceID,
		"analyzers", len(o.analyzers),
		"patched_entities", len(patches),
		"findings", findingCount,
	)
	return out, nil
}

func (o *Orchestrator) buildPatches(ac *Context, tags map[string]map[string]bool, states map[string]entity.State) []store.EntityPatch {
	ids := make(map[string]bool, len(tags)+len(states))
	for id := range tags {
		ids[id] = true
	}
	for id := range states {
		ids[id] = true
	}

	var patches []store.EntityPatch
	for id := range ids {
		e := ac.Entity(id)
		if e == nil {
			continue
		}
		patch := store.EntityPatch{Key: e.Key}
		if ts := tags[id]; len(ts) > 0 {
			added := make([]string, 0, len(ts))
			for tag := range ts {
				added = append(added, tag)
			}
			sort.Strings(added)
			patch.AddTags = added
		}
		if s, ok := states[id]; ok {
			merged := entity.MaxState(e.State, s)
			patch.State = &merged
		}
		patches = append(patches, patch)
	}
	return patches
}
