// Package stageflow resolves the directed sequence of pipeline stages an
// entity type passes through for a given integration. Pure and deterministic:
// no I/O, fully table-driven.
package stageflow

import (
	"github.com/c360/tenantsync/entity"
)

// Stage identifies one pipeline stage.
type Stage string

// Pipeline stages.
const (
	StageQueued    Stage = "queued"
	StageFetched   Stage = "fetched"
	StageProcessed Stage = "processed"
	StageLinked    Stage = "linked"
	StageAnalyzed  Stage = "analyzed"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
)

// IntegrationType identifies the class of provider an integration belongs to.
type IntegrationType string

// Supported integration classes.
const (
	IntegrationMicrosoft365 IntegrationType = "microsoft365"
	IntegrationPSA          IntegrationType = "psa"
	IntegrationAVConsole    IntegrationType = "av_console"
)

// Metadata carries the optional resolution conditions for an override:
// data-source subtype and special-config flags.
type Metadata struct {
	DataSourceSubtype string
	SpecialConfig     map[string]bool
}

// override is an integration+entity-specific flow step with optional match
// conditions.
type override struct {
	from      Stage
	to        Stage
	subtype   string // empty matches any subtype
	needsFlag string // empty means no flag condition
}

// flowKey addresses a default flow table entry.
type flowKey struct {
	entityType entity.Type
	from       Stage
}

// Resolver maps (currentStage, entityType, integrationType) to the next
// stage, consulting per-integration overrides before the entity type's
// default flow.
type Resolver struct {
	defaults  map[flowKey]Stage
	overrides map[IntegrationType]map[flowKey][]override
}

// NewResolver builds the standard flow table.
//
// Default flow for every entity type:
//
//	queued → fetched → processed → linked → analyzed → completed
//
// Overrides:
//   - PSA integrations skip the linked stage for companies when the data
//     source subtype is psa_contacts (contacts carry no linkable edges).
//   - AV-console integrations skip linking for devices entirely: the console
//     reports flat device inventories.
func NewResolver() *Resolver {
	r := &Resolver{
		defaults:  make(map[flowKey]Stage),
		overrides: make(map[IntegrationType]map[flowKey][]override),
	}

	for _, t := range entity.Types() {
		r.addDefault(t, StageQueued, StageFetched)
		r.addDefault(t, StageFetched, StageProcessed)
		r.addDefault(t, StageProcessed, StageLinked)
		r.addDefault(t, StageLinked, StageAnalyzed)
		r.addDefault(t, StageAnalyzed, StageCompleted)
	}

	r.addOverride(IntegrationPSA, entity.TypeCompany, override{
		from:    StageProcessed,
		to:      StageAnalyzed,
		subtype: "psa_contacts",
	})
	r.addOverride(IntegrationAVConsole, entity.TypeDevice, override{
		from: StageProcessed,
		to:   StageAnalyzed,
	})

	return r
}

func (r *Resolver) addDefault(t entity.Type, from, to Stage) {
	r.defaults[flowKey{entityType: t, from: from}] = to
}

func (r *Resolver) addOverride(it IntegrationType, t entity.Type, o override) {
	if r.overrides[it] == nil {
		r.overrides[it] = make(map[flowKey][]override)
	}
	key := flowKey{entityType: t, from: o.from}
	r.overrides[it][key] = append(r.overrides[it][key], o)
}

// NextStage resolves the stage following the current one. The second return
// is false when the current stage is terminal for this combination.
// Resolution order: matching integration+entity override, then the entity
// type's default flow, then terminal.
func (r *Resolver) NextStage(current Stage, t entity.Type, it IntegrationType, meta *Metadata) (Stage, bool) {
	if current == StageCompleted || current == StageFailed {
		return "", false
	}

	key := flowKey{entityType: t, from: current}

	if byKey, ok := r.overrides[it]; ok {
		for _, o := range byKey[key] {
			if o.matches(meta) {
				return o.to, true
			}
		}
	}

	next, ok := r.defaults[key]
	if !ok {
		return "", false
	}
	return next, true
}

func (o override) matches(meta *Metadata) bool {
	if o.subtype == "" && o.needsFlag == "" {
		return true
	}
	if meta == nil {
		return false
	}
	if o.subtype != "" && meta.DataSourceSubtype != o.subtype {
		return false
	}
	if o.needsFlag != "" && !meta.SpecialConfig[o.needsFlag] {
		return false
	}
	return true
}

// IsValidTransition reports whether moving from one stage to another is
// allowed for the combination. Failing is allowed from any non-terminal
// stage.
func (r *Resolver) IsValidTransition(from, to Stage, t entity.Type, it IntegrationType, meta *Metadata) bool {
	for _, s := range r.AvailableTransitions(from, t, it, meta) {
		if s == to {
			return true
		}
	}
	return false
}

// AvailableTransitions lists the stages reachable from the current one,
// derived from the same table as NextStage. Failed is always included as an
// escape hatch from non-terminal stages.
func (r *Resolver) AvailableTransitions(from Stage, t entity.Type, it IntegrationType, meta *Metadata) []Stage {
	if from == StageCompleted || from == StageFailed {
		return nil
	}

	var out []Stage
	if next, ok := r.NextStage(from, t, it, meta); ok {
		out = append(out, next)
	}
	return append(out, StageFailed)
}
