package analysis

import "github.com/c360/tenantsync/entity"

// Result is one analyzer's output: findings for the aggregator plus tag and
// state contributions merged by the orchestrator.
type Result struct {
	Findings []entity.Finding
	Tags     map[string][]string     // entityID → tags to add
	States   map[string]entity.State // entityID → proposed state
}

// NewResult returns an empty result ready for accumulation.
func NewResult() *Result {
	return &Result{
		Tags:   make(map[string][]string),
		States: make(map[string]entity.State),
	}
}

// AddTag records a tag contribution for one entity.
func (r *Result) AddTag(entityID, tag string) {
	r.Tags[entityID] = append(r.Tags[entityID], tag)
}

// RaiseState raises an entity's proposed state, never lowers it.
func (r *Result) RaiseState(entityID string, s entity.State) {
	r.States[entityID] = entity.MaxState(r.States[entityID], s)
}

// Analyzer is one independent analysis pass over a loaded context. Analyzers
// are pure with respect to the store: they read only the context and return
// their output.
type Analyzer interface {
	Name() string
	Analyze(ac *Context) (*Result, error)
}

// Tags attached by analyzers.
const (
	TagMFAMissing      = "mfa_missing"
	TagMFABaselineOnly = "mfa_baseline_only"
	TagAdmin           = "admin"
	TagStale           = "stale"
	TagDisabled        = "disabled"
	TagLicenseWasted   = "license_wasted"
	TagLicenseOverused = "license_overused"
	TagPolicyGap       = "policy_gap"
)
