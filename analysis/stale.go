package analysis

import (
	"fmt"
	"time"

	"github.com/c360/tenantsync/entity"
)

// StaleAccountAnalyzer flags identities with no interactive or
// non-interactive sign-in for at least ThresholdDays. Disabled accounts are
// tagged but never alerted on: a disabled stale account is the expected end
// state of offboarding.
type StaleAccountAnalyzer struct {
	ThresholdDays int
}

func (StaleAccountAnalyzer) Name() string { return "stale_account" }

func (a StaleAccountAnalyzer) Analyze(ac *Context) (*Result, error) {
	res := NewResult()
	threshold := a.ThresholdDays
	if threshold <= 0 {
		threshold = 91
	}

	for _, id := range ac.EntitiesOfType(entity.TypeIdentity) {
		if !accountEnabled(id) {
			res.AddTag(id.ID, TagDisabled)
			continue
		}
		last, ok := lastActivity(id)
		if !ok {
			continue
		}
		days := daysInactive(ac.Now, last)
		if days < threshold {
			continue
		}

		name := id.Normalized(entity.NormDisplayName)
		if name == "" {
			name = id.Key.ExternalID
		}

		res.AddTag(id.ID, TagStale)
		res.RaiseState(id.ID, entity.StateWarn)
		res.Findings = append(res.Findings, entity.Finding{
			EntityID: id.ID,
			Kind:     entity.KindStale,
			Alert:    entity.AlertKey{Type: entity.AlertStaleAccount},
			Severity: entity.SeverityMedium,
			Message:  fmt.Sprintf("%s has been inactive for %d days", name, days),
			Stale: &entity.StaleFinding{
				DaysInactive: days,
				LastSignIn:   last.Format(time.RFC3339),
			},
		})
	}
	return res, nil
}
