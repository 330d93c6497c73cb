package analysis

import (
	"fmt"

	"github.com/c360/tenantsync/entity"
)

// PolicyGapAnalyzer flags enabled identities not covered by any enabled
// conditional-access policy while such policies exist. A tenant with no
// conditional-access policies at all is out of scope for this analyzer; that
// situation surfaces through the MFA analyzer instead.
type PolicyGapAnalyzer struct{}

func (PolicyGapAnalyzer) Name() string { return "policy_gap" }

func (PolicyGapAnalyzer) Analyze(ac *Context) (*Result, error) {
	res := NewResult()

	policies := enabledPolicies(ac, entity.PolicyConditionalAccess)
	if len(policies) == 0 {
		return res, nil
	}

	for _, id := range ac.EntitiesOfType(entity.TypeIdentity) {
		if !accountEnabled(id) {
			continue
		}
		covered := false
		for _, p := range policies {
			if coveredBy(ac, id, p) {
				covered = true
				break
			}
		}
		if covered {
			continue
		}

		res.AddTag(id.ID, TagPolicyGap)
		res.RaiseState(id.ID, entity.StateWarn)
		res.Findings = append(res.Findings, entity.Finding{
			EntityID: id.ID,
			Kind:     entity.KindPolicyGap,
			Alert:    entity.AlertKey{Type: entity.AlertPolicyGap},
			Severity: entity.SeverityMedium,
			Message: fmt.Sprintf("%s is not covered by any of the %d enabled conditional access policies",
				displayName(id), len(policies)),
			Policy: &entity.PolicyFinding{PolicyCount: len(policies)},
		})
	}
	return res, nil
}
