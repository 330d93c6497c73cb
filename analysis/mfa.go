package analysis

import (
	"fmt"

	"github.com/c360/tenantsync/entity"
)

// MFAAnalyzer evaluates MFA enforcement coverage for every enabled identity.
// Coverage comes from enabled conditional-access policies that require MFA;
// security defaults count only as baseline coverage. Admins without enforced
// MFA are critical, regular users high.
type MFAAnalyzer struct{}

func (MFAAnalyzer) Name() string { return "mfa" }

func (MFAAnalyzer) Analyze(ac *Context) (*Result, error) {
	res := NewResult()

	var mfaPolicies []*entity.Entity
	for _, p := range enabledPolicies(ac, entity.PolicyConditionalAccess) {
		if p.NormalizedBool(entity.NormRequiresMFA) {
			mfaPolicies = append(mfaPolicies, p)
		}
	}
	baseline := len(enabledPolicies(ac, entity.PolicySecurityDefaults)) > 0

	for _, id := range ac.EntitiesOfType(entity.TypeIdentity) {
		if !accountEnabled(id) {
			continue
		}
		isAdmin := id.NormalizedBool(entity.NormIsAdmin)
		if isAdmin {
			res.AddTag(id.ID, TagAdmin)
		}

		enforced := false
		for _, p := range mfaPolicies {
			if coveredBy(ac, id, p) {
				enforced = true
				break
			}
		}
		if enforced {
			continue
		}

		name := id.Normalized(entity.NormDisplayName)
		if name == "" {
			name = id.Key.ExternalID
		}

		if baseline {
			severity := entity.SeverityMedium
			if isAdmin {
				severity = entity.SeverityHigh
			}
			res.AddTag(id.ID, TagMFABaselineOnly)
			res.RaiseState(id.ID, entity.StateWarn)
			res.Findings = append(res.Findings, entity.Finding{
				EntityID: id.ID,
				Kind:     entity.KindMFA,
				Alert:    entity.AlertKey{Type: entity.AlertMFAPartial},
				Severity: severity,
				Message:  fmt.Sprintf("%s is covered only by security defaults, not by a conditional access MFA policy", name),
				MFA:      &entity.MFAFinding{Coverage: "partial", BaselineOnly: true, IsAdmin: isAdmin},
			})
			continue
		}

		severity := entity.SeverityHigh
		state := entity.StateWarn
		if isAdmin {
			severity = entity.SeverityCritical
			state = entity.StateCritical
		}
		res.AddTag(id.ID, TagMFAMissing)
		res.RaiseState(id.ID, state)
		res.Findings = append(res.Findings, entity.Finding{
			EntityID: id.ID,
			Kind:     entity.KindMFA,
			Alert:    entity.AlertKey{Type: entity.AlertMFANotEnforced},
			Severity: severity,
			Message:  fmt.Sprintf("%s has no enforced MFA", name),
			MFA:      &entity.MFAFinding{Coverage: "none", IsAdmin: isAdmin},
		})
	}
	return res, nil
}
