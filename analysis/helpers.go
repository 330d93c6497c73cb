package analysis

import (
	"time"

	"github.com/c360/tenantsync/entity"
)

// enabledPolicies returns the enabled policies of one policy type.
func enabledPolicies(ac *Context, policyType string) []*entity.Entity {
	var out []*entity.Entity
	for _, p := range ac.EntitiesOfType(entity.TypePolicy) {
		if p.Normalized(entity.NormPolicyType) != policyType {
			continue
		}
		if !p.NormalizedBool(entity.NormEnabled) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// coveredBy reports whether an identity falls under a policy, either because
// the policy covers all users or via an explicit coverage edge.
func coveredBy(ac *Context, identity, policy *entity.Entity) bool {
	if policy.NormalizedBool(entity.NormCoversAll) {
		return true
	}
	for _, r := range ac.Relationships(identity.ID, entity.RelCoveredBy) {
		if r.ChildID == policy.ID {
			return true
		}
	}
	return false
}

// accountEnabled treats a missing flag as enabled; providers may omit it for
// active accounts.
func accountEnabled(e *entity.Entity) bool {
	if e.NormalizedData == nil {
		return true
	}
	if _, present := e.NormalizedData[entity.NormAccountEnabled]; !present {
		return true
	}
	return e.NormalizedBool(entity.NormAccountEnabled)
}

// lastActivity returns the latest known sign-in timestamp, interactive or
// non-interactive. The second value is false when neither is known.
func lastActivity(e *entity.Entity) (time.Time, bool) {
	interactive, okA := e.NormalizedTime(entity.NormLastSignIn)
	nonInteractive, okB := e.NormalizedTime(entity.NormLastNonInteractive)
	switch {
	case okA && okB:
		if nonInteractive.After(interactive) {
			return nonInteractive, true
		}
		return interactive, true
	case okA:
		return interactive, true
	case okB:
		return nonInteractive, true
	default:
		return time.Time{}, false
	}
}

// daysInactive computes whole days since the last known activity.
func daysInactive(now, last time.Time) int {
	return int(now.Sub(last).Hours() / 24)
}

// isStaleIdentity reports whether an enabled identity has been inactive for
// at least thresholdDays. Identities with no recorded activity are not judged
// stale; providers differ on whether the field is populated at all.
func isStaleIdentity(ac *Context, e *entity.Entity, thresholdDays int) bool {
	last, ok := lastActivity(e)
	if !ok {
		return false
	}
	return daysInactive(ac.Now, last) >= thresholdDays
}
