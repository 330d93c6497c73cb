package entity

import (
	"time"

	"github.com/c360/tenantsync/pkg/timestamp"
)

// Canonical normalized-data field names. Normalizers write these; the linker
// and analyzers read them. Raw provider fields never cross a stage boundary
// under their provider names.
const (
	NormDisplayName = "display_name"

	// Identities
	NormAccountEnabled     = "account_enabled"
	NormIsAdmin            = "is_admin"
	NormMFAEnrolled        = "mfa_enrolled"
	NormLastSignIn         = "last_sign_in"
	NormLastNonInteractive = "last_non_interactive_sign_in"
	NormAssignedSKUs       = "assigned_skus"
	NormCompanyID          = "company_id"

	// Groups
	NormMemberIDs = "member_ids"

	// Licenses
	NormSKUID    = "sku_id"
	NormSKUName  = "sku_name"
	NormConsumed = "consumed"
	NormEntitled = "entitled"

	// Policies
	NormPolicyType  = "policy_type"
	NormEnabled     = "enabled"
	NormCoversAll   = "covers_all"
	NormCoveredIDs  = "covered_ids"
	NormRequiresMFA = "requires_mfa"
)

// Policy type values for NormPolicyType.
const (
	PolicyConditionalAccess = "conditional_access"
	PolicySecurityDefaults  = "security_defaults"
)

// NormalizedInt returns a normalized-data field as an int. JSON numbers
// decode as float64, so both are accepted.
func (e *Entity) NormalizedInt(field string) int {
	if e.NormalizedData == nil {
		return 0
	}
	switch v := e.NormalizedData[field].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// NormalizedStrings returns a normalized-data field as a string slice,
// tolerating the []any shape JSON decoding produces.
func (e *Entity) NormalizedStrings(field string) []string {
	if e.NormalizedData == nil {
		return nil
	}
	switch v := e.NormalizedData[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// NormalizedTime parses a normalized-data field as a timestamp. Providers
// disagree on formats, so RFC 3339 strings and epoch seconds or milliseconds
// are all accepted. The second return value is false when the field is absent
// or unparseable.
func (e *Entity) NormalizedTime(field string) (time.Time, bool) {
	if e.NormalizedData == nil {
		return time.Time{}, false
	}
	ms := timestamp.Parse(e.NormalizedData[field])
	if timestamp.IsZero(ms) {
		return time.Time{}, false
	}
	return timestamp.FromUnixMs(ms), true
}
