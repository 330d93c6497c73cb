package entity

// FindingKind discriminates the tagged union of analyzer findings.
type FindingKind string

// Finding kinds produced by the analyzer set.
const (
	KindMFA            FindingKind = "mfa"
	KindStale          FindingKind = "stale_account"
	KindLicenseWaste   FindingKind = "license_waste"
	KindLicenseOveruse FindingKind = "license_overuse"
	KindPolicyGap      FindingKind = "policy_gap"
)

// AlertType names the persisted alert class a finding implies.
type AlertType string

// Alert types derived from findings.
const (
	AlertMFANotEnforced AlertType = "mfa_not_enforced"
	AlertMFAPartial     AlertType = "mfa_partial_coverage"
	AlertStaleAccount   AlertType = "stale_account"
	AlertLicenseWaste   AlertType = "license_waste"
	AlertLicenseOveruse AlertType = "license_overuse"
	AlertPolicyGap      AlertType = "policy_coverage_gap"
)

// AlertKey is the structured deduplication identity of an alert: one alert
// type may have many instances per entity, discriminated by SubID (e.g. one
// license-waste alert per wasted SKU).
type AlertKey struct {
	Type  AlertType `json:"alert_type"`
	SubID string    `json:"sub_id,omitempty"`
}

// MFAFinding carries MFA-coverage detail.
type MFAFinding struct {
	Coverage     string `json:"coverage"` // "none", "partial", "full"
	BaselineOnly bool   `json:"baseline_only"`
	IsAdmin      bool   `json:"is_admin"`
}

// StaleFinding carries inactivity detail.
type StaleFinding struct {
	DaysInactive int    `json:"days_inactive"`
	LastSignIn   string `json:"last_sign_in,omitempty"`
}

// LicenseFinding carries license waste/overuse detail.
type LicenseFinding struct {
	SKUID    string `json:"sku_id"`
	SKUName  string `json:"sku_name,omitempty"`
	Consumed int    `json:"consumed,omitempty"`
	Entitled int    `json:"entitled,omitempty"`
}

// PolicyFinding carries policy-coverage detail.
type PolicyFinding struct {
	PolicyCount int `json:"policy_count"`
}

// Finding is the ephemeral output of one analyzer for one entity. Findings
// are never persisted directly; they pass through aggregation before becoming
// alerts.
type Finding struct {
	EntityID string      `json:"entity_id"`
	Kind     FindingKind `json:"kind"`
	Alert    AlertKey    `json:"alert"`
	Severity Severity    `json:"severity"`
	Message  string      `json:"message"`

	// Exactly one payload is set, matching Kind.
	MFA     *MFAFinding     `json:"mfa,omitempty"`
	Stale   *StaleFinding   `json:"stale,omitempty"`
	License *LicenseFinding `json:"license,omitempty"`
	Policy  *PolicyFinding  `json:"policy,omitempty"`
}

// Metadata renders the kind-specific payload as alert metadata.
func (f Finding) Metadata() map[string]any {
	meta := map[string]any{"kind": string(f.Kind)}
	switch f.Kind {
	case KindMFA:
		if f.MFA != nil {
			meta["coverage"] = f.MFA.Coverage
			meta["baseline_only"] = f.MFA.BaselineOnly
			meta["is_admin"] = f.MFA.IsAdmin
		}
	case KindStale:
		if f.Stale != nil {
			meta["days_inactive"] = f.Stale.DaysInactive
			if f.Stale.LastSignIn != "" {
				meta["last_sign_in"] = f.Stale.LastSignIn
			}
		}
	case KindLicenseWaste, KindLicenseOveruse:
		if f.License != nil {
			meta["sku_id"] = f.License.SKUID
			if f.License.SKUName != "" {
				meta["sku_name"] = f.License.SKUName
			}
			if f.License.Entitled > 0 {
				meta["consumed"] = f.License.Consumed
				meta["entitled"] = f.License.Entitled
			}
		}
	case KindPolicyGap:
		if f.Policy != nil {
			meta["policy_count"] = f.Policy.PolicyCount
		}
	}
	if f.Alert.SubID != "" {
		meta["sub_id"] = f.Alert.SubID
	}
	return meta
}
