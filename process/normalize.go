package process

import (
	"encoding/json"

	"github.com/c360/tenantsync/entity"
	"github.com/c360/tenantsync/errors"
)

// Normalizer maps one raw provider record to canonical normalized fields.
type Normalizer func(raw json.RawMessage) (map[string]any, error)

// DefaultNormalizers returns the per-entity-type normalizer registry. Each
// normalizer copies what downstream stages read (entity.Norm* fields) from
// the common provider field spellings and keeps nothing else; the raw payload
// stays on the entity for fields no stage consumes.
func DefaultNormalizers() map[entity.Type]Normalizer {
	return map[entity.Type]Normalizer{
		entity.TypeIdentity: normalizeIdentity,
		entity.TypeGroup:    normalizeGroup,
		entity.TypeLicense:  normalizeLicense,
		entity.TypePolicy:   normalizePolicy,
		entity.TypeDevice:   normalizeGeneric,
		entity.TypeCompany:  normalizeGeneric,
	}
}

func decode(raw json.RawMessage) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.WrapInvalid(err, "process", "normalize", "decode record")
	}
	return payload, nil
}

// pick returns the first present key's value.
func pick(payload map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := payload[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func setIf(norm map[string]any, field string, payload map[string]any, keys ...string) {
	if v, ok := pick(payload, keys...); ok {
		norm[field] = v
	}
}

func normalizeIdentity(raw json.RawMessage) (map[string]any, error) {
	payload, err := decode(raw)
	if err != nil {
		return nil, err
	}
	norm := make(map[string]any)
	setIf(norm, entity.NormDisplayName, payload, "display_name", "displayName", "name")
	setIf(norm, entity.NormAccountEnabled, payload, "account_enabled", "accountEnabled", "enabled")
	setIf(norm, entity.NormIsAdmin, payload, "is_admin", "isAdmin")
	setIf(norm, entity.NormMFAEnrolled, payload, "mfa_enrolled", "mfaEnrolled", "isMfaRegistered")
	setIf(norm, entity.NormLastSignIn, payload, "last_sign_in", "lastSignInDateTime")
	setIf(norm, entity.NormLastNonInteractive, payload,
		"last_non_interactive_sign_in", "lastNonInteractiveSignInDateTime")
	setIf(norm, entity.NormAssignedSKUs, payload, "assigned_skus", "assignedLicenses")
	setIf(norm, entity.NormCompanyID, payload, "company_id", "companyId")
	return norm, nil
}

func normalizeGroup(raw json.RawMessage) (map[string]any, error) {
	payload, err := decode(raw)
	if err != nil {
		return nil, err
	}
	norm := make(map[string]any)
	setIf(norm, entity.NormDisplayName, payload, "display_name", "displayName", "name")
	setIf(norm, entity.NormMemberIDs, payload, "member_ids", "members", "memberIds")
	return norm, nil
}

func normalizeLicense(raw json.RawMessage) (map[string]any, error) {
	payload, err := decode(raw)
	if err != nil {
		return nil, err
	}
	norm := make(map[string]any)
	setIf(norm, entity.NormSKUID, payload, "sku_id", "skuId")
	setIf(norm, entity.NormSKUName, payload, "sku_name", "skuPartNumber", "name")
	setIf(norm, entity.NormConsumed, payload, "consumed", "consumedUnits")
	if v, ok := pick(payload, "entitled", "prepaidUnits"); ok {
		// Graph nests entitled units under prepaidUnits.enabled.
		if nested, isMap := v.(map[string]any); isMap {
			if enabled, ok := nested["enabled"]; ok {
				norm[entity.NormEntitled] = enabled
			}
		} else {
			norm[entity.NormEntitled] = v
		}
	}
	return norm, nil
}

func normalizePolicy(raw json.RawMessage) (map[string]any, error) {
	payload, err := decode(raw)
	if err != nil {
		return nil, err
	}
	norm := make(map[string]any)
	setIf(norm, entity.NormDisplayName, payload, "display_name", "displayName", "name")
	setIf(norm, entity.NormPolicyType, payload, "policy_type", "policyType")
	setIf(norm, entity.NormEnabled, payload, "enabled", "isEnabled")
	if v, ok := pick(payload, "state"); ok {
		if s, isString := v.(string); isString {
			norm[entity.NormEnabled] = s == "enabled" || s == "enabledForReportingButNotEnforced"
		}
	}
	setIf(norm, entity.NormCoversAll, payload, "covers_all", "coversAllUsers")
	setIf(norm, entity.NormCoveredIDs, payload, "covered_ids", "includeUsers", "coveredUserIds")
	setIf(norm, entity.NormRequiresMFA, payload, "requires_mfa", "requiresMfa")
	return norm, nil
}

// normalizeGeneric keeps already-canonical fields and the display name; used
// for types no analyzer inspects deeply.
func normalizeGeneric(raw json.RawMessage) (map[string]any, error) {
	payload, err := decode(raw)
	if err != nil {
		return nil, err
	}
	norm := make(map[string]any)
	setIf(norm, entity.NormDisplayName, payload, "display_name", "displayName", "name")
	setIf(norm, entity.NormCompanyID, payload, "company_id", "companyId")
	return norm, nil
}
