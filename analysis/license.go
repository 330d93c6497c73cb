package analysis

import (
	"fmt"

	"github.com/c360/tenantsync/entity"
)

// LicenseAnalyzer flags two license conditions: waste (licenses held by
// disabled or stale identities, one finding per SKU so each is independently
// resolvable) and overuse (more units consumed than entitled).
type LicenseAnalyzer struct {
	StaleThresholdDays int
}

func (LicenseAnalyzer) Name() string { return "license" }

func (a LicenseAnalyzer) Analyze(ac *Context) (*Result, error) {
	res := NewResult()
	threshold := a.StaleThresholdDays
	if threshold <= 0 {
		threshold = 91
	}

	// Overuse is a property of the license entity itself.
	for _, lic := range ac.EntitiesOfType(entity.TypeLicense) {
		consumed := lic.NormalizedInt(entity.NormConsumed)
		entitled := lic.NormalizedInt(entity.NormEntitled)
		if entitled <= 0 || consumed <= entitled {
			continue
		}
		skuID, skuName := skuOf(lic)
		res.AddTag(lic.ID, TagLicenseOverused)
		res.RaiseState(lic.ID, entity.StateWarn)
		res.Findings = append(res.Findings, entity.Finding{
			EntityID: lic.ID,
			Kind:     entity.KindLicenseOveruse,
			Alert:    entity.AlertKey{Type: entity.AlertLicenseOveruse},
			Severity: entity.SeverityHigh,
			Message:  fmt.Sprintf("%s consumes %d of %d entitled units", displayName(lic), consumed, entitled),
			License: &entity.LicenseFinding{
				SKUID:    skuID,
				SKUName:  skuName,
				Consumed: consumed,
				Entitled: entitled,
			},
		})
	}

	// Waste attaches to the identity holding the license, sub-keyed per SKU.
	for _, id := range ac.EntitiesOfType(entity.TypeIdentity) {
		disabled := !accountEnabled(id)
		stale := !disabled && isStaleIdentity(ac, id, threshold)
		if !disabled && !stale {
			continue
		}
		reason := "disabled"
		if stale {
			reason = "stale"
		}

		for _, lic := range ac.ChildEntities(id.ID, entity.RelHoldsLicense) {
			skuID, skuName := skuOf(lic)
			res.AddTag(id.ID, TagLicenseWasted)
			res.RaiseState(id.ID, entity.StateLow)
			res.Findings = append(res.Findings, entity.Finding{
				EntityID: id.ID,
				Kind:     entity.KindLicenseWaste,
				Alert:    entity.AlertKey{Type: entity.AlertLicenseWaste, SubID: skuID},
				Severity: entity.SeverityLow,
				Message:  fmt.Sprintf("%s holds %s but the account is %s", displayName(id), skuLabel(skuID, skuName), reason),
				License: &entity.LicenseFinding{
					SKUID:   skuID,
					SKUName: skuName,
				},
			})
		}
	}
	return res, nil
}

func skuOf(lic *entity.Entity) (id, name string) {
	id = lic.Normalized(entity.NormSKUID)
	if id == "" {
		id = lic.Key.ExternalID
	}
	return id, lic.Normalized(entity.NormSKUName)
}

func skuLabel(id, name string) string {
	if name != "" {
		return name
	}
	return id
}

func displayName(e *entity.Entity) string {
	if name := e.Normalized(entity.NormDisplayName); name != "" {
		return name
	}
	return e.Key.ExternalID
}
