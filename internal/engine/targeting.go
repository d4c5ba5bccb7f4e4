package engine

import (
	"strings"

	"github.com/presslane/adserve/internal/models"
)

// MatchesTargeting reports whether a request context satisfies a
// campaign's targeting rules. Every dimension must pass; an empty rule set
// on a dimension matches everything. The function is pure and never
// rejects with an error: malformed rules simply fail to match.
func MatchesTargeting(t models.Targeting, rc models.RequestContext) bool {
	ok, _ := matchTargeting(t, rc)
	return ok
}

// matchTargeting additionally names the first failed dimension so the
// serve path can report it.
func matchTargeting(t models.Targeting, rc models.RequestContext) (bool, string) {
	if !matchSet(t.Pages, rc.PageType, false) {
		return false, "page"
	}
	if !matchSet(t.Devices, rc.Device, true) {
		return false, "device"
	}
	if !matchVisitor(t.Visitors, rc.VisitorType) {
		return false, "visitor"
	}
	if !matchSet(t.Countries, rc.Country, true) {
		return false, "country"
	}
	// Categories intersect only when both sides provide one.
	if len(t.Categories) > 0 && rc.CategoryID != "" && !contains(t.Categories, rc.CategoryID, false) {
		return false, "category"
	}
	return true, ""
}

func matchSet(rule []string, value string, fold bool) bool {
	if len(rule) == 0 {
		return true
	}
	return contains(rule, value, fold)
}

func contains(set []string, value string, fold bool) bool {
	for _, s := range set {
		if s == value || (fold && strings.EqualFold(s, value)) {
			return true
		}
	}
	return false
}

// matchVisitor applies the visitor-type rule. An unset rule or "all"
// matches everyone; "new" and "returning" require the context to carry the
// same classification, so an unknown visitor only matches "all".
func matchVisitor(rule models.VisitorType, visitor models.VisitorType) bool {
	switch rule {
	case "", models.VisitorAll:
		return true
	case models.VisitorNew, models.VisitorReturning:
		return visitor == rule
	default:
		// Unrecognized rule value: fail closed.
		return false
	}
}
