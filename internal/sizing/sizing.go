// Package sizing applies the learning loop's materialized sizing override
// to a position's entry decision. The Kelly/correlation/regime-scaled
// position sizer the teacher's internal/sizing/position_sizer.go
// implemented belongs to the external execution collaborator named in
// spec.md §6, not this engine — this package is reduced to the one thing
// the regime engine itself is responsible for: composing the multipliers of
// the sizing overrides whose scope key equals the position's scope key.
package sizing

import (
	"github.com/lowcap-labs/regime-engine/pkg/numeric"
	"github.com/lowcap-labs/regime-engine/pkg/types"
)

// EntryMultiplier finds the overrides with kind "sizing" for patternKey and
// actionCategory whose ScopeKey equals scopeKey exactly, and returns their
// multipliers composed by multiplication, clamped to the sizing range.
// Broader scopes (a subset of scopeKey, or "*") are not used as a fallback.
// Returns 1.0 (no adjustment) if no sizing override matches.
func EntryMultiplier(overrides []types.Override, patternKey, actionCategory, scopeKey string) float64 {
	mult := 1.0
	found := false
	for _, ov := range overrides {
		if ov.Kind != "sizing" || ov.PatternKey != patternKey || ov.ActionCategory != actionCategory {
			continue
		}
		if ov.ScopeKey != scopeKey {
			continue
		}
		mult *= ov.Multiplier
		found = true
	}
	if !found {
		return 1.0
	}
	return numeric.Clamp(mult, types.SizingMultiplierMin, types.SizingMultiplierMax)
}
