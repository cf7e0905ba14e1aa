package learning

import (
	"math"
	"time"

	"github.com/lowcap-labs/regime-engine/pkg/numeric"
	"github.com/lowcap-labs/regime-engine/pkg/types"
)

// MinEdgeForSizing is the |edge_raw| floor a pm_strength lesson needs
// before the materializer will write a sizing override.
const MinEdgeForSizing = 0.05

// tuningRatesEta / tuningLadderEta are the exponential-pressure gains for
// the two tuning-dial materialization paths.
const (
	tuningRatesEta  = 0.005
	tuningLadderEta = 0.02

	minSkipDelta = 0.01 // skip writes where |multiplier-1| < this
)

// MaterializePMStrength turns a pm_strength lesson into a sizing override,
// when its edge clears the MinEdgeForSizing floor. Returns false when no
// override should be written.
func MaterializePMStrength(l types.Lesson, now time.Time) (types.Override, bool) {
	if l.LessonType != types.LessonPMStrength {
		return types.Override{}, false
	}
	if math.Abs(l.EdgeRaw) < MinEdgeForSizing {
		return types.Override{}, false
	}
	mult := numeric.Clamp(1+l.EdgeRaw, types.SizingMultiplierMin, types.SizingMultiplierMax)
	return types.Override{
		PatternKey:     l.PatternKey,
		ActionCategory: l.ActionCategory,
		ScopeKey:       l.ScopeKey,
		Kind:           "sizing",
		DialName:       "entry_multiplier",
		Multiplier:     mult,
		Confidence:     l.Reliability,
		DecayState:     l.DecayState,
		UpdatedAt:      now,
	}, true
}

// TuningRatesPressure is the per-(pattern,scope) miss/false-positive
// tally the tuning_rates materializer path consumes. Computed upstream
// by whatever classifies trade events into misses vs false positives —
// out of scope for the miner itself, which only aggregates RR.
type TuningRatesPressure struct {
	PatternKey     string
	ActionCategory string
	ScopeKey       string
	NMisses        int
	NFalsePositive int
	// S3Retest additionally emits a dx_min override alongside *_ts_min
	// and *_halo, per spec.
	S3Retest bool
}

// MaterializeTuningRates computes the *_ts_min / *_halo (and, for S3
// retest patterns, dx_min) overrides from a miss/false-positive pressure
// tally. Returns nil when pressure is zero or both multipliers round to
// within minSkipDelta of 1.0.
func MaterializeTuningRates(p TuningRatesPressure, now time.Time) []types.Override {
	pressure := float64(p.NMisses - p.NFalsePositive)
	if pressure == 0 {
		return nil
	}

	multThreshold := numeric.Clamp(math.Exp(-tuningRatesEta*pressure), types.TuningMultiplierMin, types.TuningMultiplierMax)
	multHalo := numeric.Clamp(math.Exp(tuningRatesEta*pressure), types.TuningMultiplierMin, types.TuningMultiplierMax)

	var out []types.Override
	if math.Abs(multThreshold-1) >= minSkipDelta {
		out = append(out, types.Override{
			PatternKey: p.PatternKey, ActionCategory: p.ActionCategory, ScopeKey: p.ScopeKey,
			Kind: "tuning", DialName: "ts_min", Multiplier: multThreshold, UpdatedAt: now,
		})
	}
	if math.Abs(multHalo-1) >= minSkipDelta {
		out = append(out, types.Override{
			PatternKey: p.PatternKey, ActionCategory: p.ActionCategory, ScopeKey: p.ScopeKey,
			Kind: "tuning", DialName: "halo", Multiplier: multHalo, UpdatedAt: now,
		})
		if p.S3Retest {
			out = append(out, types.Override{
				PatternKey: p.PatternKey, ActionCategory: p.ActionCategory, ScopeKey: p.ScopeKey,
				Kind: "tuning", DialName: "dx_min", Multiplier: multHalo, UpdatedAt: now,
			})
		}
	}
	return out
}

// TuningDXLadderPressure is the successful-recovery tally the
// tuning_dx_ladder materializer path consumes.
type TuningDXLadderPressure struct {
	PatternKey           string
	ActionCategory       string
	ScopeKey             string
	SuccessfulRecoveries int
	Pressure             float64
}

// MaterializeTuningDXLadder emits the dx_ladder override once at least 10
// successful fakeout recoveries have been observed for the scope.
func MaterializeTuningDXLadder(p TuningDXLadderPressure, now time.Time) (types.Override, bool) {
	if p.SuccessfulRecoveries < 10 {
		return types.Override{}, false
	}
	mult := numeric.Clamp(math.Exp(tuningLadderEta*p.Pressure*10), 0.7, 1.5)
	return types.Override{
		PatternKey: p.PatternKey, ActionCategory: p.ActionCategory, ScopeKey: p.ScopeKey,
		Kind: "tuning", DialName: "dx_ladder", Multiplier: mult, UpdatedAt: now,
	}, true
}
