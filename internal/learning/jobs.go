package learning

import (
	"math"
	"time"

	"github.com/lowcap-labs/regime-engine/pkg/types"
)

// EstimateHalfLife refits a lesson's decay_meta.half_life_hours from its
// already-computed decay slope, using the standard half-life-from-rate
// relation. Grounded in half_life_estimator.py's stated purpose ("fit
// exponential decay curves... estimate half-life from edge history"); the
// retained source imports an estimate_half_life helper whose body wasn't
// kept, so this derives the formula directly from ln(2)/|slope| applied to
// the miner's linear decay-rate estimate. Only meaningful for a decaying
// lesson — returns 0 otherwise.
func EstimateHalfLife(l types.Lesson) float64 {
	if l.DecayState != "decaying" || math.Abs(l.DecaySlope) < 1e-9 {
		return 0
	}
	return math.Ln2 / math.Abs(l.DecaySlope)
}

// RefitHalfLives runs EstimateHalfLife over every active, decaying lesson
// and returns the updated copies (unchanged lessons are omitted), the
// weekly scheduler task's unit of work.
func RefitHalfLives(lessons []types.Lesson, now time.Time) []types.Lesson {
	var out []types.Lesson
	for _, l := range lessons {
		if l.Status != "active" || l.DecayState != "decaying" {
			continue
		}
		hl := EstimateHalfLife(l)
		if hl == l.HalfLifeHours {
			continue
		}
		l.HalfLifeHours = hl
		l.UpdatedAt = now
		out = append(out, l)
	}
	return out
}

// jaccard computes |A ∩ B| / |A ∪ B| over two trade-ID sets, the overlap
// metric latent_factor_clusterer.py uses to detect patterns that
// double-count the same trades.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for id := range a {
		if _, ok := b[id]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// ClusterOverlap is one pair of scope keys whose contributing trade sets
// overlap at or above the clustering threshold.
type ClusterOverlap struct {
	ScopeKeyA, ScopeKeyB string
	Overlap              float64
}

// overlapThreshold is the Jaccard similarity above which two lesson scopes
// are considered latent-factor duplicates of each other.
const overlapThreshold = 0.6

// ClusterLatentFactors groups lesson scope keys by their contributing
// trade-ID sets (tradeIDsByScope, built by the caller from the event
// table) and returns every pair whose overlap clears overlapThreshold —
// annotation data only: nothing in this module calls it, and
// materialization does not use its result.
func ClusterLatentFactors(tradeIDsByScope map[string][]string) []ClusterOverlap {
	sets := make(map[string]map[string]struct{}, len(tradeIDsByScope))
	keys := make([]string, 0, len(tradeIDsByScope))
	for k, ids := range tradeIDsByScope {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		sets[k] = set
		keys = append(keys, k)
	}

	var out []ClusterOverlap
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			o := jaccard(sets[keys[i]], sets[keys[j]])
			if o >= overlapThreshold {
				out = append(out, ClusterOverlap{ScopeKeyA: keys[i], ScopeKeyB: keys[j], Overlap: o})
			}
		}
	}
	return out
}

// RegimeDriverWeights are the A/E timeframe weights the regime-weight
// learner is allowed to nudge, mirroring regimeae's macro/meso/micro
// triple within a clamped range.
type RegimeDriverWeights struct {
	Macro, Meso, Micro float64
}

// regimeWeightStep / regimeWeightClamp bound how far one learner pass may
// move a weight, grounded in regime_weight_learner.py's stated purpose of
// nudging driver weights "within a clamped range based on realized RR
// conditioned on regime state."
const (
	regimeWeightStep       = 0.02
	regimeWeightClampDelta = 0.2
)

// NudgeRegimeWeights moves the macro/meso/micro weights toward whichever
// timeframe's realized RR (keyed identically) was strongest, by a fixed
// step, clamped to stay within regimeWeightClampDelta of the baseline.
func NudgeRegimeWeights(base RegimeDriverWeights, realizedRR RegimeDriverWeights) RegimeDriverWeights {
	nudge := func(baseW, rr, bestRR float64) float64 {
		if rr < bestRR {
			return baseW
		}
		lo, hi := baseW-regimeWeightClampDelta, baseW+regimeWeightClampDelta
		w := baseW + regimeWeightStep
		if w > hi {
			w = hi
		}
		if w < lo {
			w = lo
		}
		return w
	}
	best := math.Max(realizedRR.Macro, math.Max(realizedRR.Meso, realizedRR.Micro))
	return RegimeDriverWeights{
		Macro: nudge(base.Macro, realizedRR.Macro, best),
		Meso:  nudge(base.Meso, realizedRR.Meso, best),
		Micro: nudge(base.Micro, realizedRR.Micro, best),
	}
}
