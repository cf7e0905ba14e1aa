package learning

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lowcap-labs/regime-engine/pkg/numeric"
	"github.com/lowcap-labs/regime-engine/pkg/types"
)

// VarPrior is the shrinkage prior applied to a slice's sample variance so
// thin slices don't report spuriously tight reliability.
const VarPrior = 0.25

// ScopeDims lists the scope dimensions the miner scans over, in a fixed
// scan order so the Apriori recursion is deterministic across runs.
// Grounded in lesson_builder_v5.py's SCOPE_DIMS.
var ScopeDims = []string{
	"curator", "chain", "mcap_bucket", "vol_bucket", "age_bucket", "intent",
	"mcap_vol_ratio_bucket", "market_family", "timeframe",
	"A_mode", "E_mode", "macro_phase", "meso_phase", "micro_phase",
	"bucket_leader", "bucket_rank_position",
}

// scopeKey canonically encodes a scope subset as a sorted "dim=val" string,
// the Lesson.ScopeKey the storage layer keys on.
func scopeKey(subset map[string]string) string {
	if len(subset) == 0 {
		return "*"
	}
	dims := make([]string, 0, len(subset))
	for d := range subset {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	parts := make([]string, 0, len(dims))
	for _, d := range dims {
		parts = append(parts, fmt.Sprintf("%s=%s", d, subset[d]))
	}
	return strings.Join(parts, "&")
}

type decayMeta struct {
	state      string
	slope      float64
	multiplier float64
}

// fitDecayCurve least-squares fits rr against hours-from-first-event and
// classifies the trend, per spec's decaying/stable/improving thresholds.
func fitDecayCurve(events []types.TradeEvent) decayMeta {
	if len(events) < 5 {
		return decayMeta{state: "stable", multiplier: 1.0}
	}
	sorted := make([]types.TradeEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ClosedAt.Before(sorted[j].ClosedAt) })

	t0 := sorted[0].ClosedAt
	var sumT, sumV, sumTT, sumTV float64
	n := float64(len(sorted))
	for _, e := range sorted {
		t := e.ClosedAt.Sub(t0).Hours()
		v := e.RR
		sumT += t
		sumV += v
		sumTT += t * t
		sumTV += t * v
	}
	denom := n*sumTT - sumT*sumT
	slope := numeric.SafeDiv(n*sumTV-sumT*sumV, denom, 0)

	state := "stable"
	mult := 1.0
	switch {
	case slope < -0.001:
		state = "decaying"
		severity := math.Min(math.Abs(slope)*100, 0.5)
		mult = math.Max(0.5, 1.0-severity)
	case slope > 0.001:
		state = "improving"
		severity := math.Min(math.Abs(slope)*100, 0.5)
		mult = math.Min(1.5, 1.0+severity)
	}
	return decayMeta{state: state, slope: slope, multiplier: mult}
}

// computeStats computes a slice's 6-D edge stats against a dynamic global
// baseline, per spec.md's lesson-miner formulas.
func computeStats(events []types.TradeEvent, baseline float64) (n int, meanRR, variance, deltaRR, reliability, support, edgeRaw float64, decay decayMeta) {
	n = len(events)
	rrs := make([]float64, n)
	var sum float64
	for i, e := range events {
		rrs[i] = e.RR
		sum += e.RR
	}
	meanRR = sum / float64(n)

	if n > 1 {
		var ss float64
		for _, rr := range rrs {
			d := rr - meanRR
			ss += d * d
		}
		variance = ss / float64(n-1)
	}
	variance = math.Max(variance, VarPrior/float64(n))

	deltaRR = meanRR - baseline
	reliability = 1.0 / (1.0 + variance)
	support = 1.0 - math.Exp(-float64(n)/50.0)
	magnitude := numeric.Sigmoid(meanRR, 0, 1.0)
	timeScore := 1.0
	stabilityScore := reliability

	decay = fitDecayCurve(events)
	edgeRaw = deltaRR * reliability * (support + magnitude + timeScore + stabilityScore) * decay.multiplier
	return
}

// groupKey identifies a (pattern_key, action_category) hard boundary —
// the miner never mixes e.g. S1 entries with S3 exits.
type groupKey struct {
	patternKey     string
	actionCategory string
}

// Mine scans events for (pattern_key, action_category) groups with at
// least MinDistinctTrades distinct trades, then recursively mines every
// Apriori-valid scope subset within each group, emitting one pm_strength
// Lesson per visited node (including the empty-scope root).
func Mine(events []types.TradeEvent, now time.Time) []types.Lesson {
	if len(events) == 0 {
		return nil
	}

	var baselineSum float64
	for _, e := range events {
		baselineSum += e.RR
	}
	baseline := baselineSum / float64(len(events))

	groups := make(map[groupKey][]types.TradeEvent)
	for _, e := range events {
		k := groupKey{e.PatternKey, e.ActionCategory}
		groups[k] = append(groups[k], e)
	}

	var lessons []types.Lesson
	for k, group := range groups {
		if len(group) < types.MinDistinctTrades {
			continue
		}
		m := &miner{baseline: baseline, now: now, patternKey: k.patternKey, actionCategory: k.actionCategory}
		m.recurse(group, map[string]string{}, 0, &lessons)
	}

	sort.Slice(lessons, func(i, j int) bool {
		if lessons[i].PatternKey != lessons[j].PatternKey {
			return lessons[i].PatternKey < lessons[j].PatternKey
		}
		if lessons[i].ActionCategory != lessons[j].ActionCategory {
			return lessons[i].ActionCategory < lessons[j].ActionCategory
		}
		return lessons[i].ScopeKey < lessons[j].ScopeKey
	})
	return lessons
}

type miner struct {
	baseline       float64
	now            time.Time
	patternKey     string
	actionCategory string
}

func (m *miner) recurse(slice []types.TradeEvent, mask map[string]string, startIdx int, out *[]types.Lesson) {
	if len(slice) < types.MinDistinctTrades {
		return
	}

	n, meanRR, variance, deltaRR, reliability, support, edgeRaw, decay := computeStats(slice, m.baseline)
	subset := make(map[string]string, len(mask))
	for k, v := range mask {
		subset[k] = v
	}
	*out = append(*out, types.Lesson{
		PatternKey:     m.patternKey,
		ActionCategory: m.actionCategory,
		ScopeKey:       scopeKey(subset),
		ScopeSubset:    subset,
		LessonType:     types.LessonPMStrength,
		TradeCount:     n,
		MeanRR:         meanRR,
		Baseline:       m.baseline,
		DeltaRR:        deltaRR,
		Variance:       variance,
		ShrunkMeanRR:   m.baseline + deltaRR*reliability,
		Reliability:    reliability,
		Support:        support,
		EdgeRaw:        edgeRaw,
		DecayState:     decay.state,
		DecaySlope:     decay.slope,
		DecayMult:      decay.multiplier,
		Status:         "active",
		UpdatedAt:      m.now,
	})

	for i := startIdx; i < len(ScopeDims); i++ {
		dim := ScopeDims[i]
		counts := make(map[string]int)
		for _, e := range slice {
			if v, ok := e.Scope[dim]; ok && v != "" {
				counts[v]++
			}
		}
		values := make([]string, 0, len(counts))
		for v, c := range counts {
			if c >= types.MinDistinctTrades {
				values = append(values, v)
			}
		}
		sort.Strings(values)
		for _, val := range values {
			var newSlice []types.TradeEvent
			for _, e := range slice {
				if e.Scope[dim] == val {
					newSlice = append(newSlice, e)
				}
			}
			newMask := make(map[string]string, len(mask)+1)
			for k, v := range mask {
				newMask[k] = v
			}
			newMask[dim] = val
			m.recurse(newSlice, newMask, i+1, out)
		}
	}
}
