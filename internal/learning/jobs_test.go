package learning_test

import (
	"testing"

	"github.com/lowcap-labs/regime-engine/internal/learning"
	"github.com/lowcap-labs/regime-engine/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestEstimateHalfLifeOnlyForDecaying(t *testing.T) {
	stable := types.Lesson{DecayState: "stable", DecaySlope: -0.01}
	require.Equal(t, 0.0, learning.EstimateHalfLife(stable))

	decaying := types.Lesson{DecayState: "decaying", DecaySlope: -0.01}
	hl := learning.EstimateHalfLife(decaying)
	require.Greater(t, hl, 0.0)
}

func TestClusterLatentFactorsFindsOverlap(t *testing.T) {
	sets := map[string][]string{
		"chain=sol":              {"t1", "t2", "t3", "t4"},
		"chain=sol&curator=alpha": {"t1", "t2", "t3"},
		"chain=eth":              {"t9", "t10"},
	}
	overlaps := learning.ClusterLatentFactors(sets)
	require.NotEmpty(t, overlaps)
	for _, o := range overlaps {
		require.GreaterOrEqual(t, o.Overlap, 0.6)
	}
}

func TestNudgeRegimeWeightsStaysWithinClamp(t *testing.T) {
	base := learning.RegimeDriverWeights{Macro: 1.0, Meso: 0.6, Micro: 0.3}
	realized := learning.RegimeDriverWeights{Macro: 0.5, Meso: 0.1, Micro: 2.0}
	next := learning.NudgeRegimeWeights(base, realized)
	require.Greater(t, next.Micro, base.Micro, "micro had the strongest realized RR and should be nudged up")
	require.Equal(t, base.Macro, next.Macro)
	require.Equal(t, base.Meso, next.Meso)
}
