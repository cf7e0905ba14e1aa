package learning_test

import (
	"testing"
	"time"

	"github.com/lowcap-labs/regime-engine/internal/learning"
	"github.com/lowcap-labs/regime-engine/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestMaterializePMStrengthRequiresEdgeFloor(t *testing.T) {
	l := types.Lesson{LessonType: types.LessonPMStrength, EdgeRaw: 0.01}
	_, ok := learning.MaterializePMStrength(l, time.Now())
	require.False(t, ok, "|edge_raw| below 0.05 must not materialize a sizing override")
}

func TestMaterializePMStrengthClampsMultiplier(t *testing.T) {
	l := types.Lesson{LessonType: types.LessonPMStrength, EdgeRaw: 5.0, PatternKey: "p", ActionCategory: "entry", ScopeKey: "*"}
	ov, ok := learning.MaterializePMStrength(l, time.Now())
	require.True(t, ok)
	require.Equal(t, types.SizingMultiplierMax, ov.Multiplier)
	require.Equal(t, "sizing", ov.Kind)
}

func TestMaterializeTuningRatesSkipsZeroPressure(t *testing.T) {
	p := learning.TuningRatesPressure{NMisses: 5, NFalsePositive: 5}
	out := learning.MaterializeTuningRates(p, time.Now())
	require.Empty(t, out)
}

func TestMaterializeTuningRatesEmitsBothDials(t *testing.T) {
	p := learning.TuningRatesPressure{PatternKey: "p", ActionCategory: "entry", ScopeKey: "*", NMisses: 200, NFalsePositive: 0}
	out := learning.MaterializeTuningRates(p, time.Now())
	require.Len(t, out, 2)
	for _, ov := range out {
		require.GreaterOrEqual(t, ov.Multiplier, types.TuningMultiplierMin)
		require.LessOrEqual(t, ov.Multiplier, types.TuningMultiplierMax)
	}
}

func TestMaterializeTuningDXLadderGatedOnRecoveries(t *testing.T) {
	_, ok := learning.MaterializeTuningDXLadder(learning.TuningDXLadderPressure{SuccessfulRecoveries: 3}, time.Now())
	require.False(t, ok)

	ov, ok := learning.MaterializeTuningDXLadder(learning.TuningDXLadderPressure{SuccessfulRecoveries: 12, Pressure: 4}, time.Now())
	require.True(t, ok)
	require.GreaterOrEqual(t, ov.Multiplier, 0.7)
	require.LessOrEqual(t, ov.Multiplier, 1.5)
}
