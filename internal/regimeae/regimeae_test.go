package regimeae_test

import (
	"testing"

	"github.com/lowcap-labs/regime-engine/internal/regimeae"
	"github.com/lowcap-labs/regime-engine/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestComputeClampsToUnitRange(t *testing.T) {
	readings := []regimeae.Reading{
		{Driver: regimeae.DriverBTC, Timeframe: types.TF1d, Payload: types.EnginePayload{
			State: types.StateS3Trending, EmergencyExit: types.EmergencyExit{Active: true},
		}},
		{Driver: regimeae.DriverALT, Timeframe: types.TF1d, Payload: types.EnginePayload{
			State: types.StateS3Trending, EmergencyExit: types.EmergencyExit{Active: true},
		}},
		{Driver: regimeae.DriverUSDTD, Timeframe: types.TF1d, Payload: types.EnginePayload{
			State: types.StateS3Trending,
		}},
	}
	a, e := regimeae.Compute(readings)
	require.GreaterOrEqual(t, a, 0.0)
	require.LessOrEqual(t, a, 1.0)
	require.GreaterOrEqual(t, e, 0.0)
	require.LessOrEqual(t, e, 1.0)
}

func TestUSDTDominanceWeighted3xOtherDominance(t *testing.T) {
	btcd := []regimeae.Reading{
		{Driver: regimeae.DriverBTCD, Timeframe: types.TF1m, Payload: types.EnginePayload{State: types.StateS3Trending}},
	}
	usdtd := []regimeae.Reading{
		{Driver: regimeae.DriverUSDTD, Timeframe: types.TF1m, Payload: types.EnginePayload{State: types.StateS3Trending}},
	}
	_, eBTCD := regimeae.Compute(btcd)
	_, eUSDTD := regimeae.Compute(usdtd)
	require.InDelta(t, eBTCD*3, eUSDTD, 1e-9)
}

func TestMacroTimeframeWeightsMoreThanMicro(t *testing.T) {
	macro := []regimeae.Reading{
		{Driver: regimeae.DriverBTC, Timeframe: types.TF1d, Payload: types.EnginePayload{State: types.StateS3Trending}},
	}
	micro := []regimeae.Reading{
		{Driver: regimeae.DriverBTC, Timeframe: types.TF1m, Payload: types.EnginePayload{State: types.StateS3Trending}},
	}
	aMacro, _ := regimeae.Compute(macro)
	aMicro, _ := regimeae.Compute(micro)
	require.Greater(t, aMacro, aMicro)
}

func TestBearishStateContributesOnlyExitness(t *testing.T) {
	readings := []regimeae.Reading{
		{Driver: regimeae.DriverBTC, Timeframe: types.TF1h, Payload: types.EnginePayload{State: types.StateS0Bearish}},
	}
	a, e := regimeae.Compute(readings)
	require.Equal(t, 0.0, a)
	require.Greater(t, e, 0.0)
}
