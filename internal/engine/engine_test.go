package engine_test

import (
	"testing"
	"time"

	"github.com/lowcap-labs/regime-engine/internal/engine"
	"github.com/lowcap-labs/regime-engine/pkg/types"
	"github.com/stretchr/testify/require"
)

// strongMomentum returns Inputs fields that push TS comfortably above the
// entry threshold, so transition tests don't depend on the exact TS formula.
func strongMomentum() (rsiSlope, adxSlope, adx float64) {
	return 10, 10, 30
}

func TestScenarioABootstrapIsBearishWatchOnly(t *testing.T) {
	in := engine.Inputs{
		Price: 5, Timestamp: time.Now(),
		EMA20: 5, EMA30: 5, EMA60: 10, EMA144: 20, EMA250: 30, EMA333: 40,
	}
	payload, meta := engine.Tick("pos1", types.EngineMeta{}, in)
	require.Equal(t, types.StateS0Bearish, payload.State)
	require.True(t, payload.Flags.WatchOnly)
	require.Equal(t, types.StateS0Bearish, meta.State)
}

func TestScenarioBS0ToS1(t *testing.T) {
	in := engine.Inputs{
		Price: 11, Timestamp: time.Now(),
		EMA20: 12, EMA30: 11, EMA60: 10, EMA144: 20, EMA250: 30, EMA333: 40,
	}
	prevMeta := types.EngineMeta{State: types.StateS0Bearish}
	payload, meta := engine.Tick("pos1", prevMeta, in)
	require.Equal(t, types.StateS1Primer, payload.State)
	require.True(t, payload.Flags.S1Valid)
	require.Equal(t, 10.0, meta.S1EMA60Entry)
}

func TestScenarioCBuySignalGatedByEntryZone(t *testing.T) {
	rsiSlope, adxSlope, adx := strongMomentum()
	base := engine.Inputs{
		Timestamp: time.Now(),
		EMA20: 12, EMA30: 11, EMA60: 10, EMA144: 20, EMA250: 30, EMA333: 40,
		ATR: 0.5, ATRMean20: 0.5,
		Slopes: engine.EMASlopes{EMA60: 0.001, EMA144: 0.001},
		RSISlope10: rsiSlope, ADXSlope10: adxSlope, ADX14: adx,
	}
	prevMeta := types.EngineMeta{State: types.StateS1Primer, S1EMA60Entry: 10}

	farFromAnchor := base
	farFromAnchor.Price = 11 // |11-10|=1 > 1*ATR(0.5)
	payload, _ := engine.Tick("pos1", prevMeta, farFromAnchor)
	require.False(t, payload.Flags.EntryZone)
	require.False(t, payload.Flags.BuySignal)

	nearAnchor := base
	nearAnchor.Price = 10.4 // |10.4-10|=0.4 <= 0.5
	payload2, _ := engine.Tick("pos1", prevMeta, nearAnchor)
	require.True(t, payload2.Flags.EntryZone)
	require.True(t, payload2.Flags.BuySignal)
}

func TestScenarioDS1ToS2ToS3(t *testing.T) {
	s1Meta := types.EngineMeta{State: types.StateS1Primer, S1EMA60Entry: 10}
	s1In := engine.Inputs{
		Timestamp: time.Now(), Price: 50,
		EMA20: 12, EMA30: 11, EMA60: 10, EMA144: 20, EMA250: 30, EMA333: 40,
	}
	payload, meta := engine.Tick("pos1", s1Meta, s1In)
	require.Equal(t, types.StateS2Defense, payload.State)
	require.True(t, payload.Flags.Defensive)

	s3In := engine.Inputs{
		Timestamp: time.Now(), Price: 60,
		EMA20: 60, EMA30: 59, EMA60: 50, EMA144: 40, EMA250: 30, EMA333: 20,
		ATR: 1, ATRMean20: 1,
	}
	payload2, meta2 := engine.Tick("pos1", meta, s3In)
	require.Equal(t, types.StateS3Trending, payload2.State)
	require.True(t, payload2.Flags.Trending)
	require.GreaterOrEqual(t, payload2.Scores.OX, 0.0)
	require.LessOrEqual(t, payload2.Scores.OX, 1.0)
	require.GreaterOrEqual(t, payload2.Scores.DX, 0.0)
	require.LessOrEqual(t, payload2.Scores.DX, 1.0)
	_ = meta2
}

func TestScenarioEEmergencyExitAndFakeoutRecovery(t *testing.T) {
	s3Meta := types.EngineMeta{State: types.StateS3Trending}
	breakIn := engine.Inputs{
		Timestamp: time.Now(), Price: 19, LastLow: 18.5,
		EMA20: 60, EMA30: 59, EMA60: 50, EMA144: 40, EMA250: 30, EMA333: 20,
		ATR: 1, ATRMean20: 1,
	}
	payload, meta := engine.Tick("pos1", s3Meta, breakIn)
	require.Equal(t, types.StateS3Trending, payload.State)
	require.True(t, meta.EmergencyExit.Active)
	require.True(t, payload.EmergencyExit.Active)

	rsiSlope, adxSlope, adx := strongMomentum()
	recoverIn := engine.Inputs{
		Timestamp: time.Now(), Price: 21,
		EMA20: 60, EMA30: 59, EMA60: 50, EMA144: 40, EMA250: 30, EMA333: 20,
		ATR: 1, ATRMean20: 1,
		Slopes: engine.EMASlopes{EMA144: 1, EMA250: 1, EMA333: 1},
		RSISlope10: rsiSlope, ADXSlope10: adxSlope, ADX14: adx,
	}
	for i := 0; i < 3; i++ {
		recoverIn.AddSupportBar(52, 50.5, 51)
	}
	payload2, meta2 := engine.Tick("pos1", meta, recoverIn)
	require.True(t, payload2.Flags.FakeoutRecovery)
	require.False(t, meta2.EmergencyExit.Active)
}

func TestS2ResetPersistenceFallsToS0AfterThreeBars(t *testing.T) {
	meta := types.EngineMeta{State: types.StateS2Defense}
	in := engine.Inputs{
		Timestamp: time.Now(), Price: 11,
		EMA20: 9, EMA30: 8, EMA60: 10, EMA144: 20, EMA250: 30, EMA333: 5,
	}
	var payload types.EnginePayload
	for i := 0; i < 3; i++ {
		payload, meta = engine.Tick("pos1", meta, in)
	}
	require.Equal(t, types.StateS0Bearish, payload.State)
	require.Equal(t, "s2_reset", payload.Diagnostic)
	require.Equal(t, 0, meta.S2ResetCount)
}
