// Package engine implements the Uptrend State Engine v4: a deterministic
// five-state (S0-S4) machine driven by the EMA ladder, trend-integrity and
// trend-strength scoring, and S3 regime management (OX/DX/EDX, emergency
// exit, fakeout recovery).
//
// Grounded in original_source's uptrend_engine_v3.py (transitions, scoring
// weights, constants) and the teacher's internal/regime/detector.go, a
// mutex-guarded stateful market classifier — generalized here from an HMM
// regime classifier into a stateless band-order state machine whose
// per-position state is the EngineMeta passed to and returned by Tick. The
// engine emits signals only; it never places orders.
package engine

import (
	"time"

	"github.com/lowcap-labs/regime-engine/pkg/numeric"
	"github.com/lowcap-labs/regime-engine/pkg/types"
)

// Constants are the calibrated thresholds Tick applies as fixed values; the
// engine does not read the learning loop's tuning overrides, so they are
// never adjusted per tick.
const (
	ADXFloor           = 18.0
	TIEntryThreshold   = 0.45
	TSEntryThreshold   = 0.58
	DXBuyThreshold     = 0.65
	OXSellThreshold    = 0.65
	S2ResetPersistence = 3
)

// Inputs is everything the engine needs for one position's tick: the
// current TA feature snapshot, the latest close/low, and any SR levels
// from the position's geometry features.
type Inputs struct {
	Price     float64
	LastLow   float64
	Timestamp time.Time

	EMA20, EMA30, EMA60, EMA144, EMA250, EMA333 float64
	Slopes                                      EMASlopes
	Accel                                       EMAAccel

	ATR, ATRMean20 float64
	RSI14          float64
	RSISlope10     float64
	ADX14          float64
	ADXSlope10     float64
	VolumeZ        float64

	SepFast, DSepFast5, DSepMid5 float64

	SupportWindow []barSnapshot // last 3 closed 1h bars for support persistence
	SRLevels      []SRLevelInput

	StructureFailure   float64 // pre-aggregated S3 structure-failure input
	ParticipationDecay float64
	VolatilityDisorder float64
}

// AddSupportBar appends a closed bar's OHLC to the support-persistence
// window, keeping only the last 3 bars.
func (in *Inputs) AddSupportBar(high, low, close float64) {
	in.SupportWindow = append(in.SupportWindow, barSnapshot{High: high, Low: low, Close: close})
	if len(in.SupportWindow) > 3 {
		in.SupportWindow = in.SupportWindow[len(in.SupportWindow)-3:]
	}
}

// Tick runs one state-machine step for a single position given its prior
// meta, returning the new payload and updated meta. prev is passed by value
// and left unmodified; callers persist the returned meta.
func Tick(positionID string, prev types.EngineMeta, in Inputs) (types.EnginePayload, types.EngineMeta) {
	meta := prev
	meta.PositionID = positionID
	meta.UpdatedAt = in.Timestamp

	prevState := prev.State
	if prevState == "" {
		prevState = types.StateS4Bootstrap
	}

	ema := [4]float64{in.EMA60, in.EMA144, in.EMA250, in.EMA333}
	fastMin := min2(in.EMA20, in.EMA30)
	fastMax := max2(in.EMA20, in.EMA30)

	fastBandAtBottom := fastMax < minOf(ema[:]...)
	bearishOrder := fastMax < in.EMA60 && in.EMA60 < in.EMA144 && in.EMA144 < in.EMA250 && in.EMA250 < in.EMA333
	fastBandAbove60 := in.EMA20 > in.EMA60 && in.EMA30 > in.EMA60
	fastBandBelow60 := in.EMA20 < in.EMA60 && in.EMA30 < in.EMA60
	bullishAlignment := fastMin > in.EMA60 && in.EMA60 > in.EMA144 && in.EMA144 > in.EMA250 && in.EMA250 > in.EMA333
	allBelow333 := in.EMA20 < in.EMA333 && in.EMA30 < in.EMA333 && in.EMA60 < in.EMA333 && in.EMA144 < in.EMA333 && in.EMA250 < in.EMA333

	support := supportPersistence(in.SupportWindow, in.EMA60, safeATR(in.ATR))
	alignment := emaAlignment(in.Slopes, in.Accel, in.EMA20, in.EMA60, in.SepFast)
	coherence := volatilityCoherence(in.ATR, in.ATRMean20)
	ti := TrendIntegrity(support, alignment, coherence)
	ts := TrendStrength(in.RSISlope10, in.ADXSlope10, in.ADX14, ADXFloor)

	payload := types.EnginePayload{
		PositionID: positionID,
		Timestamp:  in.Timestamp,
		PrevState:  prevState,
		Levels: types.EngineLevels{
			EMA20: in.EMA20, EMA30: in.EMA30, EMA60: in.EMA60,
			EMA144: in.EMA144, EMA250: in.EMA250, EMA333: in.EMA333,
		},
		Scores: types.EngineScores{TI: ti, TS: ts},
	}

	halo60 := safeATR(in.ATR) * 1.0

	state := prevState
	diagnostic := ""

	switch {
	case fastBandAtBottom:
		state = types.StateS0Bearish
		diagnostic = "fast_band_bottom"
	case bearishOrder:
		state = types.StateS0Bearish
		diagnostic = "bearish_order"
	case prevState == types.StateS4Bootstrap || prevState == types.StateS0Bearish:
		if fastBandAbove60 && in.Price > in.EMA60 {
			state = types.StateS1Primer
		} else {
			state = types.StateS0Bearish
		}
	case prevState == types.StateS1Primer:
		if in.Price > in.EMA333 {
			state = types.StateS2Defense
		} else {
			state = types.StateS1Primer
		}
	case prevState == types.StateS2Defense:
		switch {
		case in.Price < in.EMA333:
			state = types.StateS1Primer
			diagnostic = "s2_to_s1"
		case bullishAlignment:
			state = types.StateS3Trending
		default:
			state = types.StateS2Defense
		}
	case prevState == types.StateS3Trending:
		if allBelow333 {
			state = types.StateS0Bearish
			diagnostic = "s3_reset"
		} else {
			state = types.StateS3Trending
		}
	default:
		state = types.StateS0Bearish
	}

	if state == types.StateS0Bearish {
		meta.Reset()
	}

	switch state {
	case types.StateS0Bearish:
		payload.Flags.WatchOnly = true

	case types.StateS1Primer:
		if prevState != types.StateS1Primer || meta.S1EMA60Entry == 0 {
			meta.S1EMA60Entry = in.EMA60
		}
		payload.Flags.S1Valid = true

		entryZone := abs(in.Price-in.EMA60) <= halo60
		slopeOK := in.Slopes.EMA60 > 0 || in.Slopes.EMA144 >= 0
		tsOK := TSWithBoost(ts, nearestSRWithinHalo(in.SRLevels, in.EMA60, halo60)) >= TSEntryThreshold
		payload.Flags.EntryZone = entryZone
		payload.Flags.BuySignal = entryZone && slopeOK && tsOK

	case types.StateS2Defense:
		payload.Flags.Defensive = true
		if fastBandBelow60 {
			meta.S2ResetCount++
		} else {
			meta.S2ResetCount = 0
		}
		if meta.S2ResetCount >= S2ResetPersistence {
			meta.Reset()
			state = types.StateS0Bearish
			diagnostic = "s2_reset"
			payload.Flags = types.EngineFlags{WatchOnly: true}
			break
		}

		s3i := s3InputsFrom(in)
		ox, dx, _, _ := s3Scores(s3i, in.StructureFailure, in.ParticipationDecay, in.VolatilityDisorder)
		payload.Scores.OX = ox
		payload.Scores.DX = dx
		payload.Flags.TrimFlag = ox >= OXSellThreshold

		entryZone333 := abs(in.Price-in.EMA333) <= halo60
		slopeOK333 := in.Slopes.EMA250 > 0 || in.Slopes.EMA333 >= 0
		tsBoost := TSWithBoost(ts, nearestSRWithinHalo(in.SRLevels, in.EMA333, halo60))
		payload.Flags.EntryZone333 = entryZone333
		payload.Flags.BuySignal = entryZone333 && slopeOK333 && tsBoost >= TSEntryThreshold
		if payload.Flags.BuySignal {
			meta.S2EMA60Entry = in.EMA60
		}

	case types.StateS3Trending:
		payload.Flags.Trending = true
		payload.Flags.DXFlag = in.Price <= in.EMA144

		s3i := s3InputsFrom(in)
		ox, dx, edxRaw, diag := s3Scores(s3i, in.StructureFailure, in.ParticipationDecay, in.VolatilityDisorder)
		edx := SmoothEDX(edxRaw, meta.EDXEma, meta.EDXSeen)
		meta.EDXEma = edx
		meta.EDXSeen = true

		payload.Scores.OX = ox
		payload.Scores.DX = dx
		payload.Scores.EDX = edx
		payload.Diagnostics = diag

		if meta.EmergencyExit.Active {
			if in.Price > in.EMA333 && ti >= TIEntryThreshold && ts >= TSEntryThreshold {
				payload.Flags.FakeoutRecovery = true
				meta.EmergencyExit = types.EmergencyExit{}
			} else {
				payload.EmergencyExit = meta.EmergencyExit
			}
		} else if in.Price < in.EMA333 {
			halo333 := maxf(0.5*safeATR(in.ATR), 0.03*in.Price)
			meta.EmergencyExit = types.EmergencyExit{
				Active: true, BreakTime: in.Timestamp, BreakLow: in.LastLow,
				EMA333AtBreak: in.EMA333, Halo: halo333,
				BounceZoneLow: in.EMA333 - halo333, BounceZoneHigh: in.EMA333 + halo333,
			}
			payload.EmergencyExit = meta.EmergencyExit
		}

		if sr := rankSRContext(in.SRLevels, in.EMA144, halo60); sr != nil {
			payload.SRContext = sr
			payload.Levels.BaseSRLevel = sr.BaseSRLevel
		}
	}

	payload.Flags.TSOK = ts >= TSEntryThreshold
	payload.Flags.TIOK = ti >= TIEntryThreshold
	payload.Scores.TSWithBoost = TSWithBoost(ts, nearestSRWithinHalo(in.SRLevels, in.EMA60, halo60))
	payload.State = state
	payload.Diagnostic = diagnostic

	if meta.State != state {
		meta.StateEnteredAt = in.Timestamp
	}
	meta.State = state

	return payload, meta
}

func s3InputsFrom(in Inputs) s3Inputs {
	return s3Inputs{
		Price: in.Price, ATR: in.ATR, ATRMean20: in.ATRMean20,
		EMA20: in.EMA20, EMA60: in.EMA60, EMA144: in.EMA144, EMA250: in.EMA250, EMA333: in.EMA333,
		DSepFast5: in.DSepFast5, DSepMid5: in.DSepMid5, VolumeZ: in.VolumeZ,
		EMA20Slope: in.Slopes.EMA20, DEMA144Slope: in.Accel.EMA144,
		EMA250Slope: in.Slopes.EMA250, EMA333Slope: in.Slopes.EMA333,
		RSISlope10: in.RSISlope10, ADXLevel: in.ADX14, ADXSlope10: in.ADXSlope10, ADXFloor: ADXFloor,
	}
}

// rankSRContext ranks SR levels by strength (top 5) and reports the lowest
// retained level as the base anchor, per the S3 sr_context contract.
func rankSRContext(levels []SRLevelInput, anchor, halo float64) *types.SRContext {
	if len(levels) == 0 {
		return nil
	}
	sorted := append([]SRLevelInput(nil), levels...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Strength > sorted[j-1].Strength; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if len(sorted) > 5 {
		sorted = sorted[:5]
	}
	prices := make([]float64, 0, len(sorted))
	for _, s := range sorted {
		prices = append(prices, s.Price)
	}
	// sort descending by price; the lowest retained level anchors the base.
	for i := 1; i < len(prices); i++ {
		for j := i; j > 0 && prices[j] > prices[j-1]; j-- {
			prices[j], prices[j-1] = prices[j-1], prices[j]
		}
	}
	base := prices[len(prices)-1]
	return &types.SRContext{Halo: halo, BaseSRLevel: base, FlippedSRLevels: prices}
}

func safeATR(atr float64) float64 {
	if atr <= 0 {
		return numeric.Epsilon
	}
	return atr
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max2(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minOf(vals ...float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
