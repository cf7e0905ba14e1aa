// Package types holds the domain model shared across the regime pipeline,
// TA tracker, uptrend engine, and learning loop: bars, positions, feature
// blocks, engine payloads/meta, trade events, lessons, and overrides.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is one of the three cadences the system tracks bars at.
type Timeframe string

const (
	TF1m Timeframe = "1m"
	TF1h Timeframe = "1h"
	TF1d Timeframe = "1d"
)

// DriverKind distinguishes a regime driver (BTC, ALT composite, bucket
// composite, dominance) from a tradable lowcap position.
type DriverKind string

const (
	DriverBTC       DriverKind = "btc"
	DriverALT       DriverKind = "alt_composite"
	DriverBucket    DriverKind = "bucket_composite"
	DriverDominance DriverKind = "dominance"
	DriverLowcap    DriverKind = "lowcap"
)

// Bucket is a market-cap cohort used for bucket-composite construction.
type Bucket string

const (
	BucketNano  Bucket = "nano"
	BucketSmall Bucket = "small"
	BucketMid   Bucket = "mid"
	BucketBig   Bucket = "big"
)

// Bar is one OHLCV candle for a driver or position at a given timeframe.
type Bar struct {
	Source    string          `json:"source"`
	Timeframe Timeframe       `json:"timeframe"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	// Synthetic marks bars produced by composite/dominance rollup rather
	// than collected directly from a candle source.
	Synthetic bool `json:"synthetic,omitempty"`
	// ForwardFilled marks a bar manufactured to patch a detected gap.
	ForwardFilled bool `json:"forward_filled,omitempty"`
}

// Position is a tradable lowcap token tracked by the uptrend engine.
type Position struct {
	ID        string     `json:"id"`
	Symbol    string     `json:"symbol"`
	Bucket    Bucket     `json:"bucket"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	IsOpen    bool       `json:"is_open"`
}

// TAFeatures is the full technical-feature block computed for one
// source+timeframe pair on each tick. Three tagged sub-structs (trend,
// momentum, volume) replace a dynamically-typed features map — callers
// access concrete fields, not a string-keyed bag; the map shape is
// reconstructed only at the storage boundary via ToStorageMap.
type TAFeatures struct {
	Source    string    `json:"source"`
	Timeframe Timeframe `json:"timeframe"`
	Timestamp time.Time `json:"timestamp"`
	BarCount  int       `json:"bar_count"`

	// Close and Low are the triggering bar's own price, carried alongside
	// the derived indicators so engine.Inputs can be built from this block
	// alone without a second bar lookup.
	Close float64 `json:"close"`
	Low   float64 `json:"low"`

	Trend    TrendFeatures    `json:"trend"`
	Momentum MomentumFeatures `json:"momentum"`
	Volume   VolumeFeatures   `json:"volume"`
}

// TrendFeatures holds the EMA ladder, separations, slopes, and acceleration.
type TrendFeatures struct {
	EMAs map[int]float64 `json:"emas"` // keyed by period: 20,30,60,144,250,333

	// Slope10 is the 10-bar normalized linear-regression slope of each EMA,
	// keyed by period.
	Slope10 map[int]float64 `json:"slope10"`
	// Accel is the bar-over-bar delta of Slope10, keyed by period.
	Accel map[int]float64 `json:"accel"`

	// Sep measures (EMA_fast - EMA_slow) / EMA_slow for the adjacent pairs
	// in the ladder, epsilon-guarded against a near-zero denominator.
	SepFastMid  float64 `json:"sep_fast_mid"`
	SepMidSlow  float64 `json:"sep_mid_slow"`
	SepFastSlow float64 `json:"sep_fast_slow"`

	// DSepFastMid5 and DSepMidSlow5 are the 5-bar change in SepFastMid and
	// SepMidSlow respectively, the separation-expansion inputs S3 scoring
	// reads to detect a rollover.
	DSepFastMid5 float64 `json:"dsep_fast_mid5"`
	DSepMidSlow5 float64 `json:"dsep_mid_slow5"`

	ATR14 float64 `json:"atr14"`
	// ATRMean20 is the rolling mean of ATR14 over the last 20 bars.
	ATRMean20       float64 `json:"atr_mean20"`
	ADX14           float64 `json:"adx14"`
	ADXSlope10      float64 `json:"adx_slope10"`
	PlusDI, MinusDI float64 `json:"-"`
}

// MomentumFeatures holds RSI and any future oscillator state.
type MomentumFeatures struct {
	RSI14      float64 `json:"rsi14"`
	RSISlope10 float64 `json:"rsi_slope10"`
}

// VolumeFeatures holds the EWMA-based volume z-score.
type VolumeFeatures struct {
	ZScore   float64 `json:"zscore"`
	EWMAMean float64 `json:"-"`
	EWMAVar  float64 `json:"-"`
}

// ToStorageMap flattens the tagged structs into the map-shaped payload the
// storage boundary persists, per the "three tagged structs, map only at the
// boundary" design rule.
func (f TAFeatures) ToStorageMap() map[string]interface{} {
	return map[string]interface{}{
		"close": f.Close, "low": f.Low,
		"ema20": f.Trend.EMAs[20], "ema30": f.Trend.EMAs[30], "ema60": f.Trend.EMAs[60],
		"ema144": f.Trend.EMAs[144], "ema250": f.Trend.EMAs[250], "ema333": f.Trend.EMAs[333],
		"sep_fast_mid": f.Trend.SepFastMid, "sep_mid_slow": f.Trend.SepMidSlow, "sep_fast_slow": f.Trend.SepFastSlow,
		"dsep_fast_mid5": f.Trend.DSepFastMid5, "dsep_mid_slow5": f.Trend.DSepMidSlow5,
		"atr14": f.Trend.ATR14, "atr_mean20": f.Trend.ATRMean20,
		"adx14": f.Trend.ADX14, "adx_slope10": f.Trend.ADXSlope10,
		"rsi14": f.Momentum.RSI14, "rsi_slope10": f.Momentum.RSISlope10,
		"vol_zscore": f.Volume.ZScore,
		"bar_count":  f.BarCount,
	}
}

// EngineState is one of the five uptrend-engine lifecycle states.
type EngineState string

const (
	StateS0Bearish  EngineState = "S0" // bearish order / watch-only
	StateS1Primer   EngineState = "S1" // primer
	StateS2Defense  EngineState = "S2" // defensive
	StateS3Trending EngineState = "S3" // trending
	StateS4Bootstrap EngineState = "S4" // neutral bootstrap
)

// SRLevel is one ranked support/resistance level read from a position's
// geometry features, used for S3 exit context and the optional TS boost.
type SRLevel struct {
	Price    float64 `json:"price"`
	Strength float64 `json:"strength"`
}

// SRContext is attached to the payload only in S3, ranking the strongest
// nearby support/resistance levels for exit-logic consumers.
type SRContext struct {
	Halo            float64   `json:"halo"`
	BaseSRLevel     float64   `json:"base_sr_level"`
	FlippedSRLevels []float64 `json:"flipped_sr_levels"`
}

// EmergencyExit is the S3 break-and-recover latch: set active on the first
// close below ema333, cleared on a confirmed fakeout recovery.
type EmergencyExit struct {
	Active         bool      `json:"active"`
	BreakTime      time.Time `json:"break_time,omitempty"`
	BreakLow       float64   `json:"break_low,omitempty"`
	EMA333AtBreak  float64   `json:"ema333_at_break,omitempty"`
	Halo           float64   `json:"halo,omitempty"`
	BounceZoneLow  float64   `json:"bounce_zone_low,omitempty"`
	BounceZoneHigh float64   `json:"bounce_zone_high,omitempty"`
}

// EngineFlags are the booleans the state machine emits alongside its scores;
// most are computed in the stay-in-state branches and never change State.
type EngineFlags struct {
	WatchOnly       bool `json:"watch_only"`
	S1Valid         bool `json:"s1_valid"`
	BuySignal       bool `json:"buy_signal"`
	Defensive       bool `json:"defensive"`
	Trending        bool `json:"trending"`
	DXFlag          bool `json:"dx_flag"`
	TrimFlag        bool `json:"trim_flag"`
	EntryZone       bool `json:"entry_zone"`
	EntryZone333    bool `json:"entry_zone_333"`
	FakeoutRecovery bool `json:"fakeout_recovery"`
	ResetPending    bool `json:"reset_pending"`
	TIOK            bool `json:"ti_ok"`
	TSOK            bool `json:"ts_ok"`
}

// EngineScores are the [0,1]-clamped composite scores the state machine
// computes each tick.
type EngineScores struct {
	TI          float64 `json:"ti"`
	TS          float64 `json:"ts"`
	TSWithBoost float64 `json:"ts_with_boost"`
	OX          float64 `json:"ox"`
	DX          float64 `json:"dx"`
	EDX         float64 `json:"edx"`
}

// EngineLevels is a snapshot of the EMA ladder plus the anchoring SR level,
// carried in the payload for UI/replay.
type EngineLevels struct {
	EMA20, EMA30, EMA60, EMA144, EMA250, EMA333 float64
	BaseSRLevel                                 float64
}

// EnginePayload is the structured recommendation the uptrend engine emits
// for one position on each tick; read back on the next tick as PrevState.
type EnginePayload struct {
	PositionID string      `json:"position_id"`
	Timestamp  time.Time   `json:"timestamp"`
	State      EngineState `json:"state"`
	PrevState  EngineState `json:"prev_state"`
	Diagnostic string      `json:"diagnostic,omitempty"` // e.g. s2_reset, s3_reset, s2_to_s1

	Flags  EngineFlags  `json:"flags"`
	Scores EngineScores `json:"scores"`
	Levels EngineLevels `json:"levels"`

	EmergencyExit EmergencyExit `json:"emergency_exit"`
	SRContext     *SRContext    `json:"sr_context,omitempty"`

	Diagnostics map[string]float64 `json:"diagnostics,omitempty"`
}

// EngineMeta is the per-position scratch state the engine persists between
// ticks: anchors and counters that don't belong in the emitted payload.
// Invariant: on a return to S0, Reset clears the S1/S2 anchors, the reset
// counter and the emergency-exit latch; EDX state and timestamps are kept.
type EngineMeta struct {
	PositionID     string      `json:"position_id"`
	State          EngineState `json:"state"`
	StateEnteredAt time.Time   `json:"state_entered_at"`

	S1EMA60Entry float64 `json:"s1_ema60_entry,omitempty"`
	S2EMA60Entry float64 `json:"s2_ema60_entry,omitempty"`

	// S2ResetCount counts consecutive ticks with the fast EMA band below
	// ema60 while in S2; at 3 the engine clears s1/s2 meta and falls to S0.
	S2ResetCount int `json:"s2_reset_count"`

	EmergencyExit EmergencyExit `json:"emergency_exit_meta,omitempty"`

	// EDXEma carries the EMA(20)-smoothed EDX score across ticks.
	EDXEma  float64 `json:"edx_ema"`
	EDXSeen bool    `json:"edx_seen"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Reset clears the S1/S2 scratch fields, per the "cleared on return to S0"
// invariant. EDX smoothing state and the timestamp survive resets.
func (m *EngineMeta) Reset() {
	m.S1EMA60Entry = 0
	m.S2EMA60Entry = 0
	m.S2ResetCount = 0
	m.EmergencyExit = EmergencyExit{}
}

// TradeEvent is one append-only record of a closed-trade pm_action strand,
// the learning loop's raw input, deduped by TradeID.
type TradeEvent struct {
	TradeID        string    `json:"trade_id"`
	PositionID     string    `json:"position_id"`
	PatternKey     string    `json:"pattern_key"`     // e.g. "pm.uptrend.S1.entry"
	ActionCategory string    `json:"action_category"` // e.g. "entry", "trim", "exit"
	Symbol         string    `json:"symbol"`
	Bucket         Bucket    `json:"bucket"`
	OpenedAt       time.Time `json:"opened_at"`
	ClosedAt       time.Time `json:"closed_at"`

	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	RR         float64         `json:"rr"`      // realized reward:risk
	PnLUSD     float64         `json:"pnl_usd"` // realized P&L in USD

	// Scope is the snapshot of engine/TA conditions at entry, the
	// dimensions the scope miner scans over: curator, chain, mcap_bucket,
	// vol_bucket, age_bucket, intent, mcap_vol_ratio_bucket, market_family,
	// timeframe, A_mode, E_mode, macro_phase, meso_phase, micro_phase,
	// bucket_leader, bucket_rank_position (not all need be populated).
	Scope map[string]string `json:"scope"`
}

// LessonType names which materializer path consumes a lesson.
type LessonType string

const (
	LessonPMStrength     LessonType = "pm_strength"
	LessonTuningRates    LessonType = "tuning_rates"
	LessonTuningDXLadder LessonType = "tuning_dx_ladder"
)

// Lesson is a materialized, scope-keyed statistical summary mined from a
// set of distinct trade events sharing that scope, unique by
// (pattern_key, action_category, scope_subset).
type Lesson struct {
	PatternKey     string            `json:"pattern_key"`
	ActionCategory string            `json:"action_category"`
	ScopeKey       string            `json:"scope_key"` // canonical encoding of ScopeSubset
	ScopeSubset    map[string]string `json:"scope_subset"`
	LessonType     LessonType        `json:"lesson_type"`

	TradeCount   int     `json:"n"`
	MeanRR       float64 `json:"avg_rr"`
	Baseline     float64 `json:"global_baseline_rr"`
	DeltaRR      float64 `json:"delta_rr"`
	Variance     float64 `json:"variance"` // shrinkage-adjusted
	ShrunkMeanRR float64 `json:"shrunk_mean_rr"`

	Reliability float64 `json:"reliability_score"` // 1/(1+variance)
	Support     float64 `json:"support_score"`      // 1-exp(-n/50)
	EdgeRaw     float64 `json:"edge_raw"`

	DecayState    string  `json:"decay_state"` // decaying | stable | improving
	DecaySlope    float64 `json:"decay_slope"`
	DecayMult     float64 `json:"decay_multiplier"`
	HalfLifeHours float64 `json:"half_life_hours,omitempty"`

	Status    string    `json:"status"` // active | retired
	UpdatedAt time.Time `json:"updated_at"`
}

// Override is a clamped multiplier materialized from a lesson into the
// pm_overrides table, unique by (pattern_key, action_category, scope_subset).
type Override struct {
	PatternKey     string  `json:"pattern_key"`
	ActionCategory string  `json:"action_category"`
	ScopeKey       string  `json:"scope_key"`
	Kind           string  `json:"kind"` // "sizing" | "tuning"
	DialName       string  `json:"dial_name,omitempty"`
	Multiplier     float64 `json:"multiplier"`

	Confidence float64   `json:"confidence_score"` // telemetry only
	DecayState string    `json:"decay_state,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Clamp bounds for override multipliers, per spec.
const (
	SizingMultiplierMin = 0.3
	SizingMultiplierMax = 3.0
	TuningMultiplierMin = 0.5
	TuningMultiplierMax = 2.0
)

// MinDistinctTrades is the minimum distinct-trade count (N_MIN) a scope
// needs before the miner will materialize a lesson for it.
const MinDistinctTrades = 33
