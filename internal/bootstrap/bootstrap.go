// Package bootstrap is the 9-step idempotent startup sequence of spec.md
// §4.7: verify storage, confirm collector freshness, ensure every regime
// driver position exists, backfill toward the minimum bar count, and prime
// TA + engine state for every driver — all before the scheduler's recurring
// tasks are allowed to start.
//
// Grounded directly in the teacher's internal/orchestrator/orchestrator.go
// (TradingOrchestrator, DefaultOrchestratorConfig, Start/Stop, staged
// component construction) — restructured from "run a live trading loop"
// into "run nine idempotent verification/priming steps once and report a
// degraded-mode status," keeping the teacher's config-struct-with-defaults
// idiom and its *zap.Logger-injected-everywhere construction style.
package bootstrap

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lowcap-labs/regime-engine/internal/collector"
	"github.com/lowcap-labs/regime-engine/internal/engine"
	"github.com/lowcap-labs/regime-engine/internal/storage"
	"github.com/lowcap-labs/regime-engine/internal/ta"
	"github.com/lowcap-labs/regime-engine/pkg/errs"
	"github.com/lowcap-labs/regime-engine/pkg/numeric"
	"github.com/lowcap-labs/regime-engine/pkg/types"
)

// Status is the overall classification of a bootstrap run, per spec.md
// §4.7: ok (no warnings/errors), partial (warnings only), degraded
// (required-driver errors below total requirements), failed (majority of
// steps failed).
type Status string

const (
	StatusOK       Status = "ok"
	StatusPartial  Status = "partial"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// MinBars is the 1m-timeframe minimum bar count every driver must reach
// before TA/engine computation is attempted, per spec.md §4.7 step 6. Use
// MinBarsFor for timeframe-aware code.
const MinBars = 333

// MinBarsFor returns the per-timeframe bar-count floor step 6 backfills
// toward and steps 7/8 gate on: 1m keeps the full 333-bar floor, 1h/1d use
// their own much slower cadence's floor (72, 30) instead of the 1m figure —
// the same reason ta.MinBarsFor diverges per timeframe.
func MinBarsFor(tf types.Timeframe) int {
	switch tf {
	case types.TF1h:
		return 72
	case types.TF1d:
		return 30
	default:
		return MinBars
	}
}

// requiredDrivers are the drivers whose absence or backfill failure
// degrades the whole run; the remaining drivers (bucket composites,
// dominance) are best-effort.
var requiredDrivers = []string{"BTC", "ALT"}

// allDrivers is the full {BTC, ALT, nano, small, mid, big, BTC.d, USDT.d}
// set named in spec.md §4.7 step 5.
var allDrivers = []string{"BTC", "ALT", "nano", "small", "mid", "big", "BTC.d", "USDT.d"}

var allTimeframes = []types.Timeframe{types.TF1m, types.TF1h, types.TF1d}

// AllDrivers, AllTimeframes and RequiredDrivers expose the same fixed sets to
// the regime-runner CLI command, which registers one recurring scheduler
// task per driver/timeframe outside of this package.
func AllDrivers() []string               { return append([]string(nil), allDrivers...) }
func AllTimeframes() []types.Timeframe    { return append([]types.Timeframe(nil), allTimeframes...) }
func RequiredDrivers() []string           { return append([]string(nil), requiredDrivers...) }

// DriverPositionID is the exported form of driverPositionID, used by callers
// outside this package that need to look up a driver's EngineMeta/Position.
func DriverPositionID(driver string, tf types.Timeframe) string { return driverPositionID(driver, tf) }

// StepResult records one step's outcome for the summary line.
type StepResult struct {
	Step     int
	Name     string
	Warnings []string
	Errors   []string
}

// Report is the full bootstrap outcome: every step's result plus the
// overall classification.
type Report struct {
	Status   Status
	Steps    []StepResult
	Started  time.Time
	Finished time.Time
}

// Config configures the bootstrap run, mirroring the teacher's
// OrchestratorConfig-with-defaults idiom.
type Config struct {
	WalletFreshness     time.Duration // step 2 staleness bound, default 10m
	CollectorFreshness1m time.Duration // step 3 staleness bound for 1m, default 5m
	MaxBackfillBars     int           // cap for step 6, default 2000
}

// DefaultConfig returns the spec's stated thresholds.
func DefaultConfig() Config {
	return Config{
		WalletFreshness:      10 * time.Minute,
		CollectorFreshness1m: 5 * time.Minute,
		MaxBackfillBars:      2000,
	}
}

// Bootstrapper runs the 9-step sequence against an injected Storage
// Gateway and set of candle sources, one per driver family.
type Bootstrapper struct {
	logger  *zap.Logger
	gateway storage.Gateway
	cfg     Config

	// sources maps a driver name to the CandleSource used to backfill it.
	// A nil entry means "no live source configured for this driver" (e.g.
	// a synthetic composite driver) and step 6 is skipped for it.
	sources map[string]collector.CandleSource
}

// New constructs a Bootstrapper.
func New(logger *zap.Logger, gateway storage.Gateway, sources map[string]collector.CandleSource, cfg Config) *Bootstrapper {
	return &Bootstrapper{
		logger:  logger.Named("bootstrap"),
		gateway: gateway,
		cfg:     cfg,
		sources: sources,
	}
}

// Run executes all 9 steps in order and returns the aggregate Report. It is
// idempotent: positions already present are left alone, bars already at or
// above MinBars are not re-backfilled.
func (b *Bootstrapper) Run(ctx context.Context) Report {
	report := Report{Started: time.Now()}

	report.Steps = append(report.Steps, b.step1VerifyTables(ctx))
	report.Steps = append(report.Steps, b.step2WalletFreshness(ctx))
	report.Steps = append(report.Steps, b.step3CollectorPulse(ctx))
	report.Steps = append(report.Steps, b.step4PrepareIngester(ctx))
	report.Steps = append(report.Steps, b.step5EnsureDriverPositions(ctx))
	report.Steps = append(report.Steps, b.step6Backfill(ctx))
	report.Steps = append(report.Steps, b.step7UpdateBarsCount(ctx))
	report.Steps = append(report.Steps, b.step8ComputeTA(ctx))
	report.Steps = append(report.Steps, b.step9ComputeStates(ctx))

	report.Finished = time.Now()
	report.Status = classify(report.Steps)

	b.logger.Info("bootstrap complete",
		zap.String("status", string(report.Status)),
		zap.Duration("elapsed", report.Finished.Sub(report.Started)),
	)
	return report
}

// classify implements spec.md §4.7's status rule: ok with nothing flagged,
// partial with warnings only, degraded when a required driver failed but
// most steps succeeded, failed when most steps errored outright.
func classify(steps []StepResult) Status {
	failedSteps := 0
	anyWarning := false
	anyRequiredDriverError := false

	for _, s := range steps {
		if len(s.Errors) > 0 {
			failedSteps++
			for _, e := range s.Errors {
				for _, d := range requiredDrivers {
					if containsDriver(e, d) {
						anyRequiredDriverError = true
					}
				}
			}
		}
		if len(s.Warnings) > 0 {
			anyWarning = true
		}
	}

	switch {
	case failedSteps > len(steps)/2:
		return StatusFailed
	case anyRequiredDriverError:
		return StatusDegraded
	case anyWarning:
		return StatusPartial
	default:
		return StatusOK
	}
}

func containsDriver(msg, driver string) bool {
	return len(msg) >= len(driver) && indexOf(msg, driver) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// step1VerifyTables confirms the Storage Gateway is reachable and its
// schema is usable; a failed Ping is Fatal per spec.md §7.
func (b *Bootstrapper) step1VerifyTables(ctx context.Context) StepResult {
	res := StepResult{Step: 1, Name: "verify_tables"}
	if err := b.gateway.Ping(ctx); err != nil {
		res.Errors = append(res.Errors, "storage ping failed: "+err.Error())
	}
	return res
}

// step2WalletFreshness is named in spec.md §4.7 but wallet-balance state
// lives entirely in the external execution collaborator, out of this
// engine's Storage Gateway — there is nothing for this process to read, so
// the step is a documented no-op that always warns, consistent with
// "warn otherwise" rather than silently skipping it.
func (b *Bootstrapper) step2WalletFreshness(ctx context.Context) StepResult {
	return StepResult{
		Step: 2, Name: "wallet_freshness",
		Warnings: []string{"wallet balances are owned by the external execution collaborator; not verified by this process"},
	}
}

// step3CollectorPulse checks that the majors/lowcaps 1m driver has a recent
// bar, within CollectorFreshness1m.
func (b *Bootstrapper) step3CollectorPulse(ctx context.Context) StepResult {
	res := StepResult{Step: 3, Name: "collector_pulse"}
	for _, d := range requiredDrivers {
		bars, err := b.gateway.LatestBars(ctx, storage.TableRegimePriceOHLC, d, types.TF1m, 1)
		if err != nil && errs.KindOf(err) != errs.KindNotFound {
			res.Errors = append(res.Errors, d+": "+err.Error())
			continue
		}
		if len(bars) == 0 {
			res.Warnings = append(res.Warnings, d+": no 1m bars yet")
			continue
		}
		if time.Since(bars[0].Timestamp) > b.cfg.CollectorFreshness1m {
			res.Warnings = append(res.Warnings, d+": 1m pulse stale")
		}
	}
	return res
}

// step4PrepareIngester only validates that a CandleSource is configured for
// every required driver — starting the live stream is the scheduler's job,
// not bootstrap's.
func (b *Bootstrapper) step4PrepareIngester(ctx context.Context) StepResult {
	res := StepResult{Step: 4, Name: "prepare_ingester"}
	for _, d := range requiredDrivers {
		if b.sources[d] == nil {
			res.Errors = append(res.Errors, d+": no candle source configured")
		}
	}
	return res
}

// step5EnsureDriverPositions creates any missing regime-driver position for
// every driver x timeframe combination named in spec.md §4.7 step 5.
func (b *Bootstrapper) step5EnsureDriverPositions(ctx context.Context) StepResult {
	res := StepResult{Step: 5, Name: "ensure_driver_positions"}
	for _, d := range allDrivers {
		for _, tf := range allTimeframes {
			id := driverPositionID(d, tf)
			if _, err := b.gateway.GetPosition(ctx, id); err == nil {
				continue
			} else if errs.KindOf(err) != errs.KindNotFound {
				res.Errors = append(res.Errors, id+": "+err.Error())
				continue
			}
			pos := types.Position{ID: id, Symbol: d, CreatedAt: time.Now(), IsOpen: true}
			if err := b.gateway.UpsertPosition(ctx, pos); err != nil {
				if isRequired(d) {
					res.Errors = append(res.Errors, id+": "+err.Error())
				} else {
					res.Warnings = append(res.Warnings, id+": "+err.Error())
				}
			}
		}
	}
	return res
}

// step6Backfill pulls bars toward MinBarsFor(tf) for every driver with a
// configured CandleSource, capped at MaxBackfillBars.
func (b *Bootstrapper) step6Backfill(ctx context.Context) StepResult {
	res := StepResult{Step: 6, Name: "backfill"}
	for _, d := range allDrivers {
		source := b.sources[d]
		if source == nil {
			continue // synthetic composites backfill via rollup, not a source
		}
		for _, tf := range allTimeframes {
			minBars := MinBarsFor(tf)
			bars, err := b.gateway.LatestBars(ctx, storage.TableRegimePriceOHLC, d, tf, minBars)
			if err != nil && errs.KindOf(err) != errs.KindNotFound {
				res.Errors = append(res.Errors, d+"/"+string(tf)+": "+err.Error())
				continue
			}
			if len(bars) >= minBars {
				continue
			}
			need := minBars - len(bars)
			if need > b.cfg.MaxBackfillBars {
				need = b.cfg.MaxBackfillBars
			}
			fetched, err := source.FetchKlines(ctx, d, tf, time.Now().Add(-tfLookback(tf, need)), time.Now())
			if err != nil {
				if isRequired(d) {
					res.Errors = append(res.Errors, d+"/"+string(tf)+": "+err.Error())
				} else {
					res.Warnings = append(res.Warnings, d+"/"+string(tf)+": "+err.Error())
				}
				continue
			}
			for _, bar := range fetched {
				if err := b.gateway.AppendBar(ctx, storage.TableRegimePriceOHLC, bar); err != nil {
					res.Warnings = append(res.Warnings, d+"/"+string(tf)+": append failed: "+err.Error())
				}
			}
		}
	}
	return res
}

// step7UpdateBarsCount refreshes each driver position's bar count from
// what is now in storage.
func (b *Bootstrapper) step7UpdateBarsCount(ctx context.Context) StepResult {
	res := StepResult{Step: 7, Name: "update_bars_count"}
	for _, d := range allDrivers {
		for _, tf := range allTimeframes {
			bars, err := b.gateway.LatestBars(ctx, storage.TableRegimePriceOHLC, d, tf, MinBarsFor(tf))
			if err != nil && errs.KindOf(err) != errs.KindNotFound {
				res.Warnings = append(res.Warnings, d+"/"+string(tf)+": "+err.Error())
				continue
			}
			_ = bars // bars_count is derived on read (LatestBars length); nothing further to persist here
		}
	}
	return res
}

// step8ComputeTA runs one TA pass per driver/timeframe that has reached
// ta.MinBarsFor(tf), skipping (a Starvation, not an error) those that haven't.
func (b *Bootstrapper) step8ComputeTA(ctx context.Context) StepResult {
	res := StepResult{Step: 8, Name: "compute_ta"}
	for _, d := range allDrivers {
		for _, tf := range allTimeframes {
			if err := ComputeTA(ctx, b.gateway, d, tf); err != nil {
				if errs.Is(err, errs.KindStarvation) {
					res.Warnings = append(res.Warnings, d+"/"+string(tf)+": below minimum bars, starving this tick")
				} else {
					res.Warnings = append(res.Warnings, d+"/"+string(tf)+": "+err.Error())
				}
			}
		}
	}
	return res
}

// ComputeTA runs one TA pass for a single driver/timeframe from whatever
// bars are currently stored, and persists the resulting TAFeatures. Returns
// a Starvation error (not fatal) when fewer than ta.MinBarsFor(tf) bars are
// available. Shared by bootstrap's step 8 and the regime-runner CLI's
// recurring per-driver ticks.
func ComputeTA(ctx context.Context, gateway storage.Gateway, driver string, tf types.Timeframe) error {
	minBars := ta.MinBarsFor(tf)
	bars, err := gateway.LatestBars(ctx, storage.TableRegimePriceOHLC, driver, tf, minBars)
	if err != nil && errs.KindOf(err) != errs.KindNotFound {
		return err
	}
	if len(bars) < minBars {
		return errs.Starvation("bootstrap", "ComputeTA", fmt.Errorf("%s/%s: only %d bars, need %d", driver, tf, len(bars), minBars))
	}

	block := ta.NewBlock(driver, tf)
	var feat types.TAFeatures
	for i := len(bars) - 1; i >= 0; i-- { // LatestBars returns newest-first; feed oldest-first
		feat = block.Add(bars[i])
	}
	return gateway.SaveFeatures(ctx, feat)
}

// step9ComputeStates runs one engine tick per driver position from its
// latest saved features, seeding EngineMeta fresh (S4 neutral bootstrap)
// for positions that have none yet.
func (b *Bootstrapper) step9ComputeStates(ctx context.Context) StepResult {
	res := StepResult{Step: 9, Name: "compute_states"}
	for _, d := range allDrivers {
		for _, tf := range allTimeframes {
			id := driverPositionID(d, tf)
			if _, err := ComputeState(ctx, b.gateway, d, tf); err != nil && errs.KindOf(err) != errs.KindNotFound {
				res.Warnings = append(res.Warnings, id+": "+err.Error())
			}
		}
	}
	return res
}

// ComputeState runs one engine tick for a single driver/timeframe from its
// latest saved TAFeatures and persists the resulting payload/meta. Returns
// a NotFound error when no features have been computed yet for this
// driver/timeframe. Shared by bootstrap's step 9 and the regime-runner
// CLI's recurring per-driver ticks.
func ComputeState(ctx context.Context, gateway storage.Gateway, driver string, tf types.Timeframe) (types.EnginePayload, error) {
	id := driverPositionID(driver, tf)

	feat, err := gateway.LatestFeatures(ctx, driver, tf)
	if err != nil {
		return types.EnginePayload{}, err
	}

	meta, err := gateway.GetEngineMeta(ctx, id)
	if err != nil && errs.KindOf(err) != errs.KindNotFound {
		return types.EnginePayload{}, err
	}

	in := inputsFromFeatures(feat)
	attachStructuralInputs(ctx, gateway, driver, &in)
	payload, newMeta := engine.Tick(id, meta, in)

	if err := gateway.SaveEngineMeta(ctx, newMeta); err != nil {
		return payload, err
	}
	if err := gateway.AppendEnginePayload(ctx, payload); err != nil {
		return payload, err
	}
	return payload, nil
}

// inputsFromFeatures builds the engine.Inputs a driver's latest TAFeatures
// snapshot carries by itself: price, the EMA ladder and its slopes/accel,
// and the pre-aggregated S3 distress scalars derived from already-computed
// separations/volatility/volume readings. Fields that need data beyond one
// TAFeatures snapshot (the support-persistence window, SR levels) are
// filled in separately by attachStructuralInputs.
func inputsFromFeatures(f types.TAFeatures) engine.Inputs {
	structureFailure, participationDecay, volatilityDisorder := s3CompositeInputs(f)

	return engine.Inputs{
		Timestamp: f.Timestamp,
		Price:     f.Close,
		LastLow:   f.Low,
		EMA20:     f.Trend.EMAs[20], EMA30: f.Trend.EMAs[30], EMA60: f.Trend.EMAs[60],
		EMA144: f.Trend.EMAs[144], EMA250: f.Trend.EMAs[250], EMA333: f.Trend.EMAs[333],
		Slopes: engine.EMASlopes{
			EMA20: f.Trend.Slope10[20], EMA60: f.Trend.Slope10[60],
			EMA144: f.Trend.Slope10[144], EMA250: f.Trend.Slope10[250], EMA333: f.Trend.Slope10[333],
		},
		Accel:      engine.EMAAccel{EMA144: f.Trend.Accel[144]},
		ATR:        f.Trend.ATR14,
		ATRMean20:  f.Trend.ATRMean20,
		RSI14:      f.Momentum.RSI14,
		RSISlope10: f.Momentum.RSISlope10,
		ADX14:      f.Trend.ADX14,
		ADXSlope10: f.Trend.ADXSlope10,
		VolumeZ:    f.Volume.ZScore,
		SepFast:    f.Trend.SepFastMid,
		DSepFast5:  f.Trend.DSepFastMid5,
		DSepMid5:   f.Trend.DSepMidSlow5,

		StructureFailure:   structureFailure,
		ParticipationDecay: participationDecay,
		VolatilityDisorder: volatilityDisorder,
	}
}

// s3CompositeInputs derives the three pre-aggregated S3 distress scalars
// from readings the TA tracker already computes, rather than leaving them
// at their unset zero value: structureFailure reads the fast/slow EMA
// separation turning negative (ladder breaking down), participationDecay
// reads the volume z-score falling below its mean, and volatilityDisorder
// reads how far the current ATR has drifted (either direction) from its
// 20-bar mean.
func s3CompositeInputs(f types.TAFeatures) (structureFailure, participationDecay, volatilityDisorder float64) {
	structureFailure = numeric.Clamp01(numeric.Sigmoid(-f.Trend.SepFastSlow, 0, 40))
	participationDecay = numeric.Clamp01(numeric.Sigmoid(-f.Volume.ZScore, 0, 0.8))
	atrDrift := math.Abs(numeric.SafeDiv(f.Trend.ATR14, f.Trend.ATRMean20, 1) - 1)
	volatilityDisorder = numeric.Clamp01(numeric.Sigmoid(atrDrift, 0, 6))
	return structureFailure, participationDecay, volatilityDisorder
}

// supportWindowBars is how many of the most recent closed 1h bars feed
// engine.Inputs.SupportWindow, per that field's own support-persistence
// contract.
const supportWindowBars = 3

// srLookbackBars is how many recent 1h bars attachStructuralInputs scans
// for swing-pivot support/resistance levels.
const srLookbackBars = 60

// attachStructuralInputs fills in the scoring inputs that need more than
// one driver's latest TAFeatures snapshot: the last 3 closed 1h bars (for
// support persistence) and a swing-pivot scan of recent 1h bars (for SR
// levels), both read directly from storage since neither is carried by
// TAFeatures. Errors are swallowed (best-effort enrichment): a position
// with no 1h history yet still gets a valid, if less-informed, engine tick.
func attachStructuralInputs(ctx context.Context, gateway storage.Gateway, driver string, in *engine.Inputs) {
	bars, err := gateway.LatestBars(ctx, storage.TableRegimePriceOHLC, driver, types.TF1h, srLookbackBars)
	if err != nil || len(bars) == 0 {
		return
	}

	// bars is newest-first; append the most recent supportWindowBars in
	// chronological (oldest-to-newest) order.
	start := supportWindowBars - 1
	if start >= len(bars) {
		start = len(bars) - 1
	}
	for i := start; i >= 0; i-- {
		high, _ := bars[i].High.Float64()
		low, _ := bars[i].Low.Float64()
		close, _ := bars[i].Close.Float64()
		in.AddSupportBar(high, low, close)
	}

	in.SRLevels = detectSRLevels(bars, in.ATR)
}

// detectSRLevels finds swing-pivot support/resistance levels in a 1h bar
// window (newest-first, as LatestBars returns it): a pivot high/low is a
// bar whose high/low is the most extreme within 2 bars on each side.
// Levels within half an ATR of each other are merged, weighted toward the
// merged price; strength is how many pivots merged into a level. Returns
// at most the 5 strongest levels.
func detectSRLevels(barsNewestFirst []types.Bar, atr float64) []engine.SRLevelInput {
	n := len(barsNewestFirst)
	if n < 5 {
		return nil
	}
	oldest := make([]types.Bar, n)
	for i, b := range barsNewestFirst {
		oldest[n-1-i] = b
	}

	tolerance := atr * 0.5
	if tolerance <= 0 {
		tolerance = numeric.Epsilon
	}

	var levels []engine.SRLevelInput
	merge := func(price float64) {
		for i := range levels {
			if math.Abs(levels[i].Price-price) <= tolerance {
				levels[i].Price = (levels[i].Price*levels[i].Strength + price) / (levels[i].Strength + 1)
				levels[i].Strength++
				return
			}
		}
		levels = append(levels, engine.SRLevelInput{Price: price, Strength: 1})
	}

	for i := 2; i < len(oldest)-2; i++ {
		high, _ := oldest[i].High.Float64()
		low, _ := oldest[i].Low.Float64()
		isPivotHigh, isPivotLow := true, true
		for k := i - 2; k <= i+2; k++ {
			if k == i {
				continue
			}
			kh, _ := oldest[k].High.Float64()
			kl, _ := oldest[k].Low.Float64()
			if kh >= high {
				isPivotHigh = false
			}
			if kl <= low {
				isPivotLow = false
			}
		}
		if isPivotHigh {
			merge(high)
		}
		if isPivotLow {
			merge(low)
		}
	}

	sort.Slice(levels, func(i, j int) bool { return levels[i].Strength > levels[j].Strength })
	if len(levels) > 5 {
		levels = levels[:5]
	}
	return levels
}

func isRequired(driver string) bool {
	for _, d := range requiredDrivers {
		if d == driver {
			return true
		}
	}
	return false
}

func driverPositionID(driver string, tf types.Timeframe) string {
	return driver + ":" + string(tf)
}

func tfLookback(tf types.Timeframe, bars int) time.Duration {
	switch tf {
	case types.TF1m:
		return time.Duration(bars) * time.Minute
	case types.TF1h:
		return time.Duration(bars) * time.Hour
	default:
		return time.Duration(bars) * 24 * time.Hour
	}
}
