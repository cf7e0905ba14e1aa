// Package regimeae computes the Regime A/E (Aggressiveness/Exitness)
// scores: a pure projection of the BTC/ALT/bucket/dominance driver states
// into two [0,1] scalars. No command in this module calls Compute, so the
// scalars are not passed to the execution collaborator or the summary
// printer.
//
// Grounded directly in spec.md 4.5 — original_source's
// regime_ae_calculator.py is a header-only stub with no retained
// implementation body, so the weighting scheme below follows the spec's
// prose description rather than a transliteration.
package regimeae

import (
	"github.com/lowcap-labs/regime-engine/pkg/numeric"
	"github.com/lowcap-labs/regime-engine/pkg/types"
)

// DriverKind names which of the five regime drivers a Reading came from.
type DriverKind string

const (
	DriverBTC    DriverKind = "BTC"
	DriverALT    DriverKind = "ALT"
	DriverBucket DriverKind = "BUCKET"
	DriverBTCD   DriverKind = "BTC.D"
	DriverUSDTD  DriverKind = "USDT.D"
)

// timeframeWeight gives macro (1d) the strongest influence, then meso
// (1h), then micro (1m) — "weights are larger for 1d, then 1h, then 1m".
func timeframeWeight(tf types.Timeframe) float64 {
	switch tf {
	case types.TF1d:
		return 1.0
	case types.TF1h:
		return 0.6
	case types.TF1m:
		return 0.3
	default:
		return 0.3
	}
}

// Reading is one driver's engine payload at one timeframe, the calculator's
// unit of input.
type Reading struct {
	Driver    DriverKind
	Timeframe types.Timeframe
	Payload   types.EnginePayload
}

// stateTerm projects a driver's (state, flags) into a small additive
// contribution to (A, E) before timeframe/driver weighting.
func stateTerm(p types.EnginePayload) (a, e float64) {
	switch p.State {
	case types.StateS1Primer:
		a = 0.35
		if p.Flags.BuySignal {
			a += 0.25
		}
	case types.StateS2Defense:
		a = 0.25
		if p.Flags.BuySignal {
			a += 0.20
		}
		if p.Flags.TrimFlag {
			e += 0.30
		}
	case types.StateS3Trending:
		a = 0.55
		e = 0.10
		if p.Flags.DXFlag {
			e += 0.15
		}
		if p.EmergencyExit.Active {
			e += 0.40
		}
		if p.Flags.FakeoutRecovery {
			a += 0.15
			e -= 0.20
		}
	case types.StateS0Bearish, types.StateS4Bootstrap:
		e = 0.20
	}
	return a, e
}

// Compute projects a set of driver readings into (A, E), clamped to [0,1].
// BTC/ALT/bucket terms enter normally; dominance terms are inverted (an
// uptrending dominance driver is risk-off, so it strengthens E rather than
// A), with USDT.d weighted 3x relative to the other dominance driver.
func Compute(readings []Reading) (a, e float64) {
	for _, r := range readings {
		termA, termE := stateTerm(r.Payload)
		w := timeframeWeight(r.Timeframe)

		switch r.Driver {
		case DriverBTCD:
			// dominance uptrend is risk-off: invert into E, drop the A term.
			e += termA * w
			e += termE * w
		case DriverUSDTD:
			e += termA * w * 3.0
			e += termE * w * 3.0
		default:
			a += termA * w
			e += termE * w
		}
	}
	return numeric.Clamp01(a), numeric.Clamp01(e)
}
