package collector

import (
	"time"

	"github.com/lowcap-labs/regime-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Gap describes a detected hole in a bar series: the stored bar immediately
// before the hole, and how many expected-interval steps were skipped.
type Gap struct {
	Source    string
	Timeframe types.Timeframe
	After     time.Time
	Length    int
	Interval  time.Duration
}

// DetectGaps finds gaps in a timestamp-ascending bar series for timeframe
// tf: a gap of length k is detected when successive stored timestamps differ
// by more than 1.1*t, where t is the timeframe's nominal interval.
func DetectGaps(bars []types.Bar, tf types.Timeframe) []Gap {
	if len(bars) < 2 {
		return nil
	}
	interval := tfDuration(tf)
	threshold := time.Duration(float64(interval) * 1.1)

	var gaps []Gap
	for i := 1; i < len(bars); i++ {
		delta := bars[i].Timestamp.Sub(bars[i-1].Timestamp)
		if delta > threshold {
			length := int(delta/interval) - 1
			if length < 1 {
				length = 1
			}
			gaps = append(gaps, Gap{
				Source: bars[i].Source, Timeframe: tf,
				After: bars[i-1].Timestamp, Length: length, Interval: interval,
			})
		}
	}
	return gaps
}

// ForwardFill materializes the missing bars implied by a Gap by repeating
// the prior bar's close as a flat OHLC with zero volume, each marked
// ForwardFilled so downstream consumers can discount them.
func ForwardFill(prior types.Bar, gap Gap) []types.Bar {
	out := make([]types.Bar, 0, gap.Length)
	ts := prior.Timestamp
	flat := prior.Close
	for i := 0; i < gap.Length; i++ {
		ts = ts.Add(gap.Interval)
		out = append(out, types.Bar{
			Source: prior.Source, Timeframe: gap.Timeframe, Timestamp: ts,
			Open: flat, High: flat, Low: flat, Close: flat,
			ForwardFilled: true,
		})
	}
	return out
}

// BarIssue is one integrity problem found in a bar by Validate.
type BarIssue struct {
	Type      string
	Severity  string // medium | high | critical
	Timestamp time.Time
	Message   string
}

// Validate runs the collector's OHLC-consistency and anomaly checks over a
// bar series, adapted from a historical-data quality validator into the
// live ingestion path: zero/negative prices and OHLC-ordering violations are
// always critical, extreme intrabar/interbar moves are flagged but not
// rejected.
func Validate(bars []types.Bar, logger *zap.Logger) []BarIssue {
	var issues []BarIssue
	for i, b := range bars {
		if !b.Open.IsPositive() || !b.High.IsPositive() || !b.Low.IsPositive() || !b.Close.IsPositive() {
			issues = append(issues, BarIssue{Type: "ZERO_PRICE", Severity: "critical", Timestamp: b.Timestamp, Message: "zero or negative price in bar"})
			continue
		}
		if b.High.LessThan(b.Low) || b.High.LessThan(b.Open) || b.High.LessThan(b.Close) ||
			b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) {
			issues = append(issues, BarIssue{Type: "OHLC_INCONSISTENT", Severity: "critical", Timestamp: b.Timestamp, Message: "high/low do not bound open/close"})
			continue
		}
		if i > 0 {
			prevClose := bars[i-1].Close
			if !prevClose.IsZero() {
				move := b.Open.Sub(prevClose).Div(prevClose).Abs()
				if move.GreaterThan(maxGapMove) {
					issues = append(issues, BarIssue{Type: "GAP_MOVE", Severity: "medium", Timestamp: b.Timestamp, Message: "large open/prev-close gap"})
				}
			}
		}
	}
	if logger != nil && len(issues) > 0 {
		logger.Warn("bar validation issues", zap.Int("count", len(issues)))
	}
	return issues
}

// maxGapMove is the open-vs-previous-close move ratio above which a bar is
// flagged (not rejected) as a large gap move.
var maxGapMove = decimal.NewFromFloat(0.30)
