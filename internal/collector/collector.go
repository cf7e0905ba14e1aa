// Package collector implements the Price Collector: candle ingestion (live
// stream + REST backfill), ALT/bucket composite construction, BTC dominance
// rollup, gap detection, and forward-fill repair.
package collector

import (
	"context"
	"time"

	"github.com/lowcap-labs/regime-engine/pkg/types"
)

// CandleSource fetches and streams OHLCV bars for one symbol, grounded in
// the teacher's Binance websocket client (live) and the DCA bot's exchange
// adapter factory (REST backfill) — one small interface covers both halves.
type CandleSource interface {
	Name() string
	// FetchKlines backfills bars for symbol/timeframe in [start, end].
	FetchKlines(ctx context.Context, symbol string, tf types.Timeframe, start, end time.Time) ([]types.Bar, error)
	// StreamKlines delivers closed bars as they arrive until ctx is done.
	StreamKlines(ctx context.Context, symbol string, tf types.Timeframe, out chan<- types.Bar) error
}

// Collector drives one CandleSource against the Storage Gateway: incremental
// fetch since the last stored bar, gap detection and forward-fill repair.
type Collector struct {
	gateway Gateway
	source  CandleSource
}

// Gateway is the narrow slice of storage.Gateway the collector needs,
// declared locally so this package doesn't import the concrete storage type
// beyond what it uses.
type Gateway interface {
	AppendBar(ctx context.Context, table string, bar types.Bar) error
	LatestBars(ctx context.Context, table, source string, tf types.Timeframe, limit int) ([]types.Bar, error)
	BarsSince(ctx context.Context, table, source string, tf types.Timeframe, since time.Time) ([]types.Bar, error)
}

// New constructs a Collector bound to one candle source.
func New(gateway Gateway, source CandleSource) *Collector {
	return &Collector{gateway: gateway, source: source}
}

// Tick fetches the latest closed bar(s) for symbol/tf since the last stored
// timestamp, persists them, and runs gap detection over the refreshed tail.
func (c *Collector) Tick(ctx context.Context, table, symbol string, tf types.Timeframe) ([]types.Bar, []Gap, error) {
	since := time.Now().Add(-lookback(tf))
	if latest, err := c.gateway.LatestBars(ctx, table, symbol, tf, 1); err == nil && len(latest) == 1 {
		since = latest[0].Timestamp
	}

	bars, err := c.source.FetchKlines(ctx, symbol, tf, since, time.Now())
	if err != nil {
		return nil, nil, err
	}
	for _, b := range bars {
		if err := c.gateway.AppendBar(ctx, table, b); err != nil {
			return nil, nil, err
		}
	}

	window, err := c.gateway.BarsSince(ctx, table, symbol, tf, since.Add(-20*tfDuration(tf)))
	if err != nil {
		return bars, nil, nil
	}
	gaps := DetectGaps(window, tf)
	if len(gaps) > 0 {
		if err := c.fillGaps(ctx, table, window, gaps); err != nil {
			return bars, gaps, err
		}
	}
	return bars, gaps, nil
}

// fillGaps materializes and persists the forward-filled bars for every
// detected gap, locating each gap's prior bar in window by timestamp.
func (c *Collector) fillGaps(ctx context.Context, table string, window []types.Bar, gaps []Gap) error {
	byTimestamp := make(map[time.Time]types.Bar, len(window))
	for _, b := range window {
		byTimestamp[b.Timestamp] = b
	}
	for _, gap := range gaps {
		prior, ok := byTimestamp[gap.After]
		if !ok {
			continue
		}
		for _, filled := range ForwardFill(prior, gap) {
			if err := c.gateway.AppendBar(ctx, table, filled); err != nil {
				return err
			}
		}
	}
	return nil
}

// RollupDominanceTick implements the Price Collector's rollup_dominance
// operation end to end for one driver: read the srcTF points stored since
// the last persisted tgtTF bar, fold those inside the current tgtTF bucket
// (now truncated to tgtTF) into one tgtTF bar via RollupDominance, and
// append it. Points before the current bucket are not rolled. It is the
// production caller of RollupDominance.
func RollupDominanceTick(ctx context.Context, gateway Gateway, table, driver string, srcTF, tgtTF types.Timeframe) error {
	since := time.Now().Add(-lookback(srcTF))
	if latest, err := gateway.LatestBars(ctx, table, driver, tgtTF, 1); err == nil && len(latest) == 1 {
		since = latest[0].Timestamp
	}

	points, err := gateway.BarsSince(ctx, table, driver, srcTF, since)
	if err != nil {
		return err
	}
	bucketStart := time.Now().Truncate(tfDuration(tgtTF))
	var window []types.Bar
	for _, p := range points {
		if !p.Timestamp.Before(bucketStart) {
			window = append(window, p)
		}
	}
	if len(window) == 0 {
		return nil
	}

	rolled, err := RollupDominance(window, tgtTF, bucketStart)
	if err != nil {
		return err
	}
	return gateway.AppendBar(ctx, table, rolled)
}

func lookback(tf types.Timeframe) time.Duration {
	switch tf {
	case types.TF1m:
		return 2 * time.Hour
	case types.TF1h:
		return 3 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

func tfDuration(tf types.Timeframe) time.Duration {
	switch tf {
	case types.TF1m:
		return time.Minute
	case types.TF1h:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}
