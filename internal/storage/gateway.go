// Package storage provides the typed Storage Gateway every other component
// reads and writes through — no component holds a raw DB handle or a
// package-level singleton client.
package storage

import (
	"context"
	"time"

	"github.com/lowcap-labs/regime-engine/pkg/types"
)

// Gateway is the single persistence seam for the regime pipeline, TA
// tracker, uptrend engine, and learning loop. Every method returns an error
// from the pkg/errs taxonomy (NotFound/Conflict/Transient/Fatal/Validation).
type Gateway interface {
	// Bars

	AppendBar(ctx context.Context, table string, bar types.Bar) error
	LatestBars(ctx context.Context, table, source string, tf types.Timeframe, limit int) ([]types.Bar, error)
	BarsSince(ctx context.Context, table, source string, tf types.Timeframe, since time.Time) ([]types.Bar, error)

	// Positions

	UpsertPosition(ctx context.Context, pos types.Position) error
	OpenPositions(ctx context.Context) ([]types.Position, error)
	GetPosition(ctx context.Context, id string) (types.Position, error)

	// TA feature blocks (keyed by source+timeframe, one row per key,
	// overwritten on each save; engine reads the latest only)

	SaveFeatures(ctx context.Context, feat types.TAFeatures) error
	LatestFeatures(ctx context.Context, source string, tf types.Timeframe) (types.TAFeatures, error)

	// Engine meta (per-position scratch state)

	SaveEngineMeta(ctx context.Context, meta types.EngineMeta) error
	GetEngineMeta(ctx context.Context, positionID string) (types.EngineMeta, error)

	// Engine payload history (append-only, for the state-event log / API)

	AppendEnginePayload(ctx context.Context, payload types.EnginePayload) error

	// Learning loop

	AppendTradeEvent(ctx context.Context, ev types.TradeEvent) (inserted bool, err error)
	TradeEventsSince(ctx context.Context, since time.Time) ([]types.TradeEvent, error)
	UpsertLesson(ctx context.Context, lesson types.Lesson) error
	Lessons(ctx context.Context) ([]types.Lesson, error)
	UpsertOverride(ctx context.Context, ov types.Override) error
	Overrides(ctx context.Context) ([]types.Override, error)

	// Health

	Ping(ctx context.Context) error
}

const (
	TableRegimePriceOHLC = "regime_price_ohlc"
	TableLowcapPriceOHLC = "lowcap_price_ohlc"
)
