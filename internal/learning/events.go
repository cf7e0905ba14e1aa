// Package learning implements the learning loop: an append-only event
// logger, a recursive scope miner that turns closed-trade events into
// lessons, and a materializer that turns lessons into clamped dial
// overrides written through the Storage Gateway. The engine's Tick does not
// read these overrides; sizing.EntryMultiplier is their only reader.
//
// Grounded in the teacher's internal/learning/feedback.go shape
// (FeedbackEngine's dedup-by-ID append log, incremental stat updates,
// zap logging) generalized from an ad hoc JSON-file feedback log onto
// the Storage Gateway's pattern_trade_events / learning_lessons /
// pm_overrides tables.
package learning

import (
	"context"

	"github.com/lowcap-labs/regime-engine/internal/storage"
	"github.com/lowcap-labs/regime-engine/pkg/types"
	"go.uber.org/zap"
)

// EventLogger appends closed-trade events to the Storage Gateway,
// deduplicating by trade ID. It holds no state of its own — the gateway
// is the source of truth, matching the rest of the pipeline's
// no-package-level-singleton rule.
type EventLogger struct {
	gateway storage.Gateway
	logger  *zap.Logger
}

// NewEventLogger wraps a Gateway for trade-event ingestion.
func NewEventLogger(gateway storage.Gateway, logger *zap.Logger) *EventLogger {
	return &EventLogger{gateway: gateway, logger: logger.Named("learning.events")}
}

// Record appends a closed-trade event. It returns false without error
// when the trade_id was already logged — the caller (the execution
// collaborator's position_closed handler) can safely retry deliveries.
func (l *EventLogger) Record(ctx context.Context, ev types.TradeEvent) (bool, error) {
	inserted, err := l.gateway.AppendTradeEvent(ctx, ev)
	if err != nil {
		return false, err
	}
	if inserted {
		l.logger.Info("trade event recorded",
			zap.String("trade_id", ev.TradeID),
			zap.String("pattern_key", ev.PatternKey),
			zap.String("action_category", ev.ActionCategory),
			zap.Float64("rr", ev.RR))
	} else {
		l.logger.Debug("duplicate trade event dropped", zap.String("trade_id", ev.TradeID))
	}
	return inserted, nil
}
