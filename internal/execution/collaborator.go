// Package execution models the single external touchpoint the engine and
// learning loop have with a trade-execution system: a narrow contract for
// reporting a closed trade's outcome, plus a paper implementation used by
// tests and by the dry-run CLI path. Order routing, slippage modeling,
// multi-venue adapters, and kill-switch risk management are an external
// system's responsibility per spec.md §1/§6 and are out of scope here — see
// DESIGN.md for the disposition of the teacher's execution package.
//
// Grounded in the teacher's internal/execution/executor.go shape (a
// constructor-injected *zap.Logger, a config struct with defaults, and
// callback-style reporting) reduced to the contract boundary.
package execution

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lowcap-labs/regime-engine/pkg/types"
)

// Collaborator is the boundary the learning loop's event logger consumes:
// something external closed a trade and is reporting the outcome so it can
// become a TradeEvent.
type Collaborator interface {
	// ReportClosedTrade notifies the collaborator a trade closed (used for
	// acknowledgement/telemetry on the external side); the regime engine
	// never calls this to request a trade, only to record one that happened.
	ReportClosedTrade(ctx context.Context, ev types.TradeEvent) error
}

// TradeEventRecorder is the narrow slice of learning.EventLogger a
// Collaborator needs to actually ingest a closed trade, declared locally so
// this package doesn't import internal/learning's full surface.
type TradeEventRecorder interface {
	Record(ctx context.Context, ev types.TradeEvent) (bool, error)
}

// PaperCollaborator is a no-op Collaborator: it performs no execution-side
// effects, but does forward every reported trade to its TradeEventRecorder
// (normally a *learning.EventLogger) so the learning loop actually sees it —
// what the report-trade CLI subcommand and the API's POST /trade-events
// handler wire in place of a live execution system.
type PaperCollaborator struct {
	logger   *zap.Logger
	recorder TradeEventRecorder

	reported int
}

// NewPaperCollaborator constructs a PaperCollaborator. recorder may be nil,
// in which case ReportClosedTrade only logs and counts (the shape tests
// exercising the counting behavior alone want).
func NewPaperCollaborator(logger *zap.Logger, recorder TradeEventRecorder) *PaperCollaborator {
	return &PaperCollaborator{logger: logger.Named("execution.paper"), recorder: recorder}
}

func (p *PaperCollaborator) ReportClosedTrade(ctx context.Context, ev types.TradeEvent) error {
	p.reported++
	if p.recorder != nil {
		if _, err := p.recorder.Record(ctx, ev); err != nil {
			return err
		}
	}
	p.logger.Info("closed trade reported (paper)",
		zap.String("trade_id", ev.TradeID),
		zap.String("pattern_key", ev.PatternKey),
		zap.Float64("rr", ev.RR),
		zap.Time("closed_at", ev.ClosedAt.Add(0*time.Second)),
	)
	return nil
}

// ReportedCount returns how many trades this paper collaborator has seen,
// for test assertions.
func (p *PaperCollaborator) ReportedCount() int { return p.reported }
