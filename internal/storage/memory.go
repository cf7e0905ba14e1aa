package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lowcap-labs/regime-engine/pkg/errs"
	"github.com/lowcap-labs/regime-engine/pkg/types"
	"go.uber.org/zap"
)

// MemoryGateway is an in-process Gateway implementation: a mutex-guarded set
// of maps, used as the default when no database DSN is configured and in
// package tests across the module. Mirrors the teacher's cache-map Store
// shape, generalized to the full Gateway surface.
type MemoryGateway struct {
	mu sync.RWMutex

	logger *zap.Logger

	bars     map[string][]types.Bar // keyed by table|source|tf
	positions map[string]types.Position
	features map[string]types.TAFeatures // keyed by source|tf
	meta     map[string]types.EngineMeta
	payloads []types.EnginePayload

	tradeEvents map[string]types.TradeEvent // keyed by trade_id
	tradeOrder  []string
	lessons     map[string]types.Lesson
	overrides   map[string]types.Override
}

// NewMemoryGateway constructs an empty in-memory gateway.
func NewMemoryGateway(logger *zap.Logger) *MemoryGateway {
	return &MemoryGateway{
		logger:      logger.Named("storage.memory"),
		bars:        make(map[string][]types.Bar),
		positions:   make(map[string]types.Position),
		features:    make(map[string]types.TAFeatures),
		meta:        make(map[string]types.EngineMeta),
		tradeEvents: make(map[string]types.TradeEvent),
		lessons:     make(map[string]types.Lesson),
		overrides:   make(map[string]types.Override),
	}
}

func barKey(table, source string, tf types.Timeframe) string {
	return fmt.Sprintf("%s|%s|%s", table, source, tf)
}

func featKey(source string, tf types.Timeframe) string {
	return fmt.Sprintf("%s|%s", source, tf)
}

func (m *MemoryGateway) AppendBar(ctx context.Context, table string, bar types.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := barKey(table, bar.Source, bar.Timeframe)
	series := m.bars[key]

	// idempotent on timestamp: replace if already present, else insert sorted.
	for i, b := range series {
		if b.Timestamp.Equal(bar.Timestamp) {
			series[i] = bar
			m.bars[key] = series
			return nil
		}
	}
	series = append(series, bar)
	sort.Slice(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
	m.bars[key] = series
	return nil
}

func (m *MemoryGateway) LatestBars(ctx context.Context, table, source string, tf types.Timeframe, limit int) ([]types.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series := m.bars[barKey(table, source, tf)]
	if len(series) == 0 {
		return nil, errs.NotFound("storage.memory", "LatestBars", fmt.Errorf("no bars for %s/%s", source, tf))
	}
	if limit <= 0 || limit > len(series) {
		limit = len(series)
	}
	// series is kept ascending by timestamp; LatestBars contracts to
	// newest-first, matching PostgresGateway's ORDER BY ts DESC.
	window := series[len(series)-limit:]
	out := make([]types.Bar, limit)
	for i, b := range window {
		out[limit-1-i] = b
	}
	return out, nil
}

func (m *MemoryGateway) BarsSince(ctx context.Context, table, source string, tf types.Timeframe, since time.Time) ([]types.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series := m.bars[barKey(table, source, tf)]
	var out []types.Bar
	for _, b := range series {
		if b.Timestamp.After(since) || b.Timestamp.Equal(since) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *MemoryGateway) UpsertPosition(ctx context.Context, pos types.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.ID] = pos
	return nil
}

func (m *MemoryGateway) OpenPositions(ctx context.Context) ([]types.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Position
	for _, p := range m.positions {
		if p.IsOpen {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryGateway) GetPosition(ctx context.Context, id string) (types.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	if !ok {
		return types.Position{}, errs.NotFound("storage.memory", "GetPosition", fmt.Errorf("position %s", id))
	}
	return p, nil
}

func (m *MemoryGateway) SaveFeatures(ctx context.Context, feat types.TAFeatures) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.features[featKey(feat.Source, feat.Timeframe)] = feat
	return nil
}

func (m *MemoryGateway) LatestFeatures(ctx context.Context, source string, tf types.Timeframe) (types.TAFeatures, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.features[featKey(source, tf)]
	if !ok {
		return types.TAFeatures{}, errs.NotFound("storage.memory", "LatestFeatures", fmt.Errorf("no features for %s/%s", source, tf))
	}
	return f, nil
}

func (m *MemoryGateway) SaveEngineMeta(ctx context.Context, meta types.EngineMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[meta.PositionID] = meta
	return nil
}

func (m *MemoryGateway) GetEngineMeta(ctx context.Context, positionID string) (types.EngineMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.meta[positionID]
	if !ok {
		return types.EngineMeta{}, errs.NotFound("storage.memory", "GetEngineMeta", fmt.Errorf("no meta for %s", positionID))
	}
	return meta, nil
}

func (m *MemoryGateway) AppendEnginePayload(ctx context.Context, payload types.EnginePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	return nil
}

func (m *MemoryGateway) AppendTradeEvent(ctx context.Context, ev types.TradeEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tradeEvents[ev.TradeID]; exists {
		return false, nil
	}
	m.tradeEvents[ev.TradeID] = ev
	m.tradeOrder = append(m.tradeOrder, ev.TradeID)
	return true, nil
}

func (m *MemoryGateway) TradeEventsSince(ctx context.Context, since time.Time) ([]types.TradeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.TradeEvent
	for _, id := range m.tradeOrder {
		ev := m.tradeEvents[id]
		if ev.ClosedAt.After(since) || ev.ClosedAt.Equal(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func lessonKey(l types.Lesson) string {
	return fmt.Sprintf("%s|%s|%s", l.PatternKey, l.ActionCategory, l.ScopeKey)
}

func (m *MemoryGateway) UpsertLesson(ctx context.Context, lesson types.Lesson) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lessons[lessonKey(lesson)] = lesson
	return nil
}

func (m *MemoryGateway) Lessons(ctx context.Context) ([]types.Lesson, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Lesson, 0, len(m.lessons))
	for _, l := range m.lessons {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScopeKey < out[j].ScopeKey })
	return out, nil
}

func overrideKey(ov types.Override) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", ov.PatternKey, ov.ActionCategory, ov.ScopeKey, ov.Kind, ov.DialName)
}

func (m *MemoryGateway) UpsertOverride(ctx context.Context, ov types.Override) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[overrideKey(ov)] = ov
	return nil
}

func (m *MemoryGateway) Overrides(ctx context.Context) ([]types.Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Override, 0, len(m.overrides))
	for _, o := range m.overrides {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScopeKey < out[j].ScopeKey })
	return out, nil
}

func (m *MemoryGateway) Ping(ctx context.Context) error { return nil }

var _ Gateway = (*MemoryGateway)(nil)
