package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lowcap-labs/regime-engine/pkg/errs"
	"github.com/lowcap-labs/regime-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PoolConfig configures the pgxpool backing PostgresGateway, grounded in the
// pack's Supabase/Heroku-safe pool construction.
type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultPoolConfig returns conservative defaults for a small book-sized
// deployment.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:          10,
		MinConns:          2,
		MaxConnLifetime:   30 * time.Minute,
		MaxConnIdleTime:   5 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
	}
}

// NewPool parses dsn and constructs a pgxpool.Pool tuned by cfg.
func NewPool(ctx context.Context, dsn string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errs.Fatal("storage.postgres", "NewPool", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.Transient("storage.postgres", "NewPool", err)
	}
	return pool, nil
}

// PostgresGateway implements Gateway against the regime_price_ohlc,
// lowcap_price_ohlc, positions, ta_features, engine_meta, engine_payloads,
// pattern_trade_events, learning_lessons, and pm_overrides tables.
type PostgresGateway struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresGateway wraps an already-constructed pool; the pool is injected,
// never held as a package-level singleton.
func NewPostgresGateway(pool *pgxpool.Pool, logger *zap.Logger) *PostgresGateway {
	return &PostgresGateway{pool: pool, logger: logger.Named("storage.postgres")}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.NotFound("storage.postgres", "query", err)
	}
	return errs.Transient("storage.postgres", "query", err)
}

func tableFor(table string) string {
	return table
}

func (g *PostgresGateway) AppendBar(ctx context.Context, table string, bar types.Bar) error {
	_, err := g.pool.Exec(ctx, `
		INSERT INTO `+tableFor(table)+` (source, timeframe, ts, open, high, low, close, volume, synthetic, forward_filled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (source, timeframe, ts) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, volume = EXCLUDED.volume,
			synthetic = EXCLUDED.synthetic, forward_filled = EXCLUDED.forward_filled
	`, bar.Source, string(bar.Timeframe), bar.Timestamp, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.Synthetic, bar.ForwardFilled)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (g *PostgresGateway) LatestBars(ctx context.Context, table, source string, tf types.Timeframe, limit int) ([]types.Bar, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT source, timeframe, ts, open, high, low, close, volume, synthetic, forward_filled
		FROM `+tableFor(table)+`
		WHERE source = $1 AND timeframe = $2
		ORDER BY ts DESC
		LIMIT $3
	`, source, string(tf), limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []types.Bar
	for rows.Next() {
		var b types.Bar
		var tfStr string
		if err := rows.Scan(&b.Source, &tfStr, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Synthetic, &b.ForwardFilled); err != nil {
			return nil, classify(err)
		}
		b.Timeframe = types.Timeframe(tfStr)
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, errs.NotFound("storage.postgres", "LatestBars", errors.New("no rows"))
	}
	return out, nil
}

func (g *PostgresGateway) BarsSince(ctx context.Context, table, source string, tf types.Timeframe, since time.Time) ([]types.Bar, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT source, timeframe, ts, open, high, low, close, volume, synthetic, forward_filled
		FROM `+tableFor(table)+`
		WHERE source = $1 AND timeframe = $2 AND ts >= $3
		ORDER BY ts ASC
	`, source, string(tf), since)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []types.Bar
	for rows.Next() {
		var b types.Bar
		var tfStr string
		if err := rows.Scan(&b.Source, &tfStr, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Synthetic, &b.ForwardFilled); err != nil {
			return nil, classify(err)
		}
		b.Timeframe = types.Timeframe(tfStr)
		out = append(out, b)
	}
	return out, nil
}

func (g *PostgresGateway) UpsertPosition(ctx context.Context, pos types.Position) error {
	_, err := g.pool.Exec(ctx, `
		INSERT INTO positions (id, symbol, bucket, created_at, closed_at, is_open)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET closed_at = EXCLUDED.closed_at, is_open = EXCLUDED.is_open
	`, pos.ID, pos.Symbol, string(pos.Bucket), pos.CreatedAt, pos.ClosedAt, pos.IsOpen)
	return classify(err)
}

func (g *PostgresGateway) OpenPositions(ctx context.Context) ([]types.Position, error) {
	rows, err := g.pool.Query(ctx, `SELECT id, symbol, bucket, created_at, closed_at, is_open FROM positions WHERE is_open`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []types.Position
	for rows.Next() {
		var p types.Position
		var bucket string
		if err := rows.Scan(&p.ID, &p.Symbol, &bucket, &p.CreatedAt, &p.ClosedAt, &p.IsOpen); err != nil {
			return nil, classify(err)
		}
		p.Bucket = types.Bucket(bucket)
		out = append(out, p)
	}
	return out, nil
}

func (g *PostgresGateway) GetPosition(ctx context.Context, id string) (types.Position, error) {
	var p types.Position
	var bucket string
	err := g.pool.QueryRow(ctx, `SELECT id, symbol, bucket, created_at, closed_at, is_open FROM positions WHERE id = $1`, id).
		Scan(&p.ID, &p.Symbol, &bucket, &p.CreatedAt, &p.ClosedAt, &p.IsOpen)
	if err != nil {
		return types.Position{}, classify(err)
	}
	p.Bucket = types.Bucket(bucket)
	return p, nil
}

func (g *PostgresGateway) SaveFeatures(ctx context.Context, feat types.TAFeatures) error {
	blob, err := json.Marshal(feat.ToStorageMap())
	if err != nil {
		return errs.Fatal("storage.postgres", "SaveFeatures", err)
	}
	_, err = g.pool.Exec(ctx, `
		INSERT INTO ta_features (source, timeframe, ts, bar_count, payload)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (source, timeframe) DO UPDATE SET ts = EXCLUDED.ts, bar_count = EXCLUDED.bar_count, payload = EXCLUDED.payload
	`, feat.Source, string(feat.Timeframe), feat.Timestamp, feat.BarCount, blob)
	return classify(err)
}

func (g *PostgresGateway) LatestFeatures(ctx context.Context, source string, tf types.Timeframe) (types.TAFeatures, error) {
	var ts time.Time
	var barCount int
	var blob []byte
	err := g.pool.QueryRow(ctx, `SELECT ts, bar_count, payload FROM ta_features WHERE source = $1 AND timeframe = $2`, source, string(tf)).
		Scan(&ts, &barCount, &blob)
	if err != nil {
		return types.TAFeatures{}, classify(err)
	}
	var m map[string]float64
	if err := json.Unmarshal(blob, &m); err != nil {
		return types.TAFeatures{}, errs.Fatal("storage.postgres", "LatestFeatures", err)
	}
	return types.TAFeatures{
		Source: source, Timeframe: tf, Timestamp: ts, BarCount: barCount,
		Close: m["close"], Low: m["low"],
		Trend: types.TrendFeatures{
			EMAs: map[int]float64{20: m["ema20"], 30: m["ema30"], 60: m["ema60"], 144: m["ema144"], 250: m["ema250"], 333: m["ema333"]},
			SepFastMid: m["sep_fast_mid"], SepMidSlow: m["sep_mid_slow"], SepFastSlow: m["sep_fast_slow"],
			DSepFastMid5: m["dsep_fast_mid5"], DSepMidSlow5: m["dsep_mid_slow5"],
			ATR14: m["atr14"], ATRMean20: m["atr_mean20"],
			ADX14: m["adx14"], ADXSlope10: m["adx_slope10"],
		},
		Momentum: types.MomentumFeatures{RSI14: m["rsi14"], RSISlope10: m["rsi_slope10"]},
		Volume:   types.VolumeFeatures{ZScore: m["vol_zscore"]},
	}, nil
}

func (g *PostgresGateway) SaveEngineMeta(ctx context.Context, meta types.EngineMeta) error {
	blob, err := json.Marshal(meta)
	if err != nil {
		return errs.Fatal("storage.postgres", "SaveEngineMeta", err)
	}
	_, err = g.pool.Exec(ctx, `
		INSERT INTO engine_meta (position_id, state, state_entered_at, s2_reset_count, updated_at, payload)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (position_id) DO UPDATE SET
			state = EXCLUDED.state, state_entered_at = EXCLUDED.state_entered_at,
			s2_reset_count = EXCLUDED.s2_reset_count, updated_at = EXCLUDED.updated_at, payload = EXCLUDED.payload
	`, meta.PositionID, string(meta.State), meta.StateEnteredAt, meta.S2ResetCount, meta.UpdatedAt, blob)
	return classify(err)
}

func (g *PostgresGateway) GetEngineMeta(ctx context.Context, positionID string) (types.EngineMeta, error) {
	var blob []byte
	err := g.pool.QueryRow(ctx, `SELECT payload FROM engine_meta WHERE position_id = $1`, positionID).Scan(&blob)
	if err != nil {
		return types.EngineMeta{}, classify(err)
	}
	var meta types.EngineMeta
	if err := json.Unmarshal(blob, &meta); err != nil {
		return types.EngineMeta{}, errs.Fatal("storage.postgres", "GetEngineMeta", err)
	}
	return meta, nil
}

func (g *PostgresGateway) AppendEnginePayload(ctx context.Context, p types.EnginePayload) error {
	blob, err := json.Marshal(p)
	if err != nil {
		return errs.Fatal("storage.postgres", "AppendEnginePayload", err)
	}
	_, err = g.pool.Exec(ctx, `
		INSERT INTO engine_payloads (position_id, ts, state, prev_state, ti, ts_score, ts_with_boost, ox, dx, edx, buy_flag, trim_flag, emergency_exit, fakeout_recovery, payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, p.PositionID, p.Timestamp, string(p.State), string(p.PrevState),
		p.Scores.TI, p.Scores.TS, p.Scores.TSWithBoost, p.Scores.OX, p.Scores.DX, p.Scores.EDX,
		p.Flags.BuySignal, p.Flags.TrimFlag, p.EmergencyExit.Active, p.Flags.FakeoutRecovery, blob)
	return classify(err)
}

func (g *PostgresGateway) AppendTradeEvent(ctx context.Context, ev types.TradeEvent) (bool, error) {
	scope, err := json.Marshal(ev.Scope)
	if err != nil {
		return false, errs.Fatal("storage.postgres", "AppendTradeEvent", err)
	}
	tag, err := g.pool.Exec(ctx, `
		INSERT INTO pattern_trade_events (trade_id, position_id, pattern_key, action_category, symbol, bucket, opened_at, closed_at, entry_price, exit_price, rr, pnl_usd, scope)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (trade_id) DO NOTHING
	`, ev.TradeID, ev.PositionID, ev.PatternKey, ev.ActionCategory, ev.Symbol, string(ev.Bucket),
		ev.OpenedAt, ev.ClosedAt, ev.EntryPrice, ev.ExitPrice, ev.RR, ev.PnLUSD, scope)
	if err != nil {
		return false, classify(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (g *PostgresGateway) TradeEventsSince(ctx context.Context, since time.Time) ([]types.TradeEvent, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT trade_id, position_id, pattern_key, action_category, symbol, bucket, opened_at, closed_at, entry_price, exit_price, rr, pnl_usd, scope
		FROM pattern_trade_events WHERE closed_at >= $1 ORDER BY closed_at ASC
	`, since)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []types.TradeEvent
	for rows.Next() {
		var ev types.TradeEvent
		var bucket string
		var scope []byte
		var entry, exit decimal.Decimal
		if err := rows.Scan(&ev.TradeID, &ev.PositionID, &ev.PatternKey, &ev.ActionCategory, &ev.Symbol, &bucket,
			&ev.OpenedAt, &ev.ClosedAt, &entry, &exit, &ev.RR, &ev.PnLUSD, &scope); err != nil {
			return nil, classify(err)
		}
		ev.Bucket = types.Bucket(bucket)
		ev.EntryPrice, ev.ExitPrice = entry, exit
		_ = json.Unmarshal(scope, &ev.Scope)
		out = append(out, ev)
	}
	return out, nil
}

func (g *PostgresGateway) UpsertLesson(ctx context.Context, l types.Lesson) error {
	scope, _ := json.Marshal(l.ScopeSubset)
	_, err := g.pool.Exec(ctx, `
		INSERT INTO learning_lessons (pattern_key, action_category, scope_key, scope_subset, lesson_type, n, avg_rr, shrunk_mean_rr, variance, edge_raw, decay_state, half_life_hours, status, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (pattern_key, action_category, scope_key) DO UPDATE SET
			n = EXCLUDED.n, avg_rr = EXCLUDED.avg_rr, shrunk_mean_rr = EXCLUDED.shrunk_mean_rr,
			variance = EXCLUDED.variance, edge_raw = EXCLUDED.edge_raw, decay_state = EXCLUDED.decay_state,
			half_life_hours = EXCLUDED.half_life_hours, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`, l.PatternKey, l.ActionCategory, l.ScopeKey, scope, string(l.LessonType), l.TradeCount, l.MeanRR,
		l.ShrunkMeanRR, l.Variance, l.EdgeRaw, l.DecayState, l.HalfLifeHours, l.Status, l.UpdatedAt)
	return classify(err)
}

func (g *PostgresGateway) Lessons(ctx context.Context) ([]types.Lesson, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT pattern_key, action_category, scope_key, scope_subset, lesson_type, n, avg_rr, shrunk_mean_rr, variance, edge_raw, decay_state, half_life_hours, status, updated_at
		FROM learning_lessons
	`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []types.Lesson
	for rows.Next() {
		var l types.Lesson
		var lessonType string
		var scope []byte
		if err := rows.Scan(&l.PatternKey, &l.ActionCategory, &l.ScopeKey, &scope, &lessonType, &l.TradeCount,
			&l.MeanRR, &l.ShrunkMeanRR, &l.Variance, &l.EdgeRaw, &l.DecayState, &l.HalfLifeHours, &l.Status, &l.UpdatedAt); err != nil {
			return nil, classify(err)
		}
		l.LessonType = types.LessonType(lessonType)
		_ = json.Unmarshal(scope, &l.ScopeSubset)
		out = append(out, l)
	}
	return out, nil
}

func (g *PostgresGateway) UpsertOverride(ctx context.Context, ov types.Override) error {
	_, err := g.pool.Exec(ctx, `
		INSERT INTO pm_overrides (pattern_key, action_category, scope_key, kind, dial_name, multiplier, confidence_score, decay_state, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (pattern_key, action_category, scope_key, kind, dial_name) DO UPDATE SET
			multiplier = EXCLUDED.multiplier, confidence_score = EXCLUDED.confidence_score,
			decay_state = EXCLUDED.decay_state, updated_at = EXCLUDED.updated_at
	`, ov.PatternKey, ov.ActionCategory, ov.ScopeKey, ov.Kind, ov.DialName, ov.Multiplier, ov.Confidence, ov.DecayState, ov.UpdatedAt)
	return classify(err)
}

func (g *PostgresGateway) Overrides(ctx context.Context) ([]types.Override, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT pattern_key, action_category, scope_key, kind, dial_name, multiplier, confidence_score, decay_state, updated_at
		FROM pm_overrides
	`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []types.Override
	for rows.Next() {
		var ov types.Override
		if err := rows.Scan(&ov.PatternKey, &ov.ActionCategory, &ov.ScopeKey, &ov.Kind, &ov.DialName,
			&ov.Multiplier, &ov.Confidence, &ov.DecayState, &ov.UpdatedAt); err != nil {
			return nil, classify(err)
		}
		out = append(out, ov)
	}
	return out, nil
}

func (g *PostgresGateway) Ping(ctx context.Context) error {
	return classify(g.pool.Ping(ctx))
}

var _ Gateway = (*PostgresGateway)(nil)
