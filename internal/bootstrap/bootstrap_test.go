package bootstrap_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lowcap-labs/regime-engine/internal/bootstrap"
	"github.com/lowcap-labs/regime-engine/internal/collector"
	"github.com/lowcap-labs/regime-engine/internal/storage"
	"github.com/lowcap-labs/regime-engine/pkg/types"
)

type fakeSource struct{ bars int }

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) FetchKlines(ctx context.Context, symbol string, tf types.Timeframe, start, end time.Time) ([]types.Bar, error) {
	out := make([]types.Bar, 0, f.bars)
	ts := start
	step := time.Minute
	switch tf {
	case types.TF1h:
		step = time.Hour
	case types.TF1d:
		step = 24 * time.Hour
	}
	for i := 0; i < f.bars; i++ {
		out = append(out, types.Bar{
			Source: symbol, Timeframe: tf, Timestamp: ts,
			Open: decimal.NewFromInt(100), High: decimal.NewFromInt(101),
			Low: decimal.NewFromInt(99), Close: decimal.NewFromInt(100),
			Volume: decimal.NewFromInt(10),
		})
		ts = ts.Add(step)
	}
	return out, nil
}

func (f *fakeSource) StreamKlines(ctx context.Context, symbol string, tf types.Timeframe, out chan<- types.Bar) error {
	return nil
}

func TestBootstrapDegradesWhenRequiredSourceMissing(t *testing.T) {
	gw := storage.NewMemoryGateway(zap.NewNop())
	b := bootstrap.New(zap.NewNop(), gw, map[string]collector.CandleSource{}, bootstrap.DefaultConfig())

	report := b.Run(context.Background())
	require.Equal(t, bootstrap.StatusDegraded, report.Status)
	require.Len(t, report.Steps, 9)
}

func TestBootstrapCreatesAllDriverPositions(t *testing.T) {
	gw := storage.NewMemoryGateway(zap.NewNop())
	sources := map[string]collector.CandleSource{
		"BTC": &fakeSource{bars: 5},
		"ALT": &fakeSource{bars: 5},
	}
	b := bootstrap.New(zap.NewNop(), gw, sources, bootstrap.DefaultConfig())
	b.Run(context.Background())

	pos, err := gw.GetPosition(context.Background(), "BTC:1m")
	require.NoError(t, err)
	require.True(t, pos.IsOpen)
}

func TestBootstrapNotFailedWhenFullyBackfilled(t *testing.T) {
	gw := storage.NewMemoryGateway(zap.NewNop())
	sources := map[string]collector.CandleSource{
		"BTC": &fakeSource{bars: bootstrap.MinBars},
		"ALT": &fakeSource{bars: bootstrap.MinBars},
	}
	b := bootstrap.New(zap.NewNop(), gw, sources, bootstrap.DefaultConfig())
	report := b.Run(context.Background())

	require.NotEqual(t, bootstrap.StatusFailed, report.Status)
}
