package strategy

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"equity-core/internal/model"
	"equity-core/pkg/db"
	"equity-core/pkg/exchanges/common"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCharts struct {
	closes map[string][]float64
	loads  atomic.Int32
}

func (m *memCharts) ListCandles(_ context.Context, ticker string, limit int) ([]model.Candle, error) {
	m.loads.Add(1)
	closes := m.closes[ticker]
	if len(closes) > limit {
		closes = closes[len(closes)-limit:]
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = model.Candle{Ticker: ticker, Open: c, High: c, Low: c, Close: c, Volume: 1000, Datetime: start.AddDate(0, 0, i)}
	}
	return out, nil
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func tick(ticker, price string) common.Tick {
	return common.Tick{Ticker: ticker, Price: price, Volume: "1", ReceivedAt: time.Now()}
}

func held(qty int64, avg int64) *model.Position {
	return &model.Position{Ticker: "005930", StrategyID: "envelope", Quantity: qty, Price: decimal.NewFromInt(avg)}
}

func TestEnvelopeBuysNearMA7(t *testing.T) {
	charts := &memCharts{closes: map[string][]float64{"005930": repeat(100, 20)}}
	env := NewEnvelope("envelope", []string{"005930"}, EnvelopeParams{}, charts)
	ctx := context.Background()

	o, err := env.EvaluateTick(ctx, tick("005930", "100.3"), nil)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, common.SideBuy, o.Action)
	assert.Equal(t, common.OrderTypeLimit, o.OrderType)
	assert.EqualValues(t, 1, o.Quantity)
	assert.Equal(t, "envelope", o.StrategyID)
	assert.True(t, o.Price.Equal(decimal.RequireFromString("100.3")))

	o, err = env.EvaluateTick(ctx, tick("005930", "101"), nil)
	require.NoError(t, err)
	assert.Nil(t, o)

	// A flat position row behaves like no position.
	o, err = env.EvaluateTick(ctx, tick("005930", "100"), held(0, 0))
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, common.SideBuy, o.Action)

	assert.EqualValues(t, 1, charts.loads.Load(), "chart frame is cached")
}

func TestEnvelopeSellReference(t *testing.T) {
	// ma10 = 100, ma20 = 90 on the last bar.
	closes := append(repeat(80, 10), repeat(100, 10)...)
	env := NewEnvelope("envelope", []string{"005930"}, EnvelopeParams{}, &memCharts{closes: map[string][]float64{"005930": closes}})
	ctx := context.Background()

	// In profit: exit near ma10.
	o, err := env.EvaluateTick(ctx, tick("005930", "100.2"), held(1, 95))
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, common.SideSell, o.Action)
	assert.Equal(t, common.OrderTypeMarket, o.OrderType)

	// Under water: ma20 is far away, no exit.
	o, err = env.EvaluateTick(ctx, tick("005930", "100.2"), held(1, 110))
	require.NoError(t, err)
	assert.Nil(t, o)

	// Under water and near ma20.
	o, err = env.EvaluateTick(ctx, tick("005930", "90.2"), held(3, 110))
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.EqualValues(t, 1, o.Quantity)
}

func TestEnvelopeNeedsHistory(t *testing.T) {
	env := NewEnvelope("envelope", []string{"005930"}, EnvelopeParams{}, &memCharts{closes: map[string][]float64{"005930": repeat(100, 5)}})
	o, err := env.EvaluateTick(context.Background(), tick("005930", "100"), nil)
	require.NoError(t, err)
	assert.Nil(t, o)

	_, err = env.EvaluateTick(context.Background(), tick("005930", "abc"), nil)
	assert.Error(t, err)
}

func TestThreshold(t *testing.T) {
	th, err := NewThreshold("th", []string{"000660"}, ThresholdParams{
		Quantity: 2, BuyBelow: decimal.NewFromInt(100), SellAbove: decimal.NewFromInt(120),
	})
	require.NoError(t, err)
	ctx := context.Background()

	o, err := th.EvaluateTick(ctx, tick("000660", "99"), nil)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, common.SideBuy, o.Action)
	assert.EqualValues(t, 2, o.Quantity)

	// Already at max position.
	o, err = th.EvaluateTick(ctx, tick("000660", "99"), &model.Position{Quantity: 2})
	require.NoError(t, err)
	assert.Nil(t, o)

	o, err = th.EvaluateTick(ctx, tick("000660", "121"), &model.Position{Quantity: 2})
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, common.SideSell, o.Action)
	assert.EqualValues(t, 2, o.Quantity)

	o, err = th.EvaluateTick(ctx, tick("000660", "110"), &model.Position{Quantity: 2})
	require.NoError(t, err)
	assert.Nil(t, o)

	_, err = NewThreshold("bad", nil, ThresholdParams{BuyBelow: decimal.NewFromInt(10), SellAbove: decimal.NewFromInt(5)})
	assert.Error(t, err)
}

const sampleYAML = `
strategies:
  - id: envelope
    type: envelope
    symbols: ["005930", "000660"]
    parameters:
      band_pct: 0.5
    is_active: true
  - id: dip
    type: threshold
    symbols: ["000660"]
    parameters:
      qty: 1
      buy_below: 100000
      sell_above: 130000
    is_active: true
  - id: parked
    type: threshold
    symbols: ["035720"]
    is_active: false
`

func TestLoadBuildAndSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfgs, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfgs, 3)

	strategies, err := BuildAll(cfgs, Deps{Charts: &memCharts{}})
	require.NoError(t, err)
	require.Len(t, strategies, 2)
	assert.Equal(t, "envelope", strategies[0].ID())
	assert.Equal(t, []string{"005930", "000660"}, strategies[0].Targets())
	th := strategies[1].(*Threshold)
	assert.True(t, th.params.SellAbove.Equal(decimal.NewFromInt(130000)))

	d, err := db.New(":memory:")
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, db.ApplyMigrations(d))
	require.NoError(t, SyncConfig(context.Background(), d, cfgs))

	var n int
	require.NoError(t, d.DB.QueryRow(`SELECT COUNT(*) FROM strategy_instances`).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestConfigValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
strategies:
  - {id: a, type: threshold, symbols: ["1"]}
  - {id: a, type: threshold, symbols: ["2"]}
`), 0o600))
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "duplicate")

	_, err = Build(Config{ID: "x", Type: "martingale", Symbols: []string{"1"}}, Deps{})
	assert.ErrorIs(t, err, ErrUnknownType)
}
