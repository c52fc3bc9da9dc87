package strategy

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"equity-core/internal/indicators"
	"equity-core/internal/model"
	"equity-core/pkg/cache"
	"equity-core/pkg/exchanges/common"

	"github.com/shopspring/decimal"
)

// EnvelopeParams tunes the envelope strategy. Zero values take defaults.
type EnvelopeParams struct {
	Quantity   int64   `json:"qty"`
	BandPct    float64 `json:"band_pct"`
	History    int     `json:"history"`
	RefreshMin int     `json:"refresh_min"`
}

func (p *EnvelopeParams) applyDefaults() {
	if p.Quantity <= 0 {
		p.Quantity = 1
	}
	if p.BandPct <= 0 {
		p.BandPct = 0.5
	}
	if p.History < 20 {
		p.History = 60
	}
	if p.RefreshMin <= 0 {
		p.RefreshMin = 60
	}
}

// chartFrame holds the daily moving averages of one ticker.
type chartFrame struct {
	ma7, ma10, ma20 []float64
}

// Envelope buys near the 7-day average and exits near the 10- or 20-day
// average depending on whether the position is under water.
//
// Entry: flat, and the tick is within BandPct of MA7 as of the previous bar.
// Exit: average price above the tick price and the tick within BandPct of
// MA20; otherwise the tick within BandPct of MA10.
type Envelope struct {
	id      string
	targets []string
	params  EnvelopeParams
	charts  ChartSource
	frames  *cache.Sharded[*chartFrame]
}

func NewEnvelope(id string, targets []string, p EnvelopeParams, charts ChartSource) *Envelope {
	p.applyDefaults()
	return &Envelope{
		id:      id,
		targets: append([]string(nil), targets...),
		params:  p,
		charts:  charts,
		frames:  cache.New[*chartFrame](),
	}
}

func (e *Envelope) ID() string        { return e.id }
func (e *Envelope) Targets() []string { return e.targets }

func (e *Envelope) frame(ctx context.Context, ticker string) (*chartFrame, error) {
	if f, age, ok := e.frames.GetWithAge(ticker); ok && age < time.Duration(e.params.RefreshMin)*time.Minute {
		return f, nil
	}
	candles, err := e.charts.ListCandles(ctx, ticker, e.params.History)
	if err != nil {
		return nil, fmt.Errorf("load chart %s: %w", ticker, err)
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	f := &chartFrame{
		ma7:  indicators.RollingSMA(closes, 7),
		ma10: indicators.RollingSMA(closes, 10),
		ma20: indicators.RollingSMA(closes, 20),
	}
	e.frames.Set(ticker, f)
	return f, nil
}

func (e *Envelope) EvaluateTick(ctx context.Context, tick common.Tick, pos *model.Position) (*model.Order, error) {
	price, err := strconv.ParseFloat(tick.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("tick price %q: %w", tick.Price, err)
	}
	f, err := e.frame(ctx, tick.Ticker)
	if err != nil {
		return nil, err
	}

	if !pos.Open() {
		ma7, ok := indicators.At(f.ma7, -2)
		if !ok || indicators.DistancePct(price, ma7) >= e.params.BandPct {
			return nil, nil
		}
		return e.proposal(tick, common.SideBuy, common.OrderTypeLimit, e.params.Quantity), nil
	}

	ref := f.ma10
	if pos.Price.InexactFloat64() > price {
		ref = f.ma20
	}
	ma, ok := indicators.At(ref, -1)
	if !ok || indicators.DistancePct(price, ma) >= e.params.BandPct {
		return nil, nil
	}
	return e.proposal(tick, common.SideSell, common.OrderTypeMarket, min(e.params.Quantity, pos.Quantity)), nil
}

func (e *Envelope) proposal(tick common.Tick, side common.Side, typ common.OrderType, qty int64) *model.Order {
	price, _ := decimal.NewFromString(tick.Price)
	return &model.Order{
		Ticker:     tick.Ticker,
		Quantity:   qty,
		Price:      price,
		StrategyID: e.id,
		Action:     side,
		OrderType:  typ,
	}
}
