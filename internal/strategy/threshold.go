package strategy

import (
	"context"
	"fmt"

	"equity-core/internal/model"
	"equity-core/pkg/exchanges/common"

	"github.com/shopspring/decimal"
)

// ThresholdParams are fixed price levels. MaxPosition caps accumulation and
// defaults to Quantity.
type ThresholdParams struct {
	Quantity    int64           `json:"qty"`
	BuyBelow    decimal.Decimal `json:"buy_below"`
	SellAbove   decimal.Decimal `json:"sell_above"`
	MaxPosition int64           `json:"max_position"`
}

// Threshold buys at or below one level and liquidates at or above another.
type Threshold struct {
	id      string
	targets []string
	params  ThresholdParams
}

func NewThreshold(id string, targets []string, p ThresholdParams) (*Threshold, error) {
	if p.Quantity <= 0 {
		p.Quantity = 1
	}
	if p.MaxPosition <= 0 {
		p.MaxPosition = p.Quantity
	}
	if !p.BuyBelow.IsPositive() || !p.SellAbove.GreaterThan(p.BuyBelow) {
		return nil, fmt.Errorf("threshold %s: need 0 < buy_below < sell_above", id)
	}
	return &Threshold{id: id, targets: append([]string(nil), targets...), params: p}, nil
}

func (t *Threshold) ID() string        { return t.id }
func (t *Threshold) Targets() []string { return t.targets }

func (t *Threshold) EvaluateTick(_ context.Context, tick common.Tick, pos *model.Position) (*model.Order, error) {
	price, err := tick.PriceDecimal()
	if err != nil {
		return nil, fmt.Errorf("tick price %q: %w", tick.Price, err)
	}

	var held int64
	if pos != nil {
		held = pos.Quantity
	}

	switch {
	case held > 0 && price.GreaterThanOrEqual(t.params.SellAbove):
		return &model.Order{
			Ticker: tick.Ticker, Quantity: held, Price: price,
			StrategyID: t.id, Action: common.SideSell, OrderType: common.OrderTypeMarket,
		}, nil
	case price.LessThanOrEqual(t.params.BuyBelow) && held+t.params.Quantity <= t.params.MaxPosition:
		return &model.Order{
			Ticker: tick.Ticker, Quantity: t.params.Quantity, Price: price,
			StrategyID: t.id, Action: common.SideBuy, OrderType: common.OrderTypeLimit,
		}, nil
	}
	return nil, nil
}
