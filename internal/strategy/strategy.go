package strategy

import (
	"context"

	"equity-core/internal/model"
	"equity-core/pkg/exchanges/common"
)

// Strategy maps a tick and the strategy's current position in that ticker to
// an optional order proposal. Implementations must not mutate shared state;
// every change goes through the returned proposal. Each instance is driven
// by a single goroutine.
type Strategy interface {
	// ID returns the unique instance ID; it is also the position's strategy_id.
	ID() string
	// Targets lists the tickers the strategy wants ticks for.
	Targets() []string
	// EvaluateTick returns nil when there is nothing to do. pos is nil when the
	// strategy has never held the ticker.
	EvaluateTick(ctx context.Context, tick common.Tick, pos *model.Position) (*model.Order, error)
}

// ChartSource serves stored daily bars, oldest first.
type ChartSource interface {
	ListCandles(ctx context.Context, ticker string, limit int) ([]model.Candle, error)
}
