package strategy_test

import (
	"context"
	"fmt"

	"equity-core/internal/model"
	"equity-core/internal/strategy"
	"equity-core/pkg/exchanges/common"

	"github.com/shopspring/decimal"
)

// A threshold strategy built from the same shape strategies.yaml decodes into.
func ExampleBuild() {
	s, err := strategy.Build(strategy.Config{
		ID:      "dip-buyer",
		Type:    "threshold",
		Symbols: []string{"005930"},
		Parameters: map[string]any{
			"qty":          1,
			"buy_below":    "68000",
			"sell_above":   "72000",
			"max_position": 2,
		},
		IsActive: true,
	}, strategy.Deps{})
	if err != nil {
		fmt.Println(err)
		return
	}

	ctx := context.Background()
	buy, _ := s.EvaluateTick(ctx, common.Tick{Ticker: "005930", Price: "67900"}, nil)
	fmt.Println(buy.Action, buy.Quantity, buy.Price, buy.OrderType)

	held := &model.Position{Ticker: "005930", StrategyID: "dip-buyer", Quantity: 2, Price: decimal.NewFromInt(67900)}
	sell, _ := s.EvaluateTick(ctx, common.Tick{Ticker: "005930", Price: "72100"}, held)
	fmt.Println(sell.Action, sell.Quantity, sell.OrderType)

	none, _ := s.EvaluateTick(ctx, common.Tick{Ticker: "005930", Price: "70000"}, held)
	fmt.Println(none == nil)
	// Output:
	// BUY 1 67900 LIMIT
	// SELL 2 MARKET
	// true
}
