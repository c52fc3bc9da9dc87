package model

import (
	"testing"
	"time"

	"equity-core/pkg/exchanges/common"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(action common.Side, qty int64, price string) Fill {
	return Fill{
		OrderID:    "1",
		Ticker:     "005930",
		StrategyID: "envelope",
		Action:     action,
		Quantity:   qty,
		Price:      decimal.RequireFromString(price),
		CreatedAt:  time.Now(),
	}
}

func TestApplyFillWeightedAverage(t *testing.T) {
	current := &Position{Ticker: "005930", StrategyID: "envelope", Quantity: 10, Price: decimal.NewFromInt(100)}

	next, err := ApplyFill(current, fill(common.SideBuy, 5, "110"))
	require.NoError(t, err)

	assert.Equal(t, int64(15), next.Quantity)
	assert.Equal(t, "103.33", next.Price.StringFixed(2))
	assert.Equal(t, int64(10), current.Quantity, "input must not be mutated")
}

func TestApplyFillFromNothing(t *testing.T) {
	tests := []struct {
		name    string
		current *Position
	}{
		{"nil position", nil},
		{"zero position", &Position{Ticker: "005930", StrategyID: "envelope", Price: decimal.Zero}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := ApplyFill(tt.current, fill(common.SideBuy, 3, "50"))
			require.NoError(t, err)
			assert.Equal(t, int64(3), next.Quantity)
			assert.True(t, next.Price.Equal(decimal.NewFromInt(50)), "got %s", next.Price)
			assert.Equal(t, "005930", next.Ticker)
			assert.Equal(t, "envelope", next.StrategyID)
		})
	}
}

func TestApplyFillSell(t *testing.T) {
	current := &Position{Ticker: "005930", StrategyID: "envelope", Quantity: 4, Price: decimal.NewFromInt(70000)}

	next, err := ApplyFill(current, fill(common.SideSell, 1, "71000"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), next.Quantity)
	assert.True(t, next.Price.Equal(decimal.NewFromInt(70000)))

	flat, err := ApplyFill(&next, fill(common.SideSell, 3, "71000"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), flat.Quantity)
	assert.True(t, flat.Price.IsZero())
	assert.False(t, flat.Open())
}

func TestApplyFillRejectsOversell(t *testing.T) {
	current := &Position{Ticker: "005930", StrategyID: "envelope", Quantity: 1, Price: decimal.NewFromInt(100)}

	_, err := ApplyFill(current, fill(common.SideSell, 2, "100"))
	assert.ErrorIs(t, err, ErrOversell)

	_, err = ApplyFill(nil, fill(common.SideSell, 1, "100"))
	assert.ErrorIs(t, err, ErrOversell)
}

func TestApplyFillRejectsBadInput(t *testing.T) {
	_, err := ApplyFill(nil, fill(common.SideBuy, 0, "100"))
	assert.Error(t, err)

	_, err = ApplyFill(nil, fill(common.Side("HOLD"), 1, "100"))
	assert.Error(t, err)
}
