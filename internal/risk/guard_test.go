package risk

import (
	"testing"
	"time"

	"equity-core/internal/model"
	"equity-core/pkg/exchanges/common"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func order(side common.Side, qty, price int64) model.Order {
	return model.Order{
		Ticker: "005930", Quantity: qty, Price: decimal.NewFromInt(price),
		StrategyID: "envelope", Action: side, OrderType: common.OrderTypeLimit,
	}
}

func TestGuardCheck(t *testing.T) {
	limits := Limits{
		MaxOrderQty:      10,
		MaxOrderNotional: decimal.NewFromInt(1_000_000),
		MaxPositionQty:   12,
	}
	tests := []struct {
		name    string
		order   model.Order
		pos     *model.Position
		allowed bool
	}{
		{"small buy", order(common.SideBuy, 1, 70000), nil, true},
		{"qty over limit", order(common.SideBuy, 11, 1000), nil, false},
		{"notional over limit", order(common.SideBuy, 5, 300000), nil, false},
		{"position limit", order(common.SideBuy, 5, 1000), &model.Position{Quantity: 8}, false},
		{"zero qty", order(common.SideBuy, 0, 1000), nil, false},
		{"sell held", order(common.SideSell, 8, 70000), &model.Position{Quantity: 8}, true},
		{"sell beyond held", order(common.SideSell, 2, 70000), &model.Position{Quantity: 1}, false},
		{"sell without position", order(common.SideSell, 1, 70000), nil, false},
		{"large sell ignores entry limits", order(common.SideSell, 20, 900000), &model.Position{Quantity: 20}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuard(limits)
			dec := g.Check(tt.order, tt.pos)
			assert.Equal(t, tt.allowed, dec.Allowed, dec.Reason)
			if !tt.allowed {
				assert.Equal(t, LevelLimit, dec.LimitLevel)
				assert.NotEmpty(t, dec.Reason)
			}
		})
	}
}

func TestGuardDailyLimitAndRollover(t *testing.T) {
	g := NewGuard(Limits{MaxDailyOrders: 5})
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, g.loc)
	g.now = func() time.Time { return now }

	buy := order(common.SideBuy, 1, 1000)
	for i := 0; i < 4; i++ {
		assert.True(t, g.Check(buy, nil).Allowed)
		g.RecordSubmission(buy)
	}
	dec := g.Check(buy, nil)
	assert.True(t, dec.Allowed)
	assert.Equal(t, LevelWarning, dec.LimitLevel)
	g.RecordSubmission(buy)

	assert.False(t, g.Check(buy, nil).Allowed)
	// Exits stay open after the entry budget is spent.
	assert.True(t, g.Check(order(common.SideSell, 1, 1000), &model.Position{Quantity: 1}).Allowed)

	now = now.Add(24 * time.Hour)
	assert.True(t, g.Check(buy, nil).Allowed)

	st := g.Stats()
	assert.Equal(t, 0, st.DailyOrders)
	assert.EqualValues(t, 1, st.RejectionsTotal)
	assert.EqualValues(t, 1, st.WarningsTotal)
	assert.EqualValues(t, 8, st.ChecksTotal)
}
