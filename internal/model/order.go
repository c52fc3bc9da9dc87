package model

import (
	"time"

	"equity-core/pkg/exchanges/common"

	"github.com/shopspring/decimal"
)

// Order is a strategy proposal or, once ID is set, a submitted order.
type Order struct {
	ID         string           `json:"id"` // exchange order number; empty until submitted
	Ticker     string           `json:"ticker"`
	Quantity   int64            `json:"quantity"`
	Price      decimal.Decimal  `json:"price"`
	StrategyID string           `json:"strategy_id"`
	Action     common.Side      `json:"action"`
	OrderType  common.OrderType `json:"order_type"`
	Accepted   bool             `json:"accepted"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Submitted reports whether the exchange has assigned an order number.
func (o Order) Submitted() bool {
	return o.ID != ""
}

// Request converts the order into a brokerage request.
func (o Order) Request() common.OrderRequest {
	return common.OrderRequest{
		Ticker: o.Ticker,
		Side:   o.Action,
		Type:   o.OrderType,
		Qty:    o.Quantity,
		Price:  o.Price,
	}
}

// Fill records an accepted execution against an order.
type Fill struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	Ticker     string          `json:"ticker"`
	StrategyID string          `json:"strategy_id"`
	Action     common.Side     `json:"action"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	CreatedAt  time.Time       `json:"created_at"`
}

// FillFromOrder builds the fill implied by a fully executed order.
func FillFromOrder(id string, o Order, at time.Time) Fill {
	return Fill{
		ID:         id,
		OrderID:    o.ID,
		Ticker:     o.Ticker,
		StrategyID: o.StrategyID,
		Action:     o.Action,
		Quantity:   o.Quantity,
		Price:      o.Price,
		CreatedAt:  at,
	}
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	PendingOnly bool
	Ticker      string
	Limit       int
}

// EffectiveLimit caps the listing size.
func (f OrderFilter) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > 500 {
		return 500
	}
	return f.Limit
}
