package model

import (
	"errors"
	"fmt"
	"time"

	"equity-core/pkg/exchanges/common"

	"github.com/shopspring/decimal"
)

var ErrOversell = errors.New("sell fill exceeds position")

// PositionKey is the natural key of a position.
type PositionKey struct {
	Ticker     string
	StrategyID string
}

func (k PositionKey) String() string {
	return k.Ticker + "/" + k.StrategyID
}

// Position is the holding of one strategy in one ticker.
type Position struct {
	ID         int64           `json:"id"`
	Ticker     string          `json:"ticker"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"` // volume-weighted average entry price
	StrategyID string          `json:"strategy_id"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (p Position) Key() PositionKey {
	return PositionKey{Ticker: p.Ticker, StrategyID: p.StrategyID}
}

// Open reports whether the strategy still holds shares.
func (p *Position) Open() bool {
	return p != nil && p.Quantity > 0
}

// ApplyFill returns the position after f. A nil current position starts from zero.
//
// Buys re-average the entry price: q1 = q0 + qf, p1 = (p0*q0 + pf*qf) / q1.
// Sells reduce quantity at the existing average; a flat position has price zero.
func ApplyFill(current *Position, f Fill) (Position, error) {
	var next Position
	if current != nil {
		next = *current
	} else {
		next = Position{
			Ticker:     f.Ticker,
			StrategyID: f.StrategyID,
			Price:      decimal.Zero,
			CreatedAt:  f.CreatedAt,
		}
	}
	if f.Quantity <= 0 {
		return next, fmt.Errorf("fill %s: non-positive quantity %d", f.OrderID, f.Quantity)
	}

	q0 := decimal.NewFromInt(next.Quantity)
	qf := decimal.NewFromInt(f.Quantity)

	switch f.Action {
	case common.SideBuy:
		q1 := next.Quantity + f.Quantity
		next.Price = next.Price.Mul(q0).Add(f.Price.Mul(qf)).Div(decimal.NewFromInt(q1))
		next.Quantity = q1
	case common.SideSell:
		if f.Quantity > next.Quantity {
			return next, fmt.Errorf("%s: %w (have %d, sold %d)", next.Key(), ErrOversell, next.Quantity, f.Quantity)
		}
		next.Quantity -= f.Quantity
		if next.Quantity == 0 {
			next.Price = decimal.Zero
		}
	default:
		return next, fmt.Errorf("fill %s: unknown action %q", f.OrderID, f.Action)
	}
	next.UpdatedAt = f.CreatedAt
	return next, nil
}
