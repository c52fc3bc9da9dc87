// Package risk holds the pre-trade checks applied to proposals before submission.
package risk

import (
	"fmt"
	"sync"
	"time"

	"equity-core/internal/model"
	"equity-core/pkg/exchanges/common"

	"github.com/shopspring/decimal"
)

// Limit levels reported with every decision.
const (
	LevelNormal  = "NORMAL"
	LevelWarning = "WARNING"
	LevelLimit   = "LIMIT"
)

// Limits configures the guard. Zero disables a limit.
type Limits struct {
	MaxOrderQty      int64
	MaxOrderNotional decimal.Decimal
	MaxPositionQty   int64
	MaxDailyOrders   int

	// WarningThreshold is the daily usage ratio that raises the level to WARNING.
	WarningThreshold float64
}

// Decision is the outcome of one check.
type Decision struct {
	Allowed    bool    `json:"allowed"`
	Reason     string  `json:"reason,omitempty"`
	LimitLevel string  `json:"limit_level"`
	UsageRatio float64 `json:"usage_ratio"`
}

// Stats counts checks since start.
type Stats struct {
	Day             string `json:"day"`
	DailyOrders     int    `json:"daily_orders"`
	ChecksTotal     uint64 `json:"checks_total"`
	RejectionsTotal uint64 `json:"rejections_total"`
	WarningsTotal   uint64 `json:"warnings_total"`
}

// Guard evaluates proposals against Limits. Sells are only checked against
// the held quantity so exits are never blocked by entry limits.
type Guard struct {
	mu     sync.Mutex
	limits Limits
	stats  Stats
	loc    *time.Location
	now    func() time.Time
}

func NewGuard(l Limits) *Guard {
	if l.WarningThreshold <= 0 || l.WarningThreshold >= 1 {
		l.WarningThreshold = 0.8
	}
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		loc = time.FixedZone("KST", 9*60*60)
	}
	return &Guard{limits: l, loc: loc, now: time.Now}
}

// rollover resets daily counters at KST midnight. Caller holds mu.
func (g *Guard) rollover() {
	day := g.now().In(g.loc).Format("2006-01-02")
	if day != g.stats.Day {
		g.stats.Day = day
		g.stats.DailyOrders = 0
	}
}

// Check evaluates o given the strategy's current position in the ticker (nil when none).
func (g *Guard) Check(o model.Order, pos *model.Position) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	g.stats.ChecksTotal++

	dec := g.evaluate(o, pos)
	if !dec.Allowed {
		g.stats.RejectionsTotal++
	} else if dec.LimitLevel == LevelWarning {
		g.stats.WarningsTotal++
	}
	return dec
}

func (g *Guard) evaluate(o model.Order, pos *model.Position) Decision {
	var heldQty int64
	if pos != nil {
		heldQty = pos.Quantity
	}
	dec := Decision{Allowed: true, LimitLevel: LevelNormal}

	if o.Quantity <= 0 {
		return reject(dec, fmt.Sprintf("non-positive quantity %d", o.Quantity))
	}
	if o.Action == common.SideSell {
		if o.Quantity > heldQty {
			return reject(dec, fmt.Sprintf("sell %d exceeds held %d", o.Quantity, heldQty))
		}
		return dec
	}

	l := g.limits
	if l.MaxDailyOrders > 0 {
		dec.UsageRatio = float64(g.stats.DailyOrders) / float64(l.MaxDailyOrders)
		if g.stats.DailyOrders >= l.MaxDailyOrders {
			return reject(dec, fmt.Sprintf("daily order limit reached: %d/%d", g.stats.DailyOrders, l.MaxDailyOrders))
		}
		if dec.UsageRatio >= l.WarningThreshold {
			dec.LimitLevel = LevelWarning
		}
	}
	if l.MaxOrderQty > 0 && o.Quantity > l.MaxOrderQty {
		return reject(dec, fmt.Sprintf("order qty too large: %d > %d", o.Quantity, l.MaxOrderQty))
	}
	if l.MaxOrderNotional.IsPositive() {
		notional := o.Price.Mul(decimal.NewFromInt(o.Quantity))
		if notional.GreaterThan(l.MaxOrderNotional) {
			return reject(dec, fmt.Sprintf("order notional too large: %s > %s", notional, l.MaxOrderNotional))
		}
	}
	if l.MaxPositionQty > 0 && heldQty+o.Quantity > l.MaxPositionQty {
		return reject(dec, fmt.Sprintf("position limit: %d + %d > %d", heldQty, o.Quantity, l.MaxPositionQty))
	}
	return dec
}

func reject(dec Decision, reason string) Decision {
	dec.Allowed = false
	dec.Reason = reason
	dec.LimitLevel = LevelLimit
	return dec
}

// RecordSubmission counts an order that reached the exchange.
func (g *Guard) RecordSubmission(o model.Order) {
	if o.Action != common.SideBuy {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	g.stats.DailyOrders++
}

func (g *Guard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover()
	return g.stats
}
