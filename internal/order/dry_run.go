package order

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"equity-core/pkg/exchanges/common"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DryRunGateway keeps the real tick feed but simulates order entry. Each
// placed order gets a sequential number and produces a Wait event, then a
// Success event after the configured latency unless cancelled first.
type DryRunGateway struct {
	common.MarketGateway // tick stream and subscriptions

	latency time.Duration
	seq     atomic.Int64
	log     zerolog.Logger

	mu      sync.Mutex
	events  chan common.OrderEvent
	ctx     context.Context
	pending map[string]common.OrderRequest
}

var (
	_ common.MarketGateway    = (*DryRunGateway)(nil)
	_ common.OrderEventSource = (*DryRunGateway)(nil)
)

// NewDryRunGateway wraps feed. Order numbers start after seed.
func NewDryRunGateway(feed common.MarketGateway, latency time.Duration, seed int64) *DryRunGateway {
	g := &DryRunGateway{
		MarketGateway: feed,
		latency:       latency,
		log:           log.With().Str("component", "dry_run").Logger(),
		pending:       make(map[string]common.OrderRequest),
	}
	g.seq.Store(seed)
	return g
}

// ConnectOrderEvents returns the channel simulated events are delivered on.
func (g *DryRunGateway) ConnectOrderEvents(ctx context.Context) (<-chan common.OrderEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.events != nil {
		return nil, fmt.Errorf("dry run: order events already connected")
	}
	g.events = make(chan common.OrderEvent, 64)
	g.ctx = ctx
	return g.events, nil
}

func (g *DryRunGateway) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if req.Ticker == "" || req.Qty <= 0 {
		return common.OrderResult{}, &common.OrderRejectedError{Code: "DRY", Message: "ticker and positive qty required"}
	}
	id := strconv.FormatInt(g.seq.Add(1), 10)

	g.mu.Lock()
	g.pending[id] = req
	g.mu.Unlock()

	g.log.Info().
		Str("order_no", id).
		Str("ticker", req.Ticker).
		Str("side", string(req.Side)).
		Int64("qty", req.Qty).
		Str("price", req.Price.String()).
		Msg("dry-run order placed")

	go g.simulate(id, req)
	return common.OrderResult{ExchangeOrderID: id}, nil
}

func (g *DryRunGateway) simulate(id string, req common.OrderRequest) {
	g.emit(common.OrderEvent{ID: id, Kind: common.OrderEventWait, ReceivedAt: time.Now()})
	time.Sleep(g.latency)

	g.mu.Lock()
	_, live := g.pending[id]
	delete(g.pending, id)
	g.mu.Unlock()
	if !live {
		return
	}
	ev := common.OrderEvent{ID: id, Kind: common.OrderEventSuccess, ExecQty: req.Qty, ReceivedAt: time.Now()}
	if req.Type == common.OrderTypeLimit {
		ev.ExecPrice = req.Price
	}
	g.emit(ev)
}

func (g *DryRunGateway) CancelOrder(ctx context.Context, req common.CancelRequest) error {
	g.mu.Lock()
	_, live := g.pending[req.ExchangeOrderID]
	delete(g.pending, req.ExchangeOrderID)
	g.mu.Unlock()
	if !live {
		return &common.OrderRejectedError{Code: "DRY", Message: "order " + req.ExchangeOrderID + " not cancellable"}
	}
	g.emit(common.OrderEvent{ID: req.ExchangeOrderID, Kind: common.OrderEventCancel, ReceivedAt: time.Now()})
	return nil
}

func (g *DryRunGateway) emit(ev common.OrderEvent) {
	g.mu.Lock()
	ch, ctx := g.events, g.ctx
	g.mu.Unlock()
	if ch == nil {
		g.log.Warn().Str("order_no", ev.ID).Str("kind", string(ev.Kind)).Msg("no event consumer, dropping")
		return
	}
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}
