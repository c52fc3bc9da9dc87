// Package brokertest provides an in-memory gateway for broker and trading tests.
package brokertest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"equity-core/pkg/exchanges/common"
)

// Gateway implements common.MarketGateway and common.OrderEventSource.
type Gateway struct {
	Ticks  chan common.Tick
	Events chan common.OrderEvent

	mu        sync.Mutex
	known     map[string]bool
	subs      map[string]bool
	placed    []common.OrderRequest
	cancelled []string
	nextID    int
	placeErr  error
	hook      func(common.OrderRequest, string)
}

// NewGateway knows the given tickers; subscribing anything else returns common.ErrNotFound.
func NewGateway(tickers ...string) *Gateway {
	g := &Gateway{
		Ticks:  make(chan common.Tick, 64),
		Events: make(chan common.OrderEvent, 64),
		known:  make(map[string]bool),
		subs:   make(map[string]bool),
		nextID: 12345,
	}
	for _, t := range tickers {
		g.known[t] = true
	}
	return g
}

// FailPlacement makes every PlaceOrder return err (nil restores success).
func (g *Gateway) FailPlacement(err error) {
	g.mu.Lock()
	g.placeErr = err
	g.mu.Unlock()
}

// OnPlace runs fn with each accepted request and its assigned order number.
func (g *Gateway) OnPlace(fn func(common.OrderRequest, string)) {
	g.mu.Lock()
	g.hook = fn
	g.mu.Unlock()
}

func (g *Gateway) Placed() []common.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]common.OrderRequest(nil), g.placed...)
}

func (g *Gateway) Subscribed() map[string]bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]bool, len(g.subs))
	for k, v := range g.subs {
		out[k] = v
	}
	return out
}

func (g *Gateway) Cancelled() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancelled...)
}

func (g *Gateway) ConnectTickStream(ctx context.Context) (<-chan common.Tick, error) {
	out := make(chan common.Tick)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-g.Ticks:
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (g *Gateway) Subscribe(ctx context.Context, ticker string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.known[ticker] {
		return fmt.Errorf("ticker %s: %w", ticker, common.ErrNotFound)
	}
	if g.subs[ticker] {
		return common.ErrAlreadySubscribed
	}
	g.subs[ticker] = true
	return nil
}

func (g *Gateway) Unsubscribe(ctx context.Context, ticker string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.subs[ticker] {
		return common.ErrNotSubscribed
	}
	delete(g.subs, ticker)
	return nil
}

func (g *Gateway) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	g.mu.Lock()
	if g.placeErr != nil {
		err := g.placeErr
		g.mu.Unlock()
		return common.OrderResult{}, err
	}
	id := strconv.Itoa(g.nextID)
	g.nextID++
	g.placed = append(g.placed, req)
	hook := g.hook
	g.mu.Unlock()

	if hook != nil {
		hook(req, id)
	}
	return common.OrderResult{ExchangeOrderID: id}, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, req common.CancelRequest) error {
	g.mu.Lock()
	g.cancelled = append(g.cancelled, req.ExchangeOrderID)
	g.mu.Unlock()
	return nil
}

func (g *Gateway) ConnectOrderEvents(ctx context.Context) (<-chan common.OrderEvent, error) {
	out := make(chan common.OrderEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-g.Events:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
