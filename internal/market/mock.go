// Package market provides a synthetic tick feed for local development.
package market

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"equity-core/pkg/exchanges/common"

	"github.com/rs/zerolog/log"
)

// MockFeed generates random-walk ticks for every subscribed ticker. It only
// serves market data; order entry returns ErrNotConnected, so it is meant to
// sit behind the dry-run gateway.
type MockFeed struct {
	StartPrice int64
	Step       int64 // max move per tick in KRW
	Interval   time.Duration
	Seed       int64

	mu        sync.Mutex
	connected bool
	prices    map[string]int64 // subscribed tickers and their last price
	start     map[string]int64
}

var _ common.MarketGateway = (*MockFeed)(nil)

// SetStartPrice seeds ticker's first price, typically from the last daily close.
func (m *MockFeed) SetStartPrice(ticker string, price int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.start == nil {
		m.start = make(map[string]int64)
	}
	m.start[ticker] = price
}

func (m *MockFeed) ConnectTickStream(ctx context.Context) (<-chan common.Tick, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return nil, errors.New("mock feed: tick stream already connected")
	}
	m.connected = true
	if m.prices == nil {
		m.prices = make(map[string]int64)
	}
	if m.StartPrice <= 0 {
		m.StartPrice = 10000
	}
	if m.Step <= 0 {
		m.Step = 50
	}
	if m.Interval <= 0 {
		m.Interval = time.Second
	}
	seed := m.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	out := make(chan common.Tick, 64)
	go m.run(ctx, rand.New(rand.NewSource(seed)), out)
	log.Info().Str("component", "mock_feed").Dur("interval", m.Interval).Msg("mock tick feed started")
	return out, nil
}

func (m *MockFeed) run(ctx context.Context, rng *rand.Rand, out chan<- common.Tick) {
	defer close(out)
	t := time.NewTicker(m.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			for _, tick := range m.step(rng, now) {
				select {
				case out <- tick:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (m *MockFeed) step(rng *rand.Rand, now time.Time) []common.Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	ticks := make([]common.Tick, 0, len(m.prices))
	for ticker, price := range m.prices {
		price += rng.Int63n(2*m.Step+1) - m.Step
		if price < 1 {
			price = 1
		}
		m.prices[ticker] = price
		ticks = append(ticks, common.Tick{
			Ticker:     ticker,
			Price:      strconv.FormatInt(price, 10),
			Volume:     strconv.FormatInt(1+rng.Int63n(100), 10),
			ReceivedAt: now,
		})
	}
	return ticks
}

func (m *MockFeed) Subscribe(_ context.Context, ticker string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return common.ErrNotConnected
	}
	if len(ticker) != 6 {
		return fmt.Errorf("ticker %s: %w", ticker, common.ErrNotFound)
	}
	if _, ok := m.prices[ticker]; ok {
		return common.ErrAlreadySubscribed
	}
	price, ok := m.start[ticker]
	if !ok || price <= 0 {
		price = m.StartPrice
	}
	m.prices[ticker] = price
	return nil
}

func (m *MockFeed) Unsubscribe(_ context.Context, ticker string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.prices[ticker]; !ok {
		return common.ErrNotSubscribed
	}
	delete(m.prices, ticker)
	return nil
}

func (m *MockFeed) PlaceOrder(context.Context, common.OrderRequest) (common.OrderResult, error) {
	return common.OrderResult{}, common.ErrNotConnected
}

func (m *MockFeed) CancelOrder(context.Context, common.CancelRequest) error {
	return common.ErrNotConnected
}
