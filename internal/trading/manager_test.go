package trading

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"equity-core/internal/balance"
	"equity-core/internal/broker"
	"equity-core/internal/broker/brokertest"
	"equity-core/internal/events"
	"equity-core/internal/model"
	"equity-core/internal/repository"
	"equity-core/internal/risk"
	"equity-core/internal/strategy"
	"equity-core/pkg/db"
	"equity-core/pkg/exchanges/common"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	gw      *brokertest.Gateway
	db      *db.Database
	repo    *repository.Repository
	bus     *events.Bus
	manager *Manager
}

func newHarness(t *testing.T, guard *risk.Guard, tickers ...string) *harness {
	t.Helper()
	d, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(d))
	t.Cleanup(func() { d.Close() })

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	gw := brokertest.NewGateway(tickers...)
	repo := repository.New(d)
	b := broker.New(gw, gw, repo, broker.Options{Bus: bus})
	return &harness{
		gw: gw, db: d, repo: repo, bus: bus,
		manager: NewManager(b, repo, Options{Guard: guard, Bus: bus}),
	}
}

// start runs the manager and returns a stop function that waits for it.
func (h *harness) start(t *testing.T) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.manager.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("manager did not stop")
		}
	}
}

type recorder struct {
	id      string
	targets []string
	qty     int64

	mu   sync.Mutex
	seen []string
}

func (r *recorder) ID() string        { return r.id }
func (r *recorder) Targets() []string { return r.targets }

func (r *recorder) EvaluateTick(_ context.Context, tick common.Tick, _ *model.Position) (*model.Order, error) {
	r.mu.Lock()
	r.seen = append(r.seen, tick.Price)
	r.mu.Unlock()
	if r.qty == 0 {
		return nil, nil
	}
	return &model.Order{
		Ticker: tick.Ticker, Quantity: r.qty, Price: decimal.RequireFromString(tick.Price),
		Action: common.SideBuy, OrderType: common.OrderTypeLimit,
	}, nil
}

func (r *recorder) Seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func TestTargetsUnion(t *testing.T) {
	h := newHarness(t, nil)
	h.manager.AddStrategy(&recorder{id: "a", targets: []string{"005930", "000660"}})
	h.manager.AddStrategy(&recorder{id: "b", targets: []string{"000660", "035720"}})
	assert.Equal(t, []string{"005930", "000660", "035720"}, h.manager.Targets())
}

func TestRunWithoutStrategies(t *testing.T) {
	h := newHarness(t, nil)
	assert.Error(t, h.manager.Run(context.Background()))
}

func TestTicksFanOutInOrder(t *testing.T) {
	h := newHarness(t, nil, "005930", "000660")
	a := &recorder{id: "a", targets: []string{"005930"}}
	b := &recorder{id: "b", targets: []string{"005930"}}
	other := &recorder{id: "other", targets: []string{"000660"}}
	h.manager.AddStrategy(a)
	h.manager.AddStrategy(b)
	h.manager.AddStrategy(other)
	stop := h.start(t)
	defer stop()

	var want []string
	for i := 0; i < 40; i++ {
		p := fmt.Sprintf("%d", 70000+i)
		want = append(want, p)
		h.gw.Ticks <- common.Tick{Ticker: "005930", Price: p, Volume: "1"}
	}

	require.Eventually(t, func() bool {
		return len(a.Seen()) == len(want) && len(b.Seen()) == len(want)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, a.Seen())
	assert.Equal(t, want, b.Seen())
	assert.Empty(t, other.Seen())

	st := h.manager.Status()
	assert.True(t, st.Running)
	assert.ElementsMatch(t, []string{"a", "b", "other"}, st.Strategies)
}

func TestRiskGuardDropsProposal(t *testing.T) {
	h := newHarness(t, risk.NewGuard(risk.Limits{MaxOrderQty: 1}), "005930")
	h.manager.AddStrategy(&recorder{id: "greedy", targets: []string{"005930"}, qty: 5})
	dropped, unsub := h.bus.Subscribe(events.EventProposalDropped, 4)
	defer unsub()
	stop := h.start(t)
	defer stop()

	h.gw.Ticks <- common.Tick{Ticker: "005930", Price: "70000", Volume: "1"}
	select {
	case msg := <-dropped:
		u := msg.(events.OrderUpdate)
		assert.Equal(t, "greedy", u.Order.StrategyID)
		assert.Contains(t, u.Reason, "qty")
	case <-time.After(2 * time.Second):
		t.Fatal("proposal was not dropped")
	}
	assert.Empty(t, h.gw.Placed())
}

type fixedCash struct{ amount decimal.Decimal }

func (f fixedCash) Balance(context.Context) (decimal.Decimal, error) { return f.amount, nil }

func TestInsufficientCashDropsBuy(t *testing.T) {
	h := newHarness(t, nil, "005930")
	cash := balance.NewManager(fixedCash{decimal.NewFromInt(100000)}, time.Minute)
	require.NoError(t, cash.Sync(context.Background()))
	h.manager.cash = cash
	h.manager.AddStrategy(&recorder{id: "big", targets: []string{"005930"}, qty: 2})
	dropped, unsub := h.bus.Subscribe(events.EventProposalDropped, 4)
	defer unsub()
	stop := h.start(t)
	defer stop()

	h.gw.Ticks <- common.Tick{Ticker: "005930", Price: "70000", Volume: "1"}
	select {
	case msg := <-dropped:
		assert.Contains(t, msg.(events.OrderUpdate).Reason, "insufficient cash")
	case <-time.After(2 * time.Second):
		t.Fatal("proposal was not dropped")
	}
	assert.Empty(t, h.gw.Placed())
	assert.True(t, cash.GetBalance().Reserved.IsZero())
}

func TestEnvelopeEndToEnd(t *testing.T) {
	h := newHarness(t, nil, "005930")
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var candles []model.Candle
	for i := 0; i < 20; i++ {
		candles = append(candles, model.Candle{
			Ticker: "005930", Open: 70000, High: 70000, Low: 70000, Close: 70000,
			Volume: 1000, Datetime: start.AddDate(0, 0, i),
		})
	}
	require.NoError(t, h.db.UpsertCandles(ctx, candles))

	h.manager.AddStrategy(strategy.NewEnvelope("envelope", []string{"005930"}, strategy.EnvelopeParams{}, h.repo.Store()))
	dropped, unsub := h.bus.Subscribe(events.EventProposalDropped, 4)
	defer unsub()
	stop := h.start(t)
	defer stop()

	tick := common.Tick{Ticker: "005930", Price: "70000", Volume: "10"}
	h.gw.Ticks <- tick

	// Buy 1 @ 70000 is submitted and persisted as pending under "12345".
	require.Eventually(t, func() bool {
		o, err := h.repo.GetOrder(ctx, "12345")
		return err == nil && !o.Accepted
	}, 2*time.Second, 10*time.Millisecond)
	placed := h.gw.Placed()
	require.Len(t, placed, 1)
	assert.Equal(t, common.SideBuy, placed[0].Side)
	assert.EqualValues(t, 1, placed[0].Qty)
	pending, err := h.repo.HasPendingOrder(ctx, "005930")
	require.NoError(t, err)
	assert.True(t, pending)

	// While pending, the next proposal for the ticker is discarded.
	h.gw.Ticks <- tick
	select {
	case msg := <-dropped:
		assert.Equal(t, "ticker has a pending order", msg.(events.OrderUpdate).Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("duplicate proposal was not dropped")
	}
	assert.Len(t, h.gw.Placed(), 1)

	h.gw.Events <- common.OrderEvent{ID: "12345", Kind: common.OrderEventSuccess}
	require.Eventually(t, func() bool {
		pos, err := h.repo.GetPosition(ctx, "005930", "envelope")
		return err == nil && pos != nil && pos.Quantity == 1
	}, 2*time.Second, 10*time.Millisecond)

	o, err := h.repo.GetOrder(ctx, "12345")
	require.NoError(t, err)
	assert.True(t, o.Accepted)
	pending, err = h.repo.HasPendingOrder(ctx, "005930")
	require.NoError(t, err)
	assert.False(t, pending)

	// The ticker is free again; holding at the average, the strategy exits.
	h.gw.Ticks <- tick
	require.Eventually(t, func() bool { return len(h.gw.Placed()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, common.SideSell, h.gw.Placed()[1].Side)
	assert.Equal(t, common.OrderTypeMarket, h.gw.Placed()[1].Type)
}
