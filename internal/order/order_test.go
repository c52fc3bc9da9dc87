package order

import (
	"context"
	"testing"
	"time"

	"equity-core/internal/model"
	"equity-core/pkg/exchanges/common"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proposal(ticker string) model.Order {
	return model.Order{
		Ticker: ticker, Quantity: 1, Price: decimal.NewFromInt(70000),
		StrategyID: "envelope", Action: common.SideBuy, OrderType: common.OrderTypeLimit,
	}
}

func TestQueueDrainInOrder(t *testing.T) {
	q := NewQueue(4)
	ctx, cancel := context.WithCancel(context.Background())

	require.True(t, q.Enqueue(ctx, proposal("A")))
	require.True(t, q.Enqueue(ctx, proposal("B")))
	assert.Equal(t, 2, q.Len())

	var got []string
	done := make(chan struct{})
	go func() {
		q.Drain(ctx, func(o model.Order) {
			got = append(got, o.Ticker)
			if len(got) == 2 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drain did not stop on cancel")
	}
	assert.Equal(t, []string{"A", "B"}, got)
}

func TestQueueEnqueueRespectsCancel(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, q.Enqueue(ctx, proposal("A")))
	cancel()
	assert.False(t, q.Enqueue(ctx, proposal("B")))
}

func TestOutboxRecoversUnresolvedIntents(t *testing.T) {
	dir := t.TempDir()

	ob, err := OpenOutbox(dir)
	require.NoError(t, err)

	done, err := ob.Record(proposal("005930"))
	require.NoError(t, err)
	failed, err := ob.Record(proposal("000660"))
	require.NoError(t, err)
	_, err = ob.Record(proposal("035720"))
	require.NoError(t, err)

	require.NoError(t, ob.Complete(done, "12345"))
	require.NoError(t, ob.Abandon(failed, "rejected"))
	require.NoError(t, ob.Complete("unknown", "1"))

	m := ob.Metrics()
	assert.Equal(t, uint64(3), m.Written)
	assert.Equal(t, uint64(1), m.Completed)
	assert.Equal(t, uint64(1), m.Abandoned)
	require.NoError(t, ob.Close())

	reopened, err := OpenOutbox(dir)
	require.NoError(t, err)
	defer reopened.Close()

	open := reopened.Unresolved()
	require.Len(t, open, 1)
	assert.Equal(t, "035720", open[0].Order.Ticker)
	assert.True(t, open[0].Order.Price.Equal(decimal.NewFromInt(70000)))

	require.NoError(t, reopened.Complete(open[0].Key, "12346"))
	assert.Empty(t, reopened.Unresolved())
}

func TestDryRunGatewayEmitsWaitThenSuccess(t *testing.T) {
	g := NewDryRunGateway(nil, 10*time.Millisecond, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := g.ConnectOrderEvents(ctx)
	require.NoError(t, err)

	res, err := g.PlaceOrder(ctx, proposal("005930").Request())
	require.NoError(t, err)
	assert.Equal(t, "1001", res.ExchangeOrderID)

	res2, err := g.PlaceOrder(ctx, proposal("000660").Request())
	require.NoError(t, err)
	assert.Equal(t, "1002", res2.ExchangeOrderID)

	kinds := map[string][]common.OrderEventKind{}
	deadline := time.After(2 * time.Second)
	for len(kinds["1001"]) < 2 || len(kinds["1002"]) < 2 {
		select {
		case ev := <-events:
			kinds[ev.ID] = append(kinds[ev.ID], ev.Kind)
			if ev.Kind == common.OrderEventSuccess {
				assert.Equal(t, int64(1), ev.ExecQty)
				assert.True(t, ev.ExecPrice.Equal(decimal.NewFromInt(70000)))
			}
		case <-deadline:
			t.Fatalf("events so far: %v", kinds)
		}
	}
	want := []common.OrderEventKind{common.OrderEventWait, common.OrderEventSuccess}
	assert.Equal(t, want, kinds["1001"])
	assert.Equal(t, want, kinds["1002"])
}

func TestDryRunGatewayCancelBeforeFill(t *testing.T) {
	g := NewDryRunGateway(nil, 100*time.Millisecond, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := g.ConnectOrderEvents(ctx)
	require.NoError(t, err)

	res, err := g.PlaceOrder(ctx, proposal("005930").Request())
	require.NoError(t, err)
	require.NoError(t, g.CancelOrder(ctx, common.CancelRequest{ExchangeOrderID: res.ExchangeOrderID, Ticker: "005930", Qty: 1}))

	var got []common.OrderEventKind
	timeout := time.After(300 * time.Millisecond)
loop:
	for {
		select {
		case ev := <-events:
			got = append(got, ev.Kind)
		case <-timeout:
			break loop
		}
	}
	assert.ElementsMatch(t, []common.OrderEventKind{common.OrderEventWait, common.OrderEventCancel}, got)

	err = g.CancelOrder(ctx, common.CancelRequest{ExchangeOrderID: res.ExchangeOrderID})
	assert.True(t, common.IsRejected(err))
}
