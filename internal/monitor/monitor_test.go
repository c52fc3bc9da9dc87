package monitor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"equity-core/internal/events"
	"equity-core/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureSink) Send(m string) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func TestMonitorAlertsOnRejection(t *testing.T) {
	bus := events.NewBus()
	sink := &captureSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	(&Monitor{Bus: bus, Sink: sink}).Start(ctx)
	bus.Publish(events.EventOrderRejected, events.OrderUpdate{
		Order:  model.Order{Ticker: "005930", Quantity: 1, Action: "BUY"},
		Reason: "insufficient funds",
	})

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 10*time.Millisecond)
	assert.True(t, strings.Contains(sink.all()[0], "insufficient funds"))
}

func TestSystemMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSystemMetrics(reg)

	m.IncrementTicks()
	m.IncrementTicks()
	m.ObserveOrder("submitted", 5*time.Millisecond)
	m.ObserveOrder("rejected", time.Millisecond)
	m.ObserveProposal("envelope", "queued")
	m.SetTickDropped("envelope", 3)

	snap := m.GetSnapshot()
	assert.Equal(t, uint64(2), snap.TicksProcessed)
	assert.Equal(t, uint64(1), snap.OrdersSubmitted)
	assert.Equal(t, uint64(1), snap.Proposals)
	assert.Equal(t, uint64(3), snap.TickDropped["envelope"])
	assert.Equal(t, 2, snap.OrderLatency.Count)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				values[f.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, float64(2), values["equity_ticks_total"])
	assert.Equal(t, float64(2), values["equity_orders_total"])

	var nilMetrics *SystemMetrics
	nilMetrics.IncrementTicks()
	nilMetrics.ObserveOrder("submitted", time.Millisecond)
}
