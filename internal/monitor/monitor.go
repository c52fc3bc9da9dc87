package monitor

import (
	"context"
	"fmt"
	"time"

	"equity-core/internal/events"

	"github.com/rs/zerolog/log"
)

// Monitor watches order events and emits alerts for rejections and denials.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
}

func (m *Monitor) Start(ctx context.Context) {
	logger := log.With().Str("component", "monitor").Logger()
	if m.Bus == nil || m.Sink == nil {
		logger.Warn().Msg("monitor not fully configured; skipping")
		return
	}
	rejected, unsubRejected := m.Bus.Subscribe(events.EventOrderRejected, 50)
	denied, unsubDenied := m.Bus.Subscribe(events.EventOrderDenied, 50)
	go func() {
		defer unsubRejected()
		defer unsubDenied()
		for {
			var msg any
			var ok bool
			select {
			case <-ctx.Done():
				return
			case msg, ok = <-rejected:
			case msg, ok = <-denied:
			}
			if !ok {
				return
			}
			if err := m.Sink.Send(formatAlert(msg)); err != nil {
				logger.Error().Err(err).Msg("alert delivery failed")
			}
		}
	}()
}

func formatAlert(msg any) string {
	return "[" + time.Now().Format(time.RFC3339) + "] " + toString(msg)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case events.OrderUpdate:
		return fmt.Sprintf("order %s %s %s x%d: %s", t.Order.ID, t.Order.Ticker, t.Order.Action, t.Order.Quantity, t.Reason)
	default:
		return "alert triggered"
	}
}
