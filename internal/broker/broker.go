// Package broker runs the order lifecycle: submission, persistence and the
// reaction to asynchronous order events, including position arithmetic.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"equity-core/internal/events"
	"equity-core/internal/model"
	"equity-core/internal/monitor"
	"equity-core/internal/order"
	"equity-core/internal/repository"
	"equity-core/pkg/exchanges/common"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options carries the optional collaborators.
type Options struct {
	Bus     *events.Bus
	Outbox  *order.Outbox
	Metrics *monitor.SystemMetrics
}

// Broker composes the market gateway, the order-event source and the repository.
type Broker struct {
	market      common.MarketGateway
	orderEvents common.OrderEventSource
	repo        *repository.Repository

	bus     *events.Bus
	outbox  *order.Outbox
	metrics *monitor.SystemMetrics
	log     zerolog.Logger

	// Held from PlaceOrder until the order row exists, so a fast fill can wait for it.
	submitMu sync.RWMutex

	now   func() time.Time
	newID func() string
}

func New(market common.MarketGateway, orderEvents common.OrderEventSource, repo *repository.Repository, opts Options) *Broker {
	return &Broker{
		market:      market,
		orderEvents: orderEvents,
		repo:        repo,
		bus:         opts.Bus,
		outbox:      opts.Outbox,
		metrics:     opts.Metrics,
		log:         log.With().Str("component", "broker").Logger(),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

func (b *Broker) publish(e events.Event, payload any) {
	if b.bus != nil {
		b.bus.Publish(e, payload)
	}
}

// StartTickTransaction connects the tick socket and subscribes every target.
// Unknown tickers are logged and skipped; any other subscribe failure aborts.
func (b *Broker) StartTickTransaction(ctx context.Context, targets []string) (<-chan common.Tick, error) {
	ticks, err := b.market.ConnectTickStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect tick stream: %w", err)
	}

	subscribed := 0
	for _, ticker := range targets {
		err := b.market.Subscribe(ctx, ticker)
		switch {
		case err == nil:
			subscribed++
		case errors.Is(err, common.ErrAlreadySubscribed):
			subscribed++
		case errors.Is(err, common.ErrNotFound):
			b.log.Warn().Str("ticker", ticker).Msg("unknown ticker, not subscribing")
		default:
			return nil, fmt.Errorf("subscribe %s: %w", ticker, err)
		}
	}
	if len(targets) > 0 && subscribed == 0 {
		return nil, fmt.Errorf("none of %d targets could be subscribed", len(targets))
	}
	b.log.Info().Int("targets", len(targets)).Int("subscribed", subscribed).Msg("tick transaction started")
	return ticks, nil
}

// StartOrderEventProcessing connects the order-event socket and consumes
// events until ctx is done. The returned channel closes when the consumer exits.
func (b *Broker) StartOrderEventProcessing(ctx context.Context) (<-chan struct{}, error) {
	evs, err := b.orderEvents.ConnectOrderEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect order events: %w", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-evs:
				if !ok {
					return
				}
				if err := b.HandleOrderEvent(ctx, ev); err != nil {
					b.metrics.IncrementErrors("order_events")
					b.log.Error().Err(err).Str("order_no", ev.ID).Str("kind", string(ev.Kind)).Msg("order event handling failed")
				}
			}
		}
	}()
	return done, nil
}

// ExecuteOrder submits a proposal and persists it as pending. On a submission
// failure nothing is persisted. If persistence fails after the exchange
// accepted the order, the outbox intent stays unresolved for reconciliation.
func (b *Broker) ExecuteOrder(ctx context.Context, proposal model.Order) (model.Order, error) {
	if proposal.Ticker == "" || proposal.Quantity <= 0 {
		return model.Order{}, fmt.Errorf("invalid proposal: ticker %q qty %d", proposal.Ticker, proposal.Quantity)
	}

	var intent string
	if b.outbox != nil {
		key, err := b.outbox.Record(proposal)
		if err != nil {
			return model.Order{}, fmt.Errorf("record intent: %w", err)
		}
		intent = key
	}

	b.submitMu.Lock()
	defer b.submitMu.Unlock()

	start := time.Now()
	res, err := b.market.PlaceOrder(ctx, proposal.Request())
	if err != nil {
		result := "failed"
		if common.IsRejected(err) {
			result = "rejected"
		}
		b.metrics.ObserveOrder(result, time.Since(start))
		b.resolveIntent(intent, "", err)
		b.publish(events.EventOrderRejected, events.OrderUpdate{Order: proposal, Reason: err.Error()})
		return model.Order{}, err
	}

	placed := proposal
	placed.ID = res.ExchangeOrderID
	placed.Accepted = false
	placed.CreatedAt = b.now()

	dbStart := time.Now()
	if err := b.repo.AddOrder(ctx, placed); err != nil {
		b.metrics.ObserveOrder("persist_failed", time.Since(start))
		b.log.Error().Err(err).
			Str("order_no", placed.ID).
			Str("ticker", placed.Ticker).
			Str("intent", intent).
			Msg("exchange order has no local record")
		return placed, fmt.Errorf("persist order %s: %w", placed.ID, err)
	}
	b.metrics.ObserveDB(time.Since(dbStart))
	b.metrics.ObserveOrder("submitted", time.Since(start))
	b.resolveIntent(intent, placed.ID, nil)

	b.log.Info().
		Str("order_no", placed.ID).
		Str("ticker", placed.Ticker).
		Str("strategy", placed.StrategyID).
		Str("action", string(placed.Action)).
		Int64("qty", placed.Quantity).
		Str("price", placed.Price.String()).
		Msg("order submitted")
	b.publish(events.EventOrderSubmitted, events.OrderUpdate{Order: placed})
	return placed, nil
}

func (b *Broker) resolveIntent(key, exchangeID string, submitErr error) {
	if b.outbox == nil || key == "" {
		return
	}
	var err error
	if submitErr != nil {
		err = b.outbox.Abandon(key, submitErr.Error())
	} else {
		err = b.outbox.Complete(key, exchangeID)
	}
	if err != nil {
		b.log.Warn().Err(err).Str("intent", key).Msg("outbox resolve failed")
	}
}

// CancelOrder asks the exchange to cancel a pending order. The row is removed
// when the Cancel event arrives.
func (b *Broker) CancelOrder(ctx context.Context, id string) error {
	o, err := b.repo.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if o.Accepted {
		return fmt.Errorf("order %s already filled", id)
	}
	return b.market.CancelOrder(ctx, common.CancelRequest{
		ExchangeOrderID: o.ID,
		Ticker:          o.Ticker,
		Qty:             o.Quantity,
	})
}

// HandleOrderEvent applies one order event to local state.
func (b *Broker) HandleOrderEvent(ctx context.Context, ev common.OrderEvent) error {
	b.metrics.ObserveOrderEvent(string(ev.Kind))
	logger := b.log.With().Str("order_no", ev.ID).Str("kind", string(ev.Kind)).Logger()

	switch ev.Kind {
	case common.OrderEventSuccess:
		return b.onFill(ctx, ev)
	case common.OrderEventCancel:
		return b.removeOrder(ctx, ev, events.EventOrderCancelled, "cancelled")
	case common.OrderEventDenied:
		return b.removeOrder(ctx, ev, events.EventOrderDenied, "denied")
	case common.OrderEventWait, common.OrderEventEdit:
		logger.Info().Msg("order event")
		return nil
	default:
		logger.Warn().Msg("unhandled order event")
		return nil
	}
}

// lookupOrder finds the local order, waiting once for an in-flight submission.
func (b *Broker) lookupOrder(ctx context.Context, id string) (model.Order, error) {
	o, err := b.repo.GetOrder(ctx, id)
	if !repository.IsNotFound(err) {
		return o, err
	}
	b.submitMu.RLock()
	b.submitMu.RUnlock()
	return b.repo.GetOrder(ctx, id)
}

func (b *Broker) onFill(ctx context.Context, ev common.OrderEvent) error {
	prev, err := b.lookupOrder(ctx, ev.ID)
	if repository.IsNotFound(err) {
		b.log.Warn().Str("order_no", ev.ID).Msg("fill for unknown order")
		return nil
	}
	if err != nil {
		return err
	}

	qty, price := prev.Quantity, prev.Price
	switch {
	case ev.ExecQty > 0:
		qty = ev.ExecQty
		if ev.ExecPrice.IsPositive() {
			price = ev.ExecPrice
		}
	case prev.Accepted:
		b.log.Info().Str("order_no", ev.ID).Msg("repeated fill without execution details, skipping")
		return nil
	}

	fill := model.FillFromOrder(b.newID(), prev, b.now())
	fill.Quantity = qty
	fill.Price = price
	accepted, pos, err := b.repo.RecordFill(ctx, fill)
	if err != nil {
		return fmt.Errorf("record fill %s: %w", ev.ID, err)
	}

	b.log.Info().
		Str("order_no", ev.ID).
		Str("position", pos.Key().String()).
		Int64("fill_qty", qty).
		Str("fill_price", price.String()).
		Int64("qty", pos.Quantity).
		Str("avg_price", pos.Price.String()).
		Msg("order filled")
	b.publish(events.EventOrderAccepted, events.OrderUpdate{Order: accepted})
	b.publish(events.EventPositionChange, events.PositionUpdate{Position: pos, OrderID: ev.ID})
	return nil
}

func (b *Broker) removeOrder(ctx context.Context, ev common.OrderEvent, topic events.Event, reason string) error {
	o, err := b.lookupOrder(ctx, ev.ID)
	if repository.IsNotFound(err) {
		b.log.Info().Str("order_no", ev.ID).Msg(reason + " event for unknown order")
		return nil
	}
	if err != nil {
		return err
	}
	if err := b.repo.DeleteOrder(ctx, ev.ID); err != nil && !repository.IsNotFound(err) {
		return fmt.Errorf("delete order %s: %w", ev.ID, err)
	}
	b.log.Info().Str("order_no", ev.ID).Str("ticker", o.Ticker).Msg("order " + reason)
	b.publish(topic, events.OrderUpdate{Order: o, Reason: reason})
	return nil
}
