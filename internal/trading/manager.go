// Package trading fans ticks out to strategies and serializes their proposals
// into order submissions.
package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"equity-core/internal/broker"
	"equity-core/internal/events"
	"equity-core/internal/model"
	"equity-core/internal/monitor"
	"equity-core/internal/order"
	"equity-core/internal/repository"
	"equity-core/internal/risk"
	"equity-core/internal/strategy"
	"equity-core/pkg/exchanges/common"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// CashReserver sets aside orderable cash for buy orders.
type CashReserver interface {
	Reserve(amount decimal.Decimal) error
	Release(amount decimal.Decimal)
}

// Options carries optional collaborators and channel capacities.
type Options struct {
	Guard       *risk.Guard
	Cash        CashReserver
	Bus         *events.Bus
	Metrics     *monitor.SystemMetrics
	TickBacklog int
	QueueSize   int
}

// Manager runs every registered strategy against the live tick stream.
type Manager struct {
	broker  *broker.Broker
	repo    *repository.Repository
	guard   *risk.Guard
	cash    CashReserver
	bus     *events.Bus
	metrics *monitor.SystemMetrics
	log     zerolog.Logger

	backlog int
	ticks   *events.Broadcast[common.Tick]
	queue   *order.Queue

	mu         sync.Mutex
	strategies []strategy.Strategy
	subs       map[string]*events.Subscription[common.Tick]
	running    bool
}

func NewManager(b *broker.Broker, repo *repository.Repository, opts Options) *Manager {
	if opts.TickBacklog <= 0 {
		opts.TickBacklog = 1024
	}
	return &Manager{
		broker:  b,
		repo:    repo,
		guard:   opts.Guard,
		cash:    opts.Cash,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		log:     log.With().Str("component", "trading").Logger(),
		backlog: opts.TickBacklog,
		ticks:   events.NewBroadcast[common.Tick](),
		queue:   order.NewQueue(opts.QueueSize),
		subs:    make(map[string]*events.Subscription[common.Tick]),
	}
}

// AddStrategy registers a strategy. It must be called before Run.
func (m *Manager) AddStrategy(s strategy.Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies = append(m.strategies, s)
}

// Targets is the union of every strategy's targets, in first-seen order.
func (m *Manager) Targets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, s := range m.strategies {
		for _, t := range s.Targets() {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// Status is a point-in-time view for operators.
type Status struct {
	Running    bool              `json:"running"`
	Strategies []string          `json:"strategies"`
	Targets    []string          `json:"targets"`
	QueueDepth int               `json:"queue_depth"`
	TickDrops  map[string]uint64 `json:"tick_drops"`
}

func (m *Manager) Status() Status {
	targets := m.Targets()
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Running:    m.running,
		Targets:    targets,
		QueueDepth: m.queue.Len(),
		TickDrops:  make(map[string]uint64, len(m.subs)),
	}
	for _, s := range m.strategies {
		st.Strategies = append(st.Strategies, s.ID())
	}
	for id, sub := range m.subs {
		st.TickDrops[id] = sub.Dropped()
	}
	return st
}

// Run starts order-event processing and the tick transaction, then drives the
// strategies until ctx is done. A cancelled context is a clean exit.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("trading manager already running")
	}
	if len(m.strategies) == 0 {
		m.mu.Unlock()
		return errors.New("no strategies registered")
	}
	m.running = true
	strategies := append([]strategy.Strategy(nil), m.strategies...)
	for _, s := range strategies {
		m.subs[s.ID()] = m.ticks.Subscribe(m.backlog)
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	eventsDone, err := m.broker.StartOrderEventProcessing(ctx)
	if err != nil {
		m.ticks.Close()
		return err
	}
	targets := m.Targets()
	ticks, err := m.broker.StartTickTransaction(ctx, targets)
	if err != nil {
		m.ticks.Close()
		return err
	}
	m.log.Info().Int("strategies", len(strategies)).Strs("targets", targets).Msg("trading started")

	g.Go(func() error {
		defer m.ticks.Close()
		for tick := range ticks {
			m.metrics.IncrementTicks()
			m.ticks.Publish(tick)
		}
		if ctx.Err() == nil {
			return errors.New("tick stream closed")
		}
		return nil
	})

	g.Go(func() error {
		<-eventsDone
		if ctx.Err() == nil {
			return errors.New("order event stream closed")
		}
		return nil
	})

	for _, s := range strategies {
		sub := m.subs[s.ID()]
		g.Go(func() error {
			m.runStrategy(ctx, s, sub)
			return nil
		})
	}

	g.Go(func() error {
		m.queue.Drain(ctx, func(p model.Order) { m.submit(ctx, p) })
		return nil
	})

	err = g.Wait()
	m.log.Info().Err(err).Msg("trading stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m *Manager) runStrategy(ctx context.Context, s strategy.Strategy, sub *events.Subscription[common.Tick]) {
	defer sub.Close()
	id := s.ID()
	logger := m.log.With().Str("strategy", id).Logger()

	wanted := make(map[string]bool)
	for _, t := range s.Targets() {
		wanted[t] = true
	}

	var reported uint64
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-sub.C:
			if !ok {
				return
			}
			if d := sub.Dropped(); d != reported {
				reported = d
				m.metrics.SetTickDropped(id, d)
				logger.Warn().Uint64("dropped", d).Msg("strategy is lagging, ticks dropped")
			}
			if !wanted[tick.Ticker] {
				continue
			}

			pos, err := m.repo.GetPosition(ctx, tick.Ticker, id)
			if err != nil {
				logger.Warn().Err(err).Str("ticker", tick.Ticker).Msg("position lookup failed")
				continue
			}

			start := time.Now()
			proposal, err := s.EvaluateTick(ctx, tick, pos)
			m.metrics.ObserveStrategy(time.Since(start))
			if err != nil {
				m.metrics.IncrementErrors("strategy")
				logger.Warn().Err(err).Str("ticker", tick.Ticker).Msg("evaluation failed")
				continue
			}
			if proposal == nil {
				continue
			}
			// Positions are attributed by strategy id, whatever the strategy filled in.
			proposal.StrategyID = id
			m.metrics.ObserveProposal(id, "proposed")
			if !m.queue.Enqueue(ctx, *proposal) {
				return
			}
		}
	}
}

func (m *Manager) drop(p model.Order, outcome, reason string) {
	m.metrics.ObserveProposal(p.StrategyID, outcome)
	m.log.Info().
		Str("strategy", p.StrategyID).
		Str("ticker", p.Ticker).
		Str("action", string(p.Action)).
		Str("reason", reason).
		Msg("proposal dropped")
	if m.bus != nil {
		m.bus.Publish(events.EventProposalDropped, events.OrderUpdate{Order: p, Reason: reason})
	}
}

// submit runs on the single consumer goroutine.
func (m *Manager) submit(ctx context.Context, p model.Order) {
	if m.guard != nil {
		pos, err := m.repo.GetPosition(ctx, p.Ticker, p.StrategyID)
		if err != nil {
			m.drop(p, "error", fmt.Sprintf("position lookup: %v", err))
			return
		}
		dec := m.guard.Check(p, pos)
		if !dec.Allowed {
			m.drop(p, "risk", dec.Reason)
			return
		}
		if dec.LimitLevel == risk.LevelWarning {
			m.log.Warn().Str("ticker", p.Ticker).Float64("usage", dec.UsageRatio).Msg("daily order limit nearly reached")
		}
	}

	pending, err := m.repo.HasPendingOrder(ctx, p.Ticker)
	if err != nil {
		m.drop(p, "error", fmt.Sprintf("pending check: %v", err))
		return
	}
	if pending {
		m.drop(p, "pending", "ticker has a pending order")
		return
	}

	var reserved decimal.Decimal
	if m.cash != nil && p.Action == common.SideBuy {
		reserved = p.Price.Mul(decimal.NewFromInt(p.Quantity))
		if err := m.cash.Reserve(reserved); err != nil {
			m.drop(p, "cash", err.Error())
			return
		}
	}

	placed, err := m.broker.ExecuteOrder(ctx, p)
	if err != nil {
		if reserved.IsPositive() {
			m.cash.Release(reserved)
		}
		m.metrics.ObserveProposal(p.StrategyID, "failed")
		m.log.Warn().Err(err).Str("strategy", p.StrategyID).Str("ticker", p.Ticker).Msg("proposal discarded")
		return
	}
	if m.guard != nil {
		m.guard.RecordSubmission(placed)
	}
	m.metrics.ObserveProposal(p.StrategyID, "submitted")
}
