// Package reconciliation periodically compares local state with the brokerage.
package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"equity-core/internal/model"
	"equity-core/internal/monitor"
	"equity-core/internal/order"
	"equity-core/internal/repository"
	"equity-core/pkg/exchanges/common"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HoldingsSource reports the account's holdings.
type HoldingsSource interface {
	Holdings(ctx context.Context) ([]common.Holding, error)
}

// IntentSource lists order intents that never reached a local record.
type IntentSource interface {
	Unresolved() []order.Intent
}

// Options configures a Service. Exchange nil skips the holdings diff (dry run).
type Options struct {
	Exchange   HoldingsSource
	Intents    IntentSource
	Alerts     monitor.AlertSink
	Metrics    *monitor.SystemMetrics
	Interval   time.Duration
	StaleAfter time.Duration
}

// Service handles periodic reconciliation. It only reports; exchange holdings
// are not attributable to a strategy, so positions are never rewritten.
type Service struct {
	repo *repository.Repository
	opts Options
	log  zerolog.Logger
	now  func() time.Time
	mu   sync.Mutex
}

// Report contains reconciliation results.
type Report struct {
	ID                string         `json:"id"`
	Timestamp         time.Time      `json:"timestamp"`
	HoldingDiffs      []HoldingDiff  `json:"holding_diffs"`
	StaleOrders       []model.Order  `json:"stale_orders"`
	UnresolvedIntents []order.Intent `json:"unresolved_intents"`
	ExchangeError     string         `json:"exchange_error,omitempty"`
	HasDiffs          bool           `json:"has_diffs"`
}

// HoldingDiff is a ticker whose exchange quantity differs from the sum of
// local strategy positions.
type HoldingDiff struct {
	Ticker      string `json:"ticker"`
	LocalQty    int64  `json:"local_qty"`
	ExchangeQty int64  `json:"exchange_qty"`
	Difference  int64  `json:"difference"`
}

func NewService(repo *repository.Repository, opts Options) *Service {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	return &Service{
		repo: repo,
		opts: opts,
		log:  log.With().Str("component", "reconcile").Logger(),
		now:  time.Now,
	}
}

// Start runs one sweep immediately and then every interval until ctx is done.
func (s *Service) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		for {
			if _, err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
				s.opts.Metrics.IncrementErrors("reconcile")
				s.log.Error().Err(err).Msg("reconciliation failed")
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	s.log.Info().Dur("interval", s.opts.Interval).Dur("stale_after", s.opts.StaleAfter).Msg("reconciliation service started")
}

// Reconcile performs one sweep and stores its report.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	report := &Report{ID: uuid.NewString(), Timestamp: now}

	if s.opts.Exchange != nil {
		diffs, err := s.holdingDiffs(ctx)
		if err != nil {
			report.ExchangeError = err.Error()
			s.log.Warn().Err(err).Msg("holdings unavailable, skipping holdings diff")
		}
		report.HoldingDiffs = diffs
	}

	pending, err := s.repo.ListOrders(ctx, model.OrderFilter{PendingOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}
	cutoff := now.Add(-s.opts.StaleAfter)
	for _, o := range pending {
		if o.CreatedAt.Before(cutoff) {
			report.StaleOrders = append(report.StaleOrders, o)
		}
	}

	if s.opts.Intents != nil {
		report.UnresolvedIntents = s.opts.Intents.Unresolved()
	}

	report.HasDiffs = len(report.HoldingDiffs) > 0 || len(report.StaleOrders) > 0 || len(report.UnresolvedIntents) > 0
	s.handleReport(report)

	if err := s.save(ctx, report); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Service) holdingDiffs(ctx context.Context) ([]HoldingDiff, error) {
	holdings, err := s.opts.Exchange.Holdings(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := s.repo.Positions(ctx)
	if err != nil {
		return nil, err
	}

	local := make(map[string]int64)
	for _, p := range positions {
		local[p.Ticker] += p.Quantity
	}
	exchange := make(map[string]int64)
	for _, h := range holdings {
		exchange[h.Ticker] += h.Qty
	}

	tickers := make(map[string]struct{}, len(local)+len(exchange))
	for t := range local {
		tickers[t] = struct{}{}
	}
	for t := range exchange {
		tickers[t] = struct{}{}
	}

	var diffs []HoldingDiff
	for t := range tickers {
		if local[t] != exchange[t] {
			diffs = append(diffs, HoldingDiff{
				Ticker:      t,
				LocalQty:    local[t],
				ExchangeQty: exchange[t],
				Difference:  local[t] - exchange[t],
			})
		}
	}
	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Ticker < diffs[j].Ticker })
	return diffs, nil
}

func (s *Service) handleReport(report *Report) {
	if !report.HasDiffs {
		s.log.Info().Msg("reconciliation OK")
		return
	}
	for _, d := range report.HoldingDiffs {
		s.log.Warn().
			Str("ticker", d.Ticker).
			Int64("local", d.LocalQty).
			Int64("exchange", d.ExchangeQty).
			Int64("diff", d.Difference).
			Msg("holding mismatch")
	}
	for _, o := range report.StaleOrders {
		s.log.Warn().Str("order_no", o.ID).Str("ticker", o.Ticker).Time("created_at", o.CreatedAt).Msg("stale pending order")
	}
	for _, in := range report.UnresolvedIntents {
		s.log.Warn().Str("intent", in.Key).Str("ticker", in.Order.Ticker).Time("at", in.At).Msg("unresolved order intent")
	}
	if s.opts.Alerts != nil {
		msg := fmt.Sprintf("reconciliation: %d holding diffs, %d stale orders, %d unresolved intents",
			len(report.HoldingDiffs), len(report.StaleOrders), len(report.UnresolvedIntents))
		if err := s.opts.Alerts.Send(msg); err != nil {
			s.log.Warn().Err(err).Msg("alert failed")
		}
	}
}

func (s *Service) save(ctx context.Context, report *Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return s.repo.Store().SaveReport(ctx, model.ReportRecord{
		ID:           report.ID,
		CreatedAt:    report.Timestamp,
		HoldingDiffs: len(report.HoldingDiffs),
		StaleOrders:  len(report.StaleOrders),
		Payload:      string(payload),
	})
}

// Latest returns the most recently stored report.
func (s *Service) Latest(ctx context.Context) (*Report, error) {
	rec, err := s.repo.Store().LatestReport(ctx)
	if err != nil {
		return nil, err
	}
	var report Report
	if err := json.Unmarshal([]byte(rec.Payload), &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", rec.ID, err)
	}
	return &report, nil
}
