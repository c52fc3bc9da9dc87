// Package data keeps the daily chart table that strategies read from.
package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"equity-core/internal/model"
	"equity-core/pkg/exchanges/common"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// BarSource fetches daily candles from the exchange.
type BarSource interface {
	DailyBars(ctx context.Context, ticker string, count int) ([]common.DailyBar, error)
}

// CandleStore persists candles keyed by (ticker, datetime).
type CandleStore interface {
	UpsertCandles(ctx context.Context, candles []model.Candle) error
}

// HistoricalDataService copies daily bars for the traded tickers into storage.
type HistoricalDataService struct {
	src     BarSource
	store   CandleStore
	history int
	log     zerolog.Logger
}

// NewHistoricalDataService keeps the last history bars per ticker.
func NewHistoricalDataService(src BarSource, store CandleStore, history int) *HistoricalDataService {
	if history <= 0 {
		history = 120
	}
	return &HistoricalDataService{
		src:     src,
		store:   store,
		history: history,
		log:     log.With().Str("component", "charts").Logger(),
	}
}

// Refresh loads bars for every ticker and returns the number of candles
// written. A failing ticker is skipped; its error is joined into the result.
func (s *HistoricalDataService) Refresh(ctx context.Context, tickers []string) (int, error) {
	var (
		written int
		errs    []error
	)
	for _, ticker := range tickers {
		bars, err := s.src.DailyBars(ctx, ticker, s.history)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("daily bars unavailable")
			errs = append(errs, fmt.Errorf("%s: %w", ticker, err))
			continue
		}
		candles := make([]model.Candle, 0, len(bars))
		for _, b := range bars {
			candles = append(candles, model.Candle{
				Ticker:   b.Ticker,
				Open:     b.Open.InexactFloat64(),
				High:     b.High.InexactFloat64(),
				Low:      b.Low.InexactFloat64(),
				Close:    b.Close.InexactFloat64(),
				Volume:   b.Volume,
				Datetime: b.Date,
			})
		}
		if err := s.store.UpsertCandles(ctx, candles); err != nil {
			errs = append(errs, fmt.Errorf("%s: store candles: %w", ticker, err))
			continue
		}
		written += len(candles)
	}
	s.log.Info().Int("tickers", len(tickers)).Int("candles", written).Int("failed", len(errs)).Msg("daily charts refreshed")
	return written, errors.Join(errs...)
}

// Start refreshes every interval until ctx is done. The first refresh is the
// caller's job so strategies can start with data in place.
func (s *HistoricalDataService) Start(ctx context.Context, tickers []string, interval time.Duration) {
	if interval <= 0 || len(tickers) == 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.Refresh(ctx, tickers)
			}
		}
	}()
}
