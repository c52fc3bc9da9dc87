package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"equity-core/internal/model"
	"equity-core/pkg/exchanges/common"

	"github.com/jackc/pgx/v5"
)

// RecordFill accepts the fill's order, stores the fill and writes the
// resulting position in one transaction.
func (s *Store) RecordFill(ctx context.Context, f model.Fill, p model.Position) (model.Order, model.Position, error) {
	var (
		o     model.Order
		saved model.Position
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		if o, err = acceptOrder(ctx, tx, f.OrderID); err != nil {
			return err
		}
		if err = insertFill(ctx, tx, f); err != nil {
			return err
		}
		saved, err = upsertPosition(ctx, tx, p)
		return err
	})
	if err != nil {
		return model.Order{}, model.Position{}, err
	}
	return o, saved, nil
}

func insertFill(ctx context.Context, tx pgx.Tx, f model.Fill) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO fills (id, order_id, ticker, strategy_id, action, quantity, price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8)
	`, f.ID, f.OrderID, f.Ticker, f.StrategyID, string(f.Action), f.Quantity, f.Price.String(), f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert fill for order %s: %w", f.OrderID, err)
	}
	return nil
}

func (s *Store) UpsertCandles(ctx context.Context, candles []model.Candle) error {
	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(`
			INSERT INTO charts (ticker, open, high, low, close, volume, datetime)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (ticker, datetime) DO UPDATE SET
				open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
				close = EXCLUDED.close, volume = EXCLUDED.volume
		`, c.Ticker, c.Open, c.High, c.Low, c.Close, c.Volume, c.Datetime)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert candles: %w", err)
	}
	return nil
}

func (s *Store) ListCandles(ctx context.Context, ticker string, limit int) ([]model.Candle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticker, open, high, low, close, volume, datetime
		FROM charts WHERE ticker = $1
		ORDER BY datetime DESC LIMIT $2
	`, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("list candles %s: %w", ticker, err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.Ticker, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Datetime); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (s *Store) SyncStrategyInstances(ctx context.Context, instances []model.StrategyInstance) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, in := range instances {
		_, err := tx.Exec(ctx, `
			INSERT INTO strategy_instances (id, strategy_type, symbols, parameters, is_active, updated_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (id) DO UPDATE SET
				strategy_type = EXCLUDED.strategy_type,
				symbols = EXCLUDED.symbols,
				parameters = EXCLUDED.parameters,
				is_active = EXCLUDED.is_active,
				updated_at = now()
		`, in.ID, in.Type, strings.Join(in.Symbols, ","), in.Parameters, in.IsActive)
		if err != nil {
			return fmt.Errorf("failed to upsert strategy %s: %w", in.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) SaveReport(ctx context.Context, r model.ReportRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reconciliation_reports (id, created_at, holding_diffs, stale_orders, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, r.ID, r.CreatedAt, r.HoldingDiffs, r.StaleOrders, r.Payload)
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) LatestReport(ctx context.Context) (model.ReportRecord, error) {
	var r model.ReportRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, created_at, holding_diffs, stale_orders, payload
		FROM reconciliation_reports
		ORDER BY created_at DESC LIMIT 1
	`).Scan(&r.ID, &r.CreatedAt, &r.HoldingDiffs, &r.StaleOrders, &r.Payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ReportRecord{}, common.ErrNotFound
	}
	if err != nil {
		return model.ReportRecord{}, fmt.Errorf("latest report: %w", err)
	}
	return r, nil
}
