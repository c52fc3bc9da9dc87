package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"equity-core/internal/model"
	"equity-core/pkg/exchanges/common"
)

// RecordFill accepts the fill's order, stores the fill and writes the
// resulting position in one transaction. Nothing is written on error.
func (d *Database) RecordFill(ctx context.Context, f model.Fill, p model.Position) (model.Order, model.Position, error) {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Order{}, model.Position{}, fmt.Errorf("record fill for order %s: %w", f.OrderID, err)
	}
	defer tx.Rollback()

	o, err := acceptOrder(ctx, tx, f.OrderID)
	if err != nil {
		return model.Order{}, model.Position{}, err
	}
	if err := insertFill(ctx, tx, f); err != nil {
		return model.Order{}, model.Position{}, err
	}
	saved, err := upsertPosition(ctx, tx, p)
	if err != nil {
		return model.Order{}, model.Position{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Order{}, model.Position{}, fmt.Errorf("record fill for order %s: %w", f.OrderID, err)
	}
	return o, saved, nil
}

func insertFill(ctx context.Context, q execQuerier, f model.Fill) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO fills (id, order_id, ticker, strategy_id, action, quantity, price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.OrderID, f.Ticker, f.StrategyID, string(f.Action), f.Quantity, f.Price.String(), f.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert fill for order %s: %w", f.OrderID, err)
	}
	return nil
}

// UpsertCandles stores daily bars.
func (d *Database) UpsertCandles(ctx context.Context, candles []model.Candle) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO charts (ticker, open, high, low, close, volume, datetime)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker, datetime) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Ticker, c.Open, c.High, c.Low, c.Close, c.Volume, c.Datetime.UTC()); err != nil {
			return fmt.Errorf("upsert candle %s %s: %w", c.Ticker, c.Datetime.Format("2006-01-02"), err)
		}
	}
	return tx.Commit()
}

// ListCandles returns up to limit most recent bars for ticker, oldest first.
func (d *Database) ListCandles(ctx context.Context, ticker string, limit int) ([]model.Candle, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT ticker, open, high, low, close, volume, datetime
		FROM charts WHERE ticker = ?
		ORDER BY datetime DESC LIMIT ?
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

// SyncStrategyInstances upserts configured strategies.
func (d *Database) SyncStrategyInstances(ctx context.Context, instances []model.StrategyInstance) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO strategy_instances (id, strategy_type, symbols, parameters, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			strategy_type = excluded.strategy_type,
			symbols = excluded.symbols,
			parameters = excluded.parameters,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, in := range instances {
		if _, err := stmt.ExecContext(ctx, in.ID, in.Type, strings.Join(in.Symbols, ","), in.Parameters, in.IsActive); err != nil {
			return fmt.Errorf("failed to upsert strategy %s: %w", in.ID, err)
		}
	}
	return tx.Commit()
}

// SaveReport stores a reconciliation report.
func (d *Database) SaveReport(ctx context.Context, r model.ReportRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO reconciliation_reports (id, created_at, holding_diffs, stale_orders, payload)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID, r.CreatedAt.UTC(), r.HoldingDiffs, r.StaleOrders, r.Payload)
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.ID, err)
	}
	return nil
}

// LatestReport returns the newest reconciliation report.
func (d *Database) LatestReport(ctx context.Context) (model.ReportRecord, error) {
	var r model.ReportRecord
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, created_at, holding_diffs, stale_orders, payload
		FROM reconciliation_reports
		ORDER BY created_at DESC LIMIT 1
	`).Scan(&r.ID, &r.CreatedAt, &r.HoldingDiffs, &r.StaleOrders, &r.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ReportRecord{}, common.ErrNotFound
	}
	if err != nil {
		return model.ReportRecord{}, fmt.Errorf("latest report: %w", err)
	}
	return r, nil
}
