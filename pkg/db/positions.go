package db

import (
	"context"
	"fmt"

	"equity-core/internal/model"
)

// ListPositions loads every position row.
func (d *Database) ListPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, ticker, quantity, price, strategy_id, created_at, updated_at
		FROM positions
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.ID, &p.Ticker, &p.Quantity, &p.Price, &p.StrategyID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPosition writes the full row keyed by (ticker, strategy_id) and returns it with its id.
// created_at is only written on insert.
func (d *Database) UpsertPosition(ctx context.Context, p model.Position) (model.Position, error) {
	return upsertPosition(ctx, d.DB, p)
}

func upsertPosition(ctx context.Context, q execQuerier, p model.Position) (model.Position, error) {
	err := q.QueryRowContext(ctx, `
		INSERT INTO positions (ticker, quantity, price, strategy_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker, strategy_id) DO UPDATE SET
			quantity = excluded.quantity,
			price = excluded.price,
			updated_at = excluded.updated_at
		RETURNING id
	`, p.Ticker, p.Quantity, p.Price.String(), p.StrategyID, p.CreatedAt.UTC(), p.UpdatedAt.UTC()).Scan(&p.ID)
	if err != nil {
		return model.Position{}, fmt.Errorf("upsert position %s: %w", p.Key(), err)
	}
	return p, nil
}
