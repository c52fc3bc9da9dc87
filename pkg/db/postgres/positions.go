package postgres

import (
	"context"
	"fmt"

	"equity-core/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func (s *Store) ListPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ticker, quantity, price::text, strategy_id, created_at, updated_at
		FROM positions
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var (
			p     model.Position
			price string
		)
		if err := rows.Scan(&p.ID, &p.Ticker, &p.Quantity, &price, &p.StrategyID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		if p.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("position %s price %q: %w", p.Key(), price, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpsertPosition(ctx context.Context, p model.Position) (model.Position, error) {
	return upsertPosition(ctx, s.pool, p)
}

// rowQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func upsertPosition(ctx context.Context, q rowQuerier, p model.Position) (model.Position, error) {
	err := q.QueryRow(ctx, `
		INSERT INTO positions (ticker, quantity, price, strategy_id, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6)
		ON CONFLICT (ticker, strategy_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			price = EXCLUDED.price,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`, p.Ticker, p.Quantity, p.Price.String(), p.StrategyID, p.CreatedAt, p.UpdatedAt).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return model.Position{}, fmt.Errorf("upsert position %s: %w", p.Key(), err)
	}
	return p, nil
}
