package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"equity-core/internal/model"
	"equity-core/pkg/exchanges/common"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, ticker, quantity, price::text, strategy_id, action, order_type, accepted, created_at`

func scanOrder(row pgx.Row) (model.Order, error) {
	var (
		o         model.Order
		price     string
		action    string
		orderType string
	)
	if err := row.Scan(&o.ID, &o.Ticker, &o.Quantity, &price, &o.StrategyID, &action, &orderType, &o.Accepted, &o.CreatedAt); err != nil {
		return model.Order{}, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return model.Order{}, fmt.Errorf("order %s price %q: %w", o.ID, price, err)
	}
	o.Price = p
	o.Action = common.Side(action)
	o.OrderType = common.OrderType(orderType)
	return o, nil
}

func (s *Store) InsertOrder(ctx context.Context, o model.Order) error {
	if !o.Submitted() {
		return errors.New("insert order: missing exchange order id")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (id, ticker, quantity, price, strategy_id, action, order_type, accepted, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)
	`, o.ID, o.Ticker, o.Quantity, o.Price.String(), o.StrategyID, string(o.Action), string(o.OrderType), o.Accepted, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

func acceptOrder(ctx context.Context, tx pgx.Tx, id string) (model.Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `UPDATE orders SET accepted = TRUE WHERE id = $1 RETURNING `+orderColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Order{}, fmt.Errorf("accept order %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("accept order %s: %w", id, err)
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Order{}, fmt.Errorf("get order %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete order %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func (s *Store) HasPendingOrder(ctx context.Context, ticker string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM orders WHERE ticker = $1 AND NOT accepted)
	`, ticker).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pending order check %s: %w", ticker, err)
	}
	return exists, nil
}

func (s *Store) ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.PendingOnly {
		where = append(where, "NOT accepted")
	}
	if f.Ticker != "" {
		args = append(args, f.Ticker)
		where = append(where, fmt.Sprintf("ticker = $%d", len(args)))
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.EffectiveLimit())
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
