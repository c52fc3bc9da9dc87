package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"equity-core/internal/model"
	"equity-core/pkg/exchanges/common"
)

const orderColumns = `id, ticker, quantity, price, strategy_id, action, order_type, accepted, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// execQuerier is satisfied by *sql.DB and *sql.Tx.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanOrder(row rowScanner) (model.Order, error) {
	var (
		o         model.Order
		action    string
		orderType string
	)
	if err := row.Scan(&o.ID, &o.Ticker, &o.Quantity, &o.Price, &o.StrategyID, &action, &orderType, &o.Accepted, &o.CreatedAt); err != nil {
		return model.Order{}, err
	}
	o.Action = common.Side(action)
	o.OrderType = common.OrderType(orderType)
	return o, nil
}

// InsertOrder stores a submitted order.
func (d *Database) InsertOrder(ctx context.Context, o model.Order) error {
	if !o.Submitted() {
		return errors.New("insert order: missing exchange order id")
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.Ticker, o.Quantity, o.Price.String(), o.StrategyID, string(o.Action), string(o.OrderType), o.Accepted, o.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

func acceptOrder(ctx context.Context, q execQuerier, id string) (model.Order, error) {
	if _, err := q.ExecContext(ctx, `UPDATE orders SET accepted = 1 WHERE id = ?`, id); err != nil {
		return model.Order{}, fmt.Errorf("accept order %s: %w", id, err)
	}
	o, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, fmt.Errorf("accept order %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("accept order %s: %w", id, err)
	}
	return o, nil
}

// GetOrder loads one order by exchange id.
func (d *Database) GetOrder(ctx context.Context, id string) (model.Order, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, fmt.Errorf("get order %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

// DeleteOrder removes the row for a cancelled or denied order.
func (d *Database) DeleteOrder(ctx context.Context, id string) error {
	res, err := d.DB.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete order %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// HasPendingOrder reports whether an unaccepted order exists for ticker.
func (d *Database) HasPendingOrder(ctx context.Context, ticker string) (bool, error) {
	var exists bool
	err := d.DB.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM orders WHERE ticker = ? AND accepted = 0)
	`, ticker).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pending order check %s: %w", ticker, err)
	}
	return exists, nil
}

// ListOrders returns orders newest first.
func (d *Database) ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.PendingOnly {
		where = append(where, "accepted = 0")
	}
	if f.Ticker != "" {
		where = append(where, "ticker = ?")
		args = append(args, f.Ticker)
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, f.EffectiveLimit())

	rows, err := d.DB.QueryContext(ctx, query, args...)
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
