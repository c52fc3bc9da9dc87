package repository

import (
	"context"

	"equity-core/internal/model"
	"equity-core/pkg/db"
	"equity-core/pkg/db/postgres"
)

// Store is the durable backend. Both the SQLite and the Postgres stores satisfy it.
type Store interface {
	ListPositions(ctx context.Context) ([]model.Position, error)
	UpsertPosition(ctx context.Context, p model.Position) (model.Position, error)

	InsertOrder(ctx context.Context, o model.Order) error
	GetOrder(ctx context.Context, id string) (model.Order, error)
	DeleteOrder(ctx context.Context, id string) error
	HasPendingOrder(ctx context.Context, ticker string) (bool, error)
	ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, error)

	// RecordFill accepts f's order, inserts f and upserts p atomically.
	RecordFill(ctx context.Context, f model.Fill, p model.Position) (model.Order, model.Position, error)
	UpsertCandles(ctx context.Context, candles []model.Candle) error
	ListCandles(ctx context.Context, ticker string, limit int) ([]model.Candle, error)
	SyncStrategyInstances(ctx context.Context, instances []model.StrategyInstance) error
	SaveReport(ctx context.Context, r model.ReportRecord) error
	LatestReport(ctx context.Context) (model.ReportRecord, error)

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*db.Database)(nil)
	_ Store = (*postgres.Store)(nil)
)
