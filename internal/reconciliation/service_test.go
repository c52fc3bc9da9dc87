package reconciliation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"equity-core/internal/model"
	"equity-core/internal/order"
	"equity-core/internal/repository"
	"equity-core/pkg/db"
	"equity-core/pkg/exchanges/common"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHoldings struct {
	holdings []common.Holding
	err      error
}

func (s stubHoldings) Holdings(context.Context) ([]common.Holding, error) {
	return s.holdings, s.err
}

type stubIntents []order.Intent

func (s stubIntents) Unresolved() []order.Intent { return s }

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSink) Send(m string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func newRepo(t *testing.T) *repository.Repository {
	t.Helper()
	d, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(d))
	t.Cleanup(func() { d.Close() })
	return repository.New(d)
}

func seedPosition(t *testing.T, repo *repository.Repository, ticker, strategy string, qty int64) {
	t.Helper()
	_, err := repo.UpdatePosition(context.Background(), model.Position{
		Ticker: ticker, StrategyID: strategy, Quantity: qty, Price: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
}

func TestReconcileReportsDifferences(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	seedPosition(t, repo, "005930", "envelope", 2)
	seedPosition(t, repo, "005930", "dip", 1)
	seedPosition(t, repo, "035720", "envelope", 2)

	require.NoError(t, repo.AddOrder(ctx, model.Order{
		ID: "old", Ticker: "005930", Quantity: 1, Price: decimal.NewFromInt(70000),
		StrategyID: "envelope", Action: common.SideBuy, OrderType: common.OrderTypeLimit,
		CreatedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, repo.AddOrder(ctx, model.Order{
		ID: "fresh", Ticker: "000660", Quantity: 1, Price: decimal.NewFromInt(120000),
		StrategyID: "envelope", Action: common.SideBuy, OrderType: common.OrderTypeLimit,
		CreatedAt: now.Add(-time.Minute),
	}))

	sink := &recordingSink{}
	svc := NewService(repo, Options{
		Exchange: stubHoldings{holdings: []common.Holding{
			{Ticker: "005930", Qty: 3},
			{Ticker: "000660", Qty: 5},
		}},
		Intents:    stubIntents{{Key: "k1", Order: model.Order{Ticker: "005380"}, At: now}},
		Alerts:     sink,
		StaleAfter: 10 * time.Minute,
	})
	svc.now = func() time.Time { return now }

	report, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, report.HasDiffs)
	assert.Equal(t, []HoldingDiff{
		{Ticker: "000660", LocalQty: 0, ExchangeQty: 5, Difference: -5},
		{Ticker: "035720", LocalQty: 2, ExchangeQty: 0, Difference: 2},
	}, report.HoldingDiffs)
	require.Len(t, report.StaleOrders, 1)
	assert.Equal(t, "old", report.StaleOrders[0].ID)
	require.Len(t, report.UnresolvedIntents, 1)
	assert.Len(t, sink.msgs, 1)

	latest, err := svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.ID, latest.ID)
	assert.Len(t, latest.HoldingDiffs, 2)

	// Positions are reported, never rewritten.
	pos, err := repo.GetPosition(ctx, "035720", "envelope")
	require.NoError(t, err)
	assert.EqualValues(t, 2, pos.Quantity)
}

func TestReconcileWithoutExchange(t *testing.T) {
	repo := newRepo(t)
	seedPosition(t, repo, "005930", "envelope", 2)
	svc := NewService(repo, Options{})

	report, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, report.HasDiffs)
	assert.Empty(t, report.HoldingDiffs)
}

func TestReconcileSurvivesExchangeFailure(t *testing.T) {
	repo := newRepo(t)
	svc := NewService(repo, Options{Exchange: stubHoldings{err: errors.New("gateway down")}})

	report, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gateway down", report.ExchangeError)
}

func TestLatestWithoutReports(t *testing.T) {
	svc := NewService(newRepo(t), Options{})
	_, err := svc.Latest(context.Background())
	assert.True(t, repository.IsNotFound(err))
}
