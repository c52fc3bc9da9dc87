package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"equity-core/internal/broker"
	"equity-core/internal/broker/brokertest"
	"equity-core/internal/model"
	"equity-core/internal/monitor"
	"equity-core/internal/reconciliation"
	"equity-core/internal/repository"
	"equity-core/internal/risk"
	"equity-core/internal/trading"
	"equity-core/pkg/db"
	"equity-core/pkg/exchanges/common"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret = "test-secret"
	testAPIKey = "operator-key"
)

type staticStatus struct{ st trading.Status }

func (s staticStatus) Status() trading.Status { return s.st }

type stubAccount struct{}

func (stubAccount) Balance(context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(1_500_000), nil
}

func (stubAccount) Holdings(context.Context) ([]common.Holding, error) {
	return []common.Holding{{Ticker: "005930", Name: "Samsung Electronics", Qty: 3, AvgPrice: decimal.NewFromInt(70000)}}, nil
}

type fixture struct {
	srv  *Server
	repo *repository.Repository
	gw   *brokertest.Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(store))
	t.Cleanup(func() { store.Close() })
	repo := repository.New(store)

	reg := prometheus.NewRegistry()
	metrics := monitor.NewSystemMetrics(reg)
	gw := brokertest.NewGateway("005930")
	b := broker.New(gw, gw, repo, broker.Options{Metrics: metrics})

	srv := NewServer(Deps{
		Repo:       repo,
		Trading:    staticStatus{trading.Status{Running: true, Strategies: []string{"envelope"}, Targets: []string{"005930"}}},
		Orders:     b,
		Account:    stubAccount{},
		Reconciler: reconciliation.NewService(repo, reconciliation.Options{}),
		Guard:      risk.NewGuard(risk.Limits{MaxDailyOrders: 10}),
		Metrics:    metrics,
		Gatherer:   reg,
		JWTSecret:  testSecret,
		APIKey:     testAPIKey,
		TokenTTL:   time.Minute,
		Meta:       SystemMeta{DryRun: true, Venue: "lssec", Database: "sqlite", Version: "test"},
	})
	return &fixture{srv: srv, repo: repo, gw: gw}
}

func doJSONRequest(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func (f *fixture) login(t *testing.T) string {
	t.Helper()
	w := doJSONRequest(t, f.srv.Router, http.MethodPost, "/auth/token", "", map[string]string{"api_key": testAPIKey})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Code
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t)
	w := doJSONRequest(t, f.srv.Router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, true, resp["trading"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestAuthRejections(t *testing.T) {
	f := newFixture(t)

	w := doJSONRequest(t, f.srv.Router, http.MethodGet, "/api/positions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "MISSING_TOKEN", decodeError(t, w))

	w = doJSONRequest(t, f.srv.Router, http.MethodGet, "/api/positions", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", decodeError(t, w))

	w = doJSONRequest(t, f.srv.Router, http.MethodPost, "/auth/token", "", map[string]string{"api_key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decodeError(t, w))

	w = doJSONRequest(t, f.srv.Router, http.MethodPost, "/auth/token", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	expired, err := generateToken("s", testSecret, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	w = doJSONRequest(t, f.srv.Router, http.MethodGet, "/api/positions", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	forged, err := generateToken("s", "other-secret", time.Now().Add(time.Minute))
	require.NoError(t, err)
	w = doJSONRequest(t, f.srv.Router, http.MethodGet, "/api/positions", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPositionsAndOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.login(t)

	w := doJSONRequest(t, f.srv.Router, http.MethodGet, "/api/positions", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	_, err := f.repo.UpdatePosition(ctx, model.Position{
		Ticker: "005930", StrategyID: "envelope", Quantity: 2, Price: decimal.NewFromInt(70000),
	})
	require.NoError(t, err)
	require.NoError(t, f.repo.AddOrder(ctx, model.Order{
		ID: "12345", Ticker: "005930", Quantity: 1, Price: decimal.NewFromInt(69000),
		StrategyID: "envelope", Action: common.SideBuy, OrderType: common.OrderTypeLimit,
		CreatedAt: time.Now(),
	}))

	w = doJSONRequest(t, f.srv.Router, http.MethodGet, "/api/positions", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var positions []model.Position
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &positions))
	require.Len(t, positions, 1)
	assert.Equal(t, int64(2), positions[0].Quantity)

	w = doJSONRequest(t, f.srv.Router, http.MethodGet, "/api/orders?pending=true&ticker=005930", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var orders []model.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "12345", orders[0].ID)

	w = doJSONRequest(t, f.srv.Router, http.MethodGet, "/api/orders/pending/005930", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ticker":"005930","pending":true}`, w.Body.String())

	w = doJSONRequest(t, f.srv.Router, http.MethodGet, "/api/orders/pending/000660", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ticker":"000660","pending":false}`, w.Body.String())
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.login(t)

	w := doJSONRequest(t, f.srv.Router, http.MethodPost, "/api/orders/999/cancel", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, f.repo.AddOrder(ctx, model.Order{
		ID: "12345", Ticker: "005930", Quantity: 1, Price: decimal.NewFromInt(69000),
		StrategyID: "envelope", Action: common.SideBuy, OrderType: common.OrderTypeLimit,
		CreatedAt: time.Now(),
	}))
	w = doJSONRequest(t, f.srv.Router, http.MethodPost, "/api/orders/12345/cancel", token, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, []string{"12345"}, f.gw.Cancelled())
}

func TestAccountEndpoints(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	w := doJSONRequest(t, f.srv.Router, http.MethodGet, "/api/balance", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"orderable":"1500000","currency":"KRW"}`, w.Body.String())

	w = doJSONRequest(t, f.srv.Router, http.MethodGet, "/api/holdings", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"avg_price":"70000"`)
}

func TestReconciliationEndpoints(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	w := doJSONRequest(t, f.srv.Router, http.MethodGet, "/api/reconciliation/latest", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSONRequest(t, f.srv.Router, http.MethodPost, "/api/reconciliation/run", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ran reconciliation.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ran))
	assert.False(t, ran.HasDiffs)

	w = doJSONRequest(t, f.srv.Router, http.MethodGet, "/api/reconciliation/latest", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var latest reconciliation.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &latest))
	assert.Equal(t, ran.ID, latest.ID)
}

func TestStatusAndMetrics(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	w := doJSONRequest(t, f.srv.Router, http.MethodGet, "/api/status", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Trading trading.Status `json:"trading"`
		Meta    SystemMeta     `json:"meta"`
		Risk    risk.Stats     `json:"risk"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Trading.Running)
	assert.Equal(t, []string{"005930"}, resp.Trading.Targets)
	assert.True(t, resp.Meta.DryRun)

	w = doJSONRequest(t, f.srv.Router, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "equity_api_requests_total"))
}

func TestUnconfiguredAccountAnswersUnavailable(t *testing.T) {
	f := newFixture(t)
	f.srv.deps.Account = nil
	token := f.login(t)

	w := doJSONRequest(t, f.srv.Router, http.MethodGet, "/api/balance", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "UNAVAILABLE", decodeError(t, w))
}

func TestHashedAPIKey(t *testing.T) {
	f := newFixture(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-key"), bcrypt.MinCost)
	require.NoError(t, err)
	f.srv.deps.APIKeyHash = string(hash)

	w := doJSONRequest(t, f.srv.Router, http.MethodPost, "/auth/token", "", map[string]string{"api_key": testAPIKey})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "plain key is ignored once a hash is configured")

	w = doJSONRequest(t, f.srv.Router, http.MethodPost, "/auth/token", "", map[string]string{"api_key": "hashed-key"})
	assert.Equal(t, http.StatusOK, w.Code)
}
