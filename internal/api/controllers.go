package api

import (
	"net/http"
	"strings"
	"time"

	"equity-core/internal/model"
	"equity-core/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type listOrdersQuery struct {
	Pending bool   `form:"pending"`
	Ticker  string `form:"ticker"`
	Limit   int    `form:"limit"`
}

func (q *listOrdersQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
	q.Ticker = strings.TrimSpace(q.Ticker)
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok", "meta": s.deps.Meta, "time": time.Now().UTC()}

	if err := s.deps.Repo.Store().Ping(c.Request.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["database"] = err.Error()
	}
	if s.deps.Trading != nil {
		body["trading"] = s.deps.Trading.Status().Running
	}
	c.JSON(status, body)
}

func (s *Server) promMetrics() gin.HandlerFunc {
	h := promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

func (s *Server) getStatus(c *gin.Context) {
	body := gin.H{
		"meta":    s.deps.Meta,
		"metrics": s.deps.Metrics.GetSnapshot(),
	}
	if s.deps.Trading != nil {
		body["trading"] = s.deps.Trading.Status()
	}
	if s.deps.Guard != nil {
		body["risk"] = s.deps.Guard.Stats()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) getPositions(c *gin.Context) {
	positions, err := s.deps.Repo.Positions(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) getOrders(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	orders, err := s.deps.Repo.ListOrders(c.Request.Context(), model.OrderFilter{
		PendingOnly: q.Pending,
		Ticker:      q.Ticker,
		Limit:       q.Limit,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) getPendingGate(c *gin.Context) {
	ticker := c.Param("ticker")
	pending, err := s.deps.Repo.HasPendingOrder(c.Request.Context(), ticker)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticker": ticker, "pending": pending})
}

func (s *Server) cancelOrder(c *gin.Context) {
	if s.deps.Orders == nil {
		respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "order cancellation is not configured")
		return
	}
	id := c.Param("id")
	if err := s.deps.Orders.CancelOrder(c.Request.Context(), id); err != nil {
		if repository.IsNotFound(err) {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "order not found")
			return
		}
		respondError(c, http.StatusBadGateway, "CANCEL_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"order_id": id, "status": "cancel_requested"})
}

func (s *Server) getBalance(c *gin.Context) {
	if s.deps.Account == nil {
		respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "account queries are not configured")
		return
	}
	amount, err := s.deps.Account.Balance(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusBadGateway, "EXCHANGE_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderable": amount.String(), "currency": "KRW"})
}

func (s *Server) getHoldings(c *gin.Context) {
	if s.deps.Account == nil {
		respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "account queries are not configured")
		return
	}
	holdings, err := s.deps.Account.Holdings(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusBadGateway, "EXCHANGE_ERROR", err.Error())
		return
	}
	out := make([]gin.H, 0, len(holdings))
	for _, h := range holdings {
		out = append(out, gin.H{
			"ticker":    h.Ticker,
			"name":      h.Name,
			"qty":       h.Qty,
			"avg_price": h.AvgPrice.String(),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getLatestReconciliation(c *gin.Context) {
	if s.deps.Reconciler == nil {
		respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "reconciliation is not configured")
		return
	}
	report, err := s.deps.Reconciler.Latest(c.Request.Context())
	if repository.IsNotFound(err) {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "no reconciliation report yet")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) runReconciliation(c *gin.Context) {
	if s.deps.Reconciler == nil {
		respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "reconciliation is not configured")
		return
	}
	report, err := s.deps.Reconciler.Reconcile(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "RECONCILE_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, report)
}
