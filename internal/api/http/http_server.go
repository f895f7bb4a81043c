package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"venue-matching-service/internal/api/dto"
	"venue-matching-service/internal/core"
	"venue-matching-service/internal/domain"
	"venue-matching-service/internal/middleware"
)

type HTTPServer struct {
	Eng *core.Engine
}

func NewHTTPServer(eng *core.Engine) *HTTPServer {
	return &HTTPServer{Eng: eng}
}

func (s *HTTPServer) Run(addr string) error {
	return s.Router().Run(addr)
}

func (s *HTTPServer) Router() *gin.Engine {
	r := gin.Default()

	rl := middleware.NewRateLimiter(time.Millisecond * 100)
	r.Use(rl.Middleware())

	r.POST("/orders", s.submitOrder)
	r.POST("/orders/cancel", s.cancelOrder)
	r.GET("/orders/:id", s.getOrder)
	r.GET("/orders/:id/trades", s.getTrades)
	r.GET("/orderbook", s.getOrderbook)
	r.GET("/trades", s.getRecentTrades)

	return r
}

func (s *HTTPServer) submitOrder(c *gin.Context) {
	var req dto.SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	o := &domain.Order{
		ID:       req.OrderID,
		UserID:   req.UserID,
		Side:     domain.Side(strings.ToUpper(req.Side)),
		Price:    req.Price,
		Quantity: req.Quantity,
	}

	view, trades, err := s.Eng.Submit(c.Request.Context(), o)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.SubmitOrderResponse{
		Order:  convertOrder(view),
		Trades: convertTrades(trades),
	})
}

func (s *HTTPServer) cancelOrder(c *gin.Context) {
	var req dto.CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Eng.Cancel(c.Request.Context(), req.OrderID); err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.CancelOrderResponse{OrderID: req.OrderID, Cancelled: true})
}

func (s *HTTPServer) getOrder(c *gin.Context) {
	o, err := s.Eng.Order(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.GetOrderResponse{Order: convertOrder(o)})
}

func (s *HTTPServer) getTrades(c *gin.Context) {
	trades, err := s.Eng.TradesForOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.GetTradesResponse{Trades: convertTrades(trades)})
}

func (s *HTTPServer) getOrderbook(c *gin.Context) {
	snap := s.Eng.Snapshot(c.Request.Context())
	c.JSON(http.StatusOK, dto.GetOrderbookResponse{
		Bids:      convertRestingOrders(snap.Bids),
		Asks:      convertRestingOrders(snap.Asks),
		Timestamp: snap.Timestamp,
	})
}

func (s *HTTPServer) getRecentTrades(c *gin.Context) {
	trades := s.Eng.RecentTrades(50)
	out := make([]dto.Trade, len(trades))
	for i := range trades {
		out[i] = convertTrade(&trades[i])
	}
	c.JSON(http.StatusOK, dto.GetTradesResponse{Trades: out})
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func convertOrder(o *domain.Order) dto.Order {
	return dto.Order{
		ID:               o.ID,
		UserID:           o.UserID,
		Side:             string(o.Side),
		Price:            o.Price,
		Quantity:         o.Quantity,
		OriginalQuantity: o.OriginalQuantity,
		Status:           string(o.Status),
		CreatedAt:        o.CreatedAt,
	}
}

func convertRestingOrders(orders []domain.Order) []dto.Order {
	res := make([]dto.Order, len(orders))
	for i := range orders {
		res[i] = convertOrder(&orders[i])
	}
	return res
}

func convertTrade(t *domain.Trade) dto.Trade {
	return dto.Trade{
		ID:         t.ID,
		BuyOrder:   t.BuyOrder,
		SellOrder:  t.SellOrder,
		Price:      t.Price,
		Quantity:   t.Quantity,
		ExecutedAt: t.ExecutedAt,
	}
}

func convertTrades(trades []*domain.Trade) []dto.Trade {
	res := make([]dto.Trade, len(trades))
	for i, t := range trades {
		res[i] = convertTrade(t)
	}
	return res
}
