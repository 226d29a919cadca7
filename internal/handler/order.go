package handler

import (
	"net/http"

	"github.com/dexgate/dexgate/internal/model"
	"github.com/dexgate/dexgate/internal/pkg/apperrors"
	"github.com/dexgate/dexgate/internal/service"
	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	svc *service.Engine
}

func NewOrderHandler(svc *service.Engine) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// PlaceOrder accepts an order and returns 202: execution is asynchronous
// and the caller polls GET /orders/:id for the terminal status.
func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	var req model.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}

	order, err := h.svc.PlaceOrder(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, order)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.svc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	status := model.OrderStatus(c.Query("status"))
	orders, err := h.svc.ListOrders(c.Request.Context(), status)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	order, err := h.svc.CancelOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, order)
}
