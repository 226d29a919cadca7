package handler

import (
	"net/http"

	"github.com/dexgate/dexgate/internal/model"
	"github.com/dexgate/dexgate/internal/service"
	"github.com/gin-gonic/gin"
)

type PositionHandler struct {
	svc *service.Engine
}

func NewPositionHandler(svc *service.Engine) *PositionHandler {
	return &PositionHandler{svc: svc}
}

func (h *PositionHandler) ListPositions(c *gin.Context) {
	status := model.PositionStatus(c.Query("status"))
	positions, err := h.svc.ListPositions(c.Request.Context(), status)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

func (h *PositionHandler) GetPosition(c *gin.Context) {
	pos, err := h.svc.GetPosition(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

func (h *PositionHandler) GetPositionEvents(c *gin.Context) {
	events, err := h.svc.ListPositionEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// ClosePosition forces a market exit through the same compare-and-swap
// chain the monitor uses.
func (h *PositionHandler) ClosePosition(c *gin.Context) {
	pos, err := h.svc.ForceClosePosition(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, pos)
}
