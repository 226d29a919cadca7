package handler

import (
	"net/http"

	"github.com/dexgate/dexgate/internal/provider"
	"github.com/dexgate/dexgate/internal/service"
	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	svc      *service.Engine
	registry *provider.Registry
}

func NewAdminHandler(svc *service.Engine, registry *provider.Registry) *AdminHandler {
	return &AdminHandler{svc: svc, registry: registry}
}

// GetProviders reports the rolling health snapshot for every RPC provider.
func (h *AdminHandler) GetProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.registry.Snapshot()})
}

func (h *AdminHandler) EngageKillSwitch(c *gin.Context) {
	h.svc.EngageKillSwitch()
	c.JSON(http.StatusOK, gin.H{"kill_switch": true})
}

func (h *AdminHandler) ReleaseKillSwitch(c *gin.Context) {
	h.svc.ReleaseKillSwitch()
	c.JSON(http.StatusOK, gin.H{"kill_switch": false})
}

func (h *AdminHandler) GetKillSwitch(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"kill_switch": h.svc.KillSwitchEngaged()})
}
