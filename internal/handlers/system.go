package handlers

import (
	"net/http"
	"time"

	"relaychat/internal/config"
	"relaychat/internal/models"
	"relaychat/internal/services"
	"relaychat/internal/store"
	"relaychat/internal/utils"
	"relaychat/internal/websocket"

	"github.com/gin-gonic/gin"
)

// SystemHandler serves health, stats and presence over REST
type SystemHandler struct {
	hub      *websocket.Hub
	store    store.Store
	calls    *services.CallOrchestrator
	presence *services.PresenceService
	app      config.AppConfig
	started  time.Time
}

func NewSystemHandler(hub *websocket.Hub, st store.Store, calls *services.CallOrchestrator, presence *services.PresenceService, app config.AppConfig) *SystemHandler {
	return &SystemHandler{
		hub:      hub,
		store:    st,
		calls:    calls,
		presence: presence,
		app:      app,
		started:  time.Now(),
	}
}

// Health reports store connectivity and gateway counters. A store that
// cannot be reached turns the response into a 503.
func (h *SystemHandler) Health(c *gin.Context) {
	storeHealth := h.store.HealthCheck(c.Request.Context())
	stats := h.hub.GetStats()

	health := gin.H{
		"status":  "healthy",
		"name":    h.app.Name,
		"version": h.app.Version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"store":   storeHealth,
		"websocket": gin.H{
			"sessions":     stats.TotalSessions,
			"online_users": stats.OnlineUsers,
			"rooms":        stats.ActiveRooms,
		},
		"active_calls": h.calls.ActiveCalls(),
		"server_time":  time.Now().UTC(),
	}

	if storeHealth["status"] != "connected" {
		health["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	c.JSON(http.StatusOK, health)
}

// Stats returns the full hub statistics
func (h *SystemHandler) Stats(c *gin.Context) {
	utils.SuccessResponse(c, gin.H{
		"websocket_stats": h.hub.GetStats(),
		"active_calls":    h.calls.ActiveCalls(),
		"generated_at":    time.Now().UTC(),
	})
}

// Presence returns whether a user currently has a socket session
func (h *SystemHandler) Presence(c *gin.Context) {
	userID := c.Param("user_id")
	if !models.ValidUserID(userID) {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid user id")
		return
	}

	utils.SuccessResponse(c, h.presence.Status(userID))
}
