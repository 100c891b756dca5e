package handlers

import (
	"relaychat/internal/services"
	"relaychat/internal/utils"
	"relaychat/pkg/logger"

	"github.com/gin-gonic/gin"
)

type ICEHandler struct {
	iceService *services.ICEService
}

func NewICEHandler(iceService *services.ICEService) *ICEHandler {
	return &ICEHandler{
		iceService: iceService,
	}
}

// GetICEServers returns STUN/TURN servers with short-lived TURN credentials
// for the authenticated user
func (h *ICEHandler) GetICEServers(c *gin.Context) {
	servers, err := h.iceService.ICEServersFor(c.GetString("user_id"))
	if err != nil {
		logger.WithError(err).Error("Failed to build ICE configuration")
		utils.AppErrorResponse(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	utils.SuccessResponse(c, servers)
}
