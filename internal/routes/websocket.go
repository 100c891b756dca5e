package routes

import (
	"relaychat/internal/handlers"

	"github.com/gin-gonic/gin"
)

func SetupWebSocketRoutes(router *gin.Engine, deps Dependencies) {
	wsHandler := handlers.NewWebSocketHandler(deps.Hub, deps.Dispatcher, deps.Verifier, deps.Config)

	// Authentication happens inside the handler so the subprotocol token can
	// be echoed on upgrade
	router.GET(deps.Config.Server.WebSocket.Namespace, wsHandler.HandleChatWebSocket)
}
