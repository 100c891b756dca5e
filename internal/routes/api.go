package routes

import (
	"relaychat/internal/config"
	"relaychat/internal/handlers"
	"relaychat/internal/middleware"
	"relaychat/internal/services"
	"relaychat/internal/store"
	"relaychat/internal/utils"
	"relaychat/internal/websocket"

	"github.com/gin-gonic/gin"
)

// Dependencies are the process-scoped components the routes are wired to
type Dependencies struct {
	Config     *config.Config
	Hub        *websocket.Hub
	Store      store.Store
	Verifier   utils.TokenVerifier
	Dispatcher websocket.Dispatcher
	Presence   *services.PresenceService
	Calls      *services.CallOrchestrator
	ICE        *services.ICEService
	Limiter    *middleware.RateLimiter
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	cfg := deps.Config

	systemHandler := handlers.NewSystemHandler(deps.Hub, deps.Store, deps.Calls, deps.Presence, cfg.App)
	iceHandler := handlers.NewICEHandler(deps.ICE)

	// Global middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSWithConfig(cfg.Server.CORS.AllowedOrigins, cfg.Server.CORS.AllowCredentials))
	if deps.Limiter != nil {
		router.Use(middleware.RateLimit(deps.Limiter, cfg.Server.HTTP.RateLimit))
	}

	router.GET("/health", systemHandler.Health)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.SessionAuth(deps.Verifier))
	{
		v1.GET("/presence/:user_id", systemHandler.Presence)
		v1.GET("/stats", systemHandler.Stats)
		v1.GET("/ice-servers", iceHandler.GetICEServers)
	}

	SetupWebSocketRoutes(router, deps)
}
