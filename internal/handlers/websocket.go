package handlers

import (
	"net/http"

	"relaychat/internal/config"
	"relaychat/internal/middleware"
	"relaychat/internal/models"
	"relaychat/internal/utils"
	"relaychat/internal/websocket"
	"relaychat/pkg/logger"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"
)

var (
	errMissingToken  = models.NewAuthError("authentication token required")
	errInvalidUserID = models.NewAuthError("invalid user id")
)

type WebSocketHandler struct {
	hub        *websocket.Hub
	dispatcher websocket.Dispatcher
	verifier   utils.TokenVerifier
	upgrader   gws.Upgrader

	allowUserIDHandshake bool
}

func NewWebSocketHandler(hub *websocket.Hub, dispatcher websocket.Dispatcher, verifier utils.TokenVerifier, cfg *config.Config) *WebSocketHandler {
	origins := cfg.Server.CORS.AllowedOrigins
	checkOrigin := cfg.Server.WebSocket.CheckOrigin

	return &WebSocketHandler{
		hub:        hub,
		dispatcher: dispatcher,
		verifier:   verifier,
		upgrader: gws.Upgrader{
			ReadBufferSize:  cfg.Server.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.Server.WebSocket.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				if !checkOrigin {
					return true
				}
				origin := r.Header.Get("Origin")
				// Non-browser clients send no origin
				return origin == "" || middleware.IsOriginAllowed(origin, origins)
			},
		},
		allowUserIDHandshake: cfg.Security.AllowUserIDHandshake,
	}
}

// HandleChatWebSocket authenticates the handshake, upgrades the connection
// and starts the session pumps. Unauthenticated requests never reach the
// upgrade.
func (h *WebSocketHandler) HandleChatWebSocket(c *gin.Context) {
	userID, subprotocol, err := h.authenticate(c)
	if err != nil {
		logger.LogSecurityEvent("websocket_auth_failed", "", c.ClientIP(), map[string]interface{}{
			"user_agent": c.GetHeader("User-Agent"),
			"error":      err.Error(),
		})
		utils.AppErrorResponse(c, err)
		return
	}

	var header http.Header
	if subprotocol != "" {
		header = http.Header{"Sec-WebSocket-Protocol": []string{subprotocol}}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := websocket.NewClient(conn, h.hub, userID)
	client.IP = c.ClientIP()
	client.UserAgent = c.GetHeader("User-Agent")

	if err := h.hub.RegisterSession(client); err != nil {
		logger.WithError(err).Warn("Failed to register WebSocket session")
		conn.Close()
		return
	}

	logger.LogUserAction(userID, "websocket_connected", map[string]interface{}{
		"connection_id": client.ID,
		"ip":            client.IP,
		"user_agent":    client.UserAgent,
	})

	go client.WritePump()
	go client.ReadPump(h.dispatcher)
}

func (h *WebSocketHandler) authenticate(c *gin.Context) (userID, subprotocol string, err error) {
	token, subprotocol := utils.TokenFromRequest(c.Request)
	if token != "" {
		if userID, err = h.verifier.VerifyToken(token); err != nil {
			return "", "", err
		}
		if !models.ValidUserID(userID) {
			return "", "", errInvalidUserID
		}
		return userID, subprotocol, nil
	}

	if h.allowUserIDHandshake {
		if userID = c.Query("user_id"); userID != "" {
			if !models.ValidUserID(userID) {
				return "", "", errInvalidUserID
			}
			return userID, "", nil
		}
	}

	return "", "", errMissingToken
}
