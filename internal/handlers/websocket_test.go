package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"relaychat/internal/config"
	"relaychat/internal/models"
	"relaychat/internal/utils"
	"relaychat/internal/websocket"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNamespace = "/ws/chat"

type socketServer struct {
	server   *httptest.Server
	hub      *websocket.Hub
	verifier *utils.JWTVerifier
}

func newSocketServer(t *testing.T, allowUserID bool) *socketServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server: config.ServerConfig{
			WebSocket: config.WebSocketConfig{
				Namespace:       testNamespace,
				ReadBufferSize:  1024,
				WriteBufferSize: 1024,
				CheckOrigin:     true,
			},
			CORS: config.CORSConfig{AllowedOrigins: []string{"http://allowed.test"}},
		},
		Security: config.SecurityConfig{
			JWT:                  config.JWTConfig{Secret: "test-secret", Issuer: "relaychat", ExpiryHour: 1},
			AllowUserIDHandshake: allowUserID,
		},
	}

	rh := newRouterHarness(t)
	verifier := utils.NewJWTVerifier(cfg.Security.JWT)
	handler := NewWebSocketHandler(rh.hub, rh.router, verifier, cfg)

	engine := gin.New()
	engine.GET(testNamespace, handler.HandleChatWebSocket)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	return &socketServer{server: srv, hub: rh.hub, verifier: verifier}
}

func (s *socketServer) url(query string) string {
	u := "ws" + strings.TrimPrefix(s.server.URL, "http") + testNamespace
	if query != "" {
		u += "?" + query
	}
	return u
}

func (s *socketServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := s.verifier.GenerateUserJWT(userID)
	require.NoError(t, err)
	return tok
}

// readEvent reads frames until one with the given event arrives. Several
// frames may share one websocket message, separated by newlines.
func readEvent(t *testing.T, conn *gws.Conn, event string) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		for _, raw := range bytes.Split(msg, []byte{'\n'}) {
			var f frame
			require.NoError(t, json.Unmarshal(raw, &f))
			if f.Event == event {
				return f
			}
		}
	}
}

func TestWebSocketHandler_RejectsMissingToken(t *testing.T) {
	s := newSocketServer(t, false)

	_, resp, err := gws.DefaultDialer.Dial(s.url(""), nil)
	require.ErrorIs(t, err, gws.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, s.hub.GetStats().TotalSessions)
}

func TestWebSocketHandler_RejectsBadToken(t *testing.T) {
	s := newSocketServer(t, false)

	_, resp, err := gws.DefaultDialer.Dial(s.url("token=not-a-jwt"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketHandler_QueryToken(t *testing.T) {
	s := newSocketServer(t, false)

	conn, _, err := gws.DefaultDialer.Dial(s.url("token="+s.token(t, "alice")), nil)
	require.NoError(t, err)
	defer conn.Close()

	readEvent(t, conn, models.EventSessionReady)
	assert.Equal(t, 1, s.hub.SessionCount("alice"))

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`{"event":"nope","ack":"1","data":{}}`)))
	f := readEvent(t, conn, models.EventAck)
	assert.Equal(t, "1", f.AckID)

	var ack ackFrame
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	assert.False(t, ack.OK)
	assert.Equal(t, models.KindValidation, ack.Error.Code)
}

func TestWebSocketHandler_SubprotocolToken(t *testing.T) {
	s := newSocketServer(t, false)
	proto := "token." + s.token(t, "alice")

	dialer := gws.Dialer{Subprotocols: []string{proto}}
	conn, _, err := dialer.Dial(s.url(""), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, proto, conn.Subprotocol())
	readEvent(t, conn, models.EventSessionReady)
}

func TestWebSocketHandler_BearerHeader(t *testing.T) {
	s := newSocketServer(t, false)

	header := http.Header{"Authorization": []string{"Bearer " + s.token(t, "bob")}}
	conn, _, err := gws.DefaultDialer.Dial(s.url(""), header)
	require.NoError(t, err)
	defer conn.Close()

	readEvent(t, conn, models.EventSessionReady)
	assert.Equal(t, 1, s.hub.SessionCount("bob"))
}

func TestWebSocketHandler_CheckOrigin(t *testing.T) {
	s := newSocketServer(t, false)
	tok := s.token(t, "alice")

	_, resp, err := gws.DefaultDialer.Dial(s.url("token="+tok), http.Header{"Origin": []string{"http://evil.test"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := gws.DefaultDialer.Dial(s.url("token="+tok), http.Header{"Origin": []string{"http://allowed.test"}})
	require.NoError(t, err)
	conn.Close()
}

func TestWebSocketHandler_UserIDHandshake(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s := newSocketServer(t, false)
		_, resp, err := gws.DefaultDialer.Dial(s.url("user_id=alice"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("separator in user id", func(t *testing.T) {
		s := newSocketServer(t, true)
		_, resp, err := gws.DefaultDialer.Dial(s.url("user_id=alice:bob"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, 0, s.hub.GetStats().TotalSessions)
	})

	t.Run("enabled", func(t *testing.T) {
		s := newSocketServer(t, true)
		conn, _, err := gws.DefaultDialer.Dial(s.url("user_id=alice"), nil)
		require.NoError(t, err)
		defer conn.Close()

		readEvent(t, conn, models.EventSessionReady)
		assert.Equal(t, 1, s.hub.SessionCount("alice"))
	})
}

func TestWebSocketHandler_DisconnectUnregisters(t *testing.T) {
	s := newSocketServer(t, false)

	conn, _, err := gws.DefaultDialer.Dial(s.url("token="+s.token(t, "alice")), nil)
	require.NoError(t, err)
	readEvent(t, conn, models.EventSessionReady)

	conn.Close()
	assert.Eventually(t, func() bool {
		return s.hub.SessionCount("alice") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketHandler_RejectsTokenWithSeparatorInSubject(t *testing.T) {
	s := newSocketServer(t, false)

	_, resp, err := gws.DefaultDialer.Dial(s.url("token="+s.token(t, "alice:bob")), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
