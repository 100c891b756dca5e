package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"relaychat/internal/models"
	"relaychat/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var newline = []byte{'\n'}

// Dispatcher handles one inbound event and returns its acknowledgment
type Dispatcher interface {
	Dispatch(ctx context.Context, c *Client, env *Envelope) *Ack
}

// Client is one authenticated socket session
type Client struct {
	ID     string
	UserID string

	// nil for in-process sessions
	Conn *websocket.Conn
	Hub  *Hub

	// Buffered channel of outbound frames
	Send chan []byte

	IP        string
	UserAgent string

	ConnectedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	rooms      map[string]bool
	closed     bool
	lastPongAt time.Time

	// Rate limiting
	windowStart  time.Time
	messageCount int
}

// NewClient creates a session for an authenticated user
func NewClient(conn *websocket.Conn, hub *Hub, userID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	return &Client{
		ID:          uuid.NewString(),
		UserID:      userID,
		Conn:        conn,
		Hub:         hub,
		Send:        make(chan []byte, hub.settings.SendBufferSize),
		ConnectedAt: now,
		ctx:         ctx,
		cancel:      cancel,
		rooms:       make(map[string]bool),
		lastPongAt:  now,
		windowStart: now,
	}
}

// Context is cancelled once the session is unregistered
func (c *Client) Context() context.Context {
	return c.ctx
}

// ReadPump pumps frames from the connection to the dispatcher. Events from one
// connection are handled in arrival order; other connections have their own
// pump and are never blocked by this one.
func (c *Client) ReadPump(dispatcher Dispatcher) {
	defer func() {
		c.Hub.UnregisterSession(c.ID)
		c.Conn.Close()
	}()

	settings := c.Hub.settings
	c.Conn.SetReadLimit(settings.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(settings.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.touchPong()
		c.Conn.SetReadDeadline(time.Now().Add(settings.PongWait))
		return nil
	})

	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.WithFields(map[string]interface{}{
					"user_id":       c.UserID,
					"connection_id": c.ID,
					"error":         err.Error(),
				}).Error("WebSocket read error")
			}
			return
		}

		c.HandleFrame(dispatcher, frame)
	}
}

// HandleFrame parses, rate-limits and dispatches one frame, then writes the
// acknowledgment when the client asked for one
func (c *Client) HandleFrame(dispatcher Dispatcher, frame []byte) {
	env, err := ParseEnvelope(frame)
	if err != nil {
		c.sendError(err)
		return
	}

	var ack *Ack
	if !c.checkRateLimit() {
		ack = Fail(models.NewValidationError("rate limit exceeded"))
	} else {
		ack = c.dispatch(dispatcher, env)
	}

	if env.AckID != "" && ack != nil {
		data, err := encode(models.EventAck, env.AckID, ack)
		if err != nil {
			logger.WithError(err).Error("Failed to marshal ack")
			return
		}
		c.enqueue(data)
	}
}

// dispatch recovers handler panics so one bad event never tears down the pump
func (c *Client) dispatch(dispatcher Dispatcher, env *Envelope) (ack *Ack) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogError(fmt.Errorf("panic: %v", r), "event dispatch", map[string]interface{}{
				"event":   env.Event,
				"user_id": c.UserID,
			})
			ack = Fail(models.NewInternalError(fmt.Errorf("%v", r)))
		}
	}()

	ack = dispatcher.Dispatch(c.ctx, c, env)
	return ack
}

// WritePump pumps frames from the send channel to the connection
func (c *Client) WritePump() {
	settings := c.Hub.settings
	ticker := time.NewTicker(settings.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(settings.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce queued frames, newline separated
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(settings.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues a frame without blocking. It reports false when the session
// is closed or its buffer is full.
func (c *Client) enqueue(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}

	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
	c.cancel()
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) sendError(err error) {
	appErr := models.AsAppError(err)
	c.enqueue(mustEncode(models.EventError, AckError{Code: appErr.Kind, Message: appErr.Message}))
}

// checkRateLimit applies a fixed one-minute window per connection
func (c *Client) checkRateLimit() bool {
	limit := c.Hub.settings.EventsPerMinute
	if limit <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.windowStart) > time.Minute {
		c.windowStart = now
		c.messageCount = 0
	}
	c.messageCount++

	return c.messageCount <= limit
}

// Rooms returns a copy of the rooms this session has joined
func (c *Client) Rooms() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]bool, len(c.rooms))
	for r := range c.rooms {
		out[r] = true
	}
	return out
}

func (c *Client) addRoom(room string) {
	c.mu.Lock()
	c.rooms[room] = true
	c.mu.Unlock()
}

func (c *Client) removeRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

func (c *Client) touchPong() {
	c.mu.Lock()
	c.lastPongAt = time.Now()
	c.mu.Unlock()
}

func (c *Client) lastPong() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPongAt
}
