package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"relaychat/internal/config"
	"relaychat/internal/models"
	"relaychat/pkg/logger"
)

// SessionInfo identifies a socket session
type SessionInfo struct {
	ConnectionID string
	UserID       string
}

// SessionObserver is notified after a session is registered or removed.
// count is the number of sessions the user has after the change.
type SessionObserver interface {
	SessionOpened(s SessionInfo, count int)
	SessionClosed(s SessionInfo, count int)
}

// Settings carries the per-connection limits
type Settings struct {
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxMessageSize  int64
	SendBufferSize  int
	EventsPerMinute int
}

// SettingsFromConfig maps websocket config onto hub settings
func SettingsFromConfig(cfg config.WebSocketConfig) Settings {
	return Settings{
		WriteWait:       cfg.WriteWait,
		PongWait:        cfg.PongWait,
		PingPeriod:      cfg.PingPeriod,
		MaxMessageSize:  cfg.MaxMessageSize,
		SendBufferSize:  cfg.SendBufferSize,
		EventsPerMinute: cfg.EventsPerMinute,
	}
}

// DefaultSettings returns the settings used when none are configured
func DefaultSettings() Settings {
	return Settings{
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingPeriod:      54 * time.Second,
		MaxMessageSize:  64 * 1024,
		SendBufferSize:  256,
		EventsPerMinute: 600,
	}
}

// Hub is the connection gateway: it owns the session registry and room
// membership, and fans events out to sessions.
type Hub struct {
	settings Settings

	// connectionID -> client
	sessions map[string]*Client

	// userID -> connectionID -> client
	userSessions map[string]map[string]*Client

	// room -> connectionID -> client
	rooms map[string]map[string]*Client

	observers []SessionObserver

	stats *HubStats

	mu sync.RWMutex
}

// HubStats contains hub statistics
type HubStats struct {
	TotalSessions int            `json:"total_sessions"`
	OnlineUsers   int            `json:"online_users"`
	ActiveRooms   int            `json:"active_rooms"`
	EventsOut     int64          `json:"events_out"`
	Evictions     int64          `json:"evictions"`
	RoomStats     map[string]int `json:"room_stats"`
	LastUpdated   time.Time      `json:"last_updated"`
	mu            sync.RWMutex
}

// NewHub creates a new gateway hub
func NewHub(settings Settings) *Hub {
	return &Hub{
		settings:     settings,
		sessions:     make(map[string]*Client),
		userSessions: make(map[string]map[string]*Client),
		rooms:        make(map[string]map[string]*Client),
		stats: &HubStats{
			RoomStats:   make(map[string]int),
			LastUpdated: time.Now(),
		},
	}
}

// AddObserver registers a session observer. Observers are called in the order
// they were added.
func (h *Hub) AddObserver(o SessionObserver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, o)
}

// Run drives periodic maintenance until ctx is done
func (h *Hub) Run(ctx context.Context) {
	statsTicker := time.NewTicker(30 * time.Second)
	cleanupTicker := time.NewTicker(h.settings.PongWait)
	defer statsTicker.Stop()
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-statsTicker.C:
			h.updateStats()
		case <-cleanupTicker.C:
			h.cleanupInactiveSessions()
		}
	}
}

// RegisterSession adds an authenticated session to the registry
func (h *Hub) RegisterSession(client *Client) error {
	if client.UserID == "" {
		return models.NewAuthError("unauthenticated session")
	}

	h.mu.Lock()
	h.sessions[client.ID] = client
	if h.userSessions[client.UserID] == nil {
		h.userSessions[client.UserID] = make(map[string]*Client)
	}
	h.userSessions[client.UserID][client.ID] = client
	count := len(h.userSessions[client.UserID])
	total := len(h.sessions)
	observers := h.observers
	h.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"user_id":        client.UserID,
		"connection_id":  client.ID,
		"user_sessions":  count,
		"total_sessions": total,
	}).Info("Session registered")

	client.enqueue(mustEncode(models.EventSessionReady, map[string]interface{}{
		"userId":       client.UserID,
		"connectionId": client.ID,
		"serverTime":   time.Now().UTC(),
	}))

	info := SessionInfo{ConnectionID: client.ID, UserID: client.UserID}
	for _, o := range observers {
		o.SessionOpened(info, count)
	}

	return nil
}

// UnregisterSession removes a session and its room memberships. Returns false
// when the connection was not registered.
func (h *Hub) UnregisterSession(connectionID string) bool {
	h.mu.Lock()
	client, ok := h.sessions[connectionID]
	if !ok {
		h.mu.Unlock()
		return false
	}

	delete(h.sessions, connectionID)
	if userClients := h.userSessions[client.UserID]; userClients != nil {
		delete(userClients, connectionID)
		if len(userClients) == 0 {
			delete(h.userSessions, client.UserID)
		}
	}
	for room := range client.Rooms() {
		h.removeFromRoomLocked(client, room)
	}
	remaining := len(h.userSessions[client.UserID])
	observers := h.observers
	h.mu.Unlock()

	client.closeSend()

	logger.LogUserAction(client.UserID, "session_unregistered", map[string]interface{}{
		"connection_id":      connectionID,
		"remaining_sessions": remaining,
		"duration_seconds":   time.Since(client.ConnectedAt).Seconds(),
	})

	info := SessionInfo{ConnectionID: connectionID, UserID: client.UserID}
	for _, o := range observers {
		o.SessionClosed(info, remaining)
	}

	return true
}

// GetSessions returns the connection ids of a user's sessions
func (h *Hub) GetSessions(userID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.userSessions[userID]))
	for id := range h.userSessions[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SessionCount returns how many sessions a user has
func (h *Hub) SessionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userSessions[userID])
}

// Session returns the client for a connection id
func (h *Hub) Session(connectionID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.sessions[connectionID]
	return c, ok
}

// Rooms

// JoinRoom adds the session to a room. joined is false when it was already in.
func (h *Hub) JoinRoom(connectionID, room string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.sessions[connectionID]
	if !ok {
		return false, models.NewNotFoundError("session %s not found", connectionID)
	}

	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Client)
	}
	if _, exists := h.rooms[room][connectionID]; exists {
		return false, nil
	}
	h.rooms[room][connectionID] = client
	client.addRoom(room)

	logger.LogChatEvent("session_joined_room", room, client.UserID, map[string]interface{}{
		"room_size": len(h.rooms[room]),
	})
	return true, nil
}

// LeaveRoom removes the session from a room. left is false when it was not in.
func (h *Hub) LeaveRoom(connectionID, room string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.sessions[connectionID]
	if !ok {
		return false, models.NewNotFoundError("session %s not found", connectionID)
	}
	if _, in := h.rooms[room][connectionID]; !in {
		return false, nil
	}
	h.removeFromRoomLocked(client, room)

	logger.LogChatEvent("session_left_room", room, client.UserID, nil)
	return true, nil
}

// InRoom reports whether the session has joined room
func (h *Hub) InRoom(connectionID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][connectionID]
	return ok
}

// RoomUsers returns the distinct users with at least one session in room
func (h *Hub) RoomUsers(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool)
	for _, c := range h.rooms[room] {
		seen[c.UserID] = true
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

func (h *Hub) removeFromRoomLocked(client *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	client.removeRoom(room)
}

// Fan-out

// EmitToUser sends an event to every session of userID and returns how many
// sessions it was queued on
func (h *Hub) EmitToUser(userID, event string, payload interface{}) int {
	return h.EmitToUserExcept(userID, "", event, payload)
}

// EmitToUserExcept sends to every session of userID except one connection
func (h *Hub) EmitToUserExcept(userID, exceptConnectionID, event string, payload interface{}) int {
	data, ok := h.encode(event, payload)
	if !ok {
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.userSessions[userID]))
	for id, c := range h.userSessions[userID] {
		if id != exceptConnectionID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	return h.deliver(targets, data)
}

// EmitToConnection sends to a single session
func (h *Hub) EmitToConnection(connectionID, event string, payload interface{}) bool {
	data, ok := h.encode(event, payload)
	if !ok {
		return false
	}

	h.mu.RLock()
	c, exists := h.sessions[connectionID]
	h.mu.RUnlock()
	if !exists {
		return false
	}
	return h.deliver([]*Client{c}, data) == 1
}

// EmitToRoom sends to every session in a room
func (h *Hub) EmitToRoom(room, event string, payload interface{}) int {
	return h.EmitToRoomExcept(room, "", event, payload)
}

// EmitToRoomExcept sends to every session in a room not owned by excludeUserID
func (h *Hub) EmitToRoomExcept(room, excludeUserID, event string, payload interface{}) int {
	data, ok := h.encode(event, payload)
	if !ok {
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		if excludeUserID != "" && c.UserID == excludeUserID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	return h.deliver(targets, data)
}

// EmitToAll sends to every registered session
func (h *Hub) EmitToAll(event string, payload interface{}) int {
	data, ok := h.encode(event, payload)
	if !ok {
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.sessions))
	for _, c := range h.sessions {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	return h.deliver(targets, data)
}

func (h *Hub) encode(event string, payload interface{}) ([]byte, bool) {
	data, err := encode(event, "", payload)
	if err != nil {
		logger.WithError(err).WithField("event", event).Error("Failed to marshal outbound event")
		return nil, false
	}
	return data, true
}

// deliver queues data on each client. Sessions whose buffer is full are
// evicted; a slow consumer must not stall everyone else.
func (h *Hub) deliver(targets []*Client, data []byte) int {
	delivered := 0
	for _, c := range targets {
		if c.enqueue(data) {
			delivered++
			continue
		}
		if c.isClosed() {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"user_id":       c.UserID,
			"connection_id": c.ID,
		}).Warn("Send buffer full, evicting session")

		h.stats.mu.Lock()
		h.stats.Evictions++
		h.stats.mu.Unlock()

		go h.UnregisterSession(c.ID)
	}

	h.stats.mu.Lock()
	h.stats.EventsOut += int64(delivered)
	h.stats.mu.Unlock()

	return delivered
}

// Close unregisters every session
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.UnregisterSession(id)
	}
}

// Statistics and monitoring

func (h *Hub) updateStats() {
	h.mu.RLock()
	total := len(h.sessions)
	online := len(h.userSessions)
	roomStats := make(map[string]int, len(h.rooms))
	for room, members := range h.rooms {
		roomStats[room] = len(members)
	}
	h.mu.RUnlock()

	h.stats.mu.Lock()
	h.stats.TotalSessions = total
	h.stats.OnlineUsers = online
	h.stats.ActiveRooms = len(roomStats)
	h.stats.RoomStats = roomStats
	h.stats.LastUpdated = time.Now()
	h.stats.mu.Unlock()
}

// GetStats returns a snapshot of hub statistics
func (h *Hub) GetStats() *HubStats {
	h.updateStats()

	h.stats.mu.RLock()
	defer h.stats.mu.RUnlock()

	snapshot := &HubStats{
		TotalSessions: h.stats.TotalSessions,
		OnlineUsers:   h.stats.OnlineUsers,
		ActiveRooms:   h.stats.ActiveRooms,
		EventsOut:     h.stats.EventsOut,
		Evictions:     h.stats.Evictions,
		LastUpdated:   h.stats.LastUpdated,
		RoomStats:     make(map[string]int, len(h.stats.RoomStats)),
	}
	for k, v := range h.stats.RoomStats {
		snapshot.RoomStats[k] = v
	}
	return snapshot
}

// OnlineUsers returns the ids of users with at least one session
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.userSessions))
	for userID := range h.userSessions {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

func (h *Hub) cleanupInactiveSessions() {
	h.mu.RLock()
	inactive := make([]*Client, 0)
	for _, c := range h.sessions {
		// Connection-less sessions are driven in-process and never pong
		if c.Conn != nil && time.Since(c.lastPong()) > h.settings.PongWait {
			inactive = append(inactive, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range inactive {
		logger.WithFields(map[string]interface{}{
			"user_id":       c.UserID,
			"connection_id": c.ID,
		}).Info("Removing inactive session")
		h.UnregisterSession(c.ID)
	}
}

func mustEncode(event string, payload interface{}) []byte {
	data, err := encode(event, "", payload)
	if err != nil {
		logger.WithError(err).Error("Failed to marshal event")
		return nil
	}
	return data
}
