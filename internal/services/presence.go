package services

import (
	"time"

	"relaychat/internal/models"
	"relaychat/internal/websocket"
	"relaychat/pkg/logger"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Last-seen entries are kept for recently disconnected users only
const (
	lastSeenSize = 10000
	lastSeenTTL  = 24 * time.Hour
)

// PresenceStatus is the REST view of a user's presence
type PresenceStatus struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	Sessions int        `json:"sessions"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// PresenceService derives online/offline from gateway session counts. It is
// registered as a hub observer and broadcasts only the 0->1 and 1->0 edges.
type PresenceService struct {
	gateway  Gateway
	lastSeen *expirable.LRU[string, time.Time]
}

func NewPresenceService(gateway Gateway) *PresenceService {
	return &PresenceService{
		gateway:  gateway,
		lastSeen: expirable.NewLRU[string, time.Time](lastSeenSize, nil, lastSeenTTL),
	}
}

func (p *PresenceService) SessionOpened(s websocket.SessionInfo, count int) {
	if count != 1 {
		return
	}
	p.lastSeen.Remove(s.UserID)
	p.broadcast(s.UserID, true)
}

func (p *PresenceService) SessionClosed(s websocket.SessionInfo, count int) {
	if count != 0 {
		return
	}

	p.lastSeen.Add(s.UserID, time.Now().UTC())

	p.broadcast(s.UserID, false)
}

func (p *PresenceService) broadcast(userID string, online bool) {
	p.gateway.EmitToAll(models.EventPresenceChanged, models.PresenceChangedEvent{
		UserID: userID,
		Online: online,
		At:     time.Now().UnixMilli(),
	})

	logger.LogUserAction(userID, "presence_changed", map[string]interface{}{
		"online": online,
	})
}

// IsOnline reports whether the user has at least one session
func (p *PresenceService) IsOnline(userID string) bool {
	return p.gateway.SessionCount(userID) > 0
}

// Status returns the presence of a user
func (p *PresenceService) Status(userID string) PresenceStatus {
	count := p.gateway.SessionCount(userID)
	status := PresenceStatus{
		UserID:   userID,
		Online:   count > 0,
		Sessions: count,
	}

	if !status.Online {
		if seen, ok := p.lastSeen.Get(userID); ok {
			status.LastSeen = &seen
		}
	}
	return status
}
