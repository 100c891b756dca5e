package services

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"

	"relaychat/internal/config"
	"relaychat/internal/models"
	"relaychat/pkg/logger"
)

// ICEService hands out STUN/TURN servers for call setup. TURN credentials
// follow the TURN REST API scheme: username "<expiry>:<userId>" and an
// HMAC-SHA1 of it keyed with the shared secret, so coturn can verify them
// without a lookup.
type ICEService struct {
	stunURLs []string
	turnURLs []string
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

func NewICEService(cfg config.ICEConfig) *ICEService {
	ttl := cfg.CredentialTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ICEService{
		stunURLs: cfg.STUNURLs,
		turnURLs: cfg.TURNURLs,
		secret:   []byte(cfg.TURNSecret),
		ttl:      ttl,
		now:      time.Now,
	}
}

// ICEServersFor returns the ICE configuration for userID
func (s *ICEService) ICEServersFor(userID string) (*models.ICEConfiguration, error) {
	if userID == "" {
		return nil, models.NewAuthError("user is required")
	}

	out := &models.ICEConfiguration{
		ICEServers: make([]models.ICEServer, 0, 2),
		TTLSeconds: int64(s.ttl / time.Second),
	}

	if len(s.stunURLs) > 0 {
		out.ICEServers = append(out.ICEServers, models.ICEServer{URLs: s.stunURLs})
	}

	if len(s.turnURLs) > 0 {
		if len(s.secret) == 0 {
			return nil, models.NewInternalError(fmt.Errorf("turn servers configured without a secret"))
		}
		expiresAt := s.now().Add(s.ttl).Unix()
		username, credential := s.turnCredentials(userID, expiresAt)
		out.ICEServers = append(out.ICEServers, models.ICEServer{
			URLs:       s.turnURLs,
			Username:   username,
			Credential: credential,
		})
		out.ExpiresAt = expiresAt
	}

	logger.LogUserAction(userID, "ice_servers_requested", map[string]interface{}{
		"server_count": len(out.ICEServers),
		"turn":         len(s.turnURLs) > 0,
	})
	return out, nil
}

func (s *ICEService) turnCredentials(userID string, expiresAt int64) (string, string) {
	username := fmt.Sprintf("%d:%s", expiresAt, userID)

	mac := hmac.New(sha1.New, s.secret)
	mac.Write([]byte(username))
	return username, base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
