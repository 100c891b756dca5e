package utils

import (
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"relaychat/internal/config"
	"relaychat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("pair")
			defer unlock()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, km.Len(), "released keys must be forgotten")
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	km := NewKeyedMutex()

	unlockA := km.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestValidatePayload(t *testing.T) {
	err := ValidatePayload(&models.PrivateMessagePayload{ReceiverID: "u2", TempID: "t1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrValidation))
	assert.Contains(t, err.Error(), "message is required")

	err = ValidatePayload(&models.PrivateCallPayload{TargetUserID: "u2", CallType: "hologram"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voice or video")

	require.NoError(t, ValidatePayload(&models.PrivateCallPayload{TargetUserID: "u2", CallType: models.CallTypeVideo}))
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := NewJWTVerifier(config.JWTConfig{Secret: "s3cret", Issuer: "relaychat", ExpiryHour: 1})

	token, err := v.GenerateUserJWT("u1")
	require.NoError(t, err)

	userID, err := v.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestJWTVerifier_RejectsForeignSecret(t *testing.T) {
	issuer := NewJWTVerifier(config.JWTConfig{Secret: "other", Issuer: "relaychat", ExpiryHour: 1})
	verifier := NewJWTVerifier(config.JWTConfig{Secret: "s3cret", Issuer: "relaychat", ExpiryHour: 1})

	token, err := issuer.GenerateUserJWT("u1")
	require.NoError(t, err)

	_, err = verifier.VerifyToken(token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrAuth))

	_, err = verifier.VerifyToken("garbage")
	assert.True(t, errors.Is(err, models.ErrAuth))
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		headers   map[string]string
		wantToken string
		wantProto string
	}{
		{"bearer header", "/ws", map[string]string{"Authorization": "Bearer abc"}, "abc", ""},
		{"non-bearer header ignored", "/ws", map[string]string{"Authorization": "Basic abc"}, "", ""},
		{"query", "/ws?token=q1", nil, "q1", ""},
		{"subprotocol", "/ws", map[string]string{"Sec-WebSocket-Protocol": "chat, token.p1"}, "p1", "token.p1"},
		{"empty subprotocol token", "/ws", map[string]string{"Sec-WebSocket-Protocol": "token."}, "", ""},
		{"header wins over query", "/ws?token=q1", map[string]string{"Authorization": "Bearer h1"}, "h1", ""},
		{"nothing", "/ws", nil, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			token, proto := TokenFromRequest(req)
			assert.Equal(t, tt.wantToken, token)
			assert.Equal(t, tt.wantProto, proto)
		})
	}
}
