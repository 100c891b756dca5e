package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"relaychat/internal/config"
	"relaychat/internal/store"
	"relaychat/internal/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventTimeout = time.Second

type harness struct {
	hub      *websocket.Hub
	store    *store.MemoryStore
	presence *PresenceService
	private  *PrivateMessagingService
	group    *GroupMessagingService
	calls    *CallOrchestrator
	typing   *TypingTracker
	cache    *IdempotencyCache
}

func testRealtimeConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		IdempotencyTTL:      time.Minute,
		IdempotencySize:     1000,
		TypingTimeout:       50 * time.Millisecond,
		PrivateRingTimeout:  time.Minute,
		GroupRingTimeout:    time.Minute,
		GroupCallBusyPolicy: true,
		PersistRetryDelay:   time.Millisecond,
	}
}

func newHarness(t *testing.T, mutate ...func(*config.RealtimeConfig)) *harness {
	t.Helper()

	cfg := testRealtimeConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	hub := websocket.NewHub(websocket.DefaultSettings())
	memory := store.NewMemoryStore()
	cache := NewIdempotencyCache(cfg.IdempotencySize, cfg.IdempotencyTTL)
	typing := NewTypingTracker(cfg.TypingTimeout)
	pipeline := NewMessagePipeline(memory, cache, cfg.PersistRetryDelay)

	h := &harness{
		hub:      hub,
		store:    memory,
		presence: NewPresenceService(hub),
		private:  NewPrivateMessagingService(hub, pipeline, typing, cfg.IdempotencySize, cfg.IdempotencyTTL),
		group:    NewGroupMessagingService(hub, memory, pipeline, typing, cfg.IdempotencySize, cfg.IdempotencyTTL),
		calls:    NewCallOrchestrator(hub, memory, cfg),
		typing:   typing,
		cache:    cache,
	}
	hub.AddObserver(h.presence)
	hub.AddObserver(h.calls)

	t.Cleanup(func() {
		h.calls.Close()
		h.typing.Stop()
		h.hub.Close()
	})
	return h
}

// connect opens a connection-less session and discards its session:ready
func (h *harness) connect(t *testing.T, userID string) *websocket.Client {
	t.Helper()
	c := websocket.NewClient(nil, h.hub, userID)
	require.NoError(t, h.hub.RegisterSession(c))
	drainEvents(c)
	return c
}

func (h *harness) disconnect(c *websocket.Client) {
	h.hub.UnregisterSession(c.ID)
}

func (h *harness) addMembers(t *testing.T, groupID string, users ...string) {
	t.Helper()
	for _, u := range users {
		require.NoError(t, h.store.AddGroupMember(context.Background(), groupID, u))
	}
}

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// nextEvent waits for the next frame named event, skipping others
func nextEvent(t *testing.T, c *websocket.Client, event string) json.RawMessage {
	t.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case raw, ok := <-c.Send:
			if !ok {
				t.Fatalf("session %s closed while waiting for %s", c.UserID, event)
			}
			var r received
			require.NoError(t, json.Unmarshal(raw, &r))
			if r.Event == event {
				return r.Data
			}
		case <-deadline:
			t.Fatalf("%s never received %s", c.UserID, event)
		}
	}
}

func nextEventAs[T any](t *testing.T, c *websocket.Client, event string) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(nextEvent(t, c, event), &out))
	return out
}

// collect returns the names of every frame queued on c within wait
func collect(c *websocket.Client, wait time.Duration) []string {
	var names []string
	deadline := time.After(wait)
	for {
		select {
		case raw, ok := <-c.Send:
			if !ok {
				return names
			}
			var r received
			if json.Unmarshal(raw, &r) == nil {
				names = append(names, r.Event)
			}
		case <-deadline:
			return names
		}
	}
}

func assertNoEvent(t *testing.T, c *websocket.Client, event string) {
	t.Helper()
	assert.NotContains(t, collect(c, 30*time.Millisecond), event)
}

func drainEvents(c *websocket.Client) {
	for {
		select {
		case _, ok := <-c.Send:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
