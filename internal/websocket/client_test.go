package websocket

import (
	"context"
	"encoding/json"
	"testing"

	"relaychat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatchFunc func(ctx context.Context, c *Client, env *Envelope) *Ack

func (f dispatchFunc) Dispatch(ctx context.Context, c *Client, env *Envelope) *Ack {
	return f(ctx, c, env)
}

func ackOf(t *testing.T, f frame) Ack {
	t.Helper()
	var ack struct {
		OK    bool      `json:"ok"`
		Error *AckError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	return Ack{OK: ack.OK, Error: ack.Error}
}

func TestClient_HandleFrameWritesAck(t *testing.T) {
	h := newTestHub()
	c := register(t, h, "u1")
	drain(t, c)

	var seen string
	d := dispatchFunc(func(_ context.Context, _ *Client, env *Envelope) *Ack {
		seen = env.Event
		return OK(map[string]string{"id": "m1"})
	})

	c.HandleFrame(d, []byte(`{"event":"private:message","ack":"7","data":{}}`))
	assert.Equal(t, "private:message", seen)

	frames := drain(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, models.EventAck, frames[0].Event)
	assert.Equal(t, "7", frames[0].AckID)
	assert.True(t, ackOf(t, frames[0]).OK)
}

func TestClient_NoAckRequested(t *testing.T) {
	h := newTestHub()
	c := register(t, h, "u1")
	drain(t, c)

	d := dispatchFunc(func(context.Context, *Client, *Envelope) *Ack { return OK(nil) })
	c.HandleFrame(d, []byte(`{"event":"private:typing","data":{}}`))
	assert.Empty(t, drain(t, c))
}

func TestClient_MalformedFrame(t *testing.T) {
	h := newTestHub()
	c := register(t, h, "u1")
	drain(t, c)

	d := dispatchFunc(func(context.Context, *Client, *Envelope) *Ack {
		t.Fatal("dispatcher must not run")
		return nil
	})
	c.HandleFrame(d, []byte(`{not json`))

	frames := drain(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, models.EventError, frames[0].Event)
}

func TestClient_PanicBecomesInternalError(t *testing.T) {
	h := newTestHub()
	c := register(t, h, "u1")
	drain(t, c)

	d := dispatchFunc(func(context.Context, *Client, *Envelope) *Ack { panic("boom") })
	c.HandleFrame(d, []byte(`{"event":"x","ack":"1"}`))

	frames := drain(t, c)
	require.Len(t, frames, 1)
	ack := ackOf(t, frames[0])
	assert.False(t, ack.OK)
	require.NotNil(t, ack.Error)
	assert.Equal(t, models.KindInternal, ack.Error.Code)
}

func TestClient_RateLimit(t *testing.T) {
	settings := DefaultSettings()
	settings.EventsPerMinute = 2
	h := NewHub(settings)
	c := register(t, h, "u1")
	drain(t, c)

	calls := 0
	d := dispatchFunc(func(context.Context, *Client, *Envelope) *Ack {
		calls++
		return OK(nil)
	})
	for i := 0; i < 3; i++ {
		c.HandleFrame(d, []byte(`{"event":"x","ack":"1"}`))
	}

	assert.Equal(t, 2, calls)
	frames := drain(t, c)
	require.Len(t, frames, 3)
	assert.False(t, ackOf(t, frames[2]).OK)
}
