package services

import (
	"context"
	"testing"

	"relaychat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupMessaging_JoinRequiresMembership(t *testing.T) {
	h := newHarness(t)
	h.addMembers(t, "g1", "alice")
	a := h.connect(t, "alice")
	m := h.connect(t, "mallory")

	joined, err := h.group.JoinGroup(context.Background(), "alice", a.ID, "g1")
	require.NoError(t, err)
	assert.True(t, joined)

	joined, err = h.group.JoinGroup(context.Background(), "alice", a.ID, "g1")
	require.NoError(t, err)
	assert.False(t, joined)

	_, err = h.group.JoinGroup(context.Background(), "mallory", m.ID, "g1")
	assert.ErrorIs(t, err, models.ErrNotAMember)
	assert.False(t, h.hub.InRoom(m.ID, models.GroupRoom("g1")))
}

func TestGroupMessaging_FanOutIncludesSender(t *testing.T) {
	h := newHarness(t)
	h.addMembers(t, "g1", "alice", "bob", "carol")
	a := h.connect(t, "alice")
	b := h.connect(t, "bob")
	c := h.connect(t, "carol")

	for _, s := range []struct{ user, conn string }{{"alice", a.ID}, {"bob", b.ID}, {"carol", c.ID}} {
		_, err := h.group.JoinGroup(context.Background(), s.user, s.conn, "g1")
		require.NoError(t, err)
	}

	msg, err := h.group.SendGroupMessage(context.Background(), "alice", a.ID, "g1", "hi all", "t1")
	require.NoError(t, err)
	assert.Equal(t, "g1", msg.GroupID)

	assert.Equal(t, msg.ID, nextEventAs[models.Message](t, a, models.EventGroupMessageNew).ID)
	assert.Equal(t, msg.ID, nextEventAs[models.Message](t, b, models.EventGroupMessageNew).ID)
	got := nextEventAs[models.Message](t, c, models.EventGroupMessageNew)
	assert.Equal(t, "t1", got.TempID)
	assert.Equal(t, "alice", got.SenderID)
}

func TestGroupMessaging_SendRequiresJoinedSession(t *testing.T) {
	h := newHarness(t)
	h.addMembers(t, "g1", "alice")
	a1 := h.connect(t, "alice")
	a2 := h.connect(t, "alice")

	_, err := h.group.JoinGroup(context.Background(), "alice", a1.ID, "g1")
	require.NoError(t, err)

	_, err = h.group.SendGroupMessage(context.Background(), "alice", a2.ID, "g1", "hi", "t1")
	assert.ErrorIs(t, err, models.ErrNotAMember)

	left, err := h.group.LeaveGroup("alice", a1.ID, "g1")
	require.NoError(t, err)
	assert.True(t, left)

	left, err = h.group.LeaveGroup("alice", a1.ID, "g1")
	require.NoError(t, err)
	assert.False(t, left)

	_, err = h.group.SendGroupMessage(context.Background(), "alice", a1.ID, "g1", "hi", "t2")
	assert.ErrorIs(t, err, models.ErrNotAMember)
	assert.Equal(t, 0, h.store.MessageCount())
}

func TestGroupMessaging_DuplicateTempID(t *testing.T) {
	h := newHarness(t)
	h.addMembers(t, "g1", "alice")
	a := h.connect(t, "alice")
	_, err := h.group.JoinGroup(context.Background(), "alice", a.ID, "g1")
	require.NoError(t, err)

	first, err := h.group.SendGroupMessage(context.Background(), "alice", a.ID, "g1", "hi", "t1")
	require.NoError(t, err)
	second, err := h.group.SendGroupMessage(context.Background(), "alice", a.ID, "g1", "hi", "t1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, h.store.MessageCount())
}

func TestGroupMessaging_TypingAndReadScopedToRoom(t *testing.T) {
	h := newHarness(t)
	h.addMembers(t, "g1", "alice", "bob")
	a1 := h.connect(t, "alice")
	a2 := h.connect(t, "alice")
	b := h.connect(t, "bob")
	for _, s := range []struct{ user, conn string }{{"alice", a1.ID}, {"alice", a2.ID}, {"bob", b.ID}} {
		_, err := h.group.JoinGroup(context.Background(), s.user, s.conn, "g1")
		require.NoError(t, err)
	}

	require.NoError(t, h.group.SetGroupTyping("alice", a1.ID, "g1", true))
	typing := nextEventAs[models.TypingEvent](t, b, models.EventGroupTyping)
	assert.True(t, typing.IsTyping)
	assert.Equal(t, "g1", typing.GroupID)
	assertNoEvent(t, a2, models.EventGroupTyping)

	expired := nextEventAs[models.TypingEvent](t, b, models.EventGroupTyping)
	assert.False(t, expired.IsTyping)

	sent, err := h.group.MarkGroupRead("bob", b.ID, "g1", "m1")
	require.NoError(t, err)
	assert.True(t, sent)
	read := nextEventAs[models.ReadEvent](t, a1, models.EventGroupRead)
	assert.Equal(t, "bob", read.ReaderID)

	sent, err = h.group.MarkGroupRead("bob", b.ID, "g1", "m1")
	require.NoError(t, err)
	assert.False(t, sent)

	outsider := h.connect(t, "carol")
	assert.ErrorIs(t, h.group.SetGroupTyping("carol", outsider.ID, "g1", true), models.ErrNotAMember)
}
