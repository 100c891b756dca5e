package models

import (
	"sort"
	"strings"
	"time"
)

// ConversationKind tells private and group conversations apart
type ConversationKind string

const (
	ConversationPrivate ConversationKind = "private"
	ConversationGroup   ConversationKind = "group"
)

// Message is a persisted chat message. ConversationID is the private chat id
// (see PrivateChatID) or the group id.
type Message struct {
	ID             string           `bson:"_id" json:"id"`
	Kind           ConversationKind `bson:"kind" json:"kind"`
	ConversationID string           `bson:"conversation_id" json:"-"`
	SenderID       string           `bson:"sender_id" json:"senderId"`
	ReceiverID     string           `bson:"receiver_id,omitempty" json:"receiverId,omitempty"`
	GroupID        string           `bson:"group_id,omitempty" json:"groupId,omitempty"`
	Body           string           `bson:"body" json:"message"`
	TempID         string           `bson:"temp_id" json:"tempId,omitempty"`
	CreatedAt      time.Time        `bson:"created_at" json:"createdAt"`
}

// GroupMembership is a stored (group, user) pair
type GroupMembership struct {
	GroupID  string    `bson:"group_id" json:"groupId"`
	UserID   string    `bson:"user_id" json:"userId"`
	JoinedAt time.Time `bson:"joined_at" json:"joinedAt"`
}

const privateChatPrefix = "dm:"

// MaxUserIDLength bounds user ids accepted at the handshake and in payloads
const MaxUserIDLength = 128

// ValidUserID reports whether id can take part in a private chat id. The
// chat id separator ':' is not allowed inside user ids.
func ValidUserID(id string) bool {
	return id != "" && len(id) <= MaxUserIDLength && !strings.Contains(id, ":")
}

// PrivateChatID returns the canonical id of the 1:1 conversation between two users
func PrivateChatID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return privateChatPrefix + ids[0] + ":" + ids[1]
}

// PrivateChatParticipants parses a chat id produced by PrivateChatID
func PrivateChatParticipants(chatID string) (string, string, bool) {
	if !strings.HasPrefix(chatID, privateChatPrefix) {
		return "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(chatID, privateChatPrefix), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// GroupRoom returns the gateway room name used for a group
func GroupRoom(groupID string) string {
	return "group:" + groupID
}

// PrivateRoom returns the gateway room name used for a private chat
func PrivateRoom(chatID string) string {
	return "private:" + chatID
}
