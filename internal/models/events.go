package models

import "encoding/json"

// Inbound event names
const (
	EventPrivateJoin    = "private:join"
	EventPrivateMessage = "private:message"
	EventPrivateTyping  = "private:typing"
	EventPrivateRead    = "private:read"

	EventGroupJoin    = "group:join"
	EventGroupLeave   = "group:leave"
	EventGroupMessage = "group:message"
	EventGroupTyping  = "group:typing"
	EventGroupRead    = "group:read"

	EventPrivateCallInitiate = "private:call:initiate"
	EventPrivateCallAccept   = "private:call:accept"
	EventPrivateCallDecline  = "private:call:decline"
	EventPrivateCallEnd      = "private:call:end"

	EventGroupCallInitiate = "group:call:initiate"
	EventGroupCallAccept   = "group:call:accept"
	EventGroupCallDecline  = "group:call:decline"
	EventGroupCallEnd      = "group:call:end"

	EventWebRTCOffer        = "webrtc:offer"
	EventWebRTCAnswer       = "webrtc:answer"
	EventWebRTCICECandidate = "webrtc:ice-candidate"

	EventGroupWebRTCOffer        = "group:webrtc:offer"
	EventGroupWebRTCAnswer       = "group:webrtc:answer"
	EventGroupWebRTCICECandidate = "group:webrtc:ice-candidate"
)

// Outbound event names
const (
	EventSessionReady = "session:ready"
	EventAck          = "ack"
	EventError        = "error"

	EventPresenceChanged = "presence:changed"

	EventPrivateMessageNew = "private:message:new"
	EventGroupMessageNew   = "group:message:new"

	EventPrivateCallIncoming = "private:call:incoming"
	EventPrivateCallAccepted = "private:call:accepted"
	EventPrivateCallDeclined = "private:call:declined"
	EventPrivateCallEnded    = "private:call:ended"
	EventPrivateCallBusy     = "private:call:busy"

	EventGroupCallIncoming = "group:call:incoming"
	EventGroupCallAccepted = "group:call:accepted"
	EventGroupCallDeclined = "group:call:declined"
	EventGroupCallEnded    = "group:call:ended"
	EventGroupCallBusy     = "group:call:busy"
	EventGroupCallJoined   = "group:call:joined"
	EventGroupCallLeft     = "group:call:left"
)

// ==============================================
// Inbound payloads, validated at the gateway boundary
// ==============================================

type PrivateJoinPayload struct {
	ChatID string `json:"chatId" validate:"required,max=256"`
}

type PrivateMessagePayload struct {
	SenderID   string `json:"senderId" validate:"omitempty,max=128"`
	ReceiverID string `json:"receiverId" validate:"required,max=128"`
	Message    string `json:"message" validate:"required,max=4000"`
	TempID     string `json:"tempId" validate:"required,max=128"`
}

type PrivateTypingPayload struct {
	SenderID   string `json:"senderId" validate:"omitempty,max=128"`
	ReceiverID string `json:"receiverId" validate:"required,max=128"`
	IsTyping   bool   `json:"isTyping"`
}

type PrivateReadPayload struct {
	FromUserID        string `json:"fromUserId" validate:"required,max=128"`
	LastReadMessageID string `json:"lastReadMessageId" validate:"required,max=128"`
}

type GroupPayload struct {
	GroupID string `json:"groupId" validate:"required,max=128"`
}

type GroupMessagePayload struct {
	GroupID string `json:"groupId" validate:"required,max=128"`
	Message string `json:"message" validate:"required,max=4000"`
	TempID  string `json:"tempId" validate:"required,max=128"`
}

type GroupTypingPayload struct {
	GroupID  string `json:"groupId" validate:"required,max=128"`
	IsTyping bool   `json:"isTyping"`
}

type GroupReadPayload struct {
	GroupID           string `json:"groupId" validate:"required,max=128"`
	LastReadMessageID string `json:"lastReadMessageId" validate:"required,max=128"`
}

// PrivateCallPayload covers initiate (targetUserId) and accept/decline/end (callId)
type PrivateCallPayload struct {
	CallID       string   `json:"callId" validate:"omitempty,max=128"`
	CallType     CallType `json:"callType" validate:"omitempty,call_type"`
	TargetUserID string   `json:"targetUserId" validate:"omitempty,max=128"`
	CallerID     string   `json:"callerId" validate:"omitempty,max=128"`
}

type GroupCallPayload struct {
	CallID       string   `json:"callId" validate:"omitempty,max=128"`
	CallType     CallType `json:"callType" validate:"omitempty,call_type"`
	GroupID      string   `json:"groupId" validate:"omitempty,max=128"`
	Participants []string `json:"participants" validate:"omitempty,max=64,dive,required,max=128"`
}

type SignalPayload struct {
	CallID       string          `json:"callId" validate:"required,max=128"`
	TargetUserID string          `json:"targetUserId" validate:"required,max=128"`
	Payload      json.RawMessage `json:"payload" validate:"required"`
}

type MediaHintPayload struct {
	CallID  string `json:"callId" validate:"required,max=128"`
	Enabled *bool  `json:"enabled,omitempty"`
	Muted   *bool  `json:"muted,omitempty"`
}

// ==============================================
// Outbound payloads
// ==============================================

type PresenceChangedEvent struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
	At     int64  `json:"at"`
}

type TypingEvent struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	IsTyping   bool   `json:"isTyping"`
}

type ReadEvent struct {
	ReaderID          string `json:"readerId"`
	FromUserID        string `json:"fromUserId,omitempty"`
	GroupID           string `json:"groupId,omitempty"`
	LastReadMessageID string `json:"lastReadMessageId,omitempty"`
	ReadAt            int64  `json:"readAt"`
}

type CallEvent struct {
	CallID       string   `json:"callId"`
	CallType     CallType `json:"callType,omitempty"`
	Mode         CallMode `json:"mode,omitempty"`
	GroupID      string   `json:"groupId,omitempty"`
	CallerID     string   `json:"callerId,omitempty"`
	UserID       string   `json:"userId,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Peers        []string `json:"peers,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

type SignalEvent struct {
	CallID     string          `json:"callId"`
	FromUserID string          `json:"fromUserId"`
	Payload    json.RawMessage `json:"payload"`
}

type MediaHintEvent struct {
	CallID  string `json:"callId"`
	UserID  string `json:"userId"`
	Enabled *bool  `json:"enabled,omitempty"`
	Muted   *bool  `json:"muted,omitempty"`
}
