package services

import (
	"context"
	"time"

	"relaychat/internal/models"
	"relaychat/pkg/logger"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// PrivateMessagingService handles 1:1 messaging, typing and read receipts
type PrivateMessagingService struct {
	gateway  Gateway
	pipeline *MessagePipeline
	typing   *TypingTracker

	// reader|peer -> last broadcast watermark
	watermarks *expirable.LRU[string, string]
}

// JoinedChat is returned when a session joins a private chat
type JoinedChat struct {
	ChatID     string `json:"chatId"`
	PeerID     string `json:"peerId"`
	PeerOnline bool   `json:"peerOnline"`
}

func NewPrivateMessagingService(gateway Gateway, pipeline *MessagePipeline, typing *TypingTracker, watermarkSize int, watermarkTTL time.Duration) *PrivateMessagingService {
	if watermarkSize <= 0 {
		watermarkSize = 10000
	}
	return &PrivateMessagingService{
		gateway:    gateway,
		pipeline:   pipeline,
		typing:     typing,
		watermarks: expirable.NewLRU[string, string](watermarkSize, nil, watermarkTTL),
	}
}

// JoinPrivateChat subscribes a session to a private chat room. Only the two
// participants of the chat may join it.
func (s *PrivateMessagingService) JoinPrivateChat(userID, connectionID, chatID string) (*JoinedChat, error) {
	a, b, ok := models.PrivateChatParticipants(chatID)
	if !ok || (a != userID && b != userID) {
		return nil, models.NewNotFoundError("chat %s not found", chatID)
	}
	if a == b {
		return nil, models.NewNotFoundError("chat %s not found", chatID)
	}

	peer := a
	if peer == userID {
		peer = b
	}

	if _, err := s.gateway.JoinRoom(connectionID, models.PrivateRoom(chatID)); err != nil {
		return nil, err
	}

	logger.LogChatEvent("private_chat_joined", chatID, userID, nil)

	return &JoinedChat{
		ChatID:     chatID,
		PeerID:     peer,
		PeerOnline: s.gateway.SessionCount(peer) > 0,
	}, nil
}

// SendPrivateMessage persists and delivers a message to every session of the
// receiver, echoing it to the sender's other sessions. A receiver without
// sessions is not an error; the message stays persisted.
func (s *PrivateMessagingService) SendPrivateMessage(ctx context.Context, senderID, connectionID, receiverID, body, tempID string) (*models.Message, error) {
	if err := validateMessage(body, tempID); err != nil {
		return nil, err
	}
	if senderID == receiverID {
		return nil, models.NewValidationError("cannot send a message to yourself")
	}
	if !models.ValidUserID(receiverID) {
		return nil, models.NewValidationError("invalid receiver id %q", receiverID)
	}

	chatID := models.PrivateChatID(senderID, receiverID)
	msg := &models.Message{
		Kind:           models.ConversationPrivate,
		ConversationID: chatID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Body:           body,
		TempID:         tempID,
	}

	saved, replayed, err := s.pipeline.Send(ctx, "pair:"+senderID+">"+receiverID, msg, func(m *models.Message) {
		delivered := s.gateway.EmitToUser(receiverID, models.EventPrivateMessageNew, m)
		s.gateway.EmitToUserExcept(senderID, connectionID, models.EventPrivateMessageNew, m)

		logger.LogChatEvent("private_message_sent", chatID, senderID, map[string]interface{}{
			"message_id":        m.ID,
			"receiver_id":       receiverID,
			"receiver_sessions": delivered,
			"receiver_offline":  delivered == 0,
		})
	})
	if err != nil {
		return nil, err
	}

	if replayed {
		logger.LogChatEvent("private_message_replayed", chatID, senderID, map[string]interface{}{
			"message_id": saved.ID,
			"temp_id":    tempID,
		})
	}
	return saved, nil
}

// SetTyping relays a typing indicator to the receiver. isTyping=true arms an
// expiry that emits isTyping=false when the sender goes quiet.
func (s *PrivateMessagingService) SetTyping(senderID, receiverID string, isTyping bool) error {
	if senderID == receiverID {
		return models.NewValidationError("cannot type to yourself")
	}

	key := privateTypingKey(senderID, receiverID)
	if isTyping {
		s.typing.Touch(key, func() {
			s.emitTyping(senderID, receiverID, false)
		})
	} else {
		s.typing.Clear(key)
	}

	s.emitTyping(senderID, receiverID, isTyping)
	return nil
}

func (s *PrivateMessagingService) emitTyping(senderID, receiverID string, isTyping bool) {
	s.gateway.EmitToUser(receiverID, models.EventPrivateTyping, models.TypingEvent{
		SenderID:   senderID,
		ReceiverID: receiverID,
		IsTyping:   isTyping,
	})
}

// MarkRead broadcasts a read receipt to the peer and to the reader's other
// sessions. Repeating the current watermark is accepted but not re-broadcast;
// it reports whether a broadcast happened.
func (s *PrivateMessagingService) MarkRead(userID, connectionID, fromUserID, lastReadMessageID string) (bool, error) {
	if userID == fromUserID {
		return false, models.NewValidationError("cannot mark your own messages as read")
	}
	if lastReadMessageID == "" {
		return false, models.NewValidationError("lastReadMessageId is required")
	}

	key := userID + "|" + fromUserID
	if prev, ok := s.watermarks.Get(key); ok && prev == lastReadMessageID {
		return false, nil
	}
	s.watermarks.Add(key, lastReadMessageID)

	receipt := models.ReadEvent{
		ReaderID:          userID,
		FromUserID:        fromUserID,
		LastReadMessageID: lastReadMessageID,
		ReadAt:            time.Now().UnixMilli(),
	}
	s.gateway.EmitToUser(fromUserID, models.EventPrivateRead, receipt)
	s.gateway.EmitToUserExcept(userID, connectionID, models.EventPrivateRead, receipt)
	return true, nil
}
