package services

import (
	"context"
	"time"

	"relaychat/internal/models"
	"relaychat/internal/store"
	"relaychat/pkg/logger"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// GroupMessagingService handles room-scoped group messaging. Every operation
// other than join requires the acting session to have joined group:<id>.
type GroupMessagingService struct {
	gateway    Gateway
	members    store.MembershipStore
	pipeline   *MessagePipeline
	typing     *TypingTracker
	watermarks *expirable.LRU[string, string]
}

func NewGroupMessagingService(gateway Gateway, members store.MembershipStore, pipeline *MessagePipeline, typing *TypingTracker, watermarkSize int, watermarkTTL time.Duration) *GroupMessagingService {
	if watermarkSize <= 0 {
		watermarkSize = 10000
	}
	return &GroupMessagingService{
		gateway:    gateway,
		members:    members,
		pipeline:   pipeline,
		typing:     typing,
		watermarks: expirable.NewLRU[string, string](watermarkSize, nil, watermarkTTL),
	}
}

// JoinGroup verifies membership and subscribes the session to the group room.
// Joining twice is a no-op; joined reports whether this call added the session.
func (s *GroupMessagingService) JoinGroup(ctx context.Context, userID, connectionID, groupID string) (bool, error) {
	ok, err := s.members.IsGroupMember(ctx, userID, groupID)
	if err != nil {
		logger.LogError(err, "Failed to check group membership", map[string]interface{}{
			"user_id":  userID,
			"group_id": groupID,
		})
		return false, models.NewInternalError(err)
	}
	if !ok {
		logger.LogSecurityEvent("group_join_denied", userID, "", map[string]interface{}{
			"group_id": groupID,
		})
		return false, models.NewNotAMemberError("user %s is not a member of group %s", userID, groupID)
	}

	joined, err := s.gateway.JoinRoom(connectionID, models.GroupRoom(groupID))
	if err != nil {
		return false, err
	}
	return joined, nil
}

// LeaveGroup unsubscribes the session. Leaving a group not joined is a no-op.
func (s *GroupMessagingService) LeaveGroup(userID, connectionID, groupID string) (bool, error) {
	left, err := s.gateway.LeaveRoom(connectionID, models.GroupRoom(groupID))
	if err != nil {
		return false, err
	}
	if left && s.typing.Clear(groupTypingKey(userID, groupID)) {
		s.emitTyping(userID, groupID, false)
	}
	return left, nil
}

// SendGroupMessage persists and fans a message out to every session in the
// group room, the sender's included.
func (s *GroupMessagingService) SendGroupMessage(ctx context.Context, userID, connectionID, groupID, body, tempID string) (*models.Message, error) {
	if err := validateMessage(body, tempID); err != nil {
		return nil, err
	}

	room := models.GroupRoom(groupID)
	if !s.gateway.InRoom(connectionID, room) {
		return nil, models.NewNotAMemberError("join group %s before sending", groupID)
	}

	msg := &models.Message{
		Kind:           models.ConversationGroup,
		ConversationID: groupID,
		SenderID:       userID,
		GroupID:        groupID,
		Body:           body,
		TempID:         tempID,
	}

	saved, _, err := s.pipeline.Send(ctx, "group:"+groupID+":"+userID, msg, func(m *models.Message) {
		delivered := s.gateway.EmitToRoom(room, models.EventGroupMessageNew, m)

		logger.LogChatEvent("group_message_sent", groupID, userID, map[string]interface{}{
			"message_id": m.ID,
			"sessions":   delivered,
		})
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// SetGroupTyping relays typing to the room, excluding the typing user's sessions
func (s *GroupMessagingService) SetGroupTyping(userID, connectionID, groupID string, isTyping bool) error {
	if !s.gateway.InRoom(connectionID, models.GroupRoom(groupID)) {
		return models.NewNotAMemberError("join group %s first", groupID)
	}

	key := groupTypingKey(userID, groupID)
	if isTyping {
		s.typing.Touch(key, func() {
			s.emitTyping(userID, groupID, false)
		})
	} else {
		s.typing.Clear(key)
	}

	s.emitTyping(userID, groupID, isTyping)
	return nil
}

func (s *GroupMessagingService) emitTyping(userID, groupID string, isTyping bool) {
	s.gateway.EmitToRoomExcept(models.GroupRoom(groupID), userID, models.EventGroupTyping, models.TypingEvent{
		SenderID: userID,
		GroupID:  groupID,
		IsTyping: isTyping,
	})
}

// MarkGroupRead broadcasts a read receipt to the rest of the room. A repeat of
// the current watermark is accepted but not re-broadcast.
func (s *GroupMessagingService) MarkGroupRead(userID, connectionID, groupID, lastReadMessageID string) (bool, error) {
	if lastReadMessageID == "" {
		return false, models.NewValidationError("lastReadMessageId is required")
	}
	room := models.GroupRoom(groupID)
	if !s.gateway.InRoom(connectionID, room) {
		return false, models.NewNotAMemberError("join group %s first", groupID)
	}

	key := userID + "|" + groupID
	if prev, ok := s.watermarks.Get(key); ok && prev == lastReadMessageID {
		return false, nil
	}
	s.watermarks.Add(key, lastReadMessageID)

	s.gateway.EmitToRoomExcept(room, userID, models.EventGroupRead, models.ReadEvent{
		ReaderID:          userID,
		GroupID:           groupID,
		LastReadMessageID: lastReadMessageID,
		ReadAt:            time.Now().UnixMilli(),
	})
	return true, nil
}
