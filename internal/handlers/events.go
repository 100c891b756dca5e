package handlers

import (
	"context"
	"sort"

	"relaychat/internal/models"
	"relaychat/internal/services"
	"relaychat/internal/utils"
	"relaychat/internal/websocket"
	"relaychat/pkg/logger"
)

type eventHandler func(ctx context.Context, c *websocket.Client, env *websocket.Envelope) (interface{}, error)

// EventRouter decodes inbound socket events, validates them and hands them to
// the services. It implements websocket.Dispatcher.
type EventRouter struct {
	private *services.PrivateMessagingService
	group   *services.GroupMessagingService
	calls   *services.CallOrchestrator

	routes map[string]eventHandler
}

func NewEventRouter(private *services.PrivateMessagingService, group *services.GroupMessagingService, calls *services.CallOrchestrator) *EventRouter {
	r := &EventRouter{
		private: private,
		group:   group,
		calls:   calls,
	}

	r.routes = map[string]eventHandler{
		models.EventPrivateJoin:    r.privateJoin,
		models.EventPrivateMessage: r.privateMessage,
		models.EventPrivateTyping:  r.privateTyping,
		models.EventPrivateRead:    r.privateRead,

		models.EventGroupJoin:    r.groupJoin,
		models.EventGroupLeave:   r.groupLeave,
		models.EventGroupMessage: r.groupMessage,
		models.EventGroupTyping:  r.groupTyping,
		models.EventGroupRead:    r.groupRead,

		models.EventPrivateCallInitiate: r.privateCallInitiate,
		models.EventPrivateCallAccept:   r.callAction(models.CallModePrivate, r.calls.AcceptCall),
		models.EventPrivateCallDecline:  r.callAction(models.CallModePrivate, r.calls.DeclineCall),
		models.EventPrivateCallEnd:      r.callAction(models.CallModePrivate, r.calls.EndCall),

		models.EventGroupCallInitiate: r.groupCallInitiate,
		models.EventGroupCallAccept:   r.groupCallAction(r.calls.AcceptCall),
		models.EventGroupCallDecline:  r.groupCallAction(r.calls.DeclineCall),
		models.EventGroupCallEnd:      r.groupCallAction(r.calls.EndCall),

		models.EventWebRTCOffer:        r.signal(models.CallModePrivate, models.SignalOffer),
		models.EventWebRTCAnswer:       r.signal(models.CallModePrivate, models.SignalAnswer),
		models.EventWebRTCICECandidate: r.signal(models.CallModePrivate, models.SignalICECandidate),

		models.EventGroupWebRTCOffer:        r.signal(models.CallModeGroup, models.SignalOffer),
		models.EventGroupWebRTCAnswer:       r.signal(models.CallModeGroup, models.SignalAnswer),
		models.EventGroupWebRTCICECandidate: r.signal(models.CallModeGroup, models.SignalICECandidate),

		string(models.HintMute):          r.mediaHint(models.HintMute),
		string(models.HintVideoToggle):   r.mediaHint(models.HintVideoToggle),
		string(models.HintSpeakerToggle): r.mediaHint(models.HintSpeakerToggle),
	}

	return r
}

// Dispatch routes one event. Failures never close the connection; they come
// back in the acknowledgment.
func (r *EventRouter) Dispatch(ctx context.Context, c *websocket.Client, env *websocket.Envelope) *websocket.Ack {
	handler, ok := r.routes[env.Event]
	if !ok {
		return websocket.Fail(models.NewValidationError("unknown event %q", env.Event))
	}

	data, err := handler(ctx, c, env)
	if err != nil {
		appErr := models.AsAppError(err)
		entry := logger.WithFields(map[string]interface{}{
			"event":         env.Event,
			"user_id":       c.UserID,
			"connection_id": c.ID,
			"error_kind":    appErr.Kind,
		})
		if appErr.Kind == models.KindInternal || appErr.Kind == models.KindTransientPersistence {
			entry.WithError(err).Error("Event failed")
		} else {
			entry.Debug(appErr.Message)
		}
		return websocket.Fail(err)
	}
	return websocket.OK(data)
}

// decode unmarshals and validates the payload
func decode(env *websocket.Envelope, v interface{}) error {
	if err := env.Decode(v); err != nil {
		return err
	}
	return utils.ValidatePayload(v)
}

// checkSender rejects payloads that claim to come from someone else
func checkSender(c *websocket.Client, claimed string) error {
	if claimed != "" && claimed != c.UserID {
		logger.LogSecurityEvent("sender_mismatch", c.UserID, c.IP, map[string]interface{}{
			"claimed_sender": claimed,
		})
		return models.NewValidationError("senderId does not match the authenticated user")
	}
	return nil
}

// Private messaging

func (r *EventRouter) privateJoin(_ context.Context, c *websocket.Client, env *websocket.Envelope) (interface{}, error) {
	var p models.PrivateJoinPayload
	if err := decode(env, &p); err != nil {
		return nil, err
	}
	return r.private.JoinPrivateChat(c.UserID, c.ID, p.ChatID)
}

func (r *EventRouter) privateMessage(ctx context.Context, c *websocket.Client, env *websocket.Envelope) (interface{}, error) {
	var p models.PrivateMessagePayload
	if err := decode(env, &p); err != nil {
		return nil, err
	}
	if err := checkSender(c, p.SenderID); err != nil {
		return nil, err
	}
	return r.private.SendPrivateMessage(ctx, c.UserID, c.ID, p.ReceiverID, p.Message, p.TempID)
}

func (r *EventRouter) privateTyping(_ context.Context, c *websocket.Client, env *websocket.Envelope) (interface{}, error) {
	var p models.PrivateTypingPayload
	if err := decode(env, &p); err != nil {
		return nil, err
	}
	if err := checkSender(c, p.SenderID); err != nil {
		return nil, err
	}
	return nil, r.private.SetTyping(c.UserID, p.ReceiverID, p.IsTyping)
}

func (r *EventRouter) privateRead(_ context.Context, c *websocket.Client, env *websocket.Envelope) (interface{}, error) {
	var p models.PrivateReadPayload
	if err := decode(env, &p); err != nil {
		return nil, err
	}
	sent, err := r.private.MarkRead(c.UserID, c.ID, p.FromUserID, p.LastReadMessageID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"broadcast": sent}, nil
}

// Group messaging

func (r *EventRouter) groupJoin(ctx context.Context, c *websocket.Client, env *websocket.Envelope) (interface{}, error) {
	var p models.GroupPayload
	if err := decode(env, &p); err != nil {
		return nil, err
	}
	joined, err := r.group.JoinGroup(ctx, c.UserID, c.ID, p.GroupID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"groupId": p.GroupID, "joined": joined}, nil
}

func (r *EventRouter) groupLeave(_ context.Context, c *websocket.Client, env *websocket.Envelope) (interface{}, error) {
	var p models.GroupPayload
	if err := decode(env, &p); err != nil {
		return nil, err
	}
	left, err := r.group.LeaveGroup(c.UserID, c.ID, p.GroupID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"groupId": p.GroupID, "left": left}, nil
}

func (r *EventRouter) groupMessage(ctx context.Context, c *websocket.Client, env *websocket.Envelope) (interface{}, error) {
	var p models.GroupMessagePayload
	if err := decode(env, &p); err != nil {
		return nil, err
	}
	return r.group.SendGroupMessage(ctx, c.UserID, c.ID, p.GroupID, p.Message, p.TempID)
}

func (r *EventRouter) groupTyping(_ context.Context, c *websocket.Client, env *websocket.Envelope) (interface{}, error) {
	var p models.GroupTypingPayload
	if err := decode(env, &p); err != nil {
		return nil, err
	}
	return nil, r.group.SetGroupTyping(c.UserID, c.ID, p.GroupID, p.IsTyping)
}

func (r *EventRouter) groupRead(_ context.Context, c *websocket.Client, env *websocket.Envelope) (interface{}, error) {
	var p models.GroupReadPayload
	if err := decode(env, &p); err != nil {
		return nil, err
	}
	sent, err := r.group.MarkGroupRead(c.UserID, c.ID, p.GroupID, p.LastReadMessageID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"broadcast": sent}, nil
}

// Calls

type callActionFunc func(mode models.CallMode, callID, userID, connectionID string) (*services.CallInfo, error)

func (r *EventRouter) privateCallInitiate(_ context.Context, c *websocket.Client, env *websocket.Envelope) (interface{}, error) {
	var p models.PrivateCallPayload
	if err := decode(env, &p); err != nil {
		return nil, err
	}
	if err := checkSender(c, p.CallerID); err != nil {
		return nil, err
	}
	return r.calls.InitiatePrivateCall(c.UserID, c.ID, p.TargetUserID, p.CallType, p.CallID)
}

func (r *EventRouter) callAction(mode models.CallMode, action callActionFunc) eventHandler {
	return func(_ context.Context, c *websocket.Client, env *websocket.Envelope) (interface{}, error) {
		var p models.PrivateCallPayload
		if err := decode(env, &p); err != nil {
			return nil, err
		}
		return action(mode, p.CallID, c.UserID, c.ID)
	}
}

func (r *EventRouter) groupCallInitiate(ctx context.Context, c *websocket.Client, env *websocket.Envelope) (interface{}, error) {
	var p models.GroupCallPayload
	if err := decode(env, &p); err != nil {
		return nil, err
	}
	return r.calls.InitiateGroupCall(ctx, c.UserID, c.ID, p.GroupID, p.CallType, p.Participants, p.CallID)
}

func (r *EventRouter) groupCallAction(action callActionFunc) eventHandler {
	return func(_ context.Context, c *websocket.Client, env *websocket.Envelope) (interface{}, error) {
		var p models.GroupCallPayload
		if err := decode(env, &p); err != nil {
			return nil, err
		}
		return action(models.CallModeGroup, p.CallID, c.UserID, c.ID)
	}
}

func (r *EventRouter) signal(mode models.CallMode, kind models.SignalKind) eventHandler {
	return func(_ context.Context, c *websocket.Client, env *websocket.Envelope) (interface{}, error) {
		var p models.SignalPayload
		if err := decode(env, &p); err != nil {
			return nil, err
		}
		return nil, r.calls.RelaySignal(mode, p.CallID, c.UserID, p.TargetUserID, kind, p.Payload)
	}
}

func (r *EventRouter) mediaHint(hint models.MediaHint) eventHandler {
	return func(_ context.Context, c *websocket.Client, env *websocket.Envelope) (interface{}, error) {
		var p models.MediaHintPayload
		if err := decode(env, &p); err != nil {
			return nil, err
		}
		return nil, r.calls.RelayMediaHint(p.CallID, c.UserID, hint, p.Enabled, p.Muted)
	}
}

// Events lists the inbound event names the router understands
func (r *EventRouter) Events() []string {
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
