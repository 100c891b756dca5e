package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"relaychat/internal/config"
	"relaychat/internal/models"
	"relaychat/internal/store"
	"relaychat/internal/websocket"
	"relaychat/pkg/logger"

	"github.com/google/uuid"
)

// CallOrchestrator owns the active-calls table and drives every call through
// the state table in call_fsm.go. Signaling payloads are relayed untouched.
//
// Lock order: a call's mu may be held while taking o.mu, never the reverse.
type CallOrchestrator struct {
	gateway Gateway
	members store.MembershipStore

	privateRingTimeout time.Duration
	groupRingTimeout   time.Duration
	groupBusyPolicy    bool

	mu     sync.Mutex
	calls  map[string]*CallSession
	byUser map[string]map[string]*CallSession // users with an open leg
	closed bool
}

func NewCallOrchestrator(gateway Gateway, members store.MembershipStore, cfg config.RealtimeConfig) *CallOrchestrator {
	return &CallOrchestrator{
		gateway:            gateway,
		members:            members,
		privateRingTimeout: cfg.PrivateRingTimeout,
		groupRingTimeout:   cfg.GroupRingTimeout,
		groupBusyPolicy:    cfg.GroupCallBusyPolicy,
		calls:              make(map[string]*CallSession),
		byUser:             make(map[string]map[string]*CallSession),
	}
}

// ==============================================
// Call table
// ==============================================

// Call returns a snapshot of a live call
func (o *CallOrchestrator) Call(callID string) (*CallInfo, bool) {
	o.mu.Lock()
	c, ok := o.calls[callID]
	o.mu.Unlock()
	if !ok {
		return nil, false
	}
	return c.Info(), true
}

// ActiveCalls returns how many calls are live
func (o *CallOrchestrator) ActiveCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

// lockCall finds a live call of the given mode (any mode when empty) and
// returns it locked
func (o *CallOrchestrator) lockCall(callID string, mode models.CallMode) (*CallSession, error) {
	if callID == "" {
		return nil, models.NewValidationError("callId is required")
	}

	o.mu.Lock()
	c, ok := o.calls[callID]
	o.mu.Unlock()
	if !ok || (mode != "" && c.Mode != mode) {
		return nil, models.NewNotFoundError("call %s not found", callID)
	}

	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return nil, models.NewNotFoundError("call %s not found", callID)
	}
	return c, nil
}

// admitLocked checks a new call can be published. o.mu must be held.
func (o *CallOrchestrator) admitLocked(c *CallSession) error {
	if o.closed {
		return models.NewStateError("server is shutting down")
	}
	if _, exists := o.calls[c.ID]; exists {
		return models.NewValidationError("call %s already exists", c.ID)
	}
	if o.engagedLocked(c.CallerID) {
		return models.NewBusyError(c.CallerID)
	}
	return nil
}

// engagedLocked reports whether the user holds an open private call leg
func (o *CallOrchestrator) engagedLocked(userID string) bool {
	for _, c := range o.byUser[userID] {
		if c.Mode == models.CallModePrivate {
			return true
		}
	}
	return false
}

func (o *CallOrchestrator) trackLocked(userID string, c *CallSession) {
	if o.byUser[userID] == nil {
		o.byUser[userID] = make(map[string]*CallSession)
	}
	o.byUser[userID][c.ID] = c
}

func (o *CallOrchestrator) untrackLocked(userID, callID string) {
	if calls, ok := o.byUser[userID]; ok {
		delete(calls, callID)
		if len(calls) == 0 {
			delete(o.byUser, userID)
		}
	}
}

func (o *CallOrchestrator) untrack(userID, callID string) {
	o.mu.Lock()
	o.untrackLocked(userID, callID)
	o.mu.Unlock()
}

// finishLocked ends every open leg and the call itself, then drops it from
// the table. c.mu must be held.
func (o *CallOrchestrator) finishLocked(c *CallSession, reason string) {
	c.stopTimer()

	for _, leg := range c.legs {
		switch {
		case leg.State.Open():
			c.fireLeg(leg, TriggerEnd)
		case !leg.State.Terminal():
			c.fireLeg(leg, TriggerFinalize)
		}
	}
	switch {
	case c.state.Open():
		c.fire(TriggerEnd)
	case !c.state.Terminal():
		c.fire(TriggerFinalize)
	}
	c.links = make(map[string]bool)

	o.mu.Lock()
	delete(o.calls, c.ID)
	for userID := range c.legs {
		o.untrackLocked(userID, c.ID)
	}
	o.mu.Unlock()

	meta := map[string]interface{}{
		"mode":   c.Mode,
		"reason": reason,
	}
	if !c.acceptedAt.IsZero() {
		meta["duration_seconds"] = time.Since(c.acceptedAt).Seconds()
	}
	logger.LogCallEvent("call_ended", c.ID, c.CallerID, meta)
}

func (o *CallOrchestrator) notify(users []string, event string, payload interface{}) {
	for _, userID := range users {
		o.gateway.EmitToUser(userID, event, payload)
	}
}

func normalizeCallType(t models.CallType) (models.CallType, error) {
	switch t {
	case "":
		return models.CallTypeVoice, nil
	case models.CallTypeVoice, models.CallTypeVideo:
		return t, nil
	}
	return "", models.NewValidationError("callType must be voice or video")
}

// ==============================================
// Initiate
// ==============================================

// InitiatePrivateCall rings every session of the target. A target already in
// a private call gets nothing; the caller receives private:call:busy.
func (o *CallOrchestrator) InitiatePrivateCall(callerID, connectionID, targetUserID string, callType models.CallType, callID string) (*CallInfo, error) {
	if targetUserID == "" {
		return nil, models.NewValidationError("targetUserId is required")
	}
	if targetUserID == callerID {
		return nil, models.NewValidationError("cannot call yourself")
	}
	callType, err := normalizeCallType(callType)
	if err != nil {
		return nil, err
	}
	if o.gateway.SessionCount(targetUserID) == 0 {
		return nil, models.NewNotFoundError("user %s is not online", targetUserID)
	}
	if callID == "" {
		callID = uuid.NewString()
	}

	c := newCallSession(callID, callType, models.CallModePrivate, callerID, connectionID, "")
	c.mu.Lock()
	defer c.mu.Unlock()

	o.mu.Lock()
	if err := o.admitLocked(c); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	if o.engagedLocked(targetUserID) {
		o.mu.Unlock()

		o.gateway.EmitToUser(callerID, models.EventPrivateCallBusy, c.event(targetUserID, ""))
		logger.LogCallEvent("call_busy", callID, callerID, map[string]interface{}{
			"target_user_id": targetUserID,
		})
		return nil, models.NewBusyError(targetUserID)
	}
	o.calls[c.ID] = c
	o.trackLocked(callerID, c)
	o.trackLocked(targetUserID, c)
	o.mu.Unlock()

	c.addInvitee(targetUserID)
	c.fire(TriggerRing)
	c.timer = time.AfterFunc(o.privateRingTimeout, func() { o.ringTimeout(c) })

	incoming := c.event("", "")
	incoming.Participants = []string{callerID, targetUserID}
	o.gateway.EmitToUser(targetUserID, models.EventPrivateCallIncoming, incoming)

	logger.LogCallEvent("call_initiated", callID, callerID, map[string]interface{}{
		"mode":           c.Mode,
		"call_type":      callType,
		"target_user_id": targetUserID,
	})
	return c.infoLocked(), nil
}

// InitiateGroupCall rings every online invitee on an independent leg. With no
// participants given, every other group member is invited.
func (o *CallOrchestrator) InitiateGroupCall(ctx context.Context, callerID, connectionID, groupID string, callType models.CallType, participants []string, callID string) (*CallInfo, error) {
	if groupID == "" {
		return nil, models.NewValidationError("groupId is required")
	}
	callType, err := normalizeCallType(callType)
	if err != nil {
		return nil, err
	}

	isMember, err := o.members.IsGroupMember(ctx, callerID, groupID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if !isMember {
		return nil, models.NewNotAMemberError("user %s is not a member of group %s", callerID, groupID)
	}

	invitees, err := o.resolveInvitees(ctx, callerID, groupID, participants)
	if err != nil {
		return nil, err
	}

	online := make([]string, 0, len(invitees))
	for _, userID := range invitees {
		if o.gateway.SessionCount(userID) > 0 {
			online = append(online, userID)
		}
	}
	if len(online) == 0 {
		return nil, models.NewNotFoundError("no participants of group %s are online", groupID)
	}
	if callID == "" {
		callID = uuid.NewString()
	}

	c := newCallSession(callID, callType, models.CallModeGroup, callerID, connectionID, groupID)
	c.mu.Lock()
	defer c.mu.Unlock()

	o.mu.Lock()
	if err := o.admitLocked(c); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	var ringing, busy []string
	for _, userID := range online {
		if o.groupBusyPolicy && o.engagedLocked(userID) {
			busy = append(busy, userID)
		} else {
			ringing = append(ringing, userID)
		}
	}
	if len(ringing) > 0 {
		o.calls[c.ID] = c
		o.trackLocked(callerID, c)
		for _, userID := range ringing {
			o.trackLocked(userID, c)
		}
	}
	o.mu.Unlock()

	for _, userID := range busy {
		o.gateway.EmitToUser(callerID, models.EventGroupCallBusy, c.event(userID, ""))
	}
	if len(ringing) == 0 {
		return nil, &models.AppError{Kind: models.KindBusy, Message: "all participants are busy"}
	}

	for _, userID := range ringing {
		c.addInvitee(userID)
	}
	for _, userID := range busy {
		c.closeLeg(c.addInvitee(userID), TriggerBusy)
	}
	c.fire(TriggerRing)
	c.timer = time.AfterFunc(o.groupRingTimeout, func() { o.ringTimeout(c) })

	incoming := c.event("", "")
	incoming.Participants = ringing
	o.notify(ringing, models.EventGroupCallIncoming, incoming)

	logger.LogCallEvent("call_initiated", callID, callerID, map[string]interface{}{
		"mode":      c.Mode,
		"call_type": callType,
		"group_id":  groupID,
		"ringing":   len(ringing),
		"busy":      len(busy),
	})
	return c.infoLocked(), nil
}

func (o *CallOrchestrator) resolveInvitees(ctx context.Context, callerID, groupID string, participants []string) ([]string, error) {
	if len(participants) == 0 {
		members, err := o.members.GroupMembers(ctx, groupID)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		participants = members
	} else {
		for _, userID := range participants {
			ok, err := o.members.IsGroupMember(ctx, userID, groupID)
			if err != nil {
				return nil, models.NewInternalError(err)
			}
			if !ok {
				return nil, models.NewNotAMemberError("user %s is not a member of group %s", userID, groupID)
			}
		}
	}

	seen := map[string]bool{callerID: true}
	invitees := make([]string, 0, len(participants))
	for _, userID := range participants {
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true
		invitees = append(invitees, userID)
	}
	if len(invitees) == 0 {
		return nil, models.NewValidationError("no participants to invite")
	}
	return invitees, nil
}

// ==============================================
// Accept / decline / end
// ==============================================

// AcceptCall answers a ringing leg from the given session
func (o *CallOrchestrator) AcceptCall(mode models.CallMode, callID, userID, connectionID string) (*CallInfo, error) {
	c, err := o.lockCall(callID, mode)
	if err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	leg, ok := c.leg(userID)
	if !ok {
		return nil, models.NewNotFoundError("call %s not found", callID)
	}
	if err := c.fireLeg(leg, TriggerAccept); err != nil {
		return nil, err
	}
	leg.ConnectionID = connectionID

	switch c.Mode {
	case models.CallModePrivate:
		c.stopTimer()
		c.fire(TriggerAccept)
		c.acceptedAt = time.Now()

		o.notify([]string{c.CallerID, userID}, models.EventPrivateCallAccepted, c.event(userID, ""))

	case models.CallModeGroup:
		if c.state == StateRinging {
			c.fire(TriggerAccept)
			c.acceptedAt = time.Now()
		}

		peers := make([]string, 0)
		for _, peer := range c.activeUsers() {
			if peer != userID {
				peers = append(peers, peer)
			}
		}
		c.link(userID)

		joined := c.event(userID, "")
		joined.Peers = peers
		o.gateway.EmitToUser(userID, models.EventGroupCallJoined, joined)
		o.notify(peers, models.EventGroupCallAccepted, c.event(userID, ""))

		if len(c.ringingUsers()) == 0 {
			c.stopTimer()
		}
	}

	logger.LogCallEvent("call_accepted", c.ID, userID, map[string]interface{}{
		"mode":          c.Mode,
		"connection_id": connectionID,
	})
	return c.infoLocked(), nil
}

// DeclineCall rejects a ringing leg. A private call ends with it; a group call
// ends only once no invitee is ringing or active.
func (o *CallOrchestrator) DeclineCall(mode models.CallMode, callID, userID, connectionID string) (*CallInfo, error) {
	c, err := o.lockCall(callID, mode)
	if err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	if _, ok := c.leg(userID); !ok {
		return nil, models.NewNotFoundError("call %s not found", callID)
	}
	if err := o.declineLegLocked(c, userID, connectionID); err != nil {
		return nil, err
	}
	return c.infoLocked(), nil
}

func (o *CallOrchestrator) declineLegLocked(c *CallSession, userID, connectionID string) error {
	leg := c.legs[userID]
	if err := c.closeLeg(leg, TriggerDecline); err != nil {
		return err
	}

	logger.LogCallEvent("call_declined", c.ID, userID, map[string]interface{}{"mode": c.Mode})

	switch c.Mode {
	case models.CallModePrivate:
		c.fire(TriggerDecline)
		declined := c.event(userID, "")
		o.gateway.EmitToUser(c.CallerID, models.EventPrivateCallDeclined, declined)
		o.gateway.EmitToUserExcept(userID, connectionID, models.EventPrivateCallDeclined, declined)
		o.finishLocked(c, "declined")

	case models.CallModeGroup:
		o.untrack(userID, c.ID)
		declined := c.event(userID, "")
		o.notify(c.openUsers(), models.EventGroupCallDeclined, declined)
		o.gateway.EmitToUserExcept(userID, connectionID, models.EventGroupCallDeclined, declined)
		o.settleGroupLocked(c)
	}
	return nil
}

// EndCall leaves an accepted call. The caller may also end a call that is
// still ringing, which cancels it for everyone.
func (o *CallOrchestrator) EndCall(mode models.CallMode, callID, userID, connectionID string) (*CallInfo, error) {
	c, err := o.lockCall(callID, mode)
	if err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	if _, ok := c.leg(userID); !ok {
		return nil, models.NewNotFoundError("call %s not found", callID)
	}
	if err := o.endLegLocked(c, userID, models.ReasonEnded); err != nil {
		return nil, err
	}
	return c.infoLocked(), nil
}

func (o *CallOrchestrator) endLegLocked(c *CallSession, userID, reason string) error {
	leg := c.legs[userID]

	if c.state == StateRinging && userID == c.CallerID {
		ended := c.event(userID, models.ReasonCancelled)
		event := models.EventPrivateCallEnded
		if c.Mode == models.CallModeGroup {
			event = models.EventGroupCallEnded
		}
		o.notify(c.openUsers(), event, ended)
		o.finishLocked(c, models.ReasonCancelled)
		return nil
	}

	if !leg.State.Active() {
		return models.NewStateError("cannot end a call that is %s", leg.State)
	}

	switch c.Mode {
	case models.CallModePrivate:
		o.notify(c.openUsers(), models.EventPrivateCallEnded, c.event(userID, reason))
		o.finishLocked(c, reason)

	case models.CallModeGroup:
		c.fireLeg(leg, TriggerEnd)
		c.unlink(userID)
		o.untrack(userID, c.ID)

		left := c.event(userID, reason)
		o.notify(c.activeUsers(), models.EventGroupCallLeft, left)
		o.gateway.EmitToUser(userID, models.EventGroupCallLeft, left)

		logger.LogCallEvent("call_left", c.ID, userID, map[string]interface{}{"reason": reason})
		o.settleGroupLocked(c)
	}
	return nil
}

// settleGroupLocked ends a group call that can no longer continue
func (o *CallOrchestrator) settleGroupLocked(c *CallSession) {
	if c.state == StateEnded {
		return
	}
	if len(c.ringingUsers()) == 0 {
		c.stopTimer()
	}

	reason := ""
	switch {
	case len(c.activeUsers()) == 0:
		reason = models.ReasonEnded
	case !c.hasLiveInvitee():
		reason = models.ReasonNoParticipants
	default:
		return
	}

	o.notify(c.openUsers(), models.EventGroupCallEnded, c.event("", reason))
	o.finishLocked(c, reason)
}

// ==============================================
// Relay
// ==============================================

// RelaySignal forwards an offer, answer or ICE candidate to every session of
// the target. Both parties must hold an active leg. A relayed answer moves the
// pair, and the call, to Connected.
func (o *CallOrchestrator) RelaySignal(mode models.CallMode, callID, fromUserID, toUserID string, kind models.SignalKind, payload json.RawMessage) error {
	if fromUserID == toUserID {
		return models.NewValidationError("cannot signal yourself")
	}
	switch kind {
	case models.SignalOffer, models.SignalAnswer, models.SignalICECandidate:
	default:
		return models.NewValidationError("unknown signal %q", kind)
	}
	if len(payload) == 0 {
		return models.NewValidationError("payload is required")
	}

	c, err := o.lockCall(callID, mode)
	if err != nil {
		return err
	}
	defer c.mu.Unlock()

	from, ok := c.leg(fromUserID)
	if !ok {
		return models.NewNotFoundError("call %s not found", callID)
	}
	to, ok := c.leg(toUserID)
	if !ok {
		return models.NewNotFoundError("user %s is not in call %s", toUserID, callID)
	}
	if !from.State.Active() || !to.State.Active() {
		return models.NewStateError("both participants must have joined call %s", callID)
	}

	event := "webrtc:" + string(kind)
	if c.Mode == models.CallModeGroup {
		if !c.linked(fromUserID, toUserID) {
			return models.NewStateError("no peer link between %s and %s", fromUserID, toUserID)
		}
		event = "group:" + event
	}

	o.gateway.EmitToUser(toUserID, event, models.SignalEvent{
		CallID:     callID,
		FromUserID: fromUserID,
		Payload:    payload,
	})

	if kind == models.SignalAnswer {
		for _, leg := range []*CallLeg{from, to} {
			if leg.State == StateAccepted {
				c.fireLeg(leg, TriggerConnect)
			}
		}
		if c.state == StateAccepted {
			c.fire(TriggerConnect)
			logger.LogCallEvent("call_connected", c.ID, fromUserID, map[string]interface{}{"mode": c.Mode})
		}
	}
	return nil
}

// RelayMediaHint forwards mute/video/speaker toggles to the other active legs
func (o *CallOrchestrator) RelayMediaHint(callID, userID string, hint models.MediaHint, enabled, muted *bool) error {
	c, err := o.lockCall(callID, "")
	if err != nil {
		return err
	}
	defer c.mu.Unlock()

	leg, ok := c.leg(userID)
	if !ok {
		return models.NewNotFoundError("call %s not found", callID)
	}
	if !leg.State.Active() {
		return models.NewStateError("cannot send %s on a call that is %s", hint, leg.State)
	}

	for _, peer := range c.activeUsers() {
		if peer == userID {
			continue
		}
		o.gateway.EmitToUser(peer, string(hint), models.MediaHintEvent{
			CallID:  callID,
			UserID:  userID,
			Enabled: enabled,
			Muted:   muted,
		})
	}
	return nil
}

// ==============================================
// Timers, disconnects, shutdown
// ==============================================

func (o *CallOrchestrator) ringTimeout(c *CallSession) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateEnded {
		return
	}
	c.timer = nil

	switch c.Mode {
	case models.CallModePrivate:
		if c.state != StateRinging {
			return
		}
		for _, userID := range c.ringingUsers() {
			c.closeLeg(c.legs[userID], TriggerTimeout)
		}
		c.fire(TriggerTimeout)

		o.notify(c.usersWhere(func(*CallLeg) bool { return true }), models.EventPrivateCallEnded, c.event("", models.ReasonNoAnswer))
		o.finishLocked(c, models.ReasonNoAnswer)

	case models.CallModeGroup:
		timedOut := c.ringingUsers()
		if len(timedOut) == 0 {
			return
		}
		active := c.activeUsers()

		for _, userID := range timedOut {
			c.closeLeg(c.legs[userID], TriggerTimeout)
			o.untrack(userID, c.ID)

			o.gateway.EmitToUser(userID, models.EventGroupCallEnded, c.event(userID, models.ReasonTimeout))
			o.notify(active, models.EventGroupCallLeft, c.event(userID, models.ReasonTimeout))
		}

		if c.state == StateRinging {
			o.notify(active, models.EventGroupCallEnded, c.event("", models.ReasonNoParticipantsJoined))
			o.finishLocked(c, models.ReasonNoParticipantsJoined)
			return
		}
		o.settleGroupLocked(c)
	}
}

func (o *CallOrchestrator) SessionOpened(websocket.SessionInfo, int) {}

// SessionClosed ends the legs the closed connection initiated or accepted and,
// once the user has no session left, declines the legs still ringing for them
func (o *CallOrchestrator) SessionClosed(s websocket.SessionInfo, remaining int) {
	o.mu.Lock()
	calls := make([]*CallSession, 0, len(o.byUser[s.UserID]))
	for _, c := range o.byUser[s.UserID] {
		calls = append(calls, c)
	}
	o.mu.Unlock()

	for _, c := range calls {
		o.handleDisconnect(c, s, remaining)
	}
}

func (o *CallOrchestrator) handleDisconnect(c *CallSession, s websocket.SessionInfo, remaining int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateEnded {
		return
	}
	leg, ok := c.leg(s.UserID)
	if !ok {
		return
	}

	switch {
	case leg.State.Active() && leg.ConnectionID == s.ConnectionID:
		o.endLegLocked(c, s.UserID, models.ReasonDisconnected)
	case leg.State == StateRinging && remaining == 0:
		o.declineLegLocked(c, s.UserID, s.ConnectionID)
	}
}

// Close stops every timer and ends all live calls
func (o *CallOrchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	calls := make([]*CallSession, 0, len(o.calls))
	for _, c := range o.calls {
		calls = append(calls, c)
	}
	o.mu.Unlock()

	for _, c := range calls {
		c.mu.Lock()
		if c.state != StateEnded {
			event := models.EventPrivateCallEnded
			if c.Mode == models.CallModeGroup {
				event = models.EventGroupCallEnded
			}
			o.notify(c.openUsers(), event, c.event("", models.ReasonShutdown))
			o.finishLocked(c, models.ReasonShutdown)
		}
		c.mu.Unlock()
	}

	logger.Infof("Call orchestrator stopped, %d calls ended", len(calls))
}
