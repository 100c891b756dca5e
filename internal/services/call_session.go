package services

import (
	"sort"
	"sync"
	"time"

	"relaychat/internal/models"
)

// CallLeg is one participant's side of a call
type CallLeg struct {
	UserID string
	State  CallState

	// ConnectionID is the session that initiated or accepted the leg
	ConnectionID string
	UpdatedAt    time.Time
}

// CallSession is a live call. All fields past mu are guarded by it.
type CallSession struct {
	ID       string
	Type     models.CallType
	Mode     models.CallMode
	GroupID  string
	CallerID string

	CreatedAt time.Time

	mu         sync.Mutex
	state      CallState
	legs       map[string]*CallLeg
	invitees   []string
	links      map[string]bool
	timer      *time.Timer
	acceptedAt time.Time
}

// CallInfo is a point-in-time view of a call
type CallInfo struct {
	CallID       string               `json:"callId"`
	CallType     models.CallType      `json:"callType"`
	Mode         models.CallMode      `json:"mode"`
	GroupID      string               `json:"groupId,omitempty"`
	CallerID     string               `json:"callerId"`
	State        CallState            `json:"state"`
	Participants map[string]CallState `json:"participants"`
	CreatedAt    time.Time            `json:"createdAt"`
}

func newCallSession(id string, callType models.CallType, mode models.CallMode, callerID, callerConnection, groupID string) *CallSession {
	now := time.Now()
	c := &CallSession{
		ID:        id,
		Type:      callType,
		Mode:      mode,
		GroupID:   groupID,
		CallerID:  callerID,
		CreatedAt: now,
		state:     StateIdle,
		legs:      make(map[string]*CallLeg),
		links:     make(map[string]bool),
	}

	// The caller's own leg is accepted from the start
	caller := &CallLeg{UserID: callerID, State: StateIdle, ConnectionID: callerConnection, UpdatedAt: now}
	for _, t := range []CallTrigger{TriggerInitiate, TriggerRing, TriggerAccept} {
		caller.State, _ = NextState(caller.State, t)
	}
	c.legs[callerID] = caller

	c.state, _ = NextState(c.state, TriggerInitiate)
	return c
}

// fire moves the call-wide state
func (c *CallSession) fire(trigger CallTrigger) error {
	next, err := NextState(c.state, trigger)
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

// fireLeg moves a leg's state
func (c *CallSession) fireLeg(leg *CallLeg, trigger CallTrigger) error {
	next, err := NextState(leg.State, trigger)
	if err != nil {
		return err
	}
	leg.State = next
	leg.UpdatedAt = time.Now()
	return nil
}

// addInvitee creates a leg in Ringing
func (c *CallSession) addInvitee(userID string) *CallLeg {
	leg := &CallLeg{UserID: userID, State: StateIdle, UpdatedAt: time.Now()}
	leg.State, _ = NextState(leg.State, TriggerInitiate)
	leg.State, _ = NextState(leg.State, TriggerRing)
	c.legs[userID] = leg
	c.invitees = append(c.invitees, userID)
	return leg
}

// closeLeg drives a terminal variant through to Ended
func (c *CallSession) closeLeg(leg *CallLeg, trigger CallTrigger) error {
	if err := c.fireLeg(leg, trigger); err != nil {
		return err
	}
	if leg.State != StateEnded {
		return c.fireLeg(leg, TriggerFinalize)
	}
	return nil
}

func (c *CallSession) leg(userID string) (*CallLeg, bool) {
	leg, ok := c.legs[userID]
	return leg, ok
}

// usersWhere returns the sorted users whose leg satisfies keep
func (c *CallSession) usersWhere(keep func(*CallLeg) bool) []string {
	users := make([]string, 0, len(c.legs))
	for id, leg := range c.legs {
		if keep(leg) {
			users = append(users, id)
		}
	}
	sort.Strings(users)
	return users
}

func (c *CallSession) activeUsers() []string {
	return c.usersWhere(func(l *CallLeg) bool { return l.State.Active() })
}

func (c *CallSession) openUsers() []string {
	return c.usersWhere(func(l *CallLeg) bool { return l.State.Open() })
}

func (c *CallSession) ringingUsers() []string {
	return c.usersWhere(func(l *CallLeg) bool { return l.State == StateRinging })
}

// hasLiveInvitee reports whether any non-caller leg is ringing or active
func (c *CallSession) hasLiveInvitee() bool {
	for _, id := range c.invitees {
		if leg := c.legs[id]; leg != nil && leg.State.Open() {
			return true
		}
	}
	return false
}

func linkKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// link creates peer links between userID and every other active leg
func (c *CallSession) link(userID string) {
	for _, peer := range c.activeUsers() {
		if peer != userID {
			c.links[linkKey(userID, peer)] = true
		}
	}
}

// unlink destroys every peer link of userID
func (c *CallSession) unlink(userID string) {
	for peer := range c.legs {
		delete(c.links, linkKey(userID, peer))
	}
}

func (c *CallSession) linked(a, b string) bool {
	return c.links[linkKey(a, b)]
}

// event builds the notification payload shared by call events
func (c *CallSession) event(userID, reason string) models.CallEvent {
	return models.CallEvent{
		CallID:   c.ID,
		CallType: c.Type,
		Mode:     c.Mode,
		GroupID:  c.GroupID,
		CallerID: c.CallerID,
		UserID:   userID,
		Reason:   reason,
	}
}

func (c *CallSession) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *CallSession) infoLocked() *CallInfo {
	info := &CallInfo{
		CallID:       c.ID,
		CallType:     c.Type,
		Mode:         c.Mode,
		GroupID:      c.GroupID,
		CallerID:     c.CallerID,
		State:        c.state,
		Participants: make(map[string]CallState, len(c.legs)),
		CreatedAt:    c.CreatedAt,
	}
	for id, leg := range c.legs {
		info.Participants[id] = leg.State
	}
	return info
}

// Info returns a snapshot of the call
func (c *CallSession) Info() *CallInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infoLocked()
}
