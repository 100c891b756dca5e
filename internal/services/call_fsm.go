package services

import "relaychat/internal/models"

// CallState is the lifecycle state of a call or of one of its legs
type CallState string

const (
	StateIdle      CallState = "idle"
	StateInitiated CallState = "initiated"
	StateRinging   CallState = "ringing"
	StateAccepted  CallState = "accepted"
	StateConnected CallState = "connected"
	StateDeclined  CallState = "declined"
	StateBusy      CallState = "busy"
	StateTimedOut  CallState = "timed_out"
	StateEnded     CallState = "ended"
)

// CallTrigger drives a transition
type CallTrigger string

const (
	TriggerInitiate CallTrigger = "initiate"
	TriggerRing     CallTrigger = "ring"
	TriggerAccept   CallTrigger = "accept"
	TriggerDecline  CallTrigger = "decline"
	TriggerBusy     CallTrigger = "busy"
	TriggerTimeout  CallTrigger = "timeout"
	TriggerConnect  CallTrigger = "connect"
	TriggerEnd      CallTrigger = "end"
	TriggerFinalize CallTrigger = "finalize"
)

// callTransitions is the single table for call-wide and per-leg state.
// Anything not listed is illegal.
var callTransitions = map[CallState]map[CallTrigger]CallState{
	StateIdle: {
		TriggerInitiate: StateInitiated,
	},
	StateInitiated: {
		TriggerRing: StateRinging,
		TriggerEnd:  StateEnded,
	},
	StateRinging: {
		TriggerAccept:  StateAccepted,
		TriggerDecline: StateDeclined,
		TriggerBusy:    StateBusy,
		TriggerTimeout: StateTimedOut,
		TriggerEnd:     StateEnded,
	},
	StateAccepted: {
		TriggerConnect: StateConnected,
		TriggerEnd:     StateEnded,
	},
	StateConnected: {
		TriggerEnd: StateEnded,
	},
	StateDeclined: {
		TriggerFinalize: StateEnded,
	},
	StateBusy: {
		TriggerFinalize: StateEnded,
	},
	StateTimedOut: {
		TriggerFinalize: StateEnded,
	},
}

// NextState looks up the transition for trigger from state
func NextState(from CallState, trigger CallTrigger) (CallState, error) {
	if to, ok := callTransitions[from][trigger]; ok {
		return to, nil
	}
	return from, models.NewStateError("cannot %s a call that is %s", trigger, from)
}

// Active legs can exchange signaling
func (s CallState) Active() bool {
	return s == StateAccepted || s == StateConnected
}

// Open states still take part in the call
func (s CallState) Open() bool {
	switch s {
	case StateInitiated, StateRinging, StateAccepted, StateConnected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible
func (s CallState) Terminal() bool {
	return len(callTransitions[s]) == 0
}
