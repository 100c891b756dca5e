package services

import (
	"testing"

	"relaychat/internal/models"

	"github.com/stretchr/testify/assert"
)

var (
	allStates = []CallState{
		StateIdle, StateInitiated, StateRinging, StateAccepted, StateConnected,
		StateDeclined, StateBusy, StateTimedOut, StateEnded,
	}
	allTriggers = []CallTrigger{
		TriggerInitiate, TriggerRing, TriggerAccept, TriggerDecline, TriggerBusy,
		TriggerTimeout, TriggerConnect, TriggerEnd, TriggerFinalize,
	}
)

func TestNextState_Table(t *testing.T) {
	legal := map[CallState]map[CallTrigger]CallState{
		StateIdle:      {TriggerInitiate: StateInitiated},
		StateInitiated: {TriggerRing: StateRinging, TriggerEnd: StateEnded},
		StateRinging: {
			TriggerAccept:  StateAccepted,
			TriggerDecline: StateDeclined,
			TriggerBusy:    StateBusy,
			TriggerTimeout: StateTimedOut,
			TriggerEnd:     StateEnded,
		},
		StateAccepted:  {TriggerConnect: StateConnected, TriggerEnd: StateEnded},
		StateConnected: {TriggerEnd: StateEnded},
		StateDeclined:  {TriggerFinalize: StateEnded},
		StateBusy:      {TriggerFinalize: StateEnded},
		StateTimedOut:  {TriggerFinalize: StateEnded},
	}

	for _, from := range allStates {
		for _, trigger := range allTriggers {
			to, err := NextState(from, trigger)
			want, ok := legal[from][trigger]
			if ok {
				assert.NoError(t, err, "%s --%s-->", from, trigger)
				assert.Equal(t, want, to, "%s --%s-->", from, trigger)
				continue
			}
			assert.ErrorIs(t, err, models.ErrState, "%s --%s--> should be illegal", from, trigger)
			assert.Equal(t, from, to, "state must not change on an illegal trigger")
		}
	}
}

func TestCallState_OnlyRingingAnswers(t *testing.T) {
	for _, from := range allStates {
		_, acceptErr := NextState(from, TriggerAccept)
		_, declineErr := NextState(from, TriggerDecline)
		_, timeoutErr := NextState(from, TriggerTimeout)
		if from == StateRinging {
			assert.NoError(t, acceptErr)
			assert.NoError(t, declineErr)
			assert.NoError(t, timeoutErr)
			continue
		}
		assert.Error(t, acceptErr, from)
		assert.Error(t, declineErr, from)
		assert.Error(t, timeoutErr, from)
	}
}

func TestCallState_Predicates(t *testing.T) {
	assert.True(t, StateAccepted.Active())
	assert.True(t, StateConnected.Active())
	assert.False(t, StateRinging.Active())

	assert.True(t, StateRinging.Open())
	assert.False(t, StateDeclined.Open())
	assert.False(t, StateEnded.Open())

	assert.True(t, StateEnded.Terminal())
	assert.False(t, StateTimedOut.Terminal())
}
