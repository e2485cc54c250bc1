package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionHappyPath(t *testing.T) {
	st := State{Status: StatusIdle}

	st, eff := Transition(st, Submitted{})
	assert.Equal(t, StatusSubmitting, st.Status)
	assert.Equal(t, EffectStart, eff)

	st, eff = Transition(st, StartSucceeded{SessionID: "s1"})
	assert.Equal(t, StatusStillWorking, st.Status)
	assert.Equal(t, "s1", st.SessionID)
	assert.Equal(t, EffectPoll, eff)

	st, eff = Transition(st, PollPending{})
	assert.Equal(t, StatusStillWorking, st.Status)
	assert.Equal(t, 1, st.PollAttempts)
	assert.Equal(t, EffectPoll, eff)

	products := []Product{{ID: "p1", Title: "Boots"}}
	st, eff = Transition(st, PollCompleted{Products: products})
	assert.Equal(t, StatusDone, st.Status)
	assert.Equal(t, products, st.Products)
	assert.Equal(t, EffectFinish, eff)
	assert.True(t, st.Terminal())
}

func TestTransitionTimeoutThenResume(t *testing.T) {
	st := State{Status: StatusSubmitting}

	st, eff := Transition(st, StartTimedOut{})
	assert.Equal(t, StatusStillWorking, st.Status)
	assert.Equal(t, EffectResume, eff)

	st, eff = Transition(st, ResumeSucceeded{SessionID: "s2"})
	assert.Equal(t, StatusStillWorking, st.Status)
	assert.Equal(t, "s2", st.SessionID)
	assert.Equal(t, EffectPoll, eff)
}

func TestTransitionResumeExhaustedKeepsPolling(t *testing.T) {
	st := State{Status: StatusStillWorking}

	st, eff := Transition(st, ResumeExhausted{})
	assert.Equal(t, StatusStillWorking, st.Status)
	assert.Empty(t, st.SessionID)
	assert.Equal(t, EffectPoll, eff)
}

func TestTransitionStartFailed(t *testing.T) {
	st := State{Status: StatusSubmitting}

	st, eff := Transition(st, StartFailed{Message: "invalid experience"})
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, "invalid experience", st.Message)
	assert.Equal(t, EffectFail, eff)
	assert.True(t, st.Terminal())
}

func TestTransitionPollFailed(t *testing.T) {
	st := State{Status: StatusStillWorking, SessionID: "s1"}

	st, eff := Transition(st, PollFailed{Message: "session failed"})
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, "session failed", st.Message)
	assert.Equal(t, EffectFail, eff)
}

func TestTransitionCutoffAndKeepWaiting(t *testing.T) {
	st := State{Status: StatusStillWorking, SessionID: "s1"}

	st, eff := Transition(st, CutoffReached{})
	assert.True(t, st.MaxReached)
	assert.Equal(t, StatusStillWorking, st.Status)
	assert.Equal(t, EffectAwaitUser, eff)

	st, eff = Transition(st, KeepWaiting{})
	assert.False(t, st.MaxReached)
	assert.Equal(t, EffectPoll, eff)
}

func TestTransitionKeepWaitingWithoutCutoffIsNoop(t *testing.T) {
	st := State{Status: StatusStillWorking}

	next, eff := Transition(st, KeepWaiting{})
	assert.Equal(t, st, next)
	assert.Equal(t, EffectNone, eff)
}

func TestTransitionCanceledAlwaysDiscards(t *testing.T) {
	for _, st := range []State{
		{Status: StatusIdle},
		{Status: StatusSubmitting},
		{Status: StatusStillWorking, MaxReached: true},
		{Status: StatusDone},
		{Status: StatusError},
	} {
		next, eff := Transition(st, Canceled{})
		assert.Equal(t, st, next)
		assert.Equal(t, EffectDiscard, eff)
	}
}

func TestTransitionTerminalStatesAbsorbEvents(t *testing.T) {
	done := State{Status: StatusDone, SessionID: "s1"}

	for _, ev := range []Event{
		Submitted{}, StartSucceeded{SessionID: "late"}, StartTimedOut{},
		StartFailed{Message: "late"}, ResumeSucceeded{SessionID: "late"},
		PollCompleted{}, PollFailed{Message: "late"}, PollPending{},
		PollTransient{}, CutoffReached{}, KeepWaiting{},
	} {
		next, eff := Transition(done, ev)
		assert.Equal(t, done, next, "event %T must not mutate a terminal state", ev)
		assert.Equal(t, EffectNone, eff)
	}
}
