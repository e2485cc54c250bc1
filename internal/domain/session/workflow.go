// Package session defines the submit/resume/poll workflow state machine for
// one recommendation session. The transition function is pure: the
// orchestrator service feeds it events derived from backend responses and
// timers, and executes the side effects it returns. Slow backends are a
// first-class non-error state here; only an explicit terminal status from
// the backend ends a workflow in error.
package session

// Status is the user-visible workflow state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusSubmitting   Status = "submitting"
	StatusStillWorking Status = "stillWorking"
	StatusDone         Status = "done"
	StatusError        Status = "error"
)

// Product is one recommended product in a completed session.
type Product struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Price    string `json:"price,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	URL      string `json:"url,omitempty"`
}

// State is a snapshot of one workflow instance. It is what the UI layer
// renders; errors reach it only as {status, message}.
type State struct {
	Status       Status    `json:"status"`
	SessionID    string    `json:"sessionId,omitempty"`
	MaxReached   bool      `json:"maxReached,omitempty"`
	PollAttempts int       `json:"pollAttempts,omitempty"`
	Message      string    `json:"message,omitempty"`
	Products     []Product `json:"products,omitempty"`
	RedirectURL  string    `json:"redirectUrl,omitempty"`
}

// Terminal reports whether no further events can move this state.
func (s State) Terminal() bool {
	return s.Status == StatusDone || s.Status == StatusError
}

// Event is something that happened to a workflow: a backend response, a
// timer expiry, or a user gesture.
type Event interface{ event() }

// Submitted fires when the submission lock is acquired and a workflow begins.
type Submitted struct{}

// StartSucceeded fires when the start call returns a session id before its timeout.
type StartSucceeded struct{ SessionID string }

// StartTimedOut fires when the start call's hard timeout elapses first.
// It is not an error: the backend may still be working on the session.
type StartTimedOut struct{}

// StartFailed fires on a genuine server-side error from the start endpoint.
type StartFailed struct{ Message string }

// ResumeSucceeded fires when an idempotent resume attempt surfaces the session id.
type ResumeSucceeded struct{ SessionID string }

// ResumeExhausted fires when every scheduled resume attempt failed for
// timeout-like reasons. Polling continues resume-aware.
type ResumeExhausted struct{}

// PollCompleted fires on a COMPLETE status or a non-empty product list.
type PollCompleted struct{ Products []Product }

// PollFailed fires on an explicit FAILED/ERROR status or a hard server error.
type PollFailed struct{ Message string }

// PollPending fires on any non-terminal status response.
type PollPending struct{}

// PollTransient fires when a poll attempt failed for a transient reason
// (timeout, network failure, response that is not yet structured data).
type PollTransient struct{}

// CutoffReached fires when total polling time passes the hard cutoff.
type CutoffReached struct{}

// KeepWaiting is the explicit user gesture that resumes polling after the cutoff.
type KeepWaiting struct{}

// Canceled fires when the workflow's cancellation token triggers.
type Canceled struct{}

func (Submitted) event()       {}
func (StartSucceeded) event()  {}
func (StartTimedOut) event()   {}
func (StartFailed) event()     {}
func (ResumeSucceeded) event() {}
func (ResumeExhausted) event() {}
func (PollCompleted) event()   {}
func (PollFailed) event()      {}
func (PollPending) event()     {}
func (PollTransient) event()   {}
func (CutoffReached) event()   {}
func (KeepWaiting) event()     {}
func (Canceled) event()        {}

// Effect is the side effect the orchestrator must execute after a transition.
type Effect int

const (
	// EffectNone means the event was absorbed with nothing to do.
	EffectNone Effect = iota
	// EffectStart issues the initial start request.
	EffectStart
	// EffectResume schedules the next idempotent resume attempt.
	EffectResume
	// EffectPoll schedules the next status poll.
	EffectPoll
	// EffectFinish persists the session id, releases the lock, and navigates.
	EffectFinish
	// EffectFail releases the lock and surfaces the error message.
	EffectFail
	// EffectAwaitUser stops all timers until the user asks to keep waiting.
	EffectAwaitUser
	// EffectDiscard drops the workflow silently; its responses are ignored.
	EffectDiscard
)

// Transition applies ev to st and returns the next state plus the effect to
// execute. Events arriving after a terminal state are ignored, and a
// Canceled event always wins.
func Transition(st State, ev Event) (State, Effect) {
	if _, ok := ev.(Canceled); ok {
		return st, EffectDiscard
	}
	if st.Terminal() {
		return st, EffectNone
	}

	switch e := ev.(type) {
	case Submitted:
		st.Status = StatusSubmitting
		return st, EffectStart

	case StartSucceeded:
		st.Status = StatusStillWorking
		st.SessionID = e.SessionID
		return st, EffectPoll

	case StartTimedOut:
		st.Status = StatusStillWorking
		return st, EffectResume

	case StartFailed:
		st.Status = StatusError
		st.Message = e.Message
		return st, EffectFail

	case ResumeSucceeded:
		st.Status = StatusStillWorking
		st.SessionID = e.SessionID
		return st, EffectPoll

	case ResumeExhausted:
		st.Status = StatusStillWorking
		return st, EffectPoll

	case PollCompleted:
		st.Status = StatusDone
		st.Products = e.Products
		return st, EffectFinish

	case PollFailed:
		st.Status = StatusError
		st.Message = e.Message
		return st, EffectFail

	case PollPending:
		st.Status = StatusStillWorking
		st.PollAttempts++
		return st, EffectPoll

	case PollTransient:
		st.Status = StatusStillWorking
		st.PollAttempts++
		return st, EffectPoll

	case CutoffReached:
		st.Status = StatusStillWorking
		st.MaxReached = true
		return st, EffectAwaitUser

	case KeepWaiting:
		if !st.MaxReached {
			return st, EffectNone
		}
		st.MaxReached = false
		return st, EffectPoll
	}

	return st, EffectNone
}
