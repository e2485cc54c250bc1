package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShopCurated/curator-go/internal/domain/session"
	"github.com/ShopCurated/curator-go/internal/infrastructure/backend"
	"github.com/ShopCurated/curator-go/internal/infrastructure/caching"
	"github.com/ShopCurated/curator-go/internal/infrastructure/messaging"
	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/logging"
	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/metrics"
	"github.com/ShopCurated/curator-go/internal/infrastructure/persistence/kv"
	"github.com/ShopCurated/curator-go/internal/infrastructure/scheduling"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startReply scripts one StartSession response. A non-nil gate blocks the
// call until the channel is closed, simulating a slow backend.
type startReply struct {
	sessionID string
	err       error
	gate      chan struct{}
}

type statusReply struct {
	resp *backend.StatusResponse
	err  error
}

type fakeBackend struct {
	mu            sync.Mutex
	startReplies  []startReply
	statusReplies []statusReply
	startCalls    int
	statusCalls   int
	defaultStatus statusReply
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		defaultStatus: statusReply{resp: &backend.StatusResponse{Status: backend.SessionProcessing}},
	}
}

func (f *fakeBackend) StartSession(ctx context.Context, _ backend.StartRequest) (*backend.StartResponse, error) {
	f.mu.Lock()
	f.startCalls++
	var reply startReply
	if len(f.startReplies) > 0 {
		reply = f.startReplies[0]
		f.startReplies = f.startReplies[1:]
	} else {
		reply = startReply{sessionID: "s-fallback"}
	}
	f.mu.Unlock()

	if reply.gate != nil {
		select {
		case <-reply.gate:
		case <-ctx.Done():
			return nil, &backend.Error{Kind: backend.KindCanceled, Err: ctx.Err()}
		}
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return &backend.StartResponse{SessionID: reply.sessionID}, nil
}

func (f *fakeBackend) GetSessionStatus(_ context.Context, _ string) (*backend.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.statusCalls++
	reply := f.defaultStatus
	if len(f.statusReplies) > 0 {
		reply = f.statusReplies[0]
		f.statusReplies = f.statusReplies[1:]
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return reply.resp, nil
}

func (f *fakeBackend) setDefaultStatus(reply statusReply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultStatus = reply
}

func (f *fakeBackend) calls() (start, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.statusCalls
}

type orchestratorFixture struct {
	svc     *OrchestratorService
	backend *fakeBackend
	clock   *scheduling.FakeClock
	lock    *caching.SubmissionLock
	widget  *WidgetStateService
	metrics *metrics.Registry
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	clock := scheduling.NewFakeClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	logger := logging.NewTestLogger()
	m := metrics.NewTestRegistry()
	fb := newFakeBackend()
	lock := caching.NewSubmissionLock()
	widget := NewWidgetStateService(kv.NewMemoryStore(clock), time.Hour)
	telemetry := NewTelemetryService(&recordingSink{}, kv.NewMemoryStore(clock), clock, time.Second, logger, m)
	broadcaster := messaging.NewStateBroadcaster(logger)

	svc := NewOrchestratorService(fb, lock, widget, broadcaster, telemetry, clock, OrchestratorConfig{
		ResumeDelays:       []time.Duration{0, 2 * time.Second, 5 * time.Second},
		PollFastInterval:   time.Second,
		PollFastWindow:     5 * time.Second,
		PollMediumInterval: 2 * time.Second,
		PollMediumWindow:   15 * time.Second,
		PollJitterMin:      3 * time.Second,
		PollJitterMax:      5 * time.Second,
		PollMaxElapsed:     180 * time.Second,
		WorkflowRetention:  time.Minute,
		ResultsPath:        "/recommendations",
	}, logger, m)

	return &orchestratorFixture{svc: svc, backend: fb, clock: clock, lock: lock, widget: widget, metrics: m}
}

func submitReq() SubmitRequest {
	return SubmitRequest{
		VisitorID:    "v1",
		ExperienceID: "summer-looks",
		Answers:      []string{"casual", "warm"},
		ResultsCount: 6,
		PageParams:   map[string]string{"utm_source": "email"},
	}
}

func waitForTerminal(t *testing.T, w *Workflow) session.State {
	t.Helper()
	require.Eventually(t, func() bool {
		return w.State().Terminal()
	}, 2*time.Second, time.Millisecond)
	return w.State()
}

func TestSubmitHappyPath(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.startReplies = []startReply{{sessionID: "s1"}}
	f.backend.statusReplies = []statusReply{
		{resp: &backend.StatusResponse{Status: backend.SessionProcessing}},
		{resp: &backend.StatusResponse{
			Status:   backend.SessionComplete,
			Products: []session.Product{{ID: "p1", Title: "Linen Shirt"}},
		}},
	}

	w, err := f.svc.Submit(submitReq())
	require.NoError(t, err)

	st := waitForTerminal(t, w)
	assert.Equal(t, session.StatusDone, st.Status)
	assert.Equal(t, "s1", st.SessionID)
	require.Len(t, st.Products, 1)
	assert.Contains(t, st.RedirectURL, "/recommendations?")
	assert.Contains(t, st.RedirectURL, "sid=s1")
	assert.Contains(t, st.RedirectURL, "utm_source=email")

	_, held := f.lock.Holder()
	assert.False(t, held)

	last, found := f.widget.LastSession(context.Background(), "v1")
	assert.True(t, found)
	assert.Equal(t, "s1", last)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.WorkflowsTotal.WithLabelValues("done")))
}

func TestSubmitEmptyAnswersRejected(t *testing.T) {
	f := newOrchestratorFixture(t)

	_, err := f.svc.Submit(SubmitRequest{VisitorID: "v1"})
	require.ErrorIs(t, err, ErrEmptyAnswers)

	start, _ := f.backend.calls()
	assert.Zero(t, start)
	_, held := f.lock.Holder()
	assert.False(t, held)
}

func TestStartTimeoutThenResumeSucceeds(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.startReplies = []startReply{
		{err: &backend.Error{Kind: backend.KindTimeout}},
		{err: &backend.Error{Kind: backend.KindTimeout}},
		{sessionID: "s2"},
	}
	f.backend.statusReplies = []statusReply{
		{resp: &backend.StatusResponse{Status: backend.SessionComplete, Products: []session.Product{{ID: "p1"}}}},
	}

	w, err := f.svc.Submit(submitReq())
	require.NoError(t, err)

	st := waitForTerminal(t, w)
	assert.Equal(t, session.StatusDone, st.Status)
	assert.Equal(t, "s2", st.SessionID)

	// First resume attempt is immediate, the second waits its scheduled delay.
	assert.Contains(t, f.clock.Slept(), 2*time.Second)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.ResumeAttempts))
}

func TestStartServerErrorFailsWorkflow(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.startReplies = []startReply{
		{err: &backend.Error{Kind: backend.KindServerError, Code: 500, Message: "invalid experience"}},
	}

	w, err := f.svc.Submit(submitReq())
	require.NoError(t, err)

	st := waitForTerminal(t, w)
	assert.Equal(t, session.StatusError, st.Status)
	assert.Equal(t, "invalid experience", st.Message)

	_, status := f.backend.calls()
	assert.Zero(t, status, "no polling after a hard start failure")
	_, held := f.lock.Holder()
	assert.False(t, held)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.WorkflowsTotal.WithLabelValues("error")))
}

func TestMalformedResponsesAreRetriedLikeTimeouts(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.startReplies = []startReply{
		{err: &backend.Error{Kind: backend.KindMalformedResponse}},
		{sessionID: "s1"},
	}
	f.backend.statusReplies = []statusReply{
		{resp: &backend.StatusResponse{Status: backend.SessionComplete, Products: []session.Product{{ID: "p1"}}}},
	}

	w, err := f.svc.Submit(submitReq())
	require.NoError(t, err)

	st := waitForTerminal(t, w)
	assert.Equal(t, session.StatusDone, st.Status)
	assert.Equal(t, "s1", st.SessionID)
}

func TestResumeExhaustedContinuesPollingViaStart(t *testing.T) {
	f := newOrchestratorFixture(t)
	timeout := &backend.Error{Kind: backend.KindTimeout}
	f.backend.startReplies = []startReply{
		{err: timeout}, // initial start
		{err: timeout}, // resume 1 (immediate)
		{err: timeout}, // resume 2
		{err: timeout}, // resume 3
		{sessionID: "s3"},
	}
	f.backend.statusReplies = []statusReply{
		{resp: &backend.StatusResponse{Status: backend.SessionComplete, Products: []session.Product{{ID: "p1"}}}},
	}

	w, err := f.svc.Submit(submitReq())
	require.NoError(t, err)

	st := waitForTerminal(t, w)
	assert.Equal(t, session.StatusDone, st.Status)
	assert.Equal(t, "s3", st.SessionID)
}

func TestPollServerErrorFailsWorkflow(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.startReplies = []startReply{{sessionID: "s1"}}
	f.backend.statusReplies = []statusReply{
		{err: &backend.Error{Kind: backend.KindServerError, Code: 500, Message: "session lost"}},
	}

	w, err := f.svc.Submit(submitReq())
	require.NoError(t, err)

	st := waitForTerminal(t, w)
	assert.Equal(t, session.StatusError, st.Status)
	assert.Equal(t, "session lost", st.Message)
}

func TestPollFailedStatusFailsWorkflow(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.startReplies = []startReply{{sessionID: "s1"}}
	f.backend.statusReplies = []statusReply{
		{resp: &backend.StatusResponse{Status: backend.SessionFailed}},
	}

	w, err := f.svc.Submit(submitReq())
	require.NoError(t, err)

	st := waitForTerminal(t, w)
	assert.Equal(t, session.StatusError, st.Status)
}

func TestPollTransientErrorsAreAbsorbed(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.startReplies = []startReply{{sessionID: "s1"}}
	f.backend.statusReplies = []statusReply{
		{err: &backend.Error{Kind: backend.KindNetworkFailure}},
		{err: &backend.Error{Kind: backend.KindMalformedResponse}},
		{resp: &backend.StatusResponse{Status: backend.SessionComplete, Products: []session.Product{{ID: "p1"}}}},
	}

	w, err := f.svc.Submit(submitReq())
	require.NoError(t, err)

	st := waitForTerminal(t, w)
	assert.Equal(t, session.StatusDone, st.Status)
}

func TestSecondSubmitWhileSubmittingIsDropped(t *testing.T) {
	f := newOrchestratorFixture(t)
	gate := make(chan struct{})
	f.backend.startReplies = []startReply{{sessionID: "s1", gate: gate}}
	f.backend.statusReplies = []statusReply{
		{resp: &backend.StatusResponse{Status: backend.SessionComplete, Products: []session.Product{{ID: "p1"}}}},
	}

	w1, err := f.svc.Submit(submitReq())
	require.NoError(t, err)

	_, err = f.svc.Submit(submitReq())
	require.ErrorIs(t, err, ErrSubmissionInFlight)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.SubmissionsDropped))

	close(gate)
	st := waitForTerminal(t, w1)
	assert.Equal(t, session.StatusDone, st.Status)
}

func TestNewSubmitSupersedesPollingWorkflow(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.startReplies = []startReply{{sessionID: "s1"}}
	// Default status PROCESSING keeps the first workflow polling forever.

	w1, err := f.svc.Submit(submitReq())
	require.NoError(t, err)

	// Wait for the first workflow to release the lock and enter polling.
	require.Eventually(t, func() bool {
		_, held := f.lock.Holder()
		_, status := f.backend.calls()
		return !held && status > 0
	}, 2*time.Second, time.Millisecond)

	f.backend.mu.Lock()
	f.backend.startReplies = []startReply{{sessionID: "s2"}}
	f.backend.mu.Unlock()

	w2, err := f.svc.Submit(submitReq())
	require.NoError(t, err)

	// The superseded workflow is discarded, never terminal.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.WorkflowsTotal.WithLabelValues("canceled")) == 1
	}, 2*time.Second, time.Millisecond)
	assert.False(t, w1.State().Terminal())

	f.backend.setDefaultStatus(statusReply{resp: &backend.StatusResponse{
		Status:   backend.SessionComplete,
		Products: []session.Product{{ID: "p2"}},
	}})

	st := waitForTerminal(t, w2)
	assert.Equal(t, "s2", st.SessionID)
}

func TestCutoffPausesUntilKeepWaiting(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.startReplies = []startReply{{sessionID: "s1"}}
	// Default status PROCESSING: the fake clock races through the schedule
	// to the cutoff.

	w, err := f.svc.Submit(submitReq())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return w.State().MaxReached
	}, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.PollCutoffsTotal) == 1
	}, 2*time.Second, time.Millisecond)

	// Paused: no more status requests while awaiting the user.
	_, before := f.backend.calls()
	time.Sleep(20 * time.Millisecond)
	_, after := f.backend.calls()
	assert.Equal(t, before, after)

	f.backend.setDefaultStatus(statusReply{resp: &backend.StatusResponse{
		Status:   backend.SessionComplete,
		Products: []session.Product{{ID: "p1"}},
	}})

	resumed, err := f.svc.KeepWaiting(w.ID)
	require.NoError(t, err)
	assert.True(t, resumed)

	st := waitForTerminal(t, w)
	assert.Equal(t, session.StatusDone, st.Status)
}

func TestKeepWaitingBeforeCutoffIsNoop(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.startReplies = []startReply{{sessionID: "s1", gate: make(chan struct{})}}

	w, err := f.svc.Submit(submitReq())
	require.NoError(t, err)

	resumed, err := f.svc.KeepWaiting(w.ID)
	require.NoError(t, err)
	assert.False(t, resumed)

	require.NoError(t, f.svc.Close(w.ID))
}

func TestCloseCancelsWorkflowAndFreesLock(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.startReplies = []startReply{{sessionID: "s1", gate: make(chan struct{})}}

	w, err := f.svc.Submit(submitReq())
	require.NoError(t, err)

	_, held := f.lock.Holder()
	require.True(t, held)

	require.NoError(t, f.svc.Close(w.ID))

	require.Eventually(t, func() bool {
		_, held := f.lock.Holder()
		return !held
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.WorkflowsTotal.WithLabelValues("canceled")))
	assert.False(t, w.State().Terminal())
}

func TestCloseDropsRegistryReference(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.startReplies = []startReply{{sessionID: "s1", gate: make(chan struct{})}}

	w, err := f.svc.Submit(submitReq())
	require.NoError(t, err)

	require.NoError(t, f.svc.Close(w.ID))

	_, err = f.svc.Workflow(w.ID)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.ErrorIs(t, f.svc.Close(w.ID), ErrWorkflowNotFound)
}

func TestSupersededWorkflowDroppedFromRegistry(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.startReplies = []startReply{{sessionID: "s1"}}
	// Default status PROCESSING keeps the first workflow polling.

	w1, err := f.svc.Submit(submitReq())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, held := f.lock.Holder()
		_, status := f.backend.calls()
		return !held && status > 0
	}, 2*time.Second, time.Millisecond)

	w2, err := f.svc.Submit(submitReq())
	require.NoError(t, err)

	_, err = f.svc.Workflow(w1.ID)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	_, err = f.svc.Workflow(w2.ID)
	assert.NoError(t, err)

	require.NoError(t, f.svc.Close(w2.ID))
}

func TestFinishedWorkflowsEvictedAfterRetention(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.setDefaultStatus(statusReply{resp: &backend.StatusResponse{
		Status:   backend.SessionComplete,
		Products: []session.Product{{ID: "p1"}},
	}})

	w1, err := f.svc.Submit(submitReq())
	require.NoError(t, err)
	waitForTerminal(t, w1)

	// The terminal snapshot stays resolvable until the retention window
	// passes, so a widget poll right after completion still sees it.
	_, err = f.svc.Workflow(w1.ID)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)

	w2, err := f.svc.Submit(submitReq())
	require.NoError(t, err)
	waitForTerminal(t, w2)

	_, err = f.svc.Workflow(w1.ID)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	_, err = f.svc.Workflow(w2.ID)
	assert.NoError(t, err)
}

func TestKeepWaitingUnknownWorkflow(t *testing.T) {
	f := newOrchestratorFixture(t)

	_, err := f.svc.KeepWaiting("missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.ErrorIs(t, f.svc.Close("missing"), ErrWorkflowNotFound)
}

func TestRedirectURLEncodesPageParams(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.backend.startReplies = []startReply{{sessionID: "s1"}}
	f.backend.statusReplies = []statusReply{
		{resp: &backend.StatusResponse{Status: backend.SessionComplete, Products: []session.Product{{ID: "p1"}}}},
	}

	req := submitReq()
	req.PageParams = map[string]string{"ref": "spring sale"}

	w, err := f.svc.Submit(req)
	require.NoError(t, err)

	st := waitForTerminal(t, w)
	require.True(t, strings.HasPrefix(st.RedirectURL, "/recommendations?"))
	assert.Contains(t, st.RedirectURL, "ref=spring+sale")
	assert.Contains(t, st.RedirectURL, "sid=s1")
}
