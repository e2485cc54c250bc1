package services

import (
	"context"
	"errors"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/ShopCurated/curator-go/internal/domain/session"
	"github.com/ShopCurated/curator-go/internal/infrastructure/backend"
	"github.com/ShopCurated/curator-go/internal/infrastructure/caching"
	"github.com/ShopCurated/curator-go/internal/infrastructure/messaging"
	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/logging"
	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/metrics"
	"github.com/ShopCurated/curator-go/internal/infrastructure/scheduling"
	"github.com/ShopCurated/curator-go/internal/infrastructure/security"
	"github.com/cenkalti/backoff/v4"
)

// Submission errors reported synchronously, before the state machine runs.
var (
	ErrEmptyAnswers       = errors.New("answers must not be empty")
	ErrSubmissionInFlight = errors.New("another submission is in flight")
	ErrWorkflowNotFound   = errors.New("workflow not found")
)

// RecommendationBackend is the slice of the backend client the orchestrator
// drives. StartSession must be idempotent per request id: calling it again
// with the same id resumes the existing session instead of creating one.
type RecommendationBackend interface {
	StartSession(ctx context.Context, req backend.StartRequest) (*backend.StartResponse, error)
	GetSessionStatus(ctx context.Context, sessionID string) (*backend.StatusResponse, error)
}

// OrchestratorConfig carries the resume and poll schedule. The shipped
// defaults mirror production behavior; deployments can tune them through
// the environment.
type OrchestratorConfig struct {
	ResumeDelays       []time.Duration
	PollFastInterval   time.Duration
	PollFastWindow     time.Duration
	PollMediumInterval time.Duration
	PollMediumWindow   time.Duration
	PollJitterMin      time.Duration
	PollJitterMax      time.Duration
	PollMaxElapsed     time.Duration
	// WorkflowRetention is how long a finished workflow stays resolvable in
	// the registry so the widget can still read its terminal snapshot.
	WorkflowRetention time.Duration
	ResultsPath       string
}

// SubmitRequest is one shopper submission.
type SubmitRequest struct {
	VisitorID    string
	ExperienceID string
	Answers      []string
	ResultsCount int
	PageParams   map[string]string
}

// Workflow is one live submit/resume/poll instance.
type Workflow struct {
	ID        string
	RequestID string
	VisitorID string

	payload   backend.StartRequest
	ctx       context.Context
	cancel    context.CancelFunc
	keepCh    chan struct{}
	startedAt time.Time

	mu         sync.Mutex
	state      session.State
	finishedAt time.Time // zero while the workflow is live
}

// State returns a snapshot of the workflow's current state.
func (w *Workflow) State() session.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Workflow) finishedBefore(cutoff time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.finishedAt.IsZero() && w.finishedAt.Before(cutoff)
}

// OrchestratorService runs the submit/resume/poll state machine for answer
// submissions. Each workflow runs on its own goroutine; the injected
// SubmissionLock serializes submission phases process-wide, and the clock
// abstraction keeps the whole schedule testable without real timers.
type OrchestratorService struct {
	backend     RecommendationBackend
	lock        *caching.SubmissionLock
	widgetState *WidgetStateService
	broadcaster *messaging.StateBroadcaster
	telemetry   *TelemetryService
	clock       scheduling.Clock
	cfg         OrchestratorConfig
	logger      *logging.ChanneledLogger
	metrics     *metrics.Registry

	mu        sync.Mutex
	workflows map[string]*Workflow
	current   *Workflow
}

// NewOrchestratorService creates a new orchestrator service.
func NewOrchestratorService(rb RecommendationBackend, lock *caching.SubmissionLock, widgetState *WidgetStateService, broadcaster *messaging.StateBroadcaster, telemetry *TelemetryService, clock scheduling.Clock, cfg OrchestratorConfig, logger *logging.ChanneledLogger, m *metrics.Registry) *OrchestratorService {
	return &OrchestratorService{
		backend:     rb,
		lock:        lock,
		widgetState: widgetState,
		broadcaster: broadcaster,
		telemetry:   telemetry,
		clock:       clock,
		cfg:         cfg,
		logger:      logger,
		metrics:     m,
		workflows:   make(map[string]*Workflow),
	}
}

// Submit starts a new workflow for the shopper's answers. Empty answers are
// rejected synchronously and never enter the state machine. When another
// submission phase holds the lock the call is a silent no-op. A previous
// workflow that is still polling is superseded: its cancellation token
// fires and its in-flight responses are discarded.
func (o *OrchestratorService) Submit(req SubmitRequest) (*Workflow, error) {
	if len(req.Answers) == 0 {
		return nil, ErrEmptyAnswers
	}

	requestID := security.GenerateULID()

	o.mu.Lock()
	if !o.lock.TryAcquire(requestID, o.clock.Now()) {
		o.mu.Unlock()
		o.metrics.SubmissionsTotal.WithLabelValues("false").Inc()
		o.metrics.SubmissionsDropped.Inc()
		o.logger.Orchestrator().Info("Submission dropped, another workflow holds the lock", "visitorId", req.VisitorID)
		return nil, ErrSubmissionInFlight
	}

	// A superseded workflow's registry reference is dropped immediately;
	// finished ones linger until the retention window passes so the widget
	// can still read their terminal snapshot.
	if prev := o.current; prev != nil && !prev.State().Terminal() {
		prev.cancel()
		delete(o.workflows, prev.ID)
	}
	o.evictFinished(o.clock.Now())

	ctx, cancel := context.WithCancel(context.Background())
	w := &Workflow{
		ID:        security.GenerateULID(),
		RequestID: requestID,
		VisitorID: req.VisitorID,
		payload: backend.StartRequest{
			RequestID:    requestID,
			VisitorID:    req.VisitorID,
			ExperienceID: req.ExperienceID,
			Answers:      req.Answers,
			ResultsCount: req.ResultsCount,
			PageParams:   req.PageParams,
		},
		ctx:       ctx,
		cancel:    cancel,
		keepCh:    make(chan struct{}, 1),
		startedAt: o.clock.Now(),
		state:     session.State{Status: session.StatusIdle},
	}
	o.workflows[w.ID] = w
	o.current = w
	o.mu.Unlock()

	o.metrics.SubmissionsTotal.WithLabelValues("true").Inc()
	o.logger.WithWorkflow(logging.ChannelOrchestrator, w.ID).Info("Submission accepted", "visitorId", req.VisitorID, "requestId", requestID)

	go o.run(w)
	return w, nil
}

// Workflow returns a live workflow by id.
func (o *OrchestratorService) Workflow(id string) (*Workflow, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return w, nil
}

// KeepWaiting resumes polling for a workflow paused at the cutoff. It
// reports whether polling actually resumed; the lock is not re-acquired
// because polling never needs it.
func (o *OrchestratorService) KeepWaiting(workflowID string) (bool, error) {
	w, err := o.Workflow(workflowID)
	if err != nil {
		return false, err
	}

	st := w.State()
	if st.Terminal() || !st.MaxReached {
		return false, nil
	}

	select {
	case w.keepCh <- struct{}{}:
	default:
	}
	return true, nil
}

// Close cancels a workflow and drops its registry reference. The widget
// going away must not leave the submission lock stuck.
func (o *OrchestratorService) Close(workflowID string) error {
	o.mu.Lock()
	w, ok := o.workflows[workflowID]
	if ok {
		delete(o.workflows, workflowID)
	}
	o.mu.Unlock()

	if !ok {
		return ErrWorkflowNotFound
	}
	w.cancel()
	return nil
}

// evictFinished drops workflows that finished before the retention window.
// Callers must hold o.mu.
func (o *OrchestratorService) evictFinished(now time.Time) {
	cutoff := now.Add(-o.cfg.WorkflowRetention)
	for id, w := range o.workflows {
		if w.finishedBefore(cutoff) {
			delete(o.workflows, id)
		}
	}
}

// Shutdown cancels every live workflow.
func (o *OrchestratorService) Shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, w := range o.workflows {
		w.cancel()
	}
}

func (o *OrchestratorService) run(w *Workflow) {
	// The lock must be released on every exit path; Release is idempotent
	// and keyed by request id, so a stale release is harmless.
	defer o.lock.Release(w.RequestID)

	o.apply(w, session.Submitted{})

	sessionID, ok := o.startPhase(w)
	if !ok {
		return
	}

	// The lock serializes submission phases only. Polling runs without it
	// so a fresh submission can supersede a long-running poll loop.
	o.lock.Release(w.RequestID)
	o.poll(w, sessionID)
}

// startPhase issues the initial start call and, after a timeout, the
// scheduled resume attempts. It reports ok=false when the workflow reached
// a terminal or canceled state. ok=true with an empty session id means
// every resume attempt failed for timeout-like reasons and polling should
// continue resume-aware.
func (o *OrchestratorService) startPhase(w *Workflow) (string, bool) {
	resp, err := o.backend.StartSession(w.ctx, w.payload)
	if err == nil {
		o.apply(w, session.StartSucceeded{SessionID: resp.SessionID})
		return resp.SessionID, true
	}

	switch backend.KindOf(err) {
	case backend.KindCanceled:
		o.apply(w, session.Canceled{})
		return "", false
	case backend.KindServerError:
		o.apply(w, session.StartFailed{Message: backend.MessageOf(err)})
		return "", false
	}

	// Timeout, network failure, or a not-yet-structured response: the
	// backend may well have created the session. Not an error.
	o.logger.WithWorkflow(logging.ChannelOrchestrator, w.ID).Info("Start call timed out, beginning resume sequence", "kind", backend.KindOf(err).String())
	o.apply(w, session.StartTimedOut{})
	return o.resumePhase(w)
}

func (o *OrchestratorService) resumePhase(w *Workflow) (string, bool) {
	delays := o.cfg.ResumeDelays
	if len(delays) == 0 {
		o.apply(w, session.ResumeExhausted{})
		return "", true
	}

	if delays[0] > 0 {
		if err := o.clock.Sleep(w.ctx, delays[0]); err != nil {
			o.apply(w, session.Canceled{})
			return "", false
		}
	}

	var sessionID string
	operation := func() error {
		o.metrics.ResumeAttempts.Inc()
		resp, err := o.backend.StartSession(w.ctx, w.payload)
		if err == nil {
			sessionID = resp.SessionID
			return nil
		}
		switch backend.KindOf(err) {
		case backend.KindCanceled, backend.KindServerError:
			return backoff.Permanent(err)
		}
		return err
	}

	sched := backoff.WithContext(newFixedSchedule(delays[1:]), w.ctx)
	err := backoff.RetryNotifyWithTimer(operation, sched, nil, scheduling.NewBackoffTimer(o.clock))
	if err == nil {
		o.apply(w, session.ResumeSucceeded{SessionID: sessionID})
		return sessionID, true
	}

	if w.ctx.Err() != nil || backend.KindOf(err) == backend.KindCanceled {
		o.apply(w, session.Canceled{})
		return "", false
	}
	if backend.KindOf(err) == backend.KindServerError {
		o.apply(w, session.StartFailed{Message: backend.MessageOf(err)})
		return "", false
	}

	// All attempts hit timeout-shaped failures. Keep going: the poll loop
	// retries resume until a session id surfaces.
	o.apply(w, session.ResumeExhausted{})
	return "", true
}

func (o *OrchestratorService) poll(w *Workflow, sessionID string) {
	log := o.logger.WithWorkflow(logging.ChannelOrchestrator, w.ID)
	pollStart := o.clock.Now()

	for {
		if w.ctx.Err() != nil {
			o.apply(w, session.Canceled{})
			return
		}

		if o.clock.Now().Sub(pollStart) >= o.cfg.PollMaxElapsed {
			log.Info("Polling cutoff reached, awaiting user action", "sessionId", sessionID)
			o.apply(w, session.CutoffReached{})

			select {
			case <-w.ctx.Done():
				o.apply(w, session.Canceled{})
				return
			case <-w.keepCh:
				o.apply(w, session.KeepWaiting{})
				pollStart = o.clock.Now()
				continue
			}
		}

		if sessionID == "" {
			// Resume-aware polling: no session id yet, so keep retrying the
			// idempotent start instead of the status endpoint.
			o.metrics.ResumeAttempts.Inc()
			resp, err := o.backend.StartSession(w.ctx, w.payload)
			switch {
			case err == nil:
				sessionID = resp.SessionID
				o.apply(w, session.ResumeSucceeded{SessionID: sessionID})
			case backend.KindOf(err) == backend.KindCanceled:
				o.apply(w, session.Canceled{})
				return
			case backend.KindOf(err) == backend.KindServerError:
				o.apply(w, session.StartFailed{Message: backend.MessageOf(err)})
				return
			default:
				o.apply(w, session.PollTransient{})
			}
		} else {
			o.metrics.PollsTotal.Inc()
			res, err := o.backend.GetSessionStatus(w.ctx, sessionID)
			switch {
			case err == nil:
				if res.Status == backend.SessionFailed || res.Status == backend.SessionError {
					log.Warn("Session ended in failure", "sessionId", sessionID, "status", string(res.Status))
					o.apply(w, session.PollFailed{Message: "recommendation session failed"})
					return
				}
				if res.Status == backend.SessionComplete || len(res.Products) > 0 {
					o.finish(w, sessionID, res.Products)
					return
				}
				o.apply(w, session.PollPending{})
			case backend.KindOf(err) == backend.KindCanceled:
				o.apply(w, session.Canceled{})
				return
			case backend.KindOf(err) == backend.KindServerError:
				o.apply(w, session.PollFailed{Message: backend.MessageOf(err)})
				return
			default:
				// Transient failures never end a poll loop.
				o.apply(w, session.PollTransient{})
			}
		}

		if w.State().Terminal() {
			return
		}

		interval := o.pollInterval(o.clock.Now().Sub(pollStart))
		if err := o.clock.Sleep(w.ctx, interval); err != nil {
			o.apply(w, session.Canceled{})
			return
		}
	}
}

// pollInterval implements the adaptive schedule: fast at first, then
// slower, then jittered to avoid synchronized herds of waiting widgets.
func (o *OrchestratorService) pollInterval(elapsed time.Duration) time.Duration {
	switch {
	case elapsed < o.cfg.PollFastWindow:
		return o.cfg.PollFastInterval
	case elapsed < o.cfg.PollMediumWindow:
		return o.cfg.PollMediumInterval
	}

	jitter := o.cfg.PollJitterMax - o.cfg.PollJitterMin
	if jitter <= 0 {
		return o.cfg.PollJitterMin
	}
	return o.cfg.PollJitterMin + time.Duration(rand.Int63n(int64(jitter)))
}

// apply runs one transition and executes its bookkeeping side effects.
func (o *OrchestratorService) apply(w *Workflow, ev session.Event) session.Effect {
	w.mu.Lock()
	next, eff := session.Transition(w.state, ev)
	w.state = next
	if eff == session.EffectDiscard || eff == session.EffectFail {
		w.finishedAt = o.clock.Now()
	}
	w.mu.Unlock()

	switch eff {
	case session.EffectDiscard:
		o.lock.Release(w.RequestID)
		o.metrics.WorkflowsTotal.WithLabelValues("canceled").Inc()
		o.metrics.WorkflowDuration.Observe(o.clock.Now().Sub(w.startedAt).Seconds())
		o.logger.WithWorkflow(logging.ChannelOrchestrator, w.ID).Debug("Workflow canceled, responses discarded")
	case session.EffectFail:
		o.lock.Release(w.RequestID)
		o.metrics.WorkflowsTotal.WithLabelValues("error").Inc()
		o.metrics.WorkflowDuration.Observe(o.clock.Now().Sub(w.startedAt).Seconds())
		o.logger.WithWorkflow(logging.ChannelOrchestrator, w.ID).Error("Workflow failed", "message", next.Message)
		o.broadcaster.Publish(w.ID, next)
	case session.EffectAwaitUser:
		o.metrics.PollCutoffsTotal.Inc()
		o.broadcaster.Publish(w.ID, next)
	default:
		o.broadcaster.Publish(w.ID, next)
	}
	return eff
}

// finish completes a workflow: persist the session id, release the lock,
// and hand the widget a navigation target carrying the session id and the
// preserved page parameters.
func (o *OrchestratorService) finish(w *Workflow, sessionID string, products []session.Product) {
	o.widgetState.RememberSession(context.Background(), w.VisitorID, sessionID)

	w.mu.Lock()
	next, _ := session.Transition(w.state, session.PollCompleted{Products: products})
	next.SessionID = sessionID
	next.RedirectURL = o.resultsURL(sessionID, w.payload.PageParams)
	w.state = next
	w.finishedAt = o.clock.Now()
	w.mu.Unlock()

	o.lock.Release(w.RequestID)
	o.metrics.WorkflowsTotal.WithLabelValues("done").Inc()
	o.metrics.WorkflowDuration.Observe(o.clock.Now().Sub(w.startedAt).Seconds())
	o.logger.WithWorkflow(logging.ChannelOrchestrator, w.ID).Info("Workflow complete", "sessionId", sessionID, "products", len(products))

	o.broadcaster.Publish(w.ID, next)
	o.telemetry.EmitWidgetEvent("session_completed", sessionID, map[string]any{"workflowId": w.ID})
}

func (o *OrchestratorService) resultsURL(sessionID string, pageParams map[string]string) string {
	values := url.Values{}
	for k, v := range pageParams {
		values.Set(k, v)
	}
	values.Set("sid", sessionID)
	return o.cfg.ResultsPath + "?" + values.Encode()
}

// fixedSchedule is a backoff.BackOff that walks a fixed list of delays and
// then stops.
type fixedSchedule struct {
	delays []time.Duration
	next   int
}

func newFixedSchedule(delays []time.Duration) *fixedSchedule {
	return &fixedSchedule{delays: delays}
}

func (s *fixedSchedule) NextBackOff() time.Duration {
	if s.next >= len(s.delays) {
		return backoff.Stop
	}
	d := s.delays[s.next]
	s.next++
	return d
}

func (s *fixedSchedule) Reset() { s.next = 0 }
