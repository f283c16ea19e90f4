package usecase

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
)

type pollObserverFake struct {
	mu       sync.Mutex
	attempts []string
	finished []string
	fetches  []int
	elapsed  []time.Duration
}

func (o *pollObserverFake) ObservePollAttempt(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, outcome)
}

func (o *pollObserverFake) ObservePollFinished(outcome string, attempts int, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, outcome)
	o.fetches = append(o.fetches, attempts)
	o.elapsed = append(o.elapsed, elapsed)
}

type phaseRecorder struct {
	mu     sync.Mutex
	phases []PollPhase
}

func (r *phaseRecorder) listen(state PollState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, state.Phase)
}

func (r *phaseRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = nil
}

func (r *phaseRecorder) snapshot() []PollPhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PollPhase(nil), r.phases...)
}

func newSyncPoller(backend *backendFake, sched *fakeScheduler, opts ...PollerOption) *Poller {
	base := []PollerOption{WithScheduler(sched), WithDispatcher(syncDispatch)}
	return NewPoller(backend, DefaultPollLimits(), append(base, opts...)...)
}

func TestPollerReadyAfterTwoPendingResponses(t *testing.T) {
	backend := newBackendFake()
	backend.setScript(7, pending(), pending(), ready(7, "ABC Manufacturing"))
	sched := newFakeScheduler()
	observer := &pollObserverFake{}
	p := newSyncPoller(backend, sched, WithPollObserver(observer))

	if err := p.Start(7); err != nil {
		t.Fatalf("start: %v", err)
	}
	state := p.State()
	if state.Phase != PhaseWaiting || state.Attempts != 1 {
		t.Fatalf("expected waiting with 1 attempt, got %s/%d", state.Phase, state.Attempts)
	}

	sched.Advance(2 * time.Second)
	state = p.State()
	if state.Phase != PhaseWaiting || state.Attempts != 2 {
		t.Fatalf("expected waiting with 2 attempts, got %s/%d", state.Phase, state.Attempts)
	}

	sched.Advance(2 * time.Second)
	state = p.State()
	if state.Phase != PhaseReady {
		t.Fatalf("expected ready, got %s", state.Phase)
	}
	if state.Attempts != 0 {
		t.Fatalf("expected attempt counter reset on ready, got %d", state.Attempts)
	}
	if state.Record == nil || state.Record.CompanyName == nil || *state.Record.CompanyName != "ABC Manufacturing" {
		t.Fatalf("unexpected record: %+v", state.Record)
	}
	if elapsed := sched.Now().Sub(state.StartedAt); elapsed < 4*time.Second {
		t.Fatalf("expected at least 4s of scheduled waits, got %s", elapsed)
	}
	if got := backend.getCount(7); got != 3 {
		t.Fatalf("expected 3 status requests, got %d", got)
	}
	if len(sched.scheduled) != 2 || sched.scheduled[0] != 2*time.Second || sched.scheduled[1] != 2*time.Second {
		t.Fatalf("expected two 2s waits, got %v", sched.scheduled)
	}
	if sched.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", sched.Pending())
	}

	observer.mu.Lock()
	defer observer.mu.Unlock()
	if len(observer.attempts) != 3 || observer.attempts[2] != "ready" {
		t.Fatalf("unexpected attempt outcomes %v", observer.attempts)
	}
	if len(observer.finished) != 1 || observer.finished[0] != "ready" || observer.fetches[0] != 3 {
		t.Fatalf("unexpected finish observations %v %v", observer.finished, observer.fetches)
	}
}

func TestPollerTimesOutWithoutExtraRequest(t *testing.T) {
	backend := newBackendFake()
	backend.setScript(3, pending())
	sched := newFakeScheduler()
	p := newSyncPoller(backend, sched)

	if err := p.Start(3); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 100; i++ {
		sched.Advance(2 * time.Second)
	}

	state := p.State()
	if state.Phase != PhaseFailed || state.Failure != FailureTimeout {
		t.Fatalf("expected timeout, got %s/%s", state.Phase, state.Failure)
	}
	if got := backend.getCount(3); got != 60 {
		t.Fatalf("expected exactly 60 requests, got %d", got)
	}
	if state.Attempts != 60 {
		t.Fatalf("expected 60 attempts, got %d", state.Attempts)
	}
	if sched.Pending() != 0 {
		t.Fatalf("expected no timer after timeout, got %d", sched.Pending())
	}
	if !state.CanRetry() {
		t.Fatalf("expected retry affordance after timeout")
	}
}

func TestPollerCounterMonotoneWhileWaiting(t *testing.T) {
	backend := newBackendFake()
	backend.setScript(8, pending())
	sched := newFakeScheduler()
	p := newSyncPoller(backend, sched)

	if err := p.Start(8); err != nil {
		t.Fatalf("start: %v", err)
	}
	prev := p.State().Attempts
	for i := 0; i < 10; i++ {
		sched.Advance(2 * time.Second)
		got := p.State().Attempts
		if got != prev+1 {
			t.Fatalf("expected attempts %d, got %d", prev+1, got)
		}
		prev = got
	}

	if err := p.Start(8); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := p.State().Attempts; got != 1 {
		t.Fatalf("expected fresh activation to count from 1, got %d", got)
	}
}

func TestPollerNeverOverlapsFetches(t *testing.T) {
	backend := newBackendFake()
	backend.setScript(3, pending())
	sched := newFakeScheduler()
	dispatcher := &manualDispatcher{}
	p := NewPoller(backend, DefaultPollLimits(), WithScheduler(sched), WithDispatcher(dispatcher.Dispatch))

	if err := p.Start(3); err != nil {
		t.Fatalf("start: %v", err)
	}
	if dispatcher.Len() != 1 || p.State().Phase != PhaseFetching {
		t.Fatalf("expected one outstanding fetch, got %d in %s", dispatcher.Len(), p.State().Phase)
	}

	if err := p.Refresh(); err != nil {
		t.Fatalf("refresh while fetching: %v", err)
	}
	sched.Advance(10 * time.Second)
	if dispatcher.Len() != 1 {
		t.Fatalf("expected refresh during fetch to be ignored, got %d outstanding", dispatcher.Len())
	}

	dispatcher.RunNext()
	if state := p.State(); state.Phase != PhaseWaiting || state.Attempts != 1 {
		t.Fatalf("expected waiting/1, got %s/%d", state.Phase, state.Attempts)
	}
	if sched.Pending() != 1 {
		t.Fatalf("expected one scheduled poll, got %d", sched.Pending())
	}

	if err := p.Refresh(); err != nil {
		t.Fatalf("refresh while waiting: %v", err)
	}
	if sched.Pending() != 0 {
		t.Fatalf("expected refresh to cancel the pending timer")
	}
	if state := p.State(); state.Phase != PhaseFetching || state.Attempts != 1 {
		t.Fatalf("expected fetching with counter kept, got %s/%d", state.Phase, state.Attempts)
	}
	_ = p.Refresh()
	sched.Advance(2 * time.Second)
	if dispatcher.Len() != 1 {
		t.Fatalf("expected a single outstanding fetch, got %d", dispatcher.Len())
	}

	dispatcher.RunNext()
	if state := p.State(); state.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", state.Attempts)
	}
	if got := backend.getCount(3); got != 2 {
		t.Fatalf("expected 2 requests, got %d", got)
	}
}

func TestPollerDropsResultOfSupersededActivation(t *testing.T) {
	backend := newBackendFake()
	backend.setScript(1, ready(1, "Old Co"))
	backend.setScript(2, ready(2, "New Co"))
	sched := newFakeScheduler()
	dispatcher := &manualDispatcher{}
	p := NewPoller(backend, DefaultPollLimits(), WithScheduler(sched), WithDispatcher(dispatcher.Dispatch))

	if err := p.Start(1); err != nil {
		t.Fatalf("start 1: %v", err)
	}
	if err := p.Start(2); err != nil {
		t.Fatalf("start 2: %v", err)
	}

	dispatcher.RunNext()
	state := p.State()
	if state.DocumentID != 2 || state.Phase != PhaseFetching || state.Record != nil {
		t.Fatalf("expected late result for document 1 to be dropped, got %+v", state)
	}

	dispatcher.RunNext()
	state = p.State()
	if state.Phase != PhaseReady || *state.Record.CompanyName != "New Co" {
		t.Fatalf("expected ready with new record, got %+v", state)
	}
}

func TestPollerStopCancelsTimerAndDropsInFlight(t *testing.T) {
	backend := newBackendFake()
	backend.setScript(4, pending())
	sched := newFakeScheduler()
	dispatcher := &manualDispatcher{}
	p := NewPoller(backend, DefaultPollLimits(), WithScheduler(sched), WithDispatcher(dispatcher.Dispatch))

	if err := p.Start(4); err != nil {
		t.Fatalf("start: %v", err)
	}
	dispatcher.RunNext()
	if sched.Pending() != 1 {
		t.Fatalf("expected scheduled poll")
	}

	p.Stop()
	if sched.Pending() != 0 {
		t.Fatalf("expected stop to clear the timer")
	}
	sched.Advance(time.Minute)
	if got := backend.getCount(4); got != 1 {
		t.Fatalf("expected no requests after stop, got %d", got)
	}

	if err := p.Start(4); err != nil {
		t.Fatalf("restart: %v", err)
	}
	p.Stop()
	dispatcher.RunNext()
	if state := p.State(); state.Phase != PhaseIdle {
		t.Fatalf("expected in-flight result after stop to be dropped, got %s", state.Phase)
	}
	if sched.Pending() != 0 {
		t.Fatalf("expected no timer scheduled by a dropped result")
	}
}

func TestPollerRetryAfterUnprocessableReentersFetching(t *testing.T) {
	backend := newBackendFake()
	backend.setScript(5,
		extractionResponse{err: statusErr(http.StatusUnprocessableEntity, "unreadable scan")},
		ready(5, "ABC"),
	)
	sched := newFakeScheduler()
	recorder := &phaseRecorder{}
	p := newSyncPoller(backend, sched, WithStateListener(recorder.listen))

	if err := p.Start(5); err != nil {
		t.Fatalf("start: %v", err)
	}
	state := p.State()
	if state.Phase != PhaseFailed || state.Failure != FailureExtraction {
		t.Fatalf("expected extraction failure, got %s/%s", state.Phase, state.Failure)
	}
	if state.Message != "extraction failed: unreadable scan" {
		t.Fatalf("unexpected message %q", state.Message)
	}
	if state.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 status, got %d", state.StatusCode)
	}
	activation := state.Activation
	recorder.reset()

	if err := p.RetryExtraction(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if err := p.RetryExtraction(context.Background()); err != nil {
		t.Fatalf("second retry while pending: %v", err)
	}
	if got := backend.triggerCount(); got != 1 {
		t.Fatalf("expected one trigger call, got %d", got)
	}

	sched.Advance(999 * time.Millisecond)
	if p.State().Phase != PhaseFailed {
		t.Fatalf("expected retry to wait for its delay")
	}
	sched.Advance(time.Millisecond)

	state = p.State()
	if state.Phase != PhaseReady {
		t.Fatalf("expected ready after retry, got %s", state.Phase)
	}
	if state.Activation != activation+1 {
		t.Fatalf("expected a fresh activation, got %d after %d", state.Activation, activation)
	}
	phases := recorder.snapshot()
	if len(phases) != 2 || phases[0] != PhaseFetching || phases[1] != PhaseReady {
		t.Fatalf("expected fetching then ready, got %v", phases)
	}
}

func TestPollerRetryAfterNotStartedCountsFromZero(t *testing.T) {
	backend := newBackendFake()
	backend.setScript(6,
		extractionResponse{err: statusErr(http.StatusNotFound, "")},
		pending(),
	)
	sched := newFakeScheduler()
	p := newSyncPoller(backend, sched)

	if err := p.Start(6); err != nil {
		t.Fatalf("start: %v", err)
	}
	state := p.State()
	if state.Failure != FailureNotStarted || state.Message != "processing not started" {
		t.Fatalf("unexpected failure %s %q", state.Failure, state.Message)
	}
	if !domain.IsKind(state.Err(), domain.ErrExtractionNotStarted) {
		t.Fatalf("expected not-started kind, got %v", state.Err())
	}

	if err := p.RetryExtraction(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	sched.Advance(time.Second)
	state = p.State()
	if state.Phase != PhaseWaiting || state.Attempts != 1 {
		t.Fatalf("expected a fresh attempt counter, got %s/%d", state.Phase, state.Attempts)
	}
}

func TestPollerRetryTriggerFailureStaysFailed(t *testing.T) {
	backend := newBackendFake()
	backend.setScript(9, extractionResponse{err: statusErr(http.StatusUnprocessableEntity, "")})
	backend.triggerErr = statusErr(http.StatusInternalServerError, "trigger queue unavailable")
	sched := newFakeScheduler()
	p := newSyncPoller(backend, sched)

	if err := p.Start(9); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := p.RetryExtraction(context.Background())
	if err == nil {
		t.Fatalf("expected trigger error")
	}
	state := p.State()
	if state.Phase != PhaseFailed || state.Message != "trigger queue unavailable" {
		t.Fatalf("expected failed state with trigger message, got %s %q", state.Phase, state.Message)
	}
	if sched.Pending() != 0 {
		t.Fatalf("expected no restart to be scheduled")
	}

	backend.mu.Lock()
	backend.triggerErr = nil
	backend.mu.Unlock()
	if err := p.RetryExtraction(context.Background()); err != nil {
		t.Fatalf("expected retry to be available again, got %v", err)
	}
	if got := backend.triggerCount(); got != 2 {
		t.Fatalf("expected two trigger calls, got %d", got)
	}
}

func TestPollerRetriggerOnReadyIsSafe(t *testing.T) {
	backend := newBackendFake()
	backend.setScript(11, ready(11, "Stable Co"))
	sched := newFakeScheduler()
	p := newSyncPoller(backend, sched)

	if err := p.Start(11); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := p.RetryExtraction(context.Background())
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected retry to be refused outside failed, got %v", err)
	}
	if backend.triggerCount() != 0 {
		t.Fatalf("expected no trigger call")
	}

	before := p.State()
	if err := p.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	after := p.State()
	if after.Phase != PhaseReady || after.Activation != before.Activation+1 {
		t.Fatalf("expected a new ready activation, got %+v", after)
	}
	if *after.Record.CompanyName != *before.Record.CompanyName {
		t.Fatalf("expected record to be unchanged")
	}
}

func TestPollerTransportFailureKeepsServerMessage(t *testing.T) {
	backend := newBackendFake()
	backend.setScript(12, pending(), extractionResponse{err: statusErr(http.StatusBadGateway, "upstream OCR unreachable")})
	sched := newFakeScheduler()
	p := newSyncPoller(backend, sched)

	if err := p.Start(12); err != nil {
		t.Fatalf("start: %v", err)
	}
	sched.Advance(2 * time.Second)

	state := p.State()
	if state.Phase != PhaseFailed || state.Failure != FailureTransport {
		t.Fatalf("expected transport failure, got %s/%s", state.Phase, state.Failure)
	}
	if state.Message != "upstream OCR unreachable" || state.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected failure detail %q/%d", state.Message, state.StatusCode)
	}
	if sched.Pending() != 0 {
		t.Fatalf("expected polling to stop")
	}
}

func TestPollerStartRequiresDocumentID(t *testing.T) {
	p := newSyncPoller(newBackendFake(), newFakeScheduler())
	if err := p.Start(0); !errors.Is(err, domain.ErrMissingDocumentID) {
		t.Fatalf("expected missing document id, got %v", err)
	}
}

func TestPollerAwait(t *testing.T) {
	backend := newBackendFake()
	backend.setScript(13, pending(), ready(13, "Await Co"))
	sched := newFakeScheduler()
	p := newSyncPoller(backend, sched)

	if err := p.Start(13); err != nil {
		t.Fatalf("start: %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Await(cancelled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error while waiting, got %v", err)
	}

	result := make(chan PollState, 1)
	go func() {
		state, err := p.Await(context.Background())
		if err != nil {
			t.Errorf("await: %v", err)
		}
		result <- state
	}()
	sched.Advance(2 * time.Second)

	select {
	case state := <-result:
		if state.Phase != PhaseReady {
			t.Fatalf("expected ready, got %s", state.Phase)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("await did not return")
	}

	p.Stop()
	if _, err := p.Await(context.Background()); !errors.Is(err, errPollerStopped) {
		t.Fatalf("expected stopped error, got %v", err)
	}
}
