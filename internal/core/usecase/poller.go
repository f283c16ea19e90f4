package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
	"github.com/kirillkom/loan-review-workflow/internal/core/ports"
)

var errPollerStopped = errors.New("poller stopped")

// Poller discovers completion of one extraction job by polling the status
// endpoint at a fixed interval. Each Start begins a new activation; results
// that belong to an earlier activation are dropped on arrival.
type Poller struct {
	client    ports.ExtractionClient
	limits    PollLimits
	scheduler ports.Scheduler
	dispatch  func(func())
	observer  ports.PollObserver
	logger    *slog.Logger
	listeners []func(PollState)

	mu           sync.Mutex
	state        PollState
	seq          uint64
	timer        ports.Timer
	inFlight     bool
	retryPending bool
	fetches      int
	cancel       context.CancelFunc
	ctx          context.Context
	done         chan struct{}
}

type PollerOption func(*Poller)

func WithScheduler(s ports.Scheduler) PollerOption {
	return func(p *Poller) { p.scheduler = s }
}

// WithDispatcher replaces the goroutine used for each status fetch.
func WithDispatcher(dispatch func(func())) PollerOption {
	return func(p *Poller) { p.dispatch = dispatch }
}

func WithPollObserver(o ports.PollObserver) PollerOption {
	return func(p *Poller) { p.observer = o }
}

func WithPollLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// WithStateListener registers fn to receive every state change, outside the
// poller lock.
func WithStateListener(fn func(PollState)) PollerOption {
	return func(p *Poller) { p.listeners = append(p.listeners, fn) }
}

func NewPoller(client ports.ExtractionClient, limits PollLimits, opts ...PollerOption) *Poller {
	p := &Poller{
		client:   client,
		limits:   limits.normalize(),
		dispatch: func(fn func()) { go fn() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.scheduler == nil {
		p.scheduler = realScheduler{}
	}
	return p
}

// Start tears down any running activation and begins a new one for id.
func (p *Poller) Start(id domain.DocumentID) error {
	if !id.Valid() {
		return domain.ErrMissingDocumentID
	}

	p.mu.Lock()
	p.teardownLocked()
	p.seq++
	token := p.seq
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})
	p.fetches = 0
	p.applyLocked(pollEvent{kind: eventActivate, documentID: id, activation: token, at: p.scheduler.Now()})
	ctx := p.ctx
	p.beginFetchLocked()
	state := p.state
	p.mu.Unlock()

	p.logger.Info("extraction_poll_started", "document_id", id.String(), "activation", token)
	p.notify(state)
	p.dispatch(func() { p.fetch(ctx, token, id) })
	return nil
}

// Refresh issues an immediate status fetch. While waiting it cuts the wait
// short and keeps the attempt counter; while a fetch is outstanding it does
// nothing; from an idle or terminal state it starts a new activation.
func (p *Poller) Refresh() error {
	p.mu.Lock()
	switch p.state.Phase {
	case PhaseFetching:
		p.mu.Unlock()
		return nil
	case PhaseWaiting:
		p.stopTimerLocked()
		token := p.seq
		id := p.state.DocumentID
		ctx := p.ctx
		if !p.beginFetchLocked() {
			p.mu.Unlock()
			return nil
		}
		state := p.state
		p.mu.Unlock()

		p.logger.Info("extraction_poll_refreshed", "document_id", id.String(), "activation", token, "attempt", state.Attempts)
		p.notify(state)
		p.dispatch(func() { p.fetch(ctx, token, id) })
		return nil
	default:
		id := p.state.DocumentID
		p.mu.Unlock()
		return p.Start(id)
	}
}

// RetryExtraction re-invokes the extraction trigger from a failed state and,
// once accepted, starts a fresh activation after the retry delay.
func (p *Poller) RetryExtraction(ctx context.Context) error {
	p.mu.Lock()
	if p.state.Phase != PhaseFailed {
		phase := p.state.Phase
		p.mu.Unlock()
		return domain.WrapError(domain.ErrInvalidInput, "retry extraction", fmt.Errorf("poller is %s", phase))
	}
	if p.retryPending {
		p.mu.Unlock()
		return nil
	}
	p.retryPending = true
	token := p.seq
	id := p.state.DocumentID
	p.mu.Unlock()

	receipt, err := p.client.TriggerExtraction(ctx, id)

	p.mu.Lock()
	if token != p.seq {
		p.mu.Unlock()
		return nil
	}
	if err != nil {
		p.retryPending = false
		ev := classifyFetch(nil, err)
		if ev.kind != eventFailed {
			ev = pollEvent{kind: eventFailed, failure: FailureTransport, message: err.Error()}
		}
		p.applyLocked(ev)
		state := p.state
		p.mu.Unlock()

		p.logger.Warn("extraction_retry_trigger_failed", "document_id", id.String(), "error", err)
		p.notify(state)
		return fmt.Errorf("trigger extraction: %w", err)
	}
	p.timer = p.scheduler.AfterFunc(p.limits.RetryDelay, func() { p.onRetryTimer(token, id) })
	p.mu.Unlock()

	p.logger.Info("extraction_retry_triggered",
		"document_id", id.String(),
		"already_extracted", receipt != nil && receipt.AlreadyExtracted(),
		"delay_ms", p.limits.RetryDelay.Milliseconds(),
	)
	return nil
}

// Stop synchronously invalidates the current activation: the pending timer
// is cancelled and any in-flight response will be ignored.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.seq == 0 {
		p.mu.Unlock()
		return
	}
	p.teardownLocked()
	p.seq++
	p.applyLocked(pollEvent{kind: eventStopped, activation: p.seq})
	state := p.state
	p.mu.Unlock()
	p.notify(state)
}

func (p *Poller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Await blocks until the current activation reaches Ready or Failed.
func (p *Poller) Await(ctx context.Context) (PollState, error) {
	for {
		p.mu.Lock()
		state := p.state
		done := p.done
		p.mu.Unlock()

		if state.Phase.Terminal() {
			return state, nil
		}
		if done == nil {
			return state, errPollerStopped
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-done:
		}
	}
}

func (p *Poller) fetch(ctx context.Context, token uint64, id domain.DocumentID) {
	record, err := p.client.GetExtraction(ctx, id)
	ev := classifyFetch(record, err)

	p.mu.Lock()
	if token != p.seq {
		p.mu.Unlock()
		p.logger.Debug("extraction_poll_stale_result", "document_id", id.String(), "activation", token)
		return
	}
	p.inFlight = false
	prev := p.state
	p.applyLocked(ev)
	state := p.state

	if p.observer != nil {
		p.observer.ObservePollAttempt(attemptOutcome(ev))
	}
	switch {
	case state.Phase == PhaseWaiting:
		p.timer = p.scheduler.AfterFunc(p.limits.Interval, func() { p.onTimer(token) })
	case state.Phase.Terminal():
		p.finishLocked()
	}
	fetches := p.fetches
	p.mu.Unlock()

	p.logTransition(prev, state, fetches)
	p.notify(state)
}

func (p *Poller) onTimer(token uint64) {
	p.mu.Lock()
	if token != p.seq || p.state.Phase != PhaseWaiting {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	id := p.state.DocumentID
	ctx := p.ctx
	if !p.beginFetchLocked() {
		p.mu.Unlock()
		return
	}
	state := p.state
	p.mu.Unlock()

	p.notify(state)
	p.dispatch(func() { p.fetch(ctx, token, id) })
}

func (p *Poller) onRetryTimer(token uint64, id domain.DocumentID) {
	p.mu.Lock()
	if token != p.seq {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	p.mu.Unlock()

	if err := p.Start(id); err != nil {
		p.logger.Error("extraction_retry_start_failed", "document_id", id.String(), "error", err)
	}
}

// beginFetchLocked moves to Fetching unless a fetch is already outstanding.
func (p *Poller) beginFetchLocked() bool {
	if p.inFlight {
		return false
	}
	p.applyLocked(pollEvent{kind: eventFetchStarted})
	p.inFlight = true
	p.fetches++
	return true
}

func (p *Poller) applyLocked(ev pollEvent) {
	p.state = reducePoll(p.state, ev, p.limits)
}

func (p *Poller) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Poller) finishLocked() {
	if p.observer != nil {
		p.observer.ObservePollFinished(finishOutcome(p.state), p.fetches, p.scheduler.Now().Sub(p.state.StartedAt))
	}
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) teardownLocked() {
	p.stopTimerLocked()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	p.inFlight = false
	p.retryPending = false
}

func (p *Poller) notify(state PollState) {
	for _, fn := range p.listeners {
		fn(state)
	}
}

func (p *Poller) logTransition(prev, next PollState, fetches int) {
	attrs := []any{
		"document_id", next.DocumentID.String(),
		"activation", next.Activation,
		"from", prev.Phase.String(),
		"to", next.Phase.String(),
		"attempt", next.Attempts,
		"fetches", fetches,
	}
	switch next.Phase {
	case PhaseFailed:
		p.logger.Warn("extraction_poll_failed", append(attrs, "failure", string(next.Failure), "message", next.Message)...)
	case PhaseReady:
		p.logger.Info("extraction_poll_ready", attrs...)
	default:
		p.logger.Debug("extraction_poll_transition", attrs...)
	}
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, fn func()) ports.Timer {
	return time.AfterFunc(d, fn)
}

func (realScheduler) Now() time.Time {
	return time.Now()
}
