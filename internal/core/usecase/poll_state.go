package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
)

type PollPhase int

const (
	PhaseIdle PollPhase = iota
	PhaseFetching
	PhaseWaiting
	PhaseReady
	PhaseFailed
)

func (p PollPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetching:
		return "fetching"
	case PhaseWaiting:
		return "waiting"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p PollPhase) Terminal() bool {
	return p == PhaseReady || p == PhaseFailed
}

func (p PollPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

type FailureReason string

const (
	FailureNone       FailureReason = ""
	FailureExtraction FailureReason = "extraction_failed"
	FailureNotStarted FailureReason = "not_started"
	FailureTransport  FailureReason = "transport"
	FailureTimeout    FailureReason = "timeout"
)

const (
	messageExtractionFailed = "extraction failed"
	messageNotStarted       = "processing not started"
)

// PollState is one activation of the extraction poller.
type PollState struct {
	DocumentID domain.DocumentID        `json:"document_id"`
	Activation uint64                   `json:"activation"`
	Phase      PollPhase                `json:"phase"`
	Attempts   int                      `json:"attempts"`
	StartedAt  time.Time                `json:"started_at"`
	Record     *domain.ExtractionRecord `json:"record,omitempty"`
	Failure    FailureReason            `json:"failure,omitempty"`
	Message    string                   `json:"message,omitempty"`
	StatusCode int                      `json:"status_code,omitempty"`
}

// CanRetry reports whether the retry-extraction action applies.
func (s PollState) CanRetry() bool {
	return s.Phase == PhaseFailed
}

// Err maps a failed state onto the domain error kinds.
func (s PollState) Err() error {
	if s.Phase != PhaseFailed {
		return nil
	}
	op := fmt.Sprintf("extraction document=%s", s.DocumentID)
	switch s.Failure {
	case FailureExtraction:
		return domain.WrapError(domain.ErrExtractionFailed, op, errors.New(s.Message))
	case FailureNotStarted:
		return domain.WrapError(domain.ErrExtractionNotStarted, op, errors.New(s.Message))
	case FailureTimeout:
		return domain.WrapError(domain.ErrPollTimeout, op, errors.New(s.Message))
	default:
		return domain.WrapError(domain.ErrTemporary, op, errors.New(s.Message))
	}
}

// PollLimits bounds one activation.
type PollLimits struct {
	Interval    time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

func DefaultPollLimits() PollLimits {
	return PollLimits{
		Interval:    2 * time.Second,
		MaxAttempts: 60,
		RetryDelay:  1 * time.Second,
	}
}

func (l PollLimits) normalize() PollLimits {
	out := l
	def := DefaultPollLimits()
	if out.Interval <= 0 {
		out.Interval = def.Interval
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = def.MaxAttempts
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = def.RetryDelay
	}
	return out
}

type pollEventKind int

const (
	eventActivate pollEventKind = iota
	eventFetchStarted
	eventRecord
	eventPending
	eventFailed
	eventStopped
)

type pollEvent struct {
	kind       pollEventKind
	documentID domain.DocumentID
	activation uint64
	at         time.Time
	record     *domain.ExtractionRecord
	failure    FailureReason
	message    string
	statusCode int
}

// reducePoll is the only place poll state changes. Events that do not apply
// to the current phase leave the state untouched.
func reducePoll(s PollState, ev pollEvent, limits PollLimits) PollState {
	switch ev.kind {
	case eventActivate:
		return PollState{
			DocumentID: ev.documentID,
			Activation: ev.activation,
			Phase:      PhaseIdle,
			StartedAt:  ev.at,
		}
	case eventFetchStarted:
		if s.Phase == PhaseIdle || s.Phase == PhaseWaiting {
			s.Phase = PhaseFetching
		}
		return s
	case eventRecord:
		if s.Phase != PhaseFetching {
			return s
		}
		s.Phase = PhaseReady
		s.Attempts = 0
		s.Record = ev.record
		s.Failure = FailureNone
		s.Message = ""
		s.StatusCode = http.StatusOK
		return s
	case eventPending:
		if s.Phase != PhaseFetching {
			return s
		}
		s.Attempts++
		s.StatusCode = ev.statusCode
		if s.Attempts >= limits.MaxAttempts {
			s.Phase = PhaseFailed
			s.Failure = FailureTimeout
			s.Message = fmt.Sprintf(
				"extraction did not finish after %d attempts (%s)",
				s.Attempts,
				time.Duration(s.Attempts)*limits.Interval,
			)
			return s
		}
		s.Phase = PhaseWaiting
		return s
	case eventFailed:
		// A failed retry trigger also lands here while already Failed.
		if s.Phase != PhaseFetching && s.Phase != PhaseFailed {
			return s
		}
		s.Phase = PhaseFailed
		s.Failure = ev.failure
		s.Message = ev.message
		s.StatusCode = ev.statusCode
		return s
	case eventStopped:
		return PollState{
			DocumentID: s.DocumentID,
			Activation: ev.activation,
			Phase:      PhaseIdle,
		}
	default:
		return s
	}
}

// statusCoder is implemented by transport errors that carry the HTTP status
// and the server-provided message.
type statusCoder interface {
	HTTPStatus() int
	ServerMessage() string
}

// classifyFetch turns a status-check result into a poll event.
func classifyFetch(record *domain.ExtractionRecord, err error) pollEvent {
	if err == nil {
		if record == nil {
			return pollEvent{kind: eventFailed, failure: FailureTransport, message: "empty extraction payload"}
		}
		return pollEvent{kind: eventRecord, record: record}
	}

	var coded statusCoder
	if errors.As(err, &coded) {
		serverMsg := strings.TrimSpace(coded.ServerMessage())
		switch coded.HTTPStatus() {
		case http.StatusAccepted:
			return pollEvent{kind: eventPending, statusCode: http.StatusAccepted}
		case http.StatusUnprocessableEntity:
			return pollEvent{kind: eventFailed, failure: FailureExtraction, message: withDetail(messageExtractionFailed, serverMsg), statusCode: http.StatusUnprocessableEntity}
		case http.StatusNotFound:
			return pollEvent{kind: eventFailed, failure: FailureNotStarted, message: withDetail(messageNotStarted, serverMsg), statusCode: http.StatusNotFound}
		default:
			if serverMsg == "" {
				serverMsg = err.Error()
			}
			return pollEvent{kind: eventFailed, failure: FailureTransport, message: serverMsg, statusCode: coded.HTTPStatus()}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pollEvent{kind: eventFailed, failure: FailureTransport, message: "status request timed out: " + err.Error()}
	}
	return pollEvent{kind: eventFailed, failure: FailureTransport, message: err.Error()}
}

func withDetail(base, detail string) string {
	if detail == "" || strings.EqualFold(detail, base) {
		return base
	}
	return base + ": " + detail
}

func attemptOutcome(ev pollEvent) string {
	switch ev.kind {
	case eventRecord:
		return "ready"
	case eventPending:
		return "pending"
	case eventFailed:
		return string(ev.failure)
	default:
		return "unknown"
	}
}

func finishOutcome(s PollState) string {
	if s.Phase == PhaseReady {
		return "ready"
	}
	if s.Failure == FailureNone {
		return "unknown"
	}
	return string(s.Failure)
}
