package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
	"github.com/kirillkom/loan-review-workflow/internal/core/ports"
)

// Sequencer owns one Session per document identifier. A session is created
// by Upload or restored by Open when a stage URL is reloaded.
type Sequencer struct {
	backend     ports.BackendClient
	trigger     ports.ExtractionTrigger
	sections    []domain.SectionSpec
	limits      PollLimits
	allowFailed bool
	events      ports.EventPublisher
	exporter    ports.ReportExporter
	archive     ports.ObjectStorage
	observer    ports.WorkflowObserver
	pollOpts    []PollerOption
	async       func(func())
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[domain.DocumentID]*Session
}

type SequencerOption func(*Sequencer)

// WithTrigger replaces the client used for the fire-and-forget extraction
// trigger after upload, typically with one wrapped in a retry policy.
func WithTrigger(trigger ports.ExtractionTrigger) SequencerOption {
	return func(s *Sequencer) { s.trigger = trigger }
}

func WithSectionCatalog(specs []domain.SectionSpec) SequencerOption {
	return func(s *Sequencer) { s.sections = specs }
}

func WithPollLimits(limits PollLimits) SequencerOption {
	return func(s *Sequencer) { s.limits = limits }
}

// WithAllowFailedExtraction lets the analyst continue past a permanently
// failed extraction.
func WithAllowFailedExtraction(allow bool) SequencerOption {
	return func(s *Sequencer) { s.allowFailed = allow }
}

func WithEventPublisher(publisher ports.EventPublisher) SequencerOption {
	return func(s *Sequencer) { s.events = publisher }
}

// WithReportArchive enables report export and archiving on completion.
func WithReportArchive(exporter ports.ReportExporter, storage ports.ObjectStorage) SequencerOption {
	return func(s *Sequencer) {
		s.exporter = exporter
		s.archive = storage
	}
}

func WithWorkflowObserver(observer ports.WorkflowObserver) SequencerOption {
	return func(s *Sequencer) { s.observer = observer }
}

// WithPollerOptions is applied to every poller the sequencer creates.
func WithPollerOptions(opts ...PollerOption) SequencerOption {
	return func(s *Sequencer) { s.pollOpts = append(s.pollOpts, opts...) }
}

// WithBackgroundRunner replaces the goroutine used for the post-upload trigger.
func WithBackgroundRunner(run func(func())) SequencerOption {
	return func(s *Sequencer) { s.async = run }
}

func WithSequencerLogger(logger *slog.Logger) SequencerOption {
	return func(s *Sequencer) { s.logger = logger }
}

func NewSequencer(backend ports.BackendClient, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{
		backend:  backend,
		limits:   DefaultPollLimits(),
		async:    func(fn func()) { go fn() },
		logger:   slog.Default(),
		sessions: make(map[domain.DocumentID]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.trigger == nil {
		s.trigger = backend
	}
	if len(s.sections) == 0 {
		s.sections = domain.DefaultExtractionSections()
	}
	return s
}

// Upload hands the file to the backend, fires the extraction trigger without
// waiting for it and opens the extraction review stage. Polling starts once
// the trigger call returns.
func (s *Sequencer) Upload(ctx context.Context, filename string, body io.Reader) (*Session, error) {
	doc, err := s.backend.UploadDocument(ctx, filename, body)
	if err != nil {
		return nil, fmt.Errorf("upload document: %w", err)
	}
	if doc == nil || !doc.ID.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", errors.New("backend returned no document id"))
	}

	wc := domain.WorkflowContext{DocumentID: doc.ID}
	session := s.install(newSession(s, wc, domain.StageExtractionReview))

	s.logger.Info("document_uploaded", "document_id", doc.ID.String(), "filename", doc.Filename, "size", doc.FileSize)
	s.publish(ctx, domain.WorkflowEvent{DocumentID: doc.ID, Type: domain.EventDocumentUploaded, Stage: domain.StageUpload.String(), Detail: doc.Filename})
	session.entered(ctx, domain.StageExtractionReview)

	triggerCtx := context.WithoutCancel(ctx)
	s.async(func() {
		receipt, err := s.trigger.TriggerExtraction(triggerCtx, doc.ID)
		if err != nil {
			s.logger.Warn("extraction_trigger_failed", "document_id", doc.ID.String(), "error", err)
		} else if receipt != nil {
			s.logger.Info("extraction_triggered",
				"document_id", doc.ID.String(),
				"message", receipt.Message,
				"already_extracted", receipt.AlreadyExtracted(),
			)
		}
		session.startPolling()
	})
	return session, nil
}

// Open resumes the live session for id, or rebuilds one from the backend.
// Navigation never goes past the furthest stage reached.
func (s *Sequencer) Open(ctx context.Context, id domain.DocumentID, stage domain.Stage) (*Session, error) {
	if !id.Valid() {
		return nil, domain.ErrMissingDocumentID
	}
	if stage <= domain.StageUpload || stage > domain.StageCompletion {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open stage", fmt.Errorf("stage %s does not belong to a document", stage))
	}

	if session, ok := s.Session(id); ok {
		if err := session.GoTo(ctx, stage); err != nil {
			return nil, err
		}
		return session, nil
	}

	if stage > domain.StageExtractionReview {
		if err := s.checkExtraction(ctx, id, stage); err != nil {
			return nil, err
		}
	}
	session := s.install(newSession(s, domain.WorkflowContext{DocumentID: id}, stage))
	s.logger.Info("workflow_session_restored", "document_id", id.String(), "stage", stage.String())
	session.arrive(ctx, stage)
	return session, nil
}

// Session returns the live session for id.
func (s *Sequencer) Session(id domain.DocumentID) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	return session, ok
}

// Close stops the session's poller and forgets it.
func (s *Sequencer) Close(id domain.DocumentID) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		session.close()
	}
}

// Shutdown stops every live session.
func (s *Sequencer) Shutdown() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for id, session := range s.sessions {
		sessions = append(sessions, session)
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	for _, session := range sessions {
		session.close()
	}
}

func (s *Sequencer) AllowFailedExtraction() bool {
	return s.allowFailed
}

func (s *Sequencer) install(session *Session) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[session.wc.DocumentID]; ok {
		if existing == session {
			return existing
		}
		existing.close()
	}
	s.sessions[session.wc.DocumentID] = session
	return session
}

// checkExtraction is the reload gate for stages after extraction review.
func (s *Sequencer) checkExtraction(ctx context.Context, id domain.DocumentID, stage domain.Stage) error {
	record, err := s.backend.GetExtraction(ctx, id)
	ev := classifyFetch(record, err)
	switch {
	case ev.kind == eventRecord:
		return nil
	case ev.kind == eventFailed && ev.failure == FailureExtraction && s.allowFailed:
		return nil
	case ev.kind == eventPending:
		return domain.WrapError(domain.ErrStageBlocked, "open "+stage.String(), domain.ErrExtractionPending)
	case ev.kind == eventFailed && ev.failure == FailureTransport:
		return domain.WrapError(domain.ErrTemporary, "open "+stage.String(), errors.New(ev.message))
	default:
		return domain.WrapError(domain.ErrStageBlocked, "open "+stage.String(), errors.New(ev.message))
	}
}

func (s *Sequencer) publish(ctx context.Context, event domain.WorkflowEvent) {
	if s.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := s.events.PublishWorkflowEvent(ctx, event); err != nil {
		s.logger.Warn("workflow_event_publish_failed",
			"document_id", event.DocumentID.String(),
			"type", string(event.Type),
			"error", err,
		)
	}
}

func isNotFound(err error) bool {
	if domain.IsKind(err, domain.ErrDocumentNotFound) {
		return true
	}
	var coded statusCoder
	return errors.As(err, &coded) && coded.HTTPStatus() == http.StatusNotFound
}
