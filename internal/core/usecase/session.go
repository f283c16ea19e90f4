package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
)

// StageView is everything a stage screen renders.
type StageView struct {
	Context     domain.WorkflowContext           `json:"context"`
	Stage       string                           `json:"stage"`
	Furthest    string                           `json:"furthest_stage"`
	Poll        *PollState                       `json:"poll,omitempty"`
	Sections    []SectionView                    `json:"sections,omitempty"`
	Suggestions *domain.AdditionalInfoSuggestion `json:"suggestions,omitempty"`
	CanAdvance  bool                             `json:"can_advance"`
	CanRetry    bool                             `json:"can_retry,omitempty"`
	Completed   bool                             `json:"completed"`
	ArchiveKey  string                           `json:"archive_key,omitempty"`
}

// Session is one document's pass through the workflow stages.
type Session struct {
	seq    *Sequencer
	wc     domain.WorkflowContext
	poller *Poller

	mu           sync.Mutex
	stage        domain.Stage
	furthest     domain.Stage
	drafts       map[domain.Stage]*DraftController
	suggestions  *domain.AdditionalInfoSuggestion
	reportScalar map[domain.SectionName]bool
	navigating   bool
	completed    bool
	archiveKey   string
	closed       bool

	pollingOnce    sync.Once
	pollingStarted chan struct{}
}

func newSession(seq *Sequencer, wc domain.WorkflowContext, stage domain.Stage) *Session {
	s := &Session{
		seq:      seq,
		wc:       wc,
		stage:    stage,
		furthest: stage,
		drafts:   make(map[domain.Stage]*DraftController),

		pollingStarted: make(chan struct{}),
	}
	opts := append([]PollerOption{}, seq.pollOpts...)
	opts = append(opts, WithStateListener(s.onPollState))
	s.poller = NewPoller(seq.backend, seq.limits, opts...)
	return s
}

func (s *Session) Context() domain.WorkflowContext {
	return s.wc
}

func (s *Session) Stage() domain.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

func (s *Session) Furthest() domain.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.furthest
}

func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

func (s *Session) Poller() *Poller {
	return s.poller
}

// View loads the current stage's data on first use and returns what the
// stage shows.
func (s *Session) View(ctx context.Context) (StageView, error) {
	s.mu.Lock()
	stage := s.stage
	view := StageView{
		Context:    s.wc,
		Stage:      stage.String(),
		Furthest:   s.furthest.String(),
		Completed:  s.completed,
		ArchiveKey: s.archiveKey,
	}
	s.mu.Unlock()

	switch stage {
	case domain.StageExtractionReview:
		state := s.poller.State()
		view.Poll = &state
		view.CanRetry = state.CanRetry()
		view.CanAdvance = s.extractionSatisfied(state)
		s.mu.Lock()
		dc := s.drafts[stage]
		s.mu.Unlock()
		if dc != nil {
			view.Sections = dc.Views()
		}
		return view, nil
	case domain.StageCompletion:
		return view, nil
	default:
		dc, err := s.controller(ctx, stage)
		if err != nil {
			return view, err
		}
		view.Sections = dc.Views()
		view.CanAdvance = true
		s.mu.Lock()
		if stage == domain.StageAdditionalInfo {
			view.Suggestions = s.suggestions
		}
		s.mu.Unlock()
		return view, nil
	}
}

// GoTo navigates to any stage already reached.
func (s *Session) GoTo(ctx context.Context, stage domain.Stage) error {
	if stage <= domain.StageUpload || stage > domain.StageCompletion {
		return domain.WrapError(domain.ErrInvalidInput, "go to stage", fmt.Errorf("stage %s does not belong to a document", stage))
	}
	s.mu.Lock()
	if stage > s.furthest {
		furthest := s.furthest
		s.mu.Unlock()
		return domain.WrapError(domain.ErrStageBlocked, "go to "+stage.String(), fmt.Errorf("furthest stage reached is %s", furthest))
	}
	if stage == s.stage {
		s.mu.Unlock()
		return nil
	}
	s.stage = stage
	s.mu.Unlock()

	s.arrive(ctx, stage)
	return nil
}

// Advance moves to the next stage once the current stage's prerequisite is
// satisfied.
func (s *Session) Advance(ctx context.Context) (domain.Stage, error) {
	s.mu.Lock()
	if s.navigating {
		s.mu.Unlock()
		return 0, domain.WrapError(domain.ErrInvalidInput, "advance", errors.New("navigation already in progress"))
	}
	current := s.stage
	if current == domain.StageCompletion {
		s.mu.Unlock()
		return current, domain.ErrWorkflowComplete
	}
	s.navigating = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.navigating = false
		s.mu.Unlock()
	}()

	if err := s.satisfy(ctx, current); err != nil {
		s.seq.logger.Warn("stage_advance_blocked",
			"document_id", s.wc.DocumentID.String(),
			"stage", current.String(),
			"error", err,
		)
		return current, err
	}

	next, _ := current.Next()
	s.mu.Lock()
	s.stage = next
	if next > s.furthest {
		s.furthest = next
	}
	s.mu.Unlock()

	s.entered(ctx, next)
	return next, nil
}

// Back moves one stage back. Committed data and open drafts are kept.
func (s *Session) Back(ctx context.Context) (domain.Stage, error) {
	s.mu.Lock()
	current := s.stage
	prev, ok := current.Prev()
	if !ok || prev == domain.StageUpload {
		s.mu.Unlock()
		return current, domain.WrapError(domain.ErrInvalidInput, "back", fmt.Errorf("no earlier stage than %s for an uploaded document", current))
	}
	s.stage = prev
	s.mu.Unlock()

	s.arrive(ctx, prev)
	return prev, nil
}

// Drafts returns the draft controller of a reached stage.
func (s *Session) Drafts(ctx context.Context, stage domain.Stage) (*DraftController, error) {
	s.mu.Lock()
	furthest := s.furthest
	dc := s.drafts[stage]
	s.mu.Unlock()

	if stage > furthest {
		return nil, domain.WrapError(domain.ErrStageBlocked, "drafts "+stage.String(), fmt.Errorf("furthest stage reached is %s", furthest))
	}
	if dc != nil {
		return dc, nil
	}
	if stage == domain.StageExtractionReview {
		return nil, domain.WrapError(domain.ErrExtractionPending, "drafts "+stage.String(), fmt.Errorf("poller is %s", s.poller.State().Phase))
	}
	return s.controller(ctx, stage)
}

func (s *Session) EnterEdit(ctx context.Context, stage domain.Stage, section domain.SectionName) error {
	dc, err := s.Drafts(ctx, stage)
	if err != nil {
		return err
	}
	return dc.EnterEdit(section)
}

// Mutate applies every field of fields to the section's working copy.
func (s *Session) Mutate(ctx context.Context, stage domain.Stage, section domain.SectionName, fields map[string]any) error {
	dc, err := s.Drafts(ctx, stage)
	if err != nil {
		return err
	}
	return dc.MutateFields(section, fields)
}

func (s *Session) Cancel(ctx context.Context, stage domain.Stage, section domain.SectionName) error {
	dc, err := s.Drafts(ctx, stage)
	if err != nil {
		return err
	}
	return dc.Cancel(section)
}

func (s *Session) Save(ctx context.Context, stage domain.Stage, section domain.SectionName) error {
	dc, err := s.Drafts(ctx, stage)
	if err != nil {
		return err
	}
	if err := dc.Save(ctx, section); err != nil {
		return err
	}
	s.seq.publish(ctx, domain.WorkflowEvent{
		DocumentID: s.wc.DocumentID,
		Type:       domain.EventSectionSaved,
		Stage:      stage.String(),
		Detail:     string(section),
	})
	return nil
}

// RefreshExtraction is the manual refresh control of the review stage.
func (s *Session) RefreshExtraction() error {
	return s.poller.Refresh()
}

func (s *Session) RetryExtraction(ctx context.Context) error {
	if err := s.poller.RetryExtraction(ctx); err != nil {
		return err
	}
	s.seq.publish(ctx, domain.WorkflowEvent{
		DocumentID: s.wc.DocumentID,
		Type:       domain.EventExtractionRetried,
		Stage:      domain.StageExtractionReview.String(),
	})
	return nil
}

// Report returns the report as currently committed.
func (s *Session) Report(ctx context.Context) (*domain.Report, error) {
	s.mu.Lock()
	dc := s.drafts[domain.StageReport]
	scalar := s.reportScalar
	s.mu.Unlock()

	if dc != nil {
		return domain.ReportFromSnapshot(s.wc.DocumentID, dc.Snapshot(), scalar), nil
	}
	report, err := s.seq.backend.GetReport(ctx, s.wc.DocumentID)
	if err != nil {
		if isNotFound(err) {
			return &domain.Report{DocumentID: s.wc.DocumentID, Data: map[string]any{}}, nil
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return report, nil
}

// ExportReport renders the committed report with the configured exporter.
func (s *Session) ExportReport(ctx context.Context) ([]byte, error) {
	if s.seq.exporter == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "export report", errors.New("report export is not configured"))
	}
	report, err := s.Report(ctx)
	if err != nil {
		return nil, err
	}
	data, err := s.seq.exporter.ExportReport(report)
	if err != nil {
		return nil, fmt.Errorf("export report: %w", err)
	}
	return data, nil
}

// satisfy enforces the prerequisite for leaving stage.
func (s *Session) satisfy(ctx context.Context, stage domain.Stage) error {
	switch stage {
	case domain.StageExtractionReview:
		state := s.poller.State()
		if s.extractionSatisfied(state) {
			return nil
		}
		if state.Phase == PhaseFailed {
			return domain.WrapError(domain.ErrStageBlocked, "advance from "+stage.String(), state.Err())
		}
		return domain.WrapError(domain.ErrStageBlocked, "advance from "+stage.String(),
			fmt.Errorf("%w: poller is %s", domain.ErrExtractionPending, state.Phase))
	case domain.StageRiskAnalysis:
		dc, err := s.controller(ctx, stage)
		if err != nil {
			return domain.WrapError(domain.ErrStageBlocked, "advance from "+stage.String(), err)
		}
		if !dc.IsEditing(domain.SectionReviewOpinion) {
			return nil
		}
		if err := s.Save(ctx, stage, domain.SectionReviewOpinion); err != nil {
			return domain.WrapError(domain.ErrStageBlocked, "advance from "+stage.String(), err)
		}
		return nil
	case domain.StageReport:
		if err := s.seq.backend.CompleteWorkflow(ctx, s.wc.DocumentID); err != nil {
			return domain.WrapError(domain.ErrStageBlocked, "complete workflow", err)
		}
		key := s.archiveReport(ctx)
		s.mu.Lock()
		s.completed = true
		s.archiveKey = key
		s.mu.Unlock()
		s.seq.logger.Info("workflow_completed", "document_id", s.wc.DocumentID.String(), "archive_key", key)
		s.seq.publish(ctx, domain.WorkflowEvent{
			DocumentID: s.wc.DocumentID,
			Type:       domain.EventWorkflowCompleted,
			Stage:      domain.StageCompletion.String(),
			Detail:     key,
		})
		return nil
	default:
		return nil
	}
}

func (s *Session) extractionSatisfied(state PollState) bool {
	switch state.Phase {
	case PhaseReady:
		return true
	case PhaseFailed:
		return s.seq.allowFailed && state.Failure == FailureExtraction
	default:
		return false
	}
}

// archiveReport stores the exported report. Archive failures do not undo a
// completed workflow; they are logged and the key is left empty.
func (s *Session) archiveReport(ctx context.Context) string {
	if s.seq.exporter == nil || s.seq.archive == nil {
		return ""
	}
	data, err := s.ExportReport(ctx)
	if err != nil {
		s.seq.logger.Error("report_archive_failed", "document_id", s.wc.DocumentID.String(), "error", err)
		return ""
	}
	key := fmt.Sprintf("reports/%s/report%s", s.wc.DocumentID, s.seq.exporter.Extension())
	if err := s.seq.archive.Save(ctx, key, bytes.NewReader(data)); err != nil {
		s.seq.logger.Error("report_archive_failed", "document_id", s.wc.DocumentID.String(), "key", key, "error", err)
		return ""
	}
	return key
}

// arrive enters stage and starts extraction polling when that stage is
// reached through navigation.
func (s *Session) arrive(ctx context.Context, stage domain.Stage) {
	if stage == domain.StageExtractionReview {
		s.startPolling()
	}
	s.entered(ctx, stage)
}

func (s *Session) entered(ctx context.Context, stage domain.Stage) {
	if s.seq.observer != nil {
		s.seq.observer.ObserveStageEntered(stage.String())
	}
	s.seq.logger.Info("stage_entered", "document_id", s.wc.DocumentID.String(), "stage", stage.String())
	s.seq.publish(ctx, domain.WorkflowEvent{
		DocumentID: s.wc.DocumentID,
		Type:       domain.EventStageEntered,
		Stage:      stage.String(),
	})
}

// startPolling starts the poller unless it already has an activation.
func (s *Session) startPolling() {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	defer s.pollingOnce.Do(func() { close(s.pollingStarted) })

	state := s.poller.State()
	if state.Activation != 0 && state.Phase != PhaseIdle {
		return
	}
	if err := s.poller.Start(s.wc.DocumentID); err != nil {
		s.seq.logger.Error("extraction_poll_start_failed", "document_id", s.wc.DocumentID.String(), "error", err)
	}
}

// AwaitExtraction blocks until polling has been started for the review stage
// and the activation reaches Ready or Failed. After Upload this covers the
// window in which the trigger call is still outstanding.
func (s *Session) AwaitExtraction(ctx context.Context) (PollState, error) {
	select {
	case <-s.pollingStarted:
	case <-ctx.Done():
		return s.poller.State(), ctx.Err()
	}
	return s.poller.Await(ctx)
}

func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.poller.Stop()
}

func (s *Session) onPollState(state PollState) {
	switch state.Phase {
	case PhaseReady:
		s.installExtraction(state.Record)
		s.seq.publish(context.Background(), domain.WorkflowEvent{
			DocumentID: s.wc.DocumentID,
			Type:       domain.EventExtractionReady,
			Stage:      domain.StageExtractionReview.String(),
		})
	case PhaseFailed:
		s.seq.publish(context.Background(), domain.WorkflowEvent{
			DocumentID: s.wc.DocumentID,
			Type:       domain.EventExtractionFailed,
			Stage:      domain.StageExtractionReview.String(),
			Detail:     state.Message,
		})
	}
}

// installExtraction builds the review drafts from a fresh record, or
// refreshes the sections that are not being edited.
func (s *Session) installExtraction(record *domain.ExtractionRecord) {
	snapshot, err := record.Sections(s.seq.sections)
	if err != nil {
		s.seq.logger.Error("extraction_sections_failed", "document_id", s.wc.DocumentID.String(), "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if dc := s.drafts[domain.StageExtractionReview]; dc != nil {
		dc.Load(snapshot)
		return
	}
	committer := NewExtractionCommitter(s.seq.backend, s.wc.DocumentID, s.seq.sections)
	s.drafts[domain.StageExtractionReview] = NewDraftController(
		domain.StageExtractionReview.String(), committer, s.seq.sections, snapshot, s.seq.observer,
	)
}

// controller returns the stage's draft controller, loading it from the
// backend on first use.
func (s *Session) controller(ctx context.Context, stage domain.Stage) (*DraftController, error) {
	s.mu.Lock()
	dc := s.drafts[stage]
	s.mu.Unlock()
	if dc != nil {
		return dc, nil
	}

	loaded, err := s.load(ctx, stage)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.drafts[stage]; existing != nil {
		return existing, nil
	}
	s.drafts[stage] = loaded.drafts
	if loaded.suggestions != nil {
		s.suggestions = loaded.suggestions
	}
	if loaded.reportScalar != nil {
		s.reportScalar = loaded.reportScalar
	}
	return loaded.drafts, nil
}

type stageData struct {
	drafts       *DraftController
	suggestions  *domain.AdditionalInfoSuggestion
	reportScalar map[domain.SectionName]bool
}

func (s *Session) load(ctx context.Context, stage domain.Stage) (stageData, error) {
	id := s.wc.DocumentID
	backend := s.seq.backend
	observer := s.seq.observer

	switch stage {
	case domain.StageAdditionalInfo:
		suggestions, err := backend.GetAdditionalInfoSuggestions(ctx, id)
		if err != nil {
			s.seq.logger.Warn("additional_info_suggestions_failed", "document_id", id.String(), "error", err)
			suggestions = nil
		}
		exists := true
		info, err := backend.GetAdditionalInfo(ctx, id)
		if err != nil {
			if !isNotFound(err) {
				return stageData{}, fmt.Errorf("get additional info: %w", err)
			}
			exists = false
			info = &domain.AdditionalInfo{DocumentID: id}
		}
		fieldData, err := normalizedOrEmpty(info.FieldData)
		if err != nil {
			return stageData{}, err
		}
		customFields, err := normalizedOrEmpty(info.CustomFields)
		if err != nil {
			return stageData{}, err
		}
		specs := []domain.SectionSpec{
			{Name: domain.SectionAdditionalFields, Title: "Additional information"},
			{Name: domain.SectionCustomFields, Title: "Custom fields"},
		}
		snapshot := domain.Snapshot{
			domain.SectionAdditionalFields: fieldData,
			domain.SectionCustomFields:     customFields,
		}
		committer := NewAdditionalInfoCommitter(backend, id, exists)
		return stageData{
			drafts:      NewDraftController(stage.String(), committer, specs, snapshot, observer),
			suggestions: suggestions,
		}, nil

	case domain.StageRiskAnalysis:
		opinion, err := backend.GetReviewOpinion(ctx, id)
		if err != nil && !isNotFound(err) {
			return stageData{}, fmt.Errorf("get review opinion: %w", err)
		}
		specs := []domain.SectionSpec{
			{Name: domain.SectionReviewOpinion, Title: "Review opinion", Fields: []string{domain.FieldReviewOpinion}},
		}
		snapshot := domain.Snapshot{
			domain.SectionReviewOpinion: {domain.FieldReviewOpinion: opinion},
		}
		committer := NewReviewOpinionCommitter(backend, id)
		return stageData{drafts: NewDraftController(stage.String(), committer, specs, snapshot, observer)}, nil

	case domain.StageReport:
		report, err := backend.GetReport(ctx, id)
		if err != nil {
			if !isNotFound(err) {
				return stageData{}, fmt.Errorf("get report: %w", err)
			}
			report = &domain.Report{DocumentID: id, Data: map[string]any{}}
		}
		scalar := report.ScalarSections()
		scalar[domain.ReportSummary] = true
		specs := reportSectionSpecs()
		committer := NewReportCommitter(backend, id, scalar)
		return stageData{
			drafts:       NewDraftController(stage.String(), committer, specs, report.Snapshot(), observer),
			reportScalar: scalar,
		}, nil

	default:
		return stageData{}, domain.WrapError(domain.ErrInvalidInput, "load stage", fmt.Errorf("stage %s has no editable sections", stage))
	}
}

func reportSectionSpecs() []domain.SectionSpec {
	titles := map[domain.SectionName]string{
		domain.ReportSummary:    "Summary",
		domain.ReportCompany:    "Company overview",
		domain.ReportFinancial:  "Financial analysis",
		domain.ReportRisk:       "Risk assessment",
		domain.ReportLoan:       "Loan terms",
		domain.ReportAdditional: "Additional notes",
	}
	specs := make([]domain.SectionSpec, 0, len(domain.ReportSections))
	for _, name := range domain.ReportSections {
		spec := domain.SectionSpec{Name: name, Title: titles[name]}
		if name == domain.ReportSummary {
			spec.Fields = []string{domain.ScalarField}
		}
		specs = append(specs, spec)
	}
	return specs
}
