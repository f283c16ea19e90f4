package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
	"github.com/kirillkom/loan-review-workflow/internal/core/ports"
)

// fakeScheduler is a manual clock. Timers fire only from Advance, in due
// order, without the scheduler lock held.
type fakeScheduler struct {
	mu        sync.Mutex
	now       time.Time
	timers    []*fakeTimer
	scheduled []time.Duration
}

type fakeTimer struct {
	s       *fakeScheduler
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) ports.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, at: s.now.Add(d), fn: fn}
	s.timers = append(s.timers, t)
	s.scheduled = append(s.scheduled, d)
	return t
}

func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		var next *fakeTimer
		for _, t := range s.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		if next.at.After(s.now) {
			s.now = next.at
		}
		next.fired = true
		s.mu.Unlock()

		next.fn()
	}
}

func (s *fakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// manualDispatcher queues fetches so a test decides when each one resolves.
type manualDispatcher struct {
	mu    sync.Mutex
	queue []func()
}

func (d *manualDispatcher) Dispatch(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, fn)
}

func (d *manualDispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// RunNext resolves the oldest queued fetch.
func (d *manualDispatcher) RunNext() bool {
	d.mu.Lock()
	if len(d.queue) == 0 {
		d.mu.Unlock()
		return false
	}
	fn := d.queue[0]
	d.queue = d.queue[1:]
	d.mu.Unlock()
	fn()
	return true
}

func syncDispatch(fn func()) { fn() }

type fakeStatusError struct {
	code int
	msg  string
}

func (e *fakeStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.msg)
}

func (e *fakeStatusError) HTTPStatus() int       { return e.code }
func (e *fakeStatusError) ServerMessage() string { return e.msg }

func statusErr(code int, msg string) error {
	return &fakeStatusError{code: code, msg: msg}
}

func pending() extractionResponse {
	return extractionResponse{err: statusErr(http.StatusAccepted, "")}
}

type extractionResponse struct {
	record *domain.ExtractionRecord
	err    error
}

func ready(id domain.DocumentID, company string) extractionResponse {
	return extractionResponse{record: sampleRecord(id, company)}
}

func sampleRecord(id domain.DocumentID, company string) *domain.ExtractionRecord {
	revenue := 15000000000.0
	amount := 3000000000.0
	purpose := "new production line"
	return &domain.ExtractionRecord{
		ID:               int64(id) * 10,
		DocumentID:       id,
		CompanyName:      &company,
		Revenue:          &revenue,
		LoanAmount:       &amount,
		LoanPurpose:      &purpose,
		ExtractionMethod: "mock",
	}
}

type backendFake struct {
	mu sync.Mutex

	// extraction scripts, consumed in order; the last entry repeats
	script map[domain.DocumentID][]extractionResponse
	gets   map[domain.DocumentID]int

	triggers   int
	triggerErr error

	uploadDoc *domain.Document
	uploadErr error
	uploaded  []string

	updates   []domain.Values
	updateErr error

	opinion    string
	opinionErr error
	opinionPut []string
	putErr     error

	report     *domain.Report
	reportErr  error
	savedRepts []*domain.Report
	saveErr    error

	completeErr error
	completed   int

	suggestions    *domain.AdditionalInfoSuggestion
	suggestionsErr error
	info           *domain.AdditionalInfo
	infoErr        error
	created        []*domain.AdditionalInfo
	updatedInfo    []*domain.AdditionalInfo
	infoWriteErr   error

	completedReports []domain.CompletedReport
}

func newBackendFake() *backendFake {
	return &backendFake{
		script: make(map[domain.DocumentID][]extractionResponse),
		gets:   make(map[domain.DocumentID]int),
	}
}

func (f *backendFake) setScript(id domain.DocumentID, responses ...extractionResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[id] = responses
}

func (f *backendFake) getCount(id domain.DocumentID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets[id]
}

func (f *backendFake) triggerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggers
}

func (f *backendFake) UploadDocument(_ context.Context, filename string, body io.Reader) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	raw, _ := io.ReadAll(body)
	f.uploaded = append(f.uploaded, filename)
	doc := *f.uploadDoc
	doc.Filename = filename
	doc.FileSize = int64(len(raw))
	return &doc, nil
}

func (f *backendFake) TriggerExtraction(_ context.Context, id domain.DocumentID) (*domain.TriggerReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
	if f.triggerErr != nil {
		return nil, f.triggerErr
	}
	return &domain.TriggerReceipt{Message: "extraction started", DocumentID: id}, nil
}

func (f *backendFake) GetExtraction(_ context.Context, id domain.DocumentID) (*domain.ExtractionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.gets[id]
	f.gets[id] = n + 1
	responses := f.script[id]
	if len(responses) == 0 {
		return nil, statusErr(http.StatusNotFound, "no extraction record")
	}
	if n >= len(responses) {
		n = len(responses) - 1
	}
	return responses[n].record, responses[n].err
}

func (f *backendFake) UpdateExtraction(_ context.Context, id domain.DocumentID, fields domain.Values) (*domain.ExtractionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, fields.Clone())
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	record := sampleRecord(id, "")
	all, err := record.Fields()
	if err != nil {
		return nil, err
	}
	for key, value := range fields {
		all[key] = value
	}
	raw, err := json.Marshal(all)
	if err != nil {
		return nil, err
	}
	var out domain.ExtractionRecord
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *backendFake) GetReviewOpinion(context.Context, domain.DocumentID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opinion, f.opinionErr
}

func (f *backendFake) PutReviewOpinion(_ context.Context, _ domain.DocumentID, opinion string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opinionPut = append(f.opinionPut, opinion)
	if f.putErr != nil {
		return "", f.putErr
	}
	f.opinion = opinion
	return opinion, nil
}

func (f *backendFake) GetReport(context.Context, domain.DocumentID) (*domain.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reportErr != nil {
		return nil, f.reportErr
	}
	if f.report == nil {
		return nil, statusErr(http.StatusNotFound, "report not found")
	}
	return domain.ReportFromSnapshot(f.report.DocumentID, f.report.Snapshot(), f.report.ScalarSections()), nil
}

func (f *backendFake) SaveReport(_ context.Context, _ domain.DocumentID, report *domain.Report) (*domain.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedRepts = append(f.savedRepts, report)
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.report = report
	return report, nil
}

func (f *backendFake) CompleteWorkflow(context.Context, domain.DocumentID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed++
	return f.completeErr
}

func (f *backendFake) GetAdditionalInfoSuggestions(context.Context, domain.DocumentID) (*domain.AdditionalInfoSuggestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suggestions, f.suggestionsErr
}

func (f *backendFake) GetAdditionalInfo(context.Context, domain.DocumentID) (*domain.AdditionalInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	if f.info == nil {
		return nil, statusErr(http.StatusNotFound, "additional info not found")
	}
	copyInfo := *f.info
	return &copyInfo, nil
}

func (f *backendFake) CreateAdditionalInfo(_ context.Context, info *domain.AdditionalInfo) (*domain.AdditionalInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, info)
	if f.infoWriteErr != nil {
		return nil, f.infoWriteErr
	}
	f.info = info
	return info, nil
}

func (f *backendFake) UpdateAdditionalInfo(_ context.Context, info *domain.AdditionalInfo) (*domain.AdditionalInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatedInfo = append(f.updatedInfo, info)
	if f.infoWriteErr != nil {
		return nil, f.infoWriteErr
	}
	f.info = info
	return info, nil
}

func (f *backendFake) ListCompletedReports(context.Context) ([]domain.CompletedReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completedReports, nil
}

var errBoom = errors.New("boom")
