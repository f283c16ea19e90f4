package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
)

// DocumentUploader starts the workflow by handing a file to the backend.
type DocumentUploader interface {
	UploadDocument(ctx context.Context, filename string, body io.Reader) (*domain.Document, error)
}

// ExtractionTrigger asks the backend to start (or confirm) extraction.
type ExtractionTrigger interface {
	TriggerExtraction(ctx context.Context, id domain.DocumentID) (*domain.TriggerReceipt, error)
}

// ExtractionClient reaches the backend extraction job endpoints.
type ExtractionClient interface {
	ExtractionTrigger
	GetExtraction(ctx context.Context, id domain.DocumentID) (*domain.ExtractionRecord, error)
	UpdateExtraction(ctx context.Context, id domain.DocumentID, fields domain.Values) (*domain.ExtractionRecord, error)
}

// ReviewClient reaches the analyst review, report and completion endpoints.
type ReviewClient interface {
	GetReviewOpinion(ctx context.Context, id domain.DocumentID) (string, error)
	PutReviewOpinion(ctx context.Context, id domain.DocumentID, opinion string) (string, error)
	GetReport(ctx context.Context, id domain.DocumentID) (*domain.Report, error)
	SaveReport(ctx context.Context, id domain.DocumentID, report *domain.Report) (*domain.Report, error)
	CompleteWorkflow(ctx context.Context, id domain.DocumentID) error
}

// AdditionalInfoClient reaches the additional-information endpoints.
type AdditionalInfoClient interface {
	GetAdditionalInfoSuggestions(ctx context.Context, id domain.DocumentID) (*domain.AdditionalInfoSuggestion, error)
	GetAdditionalInfo(ctx context.Context, id domain.DocumentID) (*domain.AdditionalInfo, error)
	CreateAdditionalInfo(ctx context.Context, info *domain.AdditionalInfo) (*domain.AdditionalInfo, error)
	UpdateAdditionalInfo(ctx context.Context, info *domain.AdditionalInfo) (*domain.AdditionalInfo, error)
}

// BackendClient is the full Remote Job Client surface.
type BackendClient interface {
	DocumentUploader
	ExtractionClient
	ReviewClient
	AdditionalInfoClient
	ListCompletedReports(ctx context.Context) ([]domain.CompletedReport, error)
}

// Timer is a pending scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs fn once after d. The poller never sleeps on its own.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	Now() time.Time
}

// SectionCommitter persists one section's working copy and returns the
// server-confirmed values for that section. baseline holds the pristine
// values of every section of the stage.
type SectionCommitter interface {
	CommitSection(ctx context.Context, section domain.SectionName, working domain.Values, baseline domain.Snapshot) (domain.Values, error)
}

// EventPublisher announces workflow transitions.
type EventPublisher interface {
	PublishWorkflowEvent(ctx context.Context, event domain.WorkflowEvent) error
}

// EventSubscriber delivers workflow events until ctx is done.
type EventSubscriber interface {
	SubscribeWorkflowEvents(ctx context.Context, handler func(context.Context, domain.WorkflowEvent) error) error
}

// EventJournal persists workflow events.
type EventJournal interface {
	Append(ctx context.Context, event domain.WorkflowEvent) error
	ListByDocument(ctx context.Context, id domain.DocumentID, limit int) ([]domain.WorkflowEvent, error)
}

// ReportExporter renders a report into a downloadable document.
type ReportExporter interface {
	ExportReport(report *domain.Report) ([]byte, error)
	ContentType() string
	Extension() string
}

// ObjectStorage archives exported artifacts.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// PollObserver receives poller lifecycle signals for metrics.
type PollObserver interface {
	ObservePollAttempt(outcome string)
	ObservePollFinished(outcome string, attempts int, elapsed time.Duration)
}

// WorkflowObserver receives draft and stage signals for metrics.
type WorkflowObserver interface {
	ObserveSectionSave(stage, section string, err error)
	ObserveStageEntered(stage string)
}
