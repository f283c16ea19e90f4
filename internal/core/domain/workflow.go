package domain

import (
	"fmt"
	"net/url"
	"time"
)

// Stage is one step of the review workflow. Values are ordered.
type Stage int

const (
	StageUpload Stage = iota
	StageExtractionReview
	StageAdditionalInfo
	StageRiskAnalysis
	StageReport
	StageCompletion
)

var stageNames = map[Stage]string{
	StageUpload:           "upload",
	StageExtractionReview: "extraction",
	StageAdditionalInfo:   "additional-info",
	StageRiskAnalysis:     "analysis",
	StageReport:           "report",
	StageCompletion:       "final",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

func (s Stage) Next() (Stage, bool) {
	if s >= StageCompletion {
		return s, false
	}
	return s + 1, true
}

func (s Stage) Prev() (Stage, bool) {
	if s <= StageUpload {
		return s, false
	}
	return s - 1, true
}

func ParseStage(raw string) (Stage, error) {
	for stage, name := range stageNames {
		if name == raw {
			return stage, nil
		}
	}
	return 0, WrapError(ErrInvalidInput, "parse stage", fmt.Errorf("unknown stage %q", raw))
}

// QueryDocumentID is the query parameter every stage route carries.
const QueryDocumentID = "documentId"

// WorkflowContext is the only state threaded across stages.
type WorkflowContext struct {
	DocumentID DocumentID `json:"document_id"`
}

// ContextFromQuery resolves the workflow context from navigation parameters.
func ContextFromQuery(query url.Values) (WorkflowContext, error) {
	id, err := ParseDocumentID(query.Get(QueryDocumentID))
	if err != nil {
		return WorkflowContext{}, err
	}
	return WorkflowContext{DocumentID: id}, nil
}

// StageURL renders the navigation target for a stage.
func (c WorkflowContext) StageURL(prefix string, stage Stage) string {
	q := url.Values{}
	q.Set(QueryDocumentID, c.DocumentID.String())
	return fmt.Sprintf("%s/%s?%s", prefix, stage, q.Encode())
}

type EventType string

const (
	EventDocumentUploaded  EventType = "document.uploaded"
	EventExtractionReady   EventType = "extraction.ready"
	EventExtractionFailed  EventType = "extraction.failed"
	EventExtractionRetried EventType = "extraction.retried"
	EventSectionSaved      EventType = "section.saved"
	EventStageEntered      EventType = "stage.entered"
	EventWorkflowCompleted EventType = "workflow.completed"
)

type WorkflowEvent struct {
	ID         string     `json:"id"`
	DocumentID DocumentID `json:"document_id"`
	Type       EventType  `json:"type"`
	Stage      string     `json:"stage,omitempty"`
	Detail     string     `json:"detail,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}
