package ports

import (
	"context"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
)

// WorkflowHistory serves a document's recorded workflow events.
type WorkflowHistory interface {
	History(ctx context.Context, id domain.DocumentID, limit int) ([]domain.WorkflowEvent, error)
}

// DashboardReader lists finished workflows.
type DashboardReader interface {
	ListCompletedReports(ctx context.Context) ([]domain.CompletedReport, error)
}
