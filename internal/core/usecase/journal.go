package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
	"github.com/kirillkom/loan-review-workflow/internal/core/ports"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

// JournalUseCase records workflow events delivered by the bus and serves a
// document's history.
type JournalUseCase struct {
	journal ports.EventJournal
	logger  *slog.Logger
	now     func() time.Time
}

func NewJournalUseCase(journal ports.EventJournal, logger *slog.Logger) *JournalUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &JournalUseCase{
		journal: journal,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record appends event. Redelivered events keep their id, so the journal can
// ignore duplicates.
func (uc *JournalUseCase) Record(ctx context.Context, event domain.WorkflowEvent) error {
	if !event.DocumentID.Valid() {
		return domain.WrapError(domain.ErrInvalidInput, "record workflow event", domain.ErrMissingDocumentID)
	}
	if event.Type == "" {
		return domain.WrapError(domain.ErrInvalidInput, "record workflow event", errors.New("event type is required"))
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = uc.now()
	}

	if err := uc.journal.Append(ctx, event); err != nil {
		return fmt.Errorf("append workflow event: %w", err)
	}
	uc.logger.Info("workflow_event_recorded",
		"event_id", event.ID,
		"document_id", event.DocumentID.String(),
		"type", string(event.Type),
		"stage", event.Stage,
	)
	return nil
}

func (uc *JournalUseCase) History(ctx context.Context, id domain.DocumentID, limit int) ([]domain.WorkflowEvent, error) {
	if !id.Valid() {
		return nil, domain.ErrMissingDocumentID
	}
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	events, err := uc.journal.ListByDocument(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list workflow events: %w", err)
	}
	return events, nil
}
