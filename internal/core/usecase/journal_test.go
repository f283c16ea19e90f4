package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/loan-review-workflow/internal/core/domain"
)

type journalFake struct {
	appended  []domain.WorkflowEvent
	appendErr error
	limits    []int
	events    []domain.WorkflowEvent
}

func (f *journalFake) Append(_ context.Context, event domain.WorkflowEvent) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, event)
	return nil
}

func (f *journalFake) ListByDocument(_ context.Context, _ domain.DocumentID, limit int) ([]domain.WorkflowEvent, error) {
	f.limits = append(f.limits, limit)
	return f.events, nil
}

func TestJournalRecordFillsIdentity(t *testing.T) {
	journal := &journalFake{}
	uc := NewJournalUseCase(journal, nil)
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	uc.now = func() time.Time { return at }

	if err := uc.Record(context.Background(), domain.WorkflowEvent{DocumentID: 3, Type: domain.EventSectionSaved}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(journal.appended) != 1 {
		t.Fatalf("expected one append, got %d", len(journal.appended))
	}
	got := journal.appended[0]
	if got.ID == "" || !got.OccurredAt.Equal(at) {
		t.Fatalf("expected generated id and timestamp, got %+v", got)
	}

	if err := uc.Record(context.Background(), domain.WorkflowEvent{ID: "keep", DocumentID: 3, Type: domain.EventStageEntered}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if journal.appended[1].ID != "keep" {
		t.Fatalf("expected event id preserved, got %q", journal.appended[1].ID)
	}
}

func TestJournalRecordValidates(t *testing.T) {
	uc := NewJournalUseCase(&journalFake{}, nil)
	if err := uc.Record(context.Background(), domain.WorkflowEvent{Type: domain.EventStageEntered}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if err := uc.Record(context.Background(), domain.WorkflowEvent{DocumentID: 1}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestJournalRecordWrapsStoreError(t *testing.T) {
	uc := NewJournalUseCase(&journalFake{appendErr: errBoom}, nil)
	err := uc.Record(context.Background(), domain.WorkflowEvent{DocumentID: 1, Type: domain.EventStageEntered})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestJournalHistoryClampsLimit(t *testing.T) {
	journal := &journalFake{}
	uc := NewJournalUseCase(journal, nil)

	for _, limit := range []int{0, 50, 10000} {
		if _, err := uc.History(context.Background(), 4, limit); err != nil {
			t.Fatalf("history: %v", err)
		}
	}
	want := []int{defaultHistoryLimit, 50, maxHistoryLimit}
	for i := range want {
		if journal.limits[i] != want[i] {
			t.Fatalf("expected limits %v, got %v", want, journal.limits)
		}
	}
	if _, err := uc.History(context.Background(), 0, 10); !errors.Is(err, domain.ErrMissingDocumentID) {
		t.Fatalf("expected missing id, got %v", err)
	}
}
